//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package interaction

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ResponseError describes why a response was rejected.
type ResponseError struct {
	Field  string
	Reason string
}

func (e *ResponseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid response for %s: %s", e.Field, e.Reason)
	}
	return "invalid response: " + e.Reason
}

// Unwrap lets errors.Is match ErrInvalidResponse.
func (e *ResponseError) Unwrap() error { return ErrInvalidResponse }

func reject(field, format string, args ...any) error {
	return &ResponseError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks response against the prompt's kind and rules.
func Validate(p Prompt, response any) error {
	if isEmpty(response) {
		if p.Rules.Required {
			return reject("", "a response is required")
		}
		return nil
	}
	switch p.Kind {
	case KindConfirm:
		if _, ok := response.(bool); !ok {
			return reject("", "confirm expects a boolean, got %T", response)
		}
	case KindSelect:
		return validateSelect(p, response)
	case KindText:
		s, ok := response.(string)
		if !ok {
			return reject("", "text expects a string, got %T", response)
		}
		return validateText("", s, p.Rules)
	case KindForm:
		return validateForm(p, response)
	case KindFileUpload:
		return validateFiles(p.Rules, response)
	}
	return nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func validateText(field, s string, r Rules) error {
	n := utf8.RuneCountInString(s)
	if r.MinLength > 0 && n < r.MinLength {
		return reject(field, "must be at least %d characters", r.MinLength)
	}
	if r.MaxLength > 0 && n > r.MaxLength {
		return reject(field, "must be at most %d characters", r.MaxLength)
	}
	return matchPattern(field, s, r.Pattern)
}

func matchPattern(field, s, pattern string) error {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return reject(field, "bad pattern %q: %v", pattern, err)
	}
	if !re.MatchString(s) {
		return reject(field, "does not match %s", pattern)
	}
	return nil
}

func validateSelect(p Prompt, response any) error {
	values := []any{response}
	if list, ok := response.([]any); ok {
		if !p.MultiSelect && len(list) > 1 {
			return reject("", "only one option may be selected")
		}
		values = list
	}
	for _, v := range values {
		if !inChoices(p.Options, v) {
			return reject("", "%v is not one of the options", v)
		}
	}
	return nil
}

func inChoices(choices []Choice, v any) bool {
	if len(choices) == 0 {
		return true
	}
	want := fmt.Sprint(v)
	for _, c := range choices {
		if fmt.Sprint(c.Value) == want {
			return true
		}
	}
	return false
}

func validateForm(p Prompt, response any) error {
	values, ok := response.(map[string]any)
	if !ok {
		return reject("", "form expects an object, got %T", response)
	}
	for _, f := range p.Fields {
		v, present := values[f.Name]
		if !present || isEmpty(v) {
			if f.Required {
				return reject(f.Name, "is required")
			}
			continue
		}
		if len(f.Options) > 0 && !inChoices(f.Options, v) {
			return reject(f.Name, "%v is not one of the options", v)
		}
		if s, ok := v.(string); ok {
			if err := matchPattern(f.Name, s, f.Pattern); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateFiles(r Rules, response any) error {
	var files []any
	switch t := response.(type) {
	case []any:
		files = t
	case map[string]any:
		files = []any{t}
	default:
		return reject("", "file-upload expects file descriptors, got %T", response)
	}
	if r.MaxFiles > 0 && len(files) > r.MaxFiles {
		return reject("", "at most %d files allowed", r.MaxFiles)
	}
	for _, f := range files {
		desc, ok := f.(map[string]any)
		if !ok {
			return reject("", "file descriptor must be an object")
		}
		name, _ := desc["name"].(string)
		if name == "" {
			return reject("", "file descriptor without name")
		}
		if len(r.Accept) > 0 && !accepted(name, r.Accept) {
			return reject(name, "file type not accepted")
		}
	}
	return nil
}

func accepted(name string, accept []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range accept {
		if strings.ToLower(a) == ext {
			return true
		}
	}
	return false
}
