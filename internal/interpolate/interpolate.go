//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package interpolate substitutes {{path.to.value}} placeholders against a
// lookup document. Paths use gjson syntax; unresolved placeholders become
// empty strings.
package interpolate

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Document is a lookup document encoded once for repeated path queries.
type Document struct {
	raw []byte
}

// NewDocument encodes doc. Values that cannot be encoded make every lookup
// miss.
func NewDocument(doc map[string]any) *Document {
	raw, err := json.Marshal(doc)
	if err != nil {
		raw = []byte("{}")
	}
	return &Document{raw: raw}
}

// Lookup returns the value at path.
func (d *Document) Lookup(path string) (any, bool) {
	r := gjson.GetBytes(d.raw, path)
	if !r.Exists() {
		return nil, false
	}
	return r.Value(), true
}

// lookupString renders the value at path as text. Objects and arrays render
// as JSON.
func (d *Document) lookupString(path string) string {
	r := gjson.GetBytes(d.raw, path)
	switch {
	case !r.Exists(), r.Type == gjson.Null:
		return ""
	case r.IsObject(), r.IsArray():
		return r.Raw
	default:
		return r.String()
	}
}

// Render replaces every placeholder in s.
func (d *Document) Render(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		path := placeholder.FindStringSubmatch(m)[1]
		return d.lookupString(path)
	})
}

// Resolve walks v and renders every string. A string that is exactly one
// placeholder is replaced by the typed value it refers to.
func (d *Document) Resolve(v any) any {
	switch t := v.(type) {
	case string:
		if m := placeholder.FindStringSubmatch(t); m != nil && m[0] == strings.TrimSpace(t) {
			if val, ok := d.Lookup(m[1]); ok {
				return val
			}
			return ""
		}
		return d.Render(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = d.Resolve(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = d.Resolve(val)
		}
		return out
	default:
		return v
	}
}

// Render is a one-shot helper over NewDocument(doc).Render(s).
func Render(s string, doc map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return NewDocument(doc).Render(s)
}

// Placeholders lists the paths referenced by s.
func Placeholders(s string) []string {
	var out []string
	for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
		out = append(out, m[1])
	}
	return out
}
