//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package text

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/language"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Transform operations.
const (
	OpUpper     = "upper"
	OpLower     = "lower"
	OpTitle     = "title"
	OpTrim      = "trim"
	OpNormalize = "normalize"
	OpTruncate  = "truncate"
	OpReplace   = "replace"
	OpSplit     = "split"
	OpDecode    = "decode"
)

// HandleParts carries the result of a split.
const HandleParts = "parts"

// Step is one operation of a text-transform node.
type Step struct {
	Op string `json:"op"`
	// Language tag for case operations; undetermined when empty.
	Language string `json:"language"`
	// Form is NFC, NFD, NFKC or NFKD for normalize.
	Form string `json:"form"`
	// Length in runes for truncate.
	Length int    `json:"length"`
	Suffix string `json:"suffix"`
	Old    string `json:"old"`
	New    string `json:"new"`
	// Separator for split.
	Separator string `json:"separator"`
	// Charset for decode: latin1 or windows1252.
	Charset string `json:"charset"`
}

// TransformConfig configures a text-transform node. Op is shorthand for a
// single step.
type TransformConfig struct {
	Text  string `json:"text"`
	Op    string `json:"op"`
	Steps []Step `json:"steps"`
}

// Transform implements the text-transform node.
type Transform struct{}

// NewTransform creates the text-transform dispatcher.
func NewTransform() *Transform { return &Transform{} }

// Type implements dispatcher.Dispatcher.
func (*Transform) Type() string { return workflow.TypeTextTransform }

// Dispatch implements dispatcher.Dispatcher. Steps apply in order; a split
// ends the chain and emits the parts.
func (*Transform) Dispatch(_ context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	var cfg TransformConfig
	if err := workflow.DecodeConfig(req.Node, &cfg); err != nil {
		return dispatcher.Fail(err)
	}
	steps := cfg.Steps
	if cfg.Op != "" {
		steps = append([]Step{{Op: cfg.Op}}, steps...)
	}
	if len(steps) == 0 {
		return dispatcher.Failf("text-transform node %s has no operations", req.Node.ID)
	}

	s := source(req, cfg.Text)
	for i, step := range steps {
		if step.Op == OpSplit {
			if i != len(steps)-1 {
				return dispatcher.Failf("split must be the last operation")
			}
			sep := step.Separator
			if sep == "" {
				sep = "\n"
			}
			parts := []any{}
			for _, p := range strings.Split(s, sep) {
				if p = strings.TrimSpace(p); p != "" {
					parts = append(parts, p)
				}
			}
			return dispatcher.Success(map[string]any{
				HandleText:                   s,
				HandleParts:                  parts,
				workflow.DefaultSourceHandle: parts,
			})
		}
		var err error
		if s, err = apply(step, s); err != nil {
			return dispatcher.Fail(fmt.Errorf("step %d (%s): %w", i, step.Op, err))
		}
	}
	return textOutcome(s)
}

func apply(step Step, s string) (string, error) {
	switch step.Op {
	case OpUpper, OpLower, OpTitle:
		tag := language.Und
		if step.Language != "" {
			t, err := language.Parse(step.Language)
			if err != nil {
				return "", fmt.Errorf("invalid language %q: %w", step.Language, err)
			}
			tag = t
		}
		var c cases.Caser
		switch step.Op {
		case OpUpper:
			c = cases.Upper(tag)
		case OpLower:
			c = cases.Lower(tag)
		default:
			c = cases.Title(tag)
		}
		return c.String(s), nil
	case OpTrim:
		return strings.TrimSpace(s), nil
	case OpNormalize:
		form, err := normForm(step.Form)
		if err != nil {
			return "", err
		}
		return form.String(s), nil
	case OpTruncate:
		if step.Length <= 0 {
			return "", fmt.Errorf("truncate length must be positive")
		}
		r := []rune(s)
		if len(r) <= step.Length {
			return s, nil
		}
		return string(r[:step.Length]) + step.Suffix, nil
	case OpReplace:
		if step.Old == "" {
			return "", fmt.Errorf("replace needs a non-empty old value")
		}
		return strings.ReplaceAll(s, step.Old, step.New), nil
	case OpDecode:
		var cm *charmap.Charmap
		switch strings.ToLower(step.Charset) {
		case "latin1", "iso-8859-1":
			cm = charmap.ISO8859_1
		case "windows1252", "windows-1252", "cp1252":
			cm = charmap.Windows1252
		default:
			return "", fmt.Errorf("unsupported charset %q", step.Charset)
		}
		out, _, err := transform.String(cm.NewDecoder(), s)
		return out, err
	default:
		return "", fmt.Errorf("unknown operation %q", step.Op)
	}
}

func normForm(name string) (norm.Form, error) {
	switch strings.ToUpper(name) {
	case "", "NFC":
		return norm.NFC, nil
	case "NFD":
		return norm.NFD, nil
	case "NFKC":
		return norm.NFKC, nil
	case "NFKD":
		return norm.NFKD, nil
	default:
		return 0, fmt.Errorf("unknown normalization form %q", name)
	}
}
