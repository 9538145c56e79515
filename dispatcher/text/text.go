//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package text implements the content nodes that work on plain text: text
// (templating), markdown (rendering) and text-transform.
package text

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/internal/interpolate"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// HandleText is the text output of every node in this package.
const HandleText = "text"

// TemplateConfig configures a text node.
type TemplateConfig struct {
	Template string `json:"template"`
}

// Template implements the text node.
type Template struct{}

// NewTemplate creates the text dispatcher.
func NewTemplate() *Template { return &Template{} }

// Type implements dispatcher.Dispatcher.
func (*Template) Type() string { return workflow.TypeText }

// Dispatch implements dispatcher.Dispatcher. Without a template the primary
// input passes through as text.
func (*Template) Dispatch(_ context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	var cfg TemplateConfig
	if err := workflow.DecodeConfig(req.Node, &cfg); err != nil {
		return dispatcher.Fail(err)
	}
	var out string
	if cfg.Template != "" {
		out = interpolate.Render(cfg.Template, req.Document())
	} else {
		v, _ := req.PrimaryInput()
		out = stringify(v)
	}
	return textOutcome(out)
}

func textOutcome(s string) *dispatcher.Outcome {
	return dispatcher.Success(map[string]any{
		HandleText:                   s,
		workflow.DefaultSourceHandle: s,
	})
}

// stringify renders v as text. Structured values render as JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// source picks the node's text: the rendered "text" config when set, else
// the primary input.
func source(req *dispatcher.Request, tmpl string) string {
	if strings.TrimSpace(tmpl) != "" {
		return interpolate.Render(tmpl, req.Document())
	}
	v, _ := req.PrimaryInput()
	return stringify(v)
}
