//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package basic

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/internal/interpolate"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// JSONParseConfig configures a json-parse node.
type JSONParseConfig struct {
	// Source is a template for the text to parse; defaults to the primary
	// input.
	Source string `json:"source"`
	// Path extracts a sub-value with gjson syntax, e.g. "data.items.0".
	Path string `json:"path"`
	// Lenient emits the raw text instead of failing on invalid JSON.
	Lenient bool `json:"lenient"`
}

// JSONParse decodes JSON text into structured values.
type JSONParse struct{}

// NewJSONParse creates the json-parse dispatcher.
func NewJSONParse() *JSONParse { return &JSONParse{} }

// Type implements dispatcher.Dispatcher.
func (*JSONParse) Type() string { return workflow.TypeJSONParse }

// Dispatch implements dispatcher.Dispatcher.
func (*JSONParse) Dispatch(_ context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	var cfg JSONParseConfig
	if err := workflow.DecodeConfig(req.Node, &cfg); err != nil {
		return dispatcher.Fail(err)
	}
	var raw string
	if cfg.Source != "" {
		raw = interpolate.NewDocument(req.Document()).Render(cfg.Source)
	} else {
		v, ok := req.PrimaryInput()
		if !ok {
			return dispatcher.Failf("json-parse node %s has no input", req.Node.ID)
		}
		switch t := v.(type) {
		case string:
			raw = t
		case []byte:
			raw = string(t)
		default:
			// Already structured.
			return dispatcher.Success(map[string]any{workflow.DefaultSourceHandle: extract(t, cfg.Path)})
		}
	}
	raw = stripFence(raw)
	if !gjson.Valid(raw) {
		if cfg.Lenient {
			return dispatcher.Success(map[string]any{workflow.DefaultSourceHandle: raw, "valid": false})
		}
		return dispatcher.Failf("input is not valid JSON")
	}
	var out any
	if cfg.Path != "" {
		res := gjson.Get(raw, cfg.Path)
		if res.Exists() {
			out = res.Value()
		}
	} else if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return dispatcher.Failf("decode JSON: %v", err)
	}
	return dispatcher.Success(map[string]any{workflow.DefaultSourceHandle: out, "valid": true})
}

func extract(v any, path string) any {
	if path == "" {
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return nil
	}
	return res.Value()
}

// stripFence removes a surrounding markdown code fence, as produced by
// language models.
func stripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "```"))
}
