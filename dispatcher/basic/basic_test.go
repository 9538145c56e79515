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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/state"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

func newRequest(typ string, cfg map[string]any, inputs map[string]any, vars map[string]any) *dispatcher.Request {
	return &dispatcher.Request{
		ExecutionID: "exec-1",
		Node:        &workflow.Node{ID: "n1", Type: typ, Config: cfg},
		Inputs:      inputs,
		Scope:       state.New(vars),
	}
}

func TestInput(t *testing.T) {
	tests := []struct {
		name    string
		cfg     map[string]any
		vars    map[string]any
		want    map[string]any
		wantErr string
	}{
		{
			name: "all variables",
			vars: map[string]any{"message": "Hello, workflow!", "n": 1},
			want: map[string]any{"message": "Hello, workflow!", "n": 1},
		},
		{
			name: "single variable",
			cfg:  map[string]any{"variable": "message"},
			vars: map[string]any{"message": "hi", "other": 2},
			want: map[string]any{"message": "hi"},
		},
		{
			name: "custom handle",
			cfg:  map[string]any{"variable": "q", "handle": "query"},
			vars: map[string]any{"q": "go"},
			want: map[string]any{"query": "go"},
		},
		{
			name: "default",
			cfg:  map[string]any{"variable": "q", "default": "fallback"},
			want: map[string]any{"q": "fallback"},
		},
		{
			name:    "required missing",
			cfg:     map[string]any{"variable": "q", "required": true},
			wantErr: `required input "q" not provided`,
		},
		{
			name: "system variables are not user inputs",
			vars: map[string]any{"__execution_id": "x", "a": "b"},
			want: map[string]any{"a": "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewInput().Dispatch(context.Background(), newRequest(workflow.TypeInput, tt.cfg, nil, tt.vars))
			require.NoError(t, out.Validate())
			if tt.wantErr != "" {
				assert.Equal(t, dispatcher.StatusError, out.Status)
				assert.Equal(t, tt.wantErr, out.Message)
				return
			}
			assert.Equal(t, dispatcher.StatusSuccess, out.Status)
			assert.Equal(t, tt.want, out.Outputs)
		})
	}
}

func TestOutput(t *testing.T) {
	req := newRequest(workflow.TypeOutput,
		map[string]any{"mapping": map[string]any{"greeting": "{{message}}!", "raw": "{{nodes.prev.count}}"}},
		map[string]any{"message": "hi"}, nil)
	req.Scope.SetOutputs("prev", map[string]any{"count": 3})

	out := NewOutput().Dispatch(context.Background(), req)
	require.Equal(t, dispatcher.StatusSuccess, out.Status)
	assert.Equal(t, map[string]any{"message": "hi", "greeting": "hi!", "raw": float64(3)}, out.Outputs)
}

func TestOutput_InvalidConfig(t *testing.T) {
	out := NewOutput().Dispatch(context.Background(),
		newRequest(workflow.TypeOutput, map[string]any{"mapping": "not a map"}, nil, nil))
	assert.Equal(t, dispatcher.StatusError, out.Status)
	assert.Contains(t, out.Message, "invalid config for node n1")
}

func TestPassthrough(t *testing.T) {
	out := NewPassthrough().Dispatch(context.Background(),
		newRequest(workflow.TypePassthrough, nil, map[string]any{"input": 42, "extra": "x"}, nil))
	require.Equal(t, dispatcher.StatusSuccess, out.Status)
	assert.Equal(t, map[string]any{"input": 42, "extra": "x", "output": 42}, out.Outputs)

	out = NewPassthrough().Dispatch(context.Background(),
		newRequest(workflow.TypePassthrough, nil, map[string]any{"message": "m"}, nil))
	assert.Equal(t, map[string]any{"message": "m", "output": "m"}, out.Outputs)
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		inputs  map[string]any
		want    any
		wantErr bool
	}{
		{
			name:   "object of maps",
			inputs: map[string]any{"a": map[string]any{"x": 1}, "b": map[string]any{"y": 2}},
			want:   map[string]any{"x": 1, "y": 2},
		},
		{
			name:   "object with scalars",
			inputs: map[string]any{"a": "s", "b": map[string]any{"y": 2}},
			want:   map[string]any{"a": "s", "y": 2},
		},
		{
			name:   "array flattens union",
			mode:   MergeArray,
			inputs: map[string]any{"input": []any{1, 2}, "z": 3},
			want:   []any{1, 2, 3},
		},
		{
			name:   "array of nothing",
			mode:   MergeArray,
			inputs: map[string]any{},
			want:   []any{},
		},
		{name: "bad mode", mode: "zip", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := map[string]any{}
			if tt.mode != "" {
				cfg["mode"] = tt.mode
			}
			out := NewMerge().Dispatch(context.Background(), newRequest(workflow.TypeMerge, cfg, tt.inputs, nil))
			if tt.wantErr {
				assert.Equal(t, dispatcher.StatusError, out.Status)
				return
			}
			require.Equal(t, dispatcher.StatusSuccess, out.Status)
			assert.Equal(t, tt.want, out.Outputs["output"])
		})
	}
}

func TestJSONParse(t *testing.T) {
	tests := []struct {
		name    string
		cfg     map[string]any
		inputs  map[string]any
		want    any
		wantErr bool
	}{
		{
			name:   "object",
			inputs: map[string]any{"input": `{"a": [1, 2]}`},
			want:   map[string]any{"a": []any{float64(1), float64(2)}},
		},
		{
			name:   "path",
			cfg:    map[string]any{"path": "a.1"},
			inputs: map[string]any{"input": `{"a": [1, 2]}`},
			want:   float64(2),
		},
		{
			name:   "fenced",
			inputs: map[string]any{"input": "```json\n{\"ok\": true}\n```"},
			want:   map[string]any{"ok": true},
		},
		{
			name:   "already structured",
			cfg:    map[string]any{"path": "k"},
			inputs: map[string]any{"input": map[string]any{"k": "v"}},
			want:   "v",
		},
		{
			name:   "source template",
			cfg:    map[string]any{"source": "{{payload}}"},
			inputs: map[string]any{"payload": `[true]`},
			want:   []any{true},
		},
		{
			name:   "lenient",
			cfg:    map[string]any{"lenient": true},
			inputs: map[string]any{"input": "not json"},
			want:   "not json",
		},
		{name: "invalid", inputs: map[string]any{"input": "{"}, wantErr: true},
		{name: "no input", inputs: map[string]any{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewJSONParse().Dispatch(context.Background(), newRequest(workflow.TypeJSONParse, tt.cfg, tt.inputs, nil))
			if tt.wantErr {
				assert.Equal(t, dispatcher.StatusError, out.Status)
				return
			}
			require.Equal(t, dispatcher.StatusSuccess, out.Status, out.Message)
			assert.Equal(t, tt.want, out.Outputs["output"])
		})
	}
}
