//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package interactive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/interaction"
	"trpc.group/trpc-go/trpc-workflow-go/state"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

func request(cfg map[string]any, resume *dispatcher.Resume) *dispatcher.Request {
	return &dispatcher.Request{
		Node:   &workflow.Node{ID: "ask", Type: workflow.TypeInteractive, Config: cfg},
		Inputs: map[string]any{"input": "draft"},
		Scope:  state.New(map[string]any{"user": "ada"}),
		Resume: resume,
	}
}

func TestSuspends(t *testing.T) {
	d := New(WithIDGenerator(func() string { return "int-1" }))
	out := d.Dispatch(context.Background(), request(map[string]any{
		"kind":       "select",
		"title":      "Hi {{user}}",
		"message":    "Pick one for {{input}}",
		"options":    []any{map[string]any{"label": "A", "value": "a"}, map[string]any{"label": "B", "value": "b"}},
		"ttlSeconds": 60,
	}, nil))
	require.NoError(t, out.Validate())
	require.Equal(t, dispatcher.StatusSuspended, out.Status)

	s := out.Suspension
	assert.Equal(t, "int-1", s.InteractionID)
	assert.Equal(t, interaction.KindSelect, s.Prompt.Kind)
	assert.Equal(t, "Hi ada", s.Prompt.Title)
	assert.Equal(t, "Pick one for draft", s.Prompt.Message)
	assert.Equal(t, []interaction.Choice{{Label: "A", Value: "a"}, {Label: "B", Value: "b"}}, s.Prompt.Options)
	assert.Equal(t, map[string]any{"input": "draft"}, s.PartialOutputs)
	assert.Equal(t, time.Minute, s.TTL)
}

func TestDefaultsToText(t *testing.T) {
	out := New().Dispatch(context.Background(), request(nil, nil))
	require.Equal(t, dispatcher.StatusSuspended, out.Status)
	assert.Equal(t, interaction.KindText, out.Suspension.Prompt.Kind)
	assert.NotEmpty(t, out.Suspension.InteractionID)
}

func TestResume(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		response any
		want     map[string]any
	}{
		{
			name:     "text",
			kind:     "text",
			response: "hello",
			want:     map[string]any{"response": "hello", "output": "hello", "interactionId": "int-1"},
		},
		{
			name:     "confirm yes",
			kind:     "confirm",
			response: true,
			want:     map[string]any{"response": true, "output": true, "interactionId": "int-1", "confirmed": true},
		},
		{
			name:     "confirm no",
			kind:     "confirm",
			response: false,
			want:     map[string]any{"response": false, "output": false, "interactionId": "int-1", "rejected": true},
		},
		{
			name:     "form spreads fields",
			kind:     "form",
			response: map[string]any{"email": "a@b.c"},
			want: map[string]any{
				"response": map[string]any{"email": "a@b.c"}, "output": map[string]any{"email": "a@b.c"},
				"interactionId": "int-1", "email": "a@b.c",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := New().Dispatch(context.Background(), request(map[string]any{"kind": tt.kind},
				&dispatcher.Resume{InteractionID: "int-1", Response: tt.response}))
			require.Equal(t, dispatcher.StatusSuccess, out.Status, out.Message)
			assert.Equal(t, tt.want, out.Outputs)
		})
	}
}

func TestConfigErrors(t *testing.T) {
	out := New().Dispatch(context.Background(), request(map[string]any{"kind": "telepathy"}, nil))
	assert.Equal(t, dispatcher.StatusError, out.Status)

	out = New().Dispatch(context.Background(), request(map[string]any{"kind": "select"}, nil))
	assert.Equal(t, "select interaction ask has no options", out.Message)
}
