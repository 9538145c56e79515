//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	for _, typ := range []string{
		workflow.TypeInput, workflow.TypeOutput, workflow.TypePassthrough, workflow.TypeMerge,
		workflow.TypeJSONParse, workflow.TypeCondition, workflow.TypeLoopStart, workflow.TypeLoopEnd,
		workflow.TypeHTTPRequest, workflow.TypeCode, workflow.TypeInteractive, workflow.TypeLLM,
		workflow.TypeRetrieval, workflow.TypeText, workflow.TypeMarkdown, workflow.TypeTextTransform,
	} {
		assert.True(t, r.Has(typ), typ)
	}
	assert.Len(t, r.Types(), 16)
}

func TestWithDispatchers(t *testing.T) {
	custom := dispatcher.NewFunc("custom", func(context.Context, *dispatcher.Request) *dispatcher.Outcome {
		return dispatcher.Success(nil)
	})
	r, err := NewRegistry(WithDispatchers(custom))
	require.NoError(t, err)
	assert.True(t, r.Has("custom"))

	err = Register(r)
	assert.ErrorIs(t, err, dispatcher.ErrDuplicateType)
}

func TestLLMWithoutModel(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	out := r.Dispatch(context.Background(), &dispatcher.Request{
		Node: &workflow.Node{ID: "l", Type: workflow.TypeLLM, Config: map[string]any{"prompt": "hi"}},
	})
	assert.Equal(t, dispatcher.StatusError, out.Status)
	assert.Equal(t, "no default model configured", out.Message)
}
