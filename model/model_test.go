//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stop() *string {
	s := "stop"
	return &s
}

func feed(rsps ...*Response) <-chan *Response {
	ch := make(chan *Response, len(rsps))
	for _, r := range rsps {
		ch <- r
	}
	close(ch)
	return ch
}

func TestRole_IsValid(t *testing.T) {
	assert.True(t, RoleUser.IsValid())
	assert.True(t, RoleSystem.IsValid())
	assert.False(t, Role("tool").IsValid())
	assert.Equal(t, "assistant", RoleAssistant.String())
}

func TestCollect_StreamingThenFinal(t *testing.T) {
	var chunks []string
	ch := feed(
		&Response{IsPartial: true, Choices: []Choice{{Delta: Message{Content: "Hel"}}}},
		&Response{IsPartial: true, Choices: []Choice{{Delta: Message{Content: "lo"}}}},
		&Response{
			Model:   "gpt-test",
			Done:    true,
			Choices: []Choice{{Message: NewAssistantMessage("Hello"), FinishReason: stop()}},
			Usage:   &Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		},
	)
	out, err := Collect(context.Background(), ch, func(s string) { chunks = append(chunks, s) })
	require.NoError(t, err)
	assert.Equal(t, "Hello", out.Content)
	assert.Equal(t, "gpt-test", out.Model)
	assert.Equal(t, "stop", out.FinishReason)
	assert.Equal(t, 5, out.Usage.TotalTokens)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
}

func TestCollect_PartialOnly(t *testing.T) {
	ch := feed(
		&Response{IsPartial: true, Choices: []Choice{{Delta: Message{Content: "a"}}}},
		&Response{IsPartial: true, Choices: []Choice{{Delta: Message{Content: "b"}}}},
	)
	out, err := Collect(context.Background(), ch, nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", out.Content)
}

func TestCollect_ResponseError(t *testing.T) {
	ch := feed(&Response{Error: &ResponseError{Type: ErrorTypeAPIError, Message: "rate limited"}})
	_, err := Collect(context.Background(), ch, nil)
	require.Error(t, err)
	assert.Equal(t, "api_error: rate limited", err.Error())
}

func TestCollect_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Collect(ctx, make(chan *Response), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResponse_Text(t *testing.T) {
	var nilRsp *Response
	assert.Equal(t, "", nilRsp.Text())
	assert.Equal(t, "x", (&Response{Choices: []Choice{{Message: Message{Content: "x"}}}}).Text())
	assert.Equal(t, "y", (&Response{IsPartial: true, Choices: []Choice{{Delta: Message{Content: "y"}}}}).Text())
}
