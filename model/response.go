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
	"strings"
	"time"
)

// Error type constants for ResponseError.Type field.
const (
	ErrorTypeStreamError = "stream_error"
	ErrorTypeAPIError    = "api_error"
)

// Object type constants for Response.Object field.
const (
	ObjectTypeChatCompletionChunk = "chat.completion.chunk"
	ObjectTypeChatCompletion      = "chat.completion"
)

// Choice represents a single completion choice.
type Choice struct {
	Index int `json:"index"`

	// Message is the full content of a final response.
	Message Message `json:"message,omitempty"`

	// Delta is the increment carried by a partial response.
	Delta Message `json:"delta,omitempty"`

	// FinishReason is "stop", "length", "content_filter", etc.
	FinishReason *string `json:"finish_reason,omitempty"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResponseError represents an error returned by the model service.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Error implements error.
func (e *ResponseError) Error() string {
	return e.Type + ": " + e.Message
}

// Response is the response from the model.
type Response struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`

	// Usage may be nil for partial responses.
	Usage *Usage `json:"usage,omitempty"`

	Error *ResponseError `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Done      bool      `json:"done"`
	IsPartial bool      `json:"is_partial"`
}

// Text returns the message or delta content of the first choice.
func (rsp *Response) Text() string {
	if rsp == nil || len(rsp.Choices) == 0 {
		return ""
	}
	if rsp.IsPartial {
		return rsp.Choices[0].Delta.Content
	}
	return rsp.Choices[0].Message.Content
}

// Completion is the aggregated result of draining a response channel.
type Completion struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
}

// Collect drains ch. onPartial, when set, receives every partial delta. A
// non-empty final response content wins over the concatenated deltas.
func Collect(ctx context.Context, ch <-chan *Response, onPartial func(string)) (*Completion, error) {
	var (
		out     Completion
		partial strings.Builder
		final   bool
	)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case rsp, ok := <-ch:
			if !ok {
				if !final {
					out.Content = partial.String()
				}
				return &out, nil
			}
			if rsp.Error != nil {
				return nil, rsp.Error
			}
			if rsp.Model != "" {
				out.Model = rsp.Model
			}
			if rsp.Usage != nil {
				out.Usage = *rsp.Usage
			}
			if len(rsp.Choices) > 0 && rsp.Choices[0].FinishReason != nil {
				out.FinishReason = *rsp.Choices[0].FinishReason
			}
			if rsp.IsPartial {
				text := rsp.Text()
				partial.WriteString(text)
				if onPartial != nil && text != "" {
					onPartial(text)
				}
				continue
			}
			if text := rsp.Text(); text != "" {
				out.Content = text
				final = true
			}
		}
	}
}
