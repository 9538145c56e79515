//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package model provides the language model abstraction used by llm nodes.
package model

import "context"

// Model is the interface for all language models.
//
// GenerateContent returns an error only when the request cannot be sent.
// API-level failures are delivered on the channel through Response.Error.
type Model interface {
	// GenerateContent generates content from the given request. Streaming
	// requests yield partial responses followed by one final response.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// Info contains basic information about a Model.
type Info struct {
	Name string
}
