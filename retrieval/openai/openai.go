//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package openai provides an OpenAI embedder for the retrieval index.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/retrieval"
)

var _ retrieval.Embedder = (*Embedder)(nil)

const (
	// DefaultModel is the default embedding model.
	DefaultModel = "text-embedding-3-small"
	// DefaultDimensions is the dimension of text-embedding-3-small.
	DefaultDimensions = 1536
)

// Embedder calls the OpenAI embeddings API.
type Embedder struct {
	client         openai.Client
	model          string
	dimensions     int
	apiKey         string
	baseURL        string
	requestOptions []option.RequestOption
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithModel sets the embedding model.
func WithModel(model string) Option {
	return func(e *Embedder) { e.model = model }
}

// WithDimensions sets the output dimension for text-embedding-3 models.
func WithDimensions(dimensions int) Option {
	return func(e *Embedder) { e.dimensions = dimensions }
}

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(e *Embedder) { e.apiKey = apiKey }
}

// WithBaseURL sets the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(e *Embedder) { e.baseURL = baseURL }
}

// WithRequestOptions appends per-request options.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(e *Embedder) { e.requestOptions = append(e.requestOptions, opts...) }
}

// New creates an Embedder.
func New(opts ...Option) *Embedder {
	e := &Embedder{model: DefaultModel, dimensions: DefaultDimensions}
	for _, opt := range opts {
		opt(e)
	}
	var clientOpts []option.RequestOption
	if e.apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(e.apiKey))
	}
	if e.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(e.baseURL))
	}
	e.client = openai.NewClient(clientOpts...)
	return e
}

// GetEmbedding implements retrieval.Embedder.
func (e *Embedder) GetEmbedding(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}
	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if strings.HasPrefix(e.model, "text-embedding-3") && e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}
	rsp, err := e.client.Embeddings.New(ctx, params, e.requestOptions...)
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(rsp.Data) == 0 || len(rsp.Data[0].Embedding) == 0 {
		log.Warn("received empty embedding response")
		return []float64{}, nil
	}
	return rsp.Data[0].Embedding, nil
}
