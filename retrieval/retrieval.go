//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package retrieval provides the collaborators behind the retrieval node: a
// Retriever contract, an embedding contract and an in-memory vector index.
package retrieval

import (
	"context"
	"errors"
)

// ErrEmptyQuery is returned for a query with no text.
var ErrEmptyQuery = errors.New("query text cannot be empty")

// Document is a retrievable piece of text.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy with its own metadata map.
func (d *Document) Clone() *Document {
	c := *d
	if d.Metadata != nil {
		c.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Query describes a search.
type Query struct {
	Text string
	// TopK caps the number of results; the retriever default applies when 0.
	TopK int
	// MinScore drops results scoring below it.
	MinScore float64
	// Filter keeps only documents whose metadata equals every entry.
	Filter map[string]any
}

// Result is one scored match.
type Result struct {
	Document *Document
	Score    float64
}

// Retriever finds documents relevant to a query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, q *Query) ([]*Result, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float64, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, q *Query) ([]*Result, error)

// Retrieve implements Retriever.
func (f RetrieverFunc) Retrieve(ctx context.Context, q *Query) ([]*Result, error) { return f(ctx, q) }
