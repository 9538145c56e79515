//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package retrieval implements the retrieval node on top of a
// retrieval.Retriever.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/internal/interpolate"
	"trpc.group/trpc-go/trpc-workflow-go/retrieval"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Output handles.
const (
	HandleDocuments = "documents"
	HandleContext   = "context"
	HandleCount     = "count"
)

const defaultSeparator = "\n\n"

// Config configures a retrieval node. Query is a template; the primary
// input is used when it renders empty.
type Config struct {
	Source    string         `json:"source"`
	Query     string         `json:"query"`
	TopK      int            `json:"topK"`
	MinScore  float64        `json:"minScore"`
	Filter    map[string]any `json:"filter"`
	Separator *string        `json:"separator"`
}

// Dispatcher implements the retrieval node.
type Dispatcher struct {
	sources  map[string]retrieval.Retriever
	fallback retrieval.Retriever
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSource makes r selectable by name from node config.
func WithSource(name string, r retrieval.Retriever) Option {
	return func(d *Dispatcher) { d.sources[name] = r }
}

// New creates the retrieval dispatcher. r serves nodes that name no source.
func New(r retrieval.Retriever, opts ...Option) *Dispatcher {
	d := &Dispatcher{sources: make(map[string]retrieval.Retriever), fallback: r}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Type implements dispatcher.Dispatcher.
func (*Dispatcher) Type() string { return workflow.TypeRetrieval }

// Dispatch implements dispatcher.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	var cfg Config
	if err := workflow.DecodeConfig(req.Node, &cfg); err != nil {
		return dispatcher.Fail(err)
	}
	r := d.fallback
	if cfg.Source != "" {
		r = d.sources[cfg.Source]
	}
	if r == nil {
		return dispatcher.Failf("retrieval source %q is not configured", cfg.Source)
	}

	doc := interpolate.NewDocument(req.Document())
	query := strings.TrimSpace(doc.Render(cfg.Query))
	if query == "" {
		if v, ok := req.PrimaryInput(); ok && v != nil {
			query = strings.TrimSpace(fmt.Sprint(v))
		}
	}
	if query == "" {
		return dispatcher.Failf("retrieval node %s has an empty query", req.Node.ID)
	}

	results, err := r.Retrieve(ctx, &retrieval.Query{
		Text:     query,
		TopK:     cfg.TopK,
		MinScore: cfg.MinScore,
		Filter:   cfg.Filter,
	})
	if err != nil {
		return dispatcher.Fail(fmt.Errorf("retrieve: %w", err))
	}

	sep := defaultSeparator
	if cfg.Separator != nil {
		sep = *cfg.Separator
	}
	docs := make([]any, 0, len(results))
	texts := make([]string, 0, len(results))
	for _, res := range results {
		docs = append(docs, map[string]any{
			"id":       res.Document.ID,
			"content":  res.Document.Content,
			"metadata": res.Document.Metadata,
			"score":    res.Score,
		})
		texts = append(texts, res.Document.Content)
	}
	joined := strings.Join(texts, sep)
	return dispatcher.Success(map[string]any{
		HandleDocuments:              docs,
		HandleContext:                joined,
		HandleCount:                  len(results),
		workflow.DefaultSourceHandle: joined,
	}, dispatcher.WithMetadata("query", query))
}
