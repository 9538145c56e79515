//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package llm implements the llm node. Provider logic lives behind
// model.Model; this node only renders prompts, forwards streamed fragments
// and reports usage.
package llm

import (
	"context"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/internal/interpolate"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/model"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Output handles.
const (
	HandleText         = "text"
	HandleModel        = "model"
	HandleFinishReason = "finishReason"
	HandleUsage        = "usage"
)

// Config configures an llm node. Prompt and System are templates.
type Config struct {
	Model       string          `json:"model"`
	System      string          `json:"system"`
	Prompt      string          `json:"prompt"`
	History     []model.Message `json:"history"`
	Temperature *float64        `json:"temperature"`
	TopP        *float64        `json:"topP"`
	MaxTokens   *int            `json:"maxTokens"`
	Stop        []string        `json:"stop"`
	// Stream asks the provider for incremental output. Defaults to streaming
	// whenever the run has a chunk consumer.
	Stream *bool `json:"stream"`
}

// Pricing is the cost per thousand tokens.
type Pricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// Cost returns the price of usage.
func (p Pricing) Cost(u model.Usage) float64 {
	return float64(u.PromptTokens)/1000*p.PromptPer1K + float64(u.CompletionTokens)/1000*p.CompletionPer1K
}

// Dispatcher implements the llm node.
type Dispatcher struct {
	models   map[string]model.Model
	fallback model.Model
	pricing  map[string]Pricing
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithModel makes m selectable by name from node config.
func WithModel(name string, m model.Model) Option {
	return func(d *Dispatcher) { d.models[name] = m }
}

// WithPricing sets the price used to compute node cost for a model name.
func WithPricing(name string, p Pricing) Option {
	return func(d *Dispatcher) { d.pricing[name] = p }
}

// New creates the llm dispatcher. m serves nodes that name no model; it may
// be nil when every node names a registered model.
func New(m model.Model, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		models:   make(map[string]model.Model),
		fallback: m,
		pricing:  make(map[string]Pricing),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Type implements dispatcher.Dispatcher.
func (*Dispatcher) Type() string { return workflow.TypeLLM }

// Dispatch implements dispatcher.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	var cfg Config
	if err := workflow.DecodeConfig(req.Node, &cfg); err != nil {
		return dispatcher.Fail(err)
	}
	m, err := d.model(cfg.Model)
	if err != nil {
		return dispatcher.Fail(err)
	}

	doc := interpolate.NewDocument(req.Document())
	prompt := doc.Render(cfg.Prompt)
	if strings.TrimSpace(prompt) == "" {
		if v, ok := req.PrimaryInput(); ok {
			prompt = fmt.Sprint(v)
		}
	}
	if strings.TrimSpace(prompt) == "" {
		return dispatcher.Failf("llm node %s has an empty prompt", req.Node.ID)
	}

	stream := dispatcher.Streaming(ctx)
	if cfg.Stream != nil {
		stream = *cfg.Stream
	}
	request := &model.Request{
		Messages:    messages(doc, cfg, prompt),
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
		Stop:        cfg.Stop,
		Stream:      stream,
	}

	ch, err := m.GenerateContent(ctx, request)
	if err != nil {
		return dispatcher.Fail(fmt.Errorf("generate content: %w", err))
	}
	completion, err := model.Collect(ctx, ch, func(text string) {
		dispatcher.EmitChunk(ctx, text)
	})
	if err != nil {
		return dispatcher.Fail(fmt.Errorf("generate content: %w", err))
	}

	name := completion.Model
	if name == "" {
		name = m.Info().Name
	}
	metrics := dispatcher.Metrics{
		PromptTokens:     int64(completion.Usage.PromptTokens),
		CompletionTokens: int64(completion.Usage.CompletionTokens),
		TotalTokens:      int64(completion.Usage.TotalTokens),
	}
	if p, ok := d.price(cfg.Model, name); ok {
		metrics.Cost = p.Cost(completion.Usage)
	}
	log.Debugf("llm node %s: model %s used %d tokens", req.Node.ID, name, metrics.TotalTokens)

	return dispatcher.Success(map[string]any{
		HandleText:                   completion.Content,
		workflow.DefaultSourceHandle: completion.Content,
		HandleModel:                  name,
		HandleFinishReason:           completion.FinishReason,
		HandleUsage: map[string]any{
			"promptTokens":     completion.Usage.PromptTokens,
			"completionTokens": completion.Usage.CompletionTokens,
			"totalTokens":      completion.Usage.TotalTokens,
		},
	}, dispatcher.WithMetrics(metrics))
}

func (d *Dispatcher) model(name string) (model.Model, error) {
	if name != "" {
		if m, ok := d.models[name]; ok {
			return m, nil
		}
		if d.fallback != nil && d.fallback.Info().Name == name {
			return d.fallback, nil
		}
		return nil, fmt.Errorf("model %q is not configured", name)
	}
	if d.fallback == nil {
		return nil, fmt.Errorf("no default model configured")
	}
	return d.fallback, nil
}

func (d *Dispatcher) price(names ...string) (Pricing, bool) {
	for _, n := range names {
		if p, ok := d.pricing[n]; ok && n != "" {
			return p, true
		}
	}
	return Pricing{}, false
}

func messages(doc *interpolate.Document, cfg Config, prompt string) []model.Message {
	var msgs []model.Message
	if system := doc.Render(cfg.System); system != "" {
		msgs = append(msgs, model.NewSystemMessage(system))
	}
	for _, m := range cfg.History {
		if !m.Role.IsValid() {
			continue
		}
		msgs = append(msgs, model.Message{Role: m.Role, Content: doc.Render(m.Content)})
	}
	return append(msgs, model.NewUserMessage(prompt))
}
