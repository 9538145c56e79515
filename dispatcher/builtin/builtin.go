//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package builtin registers every built-in node type.
package builtin

import (
	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/dispatcher/basic"
	"trpc.group/trpc-go/trpc-workflow-go/dispatcher/condition"
	"trpc.group/trpc-go/trpc-workflow-go/dispatcher/httprequest"
	"trpc.group/trpc-go/trpc-workflow-go/dispatcher/interactive"
	"trpc.group/trpc-go/trpc-workflow-go/dispatcher/llm"
	"trpc.group/trpc-go/trpc-workflow-go/dispatcher/loop"
	retrievalnode "trpc.group/trpc-go/trpc-workflow-go/dispatcher/retrieval"
	"trpc.group/trpc-go/trpc-workflow-go/dispatcher/script"
	"trpc.group/trpc-go/trpc-workflow-go/dispatcher/text"
	"trpc.group/trpc-go/trpc-workflow-go/model"
	"trpc.group/trpc-go/trpc-workflow-go/retrieval"
)

type options struct {
	model           model.Model
	llmOpts         []llm.Option
	retriever       retrieval.Retriever
	retrievalOpts   []retrievalnode.Option
	httpOpts        []httprequest.Option
	scriptOpts      []script.Option
	interactiveOpts []interactive.Option
	extra           []dispatcher.Dispatcher
}

// Option configures the built-in set.
type Option func(*options)

// WithModel sets the default model of llm nodes.
func WithModel(m model.Model, opts ...llm.Option) Option {
	return func(o *options) {
		o.model = m
		o.llmOpts = append(o.llmOpts, opts...)
	}
}

// WithRetriever sets the default source of retrieval nodes.
func WithRetriever(r retrieval.Retriever, opts ...retrievalnode.Option) Option {
	return func(o *options) {
		o.retriever = r
		o.retrievalOpts = append(o.retrievalOpts, opts...)
	}
}

// WithHTTPOptions configures http-request nodes.
func WithHTTPOptions(opts ...httprequest.Option) Option {
	return func(o *options) { o.httpOpts = append(o.httpOpts, opts...) }
}

// WithScriptOptions configures code nodes.
func WithScriptOptions(opts ...script.Option) Option {
	return func(o *options) { o.scriptOpts = append(o.scriptOpts, opts...) }
}

// WithInteractiveOptions configures interactive nodes.
func WithInteractiveOptions(opts ...interactive.Option) Option {
	return func(o *options) { o.interactiveOpts = append(o.interactiveOpts, opts...) }
}

// WithDispatchers registers additional node types alongside the built-ins.
func WithDispatchers(ds ...dispatcher.Dispatcher) Option {
	return func(o *options) { o.extra = append(o.extra, ds...) }
}

// Dispatchers returns the built-in dispatchers.
func Dispatchers(opts ...Option) []dispatcher.Dispatcher {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	ds := []dispatcher.Dispatcher{
		basic.NewInput(),
		basic.NewOutput(),
		basic.NewPassthrough(),
		basic.NewMerge(),
		basic.NewJSONParse(),
		condition.New(),
		loop.NewStart(),
		loop.NewEnd(),
		httprequest.New(o.httpOpts...),
		script.New(o.scriptOpts...),
		interactive.New(o.interactiveOpts...),
		llm.New(o.model, o.llmOpts...),
		retrievalnode.New(o.retriever, o.retrievalOpts...),
		text.NewTemplate(),
		text.NewMarkdown(),
		text.NewTransform(),
	}
	return append(ds, o.extra...)
}

// Register adds the built-ins to r.
func Register(r *dispatcher.Registry, opts ...Option) error {
	for _, d := range Dispatchers(opts...) {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-ins.
func NewRegistry(opts ...Option) (*dispatcher.Registry, error) {
	return dispatcher.NewRegistry(Dispatchers(opts...)...)
}
