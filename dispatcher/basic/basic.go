//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package basic provides the structural node types: input, output,
// passthrough, merge and json-parse.
package basic

import (
	"context"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/internal/interpolate"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// InputConfig configures an input node.
type InputConfig struct {
	// Variable selects one user variable. Empty emits every user variable,
	// each on a handle of the same name.
	Variable string `json:"variable"`
	// Handle names the output handle; defaults to Variable.
	Handle   string `json:"handle"`
	Default  any    `json:"default"`
	Required bool   `json:"required"`
}

// Input reads run inputs from the execution context.
type Input struct{}

// NewInput creates the input dispatcher.
func NewInput() *Input { return &Input{} }

// Type implements dispatcher.Dispatcher.
func (*Input) Type() string { return workflow.TypeInput }

// Dispatch implements dispatcher.Dispatcher.
func (*Input) Dispatch(_ context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	var cfg InputConfig
	if err := workflow.DecodeConfig(req.Node, &cfg); err != nil {
		return dispatcher.Fail(err)
	}
	outputs := make(map[string]any)
	for k, v := range req.Inputs {
		outputs[k] = v
	}
	if cfg.Variable == "" {
		if req.Scope != nil {
			for k, v := range req.Scope.Vars() {
				outputs[k] = v
			}
		}
		return dispatcher.Success(outputs)
	}
	handle := cfg.Handle
	if handle == "" {
		handle = cfg.Variable
	}
	var (
		v  any
		ok bool
	)
	if req.Scope != nil {
		v, ok = req.Scope.Var(cfg.Variable)
	}
	switch {
	case ok:
	case cfg.Default != nil:
		v = cfg.Default
	case cfg.Required:
		return dispatcher.Failf("required input %q not provided", cfg.Variable)
	}
	outputs[handle] = v
	return dispatcher.Success(outputs)
}

// OutputConfig configures an output node.
type OutputConfig struct {
	// Mapping renders named outputs from templates, e.g.
	// {"answer": "{{nodes.llm.text}}"}.
	Mapping map[string]any `json:"mapping"`
}

// Output collects the final values of a run.
type Output struct{}

// NewOutput creates the output dispatcher.
func NewOutput() *Output { return &Output{} }

// Type implements dispatcher.Dispatcher.
func (*Output) Type() string { return workflow.TypeOutput }

// Dispatch implements dispatcher.Dispatcher.
func (*Output) Dispatch(_ context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	var cfg OutputConfig
	if err := workflow.DecodeConfig(req.Node, &cfg); err != nil {
		return dispatcher.Fail(err)
	}
	outputs := make(map[string]any, len(req.Inputs)+len(cfg.Mapping))
	for k, v := range req.Inputs {
		outputs[k] = v
	}
	if len(cfg.Mapping) > 0 {
		doc := interpolate.NewDocument(req.Document())
		for k, tmpl := range cfg.Mapping {
			outputs[k] = doc.Resolve(tmpl)
		}
	}
	return dispatcher.Success(outputs)
}

// Passthrough re-emits every input on the handle it arrived on. The primary
// input is also emitted on the default output handle.
type Passthrough struct{}

// NewPassthrough creates the passthrough dispatcher.
func NewPassthrough() *Passthrough { return &Passthrough{} }

// Type implements dispatcher.Dispatcher.
func (*Passthrough) Type() string { return workflow.TypePassthrough }

// Dispatch implements dispatcher.Dispatcher.
func (*Passthrough) Dispatch(_ context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	outputs := make(map[string]any, len(req.Inputs)+1)
	for k, v := range req.Inputs {
		outputs[k] = v
	}
	if v, ok := req.PrimaryInput(); ok {
		if _, taken := outputs[workflow.DefaultSourceHandle]; !taken {
			outputs[workflow.DefaultSourceHandle] = v
		}
	}
	return dispatcher.Success(outputs)
}
