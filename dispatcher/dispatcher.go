//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package dispatcher defines how node types are executed. A Dispatcher
// handles one node type; the Registry maps type strings to dispatchers.
package dispatcher

import (
	"context"

	"trpc.group/trpc-go/trpc-workflow-go/state"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Dispatcher executes nodes of a single type. Implementations must be safe
// for concurrent use and report failures through the Outcome, never by
// panicking.
type Dispatcher interface {
	// Type returns the node type handled.
	Type() string
	// Dispatch runs one node.
	Dispatch(ctx context.Context, req *Request) *Outcome
}

// Resume carries the user's answer when a suspended node is re-dispatched.
type Resume struct {
	InteractionID string
	Response      any
}

// LoopState is the engine-owned iteration state passed to loop nodes.
// Dispatchers read it; only the engine advances it.
type LoopState struct {
	Iteration     int
	MaxIterations int
	// Results holds the values collected at the loop-end so far.
	Results []any
}

// Request is everything a dispatcher may read about the node it runs.
type Request struct {
	ExecutionID string
	WorkflowID  string
	Node        *workflow.Node
	// Inputs maps target handles to delivered values. A handle fed by several
	// edges holds a []any in edge definition order.
	Inputs map[string]any
	// Scope is the execution context visible to the node.
	Scope  *state.ExecutionContext
	Resume *Resume
	Loop   *LoopState
}

// Input returns the value delivered to handle.
func (r *Request) Input(handle string) (any, bool) {
	v, ok := r.Inputs[handle]
	return v, ok
}

// PrimaryInput returns the default "input" handle, or the only input when a
// single handle was delivered.
func (r *Request) PrimaryInput() (any, bool) {
	if v, ok := r.Inputs[workflow.DefaultTargetHandle]; ok {
		return v, true
	}
	if len(r.Inputs) == 1 {
		for _, v := range r.Inputs {
			return v, true
		}
	}
	return nil, false
}

// Document returns the template/expression lookup document for this node.
func (r *Request) Document() map[string]any {
	if r.Scope == nil {
		return map[string]any{state.KeyInputs: r.Inputs}
	}
	return r.Scope.Flatten(r.Inputs)
}

// Resuming reports whether the node is being re-dispatched after a pause.
func (r *Request) Resuming() bool { return r.Resume != nil }

// Func adapts a function to Dispatcher.
type Func struct {
	NodeType string
	Fn       func(ctx context.Context, req *Request) *Outcome
}

// NewFunc returns a Dispatcher for typ backed by fn.
func NewFunc(typ string, fn func(ctx context.Context, req *Request) *Outcome) *Func {
	return &Func{NodeType: typ, Fn: fn}
}

// Type implements Dispatcher.
func (f *Func) Type() string { return f.NodeType }

// Dispatch implements Dispatcher.
func (f *Func) Dispatch(ctx context.Context, req *Request) *Outcome { return f.Fn(ctx, req) }
