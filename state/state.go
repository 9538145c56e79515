//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package state holds the per-run execution context: user variables,
// engine-owned system variables and node outputs keyed by node and handle.
//
// Loop bodies run in child scopes. Reads fall through to the parent; writes
// stay in the child until MergeIntoParent.
package state

import (
	"strings"
	"sync"
)

// SystemPrefix marks engine-owned variables.
const SystemPrefix = "__"

// Reserved system variables.
const (
	VarExecutionID         = "__execution_id"
	VarWorkflowID          = "__workflow_id"
	VarStartedAt           = "__started_at"
	VarResuming            = "__resuming_from_interaction"
	VarInteractionResponse = "__interaction_response"
	VarLoopIteration       = "__loop_iteration"
	VarLoopItem            = "__loop_item"
)

// View keys used by Flatten.
const (
	KeyNodes  = "nodes"
	KeyInputs = "inputs"
)

// IsSystem reports whether key names a system variable.
func IsSystem(key string) bool { return strings.HasPrefix(key, SystemPrefix) }

// ExecutionContext is the mutable state of one run. It is safe for
// concurrent use.
type ExecutionContext struct {
	mu      sync.RWMutex
	parent  *ExecutionContext
	user    map[string]any
	system  map[string]any
	outputs map[string]map[string]any
}

// New creates a root context seeded with caller inputs. Keys carrying the
// system prefix are dropped.
func New(inputs map[string]any) *ExecutionContext {
	c := newContext(nil)
	for k, v := range inputs {
		if IsSystem(k) {
			continue
		}
		c.user[k] = v
	}
	return c
}

func newContext(parent *ExecutionContext) *ExecutionContext {
	return &ExecutionContext{
		parent:  parent,
		user:    make(map[string]any),
		system:  make(map[string]any),
		outputs: make(map[string]map[string]any),
	}
}

// Child derives a scope whose reads fall through to c.
func (c *ExecutionContext) Child() *ExecutionContext { return newContext(c) }

// Parent returns the enclosing scope, or nil for the root.
func (c *ExecutionContext) Parent() *ExecutionContext { return c.parent }

// Root returns the outermost scope.
func (c *ExecutionContext) Root() *ExecutionContext {
	for c.parent != nil {
		c = c.parent
	}
	return c
}

// SetVar sets a user variable. It reports false and does nothing for
// system-prefixed keys.
func (c *ExecutionContext) SetVar(key string, value any) bool {
	if IsSystem(key) {
		return false
	}
	c.mu.Lock()
	c.user[key] = value
	c.mu.Unlock()
	return true
}

// Var looks up a user variable.
func (c *ExecutionContext) Var(key string) (any, bool) {
	c.mu.RLock()
	v, ok := c.user[key]
	c.mu.RUnlock()
	if ok || c.parent == nil {
		return v, ok
	}
	return c.parent.Var(key)
}

// SetSystem sets an engine-owned variable. The prefix is added if missing.
func (c *ExecutionContext) SetSystem(key string, value any) {
	if !IsSystem(key) {
		key = SystemPrefix + key
	}
	c.mu.Lock()
	c.system[key] = value
	c.mu.Unlock()
}

// DeleteSystem removes an engine-owned variable from this scope.
func (c *ExecutionContext) DeleteSystem(key string) {
	c.mu.Lock()
	delete(c.system, key)
	c.mu.Unlock()
}

// System looks up an engine-owned variable.
func (c *ExecutionContext) System(key string) (any, bool) {
	c.mu.RLock()
	v, ok := c.system[key]
	c.mu.RUnlock()
	if ok || c.parent == nil {
		return v, ok
	}
	return c.parent.System(key)
}

// Vars returns a copy of the visible user variables, inner scopes winning.
func (c *ExecutionContext) Vars() map[string]any {
	out := make(map[string]any)
	if c.parent != nil {
		for k, v := range c.parent.Vars() {
			out[k] = v
		}
	}
	c.mu.RLock()
	for k, v := range c.user {
		out[k] = v
	}
	c.mu.RUnlock()
	return out
}

// SystemVars returns a copy of the visible system variables.
func (c *ExecutionContext) SystemVars() map[string]any {
	out := make(map[string]any)
	if c.parent != nil {
		for k, v := range c.parent.SystemVars() {
			out[k] = v
		}
	}
	c.mu.RLock()
	for k, v := range c.system {
		out[k] = v
	}
	c.mu.RUnlock()
	return out
}

// SetOutputs records the outputs of a node, replacing earlier ones in this
// scope.
func (c *ExecutionContext) SetOutputs(nodeID string, outputs map[string]any) {
	cp := make(map[string]any, len(outputs))
	for k, v := range outputs {
		cp[k] = v
	}
	c.mu.Lock()
	c.outputs[nodeID] = cp
	c.mu.Unlock()
}

// ClearOutputs forgets the outputs of a node in this scope.
func (c *ExecutionContext) ClearOutputs(nodeID string) {
	c.mu.Lock()
	delete(c.outputs, nodeID)
	c.mu.Unlock()
}

// Outputs returns a copy of a node's outputs as seen from this scope.
func (c *ExecutionContext) Outputs(nodeID string) (map[string]any, bool) {
	c.mu.RLock()
	o, ok := c.outputs[nodeID]
	c.mu.RUnlock()
	if !ok {
		if c.parent == nil {
			return nil, false
		}
		return c.parent.Outputs(nodeID)
	}
	cp := make(map[string]any, len(o))
	for k, v := range o {
		cp[k] = v
	}
	return cp, true
}

// Output returns the value a node produced on a handle.
func (c *ExecutionContext) Output(nodeID, handle string) (any, bool) {
	o, ok := c.Outputs(nodeID)
	if !ok {
		return nil, false
	}
	v, ok := o[handle]
	return v, ok
}

// AllOutputs returns every visible node's outputs, inner scopes winning.
func (c *ExecutionContext) AllOutputs() map[string]map[string]any {
	out := make(map[string]map[string]any)
	if c.parent != nil {
		for k, v := range c.parent.AllOutputs() {
			out[k] = v
		}
	}
	c.mu.RLock()
	for id, o := range c.outputs {
		cp := make(map[string]any, len(o))
		for k, v := range o {
			cp[k] = v
		}
		out[id] = cp
	}
	c.mu.RUnlock()
	return out
}

// MergeIntoParent copies this scope's user variables and outputs into the
// parent. System variables stay local.
func (c *ExecutionContext) MergeIntoParent() {
	if c.parent == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.parent
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range c.user {
		p.user[k] = v
	}
	for id, o := range c.outputs {
		p.outputs[id] = o
	}
}

// Flatten builds the lookup document used for templates and expressions:
// user variables at top level, system variables under their own keys,
// node outputs under "nodes.<id>.<handle>" and the current node inputs under
// "inputs". Input handles are also promoted to top level when they do not
// shadow a variable.
func (c *ExecutionContext) Flatten(inputs map[string]any) map[string]any {
	doc := c.Vars()
	for k, v := range c.SystemVars() {
		doc[k] = v
	}
	nodes := make(map[string]any)
	for id, o := range c.AllOutputs() {
		nodes[id] = o
	}
	doc[KeyNodes] = nodes
	in := make(map[string]any, len(inputs))
	for k, v := range inputs {
		in[k] = v
		if _, shadow := doc[k]; !shadow {
			doc[k] = v
		}
	}
	doc[KeyInputs] = in
	return doc
}
