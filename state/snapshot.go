//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package state

// Snapshot is the serialisable form of a single scope.
type Snapshot struct {
	User    map[string]any            `json:"user,omitempty" bson:"user,omitempty"`
	System  map[string]any            `json:"system,omitempty" bson:"system,omitempty"`
	Outputs map[string]map[string]any `json:"outputs,omitempty" bson:"outputs,omitempty"`
}

// Snapshot captures this scope only, not its parents.
func (c *ExecutionContext) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		User:    make(map[string]any, len(c.user)),
		System:  make(map[string]any, len(c.system)),
		Outputs: make(map[string]map[string]any, len(c.outputs)),
	}
	for k, v := range c.user {
		s.User[k] = v
	}
	for k, v := range c.system {
		s.System[k] = v
	}
	for id, o := range c.outputs {
		cp := make(map[string]any, len(o))
		for k, v := range o {
			cp[k] = v
		}
		s.Outputs[id] = cp
	}
	return s
}

// Restore rebuilds a scope from a snapshot under parent, which may be nil.
func Restore(s Snapshot, parent *ExecutionContext) *ExecutionContext {
	c := newContext(parent)
	for k, v := range s.User {
		c.user[k] = v
	}
	for k, v := range s.System {
		c.system[k] = v
	}
	for id, o := range s.Outputs {
		cp := make(map[string]any, len(o))
		for k, v := range o {
			cp[k] = v
		}
		c.outputs[id] = cp
	}
	return c
}
