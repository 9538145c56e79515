//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package workflow defines the workflow graph model: nodes, edges, their
// validation and decoding from JSON or YAML documents.
package workflow

import "fmt"

// Built-in node types.
const (
	TypeInput         = "input"
	TypeOutput        = "output"
	TypePassthrough   = "passthrough"
	TypeMerge         = "merge"
	TypeJSONParse     = "json-parse"
	TypeCondition     = "if-else"
	TypeLoopStart     = "loop-start"
	TypeLoopEnd       = "loop-end"
	TypeHTTPRequest   = "http-request"
	TypeCode          = "code"
	TypeInteractive   = "interactive"
	TypeLLM           = "llm"
	TypeRetrieval     = "retrieval"
	TypeText          = "text"
	TypeMarkdown      = "markdown"
	TypeTextTransform = "text-transform"
)

// Default handle names used when an edge leaves them empty.
const (
	DefaultSourceHandle = "output"
	DefaultTargetHandle = "input"
)

// Workflow is a directed graph of typed nodes.
type Workflow struct {
	ID     string         `json:"id" yaml:"id"`
	Name   string         `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes  []Node         `json:"nodes" yaml:"nodes"`
	Edges  []Edge         `json:"edges" yaml:"edges"`
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Config Config         `json:"config,omitempty" yaml:"config,omitempty"`
}

// Config carries per-workflow overrides of engine defaults. Zero means
// "use the engine default".
type Config struct {
	TimeoutSeconds    int `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
	MaxLoopIterations int `json:"maxLoopIterations,omitempty" yaml:"maxLoopIterations,omitempty"`
}

// Node is a single processing step.
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Type   string         `json:"type" yaml:"type"`
	Name   string         `json:"name,omitempty" yaml:"name,omitempty"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	// IsEntry marks a node that is enqueued when the run starts.
	IsEntry bool `json:"isEntry,omitempty" yaml:"isEntry,omitempty"`
	// Required is nil when absent, which means required.
	Required *bool `json:"isRequired,omitempty" yaml:"isRequired,omitempty"`
	// IsOutput marks a node whose outputs contribute to the run result.
	IsOutput bool `json:"isOutput,omitempty" yaml:"isOutput,omitempty"`
	// ContinueOnError lets the run proceed when this node fails.
	ContinueOnError bool `json:"continueOnError,omitempty" yaml:"continueOnError,omitempty"`
}

// IsRequired reports whether a failure of this node fails the run.
func (n *Node) IsRequired() bool {
	if n.ContinueOnError {
		return false
	}
	return n.Required == nil || *n.Required
}

// Label returns the node name, falling back to its ID.
func (n *Node) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// Edge routes the value of a source handle into a target handle.
type Edge struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	Source       string `json:"source" yaml:"source"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	Target       string `json:"target" yaml:"target"`
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
}

// Normalize fills default handles and edge IDs in place.
func (w *Workflow) Normalize() {
	for i := range w.Edges {
		e := &w.Edges[i]
		if e.SourceHandle == "" {
			e.SourceHandle = DefaultSourceHandle
		}
		if e.TargetHandle == "" {
			e.TargetHandle = DefaultTargetHandle
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("%s:%s->%s:%s", e.Source, e.SourceHandle, e.Target, e.TargetHandle)
		}
	}
}

// Bool returns a pointer to b, for Node.Required literals.
func Bool(b bool) *bool { return &b }
