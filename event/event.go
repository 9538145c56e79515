//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package event defines the monitoring events produced by workflow runs.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies an event.
type Type string

// Run events.
const (
	TypeRunStart    Type = "workflow.run.start"
	TypeRunComplete Type = "workflow.run.complete"
	TypeRunFail     Type = "workflow.run.fail"
	TypeRunSuspend  Type = "workflow.run.suspend"
	TypeRunCancel   Type = "workflow.run.cancel"
	TypeRunTimeout  Type = "workflow.run.timeout"
	TypeRunResume   Type = "workflow.run.resume"
)

// Node events.
const (
	TypeNodeStart    Type = "workflow.node.start"
	TypeNodeComplete Type = "workflow.node.complete"
	TypeNodeError    Type = "workflow.node.error"
	TypeNodeSkip     Type = "workflow.node.skip"
	TypeNodeSuspend  Type = "workflow.node.suspend"
)

// String returns the type name.
func (t Type) String() string { return string(t) }

// IsNode reports whether t is a node event.
func (t Type) IsNode() bool {
	switch t {
	case TypeNodeStart, TypeNodeComplete, TypeNodeError, TypeNodeSkip, TypeNodeSuspend:
		return true
	}
	return false
}

// Usage is the token and cost accounting attached to an event.
type Usage struct {
	PromptTokens     int64   `json:"promptTokens,omitempty"`
	CompletionTokens int64   `json:"completionTokens,omitempty"`
	TotalTokens      int64   `json:"totalTokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.PromptTokens += u2.PromptTokens
	u.CompletionTokens += u2.CompletionTokens
	u.TotalTokens += u2.TotalTokens
	u.Cost += u2.Cost
}

// IsZero reports whether no usage was recorded.
func (u Usage) IsZero() bool { return u == Usage{} }

// Event is one monitoring record.
type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	ExecutionID string    `json:"executionId"`
	WorkflowID  string    `json:"workflowId"`
	Timestamp   time.Time `json:"timestamp"`

	NodeID   string `json:"nodeId,omitempty"`
	NodeType string `json:"nodeType,omitempty"`
	// Iteration is the innermost loop iteration of a node event.
	Iteration int `json:"iteration,omitempty"`

	Duration       time.Duration `json:"duration,omitempty"`
	Usage          Usage         `json:"usage,omitempty"`
	Error          string        `json:"error,omitempty"`
	InteractionID  string        `json:"interactionId,omitempty"`
	NodesProcessed int           `json:"nodesProcessed,omitempty"`
}

// Option configures an Event.
type Option func(*Event)

// WithNode tags a node event.
func WithNode(id, typ string) Option {
	return func(e *Event) {
		e.NodeID = id
		e.NodeType = typ
	}
}

// WithIteration sets the loop iteration.
func WithIteration(i int) Option {
	return func(e *Event) { e.Iteration = i }
}

// WithDuration sets the elapsed time.
func WithDuration(d time.Duration) Option {
	return func(e *Event) { e.Duration = d }
}

// WithUsage sets token and cost usage.
func WithUsage(u Usage) Option {
	return func(e *Event) { e.Usage = u }
}

// WithError records a failure.
func WithError(err error) Option {
	return func(e *Event) {
		if err != nil {
			e.Error = err.Error()
		}
	}
}

// WithInteraction sets the interaction a suspension created.
func WithInteraction(id string) Option {
	return func(e *Event) { e.InteractionID = id }
}

// WithNodesProcessed sets the number of nodes dispatched so far.
func WithNodesProcessed(n int) Option {
	return func(e *Event) { e.NodesProcessed = n }
}

// New creates an event with a generated ID and the current time.
func New(typ Type, executionID, workflowID string, opts ...Option) *Event {
	e := &Event{
		ID:          uuid.New().String(),
		Type:        typ,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Timestamp:   time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
