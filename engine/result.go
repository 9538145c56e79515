//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/interaction"
)

// Status is the terminal state of a run.
type Status string

// Run statuses.
const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSuspended Status = "suspended"
	StatusCanceled  Status = "canceled"
	StatusTimeout   Status = "timeout"
)

// Node statuses recorded in NodeMetrics.
const (
	NodeSuccess   = "success"
	NodeError     = "error"
	NodeSkipped   = "skipped"
	NodeSuspended = "suspended"
)

// NodeMetrics accumulates the dispatches of one node. Nodes inside loops
// are dispatched once per iteration.
type NodeMetrics struct {
	NodeID   string        `json:"nodeId"`
	NodeType string        `json:"nodeType"`
	Status   string        `json:"status"`
	Runs     int           `json:"runs"`
	Duration time.Duration `json:"duration"`
	Usage    event.Usage   `json:"usage"`
}

// Result is what every entry point returns, whatever the outcome.
type Result struct {
	ExecutionID string         `json:"executionId"`
	WorkflowID  string         `json:"workflowId"`
	Status      Status         `json:"status"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	// Interaction is set when the run suspended.
	Interaction    *interaction.State      `json:"interaction,omitempty"`
	Error          string                  `json:"error,omitempty"`
	NodesProcessed int                     `json:"nodesProcessed"`
	NodeMetrics    map[string]*NodeMetrics `json:"nodeMetrics,omitempty"`
	// NodeErrors holds failures of non-required nodes.
	NodeErrors map[string]string `json:"nodeErrors,omitempty"`
	Usage      event.Usage       `json:"usage"`
	Duration   time.Duration     `json:"duration"`
}
