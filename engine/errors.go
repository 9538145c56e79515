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
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCanceled is returned when a run was canceled before it finished.
	ErrCanceled = errors.New("workflow execution canceled")
	// ErrEngineClosed is returned by entry points after Close.
	ErrEngineClosed = errors.New("engine closed")
	// ErrExecutionRunning is returned when an execution ID is already in
	// flight.
	ErrExecutionRunning = errors.New("execution already running")
	// ErrResumedSuspension is the cause recorded when a node suspends again
	// while being resumed.
	ErrResumedSuspension = errors.New("node suspended again while resuming")
	// ErrInvalidCheckpoint is returned when an interaction's checkpoint cannot
	// be restored.
	ErrInvalidCheckpoint = errors.New("invalid interaction checkpoint")
)

// Timeout scopes.
const (
	ScopeNode = "node"
	ScopeRun  = "run"
)

// NodeExecutionError reports the node that failed a run.
type NodeExecutionError struct {
	NodeID         string
	NodeType       string
	Message        string
	NodesProcessed int
	Err            error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s) failed: %s", e.NodeID, e.NodeType, e.Message)
}

// Unwrap returns the dispatcher's error.
func (e *NodeExecutionError) Unwrap() error { return e.Err }

// TimeoutError reports a run or a node that exceeded its time budget.
type TimeoutError struct {
	Scope   string
	NodeID  string
	Timeout time.Duration
	Message string
}

func (e *TimeoutError) Error() string {
	if e.Scope == ScopeNode {
		if e.Message != "" {
			return fmt.Sprintf("node %s timed out: %s", e.NodeID, e.Message)
		}
		return fmt.Sprintf("node %s timed out after %dms", e.NodeID, e.Timeout.Milliseconds())
	}
	return fmt.Sprintf("workflow execution timed out after %s", e.Timeout)
}
