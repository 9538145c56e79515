//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"errors"
	"fmt"
)

// ErrInvalidWorkflow is matched by every ValidationError.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// Validation messages.
const (
	MsgNoNodes   = "workflow has no nodes"
	MsgNoEntries = "no entry nodes found in workflow"
)

// ValidationError reports a structurally invalid workflow. It is returned
// before any node runs.
type ValidationError struct {
	Reason string
	NodeID string
	EdgeID string
}

func (e *ValidationError) Error() string { return e.Reason }

// Unwrap lets errors.Is match ErrInvalidWorkflow.
func (e *ValidationError) Unwrap() error { return ErrInvalidWorkflow }

func invalidf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
