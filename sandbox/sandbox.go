//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package sandbox defines a bounded evaluator for user-supplied code.
//
// An Evaluator must not give scripts access to the host filesystem, network
// or process environment beyond the variables passed in the Script, and
// must stop the script when the context is done.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout bounds a script when the caller sets none.
const DefaultTimeout = 10 * time.Second

// ErrTimeout is matched by TimeoutError.
var ErrTimeout = errors.New("execution timed out")

// TimeoutError reports a script stopped at its deadline.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %dms", e.Timeout.Milliseconds())
}

// Unwrap lets errors.Is match ErrTimeout.
func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Script is the code and data handed to an evaluator.
type Script struct {
	Language string
	Code     string
	// Variables are copied into the script as read-only data.
	Variables map[string]any
	Timeout   time.Duration
}

// Result is the outcome of a script that ran to completion or failed.
type Result struct {
	// Value is the script's return value converted to Go.
	Value any
	// Logs are the lines the script printed, in order.
	Logs []string
}

// Evaluator runs scripts. On failure it returns a non-nil Result carrying
// the logs captured so far together with the error.
type Evaluator interface {
	Evaluate(ctx context.Context, s *Script) (*Result, error)
}

// EffectiveTimeout returns s.Timeout or DefaultTimeout.
func (s *Script) EffectiveTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}
