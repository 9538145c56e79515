//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package dispatcher

import (
	"errors"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/interaction"
)

// Status tags an Outcome.
type Status string

// Outcome statuses.
const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusSuspended Status = "suspended"
)

// Metrics are usage figures reported by a dispatcher.
type Metrics struct {
	PromptTokens     int64   `json:"promptTokens,omitempty"`
	CompletionTokens int64   `json:"completionTokens,omitempty"`
	TotalTokens      int64   `json:"totalTokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
}

// LoopControl is returned by loop-start dispatchers for each iteration.
type LoopControl struct {
	// Iteration is the zero-based index of the iteration just emitted.
	Iteration int
	// ShouldContinue reports whether another iteration follows this one.
	ShouldContinue bool
	// Empty means this dispatch starts no iteration and the loop ends with
	// the results collected so far.
	Empty bool
}

// Handles emitted by loop-end nodes. The engine keeps the collected results
// across iterations.
const (
	LoopResultsHandle    = "results"
	LoopIterationsHandle = "iterations"
)

// Suspension asks the engine to pause the run for user input.
type Suspension struct {
	InteractionID  string
	Prompt         interaction.Prompt
	PartialOutputs map[string]any
	// TTL overrides the engine's interaction expiry when positive.
	TTL time.Duration
}

// Outcome is the result of one dispatch. Exactly one of the success, error
// or suspended shapes is populated; build it with Success, Fail, Failf,
// TimedOut or Suspend.
type Outcome struct {
	Status Status

	// Success.
	Outputs  map[string]any
	Metadata map[string]any
	Metrics  Metrics
	Loop     *LoopControl

	// Error.
	Message string
	Err     error
	Timeout bool

	// Suspended.
	Suspension *Suspension
}

// OutcomeOption decorates an Outcome at construction.
type OutcomeOption func(*Outcome)

// WithMetadata adds a metadata entry.
func WithMetadata(key string, value any) OutcomeOption {
	return func(o *Outcome) {
		if o.Metadata == nil {
			o.Metadata = make(map[string]any)
		}
		o.Metadata[key] = value
	}
}

// WithMetrics sets usage metrics.
func WithMetrics(m Metrics) OutcomeOption {
	return func(o *Outcome) { o.Metrics = m }
}

// WithLoop attaches loop control.
func WithLoop(l *LoopControl) OutcomeOption {
	return func(o *Outcome) { o.Loop = l }
}

func apply(o *Outcome, opts []OutcomeOption) *Outcome {
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Success reports a completed node.
func Success(outputs map[string]any, opts ...OutcomeOption) *Outcome {
	if outputs == nil {
		outputs = map[string]any{}
	}
	return apply(&Outcome{Status: StatusSuccess, Outputs: outputs}, opts)
}

// Fail reports a failed node.
func Fail(err error, opts ...OutcomeOption) *Outcome {
	if err == nil {
		err = errors.New("unknown error")
	}
	return apply(&Outcome{Status: StatusError, Message: err.Error(), Err: err}, opts)
}

// Failf reports a failed node with a formatted message.
func Failf(format string, args ...any) *Outcome {
	return Fail(fmt.Errorf(format, args...))
}

// TimedOut reports a node that exceeded its time budget.
func TimedOut(msg string, opts ...OutcomeOption) *Outcome {
	o := Fail(errors.New(msg), opts...)
	o.Timeout = true
	return o
}

// Suspend reports a node waiting for user input.
func Suspend(s *Suspension) *Outcome {
	return &Outcome{Status: StatusSuspended, Suspension: s}
}

// Error returns the failure cause, or nil unless the status is error.
func (o *Outcome) Error() error {
	if o.Status != StatusError {
		return nil
	}
	if o.Err != nil {
		return o.Err
	}
	return errors.New(o.Message)
}

// Validate checks that exactly one shape is populated.
func (o *Outcome) Validate() error {
	if o == nil {
		return errors.New("nil outcome")
	}
	switch o.Status {
	case StatusSuccess:
		if o.Message != "" || o.Err != nil || o.Suspension != nil {
			return errors.New("success outcome carries error or suspension fields")
		}
	case StatusError:
		if o.Message == "" {
			return errors.New("error outcome without message")
		}
		if o.Suspension != nil || o.Loop != nil {
			return errors.New("error outcome carries suspension or loop fields")
		}
	case StatusSuspended:
		if o.Suspension == nil || o.Suspension.InteractionID == "" {
			return errors.New("suspended outcome without interaction id")
		}
		if o.Message != "" || o.Err != nil || o.Loop != nil {
			return errors.New("suspended outcome carries error or loop fields")
		}
	default:
		return fmt.Errorf("unknown outcome status %q", o.Status)
	}
	return nil
}
