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

	"trpc.group/trpc-go/trpc-workflow-go/interaction"
	"trpc.group/trpc-go/trpc-workflow-go/monitor"
)

// Engine defaults.
const (
	DefaultRunTimeout        = 5 * time.Minute
	DefaultMaxConcurrentRuns = 64
	DefaultMaxLoopIterations = 100
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	store             interaction.Store
	observers         []monitor.Observer
	runTimeout        time.Duration
	maxConcurrentRuns int
	interactionTTL    time.Duration
	heartbeatInterval time.Duration
	maxLoopIterations int
	sweepInterval     time.Duration
	now               func() time.Time
}

// WithStore sets the interaction store. An in-memory store is used when
// none is set.
func WithStore(s interaction.Store) Option {
	return func(o *options) { o.store = s }
}

// WithObserver adds a monitoring observer.
func WithObserver(obs monitor.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithRunTimeout sets the default run deadline.
func WithRunTimeout(d time.Duration) Option {
	return func(o *options) { o.runTimeout = d }
}

// WithMaxConcurrentRuns bounds the worker pool.
func WithMaxConcurrentRuns(n int) Option {
	return func(o *options) { o.maxConcurrentRuns = n }
}

// WithInteractionTTL sets how long suspended runs wait for a response.
func WithInteractionTTL(d time.Duration) Option {
	return func(o *options) { o.interactionTTL = d }
}

// WithHeartbeatInterval sets the keep-alive period of streaming runs.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) { o.heartbeatInterval = d }
}

// WithMaxLoopIterations sets the loop bound used when neither the node nor
// the workflow sets one.
func WithMaxLoopIterations(n int) Option {
	return func(o *options) { o.maxLoopIterations = n }
}

// WithSweepInterval sets how often Start's sweeper deletes expired
// interactions.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweepInterval = d }
}

// WithClock replaces time.Now for interaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	executionID string
	observer    monitor.Observer
	onHeartbeat func(time.Time)
	timeout     time.Duration
}

// WithExecutionID sets the execution ID instead of generating one.
func WithExecutionID(id string) RunOption {
	return func(o *runOptions) { o.executionID = id }
}

// WithRunObserver adds an observer for this run only.
func WithRunObserver(obs monitor.Observer) RunOption {
	return func(o *runOptions) { o.observer = obs }
}

// WithHeartbeat is called on every heartbeat of a streaming run.
func WithHeartbeat(fn func(time.Time)) RunOption {
	return func(o *runOptions) { o.onHeartbeat = fn }
}

// WithTimeout overrides the run deadline for this run.
func WithTimeout(d time.Duration) RunOption {
	return func(o *runOptions) { o.timeout = d }
}
