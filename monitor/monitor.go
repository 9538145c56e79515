//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package monitor delivers run and node events to observability tooling.
//
// Observers are called synchronously on the run's goroutine and must not
// block.
package monitor

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	itelemetry "trpc.group/trpc-go/trpc-workflow-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	wmetric "trpc.group/trpc-go/trpc-workflow-go/telemetry/metric"
)

// Observer receives monitoring events.
type Observer interface {
	Observe(ctx context.Context, e *event.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e *event.Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, e *event.Event) { f(ctx, e) }

// Noop discards events.
var Noop Observer = ObserverFunc(func(context.Context, *event.Event) {})

// Composite fans out to several observers. A panicking observer is logged
// and does not affect the others.
func Composite(obs ...Observer) Observer {
	var live []Observer
	for _, o := range obs {
		if o != nil {
			live = append(live, o)
		}
	}
	switch len(live) {
	case 0:
		return Noop
	case 1:
		return live[0]
	}
	return ObserverFunc(func(ctx context.Context, e *event.Event) {
		for _, o := range live {
			safeObserve(ctx, o, e)
		}
	})
}

func safeObserve(ctx context.Context, o Observer, e *event.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("observer panicked on %s: %v\n%s", e.Type, r, debug.Stack())
		}
	}()
	o.Observe(ctx, e)
}

// LogObserver writes events to a logger: failures at Warn, run events at
// Info and node events at Debug.
type LogObserver struct {
	logger log.Logger
}

// NewLogObserver creates a LogObserver. A nil logger uses log.Default.
func NewLogObserver(l log.Logger) *LogObserver {
	if l == nil {
		l = log.Default
	}
	return &LogObserver{logger: l}
}

// Observe implements Observer.
func (o *LogObserver) Observe(_ context.Context, e *event.Event) {
	switch e.Type {
	case event.TypeRunFail, event.TypeRunTimeout, event.TypeNodeError:
		o.logger.Warnf("%s execution=%s node=%s error=%q duration=%s",
			e.Type, e.ExecutionID, e.NodeID, e.Error, e.Duration)
	case event.TypeNodeStart, event.TypeNodeComplete, event.TypeNodeSkip, event.TypeNodeSuspend:
		o.logger.Debugf("%s execution=%s node=%s type=%s duration=%s tokens=%d",
			e.Type, e.ExecutionID, e.NodeID, e.NodeType, e.Duration, e.Usage.TotalTokens)
	default:
		o.logger.Infof("%s execution=%s workflow=%s nodes=%d duration=%s interaction=%s",
			e.Type, e.ExecutionID, e.WorkflowID, e.NodesProcessed, e.Duration, e.InteractionID)
	}
}

// MetricObserver records events on OpenTelemetry instruments.
type MetricObserver struct {
	in *wmetric.Instruments
}

// NewMetricObserver creates instruments on m. A nil meter uses
// metric.Meter from the telemetry package.
func NewMetricObserver(m metric.Meter) (*MetricObserver, error) {
	if m == nil {
		m = wmetric.Meter
	}
	in, err := wmetric.NewInstruments(m)
	if err != nil {
		return nil, err
	}
	return &MetricObserver{in: in}, nil
}

// Observe implements Observer.
func (o *MetricObserver) Observe(ctx context.Context, e *event.Event) {
	ms := float64(e.Duration.Microseconds()) / 1000
	switch e.Type {
	case event.TypeRunComplete, event.TypeRunFail, event.TypeRunSuspend, event.TypeRunCancel, event.TypeRunTimeout:
		attrs := metric.WithAttributes(
			attribute.String(itelemetry.KeyWorkflowID, e.WorkflowID),
			attribute.String(itelemetry.KeyRunStatus, runStatus(e.Type)),
		)
		o.in.Runs.Add(ctx, 1, attrs)
		o.in.RunDuration.Record(ctx, ms, attrs)
	case event.TypeNodeComplete, event.TypeNodeError, event.TypeNodeSuspend:
		attrs := metric.WithAttributes(
			attribute.String(itelemetry.KeyNodeType, e.NodeType),
			attribute.String(itelemetry.KeyNodeStatus, nodeStatus(e.Type)),
		)
		o.in.Nodes.Add(ctx, 1, attrs)
		o.in.NodeDuration.Record(ctx, ms, attrs)
		typ := metric.WithAttributes(attribute.String(itelemetry.KeyNodeType, e.NodeType))
		if e.Usage.TotalTokens > 0 {
			o.in.Tokens.Add(ctx, e.Usage.TotalTokens, typ)
		}
		if e.Usage.Cost > 0 {
			o.in.Cost.Add(ctx, e.Usage.Cost, typ)
		}
	}
}

func runStatus(t event.Type) string {
	switch t {
	case event.TypeRunComplete:
		return "completed"
	case event.TypeRunFail:
		return "failed"
	case event.TypeRunSuspend:
		return "suspended"
	case event.TypeRunCancel:
		return "canceled"
	default:
		return "timeout"
	}
}

func nodeStatus(t event.Type) string {
	switch t {
	case event.TypeNodeComplete:
		return "success"
	case event.TypeNodeSuspend:
		return "suspended"
	default:
		return "error"
	}
}

// ChannelObserver buffers events on a channel for consumers such as SSE
// handlers. Events are dropped when the buffer is full.
type ChannelObserver struct {
	mu      sync.RWMutex
	ch      chan *event.Event
	closed  bool
	dropped atomic.Int64
	filter  func(*event.Event) bool
}

// NewChannelObserver creates an observer with the given buffer. filter,
// when set, selects the events kept.
func NewChannelObserver(buffer int, filter func(*event.Event) bool) *ChannelObserver {
	return &ChannelObserver{ch: make(chan *event.Event, buffer), filter: filter}
}

// Observe implements Observer.
func (o *ChannelObserver) Observe(_ context.Context, e *event.Event) {
	if o.filter != nil && !o.filter(e) {
		return
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return
	}
	select {
	case o.ch <- e:
	default:
		o.dropped.Add(1)
	}
}

// Events returns the receive side. It is closed by Close.
func (o *ChannelObserver) Events() <-chan *event.Event { return o.ch }

// Dropped returns the number of events lost to a full buffer.
func (o *ChannelObserver) Dropped() int64 { return o.dropped.Load() }

// Close stops accepting events and closes the channel.
func (o *ChannelObserver) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}
