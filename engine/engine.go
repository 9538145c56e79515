//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package engine runs workflows: it schedules nodes over a FIFO worklist,
// routes outputs along live edges, drives loops, pauses runs for user input
// and resumes them from the stored checkpoint.
//
// Nodes of one run execute sequentially; runs execute concurrently on a
// bounded worker pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/interaction"
	"trpc.group/trpc-go/trpc-workflow-go/interaction/inmemory"
	itelemetry "trpc.group/trpc-go/trpc-workflow-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/monitor"
	"trpc.group/trpc-go/trpc-workflow-go/state"
	"trpc.group/trpc-go/trpc-workflow-go/stream"
	"trpc.group/trpc-go/trpc-workflow-go/telemetry/trace"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Engine executes workflows against a dispatcher registry.
type Engine struct {
	registry *dispatcher.Registry
	opts     options
	observer monitor.Observer
	pool     *ants.Pool
	sweeper  *interaction.Sweeper

	mu     sync.Mutex
	tokens map[string]*atomic.Bool
	closed bool
	runs   sync.WaitGroup
}

// New creates an engine.
func New(registry *dispatcher.Registry, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("engine: registry is nil")
	}
	o := options{
		runTimeout:        DefaultRunTimeout,
		maxConcurrentRuns: DefaultMaxConcurrentRuns,
		interactionTTL:    interaction.DefaultTTL,
		heartbeatInterval: stream.DefaultHeartbeatInterval,
		maxLoopIterations: DefaultMaxLoopIterations,
		sweepInterval:     interaction.DefaultSweepInterval,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = inmemory.NewStore()
	}
	if o.maxConcurrentRuns <= 0 {
		o.maxConcurrentRuns = DefaultMaxConcurrentRuns
	}
	pool, err := ants.NewPool(o.maxConcurrentRuns)
	if err != nil {
		return nil, fmt.Errorf("engine: create worker pool: %w", err)
	}
	return &Engine{
		registry: registry,
		opts:     o,
		observer: monitor.Composite(o.observers...),
		pool:     pool,
		sweeper: interaction.NewSweeper(o.store,
			interaction.WithInterval(o.sweepInterval),
			interaction.WithClock(o.now)),
		tokens: make(map[string]*atomic.Bool),
	}, nil
}

// Registry returns the dispatcher registry.
func (e *Engine) Registry() *dispatcher.Registry { return e.registry }

// Store returns the interaction store.
func (e *Engine) Store() interaction.Store { return e.opts.store }

// Start runs the expired-interaction sweeper until Close or ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.sweeper.Start(ctx)
}

// Close stops the sweeper and releases the worker pool. New runs are
// rejected with ErrEngineClosed; in-flight runs finish first.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.runs.Wait()
	e.sweeper.Stop()
	e.pool.Release()
}

// DispatchWorkflow runs wf to completion, failure or suspension. The Result
// is always non-nil; err is set for failed, canceled and timed out runs.
func (e *Engine) DispatchWorkflow(ctx context.Context, wf *workflow.Workflow, inputs map[string]any,
	opts ...RunOption) (*Result, error) {
	ro := e.runOptions(opts)
	return e.start(ctx, wf, inputs, ro)
}

// DispatchWorkflowStreaming is DispatchWorkflow with fragments emitted by
// dispatchers forwarded to onChunk. onChunk sees exactly one final call with
// isLast set, after every fragment, however the run ends.
func (e *Engine) DispatchWorkflowStreaming(ctx context.Context, wf *workflow.Workflow, inputs map[string]any,
	onChunk stream.ChunkFunc, opts ...RunOption) (*Result, error) {
	ro := e.runOptions(opts)
	ctx, done := e.streaming(ctx, ro, onChunk)
	defer done()
	return e.start(ctx, wf, inputs, ro)
}

// ResumeInteraction answers a suspended run and continues it from the paused
// node. It returns interaction.ErrNotFound, interaction.ErrExpired,
// interaction.ErrAlreadyProcessed or a response validation error, with a nil
// Result, when the run cannot be resumed.
func (e *Engine) ResumeInteraction(ctx context.Context, interactionID string, response any,
	opts ...RunOption) (*Result, error) {
	ro := e.runOptions(opts)
	return e.resume(ctx, interactionID, response, ro)
}

// ResumeInteractionStreaming is ResumeInteraction with streaming as in
// DispatchWorkflowStreaming.
func (e *Engine) ResumeInteractionStreaming(ctx context.Context, interactionID string, response any,
	onChunk stream.ChunkFunc, opts ...RunOption) (*Result, error) {
	ro := e.runOptions(opts)
	// Chunks carry the execution being resumed.
	if st, err := e.opts.store.Get(ctx, interactionID); err == nil {
		ro.executionID = st.ExecutionID
	}
	ctx, done := e.streaming(ctx, ro, onChunk)
	defer done()
	return e.resume(ctx, interactionID, response, ro)
}

// Cancel asks a running execution to stop before its next node. It reports
// whether the execution was running.
func (e *Engine) Cancel(executionID string) bool {
	e.mu.Lock()
	tok, ok := e.tokens[executionID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	tok.Store(true)
	log.Infof("execution %s: cancel requested", executionID)
	return true
}

// Running reports whether an execution is in flight.
func (e *Engine) Running(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tokens[executionID]
	return ok
}

// Interaction returns a stored interaction.
func (e *Engine) Interaction(ctx context.Context, id string) (*interaction.State, error) {
	return e.opts.store.Get(ctx, id)
}

// Interactions returns the interactions of one execution, oldest first.
func (e *Engine) Interactions(ctx context.Context, executionID string) ([]*interaction.State, error) {
	return e.opts.store.ListByExecution(ctx, executionID)
}

func (e *Engine) runOptions(opts []RunOption) *runOptions {
	ro := &runOptions{}
	for _, opt := range opts {
		opt(ro)
	}
	if ro.executionID == "" {
		ro.executionID = uuid.NewString()
	}
	return ro
}

// streaming installs the chunk sink and heartbeat on ctx. The returned func
// stops the heartbeat and sends the final chunk.
func (e *Engine) streaming(ctx context.Context, ro *runOptions,
	onChunk stream.ChunkFunc) (context.Context, func()) {
	sink := stream.NewSink(ro.executionID, onChunk)
	ctx = dispatcher.WithEmitter(ctx, func(nodeID, text string) { sink.Emit(nodeID, text) })
	hb := stream.StartHeartbeat(e.opts.heartbeatInterval, ro.onHeartbeat)
	return ctx, func() {
		hb.Stop()
		sink.Close()
	}
}

func (e *Engine) start(ctx context.Context, wf *workflow.Workflow, inputs map[string]any,
	ro *runOptions) (*Result, error) {
	began := time.Now()
	if wf == nil {
		err := &workflow.ValidationError{Reason: "workflow is nil"}
		return &Result{ExecutionID: ro.executionID, Status: StatusFailed, Error: err.Error()}, err
	}
	g, err := workflow.Compile(wf)
	if err != nil {
		log.Warnf("execution %s: workflow %s rejected: %v", ro.executionID, wf.ID, err)
		return &Result{
			ExecutionID: ro.executionID,
			WorkflowID:  wf.ID,
			Status:      StatusFailed,
			Error:       err.Error(),
			Duration:    time.Since(began),
		}, err
	}
	seeded := make(map[string]any, len(wf.Inputs)+len(inputs))
	for k, v := range wf.Inputs {
		seeded[k] = v
	}
	for k, v := range inputs {
		seeded[k] = v
	}
	root := state.New(seeded)
	root.SetSystem(state.VarExecutionID, ro.executionID)
	root.SetSystem(state.VarWorkflowID, wf.ID)
	root.SetSystem(state.VarStartedAt, began.UTC().Format(time.RFC3339Nano))

	r := e.newRun(g, ro, root)
	r.startedAt = began
	for _, n := range g.Entries() {
		r.enqueue(n.ID)
	}
	tok, err := e.reserve(r.executionID)
	if err != nil {
		return r.rejected(err)
	}
	return e.submit(ctx, r, tok, itelemetry.SpanNameRun, event.TypeRunStart)
}

func (e *Engine) resume(ctx context.Context, id string, response any, ro *runOptions) (*Result, error) {
	store := e.opts.store
	st, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := e.opts.now()
	if st.Status == interaction.StatusProcessed {
		return nil, interaction.ErrAlreadyProcessed
	}
	if st.Expired(now) {
		if derr := store.Delete(ctx, id); derr != nil {
			log.Warnf("delete expired interaction %s: %v", id, derr)
		}
		return nil, interaction.ErrExpired
	}
	if err := interaction.Validate(st.Prompt, response); err != nil {
		return nil, err
	}
	c, err := decodeCheckpoint(st)
	if err != nil {
		return nil, err
	}
	r, err := restore(st, c)
	if err != nil {
		return nil, err
	}
	e.adopt(r, ro)
	r.resume = &dispatcher.Resume{InteractionID: id, Response: response}
	r.resumeNode = st.NodeID
	r.root.SetSystem(state.VarResuming, true)
	r.root.SetSystem(state.VarInteractionResponse, response)

	// The interaction is consumed only once the run is certain to start.
	tok, err := e.reserve(r.executionID)
	if err != nil {
		return nil, err
	}
	if err := store.MarkProcessed(ctx, id, response, now); err != nil {
		e.release(r.executionID)
		return nil, err
	}
	log.Infof("execution %s: resuming at node %s with interaction %s", r.executionID, st.NodeID, id)
	return e.submit(ctx, r, tok, itelemetry.SpanNameResume, event.TypeRunResume)
}

func (e *Engine) newRun(g *workflow.Graph, ro *runOptions, root *state.ExecutionContext) *run {
	r := newRun(g, ro.executionID, root)
	e.adopt(r, ro)
	return r
}

// adopt attaches the engine collaborators to r.
func (e *Engine) adopt(r *run, ro *runOptions) {
	r.registry = e.registry
	r.store = e.opts.store
	r.observer = monitor.Composite(e.observer, ro.observer)
	r.now = e.opts.now
	r.ttl = e.opts.interactionTTL
	r.maxLoop = e.opts.maxLoopIterations
	r.timeout = e.opts.runTimeout
	if t := r.g.Workflow().Config.TimeoutSeconds; t > 0 {
		r.timeout = time.Duration(t) * time.Second
	}
	if ro.timeout > 0 {
		r.timeout = ro.timeout
	}
}

type completion struct {
	res *Result
	err error
}

// submit executes a reserved run on the worker pool, waits for it and
// releases the reservation.
func (e *Engine) submit(ctx context.Context, r *run, tok *atomic.Bool, spanName string,
	startType event.Type) (*Result, error) {
	defer e.release(r.executionID)
	r.canceled = tok.Load

	done := make(chan completion, 1)
	task := func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("execution %s panicked: %v\n%s", r.executionID, rec, debug.Stack())
				out := &outcome{status: StatusFailed, err: fmt.Errorf("execution panicked: %v", rec)}
				done <- completion{res: e.finish(ctx, r, out), err: out.err}
			}
		}()
		done <- e.execute(ctx, r, spanName, startType)
	}
	if err := e.pool.Submit(task); err != nil {
		return r.rejected(fmt.Errorf("engine: submit execution %s: %w", r.executionID, err))
	}
	c := <-done
	return c.res, c.err
}

func (e *Engine) execute(ctx context.Context, r *run, spanName string, startType event.Type) completion {
	r.began = time.Now()
	ctx, span := trace.Tracer.Start(ctx, spanName)
	defer span.End()
	itelemetry.TraceRun(span, r.executionID, r.workflowID)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	log.Infof("execution %s: workflow %s started", r.executionID, r.workflowID)
	r.observe(ctx, startType)
	out := r.execute(ctx)
	res := e.finish(ctx, r, out)

	interactionID := ""
	if res.Interaction != nil {
		interactionID = res.Interaction.ID
	}
	itelemetry.TraceRunResult(span, string(res.Status), res.NodesProcessed, interactionID)
	return completion{res: res, err: out.err}
}

// finish turns a terminal outcome into a Result and reports it.
func (e *Engine) finish(ctx context.Context, r *run, out *outcome) *Result {
	res := &Result{
		ExecutionID:    r.executionID,
		WorkflowID:     r.workflowID,
		Status:         out.status,
		Interaction:    out.interaction,
		NodesProcessed: r.processed,
		NodeMetrics:    r.metrics,
		Usage:          r.usage,
		Duration:       time.Since(r.began),
	}
	if len(r.nodeErrors) > 0 {
		res.NodeErrors = r.nodeErrors
	}
	if out.err != nil {
		res.Error = out.err.Error()
	}
	opts := []event.Option{
		event.WithNodesProcessed(r.processed),
		event.WithDuration(res.Duration),
		event.WithUsage(r.usage),
	}
	// Run events are reported on a context that outlives a canceled run.
	ctx = context.WithoutCancel(ctx)
	switch out.status {
	case StatusCompleted:
		res.Outputs = r.collect()
		log.Infof("execution %s: completed after %d nodes", r.executionID, r.processed)
		r.observe(ctx, event.TypeRunComplete, opts...)
	case StatusSuspended:
		log.Infof("execution %s: suspended at node %s awaiting interaction %s",
			r.executionID, out.interaction.NodeID, out.interaction.ID)
		r.observe(ctx, event.TypeRunSuspend, append(opts, event.WithInteraction(out.interaction.ID))...)
	case StatusCanceled:
		log.Infof("execution %s: canceled after %d nodes", r.executionID, r.processed)
		r.observe(ctx, event.TypeRunCancel, append(opts, event.WithError(out.err))...)
	case StatusTimeout:
		log.Warnf("execution %s: %v", r.executionID, out.err)
		r.observe(ctx, event.TypeRunTimeout, append(opts, event.WithError(out.err))...)
	default:
		log.Warnf("execution %s: failed after %d nodes: %v", r.executionID, r.processed, out.err)
		r.observe(ctx, event.TypeRunFail, append(opts, event.WithError(out.err))...)
	}
	return res
}

// rejected reports a run that never started.
func (r *run) rejected(err error) (*Result, error) {
	return &Result{
		ExecutionID:    r.executionID,
		WorkflowID:     r.workflowID,
		Status:         StatusFailed,
		Error:          err.Error(),
		NodesProcessed: r.processed,
	}, err
}

// reserve registers executionID as running and returns its cancel token.
// Close waits for every reservation to be released.
func (e *Engine) reserve(executionID string) (*atomic.Bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if _, ok := e.tokens[executionID]; ok {
		return nil, fmt.Errorf("engine: %w: %s", ErrExecutionRunning, executionID)
	}
	tok := &atomic.Bool{}
	e.tokens[executionID] = tok
	e.runs.Add(1)
	return tok, nil
}

func (e *Engine) release(executionID string) {
	e.mu.Lock()
	delete(e.tokens, executionID)
	e.mu.Unlock()
	e.runs.Done()
}
