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
	"context"
	"errors"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	loopnode "trpc.group/trpc-go/trpc-workflow-go/dispatcher/loop"
	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/interaction"
	itelemetry "trpc.group/trpc-go/trpc-workflow-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/monitor"
	"trpc.group/trpc-go/trpc-workflow-go/state"
	"trpc.group/trpc-go/trpc-workflow-go/telemetry/trace"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

type nodeState string

const (
	nodeDone    nodeState = "done"
	nodeSkipped nodeState = "skipped"
	nodeFailed  nodeState = "failed"
)

type edgeState string

const (
	edgeDelivered edgeState = "delivered"
	edgeSkipped   edgeState = "skipped"
)

// frame is the engine-owned state of one active loop.
type frame struct {
	start          string
	parent         string
	iteration      int
	completed      int
	max            int
	results        []any
	last           any
	shouldContinue bool
	pendingReset   bool
	scope          *state.ExecutionContext
}

func (f *frame) loopState() *dispatcher.LoopState {
	return &dispatcher.LoopState{
		Iteration:     f.iteration,
		MaxIterations: f.max,
		Results:       append([]any(nil), f.results...),
	}
}

// nodeTimeoutConfig is the engine-level part of every node config.
type nodeTimeoutConfig struct {
	TimeoutMs int `json:"timeoutMs"`
}

// run executes one workflow run. It is owned by a single goroutine.
type run struct {
	registry *dispatcher.Registry
	store    interaction.Store
	observer monitor.Observer
	now      func() time.Time
	ttl      time.Duration
	maxLoop  int
	timeout  time.Duration

	g           *workflow.Graph
	executionID string
	workflowID  string
	root        *state.ExecutionContext
	startedAt   time.Time
	began       time.Time
	canceled    func() bool

	queue      []string
	queued     map[string]bool
	nodes      map[string]nodeState
	edges      map[string]edgeState
	frames     map[string]*frame
	processed  int
	metrics    map[string]*NodeMetrics
	nodeErrors map[string]string
	usage      event.Usage

	resume     *dispatcher.Resume
	resumeNode string
}

// outcome is the terminal state of a run before it becomes a Result.
type outcome struct {
	status      Status
	err         error
	interaction *interaction.State
}

func newRun(g *workflow.Graph, executionID string, root *state.ExecutionContext) *run {
	return &run{
		g:           g,
		executionID: executionID,
		workflowID:  g.Workflow().ID,
		root:        root,
		queued:      make(map[string]bool),
		nodes:       make(map[string]nodeState),
		edges:       make(map[string]edgeState),
		frames:      make(map[string]*frame),
		metrics:     make(map[string]*NodeMetrics),
		nodeErrors:  make(map[string]string),
	}
}

// execute drains the worklist until it is empty or the run stops.
func (r *run) execute(ctx context.Context) *outcome {
	for len(r.queue) > 0 {
		if out := r.interrupted(ctx); out != nil {
			return out
		}
		id := r.queue[0]
		r.queue = r.queue[1:]
		delete(r.queued, id)
		if out := r.step(ctx, id); out != nil {
			return out
		}
	}
	return &outcome{status: StatusCompleted}
}

func (r *run) interrupted(ctx context.Context) *outcome {
	if r.canceled != nil && r.canceled() {
		return &outcome{status: StatusCanceled, err: ErrCanceled}
	}
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &outcome{status: StatusTimeout, err: &TimeoutError{Scope: ScopeRun, Timeout: r.timeout}}
	default:
		return &outcome{status: StatusCanceled, err: ErrCanceled}
	}
}

func (r *run) enqueue(id string) {
	if r.queued[id] {
		return
	}
	r.queued[id] = true
	r.queue = append(r.queue, id)
}

func (r *run) dequeue(id string) {
	if !r.queued[id] {
		return
	}
	delete(r.queued, id)
	for i, q := range r.queue {
		if q == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return
		}
	}
}

// step dispatches one node and applies its outcome.
func (r *run) step(ctx context.Context, id string) *outcome {
	n, ok := r.g.Node(id)
	if !ok {
		return &outcome{status: StatusFailed, err: fmt.Errorf("unknown node %s", id)}
	}
	var f *frame
	switch n.Type {
	case workflow.TypeLoopStart:
		f = r.frames[id]
		if f != nil && f.pendingReset {
			r.resetLoop(f)
		}
	case workflow.TypeLoopEnd:
		if l, ok := r.g.LoopForEnd(id); ok {
			f = r.frames[l.Start]
		}
	}
	scope := r.scopeFor(id)
	if n.Type == workflow.TypeLoopStart && f == nil {
		f = r.openFrame(n, scope)
	}
	req := &dispatcher.Request{
		ExecutionID: r.executionID,
		WorkflowID:  r.workflowID,
		Node:        n,
		Inputs:      r.inputs(id, scope),
		Scope:       scope,
	}
	if f != nil {
		req.Loop = f.loopState()
	}
	resuming := r.resume != nil && r.resumeNode == id
	if resuming {
		req.Resume = r.resume
		r.resume = nil
	}

	out, elapsed := r.dispatch(ctx, n, req, f)
	if resuming {
		r.root.DeleteSystem(state.VarResuming)
		r.root.DeleteSystem(state.VarInteractionResponse)
	}
	r.processed++

	if out.Status != dispatcher.StatusSuccess {
		if stop := r.interrupted(ctx); stop != nil {
			r.record(n, NodeError, elapsed, out.Metrics)
			return stop
		}
	}
	switch out.Status {
	case dispatcher.StatusSuspended:
		if resuming {
			return r.failed(ctx, n, dispatcher.Fail(ErrResumedSuspension), elapsed)
		}
		return r.suspend(ctx, n, out.Suspension, elapsed)
	case dispatcher.StatusError:
		return r.failed(ctx, n, out, elapsed)
	}

	r.record(n, NodeSuccess, elapsed, out.Metrics)
	r.observe(ctx, event.TypeNodeComplete, r.nodeOpts(n, f,
		event.WithDuration(elapsed),
		event.WithUsage(usageOf(out.Metrics)))...)

	switch {
	case n.Type == workflow.TypeLoopStart:
		r.loopStarted(ctx, n, f, out)
	case n.Type == workflow.TypeLoopEnd && f != nil:
		r.loopEnded(ctx, n, f, out.Outputs)
	default:
		scope.SetOutputs(id, out.Outputs)
		r.nodes[id] = nodeDone
		r.route(ctx, id, out.Outputs)
	}
	return nil
}

// dispatch runs the node's dispatcher inside a span, applying the node
// timeout when one is configured.
func (r *run) dispatch(ctx context.Context, n *workflow.Node, req *dispatcher.Request,
	f *frame) (*dispatcher.Outcome, time.Duration) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.NodeSpanName(n.Type))
	defer span.End()
	itelemetry.TraceNode(span, r.executionID, n.ID, n.Type)

	log.Debugf("execution %s: dispatching node %s (%s)", r.executionID, n.ID, n.Type)
	r.observe(ctx, event.TypeNodeStart, r.nodeOpts(n, f)...)

	nodeCtx := dispatcher.WithNode(ctx, n.ID)
	timeout := nodeTimeout(n)
	if timeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(nodeCtx, timeout)
		defer cancel()
	}
	start := time.Now()
	out := r.registry.Dispatch(nodeCtx, req)
	elapsed := time.Since(start)
	if err := out.Validate(); err != nil {
		out = dispatcher.Fail(fmt.Errorf("dispatcher %s returned an invalid outcome: %w", n.Type, err))
	}
	if out.Status == dispatcher.StatusError && timeout > 0 && ctx.Err() == nil &&
		errors.Is(nodeCtx.Err(), context.DeadlineExceeded) {
		out.Timeout = true
	}
	itelemetry.TraceNodeResult(span, string(out.Status), out.Metrics.TotalTokens)
	return out, elapsed
}

func nodeTimeout(n *workflow.Node) time.Duration {
	var cfg nodeTimeoutConfig
	if err := workflow.DecodeConfig(n, &cfg); err != nil || cfg.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(cfg.TimeoutMs) * time.Millisecond
}

// failed applies the failure policy: required nodes stop the run, others are
// recorded and their branch is skipped.
func (r *run) failed(ctx context.Context, n *workflow.Node, out *dispatcher.Outcome,
	elapsed time.Duration) *outcome {
	r.record(n, NodeError, elapsed, out.Metrics)
	var err error
	if out.Timeout {
		err = &TimeoutError{Scope: ScopeNode, NodeID: n.ID, Timeout: nodeTimeout(n), Message: out.Message}
	} else {
		err = &NodeExecutionError{
			NodeID:         n.ID,
			NodeType:       n.Type,
			Message:        out.Message,
			NodesProcessed: r.processed,
			Err:            out.Error(),
		}
	}
	r.observe(ctx, event.TypeNodeError, r.nodeOpts(n, nil,
		event.WithDuration(elapsed),
		event.WithError(err))...)
	if n.IsRequired() {
		if out.Timeout {
			return &outcome{status: StatusTimeout, err: err}
		}
		return &outcome{status: StatusFailed, err: err}
	}
	log.Warnf("execution %s: optional node %s failed, skipping its branch: %s", r.executionID, n.ID, out.Message)
	r.nodeErrors[n.ID] = out.Message
	if n.Type == workflow.TypeLoopStart {
		delete(r.frames, n.ID)
	}
	r.deactivate(ctx, n.ID, nodeFailed)
	return nil
}

// scopeFor returns the scope of the innermost active loop containing id.
func (r *run) scopeFor(id string) *state.ExecutionContext {
	var (
		best  *frame
		depth = -1
	)
	for start, f := range r.frames {
		l, ok := r.g.Loop(start)
		if !ok || !l.Contains(id) {
			continue
		}
		if d := r.depth(f); d > depth {
			best, depth = f, d
		}
	}
	if best == nil {
		return r.root
	}
	return best.scope
}

func (r *run) depth(f *frame) int {
	d := 0
	for f.parent != "" {
		p, ok := r.frames[f.parent]
		if !ok {
			break
		}
		f = p
		d++
	}
	return d
}

// inputs collects the values delivered to id, keyed by target handle.
func (r *run) inputs(id string, scope *state.ExecutionContext) map[string]any {
	collected := make(map[string][]any)
	for _, e := range r.g.Incoming(id) {
		if r.edges[e.ID] != edgeDelivered {
			continue
		}
		v, ok := scope.Output(e.Source, e.SourceHandle)
		if !ok {
			continue
		}
		collected[e.TargetHandle] = append(collected[e.TargetHandle], v)
	}
	inputs := make(map[string]any, len(collected))
	for h, vs := range collected {
		if len(vs) == 1 {
			inputs[h] = vs[0]
			continue
		}
		inputs[h] = vs
	}
	return inputs
}

// route resolves the outgoing edges of a completed node and schedules the
// targets that became ready.
func (r *run) route(ctx context.Context, id string, outputs map[string]any) {
	out := r.g.Outgoing(id)
	for _, e := range out {
		if _, ok := outputs[e.SourceHandle]; ok {
			r.edges[e.ID] = edgeDelivered
		} else {
			r.edges[e.ID] = edgeSkipped
		}
	}
	r.consider(ctx, out)
}

func (r *run) consider(ctx context.Context, out []*workflow.Edge) {
	seen := make(map[string]bool, len(out))
	for _, e := range out {
		if seen[e.Target] {
			continue
		}
		seen[e.Target] = true
		r.settle(ctx, e.Target)
	}
}

// settle enqueues id once every incoming edge is resolved and one carried a
// value, or skips it when all were skipped.
func (r *run) settle(ctx context.Context, id string) {
	if _, resolved := r.nodes[id]; resolved || r.queued[id] {
		return
	}
	delivered := false
	for _, e := range r.g.Incoming(id) {
		switch r.edges[e.ID] {
		case edgeDelivered:
			delivered = true
		case edgeSkipped:
		default:
			return
		}
	}
	if delivered {
		r.enqueue(id)
		return
	}
	n, _ := r.g.Node(id)
	r.observe(ctx, event.TypeNodeSkip, r.nodeOpts(n, nil)...)
	r.record(n, NodeSkipped, 0, dispatcher.Metrics{})
	r.deactivate(ctx, id, nodeSkipped)
}

// deactivate marks a node that produced nothing and propagates the skip.
func (r *run) deactivate(ctx context.Context, id string, st nodeState) {
	r.nodes[id] = st
	n, _ := r.g.Node(id)
	if n.Type == workflow.TypeLoopEnd {
		if l, ok := r.g.LoopForEnd(id); ok {
			if f := r.frames[l.Start]; f != nil {
				f.completed = f.iteration + 1
				r.iterationDone(ctx, f)
				return
			}
		}
	}
	out := r.g.Outgoing(id)
	for _, e := range out {
		r.edges[e.ID] = edgeSkipped
	}
	r.consider(ctx, out)
}

func (r *run) openFrame(n *workflow.Node, scope *state.ExecutionContext) *frame {
	var cfg loopnode.StartConfig
	_ = workflow.DecodeConfig(n, &cfg)
	bound := cfg.MaxIterations
	if bound <= 0 {
		bound = r.g.Workflow().Config.MaxLoopIterations
	}
	if bound <= 0 {
		bound = r.maxLoop
	}
	if bound <= 0 {
		bound = DefaultMaxLoopIterations
	}
	f := &frame{start: n.ID, max: bound, scope: scope.Child()}
	// The enclosing frame, if any, owns the scope the loop-start runs in.
	for start, p := range r.frames {
		if p.scope == scope {
			f.parent = start
		}
	}
	r.frames[n.ID] = f
	return f
}

func (r *run) loopStarted(ctx context.Context, n *workflow.Node, f *frame, out *dispatcher.Outcome) {
	f.scope.Parent().SetOutputs(n.ID, out.Outputs)
	r.nodes[n.ID] = nodeDone
	ctl := out.Loop
	if ctl == nil {
		ctl = &dispatcher.LoopControl{Iteration: f.iteration}
	}
	if ctl.Empty || f.iteration >= f.max {
		f.completed = f.iteration
		r.closeLoop(ctx, f)
		return
	}
	f.shouldContinue = ctl.ShouldContinue
	f.scope.SetSystem(state.VarLoopIteration, f.iteration)
	f.scope.SetSystem(state.VarLoopItem, out.Outputs[loopnode.HandleItem])
	r.route(ctx, n.ID, out.Outputs)
}

func (r *run) loopEnded(ctx context.Context, n *workflow.Node, f *frame, outputs map[string]any) {
	if results, ok := outputs[dispatcher.LoopResultsHandle].([]any); ok {
		f.results = results
	} else {
		f.results = append(f.results, outputs[workflow.DefaultSourceHandle])
	}
	f.last = outputs[workflow.DefaultSourceHandle]
	f.completed = f.iteration + 1
	f.scope.SetOutputs(n.ID, outputs)
	r.nodes[n.ID] = nodeDone
	r.iterationDone(ctx, f)
}

// iterationDone either schedules the next iteration or closes the loop. The
// max bound wins over the dispatcher's continue flag.
func (r *run) iterationDone(ctx context.Context, f *frame) {
	if f.shouldContinue && f.iteration+1 < f.max {
		f.scope.MergeIntoParent()
		f.iteration++
		f.pendingReset = true
		r.enqueue(f.start)
		return
	}
	if f.shouldContinue {
		log.Warnf("execution %s: loop %s stopped at max iterations %d", r.executionID, f.start, f.max)
	}
	r.closeLoop(ctx, f)
}

// resetLoop clears the body so the next iteration starts fresh.
func (r *run) resetLoop(f *frame) {
	l, _ := r.g.Loop(f.start)
	for _, id := range l.Body {
		delete(r.nodes, id)
		delete(r.frames, id)
		r.dequeue(id)
	}
	delete(r.nodes, l.End)
	r.clearEdgesFrom(f.start, l.Body)
	f.scope = f.scope.Parent().Child()
	f.pendingReset = false
}

func (r *run) clearEdgesFrom(start string, body []string) {
	for _, e := range r.g.Outgoing(start) {
		delete(r.edges, e.ID)
	}
	for _, id := range body {
		for _, e := range r.g.Outgoing(id) {
			delete(r.edges, e.ID)
		}
	}
}

// closeLoop merges the loop scope into its parent and emits the collected
// results from the loop-end.
func (r *run) closeLoop(ctx context.Context, f *frame) {
	l, _ := r.g.Loop(f.start)
	for _, id := range l.Body {
		if _, resolved := r.nodes[id]; resolved {
			continue
		}
		r.dequeue(id)
		r.nodes[id] = nodeSkipped
		// Bodies that ran keep their last status.
		if n, ok := r.g.Node(id); ok && f.completed == 0 {
			r.observe(ctx, event.TypeNodeSkip, r.nodeOpts(n, nil)...)
			r.record(n, NodeSkipped, 0, dispatcher.Metrics{})
		}
	}
	for _, id := range append([]string{f.start}, l.Body...) {
		for _, e := range r.g.Outgoing(id) {
			if _, resolved := r.edges[e.ID]; !resolved {
				r.edges[e.ID] = edgeSkipped
			}
		}
	}
	f.scope.MergeIntoParent()
	parent := f.scope.Parent()
	outputs, _ := f.scope.Outputs(l.End)
	if outputs == nil {
		outputs = make(map[string]any)
	}
	outputs[dispatcher.LoopResultsHandle] = append([]any{}, f.results...)
	outputs[dispatcher.LoopIterationsHandle] = f.completed
	outputs[workflow.DefaultSourceHandle] = f.last
	parent.SetOutputs(l.End, outputs)
	delete(r.frames, f.start)
	r.dequeue(l.End)
	r.nodes[l.End] = nodeDone
	log.Debugf("execution %s: loop %s finished after %d iterations", r.executionID, f.start, f.completed)
	r.route(ctx, l.End, outputs)
}

// collect builds the run outputs from flagged output nodes, falling back to
// completed sink nodes.
func (r *run) collect() map[string]any {
	outputs := make(map[string]any)
	flagged := false
	for _, n := range r.g.Nodes() {
		if !n.IsOutput && n.Type != workflow.TypeOutput {
			continue
		}
		flagged = true
		r.mergeOutputs(outputs, n.ID)
	}
	if flagged {
		return outputs
	}
	for _, n := range r.g.Nodes() {
		if len(r.g.Outgoing(n.ID)) == 0 {
			r.mergeOutputs(outputs, n.ID)
		}
	}
	return outputs
}

func (r *run) mergeOutputs(dst map[string]any, id string) {
	if r.nodes[id] != nodeDone {
		return
	}
	o, ok := r.root.Outputs(id)
	if !ok {
		return
	}
	for k, v := range o {
		dst[k] = v
	}
}

func (r *run) record(n *workflow.Node, status string, elapsed time.Duration, m dispatcher.Metrics) {
	nm, ok := r.metrics[n.ID]
	if !ok {
		nm = &NodeMetrics{NodeID: n.ID, NodeType: n.Type}
		r.metrics[n.ID] = nm
	}
	nm.Status = status
	if status != NodeSkipped {
		nm.Runs++
	}
	nm.Duration += elapsed
	u := usageOf(m)
	nm.Usage.Add(u)
	r.usage.Add(u)
}

func usageOf(m dispatcher.Metrics) event.Usage {
	return event.Usage{
		PromptTokens:     m.PromptTokens,
		CompletionTokens: m.CompletionTokens,
		TotalTokens:      m.TotalTokens,
		Cost:             m.Cost,
	}
}

func (r *run) nodeOpts(n *workflow.Node, f *frame, opts ...event.Option) []event.Option {
	out := []event.Option{event.WithNode(n.ID, n.Type)}
	if f != nil {
		out = append(out, event.WithIteration(f.iteration))
	}
	return append(out, opts...)
}

func (r *run) observe(ctx context.Context, typ event.Type, opts ...event.Option) {
	r.observer.Observe(ctx, event.New(typ, r.executionID, r.workflowID, opts...))
}

// suspend checkpoints the run and persists the interaction.
func (r *run) suspend(ctx context.Context, n *workflow.Node, s *dispatcher.Suspension,
	elapsed time.Duration) *outcome {
	r.record(n, NodeSuspended, elapsed, dispatcher.Metrics{})
	raw, err := r.checkpoint(n.ID).encode()
	if err != nil {
		return &outcome{status: StatusFailed, err: fmt.Errorf("checkpoint execution %s: %w", r.executionID, err)}
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = r.ttl
	}
	now := r.now()
	st := &interaction.State{
		ID:             s.InteractionID,
		ExecutionID:    r.executionID,
		WorkflowID:     r.workflowID,
		NodeID:         n.ID,
		Prompt:         s.Prompt,
		Status:         interaction.StatusCreated,
		PartialOutputs: s.PartialOutputs,
		Context:        r.root.Snapshot(),
		Checkpoint:     raw,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := r.store.Save(ctx, st); err != nil {
		return &outcome{status: StatusFailed, err: fmt.Errorf("save interaction %s: %w", st.ID, err)}
	}
	r.observe(ctx, event.TypeNodeSuspend, r.nodeOpts(n, nil,
		event.WithDuration(elapsed),
		event.WithInteraction(st.ID))...)
	return &outcome{status: StatusSuspended, interaction: st}
}
