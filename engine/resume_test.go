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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/interaction"
	"trpc.group/trpc-go/trpc-workflow-go/interaction/inmemory"
	"trpc.group/trpc-go/trpc-workflow-go/stream"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

func askWorkflow(cfg map[string]any) *workflow.Workflow {
	return &workflow.Workflow{
		ID: "wf-ask",
		Nodes: []workflow.Node{
			entry("in", workflow.TypeInput, nil),
			node("ask", workflow.TypeInteractive, cfg),
			node("out", workflow.TypeOutput, nil),
		},
		Edges: []workflow.Edge{
			edge("in", "name", "ask", "input"),
			edge("ask", "response", "out", "answer"),
		},
	}
}

func TestSuspendAndResume(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	rec := &recorder{}

	res, err := e.DispatchWorkflow(ctx, askWorkflow(map[string]any{"message": "Hello {{name}}, what now?"}),
		map[string]any{"name": "Ada"}, WithRunObserver(rec))
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, res.Status)
	require.NotNil(t, res.Interaction)
	assert.Equal(t, "Hello Ada, what now?", res.Interaction.Prompt.Message)
	assert.Equal(t, "ask", res.Interaction.NodeID)
	assert.Equal(t, res.ExecutionID, res.Interaction.ExecutionID)
	assert.Equal(t, map[string]any{"input": "Ada"}, res.Interaction.PartialOutputs)
	assert.Equal(t, 2, res.NodesProcessed)
	assert.Nil(t, res.Outputs)
	assert.Equal(t, 1, rec.count(event.TypeRunSuspend))
	assert.Equal(t, []string{"ask"}, rec.nodes(event.TypeNodeSuspend))

	id := res.Interaction.ID
	stored, err := e.Interaction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, interaction.StatusCreated, stored.Status)
	listed, err := e.Interactions(ctx, res.ExecutionID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, id, listed[0].ID)

	resumed, err := e.ResumeInteraction(ctx, id, "forty-two", WithRunObserver(rec))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.Equal(t, map[string]any{"answer": "forty-two"}, resumed.Outputs)
	assert.Equal(t, res.ExecutionID, resumed.ExecutionID)
	assert.Equal(t, 4, resumed.NodesProcessed)
	assert.Equal(t, 2, resumed.NodeMetrics["ask"].Runs)
	assert.Equal(t, 1, rec.count(event.TypeRunResume))

	stored, err = e.Interaction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, interaction.StatusProcessed, stored.Status)
	assert.Equal(t, "forty-two", stored.Response)

	again, err := e.ResumeInteraction(ctx, id, "again")
	assert.ErrorIs(t, err, interaction.ErrAlreadyProcessed)
	assert.Nil(t, again)

	_, err = e.ResumeInteraction(ctx, "missing", "x")
	assert.ErrorIs(t, err, interaction.ErrNotFound)
}

func TestResume_SystemVariablesVisibleOnlyToPausedNode(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string]any{}
	)
	probe := dispatcher.NewFunc("probe", func(_ context.Context, req *dispatcher.Request) *dispatcher.Outcome {
		mu.Lock()
		defer mu.Unlock()
		if req.Resuming() {
			v, _ := req.Scope.System("__resuming_from_interaction")
			seen["paused"] = v
			r, _ := req.Scope.System("__interaction_response")
			seen["response"] = r
			return dispatcher.Success(map[string]any{"output": req.Resume.Response})
		}
		if req.Node.ID == "after" {
			_, ok := req.Scope.System("__resuming_from_interaction")
			seen["after"] = ok
			return dispatcher.Success(nil)
		}
		return dispatcher.Suspend(&dispatcher.Suspension{
			InteractionID: "probe-1",
			Prompt:        interaction.Prompt{Kind: interaction.KindText},
		})
	})
	e := newEngine(t, []dispatcher.Dispatcher{probe})
	wf := &workflow.Workflow{
		ID: "wf-probe",
		Nodes: []workflow.Node{
			entry("pause", "probe", nil),
			node("after", "probe", nil),
		},
		Edges: []workflow.Edge{edge("pause", "output", "after", "input")},
	}
	res, err := e.DispatchWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)
	require.Equal(t, "probe-1", res.Interaction.ID)

	_, err = e.ResumeInteraction(context.Background(), "probe-1", "ok")
	require.NoError(t, err)
	assert.Equal(t, true, seen["paused"])
	assert.Equal(t, "ok", seen["response"])
	assert.Equal(t, false, seen["after"])
}

func TestResume_SuspendingAgainFails(t *testing.T) {
	stubborn := dispatcher.NewFunc("stubborn", func(_ context.Context, req *dispatcher.Request) *dispatcher.Outcome {
		return dispatcher.Suspend(&dispatcher.Suspension{
			InteractionID: "stubborn-" + req.ExecutionID,
			Prompt:        interaction.Prompt{Kind: interaction.KindText},
		})
	})
	e := newEngine(t, []dispatcher.Dispatcher{stubborn})
	wf := &workflow.Workflow{ID: "wf", Nodes: []workflow.Node{entry("s", "stubborn", nil)}}
	res, err := e.DispatchWorkflow(context.Background(), wf, nil, WithExecutionID("x1"))
	require.NoError(t, err)

	res, err = e.ResumeInteraction(context.Background(), res.Interaction.ID, "hi")
	var nerr *NodeExecutionError
	require.ErrorAs(t, err, &nerr)
	assert.True(t, errors.Is(err, ErrResumedSuspension))
	assert.Equal(t, StatusFailed, res.Status)
}

func TestResume_Expired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := inmemory.NewStore()
	e := newEngine(t, nil, WithStore(store), WithClock(clock), WithInteractionTTL(time.Minute))
	ctx := context.Background()

	res, err := e.DispatchWorkflow(ctx, askWorkflow(nil), map[string]any{"name": "Ada"})
	require.NoError(t, err)
	id := res.Interaction.ID
	assert.Equal(t, now.Add(time.Minute), res.Interaction.ExpiresAt)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	_, err = e.ResumeInteraction(ctx, id, "late")
	assert.ErrorIs(t, err, interaction.ErrExpired)
	_, err = e.Interaction(ctx, id)
	assert.ErrorIs(t, err, interaction.ErrNotFound)
}

func TestResume_NodeTTLOverridesEngine(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	e := newEngine(t, nil, WithClock(func() time.Time { return now }))
	res, err := e.DispatchWorkflow(context.Background(), askWorkflow(map[string]any{"ttlSeconds": 30}),
		map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Second), res.Interaction.ExpiresAt)
}

func TestResume_InvalidResponseKeepsInteractionOpen(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	cfg := map[string]any{
		"kind":    "select",
		"options": []any{map[string]any{"label": "Yes", "value": "y"}, map[string]any{"label": "No", "value": "n"}},
	}
	res, err := e.DispatchWorkflow(ctx, askWorkflow(cfg), map[string]any{"name": "Ada"})
	require.NoError(t, err)
	id := res.Interaction.ID

	_, err = e.ResumeInteraction(ctx, id, "maybe")
	assert.ErrorIs(t, err, interaction.ErrInvalidResponse)
	stored, err := e.Interaction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, interaction.StatusCreated, stored.Status)

	done, err := e.ResumeInteraction(ctx, id, "y")
	require.NoError(t, err)
	assert.Equal(t, "y", done.Outputs["answer"])
}

func TestResume_InsideLoop(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	wf := &workflow.Workflow{
		ID: "wf-loop-ask",
		Nodes: []workflow.Node{
			entry("in", workflow.TypeInput, nil),
			node("each", workflow.TypeLoopStart, nil),
			node("ask", workflow.TypeInteractive, map[string]any{"message": "about {{__loop_item}}?"}),
			node("collect", workflow.TypeLoopEnd, nil),
			node("out", workflow.TypeOutput, nil),
		},
		Edges: []workflow.Edge{
			edge("in", "items", "each", "input"),
			edge("each", "output", "ask", "input"),
			edge("ask", "response", "collect", "input"),
			edge("collect", "results", "out", "results"),
		},
	}
	res, err := e.DispatchWorkflow(ctx, wf, map[string]any{"items": []any{"a", "b", "c"}})
	require.NoError(t, err)

	var prompts []string
	for i := 0; res.Status == StatusSuspended; i++ {
		require.Less(t, i, 3)
		prompts = append(prompts, res.Interaction.Prompt.Message)
		res, err = e.ResumeInteraction(ctx, res.Interaction.ID, "r"+res.Interaction.Prompt.Message[6:7])
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"about a?", "about b?", "about c?"}, prompts)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []any{"ra", "rb", "rc"}, res.Outputs["results"])

	listed, err := e.Interactions(ctx, res.ExecutionID)
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestResumeInteractionStreaming(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	res, err := e.DispatchWorkflow(ctx, askWorkflow(nil), map[string]any{"name": "Ada"})
	require.NoError(t, err)

	var finals []stream.Chunk
	done, err := e.ResumeInteractionStreaming(ctx, res.Interaction.ID, "yes", func(c stream.Chunk, last bool) {
		if last {
			finals = append(finals, c)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.Len(t, finals, 1)
	assert.Equal(t, res.ExecutionID, finals[0].ExecutionID)
}

func TestSweeperRemovesExpiredInteractions(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	e := newEngine(t, nil, WithClock(clock), WithInteractionTTL(time.Minute),
		WithSweepInterval(10*time.Millisecond))
	ctx := context.Background()
	res, err := e.DispatchWorkflow(ctx, askWorkflow(nil), map[string]any{"name": "Ada"})
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()
	e.Start(ctx)
	assert.Eventually(t, func() bool {
		_, err := e.Interaction(ctx, res.Interaction.ID)
		return errors.Is(err, interaction.ErrNotFound)
	}, time.Second, 10*time.Millisecond)
}

func TestResume_ClosedEngineKeepsInteractionOpen(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	first := newEngine(t, nil, WithStore(store))
	res, err := first.DispatchWorkflow(ctx, askWorkflow(nil), map[string]any{"name": "Ada"})
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, res.Status)
	id := res.Interaction.ID

	first.Close()
	rejected, err := first.ResumeInteraction(ctx, id, "late")
	require.ErrorIs(t, err, ErrEngineClosed)
	assert.Nil(t, rejected)
	stored, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, interaction.StatusCreated, stored.Status)

	second := newEngine(t, nil, WithStore(store))
	done, err := second.ResumeInteraction(ctx, id, "on time")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, map[string]any{"answer": "on time"}, done.Outputs)
}

func TestResume_RunningExecutionKeepsInteractionOpen(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	block := dispatcher.NewFunc("block", func(context.Context, *dispatcher.Request) *dispatcher.Outcome {
		close(started)
		<-release
		return dispatcher.Success(map[string]any{"output": "done"})
	})
	e := newEngine(t, []dispatcher.Dispatcher{block})
	ctx := context.Background()
	res, err := e.DispatchWorkflow(ctx, askWorkflow(nil), map[string]any{"name": "Ada"},
		WithExecutionID("exec-busy"))
	require.NoError(t, err)
	id := res.Interaction.ID

	busy := &workflow.Workflow{ID: "wf-busy", Nodes: []workflow.Node{entry("hold", "block", nil)}}
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_, _ = e.DispatchWorkflow(ctx, busy, nil, WithExecutionID("exec-busy"))
	}()
	<-started

	_, err = e.ResumeInteraction(ctx, id, "now")
	require.ErrorIs(t, err, ErrExecutionRunning)
	stored, err := e.Interaction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, interaction.StatusCreated, stored.Status)

	close(release)
	<-finished
	done, err := e.ResumeInteraction(ctx, id, "later")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"answer": "later"}, done.Outputs)
}

func TestCloseWaitsForInFlightRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	block := dispatcher.NewFunc("block", func(context.Context, *dispatcher.Request) *dispatcher.Outcome {
		close(started)
		<-release
		return dispatcher.Success(map[string]any{"output": "done"})
	})
	e := newEngine(t, []dispatcher.Dispatcher{block})
	wf := &workflow.Workflow{ID: "wf-hold", Nodes: []workflow.Node{entry("hold", "block", nil)}}

	runDone := make(chan *Result, 1)
	go func() {
		res, _ := e.DispatchWorkflow(context.Background(), wf, nil)
		runDone <- res
	}()
	<-started

	closed := make(chan struct{})
	go func() {
		e.Close()
		close(closed)
	}()
	quick := &workflow.Workflow{ID: "wf-quick", Nodes: []workflow.Node{entry("a", workflow.TypePassthrough, nil)}}
	require.Eventually(t, func() bool {
		_, err := e.DispatchWorkflow(context.Background(), quick, nil)
		return errors.Is(err, ErrEngineClosed)
	}, time.Second, 5*time.Millisecond)
	select {
	case <-closed:
		t.Fatal("Close returned while a run was in flight")
	default:
	}

	close(release)
	assert.Equal(t, StatusCompleted, (<-runDone).Status)
	<-closed
}
