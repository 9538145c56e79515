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
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/interaction"
	"trpc.group/trpc-go/trpc-workflow-go/state"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// checkpoint is the executor frontier stored with a suspended interaction.
// The root scope travels separately in interaction.State.Context.
type checkpoint struct {
	Workflow       *workflow.Workflow      `json:"workflow"`
	PausedNode     string                  `json:"pausedNode"`
	Queue          []string                `json:"queue,omitempty"`
	Nodes          map[string]nodeState    `json:"nodes,omitempty"`
	Edges          map[string]edgeState    `json:"edges,omitempty"`
	Frames         []frameCheckpoint       `json:"frames,omitempty"`
	NodesProcessed int                     `json:"nodesProcessed"`
	Metrics        map[string]*NodeMetrics `json:"metrics,omitempty"`
	NodeErrors     map[string]string       `json:"nodeErrors,omitempty"`
	Usage          event.Usage             `json:"usage"`
	StartedAt      time.Time               `json:"startedAt"`
}

type frameCheckpoint struct {
	Start          string         `json:"start"`
	Parent         string         `json:"parent,omitempty"`
	Iteration      int            `json:"iteration"`
	Completed      int            `json:"completed"`
	Max            int            `json:"max"`
	Results        []any          `json:"results,omitempty"`
	Last           any            `json:"last,omitempty"`
	ShouldContinue bool           `json:"shouldContinue"`
	PendingReset   bool           `json:"pendingReset"`
	Scope          state.Snapshot `json:"scope"`
}

func (c *checkpoint) encode() ([]byte, error) {
	return json.Marshal(c)
}

func decodeCheckpoint(st *interaction.State) (*checkpoint, error) {
	if len(st.Checkpoint) == 0 {
		return nil, fmt.Errorf("%w: interaction %s has no checkpoint", ErrInvalidCheckpoint, st.ID)
	}
	var c checkpoint
	if err := json.Unmarshal(st.Checkpoint, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}
	if c.Workflow == nil {
		return nil, fmt.Errorf("%w: interaction %s has no workflow", ErrInvalidCheckpoint, st.ID)
	}
	return &c, nil
}

// checkpoint captures everything needed to continue after paused.
func (r *run) checkpoint(paused string) *checkpoint {
	c := &checkpoint{
		Workflow:       r.g.Workflow(),
		PausedNode:     paused,
		Queue:          append([]string(nil), r.queue...),
		Nodes:          r.nodes,
		Edges:          r.edges,
		NodesProcessed: r.processed,
		Metrics:        r.metrics,
		NodeErrors:     r.nodeErrors,
		Usage:          r.usage,
		StartedAt:      r.startedAt,
	}
	frames := make([]*frame, 0, len(r.frames))
	for _, f := range r.frames {
		frames = append(frames, f)
	}
	// Parents are restored before their children.
	sort.SliceStable(frames, func(i, j int) bool {
		di, dj := r.depth(frames[i]), r.depth(frames[j])
		if di != dj {
			return di < dj
		}
		return frames[i].start < frames[j].start
	})
	for _, f := range frames {
		c.Frames = append(c.Frames, frameCheckpoint{
			Start:          f.start,
			Parent:         f.parent,
			Iteration:      f.iteration,
			Completed:      f.completed,
			Max:            f.max,
			Results:        f.results,
			Last:           f.last,
			ShouldContinue: f.shouldContinue,
			PendingReset:   f.pendingReset,
			Scope:          f.scope.Snapshot(),
		})
	}
	return c
}

// restore rebuilds a run from a suspended interaction. The paused node is
// placed first in the worklist.
func restore(st *interaction.State, c *checkpoint) (*run, error) {
	g, err := workflow.Compile(c.Workflow)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}
	if _, ok := g.Node(c.PausedNode); !ok {
		return nil, fmt.Errorf("%w: paused node %s not in workflow", ErrInvalidCheckpoint, c.PausedNode)
	}
	r := newRun(g, st.ExecutionID, state.Restore(st.Context, nil))
	r.startedAt = c.StartedAt
	r.processed = c.NodesProcessed
	r.usage = c.Usage
	for k, v := range c.Nodes {
		r.nodes[k] = v
	}
	for k, v := range c.Edges {
		r.edges[k] = v
	}
	for k, v := range c.Metrics {
		r.metrics[k] = v
	}
	for k, v := range c.NodeErrors {
		r.nodeErrors[k] = v
	}
	for _, fc := range c.Frames {
		parent := r.root
		if fc.Parent != "" {
			p, ok := r.frames[fc.Parent]
			if !ok {
				return nil, fmt.Errorf("%w: loop %s restored before its parent %s",
					ErrInvalidCheckpoint, fc.Start, fc.Parent)
			}
			parent = p.scope
		}
		r.frames[fc.Start] = &frame{
			start:          fc.Start,
			parent:         fc.Parent,
			iteration:      fc.Iteration,
			completed:      fc.Completed,
			max:            fc.Max,
			results:        fc.Results,
			last:           fc.Last,
			shouldContinue: fc.ShouldContinue,
			pendingReset:   fc.PendingReset,
			scope:          state.Restore(fc.Scope, parent),
		}
	}
	r.enqueue(c.PausedNode)
	for _, id := range c.Queue {
		r.enqueue(id)
	}
	return r, nil
}
