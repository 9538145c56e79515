//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package loop implements the loop-start and loop-end nodes.
//
// Iteration state belongs to the engine: both dispatchers only read
// Request.Loop and report what the current iteration should do.
package loop

import (
	"context"
	"fmt"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/internal/expression"
	"trpc.group/trpc-go/trpc-workflow-go/internal/interpolate"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Loop modes.
const (
	ModeForEach = "forEach"
	ModeWhile   = "while"
	ModeCount   = "count"
)

// Output handles of loop-start.
const (
	HandleItem  = "item"
	HandleIndex = "index"
	HandleTotal = "total"
)

// StartConfig configures a loop-start node.
type StartConfig struct {
	// Mode is inferred from the other fields when empty.
	Mode string `json:"mode"`
	// Items is the list iterated by forEach: a list or a {{path}} placeholder.
	// The primary input is used when unset.
	Items any `json:"items"`
	// Condition is an expr-lang expression checked before every while
	// iteration. It sees "iteration" and "results" besides the usual
	// lookup document.
	Condition string `json:"condition"`
	Count     int    `json:"count"`
	// MaxIterations bounds the loop; read by the engine.
	MaxIterations int `json:"maxIterations"`
}

func (c *StartConfig) mode() string {
	switch {
	case c.Mode != "":
		return c.Mode
	case c.Condition != "":
		return ModeWhile
	case c.Count > 0:
		return ModeCount
	default:
		return ModeForEach
	}
}

// Start implements loop-start.
type Start struct{}

// NewStart creates the loop-start dispatcher.
func NewStart() *Start { return &Start{} }

// Type implements dispatcher.Dispatcher.
func (*Start) Type() string { return workflow.TypeLoopStart }

// Dispatch implements dispatcher.Dispatcher.
func (*Start) Dispatch(_ context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	var cfg StartConfig
	if err := workflow.DecodeConfig(req.Node, &cfg); err != nil {
		return dispatcher.Fail(err)
	}
	st := req.Loop
	if st == nil {
		st = &dispatcher.LoopState{}
	}
	i := st.Iteration

	switch cfg.mode() {
	case ModeForEach:
		items, err := forEachItems(req, cfg.Items)
		if err != nil {
			return dispatcher.Fail(err)
		}
		if i >= len(items) {
			return empty(i, len(items))
		}
		return iteration(i, items[i], len(items), i+1 < len(items))
	case ModeCount:
		if i >= cfg.Count {
			return empty(i, cfg.Count)
		}
		return iteration(i, i, cfg.Count, i+1 < cfg.Count)
	case ModeWhile:
		env := req.Document()
		env["iteration"] = i
		env["results"] = st.Results
		ok, err := expression.EvalBool(cfg.Condition, env)
		if err != nil {
			return dispatcher.Fail(err)
		}
		if !ok {
			return empty(i, -1)
		}
		return iteration(i, i, -1, true)
	default:
		return dispatcher.Failf("unknown loop mode %q", cfg.Mode)
	}
}

func iteration(i int, item any, total int, more bool) *dispatcher.Outcome {
	outputs := map[string]any{
		HandleItem:                   item,
		HandleIndex:                  i,
		workflow.DefaultSourceHandle: item,
	}
	if total >= 0 {
		outputs[HandleTotal] = total
	}
	return dispatcher.Success(outputs, dispatcher.WithLoop(&dispatcher.LoopControl{
		Iteration:      i,
		ShouldContinue: more,
	}))
}

func empty(i, total int) *dispatcher.Outcome {
	outputs := map[string]any{}
	if total >= 0 {
		outputs[HandleTotal] = total
	}
	return dispatcher.Success(outputs, dispatcher.WithLoop(&dispatcher.LoopControl{
		Iteration: i,
		Empty:     true,
	}))
}

func forEachItems(req *dispatcher.Request, items any) ([]any, error) {
	v := items
	if v == nil {
		in, ok := req.PrimaryInput()
		if !ok {
			return nil, fmt.Errorf("forEach loop %s has no items", req.Node.ID)
		}
		v = in
	} else {
		v = interpolate.NewDocument(req.Document()).Resolve(v)
	}
	switch t := v.(type) {
	case []any:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case map[string]any:
		// A single object iterates once.
		return []any{t}, nil
	case nil:
		return []any{}, nil
	case string:
		// Unresolved placeholders render as "".
		if t == "" {
			return []any{}, nil
		}
		return nil, fmt.Errorf("forEach items must be a list, got string")
	default:
		return nil, fmt.Errorf("forEach items must be a list, got %T", v)
	}
}

// EndConfig configures a loop-end node.
type EndConfig struct {
	// LoopStart pairs this node with a loop-start explicitly.
	LoopStart string `json:"loopStart"`
	// Value is a template for the value collected each iteration; the
	// primary input is collected when unset.
	Value any `json:"value"`
}

// End implements loop-end. It appends this iteration's value to the results
// collected so far.
type End struct{}

// NewEnd creates the loop-end dispatcher.
func NewEnd() *End { return &End{} }

// Type implements dispatcher.Dispatcher.
func (*End) Type() string { return workflow.TypeLoopEnd }

// Dispatch implements dispatcher.Dispatcher.
func (*End) Dispatch(_ context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	var cfg EndConfig
	if err := workflow.DecodeConfig(req.Node, &cfg); err != nil {
		return dispatcher.Fail(err)
	}
	var value any
	if cfg.Value != nil {
		value = interpolate.NewDocument(req.Document()).Resolve(cfg.Value)
	} else if v, ok := req.PrimaryInput(); ok {
		value = v
	} else if len(req.Inputs) > 0 {
		cp := make(map[string]any, len(req.Inputs))
		for k, v := range req.Inputs {
			cp[k] = v
		}
		value = cp
	}
	var prior []any
	iter := 0
	if req.Loop != nil {
		prior = req.Loop.Results
		iter = req.Loop.Iteration
	}
	results := make([]any, 0, len(prior)+1)
	results = append(results, prior...)
	results = append(results, value)
	return dispatcher.Success(map[string]any{
		dispatcher.LoopResultsHandle:    results,
		dispatcher.LoopIterationsHandle: iter + 1,
		workflow.DefaultSourceHandle:    value,
	})
}
