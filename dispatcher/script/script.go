//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package script implements the code node on top of sandbox evaluators.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/sandbox"
	"trpc.group/trpc-go/trpc-workflow-go/sandbox/lua"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Output handles.
const (
	HandleResult = "result"
	HandleLogs   = "logs"
)

// Config configures a code node.
type Config struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	// Timeout in milliseconds; sandbox.DefaultTimeout when zero.
	Timeout int `json:"timeout"`
	// Variables lists the user variables exposed to the script. All user
	// variables are exposed when empty. Inputs are always exposed under
	// "inputs".
	Variables []string `json:"variables"`
}

// Dispatcher implements the code node.
type Dispatcher struct {
	evaluators map[string]sandbox.Evaluator
	fallback   string
	timeout    time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEvaluator routes a language to ev.
func WithEvaluator(language string, ev sandbox.Evaluator) Option {
	return func(d *Dispatcher) { d.evaluators[strings.ToLower(language)] = ev }
}

// WithDefaultLanguage sets the language used when a node names none.
func WithDefaultLanguage(language string) Option {
	return func(d *Dispatcher) { d.fallback = strings.ToLower(language) }
}

// WithDefaultTimeout sets the timeout used when a node sets none.
func WithDefaultTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// New creates the code dispatcher. Lua is always available.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		evaluators: map[string]sandbox.Evaluator{lua.Language: lua.New()},
		fallback:   lua.Language,
		timeout:    sandbox.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Type implements dispatcher.Dispatcher.
func (*Dispatcher) Type() string { return workflow.TypeCode }

// Dispatch implements dispatcher.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	var cfg Config
	if err := workflow.DecodeConfig(req.Node, &cfg); err != nil {
		return dispatcher.Fail(err)
	}
	if strings.TrimSpace(cfg.Code) == "" {
		return dispatcher.Failf("code node %s has no code", req.Node.ID)
	}
	language := strings.ToLower(cfg.Language)
	if language == "" {
		language = d.fallback
	}
	ev, ok := d.evaluators[language]
	if !ok {
		return dispatcher.Failf("no sandbox for language %q", cfg.Language)
	}
	timeout := d.timeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Millisecond
	}

	res, err := ev.Evaluate(ctx, &sandbox.Script{
		Language:  language,
		Code:      cfg.Code,
		Variables: variables(req, cfg.Variables),
		Timeout:   timeout,
	})
	var logs []string
	if res != nil {
		logs = res.Logs
	}
	if err != nil {
		var te *sandbox.TimeoutError
		if errors.As(err, &te) {
			log.Debugf("code node %s timed out after %v", req.Node.ID, te.Timeout)
			return dispatcher.TimedOut(te.Error(), dispatcher.WithMetadata(HandleLogs, logs))
		}
		return dispatcher.Fail(fmt.Errorf("code execution failed: %w", err), dispatcher.WithMetadata(HandleLogs, logs))
	}

	outputs := map[string]any{
		HandleResult:                 res.Value,
		workflow.DefaultSourceHandle: res.Value,
		HandleLogs:                   logs,
	}
	// Object results also expose each field as a handle.
	if m, ok := res.Value.(map[string]any); ok {
		for k, v := range m {
			if _, taken := outputs[k]; !taken {
				outputs[k] = v
			}
		}
	}
	return dispatcher.Success(outputs, dispatcher.WithMetadata(HandleLogs, logs))
}

func variables(req *dispatcher.Request, allow []string) map[string]any {
	out := make(map[string]any)
	if req.Scope != nil {
		all := req.Scope.Vars()
		if len(allow) == 0 {
			for k, v := range all {
				out[k] = v
			}
		} else {
			for _, k := range allow {
				if v, ok := all[k]; ok {
					out[k] = v
				}
			}
		}
	}
	in := make(map[string]any, len(req.Inputs))
	for k, v := range req.Inputs {
		in[k] = v
	}
	out["inputs"] = in
	return out
}
