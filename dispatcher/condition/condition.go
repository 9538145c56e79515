//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package condition implements the if-else node. The node emits its payload
// on the "then" and "true" handles when the condition holds, and on "else"
// and "false" otherwise. Edges on the handle not emitted are skipped by the
// executor, which is how branches are gated.
package condition

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/internal/expression"
	"trpc.group/trpc-go/trpc-workflow-go/internal/interpolate"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Branch handles.
const (
	HandleThen  = "then"
	HandleElse  = "else"
	HandleTrue  = "true"
	HandleFalse = "false"
)

// Logic values for combining structured conditions.
const (
	LogicAnd = "and"
	LogicOr  = "or"
)

// Operators for structured conditions.
const (
	OpEquals         = "equals"
	OpNotEquals      = "notEquals"
	OpContains       = "contains"
	OpNotContains    = "notContains"
	OpStartsWith     = "startsWith"
	OpEndsWith       = "endsWith"
	OpGreaterThan    = "greaterThan"
	OpGreaterOrEqual = "greaterOrEqual"
	OpLessThan       = "lessThan"
	OpLessOrEqual    = "lessOrEqual"
	OpIsEmpty        = "isEmpty"
	OpIsNotEmpty     = "isNotEmpty"
	OpMatches        = "matches"
)

// Comparison is one structured condition. Left and Right may hold
// {{path}} placeholders.
type Comparison struct {
	Left     any    `json:"left"`
	Operator string `json:"operator"`
	Right    any    `json:"right"`
}

// Config configures an if-else node. Expression takes precedence over
// Conditions.
type Config struct {
	// Expression is an expr-lang expression evaluated against the node's
	// lookup document (user variables, inputs, nodes.<id>.<handle>).
	Expression string       `json:"expression"`
	Conditions []Comparison `json:"conditions"`
	Logic      string       `json:"logic"`
}

// Dispatcher implements the if-else node.
type Dispatcher struct{}

// New creates the if-else dispatcher.
func New() *Dispatcher { return &Dispatcher{} }

// Type implements dispatcher.Dispatcher.
func (*Dispatcher) Type() string { return workflow.TypeCondition }

// Dispatch implements dispatcher.Dispatcher.
func (*Dispatcher) Dispatch(_ context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	var cfg Config
	if err := workflow.DecodeConfig(req.Node, &cfg); err != nil {
		return dispatcher.Fail(err)
	}
	doc := req.Document()
	var (
		ok  bool
		err error
	)
	switch {
	case strings.TrimSpace(cfg.Expression) != "":
		ok, err = expression.EvalBool(cfg.Expression, doc)
	case len(cfg.Conditions) > 0:
		ok, err = evaluate(cfg.Conditions, cfg.Logic, interpolate.NewDocument(doc))
	default:
		return dispatcher.Failf("if-else node %s has neither expression nor conditions", req.Node.ID)
	}
	if err != nil {
		return dispatcher.Fail(err)
	}
	return dispatcher.Success(Branch(ok, payload(req)), dispatcher.WithMetadata("result", ok))
}

// Branch builds the outputs selecting the branch for result.
func Branch(result bool, payload any) map[string]any {
	if result {
		return map[string]any{HandleThen: payload, HandleTrue: payload}
	}
	return map[string]any{HandleElse: payload, HandleFalse: payload}
}

func payload(req *dispatcher.Request) any {
	if v, ok := req.PrimaryInput(); ok {
		return v
	}
	if len(req.Inputs) == 0 {
		return true
	}
	cp := make(map[string]any, len(req.Inputs))
	for k, v := range req.Inputs {
		cp[k] = v
	}
	return cp
}

func evaluate(conds []Comparison, logic string, doc *interpolate.Document) (bool, error) {
	switch logic {
	case "", LogicAnd, LogicOr:
	default:
		return false, fmt.Errorf("unknown logic %q", logic)
	}
	for i, c := range conds {
		ok, err := compare(doc.Resolve(c.Left), c.Operator, doc.Resolve(c.Right))
		if err != nil {
			return false, fmt.Errorf("condition %d: %w", i, err)
		}
		if logic == LogicOr && ok {
			return true, nil
		}
		if logic != LogicOr && !ok {
			return false, nil
		}
	}
	return logic != LogicOr, nil
}

func compare(left any, op string, right any) (bool, error) {
	switch op {
	case OpEquals:
		return equal(left, right), nil
	case OpNotEquals:
		return !equal(left, right), nil
	case OpContains:
		return contains(left, right), nil
	case OpNotContains:
		return !contains(left, right), nil
	case OpStartsWith:
		return strings.HasPrefix(text(left), text(right)), nil
	case OpEndsWith:
		return strings.HasSuffix(text(left), text(right)), nil
	case OpIsEmpty:
		return empty(left), nil
	case OpIsNotEmpty:
		return !empty(left), nil
	case OpMatches:
		re, err := regexp.Compile(text(right))
		if err != nil {
			return false, fmt.Errorf("invalid pattern: %w", err)
		}
		return re.MatchString(text(left)), nil
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual:
		l, lok := number(left)
		r, rok := number(right)
		if !lok || !rok {
			return false, fmt.Errorf("operator %s needs numbers, got %v and %v", op, left, right)
		}
		switch op {
		case OpGreaterThan:
			return l > r, nil
		case OpGreaterOrEqual:
			return l >= r, nil
		case OpLessThan:
			return l < r, nil
		default:
			return l <= r, nil
		}
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func equal(a, b any) bool {
	if an, ok := number(a); ok {
		if bn, ok := number(b); ok {
			return an == bn
		}
	}
	return text(a) == text(b)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, v := range h {
			if equal(v, needle) {
				return true
			}
		}
		return false
	case map[string]any:
		_, ok := h[text(needle)]
		return ok
	default:
		return strings.Contains(text(haystack), text(needle))
	}
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
