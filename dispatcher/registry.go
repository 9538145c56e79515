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
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"trpc.group/trpc-go/trpc-workflow-go/log"
)

var (
	// ErrDispatcherNotFound is matched by NotFoundError.
	ErrDispatcherNotFound = errors.New("dispatcher not found")
	// ErrDuplicateType is returned when a type is registered twice.
	ErrDuplicateType = errors.New("dispatcher already registered")
)

// NotFoundError reports a node type with no registered dispatcher.
type NotFoundError struct {
	Type string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dispatcher not found for node type %q", e.Type)
}

// Unwrap lets errors.Is match ErrDispatcherNotFound.
func (e *NotFoundError) Unwrap() error { return ErrDispatcherNotFound }

// Registry maps node types to dispatchers. Lookups are exact string
// matches and safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	dispatchers map[string]Dispatcher
}

// NewRegistry creates a registry, optionally pre-populated.
func NewRegistry(ds ...Dispatcher) (*Registry, error) {
	r := &Registry{dispatchers: make(map[string]Dispatcher)}
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds d under d.Type().
func (r *Registry) Register(d Dispatcher) error {
	if d == nil || d.Type() == "" {
		return errors.New("dispatcher must have a non-empty type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.dispatchers[d.Type()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, d.Type())
	}
	r.dispatchers[d.Type()] = d
	return nil
}

// MustRegister is Register that panics on error, for init-time wiring.
func (r *Registry) MustRegister(ds ...Dispatcher) {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Get returns the dispatcher for typ.
func (r *Registry) Get(typ string) (Dispatcher, bool) {
	r.mu.RLock()
	d, ok := r.dispatchers[typ]
	r.mu.RUnlock()
	return d, ok
}

// Has reports whether typ is registered.
func (r *Registry) Has(typ string) bool {
	_, ok := r.Get(typ)
	return ok
}

// Types returns the registered types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.dispatchers))
	for t := range r.dispatchers {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Dispatch routes req to the dispatcher for req.Node.Type. An unknown type
// or a panicking dispatcher yields an error outcome.
func (r *Registry) Dispatch(ctx context.Context, req *Request) (out *Outcome) {
	d, ok := r.Get(req.Node.Type)
	if !ok {
		return Fail(&NotFoundError{Type: req.Node.Type})
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("dispatcher %s panicked on node %s: %v\n%s", req.Node.Type, req.Node.ID, rec, debug.Stack())
			out = Failf("dispatcher %s panicked: %v", req.Node.Type, rec)
		}
	}()
	out = d.Dispatch(ctx, req)
	if out == nil {
		return Failf("dispatcher %s returned no outcome", req.Node.Type)
	}
	return out
}
