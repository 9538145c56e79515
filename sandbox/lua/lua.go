//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package lua evaluates Lua scripts with gopher-lua.
//
// Each run gets a fresh interpreter with only the base, table, string and
// math libraries. File loading, module loading and the io/os libraries are
// absent. Variables are exposed as the global table "vars"; print writes to
// the captured log.
package lua

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"trpc.group/trpc-go/trpc-workflow-go/sandbox"
)

// Language is the Script.Language handled by this evaluator.
const Language = "lua"

// removed from the base library.
var unsafeGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module", "collectgarbage"}

// Evaluator runs Lua scripts.
type Evaluator struct {
	callStackSize   int
	registrySize    int
	registryMaxSize int
	maxLogLines     int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCallStackSize bounds recursion depth.
func WithCallStackSize(n int) Option {
	return func(e *Evaluator) { e.callStackSize = n }
}

// WithRegistryLimit bounds the interpreter's value registry, which caps how
// much data a script can hold on its stack.
func WithRegistryLimit(initial, max int) Option {
	return func(e *Evaluator) {
		e.registrySize = initial
		e.registryMaxSize = max
	}
}

// WithMaxLogLines caps captured print output.
func WithMaxLogLines(n int) Option {
	return func(e *Evaluator) { e.maxLogLines = n }
}

// New creates an evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		callStackSize:   200,
		registrySize:    1024,
		registryMaxSize: 1024 * 256,
		maxLogLines:     1000,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate implements sandbox.Evaluator.
func (e *Evaluator) Evaluate(ctx context.Context, s *sandbox.Script) (*sandbox.Result, error) {
	if s.Language != "" && !strings.EqualFold(s.Language, Language) {
		return &sandbox.Result{}, fmt.Errorf("unsupported language %q", s.Language)
	}
	timeout := s.EffectiveTimeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       e.callStackSize,
		RegistrySize:        e.registrySize,
		RegistryMaxSize:     e.registryMaxSize,
		IncludeGoStackTrace: false,
	})
	defer L.Close()
	openSafeLibs(L)

	logs := &logBuffer{max: e.maxLogLines}
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		logs.add(strings.Join(parts, "\t"))
		return 0
	}))
	L.SetGlobal("vars", toLua(L, s.Variables))
	L.SetContext(runCtx)

	fn, err := L.LoadString(s.Code)
	if err != nil {
		return &sandbox.Result{Logs: logs.lines()}, fmt.Errorf("compile: %w", err)
	}
	L.Push(fn)
	callErr := L.PCall(0, 1, nil)
	res := &sandbox.Result{Logs: logs.lines()}
	if callErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return res, &sandbox.TimeoutError{Timeout: timeout}
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, errors.New(scriptError(callErr))
	}
	v, err := fromLua(L.Get(-1))
	L.Pop(1)
	if err != nil {
		return res, err
	}
	res.Value = v
	return res, nil
}

func openSafeLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
}

func scriptError(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	return err.Error()
}

type logBuffer struct {
	mu    sync.Mutex
	max   int
	buf   []string
	trunc bool
}

func (b *logBuffer) add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		b.trunc = true
		return
	}
	b.buf = append(b.buf, line)
}

func (b *logBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]string(nil), b.buf...)
	if b.trunc {
		out = append(out, "... log truncated")
	}
	return out
}

// toLua converts JSON-like Go values into Lua values.
func toLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case int:
		return lua.LNumber(t)
	case int32:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case float32:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case []any:
		tbl := L.NewTable()
		for _, item := range t {
			tbl.Append(toLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for _, item := range t {
			tbl.Append(lua.LString(item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tbl.RawSetString(k, toLua(L, t[k]))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(t))
	}
}

// maxResultDepth bounds table nesting in a script result.
const maxResultDepth = 64

// maxExactInt is the largest magnitude a float64 holds every integer up to.
const maxExactInt = 1 << 53

var (
	errCyclicTable    = errors.New("cyclic table in result")
	errResultTooDeep  = fmt.Errorf("result nested deeper than %d tables", maxResultDepth)
	errNonFiniteValue = errors.New("non-finite number in result")
)

// fromLua converts Lua values back to Go. Tables with only consecutive
// integer keys from 1 become []any, other tables map[string]any. A table
// may appear more than once but never inside itself.
func fromLua(v lua.LValue) (any, error) {
	return (&converter{path: make(map[*lua.LTable]struct{})}).value(v, 0)
}

type converter struct {
	path map[*lua.LTable]struct{}
}

func (c *converter) value(v lua.LValue, depth int) (any, error) {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(t), nil
	case lua.LString:
		return string(t), nil
	case lua.LNumber:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errNonFiniteValue
		}
		if f == math.Trunc(f) && math.Abs(f) <= maxExactInt {
			return int64(f), nil
		}
		return f, nil
	case *lua.LTable:
		return c.table(t, depth)
	default:
		return v.String(), nil
	}
}

func (c *converter) table(t *lua.LTable, depth int) (any, error) {
	if depth >= maxResultDepth {
		return nil, errResultTooDeep
	}
	if _, ok := c.path[t]; ok {
		return nil, errCyclicTable
	}
	c.path[t] = struct{}{}
	defer delete(c.path, t)

	if n := t.MaxN(); n > 0 && n == countKeys(t) {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			v, err := c.value(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	out := make(map[string]any)
	var err error
	t.ForEach(func(k, val lua.LValue) {
		if err != nil {
			return
		}
		var v any
		if v, err = c.value(val, depth+1); err == nil {
			out[k.String()] = v
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}
