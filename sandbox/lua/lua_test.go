//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package lua

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/sandbox"
)

func TestEvaluateReturnsValueAndLogs(t *testing.T) {
	e := New()
	res, err := e.Evaluate(context.Background(), &sandbox.Script{
		Code: `
print("start", vars.name)
local total = 0
for _, n in ipairs(vars.numbers) do total = total + n end
print("total", total)
return { sum = total, greeting = "hi " .. vars.name, list = {1, 2, 3} }
`,
		Variables: map[string]any{"name": "ada", "numbers": []any{1.0, 2.0, 3.5}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"start\tada", "total\t6.5"}, res.Logs)
	out := res.Value.(map[string]any)
	assert.Equal(t, 6.5, out["sum"])
	assert.Equal(t, "hi ada", out["greeting"])
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, out["list"])
}

func TestEvaluateScalarResults(t *testing.T) {
	e := New()
	tests := []struct {
		code string
		want any
	}{
		{"return 42", int64(42)},
		{"return 1.5", 1.5},
		{"return 'x'", "x"},
		{"return true", true},
		{"return nil", nil},
		{"local x = 1", nil},
	}
	for _, tt := range tests {
		res, err := e.Evaluate(context.Background(), &sandbox.Script{Language: "Lua", Code: tt.code})
		require.NoError(t, err, tt.code)
		assert.Equal(t, tt.want, res.Value, tt.code)
	}
}

func TestEvaluateTimeout(t *testing.T) {
	e := New()
	start := time.Now()
	res, err := e.Evaluate(context.Background(), &sandbox.Script{
		Code:    `print("spinning") while true do end`,
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sandbox.ErrTimeout))
	assert.Equal(t, "execution timed out after 50ms", err.Error())
	assert.Equal(t, []string{"spinning"}, res.Logs)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEvaluateParentCancel(t *testing.T) {
	e := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := e.Evaluate(ctx, &sandbox.Script{Code: `while true do end`, Timeout: 5 * time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluateRuntimeError(t *testing.T) {
	e := New()
	res, err := e.Evaluate(context.Background(), &sandbox.Script{Code: `print("before") error("boom")`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, errors.Is(err, sandbox.ErrTimeout))
	assert.Equal(t, []string{"before"}, res.Logs)
}

func TestEvaluateCompileError(t *testing.T) {
	_, err := New().Evaluate(context.Background(), &sandbox.Script{Code: `return (`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile")
}

func TestSandboxHasNoHostAccess(t *testing.T) {
	e := New()
	for _, code := range []string{
		`return io.open("/etc/passwd")`,
		`return os.getenv("HOME")`,
		`return require("os")`,
		`return dofile("/etc/passwd")`,
		`return loadstring("return 1")()`,
	} {
		_, err := e.Evaluate(context.Background(), &sandbox.Script{Code: code})
		assert.Error(t, err, code)
	}
}

func TestUnsupportedLanguage(t *testing.T) {
	_, err := New().Evaluate(context.Background(), &sandbox.Script{Language: "python", Code: "1"})
	assert.Error(t, err)
}

func TestLogCap(t *testing.T) {
	e := New(WithMaxLogLines(2), WithCallStackSize(100), WithRegistryLimit(512, 4096))
	res, err := e.Evaluate(context.Background(), &sandbox.Script{Code: `for i = 1, 5 do print(i) end`})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "... log truncated"}, res.Logs)
}

func TestScriptDefaultTimeout(t *testing.T) {
	assert.Equal(t, sandbox.DefaultTimeout, (&sandbox.Script{}).EffectiveTimeout())
	assert.Equal(t, time.Second, (&sandbox.Script{Timeout: time.Second}).EffectiveTimeout())
}

func TestEvaluateRejectsUnconvertibleResults(t *testing.T) {
	e := New()
	tests := []struct {
		name string
		code string
		want error
	}{
		{"self reference", `local t = {}; t.self = t; return t`, errCyclicTable},
		{"indirect cycle", `local a, b = {}, {}; a.b = b; b.list = {a}; return a`, errCyclicTable},
		{"too deep", `local t = {} for i = 1, 100 do t = {t} end return t`, errResultTooDeep},
		{"nan", `return 0/0`, errNonFiniteValue},
		{"inf in table", `return {x = math.huge}`, errNonFiniteValue},
		{"negative inf", `return {-math.huge}`, errNonFiniteValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Evaluate(context.Background(), &sandbox.Script{Code: tt.code})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEvaluateSharedTableIsNotCycle(t *testing.T) {
	res, err := New().Evaluate(context.Background(), &sandbox.Script{
		Code: `local shared = {n = 1}; return {a = shared, b = shared}`,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a": map[string]any{"n": int64(1)},
		"b": map[string]any{"n": int64(1)},
	}, res.Value)
}
