//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package expression evaluates expr-lang expressions against a node's lookup
// document. Compiled programs are cached by source.
package expression

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var programs sync.Map // source -> *vm.Program

func compile(code string) (*vm.Program, error) {
	if p, ok := programs.Load(code); ok {
		return p.(*vm.Program), nil
	}
	p, err := expr.Compile(code, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	programs.Store(code, p)
	return p, nil
}

// Eval runs code with env as its variables. Undefined names evaluate to nil.
func Eval(code string, env map[string]any) (any, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("empty expression")
	}
	p, err := compile(code)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", code, err)
	}
	v, err := expr.Run(p, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", code, err)
	}
	return v, nil
}

// EvalBool runs code and reports the truthiness of its result.
func EvalBool(code string, env map[string]any) (bool, error) {
	v, err := Eval(code, env)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Truthy maps a value to a boolean: nil, false, zero numbers, empty strings
// and empty collections are false, the string "false" included.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s != "" && s != "false" && s != "0"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
