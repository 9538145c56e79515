//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package basic

import (
	"context"
	"sort"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Merge modes.
const (
	MergeObject = "object"
	MergeArray  = "array"
)

// MergeConfig configures a merge node.
type MergeConfig struct {
	Mode string `json:"mode"`
}

// Merge joins every input into a single value on the output handle. Object
// mode shallow-merges map inputs, with non-map inputs kept under their
// handle. Array mode flattens the inputs into one list. Handles are visited
// in sorted order.
type Merge struct{}

// NewMerge creates the merge dispatcher.
func NewMerge() *Merge { return &Merge{} }

// Type implements dispatcher.Dispatcher.
func (*Merge) Type() string { return workflow.TypeMerge }

// Dispatch implements dispatcher.Dispatcher.
func (*Merge) Dispatch(_ context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	var cfg MergeConfig
	if err := workflow.DecodeConfig(req.Node, &cfg); err != nil {
		return dispatcher.Fail(err)
	}
	handles := make([]string, 0, len(req.Inputs))
	for h := range req.Inputs {
		handles = append(handles, h)
	}
	sort.Strings(handles)

	switch cfg.Mode {
	case "", MergeObject:
		merged := make(map[string]any)
		for _, h := range handles {
			mergeInto(merged, h, req.Inputs[h])
		}
		return dispatcher.Success(map[string]any{workflow.DefaultSourceHandle: merged})
	case MergeArray:
		var list []any
		for _, h := range handles {
			switch v := req.Inputs[h].(type) {
			case []any:
				list = append(list, v...)
			default:
				list = append(list, v)
			}
		}
		if list == nil {
			list = []any{}
		}
		return dispatcher.Success(map[string]any{workflow.DefaultSourceHandle: list})
	default:
		return dispatcher.Failf("unknown merge mode %q", cfg.Mode)
	}
}

func mergeInto(dst map[string]any, handle string, v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			dst[k] = val
		}
	case []any:
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				for k, val := range m {
					dst[k] = val
				}
				continue
			}
			dst[handle] = item
		}
	default:
		dst[handle] = v
	}
}
