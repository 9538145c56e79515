//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package dispatcher

import "context"

// Emitter receives text fragments produced while a node runs.
type Emitter func(nodeID, text string)

type emitterKey struct{}

type nodeKey struct{}

// WithEmitter returns a context that forwards EmitChunk calls to fn.
func WithEmitter(ctx context.Context, fn Emitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, fn)
}

// WithNode tags ctx with the node being dispatched.
func WithNode(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, nodeKey{}, nodeID)
}

// Streaming reports whether fragments emitted on ctx reach a consumer.
func Streaming(ctx context.Context) bool {
	_, ok := ctx.Value(emitterKey{}).(Emitter)
	return ok
}

// EmitChunk forwards a fragment to the run's consumer. It reports false when
// the run is not streaming.
func EmitChunk(ctx context.Context, text string) bool {
	fn, ok := ctx.Value(emitterKey{}).(Emitter)
	if !ok || fn == nil {
		return false
	}
	nodeID, _ := ctx.Value(nodeKey{}).(string)
	fn(nodeID, text)
	return true
}
