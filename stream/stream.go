//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package stream carries incremental text out of a running workflow.
package stream

import (
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/log"
)

// DefaultHeartbeatInterval is the keep-alive period of streaming runs.
const DefaultHeartbeatInterval = 15 * time.Second

// Chunk is one text fragment. The final chunk of a run has empty Text.
type Chunk struct {
	ExecutionID string `json:"executionId"`
	NodeID      string `json:"nodeId,omitempty"`
	Text        string `json:"text"`
	// Index counts chunks of the run from zero.
	Index int `json:"index"`
}

// ChunkFunc receives chunks in emission order. isLast is true exactly once,
// on the final call.
type ChunkFunc func(chunk Chunk, isLast bool)

// Sink serializes chunk delivery for one run and guarantees a single final
// call after every fragment.
type Sink struct {
	mu          sync.Mutex
	fn          ChunkFunc
	executionID string
	next        int
	closed      bool
	dropped     int
}

// NewSink wraps fn. A nil fn discards chunks.
func NewSink(executionID string, fn ChunkFunc) *Sink {
	return &Sink{fn: fn, executionID: executionID}
}

// Emit delivers a fragment. It reports false once the sink is closed.
func (s *Sink) Emit(nodeID, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.dropped++
		log.Warnf("stream %s: dropped chunk from node %s after close", s.executionID, nodeID)
		return false
	}
	if text == "" {
		return true
	}
	if s.fn != nil {
		s.fn(Chunk{ExecutionID: s.executionID, NodeID: nodeID, Text: text, Index: s.next}, false)
	}
	s.next++
	return true
}

// Close sends the final chunk. Later calls do nothing.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.fn != nil {
		s.fn(Chunk{ExecutionID: s.executionID, Index: s.next}, true)
	}
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Count returns the number of fragments delivered.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Dropped returns the number of fragments rejected after Close.
func (s *Sink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Heartbeat calls a function on a fixed interval until stopped,
// independent of run progress.
type Heartbeat struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// StartHeartbeat starts ticking. A non-positive interval or nil fn yields a
// heartbeat that never fires.
func StartHeartbeat(interval time.Duration, fn func(time.Time)) *Heartbeat {
	h := &Heartbeat{stop: make(chan struct{}), done: make(chan struct{})}
	if interval <= 0 || fn == nil {
		close(h.done)
		return h
	}
	go func() {
		defer close(h.done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-h.stop:
				return
			case now := <-t.C:
				fn(now)
			}
		}
	}()
	return h
}

// Stop halts the heartbeat and waits for an in-progress call to return.
func (h *Heartbeat) Stop() {
	h.once.Do(func() { close(h.stop) })
	<-h.done
}
