//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package interaction

import (
	"context"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/log"
)

// DefaultSweepInterval is how often expired interactions are removed.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically deletes expired interactions from a Store.
type Sweeper struct {
	store    Store
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithInterval sets the sweep period.
func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper creates a sweeper over store.
func NewSweeper(store Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{store: store, interval: DefaultSweepInterval, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepOnce deletes every expired interaction now.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	return s.store.DeleteExpired(ctx, s.now())
}

// Start runs the sweep loop in the background until Stop or ctx is done.
// Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop halts the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				log.Warnf("interaction sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Debugf("interaction sweep removed %d expired interactions", n)
			}
		}
	}
}
