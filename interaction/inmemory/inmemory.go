//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides a process-local interaction store.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/interaction"
)

// Store keeps encoded interactions in a map so callers never share state
// with the store.
type Store struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{items: make(map[string][]byte)}
}

// Save implements interaction.Store.
func (s *Store) Save(_ context.Context, st *interaction.State) error {
	data, err := interaction.Encode(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.items[st.ID] = data
	s.mu.Unlock()
	return nil
}

// Get implements interaction.Store.
func (s *Store) Get(_ context.Context, id string) (*interaction.State, error) {
	s.mu.RLock()
	data, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, interaction.ErrNotFound
	}
	return interaction.Decode(data)
}

// ListByExecution implements interaction.Store.
func (s *Store) ListByExecution(_ context.Context, executionID string) ([]*interaction.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*interaction.State
	for _, data := range s.items {
		st, err := interaction.Decode(data)
		if err != nil {
			return nil, err
		}
		if st.ExecutionID == executionID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MarkProcessed implements interaction.Store.
func (s *Store) MarkProcessed(_ context.Context, id string, response any, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.items[id]
	if !ok {
		return interaction.ErrNotFound
	}
	st, err := interaction.Decode(data)
	if err != nil {
		return err
	}
	if st.Status == interaction.StatusProcessed {
		return interaction.ErrAlreadyProcessed
	}
	st.Status = interaction.StatusProcessed
	st.Response = response
	st.ProcessedAt = &at
	if data, err = interaction.Encode(st); err != nil {
		return err
	}
	s.items[id] = data
	return nil
}

// Delete implements interaction.Store.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

// DeleteExpired implements interaction.Store.
func (s *Store) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, data := range s.items {
		st, err := interaction.Decode(data)
		if err != nil {
			return n, err
		}
		if st.Expired(before) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}
