//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package storetest is a behaviour suite shared by interaction.Store
// implementations.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/interaction"
	"trpc.group/trpc-go/trpc-workflow-go/state"
)

// NewState builds a created interaction for tests.
func NewState(id, executionID string, createdAt time.Time, ttl time.Duration) *interaction.State {
	return &interaction.State{
		ID:          id,
		ExecutionID: executionID,
		WorkflowID:  "wf",
		NodeID:      "ask",
		Prompt: interaction.Prompt{
			Kind:    interaction.KindSelect,
			Message: "pick one",
			Options: []interaction.Choice{{Label: "A", Value: "a"}, {Label: "B", Value: "b"}},
		},
		Status: interaction.StatusCreated,
		Context: state.Snapshot{
			User:    map[string]any{"message": "hi"},
			Outputs: map[string]map[string]any{"in": {"message": "hi"}},
		},
		Checkpoint: []byte(`{"pending":["ask"]}`),
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(ttl),
	}
}

// Run exercises store. Each subtest gets a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) interaction.Store) {
	ctx := context.Background()
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("SaveGet", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, NewState("i1", "e1", base, time.Hour)))
		got, err := s.Get(ctx, "i1")
		require.NoError(t, err)
		assert.Equal(t, "e1", got.ExecutionID)
		assert.Equal(t, interaction.StatusCreated, got.Status)
		assert.Equal(t, interaction.KindSelect, got.Prompt.Kind)
		assert.Len(t, got.Prompt.Options, 2)
		assert.Equal(t, "hi", got.Context.User["message"])
		assert.JSONEq(t, `{"pending":["ask"]}`, string(got.Checkpoint))
		assert.True(t, base.Add(time.Hour).Equal(got.ExpiresAt))
	})

	t.Run("GetUnknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, interaction.ErrNotFound)
	})

	t.Run("ListByExecution", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, NewState("i2", "e1", base.Add(time.Second), time.Hour)))
		require.NoError(t, s.Save(ctx, NewState("i1", "e1", base, time.Hour)))
		require.NoError(t, s.Save(ctx, NewState("i3", "e2", base, time.Hour)))
		list, err := s.ListByExecution(ctx, "e1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "i1", list[0].ID)
		assert.Equal(t, "i2", list[1].ID)
	})

	t.Run("MarkProcessedOnce", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, NewState("i1", "e1", base, time.Hour)))
		at := base.Add(time.Minute)
		require.NoError(t, s.MarkProcessed(ctx, "i1", "a", at))
		assert.ErrorIs(t, s.MarkProcessed(ctx, "i1", "b", at), interaction.ErrAlreadyProcessed)

		got, err := s.Get(ctx, "i1")
		require.NoError(t, err)
		assert.Equal(t, interaction.StatusProcessed, got.Status)
		assert.Equal(t, "a", got.Response)
		require.NotNil(t, got.ProcessedAt)
		assert.True(t, at.Equal(*got.ProcessedAt))

		assert.ErrorIs(t, s.MarkProcessed(ctx, "missing", "a", at), interaction.ErrNotFound)
	})

	t.Run("MarkProcessedConcurrent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, NewState("i1", "e1", base, time.Hour)))
		var (
			wg  sync.WaitGroup
			won atomic.Int32
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.MarkProcessed(ctx, "i1", "a", base) == nil {
					won.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), won.Load())
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, NewState("old", "e1", base, time.Minute)))
		require.NoError(t, s.Save(ctx, NewState("fresh", "e1", base, time.Hour)))
		done := NewState("done", "e1", base, time.Minute)
		require.NoError(t, s.Save(ctx, done))
		require.NoError(t, s.MarkProcessed(ctx, "done", true, base))

		n, err := s.DeleteExpired(ctx, base.Add(10*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		_, err = s.Get(ctx, "old")
		assert.ErrorIs(t, err, interaction.ErrNotFound)
		_, err = s.Get(ctx, "fresh")
		assert.NoError(t, err)
		_, err = s.Get(ctx, "done")
		assert.NoError(t, err)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, NewState("i1", "e1", base, time.Hour)))
		require.NoError(t, s.Delete(ctx, "i1"))
		require.NoError(t, s.Delete(ctx, "i1"))
		_, err := s.Get(ctx, "i1")
		assert.ErrorIs(t, err, interaction.ErrNotFound)
	})
}
