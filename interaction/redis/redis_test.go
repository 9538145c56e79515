//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/interaction"
	"trpc.group/trpc-go/trpc-workflow-go/interaction/storetest"
)

func setupTestRedis(t *testing.T) string {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return "redis://" + mr.Addr()
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) interaction.Store {
		s, err := NewStore(WithRedisClientURL(setupTestRedis(t)))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestNewStoreOptions(t *testing.T) {
	_, err := NewStore()
	assert.Error(t, err)

	_, err = NewStore(WithRedisClientURL("://bad"))
	assert.Error(t, err)

	url := setupTestRedis(t)
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	s, err := NewStore(WithClient(client), WithKeyPrefix("test:"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, storetest.NewState("i1", "e1", time.Now(), time.Hour)))
	exists, err := client.Exists(ctx, "test:interaction:i1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestSaveProcessedLeavesExpiryIndex(t *testing.T) {
	s, err := NewStore(WithRedisClientURL(setupTestRedis(t)))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	st := storetest.NewState("i1", "e1", time.Now().Add(-2*time.Hour), time.Hour)
	st.Status = interaction.StatusProcessed
	require.NoError(t, s.Save(ctx, st))

	n, err := s.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = s.Get(ctx, "i1")
	assert.NoError(t, err)
}
