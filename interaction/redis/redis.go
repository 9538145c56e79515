//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides a Redis-backed interaction store.
//
// Each interaction is a hash holding the encoded state and its status. A
// sorted set indexes unprocessed interactions by expiry, another indexes each
// execution's interactions by creation time.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-workflow-go/interaction"
)

const (
	defaultKeyPrefix = "trpc-workflow:"

	fieldState     = "state"
	fieldStatus    = "status"
	fieldExecution = "execution"
)

// markProcessedScript flips status from created to processed and replaces
// the state atomically. Returns -1 when missing, 0 when already processed.
var markProcessedScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return -1
end
if status ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'state', ARGV[3])
redis.call('ZREM', KEYS[2], ARGV[4])
return 1
`)

// Store is a Redis-backed interaction.Store.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a Store.
type Option func(*options)

type options struct {
	url    string
	client redis.UniversalClient
	prefix string
}

// WithRedisClientURL builds the client from a redis:// URL.
func WithRedisClientURL(url string) Option {
	return func(o *options) { o.url = url }
}

// WithClient uses an existing client.
func WithClient(c redis.UniversalClient) Option {
	return func(o *options) { o.client = c }
}

// WithKeyPrefix namespaces every key.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// NewStore creates a store from a URL or an existing client.
func NewStore(opts ...Option) (*Store, error) {
	o := &options{prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(o)
	}
	client := o.client
	if client == nil {
		if o.url == "" {
			return nil, errors.New("redis: url is empty")
		}
		ropts, err := redis.ParseURL(o.url)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url %s: %w", o.url, err)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:        []string{ropts.Addr},
			DB:           ropts.DB,
			Username:     ropts.Username,
			Password:     ropts.Password,
			TLSConfig:    ropts.TLSConfig,
			DialTimeout:  ropts.DialTimeout,
			ReadTimeout:  ropts.ReadTimeout,
			WriteTimeout: ropts.WriteTimeout,
			PoolSize:     ropts.PoolSize,
		})
	}
	return &Store{client: client, prefix: o.prefix}, nil
}

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) itemKey(id string) string { return s.prefix + "interaction:" + id }

func (s *Store) expiryKey() string { return s.prefix + "interactions:expiry" }

func (s *Store) executionKey(executionID string) string {
	return s.prefix + "execution:" + executionID + ":interactions"
}

// Save implements interaction.Store.
func (s *Store) Save(ctx context.Context, st *interaction.State) error {
	data, err := interaction.Encode(st)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.itemKey(st.ID),
			fieldState, data,
			fieldStatus, string(st.Status),
			fieldExecution, st.ExecutionID,
		)
		if st.Status == interaction.StatusProcessed {
			p.ZRem(ctx, s.expiryKey(), st.ID)
		} else {
			p.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(st.ExpiresAt.UnixMilli()), Member: st.ID})
		}
		p.ZAdd(ctx, s.executionKey(st.ExecutionID),
			redis.Z{Score: float64(st.CreatedAt.UnixMilli()), Member: st.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save interaction %s: %w", st.ID, err)
	}
	return nil
}

// Get implements interaction.Store.
func (s *Store) Get(ctx context.Context, id string) (*interaction.State, error) {
	data, err := s.client.HGet(ctx, s.itemKey(id), fieldState).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interaction.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get interaction %s: %w", id, err)
	}
	return interaction.Decode(data)
}

// ListByExecution implements interaction.Store.
func (s *Store) ListByExecution(ctx context.Context, executionID string) ([]*interaction.State, error) {
	ids, err := s.client.ZRange(ctx, s.executionKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	out := make([]*interaction.State, 0, len(ids))
	for _, id := range ids {
		st, err := s.Get(ctx, id)
		if errors.Is(err, interaction.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// MarkProcessed implements interaction.Store.
func (s *Store) MarkProcessed(ctx context.Context, id string, response any, at time.Time) error {
	st, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if st.Status == interaction.StatusProcessed {
		return interaction.ErrAlreadyProcessed
	}
	st.Status = interaction.StatusProcessed
	st.Response = response
	st.ProcessedAt = &at
	data, err := interaction.Encode(st)
	if err != nil {
		return err
	}
	res, err := markProcessedScript.Run(ctx, s.client,
		[]string{s.itemKey(id), s.expiryKey()},
		string(interaction.StatusCreated), string(interaction.StatusProcessed), string(data), id,
	).Int()
	if err != nil {
		return fmt.Errorf("mark interaction %s processed: %w", id, err)
	}
	switch res {
	case -1:
		return interaction.ErrNotFound
	case 0:
		return interaction.ErrAlreadyProcessed
	}
	return nil
}

// Delete implements interaction.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	executionID, err := s.client.HGet(ctx, s.itemKey(id), fieldExecution).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete interaction %s: %w", id, err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.itemKey(id))
		p.ZRem(ctx, s.expiryKey(), id)
		p.ZRem(ctx, s.executionKey(executionID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete interaction %s: %w", id, err)
	}
	return nil
}

// DeleteExpired implements interaction.Store.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", before.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan expired interactions: %w", err)
	}
	n := 0
	for _, id := range ids {
		status, err := s.client.HGet(ctx, s.itemKey(id), fieldStatus).Result()
		if errors.Is(err, redis.Nil) {
			s.client.ZRem(ctx, s.expiryKey(), id)
			continue
		}
		if err != nil {
			return n, err
		}
		if status == string(interaction.StatusProcessed) {
			s.client.ZRem(ctx, s.expiryKey(), id)
			continue
		}
		if err := s.Delete(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
