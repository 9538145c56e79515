//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides a SQL-backed interaction store. The caller opens
// the *sql.DB with a SQLite driver such as github.com/mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/interaction"
)

const (
	sqliteCreateInteractions = "CREATE TABLE IF NOT EXISTS interactions (" +
		"id TEXT PRIMARY KEY, " +
		"execution_id TEXT NOT NULL, " +
		"status TEXT NOT NULL, " +
		"created_at INTEGER NOT NULL, " +
		"expires_at INTEGER NOT NULL, " +
		"state_json BLOB NOT NULL" +
		")"

	sqliteCreateExecutionIndex = "CREATE INDEX IF NOT EXISTS idx_interactions_execution " +
		"ON interactions (execution_id, created_at)"

	sqliteUpsert = "INSERT OR REPLACE INTO interactions " +
		"(id, execution_id, status, created_at, expires_at, state_json) VALUES (?, ?, ?, ?, ?, ?)"

	sqliteSelectByID = "SELECT state_json FROM interactions WHERE id = ?"

	sqliteSelectByExecution = "SELECT state_json FROM interactions " +
		"WHERE execution_id = ? ORDER BY created_at ASC"

	sqliteMarkProcessed = "UPDATE interactions SET status = ?, state_json = ? " +
		"WHERE id = ? AND status = ?"

	sqliteDeleteByID = "DELETE FROM interactions WHERE id = ?"

	sqliteDeleteExpired = "DELETE FROM interactions WHERE status != ? AND expires_at <= ?"
)

// Store is a SQLite-backed interaction.Store.
type Store struct {
	db *sql.DB
}

// NewStore creates the schema if needed and returns a store over db.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(sqliteCreateInteractions); err != nil {
		return nil, fmt.Errorf("create interactions table: %w", err)
	}
	if _, err := db.Exec(sqliteCreateExecutionIndex); err != nil {
		return nil, fmt.Errorf("create interactions index: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying DB.
func (s *Store) Close() error { return s.db.Close() }

// Save implements interaction.Store.
func (s *Store) Save(ctx context.Context, st *interaction.State) error {
	data, err := interaction.Encode(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqliteUpsert,
		st.ID, st.ExecutionID, string(st.Status),
		st.CreatedAt.UnixNano(), st.ExpiresAt.UnixNano(), data)
	if err != nil {
		return fmt.Errorf("save interaction %s: %w", st.ID, err)
	}
	return nil
}

// Get implements interaction.Store.
func (s *Store) Get(ctx context.Context, id string) (*interaction.State, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, sqliteSelectByID, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interaction.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get interaction %s: %w", id, err)
	}
	return interaction.Decode(data)
}

// ListByExecution implements interaction.Store.
func (s *Store) ListByExecution(ctx context.Context, executionID string) ([]*interaction.State, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelectByExecution, executionID)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()
	var out []*interaction.State
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		st, err := interaction.Decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// MarkProcessed implements interaction.Store. The conditional UPDATE makes
// the created -> processed transition atomic.
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
	res, err := s.db.ExecContext(ctx, sqliteMarkProcessed,
		string(interaction.StatusProcessed), data, id, string(interaction.StatusCreated))
	if err != nil {
		return fmt.Errorf("mark interaction %s processed: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interaction.ErrAlreadyProcessed
	}
	return nil
}

// Delete implements interaction.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, sqliteDeleteByID, id); err != nil {
		return fmt.Errorf("delete interaction %s: %w", id, err)
	}
	return nil
}

// DeleteExpired implements interaction.Store.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, sqliteDeleteExpired,
		string(interaction.StatusProcessed), before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired interactions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
