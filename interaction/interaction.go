//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package interaction models a run paused for human input and the store
// that keeps it until it is answered or expires.
//
// An interaction moves from created to processed exactly once. Unanswered
// interactions past their expiry are removed by the Sweeper.
package interaction

import (
	"context"
	"errors"
	"time"

	"trpc.group/trpc-go/trpc-workflow-go/state"
)

// DefaultTTL is how long an interaction waits for a response.
const DefaultTTL = time.Hour

// Kind is the type of input requested.
type Kind string

// Interaction kinds.
const (
	KindSelect     Kind = "select"
	KindForm       Kind = "form"
	KindText       Kind = "text"
	KindConfirm    Kind = "confirm"
	KindFileUpload Kind = "file-upload"
	KindCustom     Kind = "custom"
)

// Status is the lifecycle state of an interaction.
type Status string

// Interaction statuses.
const (
	StatusCreated   Status = "created"
	StatusProcessed Status = "processed"
	StatusExpired   Status = "expired"
)

var (
	// ErrNotFound is returned when no interaction has the given ID.
	ErrNotFound = errors.New("interaction not found")
	// ErrExpired is returned when resuming an interaction past its expiry.
	ErrExpired = errors.New("interaction expired")
	// ErrAlreadyProcessed is returned when an interaction was already resumed.
	ErrAlreadyProcessed = errors.New("interaction already processed")
	// ErrInvalidResponse is matched by every ResponseError.
	ErrInvalidResponse = errors.New("invalid interaction response")
)

// Choice is one selectable option.
type Choice struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// Field is one input of a form interaction.
type Field struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Type     string   `json:"type,omitempty"`
	Required bool     `json:"required,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
	Options  []Choice `json:"options,omitempty"`
}

// Rules constrain an acceptable response.
type Rules struct {
	Required  bool     `json:"required,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	MinLength int      `json:"minLength,omitempty"`
	MaxLength int      `json:"maxLength,omitempty"`
	MaxFiles  int      `json:"maxFiles,omitempty"`
	Accept    []string `json:"accept,omitempty"`
}

// Prompt describes what the user is asked.
type Prompt struct {
	Kind        Kind           `json:"kind"`
	Title       string         `json:"title,omitempty"`
	Message     string         `json:"message,omitempty"`
	Options     []Choice       `json:"options,omitempty"`
	MultiSelect bool           `json:"multiSelect,omitempty"`
	Fields      []Field        `json:"fields,omitempty"`
	Rules       Rules          `json:"rules,omitempty"`
	Default     any            `json:"default,omitempty"`
	Custom      map[string]any `json:"custom,omitempty"`
}

// State is a persisted pause point of a run.
type State struct {
	ID          string `json:"id"`
	ExecutionID string `json:"executionId"`
	WorkflowID  string `json:"workflowId"`
	NodeID      string `json:"nodeId"`
	Prompt      Prompt `json:"prompt"`
	Status      Status `json:"status"`
	// PartialOutputs are values the paused node produced before suspending.
	PartialOutputs map[string]any `json:"partialOutputs,omitempty"`
	// Context is the root scope of the run at the pause point.
	Context state.Snapshot `json:"context"`
	// Checkpoint is the executor frontier, opaque to this package.
	Checkpoint  []byte     `json:"checkpoint,omitempty"`
	Response    any        `json:"response,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// Expired reports whether s is unanswered and past its expiry at now.
func (s *State) Expired(now time.Time) bool {
	return s.Status != StatusProcessed && !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store persists interactions. Implementations must make MarkProcessed an
// atomic compare-and-set from created to processed.
type Store interface {
	// Save inserts or replaces s.
	Save(ctx context.Context, s *State) error
	// Get returns ErrNotFound when id is unknown.
	Get(ctx context.Context, id string) (*State, error)
	// ListByExecution returns the interactions of one run, oldest first.
	ListByExecution(ctx context.Context, executionID string) ([]*State, error)
	// MarkProcessed records response and flips the status. A second call
	// returns ErrAlreadyProcessed.
	MarkProcessed(ctx context.Context, id string, response any, at time.Time) error
	// Delete removes id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes unprocessed interactions whose expiry is not after
	// before, and returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
