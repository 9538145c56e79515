//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package interactive implements the interactive node, which pauses a run
// until a user answers a prompt.
//
// The first dispatch suspends. When the engine re-dispatches the node with
// the user's response the node succeeds with that response; it never
// suspends twice for the same pause.
package interactive

import (
	"context"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/interaction"
	"trpc.group/trpc-go/trpc-workflow-go/internal/interpolate"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Output handles.
const (
	HandleResponse      = "response"
	HandleInteractionID = "interactionId"
	// HandleConfirmed and HandleRejected gate branches after a confirm prompt.
	HandleConfirmed = "confirmed"
	HandleRejected  = "rejected"
)

// Config configures an interactive node. Title and message may hold
// {{path}} placeholders.
type Config struct {
	Kind        string               `json:"kind"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	Options     []interaction.Choice `json:"options"`
	MultiSelect bool                 `json:"multiSelect"`
	Fields      []interaction.Field  `json:"fields"`
	Rules       interaction.Rules    `json:"rules"`
	Default     any                  `json:"default"`
	Custom      map[string]any       `json:"custom"`
	// TTLSeconds overrides the engine's interaction expiry.
	TTLSeconds int `json:"ttlSeconds"`
}

// Dispatcher implements the interactive node.
type Dispatcher struct {
	newID func() string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithIDGenerator replaces the interaction ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) { d.newID = fn }
}

// New creates the interactive dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{newID: uuid.NewString}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Type implements dispatcher.Dispatcher.
func (*Dispatcher) Type() string { return workflow.TypeInteractive }

// Dispatch implements dispatcher.Dispatcher.
func (d *Dispatcher) Dispatch(_ context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	var cfg Config
	if err := workflow.DecodeConfig(req.Node, &cfg); err != nil {
		return dispatcher.Fail(err)
	}
	kind := interaction.Kind(cfg.Kind)
	if kind == "" {
		kind = interaction.KindText
	}
	switch kind {
	case interaction.KindSelect, interaction.KindForm, interaction.KindText,
		interaction.KindConfirm, interaction.KindFileUpload, interaction.KindCustom:
	default:
		return dispatcher.Failf("unknown interaction kind %q", cfg.Kind)
	}
	if kind == interaction.KindSelect && len(cfg.Options) == 0 {
		return dispatcher.Failf("select interaction %s has no options", req.Node.ID)
	}

	if req.Resuming() {
		return resumed(kind, req.Resume)
	}

	doc := interpolate.NewDocument(req.Document())
	prompt := interaction.Prompt{
		Kind:        kind,
		Title:       doc.Render(cfg.Title),
		Message:     doc.Render(cfg.Message),
		Options:     cfg.Options,
		MultiSelect: cfg.MultiSelect,
		Fields:      cfg.Fields,
		Rules:       cfg.Rules,
		Default:     cfg.Default,
		Custom:      cfg.Custom,
	}
	var partial map[string]any
	if len(req.Inputs) > 0 {
		partial = make(map[string]any, len(req.Inputs))
		for k, v := range req.Inputs {
			partial[k] = v
		}
	}
	return dispatcher.Suspend(&dispatcher.Suspension{
		InteractionID:  d.newID(),
		Prompt:         prompt,
		PartialOutputs: partial,
		TTL:            time.Duration(cfg.TTLSeconds) * time.Second,
	})
}

func resumed(kind interaction.Kind, r *dispatcher.Resume) *dispatcher.Outcome {
	outputs := map[string]any{
		HandleResponse:               r.Response,
		workflow.DefaultSourceHandle: r.Response,
		HandleInteractionID:          r.InteractionID,
	}
	if kind == interaction.KindConfirm {
		if ok, _ := r.Response.(bool); ok {
			outputs[HandleConfirmed] = true
		} else {
			outputs[HandleRejected] = true
		}
	}
	if kind == interaction.KindForm {
		if m, ok := r.Response.(map[string]any); ok {
			for k, v := range m {
				if _, taken := outputs[k]; !taken {
					outputs[k] = v
				}
			}
		}
	}
	return dispatcher.Success(outputs)
}
