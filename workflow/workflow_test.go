//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		wf      Workflow
		wantErr string
	}{
		{
			name:    "no nodes",
			wf:      Workflow{},
			wantErr: MsgNoNodes,
		},
		{
			name:    "no entry",
			wf:      Workflow{Nodes: []Node{{ID: "a", Type: TypeInput}}},
			wantErr: MsgNoEntries,
		},
		{
			name: "dangling target",
			wf: Workflow{
				Nodes: []Node{{ID: "a", Type: TypeInput, IsEntry: true}},
				Edges: []Edge{{ID: "e1", Source: "a", Target: "ghost"}},
			},
			wantErr: "edge e1 references unknown target node ghost",
		},
		{
			name: "dangling source",
			wf: Workflow{
				Nodes: []Node{{ID: "a", Type: TypeInput, IsEntry: true}},
				Edges: []Edge{{ID: "e1", Source: "ghost", Target: "a"}},
			},
			wantErr: "edge e1 references unknown source node ghost",
		},
		{
			name: "duplicate id",
			wf: Workflow{Nodes: []Node{
				{ID: "a", Type: TypeInput, IsEntry: true},
				{ID: "a", Type: TypeOutput},
			}},
			wantErr: "duplicate node id a",
		},
		{
			name:    "missing type",
			wf:      Workflow{Nodes: []Node{{ID: "a", IsEntry: true}}},
			wantErr: "node a has no type",
		},
		{
			name: "cycle",
			wf: Workflow{
				Nodes: []Node{
					{ID: "a", Type: TypeInput, IsEntry: true},
					{ID: "b", Type: TypePassthrough},
					{ID: "c", Type: TypePassthrough},
				},
				Edges: []Edge{
					{Source: "a", Target: "b"},
					{Source: "b", Target: "c"},
					{Source: "c", Target: "b"},
				},
			},
			wantErr: "workflow contains a cycle through node b",
		},
		{
			name: "valid",
			wf: Workflow{
				Nodes: []Node{
					{ID: "in", Type: TypeInput, IsEntry: true},
					{ID: "out", Type: TypeOutput},
				},
				Edges: []Edge{{Source: "in", Target: "out"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wf.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve))
			assert.ErrorIs(t, err, ErrInvalidWorkflow)
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	wf := Workflow{Edges: []Edge{{Source: "a", Target: "b"}}}
	wf.Normalize()
	e := wf.Edges[0]
	assert.Equal(t, DefaultSourceHandle, e.SourceHandle)
	assert.Equal(t, DefaultTargetHandle, e.TargetHandle)
	assert.Equal(t, "a:output->b:input", e.ID)
}

func TestNodeIsRequired(t *testing.T) {
	assert.True(t, (&Node{}).IsRequired())
	assert.False(t, (&Node{Required: Bool(false)}).IsRequired())
	assert.False(t, (&Node{ContinueOnError: true}).IsRequired())
	assert.True(t, (&Node{Required: Bool(true)}).IsRequired())
}

func TestCompileIndexes(t *testing.T) {
	wf := &Workflow{
		Nodes: []Node{
			{ID: "in", Type: TypeInput, IsEntry: true},
			{ID: "mid", Type: TypePassthrough},
			{ID: "out", Type: TypeOutput},
		},
		Edges: []Edge{
			{Source: "in", Target: "mid"},
			{Source: "mid", Target: "out"},
			{Source: "in", SourceHandle: "extra", Target: "out", TargetHandle: "extra"},
		},
	}
	g, err := Compile(wf)
	require.NoError(t, err)
	require.Len(t, g.Entries(), 1)
	assert.Equal(t, "in", g.Entries()[0].ID)
	assert.Len(t, g.Outgoing("in"), 2)
	assert.Len(t, g.Incoming("out"), 2)
	assert.Equal(t, 2, g.Order("out"))
	n, ok := g.Node("mid")
	require.True(t, ok)
	assert.Equal(t, TypePassthrough, n.Type)
}

func TestCompileLoopPairing(t *testing.T) {
	wf := &Workflow{
		Nodes: []Node{
			{ID: "in", Type: TypeInput, IsEntry: true},
			{ID: "loop", Type: TypeLoopStart},
			{ID: "body1", Type: TypePassthrough},
			{ID: "body2", Type: TypePassthrough},
			{ID: "end", Type: TypeLoopEnd},
			{ID: "after", Type: TypeOutput},
		},
		Edges: []Edge{
			{Source: "in", Target: "loop"},
			{Source: "loop", SourceHandle: "item", Target: "body1"},
			{Source: "body1", Target: "body2"},
			{Source: "body2", Target: "end"},
			{Source: "end", SourceHandle: "results", Target: "after"},
		},
	}
	g, err := Compile(wf)
	require.NoError(t, err)
	l, ok := g.Loop("loop")
	require.True(t, ok)
	assert.Equal(t, "end", l.End)
	assert.Equal(t, []string{"body1", "body2"}, l.Body)
	assert.True(t, l.Contains("end"))
	assert.False(t, l.Contains("after"))
	byEnd, ok := g.LoopForEnd("end")
	require.True(t, ok)
	assert.Same(t, l, byEnd)
}

func TestCompileLoopWithoutEnd(t *testing.T) {
	wf := &Workflow{
		Nodes: []Node{
			{ID: "loop", Type: TypeLoopStart, IsEntry: true},
			{ID: "body", Type: TypePassthrough},
		},
		Edges: []Edge{{Source: "loop", Target: "body"}},
	}
	_, err := Compile(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no reachable loop-end")
}

func TestCompileExplicitLoopPairing(t *testing.T) {
	wf := &Workflow{
		Nodes: []Node{
			{ID: "loop", Type: TypeLoopStart, IsEntry: true},
			{ID: "end", Type: TypeLoopEnd, Config: map[string]any{"loopStart": "missing"}},
		},
		Edges: []Edge{{Source: "loop", Target: "end"}},
	}
	_, err := Compile(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown loop-start missing")
}

func TestDecodeConfig(t *testing.T) {
	type cfg struct {
		URL       string            `json:"url"`
		TimeoutMs int               `json:"timeoutMs"`
		Enabled   bool              `json:"enabled,omitempty"`
		Headers   map[string]string `json:"headers"`
	}
	n := &Node{ID: "h", Type: TypeHTTPRequest, Config: map[string]any{
		"url":       "http://x",
		"timeoutMs": "250",
		"enabled":   1,
		"headers":   map[string]any{"A": "b"},
	}}
	var c cfg
	require.NoError(t, DecodeConfig(n, &c))
	assert.Equal(t, "http://x", c.URL)
	assert.Equal(t, 250, c.TimeoutMs)
	assert.True(t, c.Enabled)
	assert.Equal(t, "b", c.Headers["A"])

	bad := &Node{ID: "h", Type: TypeHTTPRequest, Config: map[string]any{"timeoutMs": []int{1}}}
	err := DecodeConfig(bad, &c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config for node h")
}

func TestParseYAMLAndJSON(t *testing.T) {
	yamlDoc := `
id: wf-1
nodes:
  - id: in
    type: input
    isEntry: true
  - id: out
    type: output
    isRequired: false
    config:
      fields: [message]
edges:
  - source: in
    sourceHandle: message
    target: out
    targetHandle: message
`
	wf, err := ParseYAML([]byte(yamlDoc))
	require.NoError(t, err)
	assert.Equal(t, "wf-1", wf.ID)
	require.Len(t, wf.Nodes, 2)
	assert.False(t, wf.Nodes[1].IsRequired())
	assert.Equal(t, "in:message->out:message", wf.Edges[0].ID)

	jsonDoc := `{"id":"wf-2","nodes":[{"id":"a","type":"input","isEntry":true}],"edges":[]}`
	wf2, err := ParseJSON([]byte(jsonDoc))
	require.NoError(t, err)
	assert.Equal(t, "wf-2", wf2.ID)

	_, err = ParseJSON([]byte("{"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: f\nnodes:\n  - id: a\n    type: input\n    isEntry: true\n"), 0o600))
	wf, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "f", wf.ID)

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
