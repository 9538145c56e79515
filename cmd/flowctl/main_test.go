//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/config"
	"trpc.group/trpc-go/trpc-workflow-go/interaction"
)

const echoYAML = `
id: wf-echo
nodes:
  - {id: in, type: input, isEntry: true}
  - {id: up, type: text-transform, config: {op: upper}}
  - {id: out, type: output}
edges:
  - {source: in, sourceHandle: text, target: up}
  - {source: up, target: out, targetHandle: text}
`

const askYAML = `
id: wf-ask
nodes:
  - {id: in, type: input, isEntry: true}
  - {id: ask, type: interactive, config: {message: "Name?"}}
  - {id: out, type: output}
edges:
  - {source: in, sourceHandle: seed, target: ask}
  - {source: ask, sourceHandle: response, target: out, targetHandle: answer}
`

const failYAML = `
id: wf-fail
nodes:
  - {id: in, type: input, isEntry: true}
  - {id: bad, type: code, config: {code: "error('nope')"}}
edges:
  - {source: in, sourceHandle: x, target: bad}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), err
}

type printedResult struct {
	ExecutionID string             `json:"executionId"`
	Status      string             `json:"status"`
	Outputs     map[string]any     `json:"outputs"`
	Interaction *interaction.State `json:"interaction"`
}

func decodeResult(t *testing.T, out string) printedResult {
	t.Helper()
	var res printedResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	return res
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	wf := writeFile(t, dir, "echo.yaml", echoYAML)

	out, err := execute(t, "run", "-f", wf, "--input", "text=hello", "--execution-id", "exec-1")
	require.NoError(t, err)
	res := decodeResult(t, out)
	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, "exec-1", res.ExecutionID)
	assert.Equal(t, map[string]any{"text": "HELLO"}, res.Outputs)
}

func TestRun_InputsFile(t *testing.T) {
	dir := t.TempDir()
	wf := writeFile(t, dir, "echo.yaml", echoYAML)
	inputs := writeFile(t, dir, "inputs.json", `{"text": "from file"}`)

	out, err := execute(t, "run", "-f", wf, "--inputs-file", inputs, "--stream")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "FROM FILE"}, decodeResult(t, out).Outputs)
}

func TestRun_Failures(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "run")
	assert.Error(t, err, "file flag is required")

	_, err = execute(t, "run", "-f", filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "load workflow")

	out, err := execute(t, "run", "-f", writeFile(t, dir, "fail.yaml", failYAML), "-i", "x=1")
	assert.ErrorIs(t, err, errRunNotCompleted)
	assert.Equal(t, "failed", decodeResult(t, out).Status)
}

func TestSuspendAndResume_SQLite(t *testing.T) {
	dir := t.TempDir()
	wf := writeFile(t, dir, "ask.yaml", askYAML)
	cfg := writeFile(t, dir, "flow.yaml", "store:\n  backend: sqlite\n  url: "+filepath.Join(dir, "interactions.db")+"\n")

	out, err := execute(t, "--config", cfg, "run", "-f", wf, "-i", "seed=x")
	require.NoError(t, err)
	res := decodeResult(t, out)
	require.Equal(t, "suspended", res.Status)
	require.NotNil(t, res.Interaction)
	id := res.Interaction.ID

	// A separate invocation sees the persisted interaction.
	out, err = execute(t, "--config", cfg, "resume", id, "--response", "Ada")
	require.NoError(t, err)
	done := decodeResult(t, out)
	assert.Equal(t, "completed", done.Status)
	assert.Equal(t, map[string]any{"answer": "Ada"}, done.Outputs)

	out, err = execute(t, "--config", cfg, "interactions", res.ExecutionID)
	require.NoError(t, err)
	var states []*interaction.State
	require.NoError(t, json.Unmarshal([]byte(out), &states))
	require.Len(t, states, 1)
	assert.Equal(t, interaction.StatusProcessed, states[0].Status)
	assert.Empty(t, states[0].Checkpoint)

	_, err = execute(t, "--config", cfg, "resume", id, "--response", "again")
	assert.ErrorIs(t, err, interaction.ErrAlreadyProcessed)
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, "Ada", parseValue("Ada"))
	assert.Equal(t, float64(3), parseValue("3"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, map[string]any{"a": "b"}, parseValue(`{"a":"b"}`))
}

func TestMatchesAny(t *testing.T) {
	patterns := config.Default().Retrieval.Patterns
	assert.True(t, matchesAny("guide.md", patterns))
	assert.True(t, matchesAny("notes.txt", patterns))
	assert.False(t, matchesAny("image.png", patterns))
	assert.True(t, matchesAny("anything", nil))
}
