//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/dispatcher/builtin"
	"trpc.group/trpc-go/trpc-workflow-go/engine"
	"trpc.group/trpc-go/trpc-workflow-go/interaction"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// talk emits two fragments and echoes its input.
var talk = dispatcher.NewFunc("talk", func(ctx context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	dispatcher.EmitChunk(ctx, "hel")
	dispatcher.EmitChunk(ctx, "lo")
	v, _ := req.PrimaryInput()
	return dispatcher.Success(map[string]any{"output": v})
})

func newServer(t *testing.T, extra ...dispatcher.Dispatcher) (*Server, *engine.Engine) {
	t.Helper()
	reg, err := builtin.NewRegistry(builtin.WithDispatchers(extra...))
	require.NoError(t, err)
	eng, err := engine.New(reg)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return New(eng), eng
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

type resultBody struct {
	ExecutionID    string           `json:"executionId"`
	Status         string           `json:"status"`
	Outputs        map[string]any   `json:"outputs"`
	Error          string           `json:"error"`
	NodesProcessed int              `json:"nodesProcessed"`
	Interaction    *InteractionView `json:"interaction"`
}

func echoWorkflow(mid string) *workflow.Workflow {
	return &workflow.Workflow{
		ID: "wf-echo",
		Nodes: []workflow.Node{
			{ID: "in", Type: workflow.TypeInput, IsEntry: true},
			{ID: "mid", Type: mid},
			{ID: "out", Type: workflow.TypeOutput},
		},
		Edges: []workflow.Edge{
			{Source: "in", SourceHandle: "text", Target: "mid"},
			{Source: "mid", Target: "out", TargetHandle: "text"},
		},
	}
}

func TestHandleRun(t *testing.T) {
	s, _ := newServer(t)

	rr := do(t, s, http.MethodPost, "/v1/workflows/run", &RunRequest{
		Workflow: echoWorkflow(workflow.TypePassthrough),
		Inputs:   map[string]any{"text": "hi"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	res := decodeBody[resultBody](t, rr)
	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, map[string]any{"text": "hi"}, res.Outputs)
	assert.Equal(t, 3, res.NodesProcessed)
}

func TestHandleRun_Rejected(t *testing.T) {
	s, _ := newServer(t)

	t.Run("invalid workflow", func(t *testing.T) {
		rr := do(t, s, http.MethodPost, "/v1/workflows/run", &RunRequest{Workflow: &workflow.Workflow{ID: "empty"}})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		body := decodeBody[ErrorResponse](t, rr)
		assert.Equal(t, workflow.MsgNoNodes, body.Error)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/workflows/run", strings.NewReader("{"))
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("failed node still answers the result", func(t *testing.T) {
		wf := echoWorkflow("missing-type")
		rr := do(t, s, http.MethodPost, "/v1/workflows/run", &RunRequest{Workflow: wf})
		require.Equal(t, http.StatusOK, rr.Code)
		res := decodeBody[resultBody](t, rr)
		assert.Equal(t, "failed", res.Status)
		assert.Contains(t, res.Error, "dispatcher not found")
	})
}

func TestHandleRunSSE(t *testing.T) {
	s, _ := newServer(t, talk)

	rr := do(t, s, http.MethodPost, "/v1/workflows/stream", &RunRequest{
		Workflow:    echoWorkflow("talk"),
		Inputs:      map[string]any{"text": "hello"},
		ExecutionID: "exec-sse",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	body := rr.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event: "+EventChunk+"\n"))
	assert.Equal(t, 1, strings.Count(body, "event: "+EventResult+"\n"))
	assert.Less(t, strings.LastIndex(body, "event: "+EventChunk), strings.Index(body, "event: "+EventResult))
	assert.Contains(t, body, `"text":"hel"`)
	assert.Contains(t, body, `"executionId":"exec-sse"`)
	assert.Contains(t, body, `"status":"completed"`)
}

func TestHandleRunSSE_InvalidWorkflow(t *testing.T) {
	s, _ := newServer(t)

	rr := do(t, s, http.MethodPost, "/v1/workflows/stream", &RunRequest{Workflow: &workflow.Workflow{ID: "empty"}})
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "event: "+EventError+"\n")
	assert.Contains(t, body, workflow.MsgNoNodes)
	assert.NotContains(t, body, "event: "+EventResult)
}

func askWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		ID: "wf-ask",
		Nodes: []workflow.Node{
			{ID: "in", Type: workflow.TypeInput, IsEntry: true},
			{ID: "ask", Type: workflow.TypeInteractive, Config: map[string]any{"message": "Name?"}},
			{ID: "out", Type: workflow.TypeOutput},
		},
		Edges: []workflow.Edge{
			{Source: "in", SourceHandle: "seed", Target: "ask"},
			{Source: "ask", SourceHandle: "response", Target: "out", TargetHandle: "answer"},
		},
	}
}

func TestInteractionLifecycle(t *testing.T) {
	s, _ := newServer(t)

	rr := do(t, s, http.MethodPost, "/v1/workflows/run", &RunRequest{
		Workflow: askWorkflow(),
		Inputs:   map[string]any{"seed": "x"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decodeBody[resultBody](t, rr)
	require.Equal(t, "suspended", res.Status)
	require.NotNil(t, res.Interaction)
	id := res.Interaction.ID
	assert.Equal(t, "Name?", res.Interaction.Prompt.Message)
	assert.NotContains(t, rr.Body.String(), "checkpoint")

	rr = do(t, s, http.MethodGet, "/v1/interactions/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	view := decodeBody[InteractionView](t, rr)
	assert.Equal(t, interaction.StatusCreated, view.Status)
	assert.Equal(t, "ask", view.NodeID)

	rr = do(t, s, http.MethodGet, "/v1/executions/"+res.ExecutionID+"/interactions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	views := decodeBody[[]InteractionView](t, rr)
	require.Len(t, views, 1)
	assert.Equal(t, id, views[0].ID)

	rr = do(t, s, http.MethodPost, "/v1/interactions/"+id+"/resume", &ResumeRequest{Response: "Ada"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	done := decodeBody[resultBody](t, rr)
	assert.Equal(t, "completed", done.Status)
	assert.Equal(t, map[string]any{"answer": "Ada"}, done.Outputs)
	assert.Equal(t, res.ExecutionID, done.ExecutionID)

	rr = do(t, s, http.MethodPost, "/v1/interactions/"+id+"/resume", &ResumeRequest{Response: "again"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, s, http.MethodPost, "/v1/interactions/"+id+"/resume", &ResumeRequest{Response: "again", Stream: true})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, s, http.MethodGet, "/v1/interactions/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, s, http.MethodPost, "/v1/interactions/unknown/resume", &ResumeRequest{Response: "x"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestResumeStreaming(t *testing.T) {
	s, _ := newServer(t)

	rr := do(t, s, http.MethodPost, "/v1/workflows/run", &RunRequest{
		Workflow: askWorkflow(),
		Inputs:   map[string]any{"seed": "x"},
	})
	res := decodeBody[resultBody](t, rr)
	require.NotNil(t, res.Interaction)

	rr = do(t, s, http.MethodPost, "/v1/interactions/"+res.Interaction.ID+"/resume",
		&ResumeRequest{Response: "Ada", Stream: true})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "event: "+EventResult+"\n")
	assert.Contains(t, rr.Body.String(), `"answer":"Ada"`)
}

func TestHandleCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	block := dispatcher.NewFunc("block", func(_ context.Context, req *dispatcher.Request) *dispatcher.Outcome {
		close(started)
		<-release
		v, _ := req.PrimaryInput()
		return dispatcher.Success(map[string]any{"output": v})
	})
	s, eng := newServer(t, block)

	rr := do(t, s, http.MethodPost, "/v1/executions/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- do(t, s, http.MethodPost, "/v1/workflows/run", &RunRequest{
			Workflow:    echoWorkflow("block"),
			Inputs:      map[string]any{"text": "x"},
			ExecutionID: "exec-cancel",
		})
	}()
	<-started
	require.True(t, eng.Running("exec-cancel"))

	rr = do(t, s, http.MethodPost, "/v1/executions/exec-cancel/cancel", nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	close(release)

	select {
	case rr = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	require.Equal(t, http.StatusOK, rr.Code)
	res := decodeBody[resultBody](t, rr)
	assert.Equal(t, "canceled", res.Status)
	assert.Equal(t, 2, res.NodesProcessed)
}

func TestHandleDispatchers(t *testing.T) {
	s, _ := newServer(t, talk)

	rr := do(t, s, http.MethodGet, "/v1/dispatchers", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody[map[string][]string](t, rr)
	assert.Contains(t, body["types"], "talk")
	assert.Contains(t, body["types"], workflow.TypeLoopStart)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/workflows/run", nil)
	req.Header.Set("Origin", "http://ui.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
