//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package httprequest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/state"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/missing":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"not found"}`))
			return
		case r.URL.Path == "/big":
			w.Write([]byte(strings.Repeat("x", 100)))
			return
		case r.URL.Path == "/slow":
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
			return
		case r.URL.Path == "/text":
			w.Write([]byte("plain"))
			return
		}
		if ct := r.Header.Get("Content-Type"); strings.HasPrefix(ct, "multipart/") {
			_ = r.ParseMultipartForm(1 << 20)
		} else {
			_ = r.ParseForm()
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"query":       r.URL.Query(),
			"auth":        r.Header.Get("Authorization"),
			"contentType": r.Header.Get("Content-Type"),
			"body":        string(body),
			"form":        r.PostForm,
			"agent":       r.Header.Get("User-Agent"),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, d *Dispatcher, cfg map[string]any, vars map[string]any) *dispatcher.Outcome {
	t.Helper()
	req := &dispatcher.Request{
		Node:   &workflow.Node{ID: "http", Type: workflow.TypeHTTPRequest, Config: cfg},
		Inputs: map[string]any{"input": map[string]any{"id": 7}},
		Scope:  state.New(vars),
	}
	out := d.Dispatch(context.Background(), req)
	require.NoError(t, out.Validate())
	return out
}

func TestDispatch_InterpolatesAndSendsJSON(t *testing.T) {
	srv := echoServer(t)
	out := run(t, New(), map[string]any{
		"url":     srv.URL + "/users/{{input.id}}",
		"method":  "post",
		"headers": map[string]any{"Authorization": "Bearer {{token}}"},
		"query":   map[string]any{"q": "{{term}}", "tags": []any{"a", "b"}},
		"body":    map[string]any{"name": "{{user.name}}", "missing": "{{nope}}"},
	}, map[string]any{"token": "t0k", "term": "go lang", "user": map[string]any{"name": "ada"}})

	require.Equal(t, dispatcher.StatusSuccess, out.Status, out.Message)
	assert.Equal(t, 200, out.Outputs["status"])
	assert.Equal(t, "OK", out.Outputs["statusText"])
	assert.Equal(t, true, out.Outputs["ok"])
	assert.Equal(t, false, out.Outputs["truncated"])

	echo := out.Outputs["body"].(map[string]any)
	assert.Equal(t, "POST", echo["method"])
	assert.Equal(t, "/users/7", echo["path"])
	assert.Equal(t, "Bearer t0k", echo["auth"])
	assert.Equal(t, "application/json", echo["contentType"])
	assert.Equal(t, "trpc-workflow-go", echo["agent"])
	assert.JSONEq(t, `{"name":"ada","missing":""}`, echo["body"].(string))
	assert.Equal(t, map[string]any{"q": []any{"go lang"}, "tags": []any{"a", "b"}}, echo["query"])
	assert.Contains(t, out.Outputs["url"], "/users/7?")
}

func TestDispatch_Non2xxIsNotAnError(t *testing.T) {
	srv := echoServer(t)
	out := run(t, New(), map[string]any{"url": srv.URL + "/missing"}, nil)
	require.Equal(t, dispatcher.StatusSuccess, out.Status)
	assert.Equal(t, 404, out.Outputs["status"])
	assert.Equal(t, false, out.Outputs["ok"])
	assert.Equal(t, map[string]any{"error": "not found"}, out.Outputs["body"])
	headers := out.Outputs["headers"].(map[string]any)
	assert.Equal(t, "application/json", headers["content-type"])
}

func TestDispatch_Truncates(t *testing.T) {
	srv := echoServer(t)
	out := run(t, New(WithMaxResponseBytes(1024)), map[string]any{"url": srv.URL + "/big", "maxResponseBytes": 10}, nil)
	require.Equal(t, dispatcher.StatusSuccess, out.Status)
	assert.Equal(t, true, out.Outputs["truncated"])
	assert.Equal(t, strings.Repeat("x", 10), out.Outputs["body"])
}

func TestDispatch_TextBody(t *testing.T) {
	srv := echoServer(t)
	out := run(t, New(), map[string]any{"url": srv.URL + "/text"}, nil)
	assert.Equal(t, "plain", out.Outputs["body"])
}

func TestDispatch_Form(t *testing.T) {
	srv := echoServer(t)
	out := run(t, New(), map[string]any{
		"url":      srv.URL + "/form",
		"method":   "POST",
		"bodyType": "form",
		"body":     map[string]any{"a": "{{v}}", "n": 2},
	}, map[string]any{"v": "x y"})
	require.Equal(t, dispatcher.StatusSuccess, out.Status, out.Message)
	echo := out.Outputs["body"].(map[string]any)
	assert.Equal(t, "application/x-www-form-urlencoded", echo["contentType"])
	assert.Equal(t, map[string]any{"a": []any{"x y"}, "n": []any{"2"}}, echo["form"])
}

func TestDispatch_Multipart(t *testing.T) {
	srv := echoServer(t)
	out := run(t, New(), map[string]any{
		"url":      srv.URL + "/upload",
		"method":   "POST",
		"bodyType": "multipart",
		"body":     map[string]any{"field": "value", "obj": map[string]any{"k": 1}},
	}, nil)
	require.Equal(t, dispatcher.StatusSuccess, out.Status, out.Message)
	echo := out.Outputs["body"].(map[string]any)
	assert.Contains(t, echo["contentType"], "multipart/form-data")
	assert.Equal(t, map[string]any{"field": []any{"value"}, "obj": []any{`{"k":1}`}}, echo["form"])
}

func TestDispatch_Timeout(t *testing.T) {
	srv := echoServer(t)
	out := run(t, New(), map[string]any{"url": srv.URL + "/slow", "timeoutMs": 50}, nil)
	assert.Equal(t, dispatcher.StatusError, out.Status)
	assert.True(t, out.Timeout)
	assert.Equal(t, "request timed out after 50ms", out.Message)
}

func TestDispatch_Errors(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	tests := []struct {
		name string
		cfg  map[string]any
		msg  string
	}{
		{name: "empty url", cfg: map[string]any{"url": "{{nothing}}"}, msg: "url is empty"},
		{name: "bad scheme", cfg: map[string]any{"url": "ftp://example.com"}, msg: "unsupported url scheme"},
		{name: "network", cfg: map[string]any{"url": closed.URL}, msg: "failed to execute request"},
		{name: "bad body type", cfg: map[string]any{"url": closed.URL, "body": "x", "bodyType": "xml"}, msg: "unsupported bodyType"},
		{name: "form needs object", cfg: map[string]any{"url": closed.URL, "body": "x", "bodyType": "form"}, msg: "form body must be an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, New(), tt.cfg, nil)
			assert.Equal(t, dispatcher.StatusError, out.Status)
			assert.False(t, out.Timeout)
			assert.Contains(t, out.Message, tt.msg)
		})
	}
}
