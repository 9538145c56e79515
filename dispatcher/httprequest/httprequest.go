//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package httprequest implements the http-request node.
//
// Every string in the node config may hold {{path}} placeholders resolved
// against the node's lookup document; unresolved placeholders become empty
// strings. A non-2xx status is not an error: status and body are passed
// through so a downstream if-else can branch on them.
package httprequest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/internal/interpolate"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

const (
	// DefaultTimeout bounds one request.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxResponseBytes caps the response body kept in outputs.
	DefaultMaxResponseBytes = 1 << 20
)

// Body encodings.
const (
	BodyJSON      = "json"
	BodyForm      = "form"
	BodyMultipart = "multipart"
	BodyText      = "text"
	BodyNone      = "none"
)

// Config configures an http-request node.
type Config struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Query   map[string]any    `json:"query"`
	// Body is a string or a structured value.
	Body     any    `json:"body"`
	BodyType string `json:"bodyType"`
	// TimeoutMs overrides the dispatcher default.
	TimeoutMs        int `json:"timeoutMs"`
	MaxResponseBytes int `json:"maxResponseBytes"`
}

// Dispatcher implements the http-request node.
type Dispatcher struct {
	client           *http.Client
	timeout          time.Duration
	maxResponseBytes int
	userAgent        string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithTimeout sets the default request timeout.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithMaxResponseBytes sets the default response body cap.
func WithMaxResponseBytes(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxResponseBytes = n
		}
	}
}

// WithUserAgent sets the User-Agent sent when the node sets none.
func WithUserAgent(ua string) Option {
	return func(d *Dispatcher) { d.userAgent = ua }
}

// New creates the http-request dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:           http.DefaultClient,
		timeout:          DefaultTimeout,
		maxResponseBytes: DefaultMaxResponseBytes,
		userAgent:        "trpc-workflow-go",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Type implements dispatcher.Dispatcher.
func (*Dispatcher) Type() string { return workflow.TypeHTTPRequest }

// Dispatch implements dispatcher.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	var cfg Config
	if err := workflow.DecodeConfig(req.Node, &cfg); err != nil {
		return dispatcher.Fail(err)
	}
	doc := interpolate.NewDocument(req.Document())

	target, err := buildURL(doc.Render(cfg.URL), cfg.Query, doc)
	if err != nil {
		return dispatcher.Fail(err)
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodGet
	}
	body, contentType, err := encodeBody(cfg.Body, cfg.BodyType, doc)
	if err != nil {
		return dispatcher.Fail(err)
	}

	timeout := d.timeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, method, target, body)
	if err != nil {
		return dispatcher.Failf("failed to create request: %v", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range cfg.Headers {
		httpReq.Header.Set(k, doc.Render(v))
	}
	if httpReq.Header.Get("User-Agent") == "" && d.userAgent != "" {
		httpReq.Header.Set("User-Agent", d.userAgent)
	}

	log.Debugf("http-request node %s: %s %s", req.Node.ID, method, target)
	start := time.Now()
	resp, err := d.client.Do(httpReq)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return dispatcher.TimedOut(fmt.Sprintf("request timed out after %dms", timeout.Milliseconds()))
		}
		return dispatcher.Failf("failed to execute request: %v", err)
	}
	defer resp.Body.Close()

	limit := d.maxResponseBytes
	if cfg.MaxResponseBytes > 0 {
		limit = cfg.MaxResponseBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)+1))
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return dispatcher.TimedOut(fmt.Sprintf("request timed out after %dms", timeout.Milliseconds()))
		}
		return dispatcher.Failf("failed to read response body: %v", err)
	}
	truncated := len(data) > limit
	if truncated {
		data = data[:limit]
	}

	return dispatcher.Success(map[string]any{
		"status":     resp.StatusCode,
		"statusText": http.StatusText(resp.StatusCode),
		"headers":    flattenHeaders(resp.Header),
		"body":       decodeBody(data, resp.Header.Get("Content-Type"), truncated),
		"ok":         resp.StatusCode >= 200 && resp.StatusCode < 300,
		"truncated":  truncated,
		"url":        target,
	}, dispatcher.WithMetadata("durationMs", time.Since(start).Milliseconds()))
}

func buildURL(raw string, query map[string]any, doc *interpolate.Document) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("http-request url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if len(query) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := doc.Resolve(query[k]).(type) {
		case []any:
			for _, item := range v {
				q.Add(k, scalar(item))
			}
		default:
			q.Set(k, scalar(v))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func encodeBody(body any, bodyType string, doc *interpolate.Document) (io.Reader, string, error) {
	if body == nil || bodyType == BodyNone {
		return nil, "", nil
	}
	resolved := doc.Resolve(body)
	if bodyType == "" {
		bodyType = BodyJSON
		if _, ok := resolved.(string); ok {
			bodyType = BodyText
			if gjson.Valid(resolved.(string)) {
				bodyType = BodyJSON
			}
		}
	}
	switch bodyType {
	case BodyJSON:
		if s, ok := resolved.(string); ok {
			return strings.NewReader(s), "application/json", nil
		}
		data, err := json.Marshal(resolved)
		if err != nil {
			return nil, "", fmt.Errorf("encode json body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	case BodyText:
		return strings.NewReader(scalar(resolved)), "text/plain; charset=utf-8", nil
	case BodyForm:
		fields, ok := resolved.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("form body must be an object, got %T", resolved)
		}
		values := url.Values{}
		for k, v := range fields {
			values.Set(k, scalar(v))
		}
		return strings.NewReader(values.Encode()), "application/x-www-form-urlencoded", nil
	case BodyMultipart:
		fields, ok := resolved.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("multipart body must be an object, got %T", resolved)
		}
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := w.WriteField(k, scalar(fields[k])); err != nil {
				return nil, "", fmt.Errorf("write multipart field %s: %w", k, err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("close multipart body: %w", err)
		}
		return &buf, w.FormDataContentType(), nil
	default:
		return nil, "", fmt.Errorf("unsupported bodyType %q", bodyType)
	}
}

// scalar renders a value for form fields and query strings. Structured values
// are JSON encoded.
func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

// decodeBody parses JSON bodies when the content is complete and valid, and
// returns text otherwise.
func decodeBody(data []byte, contentType string, truncated bool) any {
	if len(data) == 0 {
		return ""
	}
	if !truncated && (strings.Contains(contentType, "json") || looksLikeJSON(data)) && gjson.ValidBytes(data) {
		var v any
		if err := json.Unmarshal(data, &v); err == nil {
			return v
		}
	}
	return string(data)
}

func looksLikeJSON(data []byte) bool {
	t := bytes.TrimSpace(data)
	return len(t) > 0 && (t[0] == '{' || t[0] == '[')
}
