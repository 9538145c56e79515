//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package rest exposes an engine over HTTP. Runs are started and resumed
// with JSON requests; streaming runs answer with server-sent events.
package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-workflow-go/engine"
	"trpc.group/trpc-go/trpc-workflow-go/interaction"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/stream"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 4 << 20

// SSE event names.
const (
	EventChunk  = "chunk"
	EventResult = "result"
	EventError  = "error"
)

// Server serves the workflow API.
type Server struct {
	engine       *engine.Engine
	router       *mux.Router
	origins      []string
	maxBodyBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS origins. Default is any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithMaxBodyBytes bounds request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBodyBytes = n }
}

// New creates a Server for eng.
func New(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:       eng,
		router:       mux.NewRouter(),
		origins:      []string{"*"},
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/dispatchers", s.handleDispatchers).Methods(http.MethodGet)
	v1.HandleFunc("/workflows/run", s.handleRun).Methods(http.MethodPost)
	v1.HandleFunc("/workflows/stream", s.handleRunSSE).Methods(http.MethodPost)
	v1.HandleFunc("/interactions/{id}", s.handleGetInteraction).Methods(http.MethodGet)
	v1.HandleFunc("/interactions/{id}/resume", s.handleResume).Methods(http.MethodPost)
	v1.HandleFunc("/executions/{id}/interactions", s.handleListInteractions).Methods(http.MethodGet)
	v1.HandleFunc("/executions/{id}/cancel", s.handleCancel).Methods(http.MethodPost)

	// Preflight for browsers.
	v1.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// RunRequest starts a workflow.
type RunRequest struct {
	Workflow    *workflow.Workflow `json:"workflow"`
	Inputs      map[string]any     `json:"inputs,omitempty"`
	ExecutionID string             `json:"executionId,omitempty"`
	// TimeoutSeconds overrides the run deadline when positive.
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`
}

// ResumeRequest answers an interaction.
type ResumeRequest struct {
	Response any  `json:"response"`
	Stream   bool `json:"stream,omitempty"`
}

// InteractionView is the client-facing form of an interaction. It omits the
// captured context and executor checkpoint.
type InteractionView struct {
	ID          string             `json:"id"`
	ExecutionID string             `json:"executionId"`
	WorkflowID  string             `json:"workflowId"`
	NodeID      string             `json:"nodeId"`
	Prompt      interaction.Prompt `json:"prompt"`
	Status      interaction.Status `json:"status"`
	Response    any                `json:"response,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	ExpiresAt   time.Time          `json:"expiresAt"`
	ProcessedAt *time.Time         `json:"processedAt,omitempty"`
}

func viewOf(st *interaction.State, now time.Time) *InteractionView {
	v := &InteractionView{
		ID:          st.ID,
		ExecutionID: st.ExecutionID,
		WorkflowID:  st.WorkflowID,
		NodeID:      st.NodeID,
		Prompt:      st.Prompt,
		Status:      st.Status,
		Response:    st.Response,
		CreatedAt:   st.CreatedAt,
		ExpiresAt:   st.ExpiresAt,
		ProcessedAt: st.ProcessedAt,
	}
	if st.Expired(now) {
		v.Status = interaction.StatusExpired
	}
	return v
}

// ResultView is engine.Result with the interaction reduced to its view.
type ResultView struct {
	*engine.Result
	Interaction *InteractionView `json:"interaction,omitempty"`
}

func resultView(res *engine.Result) *ResultView {
	if res == nil {
		return nil
	}
	v := &ResultView{Result: res}
	if res.Interaction != nil {
		v.Interaction = viewOf(res.Interaction, time.Now())
	}
	return v
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error  string      `json:"error"`
	Result *ResultView `json:"result,omitempty"`
}

func (s *Server) handleDispatchers(w http.ResponseWriter, r *http.Request) {
	log.Debugf("handleDispatchers called: path=%s", r.URL.Path)
	s.writeJSON(w, http.StatusOK, map[string]any{"types": s.engine.Registry().Types()})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleRun called: path=%s", r.URL.Path)
	var req RunRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err, nil)
		return
	}
	res, err := s.engine.DispatchWorkflow(r.Context(), req.Workflow, req.Inputs, runOptions(&req)...)
	if rejected(res, err) {
		s.writeError(w, statusOf(err), err, res)
		return
	}
	s.writeJSON(w, http.StatusOK, resultView(res))
}

func (s *Server) handleRunSSE(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleRunSSE called: path=%s", r.URL.Path)
	var req RunRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err, nil)
		return
	}
	sw, ok := newSSEWriter(w)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	opts := append(runOptions(&req), engine.WithHeartbeat(sw.heartbeat))
	res, err := s.engine.DispatchWorkflowStreaming(r.Context(), req.Workflow, req.Inputs, sw.chunk, opts...)
	sw.finish(res, err)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleResume called: path=%s", r.URL.Path)
	id := mux.Vars(r)["id"]
	var req ResumeRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err, nil)
		return
	}
	if !req.Stream {
		res, err := s.engine.ResumeInteraction(r.Context(), id, req.Response)
		if rejected(res, err) {
			s.writeError(w, statusOf(err), err, res)
			return
		}
		s.writeJSON(w, http.StatusOK, resultView(res))
		return
	}
	// Rejections are reported as plain errors before the stream opens.
	st, err := s.engine.Interaction(r.Context(), id)
	if err != nil {
		s.writeError(w, statusOf(err), err, nil)
		return
	}
	if st.Status == interaction.StatusProcessed {
		s.writeError(w, http.StatusConflict, interaction.ErrAlreadyProcessed, nil)
		return
	}
	sw, ok := newSSEWriter(w)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	res, err := s.engine.ResumeInteractionStreaming(r.Context(), id, req.Response, sw.chunk,
		engine.WithHeartbeat(sw.heartbeat))
	sw.finish(res, err)
}

func (s *Server) handleGetInteraction(w http.ResponseWriter, r *http.Request) {
	log.Debugf("handleGetInteraction called: path=%s", r.URL.Path)
	st, err := s.engine.Interaction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, statusOf(err), err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(st, time.Now()))
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	log.Debugf("handleListInteractions called: path=%s", r.URL.Path)
	states, err := s.engine.Interactions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, statusOf(err), err, nil)
		return
	}
	now := time.Now()
	views := make([]*InteractionView, 0, len(states))
	for _, st := range states {
		views = append(views, viewOf(st, now))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleCancel called: path=%s", r.URL.Path)
	id := mux.Vars(r)["id"]
	if !s.engine.Cancel(id) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("execution %s is not running", id), nil)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"executionId": id, "canceled": true})
}

func runOptions(req *RunRequest) []engine.RunOption {
	var opts []engine.RunOption
	if req.ExecutionID != "" {
		opts = append(opts, engine.WithExecutionID(req.ExecutionID))
	}
	if req.TimeoutSeconds > 0 {
		opts = append(opts, engine.WithTimeout(time.Duration(req.TimeoutSeconds)*time.Second))
	}
	return opts
}

// rejected reports whether err kept the run from starting. Runs that
// started answer 200 with their Result, whatever the outcome.
func rejected(res *engine.Result, err error) bool {
	if err == nil {
		return false
	}
	if res == nil {
		return true
	}
	var verr *workflow.ValidationError
	return errors.As(err, &verr) ||
		errors.Is(err, engine.ErrEngineClosed) ||
		errors.Is(err, engine.ErrExecutionRunning)
}

func statusOf(err error) int {
	var verr *workflow.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, interaction.ErrInvalidResponse):
		return http.StatusBadRequest
	case errors.Is(err, interaction.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interaction.ErrExpired):
		return http.StatusGone
	case errors.Is(err, interaction.ErrAlreadyProcessed), errors.Is(err, engine.ErrExecutionRunning):
		return http.StatusConflict
	case errors.Is(err, engine.ErrEngineClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error, res *engine.Result) {
	log.Warnf("request failed with %d: %v", status, err)
	s.writeJSON(w, status, &ErrorResponse{Error: err.Error(), Result: resultView(res)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Error encoding response: %v", err)
	}
}

// sseWriter serializes chunk, heartbeat and result frames of one response.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	failed  bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

// chunk forwards fragments. The final empty chunk is left to finish, which
// sends the result in its place.
func (sw *sseWriter) chunk(c stream.Chunk, isLast bool) {
	if isLast {
		return
	}
	sw.event(EventChunk, c)
}

func (sw *sseWriter) heartbeat(now time.Time) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.write(fmt.Sprintf(": heartbeat %d\n\n", now.Unix()))
}

func (sw *sseWriter) finish(res *engine.Result, err error) {
	if rejected(res, err) {
		sw.event(EventError, &ErrorResponse{Error: err.Error(), Result: resultView(res)})
		return
	}
	sw.event(EventResult, resultView(res))
}

func (sw *sseWriter) event(name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("Error marshalling SSE event: %v", err)
		return
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.write(fmt.Sprintf("event: %s\ndata: %s\n\n", name, data))
}

func (sw *sseWriter) write(frame string) {
	if sw.failed {
		return
	}
	if _, err := fmt.Fprint(sw.w, frame); err != nil {
		// Client went away; the run still finishes.
		sw.failed = true
		return
	}
	sw.flusher.Flush()
}
