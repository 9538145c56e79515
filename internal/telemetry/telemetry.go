//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds names and helpers shared by the tracing and metric
// packages and by the engine's instrumentation.
package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// telemetry service constants.
const (
	ServiceName      = "trpc-workflow"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-go-workflow"
	InstrumentName   = "trpc.go.workflow"

	SpanNameRun          = "workflow.run"
	SpanNameResume       = "workflow.resume"
	SpanNamePrefixNode   = "workflow.node"
	SpanNameSweepExpired = "workflow.interaction.sweep"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// span attribute keys.
const (
	KeyExecutionID    = "trpc.go.workflow.execution_id"
	KeyWorkflowID     = "trpc.go.workflow.workflow_id"
	KeyNodeID         = "trpc.go.workflow.node_id"
	KeyNodeType       = "trpc.go.workflow.node_type"
	KeyNodeStatus     = "trpc.go.workflow.node_status"
	KeyRunStatus      = "trpc.go.workflow.run_status"
	KeyInteractionID  = "trpc.go.workflow.interaction_id"
	KeyNodesProcessed = "trpc.go.workflow.nodes_processed"
	KeyTokens         = "trpc.go.workflow.tokens"
	KeyLoopIteration  = "trpc.go.workflow.loop_iteration"
)

// NodeSpanName returns the span name used for a node dispatch.
func NodeSpanName(nodeType string) string {
	return SpanNamePrefixNode + " " + nodeType
}

// TraceNode annotates a node span.
func TraceNode(span trace.Span, executionID, nodeID, nodeType string) {
	span.SetAttributes(
		attribute.String(KeyExecutionID, executionID),
		attribute.String(KeyNodeID, nodeID),
		attribute.String(KeyNodeType, nodeType),
	)
}

// TraceNodeResult records the status and token usage of a finished node.
func TraceNodeResult(span trace.Span, status string, tokens int64) {
	span.SetAttributes(attribute.String(KeyNodeStatus, status))
	if tokens > 0 {
		span.SetAttributes(attribute.Int64(KeyTokens, tokens))
	}
}

// TraceRun annotates a run span.
func TraceRun(span trace.Span, executionID, workflowID string) {
	span.SetAttributes(
		attribute.String(KeyExecutionID, executionID),
		attribute.String(KeyWorkflowID, workflowID),
	)
}

// TraceRunResult records the terminal status of a run.
func TraceRunResult(span trace.Span, status string, nodesProcessed int, interactionID string) {
	span.SetAttributes(
		attribute.String(KeyRunStatus, status),
		attribute.Int(KeyNodesProcessed, nodesProcessed),
	)
	if interactionID != "" {
		span.SetAttributes(attribute.String(KeyInteractionID, interactionID))
	}
}

// NewGRPCConn creates a new gRPC connection to the OpenTelemetry Collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	// Insecure transport; put a TLS-terminating collector in front in production.
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
