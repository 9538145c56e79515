//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package metric wires OpenTelemetry metrics and defines the workflow
// instruments recorded by the monitor package.
package metric

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	noopm "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	itelemetry "trpc.group/trpc-go/trpc-workflow-go/internal/telemetry"
)

// Meter is the global meter. It is a noop until Start is called.
var Meter metric.Meter = noopm.Meter{}

// Instrument names.
const (
	NameRuns         = "workflow.runs"
	NameRunDuration  = "workflow.run.duration"
	NameNodes        = "workflow.nodes"
	NameNodeDuration = "workflow.node.duration"
	NameTokens       = "workflow.tokens"
	NameCost         = "workflow.cost"
)

// Instruments groups the counters and histograms recorded per run and node.
type Instruments struct {
	Runs         metric.Int64Counter
	RunDuration  metric.Float64Histogram
	Nodes        metric.Int64Counter
	NodeDuration metric.Float64Histogram
	Tokens       metric.Int64Counter
	Cost         metric.Float64Counter
}

// NewInstruments creates the workflow instruments on m.
func NewInstruments(m metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	if in.Runs, err = m.Int64Counter(NameRuns,
		metric.WithDescription("Finished workflow runs by status.")); err != nil {
		return nil, err
	}
	if in.RunDuration, err = m.Float64Histogram(NameRunDuration,
		metric.WithDescription("Workflow run wall time."), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if in.Nodes, err = m.Int64Counter(NameNodes,
		metric.WithDescription("Dispatched nodes by type and status.")); err != nil {
		return nil, err
	}
	if in.NodeDuration, err = m.Float64Histogram(NameNodeDuration,
		metric.WithDescription("Node dispatch wall time."), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if in.Tokens, err = m.Int64Counter(NameTokens,
		metric.WithDescription("Tokens reported by dispatchers.")); err != nil {
		return nil, err
	}
	if in.Cost, err = m.Float64Counter(NameCost,
		metric.WithDescription("Cost reported by dispatchers.")); err != nil {
		return nil, err
	}
	return &in, nil
}

// Start installs an OTLP metric exporter and points Meter at it.
func Start(ctx context.Context, opts ...Option) (clean func() error, err error) {
	o := &options{
		serviceName:      itelemetry.ServiceName,
		serviceVersion:   itelemetry.ServiceVersion,
		serviceNamespace: itelemetry.ServiceNamespace,
		protocol:         itelemetry.ProtocolGRPC,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.endpoint == "" {
		o.endpoint = metricsEndpoint(o.protocol)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNamespace(o.serviceNamespace),
			semconv.ServiceName(o.serviceName),
			semconv.ServiceVersion(o.serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdkmetric.Exporter
	switch o.protocol {
	case itelemetry.ProtocolHTTP:
		exporter, err = otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(o.endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		conn, cerr := itelemetry.NewGRPCConn(o.endpoint)
		if cerr != nil {
			return nil, fmt.Errorf("failed to initialize metrics connection: %w", cerr)
		}
		exporter, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	Meter = mp.Meter(itelemetry.InstrumentName)

	return func() error {
		if err := mp.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown MeterProvider: %w", err)
		}
		return nil
	}, nil
}

func metricsEndpoint(protocol string) string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if protocol == itelemetry.ProtocolHTTP {
		return "localhost:4318"
	}
	return "localhost:4317"
}

// Option is a function that configures meter options.
type Option func(*options)

type options struct {
	endpoint         string
	protocol         string
	serviceName      string
	serviceVersion   string
	serviceNamespace string
}

// WithEndpoint sets the collector host:port, taking precedence over the
// OTEL_EXPORTER_OTLP_* environment variables.
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithProtocol selects "grpc" (default) or "http".
func WithProtocol(protocol string) Option {
	return func(o *options) { o.protocol = protocol }
}

// WithServiceName overrides the reported service name.
func WithServiceName(name string) Option {
	return func(o *options) { o.serviceName = name }
}
