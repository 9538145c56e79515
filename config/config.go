//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package config loads the runtime configuration of a workflow service from
// a YAML file and FLOW_* environment variables.
//
// Supported environment variables:
//
//	FLOW_LOG_LEVEL, FLOW_LOG_FORMAT
//	FLOW_ENGINE_RUN_TIMEOUT, FLOW_ENGINE_MAX_CONCURRENT_RUNS,
//	FLOW_ENGINE_INTERACTION_TTL, FLOW_ENGINE_HEARTBEAT_INTERVAL,
//	FLOW_ENGINE_MAX_LOOP_ITERATIONS, FLOW_ENGINE_SWEEP_INTERVAL
//	FLOW_SANDBOX_BACKEND, FLOW_SANDBOX_TIMEOUT, FLOW_SANDBOX_IMAGE
//	FLOW_HTTP_TIMEOUT, FLOW_HTTP_MAX_RESPONSE_BYTES
//	FLOW_STORE_BACKEND, FLOW_STORE_URL, FLOW_STORE_DATABASE
//	FLOW_MODEL_NAME, FLOW_MODEL_API_KEY, FLOW_MODEL_BASE_URL, FLOW_EMBEDDING_MODEL
//	FLOW_RETRIEVAL_DIR
//	FLOW_TELEMETRY_ENDPOINT, FLOW_TELEMETRY_PROTOCOL, FLOW_TELEMETRY_SERVICE_NAME
//	FLOW_SERVER_ADDR
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher/httprequest"
	"trpc.group/trpc-go/trpc-workflow-go/engine"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/sandbox/container"
	"trpc.group/trpc-go/trpc-workflow-go/sandbox/lua"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLOW_"

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
)

// Sandbox backends.
const (
	SandboxLua       = "lua"
	SandboxContainer = "container"
)

// Config is the whole service configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Engine    EngineConfig    `yaml:"engine"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`
	Model     ModelConfig     `yaml:"model"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
}

// LogConfig configures the log package.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig maps to engine options. Zero values keep engine defaults.
type EngineConfig struct {
	RunTimeout        time.Duration `yaml:"runTimeout"`
	MaxConcurrentRuns int           `yaml:"maxConcurrentRuns"`
	InteractionTTL    time.Duration `yaml:"interactionTTL"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	MaxLoopIterations int           `yaml:"maxLoopIterations"`
	SweepInterval     time.Duration `yaml:"sweepInterval"`
}

// SandboxConfig selects and bounds the code node evaluator.
type SandboxConfig struct {
	Backend string        `yaml:"backend"`
	Timeout time.Duration `yaml:"timeout"`
	Lua     LuaConfig     `yaml:"lua"`
	// Container settings apply to the container backend.
	Container ContainerConfig `yaml:"container"`
}

// LuaConfig bounds the Lua interpreter.
type LuaConfig struct {
	CallStackSize   int `yaml:"callStackSize"`
	RegistrySize    int `yaml:"registrySize"`
	RegistryMaxSize int `yaml:"registryMaxSize"`
	MaxLogLines     int `yaml:"maxLogLines"`
}

// ContainerConfig configures the docker evaluator.
type ContainerConfig struct {
	Host        string `yaml:"host"`
	Image       string `yaml:"image"`
	MemoryLimit int64  `yaml:"memoryLimit"`
}

// HTTPConfig bounds the http-request node.
type HTTPConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxResponseBytes int           `yaml:"maxResponseBytes"`
	UserAgent        string        `yaml:"userAgent"`
}

// StoreConfig selects the interaction store.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// URL is a file path for sqlite, a redis:// URL or a mongodb:// URI.
	URL        string `yaml:"url"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	KeyPrefix  string `yaml:"keyPrefix"`
}

// ModelConfig configures the OpenAI compatible provider behind llm and
// retrieval nodes. Both are disabled while APIKey is empty.
type ModelConfig struct {
	Name           string `yaml:"name"`
	APIKey         string `yaml:"apiKey"`
	BaseURL        string `yaml:"baseURL"`
	EmbeddingModel string `yaml:"embeddingModel"`
}

// RetrievalConfig seeds the in-memory index behind retrieval nodes. Files
// under Dir are indexed at startup.
type RetrievalConfig struct {
	Dir       string   `yaml:"dir"`
	Patterns  []string `yaml:"patterns"`
	TopK      int      `yaml:"topK"`
	ChunkSize int      `yaml:"chunkSize"`
	Overlap   int      `yaml:"overlap"`
}

// TelemetryConfig configures OTLP export. Export is off while Endpoint is
// empty.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Protocol    string `yaml:"protocol"`
	ServiceName string `yaml:"serviceName"`
	Traces      bool   `yaml:"traces"`
	Metrics     bool   `yaml:"metrics"`
}

// ServerConfig configures the REST surface.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	MaxBodyBytes   int64    `yaml:"maxBodyBytes"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: log.LevelInfo, Format: log.FormatConsole},
		Sandbox: SandboxConfig{Backend: SandboxLua},
		Store:   StoreConfig{Backend: StoreMemory, Database: "workflow", Collection: "interactions"},
		Model:   ModelConfig{Name: "gpt-4o-mini", EmbeddingModel: "text-embedding-3-small"},
		Retrieval: RetrievalConfig{
			Patterns: []string{"*.md", "*.txt"},
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "trpc-workflow-go",
			Traces:      true,
			Metrics:     true,
		},
		Server: ServerConfig{Addr: ":8080", AllowedOrigins: []string{"*"}},
	}
}

// Load reads path over the defaults and applies the environment. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without reading the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from lookup, normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	env := &envReader{lookup: lookup}
	env.str("LOG_LEVEL", &c.Log.Level)
	env.str("LOG_FORMAT", &c.Log.Format)

	env.duration("ENGINE_RUN_TIMEOUT", &c.Engine.RunTimeout)
	env.integer("ENGINE_MAX_CONCURRENT_RUNS", &c.Engine.MaxConcurrentRuns)
	env.duration("ENGINE_INTERACTION_TTL", &c.Engine.InteractionTTL)
	env.duration("ENGINE_HEARTBEAT_INTERVAL", &c.Engine.HeartbeatInterval)
	env.integer("ENGINE_MAX_LOOP_ITERATIONS", &c.Engine.MaxLoopIterations)
	env.duration("ENGINE_SWEEP_INTERVAL", &c.Engine.SweepInterval)

	env.str("SANDBOX_BACKEND", &c.Sandbox.Backend)
	env.duration("SANDBOX_TIMEOUT", &c.Sandbox.Timeout)
	env.str("SANDBOX_IMAGE", &c.Sandbox.Container.Image)

	env.duration("HTTP_TIMEOUT", &c.HTTP.Timeout)
	env.integer("HTTP_MAX_RESPONSE_BYTES", &c.HTTP.MaxResponseBytes)

	env.str("STORE_BACKEND", &c.Store.Backend)
	env.str("STORE_URL", &c.Store.URL)
	env.str("STORE_DATABASE", &c.Store.Database)

	env.str("MODEL_NAME", &c.Model.Name)
	env.str("MODEL_API_KEY", &c.Model.APIKey)
	env.str("MODEL_BASE_URL", &c.Model.BaseURL)
	env.str("EMBEDDING_MODEL", &c.Model.EmbeddingModel)
	env.str("RETRIEVAL_DIR", &c.Retrieval.Dir)

	env.str("TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	env.str("TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	env.str("TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)

	env.str("SERVER_ADDR", &c.Server.Addr)
	return errors.Join(env.errs...)
}

// Validate rejects unknown backends and negative bounds.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case StoreMemory, StoreSQLite, StoreRedis, StoreMongo:
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if c.Store.Backend != StoreMemory && c.Store.URL == "" {
		errs = append(errs, fmt.Errorf("store.url: required for backend %q", c.Store.Backend))
	}
	switch c.Sandbox.Backend {
	case SandboxLua, SandboxContainer:
	default:
		errs = append(errs, fmt.Errorf("sandbox.backend: unknown backend %q", c.Sandbox.Backend))
	}
	switch c.Log.Format {
	case log.FormatConsole, log.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if c.Engine.MaxConcurrentRuns < 0 || c.Engine.MaxLoopIterations < 0 {
		errs = append(errs, errors.New("engine: bounds must not be negative"))
	}
	return errors.Join(errs...)
}

// EngineOptions maps the engine section to engine options.
func (c *Config) EngineOptions() []engine.Option {
	e := c.Engine
	var opts []engine.Option
	if e.RunTimeout > 0 {
		opts = append(opts, engine.WithRunTimeout(e.RunTimeout))
	}
	if e.MaxConcurrentRuns > 0 {
		opts = append(opts, engine.WithMaxConcurrentRuns(e.MaxConcurrentRuns))
	}
	if e.InteractionTTL > 0 {
		opts = append(opts, engine.WithInteractionTTL(e.InteractionTTL))
	}
	if e.HeartbeatInterval > 0 {
		opts = append(opts, engine.WithHeartbeatInterval(e.HeartbeatInterval))
	}
	if e.MaxLoopIterations > 0 {
		opts = append(opts, engine.WithMaxLoopIterations(e.MaxLoopIterations))
	}
	if e.SweepInterval > 0 {
		opts = append(opts, engine.WithSweepInterval(e.SweepInterval))
	}
	return opts
}

// HTTPOptions maps the http section to http-request node options.
func (c *Config) HTTPOptions() []httprequest.Option {
	var opts []httprequest.Option
	if c.HTTP.Timeout > 0 {
		opts = append(opts, httprequest.WithTimeout(c.HTTP.Timeout))
	}
	if c.HTTP.MaxResponseBytes > 0 {
		opts = append(opts, httprequest.WithMaxResponseBytes(c.HTTP.MaxResponseBytes))
	}
	if c.HTTP.UserAgent != "" {
		opts = append(opts, httprequest.WithUserAgent(c.HTTP.UserAgent))
	}
	return opts
}

// LuaOptions maps the sandbox.lua section to evaluator options.
func (c *Config) LuaOptions() []lua.Option {
	l := c.Sandbox.Lua
	var opts []lua.Option
	if l.CallStackSize > 0 {
		opts = append(opts, lua.WithCallStackSize(l.CallStackSize))
	}
	if l.RegistrySize > 0 && l.RegistryMaxSize >= l.RegistrySize {
		opts = append(opts, lua.WithRegistryLimit(l.RegistrySize, l.RegistryMaxSize))
	}
	if l.MaxLogLines > 0 {
		opts = append(opts, lua.WithMaxLogLines(l.MaxLogLines))
	}
	return opts
}

// ContainerOptions maps the sandbox.container section to evaluator options.
func (c *Config) ContainerOptions() []container.Option {
	cc := c.Sandbox.Container
	var opts []container.Option
	if cc.Host != "" {
		opts = append(opts, container.WithHost(cc.Host))
	}
	if cc.Image != "" {
		opts = append(opts, container.WithImage(cc.Image))
	}
	if cc.MemoryLimit > 0 {
		opts = append(opts, container.WithMemoryLimit(cc.MemoryLimit))
	}
	return opts
}

// ApplyLog configures the log package to write to w, stdout when nil.
func (c *Config) ApplyLog(w io.Writer) {
	log.SetFormat(c.Log.Format, w)
	log.SetLevel(c.Log.Level)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) get(key string) (string, bool) {
	v, ok := r.lookup(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = n
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = d
}
