//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, SandboxLua, cfg.Sandbox.Backend)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.EngineOptions())
	assert.Empty(t, cfg.HTTPOptions())
	assert.Empty(t, cfg.LuaOptions())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
log:
  level: debug
  format: json
engine:
  runTimeout: 90s
  maxConcurrentRuns: 8
  interactionTTL: 2h
  maxLoopIterations: 20
sandbox:
  timeout: 3s
  lua:
    callStackSize: 64
    registrySize: 512
    registryMaxSize: 4096
http:
  timeout: 5s
  maxResponseBytes: 2048
store:
  backend: sqlite
  url: /tmp/interactions.db
server:
  addr: 127.0.0.1:9000
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 90*time.Second, cfg.Engine.RunTimeout)
	assert.Equal(t, 2*time.Hour, cfg.Engine.InteractionTTL)
	assert.Equal(t, 3*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, "interactions", cfg.Store.Collection, "defaults survive partial sections")
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)

	assert.Len(t, cfg.EngineOptions(), 4)
	assert.Len(t, cfg.HTTPOptions(), 2)
	assert.Len(t, cfg.LuaOptions(), 2)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown store", "store: {backend: etcd}", `unknown backend "etcd"`},
		{"store without url", "store: {backend: redis}", "store.url"},
		{"unknown sandbox", "sandbox: {backend: v8}", "sandbox.backend"},
		{"unknown log format", "log: {format: xml}", "log.format"},
		{"negative bound", "engine: {maxLoopIterations: -1}", "must not be negative"},
		{"malformed yaml", "engine: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"FLOW_LOG_LEVEL":                  "warn",
		"FLOW_ENGINE_RUN_TIMEOUT":         "45s",
		"FLOW_ENGINE_MAX_CONCURRENT_RUNS": "4",
		"FLOW_STORE_BACKEND":              "redis",
		"FLOW_STORE_URL":                  "redis://localhost:6379/0",
		"FLOW_MODEL_API_KEY":              "sk-test",
		"FLOW_SERVER_ADDR":                " :9090 ",
		"FLOW_SANDBOX_IMAGE":              "",
	}))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 45*time.Second, cfg.Engine.RunTimeout)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrentRuns)
	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Empty(t, cfg.Sandbox.Container.Image, "empty values are ignored")
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_Malformed(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"FLOW_ENGINE_RUN_TIMEOUT":         "soon",
		"FLOW_ENGINE_MAX_CONCURRENT_RUNS": "many",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLOW_ENGINE_RUN_TIMEOUT")
	assert.Contains(t, err.Error(), "FLOW_ENGINE_MAX_CONCURRENT_RUNS")
	assert.Zero(t, cfg.Engine.RunTimeout)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  maxLoopIterations: 7\n"), 0o600))
	t.Setenv("FLOW_ENGINE_HEARTBEAT_INTERVAL", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.MaxLoopIterations)
	assert.Equal(t, 2*time.Second, cfg.Engine.HeartbeatInterval)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}
