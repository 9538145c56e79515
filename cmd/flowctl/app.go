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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // Register the sqlite3 driver.
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trpc.group/trpc-go/trpc-workflow-go/config"
	"trpc.group/trpc-go/trpc-workflow-go/dispatcher/builtin"
	"trpc.group/trpc-go/trpc-workflow-go/dispatcher/script"
	"trpc.group/trpc-go/trpc-workflow-go/engine"
	"trpc.group/trpc-go/trpc-workflow-go/interaction"
	"trpc.group/trpc-go/trpc-workflow-go/interaction/inmemory"
	imongo "trpc.group/trpc-go/trpc-workflow-go/interaction/mongo"
	iredis "trpc.group/trpc-go/trpc-workflow-go/interaction/redis"
	isqlite "trpc.group/trpc-go/trpc-workflow-go/interaction/sqlite"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/model/openai"
	"trpc.group/trpc-go/trpc-workflow-go/monitor"
	"trpc.group/trpc-go/trpc-workflow-go/retrieval"
	ropenai "trpc.group/trpc-go/trpc-workflow-go/retrieval/openai"
	"trpc.group/trpc-go/trpc-workflow-go/sandbox/container"
	"trpc.group/trpc-go/trpc-workflow-go/sandbox/lua"
	"trpc.group/trpc-go/trpc-workflow-go/telemetry/metric"
	"trpc.group/trpc-go/trpc-workflow-go/telemetry/trace"
)

const connectTimeout = 10 * time.Second

// containerLanguages are routed to the docker evaluator.
var containerLanguages = []string{"python", "bash", "sh", "javascript"}

// app is an engine with its collaborators built from configuration.
type app struct {
	cfg     *config.Config
	engine  *engine.Engine
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	// Logs go to stderr so results on stdout stay machine readable.
	cfg.ApplyLog(os.Stderr)
	a := &app{cfg: cfg}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	observers := []monitor.Observer{monitor.NewLogObserver(log.Default)}
	if a.cfg.Telemetry.Endpoint != "" {
		obs, err := a.startTelemetry(ctx)
		if err != nil {
			return err
		}
		if obs != nil {
			observers = append(observers, obs)
		}
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	opts, err := a.builtinOptions(ctx)
	if err != nil {
		return err
	}
	reg, err := builtin.NewRegistry(opts...)
	if err != nil {
		return err
	}
	engOpts := append(a.cfg.EngineOptions(),
		engine.WithStore(store),
		engine.WithObserver(monitor.Composite(observers...)),
	)
	if a.engine, err = engine.New(reg, engOpts...); err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		a.engine.Close()
		return nil
	})
	return nil
}

// close releases collaborators in reverse order of creation.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) startTelemetry(ctx context.Context) (monitor.Observer, error) {
	t := a.cfg.Telemetry
	if t.Traces {
		clean, err := trace.Start(ctx,
			trace.WithEndpoint(t.Endpoint),
			trace.WithProtocol(t.Protocol),
			trace.WithServiceName(t.ServiceName),
		)
		if err != nil {
			return nil, fmt.Errorf("start tracing: %w", err)
		}
		a.closers = append(a.closers, clean)
	}
	if !t.Metrics {
		return nil, nil
	}
	clean, err := metric.Start(ctx,
		metric.WithEndpoint(t.Endpoint),
		metric.WithProtocol(t.Protocol),
		metric.WithServiceName(t.ServiceName),
	)
	if err != nil {
		return nil, fmt.Errorf("start metrics: %w", err)
	}
	a.closers = append(a.closers, clean)
	return monitor.NewMetricObserver(metric.Meter)
}

func (a *app) openStore(ctx context.Context) (interaction.Store, error) {
	sc := a.cfg.Store
	switch sc.Backend {
	case config.StoreSQLite:
		db, err := sql.Open("sqlite3", sc.URL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", sc.URL, err)
		}
		s, err := isqlite.NewStore(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.StoreRedis:
		opts := []iredis.Option{iredis.WithRedisClientURL(sc.URL)}
		if sc.KeyPrefix != "" {
			opts = append(opts, iredis.WithKeyPrefix(sc.KeyPrefix))
		}
		s, err := iredis.NewStore(opts...)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.StoreMongo:
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		client, err := mongo.Connect(cctx, options.Client().ApplyURI(sc.URL))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		a.closers = append(a.closers, func() error {
			dctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			defer cancel()
			return client.Disconnect(dctx)
		})
		return imongo.NewStore(cctx, client, sc.Database, sc.Collection)
	default:
		return inmemory.NewStore(), nil
	}
}

func (a *app) builtinOptions(ctx context.Context) ([]builtin.Option, error) {
	cfg := a.cfg
	scriptOpts := []script.Option{script.WithEvaluator(lua.Language, lua.New(cfg.LuaOptions()...))}
	if cfg.Sandbox.Timeout > 0 {
		scriptOpts = append(scriptOpts, script.WithDefaultTimeout(cfg.Sandbox.Timeout))
	}
	if cfg.Sandbox.Backend == config.SandboxContainer {
		ev, err := container.New(ctx, cfg.ContainerOptions()...)
		if err != nil {
			return nil, fmt.Errorf("start container sandbox: %w", err)
		}
		a.closers = append(a.closers, ev.Close)
		for _, lang := range containerLanguages {
			scriptOpts = append(scriptOpts, script.WithEvaluator(lang, ev))
		}
		scriptOpts = append(scriptOpts, script.WithDefaultLanguage("python"))
	}
	opts := []builtin.Option{
		builtin.WithHTTPOptions(cfg.HTTPOptions()...),
		builtin.WithScriptOptions(scriptOpts...),
	}

	mc := cfg.Model
	if mc.APIKey == "" {
		log.Infof("model.apiKey is empty: llm and retrieval nodes are disabled")
		return opts, nil
	}
	modelOpts := []openai.Option{openai.WithAPIKey(mc.APIKey)}
	embedOpts := []ropenai.Option{ropenai.WithAPIKey(mc.APIKey), ropenai.WithModel(mc.EmbeddingModel)}
	if mc.BaseURL != "" {
		modelOpts = append(modelOpts, openai.WithBaseURL(mc.BaseURL))
		embedOpts = append(embedOpts, ropenai.WithBaseURL(mc.BaseURL))
	}
	opts = append(opts, builtin.WithModel(openai.New(mc.Name, modelOpts...)))

	if cfg.Retrieval.Dir != "" {
		idx, err := buildIndex(ctx, cfg.Retrieval, ropenai.New(embedOpts...))
		if err != nil {
			return nil, err
		}
		opts = append(opts, builtin.WithRetriever(idx))
	}
	return opts, nil
}

// buildIndex embeds the files under rc.Dir matching rc.Patterns.
func buildIndex(ctx context.Context, rc config.RetrievalConfig, e retrieval.Embedder) (*retrieval.Index, error) {
	var idxOpts []retrieval.IndexOption
	if rc.TopK > 0 {
		idxOpts = append(idxOpts, retrieval.WithTopK(rc.TopK))
	}
	if rc.ChunkSize > 0 {
		idxOpts = append(idxOpts, retrieval.WithChunker(retrieval.NewChunker(
			retrieval.WithChunkSize(rc.ChunkSize),
			retrieval.WithOverlap(rc.Overlap),
		)))
	}
	idx := retrieval.NewIndex(e, idxOpts...)

	var docs []*retrieval.Document
	err := filepath.WalkDir(rc.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !matchesAny(d.Name(), rc.Patterns) {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(rc.Dir, path)
		docs = append(docs, &retrieval.Document{
			ID:       rel,
			Content:  string(data),
			Metadata: map[string]any{"path": rel},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read retrieval dir %s: %w", rc.Dir, err)
	}
	if err := idx.Add(ctx, docs...); err != nil {
		return nil, fmt.Errorf("index retrieval documents: %w", err)
	}
	log.Infof("indexed %d documents from %s", len(docs), rc.Dir)
	return idx, nil
}

func matchesAny(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
