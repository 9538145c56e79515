//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// flowctl runs workflows from files and serves the workflow REST API.
//
// Usage:
//
//	flowctl run -f workflow.yaml [--input key=value] [--inputs-file inputs.json] [--stream]
//	flowctl resume <interaction-id> --response '<json>' [--stream]
//	flowctl interactions <execution-id>
//	flowctl serve [--addr :8080]
//
// Every command reads --config (YAML) and FLOW_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-workflow-go/config"
)

// version is set at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "flowctl",
		Short:         "Run and serve node-based workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")

	load := func(ctx context.Context) (*app, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return newApp(ctx, cfg)
	}
	root.AddCommand(
		newRunCmd(load),
		newResumeCmd(load),
		newInteractionsCmd(load),
		newServeCmd(load),
	)
	return root
}

// loader builds the app for one command invocation.
type loader func(ctx context.Context) (*app, error)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
