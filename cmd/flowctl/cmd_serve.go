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
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/server/rest"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(load loader) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			return serve(ctx, a, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.addr")
	return cmd
}

// serve runs the REST server until ctx is done, then drains in-flight
// requests.
func serve(ctx context.Context, a *app, addr string) error {
	var opts []rest.Option
	if origins := a.cfg.Server.AllowedOrigins; len(origins) > 0 {
		opts = append(opts, rest.WithAllowedOrigins(origins...))
	}
	if a.cfg.Server.MaxBodyBytes > 0 {
		opts = append(opts, rest.WithMaxBodyBytes(a.cfg.Server.MaxBodyBytes))
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           rest.New(a.engine, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.engine.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("workflow API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Infof("shutting down workflow API")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
