// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianFlow/services/flow/api"
	"github.com/AleutianAI/AleutianFlow/services/flow/runstore"
	"github.com/AleutianAI/AleutianFlow/services/flow/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the flow HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Address = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.address)")
	return cmd
}

// serve runs the API until SIGINT or SIGTERM, then cancels in-flight runs,
// waits for their checkpoints and drains HTTP connections.
func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	logger := a.slog()

	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	stopTelemetry, err := a.startTelemetry(ctx)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	storeCfg := cfg.Storage.RunStoreConfig()
	storeCfg.Logger = logger
	store, err := runstore.OpenBadgerStore(storeCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reg, err := a.registry(ctx)
	if err != nil {
		return err
	}
	svc, err := api.NewService(api.Config{
		Registry:      reg,
		Store:         store,
		Logger:        logger,
		RunTimeout:    cfg.Server.RunTimeout,
		NodeTimeout:   cfg.Server.NodeTimeout,
		ProgressRate:  rate.Limit(cfg.Server.ProgressRate),
		ProgressBurst: cfg.Server.ProgressBurst,
	})
	if err != nil {
		return err
	}

	router := api.NewRouter(api.NewHandlers(svc, logger), cfg.Telemetry.ServiceName, telemetry.MetricsHandler())
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting flow server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down flow server", slog.Int("active_runs", svc.ActiveRuns()))

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(svc.Shutdown(sctx), srv.Shutdown(sctx))
	})

	a.printer.Box("Aleutian Flow", "listening on "+cfg.Server.Address+"\nAPI under /v1/flow")
	return g.Wait()
}
