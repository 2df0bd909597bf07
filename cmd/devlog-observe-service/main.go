// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/codervisor/devlog-sub006/lib/aggregate"
	"github.com/codervisor/devlog-sub006/lib/broadcast"
	"github.com/codervisor/devlog-sub006/lib/clock"
	"github.com/codervisor/devlog-sub006/lib/eventstore"
	"github.com/codervisor/devlog-sub006/lib/ingest"
	"github.com/codervisor/devlog-sub006/lib/metrics"
	"github.com/codervisor/devlog-sub006/lib/poll"
	"github.com/codervisor/devlog-sub006/lib/process"
	"github.com/codervisor/devlog-sub006/lib/service"
	"github.com/codervisor/devlog-sub006/lib/sessions"
	"github.com/codervisor/devlog-sub006/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if cfg.ShowVersion {
		version.Print("devlog-observe-service")
		return nil
	}

	logger, err := service.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	components, err := newPipeline(cfg, clock.Real(), logger, registry)
	if err != nil {
		return err
	}
	defer components.close()

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         cfg.ListenAddress,
		Handler:         components.api.router(),
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})

	group, groupCtx := errgroup.WithContext(ctx)
	components.broadcaster.Start(groupCtx)
	group.Go(func() error {
		return server.Serve(groupCtx)
	})
	group.Go(func() error {
		components.ingest.Run(groupCtx)
		return nil
	})

	logger.Info("devlog observe service running",
		"version", version.Info(),
		"address", cfg.ListenAddress,
		"database", cfg.DatabasePath,
		"auto_provision_projects", cfg.AutoProvisionProjects,
	)

	err = group.Wait()
	logger.Info("shutting down")
	return err
}

// pipeline is the wired set of components behind the HTTP API.
type pipeline struct {
	store       *eventstore.Store
	broadcaster *broadcast.Broadcaster
	ingest      *ingest.Service
	api         *api
}

// newPipeline opens the store and wires every component. The caller
// starts the broadcaster heartbeat and the ingest sweeper, and calls
// close when done.
func newPipeline(cfg config, clk clock.Clock, logger *slog.Logger, registry *prometheus.Registry) (*pipeline, error) {
	store, err := eventstore.Open(eventstore.Config{
		Path:        cfg.DatabasePath,
		PoolSize:    cfg.PoolSize,
		BusyTimeout: cfg.BusyTimeout,
		Clock:       clk,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening event store: %w", err)
	}

	pipelineMetrics := metrics.New(registry)

	broadcaster := broadcast.New(broadcast.Config{
		QueueSize:         cfg.QueueSize,
		Overflow:          cfg.Overflow,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Clock:             clk,
		Logger:            logger,
		Metrics:           pipelineMetrics,
	})

	sessionManager := sessions.NewManager(sessions.Config{
		Store:    store,
		Notifier: broadcaster,
		Clock:    clk,
		Logger:   logger,
		Metrics:  pipelineMetrics,
	})

	ingestService := ingest.New(ingest.Config{
		Store:                 store,
		Sessions:              sessionManager,
		Notifier:              broadcaster,
		AutoProvisionProjects: cfg.AutoProvisionProjects,
		ProjectIdleTimeout:    cfg.ProjectIdleTimeout,
		Clock:                 clk,
		Logger:                logger,
		Metrics:               pipelineMetrics,
	})

	return &pipeline{
		store:       store,
		broadcaster: broadcaster,
		ingest:      ingestService,
		api: &api{
			store:       store,
			ingest:      ingestService,
			sessions:    sessionManager,
			aggregate:   aggregate.New(aggregate.Config{Store: store, Clock: clk, Logger: logger}),
			broadcaster: broadcaster,
			poller: poll.New(poll.Config{
				Source:            store,
				Interval:          cfg.PollInterval,
				HeartbeatInterval: cfg.HeartbeatInterval,
				Clock:             clk,
				Logger:            logger,
				Metrics:           pipelineMetrics,
			}),
			gatherer:           registry,
			streamWriteTimeout: cfg.StreamWriteTimeout,
			clock:              clk,
			logger:             logger,
			metrics:            pipelineMetrics,
			startedAt:          clk.Now(),
		},
	}, nil
}

// close ends every live stream and releases the store.
func (p *pipeline) close() {
	p.broadcaster.Shutdown()
	p.ingest.Close()
	if err := p.store.Close(); err != nil {
		p.api.logger.Error("closing event store", "error", err)
	}
}
