// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/vitalstream/internal/client"
	"github.com/tomtom215/vitalstream/internal/config"
	"github.com/tomtom215/vitalstream/internal/envelope"
	"github.com/tomtom215/vitalstream/internal/logging"
	"github.com/tomtom215/vitalstream/internal/producer"
	"github.com/tomtom215/vitalstream/internal/reconcile"
	"github.com/tomtom215/vitalstream/internal/retryqueue"
	"github.com/tomtom215/vitalstream/internal/sequence"
	"github.com/tomtom215/vitalstream/internal/supervisor"
	"github.com/tomtom215/vitalstream/internal/supervisor/services"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.ValidateProducer(); err != nil {
		logging.Fatal().Err(err).Msg("Invalid producer configuration")
	}

	logging.Init(cfg.LoggingConfig())
	logging.Info().
		Strs("entities", cfg.Producer.Entities).
		Str("sink_url", cfg.Producer.SinkURL).
		Dur("period", cfg.Producer.Period).
		Msg("Starting vitals producer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	codec, err := envelope.New(cfg.Envelope.Key, cfg.Envelope.Capacity)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize envelope codec")
	}
	sink := client.New(cfg.ClientConfig())

	authority := sequence.New()
	bootCtx, bootCancel := context.WithTimeout(ctx, cfg.Producer.BootstrapTimeout)
	err = authority.Initialize(bootCtx, sink, cfg.Producer.Entities)
	bootCancel()
	if err != nil {
		if !errors.Is(err, sequence.ErrDegradedStart) {
			logging.Fatal().Err(err).Msg("Failed to initialize sequence authority")
		}
		logging.Warn().Err(err).Msg("Continuing in degraded mode")
	}

	qcfg := cfg.RetryQueueConfig()
	queue, err := retryqueue.Open(&qcfg)
	if err != nil {
		logging.Fatal().Err(err).Str("path", qcfg.Path).Msg("Failed to open retry queue")
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing retry queue")
		}
	}()
	if stats := queue.Stats(); stats.Pending > 0 {
		logging.Info().Int64("pending", stats.Pending).Msg("Retry queue has undelivered packets from a previous run")
	}

	sched := producer.New(cfg.SchedulerConfig(), authority, codec, sink, queue,
		producer.SimulatedSensor{Device: cfg.Producer.Device})
	loop := reconcile.New(queue, sink, cfg.ReconcileConfig())

	// The tree must outlast an in-flight dispatch and one fallback submit.
	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Producer.DispatchTimeout + cfg.Reconcile.SubmitTimeout + 5*time.Second

	tree, err := supervisor.NewSupervisorTree("vitals-producer", logging.NewSlogLogger(), treeCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}
	tree.AddDataService(services.NewLoopService("retry-queue-gc", retryqueue.NewGCLoop(queue)))
	tree.AddProducerService(services.NewLoopService("scheduler", sched))
	tree.AddProducerService(services.NewLoopService("reconcile", loop))

	run(ctx, cancel, tree)

	if stats := queue.Stats(); stats.Pending > 0 {
		logging.Warn().Int64("pending", stats.Pending).Msg("Undelivered packets remain queued for the next run")
	}
	logging.Info().Msg("Producer stopped")
}

// run serves tree until SIGINT/SIGTERM or a fatal supervisor error, then
// reports services that missed the shutdown deadline.
func run(ctx context.Context, cancel context.CancelFunc, tree *supervisor.SupervisorTree) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
		cancel()
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}
}
