// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/vitalstream/internal/api"
	"github.com/tomtom215/vitalstream/internal/config"
	"github.com/tomtom215/vitalstream/internal/envelope"
	"github.com/tomtom215/vitalstream/internal/ingest"
	"github.com/tomtom215/vitalstream/internal/logging"
	"github.com/tomtom215/vitalstream/internal/supervisor"
	"github.com/tomtom215/vitalstream/internal/supervisor/services"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.ValidateServer(); err != nil {
		logging.Fatal().Err(err).Msg("Invalid server configuration")
	}

	logging.Init(cfg.LoggingConfig())
	logging.Info().
		Str("db_driver", cfg.Database.Driver).
		Bool("verify_envelopes", cfg.Envelope.Verify).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Msg("Starting vitals ingestion server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, pinger, err := openStore(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open ingestion store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing ingestion store")
		}
	}()

	evts, err := initEvents(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize event publishing")
	}
	defer evts.Shutdown()

	opts := []ingest.Option{ingest.WithNotifier(evts.Publisher)}
	if cfg.Envelope.Key != "" {
		codec, err := envelope.New(cfg.Envelope.Key, cfg.Envelope.Capacity)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize envelope codec")
		}
		if cfg.Envelope.Verify {
			opts = append(opts, ingest.WithVerifier(codec))
		} else {
			opts = append(opts, ingest.WithDecrypter(codec))
		}
	} else {
		logging.Warn().Msg("VITALS_KEY not set: envelopes are stored unverified")
	}
	svc := ingest.NewService(store, opts...)

	router := api.NewRouter(
		api.NewHandler(svc, pinger),
		api.NewMiddleware(cfg.MiddlewareConfig()),
		api.WithDecryptEndpoint(cfg.Envelope.DecryptEndpoint),
	)
	if cfg.Envelope.DecryptEndpoint {
		logging.Warn().Msg("Decrypt endpoint enabled (ENABLE_DECRYPT=true): plaintext readings are served over HTTP")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Setup(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout + 5*time.Second
	tree, err := supervisor.NewSupervisorTree("vitals-server", logging.NewSlogLogger(), treeCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}
	tree.AddAPIService(services.NewHTTPServerService(server, server.Addr, cfg.Server.ShutdownTimeout))

	run(ctx, cancel, tree)
	logging.Info().Msg("Ingestion server stopped")
}

// openStore returns the configured store and, for SQL stores, the pinger
// used by the readiness probe.
func openStore(ctx context.Context, cfg *config.Config) (ingest.Store, api.Pinger, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logging.Warn().Msg("Using in-memory store (DB_DRIVER=memory): records are lost on restart")
		return ingest.NewMemoryStore(), nil, nil
	}

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	store, err := ingest.Open(openCtx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	logging.Info().Str("driver", cfg.Database.Driver).Msg("Ingestion store ready")
	return store, store, nil
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
