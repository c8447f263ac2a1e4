// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package config

import (
	"github.com/tomtom215/vitalstream/internal/api"
	"github.com/tomtom215/vitalstream/internal/client"
	"github.com/tomtom215/vitalstream/internal/events"
	"github.com/tomtom215/vitalstream/internal/logging"
	"github.com/tomtom215/vitalstream/internal/producer"
	"github.com/tomtom215/vitalstream/internal/reconcile"
	"github.com/tomtom215/vitalstream/internal/retryqueue"
)

// LoggingConfig converts to the logging package's config.
func (c *Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.Format = c.Logging.Format
	lc.Caller = c.Logging.Caller
	return lc
}

// SchedulerConfig converts to the producer scheduler config.
func (c *Config) SchedulerConfig() producer.Config {
	return producer.Config{
		Period:          c.Producer.Period,
		DispatchTimeout: c.Producer.DispatchTimeout,
		Entities:        c.Producer.Entities,
	}
}

// ClientConfig converts to the sink client config.
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		BaseURL:         c.Producer.SinkURL,
		Timeout:         c.Producer.ClientTimeout,
		BreakerFailures: c.Producer.BreakerFailures,
		BreakerCooldown: c.Producer.BreakerCooldown,
	}
}

// ReconcileConfig converts to the reconciliation loop config.
func (c *Config) ReconcileConfig() reconcile.Config {
	return reconcile.Config{
		Interval:      c.Reconcile.Interval,
		SubmitTimeout: c.Reconcile.SubmitTimeout,
		BackoffBase:   c.Reconcile.BackoffBase,
		BackoffMax:    c.Reconcile.BackoffMax,
		RatePerSecond: c.Reconcile.RatePerSecond,
	}
}

// RetryQueueConfig converts to the Badger queue config, keeping engine
// tuning at its defaults.
func (c *Config) RetryQueueConfig() retryqueue.Config {
	rc := retryqueue.DefaultConfig()
	rc.Path = c.RetryQueue.Path
	rc.SyncWrites = c.RetryQueue.SyncWrites
	rc.Compression = c.RetryQueue.Compression
	rc.GCInterval = c.RetryQueue.GCInterval
	rc.GCRatio = c.RetryQueue.GCRatio
	rc.CloseTimeout = c.RetryQueue.CloseTimeout
	return rc
}

// EventsConfig converts to the events config.
func (c *Config) EventsConfig() events.Config {
	ec := events.DefaultConfig()
	ec.Enabled = c.NATS.Enabled
	ec.URL = c.NATS.URL
	ec.Embedded = c.NATS.EmbeddedServer
	ec.Host = c.NATS.Host
	ec.Port = c.NATS.Port
	ec.StoreDir = c.NATS.StoreDir
	ec.StreamName = c.NATS.StreamName
	ec.MaxAge = c.NATS.MaxAge
	ec.DuplicateWindow = c.NATS.DuplicateWindow
	return ec
}

// MiddlewareConfig converts to the HTTP middleware config.
func (c *Config) MiddlewareConfig() api.MiddlewareConfig {
	mc := api.DefaultMiddlewareConfig()
	mc.CORSAllowedOrigins = c.Server.CORSOrigins
	mc.RateLimitRequests = c.Server.RateLimitReqs
	mc.RateLimitWindow = c.Server.RateLimitWindow
	mc.RateLimitDisabled = c.Server.RateLimitDisabled
	return mc
}
