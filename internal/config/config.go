// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package config

import (
	"fmt"
	"time"
)

// Config holds configuration for both binaries. The producer reads
// Envelope, Producer, Reconcile and RetryQueue; the server reads Envelope,
// Database, Server and NATS. Logging is shared.
//
// Loading order (LoadWithKoanf):
//  1. Defaults
//  2. Optional YAML file (CONFIG_PATH, config.yaml)
//  3. Environment variables
type Config struct {
	Envelope   EnvelopeConfig   `koanf:"envelope"`
	Producer   ProducerConfig   `koanf:"producer"`
	Reconcile  ReconcileConfig  `koanf:"reconcile"`
	RetryQueue RetryQueueConfig `koanf:"retry_queue"`
	Database   DatabaseConfig   `koanf:"database"`
	Server     ServerConfig     `koanf:"server"`
	NATS       NATSConfig       `koanf:"nats"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// EnvelopeConfig is shared by the producer and the server. Both ends must
// agree on Key and Capacity.
type EnvelopeConfig struct {
	Key      string `koanf:"key"`
	Capacity int    `koanf:"capacity"`

	// Verify makes the server authenticate every envelope before storing it.
	Verify bool `koanf:"verify"`

	// DecryptEndpoint exposes POST /api/v1/envelopes/decrypt.
	DecryptEndpoint bool `koanf:"decrypt_endpoint"`
}

// ProducerConfig controls reading generation and primary dispatch.
type ProducerConfig struct {
	Period          time.Duration `koanf:"period"`
	DispatchTimeout time.Duration `koanf:"dispatch_timeout"`
	Entities        []string      `koanf:"entities"`
	Device          string        `koanf:"device"`

	// SinkURL is the ingestion server's base URL.
	SinkURL         string        `koanf:"sink_url"`
	ClientTimeout   time.Duration `koanf:"client_timeout"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`

	// BootstrapTimeout bounds the startup sequence query.
	BootstrapTimeout time.Duration `koanf:"bootstrap_timeout"`
}

// ReconcileConfig controls the retry queue drain.
type ReconcileConfig struct {
	Interval      time.Duration `koanf:"interval"`
	SubmitTimeout time.Duration `koanf:"submit_timeout"`
	BackoffBase   time.Duration `koanf:"backoff_base"`
	BackoffMax    time.Duration `koanf:"backoff_max"`
	RatePerSecond float64       `koanf:"rate"`
}

// RetryQueueConfig locates and tunes the Badger queue.
type RetryQueueConfig struct {
	Path         string        `koanf:"path"`
	SyncWrites   bool          `koanf:"sync_writes"`
	Compression  bool          `koanf:"compression"`
	GCInterval   time.Duration `koanf:"gc_interval"`
	GCRatio      float64       `koanf:"gc_ratio"`
	CloseTimeout time.Duration `koanf:"close_timeout"`
}

// DatabaseConfig selects the ingestion store.
type DatabaseConfig struct {
	// Driver is duckdb, postgres or memory.
	Driver string `koanf:"driver"`

	// DSN is a DuckDB file path ("" for in-memory) or a Postgres URL.
	DSN string `koanf:"dsn"`
}

// ServerConfig controls the ingestion HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// NATSConfig controls accepted-record fan-out.
type NATSConfig struct {
	Enabled         bool          `koanf:"enabled"`
	URL             string        `koanf:"url"`
	EmbeddedServer  bool          `koanf:"embedded_server"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	StoreDir        string        `koanf:"store_dir"`
	StreamName      string        `koanf:"stream_name"`
	MaxAge          time.Duration `koanf:"max_age"`
	DuplicateWindow time.Duration `koanf:"duplicate_window"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
