// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/vitalstream/internal/envelope"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/vitalstream/config.yaml",
	"/etc/vitalstream/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults. The producer timings follow
// the 1 s generation period and 5 s drain interval the pipeline was tuned for.
func defaultConfig() *Config {
	return &Config{
		Envelope: EnvelopeConfig{
			Key:             "",
			Capacity:        envelope.DefaultCapacity,
			Verify:          true,
			DecryptEndpoint: false,
		},
		Producer: ProducerConfig{
			Period:           time.Second,
			DispatchTimeout:  time.Second,
			Entities:         []string{"patient1"},
			Device:           "",
			SinkURL:          "http://127.0.0.1:8000",
			ClientTimeout:    10 * time.Second,
			BreakerFailures:  5,
			BreakerCooldown:  30 * time.Second,
			BootstrapTimeout: 5 * time.Second,
		},
		Reconcile: ReconcileConfig{
			Interval:      5 * time.Second,
			SubmitTimeout: 2 * time.Second,
			BackoffBase:   time.Second,
			BackoffMax:    5 * time.Minute,
			RatePerSecond: 50,
		},
		RetryQueue: RetryQueueConfig{
			Path:         "/data/retry_queue",
			SyncWrites:   true,
			Compression:  true,
			GCInterval:   10 * time.Minute,
			GCRatio:      0.5,
			CloseTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "duckdb",
			DSN:    "/data/vitals.duckdb",
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8000,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{"*"},
			RateLimitReqs:     6000,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		NATS: NATSConfig{
			Enabled:         false,
			URL:             "nats://127.0.0.1:4222",
			EmbeddedServer:  true,
			Host:            "127.0.0.1",
			Port:            4222,
			StoreDir:        "/data/nats/jetstream",
			StreamName:      "VITALS",
			MaxAge:          7 * 24 * time.Hour,
			DuplicateWindow: 2 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration with layered sources:
//  1. Defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
//
// The result is validated before it is returned.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// VITALS_KEY -> envelope.key, DB_DSN -> database.dsn
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file found, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths are parsed as comma-separated lists when they arrive as strings.
var sliceConfigPaths = []string{
	"producer.entities",
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envMappings maps recognized environment variables to koanf paths.
// Unmapped variables are ignored so the process environment cannot
// pollute the config.
var envMappings = map[string]string{
	// Envelope
	"vitals_key":        "envelope.key",
	"envelope_capacity": "envelope.capacity",
	"verify_envelopes":  "envelope.verify",
	"enable_decrypt":    "envelope.decrypt_endpoint",

	// Producer
	"producer_period":            "producer.period",
	"dispatch_timeout":           "producer.dispatch_timeout",
	"producer_entities":          "producer.entities",
	"producer_device":            "producer.device",
	"sink_url":                   "producer.sink_url",
	"sink_client_timeout":        "producer.client_timeout",
	"sink_breaker_failures":      "producer.breaker_failures",
	"sink_breaker_cooldown":      "producer.breaker_cooldown",
	"producer_bootstrap_timeout": "producer.bootstrap_timeout",

	// Reconciliation
	"reconcile_interval":       "reconcile.interval",
	"reconcile_submit_timeout": "reconcile.submit_timeout",
	"reconcile_backoff_base":   "reconcile.backoff_base",
	"reconcile_backoff_max":    "reconcile.backoff_max",
	"reconcile_rate":           "reconcile.rate",

	// Retry queue
	"retry_queue_path":          "retry_queue.path",
	"retry_queue_sync_writes":   "retry_queue.sync_writes",
	"retry_queue_compression":   "retry_queue.compression",
	"retry_queue_gc_interval":   "retry_queue.gc_interval",
	"retry_queue_gc_ratio":      "retry_queue.gc_ratio",
	"retry_queue_close_timeout": "retry_queue.close_timeout",

	// Database
	"db_driver": "database.driver",
	"db_dsn":    "database.dsn",

	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"cors_origins":          "server.cors_origins",
	"rate_limit_requests":   "server.rate_limit_reqs",
	"rate_limit_window":     "server.rate_limit_window",
	"disable_rate_limit":    "server.rate_limit_disabled",

	// NATS
	"nats_enabled":          "nats.enabled",
	"nats_url":              "nats.url",
	"nats_embedded":         "nats.embedded_server",
	"nats_host":             "nats.host",
	"nats_port":             "nats.port",
	"nats_store_dir":        "nats.store_dir",
	"nats_stream":           "nats.stream_name",
	"nats_max_age":          "nats.max_age",
	"nats_duplicate_window": "nats.duplicate_window",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
