// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package retryqueue

import (
	"time"
)

// Config holds Badger settings for the retry queue.
type Config struct {
	// Path is the Badger directory. Must be on durable storage.
	Path string

	// SyncWrites fsyncs every enqueue. Turning it off trades crash safety
	// of the most recent entries for throughput.
	SyncWrites bool

	MemTableSize     int64
	ValueLogFileSize int64
	NumCompactors    int

	// Compression enables Snappy for stored entries.
	Compression bool

	// GCRatio is passed to RunValueLogGC.
	GCRatio float64

	// GCInterval is how often the GC loop reclaims value-log space.
	GCInterval time.Duration

	// CloseTimeout bounds Close.
	CloseTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:             "./data/retry_queue",
		SyncWrites:       true,
		MemTableSize:     16 << 20,
		ValueLogFileSize: 64 << 20,
		NumCompactors:    2,
		Compression:      true,
		GCRatio:          0.5,
		GCInterval:       10 * time.Minute,
		CloseTimeout:     30 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Path == "" {
		return &ConfigError{Field: "Path", Message: "retry queue path is required"}
	}
	if c.MemTableSize < 1<<20 {
		return &ConfigError{Field: "MemTableSize", Message: "must be at least 1MB"}
	}
	if c.ValueLogFileSize < 1<<20 {
		return &ConfigError{Field: "ValueLogFileSize", Message: "must be at least 1MB"}
	}
	if c.NumCompactors < 2 {
		return &ConfigError{Field: "NumCompactors", Message: "must be at least 2 (BadgerDB requirement)"}
	}
	if c.GCRatio <= 0 || c.GCRatio >= 1 {
		return &ConfigError{Field: "GCRatio", Message: "must be between 0 and 1"}
	}
	if c.GCInterval < time.Second {
		return &ConfigError{Field: "GCInterval", Message: "must be at least 1 second"}
	}
	return nil
}

// ConfigError is a retry queue configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "retry queue config error: " + e.Field + ": " + e.Message
}
