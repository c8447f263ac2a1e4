// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package config

import (
	"fmt"
	"strings"

	"github.com/tomtom215/vitalstream/internal/validation"
)

// Database drivers.
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// ValidationError names the offending setting by its environment variable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks settings shared by both binaries. Role-specific
// requirements are checked by ValidateProducer and ValidateServer.
func (c *Config) Validate() error {
	if err := c.validateEnvelope(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	return c.validateLogging()
}

// ValidateProducer checks what the producer needs to run.
func (c *Config) ValidateProducer() error {
	if c.Envelope.Key == "" {
		return invalid("VITALS_KEY", "is required")
	}
	if err := c.validateProducer(); err != nil {
		return err
	}
	if err := c.validateReconcile(); err != nil {
		return err
	}
	if strings.TrimSpace(c.RetryQueue.Path) == "" {
		return invalid("RETRY_QUEUE_PATH", "is required")
	}
	if c.RetryQueue.GCRatio <= 0 || c.RetryQueue.GCRatio >= 1 {
		return invalid("RETRY_QUEUE_GC_RATIO", "must be between 0 and 1, got %v", c.RetryQueue.GCRatio)
	}
	return nil
}

// ValidateServer checks what the ingestion server needs to run.
func (c *Config) ValidateServer() error {
	if c.Envelope.Key == "" && (c.Envelope.Verify || c.Envelope.DecryptEndpoint) {
		return invalid("VITALS_KEY", "is required when VERIFY_ENVELOPES or ENABLE_DECRYPT is set")
	}
	return nil
}

func (c *Config) validateEnvelope() error {
	if c.Envelope.Capacity < 1 {
		return invalid("ENVELOPE_CAPACITY", "must be positive, got %d", c.Envelope.Capacity)
	}
	return nil
}

func (c *Config) validateProducer() error {
	p := c.Producer
	if p.Period <= 0 {
		return invalid("PRODUCER_PERIOD", "must be positive")
	}
	if p.DispatchTimeout <= 0 {
		return invalid("DISPATCH_TIMEOUT", "must be positive")
	}
	if len(p.Entities) == 0 {
		return invalid("PRODUCER_ENTITIES", "must list at least one entity")
	}
	seen := make(map[string]struct{}, len(p.Entities))
	v := validation.GetValidator()
	for _, e := range p.Entities {
		if err := v.Var(e, "required,entity_id"); err != nil {
			return invalid("PRODUCER_ENTITIES", "contains an invalid entity id %q", e)
		}
		if _, dup := seen[e]; dup {
			return invalid("PRODUCER_ENTITIES", "lists %q twice", e)
		}
		seen[e] = struct{}{}
	}
	if p.SinkURL == "" {
		return invalid("SINK_URL", "is required")
	}
	if err := validateHTTPURL(p.SinkURL, "SINK_URL"); err != nil {
		return invalid("SINK_URL", "is invalid: %v", err)
	}
	return nil
}

func (c *Config) validateReconcile() error {
	r := c.Reconcile
	if r.Interval <= 0 {
		return invalid("RECONCILE_INTERVAL", "must be positive")
	}
	if r.SubmitTimeout <= 0 {
		return invalid("RECONCILE_SUBMIT_TIMEOUT", "must be positive")
	}
	if r.BackoffBase <= 0 {
		return invalid("RECONCILE_BACKOFF_BASE", "must be positive")
	}
	if r.BackoffMax < r.BackoffBase {
		return invalid("RECONCILE_BACKOFF_MAX", "must not be below RECONCILE_BACKOFF_BASE")
	}
	if r.RatePerSecond < 0 {
		return invalid("RECONCILE_RATE", "must not be negative")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverDuckDB, DriverMemory:
		return nil
	case DriverPostgres:
		if c.Database.DSN == "" {
			return invalid("DB_DSN", "is required for the postgres driver")
		}
		return nil
	default:
		return invalid("DB_DRIVER", "must be duckdb, postgres or memory, got %q", c.Database.Driver)
	}
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("HTTP_PORT", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !c.Server.RateLimitDisabled && c.Server.RateLimitReqs < 1 {
		return invalid("RATE_LIMIT_REQUESTS", "must be positive unless DISABLE_RATE_LIMIT is set")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.EmbeddedServer {
		if c.NATS.StoreDir == "" {
			return invalid("NATS_STORE_DIR", "is required for the embedded server")
		}
		return nil
	}
	if err := validateNATSURL(c.NATS.URL); err != nil {
		return invalid("NATS_URL", "is invalid: %v", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return invalid("LOG_LEVEL", "must be one of trace, debug, info, warn, error, fatal, panic, disabled")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return invalid("LOG_FORMAT", "must be json or console")
	}
	return nil
}
