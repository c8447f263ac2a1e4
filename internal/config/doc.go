// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

/*
Package config loads configuration for the producer and the ingestion server.

Sources are layered with koanf: built-in defaults, then an optional YAML
file (CONFIG_PATH, or config.yaml in the working directory or
/etc/vitalstream), then environment variables. Only the variables listed
below are read from the environment.

# Environment Variables

Envelope (both binaries):
  - VITALS_KEY: key material; required by the producer, and by the server
    when VERIFY_ENVELOPES or ENABLE_DECRYPT is set
  - ENVELOPE_CAPACITY: plaintext block size (default: 5120)
  - VERIFY_ENVELOPES: authenticate envelopes on ingest (default: true)
  - ENABLE_DECRYPT: expose the decrypt endpoint (default: false)

Producer:
  - PRODUCER_PERIOD: generation period (default: 1s)
  - DISPATCH_TIMEOUT: primary submission timeout (default: 1s)
  - PRODUCER_ENTITIES: comma-separated roster (default: patient1)
  - SINK_URL: ingestion server base URL (default: http://127.0.0.1:8000)
  - SINK_BREAKER_FAILURES, SINK_BREAKER_COOLDOWN: circuit breaker tuning

Reconciliation:
  - RECONCILE_INTERVAL: drain interval (default: 5s)
  - RECONCILE_SUBMIT_TIMEOUT: fallback submission timeout (default: 2s)
  - RECONCILE_BACKOFF_BASE, RECONCILE_BACKOFF_MAX: per-entry backoff (1s, 5m)
  - RECONCILE_RATE: resubmissions per second, 0 for unpaced (default: 50)

Retry queue:
  - RETRY_QUEUE_PATH: Badger directory (default: /data/retry_queue)
  - RETRY_QUEUE_SYNC_WRITES: fsync each enqueue (default: true)

Server:
  - DB_DRIVER: duckdb, postgres or memory (default: duckdb)
  - DB_DSN: DuckDB path or Postgres URL
  - HTTP_HOST, HTTP_PORT: listen address (default: 0.0.0.0:8000)
  - CORS_ORIGINS, RATE_LIMIT_REQUESTS, RATE_LIMIT_WINDOW, DISABLE_RATE_LIMIT
  - NATS_ENABLED, NATS_URL, NATS_EMBEDDED, NATS_STORE_DIR, NATS_STREAM

Logging:
  - LOG_LEVEL, LOG_FORMAT (json or console), LOG_CALLER

# Validation

LoadWithKoanf runs Validate, which covers shared settings. Each binary then
calls ValidateProducer or ValidateServer for its own requirements. Failures
are *ValidationError values naming the environment variable at fault.
*/
package config
