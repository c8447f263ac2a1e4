// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package retryqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queuePending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "retry_queue_pending_entries",
		Help: "Packets waiting in the durable retry queue",
	})

	queueEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retry_queue_enqueued_total",
		Help: "Total enqueue operations (including idempotent overwrites)",
	})

	queueEnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retry_queue_enqueue_failures_total",
		Help: "Enqueue operations that failed to persist; each one is a lost packet",
	})

	queueRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retry_queue_removed_total",
		Help: "Entries removed after the sink confirmed delivery",
	})

	queueWriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "retry_queue_write_latency_seconds",
		Help:    "Retry queue enqueue latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	queueDBSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "retry_queue_db_size_bytes",
		Help: "BadgerDB size (LSM + value log) in bytes",
	})

	queueGCRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retry_queue_gc_runs_total",
		Help: "Total value-log GC runs",
	})

	queueGCLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "retry_queue_gc_latency_seconds",
		Help:    "Value-log GC latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)
