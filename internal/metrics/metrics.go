// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

// Package metrics holds the Prometheus instruments shared across the
// producer and the ingestion server. The retry queue keeps its own
// storage-level instruments in internal/retryqueue.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

var (
	// Producer

	PacketsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "producer_packets_generated_total",
			Help: "Readings issued a sequence number",
		},
		[]string{"entity_id"},
	)

	PacketsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "producer_dispatch_total",
			Help: "Primary-path dispatch attempts by outcome",
		},
		[]string{"outcome"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "producer_dispatch_duration_seconds",
			Help:    "Primary-path dispatch latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	PacketsOversize = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "producer_packets_oversize_total",
			Help: "Readings dropped because they exceed the envelope capacity",
		},
	)

	PacketsLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "producer_packets_lost_total",
			Help: "Packets dropped because the retry queue could not persist them",
		},
	)

	InFlightDispatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "producer_inflight_dispatches",
			Help: "Dispatch goroutines currently running",
		},
	)

	// Reconciliation

	ReconcileCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_cycles_total",
			Help: "Reconciliation cycles run",
		},
	)

	ReconcileResubmits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_resubmits_total",
			Help: "Fallback-path resubmissions by result",
		},
		[]string{"result"}, // delivered, failed, deferred
	)

	// Circuit breaker (sink client)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sink_circuit_breaker_state",
			Help: "Sink client circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_circuit_breaker_transitions_total",
			Help: "Sink client circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Ingestion server

	IngestRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_total",
			Help: "Submissions handled by the ingestion sink",
		},
		[]string{"path", "outcome"}, // path: primary|fallback
	)

	IngestAuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_envelope_auth_failures_total",
			Help: "Submissions rejected because the envelope failed verification",
		},
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_store_query_duration_seconds",
			Help:    "Ingestion store query latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_store_query_errors_total",
			Help: "Ingestion store query errors",
		},
		[]string{"operation"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_published_total",
			Help: "Accepted-record events by result (queued, rejected, published, failed, dropped)",
		},
		[]string{"result"},
	)

	// HTTP

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "HTTP requests in progress",
		},
	)
)

// RecordDispatch records a primary-path attempt.
func RecordDispatch(outcome string, d time.Duration) {
	PacketsDispatched.WithLabelValues(outcome).Inc()
	DispatchDuration.Observe(d.Seconds())
}

// RecordStoreQuery records a store round-trip.
func RecordStoreQuery(operation string, d time.Duration, err error) {
	StoreQueryDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		StoreQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAPIRequest records one HTTP request.
func RecordAPIRequest(method, route, status string, d time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
