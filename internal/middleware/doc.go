// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

// Package middleware holds the HTTP middleware shared by the ingestion API.
//
//   - RequestID propagates or mints X-Request-ID and seeds the logging context.
//   - PrometheusMetrics records request count, latency and in-flight gauge,
//     labelled by chi route pattern so path parameters do not explode
//     label cardinality.
//   - AccessLog writes one structured line per request.
package middleware
