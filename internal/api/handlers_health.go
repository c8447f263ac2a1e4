// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package api

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus is the body of the health endpoints.
type HealthStatus struct {
	Status        string  `json:"status"`
	Database      string  `json:"database,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HealthLive handles GET /api/v1/health/live. It only proves the process
// is serving.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(HealthStatus{
		Status:        "alive",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles GET /api/v1/health/ready: 503 until the store answers.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	status := HealthStatus{Status: "ready", UptimeSeconds: time.Since(h.startTime).Seconds()}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Database unreachable",
				HealthStatus{Status: "not_ready", Database: "unreachable", UptimeSeconds: status.UptimeSeconds})
			return
		}
		status.Database = "ok"
	}
	rw.Success(status)
}
