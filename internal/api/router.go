// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

// Package api is the ingestion server's HTTP surface, routed with chi.
//
// Routes:
//
//	POST /api/v1/vitals                     primary submission (201 new, 200 duplicate)
//	POST /api/v1/vitals/fallback            insert-or-ignore for reconciled packets
//	GET  /api/v1/vitals/sequences           last seq_no per entity
//	GET  /api/v1/vitals/entities            entities with records
//	GET  /api/v1/vitals/recent              newest records, still encrypted
//	GET  /api/v1/vitals/{entity}/range      records by seq_no range
//	GET  /api/v1/vitals/{entity}/gaps       missing seq numbers in a range
//	POST /api/v1/envelopes/decrypt          open an envelope with the server key
//	GET  /api/v1/health/live|ready          probes
//	GET  /metrics                           Prometheus
//
// Every JSON body uses the APIResponse wrapper.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/vitalstream/internal/middleware"
)

// Router wires handlers and middleware.
type Router struct {
	handler       *Handler
	middleware    *Middleware
	enableDecrypt bool
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithDecryptEndpoint exposes POST /api/v1/envelopes/decrypt.
func WithDecryptEndpoint(enabled bool) RouterOption {
	return func(r *Router) { r.enableDecrypt = enabled }
}

// NewRouter creates a router.
func NewRouter(h *Handler, mw *Middleware, opts ...RouterOption) *Router {
	r := &Router{handler: h, middleware: mw}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Setup builds the http.Handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())
	r.Use(middleware.AccessLog)
	r.Use(middleware.PrometheusMetrics)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		NewResponseWriter(w, req).Error(http.StatusNotFound, ErrCodeNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		NewResponseWriter(w, req).Error(http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
	})

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.middleware.RateLimitHealth())
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Route("/api/v1/vitals", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())

		r.Post("/", router.handler.SubmitVitals)
		r.Post("/fallback", router.handler.SubmitFallback)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Compress(5, "application/json"))
			r.Get("/sequences", router.handler.Sequences)
			r.Get("/entities", router.handler.Entities)
			r.Get("/recent", router.handler.Recent)
			r.Get("/{entity}/range", router.handler.Range)
			r.Get("/{entity}/gaps", router.handler.Gaps)
		})
	})

	if router.enableDecrypt {
		r.With(router.middleware.RateLimit()).Post("/api/v1/envelopes/decrypt", router.handler.Decrypt)
	}

	r.Handle("/metrics", promhttp.Handler())

	return r
}
