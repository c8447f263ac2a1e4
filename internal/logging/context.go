// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	packetKey    contextKey = "packet"
	loggerKey    contextKey = "logger"
)

// PacketRef identifies the packet a log line is about.
type PacketRef struct {
	ID       string
	EntityID string
	SeqNo    int64
}

// GenerateRequestID returns a random request identifier.
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithRequestID stores an HTTP request ID in ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithPacket attaches packet identity so every Ctx(ctx) line carries it.
func ContextWithPacket(ctx context.Context, ref PacketRef) context.Context {
	return context.WithValue(ctx, packetKey, ref)
}

// PacketFromContext returns the packet attached to ctx, if any.
func PacketFromContext(ctx context.Context) (PacketRef, bool) {
	ref, ok := ctx.Value(packetKey).(PacketRef)
	return ref, ok
}

// ContextWithLogger stores a logger to be used by Ctx.
//
//nolint:gocritic // zerolog.Logger is passed by value by design of the library
func ContextWithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// Ctx returns a logger enriched with the request ID and packet identity found in ctx.
func Ctx(ctx context.Context) *zerolog.Logger {
	base, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		base = Logger()
	}

	lc := base.With()
	if id := RequestIDFromContext(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	if ref, ok := PacketFromContext(ctx); ok {
		lc = lc.Str("packet_id", ref.ID).Str("entity_id", ref.EntityID).Int64("seq_no", ref.SeqNo)
	}
	l := lc.Logger()
	return &l
}
