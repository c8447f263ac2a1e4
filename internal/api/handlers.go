// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/vitalstream/internal/envelope"
	"github.com/tomtom215/vitalstream/internal/ingest"
	"github.com/tomtom215/vitalstream/internal/models"
	"github.com/tomtom215/vitalstream/internal/validation"
)

// maxBodyBytes comfortably fits a base64 envelope of the default capacity.
const maxBodyBytes = 64 << 10

const (
	defaultRecentLimit = 100
	maxRecentLimit     = 1000
)

// IngestService is the sink the handlers drive. *ingest.Service satisfies it.
type IngestService interface {
	Accept(ctx context.Context, req *models.SubmitRequest) (*models.SubmitResponse, error)
	AcceptFallback(ctx context.Context, req *models.SubmitRequest) error
	LastSequences(ctx context.Context) (map[string]int64, error)
	Entities(ctx context.Context) ([]string, error)
	Range(ctx context.Context, entity string, start, end int64) ([]*models.IngestionRecord, error)
	Gaps(ctx context.Context, entity string, start, end int64) (*models.GapReport, error)
	Recent(ctx context.Context, entity string, limit int) ([]*models.IngestionRecord, error)
	Decrypt(env string) (models.Reading, error)
}

// Pinger reports storage reachability for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the ingestion API.
type Handler struct {
	svc       IngestService
	store     Pinger
	startTime time.Time
}

// NewHandler creates handlers over svc. store may be nil when the backing
// store has no connectivity to check.
func NewHandler(svc IngestService, store Pinger) *Handler {
	return &Handler{svc: svc, store: store, startTime: time.Now()}
}

// FallbackResponse acknowledges a fallback submission.
type FallbackResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// DecryptRequest is the body of POST /api/v1/envelopes/decrypt.
type DecryptRequest struct {
	Envelope string `json:"envelope" validate:"required"`
}

// rangeQuery holds the parameters of range and gap queries.
type rangeQuery struct {
	Entity string `json:"entity" validate:"required,entity_id"`
	Start  int64  `json:"start" validate:"gte=1"`
	End    int64  `json:"end" validate:"gtefield=Start"`
}

// decodeBody reads a size-limited JSON body into dst and validates it.
// It writes the error response itself and reports whether to continue.
func decodeBody(rw *ResponseWriter, w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rw.Error(http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "Request body too large")
			return false
		}
		rw.BadRequest("Failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		rw.BadRequest("Invalid JSON body")
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return false
	}
	return true
}

// writeServiceError maps sink errors to responses.
func writeServiceError(rw *ResponseWriter, err error) {
	switch {
	case envelope.IsAuthentication(err):
		rw.EnvelopeRejected(err)
	case errors.Is(err, ingest.ErrInvalidRange), errors.Is(err, ingest.ErrRangeTooLarge):
		rw.BadRequest(err.Error())
	case errors.Is(err, ingest.ErrNoCodec):
		rw.ServiceUnavailable("Envelope key not configured")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		rw.ServiceUnavailable("Request canceled")
	default:
		rw.DatabaseError(err)
	}
}

// SubmitVitals handles POST /api/v1/vitals. A new record is 201, a
// duplicate is 200 with status "duplicate".
func (h *Handler) SubmitVitals(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req models.SubmitRequest
	if !decodeBody(rw, w, r, &req) {
		return
	}

	resp, err := h.svc.Accept(r.Context(), &req)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	if resp.Duplicate() {
		rw.Success(resp)
		return
	}
	rw.Created(resp)
}

// SubmitFallback handles POST /api/v1/vitals/fallback.
func (h *Handler) SubmitFallback(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req models.SubmitRequest
	if !decodeBody(rw, w, r, &req) {
		return
	}

	if err := h.svc.AcceptFallback(r.Context(), &req); err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(FallbackResponse{Status: "stored", ID: req.ID})
}

// Sequences handles GET /api/v1/vitals/sequences.
func (h *Handler) Sequences(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	seqs, err := h.svc.LastSequences(r.Context())
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.List(seqs, len(seqs))
}

// Entities handles GET /api/v1/vitals/entities.
func (h *Handler) Entities(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	ents, err := h.svc.Entities(r.Context())
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.List(ents, len(ents))
}

// Range handles GET /api/v1/vitals/{entity}/range?start=&end=.
func (h *Handler) Range(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	q, ok := parseRange(rw, r)
	if !ok {
		return
	}
	recs, err := h.svc.Range(r.Context(), q.Entity, q.Start, q.End)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.List(recs, len(recs))
}

// Gaps handles GET /api/v1/vitals/{entity}/gaps?start=&end=.
func (h *Handler) Gaps(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	q, ok := parseRange(rw, r)
	if !ok {
		return
	}
	report, err := h.svc.Gaps(r.Context(), q.Entity, q.Start, q.End)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(report)
}

// Recent handles GET /api/v1/vitals/recent?limit=&entity=.
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	limit := defaultRecentLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxRecentLimit {
			rw.BadRequest("limit must be an integer between 1 and " + strconv.Itoa(maxRecentLimit))
			return
		}
		limit = n
	}
	entity := r.URL.Query().Get("entity")
	if entity != "" {
		if err := validation.GetValidator().Var(entity, "max=128,entity_id"); err != nil {
			rw.BadRequest("entity must be a valid entity id")
			return
		}
	}

	recs, err := h.svc.Recent(r.Context(), entity, limit)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.List(recs, len(recs))
}

// Decrypt handles POST /api/v1/envelopes/decrypt.
func (h *Handler) Decrypt(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req DecryptRequest
	if !decodeBody(rw, w, r, &req) {
		return
	}
	reading, err := h.svc.Decrypt(req.Envelope)
	if err != nil {
		if errors.Is(err, envelope.ErrMalformedReading) {
			rw.EnvelopeRejected(err)
			return
		}
		writeServiceError(rw, err)
		return
	}
	rw.Success(reading)
}

func parseRange(rw *ResponseWriter, r *http.Request) (rangeQuery, bool) {
	q := rangeQuery{Entity: chi.URLParam(r, "entity")}
	var err error
	if q.Start, err = strconv.ParseInt(r.URL.Query().Get("start"), 10, 64); err != nil {
		rw.BadRequest("start must be an integer")
		return q, false
	}
	if q.End, err = strconv.ParseInt(r.URL.Query().Get("end"), 10, 64); err != nil {
		rw.BadRequest("end must be an integer")
		return q, false
	}
	if verr := validation.ValidateStruct(&q); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return q, false
	}
	return q, true
}
