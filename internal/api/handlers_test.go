// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/vitalstream/internal/envelope"
	"github.com/tomtom215/vitalstream/internal/ingest"
	"github.com/tomtom215/vitalstream/internal/models"
)

type fixture struct {
	codec  *envelope.Codec
	store  *ingest.MemoryStore
	server http.Handler
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newFixture(t *testing.T, pinger Pinger) *fixture {
	t.Helper()
	codec, err := envelope.New("api-test-key", envelope.DefaultCapacity)
	if err != nil {
		t.Fatal(err)
	}
	store := ingest.NewMemoryStore()
	svc := ingest.NewService(store, ingest.WithVerifier(codec))

	cfg := DefaultMiddlewareConfig()
	cfg.RateLimitDisabled = true
	router := NewRouter(NewHandler(svc, pinger), NewMiddleware(cfg), WithDecryptEndpoint(true))
	return &fixture{codec: codec, store: store, server: router.Setup()}
}

func (f *fixture) request(t *testing.T, entity string, seq int64) *models.SubmitRequest {
	t.Helper()
	env, err := f.codec.Encode(models.Reading{EntityID: entity, HeartRate: 80, OxygenLevel: 99, Temp: 36.8, GeneratedAt: time.Now().UTC()})
	if err != nil {
		t.Fatal(err)
	}
	return &models.SubmitRequest{ID: uuid.New().String(), SeqNo: seq, EntityID: entity, Envelope: env}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	var resp APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s %s: %v (body %q)", method, path, err, rec.Body.String())
		}
	}
	return rec, resp
}

func decodeData(t *testing.T, resp APIResponse, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatal(err)
	}
}

func TestSubmitVitalsCreatedThenDuplicate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	req := f.request(t, "patient1", 1)

	rec, resp := f.do(t, http.MethodPost, "/api/v1/vitals", req)
	if rec.Code != http.StatusCreated || !resp.Success {
		t.Fatalf("first submit = %d %+v", rec.Code, resp)
	}
	var out models.SubmitResponse
	decodeData(t, resp, &out)
	if out.Status != models.StatusAccepted || out.ID != req.ID || out.ReceivedAt == nil {
		t.Errorf("first data = %+v", out)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	rec, resp = f.do(t, http.MethodPost, "/api/v1/vitals", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate submit status = %d", rec.Code)
	}
	decodeData(t, resp, &out)
	if !out.Duplicate() {
		t.Errorf("duplicate data = %+v", out)
	}
	if f.store.Len() != 1 {
		t.Errorf("store holds %d records, want 1", f.store.Len())
	}
}

func TestSubmitFallbackIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	req := f.request(t, "patient1", 7).AsLate()

	for i := 0; i < 3; i++ {
		rec, resp := f.do(t, http.MethodPost, "/api/v1/vitals/fallback", req)
		if rec.Code != http.StatusOK || !resp.Success {
			t.Fatalf("fallback #%d = %d %+v", i, rec.Code, resp)
		}
	}
	recs, _ := f.store.Range(context.Background(), "patient1", 7, 7)
	if len(recs) != 1 || !recs[0].Late {
		t.Errorf("records = %+v", recs)
	}
}

func TestSubmitFallbackMarksLate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	req := f.request(t, "patient6", 3)
	req.Late = false

	if rec, resp := f.do(t, http.MethodPost, "/api/v1/vitals/fallback", req); rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("fallback = %d %+v", rec.Code, resp)
	}
	recs, _ := f.store.Range(context.Background(), "patient6", 3, 3)
	if len(recs) != 1 || !recs[0].Late {
		t.Errorf("records = %+v, want one late record", recs)
	}
}

func TestSubmitRejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	other, err := envelope.New("wrong-key", envelope.DefaultCapacity)
	if err != nil {
		t.Fatal(err)
	}
	forged := f.request(t, "patient1", 1)
	forged.Envelope, _ = other.Encode(models.Reading{EntityID: "patient1"})

	invalid := f.request(t, "patient1", 1)
	invalid.SeqNo = 0

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{"forged envelope", forged, http.StatusUnprocessableEntity, ErrCodeEnvelopeRejected},
		{"seq_no zero", invalid, http.StatusBadRequest, ErrCodeValidationFailed},
		{"not json", "not an object", http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tt := range tests {
		rec, resp := f.do(t, http.MethodPost, "/api/v1/vitals", tt.body)
		if rec.Code != tt.wantCode || resp.Error == nil || resp.Error.Code != tt.wantErr {
			t.Errorf("%s: %d %+v, want %d %s", tt.name, rec.Code, resp.Error, tt.wantCode, tt.wantErr)
		}
	}
	if f.store.Len() != 0 {
		t.Errorf("rejected submissions stored %d records", f.store.Len())
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	req := f.request(t, "patient1", 1)
	req.Envelope = strings.Repeat("A", maxBodyBytes+1)

	rec, resp := f.do(t, http.MethodPost, "/api/v1/vitals", req)
	if rec.Code != http.StatusRequestEntityTooLarge || resp.Error.Code != ErrCodePayloadTooLarge {
		t.Errorf("oversized = %d %+v", rec.Code, resp.Error)
	}
}

func TestQueries(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	for _, seq := range []int64{1, 2, 5} {
		if rec, _ := f.do(t, http.MethodPost, "/api/v1/vitals", f.request(t, "patient1", seq)); rec.Code != http.StatusCreated {
			t.Fatal(rec.Body.String())
		}
	}

	_, resp := f.do(t, http.MethodGet, "/api/v1/vitals/sequences", nil)
	var seqs map[string]int64
	decodeData(t, resp, &seqs)
	if seqs["patient1"] != 5 {
		t.Errorf("sequences = %v", seqs)
	}

	_, resp = f.do(t, http.MethodGet, "/api/v1/vitals/entities", nil)
	var ents []string
	decodeData(t, resp, &ents)
	if len(ents) != 1 || ents[0] != "patient1" {
		t.Errorf("entities = %v", ents)
	}

	_, resp = f.do(t, http.MethodGet, "/api/v1/vitals/patient1/range?start=1&end=5", nil)
	var recs []models.IngestionRecord
	decodeData(t, resp, &recs)
	if len(recs) != 3 || resp.Meta == nil || resp.Meta.Count == nil || *resp.Meta.Count != 3 {
		t.Errorf("range = %d records, meta %+v", len(recs), resp.Meta)
	}

	_, resp = f.do(t, http.MethodGet, "/api/v1/vitals/patient1/gaps?start=1&end=5", nil)
	var gaps models.GapReport
	decodeData(t, resp, &gaps)
	if len(gaps.Missing) != 2 || gaps.Missing[0] != 3 || gaps.Missing[1] != 4 {
		t.Errorf("gaps = %+v", gaps)
	}

	_, resp = f.do(t, http.MethodGet, "/api/v1/vitals/recent?limit=2", nil)
	decodeData(t, resp, &recs)
	if len(recs) != 2 {
		t.Errorf("recent = %d records", len(recs))
	}
}

func TestRecentByEntity(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	for _, r := range []*models.SubmitRequest{
		f.request(t, "patient1", 1),
		f.request(t, "patient2", 1),
		f.request(t, "patient1", 2),
	} {
		if rec, _ := f.do(t, http.MethodPost, "/api/v1/vitals", r); rec.Code != http.StatusCreated {
			t.Fatal(rec.Body.String())
		}
	}

	rec, resp := f.do(t, http.MethodGet, "/api/v1/vitals/recent?entity=patient2&limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recent = %d %s", rec.Code, rec.Body.String())
	}
	var recs []models.IngestionRecord
	decodeData(t, resp, &recs)
	if len(recs) != 1 || recs[0].EntityID != "patient2" {
		t.Errorf("recent?entity=patient2 = %+v", recs)
	}

	_, resp = f.do(t, http.MethodGet, "/api/v1/vitals/recent?limit=10", nil)
	decodeData(t, resp, &recs)
	if len(recs) != 3 {
		t.Errorf("recent = %d records, want 3", len(recs))
	}
}

func TestQueryValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	tests := []struct {
		path     string
		wantCode int
	}{
		{"/api/v1/vitals/patient1/range?start=x&end=5", http.StatusBadRequest},
		{"/api/v1/vitals/patient1/range?start=1", http.StatusBadRequest},
		{"/api/v1/vitals/patient1/gaps?start=0&end=5", http.StatusBadRequest},
		{"/api/v1/vitals/patient1/gaps?start=9&end=5", http.StatusBadRequest},
		{"/api/v1/vitals/patient1/gaps?start=1&end=5000000", http.StatusBadRequest},
		{"/api/v1/vitals/recent?limit=0", http.StatusBadRequest},
		{"/api/v1/vitals/recent?limit=5000", http.StatusBadRequest},
		{"/api/v1/vitals/recent?entity=bad%20id", http.StatusBadRequest},
		{"/api/v1/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec, _ := f.do(t, http.MethodGet, tt.path, nil); rec.Code != tt.wantCode {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.wantCode)
		}
	}
}

func TestDecrypt(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	req := f.request(t, "patient4", 1)

	rec, resp := f.do(t, http.MethodPost, "/api/v1/envelopes/decrypt", DecryptRequest{Envelope: req.Envelope})
	if rec.Code != http.StatusOK {
		t.Fatalf("decrypt = %d %s", rec.Code, rec.Body.String())
	}
	var reading models.Reading
	decodeData(t, resp, &reading)
	if reading.EntityID != "patient4" || reading.HeartRate != 80 {
		t.Errorf("reading = %+v", reading)
	}

	rec, _ = f.do(t, http.MethodPost, "/api/v1/envelopes/decrypt", DecryptRequest{Envelope: "garbage"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("decrypt garbage = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, pingFunc(func(context.Context) error { return nil }))
	if rec, _ := f.do(t, http.MethodGet, "/api/v1/health/live", nil); rec.Code != http.StatusOK {
		t.Errorf("live = %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodGet, "/api/v1/health/ready", nil); rec.Code != http.StatusOK {
		t.Errorf("ready = %d", rec.Code)
	}

	down := newFixture(t, pingFunc(func(context.Context) error { return errors.New("connection refused") }))
	rec, resp := down.do(t, http.MethodGet, "/api/v1/health/ready", nil)
	if rec.Code != http.StatusServiceUnavailable || resp.Error == nil {
		t.Errorf("ready with store down = %d %+v", rec.Code, resp.Error)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/api/v1/health/live", nil)

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "api_requests_total") {
		t.Errorf("metrics = %d", rec.Code)
	}
}
