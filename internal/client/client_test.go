// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vitalstream/internal/models"
)

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func testReq() *models.SubmitRequest {
	return &models.SubmitRequest{ID: "1b4e28ba-2fa1-11d2-883f-0016d3cca427", SeqNo: 1, EntityID: "patient1", Envelope: "e"}
}

func TestSubmitAcceptedAndDuplicate(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathSubmit || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req models.SubmitRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if calls.Add(1) == 1 {
			now := time.Now().UTC()
			writeData(w, http.StatusCreated, models.SubmitResponse{Status: models.StatusAccepted, ID: req.ID, SeqNo: req.SeqNo, ReceivedAt: &now})
			return
		}
		writeData(w, http.StatusOK, models.SubmitResponse{Status: models.StatusDuplicate, ID: req.ID, SeqNo: req.SeqNo})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	ctx := context.Background()

	first, err := c.Submit(ctx, testReq())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if first.Status != models.StatusAccepted || first.ReceivedAt == nil {
		t.Errorf("first = %+v", first)
	}

	second, err := c.Submit(ctx, testReq())
	if err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}
	if !second.Duplicate() {
		t.Errorf("second = %+v, want duplicate", second)
	}
}

func TestNonSuccessStatusIsDispatchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"DATABASE_ERROR","message":"A database error occurred"}}`))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Submit(context.Background(), testReq())
	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DispatchError", err)
	}
	if de.Kind != KindStatus || de.StatusCode != 500 || de.Message != "DATABASE_ERROR: A database error occurred" {
		t.Errorf("DispatchError = %+v", de)
	}
}

func TestTimeoutIsDispatchError(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := New(Config{BaseURL: srv.URL}).SubmitFallback(ctx, testReq())
	var de *DispatchError
	if !errors.As(err, &de) || de.Kind != KindTimeout {
		t.Fatalf("error = %v, want timeout DispatchError", err)
	}
}

func TestBreakerOpensOnServerFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, BreakerFailures: 3, BreakerCooldown: time.Hour})
	for i := 0; i < 3; i++ {
		_ = c.SubmitFallback(context.Background(), testReq())
	}

	err := c.SubmitFallback(context.Background(), testReq())
	var de *DispatchError
	if !errors.As(err, &de) || de.Kind != KindCircuitOpen {
		t.Fatalf("error = %v, want circuit_open", err)
	}
	if hits.Load() != 3 {
		t.Errorf("server hit %d times, want 3", hits.Load())
	}
	if c.BreakerState() != "open" {
		t.Errorf("BreakerState() = %s", c.BreakerState())
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, BreakerFailures: 2, BreakerCooldown: time.Hour})
	for i := 0; i < 5; i++ {
		err := c.SubmitFallback(context.Background(), testReq())
		var de *DispatchError
		if !errors.As(err, &de) || de.Kind != KindStatus {
			t.Fatalf("call %d: error = %v", i, err)
		}
	}
	if c.BreakerState() != "closed" {
		t.Errorf("BreakerState() = %s, want closed", c.BreakerState())
	}
}

func TestQueries(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(pathSequences, func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, http.StatusOK, map[string]int64{"patient1": 42})
	})
	mux.HandleFunc(pathEntities, func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, http.StatusOK, []string{"patient1", "patient2"})
	})
	mux.HandleFunc("/api/v1/vitals/patient1/gaps", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start") != "1" || r.URL.Query().Get("end") != "5" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		writeData(w, http.StatusOK, models.GapReport{EntityID: "patient1", Start: 1, End: 5, Present: 3, Missing: []int64{2, 4}})
	})
	mux.HandleFunc(pathRecent, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("entity") != "patient2" || r.URL.Query().Get("limit") != "3" {
			t.Errorf("recent query = %s", r.URL.RawQuery)
		}
		writeData(w, http.StatusOK, []*models.IngestionRecord{{EntityID: "patient2", Sequence: 9}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/"})
	ctx := context.Background()

	seqs, err := c.LastSequences(ctx)
	if err != nil || seqs["patient1"] != 42 {
		t.Errorf("LastSequences() = %v, %v", seqs, err)
	}
	ents, err := c.Entities(ctx)
	if err != nil || len(ents) != 2 {
		t.Errorf("Entities() = %v, %v", ents, err)
	}
	gaps, err := c.Gaps(ctx, "patient1", 1, 5)
	if err != nil || len(gaps.Missing) != 2 {
		t.Errorf("Gaps() = %+v, %v", gaps, err)
	}
	recent, err := c.Recent(ctx, "patient2", 3)
	if err != nil || len(recent) != 1 || recent[0].EntityID != "patient2" {
		t.Errorf("Recent() = %v, %v", recent, err)
	}
}
