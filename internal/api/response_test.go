// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestResponseWriter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		write     func(*ResponseWriter)
		wantCode  int
		wantOK    bool
		wantError string
	}{
		{"success", func(rw *ResponseWriter) { rw.Success("ok") }, http.StatusOK, true, ""},
		{"created", func(rw *ResponseWriter) { rw.Created("ok") }, http.StatusCreated, true, ""},
		{"bad request", func(rw *ResponseWriter) { rw.BadRequest("nope") }, http.StatusBadRequest, false, ErrCodeBadRequest},
		{"envelope", func(rw *ResponseWriter) { rw.EnvelopeRejected(errors.New("tag mismatch")) }, http.StatusUnprocessableEntity, false, ErrCodeEnvelopeRejected},
		{"database", func(rw *ResponseWriter) { rw.DatabaseError(errors.New("pq: down")) }, http.StatusInternalServerError, false, ErrCodeDatabaseError},
		{"unavailable", func(rw *ResponseWriter) { rw.ServiceUnavailable("later") }, http.StatusServiceUnavailable, false, ErrCodeServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			tt.write(NewResponseWriter(rec, httptest.NewRequest(http.MethodGet, "/", nil)))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
				t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
			}
			var resp APIResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Success != tt.wantOK || resp.Meta == nil {
				t.Errorf("resp = %+v", resp)
			}
			if tt.wantError != "" && (resp.Error == nil || resp.Error.Code != tt.wantError) {
				t.Errorf("error = %+v, want %s", resp.Error, tt.wantError)
			}
		})
	}
}

func TestErrorsDoNotLeakCauses(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	NewResponseWriter(rec, httptest.NewRequest(http.MethodGet, "/", nil)).DatabaseError(errors.New("password=secret"))
	if strings.Contains(rec.Body.String(), "secret") {
		t.Errorf("body leaked cause: %s", rec.Body.String())
	}
}

func TestListSetsCount(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	NewResponseWriter(rec, httptest.NewRequest(http.MethodGet, "/", nil)).List([]int{1, 2, 3}, 3)

	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Meta.Count == nil || *resp.Meta.Count != 3 {
		t.Errorf("meta = %+v", resp.Meta)
	}
}
