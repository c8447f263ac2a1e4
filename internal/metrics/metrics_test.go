// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func sampleCount(t *testing.T, h prometheus.Metric) uint64 {
	t.Helper()
	var m io_prometheus_client.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordDispatch(t *testing.T) {
	before := testutil.ToFloat64(PacketsDispatched.WithLabelValues(OutcomeDuplicate))
	RecordDispatch(OutcomeDuplicate, 5*time.Millisecond)
	after := testutil.ToFloat64(PacketsDispatched.WithLabelValues(OutcomeDuplicate))

	if after-before != 1 {
		t.Errorf("duplicate dispatch counter delta = %v, want 1", after-before)
	}
}

func TestDispatchDurationObserved(t *testing.T) {
	before := sampleCount(t, DispatchDuration)
	RecordDispatch(OutcomeAccepted, 12*time.Millisecond)
	RecordDispatch(OutcomeFailed, time.Second)

	if got := sampleCount(t, DispatchDuration) - before; got != 2 {
		t.Errorf("histogram sample delta = %d, want 2", got)
	}
}

func TestRecordStoreQuery(t *testing.T) {
	before := testutil.ToFloat64(StoreQueryErrors.WithLabelValues("insert"))
	RecordStoreQuery("insert", time.Millisecond, nil)
	RecordStoreQuery("insert", time.Millisecond, errors.New("disk full"))
	after := testutil.ToFloat64(StoreQueryErrors.WithLabelValues("insert"))

	if after-before != 1 {
		t.Errorf("error counter delta = %v, want 1", after-before)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/v1/vitals", "201"))
	RecordAPIRequest("POST", "/api/v1/vitals", "201", 3*time.Millisecond)
	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/v1/vitals", "201"))

	if after-before != 1 {
		t.Errorf("request counter delta = %v, want 1", after-before)
	}
}
