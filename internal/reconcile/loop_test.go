// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vitalstream/internal/models"
	"github.com/tomtom215/vitalstream/internal/retryqueue"
)

type recordingSink struct {
	mu       sync.Mutex
	fail     bool
	received map[string][]models.SubmitRequest
}

func newRecordingSink() *recordingSink {
	return &recordingSink{received: make(map[string][]models.SubmitRequest)}
}

func (s *recordingSink) SubmitFallback(_ context.Context, req *models.SubmitRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("connection refused")
	}
	s.received[req.ID] = append(s.received[req.ID], *req)
	return nil
}

func (s *recordingSink) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *recordingSink) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received[id])
}

func openQueue(t *testing.T) *retryqueue.BadgerQueue {
	t.Helper()
	q, err := retryqueue.OpenForTesting(&retryqueue.Config{
		Path:          filepath.Join(t.TempDir(), "queue"),
		NumCompactors: 2,
		CloseTimeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("OpenForTesting() error = %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func fill(t *testing.T, q retryqueue.Queue, n int) []*models.SubmitRequest {
	t.Helper()
	reqs := make([]*models.SubmitRequest, n)
	for i := range reqs {
		reqs[i] = &models.SubmitRequest{
			ID:       uuid.New().String(),
			SeqNo:    int64(i + 1),
			EntityID: "patient1",
			Envelope: "env",
		}
		if err := q.Enqueue(context.Background(), reqs[i]); err != nil {
			t.Fatal(err)
		}
	}
	return reqs
}

func testConfig() Config {
	return Config{
		Interval:      20 * time.Millisecond,
		SubmitTimeout: time.Second,
		BackoffBase:   time.Hour,
		BackoffMax:    4 * time.Hour,
	}
}

func TestRunOnceDrainsQueue(t *testing.T) {
	t.Parallel()
	q := openQueue(t)
	sink := newRecordingSink()
	reqs := fill(t, q, 25)

	res := New(q, sink, testConfig()).RunOnce(context.Background())
	if res.Delivered != 25 || res.Failed != 0 {
		t.Fatalf("RunOnce() = %+v", res)
	}

	pending, _ := q.ListPending(context.Background())
	if len(pending) != 0 {
		t.Fatalf("queue still holds %d entries", len(pending))
	}
	for _, r := range reqs {
		if sink.count(r.ID) != 1 {
			t.Errorf("packet %s delivered %d times", r.ID, sink.count(r.ID))
		}
		if got := sink.received[r.ID][0]; !got.Late {
			t.Errorf("packet %s resubmitted with late=false", r.ID)
		}
	}
}

func TestFailedEntryStaysAndBacksOff(t *testing.T) {
	t.Parallel()
	q := openQueue(t)
	sink := newRecordingSink()
	sink.setFail(true)
	reqs := fill(t, q, 1)

	loop := New(q, sink, testConfig())
	now := time.Now()
	loop.now = func() time.Time { return now }

	if res := loop.RunOnce(context.Background()); res.Failed != 1 {
		t.Fatalf("first cycle = %+v, want 1 failure", res)
	}
	pending, _ := q.ListPending(context.Background())
	if len(pending) != 1 || pending[0].Attempts != 1 {
		t.Fatalf("entry after failure = %+v", pending)
	}
	if pending[0].Request.Late {
		t.Error("stored request must keep its original late flag")
	}

	// Sink recovers, but the entry is still inside its backoff window.
	sink.setFail(false)
	if res := loop.RunOnce(context.Background()); res.Deferred != 1 || res.Delivered != 0 {
		t.Fatalf("cycle within backoff = %+v", res)
	}

	loop.now = func() time.Time { return now.Add(2 * time.Hour) }
	if res := loop.RunOnce(context.Background()); res.Delivered != 1 {
		t.Fatalf("cycle after backoff = %+v", res)
	}
	if sink.count(reqs[0].ID) != 1 {
		t.Errorf("delivered %d times, want 1", sink.count(reqs[0].ID))
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()
	l := New(nil, nil, Config{BackoffBase: time.Second, BackoffMax: time.Minute})

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{7, time.Minute},
		{500, time.Minute},
	}
	for _, tt := range tests {
		if got := l.Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	q := openQueue(t)
	sink := newRecordingSink()
	fill(t, q, 5)

	loop := New(q, sink, testConfig())
	if err := loop.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !loop.IsRunning() {
		t.Fatal("IsRunning() = false after Start")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if q.Stats().Pending == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := q.Stats().Pending; n != 0 {
		t.Errorf("queue not drained by running loop: %d pending", n)
	}

	loop.Stop()
	if loop.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	loop.Stop()
}

func TestRunOnceCanceled(t *testing.T) {
	t.Parallel()
	q := openQueue(t)
	sink := newRecordingSink()
	fill(t, q, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := New(q, sink, testConfig()).RunOnce(ctx)
	if res.Delivered != 0 {
		t.Errorf("canceled cycle delivered %d packets", res.Delivered)
	}
}
