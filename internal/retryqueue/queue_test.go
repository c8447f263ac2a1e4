// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vitalstream/internal/models"
)

func createTestConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Path:             filepath.Join(t.TempDir(), "queue"),
		SyncWrites:       false,
		MemTableSize:     16 << 20,
		ValueLogFileSize: 16 << 20,
		NumCompactors:    2,
		GCRatio:          0.5,
		GCInterval:       time.Second,
		CloseTimeout:     5 * time.Second,
	}
}

func openTestQueue(t *testing.T) *BadgerQueue {
	t.Helper()
	cfg := createTestConfig(t)
	q, err := OpenForTesting(&cfg)
	if err != nil {
		t.Fatalf("OpenForTesting() error = %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func testRequest(seq int64) *models.SubmitRequest {
	return &models.SubmitRequest{
		ID:       uuid.New().String(),
		SeqNo:    seq,
		EntityID: "patient1",
		Envelope: fmt.Sprintf("env-%d", seq),
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}

	cfg.Path = ""
	var ce *ConfigError
	if err := cfg.Validate(); !errors.As(err, &ce) || ce.Field != "Path" {
		t.Errorf("Validate() = %v, want Path ConfigError", err)
	}
}

func TestEnqueueListRemove(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	ctx := context.Background()

	reqs := []*models.SubmitRequest{testRequest(1), testRequest(2), testRequest(3)}
	for _, r := range reqs {
		if err := q.Enqueue(ctx, r); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	pending, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("ListPending() returned %d entries, want 3", len(pending))
	}
	for _, e := range pending {
		if e.Request.Late {
			t.Errorf("entry %s stored with late=true", e.ID)
		}
	}

	if err := q.Remove(ctx, reqs[1].ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if got := q.Stats().Pending; got != 2 {
		t.Errorf("Pending = %d after remove, want 2", got)
	}

	// Removing twice is harmless.
	if err := q.Remove(ctx, reqs[1].ID); err != nil {
		t.Errorf("second Remove() error = %v", err)
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	ctx := context.Background()

	req := testRequest(7)
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, req); err != nil {
			t.Fatalf("Enqueue() #%d error = %v", i, err)
		}
	}
	if err := q.RecordAttempt(ctx, req.ID, "timeout"); err != nil {
		t.Fatalf("RecordAttempt() error = %v", err)
	}
	if err := q.Enqueue(ctx, req); err != nil {
		t.Fatal(err)
	}

	pending, _ := q.ListPending(ctx)
	if len(pending) != 1 {
		t.Fatalf("got %d entries for one ID, want 1", len(pending))
	}
	if pending[0].Attempts != 1 || pending[0].LastError != "timeout" {
		t.Errorf("attempt history lost on overwrite: %+v", pending[0])
	}
}

func TestRecordAttemptUnknown(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)

	if err := q.RecordAttempt(context.Background(), "missing", "x"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("RecordAttempt() = %v, want ErrEntryNotFound", err)
	}
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, nil); !errors.Is(err, ErrNilRequest) {
		t.Errorf("nil request: %v", err)
	}
	if err := q.Enqueue(ctx, &models.SubmitRequest{}); !errors.Is(err, ErrEmptyID) {
		t.Errorf("empty id: %v", err)
	}
}

func TestSurvivesReopen(t *testing.T) {
	t.Parallel()
	cfg := createTestConfig(t)
	ctx := context.Background()

	q, err := OpenForTesting(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	req := testRequest(11)
	if err := q.Enqueue(ctx, req); err != nil {
		t.Fatal(err)
	}
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}

	q2, err := OpenForTesting(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer q2.Close()

	pending, err := q2.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Request != *req {
		t.Errorf("after reopen got %+v", pending)
	}
}

func TestClosedQueue(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	_ = q.Close()

	ctx := context.Background()
	if err := q.Enqueue(ctx, testRequest(1)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Enqueue() = %v", err)
	}
	if _, err := q.ListPending(ctx); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("ListPending() = %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestConcurrentEnqueueAndRemove(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	ctx := context.Background()

	const n = 100
	reqs := make([]*models.SubmitRequest, n)
	for i := range reqs {
		reqs[i] = testRequest(int64(i + 1))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(r *models.SubmitRequest) {
			defer wg.Done()
			if err := q.Enqueue(ctx, r); err != nil {
				t.Errorf("Enqueue() error = %v", err)
			}
		}(reqs[i])
	}
	// Drain concurrently with the writers; distinct entries only.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			entries, err := q.ListPending(ctx)
			if err != nil {
				t.Errorf("ListPending() error = %v", err)
				return
			}
			for _, e := range entries {
				if e.Request.SeqNo%2 == 0 {
					_ = q.Remove(ctx, e.ID)
				}
			}
		}
	}()
	wg.Wait()

	for _, r := range reqs {
		if r.SeqNo%2 == 0 {
			_ = q.Remove(ctx, r.ID)
		}
	}

	entries, _ := q.ListPending(ctx)
	if len(entries) != n/2 {
		t.Fatalf("pending = %d, want %d", len(entries), n/2)
	}
	for _, e := range entries {
		if e.Request.SeqNo%2 == 0 {
			t.Errorf("entry seq %d should have been removed", e.Request.SeqNo)
		}
	}
}

func TestGCLoopLifecycle(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	g := NewGCLoop(q)

	if err := g.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !g.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	g.RunOnce()
	g.Stop()
	if g.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}
