// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vitalstream/internal/envelope"
	"github.com/tomtom215/vitalstream/internal/models"
)

const testKey = "ingest-test-key"

func newCodec(t *testing.T) *envelope.Codec {
	t.Helper()
	c, err := envelope.New(testKey, envelope.DefaultCapacity)
	if err != nil {
		t.Fatalf("envelope.New() error = %v", err)
	}
	return c
}

func submission(t *testing.T, c *envelope.Codec, entity string, seq int64) *models.SubmitRequest {
	t.Helper()
	env, err := c.Encode(models.Reading{EntityID: entity, HeartRate: 72, OxygenLevel: 98, Temp: 36.6, GeneratedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return &models.SubmitRequest{ID: uuid.New().String(), SeqNo: seq, EntityID: entity, Envelope: env}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*models.AcceptedEvent
	err    error
}

func (n *recordingNotifier) PublishAccepted(_ context.Context, evt *models.AcceptedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return n.err
}

func TestAcceptThenDuplicate(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	notifier := &recordingNotifier{}
	svc := NewService(store, WithNotifier(notifier))
	ctx := context.Background()
	req := submission(t, newCodec(t), "patient1", 1)

	first, err := svc.Accept(ctx, req)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if first.Status != models.StatusAccepted || first.ReceivedAt == nil {
		t.Errorf("first = %+v", first)
	}

	second, err := svc.Accept(ctx, req)
	if err != nil {
		t.Fatalf("duplicate Accept() error = %v", err)
	}
	if !second.Duplicate() || second.ReceivedAt != nil {
		t.Errorf("second = %+v, want duplicate", second)
	}

	if n, _ := svc.Count(ctx, req.ID); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
	if len(notifier.events) != 1 {
		t.Errorf("notifier saw %d events, want 1", len(notifier.events))
	}
}

func TestFallbackIsInsertOrIgnore(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()
	req := submission(t, newCodec(t), "patient1", 7)

	if _, err := svc.Accept(ctx, req); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := svc.AcceptFallback(ctx, req.AsLate()); err != nil {
			t.Fatalf("AcceptFallback() #%d error = %v", i, err)
		}
	}

	recs, _ := svc.Range(ctx, "patient1", 1, 10)
	if len(recs) != 1 {
		t.Fatalf("Range() returned %d records, want 1", len(recs))
	}
	if recs[0].Late {
		t.Error("fallback must not overwrite the primary-path record")
	}
}

func TestConcurrentSameIDStoredOnce(t *testing.T) {
	t.Parallel()
	svc := NewService(NewMemoryStore())
	req := submission(t, newCodec(t), "patient1", 1)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(late bool) {
			defer wg.Done()
			if late {
				_ = svc.AcceptFallback(context.Background(), req.AsLate())
				return
			}
			resp, err := svc.Accept(context.Background(), req)
			if err == nil && !resp.Duplicate() {
				accepted.Add(1)
			}
		}(i%2 == 1)
	}
	wg.Wait()

	if n, _ := svc.Count(context.Background(), req.ID); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
	if accepted.Load() > 1 {
		t.Errorf("%d primary calls reported accepted", accepted.Load())
	}
}

func TestVerifierRejectsTamperedEnvelope(t *testing.T) {
	t.Parallel()
	codec := newCodec(t)
	store := NewMemoryStore()
	svc := NewService(store, WithVerifier(codec))

	other, err := envelope.New("some-other-key", envelope.DefaultCapacity)
	if err != nil {
		t.Fatal(err)
	}
	req := submission(t, other, "patient1", 1)

	_, err = svc.Accept(context.Background(), req)
	if !envelope.IsAuthentication(err) {
		t.Fatalf("Accept() error = %v, want authentication error", err)
	}
	if store.Len() != 0 {
		t.Error("rejected envelope was stored")
	}

	good := submission(t, codec, "patient1", 1)
	if _, err := svc.Accept(context.Background(), good); err != nil {
		t.Fatalf("Accept() valid envelope error = %v", err)
	}
}

func TestNotifierFailureDoesNotFailAccept(t *testing.T) {
	t.Parallel()
	svc := NewService(NewMemoryStore(), WithNotifier(&recordingNotifier{err: errors.New("nats down")}))
	resp, err := svc.Accept(context.Background(), submission(t, newCodec(t), "patient1", 1))
	if err != nil || resp.Status != models.StatusAccepted {
		t.Fatalf("Accept() = %+v, %v", resp, err)
	}
}

func TestGaps(t *testing.T) {
	t.Parallel()
	codec := newCodec(t)
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	for _, seq := range []int64{1, 2, 4, 4, 7} {
		if _, err := svc.Accept(ctx, submission(t, codec, "patient1", seq)); err != nil {
			t.Fatal(err)
		}
	}

	report, err := svc.Gaps(ctx, "patient1", 1, 8)
	if err != nil {
		t.Fatalf("Gaps() error = %v", err)
	}
	want := []int64{3, 5, 6, 8}
	if len(report.Missing) != len(want) {
		t.Fatalf("Missing = %v, want %v", report.Missing, want)
	}
	for i := range want {
		if report.Missing[i] != want[i] {
			t.Errorf("Missing = %v, want %v", report.Missing, want)
			break
		}
	}
	if report.Present != 4 {
		t.Errorf("Present = %d, want 4", report.Present)
	}

	// Colliding seq numbers are listed once per record.
	recs, _ := svc.Range(ctx, "patient1", 4, 4)
	if len(recs) != 2 {
		t.Errorf("Range(4,4) = %d records, want 2", len(recs))
	}
}

func TestRangeValidation(t *testing.T) {
	t.Parallel()
	svc := NewService(NewMemoryStore())

	tests := []struct {
		name       string
		start, end int64
		want       error
	}{
		{"zero start", 0, 5, ErrInvalidRange},
		{"inverted", 5, 4, ErrInvalidRange},
		{"too wide", 1, MaxGapSpan + 1, ErrRangeTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := svc.Gaps(context.Background(), "p", tt.start, tt.end); !errors.Is(err, tt.want) {
				t.Errorf("Gaps() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLastSequencesAndEntities(t *testing.T) {
	t.Parallel()
	codec := newCodec(t)
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	for _, s := range []struct {
		entity string
		seq    int64
	}{{"patient2", 3}, {"patient1", 42}, {"patient1", 41}} {
		if _, err := svc.Accept(ctx, submission(t, codec, s.entity, s.seq)); err != nil {
			t.Fatal(err)
		}
	}

	last, _ := svc.LastSequences(ctx)
	if last["patient1"] != 42 || last["patient2"] != 3 {
		t.Errorf("LastSequences() = %v", last)
	}
	ents, _ := svc.Entities(ctx)
	if len(ents) != 2 || ents[0] != "patient1" {
		t.Errorf("Entities() = %v", ents)
	}
}

func TestDecrypt(t *testing.T) {
	t.Parallel()
	codec := newCodec(t)
	req := submission(t, codec, "patient9", 1)

	if _, err := NewService(NewMemoryStore()).Decrypt(req.Envelope); !errors.Is(err, ErrNoCodec) {
		t.Errorf("Decrypt() without codec error = %v", err)
	}

	r, err := NewService(NewMemoryStore(), WithDecrypter(codec)).Decrypt(req.Envelope)
	if err != nil || r.EntityID != "patient9" {
		t.Errorf("Decrypt() = %+v, %v", r, err)
	}
}

func TestFallbackForcesLate(t *testing.T) {
	t.Parallel()
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	req := submission(t, newCodec(t), "patient3", 4)

	if err := svc.AcceptFallback(ctx, req); err != nil {
		t.Fatalf("AcceptFallback() error = %v", err)
	}
	recs, _ := svc.Range(ctx, "patient3", 4, 4)
	if len(recs) != 1 || !recs[0].Late {
		t.Errorf("Range() = %+v, want one late record", recs)
	}
}

func TestRecentFiltersByEntity(t *testing.T) {
	t.Parallel()
	codec := newCodec(t)
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	for _, s := range []struct {
		entity string
		seq    int64
	}{{"patient1", 1}, {"patient2", 1}, {"patient1", 2}, {"patient2", 2}, {"patient2", 3}} {
		if _, err := svc.Accept(ctx, submission(t, codec, s.entity, s.seq)); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		entity string
		limit  int
		want   int
	}{
		{"", 10, 5},
		{"patient1", 10, 2},
		{"patient2", 2, 2},
		{"patient9", 10, 0},
	}
	for _, tt := range tests {
		recs, err := svc.Recent(ctx, tt.entity, tt.limit)
		if err != nil {
			t.Fatalf("Recent(%q) error = %v", tt.entity, err)
		}
		if len(recs) != tt.want {
			t.Errorf("Recent(%q, %d) returned %d records, want %d", tt.entity, tt.limit, len(recs), tt.want)
		}
		for _, r := range recs {
			if tt.entity != "" && r.EntityID != tt.entity {
				t.Errorf("Recent(%q) returned record for %s", tt.entity, r.EntityID)
			}
		}
	}
}
