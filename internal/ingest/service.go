// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

// Package ingest is the server side of the pipeline: it records submitted
// packets exactly once per packet ID and answers the sequence and gap
// queries the producer and operators rely on.
//
// The primary path (Accept) reports a duplicate as a successful outcome.
// The fallback path (AcceptFallback) is plain insert-or-ignore and only
// fails when storage fails. Records are never updated or deleted here.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/vitalstream/internal/envelope"
	"github.com/tomtom215/vitalstream/internal/logging"
	"github.com/tomtom215/vitalstream/internal/metrics"
	"github.com/tomtom215/vitalstream/internal/models"
)

// MaxGapSpan bounds the width of a single gap query.
const MaxGapSpan = 1_000_000

// Paths, used as metric labels.
const (
	PathPrimary  = "primary"
	PathFallback = "fallback"
)

var (
	// ErrInvalidRange is returned for start < 1 or end < start.
	ErrInvalidRange = errors.New("ingest: invalid sequence range")

	// ErrRangeTooLarge is returned when a gap query spans more than MaxGapSpan.
	ErrRangeTooLarge = errors.New("ingest: sequence range too large")

	// ErrNoCodec is returned by Decrypt when the service has no key.
	ErrNoCodec = errors.New("ingest: envelope key not configured")
)

// Verifier authenticates envelopes. *envelope.Codec satisfies it.
type Verifier interface {
	Decode(env string) (models.Reading, error)
}

// Notifier is told about every newly created record. PublishAccepted runs
// inside the ingest request and must return promptly.
type Notifier interface {
	PublishAccepted(ctx context.Context, evt *models.AcceptedEvent) error
}

// Option configures a Service.
type Option func(*Service)

// WithVerifier rejects envelopes that fail authentication before they are stored.
func WithVerifier(v Verifier) Option {
	return func(s *Service) { s.verifier = v; s.verify = true }
}

// WithDecrypter enables Decrypt without verifying on ingest.
func WithDecrypter(v Verifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithNotifier announces accepted records.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the ingestion sink.
type Service struct {
	store    Store
	verifier Verifier
	verify   bool
	notifier Notifier
	now      func() time.Time
}

// NewService creates a sink over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Accept records req on the primary path.
func (s *Service) Accept(ctx context.Context, req *models.SubmitRequest) (*models.SubmitResponse, error) {
	rec, inserted, err := s.insert(ctx, req, PathPrimary)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return &models.SubmitResponse{Status: models.StatusDuplicate, ID: req.ID, SeqNo: req.SeqNo}, nil
	}
	received := rec.ReceivedAt
	return &models.SubmitResponse{Status: models.StatusAccepted, ID: req.ID, SeqNo: req.SeqNo, ReceivedAt: &received}, nil
}

// AcceptFallback records req with insert-or-ignore semantics. Fallback
// records are always marked late, whatever the client sent.
func (s *Service) AcceptFallback(ctx context.Context, req *models.SubmitRequest) error {
	req.Late = true
	_, _, err := s.insert(ctx, req, PathFallback)
	return err
}

func (s *Service) insert(ctx context.Context, req *models.SubmitRequest, path string) (*models.IngestionRecord, bool, error) {
	l := logging.Ctx(logging.ContextWithPacket(ctx, logging.PacketRef{ID: req.ID, EntityID: req.EntityID, SeqNo: req.SeqNo}))

	if s.verify {
		if _, err := s.verifier.Decode(req.Envelope); err != nil {
			if envelope.IsAuthentication(err) {
				metrics.IngestAuthFailures.Inc()
			}
			metrics.IngestRecords.WithLabelValues(path, "rejected").Inc()
			l.Warn().Err(err).Str("path", path).Msg("Envelope rejected")
			return nil, false, err
		}
	}

	rec := models.NewRecord(req, s.now())
	inserted, err := s.store.Insert(ctx, rec)
	if err != nil {
		metrics.IngestRecords.WithLabelValues(path, metrics.OutcomeFailed).Inc()
		l.Error().Err(err).Str("path", path).Msg("Failed to store record")
		return nil, false, err
	}

	if !inserted {
		metrics.IngestRecords.WithLabelValues(path, metrics.OutcomeDuplicate).Inc()
		l.Debug().Str("path", path).Msg("Duplicate packet ignored")
		return rec, false, nil
	}

	metrics.IngestRecords.WithLabelValues(path, metrics.OutcomeAccepted).Inc()
	l.Debug().Str("path", path).Bool("late", rec.Late).Msg("Record stored")
	s.announce(ctx, rec)
	return rec, true, nil
}

// announce is best effort: the record is already durable. Notifiers must
// not block; events.Publisher only enqueues.
func (s *Service) announce(ctx context.Context, rec *models.IngestionRecord) {
	if s.notifier == nil {
		return
	}
	evt := &models.AcceptedEvent{
		ID:         rec.ID,
		EntityID:   rec.EntityID,
		SeqNo:      rec.SeqNo,
		Late:       rec.Late,
		ReceivedAt: rec.ReceivedAt,
	}
	if err := s.notifier.PublishAccepted(ctx, evt); err != nil {
		metrics.EventsPublished.WithLabelValues("rejected").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("packet_id", rec.ID).Msg("Failed to publish accepted event")
		return
	}
	metrics.EventsPublished.WithLabelValues("queued").Inc()
}

// LastSequences returns the highest stored seq_no per entity.
func (s *Service) LastSequences(ctx context.Context) (map[string]int64, error) {
	return s.store.LastSequences(ctx)
}

// Entities lists entities with stored records.
func (s *Service) Entities(ctx context.Context) ([]string, error) {
	return s.store.Entities(ctx)
}

// Range returns stored records for entity in [start, end].
func (s *Service) Range(ctx context.Context, entity string, start, end int64) ([]*models.IngestionRecord, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	return s.store.Range(ctx, entity, start, end)
}

// Gaps lists the seq numbers in [start, end] with no stored record.
func (s *Service) Gaps(ctx context.Context, entity string, start, end int64) (*models.GapReport, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	if end-start+1 > MaxGapSpan {
		return nil, fmt.Errorf("%w: %d > %d", ErrRangeTooLarge, end-start+1, MaxGapSpan)
	}

	recs, err := s.store.Range(ctx, entity, start, end)
	if err != nil {
		return nil, err
	}
	return FindGaps(entity, start, end, recs), nil
}

// FindGaps computes the gap report for records already limited to [start, end].
func FindGaps(entity string, start, end int64, recs []*models.IngestionRecord) *models.GapReport {
	seen := make(map[int64]struct{}, len(recs))
	for _, r := range recs {
		seen[r.SeqNo] = struct{}{}
	}
	report := &models.GapReport{EntityID: entity, Start: start, End: end, Present: len(seen), Missing: []int64{}}
	for seq := start; seq <= end; seq++ {
		if _, ok := seen[seq]; !ok {
			report.Missing = append(report.Missing, seq)
		}
	}
	return report
}

// Recent returns the newest stored records, optionally for one entity.
func (s *Service) Recent(ctx context.Context, entity string, limit int) ([]*models.IngestionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.Recent(ctx, entity, limit)
}

// Decrypt opens an envelope with the server's key.
func (s *Service) Decrypt(env string) (models.Reading, error) {
	if s.verifier == nil {
		return models.Reading{}, ErrNoCodec
	}
	return s.verifier.Decode(env)
}

// Count returns the number of records stored under id.
func (s *Service) Count(ctx context.Context, id string) (int, error) {
	return s.store.Count(ctx, id)
}

func checkRange(start, end int64) error {
	if start < 1 || end < start {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, start, end)
	}
	return nil
}
