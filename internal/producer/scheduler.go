// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

// Package producer runs the periodic per-entity packet generator.
//
// On every tick, for each entity in roster order, the Scheduler:
//
//  1. issues the next seq_no (always, whether or not delivery later succeeds)
//  2. assigns a fresh packet UUID and reads the sensor
//  3. seals the reading into an envelope; an oversize reading is logged and dropped
//  4. dispatches the packet on its own goroutine with a bounded timeout
//
// A failed dispatch (timeout, transport error, non-2xx, open breaker) hands
// the packet to the retry queue with late=false. Nothing that happens to a
// single packet stops the loop.
package producer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vitalstream/internal/envelope"
	"github.com/tomtom215/vitalstream/internal/logging"
	"github.com/tomtom215/vitalstream/internal/metrics"
	"github.com/tomtom215/vitalstream/internal/models"
	"github.com/tomtom215/vitalstream/internal/sequence"
)

// Sink is the primary acceptance path.
type Sink interface {
	Submit(ctx context.Context, req *models.SubmitRequest) (*models.SubmitResponse, error)
}

// Encoder seals a reading into an envelope.
type Encoder interface {
	Encode(r models.Reading) (string, error)
}

// Enqueuer is the part of the retry queue the scheduler writes to.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *models.SubmitRequest) error
}

// Config controls the scheduler.
type Config struct {
	Period          time.Duration
	DispatchTimeout time.Duration
	Entities        []string
}

// TickResult counts what one tick did.
type TickResult struct {
	Issued  int
	Dropped int
}

// Scheduler generates and dispatches packets.
type Scheduler struct {
	cfg       Config
	authority *sequence.Authority
	codec     Encoder
	sink      Sink
	queue     Enqueuer
	sensor    Sensor
	now       func() time.Time

	inflight sync.WaitGroup

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// New creates a scheduler. The authority should already be initialized.
func New(cfg Config, authority *sequence.Authority, codec Encoder, sink Sink, queue Enqueuer, sensor Sensor) *Scheduler {
	if cfg.Period <= 0 {
		cfg.Period = time.Second
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = time.Second
	}
	if sensor == nil {
		sensor = SimulatedSensor{}
	}
	return &Scheduler{
		cfg:       cfg,
		authority: authority,
		codec:     codec,
		sink:      sink,
		queue:     queue,
		sensor:    sensor,
		now:       time.Now,
	}
}

// Start begins ticking. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.loopDone = make(chan struct{})

	go s.run(runCtx, s.loopDone)

	logging.Info().
		Strs("entities", s.cfg.Entities).
		Dur("period", s.cfg.Period).
		Dur("dispatch_timeout", s.cfg.DispatchTimeout).
		Msg("Scheduler started")
	return nil
}

// Stop halts ticking immediately, then waits for in-flight dispatches to
// finish or time out.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	done := s.loopDone
	s.mu.Unlock()

	<-done
	s.inflight.Wait()
	logging.Info().Msg("Scheduler stopped")
}

// IsRunning reports whether the scheduler is ticking.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until every dispatch started so far has finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick and cancellation may be ready together; cancellation wins.
			if ctx.Err() != nil {
				return
			}
			s.Tick(ctx)
		}
	}
}

// Tick generates one packet per entity and starts its dispatch.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	var res TickResult
	for _, entity := range s.cfg.Entities {
		pkt, env, ok := s.issue(ctx, entity)
		if !ok {
			res.Dropped++
			continue
		}
		res.Issued++

		s.inflight.Add(1)
		metrics.InFlightDispatches.Inc()
		go func() {
			defer s.inflight.Done()
			defer metrics.InFlightDispatches.Dec()
			s.dispatch(ctx, pkt, env)
		}()
	}
	return res
}

// issue performs the synchronous part of a tick for one entity.
func (s *Scheduler) issue(ctx context.Context, entity string) (*models.Packet, string, bool) {
	pkt := &models.Packet{
		ID:       uuid.New(),
		EntityID: entity,
		SeqNo:    s.authority.Next(entity),
	}
	pkt.Reading = s.sensor.Read(entity, s.now())
	metrics.PacketsGenerated.WithLabelValues(entity).Inc()

	env, err := s.codec.Encode(pkt.Reading)
	if err != nil {
		l := logging.Ctx(packetContext(ctx, pkt))
		if envelope.IsOversize(err) {
			metrics.PacketsOversize.Inc()
			l.Error().Err(err).Msg("Reading exceeds envelope capacity, dropped")
		} else {
			l.Error().Err(err).Msg("Failed to encode reading, dropped")
		}
		return nil, "", false
	}
	return pkt, env, true
}

// dispatch is detached from scheduler cancellation: an in-flight packet
// is bounded only by DispatchTimeout.
func (s *Scheduler) dispatch(ctx context.Context, pkt *models.Packet, env string) {
	pctx := packetContext(context.WithoutCancel(ctx), pkt)
	req := pkt.Request(env)

	dctx, cancel := context.WithTimeout(pctx, s.cfg.DispatchTimeout)
	start := time.Now()
	resp, err := s.sink.Submit(dctx, req)
	cancel()

	if err == nil {
		outcome := metrics.OutcomeAccepted
		if resp != nil && resp.Duplicate() {
			outcome = metrics.OutcomeDuplicate
		}
		metrics.RecordDispatch(outcome, time.Since(start))
		logging.Ctx(pctx).Debug().Str("outcome", outcome).Msg("Packet dispatched")
		return
	}

	metrics.RecordDispatch(metrics.OutcomeFailed, time.Since(start))
	logging.Ctx(pctx).Warn().Err(err).Msg("Dispatch failed, queueing for reconciliation")

	if qerr := s.queue.Enqueue(pctx, req); qerr != nil {
		metrics.PacketsLost.Inc()
		logging.Ctx(pctx).Error().Err(qerr).Msg("Retry queue write failed, packet lost")
	}
}

func packetContext(ctx context.Context, pkt *models.Packet) context.Context {
	return logging.ContextWithPacket(ctx, logging.PacketRef{ID: pkt.ID.String(), EntityID: pkt.EntityID, SeqNo: pkt.SeqNo})
}

// ErrNoEntities is returned by Validate when the roster is empty.
var ErrNoEntities = errors.New("producer: at least one entity is required")

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Entities) == 0 {
		return ErrNoEntities
	}
	return nil
}
