// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

// Package reconcile drains the durable retry queue against the sink's
// fallback path.
//
// Each cycle lists the queue, resubmits every entry whose backoff has elapsed
// with late=true, and removes it once the sink acknowledges. Failed entries
// stay queued with an incremented attempt count; there is no retry cap.
// After n failed attempts an entry waits base * 2^(n-1), capped at BackoffMax.
package reconcile

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/vitalstream/internal/logging"
	"github.com/tomtom215/vitalstream/internal/metrics"
	"github.com/tomtom215/vitalstream/internal/models"
	"github.com/tomtom215/vitalstream/internal/retryqueue"
)

// FallbackSink accepts late packets with insert-or-ignore semantics.
// A nil error means the packet is stored, whether or not it already was.
type FallbackSink interface {
	SubmitFallback(ctx context.Context, req *models.SubmitRequest) error
}

// Config controls the loop.
type Config struct {
	Interval      time.Duration
	SubmitTimeout time.Duration
	BackoffBase   time.Duration
	BackoffMax    time.Duration

	// RatePerSecond paces resubmissions; zero disables pacing.
	RatePerSecond float64
}

// DefaultConfig drains every 5s with a 2s submit timeout.
func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Second,
		SubmitTimeout: 2 * time.Second,
		BackoffBase:   time.Second,
		BackoffMax:    5 * time.Minute,
		RatePerSecond: 50,
	}
}

// CycleResult summarizes one pass over the queue.
type CycleResult struct {
	Delivered int
	Failed    int
	Deferred  int
	Err       error
}

// Loop is the reconciliation task.
type Loop struct {
	queue   retryqueue.Queue
	sink    FallbackSink
	config  Config
	limiter *rate.Limiter
	now     func() time.Time

	mu       sync.Mutex
	running  bool
	stopping bool
	cancel   context.CancelFunc
	stopDone chan struct{}
}

// New creates a reconciliation loop.
func New(queue retryqueue.Queue, sink FallbackSink, cfg Config) *Loop {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = def.SubmitTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &Loop{
		queue:   queue,
		sink:    sink,
		config:  cfg,
		limiter: limiter,
		now:     time.Now,
	}
}

// Start launches the loop in the background. A Start racing with a Stop
// waits for the Stop to finish first.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	for l.stopping {
		done := l.stopDone
		l.mu.Unlock()
		<-done
		l.mu.Lock()
	}
	if l.running {
		l.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true
	l.stopDone = make(chan struct{})
	done := l.stopDone
	l.mu.Unlock()

	go l.run(runCtx, done)

	logging.Info().
		Dur("interval", l.config.Interval).
		Dur("backoff_max", l.config.BackoffMax).
		Msg("Reconciliation loop started")
	return nil
}

// Stop cancels the loop. A cycle in progress ends before its next entry.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running || l.stopping {
		l.mu.Unlock()
		return
	}
	l.cancel()
	l.running = false
	l.stopping = true
	done := l.stopDone
	l.mu.Unlock()

	<-done

	l.mu.Lock()
	l.stopping = false
	l.mu.Unlock()

	logging.Info().Msg("Reconciliation loop stopped")
}

// IsRunning reports whether the loop is active.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reconciliation cycle.
func (l *Loop) RunOnce(ctx context.Context) CycleResult {
	metrics.ReconcileCycles.Inc()

	entries, err := l.queue.ListPending(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Reconcile: failed to list retry queue")
		return CycleResult{Err: err}
	}
	if len(entries) == 0 {
		return CycleResult{}
	}

	var res CycleResult
	for _, e := range entries {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			break
		}

		if !l.ready(e) {
			res.Deferred++
			metrics.ReconcileResubmits.WithLabelValues("deferred").Inc()
			continue
		}

		if err := l.limiter.Wait(ctx); err != nil {
			res.Err = err
			break
		}

		if l.resubmit(ctx, e) {
			res.Delivered++
		} else {
			res.Failed++
		}
	}

	if res.Delivered > 0 || res.Failed > 0 {
		logging.Info().
			Int("pending", len(entries)).
			Int("delivered", res.Delivered).
			Int("failed", res.Failed).
			Int("deferred", res.Deferred).
			Msg("Reconcile cycle complete")
	}
	return res
}

func (l *Loop) resubmit(ctx context.Context, e *retryqueue.Entry) bool {
	req := e.Request.AsLate()
	pctx := logging.ContextWithPacket(ctx, logging.PacketRef{ID: req.ID, EntityID: req.EntityID, SeqNo: req.SeqNo})

	subCtx, cancel := context.WithTimeout(pctx, l.config.SubmitTimeout)
	err := l.sink.SubmitFallback(subCtx, req)
	cancel()

	if err != nil {
		metrics.ReconcileResubmits.WithLabelValues("failed").Inc()
		logging.Ctx(pctx).Warn().Err(err).
			Int("attempt", e.Attempts+1).
			Dur("next_backoff", l.Backoff(e.Attempts+1)).
			Msg("Reconcile: resubmission failed")
		if uerr := l.queue.RecordAttempt(ctx, e.ID, err.Error()); uerr != nil && !errors.Is(uerr, retryqueue.ErrEntryNotFound) {
			logging.Ctx(pctx).Error().Err(uerr).Msg("Reconcile: failed to record attempt")
		}
		return false
	}

	// The sink has the packet. A failed removal only means a harmless
	// duplicate resubmission next cycle.
	if err := l.queue.Remove(ctx, e.ID); err != nil {
		logging.Ctx(pctx).Error().Err(err).Msg("Reconcile: delivered but failed to remove entry")
	}
	metrics.ReconcileResubmits.WithLabelValues("delivered").Inc()
	logging.Ctx(pctx).Debug().Msg("Reconcile: packet delivered late")
	return true
}

func (l *Loop) ready(e *retryqueue.Entry) bool {
	if e.LastAttemptAt.IsZero() {
		return true
	}
	return l.now().Sub(e.LastAttemptAt) >= l.Backoff(e.Attempts)
}

// Backoff returns the wait before the next resubmission after the given
// number of failed attempts.
func (l *Loop) Backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	if attempts > 50 {
		return l.config.BackoffMax
	}
	d := time.Duration(float64(l.config.BackoffBase) * math.Pow(2, float64(attempts-1)))
	if d <= 0 || d > l.config.BackoffMax {
		return l.config.BackoffMax
	}
	return d
}
