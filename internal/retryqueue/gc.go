// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package retryqueue

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/vitalstream/internal/logging"
)

// GCLoop periodically reclaims value-log space left behind by removed
// entries and refreshes the queue gauges.
type GCLoop struct {
	queue    *BadgerQueue
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewGCLoop creates a GC loop using the queue's configured interval.
func NewGCLoop(q *BadgerQueue) *GCLoop {
	interval := q.config.GCInterval
	if interval <= 0 {
		interval = DefaultConfig().GCInterval
	}
	return &GCLoop{queue: q, interval: interval}
}

// Start launches the loop. Calling Start on a running loop is a no-op.
func (g *GCLoop) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.running = true

	g.wg.Add(1)
	go g.run(runCtx)

	logging.Debug().Dur("interval", g.interval).Msg("Retry queue GC started")
	return nil
}

// Stop halts the loop and waits for an in-progress GC pass.
func (g *GCLoop) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.cancel()
	g.running = false
	g.mu.Unlock()

	g.wg.Wait()
}

// IsRunning reports whether the loop is active.
func (g *GCLoop) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *GCLoop) run(ctx context.Context) {
	defer g.wg.Done()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.RunOnce()
		}
	}
}

// RunOnce performs a single GC pass and logs queue depth.
func (g *GCLoop) RunOnce() {
	if err := g.queue.RunGC(); err != nil {
		logging.Warn().Err(err).Msg("Retry queue GC failed")
		return
	}
	s := g.queue.Stats()
	logging.Debug().
		Int64("pending", s.Pending).
		Int64("db_size_bytes", s.DBSizeBytes).
		Msg("Retry queue GC complete")
}
