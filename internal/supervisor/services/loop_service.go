// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package services

import (
	"context"
	"fmt"
)

// StartStopper is the lifecycle shared by the background loops.
//
// Satisfied by:
//   - *producer.Scheduler
//   - *reconcile.Loop
//   - *retryqueue.GCLoop
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// LoopService adapts a StartStopper to suture.Service: Start, wait for
// cancellation, then Stop. Stop blocks until the loop's goroutines exit,
// so the scheduler's in-flight dispatches finish before Serve returns.
type LoopService struct {
	loop StartStopper
	name string
}

// NewLoopService wraps loop under the given service name.
func NewLoopService(name string, loop StartStopper) *LoopService {
	return &LoopService{loop: loop, name: name}
}

// Serve implements suture.Service.
func (s *LoopService) Serve(ctx context.Context) error {
	if err := s.loop.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()
	s.loop.Stop()
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *LoopService) String() string {
	return s.name
}
