// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

// Package sequence issues per-entity sequence numbers on the producer.
//
// Counters live only in memory. On startup the Authority is seeded once from
// the ingestion server's last recorded sequence per entity; after that it
// never talks to the server again. If the server cannot be reached at
// startup every counter starts from zero and the first number issued is 1
// (degraded start), which can collide with numbers already stored for that
// entity. The server deduplicates on packet ID only, so a collision never
// causes a lost or merged record.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/vitalstream/internal/logging"
)

// ErrDegradedStart is returned by Initialize when the seed query failed.
var ErrDegradedStart = errors.New("sequence: seed query failed, counters start at 1")

// Oracle answers the bootstrap query against the ingestion server.
type Oracle interface {
	// LastSequences returns the highest stored seq_no per entity.
	// Entities with no records may be absent.
	LastSequences(ctx context.Context) (map[string]int64, error)
}

// Authority owns the entity -> last issued seq_no mapping.
type Authority struct {
	mu       sync.Mutex
	last     map[string]int64
	degraded bool
}

// New returns an empty Authority. Call Initialize before issuing numbers
// to resume from server state.
func New() *Authority {
	return &Authority{last: make(map[string]int64)}
}

// NewWithState returns an Authority seeded from an explicit snapshot.
func NewWithState(state map[string]int64) *Authority {
	a := New()
	for k, v := range state {
		a.last[k] = v
	}
	return a
}

// Initialize seeds counters for roster (and for every entity the server
// already knows) from a single oracle query. A failed query is not fatal:
// roster entities are registered at 0 and the returned error wraps
// ErrDegradedStart.
func (a *Authority) Initialize(ctx context.Context, oracle Oracle, roster []string) error {
	seeds, err := oracle.LastSequences(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, entity := range roster {
		if _, ok := a.last[entity]; !ok {
			a.last[entity] = 0
		}
	}

	if err != nil {
		a.degraded = true
		logging.Warn().Err(err).Strs("roster", roster).
			Msg("Sequence seed unavailable, starting counters at 1; seq_no may repeat historical values")
		return fmt.Errorf("%w: %v", ErrDegradedStart, err)
	}

	for entity, seq := range seeds {
		if seq > a.last[entity] {
			a.last[entity] = seq
		}
	}
	a.degraded = false

	logging.Info().Int("entities", len(a.last)).Msg("Sequence authority seeded")
	return nil
}

// Next issues the next seq_no for entity. Unseen entities start at 1.
func (a *Authority) Next(entity string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last[entity]++
	return a.last[entity]
}

// Last returns the most recently issued seq_no for entity, 0 if none.
func (a *Authority) Last(entity string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last[entity]
}

// Degraded reports whether the last Initialize ran without server state.
func (a *Authority) Degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

// Entities returns the known entities in sorted order.
func (a *Authority) Entities() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.last))
	for k := range a.last {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot copies the current counters.
func (a *Authority) Snapshot() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int64, len(a.last))
	for k, v := range a.last {
		out[k] = v
	}
	return out
}
