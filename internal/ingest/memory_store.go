// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package ingest

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/vitalstream/internal/models"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*models.IngestionRecord
	ordered []*models.IngestionRecord
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*models.IngestionRecord)}
}

// Insert implements Store.
func (m *MemoryStore) Insert(ctx context.Context, rec *models.IngestionRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &StoreError{Op: "insert", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[rec.ID]; ok {
		return false, nil
	}
	c := *rec
	m.byID[c.ID] = &c
	m.ordered = append(m.ordered, &c)
	return true, nil
}

// LastSequences implements Store.
func (m *MemoryStore) LastSequences(_ context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64)
	for _, r := range m.ordered {
		if r.SeqNo > out[r.EntityID] {
			out[r.EntityID] = r.SeqNo
		}
	}
	return out, nil
}

// Entities implements Store.
func (m *MemoryStore) Entities(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	out := []string{}
	for _, r := range m.ordered {
		if _, ok := seen[r.EntityID]; !ok {
			seen[r.EntityID] = struct{}{}
			out = append(out, r.EntityID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Range implements Store.
func (m *MemoryStore) Range(_ context.Context, entity string, start, end int64) ([]*models.IngestionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.IngestionRecord{}
	for _, r := range m.ordered {
		if r.EntityID == entity && r.SeqNo >= start && r.SeqNo <= end {
			c := *r
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SeqNo != out[j].SeqNo {
			return out[i].SeqNo < out[j].SeqNo
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out, nil
}

// Recent implements Store.
func (m *MemoryStore) Recent(_ context.Context, entity string, limit int) ([]*models.IngestionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.IngestionRecord{}
	for i := len(m.ordered) - 1; i >= 0 && len(out) < limit; i-- {
		if entity != "" && m.ordered[i].EntityID != entity {
			continue
		}
		c := *m.ordered[i]
		out = append(out, &c)
	}
	return out, nil
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context, id string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.byID[id]; ok {
		return 1, nil
	}
	return 0, nil
}

// Len returns the total number of records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ordered)
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
