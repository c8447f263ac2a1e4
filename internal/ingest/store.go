// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/vitalstream/internal/models"
)

// Store persists ingestion records. Implementations must make Insert
// atomic with respect to the packet ID: of any number of concurrent inserts
// for the same ID, exactly one reports inserted=true.
type Store interface {
	// Insert stores rec unless a record with the same ID exists.
	Insert(ctx context.Context, rec *models.IngestionRecord) (inserted bool, err error)

	// LastSequences returns the highest stored seq_no per entity.
	LastSequences(ctx context.Context) (map[string]int64, error)

	// Entities returns every entity with at least one record, sorted.
	Entities(ctx context.Context) ([]string, error)

	// Range returns records with start <= seq_no <= end ordered by seq_no
	// then received_at. Colliding seq numbers appear once per record.
	Range(ctx context.Context, entity string, start, end int64) ([]*models.IngestionRecord, error)

	// Recent returns up to limit records, newest first. A non-empty
	// entity restricts the result to that entity.
	Recent(ctx context.Context, entity string, limit int) ([]*models.IngestionRecord, error)

	// Count returns how many records carry id (0 or 1).
	Count(ctx context.Context, id string) (int, error)

	Close() error
}

// StoreError wraps a storage failure with the operation that caused it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ingest store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsStoreError reports whether err came from the record store.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
