// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

// Package retryqueue persists packets that could not be delivered to the
// ingestion sink so the reconciliation loop can resubmit them later.
//
// Entries are stored in BadgerDB under "pending:<packet id>". Every
// operation runs in its own Badger transaction, so the scheduler can enqueue
// while the reconciliation loop lists and removes without an application
// lock. An entry exists exactly as long as its packet is unconfirmed: there
// is no TTL and no retry cap.
package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/tomtom215/vitalstream/internal/logging"
	"github.com/tomtom215/vitalstream/internal/models"
)

const prefixPending = "pending:"

var (
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("retry queue is closed")

	// ErrNilRequest is returned when Enqueue is given nothing to store.
	ErrNilRequest = errors.New("request cannot be nil")

	// ErrEmptyID is returned for a request or lookup without a packet ID.
	ErrEmptyID = errors.New("packet ID cannot be empty")

	// ErrEntryNotFound is returned by RecordAttempt for an unknown ID.
	ErrEntryNotFound = errors.New("entry not found")
)

// StorageIOError wraps a failed write to the underlying store.
// For Enqueue it means the packet is lost.
type StorageIOError struct {
	Op  string
	ID  string
	Err error
}

func (e *StorageIOError) Error() string {
	return fmt.Sprintf("retry queue %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StorageIOError) Unwrap() error { return e.Err }

// Queue is the contract shared by the scheduler and the reconciliation loop.
type Queue interface {
	Enqueue(ctx context.Context, req *models.SubmitRequest) error
	ListPending(ctx context.Context) ([]*Entry, error)
	Remove(ctx context.Context, id string) error
	RecordAttempt(ctx context.Context, id, lastError string) error
}

// Entry is one undelivered packet.
type Entry struct {
	ID            string               `json:"id"`
	Request       models.SubmitRequest `json:"request"`
	CreatedAt     time.Time            `json:"created_at"`
	Attempts      int                  `json:"attempts"`
	LastAttemptAt time.Time            `json:"last_attempt_at,omitempty"`
	LastError     string               `json:"last_error,omitempty"`
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending       int64
	TotalEnqueued int64
	TotalRemoved  int64
	DBSizeBytes   int64
}

// BadgerQueue implements Queue on BadgerDB.
type BadgerQueue struct {
	db     *badger.DB
	config Config

	totalEnqueued atomic.Int64
	totalRemoved  atomic.Int64

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*BadgerQueue)(nil)

// Open validates cfg and opens (or creates) the queue directory.
func Open(cfg *Config) (*BadgerQueue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry queue config: %w", err)
	}
	q, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Int64("pending", q.count()).
		Msg("Retry queue opened")
	return q, nil
}

// OpenForTesting skips validation so tests can use small settings.
func OpenForTesting(cfg *Config) (*BadgerQueue, error) {
	if cfg.NumCompactors < 2 {
		cfg.NumCompactors = 2
	}
	if cfg.GCRatio == 0 {
		cfg.GCRatio = 0.5
	}
	return openDB(cfg)
}

func openDB(cfg *Config) (*BadgerQueue, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	if cfg.MemTableSize > 0 {
		opts.MemTableSize = cfg.MemTableSize
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	opts.NumCompactors = cfg.NumCompactors
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	return &BadgerQueue{db: db, config: *cfg}, nil
}

func (q *BadgerQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func pendingKey(id string) []byte {
	return []byte(prefixPending + id)
}

// Enqueue stores req keyed by its packet ID. Re-enqueueing an ID replaces
// the stored request but keeps its creation time and attempt history.
// A write failure is returned as *StorageIOError.
func (q *BadgerQueue) Enqueue(ctx context.Context, req *models.SubmitRequest) error {
	start := time.Now()
	defer func() { queueWriteLatency.Observe(time.Since(start).Seconds()) }()

	if q.isClosed() {
		return ErrQueueClosed
	}
	if req == nil {
		return ErrNilRequest
	}
	if req.ID == "" {
		return ErrEmptyID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := pendingKey(req.ID)
	err := q.db.Update(func(txn *badger.Txn) error {
		entry := Entry{ID: req.ID, CreatedAt: time.Now().UTC()}

		item, err := txn.Get(key)
		switch {
		case err == nil:
			if verr := item.Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); verr != nil {
				logging.Warn().Err(verr).Str("packet_id", req.ID).Msg("Replacing unreadable retry queue entry")
				entry = Entry{ID: req.ID, CreatedAt: time.Now().UTC()}
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		entry.Request = *req
		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		queueEnqueueFailures.Inc()
		return &StorageIOError{Op: "enqueue", ID: req.ID, Err: err}
	}

	q.totalEnqueued.Add(1)
	queueEnqueued.Inc()
	return nil
}

// ListPending returns a snapshot of all stored entries in key order.
// Unreadable entries are logged and skipped.
func (q *BadgerQueue) ListPending(ctx context.Context) ([]*Entry, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}

	var entries []*Entry
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			var e Entry
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping unreadable retry queue entry")
				continue
			}
			entries = append(entries, &e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate retry queue: %w", err)
	}

	queuePending.Set(float64(len(entries)))
	return entries, nil
}

// Remove deletes a delivered entry. Removing an absent ID is a no-op.
func (q *BadgerQueue) Remove(ctx context.Context, id string) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	if id == "" {
		return ErrEmptyID
	}

	if err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(pendingKey(id))
	}); err != nil {
		return &StorageIOError{Op: "remove", ID: id, Err: err}
	}

	q.totalRemoved.Add(1)
	queueRemoved.Inc()
	return nil
}

// RecordAttempt bumps the attempt counter after a failed resubmission.
func (q *BadgerQueue) RecordAttempt(ctx context.Context, id, lastError string) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	if id == "" {
		return ErrEmptyID
	}

	key := pendingKey(id)
	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		var e Entry
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
			return fmt.Errorf("unmarshal entry: %w", err)
		}
		e.Attempts++
		e.LastAttemptAt = time.Now().UTC()
		e.LastError = lastError

		data, err := json.Marshal(&e)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		return txn.Set(key, data)
	})
}

func (q *BadgerQueue) count() int64 {
	var n int64
	_ = q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n
}

// Stats counts pending entries and reports on-disk size.
func (q *BadgerQueue) Stats() Stats {
	if q.isClosed() {
		return Stats{}
	}

	lsm, vlog := q.db.Size()
	s := Stats{
		Pending:       q.count(),
		TotalEnqueued: q.totalEnqueued.Load(),
		TotalRemoved:  q.totalRemoved.Load(),
		DBSizeBytes:   lsm + vlog,
	}
	queuePending.Set(float64(s.Pending))
	queueDBSize.Set(float64(s.DBSizeBytes))
	return s
}

// RunGC rewrites value-log files until Badger reports nothing to reclaim.
func (q *BadgerQueue) RunGC() error {
	if q.isClosed() {
		return ErrQueueClosed
	}

	start := time.Now()
	defer func() {
		queueGCLatency.Observe(time.Since(start).Seconds())
		queueGCRuns.Inc()
	}()

	for {
		err := q.db.RunValueLogGC(q.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close flushes and closes Badger, giving up after CloseTimeout.
func (q *BadgerQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	timeout := q.config.CloseTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	q.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- q.db.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Retry queue closed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Dur("timeout", timeout).Msg("Retry queue close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}
