// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers "duckdb"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"

	"github.com/tomtom215/vitalstream/internal/logging"
	"github.com/tomtom215/vitalstream/internal/metrics"
	"github.com/tomtom215/vitalstream/internal/models"
)

// Supported SQL dialects.
const (
	DialectDuckDB   = "duckdb"
	DialectPostgres = "postgres"
)

const schema = `
	CREATE TABLE IF NOT EXISTS vitals_records (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		seq_no BIGINT NOT NULL,
		envelope TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		late BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_vitals_entity_seq ON vitals_records(entity_id, seq_no);
	CREATE INDEX IF NOT EXISTS idx_vitals_received_at ON vitals_records(received_at)
`

const recordColumns = "id, entity_id, seq_no, envelope, received_at, late"

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// Open connects to driver ("duckdb" or "postgres") at dsn and creates the
// schema. An empty DuckDB dsn opens an in-memory database.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var driverName string
	switch driver {
	case DialectDuckDB:
		driverName = "duckdb"
	case DialectPostgres:
		driverName = "pgx"
	default:
		return nil, fmt.Errorf("ingest: unsupported driver %q", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %s: %w", driver, err)
	}
	if driver == DialectDuckDB {
		// Single writer keeps DuckDB's optimistic concurrency from
		// surfacing conflicts on the primary key.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ingest: ping %s: %w", driver, err)
	}

	s := NewSQLStore(db, driver)
	if err := s.CreateSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logging.Info().Str("driver", driver).Msg("Ingestion store opened")
	return s, nil
}

// NewSQLStore wraps an existing connection. The caller owns schema creation.
func NewSQLStore(db *sql.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// DB exposes the underlying pool for health checks.
func (s *SQLStore) DB() *sql.DB { return s.db }

// CreateSchema creates vitals_records and its indexes if missing.
func (s *SQLStore) CreateSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &StoreError{Op: "create_schema", Err: err}
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLStore) observe(op string, start time.Time, err error) error {
	metrics.RecordStoreQuery(op, time.Since(start), err)
	if err != nil {
		return &StoreError{Op: op, Err: err}
	}
	return nil
}

// Insert implements Store. The primary key makes the insert-or-ignore
// atomic; zero affected rows means the ID already existed.
func (s *SQLStore) Insert(ctx context.Context, rec *models.IngestionRecord) (bool, error) {
	start := time.Now()
	query := s.rebind(`INSERT INTO vitals_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)

	res, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.EntityID, rec.SeqNo, rec.Envelope, rec.ReceivedAt, rec.Late)
	if err != nil {
		return false, s.observe("insert", start, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.observe("insert", start, err)
	}
	_ = s.observe("insert", start, nil)
	return n > 0, nil
}

// LastSequences implements Store.
func (s *SQLStore) LastSequences(ctx context.Context) (map[string]int64, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, MAX(seq_no) FROM vitals_records GROUP BY entity_id`)
	if err != nil {
		return nil, s.observe("last_sequences", start, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var entity string
		var seq int64
		if err := rows.Scan(&entity, &seq); err != nil {
			return nil, s.observe("last_sequences", start, err)
		}
		out[entity] = seq
	}
	return out, s.observe("last_sequences", start, rows.Err())
}

// Entities implements Store.
func (s *SQLStore) Entities(ctx context.Context) ([]string, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT entity_id FROM vitals_records ORDER BY entity_id`)
	if err != nil {
		return nil, s.observe("entities", start, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var entity string
		if err := rows.Scan(&entity); err != nil {
			return nil, s.observe("entities", start, err)
		}
		out = append(out, entity)
	}
	return out, s.observe("entities", start, rows.Err())
}

// Range implements Store.
func (s *SQLStore) Range(ctx context.Context, entity string, lo, hi int64) ([]*models.IngestionRecord, error) {
	start := time.Now()
	query := s.rebind(`SELECT ` + recordColumns + ` FROM vitals_records
		WHERE entity_id = ? AND seq_no BETWEEN ? AND ?
		ORDER BY seq_no, received_at`)

	rows, err := s.db.QueryContext(ctx, query, entity, lo, hi)
	if err != nil {
		return nil, s.observe("range", start, err)
	}
	recs, err := scanRecords(rows)
	return recs, s.observe("range", start, err)
}

// Recent implements Store.
func (s *SQLStore) Recent(ctx context.Context, entity string, limit int) ([]*models.IngestionRecord, error) {
	start := time.Now()
	query := `SELECT ` + recordColumns + ` FROM vitals_records`
	args := []any{}
	if entity != "" {
		query += ` WHERE entity_id = ?`
		args = append(args, entity)
	}
	query += ` ORDER BY received_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, s.observe("recent", start, err)
	}
	recs, err := scanRecords(rows)
	return recs, s.observe("recent", start, err)
}

// Count implements Store.
func (s *SQLStore) Count(ctx context.Context, id string) (int, error) {
	start := time.Now()
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM vitals_records WHERE id = ?`), id).Scan(&n)
	return n, s.observe("count", start, err)
}

// Ping checks connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]*models.IngestionRecord, error) {
	defer rows.Close()

	out := []*models.IngestionRecord{}
	for rows.Next() {
		var r models.IngestionRecord
		if err := rows.Scan(&r.ID, &r.EntityID, &r.SeqNo, &r.Envelope, &r.ReceivedAt, &r.Late); err != nil {
			return nil, err
		}
		r.ReceivedAt = r.ReceivedAt.UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}
