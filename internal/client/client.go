// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

// Package client is the producer-side HTTP binding to the ingestion server.
//
// SinkClient implements the scheduler's primary sink, the reconciliation
// loop's fallback sink and the sequence oracle. Every call runs through one
// circuit breaker so that an unreachable server fails fast and packets go
// straight to the retry queue instead of each waiting out its timeout.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/vitalstream/internal/logging"
	"github.com/tomtom215/vitalstream/internal/metrics"
	"github.com/tomtom215/vitalstream/internal/models"
)

const (
	pathSubmit    = "/api/v1/vitals"
	pathFallback  = "/api/v1/vitals/fallback"
	pathSequences = "/api/v1/vitals/sequences"
	pathEntities  = "/api/v1/vitals/entities"
	pathRecent    = "/api/v1/vitals/recent"

	maxErrorBody = 512
)

// Dispatch failure kinds.
const (
	KindTimeout     = "timeout"
	KindTransport   = "transport"
	KindStatus      = "status"
	KindCircuitOpen = "circuit_open"
	KindDecode      = "decode"
)

// DispatchError is any failed round-trip to the server. The scheduler treats
// every DispatchError as "route to the retry queue".
type DispatchError struct {
	Op         string
	Kind       string
	StatusCode int
	Message    string
	Err        error
}

func (e *DispatchError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *DispatchError) Unwrap() error { return e.Err }

// clientError reports a 4xx response. Those say nothing about server health
// and do not count toward tripping the breaker.
func (e *DispatchError) clientError() bool {
	return e.Kind == KindStatus && e.StatusCode >= 400 && e.StatusCode < 500
}

// Config configures a SinkClient.
type Config struct {
	BaseURL string

	// Timeout is the transport-level ceiling; callers bound individual
	// calls with their own context deadlines.
	Timeout time.Duration

	// BreakerFailures is the number of consecutive failures that opens the breaker.
	BreakerFailures uint32

	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration
}

// SinkClient talks to the ingestion server's HTTP API.
type SinkClient struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[any]
	name    string
}

// New creates a client for cfg.BaseURL.
func New(cfg Config) *SinkClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	name := "ingest-sink"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			var de *DispatchError
			return err == nil || (errors.As(err, &de) && de.clientError())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Sink circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &SinkClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		cb:      cb,
		name:    name,
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// BreakerState exposes the breaker state for health reporting.
func (c *SinkClient) BreakerState() string {
	return c.cb.State().String()
}

// envelope mirrors the server's response wrapper.
type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit sends req on the primary path. A duplicate is a successful
// response with Status == models.StatusDuplicate.
func (c *SinkClient) Submit(ctx context.Context, req *models.SubmitRequest) (*models.SubmitResponse, error) {
	var out models.SubmitResponse
	if err := c.call(ctx, "submit", http.MethodPost, pathSubmit, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitFallback sends req on the insert-or-ignore path.
func (c *SinkClient) SubmitFallback(ctx context.Context, req *models.SubmitRequest) error {
	return c.call(ctx, "submit_fallback", http.MethodPost, pathFallback, req, nil)
}

// LastSequences implements sequence.Oracle.
func (c *SinkClient) LastSequences(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	if err := c.call(ctx, "last_sequences", http.MethodGet, pathSequences, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Entities returns every entity the server holds records for.
func (c *SinkClient) Entities(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.call(ctx, "entities", http.MethodGet, pathEntities, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Range returns records for entity with start <= seq_no <= end.
func (c *SinkClient) Range(ctx context.Context, entity string, start, end int64) ([]*models.IngestionRecord, error) {
	var out []*models.IngestionRecord
	if err := c.call(ctx, "range", http.MethodGet, entityPath(entity, "range", start, end), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Gaps returns the missing sequence numbers for entity in [start, end].
func (c *SinkClient) Gaps(ctx context.Context, entity string, start, end int64) (*models.GapReport, error) {
	var out models.GapReport
	if err := c.call(ctx, "gaps", http.MethodGet, entityPath(entity, "gaps", start, end), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recent returns the newest records, across all entities when entity is empty.
func (c *SinkClient) Recent(ctx context.Context, entity string, limit int) ([]*models.IngestionRecord, error) {
	var out []*models.IngestionRecord
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if entity != "" {
		q.Set("entity", entity)
	}
	p := pathRecent + "?" + q.Encode()
	if err := c.call(ctx, "recent", http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func entityPath(entity, op string, start, end int64) string {
	q := url.Values{}
	q.Set("start", strconv.FormatInt(start, 10))
	q.Set("end", strconv.FormatInt(end, 10))
	return "/api/v1/vitals/" + url.PathEscape(entity) + "/" + op + "?" + q.Encode()
}

// call performs one breaker-guarded request and decodes the data field into out.
func (c *SinkClient) call(ctx context.Context, op, method, path string, body, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.do(ctx, op, method, path, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &DispatchError{Op: op, Kind: KindCircuitOpen, Err: err}
	}
	return err
}

func (c *SinkClient) do(ctx context.Context, op, method, path string, body, out any) error {
	var rdr io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logging.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		kind := KindTransport
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			kind = KindTimeout
		}
		return &DispatchError{Op: op, Kind: kind, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorMessage(resp.Body)
		return &DispatchError{Op: op, Kind: KindStatus, StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var env envelope[json.RawMessage]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &DispatchError{Op: op, Kind: KindDecode, Err: err}
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &DispatchError{Op: op, Kind: KindDecode, Err: err}
	}
	return nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func readErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var env envelope[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
		return env.Error.Code + ": " + env.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
