// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package events

import "time"

// TopicAccepted carries one message per newly created ingestion record.
const TopicAccepted = "vitals.accepted"

// Config controls accepted-record fan-out.
type Config struct {
	// Enabled turns on NATS publishing. When false an in-process
	// channel is used so subscribers inside the server still work.
	Enabled bool

	// URL of an external NATS server. Ignored when Embedded is true.
	URL string

	// Embedded starts a JetStream server inside the process.
	Embedded bool
	Host     string
	Port     int
	StoreDir string

	StreamName      string
	MaxAge          time.Duration
	DuplicateWindow time.Duration

	MaxReconnects int
	ReconnectWait time.Duration

	// PublishTimeout bounds one publish, including the JetStream ack.
	PublishTimeout time.Duration

	// Backlog is the number of events queued for publishing before new
	// ones are dropped.
	Backlog int

	// DrainTimeout bounds how long Close waits for the backlog.
	DrainTimeout time.Duration
}

// DefaultConfig returns single-node defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		URL:             "nats://127.0.0.1:4222",
		Embedded:        true,
		Host:            "127.0.0.1",
		Port:            4222,
		StoreDir:        "/data/nats/jetstream",
		StreamName:      "VITALS",
		MaxAge:          7 * 24 * time.Hour,
		DuplicateWindow: 2 * time.Minute,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		PublishTimeout:  500 * time.Millisecond,
		Backlog:         1024,
		DrainTimeout:    5 * time.Second,
	}
}
