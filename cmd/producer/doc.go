// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

/*
Command producer reads vital signs for a roster of entities on a fixed
period and delivers each reading to the ingestion server inside an
encrypted, size-padded envelope.

Each packet gets a fresh ID and the next per-entity sequence number.
Counters are seeded from the server at startup; if the server cannot be
reached the producer starts anyway and numbers from 1. A dispatch that
does not succeed within DISPATCH_TIMEOUT is written to the Badger retry
queue, and the reconciliation loop delivers it later through the fallback
path with late=true.

Supervised services:

	data layer:     retry-queue-gc
	producer layer: scheduler, reconcile

Required environment: VITALS_KEY. See internal/config for the rest.
*/
package main
