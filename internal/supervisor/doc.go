// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

/*
Package supervisor runs Vitalstream's long-lived goroutines under suture v4.

Both binaries build the same three-layer tree and use the layers they need:

	root ("vitals-producer" or "vitals-server")
	├── data-layer
	│   └── retry queue GC (producer)
	├── producer-layer
	│   ├── scheduler (producer)
	│   └── reconcile (producer)
	└── api-layer
	    └── http-server (server)

A service that returns an error is restarted with backoff. Cancelling the
context passed to Serve stops every layer; each LoopService calls Stop on
its loop, and the scheduler's Stop waits for in-flight dispatches.

Storage handles (the Badger queue, the SQL store, the NATS publisher) are
not supervised. They are opened before the tree starts and closed by main
after Serve returns.

If services do not stop within ShutdownTimeout, UnstoppedServiceReport
names them.
*/
package supervisor
