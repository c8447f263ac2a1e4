// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

/*
Package services adapts Vitalstream components to suture.Service.

HTTPServerService turns ListenAndServe into a context-aware Serve with
graceful shutdown. LoopService does the same for anything with a
Start/Stop/IsRunning lifecycle: the producer scheduler, the reconciliation
loop and the retry queue's value-log GC.

	tree.AddProducerService(services.NewLoopService("scheduler", scheduler))
	tree.AddAPIService(services.NewHTTPServerService(srv, addr, 10*time.Second))

Returning an error from Serve makes suture restart the service with backoff.
Returning ctx.Err() after cancellation is a clean stop.
*/
package services
