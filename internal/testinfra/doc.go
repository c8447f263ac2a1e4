// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

// Package testinfra starts throwaway containers for integration tests.
//
// The helpers are built only with the integration tag and skip cleanly
// when Docker is not available:
//
//	func TestStoreAgainstPostgres(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    pg, err := testinfra.NewPostgresContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, pg)
//
//	    store, err := ingest.Open(ctx, ingest.DialectPostgres, pg.DSN)
//	    // ...
//	}
//
// First runs pull images; later runs use the local cache.
package testinfra
