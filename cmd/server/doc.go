// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

/*
Command server is the vitals ingestion server.

It records submitted packets exactly once per packet ID in DuckDB or
PostgreSQL, answers the sequence and gap queries producers bootstrap from,
and announces each new record on the vitals.accepted topic.

Startup order:

 1. Configuration (koanf: defaults, YAML, environment)
 2. Logging (zerolog)
 3. Ingestion store (DB_DRIVER, DB_DSN), schema created if absent
 4. Event fan-out (embedded or external NATS JetStream, or in-process)
 5. Ingest service, with envelope verification when VITALS_KEY is set
 6. chi router and HTTP server under the supervisor's api layer

SIGINT or SIGTERM cancels the tree; the HTTP server drains in-flight
requests before the store and publisher are closed.
*/
package main
