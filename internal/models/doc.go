// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

/*
Package models defines the data shared by the producer and the ingestion
server.

Producer side:

  - Reading: the plaintext vital signs sealed inside an envelope
  - Packet: a reading with its packet ID, entity and seq_no

Wire:

  - SubmitRequest: one submission on the primary or fallback path
  - SubmitResponse: primary-path outcome (accepted or duplicate)

Server side:

  - IngestionRecord: the stored row, keyed by packet ID
  - GapReport: missing seq numbers for one entity in a range
  - AcceptedEvent: published once per newly created record

Only the envelope ever carries readings across the wire. Records and
events hold identity and sequence metadata in the clear and nothing else.
*/
package models
