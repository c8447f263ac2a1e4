// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

// Package validation validates API request structs with
// go-playground/validator v10.
//
// A single validator instance is shared process-wide; it caches struct
// metadata and is safe for concurrent use. Field names in errors are the
// JSON names clients send, so a failure on SubmitRequest.EntityID is
// reported as "entity_id".
//
// Custom tags:
//   - entity_id: 1-128 characters from [A-Za-z0-9._-]
//
// Usage:
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    apiErr := verr.ToAPIError()
//	    // write 400 with apiErr.Code, apiErr.Message, apiErr.Details
//	}
package validation
