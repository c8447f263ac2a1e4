// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcomes of a primary-path submission.
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
)

// Reading is the plaintext payload sealed inside an envelope.
// Field order fixes the serialized form.
type Reading struct {
	EntityID    string    `json:"patient_id"`
	HeartRate   int       `json:"heart_rate"`
	OxygenLevel int       `json:"oxygen_level"`
	Temp        float64   `json:"temp"`
	Device      string    `json:"device,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Equal compares readings, treating timestamps by instant.
func (r Reading) Equal(o Reading) bool {
	return r.EntityID == o.EntityID &&
		r.HeartRate == o.HeartRate &&
		r.OxygenLevel == o.OxygenLevel &&
		r.Temp == o.Temp &&
		r.Device == o.Device &&
		r.GeneratedAt.Equal(o.GeneratedAt)
}

// Packet is one reading plus its identity and sequence metadata.
// ID is the only key the sink deduplicates on.
type Packet struct {
	ID       uuid.UUID
	EntityID string
	SeqNo    int64
	Reading  Reading
	Late     bool
}

// Request builds the outbound submission for an already encoded envelope.
func (p *Packet) Request(envelope string) *SubmitRequest {
	return &SubmitRequest{
		ID:       p.ID.String(),
		SeqNo:    p.SeqNo,
		EntityID: p.EntityID,
		Envelope: envelope,
		Late:     p.Late,
	}
}

// SubmitRequest is the wire form of a packet submission, on both the
// primary and the fallback path.
type SubmitRequest struct {
	ID       string `json:"id" validate:"required,uuid"`
	SeqNo    int64  `json:"seq_no" validate:"gt=0"`
	EntityID string `json:"entity_id" validate:"required,max=128,entity_id"`
	Envelope string `json:"envelope" validate:"required"`
	Late     bool   `json:"late"`
}

// AsLate returns a copy flagged for the fallback path.
func (r *SubmitRequest) AsLate() *SubmitRequest {
	c := *r
	c.Late = true
	return &c
}

// SubmitResponse reports the outcome of a primary-path submission.
// ReceivedAt is only set when the record was created by this call.
type SubmitResponse struct {
	Status     string     `json:"status"`
	ID         string     `json:"id"`
	SeqNo      int64      `json:"seq_no"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

// Duplicate reports whether the sink already held this packet.
func (r *SubmitResponse) Duplicate() bool {
	return r.Status == StatusDuplicate
}

// IngestionRecord is the server-side row for an accepted packet.
// Records are never updated or deleted by the ingestion path.
type IngestionRecord struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entity_id"`
	SeqNo      int64     `json:"seq_no"`
	Envelope   string    `json:"envelope"`
	ReceivedAt time.Time `json:"received_at"`
	Late       bool      `json:"late"`
}

// NewRecord builds the record stored for req.
func NewRecord(req *SubmitRequest, receivedAt time.Time) *IngestionRecord {
	return &IngestionRecord{
		ID:         req.ID,
		EntityID:   req.EntityID,
		SeqNo:      req.SeqNo,
		Envelope:   req.Envelope,
		ReceivedAt: receivedAt.UTC(),
		Late:       req.Late,
	}
}

// GapReport lists the sequence numbers absent from [Start, End] for one entity.
type GapReport struct {
	EntityID string  `json:"entity_id"`
	Start    int64   `json:"start"`
	End      int64   `json:"end"`
	Present  int     `json:"present"`
	Missing  []int64 `json:"missing"`
}

// AcceptedEvent is published after a record is created. It never carries plaintext.
type AcceptedEvent struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entity_id"`
	SeqNo      int64     `json:"seq_no"`
	Late       bool      `json:"late"`
	ReceivedAt time.Time `json:"received_at"`
}
