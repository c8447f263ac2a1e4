// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

// Package envelope seals vitals readings into fixed-size AES-256-GCM envelopes.
//
// Wire format:
//
//	base64( JSON{ "nonce": b64, "tag": b64, "ciphertext": b64 } )
//
// Every plaintext is padded with the filler byte up to the configured
// capacity before encryption, so all envelopes produced with the same
// capacity have identical length. A fresh 12-byte random nonce is drawn for
// every envelope.
//
// The AES key is derived from the configured key material with HKDF-SHA256.
// Producer and server derive the same key from the same material.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/hkdf"

	"github.com/tomtom215/vitalstream/internal/models"
)

const (
	// DefaultCapacity is the plaintext block size shared by both ends.
	DefaultCapacity = 5120

	// ReservedFraming is subtracted from the capacity before the size check.
	// The filler scheme needs no length prefix, so nothing is reserved.
	ReservedFraming = 0

	// Filler pads plaintext up to the capacity.
	Filler byte = 'X'

	NonceSize = 12
	TagSize   = 16

	keySize  = 32
	hkdfSalt = "vitalstream-envelope"
	hkdfInfo = "vitals-envelope-v1"
)

var (
	// ErrMissingKey is returned when no key material is configured.
	ErrMissingKey = errors.New("envelope: key material is required")

	// ErrInvalidCapacity is returned for a non-positive capacity.
	ErrInvalidCapacity = errors.New("envelope: capacity must be positive")

	// ErrTrailingFiller is returned by Seal when the plaintext ends with the
	// filler byte and would therefore not survive unpadding.
	ErrTrailingFiller = errors.New("envelope: plaintext ends with filler byte")

	// ErrMalformedReading is returned when an authenticated plaintext is not a reading.
	ErrMalformedReading = errors.New("envelope: plaintext is not a valid reading")
)

// OversizeError reports a plaintext that does not fit the capacity.
type OversizeError struct {
	Size  int
	Limit int
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("envelope: plaintext is %d bytes, limit is %d", e.Size, e.Limit)
}

// AuthenticationError reports an envelope that failed verification or could
// not be parsed. No plaintext accompanies it.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope: authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "envelope: authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// IsOversize reports whether err is an *OversizeError.
func IsOversize(err error) bool {
	var oe *OversizeError
	return errors.As(err, &oe)
}

// IsAuthentication reports whether err is an *AuthenticationError.
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

type wireEnvelope struct {
	Nonce      string `json:"nonce"`
	Tag        string `json:"tag"`
	Ciphertext string `json:"ciphertext"`
}

// Codec encodes and decodes envelopes. It is safe for concurrent use.
type Codec struct {
	aead     cipher.AEAD
	capacity int
	random   io.Reader
}

// New derives the envelope key from keyMaterial and returns a codec for the
// given plaintext capacity.
func New(keyMaterial string, capacity int) (*Codec, error) {
	if keyMaterial == "" {
		return nil, ErrMissingKey
	}
	if capacity <= ReservedFraming {
		return nil, ErrInvalidCapacity
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(keyMaterial), []byte(hkdfSalt), []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive envelope key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Codec{aead: gcm, capacity: capacity, random: rand.Reader}, nil
}

// Capacity returns the padded plaintext size.
func (c *Codec) Capacity() int { return c.capacity }

// Limit returns the largest plaintext Seal accepts.
func (c *Codec) Limit() int { return c.capacity - ReservedFraming }

// Encode serializes r and seals it.
func (c *Codec) Encode(r models.Reading) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal reading: %w", err)
	}
	return c.Seal(raw)
}

// Decode opens env and parses the reading inside it.
func (c *Codec) Decode(env string) (models.Reading, error) {
	var r models.Reading
	raw, err := c.Open(env)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.Reading{}, fmt.Errorf("%w: %v", ErrMalformedReading, err)
	}
	return r, nil
}

// Seal pads plaintext to the capacity and encrypts it under a fresh nonce.
func (c *Codec) Seal(plaintext []byte) (string, error) {
	if len(plaintext) > c.Limit() {
		return "", &OversizeError{Size: len(plaintext), Limit: c.Limit()}
	}
	if n := len(plaintext); n > 0 && plaintext[n-1] == Filler {
		return "", ErrTrailingFiller
	}

	block := make([]byte, c.capacity)
	copy(block, plaintext)
	for i := len(plaintext); i < len(block); i++ {
		block[i] = Filler
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, block, nil)
	split := len(sealed) - TagSize

	inner, err := json.Marshal(wireEnvelope{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Tag:        base64.StdEncoding.EncodeToString(sealed[split:]),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:split]),
	})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(inner), nil
}

// Open verifies and decrypts env, returning the plaintext with the filler stripped.
// Any failure is an *AuthenticationError and returns no plaintext.
func (c *Codec) Open(env string) ([]byte, error) {
	inner, err := base64.StdEncoding.DecodeString(env)
	if err != nil {
		return nil, &AuthenticationError{Reason: "outer encoding", Err: err}
	}

	var w wireEnvelope
	if err := json.Unmarshal(inner, &w); err != nil {
		return nil, &AuthenticationError{Reason: "envelope structure", Err: err}
	}

	nonce, err := base64.StdEncoding.DecodeString(w.Nonce)
	if err != nil || len(nonce) != NonceSize {
		return nil, &AuthenticationError{Reason: "nonce", Err: err}
	}
	tag, err := base64.StdEncoding.DecodeString(w.Tag)
	if err != nil || len(tag) != TagSize {
		return nil, &AuthenticationError{Reason: "tag", Err: err}
	}
	ct, err := base64.StdEncoding.DecodeString(w.Ciphertext)
	if err != nil {
		return nil, &AuthenticationError{Reason: "ciphertext", Err: err}
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	block, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, &AuthenticationError{Reason: "tag mismatch"}
	}
	if len(block) != c.capacity {
		return nil, &AuthenticationError{Reason: fmt.Sprintf("block length %d, want %d", len(block), c.capacity)}
	}
	return bytes.TrimRight(block, string(Filler)), nil
}
