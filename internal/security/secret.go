// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
)

const redacted = "[SECRET]"

// Secret holds device credential material: the authentication secret and the
// nonce seed. Every printable rendering is redacted, so a Credential can be
// logged or marshaled without leaking either value. The raw bytes are only
// reachable through Bytes.
type Secret []byte

func (s Secret) String() string { return redacted }

// Format covers %v, %+v, %#v, %x and the rest of the fmt verbs.
func (s Secret) Format(f fmt.State, _ rune) { _, _ = io.WriteString(f, redacted) }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

// MarshalText is used by structured loggers and YAML encoders.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Bytes returns a copy of the raw material.
func (s Secret) Bytes() []byte {
	return append([]byte(nil), s...)
}

// Zero wipes the material in place.
func (s *Secret) Zero() {
	if s == nil {
		return
	}
	clear(*s)
}

// FromString wraps in; intended for fixtures and operator input.
func FromString(in string) Secret { return Secret(in) }

// FromBytes copies in so the caller's buffer can be reused or wiped.
func FromBytes(in []byte) Secret {
	if in == nil {
		return nil
	}
	return Secret(append([]byte(nil), in...))
}

// NewSecret returns n bytes from the system CSPRNG.
func NewSecret(n int) (Secret, error) {
	if n <= 0 {
		return nil, fmt.Errorf("secret length must be positive, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random secret: %w", err)
	}
	return Secret(buf), nil
}

// Equal compares a presented value against a stored secret in constant time.
// The comparison always walks len(stored) bytes; a presented value of a
// different length is compared against a zero buffer of the stored length so
// the mismatch does not return early.
func Equal(stored Secret, presented []byte) bool {
	if len(stored) == 0 {
		return false
	}
	if len(presented) != len(stored) {
		dummy := make([]byte, len(stored))
		subtle.ConstantTimeCompare(stored, dummy)
		return false
	}
	return subtle.ConstantTimeCompare(stored, presented) == 1
}
