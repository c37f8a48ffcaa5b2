// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Nonce layouts. Every nonce ends with an HMAC tag keyed from the device's
// nonce seed, so only a holder of the current seed can mint valid nonces.
const (
	TagSize          = sha256.Size
	SaltSize         = 16
	CounterNonceSize = 8 + TagSize
	TimedNonceSize   = 8 + SaltSize + TagSize
)

// ErrMalformedNonce is returned when a nonce has the wrong size or its tag
// does not verify under the device's nonce key.
var ErrMalformedNonce = errors.New("malformed nonce")

// nonceKey derives the per-device MAC key from the nonce seed.
func nonceKey(seed Secret, deviceUID string) ([]byte, error) {
	if len(seed) == 0 {
		return nil, errors.New("nonce seed is empty")
	}
	r := hkdf.New(sha256.New, seed, nil, []byte("bandward/nonce/"+deviceUID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive nonce key: %w", err)
	}
	return key, nil
}

func nonceTag(key, payload []byte) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

// CounterNonce builds the counter-mode nonce a device presents for counter.
func CounterNonce(seed Secret, deviceUID string, counter uint64) ([]byte, error) {
	key, err := nonceKey(seed, deviceUID)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8, CounterNonceSize)
	binary.BigEndian.PutUint64(out, counter)
	return append(out, nonceTag(key, out)...), nil
}

// OpenCounterNonce verifies a counter-mode nonce and returns its counter.
func OpenCounterNonce(seed Secret, deviceUID string, nonce []byte) (uint64, error) {
	if len(nonce) != CounterNonceSize {
		return 0, ErrMalformedNonce
	}
	key, err := nonceKey(seed, deviceUID)
	if err != nil {
		return 0, err
	}
	payload := nonce[:8]
	if !hmac.Equal(nonceTag(key, payload), nonce[8:]) {
		return 0, ErrMalformedNonce
	}
	return binary.BigEndian.Uint64(payload), nil
}

// TimedNonce builds a window-mode nonce stamped with at and a fresh random
// salt.
func TimedNonce(seed Secret, deviceUID string, at time.Time) ([]byte, error) {
	key, err := nonceKey(seed, deviceUID)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+SaltSize, TimedNonceSize)
	binary.BigEndian.PutUint64(out, uint64(at.UnixMilli()))
	if _, err := rand.Read(out[8:]); err != nil {
		return nil, fmt.Errorf("read nonce salt: %w", err)
	}
	return append(out, nonceTag(key, out)...), nil
}

// OpenTimedNonce verifies a window-mode nonce and returns its timestamp.
func OpenTimedNonce(seed Secret, deviceUID string, nonce []byte) (time.Time, error) {
	if len(nonce) != TimedNonceSize {
		return time.Time{}, ErrMalformedNonce
	}
	key, err := nonceKey(seed, deviceUID)
	if err != nil {
		return time.Time{}, err
	}
	payload := nonce[:8+SaltSize]
	if !hmac.Equal(nonceTag(key, payload), nonce[8+SaltSize:]) {
		return time.Time{}, ErrMalformedNonce
	}
	ms := int64(binary.BigEndian.Uint64(payload[:8]))
	return time.UnixMilli(ms).UTC(), nil
}

// Digest returns a fixed-size fingerprint of a nonce suitable for storing in
// a seen-set without keeping the nonce itself.
func Digest(nonce []byte) string {
	sum := sha256.Sum256(nonce)
	return fmt.Sprintf("%x", sum[:])
}
