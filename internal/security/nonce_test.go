package security

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestCounterNonce_RoundTrip(t *testing.T) {
	seed := FromString("seed-material-for-device")
	n, err := CounterNonce(seed, "D1", 42)
	if err != nil {
		t.Fatalf("CounterNonce failed: %v", err)
	}
	if len(n) != CounterNonceSize {
		t.Fatalf("unexpected nonce size %d", len(n))
	}
	got, err := OpenCounterNonce(seed, "D1", n)
	if err != nil {
		t.Fatalf("OpenCounterNonce failed: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected counter 42, got %d", got)
	}
}

func TestCounterNonce_BoundToDeviceAndSeed(t *testing.T) {
	seed := FromString("seed-a")
	n, _ := CounterNonce(seed, "D1", 7)

	if _, err := OpenCounterNonce(seed, "D2", n); !errors.Is(err, ErrMalformedNonce) {
		t.Fatalf("expected ErrMalformedNonce for other device, got %v", err)
	}
	if _, err := OpenCounterNonce(FromString("seed-b"), "D1", n); !errors.Is(err, ErrMalformedNonce) {
		t.Fatalf("expected ErrMalformedNonce for other seed, got %v", err)
	}
	tampered := bytes.Clone(n)
	tampered[7] ^= 0x01
	if _, err := OpenCounterNonce(seed, "D1", tampered); !errors.Is(err, ErrMalformedNonce) {
		t.Fatalf("expected ErrMalformedNonce for tampered counter, got %v", err)
	}
	if _, err := OpenCounterNonce(seed, "D1", n[:10]); !errors.Is(err, ErrMalformedNonce) {
		t.Fatalf("expected ErrMalformedNonce for short nonce, got %v", err)
	}
}

func TestTimedNonce_RoundTripAndUniqueness(t *testing.T) {
	seed := FromString("seed")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, err := TimedNonce(seed, "D1", at)
	if err != nil {
		t.Fatalf("TimedNonce failed: %v", err)
	}
	b, _ := TimedNonce(seed, "D1", at)
	if bytes.Equal(a, b) {
		t.Fatalf("expected distinct salts for nonces minted at the same instant")
	}
	if Digest(a) == Digest(b) {
		t.Fatalf("expected distinct digests")
	}
	got, err := OpenTimedNonce(seed, "D1", a)
	if err != nil {
		t.Fatalf("OpenTimedNonce failed: %v", err)
	}
	if !got.Equal(at) {
		t.Fatalf("expected %v, got %v", at, got)
	}
}

func TestEqual_ConstantTimeSemantics(t *testing.T) {
	stored := FromString("0123456789abcdef")
	if !Equal(stored, []byte("0123456789abcdef")) {
		t.Fatalf("expected equal secrets to match")
	}
	if Equal(stored, []byte("0123456789abcdeX")) {
		t.Fatalf("expected mismatch on last byte")
	}
	if Equal(stored, []byte("short")) {
		t.Fatalf("expected mismatch on length")
	}
	if Equal(nil, nil) {
		t.Fatalf("empty stored secret must never match")
	}
}

func TestNewSecret(t *testing.T) {
	a, err := NewSecret(32)
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}
	b, _ := NewSecret(32)
	if len(a) != 32 || bytes.Equal(a, b) {
		t.Fatalf("expected two distinct 32-byte secrets")
	}
	if _, err := NewSecret(0); err == nil {
		t.Fatalf("expected error for zero length")
	}
}
