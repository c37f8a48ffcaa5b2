// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package nonce decides whether a presented nonce is fresh for a device.
//
// Two windows are available. CounterWindow admits strictly increasing
// counters; SlidingWindow admits timestamped nonces that were not seen within
// the last W. Both make admit-and-record atomic per device: a keyed mutex
// serializes callers inside the process and a conditional write in the store
// settles races between processes.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/filecoin-project/go-clock"
	"github.com/toeirei/bandward/internal/config"
	"github.com/toeirei/bandward/internal/db"
	"github.com/toeirei/bandward/internal/model"
)

var (
	// ErrRejected means the nonce is malformed, replayed, out of order or
	// outside the acceptance window.
	ErrRejected = errors.New("nonce rejected")
	// ErrClockJump is returned for the admission that observed a clock jump.
	// Errors that do not wrap ErrRejected are storage failures.
	ErrClockJump = fmt.Errorf("%w: clock jump detected", ErrRejected)
)

// Window is the replay-protection contract the authenticator depends on.
type Window interface {
	// Check validates nonce without recording it.
	Check(ctx context.Context, cred model.Credential, nonce []byte) error
	// Admit validates nonce and records it so it can never be admitted again.
	Admit(ctx context.Context, cred model.Credential, nonce []byte) error
}

// Store is the nonce state persistence, implemented by *db.Store.
type Store interface {
	NonceState(ctx context.Context, uid string) (model.NonceState, error)
	AdvanceCounter(ctx context.Context, uid string, generation int64, counter uint64) (bool, error)
	NonceSeen(ctx context.Context, uid, digest string, since time.Time) (bool, error)
	RecordNonce(ctx context.Context, uid string, generation int64, digest string, seenAt, expiredBefore time.Time) error
	PruneNonces(ctx context.Context, before time.Time) (int64, error)
}

// Options configures New.
type Options struct {
	Clock         clock.Clock
	Window        time.Duration
	FutureSkew    time.Duration
	JumpTolerance time.Duration
	OnClockJump   func(context.Context, ClockJump)
	Logger        *log.Logger
}

// New builds the window for mode (config.NonceModeCounter or config.NonceModeWindow).
func New(mode string, store Store, opts Options) (Window, error) {
	switch mode {
	case config.NonceModeCounter, "":
		return NewCounterWindow(store), nil
	case config.NonceModeWindow:
		return NewSlidingWindow(store, opts)
	default:
		return nil, fmt.Errorf("unknown nonce mode %q", mode)
	}
}

// checkGeneration rejects a credential that was replaced after it was loaded.
func checkGeneration(ctx context.Context, store Store, cred model.Credential) (model.NonceState, error) {
	st, err := store.NonceState(ctx, cred.DeviceUID)
	if errors.Is(err, db.ErrNotFound) {
		return model.NonceState{}, fmt.Errorf("%w: credential no longer stored", ErrRejected)
	}
	if err != nil {
		return model.NonceState{}, fmt.Errorf("load nonce state: %w", err)
	}
	if st.Generation != cred.Generation {
		return model.NonceState{}, fmt.Errorf("%w: credential generation %d superseded by %d", ErrRejected, cred.Generation, st.Generation)
	}
	return st, nil
}
