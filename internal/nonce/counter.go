// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package nonce

import (
	"context"
	"fmt"
	"math"

	"github.com/toeirei/bandward/internal/model"
	"github.com/toeirei/bandward/internal/security"
)

// CounterWindow admits a counter nonce iff its counter is strictly greater
// than the last admitted counter of the device's current credential. There is
// no resynchronization: a device that loses its counter must be re-provisioned.
type CounterWindow struct {
	store Store
	locks *keyedMutex
}

func NewCounterWindow(store Store) *CounterWindow {
	return &CounterWindow{store: store, locks: newKeyedMutex()}
}

func (w *CounterWindow) open(cred model.Credential, nonce []byte) (uint64, error) {
	counter, err := security.OpenCounterNonce(cred.NonceSeed, cred.DeviceUID, nonce)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if counter == 0 {
		return 0, fmt.Errorf("%w: counter must start at 1", ErrRejected)
	}
	// Stored counters are signed 64-bit on every engine.
	if counter > math.MaxInt64 {
		return 0, fmt.Errorf("%w: counter %d out of range", ErrRejected, counter)
	}
	return counter, nil
}

func (w *CounterWindow) Check(ctx context.Context, cred model.Credential, nonce []byte) error {
	counter, err := w.open(cred, nonce)
	if err != nil {
		return err
	}
	st, err := checkGeneration(ctx, w.store, cred)
	if err != nil {
		return err
	}
	if counter <= st.LastCounter {
		return fmt.Errorf("%w: counter %d not above %d", ErrRejected, counter, st.LastCounter)
	}
	return nil
}

func (w *CounterWindow) Admit(ctx context.Context, cred model.Credential, nonce []byte) error {
	counter, err := w.open(cred, nonce)
	if err != nil {
		return err
	}
	unlock := w.locks.Lock(cred.DeviceUID)
	defer unlock()

	ok, err := w.store.AdvanceCounter(ctx, cred.DeviceUID, cred.Generation, counter)
	if err != nil {
		return fmt.Errorf("advance counter: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: counter %d replayed, out of order or credential superseded", ErrRejected, counter)
	}
	return nil
}
