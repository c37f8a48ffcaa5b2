// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package nonce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/filecoin-project/go-clock"
	"github.com/toeirei/bandward/internal/db"
	"github.com/toeirei/bandward/internal/logging"
	"github.com/toeirei/bandward/internal/model"
	"github.com/toeirei/bandward/internal/security"
)

// ClockJump describes a discontinuity of the wall clock.
type ClockJump struct {
	Previous time.Time     // reference time before the jump
	Observed time.Time     // wall clock reading that revealed it
	Delta    time.Duration // observed minus expected; negative is backwards
}

// SlidingWindow admits timed nonces whose timestamp lies in
// [ref-Window, ref+FutureSkew] and whose digest was not admitted before.
// Digests are kept until their timestamp leaves the window.
//
// ref is the highest wall clock reading seen so far, so a clock that steps
// backwards can never reopen a window that already closed. A step larger than
// JumpTolerance (or, with a real clock, wall time drifting from monotonic
// time by more than that) fails the admission that observed it and is
// reported through OnClockJump.
type SlidingWindow struct {
	store  Store
	clock  clock.Clock
	window time.Duration
	skew   time.Duration
	tol    time.Duration
	onJump func(context.Context, ClockJump)
	logger *log.Logger
	locks  *keyedMutex

	mu        sync.Mutex
	highWater time.Time
	base      time.Time
	behind    bool
	lastPrune time.Time
}

func NewSlidingWindow(store Store, opts Options) (*SlidingWindow, error) {
	if opts.Window <= 0 {
		return nil, errors.New("nonce window must be positive")
	}
	if opts.FutureSkew < 0 {
		return nil, errors.New("nonce future skew must not be negative")
	}
	if opts.JumpTolerance <= 0 {
		return nil, errors.New("clock jump tolerance must be positive")
	}
	c := opts.Clock
	if c == nil {
		c = clock.New()
	}
	return &SlidingWindow{
		store:  store,
		clock:  c,
		window: opts.Window,
		skew:   opts.FutureSkew,
		tol:    opts.JumpTolerance,
		onJump: opts.OnClockJump,
		logger: logging.Or(opts.Logger),
		locks:  newKeyedMutex(),
	}, nil
}

// reference returns the time windows are measured against without
// recording anything.
func (w *SlidingWindow) reference() time.Time {
	now := w.clock.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	if now.After(w.highWater) {
		return now
	}
	return w.highWater
}

// observe advances the reference time and reports a jump the first time it
// becomes visible.
func (w *SlidingWindow) observe() (time.Time, *ClockJump) {
	now := w.clock.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.highWater.IsZero() {
		w.highWater, w.base = now, now
		return now, nil
	}

	var jump *ClockJump
	switch {
	case now.Before(w.highWater.Add(-w.tol)):
		if !w.behind {
			jump = &ClockJump{Previous: w.highWater, Observed: now, Delta: now.Sub(w.highWater)}
		}
		w.behind = true
	default:
		w.behind = false
		// Without monotonic readings (mock clocks) both differences agree.
		wall := now.Round(0).Sub(w.base.Round(0))
		mono := now.Sub(w.base)
		if drift := wall - mono; drift > w.tol || drift < -w.tol {
			jump = &ClockJump{Previous: w.base.Add(mono), Observed: now, Delta: drift}
		}
	}
	if jump != nil {
		w.base = now
	}
	if now.After(w.highWater) {
		w.highWater = now
	}
	return w.highWater, jump
}

func (w *SlidingWindow) open(cred model.Credential, nonce []byte, ref time.Time) (time.Time, error) {
	ts, err := security.OpenTimedNonce(cred.NonceSeed, cred.DeviceUID, nonce)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if ts.Before(ref.Add(-w.window)) {
		return time.Time{}, fmt.Errorf("%w: nonce from %s is older than the window", ErrRejected, ts.Format(time.RFC3339Nano))
	}
	if ts.After(ref.Add(w.skew)) {
		return time.Time{}, fmt.Errorf("%w: nonce from %s is in the future", ErrRejected, ts.Format(time.RFC3339Nano))
	}
	return ts, nil
}

func (w *SlidingWindow) Check(ctx context.Context, cred model.Credential, nonce []byte) error {
	ref := w.reference()
	if _, err := w.open(cred, nonce, ref); err != nil {
		return err
	}
	if _, err := checkGeneration(ctx, w.store, cred); err != nil {
		return err
	}
	seen, err := w.store.NonceSeen(ctx, cred.DeviceUID, security.Digest(nonce), ref.Add(-w.window))
	if err != nil {
		return fmt.Errorf("lookup nonce: %w", err)
	}
	if seen {
		return fmt.Errorf("%w: nonce replayed", ErrRejected)
	}
	return nil
}

func (w *SlidingWindow) Admit(ctx context.Context, cred model.Credential, nonce []byte) error {
	ref, jump := w.observe()
	if jump != nil {
		w.logger.Warn("clock jump detected", "previous", jump.Previous, "observed", jump.Observed, "delta", jump.Delta)
		if w.onJump != nil {
			w.onJump(ctx, *jump)
		}
		return ErrClockJump
	}
	ts, err := w.open(cred, nonce, ref)
	if err != nil {
		return err
	}

	unlock := w.locks.Lock(cred.DeviceUID)
	defer unlock()
	err = w.store.RecordNonce(ctx, cred.DeviceUID, cred.Generation, security.Digest(nonce), ts, ref.Add(-w.window))
	switch {
	case err == nil:
	case errors.Is(err, db.ErrDuplicate):
		return fmt.Errorf("%w: nonce replayed", ErrRejected)
	case errors.Is(err, db.ErrStale):
		return fmt.Errorf("%w: credential superseded", ErrRejected)
	default:
		return fmt.Errorf("record nonce: %w", err)
	}
	w.maybePrune(ctx, ref)
	return nil
}

// maybePrune evicts expired digests at most once per window length.
func (w *SlidingWindow) maybePrune(ctx context.Context, ref time.Time) {
	w.mu.Lock()
	due := ref.Sub(w.lastPrune) >= w.window
	if due {
		w.lastPrune = ref
	}
	w.mu.Unlock()
	if !due {
		return
	}
	if _, err := w.Prune(ctx); err != nil {
		w.logger.Warn("nonce prune failed", "err", err)
	}
}

// Prune evicts digests whose timestamp has left the window.
func (w *SlidingWindow) Prune(ctx context.Context) (int64, error) {
	return w.store.PruneNonces(ctx, w.reference().Add(-w.window))
}
