// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package forensic implements the process-wide forensic lock. While the lock
// is enabled every mutating operation, ledger appends included, is refused
// with ErrLockActive. The lock's own transitions are the only exception and
// are themselves recorded in the audit ledger.
//
// The freeze covers administrative state, not the device protocol. Devices
// keep authenticating while the lock is enabled, and each success still
// advances its nonce state and the binding's last-seen time.
package forensic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/filecoin-project/go-clock"
	"github.com/toeirei/bandward/internal/audit"
	"github.com/toeirei/bandward/internal/logging"
	"github.com/toeirei/bandward/internal/metrics"
	"github.com/toeirei/bandward/internal/model"
)

// Audit vocabulary of the lock.
const (
	ActionEnable  = "forensic.enable"
	ActionDisable = "forensic.disable"
	ResourceLock  = "forensic_lock"
	resourceID    = "global"
)

var (
	// ErrLockActive is returned for any mutation attempted while the lock is
	// enabled. It is an operational state and safe to show to callers.
	ErrLockActive     = errors.New("forensic lock active")
	ErrNotEnabled     = errors.New("forensic lock is not enabled")
	ErrReasonRequired = errors.New("a reason is required")
	ErrActorRequired  = errors.New("an acting principal is required")
	// ErrLiftPending is returned by Disable while an earlier lift request is
	// still waiting for approval.
	ErrLiftPending = errors.New("a lift request is already pending approval")
	// ErrNoPendingLift is returned by ApproveLift when sequence is not the
	// pending lift request.
	ErrNoPendingLift = errors.New("no such pending lift request")
)

// Ledger is the part of the audit ledger the lock writes through.
type Ledger interface {
	Append(ctx context.Context, r audit.Record) (model.AuditEntry, error)
	AppendFailure(ctx context.Context, r audit.Record, cause error)
	Approve(ctx context.Context, approver audit.Approver, sequence int64) (model.AuditEntry, error)
	ApprovalStatus(ctx context.Context, sequence int64) (audit.ApprovalStatus, error)
}

// Store persists the singleton lock state, implemented by *db.Store.
type Store interface {
	LoadForensicState(ctx context.Context) (model.ForensicLockState, error)
	SaveForensicState(ctx context.Context, st model.ForensicLockState) error
}

type Options struct {
	Clock clock.Clock
	// LiftRequiresApproval keeps the lock engaged after Disable until the
	// disable entry was approved through ApproveLift.
	LiftRequiresApproval bool
	Metrics              *metrics.Metrics
	Logger               *log.Logger
}

// Outcome reports what a Disable call did.
type Outcome struct {
	State model.ForensicLockState
	// Entry is the forensic.disable ledger entry.
	Entry model.AuditEntry
	// Pending is true when the lock stays engaged until Entry is approved.
	Pending bool
}

// Lock is the forensic lock. The zero value is not usable; use New.
type Lock struct {
	store   Store
	ledger  Ledger
	clock   clock.Clock
	approve bool
	metrics *metrics.Metrics
	logger  *log.Logger

	enabled atomic.Bool

	mu    sync.Mutex
	state model.ForensicLockState
}

type transitionKey struct{}

// New loads the persisted state. A lift that was approved but not yet
// applied when the process stopped is completed here.
func New(ctx context.Context, store Store, ledger Ledger, opts Options) (*Lock, error) {
	l := &Lock{
		store:   store,
		ledger:  ledger,
		clock:   opts.Clock,
		approve: opts.LiftRequiresApproval,
		metrics: opts.Metrics,
		logger:  logging.Or(opts.Logger),
	}
	if l.clock == nil {
		l.clock = clock.New()
	}
	st, err := store.LoadForensicState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load forensic state: %w", err)
	}
	l.state = st
	l.enabled.Store(st.Enabled)
	l.metrics.ForensicEnabled(st.Enabled)

	if st.Enabled && st.PendingLiftSequence > 0 {
		status, err := ledger.ApprovalStatus(ctx, st.PendingLiftSequence)
		if err != nil {
			return nil, fmt.Errorf("check pending lift %d: %w", st.PendingLiftSequence, err)
		}
		if status == audit.ApprovalApproved {
			l.mu.Lock()
			err := l.lift(ctx)
			l.mu.Unlock()
			if err != nil {
				return nil, err
			}
			l.logger.Info("completed approved forensic lift", "sequence", st.PendingLiftSequence)
		}
	}
	return l, nil
}

// Enabled reports whether the lock is engaged.
func (l *Lock) Enabled() bool { return l.enabled.Load() }

// State returns a copy of the current lock state.
func (l *Lock) State() model.ForensicLockState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// GuardMutation must be called by every mutating operation before it
// executes. Only the lock's own transitions pass while it is enabled.
func (l *Lock) GuardMutation(ctx context.Context) error {
	if !l.enabled.Load() {
		return nil
	}
	if owner, _ := ctx.Value(transitionKey{}).(*Lock); owner == l {
		return nil
	}
	return ErrLockActive
}

func (l *Lock) transition(ctx context.Context) context.Context {
	return context.WithValue(ctx, transitionKey{}, l)
}

func required(actor, reason string) error {
	if strings.TrimSpace(actor) == "" {
		return ErrActorRequired
	}
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	return nil
}

// Enable engages the lock. The flag flips before the audit entry is written
// so no mutation can slip in behind it; if the entry cannot be written the
// lock falls back to disabled and the error is returned.
func (l *Lock) Enable(ctx context.Context, actor, reason string) (model.ForensicLockState, error) {
	if err := required(actor, reason); err != nil {
		return model.ForensicLockState{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Enabled {
		return model.ForensicLockState{}, ErrLockActive
	}

	l.enabled.Store(true)
	rec := audit.Record{
		ActorID:      actor,
		Action:       ActionEnable,
		ResourceType: ResourceLock,
		ResourceID:   resourceID,
		Severity:     model.SeverityCritical,
		Details:      reason,
	}
	tctx := l.transition(ctx)
	if _, err := l.ledger.Append(tctx, rec); err != nil {
		l.enabled.Store(false)
		return model.ForensicLockState{}, err
	}

	next := l.state
	next.Enabled = true
	next.ReadOnly = true
	next.EnabledAt = l.clock.Now().UTC()
	next.EnabledBy = actor
	next.EnabledReason = reason
	next.PendingLiftSequence = 0
	if err := l.store.SaveForensicState(ctx, next); err != nil {
		l.enabled.Store(false)
		l.ledger.AppendFailure(tctx, rec, err)
		return model.ForensicLockState{}, fmt.Errorf("persist forensic state: %w", err)
	}
	l.state = next
	l.metrics.ForensicEnabled(true)
	l.logger.Warn("forensic lock enabled", "actor", actor, "reason", reason)
	return next, nil
}

// Disable requests lifting the lock. Without required approval the lock is
// lifted at once; otherwise it stays engaged and the returned outcome names
// the entry that ApproveLift must approve.
func (l *Lock) Disable(ctx context.Context, actor, reason string) (Outcome, error) {
	if err := required(actor, reason); err != nil {
		return Outcome{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.Enabled {
		return Outcome{}, ErrNotEnabled
	}
	if l.state.PendingLiftSequence > 0 {
		return Outcome{}, fmt.Errorf("%w: sequence %d", ErrLiftPending, l.state.PendingLiftSequence)
	}

	rec := audit.Record{
		ActorID:          actor,
		Action:           ActionDisable,
		ResourceType:     ResourceLock,
		ResourceID:       resourceID,
		Severity:         model.SeverityCritical,
		ApprovalRequired: l.approve,
		Details:          reason,
	}
	tctx := l.transition(ctx)
	entry, err := l.ledger.Append(tctx, rec)
	if err != nil {
		return Outcome{}, err
	}

	prev := l.state
	l.state.DisabledBy = actor
	l.state.DisabledReason = reason
	if l.approve {
		l.state.PendingLiftSequence = entry.Sequence
		if err := l.store.SaveForensicState(ctx, l.state); err != nil {
			l.state = prev
			l.ledger.AppendFailure(tctx, rec, err)
			return Outcome{}, fmt.Errorf("persist forensic state: %w", err)
		}
		l.logger.Warn("forensic lift requested", "actor", actor, "sequence", entry.Sequence)
		return Outcome{State: l.state, Entry: entry, Pending: true}, nil
	}
	if err := l.lift(ctx); err != nil {
		l.state = prev
		l.ledger.AppendFailure(tctx, rec, err)
		return Outcome{}, err
	}
	return Outcome{State: l.state, Entry: entry}, nil
}

// ApproveLift approves the pending lift request at sequence and lifts the
// lock once the ledger's approval policy is satisfied.
func (l *Lock) ApproveLift(ctx context.Context, approver audit.Approver, sequence int64) (model.ForensicLockState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.Enabled {
		return model.ForensicLockState{}, ErrNotEnabled
	}
	if l.state.PendingLiftSequence == 0 || l.state.PendingLiftSequence != sequence {
		return model.ForensicLockState{}, fmt.Errorf("%w: %d", ErrNoPendingLift, sequence)
	}

	tctx := l.transition(ctx)
	if _, err := l.ledger.Approve(tctx, approver, sequence); err != nil && !errors.Is(err, audit.ErrAlreadyApproved) {
		return model.ForensicLockState{}, err
	}
	status, err := l.ledger.ApprovalStatus(ctx, sequence)
	if err != nil {
		return model.ForensicLockState{}, err
	}
	if status != audit.ApprovalApproved {
		return model.ForensicLockState{}, fmt.Errorf("lift request %d is %s", sequence, status)
	}
	if err := l.lift(ctx); err != nil {
		return model.ForensicLockState{}, err
	}
	return l.state, nil
}

// lift persists the disabled state. Callers hold mu.
func (l *Lock) lift(ctx context.Context) error {
	next := l.state
	next.Enabled = false
	next.ReadOnly = false
	next.DisabledAt = l.clock.Now().UTC()
	next.PendingLiftSequence = 0
	if err := l.store.SaveForensicState(ctx, next); err != nil {
		return fmt.Errorf("persist forensic state: %w", err)
	}
	l.state = next
	l.enabled.Store(false)
	l.metrics.ForensicEnabled(false)
	l.logger.Warn("forensic lock lifted", "actor", next.DisabledBy, "reason", next.DisabledReason)
	return nil
}
