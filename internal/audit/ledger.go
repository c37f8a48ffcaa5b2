// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/filecoin-project/go-clock"
	"github.com/toeirei/bandward/internal/db"
	"github.com/toeirei/bandward/internal/logging"
	"github.com/toeirei/bandward/internal/metrics"
	"github.com/toeirei/bandward/internal/model"
)

// Store is the ledger persistence, implemented by *db.Store.
type Store interface {
	AuditTail(ctx context.Context) (model.AuditEntry, bool, error)
	InsertAuditEntry(ctx context.Context, e model.AuditEntry, genesis string) error
	AuditEntry(ctx context.Context, sequence int64) (model.AuditEntry, error)
	AuditRange(ctx context.Context, from, to int64, limit int) ([]model.AuditEntry, error)
	AuditSequenceBounds(ctx context.Context, start, end time.Time) (int64, int64, bool, error)
	QueryAudit(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error)
	AuditApprovalsFor(ctx context.Context, approveAction string, sequence int64) ([]model.AuditEntry, error)
	AuditRequiringApproval(ctx context.Context, limit int) ([]model.AuditEntry, error)
}

// Guard decides whether mutations, appends included, may proceed.
type Guard interface {
	GuardMutation(ctx context.Context) error
}

// Options configures a Ledger. Zero values fall back to the defaults of
// config.Defaults.
type Options struct {
	Clock         clock.Clock
	AppendTimeout time.Duration
	AppendRetries int
	DefaultLimit  int
	MaxLimit      int
	Policy        ApprovalPolicy
	Metrics       *metrics.Metrics
	Logger        *log.Logger
}

// Ledger is the single writer of the audit chain.
type Ledger struct {
	store   Store
	guard   Guard
	clock   clock.Clock
	timeout time.Duration
	retries int
	defLim  int
	maxLim  int
	policy  ApprovalPolicy
	metrics *metrics.Metrics
	logger  *log.Logger

	mu         sync.Mutex
	tail       model.AuditEntry
	tailLoaded bool

	approveMu sync.Mutex
}

func NewLedger(store Store, opts Options) *Ledger {
	l := &Ledger{
		store:   store,
		clock:   opts.Clock,
		timeout: opts.AppendTimeout,
		retries: opts.AppendRetries,
		defLim:  opts.DefaultLimit,
		maxLim:  opts.MaxLimit,
		policy:  opts.Policy,
		metrics: opts.Metrics,
		logger:  logging.Or(opts.Logger),
	}
	if l.clock == nil {
		l.clock = clock.New()
	}
	if l.timeout <= 0 {
		l.timeout = 5 * time.Second
	}
	if l.retries < 0 {
		l.retries = 0
	}
	if l.defLim <= 0 {
		l.defLim = 100
	}
	if l.maxLim < l.defLim {
		l.maxLim = l.defLim
	}
	if l.policy == nil {
		l.policy = FourEyesPolicy{}
	}
	return l
}

// SetGuard installs the mutation guard. It must be called before the ledger
// is shared between goroutines.
func (l *Ledger) SetGuard(g Guard) { l.guard = g }

// Append links r to the chain tail and persists it. The write is attempted up
// to 1+AppendRetries times, each under AppendTimeout; transient failures are
// retried with exponential backoff, anything else ends the attempt at once.
// Any failure surfaces as ErrAuditWriteFailed, a guard refusal as the
// guard's own error.
func (l *Ledger) Append(ctx context.Context, r Record) (model.AuditEntry, error) {
	if err := r.validate(); err != nil {
		return model.AuditEntry{}, err
	}
	if l.guard != nil {
		if err := l.guard.GuardMutation(ctx); err != nil {
			return model.AuditEntry{}, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	var written model.AuditEntry
	op := func() error {
		actx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()
		e, err := l.attempt(actx, r)
		if err != nil {
			// Whatever happened, the cached tail can no longer be trusted.
			l.tailLoaded = false
			if !db.IsTransient(err) {
				return backoff.Permanent(err)
			}
			l.logger.Debug("audit append attempt failed", "action", r.Action, "err", err)
			return err
		}
		l.tail, l.tailLoaded = e, true
		written = e
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = 250 * time.Millisecond
	eb.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(l.retries)), ctx))
	l.metrics.AuditAppend(err == nil, time.Since(start))
	if err != nil {
		l.logger.Error("audit append failed", "action", r.Action, "resource", r.ResourceType+"/"+r.ResourceID, "err", err)
		return model.AuditEntry{}, fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
	}
	l.logger.Debug("audit entry appended", "sequence", written.Sequence, "action", written.Action)
	return written, nil
}

func (l *Ledger) attempt(ctx context.Context, r Record) (model.AuditEntry, error) {
	if !l.tailLoaded {
		tail, ok, err := l.store.AuditTail(ctx)
		if err != nil {
			return model.AuditEntry{}, fmt.Errorf("load tail: %w", err)
		}
		if !ok {
			tail = model.AuditEntry{EntryHash: GenesisHash}
		}
		l.tail, l.tailLoaded = tail, true
	}
	e := model.AuditEntry{
		Sequence:         l.tail.Sequence + 1,
		Timestamp:        l.clock.Now().UTC(),
		ActorID:          r.ActorID,
		FacilityID:       r.FacilityID,
		Action:           r.Action,
		ResourceType:     r.ResourceType,
		ResourceID:       r.ResourceID,
		Severity:         r.Severity,
		ApprovalRequired: r.ApprovalRequired,
		Details:          r.Details,
		PreviousHash:     l.tail.EntryHash,
	}
	e.EntryHash = ComputeHash(e.PreviousHash, e)
	if err := l.store.InsertAuditEntry(ctx, e, GenesisHash); err != nil {
		return model.AuditEntry{}, err
	}
	return e, nil
}

// AppendFailure records that the mutation announced by r did not complete.
// It is best effort: its own failure is only logged.
func (l *Ledger) AppendFailure(ctx context.Context, r Record, cause error) {
	if _, err := l.Append(ctx, r.Failed(cause)); err != nil {
		l.logger.Error("could not record failed mutation", "action", r.Action, "cause", cause, "err", err)
	}
}

// Entry returns one entry by sequence.
func (l *Ledger) Entry(ctx context.Context, sequence int64) (model.AuditEntry, error) {
	e, err := l.store.AuditEntry(ctx, sequence)
	if errors.Is(err, db.ErrNotFound) {
		return model.AuditEntry{}, fmt.Errorf("%w: %d", ErrUnknownEntry, sequence)
	}
	return e, err
}

// Query is a plain filtered read, newest first. The limit falls back to the
// default and is clamped to the maximum. Facility scoping is the caller's
// responsibility.
func (l *Ledger) Query(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
	if f.Limit <= 0 {
		f.Limit = l.defLim
	}
	if f.Limit > l.maxLim {
		f.Limit = l.maxLim
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return nil, fmt.Errorf("%w: end time before start time", ErrInvalidQuery)
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return nil, fmt.Errorf("%w: severity %q", ErrInvalidQuery, f.Severity)
	}
	return l.store.QueryAudit(ctx, f)
}
