// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package credential mints, rotates and revokes device credentials.
//
// Every operation is guarded by the forensic lock and recorded in the audit
// ledger before the store is touched, so a credential change that could not
// be audited never happens. Replacing a credential is atomic in the store:
// the old secret and nonce seed stop working at the instant the new ones
// become valid.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/filecoin-project/go-clock"
	"github.com/toeirei/bandward/internal/audit"
	"github.com/toeirei/bandward/internal/db"
	"github.com/toeirei/bandward/internal/logging"
	"github.com/toeirei/bandward/internal/model"
	"github.com/toeirei/bandward/internal/security"
)

const (
	ActionIssue    = "credential.issue"
	ActionRotate   = "credential.rotate"
	ActionRevoke   = "credential.revoke"
	ResourceDevice = "device"

	seedBytes = 32
)

var (
	// ErrNoCredential is returned by Rotate and Revoke for a device without
	// a credential.
	ErrNoCredential = errors.New("device has no credential")
	// ErrUnknownDevice is returned when issuing for a device that is not
	// registered.
	ErrUnknownDevice = errors.New("unknown device")
	ErrInvalidDevice = errors.New("device uid is required")
)

// Store is the credential persistence, implemented by *db.Store.
type Store interface {
	GetCredential(ctx context.Context, uid string) (model.Credential, error)
	ReplaceCredential(ctx context.Context, cred model.Credential) (model.Credential, error)
	DeleteCredential(ctx context.Context, uid string) error
}

// Ledger is the audit sink, implemented by *audit.Ledger.
type Ledger interface {
	Append(ctx context.Context, r audit.Record) (model.AuditEntry, error)
	AppendFailure(ctx context.Context, r audit.Record, cause error)
}

// Guard is the forensic lock.
type Guard interface {
	GuardMutation(ctx context.Context) error
}

type Options struct {
	Clock       clock.Clock
	TTL         time.Duration
	SecretBytes int
	Logger      *log.Logger
}

// Issued is a freshly minted credential. Its secret and nonce seed are only
// ever handed out here, for provisioning the device.
type Issued struct {
	Credential model.Credential
	FacilityID string
	// Entry is the ledger entry that recorded the change.
	Entry model.AuditEntry
}

type Issuer struct {
	store   Store
	ledger  Ledger
	guard   Guard
	clock   clock.Clock
	ttl     time.Duration
	secretN int
	logger  *log.Logger
}

func NewIssuer(store Store, ledger Ledger, guard Guard, opts Options) *Issuer {
	i := &Issuer{
		store:   store,
		ledger:  ledger,
		guard:   guard,
		clock:   opts.Clock,
		ttl:     opts.TTL,
		secretN: opts.SecretBytes,
		logger:  logging.Or(opts.Logger),
	}
	if i.clock == nil {
		i.clock = clock.New()
	}
	if i.ttl <= 0 {
		i.ttl = 30 * 24 * time.Hour
	}
	if i.secretN < 16 {
		i.secretN = 32
	}
	return i
}

// Issue mints a credential for uid, replacing any prior one.
func (i *Issuer) Issue(ctx context.Context, actor, uid, facilityID string) (Issued, error) {
	return i.mint(ctx, ActionIssue, actor, uid, facilityID)
}

// Rotate replaces the existing credential of uid. It fails with
// ErrNoCredential when there is nothing to rotate.
func (i *Issuer) Rotate(ctx context.Context, actor, uid, facilityID string) (Issued, error) {
	if err := i.guard.GuardMutation(ctx); err != nil {
		return Issued{}, err
	}
	if _, err := i.store.GetCredential(ctx, uid); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return Issued{}, fmt.Errorf("%w: %s", ErrNoCredential, uid)
		}
		return Issued{}, err
	}
	return i.mint(ctx, ActionRotate, actor, uid, facilityID)
}

func (i *Issuer) mint(ctx context.Context, action, actor, uid, facilityID string) (Issued, error) {
	if strings.TrimSpace(uid) == "" {
		return Issued{}, ErrInvalidDevice
	}
	if err := i.guard.GuardMutation(ctx); err != nil {
		return Issued{}, err
	}
	secret, err := security.NewSecret(i.secretN)
	if err != nil {
		return Issued{}, err
	}
	seed, err := security.NewSecret(seedBytes)
	if err != nil {
		return Issued{}, err
	}
	now := i.clock.Now().UTC()
	cred := model.Credential{
		DeviceUID: uid,
		Secret:    secret,
		NonceSeed: seed,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}

	rec := audit.Record{
		ActorID:      actor,
		FacilityID:   facilityID,
		Action:       action,
		ResourceType: ResourceDevice,
		ResourceID:   uid,
		Severity:     model.SeverityWarning,
		Details:      "expires " + cred.ExpiresAt.Format(time.RFC3339),
	}
	entry, err := i.ledger.Append(ctx, rec)
	if err != nil {
		return Issued{}, err
	}
	stored, err := i.store.ReplaceCredential(ctx, cred)
	if err != nil {
		i.ledger.AppendFailure(ctx, rec, err)
		if errors.Is(err, db.ErrNotFound) {
			return Issued{}, fmt.Errorf("%w: %s", ErrUnknownDevice, uid)
		}
		return Issued{}, fmt.Errorf("store credential: %w", err)
	}
	i.logger.Info("credential issued", "device", uid, "action", action, "generation", stored.Generation, "expires", stored.ExpiresAt)
	return Issued{Credential: stored, FacilityID: facilityID, Entry: entry}, nil
}

// Revoke destroys the credential of uid. Later authentication attempts see
// an unknown device.
func (i *Issuer) Revoke(ctx context.Context, actor, uid, facilityID, reason string) (model.AuditEntry, error) {
	if strings.TrimSpace(uid) == "" {
		return model.AuditEntry{}, ErrInvalidDevice
	}
	if err := i.guard.GuardMutation(ctx); err != nil {
		return model.AuditEntry{}, err
	}
	if _, err := i.store.GetCredential(ctx, uid); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return model.AuditEntry{}, fmt.Errorf("%w: %s", ErrNoCredential, uid)
		}
		return model.AuditEntry{}, err
	}
	rec := audit.Record{
		ActorID:      actor,
		FacilityID:   facilityID,
		Action:       ActionRevoke,
		ResourceType: ResourceDevice,
		ResourceID:   uid,
		Severity:     model.SeverityCritical,
		Details:      reason,
	}
	entry, err := i.ledger.Append(ctx, rec)
	if err != nil {
		return model.AuditEntry{}, err
	}
	if err := i.store.DeleteCredential(ctx, uid); err != nil {
		i.ledger.AppendFailure(ctx, rec, err)
		if errors.Is(err, db.ErrNotFound) {
			return model.AuditEntry{}, fmt.Errorf("%w: %s", ErrNoCredential, uid)
		}
		return model.AuditEntry{}, fmt.Errorf("delete credential: %w", err)
	}
	i.logger.Warn("credential revoked", "device", uid, "actor", actor)
	return entry, nil
}

// Get returns the stored credential of uid.
func (i *Issuer) Get(ctx context.Context, uid string) (model.Credential, error) {
	cred, err := i.store.GetCredential(ctx, uid)
	if errors.Is(err, db.ErrNotFound) {
		return model.Credential{}, fmt.Errorf("%w: %s", ErrNoCredential, uid)
	}
	return cred, err
}
