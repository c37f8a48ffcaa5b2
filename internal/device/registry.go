// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package device manages the device inventory and facility bindings. It is
// the binding lookup the authenticator consults: a device authenticates only
// while it is active and has exactly one bound binding.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/filecoin-project/go-clock"
	"github.com/google/uuid"
	"github.com/toeirei/bandward/internal/audit"
	"github.com/toeirei/bandward/internal/credential"
	"github.com/toeirei/bandward/internal/db"
	"github.com/toeirei/bandward/internal/logging"
	"github.com/toeirei/bandward/internal/model"
)

const (
	ActionRegister = "device.register"
	ActionStatus   = "device.status"
	ActionBind     = "device.bind"
	ActionUnbind   = "device.unbind"
	ResourceDevice = "device"
)

var (
	ErrUnknownDevice     = errors.New("unknown device")
	ErrDeviceExists      = errors.New("device already registered")
	ErrInvalidUID        = errors.New("device uid is required")
	ErrInvalidFacility   = errors.New("facility id is required")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrNotBindable       = errors.New("device cannot be bound in its current status")
	ErrNotBound          = errors.New("device has no bound facility binding")
)

// transitions lists the statuses reachable from each status. retired and
// revoked are terminal.
var transitions = map[model.DeviceStatus][]model.DeviceStatus{
	model.DeviceInventory:   {model.DeviceActive, model.DeviceRetired},
	model.DeviceActive:      {model.DeviceMaintenance, model.DeviceRetired, model.DeviceRevoked},
	model.DeviceMaintenance: {model.DeviceActive, model.DeviceRetired, model.DeviceRevoked},
}

// CanTransition reports whether a device may move from one status to another.
func CanTransition(from, to model.DeviceStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Store is the device persistence, implemented by *db.Store.
type Store interface {
	CreateDevice(ctx context.Context, d model.Device) error
	GetDevice(ctx context.Context, uid string) (model.Device, error)
	ListDevices(ctx context.Context) ([]model.Device, error)
	UpdateDeviceStatus(ctx context.Context, uid string, status model.DeviceStatus, at time.Time) error
	BoundBinding(ctx context.Context, uid string) (model.Binding, error)
	ListBindings(ctx context.Context, uid string) ([]model.Binding, error)
	BindDevice(ctx context.Context, uid, facilityID string, at time.Time) (model.Binding, error)
	EndBinding(ctx context.Context, uid string, status model.BindingStatus, at time.Time) error
	TouchBinding(ctx context.Context, uid string, at time.Time) error
}

// Credentials is the token issuer, implemented by *credential.Issuer.
type Credentials interface {
	Issue(ctx context.Context, actor, uid, facilityID string) (credential.Issued, error)
	Rotate(ctx context.Context, actor, uid, facilityID string) (credential.Issued, error)
	Revoke(ctx context.Context, actor, uid, facilityID, reason string) (model.AuditEntry, error)
}

type Ledger interface {
	Append(ctx context.Context, r audit.Record) (model.AuditEntry, error)
	AppendFailure(ctx context.Context, r audit.Record, cause error)
}

type Guard interface {
	GuardMutation(ctx context.Context) error
}

type Options struct {
	Clock  clock.Clock
	Logger *log.Logger
}

type Registry struct {
	store  Store
	creds  Credentials
	ledger Ledger
	guard  Guard
	clock  clock.Clock
	logger *log.Logger
}

func NewRegistry(store Store, creds Credentials, ledger Ledger, guard Guard, opts Options) *Registry {
	r := &Registry{store: store, creds: creds, ledger: ledger, guard: guard, clock: opts.Clock, logger: logging.Or(opts.Logger)}
	if r.clock == nil {
		r.clock = clock.New()
	}
	return r
}

func (r *Registry) now() time.Time { return r.clock.Now().UTC() }

// Register adds a device to the inventory.
func (r *Registry) Register(ctx context.Context, actor, uid string) (model.Device, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return model.Device{}, ErrInvalidUID
	}
	if err := r.guard.GuardMutation(ctx); err != nil {
		return model.Device{}, err
	}
	if _, err := r.store.GetDevice(ctx, uid); err == nil {
		return model.Device{}, fmt.Errorf("%w: %s", ErrDeviceExists, uid)
	} else if !errors.Is(err, db.ErrNotFound) {
		return model.Device{}, err
	}

	now := r.now()
	d := model.Device{ID: uuid.NewString(), UID: uid, Status: model.DeviceInventory, RegisteredAt: now, UpdatedAt: now}
	rec := audit.Record{
		ActorID:      actor,
		Action:       ActionRegister,
		ResourceType: ResourceDevice,
		ResourceID:   uid,
		Severity:     model.SeverityInfo,
		Details:      "id " + d.ID,
	}
	if _, err := r.ledger.Append(ctx, rec); err != nil {
		return model.Device{}, err
	}
	if err := r.store.CreateDevice(ctx, d); err != nil {
		r.ledger.AppendFailure(ctx, rec, err)
		if errors.Is(err, db.ErrDuplicate) {
			return model.Device{}, fmt.Errorf("%w: %s", ErrDeviceExists, uid)
		}
		return model.Device{}, fmt.Errorf("create device: %w", err)
	}
	r.logger.Info("device registered", "device", uid, "id", d.ID)
	return d, nil
}

// Get returns the device with the given uid.
func (r *Registry) Get(ctx context.Context, uid string) (model.Device, error) {
	d, err := r.store.GetDevice(ctx, uid)
	if errors.Is(err, db.ErrNotFound) {
		return model.Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, uid)
	}
	return d, err
}

func (r *Registry) List(ctx context.Context) ([]model.Device, error) {
	return r.store.ListDevices(ctx)
}

// Bindings returns the binding history of a device, newest first.
func (r *Registry) Bindings(ctx context.Context, uid string) ([]model.Binding, error) {
	if _, err := r.Get(ctx, uid); err != nil {
		return nil, err
	}
	return r.store.ListBindings(ctx, uid)
}

// SetStatus moves a device along the status lifecycle. Entering retired or
// revoked revokes the bound binding and destroys the credential.
func (r *Registry) SetStatus(ctx context.Context, actor, uid string, status model.DeviceStatus, reason string) (model.Device, error) {
	if !status.Valid() {
		return model.Device{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	if err := r.guard.GuardMutation(ctx); err != nil {
		return model.Device{}, err
	}
	d, err := r.Get(ctx, uid)
	if err != nil {
		return model.Device{}, err
	}
	if !CanTransition(d.Status, status) {
		return model.Device{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, status)
	}

	facility := ""
	if b, err := r.store.BoundBinding(ctx, uid); err == nil {
		facility = b.FacilityID
	}
	sev := model.SeverityInfo
	switch status {
	case model.DeviceRevoked:
		sev = model.SeverityCritical
	case model.DeviceRetired:
		sev = model.SeverityWarning
	}
	details := fmt.Sprintf("%s -> %s", d.Status, status)
	if reason != "" {
		details += ": " + reason
	}
	rec := audit.Record{
		ActorID:      actor,
		FacilityID:   facility,
		Action:       ActionStatus,
		ResourceType: ResourceDevice,
		ResourceID:   uid,
		Severity:     sev,
		Details:      details,
	}
	if _, err := r.ledger.Append(ctx, rec); err != nil {
		return model.Device{}, err
	}
	now := r.now()
	if err := r.store.UpdateDeviceStatus(ctx, uid, status, now); err != nil {
		r.ledger.AppendFailure(ctx, rec, err)
		return model.Device{}, fmt.Errorf("update status: %w", err)
	}
	d.Status, d.UpdatedAt = status, now

	if status.Terminal() {
		if err := r.store.EndBinding(ctx, uid, model.BindingRevoked, now); err != nil && !errors.Is(err, db.ErrNotFound) {
			return d, fmt.Errorf("revoke binding: %w", err)
		}
		if _, err := r.creds.Revoke(ctx, actor, uid, facility, "device "+string(status)); err != nil && !errors.Is(err, credential.ErrNoCredential) {
			return d, fmt.Errorf("destroy credential: %w", err)
		}
	}
	r.logger.Info("device status changed", "device", uid, "status", status)
	return d, nil
}

// Bind ties the device to facilityID. An existing binding is ended as
// removed and the credential is rotated, or issued if the device had none.
// An inventory device becomes active.
//
// The credential is replaced before the binding switch commits: the old
// secret never authenticates against the new facility, and a failed rotation
// leaves the previous binding untouched. If the switch itself fails the new
// credential is never handed out, so the device is left without a usable
// credential rather than with a stale one.
func (r *Registry) Bind(ctx context.Context, actor, uid, facilityID string) (model.Binding, credential.Issued, error) {
	facilityID = strings.TrimSpace(facilityID)
	if facilityID == "" {
		return model.Binding{}, credential.Issued{}, ErrInvalidFacility
	}
	if err := r.guard.GuardMutation(ctx); err != nil {
		return model.Binding{}, credential.Issued{}, err
	}
	d, err := r.Get(ctx, uid)
	if err != nil {
		return model.Binding{}, credential.Issued{}, err
	}
	if d.Status != model.DeviceInventory && d.Status != model.DeviceActive {
		return model.Binding{}, credential.Issued{}, fmt.Errorf("%w: %s", ErrNotBindable, d.Status)
	}

	details := "bound to " + facilityID
	if prev, err := r.store.BoundBinding(ctx, uid); err == nil {
		details = fmt.Sprintf("rebound from %s to %s", prev.FacilityID, facilityID)
	}
	rec := audit.Record{
		ActorID:      actor,
		FacilityID:   facilityID,
		Action:       ActionBind,
		ResourceType: ResourceDevice,
		ResourceID:   uid,
		Severity:     model.SeverityWarning,
		Details:      details,
	}
	if _, err := r.ledger.Append(ctx, rec); err != nil {
		return model.Binding{}, credential.Issued{}, err
	}

	iss, err := r.creds.Rotate(ctx, actor, uid, facilityID)
	if errors.Is(err, credential.ErrNoCredential) {
		iss, err = r.creds.Issue(ctx, actor, uid, facilityID)
	}
	if err != nil {
		r.ledger.AppendFailure(ctx, rec, err)
		return model.Binding{}, credential.Issued{}, fmt.Errorf("issue credential: %w", err)
	}

	b, err := r.store.BindDevice(ctx, uid, facilityID, r.now())
	if err != nil {
		iss.Credential.Secret.Zero()
		iss.Credential.NonceSeed.Zero()
		r.ledger.AppendFailure(ctx, rec, err)
		return model.Binding{}, credential.Issued{}, fmt.Errorf("bind device: %w", err)
	}
	r.logger.Info("device bound", "device", uid, "facility", facilityID)
	return b, iss, nil
}

// Unbind ends the bound binding as removed and revokes the credential.
func (r *Registry) Unbind(ctx context.Context, actor, uid, reason string) error {
	if err := r.guard.GuardMutation(ctx); err != nil {
		return err
	}
	if _, err := r.Get(ctx, uid); err != nil {
		return err
	}
	b, err := r.store.BoundBinding(ctx, uid)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotBound, uid)
	}
	if err != nil {
		return err
	}
	rec := audit.Record{
		ActorID:      actor,
		FacilityID:   b.FacilityID,
		Action:       ActionUnbind,
		ResourceType: ResourceDevice,
		ResourceID:   uid,
		Severity:     model.SeverityWarning,
		Details:      reason,
	}
	if _, err := r.ledger.Append(ctx, rec); err != nil {
		return err
	}
	if err := r.store.EndBinding(ctx, uid, model.BindingRemoved, r.now()); err != nil {
		r.ledger.AppendFailure(ctx, rec, err)
		return fmt.Errorf("end binding: %w", err)
	}
	if _, err := r.creds.Revoke(ctx, actor, uid, b.FacilityID, "unbound"); err != nil && !errors.Is(err, credential.ErrNoCredential) {
		return fmt.Errorf("revoke credential: %w", err)
	}
	r.logger.Info("device unbound", "device", uid, "facility", b.FacilityID)
	return nil
}

// Resolve returns the device and its bound binding. It fails with
// ErrUnknownDevice or ErrNotBound.
func (r *Registry) Resolve(ctx context.Context, uid string) (model.Device, model.Binding, error) {
	d, err := r.Get(ctx, uid)
	if err != nil {
		return model.Device{}, model.Binding{}, err
	}
	b, err := r.store.BoundBinding(ctx, uid)
	if errors.Is(err, db.ErrNotFound) {
		return d, model.Binding{}, fmt.Errorf("%w: %s", ErrNotBound, uid)
	}
	if err != nil {
		return d, model.Binding{}, err
	}
	return d, b, nil
}

// Touch records a successful authentication. It is protocol bookkeeping and
// not a guarded mutation.
func (r *Registry) Touch(ctx context.Context, uid string, at time.Time) error {
	return r.store.TouchBinding(ctx, uid, at.UTC())
}
