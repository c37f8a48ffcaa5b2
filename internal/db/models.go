// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"

	"github.com/toeirei/bandward/internal/model"
	"github.com/toeirei/bandward/internal/security"
	"github.com/uptrace/bun"
)

// DeviceModel is the Bun model for the devices table.
type DeviceModel struct {
	bun.BaseModel        `bun:"table:devices"`
	UID                  string `bun:"uid,pk"`
	ID                   string `bun:"id"`
	Status               string `bun:"status"`
	CredentialGeneration int64  `bun:"credential_generation"`
	RegisteredAt         int64  `bun:"registered_at"`
	UpdatedAt            int64  `bun:"updated_at"`
}

// BindingModel is the Bun model for the facility_bindings table.
type BindingModel struct {
	bun.BaseModel `bun:"table:facility_bindings"`
	ID            int64  `bun:"id,pk,autoincrement"`
	DeviceUID     string `bun:"device_uid"`
	FacilityID    string `bun:"facility_id"`
	Status        string `bun:"status"`
	BoundAt       int64  `bun:"bound_at"`
	LastSeenAt    int64  `bun:"last_seen_at"`
	EndedAt       int64  `bun:"ended_at"`
}

// CredentialModel is the Bun model for the credentials table. The counter
// column is the NonceState of counter mode.
type CredentialModel struct {
	bun.BaseModel `bun:"table:credentials"`
	DeviceUID     string `bun:"device_uid,pk"`
	Secret        []byte `bun:"secret"`
	NonceSeed     []byte `bun:"nonce_seed"`
	Generation    int64  `bun:"generation"`
	IssuedAt      int64  `bun:"issued_at"`
	ExpiresAt     int64  `bun:"expires_at"`
	LastCounter   int64  `bun:"last_counter"`
}

// NonceSeenModel is one admitted windowed nonce.
type NonceSeenModel struct {
	bun.BaseModel `bun:"table:nonce_seen"`
	DeviceUID     string `bun:"device_uid,pk"`
	NonceDigest   string `bun:"nonce_digest,pk"`
	Generation    int64  `bun:"generation"`
	SeenAt        int64  `bun:"seen_at"`
}

// AuditEntryModel is the Bun model for the audit_entries table.
type AuditEntryModel struct {
	bun.BaseModel    `bun:"table:audit_entries"`
	Sequence         int64          `bun:"sequence,pk"`
	TimestampNs      int64          `bun:"timestamp_ns"`
	ActorID          sql.NullString `bun:"actor_id"`
	FacilityID       sql.NullString `bun:"facility_id"`
	Action           string         `bun:"action"`
	ResourceType     string         `bun:"resource_type"`
	ResourceID       string         `bun:"resource_id"`
	Severity         string         `bun:"severity"`
	ApprovalRequired bool           `bun:"approval_required"`
	Details          string         `bun:"details"`
	PreviousHash     string         `bun:"previous_hash"`
	EntryHash        string         `bun:"entry_hash"`
}

// ForensicLockModel is the singleton forensic_lock row.
type ForensicLockModel struct {
	bun.BaseModel  `bun:"table:forensic_lock"`
	ID             int    `bun:"id,pk"`
	Enabled        bool   `bun:"enabled"`
	ReadOnly       bool   `bun:"read_only"`
	EnabledAt      int64  `bun:"enabled_at"`
	EnabledBy      string `bun:"enabled_by"`
	EnabledReason  string `bun:"enabled_reason"`
	DisabledAt     int64  `bun:"disabled_at"`
	DisabledBy     string `bun:"disabled_by"`
	DisabledReason string `bun:"disabled_reason"`
	PendingLiftSeq int64  `bun:"pending_lift_seq"`
}

func deviceModelToModel(d DeviceModel) model.Device {
	return model.Device{
		ID:           d.ID,
		UID:          d.UID,
		Status:       model.DeviceStatus(d.Status),
		RegisteredAt: fromNanos(d.RegisteredAt),
		UpdatedAt:    fromNanos(d.UpdatedAt),
	}
}

func bindingModelToModel(b BindingModel) model.Binding {
	return model.Binding{
		ID:         b.ID,
		DeviceUID:  b.DeviceUID,
		FacilityID: b.FacilityID,
		Status:     model.BindingStatus(b.Status),
		BoundAt:    fromNanos(b.BoundAt),
		LastSeenAt: fromNanos(b.LastSeenAt),
		EndedAt:    fromNanos(b.EndedAt),
	}
}

func credentialModelToModel(c CredentialModel) model.Credential {
	return model.Credential{
		DeviceUID:  c.DeviceUID,
		Secret:     security.FromBytes(c.Secret),
		NonceSeed:  security.FromBytes(c.NonceSeed),
		Generation: c.Generation,
		IssuedAt:   fromNanos(c.IssuedAt),
		ExpiresAt:  fromNanos(c.ExpiresAt),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func auditEntryModelToModel(a AuditEntryModel) model.AuditEntry {
	return model.AuditEntry{
		Sequence:         a.Sequence,
		Timestamp:        fromNanos(a.TimestampNs),
		ActorID:          a.ActorID.String,
		FacilityID:       a.FacilityID.String,
		Action:           a.Action,
		ResourceType:     a.ResourceType,
		ResourceID:       a.ResourceID,
		Severity:         model.Severity(a.Severity),
		ApprovalRequired: a.ApprovalRequired,
		Details:          a.Details,
		PreviousHash:     a.PreviousHash,
		EntryHash:        a.EntryHash,
	}
}

func auditEntryModelFromModel(e model.AuditEntry) AuditEntryModel {
	return AuditEntryModel{
		Sequence:         e.Sequence,
		TimestampNs:      toNanos(e.Timestamp),
		ActorID:          nullString(e.ActorID),
		FacilityID:       nullString(e.FacilityID),
		Action:           e.Action,
		ResourceType:     e.ResourceType,
		ResourceID:       e.ResourceID,
		Severity:         string(e.Severity),
		ApprovalRequired: e.ApprovalRequired,
		Details:          e.Details,
		PreviousHash:     e.PreviousHash,
		EntryHash:        e.EntryHash,
	}
}

func forensicModelToModel(f ForensicLockModel) model.ForensicLockState {
	return model.ForensicLockState{
		Enabled:             f.Enabled,
		ReadOnly:            f.ReadOnly,
		EnabledAt:           fromNanos(f.EnabledAt),
		EnabledBy:           f.EnabledBy,
		EnabledReason:       f.EnabledReason,
		DisabledAt:          fromNanos(f.DisabledAt),
		DisabledBy:          f.DisabledBy,
		DisabledReason:      f.DisabledReason,
		PendingLiftSequence: f.PendingLiftSeq,
	}
}
