// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "time"

// Severity classifies audit entries.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// AuditEntry is one immutable record of the hash-chained ledger. Empty
// ActorID and FacilityID mean the value is absent (device-originated events,
// facility-less actions).
type AuditEntry struct {
	Sequence         int64     `json:"sequence"`
	Timestamp        time.Time `json:"timestamp"`
	ActorID          string    `json:"actorId,omitempty"`
	FacilityID       string    `json:"facilityId,omitempty"`
	Action           string    `json:"action"`
	ResourceType     string    `json:"resourceType"`
	ResourceID       string    `json:"resourceId"`
	Severity         Severity  `json:"severity"`
	ApprovalRequired bool      `json:"approvalRequired"`
	Details          string    `json:"details,omitempty"`
	PreviousHash     string    `json:"previousHash"`
	EntryHash        string    `json:"entryHash"`
}
