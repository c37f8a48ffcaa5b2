// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "time"

// ForensicLockState is the persisted singleton behind the forensic freeze.
// PendingLiftSequence is the ledger sequence of a lift request that is still
// waiting for approval, or zero.
type ForensicLockState struct {
	Enabled             bool      `json:"enabled"`
	ReadOnly            bool      `json:"readOnly"`
	EnabledAt           time.Time `json:"enabledAt,omitempty"`
	EnabledBy           string    `json:"enabledBy,omitempty"`
	EnabledReason       string    `json:"enabledReason,omitempty"`
	DisabledAt          time.Time `json:"disabledAt,omitempty"`
	DisabledBy          string    `json:"disabledBy,omitempty"`
	DisabledReason      string    `json:"disabledReason,omitempty"`
	PendingLiftSequence int64     `json:"pendingLiftSequence,omitempty"`
}
