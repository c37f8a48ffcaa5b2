// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"time"

	"github.com/toeirei/bandward/internal/security"
)

// Credential is the per-device authentication material. Generation increases
// every time the credential is replaced so that state derived from an older
// credential can be recognised as stale.
type Credential struct {
	DeviceUID  string
	Secret     security.Secret
	NonceSeed  security.Secret
	Generation int64
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the credential is no longer valid at now.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// NonceState is the replay-protection state of a device in counter mode.
type NonceState struct {
	DeviceUID   string
	Generation  int64
	LastCounter uint64
}
