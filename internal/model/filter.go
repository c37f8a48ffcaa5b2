// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "time"

// AuditFilter selects ledger entries. Empty fields do not restrict the
// result; Start and End are inclusive bounds on the entry timestamp.
type AuditFilter struct {
	FacilityID   string
	Action       string
	ResourceType string
	ResourceID   string
	Severity     Severity
	Start        time.Time
	End          time.Time
	Limit        int
}
