// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package audit implements the append-only, hash-chained audit ledger.
//
// Every entry's hash covers its predecessor's hash and the canonical encoding
// of its own fields, so rewriting any stored entry is detectable by
// VerifyIntegrity. Appends are linearized by a single writer and gated by a
// Guard (the forensic lock).
package audit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/toeirei/bandward/internal/model"
)

var (
	// ErrAuditWriteFailed means the entry could not be persisted. The
	// mutation that triggered the append must not be committed.
	ErrAuditWriteFailed = errors.New("audit write failed")
	// ErrInvalidRecord marks a record that can never be appended.
	ErrInvalidRecord = errors.New("invalid audit record")
	// ErrInvalidQuery marks a filter or range that cannot be evaluated.
	ErrInvalidQuery = errors.New("invalid audit query")
	// ErrUnknownEntry is returned for a sequence that does not exist.
	ErrUnknownEntry = errors.New("unknown audit entry")
)

// Record is the caller-supplied part of an entry. The ledger assigns the
// sequence, timestamp and hashes.
type Record struct {
	ActorID          string
	FacilityID       string
	Action           string
	ResourceType     string
	ResourceID       string
	Severity         model.Severity
	ApprovalRequired bool
	Details          string
}

func (r Record) validate() error {
	var errs []error
	if strings.TrimSpace(r.Action) == "" {
		errs = append(errs, errors.New("action is required"))
	}
	if strings.TrimSpace(r.ResourceType) == "" {
		errs = append(errs, errors.New("resource type is required"))
	}
	if !r.Severity.Valid() {
		errs = append(errs, fmt.Errorf("severity %q is not valid", r.Severity))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// Failed derives the best-effort record written when the mutation an entry
// announced did not complete.
func (r Record) Failed(cause error) Record {
	f := r
	f.Action = r.Action + ".failed"
	f.ApprovalRequired = false
	if f.Severity == model.SeverityInfo {
		f.Severity = model.SeverityWarning
	}
	f.Details = cause.Error()
	return f
}
