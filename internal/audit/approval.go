// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/toeirei/bandward/internal/model"
)

const (
	// ActionApprove is the action of an approval entry.
	ActionApprove = "audit.approve"
	// ResourceAuditEntry is the resource type of an approval entry; its
	// resource id is the approved sequence.
	ResourceAuditEntry = "audit_entry"
)

var (
	ErrApprovalNotRequired = errors.New("entry does not require approval")
	ErrAlreadyApproved     = errors.New("entry already approved")
	ErrApproverRequired    = errors.New("approver identity required")
	ErrSelfApproval        = errors.New("requester cannot approve their own action")
	ErrFacilityMismatch    = errors.New("approver belongs to another facility")
)

// ApprovalStatus is the sub-state of an entry with respect to approval.
type ApprovalStatus string

const (
	ApprovalNotRequired ApprovalStatus = "not-required"
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalApproved    ApprovalStatus = "approved"
)

// Approver identifies who approves a pending entry.
type Approver struct {
	ActorID    string
	FacilityID string
}

// ApprovalPolicy decides whether an approval entry authorizes a pending one.
// A nil error means it does.
type ApprovalPolicy interface {
	Authorizes(pending, approval model.AuditEntry) error
}

// FourEyesPolicy requires an identified approver other than the requester
// (unless AllowSelfApproval) from the pending entry's facility. An approver
// without a facility is global and may approve any facility.
type FourEyesPolicy struct {
	AllowSelfApproval bool
}

func (p FourEyesPolicy) Authorizes(pending, approval model.AuditEntry) error {
	if approval.ActorID == "" {
		return ErrApproverRequired
	}
	if !p.AllowSelfApproval && pending.ActorID != "" && approval.ActorID == pending.ActorID {
		return ErrSelfApproval
	}
	if pending.FacilityID != "" && approval.FacilityID != "" && approval.FacilityID != pending.FacilityID {
		return ErrFacilityMismatch
	}
	return nil
}

// Approve appends an approval entry for the pending entry at sequence. The
// approval is refused when the entry needs none, is already approved, or the
// policy rejects the approver.
func (l *Ledger) Approve(ctx context.Context, approver Approver, sequence int64) (model.AuditEntry, error) {
	l.approveMu.Lock()
	defer l.approveMu.Unlock()

	pending, err := l.Entry(ctx, sequence)
	if err != nil {
		return model.AuditEntry{}, err
	}
	if !pending.ApprovalRequired {
		return model.AuditEntry{}, ErrApprovalNotRequired
	}
	status, err := l.statusOf(ctx, pending)
	if err != nil {
		return model.AuditEntry{}, err
	}
	if status == ApprovalApproved {
		return model.AuditEntry{}, ErrAlreadyApproved
	}
	candidate := model.AuditEntry{ActorID: approver.ActorID, FacilityID: approver.FacilityID}
	if err := l.policy.Authorizes(pending, candidate); err != nil {
		return model.AuditEntry{}, err
	}
	return l.Append(ctx, Record{
		ActorID:      approver.ActorID,
		FacilityID:   approver.FacilityID,
		Action:       ActionApprove,
		ResourceType: ResourceAuditEntry,
		ResourceID:   strconv.FormatInt(sequence, 10),
		Severity:     model.SeverityWarning,
		Details:      fmt.Sprintf("approves %s on %s/%s", pending.Action, pending.ResourceType, pending.ResourceID),
	})
}

// ApprovalStatus reports whether the entry at sequence needs approval and
// whether an approval satisfying the policy exists.
func (l *Ledger) ApprovalStatus(ctx context.Context, sequence int64) (ApprovalStatus, error) {
	e, err := l.Entry(ctx, sequence)
	if err != nil {
		return "", err
	}
	return l.statusOf(ctx, e)
}

func (l *Ledger) statusOf(ctx context.Context, e model.AuditEntry) (ApprovalStatus, error) {
	if !e.ApprovalRequired {
		return ApprovalNotRequired, nil
	}
	approvals, err := l.store.AuditApprovalsFor(ctx, ActionApprove, e.Sequence)
	if err != nil {
		return "", err
	}
	for _, a := range approvals {
		// Only approvals written after the entry can refer to it.
		if a.Sequence > e.Sequence && a.ResourceType == ResourceAuditEntry && l.policy.Authorizes(e, a) == nil {
			return ApprovalApproved, nil
		}
	}
	return ApprovalPending, nil
}

// Pending lists entries still waiting for approval, newest first.
func (l *Ledger) Pending(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = l.defLim
	}
	if limit > l.maxLim {
		limit = l.maxLim
	}
	candidates, err := l.store.AuditRequiringApproval(ctx, 0)
	if err != nil {
		return nil, err
	}
	out := make([]model.AuditEntry, 0, limit)
	for _, e := range candidates {
		st, err := l.statusOf(ctx, e)
		if err != nil {
			return nil, err
		}
		if st == ApprovalPending {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
