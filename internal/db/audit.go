// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/toeirei/bandward/internal/model"
	"github.com/uptrace/bun"
)

// AuditTail returns the entry with the highest sequence. ok is false for an
// empty ledger.
func (s *Store) AuditTail(ctx context.Context) (model.AuditEntry, bool, error) {
	return auditTail(ctx, s.bun)
}

func auditTail(ctx context.Context, idb bun.IDB) (model.AuditEntry, bool, error) {
	var m AuditEntryModel
	err := idb.NewSelect().Model(&m).Order("sequence DESC").Limit(1).Scan(ctx)
	if err != nil {
		err = MapDBError(err)
		if errors.Is(err, ErrNotFound) {
			return model.AuditEntry{}, false, nil
		}
		return model.AuditEntry{}, false, err
	}
	return auditEntryModelToModel(m), true, nil
}

// InsertAuditEntry persists e only if it extends the current tail: its
// sequence must be tail+1 and its previous hash the tail's entry hash (or
// the genesis hash on an empty ledger). Otherwise ErrTailMoved is returned
// and nothing is written.
func (s *Store) InsertAuditEntry(ctx context.Context, e model.AuditEntry, genesis string) error {
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		tail, ok, err := auditTail(ctx, tx)
		if err != nil {
			return err
		}
		wantSeq, wantPrev := int64(1), genesis
		if ok {
			wantSeq, wantPrev = tail.Sequence+1, tail.EntryHash
		}
		if e.Sequence != wantSeq || e.PreviousHash != wantPrev {
			return ErrTailMoved
		}
		m := auditEntryModelFromModel(e)
		if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
			err = MapDBError(err)
			// A concurrent writer took the sequence between our read and insert.
			if errors.Is(err, ErrDuplicate) {
				return ErrTailMoved
			}
			return err
		}
		return nil
	})
}

// AuditEntry returns the entry with the given sequence or ErrNotFound.
func (s *Store) AuditEntry(ctx context.Context, sequence int64) (model.AuditEntry, error) {
	var m AuditEntryModel
	if err := s.bun.NewSelect().Model(&m).Where("sequence = ?", sequence).Limit(1).Scan(ctx); err != nil {
		return model.AuditEntry{}, MapDBError(err)
	}
	return auditEntryModelToModel(m), nil
}

// AuditRange returns entries with from <= sequence <= to in ascending order.
// to <= 0 means no upper bound; limit <= 0 means no limit.
func (s *Store) AuditRange(ctx context.Context, from, to int64, limit int) ([]model.AuditEntry, error) {
	var ms []AuditEntryModel
	q := s.bun.NewSelect().Model(&ms).Where("sequence >= ?", from).Order("sequence ASC")
	if to > 0 {
		q = q.Where("sequence <= ?", to)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	return auditModelsToModels(ms), nil
}

// AuditSequenceBounds returns the lowest and highest sequence whose timestamp
// lies within [start, end]. Zero bounds are open. ok is false when no entry
// falls in the window.
func (s *Store) AuditSequenceBounds(ctx context.Context, start, end time.Time) (first, last int64, ok bool, err error) {
	var lo, hi sql.NullInt64
	q := s.bun.NewSelect().Model((*AuditEntryModel)(nil)).
		ColumnExpr("MIN(sequence) AS first_seq").
		ColumnExpr("MAX(sequence) AS last_seq")
	if !start.IsZero() {
		q = q.Where("timestamp_ns >= ?", toNanos(start))
	}
	if !end.IsZero() {
		q = q.Where("timestamp_ns <= ?", toNanos(end))
	}
	if err := q.Scan(ctx, &lo, &hi); err != nil {
		return 0, 0, false, MapDBError(err)
	}
	if !lo.Valid || !hi.Valid {
		return 0, 0, false, nil
	}
	return lo.Int64, hi.Int64, true, nil
}

// QueryAudit returns entries matching f, newest first. f.Limit must already
// be clamped by the caller; a non-positive limit returns nothing.
func (s *Store) QueryAudit(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
	if f.Limit <= 0 {
		return nil, nil
	}
	var ms []AuditEntryModel
	q := s.bun.NewSelect().Model(&ms)
	if f.FacilityID != "" {
		q = q.Where("facility_id = ?", f.FacilityID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.ResourceType != "" {
		q = q.Where("resource_type = ?", f.ResourceType)
	}
	if f.ResourceID != "" {
		q = q.Where("resource_id = ?", f.ResourceID)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", string(f.Severity))
	}
	if !f.Start.IsZero() {
		q = q.Where("timestamp_ns >= ?", toNanos(f.Start))
	}
	if !f.End.IsZero() {
		q = q.Where("timestamp_ns <= ?", toNanos(f.End))
	}
	if err := q.Order("sequence DESC").Limit(f.Limit).Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	return auditModelsToModels(ms), nil
}

// AuditApprovalsFor returns the approval entries that reference sequence,
// oldest first.
func (s *Store) AuditApprovalsFor(ctx context.Context, approveAction string, sequence int64) ([]model.AuditEntry, error) {
	var ms []AuditEntryModel
	err := s.bun.NewSelect().Model(&ms).
		Where("action = ?", approveAction).
		Where("resource_id = ?", strconv.FormatInt(sequence, 10)).
		Order("sequence ASC").
		Scan(ctx)
	if err != nil {
		return nil, MapDBError(err)
	}
	return auditModelsToModels(ms), nil
}

// AuditRequiringApproval returns entries flagged approval_required, newest
// first, up to limit.
func (s *Store) AuditRequiringApproval(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	var ms []AuditEntryModel
	q := s.bun.NewSelect().Model(&ms).Where("approval_required = ?", true).Order("sequence DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	return auditModelsToModels(ms), nil
}

func auditModelsToModels(ms []AuditEntryModel) []model.AuditEntry {
	out := make([]model.AuditEntry, 0, len(ms))
	for _, m := range ms {
		out = append(out, auditEntryModelToModel(m))
	}
	return out
}
