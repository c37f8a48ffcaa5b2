// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"errors"

	"github.com/toeirei/bandward/internal/model"
	"github.com/uptrace/bun"
)

const forensicRowID = 1

// LoadForensicState returns the persisted lock state. A missing row is the
// initial, disabled state.
func (s *Store) LoadForensicState(ctx context.Context) (model.ForensicLockState, error) {
	var m ForensicLockModel
	err := s.bun.NewSelect().Model(&m).Where("id = ?", forensicRowID).Limit(1).Scan(ctx)
	if err != nil {
		err = MapDBError(err)
		if errors.Is(err, ErrNotFound) {
			return model.ForensicLockState{}, nil
		}
		return model.ForensicLockState{}, err
	}
	return forensicModelToModel(m), nil
}

// SaveForensicState replaces the singleton row with st.
func (s *Store) SaveForensicState(ctx context.Context, st model.ForensicLockState) error {
	m := &ForensicLockModel{
		ID:             forensicRowID,
		Enabled:        st.Enabled,
		ReadOnly:       st.ReadOnly,
		EnabledAt:      toNanos(st.EnabledAt),
		EnabledBy:      st.EnabledBy,
		EnabledReason:  st.EnabledReason,
		DisabledAt:     toNanos(st.DisabledAt),
		DisabledBy:     st.DisabledBy,
		DisabledReason: st.DisabledReason,
		PendingLiftSeq: st.PendingLiftSequence,
	}
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*ForensicLockModel)(nil)).Where("id = ?", forensicRowID).Exec(ctx); err != nil {
			return MapDBError(err)
		}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return MapDBError(err)
		}
		return nil
	})
}
