// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"time"

	"github.com/toeirei/bandward/internal/model"
	"github.com/uptrace/bun"
)

// CreateDevice inserts a new device. A second device with the same uid or id
// yields ErrDuplicate.
func (s *Store) CreateDevice(ctx context.Context, d model.Device) error {
	m := &DeviceModel{
		UID:          d.UID,
		ID:           d.ID,
		Status:       string(d.Status),
		RegisteredAt: toNanos(d.RegisteredAt),
		UpdatedAt:    toNanos(d.UpdatedAt),
	}
	if _, err := s.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return MapDBError(err)
	}
	return nil
}

// GetDevice returns the device with the given uid or ErrNotFound.
func (s *Store) GetDevice(ctx context.Context, uid string) (model.Device, error) {
	var m DeviceModel
	if err := s.bun.NewSelect().Model(&m).Where("uid = ?", uid).Limit(1).Scan(ctx); err != nil {
		return model.Device{}, MapDBError(err)
	}
	return deviceModelToModel(m), nil
}

// ListDevices returns every device ordered by uid.
func (s *Store) ListDevices(ctx context.Context) ([]model.Device, error) {
	var ms []DeviceModel
	if err := s.bun.NewSelect().Model(&ms).Order("uid ASC").Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	out := make([]model.Device, 0, len(ms))
	for _, m := range ms {
		out = append(out, deviceModelToModel(m))
	}
	return out, nil
}

// UpdateDeviceStatus sets the status of a device.
func (s *Store) UpdateDeviceStatus(ctx context.Context, uid string, status model.DeviceStatus, at time.Time) error {
	res, err := s.bun.NewUpdate().Model((*DeviceModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", toNanos(at)).
		Where("uid = ?", uid).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	if n, _ := affected(res); n == 0 {
		return ErrNotFound
	}
	return nil
}

// BoundBinding returns the device's current bound binding or ErrNotFound.
func (s *Store) BoundBinding(ctx context.Context, uid string) (model.Binding, error) {
	var m BindingModel
	err := s.bun.NewSelect().Model(&m).
		Where("device_uid = ?", uid).
		Where("status = ?", string(model.BindingBound)).
		Order("id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return model.Binding{}, MapDBError(err)
	}
	return bindingModelToModel(m), nil
}

// ListBindings returns the binding history of a device, newest first.
func (s *Store) ListBindings(ctx context.Context, uid string) ([]model.Binding, error) {
	var ms []BindingModel
	if err := s.bun.NewSelect().Model(&ms).Where("device_uid = ?", uid).Order("id DESC").Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	out := make([]model.Binding, 0, len(ms))
	for _, m := range ms {
		out = append(out, bindingModelToModel(m))
	}
	return out, nil
}

// BindDevice ends any bound binding of the device as removed, creates a new
// bound binding to facilityID and activates an inventory device, all in one
// transaction. The device row is locked first so concurrent binds of the same
// device run one after the other; the unique index on bound bindings backs
// this up. At most one bound binding exists afterwards.
func (s *Store) BindDevice(ctx context.Context, uid, facilityID string, at time.Time) (model.Binding, error) {
	var out model.Binding
	err := s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.lockDevice(ctx, tx, uid); err != nil {
			return err
		}
		if err := endBinding(ctx, tx, uid, model.BindingRemoved, at); err != nil {
			return err
		}
		m := &BindingModel{
			DeviceUID:  uid,
			FacilityID: facilityID,
			Status:     string(model.BindingBound),
			BoundAt:    toNanos(at),
		}
		if _, err := tx.NewInsert().Model(m).Returning("id").Exec(ctx); err != nil {
			return MapDBError(err)
		}
		if _, err := tx.NewUpdate().Model((*DeviceModel)(nil)).
			Set("status = ?", string(model.DeviceActive)).
			Set("updated_at = ?", toNanos(at)).
			Where("uid = ?", uid).
			Where("status = ?", string(model.DeviceInventory)).
			Exec(ctx); err != nil {
			return MapDBError(err)
		}
		out = bindingModelToModel(*m)
		return nil
	})
	return out, err
}

// EndBinding moves the device's bound binding to status (removed or revoked).
// It returns ErrNotFound when the device has no bound binding.
func (s *Store) EndBinding(ctx context.Context, uid string, status model.BindingStatus, at time.Time) error {
	res, err := s.bun.NewUpdate().Model((*BindingModel)(nil)).
		Set("status = ?", string(status)).
		Set("ended_at = ?", toNanos(at)).
		Where("device_uid = ?", uid).
		Where("status = ?", string(model.BindingBound)).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	if n, _ := affected(res); n == 0 {
		return ErrNotFound
	}
	return nil
}

func endBinding(ctx context.Context, tx bun.Tx, uid string, status model.BindingStatus, at time.Time) error {
	_, err := tx.NewUpdate().Model((*BindingModel)(nil)).
		Set("status = ?", string(status)).
		Set("ended_at = ?", toNanos(at)).
		Where("device_uid = ?", uid).
		Where("status = ?", string(model.BindingBound)).
		Exec(ctx)
	return MapDBError(err)
}

// TouchBinding records a successful authentication on the bound binding.
func (s *Store) TouchBinding(ctx context.Context, uid string, at time.Time) error {
	_, err := s.bun.NewUpdate().Model((*BindingModel)(nil)).
		Set("last_seen_at = ?", toNanos(at)).
		Where("device_uid = ?", uid).
		Where("status = ?", string(model.BindingBound)).
		Exec(ctx)
	return MapDBError(err)
}

// lockDevice takes a row lock on the device for the rest of tx. SQLite
// transactions already serialize writers, so there it only checks existence.
func (s *Store) lockDevice(ctx context.Context, tx bun.Tx, uid string) error {
	q := tx.NewSelect().Model((*DeviceModel)(nil)).Column("uid").Where("uid = ?", uid).Limit(1)
	if s.dbType != "sqlite" {
		q = q.For("UPDATE")
	}
	var locked string
	if err := q.Scan(ctx, &locked); err != nil {
		return MapDBError(err)
	}
	return nil
}
