// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"fmt"
	"time"
)

// DeviceStatus is the lifecycle state of a SecureBand.
type DeviceStatus string

const (
	DeviceInventory   DeviceStatus = "inventory"
	DeviceActive      DeviceStatus = "active"
	DeviceMaintenance DeviceStatus = "maintenance"
	DeviceRetired     DeviceStatus = "retired"
	DeviceRevoked     DeviceStatus = "revoked"
)

// Valid reports whether s is one of the known device states.
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceInventory, DeviceActive, DeviceMaintenance, DeviceRetired, DeviceRevoked:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed out of s.
func (s DeviceStatus) Terminal() bool {
	return s == DeviceRetired || s == DeviceRevoked
}

// Device is the identity record of a wearable, keyed by its stable serial.
type Device struct {
	ID           string
	UID          string
	Status       DeviceStatus
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// String returns the serial followed by the lifecycle state.
func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.UID, d.Status)
}

// BindingStatus is the state of a device-to-facility relationship.
type BindingStatus string

const (
	BindingBound   BindingStatus = "bound"
	BindingRemoved BindingStatus = "removed"
	BindingRevoked BindingStatus = "revoked"
)

// Binding ties a device to a facility for a period of time. At most one
// binding per device is in the bound state.
type Binding struct {
	ID         int64
	DeviceUID  string
	FacilityID string
	Status     BindingStatus
	BoundAt    time.Time
	LastSeenAt time.Time
	EndedAt    time.Time
}
