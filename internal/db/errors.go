// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
)

var (
	// ErrDuplicate is returned when attempting to insert a record that already exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStale is returned by conditional writes whose precondition no longer
	// holds, e.g. a credential generation that was replaced concurrently.
	ErrStale = errors.New("stale record")
	// ErrTailMoved is returned when an audit entry was built against a tail
	// that is no longer the newest entry.
	ErrTailMoved = errors.New("audit tail moved")
)

// MapDBError inspects low-level driver errors and maps common constraint
// violations to package-level sentinel errors (like ErrDuplicate). This is a
// conservative, string-based mapping to avoid importing SQL driver packages
// into this package file.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	le := strings.ToLower(err.Error())
	// MySQL duplicate entry, Postgres unique violation (23505), SQLite unique constraint
	if strings.Contains(le, "duplicate") || strings.Contains(le, "unique") || strings.Contains(le, "23505") || strings.Contains(le, "1062") {
		return ErrDuplicate
	}
	return err
}

// IsTransient reports whether err looks like a condition that may clear up on
// retry: lock contention, a dropped connection or an expired attempt deadline.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTailMoved) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	le := strings.ToLower(err.Error())
	for _, s := range []string{"database is locked", "sqlite_busy", "deadlock", "connection reset", "broken pipe", "timeout"} {
		if strings.Contains(le, s) {
			return true
		}
	}
	return false
}
