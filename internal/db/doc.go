// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package db contains the Bun-backed data access layer for Bandward.
//
// A single Store type serves SQLite, PostgreSQL and MySQL. The dialect is
// chosen from the configured database type and the schema is applied from
// embedded, per-dialect migrations when the store is opened.
//
// Store methods never decide policy. Conditional writes (counter advance,
// nonce recording, audit append) report a lost race through sentinel errors
// such as ErrStale and ErrTailMoved so that callers can fail closed or retry.
//
// Testing notes
//   - Prefer db.New("sqlite", "file:<name>?mode=memory&cache=shared") in tests
//     that need real DB semantics. A unique name per test keeps databases
//     isolated while letting every connection of the pool see the same data.
package db
