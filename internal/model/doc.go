// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model defines the core data models used across Bandward. These are
// simple structs that represent database entities and are intentionally
// minimal to keep serialization and DB adapters straightforward.
package model
