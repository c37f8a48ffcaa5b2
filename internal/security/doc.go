// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package security holds the primitives device authentication is built on:
// a redacting container for secret material, constant-time comparison and
// the nonce encoding shared between devices and the backend.
package security
