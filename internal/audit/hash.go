// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package audit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/toeirei/bandward/internal/model"
)

// GenesisHash is the previous hash of the first entry.
var GenesisHash = strings.Repeat("0", 64)

// CanonicalEncoding serializes every hashed field of e except the hashes in a
// fixed order. Each field is a uvarint length followed by its bytes, so no
// two distinct entries share an encoding.
func CanonicalEncoding(e model.AuditEntry) []byte {
	fields := []string{
		strconv.FormatInt(e.Sequence, 10),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.ActorID,
		e.FacilityID,
		e.Action,
		e.ResourceType,
		e.ResourceID,
		string(e.Severity),
		boolField(e.ApprovalRequired),
		e.Details,
	}
	size := 0
	for _, f := range fields {
		size += binary.MaxVarintLen64 + len(f)
	}
	out := make([]byte, 0, size)
	for _, f := range fields {
		out = binary.AppendUvarint(out, uint64(len(f)))
		out = append(out, f...)
	}
	return out
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// ComputeHash returns hex(SHA-256(previousHash ‖ CanonicalEncoding(e))).
func ComputeHash(previousHash string, e model.AuditEntry) string {
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(CanonicalEncoding(e))
	return hex.EncodeToString(h.Sum(nil))
}
