// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/toeirei/bandward/internal/model"
)

// Export writes every entry, oldest first, as zstd-compressed JSON lines and
// returns how many entries were written. Entries keep their stored hashes so
// the export can be verified offline with VerifyExport.
func (l *Ledger) Export(ctx context.Context, w io.Writer) (int, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	n := 0
	next := int64(1)
	for {
		page, err := l.store.AuditRange(ctx, next, 0, verifyPageSize)
		if err != nil {
			_ = zw.Close()
			return n, fmt.Errorf("load entries: %w", err)
		}
		for _, e := range page {
			if err := enc.Encode(e); err != nil {
				_ = zw.Close()
				return n, fmt.Errorf("encode entry %d: %w", e.Sequence, err)
			}
			n++
		}
		if len(page) < verifyPageSize {
			break
		}
		next = page[len(page)-1].Sequence + 1
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("finish zstd stream: %w", err)
	}
	return n, nil
}

// VerifyExport runs the integrity check over an export produced by Export.
// The export must start at sequence 1.
func VerifyExport(r io.Reader) (VerificationResult, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	v := newVerifier(1)
	dec := json.NewDecoder(zr)
	for {
		var e model.AuditEntry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return VerificationResult{}, fmt.Errorf("decode entry after %d: %w", v.res.To, err)
		}
		v.add(e)
	}
	return v.result(), nil
}
