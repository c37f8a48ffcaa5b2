// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/toeirei/bandward/internal/db"
	"github.com/toeirei/bandward/internal/model"
)

// ViolationKind names the way an entry failed verification.
type ViolationKind string

const (
	// HashMismatch: the stored entry hash does not match the recomputed one.
	HashMismatch ViolationKind = "HashMismatch"
	// ChainBreak: the previous hash does not link to a verified predecessor.
	ChainBreak ViolationKind = "ChainBreak"
	// SequenceGap: one or more sequences are missing before this entry.
	SequenceGap ViolationKind = "SequenceGap"
)

type Violation struct {
	Sequence int64         `json:"sequence"`
	Kind     ViolationKind `json:"kind"`
	Detail   string        `json:"detail,omitempty"`
}

// VerificationResult reports tamper evidence. An empty Violations list means
// the checked range is unmodified since it was written. FirstUntrusted is the
// lowest sequence with a violation; that entry and every later one can no
// longer be trusted. It is 0 when nothing was found.
type VerificationResult struct {
	From           int64       `json:"from"`
	To             int64       `json:"to"`
	Checked        int         `json:"checked"`
	Violations     []Violation `json:"violations"`
	FirstUntrusted int64       `json:"firstUntrusted,omitempty"`
}

func (r VerificationResult) OK() bool { return len(r.Violations) == 0 }

// Range selects what VerifyIntegrity checks. Sequence bounds take precedence;
// otherwise Start/End select the entries whose timestamps fall inside the
// window. The zero Range is the whole ledger.
type Range struct {
	FromSequence int64
	ToSequence   int64
	Start        time.Time
	End          time.Time
}

const verifyPageSize = 500

// verifier checks entries fed to it in ascending order. It is shared by the
// online check and the offline export check.
type verifier struct {
	res       VerificationResult
	prev      *model.AuditEntry
	prevValid bool
	expect    int64
}

func newVerifier(from int64) *verifier {
	return &verifier{res: VerificationResult{From: from, Violations: []Violation{}}, expect: from}
}

// seed primes the verifier with the entry just before the range so the first
// entry's link can be checked.
func (v *verifier) seed(pred model.AuditEntry) {
	v.prev = &pred
	v.prevValid = ComputeHash(pred.PreviousHash, pred) == pred.EntryHash
}

func (v *verifier) report(seq int64, kind ViolationKind, detail string) {
	v.res.Violations = append(v.res.Violations, Violation{Sequence: seq, Kind: kind, Detail: detail})
	if v.res.FirstUntrusted == 0 || seq < v.res.FirstUntrusted {
		v.res.FirstUntrusted = seq
	}
}

func (v *verifier) add(e model.AuditEntry) {
	v.res.Checked++
	v.res.To = e.Sequence

	if e.Sequence != v.expect {
		v.report(e.Sequence, SequenceGap, fmt.Sprintf("expected sequence %d", v.expect))
	}

	valid := ComputeHash(e.PreviousHash, e) == e.EntryHash
	if !valid {
		v.report(e.Sequence, HashMismatch, "stored entry hash does not match contents")
	}

	switch {
	case e.Sequence == 1:
		if e.PreviousHash != GenesisHash {
			v.report(e.Sequence, ChainBreak, "first entry does not link to genesis")
		}
	case v.prev == nil:
		v.report(e.Sequence, ChainBreak, "predecessor missing")
	case e.PreviousHash != v.prev.EntryHash:
		v.report(e.Sequence, ChainBreak, fmt.Sprintf("previous hash does not match entry %d", v.prev.Sequence))
	case !v.prevValid:
		v.report(e.Sequence, ChainBreak, fmt.Sprintf("links to entry %d which failed its hash check", v.prev.Sequence))
	}

	cur := e
	v.prev = &cur
	v.prevValid = valid
	v.expect = e.Sequence + 1
}

func (v *verifier) result() VerificationResult {
	return v.res
}

// VerifyIntegrity recomputes every hash and link in the range. It only reads.
func (l *Ledger) VerifyIntegrity(ctx context.Context, rng Range) (VerificationResult, error) {
	from, to, empty, err := l.resolveRange(ctx, rng)
	if err != nil {
		return VerificationResult{}, err
	}
	if empty {
		return VerificationResult{Violations: []Violation{}}, nil
	}

	v := newVerifier(from)
	if from > 1 {
		pred, err := l.store.AuditEntry(ctx, from-1)
		switch {
		case err == nil:
			v.seed(pred)
		case errors.Is(err, db.ErrNotFound):
			// Reported as a chain break on the first entry.
		default:
			return VerificationResult{}, fmt.Errorf("load predecessor: %w", err)
		}
	}

	next := from
	for {
		page, err := l.store.AuditRange(ctx, next, to, verifyPageSize)
		if err != nil {
			return VerificationResult{}, fmt.Errorf("load entries: %w", err)
		}
		for _, e := range page {
			v.add(e)
		}
		if len(page) < verifyPageSize {
			break
		}
		next = page[len(page)-1].Sequence + 1
	}

	res := v.result()
	for _, vi := range res.Violations {
		l.metrics.Violation(string(vi.Kind))
	}
	if !res.OK() {
		l.logger.Warn("audit integrity violations found", "from", res.From, "to", res.To, "violations", len(res.Violations), "firstUntrusted", res.FirstUntrusted)
	}
	return res, nil
}

// resolveRange turns rng into sequence bounds. to == 0 means up to the tail.
func (l *Ledger) resolveRange(ctx context.Context, rng Range) (from, to int64, empty bool, err error) {
	if rng.FromSequence < 0 || rng.ToSequence < 0 {
		return 0, 0, false, fmt.Errorf("%w: negative sequence", ErrInvalidQuery)
	}
	if rng.ToSequence > 0 && rng.FromSequence > rng.ToSequence {
		return 0, 0, false, fmt.Errorf("%w: from sequence after to sequence", ErrInvalidQuery)
	}
	if rng.FromSequence > 0 || rng.ToSequence > 0 {
		from = rng.FromSequence
		if from == 0 {
			from = 1
		}
		return from, rng.ToSequence, false, nil
	}
	if rng.Start.IsZero() && rng.End.IsZero() {
		_, ok, err := l.store.AuditTail(ctx)
		if err != nil {
			return 0, 0, false, err
		}
		return 1, 0, !ok, nil
	}
	if !rng.Start.IsZero() && !rng.End.IsZero() && rng.End.Before(rng.Start) {
		return 0, 0, false, fmt.Errorf("%w: end time before start time", ErrInvalidQuery)
	}
	first, last, ok, err := l.store.AuditSequenceBounds(ctx, rng.Start, rng.End)
	if err != nil {
		return 0, 0, false, err
	}
	return first, last, !ok, nil
}
