package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/toeirei/bandward/internal/model"
	"golang.org/x/sync/errgroup"
)

func TestAppend_ChainsEntries(t *testing.T) {
	l, mock := newTestLedger(t, memStore(t), Options{})
	e1 := mustAppend(t, l, rec("device.register"))
	mock.Add(time.Second)
	e2 := mustAppend(t, l, rec("device.bind"))

	if e1.Sequence != 1 || e2.Sequence != 2 {
		t.Fatalf("sequences = %d, %d", e1.Sequence, e2.Sequence)
	}
	if e1.PreviousHash != GenesisHash {
		t.Fatalf("first entry must link to genesis")
	}
	if e2.PreviousHash != e1.EntryHash {
		t.Fatalf("second entry must link to the first")
	}
	if e2.EntryHash != ComputeHash(e2.PreviousHash, e2) {
		t.Fatalf("entry hash does not cover the entry")
	}
	if !e2.Timestamp.Equal(t0.Add(time.Second)) {
		t.Fatalf("timestamp = %v", e2.Timestamp)
	}
}

func TestAppend_RejectsInvalidRecord(t *testing.T) {
	l, _ := newTestLedger(t, memStore(t), Options{})
	_, err := l.Append(context.Background(), Record{Action: "x", ResourceType: "y", Severity: "loud"})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestAppend_GuardRefusal(t *testing.T) {
	s := memStore(t)
	l, _ := newTestLedger(t, s, Options{})
	locked := errors.New("locked")
	l.SetGuard(guardFunc(func(context.Context) error { return locked }))
	if _, err := l.Append(context.Background(), rec("device.register")); !errors.Is(err, locked) {
		t.Fatalf("expected guard error, got %v", err)
	}
	if _, ok, _ := s.AuditTail(context.Background()); ok {
		t.Fatalf("refused append must not write")
	}
}

func TestAppend_ConcurrentWritersAreLinearized(t *testing.T) {
	s := memStore(t)
	l, _ := newTestLedger(t, s, Options{})
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := l.Append(context.Background(), rec(fmt.Sprintf("action.%d", i)))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Append: %v", err)
	}
	res, err := l.VerifyIntegrity(context.Background(), Range{})
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if !res.OK() || res.Checked != 20 || res.To != 20 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAppend_SecondWriterMovesTail(t *testing.T) {
	s := memStore(t)
	l1, _ := newTestLedger(t, s, Options{AppendRetries: 2})
	l2, _ := newTestLedger(t, s, Options{AppendRetries: 2})
	mustAppend(t, l1, rec("a"))
	mustAppend(t, l2, rec("b"))
	e := mustAppend(t, l1, rec("c"))
	if e.Sequence != 3 {
		t.Fatalf("stale writer must reload the tail, got sequence %d", e.Sequence)
	}
	res, _ := l1.VerifyIntegrity(context.Background(), Range{})
	if !res.OK() {
		t.Fatalf("chain broken: %+v", res.Violations)
	}
}

func TestAppend_RetriesTransientFailures(t *testing.T) {
	fs := &flakyStore{Store: memStore(t), failures: []error{errLocked, errLocked}}
	l, _ := newTestLedger(t, fs, Options{AppendRetries: 3})
	if _, err := l.Append(context.Background(), rec("a")); err != nil {
		t.Fatalf("Append after transient failures: %v", err)
	}
	if fs.inserts != 3 {
		t.Fatalf("expected 3 insert attempts, got %d", fs.inserts)
	}
}

func TestAppend_GivesUpAfterRetries(t *testing.T) {
	fs := &flakyStore{Store: memStore(t), failures: []error{errLocked, errLocked, errLocked}}
	l, _ := newTestLedger(t, fs, Options{AppendRetries: 1})
	_, err := l.Append(context.Background(), rec("a"))
	if !errors.Is(err, ErrAuditWriteFailed) {
		t.Fatalf("expected ErrAuditWriteFailed, got %v", err)
	}
	if fs.inserts != 2 {
		t.Fatalf("expected 2 insert attempts, got %d", fs.inserts)
	}
}

func TestAppend_PermanentFailureIsNotRetried(t *testing.T) {
	fs := &flakyStore{Store: memStore(t), failures: []error{errors.New("no such table: audit_entries")}}
	l, _ := newTestLedger(t, fs, Options{AppendRetries: 5})
	if _, err := l.Append(context.Background(), rec("a")); !errors.Is(err, ErrAuditWriteFailed) {
		t.Fatalf("expected ErrAuditWriteFailed, got %v", err)
	}
	if fs.inserts != 1 {
		t.Fatalf("permanent failures must not be retried, got %d attempts", fs.inserts)
	}
	// The ledger recovers once storage works again.
	if e := mustAppend(t, l, rec("b")); e.Sequence != 1 {
		t.Fatalf("sequence after recovery = %d", e.Sequence)
	}
}

func TestAppend_TimeoutIsWriteFailure(t *testing.T) {
	l, _ := newTestLedger(t, blockingStore{Store: memStore(t)}, Options{AppendTimeout: 20 * time.Millisecond, AppendRetries: 1})
	start := time.Now()
	if _, err := l.Append(context.Background(), rec("a")); !errors.Is(err, ErrAuditWriteFailed) {
		t.Fatalf("expected ErrAuditWriteFailed, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("append did not respect its timeout")
	}
}

func TestAppendFailure_RecordsFailedAction(t *testing.T) {
	s := memStore(t)
	l, _ := newTestLedger(t, s, Options{})
	r := rec("credential.issue")
	l.AppendFailure(context.Background(), r, errors.New("disk full"))
	tail, ok, _ := s.AuditTail(context.Background())
	if !ok || tail.Action != "credential.issue.failed" || tail.Details != "disk full" || tail.Severity != model.SeverityWarning {
		t.Fatalf("unexpected failure entry: %+v", tail)
	}
}

func TestQuery_LimitsAndValidation(t *testing.T) {
	l, _ := newTestLedger(t, memStore(t), Options{DefaultLimit: 2, MaxLimit: 3})
	for i := 0; i < 5; i++ {
		mustAppend(t, l, rec("a"))
	}
	ctx := context.Background()
	got, err := l.Query(ctx, model.AuditFilter{})
	if err != nil || len(got) != 2 || got[0].Sequence != 5 {
		t.Fatalf("default limit: %d entries, %v", len(got), err)
	}
	got, _ = l.Query(ctx, model.AuditFilter{Limit: 50})
	if len(got) != 3 {
		t.Fatalf("limit must be clamped to 3, got %d", len(got))
	}
	if _, err := l.Query(ctx, model.AuditFilter{Start: t0, End: t0.Add(-time.Hour)}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
	if _, err := l.Query(ctx, model.AuditFilter{Severity: "loud"}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery for severity, got %v", err)
	}
}

func TestEntry_Unknown(t *testing.T) {
	l, _ := newTestLedger(t, memStore(t), Options{})
	if _, err := l.Entry(context.Background(), 7); !errors.Is(err, ErrUnknownEntry) {
		t.Fatalf("expected ErrUnknownEntry, got %v", err)
	}
}
