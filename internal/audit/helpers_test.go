package audit

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/filecoin-project/go-clock"
	"github.com/toeirei/bandward/internal/db"
	"github.com/toeirei/bandward/internal/model"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func memStore(t *testing.T) *db.Store {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	s, err := db.New("sqlite", "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fileStore returns a store backed by a file so tests can tamper with rows
// through a second connection.
func fileStore(t *testing.T) (*db.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := db.New("sqlite", path)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func newTestLedger(t *testing.T, s Store, opts Options) (*Ledger, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(t0)
	if opts.Clock == nil {
		opts.Clock = mock
	}
	if opts.AppendTimeout == 0 {
		opts.AppendTimeout = 2 * time.Second
	}
	return NewLedger(s, opts), mock
}

func rec(action string) Record {
	return Record{
		ActorID:      "alice",
		FacilityID:   "F1",
		Action:       action,
		ResourceType: "device",
		ResourceID:   "D1",
		Severity:     model.SeverityInfo,
	}
}

func mustAppend(t *testing.T, l *Ledger, r Record) model.AuditEntry {
	t.Helper()
	e, err := l.Append(context.Background(), r)
	if err != nil {
		t.Fatalf("Append(%s): %v", r.Action, err)
	}
	return e
}

type guardFunc func(context.Context) error

func (g guardFunc) GuardMutation(ctx context.Context) error { return g(ctx) }

// flakyStore fails InsertAuditEntry with the queued errors before delegating.
type flakyStore struct {
	Store
	mu       sync.Mutex
	failures []error
	inserts  int
}

func (f *flakyStore) InsertAuditEntry(ctx context.Context, e model.AuditEntry, genesis string) error {
	f.mu.Lock()
	f.inserts++
	var err error
	if len(f.failures) > 0 {
		err, f.failures = f.failures[0], f.failures[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.InsertAuditEntry(ctx, e, genesis)
}

// blockingStore never finishes an insert before the context expires.
type blockingStore struct{ Store }

func (blockingStore) InsertAuditEntry(ctx context.Context, _ model.AuditEntry, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

var errLocked = errors.New("database is locked (5) (SQLITE_BUSY)")
