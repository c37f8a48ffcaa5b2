package bridge

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/filecoin-project/go-clock"
)

var testKey = []byte(strings.Repeat("k", 32))

func newTestBridge(t *testing.T) (*JWTBridge, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	b, err := NewJWTBridge(testKey, "bandward", time.Hour, mock)
	if err != nil {
		t.Fatalf("NewJWTBridge: %v", err)
	}
	return b, mock
}

func TestIssueVerify(t *testing.T) {
	b, _ := newTestBridge(t)
	p := Principal{ActorID: "alice", FacilityID: "F1", Role: RoleOperator}
	tok, err := b.Issue(p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := b.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != p {
		t.Fatalf("principal = %+v, want %+v", got, p)
	}
}

func TestVerify_Rejects(t *testing.T) {
	b, mock := newTestBridge(t)
	tok, _ := b.Issue(Principal{ActorID: "alice", Role: RoleAdmin})

	other, _ := NewJWTBridge([]byte(strings.Repeat("x", 32)), "bandward", time.Hour, mock)
	if _, err := other.Verify(tok); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("foreign key: expected ErrUnauthenticated, got %v", err)
	}
	wrongIssuer, _ := NewJWTBridge(testKey, "someone-else", time.Hour, mock)
	if _, err := wrongIssuer.Verify(tok); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("issuer: expected ErrUnauthenticated, got %v", err)
	}
	if _, err := b.Verify(tok[:len(tok)-2]); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("truncated: expected ErrUnauthenticated, got %v", err)
	}
	if _, err := b.Verify(""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("empty: expected ErrUnauthenticated, got %v", err)
	}

	mock.Add(2 * time.Hour)
	if _, err := b.Verify(tok); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expired: expected ErrUnauthenticated, got %v", err)
	}
}

func TestIssue_Validation(t *testing.T) {
	b, _ := newTestBridge(t)
	if _, err := b.Issue(Principal{Role: RoleAdmin}); err == nil {
		t.Fatalf("expected error for missing actor")
	}
	if _, err := b.Issue(Principal{ActorID: "a", Role: "root"}); err == nil {
		t.Fatalf("expected error for unknown role")
	}
	if _, err := NewJWTBridge([]byte("short"), "x", time.Hour, nil); err == nil {
		t.Fatalf("expected error for short key")
	}
}

func TestFacilityScope(t *testing.T) {
	cases := []struct {
		name      string
		p         Principal
		requested string
		want      string
		forbidden bool
	}{
		{"admin any", Principal{ActorID: "a", Role: RoleAdmin}, "F2", "F2", false},
		{"admin all", Principal{ActorID: "a", Role: RoleAdmin}, "", "", false},
		{"operator own", Principal{ActorID: "o", FacilityID: "F1", Role: RoleOperator}, "F1", "F1", false},
		{"operator default", Principal{ActorID: "o", FacilityID: "F1", Role: RoleOperator}, "", "F1", false},
		{"operator other", Principal{ActorID: "o", FacilityID: "F1", Role: RoleOperator}, "F2", "", true},
		{"auditor without facility", Principal{ActorID: "x", Role: RoleAuditor}, "", "", true},
	}
	for _, c := range cases {
		got, err := FacilityScope(c.p, c.requested)
		if c.forbidden {
			if !errors.Is(err, ErrForbidden) {
				t.Fatalf("%s: expected ErrForbidden, got %v", c.name, err)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Fatalf("%s: got %q, %v", c.name, got, err)
		}
	}
}

func TestRequire(t *testing.T) {
	auditor := Principal{ActorID: "x", Role: RoleAuditor}
	if err := auditor.Require(RoleOperator); !errors.Is(err, ErrForbidden) {
		t.Fatalf("auditor must not act as operator")
	}
	admin := Principal{ActorID: "a", Role: RoleAdmin}
	if err := admin.Require(RoleOperator); err != nil {
		t.Fatalf("admin includes operator: %v", err)
	}
}
