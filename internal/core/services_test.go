package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/filecoin-project/go-clock"
	"github.com/toeirei/bandward/internal/audit"
	"github.com/toeirei/bandward/internal/auth"
	"github.com/toeirei/bandward/internal/config"
	"github.com/toeirei/bandward/internal/forensic"
	"github.com/toeirei/bandward/internal/security"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func testConfig(t *testing.T, mode string) config.Config {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	return config.Config{
		Database: config.Database{Type: "sqlite", Dsn: "file:" + name + "?mode=memory&cache=shared"},
		Language: "en",
		LogLevel: "info",
		Auth: config.Auth{
			CredentialTTL:      time.Hour,
			SecretBytes:        32,
			NonceMode:          mode,
			NonceWindow:        5 * time.Minute,
			NonceFutureSkew:    30 * time.Second,
			ClockJumpTolerance: 2 * time.Second,
		},
		Audit: config.Audit{
			AppendTimeout:     time.Second,
			AppendRetries:     2,
			DefaultQueryLimit: 10,
			MaxQueryLimit:     50,
		},
		Forensic: config.Forensic{LiftRequiresApproval: true},
		Bridge:   config.Bridge{JWTSecret: strings.Repeat("s", 32), Issuer: "bandward", TokenTTL: time.Hour},
	}
}

func openTest(t *testing.T, mode string) (*Services, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(t0)
	s, err := Open(context.Background(), testConfig(t, mode), WithClock(mock))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mock
}

func TestOpen_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "sometimes")
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatalf("expected an error for an unknown nonce mode")
	}
}

func TestServices_EndToEnd(t *testing.T) {
	s, _ := openTest(t, config.NonceModeCounter)
	ctx := context.Background()

	if _, err := s.Devices.Register(ctx, "admin", "D1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, iss, err := s.Devices.Bind(ctx, "admin", "D1", "F1")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	n1, _ := security.CounterNonce(iss.Credential.NonceSeed, "D1", 1)
	if _, err := s.Auth.Authenticate(ctx, "D1", iss.Credential.Secret.Bytes(), n1); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := s.Auth.Authenticate(ctx, "D1", iss.Credential.Secret.Bytes(), n1); !errors.Is(err, auth.ErrAuthenticationFailed) {
		t.Fatalf("replay must fail, got %v", err)
	}

	if _, err := s.Lock.Enable(ctx, "admin", "incident"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if _, err := s.Devices.Register(ctx, "admin", "D2"); !errors.Is(err, forensic.ErrLockActive) {
		t.Fatalf("expected ErrLockActive, got %v", err)
	}

	res, err := s.Ledger.VerifyIntegrity(ctx, audit.Range{})
	if err != nil || !res.OK() {
		t.Fatalf("ledger must verify: %+v, %v", res, err)
	}
	if s.Bridge == nil {
		t.Fatalf("bridge must be configured")
	}
}

func TestServices_ClockJumpIsAudited(t *testing.T) {
	s, mock := openTest(t, config.NonceModeWindow)
	ctx := context.Background()
	s.Devices.Register(ctx, "admin", "D1")
	_, iss, err := s.Devices.Bind(ctx, "admin", "D1", "F1")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	secret := iss.Credential.Secret.Bytes()

	n, _ := security.TimedNonce(iss.Credential.NonceSeed, "D1", t0)
	if _, err := s.Auth.Authenticate(ctx, "D1", secret, n); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	mock.Set(t0.Add(-time.Hour))
	n, _ = security.TimedNonce(iss.Credential.NonceSeed, "D1", t0.Add(-time.Hour))
	if _, err := s.Auth.Authenticate(ctx, "D1", secret, n); !errors.Is(err, auth.ErrAuthenticationFailed) {
		t.Fatalf("admission across a clock jump must fail, got %v", err)
	}

	tail, ok, _ := s.Store.AuditTail(ctx)
	if !ok || tail.Action != ActionClockJump {
		t.Fatalf("clock jump not audited, tail = %+v", tail)
	}
}
