package cli

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"strings"
	"testing"
	"time"

	"github.com/toeirei/bandward/internal/audit"
	"github.com/toeirei/bandward/internal/bridge"
	"github.com/toeirei/bandward/internal/forensic"
	"github.com/toeirei/bandward/internal/model"
	"github.com/toeirei/bandward/internal/security"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	path := filepath.Join(dir, "bandward.yaml")
	body := "database:\n  type: sqlite\n  dsn: " + filepath.Join(dir, "bandward.db") + "\n" +
		"language: en\nlog_level: error\n" + extra
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--config", cfg}, args...))
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func mustRun(t *testing.T, cfg string, args ...string) string {
	t.Helper()
	out, err := run(t, cfg, args...)
	if err != nil {
		t.Fatalf("bandward %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

var seedLine = regexp.MustCompile(`nonce-seed: (\S+)`)

func TestVersionCommand(t *testing.T) {
	out := mustRun(t, writeConfig(t, ""), "version")
	if !strings.Contains(out, "version: ") || !strings.Contains(out, "commit: ") {
		t.Fatalf("unexpected version output: %q", out)
	}
}

func TestResolveBuildVersion(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Version: "v1.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-05-01T10:00:00Z"},
		},
	}
	v, c, d := resolveBuildVersion(info)
	if v != "v1.4.0" || c != "0123456789ab" || d != "2026-05-01T10:00:00Z" {
		t.Fatalf("got %q %q %q", v, c, d)
	}
}

func TestDeviceCommands(t *testing.T) {
	cfg := writeConfig(t, "")

	if out := mustRun(t, cfg, "--actor", "alice", "device", "register", "D1"); !strings.Contains(out, "Registered device D1") {
		t.Fatalf("register output: %q", out)
	}
	out := mustRun(t, cfg, "--actor", "alice", "device", "bind", "D1", "F1")
	m := seedLine.FindStringSubmatch(out)
	if m == nil || !strings.Contains(out, "secret:") {
		t.Fatalf("bind must print the credential once: %q", out)
	}

	nonceOut := mustRun(t, cfg, "nonce", "--uid", "D1", "--seed", m[1], "--mode", "counter", "--counter", "7")
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(nonceOut))
	if err != nil {
		t.Fatalf("nonce output is not base64: %q", nonceOut)
	}
	seed, _ := base64.StdEncoding.DecodeString(m[1])
	if n, err := security.OpenCounterNonce(security.FromBytes(seed), "D1", raw); err != nil || n != 7 {
		t.Fatalf("nonce does not open with the issued seed: %d, %v", n, err)
	}

	out = mustRun(t, cfg, "device", "list")
	if !strings.Contains(out, "D1") || !strings.Contains(out, "active") || !strings.Contains(out, "F1") {
		t.Fatalf("list output: %q", out)
	}

	if out := mustRun(t, cfg, "--actor", "alice", "device", "rotate", "D1"); !strings.Contains(out, "generation: 2") {
		t.Fatalf("rotate output: %q", out)
	}
	mustRun(t, cfg, "--actor", "alice", "device", "status", "D1", "maintenance", "--reason", "strap")
	if _, err := run(t, cfg, "--actor", "alice", "device", "status", "D1", "lost"); err == nil {
		t.Fatalf("unknown status must fail")
	}
	mustRun(t, cfg, "--actor", "alice", "device", "revoke", "D1", "--reason", "suspected clone")
	if _, err := run(t, cfg, "--actor", "alice", "device", "revoke", "D1"); err == nil {
		t.Fatalf("revoking twice must fail")
	}

	if _, err := run(t, cfg, "--actor", "", "device", "register", "D2"); err == nil {
		t.Fatalf("an empty actor must be refused")
	}

	out = mustRun(t, cfg, "audit", "list", "--resource-id", "D1", "--json")
	var entries []model.AuditEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("audit list --json: %v\n%s", err, out)
	}
	if len(entries) < 5 || entries[0].Action != "credential.revoke" {
		t.Fatalf("unexpected audit trail: %+v", entries)
	}
}

func TestForensicCommands(t *testing.T) {
	cfg := writeConfig(t, "forensic:\n  lift_requires_approval: true\n")

	if _, err := run(t, cfg, "--actor", "alice", "forensic", "enable"); !errors.Is(err, forensic.ErrReasonRequired) {
		t.Fatalf("enable without reason: %v", err)
	}
	out := mustRun(t, cfg, "--actor", "alice", "forensic", "enable", "--reason", "incident 7")
	if !strings.Contains(out, "FORENSIC LOCK ENGAGED") {
		t.Fatalf("enable output: %q", out)
	}
	if _, err := run(t, cfg, "--actor", "alice", "device", "register", "D1"); !errors.Is(err, forensic.ErrLockActive) {
		t.Fatalf("mutation while locked: %v", err)
	}
	if out := mustRun(t, cfg, "forensic", "status"); !strings.Contains(out, "incident 7") {
		t.Fatalf("status output: %q", out)
	}

	out = mustRun(t, cfg, "--actor", "alice", "forensic", "disable", "--reason", "closed")
	if !strings.Contains(out, "Lift requested as entry 2") {
		t.Fatalf("disable output: %q", out)
	}
	if _, err := run(t, cfg, "--actor", "alice", "forensic", "approve", "2"); !errors.Is(err, audit.ErrSelfApproval) {
		t.Fatalf("self approval: %v", err)
	}
	out = mustRun(t, cfg, "--actor", "bob", "forensic", "approve", "2")
	if !strings.Contains(out, "not engaged") {
		t.Fatalf("approve output: %q", out)
	}
	mustRun(t, cfg, "--actor", "alice", "device", "register", "D1")
}

func TestAuditVerifyAndExport(t *testing.T) {
	cfg := writeConfig(t, "")
	mustRun(t, cfg, "--actor", "alice", "device", "register", "D1")
	mustRun(t, cfg, "--actor", "alice", "device", "bind", "D1", "F1")

	if out := mustRun(t, cfg, "audit", "verify"); !strings.Contains(out, "Ledger intact") {
		t.Fatalf("verify output: %q", out)
	}
	file := filepath.Join(t.TempDir(), "ledger.jsonl")
	if out := mustRun(t, cfg, "audit", "export", file); !strings.Contains(out, "Exported") {
		t.Fatalf("export output: %q", out)
	}
	if out := mustRun(t, cfg, "audit", "verify", "--file", file+".zst"); !strings.Contains(out, "Ledger intact") {
		t.Fatalf("offline verify output: %q", out)
	}
	if out := mustRun(t, cfg, "audit", "pending"); !strings.Contains(out, "No matching ledger entries") {
		t.Fatalf("pending output: %q", out)
	}
}

func TestTokenIssue(t *testing.T) {
	if _, err := run(t, writeConfig(t, ""), "--actor", "alice", "token", "issue"); err == nil {
		t.Fatalf("token issue without a secret must fail")
	}
	secret := strings.Repeat("z", 40)
	cfg := writeConfig(t, "bridge:\n  jwt_secret: "+secret+"\n")
	out := mustRun(t, cfg, "--actor", "alice", "token", "issue", "--facility", "F1", "--role", "auditor")
	b, err := bridge.NewJWTBridge([]byte(secret), "bandward", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewJWTBridge: %v", err)
	}
	p, err := b.Verify(strings.TrimSpace(out))
	if err != nil || p.ActorID != "alice" || p.FacilityID != "F1" || p.Role != bridge.RoleAuditor {
		t.Fatalf("issued token does not verify: %+v, %v", p, err)
	}
}

func TestServeRequiresBridgeSecret(t *testing.T) {
	if _, err := run(t, writeConfig(t, ""), "serve"); err == nil {
		t.Fatalf("serve without jwt secret must fail")
	}
}
