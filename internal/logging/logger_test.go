package logging

import (
	"bytes"
	"strings"
	"testing"

	clog "github.com/charmbracelet/log"
)

// TestLoggingHelpers_WriteToBuffer verifies the package helper functions write
// formatted messages to the package-level logger `L`. The test swaps `L` with
// a buffer-backed logger and restores it afterwards.
func TestLoggingHelpers_WriteToBuffer(t *testing.T) {
	var buf bytes.Buffer
	prev := L
	L = clog.New(&buf)
	L.SetLevel(clog.DebugLevel)
	defer func() { L = prev }()

	Debugf("hello %s", "dbg")
	Infof("info %d", 1)
	Warnf("warn")
	Errorf("err %v", "E")

	out := buf.String()
	if !strings.Contains(out, "hello dbg") {
		t.Fatalf("missing debug output; got: %s", out)
	}
	if !strings.Contains(out, "info 1") {
		t.Fatalf("missing info output; got: %s", out)
	}
	if !strings.Contains(out, "warn") {
		t.Fatalf("missing warn output; got: %s", out)
	}
	if !strings.Contains(out, "err E") {
		t.Fatalf("missing error output; got: %s", out)
	}
}

func TestSetLevel(t *testing.T) {
	prev := L.GetLevel()
	defer L.SetLevel(prev)

	if err := SetLevel("warn"); err != nil {
		t.Fatalf("SetLevel(warn) failed: %v", err)
	}
	if L.GetLevel() != clog.WarnLevel {
		t.Fatalf("expected warn level, got %v", L.GetLevel())
	}
	if err := SetLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if L.GetLevel() != clog.WarnLevel {
		t.Fatalf("unknown level must not change the current level")
	}
}

func TestOr(t *testing.T) {
	custom := clog.New(&bytes.Buffer{})
	if Or(custom) != custom {
		t.Fatalf("expected explicit logger to be returned")
	}
	if Or(nil) != L {
		t.Fatalf("expected package logger fallback")
	}
}
