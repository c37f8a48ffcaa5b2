// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package logging owns the process logger. Components take a *log.Logger so
// tests can capture output; when none is given they fall back to L.
package logging

import (
	"fmt"
	"os"
	"strings"

	clog "github.com/charmbracelet/log"
)

// L is the package-level logger. Callers should use the helper functions
// below for compatibility with existing calls.
var L = clog.NewWithOptions(os.Stderr, clog.Options{ReportTimestamp: true})

// Or returns l when set and the package logger otherwise.
func Or(l *clog.Logger) *clog.Logger {
	if l != nil {
		return l
	}
	return L
}

// SetLevel parses a level name ("debug", "info", "warn", "error") and applies
// it to L. Unknown names are rejected and leave the level untouched.
func SetLevel(name string) error {
	lvl, err := clog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return fmt.Errorf("unknown log level %q", name)
	}
	L.SetLevel(lvl)
	return nil
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...interface{}) {
	L.Debug(fmt.Sprintf(format, v...))
}

// Infof logs an info-level formatted message.
func Infof(format string, v ...interface{}) {
	L.Info(fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level formatted message.
func Warnf(format string, v ...interface{}) {
	L.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs an error-level formatted message.
func Errorf(format string, v ...interface{}) {
	L.Error(fmt.Sprintf(format, v...))
}
