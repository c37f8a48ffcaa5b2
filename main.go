// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for Bandward.
//
// Usage:
//
//	go run . [flags]
//	./bandward serve
//
// See --help for the available commands.
package main

import (
	"os"

	"github.com/toeirei/bandward/internal/cli"
	"github.com/toeirei/bandward/internal/logging"
)

func main() {
	if err := cli.Execute(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}
