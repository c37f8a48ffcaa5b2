// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cli is the command-line interface of Bandward, built with Cobra.
// It defines the root command, the operator subcommands and the entry point
// used by main.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/bandward/buildvars"
	"github.com/toeirei/bandward/internal/config"
	"github.com/toeirei/bandward/internal/core"
	"github.com/toeirei/bandward/internal/db"
	"github.com/toeirei/bandward/internal/i18n"
	"github.com/toeirei/bandward/internal/logging"
)

var version = "dev"   // this will be set by the linker
var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)

// app carries the state shared by the commands of one root command, so that
// NewRootCmd can be called repeatedly in tests.
type app struct {
	cfg     config.Config
	cfgFile string
	verbose bool
	actor   string
}

func (a *app) setupDefaultServices(cmd *cobra.Command, _ []string) error {
	path, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}
	a.cfg, err = config.LoadConfig[config.Config](cmd, config.Defaults(), path)
	if errors.As(err, &viper.ConfigFileNotFoundError{}) {
		// First run: persist the defaults so the operator has a file to edit.
		if writeErr := config.WriteConfigFile(&a.cfg, false); writeErr != nil {
			logging.Warnf("could not write default config file: %v", writeErr)
		}
	} else if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if err := logging.SetLevel(a.cfg.LogLevel); err != nil {
		logging.Warnf("%v, keeping the current level", err)
	}
	if a.verbose {
		_ = logging.SetLevel("debug")
		db.SetDebug(true)
	}
	i18n.Init(a.cfg.Language)
	return nil
}

// open builds the services for one command. Callers close them.
func (a *app) open(cmd *cobra.Command) (*core.Services, error) {
	svc, err := core.Open(cmdContext(cmd), a.cfg, core.WithLogger(logging.L))
	if err != nil {
		return nil, errors.New(i18n.T("cli.error_open", err))
	}
	return svc, nil
}

func (a *app) requireActor() (string, error) {
	actor := strings.TrimSpace(a.actor)
	if actor == "" {
		return "", errors.New(i18n.T("cli.error_actor"))
	}
	return actor, nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// Execute runs the CLI. main handles the process exit.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd creates a fresh root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "bandward",
		Short: "Bandward is the device trust and audit core of SecureBand.",
		Long: `Bandward authenticates SecureBand wristbands, keeps the device registry
and writes every administrative action to a tamper-evident audit ledger.
A forensic lock freezes all state changes during an investigation.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setupDefaultServices,
	}
	cmd.Version = compositeVersion()

	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging (including SQL)")
	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file")
	cmd.PersistentFlags().String("language", "en", `CLI language ("en", "de")`)
	cmd.PersistentFlags().String("database.type", "sqlite", "Database type (sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("database.dsn", "./bandward.db", "Database connection string (DSN)")
	cmd.PersistentFlags().StringVar(&a.actor, "actor", os.Getenv("USER"), "Operator identity recorded in the audit ledger")

	cmd.AddCommand(
		newServeCmd(a),
		newDeviceCmd(a),
		newAuditCmd(a),
		newForensicCmd(a),
		newTokenCmd(a),
		newNonceCmd(a),
		newDBMaintainCmd(a),
		newVersionCmd(),
	)
	return cmd
}

func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	out := v
	if c != "" && c != "dev" {
		out += " (" + c + ")"
	}
	if d != "" {
		out += " built: " + d
	}
	return out
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If info is nil, it reads build info from the
// runtime.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	versionOut, commitOut, dateOut = buildvars.VersionOrDefault(version), gitCommit, buildDate
	if info == nil {
		found, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		info = found
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" && versionOut == "dev" {
		versionOut = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if s.Value != "" && commitOut == "dev" {
				commitOut = s.Value
				if len(commitOut) > 12 {
					commitOut = commitOut[:12]
				}
			}
		case "vcs.time":
			if s.Value != "" && dateOut == "" {
				dateOut = s.Value
			}
		}
	}
	return
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		// The version command must work without a readable config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			v, c, d := resolveBuildVersion(nil)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\n", v)
			fmt.Fprintf(out, "commit: %s\n", c)
			if d != "" {
				fmt.Fprintf(out, "built: %s\n", d)
			}
		},
	}
}
