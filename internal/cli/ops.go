// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/bandward/internal/bridge"
	"github.com/toeirei/bandward/internal/config"
	"github.com/toeirei/bandward/internal/core"
	"github.com/toeirei/bandward/internal/i18n"
	"github.com/toeirei/bandward/internal/logging"
	"github.com/toeirei/bandward/internal/security"
	"github.com/toeirei/bandward/internal/server"
	"golang.org/x/term"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (device authentication and operator endpoints)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.ValidateServing(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			srv, err := server.New(svc, server.Options{
				Listen:       a.cfg.Server.Listen,
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
				Logger:       logging.L,
			})
			if err != nil {
				return err
			}
			if svc.Lock.Enabled() {
				logging.L.Warn("starting with the forensic lock engaged", "since", svc.Lock.State().EnabledAt)
			}
			return srv.ListenAndServe(cmdContext(cmd))
		},
	}
}

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Operator bearer tokens for the HTTP API",
	}
	var facility, role string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token for the --actor principal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			if a.cfg.Bridge.JWTSecret == "" {
				return errors.New(i18n.T("token.error_no_secret"))
			}
			b, err := bridge.NewJWTBridge([]byte(a.cfg.Bridge.JWTSecret), a.cfg.Bridge.Issuer, a.cfg.Bridge.TokenTTL, nil)
			if err != nil {
				return err
			}
			tok, err := b.Issue(bridge.Principal{ActorID: actor, FacilityID: facility, Role: bridge.Role(role)})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	issue.Flags().StringVar(&facility, "facility", "", "Facility the principal is confined to (admins may leave it empty)")
	issue.Flags().StringVar(&role, "role", string(bridge.RoleOperator), "Role: auditor, operator or admin")
	cmd.AddCommand(issue)
	return cmd
}

// readSeed takes the nonce seed from the flag, or prompts for it without echo
// on a terminal, or reads one line from stdin.
func readSeed(cmd *cobra.Command, flagValue string) (security.Secret, error) {
	raw := strings.TrimSpace(flagValue)
	if raw == "" {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprint(cmd.ErrOrStderr(), i18n.T("nonce.seed_prompt"))
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return nil, err
			}
			raw = strings.TrimSpace(string(b))
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return nil, errors.New(i18n.T("nonce.error_seed"))
			}
			raw = strings.TrimSpace(line)
		}
	}
	seed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(seed) == 0 {
		return nil, errors.New(i18n.T("nonce.error_seed"))
	}
	return security.Secret(seed), nil
}

func newNonceCmd(a *app) *cobra.Command {
	var (
		uid, seedFlag, mode, at string
		counter               uint64
	)
	cmd := &cobra.Command{
		Use:   "nonce",
		Short: "Generate a device nonce, as a wristband would, for provisioning tests",
		Long: `Derives the nonce a device would present from its base64 nonce seed. In
counter mode --counter must be larger than every counter used before; in
window mode the nonce is stamped with --at or the current time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if uid == "" {
				return errors.New(i18n.T("nonce.error_uid"))
			}
			seed, err := readSeed(cmd, seedFlag)
			if err != nil {
				return err
			}
			defer seed.Zero()
			if mode == "" {
				mode = a.cfg.Auth.NonceMode
			}
			var n []byte
			switch mode {
			case config.NonceModeCounter:
				if counter == 0 {
					return errors.New(i18n.T("nonce.error_counter"))
				}
				n, err = security.CounterNonce(seed, uid, counter)
			case config.NonceModeWindow:
				ts := time.Now()
				if at != "" {
					if ts, err = time.Parse(time.RFC3339Nano, at); err != nil {
						return fmt.Errorf("--at: %w", err)
					}
				}
				n, err = security.TimedNonce(seed, uid, ts)
			default:
				return fmt.Errorf("unknown nonce mode %q", mode)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(n))
			return nil
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "Device uid")
	cmd.Flags().StringVar(&seedFlag, "seed", "", "Base64 nonce seed (prompted for when omitted)")
	cmd.Flags().StringVar(&mode, "mode", "", "counter or window (defaults to auth.nonce_mode)")
	cmd.Flags().Uint64Var(&counter, "counter", 0, "Counter value (counter mode)")
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 timestamp (window mode)")
	return cmd
}

func newDBMaintainCmd(a *app) *cobra.Command {
	var timeoutSec int
	cmd := &cobra.Command{
		Use:   "db-maintain",
		Short: "Run database maintenance (VACUUM/OPTIMIZE) for the configured DB",
		Long:  `Runs engine-specific maintenance tasks (VACUUM, OPTIMIZE TABLE, PRAGMA optimize).`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := core.DBMaintenanceOptions{Timeout: time.Duration(timeoutSec) * time.Second}
			if err := core.RunDBMaintenance(cmdContext(cmd), a.cfg, opts); err != nil {
				return errors.New(i18n.T("db.maintain_failed", err))
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, paint(out, successStyle, i18n.T("db.maintain_done")))
			return nil
		},
	}
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "Timeout in seconds for maintenance (0 means no timeout)")
	return cmd
}
