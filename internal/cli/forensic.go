// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/bandward/internal/audit"
	"github.com/toeirei/bandward/internal/i18n"
	"github.com/toeirei/bandward/internal/model"
)

func printLockState(out io.Writer, st model.ForensicLockState) {
	if !st.Enabled {
		fmt.Fprintln(out, paint(out, successStyle, i18n.T("forensic.disabled")))
		if !st.DisabledAt.IsZero() {
			fmt.Fprintln(out, paint(out, helpStyle, i18n.T("forensic.last_lift", st.DisabledAt.Format(time.RFC3339), st.DisabledBy, st.DisabledReason)))
		}
		return
	}
	fmt.Fprintln(out, paint(out, errorStyle, i18n.T("forensic.enabled")))
	fmt.Fprintln(out, i18n.T("forensic.enabled_by", st.EnabledAt.Format(time.RFC3339), st.EnabledBy, st.EnabledReason))
	if st.PendingLiftSequence > 0 {
		fmt.Fprintln(out, paint(out, specialStyle, i18n.T("forensic.lift_pending", st.PendingLiftSequence, st.DisabledBy)))
	}
}

func newForensicCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forensic",
		Short: "Inspect and control the forensic lock",
	}
	var reason string

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the forensic lock state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			printLockState(cmd.OutOrStdout(), svc.Lock.State())
			return nil
		},
	}

	enable := &cobra.Command{
		Use:   "enable",
		Short: "Engage the lock; every state change is refused until it is lifted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			st, err := svc.Lock.Enable(cmdContext(cmd), actor, reason)
			if err != nil {
				return err
			}
			printLockState(cmd.OutOrStdout(), st)
			return nil
		},
	}
	enable.Flags().StringVar(&reason, "reason", "", "Why the lock is engaged (required)")

	disable := &cobra.Command{
		Use:   "disable",
		Short: "Request the lift of the lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			outcome, err := svc.Lock.Disable(cmdContext(cmd), actor, reason)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if outcome.Pending {
				fmt.Fprintln(out, paint(out, specialStyle, i18n.T("forensic.lift_requested", outcome.Entry.Sequence)))
			}
			printLockState(out, outcome.State)
			return nil
		},
	}
	disable.Flags().StringVar(&reason, "reason", "", "Why the lock may be lifted (required)")

	var facility string
	approve := &cobra.Command{
		Use:   "approve <sequence>",
		Short: "Approve a pending lift request and lift the lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			seq, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || seq <= 0 {
				return errors.New(i18n.T("audit.error_sequence", args[0]))
			}
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			st, err := svc.Lock.ApproveLift(cmdContext(cmd), audit.Approver{ActorID: actor, FacilityID: facility}, seq)
			if err != nil {
				return err
			}
			printLockState(cmd.OutOrStdout(), st)
			return nil
		},
	}
	approve.Flags().StringVar(&facility, "facility", "", "Facility the approver acts for (empty approves globally)")

	cmd.AddCommand(status, enable, disable, approve)
	return cmd
}
