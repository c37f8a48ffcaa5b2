// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/bandward/internal/credential"
	"github.com/toeirei/bandward/internal/device"
	"github.com/toeirei/bandward/internal/i18n"
	"github.com/toeirei/bandward/internal/model"
)

func newDeviceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage registered wristbands",
	}
	var reason string

	register := &cobra.Command{
		Use:   "register <uid>",
		Short: "Register a device in inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			d, err := svc.Devices.Register(cmdContext(cmd), actor, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, paint(out, successStyle, i18n.T("device.registered", d.UID, d.ID)))
			return nil
		},
	}

	bind := &cobra.Command{
		Use:   "bind <uid> <facility>",
		Short: "Bind a device to a facility and issue its credential",
		Long: `Binds the device to the facility. A device that was bound elsewhere is
rebound and its credential rotated. The new secret and nonce seed are printed
once; load them onto the wristband and discard this output.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			b, iss, err := svc.Devices.Bind(cmdContext(cmd), actor, args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, paint(out, successStyle, i18n.T("device.bound", b.DeviceUID, b.FacilityID)))
			printCredential(out, iss)
			return nil
		},
	}

	unbind := &cobra.Command{
		Use:   "unbind <uid>",
		Short: "End the device's facility binding and revoke its credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			if err := svc.Devices.Unbind(cmdContext(cmd), actor, args[0], reason); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, paint(out, successStyle, i18n.T("device.unbound", args[0])))
			return nil
		},
	}
	unbind.Flags().StringVar(&reason, "reason", "", "Reason recorded in the audit ledger")

	rotate := &cobra.Command{
		Use:   "rotate <uid>",
		Short: "Replace the credential of a bound device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			ctx := cmdContext(cmd)
			_, b, err := svc.Devices.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			iss, err := svc.Issuer.Rotate(ctx, actor, args[0], b.FacilityID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, paint(out, successStyle, i18n.T("device.rotated", args[0])))
			printCredential(out, iss)
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status <uid> <inventory|active|maintenance|retired|revoked>",
		Short: "Move a device along its status lifecycle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			st := model.DeviceStatus(args[1])
			if !st.Valid() {
				return errors.New(i18n.T("device.error_status", args[1]))
			}
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			d, err := svc.Devices.SetStatus(cmdContext(cmd), actor, args[0], st, reason)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, paint(out, successStyle, i18n.T("device.status_changed", d.UID, d.Status)))
			return nil
		},
	}
	status.Flags().StringVar(&reason, "reason", "", "Reason recorded in the audit ledger")

	revoke := &cobra.Command{
		Use:   "revoke <uid>",
		Short: "Destroy the device credential without changing its binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := a.requireActor()
			if err != nil {
				return err
			}
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			ctx := cmdContext(cmd)
			_, b, err := svc.Devices.Resolve(ctx, args[0])
			if err != nil && !errors.Is(err, device.ErrNotBound) {
				return err
			}
			if _, err := svc.Issuer.Revoke(ctx, actor, args[0], b.FacilityID, reason); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, paint(out, specialStyle, i18n.T("device.revoked", args[0])))
			return nil
		},
	}
	revoke.Flags().StringVar(&reason, "reason", "", "Reason recorded in the audit ledger")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			ctx := cmdContext(cmd)
			devices, err := svc.Devices.List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, paint(out, helpStyle, i18n.T("device.none")))
				return nil
			}
			rows := make([][]string, 0, len(devices))
			for _, d := range devices {
				facility, lastSeen := "-", "-"
				if _, b, err := svc.Devices.Resolve(ctx, d.UID); err == nil {
					facility = b.FacilityID
					if !b.LastSeenAt.IsZero() {
						lastSeen = b.LastSeenAt.Format(time.RFC3339)
					}
				}
				rows = append(rows, []string{d.UID, string(d.Status), facility, lastSeen, d.ID})
			}
			fmt.Fprintln(out, renderTable(out, []string{"UID", "STATUS", "FACILITY", "LAST SEEN", "ID"}, rows))
			return nil
		},
	}

	cmd.AddCommand(register, bind, unbind, rotate, status, revoke, list)
	return cmd
}

func printCredential(out io.Writer, iss credential.Issued) {
	fmt.Fprintln(out, paint(out, specialStyle, i18n.T("device.credential_once")))
	fmt.Fprintf(out, "secret:     %s\n", base64.StdEncoding.EncodeToString(iss.Credential.Secret.Bytes()))
	fmt.Fprintf(out, "nonce-seed: %s\n", base64.StdEncoding.EncodeToString(iss.Credential.NonceSeed.Bytes()))
	fmt.Fprintf(out, "generation: %d\n", iss.Credential.Generation)
	fmt.Fprintf(out, "expires:    %s\n", iss.Credential.ExpiresAt.Format(time.RFC3339))
}
