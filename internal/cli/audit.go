// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/bandward/internal/audit"
	"github.com/toeirei/bandward/internal/i18n"
	"github.com/toeirei/bandward/internal/model"
)

func parseFlagTime(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

func printEntries(out io.Writer, entries []model.AuditEntry, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, paint(out, helpStyle, i18n.T("audit.none")))
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.Sequence, 10),
			e.Timestamp.Format(time.RFC3339),
			string(e.Severity),
			e.Action,
			e.ResourceType + "/" + e.ResourceID,
			e.ActorID,
			e.FacilityID,
		})
	}
	fmt.Fprintln(out, renderTable(out, []string{"SEQ", "TIME", "SEVERITY", "ACTION", "RESOURCE", "ACTOR", "FACILITY"}, rows))
	return nil
}

func printVerification(out io.Writer, res audit.VerificationResult) error {
	if res.OK() {
		fmt.Fprintln(out, paint(out, successStyle, i18n.T("audit.verify_ok", res.Checked)))
		return nil
	}
	fmt.Fprintln(out, paint(out, errorStyle, i18n.T("audit.verify_failed", len(res.Violations), res.FirstUntrusted)))
	rows := make([][]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		rows = append(rows, []string{strconv.FormatInt(v.Sequence, 10), string(v.Kind), v.Detail})
	}
	fmt.Fprintln(out, renderTable(out, []string{"SEQ", "KIND", "DETAIL"}, rows))
	return errIntegrity
}

// errIntegrity makes a failed verification exit non-zero after the report
// has been printed.
var errIntegrity = errors.New("audit ledger failed integrity verification")

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query, verify and export the audit ledger",
	}

	var (
		f            model.AuditFilter
		severity     string
		since, until string
		asJSON       bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if f.Start, err = parseFlagTime("since", since); err != nil {
				return err
			}
			if f.End, err = parseFlagTime("until", until); err != nil {
				return err
			}
			f.Severity = model.Severity(severity)
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			entries, err := svc.Ledger.Query(cmdContext(cmd), f)
			if err != nil {
				return err
			}
			return printEntries(cmd.OutOrStdout(), entries, asJSON)
		},
	}
	list.Flags().StringVar(&f.FacilityID, "facility", "", "Only entries of this facility")
	list.Flags().StringVar(&f.Action, "action", "", "Only entries with this action")
	list.Flags().StringVar(&f.ResourceType, "resource-type", "", "Only entries for this resource type")
	list.Flags().StringVar(&f.ResourceID, "resource-id", "", "Only entries for this resource id")
	list.Flags().StringVar(&severity, "severity", "", "Only entries of this severity (info, warning, critical)")
	list.Flags().StringVar(&since, "since", "", "Only entries at or after this RFC3339 time")
	list.Flags().StringVar(&until, "until", "", "Only entries at or before this RFC3339 time")
	list.Flags().IntVar(&f.Limit, "limit", 0, "Maximum number of entries (0 uses the configured default)")
	list.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")

	var (
		rng        audit.Range
		file       string
		vsin, vunt string
	)
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Recompute hashes and links of the ledger or of an export file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if file != "" {
				fh, err := os.Open(file)
				if err != nil {
					return err
				}
				defer fh.Close()
				res, err := audit.VerifyExport(fh)
				if err != nil {
					return err
				}
				return printVerification(out, res)
			}
			var err error
			if rng.Start, err = parseFlagTime("since", vsin); err != nil {
				return err
			}
			if rng.End, err = parseFlagTime("until", vunt); err != nil {
				return err
			}
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			res, err := svc.Ledger.VerifyIntegrity(cmdContext(cmd), rng)
			if err != nil {
				return err
			}
			return printVerification(out, res)
		},
	}
	verify.Flags().Int64Var(&rng.FromSequence, "from", 0, "First sequence to check")
	verify.Flags().Int64Var(&rng.ToSequence, "to", 0, "Last sequence to check (0 means the tail)")
	verify.Flags().StringVar(&vsin, "since", "", "Check entries at or after this RFC3339 time")
	verify.Flags().StringVar(&vunt, "until", "", "Check entries at or before this RFC3339 time")
	verify.Flags().StringVar(&file, "file", "", "Verify an export file offline instead of the database")

	export := &cobra.Command{
		Use:   "export [output-file]",
		Short: "Write the whole ledger as zstd-compressed JSON lines",
		Long: `Writes every ledger entry, oldest first, with its stored hashes. The file
can be checked later without database access using 'bandward audit verify --file'.

If no output file is given, 'bandward-audit-YYYY-MM-DD.jsonl.zst' is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := fmt.Sprintf("bandward-audit-%s.jsonl.zst", time.Now().Format("2006-01-02"))
			if len(args) == 1 {
				name = args[0]
				if !strings.HasSuffix(name, ".zst") {
					name += ".zst"
				}
			}
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			fh, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
			if err != nil {
				return err
			}
			n, err := svc.Ledger.Export(cmdContext(cmd), fh)
			if cerr := fh.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, paint(out, successStyle, i18n.T("audit.exported", n, name)))
			return nil
		},
	}

	var approverFacility string
	approve := &cobra.Command{
		Use:   "approve <sequence>",
		Short: "Approve a ledger entry that requires a second operator",
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
			e, err := svc.Ledger.Approve(cmdContext(cmd), audit.Approver{ActorID: actor, FacilityID: approverFacility}, seq)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, paint(out, successStyle, i18n.T("audit.approved", seq, e.Sequence)))
			return nil
		},
	}
	approve.Flags().StringVar(&approverFacility, "facility", "", "Facility the approver acts for (empty approves globally)")

	var pendingJSON bool
	pending := &cobra.Command{
		Use:   "pending",
		Short: "List entries still waiting for approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			entries, err := svc.Ledger.Pending(cmdContext(cmd), 0)
			if err != nil {
				return err
			}
			return printEntries(cmd.OutOrStdout(), entries, pendingJSON)
		},
	}
	pending.Flags().BoolVar(&pendingJSON, "json", false, "Print entries as JSON")

	cmd.AddCommand(list, verify, export, approve, pending)
	return cmd
}
