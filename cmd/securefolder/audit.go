package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/securefolder/pkg/audit"
)

// auditOptions holds the flags of the audit subcommands.
type auditOptions struct {
	limit     int
	since     string
	until     string
	format    string
	output    string
	olderThan string
	dryRun    bool
	force     bool
}

var auditOpts auditOptions

func init() {
	auditCmd.AddCommand(auditListCmd, auditVerifyCmd, auditExportCmd, auditPruneCmd)

	auditListCmd.Flags().IntVar(&auditOpts.limit, "limit", 100, "Show at most this many records, newest last")
	auditListCmd.Flags().StringVar(&auditOpts.since, "since", "", "Only records from the last period, e.g. 24h or 7d")

	auditExportCmd.Flags().StringVar(&auditOpts.format, "format", "json", "Export as json or csv")
	auditExportCmd.Flags().StringVar(&auditOpts.since, "since", "", "Only records from the last period, e.g. 30d")
	auditExportCmd.Flags().StringVar(&auditOpts.until, "until", "", "Only records up to this RFC 3339 time")
	auditExportCmd.Flags().StringVarP(&auditOpts.output, "output", "o", "", "Write to this file instead of stdout")

	auditPruneCmd.Flags().StringVar(&auditOpts.olderThan, "older-than", "", "Remove records older than this period, e.g. 6m or 1y (required)")
	auditPruneCmd.Flags().BoolVar(&auditOpts.dryRun, "dry-run", false, "Only count the records that would be removed")
	auditPruneCmd.Flags().BoolVarP(&auditOpts.force, "force", "f", false, "Do not ask before removing")
}

// auditLogger unlocks the vault, which also keys the audit trail, and
// returns its logger.
func auditLogger() (*audit.Logger, error) {
	if err := ensureUnlocked(); err != nil {
		return nil, err
	}
	al := sess.Audit()
	if al == nil {
		sess.Lock()
		return nil, errors.New("the audit trail is turned off (audit: false in settings.yaml)")
	}
	return al, nil
}

// sinceTime turns a --since period into the earliest time to include. An
// empty period means no lower bound.
func sinceTime(period string, now time.Time) (time.Time, error) {
	if period == "" {
		return time.Time{}, nil
	}
	d, err := parseDuration(period)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since period: %w", err)
	}
	return now.Add(-d), nil
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspects the record of vault activity",
	Long: `Every setup, unlock, lock, file change and migration step is recorded in a
tamper-evident log. File names are stored only as keyed hashes.`,
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "Shows recent vault activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := sinceTime(auditOpts.since, time.Now())
		if err != nil {
			return err
		}
		al, err := auditLogger()
		if err != nil {
			return err
		}
		defer sess.Lock()

		events, err := al.ListEvents(auditOpts.limit, since)
		if err != nil {
			return fmt.Errorf("failed to read the audit trail: %w", err)
		}
		printEvents(os.Stdout, events)
		return nil
	},
}

func printEvents(w io.Writer, events []audit.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No vault activity recorded")
		return
	}

	for _, event := range events {
		line := fmt.Sprintf("%s  %-22s %s", event.Timestamp, event.Operation, event.Result)
		if event.Source != "" {
			line += "  via " + event.Source
		}
		if event.Entry != "" {
			entry := event.Entry
			if len(entry) > 16 {
				entry = entry[:16] + "..."
			}
			line += "  file#" + entry
		}
		if event.Error != nil {
			line += "  (" + event.Error.Code + ")"
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\n%d records\n", len(events))
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Checks that no activity record was altered or removed",
	RunE: func(cmd *cobra.Command, args []string) error {
		al, err := auditLogger()
		if err != nil {
			return err
		}
		defer sess.Lock()

		result, err := al.Verify()
		if err != nil {
			return fmt.Errorf("failed to check the audit trail: %w", err)
		}
		return printVerifyResult(os.Stdout, result)
	},
}

// printVerifyResult reports a verification and returns an error when the
// trail was tampered with, so the command exits non-zero.
func printVerifyResult(w io.Writer, result *audit.VerifyResult) error {
	if result.Valid {
		fmt.Fprintf(w, "✓ Audit trail intact (%d records checked)\n", result.RecordsTotal)
		return nil
	}
	fmt.Fprintf(w, "✗ Audit trail has been modified: %d of %d records check out\n",
		result.RecordsVerified, result.RecordsTotal)
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	return errors.New("audit trail failed verification")
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Writes the activity records as JSON or CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditOpts.format != "json" && auditOpts.format != "csv" {
			return fmt.Errorf("unknown export format %q, expected json or csv", auditOpts.format)
		}
		since, err := sinceTime(auditOpts.since, time.Now())
		if err != nil {
			return err
		}
		var until time.Time
		if auditOpts.until != "" {
			until, err = time.Parse(time.RFC3339, auditOpts.until)
			if err != nil {
				return fmt.Errorf("invalid --until time, expected RFC 3339: %w", err)
			}
		}

		al, err := auditLogger()
		if err != nil {
			return err
		}
		defer sess.Lock()

		data, err := al.Export(auditOpts.format, since, until)
		if err != nil {
			return fmt.Errorf("failed to export the audit trail: %w", err)
		}
		if auditOpts.output == "" {
			_, err := os.Stdout.Write(data)
			return err
		}

		path, err := filepath.Abs(auditOpts.output)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(os.Stderr, "Activity records written to %s\n", path)
		return nil
	},
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Removes old activity records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditOpts.olderThan == "" {
			return errors.New("say how old records must be with --older-than, e.g. --older-than 1y")
		}
		age, err := parseDuration(auditOpts.olderThan)
		if err != nil {
			return fmt.Errorf("invalid --older-than period: %w", err)
		}

		al, err := auditLogger()
		if err != nil {
			return err
		}
		defer sess.Lock()

		count, err := al.PrunePreview(age)
		if err != nil {
			return fmt.Errorf("failed to scan the audit trail: %w", err)
		}
		switch {
		case count == 0:
			fmt.Printf("Nothing older than %s to remove\n", auditOpts.olderThan)
			return nil
		case auditOpts.dryRun:
			fmt.Printf("%d records are older than %s and would be removed\n", count, auditOpts.olderThan)
			return nil
		}

		question := fmt.Sprintf("Remove %d activity records older than %s? The remaining trail stays verifiable.",
			count, auditOpts.olderThan)
		if !auditOpts.force && !confirm(question) {
			fmt.Println("Nothing removed")
			return nil
		}

		removed, err := al.Prune(age)
		if err != nil {
			return fmt.Errorf("failed to prune the audit trail: %w", err)
		}
		fmt.Printf("Removed %d records\n", removed)
		return nil
	},
}
