package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/forest6511/securefolder/pkg/migration"
	"github.com/forest6511/securefolder/pkg/vault"
)

// migrateCmd runs the legacy migration step explicitly. The step itself
// runs while the session opens; this command reports its outcome.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Moves files from an old-format vault into the current one",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := sess.Migration()
		return err
	},
}

// printProgress shows a single updating progress line on stderr.
func printProgress(p migration.Progress) {
	fmt.Fprintf(os.Stderr, "\rMigrating files: %d/%d", p.Migrated, p.Total)
	if p.Migrated == p.Total {
		fmt.Fprintln(os.Stderr)
	}
}

// reportMigration prints the outcome of the startup migration step and
// offers to discard a partial copy after a failure. explicit also reports
// the quiet outcomes.
func reportMigration(s *vault.Session, explicit bool) {
	res, err := s.Migration()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\nYour old vault was left untouched.\n", err)
		var migErr *migration.MigrationError
		if errors.As(err, &migErr) && migErr.PartialDir != "" &&
			confirm(fmt.Sprintf("Remove the incomplete copy at %s?", migErr.PartialDir)) {
			if err := s.DiscardPartialMigration(migErr.PartialDir); err != nil {
				logger.Warn("failed to remove incomplete copy", "path", migErr.PartialDir, "error", err)
			} else {
				fmt.Println("Incomplete copy removed")
			}
		}
		return
	}
	writeMigrationReport(os.Stdout, res, explicit)
}

func writeMigrationReport(w io.Writer, res *migration.Result, explicit bool) {
	if res == nil {
		return
	}

	switch {
	case res.State == migration.StateNoLegacyData:
		if explicit {
			fmt.Fprintln(w, "No old vault found, nothing to migrate")
		}
		return
	case res.State == migration.StateUserDeclined:
		fmt.Fprintln(w, "Migration skipped. The old vault stays in use until it is migrated.")
		return
	case res.Skipped:
		if explicit {
			fmt.Fprintf(w, "The old vault at %s was already migrated\n", res.Legacy.VaultPath)
		}
	case res.State.Migrated():
		fmt.Fprintf(w, "Migrated %d files (%s) to %s\n", res.Files, humanize.Bytes(uint64(res.Bytes)), res.VaultPath)
		if res.Merged {
			fmt.Fprintf(w, "Your current vault was kept. The old files are in the folder '%s'.\n", filepath.Base(res.VaultPath))
		}
	}

	switch res.State {
	case migration.StateCleanupComplete:
		fmt.Fprintf(w, "Old vault removed. A backup of its configuration is at %s\n", res.BackupPath)
	case migration.StateCleanupDeclined:
		fmt.Fprintf(w, "Old vault kept at %s\n", res.Legacy.VaultPath)
	}
}
