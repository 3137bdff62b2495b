package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/forest6511/securefolder/internal/cli"
	"github.com/forest6511/securefolder/internal/platform"
	"github.com/forest6511/securefolder/pkg/audit"
	"github.com/forest6511/securefolder/pkg/config"
	"github.com/forest6511/securefolder/pkg/crypto"
	"github.com/forest6511/securefolder/pkg/vault"
)

var (
	homeDir string
	verbose bool
	logger  = slog.New(slog.DiscardHandler)
	sess    *vault.Session
)

var rootCmd = &cobra.Command{
	Use:   "securefolder",
	Short: "securefolder keeps files in a password-protected folder",
	Long: `securefolder keeps copies of your files in a hidden folder that can only
be browsed after entering a password.`,
	SilenceUsage: true,
	// PersistentPreRunE opens the session for every command that needs it,
	// which also runs the legacy migration step.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(cmd.ErrOrStderr(), verbose)
		if !needsSession(cmd) {
			return nil
		}

		var err error
		sess, err = openSession(cmd.Name())
		if err != nil {
			return err
		}
		reportMigration(sess, cmd.Name() == "migrate")
		return nil
	},
}

// Delete flags
var deleteForce bool

func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "Application data directory (default: platform location or $"+config.EnvHome+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(passwordCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(shellCmd)

	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation prompt")
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// needsSession reports whether cmd works on the vault. Help and completion
// commands do not.
func needsSession(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}
	return cmd.HasParent()
}

// resolvePaths returns the platform paths with the application directory
// replaced by home when set.
func resolvePaths(home string) (*config.Paths, error) {
	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, err
	}
	if home == "" {
		return paths, nil
	}
	abs, err := filepath.Abs(home)
	if err != nil {
		return nil, fmt.Errorf("invalid home directory: %w", err)
	}
	return config.NewPaths(abs, filepath.Dir(paths.LegacyConfigFile)), nil
}

func openSession(name string) (*vault.Session, error) {
	paths, err := resolvePaths(homeDir)
	if err != nil {
		return nil, err
	}

	source := audit.SourceCLI
	if name == "shell" {
		source = audit.SourceShell
	}

	s, err := vault.Open(vault.SessionOptions{
		Paths:         paths,
		Prompter:      linePrompter{in: stdin, out: os.Stdout},
		Progress:      printProgress,
		RemindCleanup: name == "migrate" || name == "shell",
		AuditSource:   source,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}
	return s, nil
}

// ensureUnlocked ensures the vault is unlocked.
// If locked, prompts for password and attempts to unlock.
func ensureUnlocked() error {
	if sess.NeedsSetup() {
		return errors.New("no vault found, run 'securefolder init' first")
	}
	if sess.State() == vault.Unlocked {
		return nil
	}

	password, err := readPassword("Enter password: ")
	defer crypto.SecureWipe(password)
	if err != nil {
		return err
	}
	if err := sess.Unlock(string(password)); err != nil {
		return friendlyError(err)
	}
	return nil
}

// friendlyError maps vault errors to messages for the terminal.
func friendlyError(err error) error {
	switch {
	case errors.Is(err, vault.ErrWrongPassword):
		return errors.New("incorrect password")
	case errors.Is(err, vault.ErrWrongCurrentPassword):
		return errors.New("current password is incorrect")
	case errors.Is(err, vault.ErrPasswordEmpty):
		return errors.New("password cannot be empty")
	case errors.Is(err, vault.ErrPasswordMismatch):
		return errors.New("passwords do not match")
	case errors.Is(err, vault.ErrVaultLocked):
		return errors.New("vault is locked")
	case errors.Is(err, vault.ErrLegacyVault):
		return errors.New("the old vault is still in use, run 'securefolder migrate' first")
	case errors.Is(err, vault.ErrInsufficientDisk):
		return errors.New("not enough free disk space")
	default:
		return err
	}
}

// formatEntry renders one listing line: size, age and name. Folders get a
// trailing separator and no size.
func formatEntry(e vault.VaultEntry, now time.Time) string {
	size := "-"
	name := e.Name
	if e.Kind == vault.EntryDirectory {
		name += string(filepath.Separator)
	} else {
		size = humanize.Bytes(uint64(e.SizeBytes))
	}
	return fmt.Sprintf("%-10s %-16s %s", size, humanize.RelTime(e.ModifiedAt, now, "ago", "from now"), name)
}

// initCmd sets up a new vault
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Creates the vault and sets its password",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !sess.NeedsSetup() {
			return errors.New("vault is already set up")
		}

		fmt.Println("Welcome to securefolder. Choose a password for your vault.")

		password, err := readPassword("Enter password: ")
		defer crypto.SecureWipe(password)
		if err != nil {
			return err
		}
		confirmation, err := readPassword("Confirm password: ")
		defer crypto.SecureWipe(confirmation)
		if err != nil {
			return err
		}

		if err := sess.Setup(string(password), string(confirmation)); err != nil {
			return friendlyError(err)
		}

		assessment := vault.AssessPassword(string(password))
		fmt.Printf("Password strength: %s\n", assessment.Strength)
		for _, warning := range assessment.Warnings {
			fmt.Printf("Warning: %s\n", warning)
		}
		fmt.Printf("Vault created at %s\n", sess.Config().VaultPath)

		written, err := writeDefaultSettings(sess.Paths().SettingsFile, sess.Settings())
		if err != nil {
			logger.Warn("failed to write settings file", "error", err)
		} else if written {
			fmt.Printf("Settings can be changed in %s\n", sess.Paths().SettingsFile)
		}
		return nil
	},
}

// writeDefaultSettings saves settings to path unless a settings file is
// already there, so users have a file to edit.
func writeDefaultSettings(path string, settings *config.Settings) (bool, error) {
	if _, err := os.Stat(path); err == nil || !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := config.SaveSettings(path, settings); err != nil {
		return false, err
	}
	return true, nil
}

// listCmd lists the vault entries
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the files in the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		defer sess.Lock()

		entries, err := sess.List()
		if err != nil {
			return fmt.Errorf("failed to list vault: %w", err)
		}
		printEntries(os.Stdout, entries)
		return nil
	},
}

func printEntries(w io.Writer, entries []vault.VaultEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "Vault is empty")
		return
	}
	now := time.Now()
	for _, e := range entries {
		fmt.Fprintln(w, formatEntry(e, now))
	}
}

// addCmd copies files into the vault
var addCmd = &cobra.Command{
	Use:   "add [file]...",
	Short: "Copies files into the vault",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		defer sess.Lock()

		failed := 0
		for _, path := range args {
			entry, err := sess.Add(path)
			if err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "Failed to add %s: %v\n", path, friendlyError(err))
				continue
			}
			fmt.Printf("Added %s as %s (%s)\n", path, entry.Name, humanize.Bytes(uint64(entry.SizeBytes)))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files could not be added", failed, len(args))
		}
		return nil
	},
}

// deleteCmd removes entries
var deleteCmd = &cobra.Command{
	Use:   "delete [name|pattern]...",
	Short: "Deletes files or folders from the vault",
	Long: `Deletes files or folders from the vault. Arguments are entry names or
glob patterns such as '*.pdf'. Folders are deleted with everything in them.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		defer sess.Lock()

		entries, err := sess.List()
		if err != nil {
			return fmt.Errorf("failed to list vault: %w", err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name)
		}
		targets, err := cli.ExpandNames(args, names)
		if err != nil {
			return err
		}

		if !deleteForce {
			fmt.Printf("This will delete %d entries: %s\n", len(targets), strings.Join(targets, ", "))
			if !confirm("This cannot be undone. Are you sure?") {
				fmt.Println("Aborted")
				return nil
			}
		}

		for _, name := range targets {
			if err := sess.Delete(name); err != nil {
				return fmt.Errorf("failed to delete '%s': %w", name, friendlyError(err))
			}
			fmt.Printf("'%s' deleted\n", name)
		}
		return nil
	},
}

// openCmd opens a file with the default application
var openCmd = &cobra.Command{
	Use:   "open [name]",
	Short: "Opens a file from the vault with its default application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		defer sess.Lock()

		if err := sess.Open(args[0]); err != nil {
			return friendlyError(err)
		}
		return nil
	},
}

// infoCmd shows storage information
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Shows where the vault is and how much it holds",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		defer sess.Lock()

		stats, err := sess.Stats()
		if err != nil {
			return err
		}
		printInfo(os.Stdout, stats, sess.Config(), diskSpace(stats.Path))
		return nil
	},
}

// diskSpace returns the free space on the vault's disk, or nil when the
// platform cannot report it.
func diskSpace(path string) *platform.DiskSpaceInfo {
	disk, err := platform.DiskSpace(path)
	if err != nil {
		logger.Debug("disk space unavailable", "path", path, "error", err)
		return nil
	}
	return disk
}

func printInfo(w io.Writer, stats *vault.Stats, cfg *config.VaultConfig, disk *platform.DiskSpaceInfo) {
	fmt.Fprintf(w, "Location:   %s\n", stats.Path)
	fmt.Fprintf(w, "Files:      %d\n", stats.Files)
	fmt.Fprintf(w, "Folders:    %d\n", stats.Folders)
	fmt.Fprintf(w, "Total size: %s\n", humanize.Bytes(uint64(stats.TotalBytes)))
	if disk != nil {
		fmt.Fprintf(w, "Disk:       %s free of %s (%d%% used)\n",
			humanize.Bytes(disk.Available), humanize.Bytes(disk.Total), disk.UsedPct)
	}
	if cfg == nil {
		return
	}
	if !cfg.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created:    %s\n", humanize.Time(cfg.CreatedAt))
	}
	if cfg.MigratedFrom != "" {
		fmt.Fprintf(w, "Migrated:   from %s\n", cfg.MigratedFrom)
	}
}

// parseDuration parses a duration string like "30d", "1y", "24h"
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", valueStr)
	}

	switch unit {
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}
