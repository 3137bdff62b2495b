// Package migration moves a legacy (gen 1) vault into the application-data
// directory without putting the legacy data at risk.
//
// The engine is a small state machine:
//
//	NoLegacyData
//	LegacyDetected -> UserDeclined
//	LegacyDetected -> Migrating -> Failed
//	LegacyDetected -> Migrating -> MigrationComplete -> CleanupDeclined
//	LegacyDetected -> Migrating -> MigrationComplete -> CleanupComplete
//
// Nothing is touched before the user consents, and the new configuration is
// committed only after every file has been copied.
package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/forest6511/securefolder/internal/fsutil"
	"github.com/forest6511/securefolder/internal/platform"
	"github.com/forest6511/securefolder/pkg/audit"
	"github.com/forest6511/securefolder/pkg/config"
)

// State is a migration state.
type State int

const (
	StateNoLegacyData State = iota
	StateLegacyDetected
	StateUserDeclined
	StateMigrating
	StateMigrationComplete
	StateCleanupDeclined
	StateCleanupComplete
	StateFailed
)

var stateNames = map[State]string{
	StateNoLegacyData:      "no-legacy-data",
	StateLegacyDetected:    "legacy-detected",
	StateUserDeclined:      "user-declined",
	StateMigrating:         "migrating",
	StateMigrationComplete: "migration-complete",
	StateCleanupDeclined:   "cleanup-declined",
	StateCleanupComplete:   "cleanup-complete",
	StateFailed:            "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Migrated reports whether the state means data now lives in the new vault.
func (s State) Migrated() bool {
	return s == StateMigrationComplete || s == StateCleanupDeclined || s == StateCleanupComplete
}

// mergeDirPrefix names the folder a legacy tree is copied into when a
// separate current vault already exists.
const mergeDirPrefix = "migrated_"

// Prompter asks the user a yes/no question.
type Prompter interface {
	Confirm(title, message string) (bool, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(title, message string) (bool, error)

func (f PrompterFunc) Confirm(title, message string) (bool, error) { return f(title, message) }

// Progress is reported after each copied file.
type Progress struct {
	Migrated int
	Total    int
	Path     string // relative to the legacy vault root
}

// Result describes a finished run.
type Result struct {
	State      State
	Legacy     *config.LegacyVaultConfig
	Config     *config.VaultConfig // the committed record, nil unless migrated
	VaultPath  string              // where the legacy files now live
	Files      int
	Bytes      int64
	BackupPath string
	Skipped    bool // already migrated earlier; only cleanup was offered
	Merged     bool // copied into a folder of an existing vault
}

// MigrationError reports the first failure of a migration. Legacy data is
// intact; PartialDir, when set, holds the incomplete copy.
type MigrationError struct {
	Path       string
	PartialDir string
	Err        error
}

func (e *MigrationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("migration: %v", e.Err)
	}
	return fmt.Sprintf("migration: failed at %s: %v", e.Path, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// ErrUnsafeCleanup is returned when the legacy tree contains the new vault or
// the legacy record backup.
var ErrUnsafeCleanup = errors.New("migration: legacy vault contains data that must be kept, refusing to delete it")

// CopyFunc copies one file, preserving at least its modification time.
type CopyFunc func(src, dst string) error

// Engine runs the migration procedure.
type Engine struct {
	store     *config.Store
	legacy    *config.LegacyStore
	prompter  Prompter
	audit     *audit.Logger
	logger    *slog.Logger
	copyFile  CopyFunc
	diskCheck func(path string, size, minFree uint64) error
	minFree   uint64

	remindCleanup bool

	mu    sync.Mutex
	state State
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithAudit records state transitions in the audit trail.
func WithAudit(logger *audit.Logger) Option {
	return func(e *Engine) { e.audit = logger }
}

// WithCopyFunc replaces the per-file copy.
func WithCopyFunc(fn CopyFunc) Option {
	return func(e *Engine) { e.copyFile = fn }
}

// WithMinFreeSpace sets the free space a migration must leave on disk.
func WithMinFreeSpace(bytes uint64) Option {
	return func(e *Engine) { e.minFree = bytes }
}

// WithDiskCheck replaces the free space check.
func WithDiskCheck(fn func(path string, size, minFree uint64) error) Option {
	return func(e *Engine) { e.diskCheck = fn }
}

// WithCleanupReminder controls whether a run that finds the legacy vault
// already migrated asks again about cleanup. Enabled by default.
func WithCleanupReminder(enabled bool) Option {
	return func(e *Engine) { e.remindCleanup = enabled }
}

// NewEngine creates an engine. prompter is required.
func NewEngine(store *config.Store, legacy *config.LegacyStore, prompter Prompter, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		legacy:    legacy,
		prompter:  prompter,
		copyFile:  fsutil.CopyFile,
		diskCheck: platform.CheckFreeSpace,
		state:     StateNoLegacyData,

		remindCleanup: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State, err error, ctx map[string]string) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()

	e.logger.Debug("migration state changed", "from", prev.String(), "to", s.String())

	var op string
	switch s {
	case StateMigrating:
		op = audit.OpMigrationStart
	case StateMigrationComplete:
		op = audit.OpMigrationComplete
	case StateUserDeclined:
		op = audit.OpMigrationDeclined
	case StateCleanupComplete:
		op = audit.OpMigrationCleanup
	case StateFailed:
		op = audit.OpMigrationFailed
	default:
		return
	}

	result := audit.ResultSuccess
	var info *audit.ErrorInfo
	if err != nil {
		result = audit.ResultError
		info = &audit.ErrorInfo{Code: "MIGRATION_FAILED", Message: err.Error()}
	}
	if logErr := e.audit.Log(op, result, "", info, ctx); logErr != nil {
		e.logger.Warn("failed to write audit record", "op", op, "error", logErr)
	}
}

// Detect reports whether a legacy vault is present: the legacy record must
// parse and its vault path must be an existing directory.
func (e *Engine) Detect() (State, *config.LegacyVaultConfig, error) {
	legacyCfg, err := e.legacy.Load()
	if err != nil {
		return StateNoLegacyData, nil, err
	}
	if legacyCfg == nil {
		e.setState(StateNoLegacyData, nil, nil)
		return StateNoLegacyData, nil, nil
	}

	info, err := os.Stat(legacyCfg.VaultPath)
	if err != nil || !info.IsDir() {
		e.logger.Debug("legacy record points at a missing vault", "path", legacyCfg.VaultPath)
		e.setState(StateNoLegacyData, nil, nil)
		return StateNoLegacyData, nil, nil
	}

	e.setState(StateLegacyDetected, nil, nil)
	return StateLegacyDetected, legacyCfg, nil
}

// Run performs detection, consent, copy, commit, backup and the cleanup
// offer. progress may be nil. A copy failure returns *MigrationError and
// leaves the legacy record and tree untouched.
func (e *Engine) Run(progress func(Progress)) (*Result, error) {
	state, legacyCfg, err := e.Detect()
	if err != nil {
		return nil, err
	}
	res := &Result{State: state, Legacy: legacyCfg}
	if state == StateNoLegacyData {
		return res, nil
	}

	current, err := e.store.Load()
	if err != nil {
		return nil, err
	}

	if current != nil && sameDir(current.MigratedFrom, legacyCfg.VaultPath) {
		res.Skipped = true
		res.Config = current
		res.VaultPath = current.VaultPath
		res.State = StateMigrationComplete
		e.mu.Lock()
		e.state = StateMigrationComplete
		e.mu.Unlock()
		if !e.remindCleanup {
			return res, nil
		}
		return e.offerCleanup(res)
	}

	ok, err := e.prompter.Confirm("Migrate vault", consentMessage(legacyCfg, current))
	if err != nil {
		return nil, fmt.Errorf("migration: consent prompt failed: %w", err)
	}
	if !ok {
		e.setState(StateUserDeclined, nil, nil)
		res.State = StateUserDeclined
		return res, nil
	}

	e.setState(StateMigrating, nil, nil)
	res.State = StateMigrating
	if err := e.migrate(res, current, progress); err != nil {
		e.setState(StateFailed, err, nil)
		res.State = StateFailed
		return res, err
	}

	e.setState(StateMigrationComplete, nil, map[string]string{"files": strconv.Itoa(res.Files)})
	res.State = StateMigrationComplete
	return e.offerCleanup(res)
}

func consentMessage(legacyCfg *config.LegacyVaultConfig, current *config.VaultConfig) string {
	if current != nil {
		return fmt.Sprintf("An old vault was found at %s. Copy its files into a folder of your current vault?", legacyCfg.VaultPath)
	}
	return fmt.Sprintf("An old vault was found at %s. Move it to the new, safer location? "+
		"Your files will be copied and the old vault left in place until you choose to remove it.", legacyCfg.VaultPath)
}

// legacyTree lists what has to be copied.
type legacyTree struct {
	dirs  []string // relative, parents first
	files []string // relative
	bytes int64
}

func scanTree(root string) (*legacyTree, error) {
	tree := &legacyTree{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			tree.dirs = append(tree.dirs, rel)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			tree.files = append(tree.files, rel)
			tree.bytes += info.Size()
		case d.Type()&fs.ModeSymlink != 0:
			// Linked files are copied by content; links to directories are not followed.
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.Mode().IsRegular() {
				tree.files = append(tree.files, rel)
				tree.bytes += info.Size()
			}
		}
		return nil
	})
	return tree, err
}

func (e *Engine) migrate(res *Result, current *config.VaultConfig, progress func(Progress)) error {
	root := res.Legacy.VaultPath

	tree, err := scanTree(root)
	if err != nil {
		return &MigrationError{Path: root, Err: err}
	}

	if err := e.diskCheck(e.store.Paths().AppDir, uint64(tree.bytes), e.minFree); err != nil {
		if errors.Is(err, platform.ErrInsufficientDisk) {
			return &MigrationError{Err: err}
		}
		e.logger.Warn("failed to check disk space", "error", err)
	}

	dest, err := e.allocate(current, root)
	if err != nil {
		return &MigrationError{Err: err}
	}
	res.VaultPath = dest
	res.Merged = current != nil

	for _, rel := range tree.dirs {
		if err := os.MkdirAll(filepath.Join(dest, rel), fsutil.DirMode); err != nil {
			return &MigrationError{Path: filepath.Join(root, rel), PartialDir: dest, Err: err}
		}
	}

	total := len(tree.files)
	for i, rel := range tree.files {
		src := filepath.Join(root, rel)
		dst := filepath.Join(dest, rel)
		if err := os.MkdirAll(filepath.Dir(dst), fsutil.DirMode); err != nil {
			return &MigrationError{Path: src, PartialDir: dest, Err: err}
		}
		if err := e.copyFile(src, dst); err != nil {
			return &MigrationError{Path: src, PartialDir: dest, Err: err}
		}
		if progress != nil {
			progress(Progress{Migrated: i + 1, Total: total, Path: rel})
		}
	}
	res.Files = total
	res.Bytes = tree.bytes

	var cfg *config.VaultConfig
	if current != nil {
		cfg = current.Clone()
	} else {
		cfg = config.NewConfig(res.Legacy.PasswordHash, dest)
	}
	cfg.MigratedFrom = root
	if err := e.store.Save(cfg); err != nil {
		return &MigrationError{Path: e.store.Paths().ConfigFile, PartialDir: dest, Err: err}
	}
	res.Config = cfg
	return nil
}

// allocate creates the destination: a fresh vault directory, or a new folder
// inside the current vault.
func (e *Engine) allocate(current *config.VaultConfig, root string) (string, error) {
	if current == nil {
		return e.store.NewVaultDir()
	}

	base := mergeDirPrefix + filepath.Base(root)
	for n := 0; ; n++ {
		name := base
		if n > 0 {
			name = base + "_" + strconv.Itoa(n)
		}
		dir := filepath.Join(current.VaultPath, name)
		err := os.Mkdir(dir, fsutil.DirMode)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("migration: failed to create %s: %w", dir, err)
		}
	}
}

// offerCleanup backs up the legacy record and asks whether to delete the
// legacy tree and record. Without a backup, cleanup is not offered.
func (e *Engine) offerCleanup(res *Result) (*Result, error) {
	backup, err := e.legacy.Backup()
	if err != nil {
		e.logger.Warn("legacy record not backed up, cleanup skipped", "error", err)
		return res, nil
	}
	res.BackupPath = backup

	if within(res.VaultPath, res.Legacy.VaultPath) {
		e.logger.Warn("legacy vault contains the new vault, cleanup skipped", "legacy", res.Legacy.VaultPath)
		return res, nil
	}
	if within(backup, res.Legacy.VaultPath) {
		e.logger.Warn("legacy vault contains the configuration backup, cleanup skipped", "legacy", res.Legacy.VaultPath)
		return res, nil
	}

	msg := fmt.Sprintf("Your files are now in the new vault. Delete the old vault at %s and its configuration? "+
		"A backup of the old configuration is kept at %s.", res.Legacy.VaultPath, backup)
	ok, err := e.prompter.Confirm("Remove old vault", msg)
	if err != nil {
		e.logger.Warn("cleanup prompt failed, leaving legacy data in place", "error", err)
		ok = false
	}
	if !ok {
		e.setState(StateCleanupDeclined, nil, nil)
		res.State = StateCleanupDeclined
		return res, nil
	}

	if err := e.cleanup(res); err != nil {
		return res, err
	}
	e.setState(StateCleanupComplete, nil, nil)
	res.State = StateCleanupComplete
	return res, nil
}

func (e *Engine) cleanup(res *Result) error {
	if within(res.VaultPath, res.Legacy.VaultPath) || within(res.BackupPath, res.Legacy.VaultPath) {
		return ErrUnsafeCleanup
	}
	if err := os.RemoveAll(res.Legacy.VaultPath); err != nil {
		return fmt.Errorf("migration: failed to remove legacy vault: %w", err)
	}
	if err := e.legacy.Remove(); err != nil {
		return err
	}
	return nil
}

// DiscardPartial removes the partial copy left by a failed migration. It
// refuses to touch the live vault or the legacy vault.
func (e *Engine) DiscardPartial(dir string) error {
	if dir == "" {
		return nil
	}
	current, err := e.store.Load()
	if err != nil {
		return err
	}
	if current != nil && (sameDir(dir, current.VaultPath) || within(current.VaultPath, dir)) {
		return fmt.Errorf("migration: %s is the current vault", dir)
	}
	if legacyCfg, _ := e.legacy.Load(); legacyCfg != nil && (sameDir(dir, legacyCfg.VaultPath) || within(legacyCfg.VaultPath, dir)) {
		return fmt.Errorf("migration: %s holds legacy data", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("migration: failed to remove partial copy: %w", err)
	}
	return nil
}

func sameDir(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

// within reports whether path is parent or a descendant of it.
func within(path, parent string) bool {
	if path == "" || parent == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
