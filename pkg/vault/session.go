// Package vault gates a directory of user files behind a password.
//
// A Session is the single owner of the configuration record for a process.
// It starts Locked; every directory operation requires a successful Unlock.
package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/forest6511/securefolder/internal/platform"
	"github.com/forest6511/securefolder/pkg/audit"
	"github.com/forest6511/securefolder/pkg/config"
	"github.com/forest6511/securefolder/pkg/crypto"
	"github.com/forest6511/securefolder/pkg/migration"
)

// State is the lock state of a session.
type State int

const (
	Locked State = iota
	Unlocked
)

func (s State) String() string {
	if s == Unlocked {
		return "unlocked"
	}
	return "locked"
}

// SessionOptions configures Open. Only Paths is required.
type SessionOptions struct {
	Paths *config.Paths

	// Settings overrides settings.yaml when set.
	Settings *config.Settings

	// Prompter answers migration questions. Without one the migration step
	// is skipped for this run.
	Prompter migration.Prompter

	// Progress receives migration progress.
	Progress func(migration.Progress)

	// RemindCleanup asks again about removing an already migrated legacy
	// vault.
	RemindCleanup bool

	// Opener overrides the default application launcher.
	Opener Opener

	// Hide overrides the path-hiding collaborator.
	Hide config.HideFunc

	// AuditSource is stamped on audit events (audit.SourceCLI by default).
	AuditSource string

	// DiskCheck overrides the free space check.
	DiskCheck DiskCheckFunc

	Logger *slog.Logger
}

// Session holds the lock state and the active configuration.
type Session struct {
	mu sync.RWMutex

	paths    *config.Paths
	settings *config.Settings
	store    *config.Store
	legacy   *config.LegacyStore
	logger   *slog.Logger
	audit    *audit.Logger
	opener   Opener
	dirOpts  []DirectoryOption

	cfg        *config.VaultConfig
	legacyMode bool
	dir        *Directory

	state     State
	listing   []VaultEntry
	observers map[int]func(State)
	nextObs   int

	migration    *migration.Result
	migrationErr error
}

// Open loads settings and configuration, runs the legacy migration step,
// and repairs a missing vault directory. The returned session is Locked.
func Open(opts SessionOptions) (*Session, error) {
	if opts.Paths == nil {
		return nil, errors.New("vault: paths are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	settings := opts.Settings
	if settings == nil {
		var err error
		settings, err = config.LoadSettings(opts.Paths.SettingsFile)
		if err != nil {
			return nil, err
		}
	}

	hide := opts.Hide
	if hide == nil && settings.HidePaths {
		hide = platform.HidePath
	}

	s := &Session{
		paths:     opts.Paths,
		settings:  settings,
		store:     config.NewStore(opts.Paths, hide, logger),
		legacy:    config.NewLegacyStore(opts.Paths.LegacyConfigFile, logger),
		logger:    logger,
		opener:    opts.Opener,
		state:     Locked,
		observers: make(map[int]func(State)),
	}
	if s.opener == nil {
		s.opener = platform.DefaultLauncher(settings.OpenCommand)
	}
	s.dirOpts = []DirectoryOption{
		WithMinFreeSpace(settings.MinFreeSpaceBytes()),
		WithLogger(logger),
	}
	if opts.DiskCheck != nil {
		s.dirOpts = append(s.dirOpts, WithDiskCheck(opts.DiskCheck))
	}

	if settings.Audit {
		s.audit = audit.NewLogger(opts.Paths.AuditDir, logger)
		source := opts.AuditSource
		if source == "" {
			source = audit.SourceCLI
		}
		s.audit.SetSource(source)
	}

	if opts.Prompter != nil {
		s.runMigration(opts)
	}

	cfg, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg, err = s.legacyFallback()
		if err != nil {
			return nil, err
		}
	}

	if cfg != nil {
		if !s.legacyMode {
			if _, err := s.store.EnsureVaultDir(cfg); err != nil {
				return nil, err
			}
		}
		s.activate(cfg)
	}
	return s, nil
}

// runMigration runs the migration on its own goroutine and forwards
// progress. Failures are kept for the caller and never abort Open.
func (s *Session) runMigration(opts SessionOptions) {
	engineOpts := []migration.Option{
		migration.WithLogger(s.logger),
		migration.WithAudit(s.audit),
		migration.WithMinFreeSpace(s.settings.MinFreeSpaceBytes()),
		migration.WithCleanupReminder(opts.RemindCleanup),
	}
	if opts.DiskCheck != nil {
		engineOpts = append(engineOpts, migration.WithDiskCheck(opts.DiskCheck))
	}
	engine := migration.NewEngine(s.store, s.legacy, opts.Prompter, engineOpts...)

	job := engine.Start()
	for p := range job.Progress() {
		if opts.Progress != nil {
			opts.Progress(p)
		}
	}
	s.migration, s.migrationErr = job.Wait()
	if s.migrationErr != nil {
		s.logger.Warn("migration did not complete", "error", s.migrationErr)
	}
}

// legacyFallback returns the legacy record as the working configuration
// when no current record exists and the legacy vault is still on disk.
func (s *Session) legacyFallback() (*config.VaultConfig, error) {
	legacyCfg, err := s.legacy.Load()
	if err != nil || legacyCfg == nil {
		return nil, err
	}
	info, err := os.Stat(legacyCfg.VaultPath)
	if err != nil || !info.IsDir() {
		return nil, nil
	}
	s.legacyMode = true
	s.logger.Debug("using legacy vault", "path", legacyCfg.VaultPath)
	return &config.VaultConfig{
		PasswordHash:  legacyCfg.PasswordHash,
		VaultPath:     legacyCfg.VaultPath,
		SchemaVersion: legacyCfg.SchemaVersion,
		CreatedAt:     legacyCfg.CreatedAt,
	}, nil
}

// activate installs cfg as the working configuration. Caller holds the
// write lock or has exclusive access.
func (s *Session) activate(cfg *config.VaultConfig) {
	s.cfg = cfg
	s.dir = NewDirectory(cfg.VaultPath, s.opener, s.dirOpts...)
}

// keyAudit keys the audit trail with the password, which only the user
// holds.
func (s *Session) keyAudit(password string) {
	if err := s.audit.SetKey(password); err != nil {
		s.logger.Warn("failed to initialize audit logger", "error", err)
	}
}

// NeedsSetup reports whether first-run setup is required.
func (s *Session) NeedsSetup() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg == nil
}

// IsLegacy reports whether the session is working on an unmigrated legacy
// vault.
func (s *Session) IsLegacy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.legacyMode
}

// Setup creates the vault on first run. The session stays Locked.
func (s *Session) Setup(password, confirm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg != nil {
		return ErrVaultAlreadySetUp
	}

	digest, err := SetInitialPassword(password, confirm)
	if err != nil {
		return err
	}

	dir, err := s.store.NewVaultDir()
	if err != nil {
		return err
	}
	cfg := config.NewConfig(digest, dir)
	if err := s.store.Save(cfg); err != nil {
		return err
	}

	s.activate(cfg)
	s.keyAudit(password)
	s.logAudit(audit.OpVaultSetup, "", nil)
	return nil
}

// Unlock moves to Unlocked if password matches the stored digest.
func (s *Session) Unlock(password string) error {
	s.mu.Lock()
	if s.cfg == nil {
		s.mu.Unlock()
		return ErrVaultNotInitialized
	}
	if s.state == Unlocked {
		s.mu.Unlock()
		return nil
	}
	if !crypto.VerifyPassword(password, s.cfg.PasswordHash) {
		s.logAuditError(audit.OpVaultUnlockFailed, "", "AUTH_FAILED", ErrWrongPassword)
		s.mu.Unlock()
		return &AuthError{Err: ErrWrongPassword}
	}
	s.state = Unlocked
	s.keyAudit(password)
	s.logAudit(audit.OpVaultUnlock, "", nil)
	observers := s.snapshotObservers()
	s.mu.Unlock()

	notify(observers, Unlocked)
	return nil
}

// Lock returns to Locked and drops any cached listing. It always succeeds.
func (s *Session) Lock() {
	s.mu.Lock()
	s.listing = nil
	if s.state == Locked {
		s.mu.Unlock()
		return
	}
	s.state = Locked
	s.logAudit(audit.OpVaultLock, "", nil)
	observers := s.snapshotObservers()
	s.mu.Unlock()

	notify(observers, Locked)
}

// State returns the current lock state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers fn to be called after every lock state transition.
// The returned function unregisters it.
func (s *Session) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Session) snapshotObservers() []func(State) {
	fns := make([]func(State), 0, len(s.observers))
	for i := 0; i < s.nextObs; i++ {
		if fn, ok := s.observers[i]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

func notify(observers []func(State), state State) {
	for _, fn := range observers {
		fn(state)
	}
}

// Close offers to lock an unlocked session before teardown. confirmLock is
// asked only while unlocked; nil locks unconditionally.
func (s *Session) Close(confirmLock func() bool) {
	if s.State() != Unlocked {
		return
	}
	if confirmLock == nil || confirmLock() {
		s.Lock()
	}
}

func (s *Session) ensureUnlocked() error {
	if s.state != Unlocked {
		return ErrVaultLocked
	}
	return nil
}

// List returns the vault entries.
func (s *Session) List() ([]VaultEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureUnlocked(); err != nil {
		return nil, err
	}

	entries, err := s.dir.List()
	if err != nil {
		return nil, err
	}
	s.listing = entries
	return append([]VaultEntry(nil), entries...), nil
}

// Cached returns the entries from the last List, or nil after Lock.
func (s *Session) Cached() []VaultEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]VaultEntry(nil), s.listing...)
}

// Add copies a file into the vault.
func (s *Session) Add(sourcePath string) (*VaultEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureUnlocked(); err != nil {
		return nil, err
	}

	entry, err := s.dir.Add(sourcePath)
	if err != nil {
		s.logAuditError(audit.OpEntryAdd, "", errorCode(err), err)
		return nil, err
	}
	s.listing = nil
	s.logAudit(audit.OpEntryAdd, entry.Name, nil)
	return entry, nil
}

// Delete removes an entry.
func (s *Session) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureUnlocked(); err != nil {
		return err
	}

	if err := s.dir.Delete(name); err != nil {
		s.logAuditError(audit.OpEntryDelete, name, errorCode(err), err)
		return err
	}
	s.listing = nil
	s.logAudit(audit.OpEntryDelete, name, nil)
	return nil
}

// Open opens a file entry with the default application.
func (s *Session) Open(name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureUnlocked(); err != nil {
		return err
	}

	if err := s.dir.Open(name); err != nil {
		s.logAuditError(audit.OpEntryOpen, name, errorCode(err), err)
		return err
	}
	s.logAudit(audit.OpEntryOpen, name, nil)
	return nil
}

// Stats returns storage information.
func (s *Session) Stats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureUnlocked(); err != nil {
		return nil, err
	}
	return s.dir.Stats()
}

// ChangePassword replaces the password and persists the new digest.
func (s *Session) ChangePassword(current, next, confirm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureUnlocked(); err != nil {
		return err
	}
	if s.legacyMode {
		return ErrLegacyVault
	}

	digest, err := ChangePassword(current, next, confirm, s.cfg.PasswordHash)
	if err != nil {
		s.logAuditError(audit.OpPasswordChange, "", errorCode(err), err)
		return err
	}

	cfg := s.cfg.Clone()
	cfg.PasswordHash = digest
	if err := s.store.Save(cfg); err != nil {
		return fmt.Errorf("vault: failed to save new password: %w", err)
	}
	s.cfg = cfg

	if err := s.audit.Rekey(next); err != nil {
		s.logger.Warn("audit trail not re-signed", "error", err)
	}
	s.logAudit(audit.OpPasswordChange, "", nil)
	return nil
}

// Config returns a copy of the active configuration, or nil before setup.
func (s *Session) Config() *config.VaultConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil
	}
	return s.cfg.Clone()
}

// Paths returns the session's path set.
func (s *Session) Paths() *config.Paths {
	return s.paths
}

// Settings returns the loaded settings.
func (s *Session) Settings() *config.Settings {
	return s.settings
}

// Audit returns the audit logger, nil when auditing is disabled.
func (s *Session) Audit() *audit.Logger {
	return s.audit
}

// Migration returns the outcome of the startup migration step. Both values
// are nil when the step did not run.
func (s *Session) Migration() (*migration.Result, error) {
	return s.migration, s.migrationErr
}

// DiscardPartialMigration removes the partial copy left by a failed
// migration.
func (s *Session) DiscardPartialMigration(dir string) error {
	engine := migration.NewEngine(s.store, s.legacy, nil, migration.WithLogger(s.logger))
	return engine.DiscardPartial(dir)
}

func (s *Session) logAudit(op, entry string, ctx map[string]string) {
	if err := s.audit.Log(op, audit.ResultSuccess, entry, nil, ctx); err != nil {
		s.logger.Warn("failed to write audit record", "op", op, "error", err)
	}
}

func (s *Session) logAuditError(op, entry, code string, cause error) {
	if err := s.audit.LogError(op, entry, code, cause); err != nil {
		s.logger.Warn("failed to write audit record", "op", op, "error", err)
	}
}

// errorCode maps an error to a short audit code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrWrongPassword), errors.Is(err, ErrWrongCurrentPassword):
		return "AUTH_FAILED"
	case errors.Is(err, ErrPasswordEmpty), errors.Is(err, ErrPasswordMismatch):
		return "INVALID_PASSWORD"
	case errors.Is(err, ErrUnsupportedKind):
		return "UNSUPPORTED_KIND"
	case errors.Is(err, ErrNotNavigable):
		return "NOT_NAVIGABLE"
	case errors.Is(err, ErrEntryNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidEntryName):
		return "INVALID_NAME"
	case errors.Is(err, ErrInsufficientDisk):
		return "DISK_FULL"
	default:
		return "IO_ERROR"
	}
}
