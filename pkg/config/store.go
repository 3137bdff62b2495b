package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/forest6511/securefolder/internal/fsutil"
	"github.com/forest6511/securefolder/pkg/crypto"
)

// vaultDirRandomBytes is the number of random bytes in a vault dir name.
const vaultDirRandomBytes = 8

// HideFunc marks a path hidden from file browsers. It is best effort.
type HideFunc func(path string) error

// Store loads and saves the vault configuration record at a fixed path.
type Store struct {
	paths  *Paths
	hide   HideFunc
	logger *slog.Logger
}

// NewStore creates a Store. hide and logger may be nil.
func NewStore(paths *Paths, hide HideFunc, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{paths: paths, hide: hide, logger: logger}
}

// Paths returns the store's path set.
func (s *Store) Paths() *Paths {
	return s.paths
}

// Load reads the configuration record. It returns (nil, nil) when the
// record is absent or cannot be parsed: a corrupt record is treated like a
// first run. Read failures other than "not exist" are returned.
func (s *Store) Load() (*VaultConfig, error) {
	data, err := os.ReadFile(s.paths.ConfigFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", s.paths.ConfigFile, err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Path = s.paths.ConfigFile
		}
		s.logger.Warn("ignoring unreadable config record", "path", s.paths.ConfigFile, "error", err)
		return nil, nil
	}
	return cfg, nil
}

// Save validates cfg and atomically replaces the record, then hides it.
func (s *Store) Save(cfg *VaultConfig) error {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = CurrentSchemaVersion
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: refusing to save invalid record: %w", err)
	}

	if err := s.paths.EnsureAppDir(); err != nil {
		return err
	}
	s.hidePath(s.paths.AppDir)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: failed to marshal record: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.paths.ConfigFile, data, fsutil.FileMode); err != nil {
		return fmt.Errorf("config: failed to save record: %w", err)
	}

	s.hidePath(s.paths.ConfigFile)
	s.logger.Debug("saved config record", "path", s.paths.ConfigFile, "version", int(cfg.SchemaVersion))
	return nil
}

// NewVaultDir allocates a fresh vault directory with a random name inside
// the application directory. Collisions of the random component are not
// handled.
func (s *Store) NewVaultDir() (string, error) {
	if err := s.paths.EnsureAppDir(); err != nil {
		return "", err
	}

	suffix, err := crypto.RandomHex(vaultDirRandomBytes)
	if err != nil {
		return "", fmt.Errorf("config: failed to name vault directory: %w", err)
	}

	dir := filepath.Join(s.paths.AppDir, VaultDirPrefix+suffix)
	if err := os.MkdirAll(dir, fsutil.DirMode); err != nil {
		return "", fmt.Errorf("config: failed to create vault directory: %w", err)
	}
	s.hidePath(dir)
	return dir, nil
}

// EnsureVaultDir recreates a missing vault directory at the configured
// path. It reports whether the directory had to be created.
func (s *Store) EnsureVaultDir(cfg *VaultConfig) (bool, error) {
	info, err := os.Stat(cfg.VaultPath)
	if err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("config: vault path %s is not a directory", cfg.VaultPath)
		}
		return false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("config: failed to stat vault path: %w", err)
	}

	if err := os.MkdirAll(cfg.VaultPath, fsutil.DirMode); err != nil {
		return false, fmt.Errorf("config: failed to recreate vault directory: %w", err)
	}
	s.hidePath(cfg.VaultPath)
	s.logger.Warn("vault directory was missing and has been recreated empty", "path", cfg.VaultPath)
	return true, nil
}

func (s *Store) hidePath(path string) {
	if s.hide == nil {
		return
	}
	if err := s.hide(path); err != nil {
		s.logger.Warn("could not hide path", "path", path, "error", err)
	}
}
