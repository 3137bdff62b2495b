package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/forest6511/securefolder/internal/fsutil"
	"github.com/forest6511/securefolder/pkg/crypto"
)

// BackupSuffix is appended to the legacy record when it is backed up.
const BackupSuffix = ".backup"

// LegacyVaultConfig is a gen 1 record. It is only ever migrated from.
type LegacyVaultConfig struct {
	PasswordHash  string
	VaultPath     string
	SchemaVersion SchemaVersion
	CreatedAt     time.Time
}

// legacyRecord accepts both the gen 1 key set and the current one.
type legacyRecord struct {
	SecureFolder  string          `json:"secure_folder"`
	PasswordHash1 string          `json:"password_hash"`
	CreatedTime   *epochSeconds   `json:"created_time"`
	VaultPath     string          `json:"vaultPath"`
	PasswordHash  string          `json:"passwordHash"`
	CreatedAt     *epochSeconds   `json:"createdAt"`
	Version       json.RawMessage `json:"version"`
}

// ParseLegacyConfig decodes and validates a legacy record.
func ParseLegacyConfig(data []byte) (*LegacyVaultConfig, error) {
	var r legacyRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &ParseError{Err: err}
	}

	cfg := &LegacyVaultConfig{
		PasswordHash:  firstNonEmpty(r.PasswordHash, r.PasswordHash1),
		VaultPath:     firstNonEmpty(r.VaultPath, r.SecureFolder),
		SchemaVersion: SchemaVersion1,
	}
	// Gen 1 wrote free-form version strings; an unreadable one means v1.
	var version SchemaVersion
	if len(r.Version) > 0 && version.UnmarshalJSON(r.Version) == nil && version > 0 {
		cfg.SchemaVersion = version
	}
	switch {
	case r.CreatedAt != nil:
		cfg.CreatedAt = time.Time(*r.CreatedAt)
	case r.CreatedTime != nil:
		cfg.CreatedAt = time.Time(*r.CreatedTime)
	}

	if cfg.VaultPath == "" {
		return nil, &ParseError{Err: ErrMissingVaultPath}
	}
	if cfg.PasswordHash == "" {
		return nil, &ParseError{Err: ErrMissingPasswordHash}
	}
	if err := crypto.ValidateDigest(cfg.PasswordHash); err != nil {
		return nil, &ParseError{Err: err}
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// LegacyStore reads the legacy record. It never writes the record itself;
// it can only back it up or remove it during cleanup.
type LegacyStore struct {
	path   string
	logger *slog.Logger
}

// NewLegacyStore creates a LegacyStore for the record at path.
func NewLegacyStore(path string, logger *slog.Logger) *LegacyStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LegacyStore{path: path, logger: logger}
}

// Path returns the legacy record path.
func (l *LegacyStore) Path() string {
	return l.path
}

// BackupPath returns where Backup copies the record.
func (l *LegacyStore) BackupPath() string {
	return l.path + BackupSuffix
}

// Load reads the legacy record. Absent or unparsable records yield
// (nil, nil); the latter is logged.
func (l *LegacyStore) Load() (*LegacyVaultConfig, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: failed to read legacy record: %w", err)
	}

	cfg, err := ParseLegacyConfig(data)
	if err != nil {
		l.logger.Warn("ignoring unreadable legacy record", "path", l.path, "error", err)
		return nil, nil
	}
	return cfg, nil
}

// Backup copies the legacy record to BackupPath, preserving its
// modification time.
func (l *LegacyStore) Backup() (string, error) {
	dst := l.BackupPath()
	if err := fsutil.CopyFile(l.path, dst); err != nil {
		return "", fmt.Errorf("config: failed to back up legacy record: %w", err)
	}
	return dst, nil
}

// Remove deletes the legacy record. A missing record is not an error.
func (l *LegacyStore) Remove() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: failed to remove legacy record: %w", err)
	}
	return nil
}
