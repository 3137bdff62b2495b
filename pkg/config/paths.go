// Package config persists the vault configuration record and locates the
// application's files on each operating system.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Environment variables that override the fixed locations.
const (
	EnvHome      = "SECUREFOLDER_HOME"
	EnvLegacyDir = "SECUREFOLDER_LEGACY_DIR"
)

// File and directory names inside the application directory.
const (
	AppDirName       = "SecureFolderManager"
	ConfigFileName   = ".config.json"
	SettingsFileName = "settings.yaml"
	AuditDirName     = "audit"

	LegacyDirName        = ".secure_folder_config"
	LegacyConfigFileName = ".config.json"

	// VaultDirPrefix prefixes every randomly named vault directory.
	VaultDirPrefix = ".secure_vault_"
)

// Paths contains all file system paths used by securefolder.
type Paths struct {
	// AppDir is the application-data directory holding config and vaults.
	AppDir string

	// ConfigFile is the current vault configuration record.
	ConfigFile string

	// SettingsFile holds optional user preferences.
	SettingsFile string

	// AuditDir holds the audit trail.
	AuditDir string

	// LegacyConfigFile is the gen 1 configuration record, read only.
	LegacyConfigFile string
}

// NewPaths builds the path set rooted at appDir, with the legacy record
// under legacyDir.
func NewPaths(appDir, legacyDir string) *Paths {
	return &Paths{
		AppDir:           appDir,
		ConfigFile:       filepath.Join(appDir, ConfigFileName),
		SettingsFile:     filepath.Join(appDir, SettingsFileName),
		AuditDir:         filepath.Join(appDir, AuditDirName),
		LegacyConfigFile: filepath.Join(legacyDir, LegacyConfigFileName),
	}
}

// DefaultPaths returns the paths for the current platform, honoring the
// SECUREFOLDER_HOME and SECUREFOLDER_LEGACY_DIR overrides.
func DefaultPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: failed to get user home directory: %w", err)
	}

	appDir := os.Getenv(EnvHome)
	if appDir == "" {
		appDir = platformAppDir(runtime.GOOS, home, os.Getenv("LOCALAPPDATA"))
	}

	legacyDir := os.Getenv(EnvLegacyDir)
	if legacyDir == "" {
		legacyDir = filepath.Join(home, LegacyDirName)
	}

	return NewPaths(appDir, legacyDir), nil
}

// platformAppDir returns the application-data directory for goos.
func platformAppDir(goos, home, localAppData string) string {
	switch goos {
	case "windows":
		if localAppData == "" {
			localAppData = filepath.Join(home, "AppData", "Local")
		}
		return filepath.Join(localAppData, AppDirName)
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirName)
	default:
		return filepath.Join(home, ".local", "share", AppDirName)
	}
}

// EnsureAppDir creates the application directory if it doesn't exist.
func (p *Paths) EnsureAppDir() error {
	if err := os.MkdirAll(p.AppDir, 0700); err != nil {
		return fmt.Errorf("config: failed to create %s: %w", p.AppDir, err)
	}
	return nil
}
