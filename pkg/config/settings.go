package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/forest6511/securefolder/internal/fsutil"
)

// SettingsVersion is the only settings file version understood.
const SettingsVersion = 1

// Settings are optional user preferences loaded from settings.yaml.
type Settings struct {
	Version        int    `yaml:"version"`
	HidePaths      bool   `yaml:"hide_paths"`
	Audit          bool   `yaml:"audit"`
	MinFreeSpaceMB uint64 `yaml:"min_free_space_mb"`
	OpenCommand    string `yaml:"open_command"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() *Settings {
	return &Settings{
		Version:        SettingsVersion,
		HidePaths:      true,
		Audit:          true,
		MinFreeSpaceMB: 10,
	}
}

// MinFreeSpaceBytes returns the free-space floor in bytes.
func (s *Settings) MinFreeSpaceBytes() uint64 {
	return s.MinFreeSpaceMB * 1024 * 1024
}

// LoadSettings reads settings from path. A missing file yields defaults;
// keys absent from the file keep their default values.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return nil, fmt.Errorf("config: failed to read settings: %w", err)
	}

	if err := yaml.Unmarshal(content, settings); err != nil {
		return nil, fmt.Errorf("config: failed to parse settings: %w", err)
	}

	if settings.Version != SettingsVersion {
		return nil, fmt.Errorf("config: unsupported settings version: %d", settings.Version)
	}
	return settings, nil
}

// SaveSettings writes settings to path atomically.
func SaveSettings(path string, settings *Settings) error {
	content, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("config: failed to marshal settings: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, content, fsutil.FileMode); err != nil {
		return fmt.Errorf("config: failed to save settings: %w", err)
	}
	return nil
}
