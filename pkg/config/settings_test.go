package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), SettingsFileName))
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	want := DefaultSettings()
	if *s != *want {
		t.Errorf("settings = %+v, want %+v", s, want)
	}
	if s.MinFreeSpaceBytes() != 10*1024*1024 {
		t.Errorf("MinFreeSpaceBytes = %d", s.MinFreeSpaceBytes())
	}
}

func TestLoadSettingsPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), SettingsFileName)
	content := "version: 1\naudit: false\nopen_command: code --wait\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write settings: %v", err)
	}

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if s.Audit {
		t.Error("audit should be disabled")
	}
	if !s.HidePaths {
		t.Error("hide_paths should keep its default")
	}
	if s.OpenCommand != "code --wait" {
		t.Errorf("OpenCommand = %q", s.OpenCommand)
	}
	if s.MinFreeSpaceMB != 10 {
		t.Errorf("MinFreeSpaceMB = %d, want default 10", s.MinFreeSpaceMB)
	}
}

func TestLoadSettingsErrors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":    "version: [",
		"bad version": "version: 7\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), SettingsFileName)
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				t.Fatalf("failed to write settings: %v", err)
			}
			if _, err := LoadSettings(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSaveSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), SettingsFileName)
	s := DefaultSettings()
	s.MinFreeSpaceMB = 42
	s.HidePaths = false

	if err := SaveSettings(path, s); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	got, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if *got != *s {
		t.Errorf("round trip = %+v, want %+v", got, s)
	}
}
