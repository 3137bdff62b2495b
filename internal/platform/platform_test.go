package platform

import (
	"errors"
	"runtime"
	"testing"
)

func TestDefaultLauncher(t *testing.T) {
	l := DefaultLauncher("")
	if len(l.Command) == 0 {
		t.Fatal("DefaultLauncher returned empty command")
	}

	want := map[string]string{
		"windows": "rundll32",
		"darwin":  "open",
	}[runtime.GOOS]
	if want == "" {
		want = "xdg-open"
	}
	if l.Command[0] != want {
		t.Errorf("launcher = %q, want %q", l.Command[0], want)
	}
}

func TestDefaultLauncherOverride(t *testing.T) {
	l := DefaultLauncher("  code   --wait ")
	if len(l.Command) != 2 || l.Command[0] != "code" || l.Command[1] != "--wait" {
		t.Errorf("override command = %v", l.Command)
	}
}

func TestLauncherEmpty(t *testing.T) {
	l := &Launcher{}
	if err := l.Open("/tmp/x"); !errors.Is(err, ErrNoLauncher) {
		t.Errorf("expected ErrNoLauncher, got %v", err)
	}
}

func TestDiskSpace(t *testing.T) {
	info, err := DiskSpace(t.TempDir())
	if err != nil {
		t.Fatalf("DiskSpace failed: %v", err)
	}
	if info.Total == 0 {
		t.Error("expected non-zero total space")
	}
	if info.UsedPct < 0 || info.UsedPct > 100 {
		t.Errorf("UsedPct = %d out of range", info.UsedPct)
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if err := CheckFreeSpace(dir, 0, 0); err != nil {
		t.Errorf("CheckFreeSpace with zero requirement failed: %v", err)
	}

	err := CheckFreeSpace(dir, 1<<62, 0)
	if !errors.Is(err, ErrInsufficientDisk) {
		t.Errorf("expected ErrInsufficientDisk, got %v", err)
	}
}

func TestHidePath(t *testing.T) {
	if err := HidePath(t.TempDir()); err != nil {
		t.Errorf("HidePath failed: %v", err)
	}
}
