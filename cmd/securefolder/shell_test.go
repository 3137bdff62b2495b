package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forest6511/securefolder/pkg/config"
	"github.com/forest6511/securefolder/pkg/vault"
)

const shellPassword = "shell-password"

func newShellSession(t *testing.T) (*vault.Session, *[]string) {
	t.Helper()
	root := t.TempDir()
	settings := config.DefaultSettings()
	settings.HidePaths = false

	var opened []string
	s, err := vault.Open(vault.SessionOptions{
		Paths:     config.NewPaths(filepath.Join(root, "app"), filepath.Join(root, "legacy")),
		Settings:  settings,
		Opener:    vault.OpenerFunc(func(path string) error { opened = append(opened, path); return nil }),
		DiskCheck: func(string, uint64, uint64) error { return nil },
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Setup(shellPassword, shellPassword); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return s, &opened
}

func newTestShell(s *vault.Session, input string) (*shell, *bytes.Buffer) {
	var out bytes.Buffer
	return &shell{
		sess: s,
		in:   bufio.NewReader(strings.NewReader(input)),
		out:  &out,
		readPassword: func(string) ([]byte, error) {
			return []byte(shellPassword), nil
		},
		changePass: func() error { return nil },
	}, &out
}

func TestShellSession(t *testing.T) {
	s, opened := newShellSession(t)
	src := filepath.Join(t.TempDir(), "report.txt")
	if err := os.WriteFile(src, []byte("quarterly"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	input := strings.Join([]string{
		"list",
		"unlock",
		"list",
		"add " + src,
		"open report.txt",
		"info",
		"delete report.txt",
		"y",
		"bogus",
		"exit",
		"y",
	}, "\n") + "\n"

	sh, out := newTestShell(s, input)
	if err := sh.run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	output := out.String()
	for _, want := range []string{
		"Error: vault is locked",
		"Vault unlocked",
		"Vault is empty",
		"Added as report.txt",
		"Files:      1",
		"'report.txt' deleted",
		`unknown command "bogus"`,
		"Vault locked",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
	if len(*opened) != 1 || filepath.Base((*opened)[0]) != "report.txt" {
		t.Errorf("opener calls %v", *opened)
	}
	if s.State() != vault.Locked {
		t.Error("confirmed exit should lock the vault")
	}
}

func TestShellExitKeepsUnlockedWhenDeclined(t *testing.T) {
	s, _ := newShellSession(t)
	sh, _ := newTestShell(s, "unlock\nexit\nn\n")
	if err := sh.run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if s.State() != vault.Unlocked {
		t.Error("declined lock on exit should leave the vault unlocked")
	}
}

func TestShellEOFAsksToLock(t *testing.T) {
	s, _ := newShellSession(t)
	sh, out := newTestShell(s, "unlock\n")
	if err := sh.run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), "Lock it before exiting?") {
		t.Errorf("exit question not asked:\n%s", out.String())
	}
}

func TestShellDeleteAborted(t *testing.T) {
	s, _ := newShellSession(t)
	if err := s.Unlock(shellPassword); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	src := filepath.Join(t.TempDir(), "keep.txt")
	if err := os.WriteFile(src, []byte("k"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := s.Add(src); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	sh, out := newTestShell(s, "")
	sh.in = bufio.NewReader(strings.NewReader("n\n"))
	if quit, err := sh.exec("delete keep.txt"); quit || err != nil {
		t.Fatalf("exec = (%v, %v)", quit, err)
	}
	if !strings.Contains(out.String(), "Aborted") {
		t.Errorf("expected abort message:\n%s", out.String())
	}
	entries, err := s.List()
	if err != nil || len(entries) != 1 {
		t.Errorf("entry should survive an aborted delete: %+v (%v)", entries, err)
	}
}

func TestShellPasswdRequiresUnlock(t *testing.T) {
	s, _ := newShellSession(t)
	sh, _ := newTestShell(s, "")
	called := false
	sh.changePass = func() error { called = true; return nil }

	if _, err := sh.exec("passwd"); err == nil {
		t.Error("passwd while locked should fail")
	}
	if err := s.Unlock(shellPassword); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if _, err := sh.exec("passwd"); err != nil || !called {
		t.Errorf("passwd while unlocked: err=%v called=%v", err, called)
	}
}

func TestShellUsageErrors(t *testing.T) {
	s, _ := newShellSession(t)
	sh, _ := newTestShell(s, "")
	for _, line := range []string{"add", "delete", "open"} {
		if _, err := sh.exec(line); err == nil || !strings.Contains(err.Error(), "usage") {
			t.Errorf("exec(%q) = %v, want usage error", line, err)
		}
	}
	if quit, err := sh.exec("   "); quit || err != nil {
		t.Errorf("blank line should be ignored, got (%v, %v)", quit, err)
	}
}
