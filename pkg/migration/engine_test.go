package migration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forest6511/securefolder/internal/fsutil"
	"github.com/forest6511/securefolder/internal/platform"
	"github.com/forest6511/securefolder/pkg/config"
	"github.com/forest6511/securefolder/pkg/crypto"
)

var legacyMtime = time.Date(2020, 3, 14, 15, 9, 26, 0, time.UTC)

// scriptedPrompter answers Confirm calls in order and records the titles.
type scriptedPrompter struct {
	answers []bool
	titles  []string
}

func (p *scriptedPrompter) Confirm(title, message string) (bool, error) {
	p.titles = append(p.titles, title)
	if len(p.answers) == 0 {
		return false, nil
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

type fixture struct {
	paths       *config.Paths
	store       *config.Store
	legacy      *config.LegacyStore
	legacyVault string
	legacyHash  string
	files       map[string]string
}

func defaultTree() map[string]string {
	return map[string]string{
		"a.txt":              "alpha",
		"docs/b.pdf":         "%PDF-1.4 bravo",
		"docs/deep/er/c.bin": string([]byte{0, 1, 2, 3, 255}),
	}
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	root := t.TempDir()
	home := filepath.Join(root, "home")
	paths := config.NewPaths(filepath.Join(root, "app"), filepath.Join(home, config.LegacyDirName))

	f := &fixture{
		paths:       paths,
		store:       config.NewStore(paths, nil, nil),
		legacy:      config.NewLegacyStore(paths.LegacyConfigFile, nil),
		legacyVault: filepath.Join(home, ".secure_folder_0001"),
		legacyHash:  crypto.HashPassword("old-password"),
		files:       files,
	}

	if err := os.MkdirAll(filepath.Join(f.legacyVault, "empty"), 0700); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for rel, content := range files {
		path := filepath.Join(f.legacyVault, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		if err := os.Chtimes(path, legacyMtime, legacyMtime); err != nil {
			t.Fatalf("Chtimes failed: %v", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(paths.LegacyConfigFile), 0700); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	record := fmt.Sprintf(`{"secure_folder": %q, "password_hash": %q, "version": "1.0", "created_time": 1600000000}`,
		f.legacyVault, f.legacyHash)
	if err := os.WriteFile(paths.LegacyConfigFile, []byte(record), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return f
}

func (f *fixture) engine(p Prompter, opts ...Option) *Engine {
	opts = append([]Option{WithDiskCheck(func(string, uint64, uint64) error { return nil })}, opts...)
	return NewEngine(f.store, f.legacy, p, opts...)
}

// assertLegacyIntact checks every legacy file is still present and unchanged.
func (f *fixture) assertLegacyIntact(t *testing.T) {
	t.Helper()
	for rel, content := range f.files {
		data, err := os.ReadFile(filepath.Join(f.legacyVault, filepath.FromSlash(rel)))
		if err != nil {
			t.Errorf("legacy file %s missing: %v", rel, err)
			continue
		}
		if string(data) != content {
			t.Errorf("legacy file %s modified", rel)
		}
	}
	if _, err := os.Stat(f.paths.LegacyConfigFile); err != nil {
		t.Errorf("legacy record missing: %v", err)
	}
}

func (f *fixture) vaultDirs(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.paths.AppDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("ReadDir failed: %v", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), config.VaultDirPrefix) {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs
}

func TestDetect(t *testing.T) {
	t.Run("no record", func(t *testing.T) {
		root := t.TempDir()
		paths := config.NewPaths(filepath.Join(root, "app"), filepath.Join(root, "legacy"))
		e := NewEngine(config.NewStore(paths, nil, nil), config.NewLegacyStore(paths.LegacyConfigFile, nil), &scriptedPrompter{})

		state, legacyCfg, err := e.Detect()
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if state != StateNoLegacyData || legacyCfg != nil {
			t.Errorf("Detect() = %v, %+v", state, legacyCfg)
		}
	})

	t.Run("vault missing", func(t *testing.T) {
		f := newFixture(t, defaultTree())
		if err := os.RemoveAll(f.legacyVault); err != nil {
			t.Fatalf("RemoveAll failed: %v", err)
		}
		state, _, err := f.engine(&scriptedPrompter{}).Detect()
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if state != StateNoLegacyData {
			t.Errorf("state = %v, want %v", state, StateNoLegacyData)
		}
	})

	t.Run("detected", func(t *testing.T) {
		f := newFixture(t, defaultTree())
		e := f.engine(&scriptedPrompter{})
		state, legacyCfg, err := e.Detect()
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if state != StateLegacyDetected || e.State() != StateLegacyDetected {
			t.Errorf("state = %v, want %v", state, StateLegacyDetected)
		}
		if legacyCfg.VaultPath != f.legacyVault || legacyCfg.PasswordHash != f.legacyHash {
			t.Errorf("unexpected legacy config %+v", legacyCfg)
		}
	})
}

func TestRunNoLegacyDataTouchesNothing(t *testing.T) {
	root := t.TempDir()
	paths := config.NewPaths(filepath.Join(root, "app"), filepath.Join(root, "legacy"))
	p := &scriptedPrompter{}
	e := NewEngine(config.NewStore(paths, nil, nil), config.NewLegacyStore(paths.LegacyConfigFile, nil), p)

	res, err := e.Run(nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateNoLegacyData {
		t.Errorf("state = %v", res.State)
	}
	if len(p.titles) != 0 {
		t.Errorf("no prompt expected, got %v", p.titles)
	}
	if _, err := os.Stat(paths.AppDir); !os.IsNotExist(err) {
		t.Error("app dir should not be created")
	}
}

func TestRunMigratesTree(t *testing.T) {
	f := newFixture(t, defaultTree())
	p := &scriptedPrompter{answers: []bool{true, false}}

	var updates []Progress
	res, err := f.engine(p).Run(func(pr Progress) { updates = append(updates, pr) })
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.State != StateCleanupDeclined {
		t.Errorf("state = %v, want %v", res.State, StateCleanupDeclined)
	}
	if res.Files != len(f.files) {
		t.Errorf("Files = %d, want %d", res.Files, len(f.files))
	}
	if res.Merged || res.Skipped {
		t.Errorf("unexpected flags %+v", res)
	}

	for rel, content := range f.files {
		path := filepath.Join(res.VaultPath, filepath.FromSlash(rel))
		data, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("migrated file %s missing: %v", rel, err)
			continue
		}
		if string(data) != content {
			t.Errorf("migrated file %s differs", rel)
		}
		info, _ := os.Stat(path)
		if !info.ModTime().Equal(legacyMtime) {
			t.Errorf("mtime of %s = %v, want %v", rel, info.ModTime(), legacyMtime)
		}
	}
	if info, err := os.Stat(filepath.Join(res.VaultPath, "empty")); err != nil || !info.IsDir() {
		t.Error("empty directory not recreated")
	}

	if len(updates) != len(f.files) {
		t.Fatalf("got %d progress updates, want %d", len(updates), len(f.files))
	}
	for i, u := range updates {
		if u.Migrated != i+1 || u.Total != len(f.files) || u.Path == "" {
			t.Errorf("progress %d = %+v", i, u)
		}
	}

	cfg, err := f.store.Load()
	if err != nil || cfg == nil {
		t.Fatalf("Load() = %v, %v", cfg, err)
	}
	if cfg.PasswordHash != f.legacyHash {
		t.Error("legacy digest not carried forward")
	}
	if cfg.VaultPath != res.VaultPath || cfg.MigratedFrom != f.legacyVault {
		t.Errorf("unexpected committed config %+v", cfg)
	}
	if filepath.Dir(cfg.VaultPath) != f.paths.AppDir {
		t.Errorf("new vault %s not inside %s", cfg.VaultPath, f.paths.AppDir)
	}

	if res.BackupPath != f.legacy.BackupPath() {
		t.Errorf("BackupPath = %s", res.BackupPath)
	}
	if _, err := os.Stat(res.BackupPath); err != nil {
		t.Errorf("backup missing: %v", err)
	}
	f.assertLegacyIntact(t)

	if got := strings.Join(p.titles, ","); got != "Migrate vault,Remove old vault" {
		t.Errorf("prompts = %s", got)
	}
}

func TestRunDeclinedLeavesEverything(t *testing.T) {
	f := newFixture(t, defaultTree())
	before, err := os.ReadFile(f.paths.LegacyConfigFile)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	e := f.engine(&scriptedPrompter{answers: []bool{false}})
	res, err := e.Run(nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateUserDeclined || e.State() != StateUserDeclined {
		t.Errorf("state = %v", res.State)
	}

	cfg, err := f.store.Load()
	if err != nil || cfg != nil {
		t.Errorf("no config should be committed, got %+v (%v)", cfg, err)
	}
	if dirs := f.vaultDirs(t); len(dirs) != 0 {
		t.Errorf("no vault directory should be allocated, got %v", dirs)
	}
	after, _ := os.ReadFile(f.paths.LegacyConfigFile)
	if string(after) != string(before) {
		t.Error("legacy record changed")
	}
	if _, err := os.Stat(f.legacy.BackupPath()); !os.IsNotExist(err) {
		t.Error("backup must not be made without consent")
	}
	f.assertLegacyIntact(t)
}

func TestRunFailureLeavesLegacyIntact(t *testing.T) {
	for k := 1; k <= 3; k++ {
		t.Run(fmt.Sprintf("fail at file %d", k), func(t *testing.T) {
			f := newFixture(t, defaultTree())

			calls := 0
			var failedSrc string
			failing := func(src, dst string) error {
				calls++
				if calls == k {
					failedSrc = src
					return errors.New("simulated copy failure")
				}
				return fsutil.CopyFile(src, dst)
			}

			p := &scriptedPrompter{answers: []bool{true, true}}
			e := f.engine(p, WithCopyFunc(failing))
			_, err := e.Run(nil)

			var merr *MigrationError
			if !errors.As(err, &merr) {
				t.Fatalf("expected *MigrationError, got %v", err)
			}
			if merr.Path != failedSrc {
				t.Errorf("Path = %s, want %s", merr.Path, failedSrc)
			}
			if merr.PartialDir == "" {
				t.Fatal("PartialDir should name the partial copy")
			}
			if _, err := os.Stat(merr.PartialDir); err != nil {
				t.Errorf("partial directory should be left on disk: %v", err)
			}
			if e.State() != StateFailed {
				t.Errorf("state = %v, want %v", e.State(), StateFailed)
			}

			cfg, loadErr := f.store.Load()
			if loadErr != nil || cfg != nil {
				t.Errorf("config must not be committed, got %+v", cfg)
			}
			if _, err := os.Stat(f.legacy.BackupPath()); !os.IsNotExist(err) {
				t.Error("backup must not be made after a failure")
			}
			if len(p.titles) != 1 {
				t.Errorf("cleanup must not be offered after a failure, prompts %v", p.titles)
			}
			f.assertLegacyIntact(t)

			if err := e.DiscardPartial(merr.PartialDir); err != nil {
				t.Fatalf("DiscardPartial failed: %v", err)
			}
			if _, err := os.Stat(merr.PartialDir); !os.IsNotExist(err) {
				t.Error("partial directory still present")
			}
			f.assertLegacyIntact(t)
		})
	}
}

func TestRunCleanupAccepted(t *testing.T) {
	f := newFixture(t, defaultTree())
	res, err := f.engine(&scriptedPrompter{answers: []bool{true, true}}).Run(nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateCleanupComplete {
		t.Errorf("state = %v, want %v", res.State, StateCleanupComplete)
	}
	if _, err := os.Stat(f.legacyVault); !os.IsNotExist(err) {
		t.Error("legacy vault should be removed")
	}
	if _, err := os.Stat(f.paths.LegacyConfigFile); !os.IsNotExist(err) {
		t.Error("legacy record should be removed")
	}
	if _, err := os.Stat(res.BackupPath); err != nil {
		t.Errorf("backup must survive cleanup: %v", err)
	}
	for rel := range f.files {
		if _, err := os.Stat(filepath.Join(res.VaultPath, filepath.FromSlash(rel))); err != nil {
			t.Errorf("migrated file %s missing after cleanup", rel)
		}
	}
}

func TestRunFollowsSymlinkedFiles(t *testing.T) {
	f := newFixture(t, defaultTree())
	target := filepath.Join(t.TempDir(), "real.txt")
	if err := os.WriteFile(target, []byte("linked content"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.Symlink(target, filepath.Join(f.legacyVault, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(t.TempDir(), filepath.Join(f.legacyVault, "dirlink")); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}

	res, err := f.engine(&scriptedPrompter{answers: []bool{true, true}}).Run(nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateCleanupComplete {
		t.Errorf("state = %v, want %v", res.State, StateCleanupComplete)
	}
	if res.Files != len(f.files)+1 {
		t.Errorf("Files = %d, want %d", res.Files, len(f.files)+1)
	}

	copied := filepath.Join(res.VaultPath, "link.txt")
	info, err := os.Lstat(copied)
	if err != nil {
		t.Fatalf("linked file not migrated: %v", err)
	}
	if !info.Mode().IsRegular() {
		t.Errorf("migrated link should be a regular file, mode %v", info.Mode())
	}
	if data, _ := os.ReadFile(copied); string(data) != "linked content" {
		t.Errorf("migrated link content = %q", data)
	}
	if _, err := os.Lstat(filepath.Join(res.VaultPath, "dirlink")); !os.IsNotExist(err) {
		t.Errorf("directory link should not be migrated, got %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("cleanup must not remove the link target: %v", err)
	}
}

func TestRunKeepsBackupInsideLegacyVault(t *testing.T) {
	f := newFixture(t, defaultTree())
	// The legacy vault is the directory that also holds the legacy record.
	home := filepath.Dir(f.legacyVault)
	record := fmt.Sprintf(`{"secure_folder": %q, "password_hash": %q, "version": "1.0", "created_time": 1600000000}`,
		home, f.legacyHash)
	if err := os.WriteFile(f.paths.LegacyConfigFile, []byte(record), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	p := &scriptedPrompter{answers: []bool{true, true}}
	res, err := f.engine(p).Run(nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateMigrationComplete {
		t.Errorf("state = %v, want %v", res.State, StateMigrationComplete)
	}
	if got := strings.Join(p.titles, ","); got != "Migrate vault" {
		t.Errorf("prompts = %q, cleanup should not be offered", got)
	}
	if _, err := os.Stat(res.BackupPath); err != nil {
		t.Errorf("backup missing: %v", err)
	}
	f.assertLegacyIntact(t)

	e := f.engine(&scriptedPrompter{})
	if err := e.cleanup(res); !errors.Is(err, ErrUnsafeCleanup) {
		t.Errorf("cleanup() = %v, want ErrUnsafeCleanup", err)
	}
	if _, err := os.Stat(res.BackupPath); err != nil {
		t.Errorf("backup removed by refused cleanup: %v", err)
	}
}

func TestRunAlreadyMigrated(t *testing.T) {
	f := newFixture(t, defaultTree())
	first, err := f.engine(&scriptedPrompter{answers: []bool{true, false}}).Run(nil)
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	t.Run("reminder", func(t *testing.T) {
		p := &scriptedPrompter{answers: []bool{false}}
		res, err := f.engine(p).Run(nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if !res.Skipped || res.State != StateCleanupDeclined {
			t.Errorf("unexpected result %+v", res)
		}
		if res.VaultPath != first.VaultPath {
			t.Errorf("VaultPath = %s, want %s", res.VaultPath, first.VaultPath)
		}
		if len(p.titles) != 1 || p.titles[0] != "Remove old vault" {
			t.Errorf("only the cleanup offer expected, got %v", p.titles)
		}
	})

	t.Run("no reminder", func(t *testing.T) {
		p := &scriptedPrompter{}
		res, err := f.engine(p, WithCleanupReminder(false)).Run(nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if !res.Skipped || res.State != StateMigrationComplete {
			t.Errorf("unexpected result %+v", res)
		}
		if len(p.titles) != 0 {
			t.Errorf("no prompt expected, got %v", p.titles)
		}
	})

	if dirs := f.vaultDirs(t); len(dirs) != 1 {
		t.Errorf("expected exactly one vault directory, got %v", dirs)
	}
}

func TestRunMergesIntoExistingVault(t *testing.T) {
	f := newFixture(t, defaultTree())
	vaultDir, err := f.store.NewVaultDir()
	if err != nil {
		t.Fatalf("NewVaultDir failed: %v", err)
	}
	current := config.NewConfig(crypto.HashPassword("new-password"), vaultDir)
	if err := f.store.Save(current); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	res, err := f.engine(&scriptedPrompter{answers: []bool{true, false}}).Run(nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Merged {
		t.Error("expected merge into the existing vault")
	}
	if filepath.Dir(res.VaultPath) != vaultDir || !strings.HasPrefix(filepath.Base(res.VaultPath), mergeDirPrefix) {
		t.Errorf("unexpected merge folder %s", res.VaultPath)
	}
	for rel := range f.files {
		if _, err := os.Stat(filepath.Join(res.VaultPath, filepath.FromSlash(rel))); err != nil {
			t.Errorf("merged file %s missing", rel)
		}
	}

	cfg, _ := f.store.Load()
	if cfg.PasswordHash != current.PasswordHash || cfg.VaultPath != vaultDir {
		t.Error("existing vault identity must be kept")
	}
	if cfg.MigratedFrom != f.legacyVault {
		t.Errorf("MigratedFrom = %s", cfg.MigratedFrom)
	}
}

func TestRunInsufficientDisk(t *testing.T) {
	f := newFixture(t, defaultTree())
	full := func(string, uint64, uint64) error {
		return fmt.Errorf("%w: test", platform.ErrInsufficientDisk)
	}
	e := NewEngine(f.store, f.legacy, &scriptedPrompter{answers: []bool{true}}, WithDiskCheck(full))

	_, err := e.Run(nil)
	var merr *MigrationError
	if !errors.As(err, &merr) || !errors.Is(err, platform.ErrInsufficientDisk) {
		t.Fatalf("expected insufficient disk MigrationError, got %v", err)
	}
	if merr.PartialDir != "" {
		t.Errorf("nothing should be allocated, PartialDir = %s", merr.PartialDir)
	}
	if dirs := f.vaultDirs(t); len(dirs) != 0 {
		t.Errorf("no vault directory expected, got %v", dirs)
	}
	f.assertLegacyIntact(t)
}

func TestStartJob(t *testing.T) {
	f := newFixture(t, defaultTree())
	job := f.engine(&scriptedPrompter{answers: []bool{true, false}}).Start()

	var updates []Progress
	for p := range job.Progress() {
		updates = append(updates, p)
	}
	res, err := job.Wait()
	if err != nil {
		t.Fatalf("job failed: %v", err)
	}
	if res.State != StateCleanupDeclined {
		t.Errorf("state = %v", res.State)
	}
	if len(updates) != len(f.files) || updates[len(updates)-1].Migrated != len(f.files) {
		t.Errorf("unexpected progress %+v", updates)
	}
}

func TestJobWaitWithoutReading(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < progressBuffer*2; i++ {
		files[fmt.Sprintf("f%03d.txt", i)] = "x"
	}
	f := newFixture(t, files)

	res, err := f.engine(&scriptedPrompter{answers: []bool{true, false}}).Start().Wait()
	if err != nil {
		t.Fatalf("job failed: %v", err)
	}
	if res.Files != len(files) {
		t.Errorf("Files = %d, want %d", res.Files, len(files))
	}
}

func TestDiscardPartialRefusesLiveData(t *testing.T) {
	f := newFixture(t, defaultTree())
	res, err := f.engine(&scriptedPrompter{answers: []bool{true, false}}).Run(nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	e := f.engine(&scriptedPrompter{})

	for _, dir := range []string{res.VaultPath, f.legacyVault, f.paths.AppDir} {
		if err := e.DiscardPartial(dir); err == nil {
			t.Errorf("DiscardPartial(%s) should be refused", dir)
		}
	}
	if err := e.DiscardPartial(""); err != nil {
		t.Errorf("empty path should be a no-op, got %v", err)
	}
}

func TestWithin(t *testing.T) {
	sep := string(filepath.Separator)
	tests := []struct {
		path, parent string
		want         bool
	}{
		{sep + "a", sep + "a", true},
		{sep + filepath.Join("a", "b"), sep + "a", true},
		{sep + "ab", sep + "a", false},
		{sep + "a", sep + filepath.Join("a", "b"), false},
		{"", sep + "a", false},
	}
	for _, tt := range tests {
		if got := within(tt.path, tt.parent); got != tt.want {
			t.Errorf("within(%q, %q) = %v, want %v", tt.path, tt.parent, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateCleanupDeclined.String() != "cleanup-declined" {
		t.Errorf("String() = %s", StateCleanupDeclined)
	}
	if State(99).String() != "unknown" {
		t.Error("unknown state should render as unknown")
	}
	if !StateCleanupComplete.Migrated() || StateUserDeclined.Migrated() {
		t.Error("Migrated() mismatch")
	}
}
