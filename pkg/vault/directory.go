package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/securefolder/internal/fsutil"
	"github.com/forest6511/securefolder/internal/platform"
)

// EntryKind distinguishes files from foreign directories.
type EntryKind int

const (
	EntryFile EntryKind = iota
	EntryDirectory
)

func (k EntryKind) String() string {
	if k == EntryDirectory {
		return "folder"
	}
	return "file"
}

// VaultEntry is a direct child of the vault directory.
type VaultEntry struct {
	Name       string
	Kind       EntryKind
	SizeBytes  int64 // 0 for directories
	ModifiedAt time.Time
}

// Navigable reports whether the entry can be opened. Directories are listed
// and deletable but never browsed.
func (e VaultEntry) Navigable() bool {
	return e.Kind == EntryFile
}

// Opener opens a file with the default application.
type Opener interface {
	Open(path string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) error

func (f OpenerFunc) Open(path string) error { return f(path) }

// DiskCheckFunc verifies that size more bytes fit under path while keeping
// minFree bytes available.
type DiskCheckFunc func(path string, size, minFree uint64) error

// Stats summarizes the vault contents.
type Stats struct {
	Path       string
	Files      int
	Folders    int
	TotalBytes int64
}

// Directory performs file operations inside a vault directory. It does not
// check lock state; Session does.
type Directory struct {
	path      string
	opener    Opener
	minFree   uint64
	diskCheck DiskCheckFunc
	logger    *slog.Logger
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithMinFreeSpace sets the free space that Add must leave on disk.
func WithMinFreeSpace(bytes uint64) DirectoryOption {
	return func(d *Directory) { d.minFree = bytes }
}

// WithDiskCheck replaces the free space check.
func WithDiskCheck(fn DiskCheckFunc) DirectoryOption {
	return func(d *Directory) { d.diskCheck = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DirectoryOption {
	return func(d *Directory) { d.logger = logger }
}

// NewDirectory returns a Directory rooted at path. opener may be nil, in
// which case Open fails with ErrNoOpener.
func NewDirectory(path string, opener Opener, opts ...DirectoryOption) *Directory {
	d := &Directory{
		path:      path,
		opener:    opener,
		diskCheck: platform.CheckFreeSpace,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	return d
}

// Path returns the vault directory path.
func (d *Directory) Path() string {
	return d.path
}

// List returns one entry per direct child. Symbolic links are followed and
// reported only when they resolve to regular files; other kinds are skipped.
func (d *Directory) List() ([]VaultEntry, error) {
	dirEntries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read vault directory: %w", err)
	}

	entries := make([]VaultEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if fsutil.IsTemp(de.Name()) {
			continue
		}
		info, err := os.Stat(filepath.Join(d.path, de.Name()))
		if err != nil {
			d.logger.Debug("skipping unreadable entry", "name", de.Name(), "error", err)
			continue
		}
		entry, ok := entryFromInfo(de.Name(), info, de.Type()&fs.ModeSymlink != 0)
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func entryFromInfo(name string, info fs.FileInfo, symlink bool) (VaultEntry, bool) {
	switch {
	case info.Mode().IsRegular():
		return VaultEntry{
			Name:       name,
			Kind:       EntryFile,
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		}, true
	case info.IsDir() && !symlink:
		return VaultEntry{
			Name:       name,
			Kind:       EntryDirectory,
			ModifiedAt: info.ModTime(),
		}, true
	default:
		return VaultEntry{}, false
	}
}

// Add copies the regular file at sourcePath into the vault. If the name is
// taken, "_<n>" is inserted before the extension with the lowest free n. An
// existing entry is never overwritten, and the copy is staged under a temp
// name so a failed or interrupted copy leaves no entry.
func (d *Directory) Add(sourcePath string) (*VaultEntry, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, sourcePath)
	}

	name := norm.NFC.String(filepath.Base(sourcePath))
	if err := ValidateEntryName(name); err != nil {
		return nil, err
	}

	if err := d.diskCheck(d.path, uint64(info.Size()), d.minFree); err != nil {
		if errors.Is(err, ErrInsufficientDisk) {
			return nil, err
		}
		d.logger.Warn("failed to check disk space", "path", d.path, "error", err)
	}

	staged, err := fsutil.StageCopy(sourcePath, d.path)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to copy %s: %w", sourcePath, err)
	}
	defer os.Remove(staged)

	dst, err := d.publish(staged, name)
	if err != nil {
		return nil, err
	}

	copied, err := os.Stat(dst)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to stat added entry: %w", err)
	}
	entry, _ := entryFromInfo(filepath.Base(dst), copied, false)
	return &entry, nil
}

// publish gives the staged copy the first free collision name. A hard link
// never replaces an existing entry, and until it succeeds the copy is only
// visible under its temp name.
func (d *Directory) publish(staged, name string) (string, error) {
	for n := 0; ; n++ {
		path := filepath.Join(d.path, CollisionName(name, n))
		err := os.Link(staged, path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			d.logger.Debug("hard link failed, reserving name instead", "path", path, "error", err)
			return d.reserveAndRename(staged, name)
		}
	}
}

// reserveAndRename claims the first free collision name with an exclusive
// create and renames the staged copy over it, for file systems without
// hard links.
func (d *Directory) reserveAndRename(staged, name string) (string, error) {
	for n := 0; ; n++ {
		path := filepath.Join(d.path, CollisionName(name, n))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fsutil.FileMode)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return "", fmt.Errorf("vault: failed to reserve entry name: %w", err)
		}
		f.Close()
		if err := os.Rename(staged, path); err != nil {
			if rmErr := os.Remove(path); rmErr != nil {
				d.logger.Warn("failed to release reserved name", "path", path, "error", rmErr)
			}
			return "", fmt.Errorf("vault: failed to add %s: %w", path, err)
		}
		return path, nil
	}
}

// CollisionName returns name with "_<n>" inserted before its extension, or
// name itself for n == 0. A leading dot does not start an extension.
func CollisionName(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		base, ext = name, ""
	}
	return base + "_" + strconv.Itoa(n) + ext
}

// ValidateEntryName rejects names that would escape the vault directory.
func ValidateEntryName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) ||
		strings.ContainsRune(name, filepath.Separator) {
		return fmt.Errorf("%w: %q", ErrInvalidEntryName, name)
	}
	return nil
}

func (d *Directory) resolve(name string) (string, fs.FileInfo, error) {
	if err := ValidateEntryName(name); err != nil {
		return "", nil, err
	}
	path := filepath.Join(d.path, name)
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
		}
		return "", nil, fmt.Errorf("vault: failed to stat %s: %w", name, err)
	}
	return path, info, nil
}

// Delete removes a file entry, or a directory entry with everything in it.
// Confirmation is the caller's responsibility.
func (d *Directory) Delete(name string) error {
	path, info, err := d.resolve(name)
	if err != nil {
		return err
	}

	if info.IsDir() {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return fmt.Errorf("vault: failed to delete %s: %w", name, err)
	}
	return nil
}

// Open hands a file entry to the Opener. Directory entries return
// ErrNotNavigable without any other action.
func (d *Directory) Open(name string) error {
	path, info, err := d.resolve(name)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotNavigable, name)
	}
	if d.opener == nil {
		return ErrNoOpener
	}
	if err := d.opener.Open(path); err != nil {
		return fmt.Errorf("vault: failed to open %s: %w", name, err)
	}
	return nil
}

// Stats counts files, folders and bytes recursively.
func (d *Directory) Stats() (*Stats, error) {
	stats := &Stats{Path: d.path}
	err := filepath.WalkDir(d.path, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == d.path || fsutil.IsTemp(de.Name()) {
			return nil
		}
		if de.IsDir() {
			stats.Folders++
			return nil
		}
		if !de.Type().IsRegular() {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return err
		}
		stats.Files++
		stats.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vault: failed to scan vault: %w", err)
	}
	return stats, nil
}
