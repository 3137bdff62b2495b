// Package fsutil holds the file-copy and atomic-write helpers shared by the
// vault, config and migration packages.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Permission bits for files and directories created by securefolder.
const (
	FileMode = 0600 // Owner read/write only
	DirMode  = 0700 // Owner read/write/execute only
)

// tempPattern names in-flight files. The leading dot keeps them out of
// vault listings.
const tempPattern = ".securefolder-*.tmp"

// ErrNotRegular is returned when a copy source is not a regular file.
var ErrNotRegular = errors.New("fsutil: not a regular file")

// IsTemp reports whether name looks like an in-flight temp file.
func IsTemp(name string) bool {
	ok, _ := filepath.Match(tempPattern, name)
	return ok
}

// WriteFileAtomic writes data to a temp file in the target directory, syncs
// it, and renames it over path. A crash leaves either the old or the new
// content, never a truncated file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("fsutil: failed to create temp file: %w", err)
	}
	tempPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("fsutil: failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("fsutil: failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("fsutil: failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("fsutil: failed to set permissions: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("fsutil: failed to replace %s: %w", path, err)
	}
	return nil
}

// CopyFile copies the regular file src to dst, preserving permission bits
// and modification time. Content is staged in a temp file next to dst and
// renamed into place only after a complete copy, so a failure never leaves
// a partial dst. An existing dst is replaced.
func CopyFile(src, dst string) error {
	tempPath, err := StageCopy(src, filepath.Dir(dst))
	if err != nil {
		return err
	}
	if err := os.Rename(tempPath, dst); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("fsutil: failed to move %s into place: %w", dst, err)
	}
	return nil
}

// StageCopy copies the regular file src into a new temp file in dir and
// returns its path. The temp file carries src's permission bits and
// modification time; the caller moves it into place or removes it.
func StageCopy(src, dir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("fsutil: failed to open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("fsutil: failed to stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotRegular, src)
	}

	out, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("fsutil: failed to create temp file: %w", err)
	}
	tempPath := out.Name()

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("fsutil: failed to copy %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("fsutil: failed to sync %s: %w", tempPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("fsutil: failed to close %s: %w", tempPath, err)
	}

	if err := os.Chmod(tempPath, info.Mode().Perm()); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("fsutil: failed to set permissions: %w", err)
	}
	mtime := info.ModTime()
	if err := os.Chtimes(tempPath, mtime, mtime); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("fsutil: failed to set modification time: %w", err)
	}
	return tempPath, nil
}
