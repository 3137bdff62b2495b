//go:build !windows

package platform

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DiskSpace returns disk space information for the filesystem holding path.
// If path does not exist yet, its parent is queried.
func DiskSpace(path string) (*DiskSpaceInfo, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		if err := unix.Statfs(filepath.Dir(path), &stat); err != nil {
			return nil, fmt.Errorf("platform: failed to get disk stats: %w", err)
		}
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bfree * uint64(stat.Bsize)
	available := stat.Bavail * uint64(stat.Bsize)

	return newDiskSpaceInfo(total, free, available), nil
}
