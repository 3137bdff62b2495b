//go:build windows

package platform

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// DiskSpace returns disk space information for the volume holding path.
// If path does not exist yet, its parent is queried.
func DiskSpace(path string) (*DiskSpaceInfo, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = filepath.Dir(path)
	}

	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("platform: failed to convert path: %w", err)
	}

	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	err = windows.GetDiskFreeSpaceEx(pathPtr, &freeBytesAvailable, &totalBytes, &totalFreeBytes)
	if err != nil {
		return nil, fmt.Errorf("platform: failed to get disk stats: %w", err)
	}

	return newDiskSpaceInfo(totalBytes, totalFreeBytes, freeBytesAvailable), nil
}
