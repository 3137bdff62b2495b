package platform

import (
	"errors"
	"fmt"
)

// ErrInsufficientDisk is returned when a write would leave too little space.
var ErrInsufficientDisk = errors.New("platform: insufficient disk space")

// DiskSpaceInfo contains disk usage information in bytes.
type DiskSpaceInfo struct {
	Total     uint64
	Free      uint64
	Available uint64 // available to non-root users
	UsedPct   int
}

func newDiskSpaceInfo(total, free, available uint64) *DiskSpaceInfo {
	usedPct := 0
	if total > 0 {
		usedPct = int(100 * (total - free) / total)
	}
	return &DiskSpaceInfo{
		Total:     total,
		Free:      free,
		Available: available,
		UsedPct:   usedPct,
	}
}

// CheckFreeSpace verifies that writing size bytes under path keeps at least
// minFree bytes available. Errors querying the filesystem are returned to the
// caller, which decides whether to block on them.
func CheckFreeSpace(path string, size, minFree uint64) error {
	info, err := DiskSpace(path)
	if err != nil {
		return err
	}

	required := minFree + size
	if info.Available < required {
		return fmt.Errorf("%w: only %d MB available, need at least %d MB",
			ErrInsufficientDisk,
			info.Available/(1024*1024),
			required/(1024*1024))
	}
	return nil
}
