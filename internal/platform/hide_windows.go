//go:build windows

package platform

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// HidePath sets FILE_ATTRIBUTE_HIDDEN on path.
func HidePath(path string) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return fmt.Errorf("platform: failed to convert path: %w", err)
	}

	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return fmt.Errorf("platform: failed to read attributes of %s: %w", path, err)
	}
	if attrs&windows.FILE_ATTRIBUTE_HIDDEN != 0 {
		return nil
	}

	if err := windows.SetFileAttributes(p, attrs|windows.FILE_ATTRIBUTE_HIDDEN); err != nil {
		return fmt.Errorf("platform: failed to hide %s: %w", path, err)
	}
	return nil
}
