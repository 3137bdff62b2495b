//go:build !windows

package platform

// HidePath is a no-op on Unix-like systems: vault paths are dot-prefixed,
// which file browsers already treat as hidden.
func HidePath(path string) error {
	return nil
}
