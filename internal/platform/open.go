package platform

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ErrNoLauncher is returned when no launcher command is configured.
var ErrNoLauncher = errors.New("platform: no launcher command available")

// Launcher opens files with an external program. The path is appended as
// the last argument.
type Launcher struct {
	Command []string
}

// DefaultLauncher returns the launcher for the host operating system.
// A non-empty override (for example "code --wait") replaces it.
func DefaultLauncher(override string) *Launcher {
	if fields := strings.Fields(override); len(fields) > 0 {
		return &Launcher{Command: fields}
	}

	switch runtime.GOOS {
	case "windows":
		return &Launcher{Command: []string{"rundll32", "url.dll,FileProtocolHandler"}}
	case "darwin":
		return &Launcher{Command: []string{"open"}}
	default:
		return &Launcher{Command: []string{"xdg-open"}}
	}
}

// Open starts the launcher for path without waiting for the application to
// exit.
func (l *Launcher) Open(path string) error {
	if len(l.Command) == 0 {
		return ErrNoLauncher
	}

	args := append(append([]string{}, l.Command[1:]...), path)
	cmd := exec.Command(l.Command[0], args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("platform: failed to open %s: %w", path, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
