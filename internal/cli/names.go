// Package cli provides shared helpers for the securefolder commands.
package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNoMatch is returned when a name or pattern selects no entry.
var ErrNoMatch = errors.New("no matching entry")

// ExpandName resolves one argument against the entry names. An argument that
// is itself an entry name selects that entry, so names containing glob
// characters stay addressable. Otherwise an argument with *, ? or [ is
// matched as a glob.
func ExpandName(arg string, names []string) ([]string, error) {
	for _, name := range names {
		if name == arg {
			return []string{arg}, nil
		}
	}
	if !strings.ContainsAny(arg, "*?[") {
		return nil, fmt.Errorf("%w: '%s'", ErrNoMatch, arg)
	}

	if _, err := filepath.Match(arg, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", arg, err)
	}

	var matches []string
	for _, name := range names {
		if ok, _ := filepath.Match(arg, name); ok {
			matches = append(matches, name)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: pattern '%s'", ErrNoMatch, arg)
	}
	return matches, nil
}

// ExpandNames resolves every argument and returns the selected names without
// duplicates, in order of first selection.
func ExpandNames(args, names []string) ([]string, error) {
	seen := make(map[string]bool)
	var result []string

	for _, arg := range args {
		matches, err := ExpandName(arg, names)
		if err != nil {
			return nil, err
		}
		for _, name := range matches {
			if !seen[name] {
				seen[name] = true
				result = append(result, name)
			}
		}
	}
	return result, nil
}
