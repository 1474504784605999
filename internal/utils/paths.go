package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveDirectoryPath resolves a user-supplied directory path against the
// configured media root and verifies it points at an existing directory.
// Relative paths are joined to the root; absolute paths must stay inside it
// so API callers cannot register arbitrary filesystem locations.
func ResolveDirectoryPath(mediaRoot, input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("directory path is required")
	}

	root, err := filepath.Abs(mediaRoot)
	if err != nil {
		return "", fmt.Errorf("invalid media root %q: %w", mediaRoot, err)
	}

	resolved := input
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)

	if !PathWithin(root, resolved) {
		return "", fmt.Errorf("path %q is outside the media root", input)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("directory %q does not exist", resolved)
		}
		return "", fmt.Errorf("failed to stat %q: %w", resolved, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%q is not a directory", resolved)
	}

	return resolved, nil
}

// PathWithin reports whether path sits at or below root. Both arguments
// must already be absolute and cleaned.
func PathWithin(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
