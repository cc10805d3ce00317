package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/claudeos/cos/internal/constants"
)

// ErrNotFound indicates no workspace was found.
var ErrNotFound = errors.New("not inside a workspace (no .engine directory found)")

// Find locates the workspace root by walking up from the given directory.
// A directory is a workspace root iff it contains an .engine directory.
// Does not resolve symlinks to stay consistent with os.Getwd().
func Find(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	current := absDir
	for {
		marker := filepath.Join(current, constants.EngineDir)
		if fi, err := os.Stat(marker); err == nil && fi.IsDir() {
			return current, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", ErrNotFound
		}
		current = parent
	}
}

// FindFromCwd locates the workspace root from the current working directory.
func FindFromCwd() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	return Find(cwd)
}

// IsWorkspace reports whether dir is a workspace root.
func IsWorkspace(dir string) bool {
	fi, err := os.Stat(filepath.Join(dir, constants.EngineDir))
	return err == nil && fi.IsDir()
}
