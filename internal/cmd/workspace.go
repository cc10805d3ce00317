package cmd

import (
	"fmt"

	"github.com/claudeos/cos/internal/config"
	"github.com/claudeos/cos/internal/db"
)

// requireWorkspace resolves the workspace root from the current directory.
func requireWorkspace() (string, error) {
	root, err := config.FindFromCwd()
	if err != nil {
		return "", fmt.Errorf("not in a workspace: %w", err)
	}
	return root, nil
}

// openWorkspaceDB finds the workspace and opens its migrated database.
// Callers own Close.
func openWorkspaceDB() (string, *db.DB, error) {
	root, err := requireWorkspace()
	if err != nil {
		return "", nil, err
	}
	database, err := db.OpenWorkspace(root)
	if err != nil {
		return "", nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return "", nil, fmt.Errorf("migrating database: %w", err)
	}
	return root, database, nil
}
