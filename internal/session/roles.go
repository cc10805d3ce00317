package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/claudeos/cos/internal/constants"
)

// RoleDef is a role definition loaded from .claude/roles/<role>/.
type RoleDef struct {
	Name string

	// Definition is the role.md content. A role directory without a
	// role.md is legal; the agent then runs on its mode notes alone.
	Definition string

	// Dir is the role's definition directory.
	Dir string
}

// LoadRole reads a role's definition. The role directory must exist;
// role.md inside it is optional.
func LoadRole(root, role string) (*RoleDef, error) {
	dir := constants.RolePath(root, role)
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", role, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("role %s: %s is not a directory", role, dir)
	}

	def := &RoleDef{Name: role, Dir: dir}
	data, err := os.ReadFile(filepath.Join(dir, "role.md"))
	if err == nil {
		def.Definition = strings.TrimSpace(string(data))
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("role %s: %w", role, err)
	}
	return def, nil
}

// ModeNotes reads the optional per-mode definition <role>/<mode>.md.
// Returns "" when the file does not exist.
func ModeNotes(root, role, mode string) (string, error) {
	if mode == "" {
		return "", nil
	}
	data, err := os.ReadFile(filepath.Join(constants.RolePath(root, role), mode+".md"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("mode notes %s/%s: %w", role, mode, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ListRoles returns the role names defined under .claude/roles, sorted.
// A missing roles directory is an empty list, not an error.
func ListRoles(root string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, constants.RolesDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing roles: %w", err)
	}

	var roles []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			roles = append(roles, e.Name())
		}
	}
	sort.Strings(roles)
	return roles, nil
}
