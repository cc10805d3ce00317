package session

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeRole(t *testing.T, root, role string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, ".claude", "roles", role)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoadRole(t *testing.T) {
	root := t.TempDir()
	writeRole(t, root, "researcher", map[string]string{
		"role.md": "# Researcher\n\nDig deep, cite sources.\n",
	})

	def, err := LoadRole(root, "researcher")
	if err != nil {
		t.Fatalf("LoadRole() error: %v", err)
	}
	if def.Name != "researcher" {
		t.Errorf("Name = %q", def.Name)
	}
	if def.Definition != "# Researcher\n\nDig deep, cite sources." {
		t.Errorf("Definition = %q", def.Definition)
	}
}

func TestLoadRole_NoDefinitionFile(t *testing.T) {
	root := t.TempDir()
	writeRole(t, root, "sparse", nil)

	def, err := LoadRole(root, "sparse")
	if err != nil {
		t.Fatalf("LoadRole() error: %v", err)
	}
	if def.Definition != "" {
		t.Errorf("Definition = %q, want empty", def.Definition)
	}
}

func TestLoadRole_Missing(t *testing.T) {
	if _, err := LoadRole(t.TempDir(), "ghost"); err == nil {
		t.Error("LoadRole() on missing role should fail")
	}
}

func TestModeNotes(t *testing.T) {
	root := t.TempDir()
	writeRole(t, root, "researcher", map[string]string{
		"background.md": "Run unattended. Write findings to progress.md.\n",
	})

	notes, err := ModeNotes(root, "researcher", "background")
	if err != nil {
		t.Fatalf("ModeNotes() error: %v", err)
	}
	if notes != "Run unattended. Write findings to progress.md." {
		t.Errorf("notes = %q", notes)
	}

	// Absent mode file and empty mode are both quietly empty.
	if notes, err := ModeNotes(root, "researcher", "interactive"); err != nil || notes != "" {
		t.Errorf("ModeNotes(absent) = %q, %v", notes, err)
	}
	if notes, err := ModeNotes(root, "researcher", ""); err != nil || notes != "" {
		t.Errorf("ModeNotes(empty mode) = %q, %v", notes, err)
	}
}

func TestListRoles(t *testing.T) {
	root := t.TempDir()
	writeRole(t, root, "writer", nil)
	writeRole(t, root, "researcher", nil)
	// Hidden dirs and loose files are not roles.
	writeRole(t, root, ".archive", nil)
	if err := os.WriteFile(filepath.Join(root, ".claude", "roles", "README.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	roles, err := ListRoles(root)
	if err != nil {
		t.Fatalf("ListRoles() error: %v", err)
	}
	if !reflect.DeepEqual(roles, []string{"researcher", "writer"}) {
		t.Errorf("ListRoles() = %v", roles)
	}
}

func TestListRoles_NoDir(t *testing.T) {
	roles, err := ListRoles(t.TempDir())
	if err != nil {
		t.Fatalf("ListRoles() error: %v", err)
	}
	if roles != nil {
		t.Errorf("ListRoles() = %v, want nil", roles)
	}
}
