package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/claudeos/cos/internal/config"
)

type newWindowCall struct {
	session string
	name    string
	dir     string
	env     map[string]string
	command string
}

// fakeMux is an in-memory Multiplexer.
type fakeMux struct {
	sessions map[string]bool
	windows  map[string]bool
	created  []newWindowCall
	killed   []string
	styled   map[string]string
	nextPane int
}

func newFakeMux() *fakeMux {
	return &fakeMux{
		sessions: make(map[string]bool),
		windows:  make(map[string]bool),
		styled:   make(map[string]string),
	}
}

func (f *fakeMux) EnsureSession(name, dir string) error {
	f.sessions[name] = true
	return nil
}

func (f *fakeMux) WindowExists(session, window string) (bool, error) {
	return f.windows[session+":"+window], nil
}

func (f *fakeMux) NewWindow(session, name, dir string, env map[string]string, command string) (string, error) {
	f.created = append(f.created, newWindowCall{session, name, dir, env, command})
	f.windows[session+":"+name] = true
	f.nextPane++
	return fmt.Sprintf("%%%d", f.nextPane), nil
}

func (f *fakeMux) KillWindow(session, window string) error {
	f.killed = append(f.killed, session+":"+window)
	delete(f.windows, session+":"+window)
	return nil
}

func (f *fakeMux) SetPaneStyle(target, style string) error {
	f.styled[target] = style
	return nil
}

func TestSpawnRequiredFields(t *testing.T) {
	mux := newFakeMux()
	cfg := config.Default()

	if _, err := Spawn(mux, cfg, t.TempDir(), SpawnConfig{Role: "researcher"}); err == nil {
		t.Error("Spawn without SessionID should fail")
	}
	if _, err := Spawn(mux, cfg, t.TempDir(), SpawnConfig{SessionID: "ab12cd34"}); err == nil {
		t.Error("Spawn without Role should fail")
	}
}

func TestSpawnSpecialist(t *testing.T) {
	mux := newFakeMux()
	cfg := config.Default()
	root := t.TempDir()

	res, err := Spawn(mux, cfg, root, SpawnConfig{
		SessionID:   "ab12cd34",
		Role:        "researcher",
		Description: "market research",
	})
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	if res.Pane != "%1" {
		t.Errorf("Pane = %q, want %%1", res.Pane)
	}
	if res.WindowName != "researcher-ab12cd34" {
		t.Errorf("WindowName = %q", res.WindowName)
	}
	wantDir := filepath.Join(root, "Desktop", "working", "ab12cd34")
	if res.WorkDir != wantDir {
		t.Errorf("WorkDir = %q, want %q", res.WorkDir, wantDir)
	}
	if fi, err := os.Stat(wantDir); err != nil || !fi.IsDir() {
		t.Errorf("working dir not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(wantDir, ".claude", "settings.json")); err != nil {
		t.Errorf("settings not materialized: %v", err)
	}

	if len(mux.created) != 1 {
		t.Fatalf("NewWindow called %d times, want 1", len(mux.created))
	}
	call := mux.created[0]
	if call.session != "life" {
		t.Errorf("session = %q, want life", call.session)
	}
	if call.env["CLAUDE_SESSION_ID"] != "ab12cd34" {
		t.Errorf("env CLAUDE_SESSION_ID = %q", call.env["CLAUDE_SESSION_ID"])
	}
	if call.env["CLAUDE_SESSION_ROLE"] != "researcher" {
		t.Errorf("env CLAUDE_SESSION_ROLE = %q", call.env["CLAUDE_SESSION_ROLE"])
	}
	if call.env["CLAUDE_SESSION_MODE"] != "interactive" {
		t.Errorf("mode should default to interactive, got %q", call.env["CLAUDE_SESSION_MODE"])
	}
	if call.env["CLAUDE_CONVERSATION_ID"] != "ab12cd34" {
		t.Errorf("specialist conversation should default to its own id, got %q", call.env["CLAUDE_CONVERSATION_ID"])
	}
	if call.command != "claude" {
		t.Errorf("command = %q, want claude", call.command)
	}

	if style, ok := mux.styled["%1"]; !ok || style == "" {
		t.Error("pane theme not applied")
	}
}

func TestSpawnChiefDefaults(t *testing.T) {
	mux := newFakeMux()
	cfg := config.Default()

	res, err := Spawn(mux, cfg, t.TempDir(), SpawnConfig{
		SessionID: "chief001",
		Role:      "chief",
	})
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	if res.WindowName != "chief" {
		t.Errorf("chief window = %q, want chief", res.WindowName)
	}
	call := mux.created[0]
	if call.env["CLAUDE_CONVERSATION_ID"] != "chief" {
		t.Errorf("chief conversation = %q, want chief", call.env["CLAUDE_CONVERSATION_ID"])
	}
}

func TestSpawnWindowCollision(t *testing.T) {
	mux := newFakeMux()
	cfg := config.Default()
	root := t.TempDir()

	if _, err := Spawn(mux, cfg, root, SpawnConfig{SessionID: "a1b2c3d4", Role: "chief"}); err != nil {
		t.Fatalf("first Spawn() error: %v", err)
	}

	_, err := Spawn(mux, cfg, root, SpawnConfig{SessionID: "e5f6a7b8", Role: "chief"})
	if err == nil {
		t.Fatal("second Spawn into the same window should fail without Replace")
	}

	res, err := Spawn(mux, cfg, root, SpawnConfig{SessionID: "e5f6a7b8", Role: "chief", Replace: true})
	if err != nil {
		t.Fatalf("Spawn with Replace error: %v", err)
	}
	if len(mux.killed) != 1 || mux.killed[0] != "life:chief" {
		t.Errorf("killed = %v, want [life:chief]", mux.killed)
	}
	if res.Pane == "%1" {
		t.Error("replacement should land in a fresh pane")
	}
}

func TestSpawnPromptAndInheritance(t *testing.T) {
	mux := newFakeMux()
	cfg := config.Default()

	_, err := Spawn(mux, cfg, t.TempDir(), SpawnConfig{
		SessionID:       "e5f6a7b8",
		Role:            "chief",
		ConversationID:  "chief",
		ParentSessionID: "a1b2c3d4",
		SpecPath:        "/tmp/handoff.md",
		Prompt:          "resume from handoff",
	})
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	call := mux.created[0]
	if call.env["CLAUDE_PARENT_SESSION_ID"] != "a1b2c3d4" {
		t.Errorf("parent id = %q", call.env["CLAUDE_PARENT_SESSION_ID"])
	}
	if call.env["SPEC_PATH"] != "/tmp/handoff.md" {
		t.Errorf("spec path = %q", call.env["SPEC_PATH"])
	}
	if !strings.HasSuffix(call.command, "'resume from handoff'") {
		t.Errorf("prompt not passed to command: %q", call.command)
	}
}

func TestSpawnExplicitWorkDir(t *testing.T) {
	mux := newFakeMux()
	cfg := config.Default()
	root := t.TempDir()
	dir := filepath.Join(root, "custom")

	res, err := Spawn(mux, cfg, root, SpawnConfig{
		SessionID: "ab12cd34",
		Role:      "researcher",
		WorkDir:   dir,
	})
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	if res.WorkDir != dir {
		t.Errorf("WorkDir = %q, want %q", res.WorkDir, dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("explicit work dir not created: %v", err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("CLAUDE_SESSION_ID", "ab12cd34")
	t.Setenv("CLAUDE_SESSION_ROLE", "researcher")
	t.Setenv("CLAUDE_SESSION_MODE", "background")
	t.Setenv("CLAUDE_CONVERSATION_ID", "conv-1")
	t.Setenv("TMUX_PANE", "%7")

	id := FromEnv()
	if !id.Registered() {
		t.Error("Registered() = false with session id set")
	}
	if id.SessionID != "ab12cd34" || id.Role != "researcher" || id.Mode != "background" {
		t.Errorf("FromEnv() = %+v", id)
	}
	if id.Pane != "%7" {
		t.Errorf("Pane = %q, want %%7", id.Pane)
	}
}

func TestFromEnvEmpty(t *testing.T) {
	t.Setenv("CLAUDE_SESSION_ID", "")
	if FromEnv().Registered() {
		t.Error("Registered() = true with no session id")
	}
}
