package handoff

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudeos/cos/internal/config"
	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/db"
	"github.com/claudeos/cos/internal/eventbus"
	"github.com/claudeos/cos/internal/registry"
)

func openTestStore(t *testing.T) (*Store, *registry.Registry, string) {
	t.Helper()
	root := t.TempDir()
	database, err := db.Open(filepath.Join(root, "system.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { _ = database.Close() })
	return NewStore(database), registry.New(database, nil), root
}

func registerLive(t *testing.T, reg *registry.Registry, id, pane string) {
	t.Helper()
	_, err := reg.Register(registry.RegisterParams{
		SessionID:      id,
		Role:           "builder",
		Mode:           constants.ModeInteractive,
		Pane:           pane,
		ConversationID: "conv-" + id,
		TranscriptPath: "/tmp/" + id + ".jsonl",
	})
	require.NoError(t, err)
}

func TestStoreTransitionsAreMonotonic(t *testing.T) {
	store, _, _ := openTestStore(t)

	h := &Handoff{SessionID: "abc12345", Reason: constants.ReasonContextLow}
	require.NoError(t, store.Create(h))
	assert.Equal(t, StatusPending, h.Status)

	// pending → executing → complete, and no back-edges.
	require.NoError(t, store.MarkExecuting(h.ID))
	assert.Error(t, store.MarkExecuting(h.ID))
	require.NoError(t, store.Complete(h.ID, "def67890"))
	assert.Error(t, store.Complete(h.ID, "zzz00000"))
	assert.Error(t, store.Fail(h.ID, "too late"))

	got, err := store.Get(h.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	assert.Equal(t, "def67890", got.NewSessionID)
	assert.False(t, got.CompletedAt.IsZero())
}

func TestStoreFailFromPending(t *testing.T) {
	store, _, _ := openTestStore(t)

	h := &Handoff{SessionID: "abc12345", Reason: constants.ReasonEmergencyContextFull}
	require.NoError(t, store.Create(h))
	require.NoError(t, store.Fail(h.ID, "spawn exploded"))

	got, err := store.Get(h.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "spawn exploded", got.Error)
}

func TestRequestGuardsInFlight(t *testing.T) {
	store, reg, root := openTestStore(t)
	registerLive(t, reg, "abc12345", "%7")

	p := NewPipeline(store, reg, nil, root)
	launches := 0
	p.launch = func(string) error { launches++; return nil }

	first, err := p.Request(RequestParams{SessionID: "abc12345"})
	require.NoError(t, err)
	assert.Equal(t, constants.ReasonContextLow, first.Reason)

	// A second request while the first is pending returns the same row.
	second, err := p.Request(RequestParams{SessionID: "abc12345", Reason: constants.ReasonEmergencyContextFull})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, launches)

	inflight, err := store.InFlightForSession("abc12345")
	require.NoError(t, err)
	assert.Len(t, inflight, 1)
}

func TestRequestSnapshotsSessionIdentity(t *testing.T) {
	store, reg, root := openTestStore(t)
	registerLive(t, reg, "abc12345", "%7")

	p := NewPipeline(store, reg, nil, root)
	p.launch = func(string) error { return nil }

	h, err := p.Request(RequestParams{SessionID: "abc12345"})
	require.NoError(t, err)
	assert.Equal(t, "builder", h.Role)
	assert.Equal(t, "%7", h.TmuxPane)
	assert.Equal(t, "conv-abc12345", h.ConversationID)

	// The scaffold exists with its placeholders before the executor runs.
	data, err := os.ReadFile(h.HandoffFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## What was happening")
	assert.Contains(t, string(data), "<!--")
}

func TestRequestWithInlineSummarySkipsScaffold(t *testing.T) {
	store, reg, root := openTestStore(t)
	registerLive(t, reg, "abc12345", "%7")

	p := NewPipeline(store, reg, nil, root)
	p.launch = func(string) error { return nil }

	h, err := p.Request(RequestParams{
		SessionID: "abc12345",
		Summary:   "finished morning brief, working on email triage next",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(h.HandoffFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "email triage")
	assert.NotContains(t, string(data), "<!--")
}

func TestRequestRejectsEndedSession(t *testing.T) {
	store, reg, root := openTestStore(t)
	registerLive(t, reg, "abc12345", "%7")
	require.NoError(t, reg.End("abc12345", constants.EndReasonDone))

	p := NewPipeline(store, reg, nil, root)
	p.launch = func(string) error { return nil }

	_, err := p.Request(RequestParams{SessionID: "abc12345"})
	assert.Error(t, err)
}

// fakeMux records spawns without a tmux server.
type fakeMux struct {
	windows map[string]bool
	spawned []string
	killed  []string
}

func newFakeMux() *fakeMux { return &fakeMux{windows: map[string]bool{}} }

func (f *fakeMux) EnsureSession(name, dir string) error { return nil }
func (f *fakeMux) WindowExists(session, window string) (bool, error) {
	return f.windows[window], nil
}
func (f *fakeMux) NewWindow(session, name, dir string, env map[string]string, command string) (string, error) {
	f.windows[name] = true
	f.spawned = append(f.spawned, name)
	return "%99", nil
}
func (f *fakeMux) KillWindow(session, window string) error {
	delete(f.windows, window)
	return nil
}
func (f *fakeMux) SetPaneStyle(target, style string) error { return nil }

type fakeKiller struct{ killed []string }

func (f *fakeKiller) KillPane(target string) error          { f.killed = append(f.killed, target); return nil }
func (f *fakeKiller) KillPaneProcesses(target string) error { return nil }

func testExecutor(t *testing.T, store *Store, reg *registry.Registry, bus *eventbus.Bus, root string) (*Executor, *fakeMux, *fakeKiller) {
	t.Helper()
	mux := newFakeMux()
	killer := &fakeKiller{}
	cfg := config.Default()
	e := NewExecutor(store, reg, bus, cfg, root, mux, killer, t.Logf)
	e.preKillWait = time.Millisecond
	e.summarize = func(h *Handoff, transcriptPath string) error { return nil }
	return e, mux, killer
}

func TestExecuteReplacesSession(t *testing.T) {
	store, reg, root := openTestStore(t)
	bus := eventbus.New()
	defer bus.Close()
	ch, unsub := bus.Subscribe()
	defer unsub()

	registerLive(t, reg, "abc12345", "%7")
	p := NewPipeline(store, reg, bus, root)
	p.launch = func(string) error { return nil }
	h, err := p.Request(RequestParams{SessionID: "abc12345"})
	require.NoError(t, err)

	e, mux, killer := testExecutor(t, store, reg, bus, root)
	require.NoError(t, e.Execute(h.ID))

	// Old row ended with the handoff reason.
	old, err := reg.Get("abc12345")
	require.NoError(t, err)
	assert.False(t, old.Live())
	assert.Equal(t, constants.EndReasonHandoff, old.EndReason)

	assert.Equal(t, []string{"%7"}, killer.killed)
	require.Len(t, mux.spawned, 1)

	got, err := store.Get(h.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	assert.NotEmpty(t, got.NewSessionID)
	assert.NotEqual(t, "abc12345", got.NewSessionID)

	var sawRequested, sawCompleted bool
	timeout := time.After(time.Second)
	for !(sawRequested && sawCompleted) {
		select {
		case ev := <-ch:
			switch ev.Type {
			case eventbus.EventHandoffRequested:
				sawRequested = true
			case eventbus.EventHandoffCompleted:
				sawCompleted = true
			}
		case <-timeout:
			t.Fatal("missing handoff events")
		}
	}
}

func TestExecuteChiefKeepsChiefWindow(t *testing.T) {
	store, reg, root := openTestStore(t)
	_, err := reg.Register(registry.RegisterParams{
		SessionID:      "abc12345",
		Role:           constants.RoleChief,
		Mode:           constants.ModeInteractive,
		Pane:           "%7",
		TranscriptPath: "/tmp/abc.jsonl",
	})
	require.NoError(t, err)

	p := NewPipeline(store, reg, nil, root)
	p.launch = func(string) error { return nil }
	h, err := p.Request(RequestParams{SessionID: "abc12345"})
	require.NoError(t, err)
	assert.Equal(t, constants.ConversationChief, h.ConversationID)

	e, mux, _ := testExecutor(t, store, reg, nil, root)
	require.NoError(t, e.Execute(h.ID))
	assert.Equal(t, []string{constants.ChiefWindow}, mux.spawned)

	// Conversation continuity: the replacement row registers as chief when
	// its hook fires; the handoff carried the conversation id for it.
	got, err := store.Get(h.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
}

func TestExecuteSummarizerFailureStillCompletes(t *testing.T) {
	store, reg, root := openTestStore(t)
	registerLive(t, reg, "abc12345", "%7")

	p := NewPipeline(store, reg, nil, root)
	p.launch = func(string) error { return nil }
	h, err := p.Request(RequestParams{SessionID: "abc12345"})
	require.NoError(t, err)

	e, _, _ := testExecutor(t, store, reg, nil, root)
	e.summarize = func(*Handoff, string) error { return os.ErrDeadlineExceeded }
	require.NoError(t, e.Execute(h.ID))

	// Scaffold survives for the replacement to read.
	data, err := os.ReadFile(h.HandoffFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "## Next action"))

	got, err := store.Get(h.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
}

func TestExecuteCallerFileSkipsSummarizer(t *testing.T) {
	store, reg, root := openTestStore(t)
	registerLive(t, reg, "abc12345", "%7")

	notes := filepath.Join(root, "Desktop", "working", "email-triage.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(notes), 0o755))
	require.NoError(t, os.WriteFile(notes, []byte("# Email triage\nhalf done\n"), 0o644))

	p := NewPipeline(store, reg, nil, root)
	p.launch = func(string) error { return nil }
	h, err := p.Request(RequestParams{SessionID: "abc12345", File: notes})
	require.NoError(t, err)
	assert.Equal(t, notes, h.HandoffFile)

	e, _, _ := testExecutor(t, store, reg, nil, root)
	summarized := false
	e.summarize = func(*Handoff, string) error { summarized = true; return nil }
	require.NoError(t, e.Execute(h.ID))

	// The agent's own notes are the handoff; nothing may overwrite them.
	assert.False(t, summarized)
	data, err := os.ReadFile(notes)
	require.NoError(t, err)
	assert.Equal(t, "# Email triage\nhalf done\n", string(data))
}

func TestExecuteRequiresPending(t *testing.T) {
	store, reg, root := openTestStore(t)
	registerLive(t, reg, "abc12345", "%7")

	p := NewPipeline(store, reg, nil, root)
	p.launch = func(string) error { return nil }
	h, err := p.Request(RequestParams{SessionID: "abc12345"})
	require.NoError(t, err)

	e, _, _ := testExecutor(t, store, reg, nil, root)
	require.NoError(t, e.Execute(h.ID))
	assert.Error(t, e.Execute(h.ID))
}
