package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/db"
	"github.com/claudeos/cos/internal/eventbus"
)

func openTestRegistry(t *testing.T) (*Registry, *eventbus.Bus) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "system.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	bus := eventbus.New()
	t.Cleanup(func() {
		bus.Close()
		_ = database.Close()
	})
	return New(database, bus), bus
}

// drainEvents collects everything published within the window.
func drainEvents(ch <-chan eventbus.SystemEvent) []eventbus.SystemEvent {
	var out []eventbus.SystemEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func countType(events []eventbus.SystemEvent, eventType string) int {
	n := 0
	for _, ev := range events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func TestRegisterNewSession(t *testing.T) {
	r, bus := openTestRegistry(t)
	ch, unsub := bus.Subscribe()
	defer unsub()

	s, err := r.Register(RegisterParams{
		SessionID:      "ab12cd34",
		Role:           "researcher",
		Mode:           constants.ModeInteractive,
		Pane:           "%5",
		ConversationID: "ab12cd34",
		Description:    "market research",
	})
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, "ab12cd34", s.SessionID)
	assert.Equal(t, "researcher", s.Role)
	assert.Equal(t, "active", s.CurrentState)
	assert.True(t, s.Live())
	assert.False(t, s.StartedAt.IsZero())

	events := drainEvents(ch)
	assert.Equal(t, 1, countType(events, eventbus.EventSessionStarted))
}

func TestRegisterDefaultsChiefConversation(t *testing.T) {
	r, _ := openTestRegistry(t)

	s, err := r.Register(RegisterParams{SessionID: "c1", Role: constants.RoleChief})
	require.NoError(t, err)
	assert.Equal(t, constants.ConversationChief, s.ConversationID)
	assert.Equal(t, constants.ModeInteractive, s.Mode)
}

func TestRegisterReviveClearsEndMarkers(t *testing.T) {
	r, bus := openTestRegistry(t)

	_, err := r.Register(RegisterParams{SessionID: "ab12cd34", Role: "researcher", TranscriptPath: "/t/orig.jsonl"})
	require.NoError(t, err)
	require.NoError(t, r.End("ab12cd34", constants.EndReasonDone))

	ch, unsub := bus.Subscribe()
	defer unsub()

	// Re-register with sparse params: identity preserved, markers cleared.
	s, err := r.Register(RegisterParams{SessionID: "ab12cd34", Pane: "%9"})
	require.NoError(t, err)

	assert.True(t, s.Live())
	assert.Empty(t, s.EndReason)
	assert.Equal(t, "idle", s.CurrentState)
	assert.Equal(t, "researcher", s.Role, "empty param should preserve role")
	assert.Equal(t, "/t/orig.jsonl", s.TranscriptPath)
	assert.Equal(t, "%9", s.TmuxPane, "provided param should win")

	events := drainEvents(ch)
	assert.Equal(t, 1, countType(events, eventbus.EventSessionStarted), "revive from ended is a start")
}

func TestRegisterLiveSessionDoesNotRepublish(t *testing.T) {
	r, bus := openTestRegistry(t)

	_, err := r.Register(RegisterParams{SessionID: "ab12cd34", Role: "researcher"})
	require.NoError(t, err)

	ch, unsub := bus.Subscribe()
	defer unsub()

	// Duplicate SessionStart (e.g. resume) while still live.
	_, err = r.Register(RegisterParams{SessionID: "ab12cd34"})
	require.NoError(t, err)

	events := drainEvents(ch)
	assert.Zero(t, countType(events, eventbus.EventSessionStarted))
}

func TestReconcilePaneEndsPriorClaimant(t *testing.T) {
	r, bus := openTestRegistry(t)

	_, err := r.Register(RegisterParams{SessionID: "old00001", Role: "researcher", Pane: "%5"})
	require.NoError(t, err)

	ch, unsub := bus.Subscribe()
	defer unsub()

	_, err = r.Register(RegisterParams{SessionID: "new00002", Role: "writer", Pane: "%5"})
	require.NoError(t, err)

	old, err := r.Get("old00001")
	require.NoError(t, err)
	assert.False(t, old.Live())
	assert.Equal(t, constants.EndReasonPaneReused, old.EndReason)

	byPane, err := r.GetByPane("%5")
	require.NoError(t, err)
	require.NotNil(t, byPane)
	assert.Equal(t, "new00002", byPane.SessionID)

	events := drainEvents(ch)
	assert.Equal(t, 1, countType(events, eventbus.EventSessionEnded))
	assert.Equal(t, 1, countType(events, eventbus.EventSessionStarted))
}

func TestChiefSuperseded(t *testing.T) {
	r, _ := openTestRegistry(t)

	_, err := r.Register(RegisterParams{SessionID: "chief001", Role: constants.RoleChief, Pane: "%1"})
	require.NoError(t, err)
	_, err = r.Register(RegisterParams{SessionID: "chief002", Role: constants.RoleChief, Pane: "%2"})
	require.NoError(t, err)

	old, err := r.Get("chief001")
	require.NoError(t, err)
	assert.False(t, old.Live())
	assert.Equal(t, constants.EndReasonChiefSuperseded, old.EndReason)

	live, err := r.LiveSessions()
	require.NoError(t, err)
	chiefs := 0
	for _, s := range live {
		if s.ConversationID == constants.ConversationChief {
			chiefs++
		}
	}
	assert.Equal(t, 1, chiefs)
}

func TestEndIsIdempotent(t *testing.T) {
	r, bus := openTestRegistry(t)

	_, err := r.Register(RegisterParams{SessionID: "ab12cd34", Role: "researcher"})
	require.NoError(t, err)

	ch, unsub := bus.Subscribe()
	defer unsub()

	require.NoError(t, r.End("ab12cd34", constants.EndReasonDone))
	require.NoError(t, r.End("ab12cd34", constants.EndReasonHandoff))
	require.NoError(t, r.End("missing", constants.EndReasonDone))

	events := drainEvents(ch)
	assert.Equal(t, 1, countType(events, eventbus.EventSessionEnded))

	s, err := r.Get("ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, constants.EndReasonDone, s.EndReason, "second End must not rewrite the reason")
}

func TestMarkIdleOncePerTransition(t *testing.T) {
	r, bus := openTestRegistry(t)

	_, err := r.Register(RegisterParams{SessionID: "ab12cd34", Role: "researcher"})
	require.NoError(t, err)

	ch, unsub := bus.Subscribe()
	defer unsub()

	require.NoError(t, r.MarkIdle("ab12cd34"))
	require.NoError(t, r.MarkIdle("ab12cd34"))

	events := drainEvents(ch)
	assert.Equal(t, 1, countType(events, eventbus.EventSessionState))

	s, err := r.Get("ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, "idle", s.CurrentState)
}

func TestMarkActiveFromIdle(t *testing.T) {
	r, bus := openTestRegistry(t)

	_, err := r.Register(RegisterParams{SessionID: "ab12cd34", Role: "researcher"})
	require.NoError(t, err)
	require.NoError(t, r.MarkIdle("ab12cd34"))

	ch, unsub := bus.Subscribe()
	defer unsub()

	require.NoError(t, r.MarkActive("ab12cd34", "digging through filings"))
	require.NoError(t, r.MarkActive("ab12cd34", "still digging"))

	events := drainEvents(ch)
	assert.Equal(t, 1, countType(events, eventbus.EventSessionState))

	s, err := r.Get("ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, "active", s.CurrentState)
	assert.Equal(t, "still digging", s.StatusText)
}

func TestGetMissingIsNil(t *testing.T) {
	r, _ := openTestRegistry(t)

	s, err := r.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = r.GetByPane("%99")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestLiveSessionsExcludesEnded(t *testing.T) {
	r, _ := openTestRegistry(t)

	_, err := r.Register(RegisterParams{SessionID: "a1", Role: "researcher"})
	require.NoError(t, err)
	_, err = r.Register(RegisterParams{SessionID: "b2", Role: "writer"})
	require.NoError(t, err)
	require.NoError(t, r.End("a1", constants.EndReasonDone))

	live, err := r.LiveSessions()
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "b2", live[0].SessionID)
}

func TestWarningLevelAndSubscribe(t *testing.T) {
	r, _ := openTestRegistry(t)

	_, err := r.Register(RegisterParams{SessionID: "spec0001", Role: "researcher"})
	require.NoError(t, err)
	_, err = r.Register(RegisterParams{SessionID: "chief001", Role: constants.RoleChief})
	require.NoError(t, err)

	require.NoError(t, r.SetWarningLevel("spec0001", 90))
	require.NoError(t, r.Subscribe("spec0001", "chief001"))
	require.NoError(t, r.MarkPinged("spec0001"))

	s, err := r.Get("spec0001")
	require.NoError(t, err)
	assert.Equal(t, 90, s.ContextWarningLevel)
	assert.Equal(t, "chief001", s.SubscribedBy)
	assert.True(t, s.HasPinged)
}

func TestGetByConversation(t *testing.T) {
	r, _ := openTestRegistry(t)

	_, err := r.Register(RegisterParams{SessionID: "s1", Role: "researcher", ConversationID: "conv-a"})
	require.NoError(t, err)

	s, err := r.GetByConversation("conv-a")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "s1", s.SessionID)

	require.NoError(t, r.End("s1", constants.EndReasonDone))
	s, err = r.GetByConversation("conv-a")
	require.NoError(t, err)
	assert.Nil(t, s, "ended sessions do not answer for a conversation")
}
