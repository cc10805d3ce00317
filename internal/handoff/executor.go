package handoff

import (
	"fmt"
	"time"

	"github.com/claudeos/cos/internal/config"
	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/eventbus"
	"github.com/claudeos/cos/internal/registry"
	"github.com/claudeos/cos/internal/session"
	"github.com/claudeos/cos/internal/util"
)

// Executor performs the process-level surgery for one handoff: summarize,
// end the old row, kill the old pane, spawn the replacement. It runs in its
// own process (`cos handoff exec <id>`), detached from whatever requested
// the handoff.
type Executor struct {
	store *Store
	reg   *registry.Registry
	bus   *eventbus.Bus
	cfg   *config.Config
	root  string
	mux   session.Multiplexer
	logf  func(format string, args ...interface{})

	// summarize fills the handoff file. Nil skips the stage (inline
	// content was already written). Tests substitute a fake.
	summarize func(h *Handoff, transcriptPath string) error

	// killPane best-effort removes the dying pane.
	killPane func(pane string) error

	// preKillWait lets the dying agent's last response finalize before
	// the pane goes away.
	preKillWait time.Duration
}

// NewExecutor wires an executor against live collaborators.
func NewExecutor(store *Store, reg *registry.Registry, bus *eventbus.Bus, cfg *config.Config, root string, mux session.Multiplexer, tm paneKiller, logf func(string, ...interface{})) *Executor {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	e := &Executor{
		store:       store,
		reg:         reg,
		bus:         bus,
		cfg:         cfg,
		root:        root,
		mux:         mux,
		logf:        logf,
		preKillWait: constants.PreKillWait,
	}
	summarizer := NewSummarizer(cfg, root)
	e.summarize = summarizer.Run
	e.killPane = func(pane string) error {
		// The full process tree first: SIGHUP from kill-pane orphans
		// children that hold the transcript lock otherwise.
		_ = tm.KillPaneProcesses(pane)
		return tm.KillPane(pane)
	}
	return e
}

// paneKiller is the slice of the tmux driver the executor needs for
// removing the dying pane.
type paneKiller interface {
	KillPane(target string) error
	KillPaneProcesses(target string) error
}

// Execute runs the full pipeline for a handoff id. The row ends complete or
// failed; the returned error restates a failure for the CLI exit code.
func (e *Executor) Execute(handoffID string) error {
	h, err := e.store.Get(handoffID)
	if err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("handoff %s not found", handoffID)
	}
	if h.Status != StatusPending {
		return fmt.Errorf("handoff %s is %s, not pending", handoffID, h.Status)
	}
	if err := e.store.MarkExecuting(handoffID); err != nil {
		return err
	}

	newID, err := e.execute(h)
	if err != nil {
		e.logf("handoff %s failed: %v", handoffID, err)
		if ferr := e.store.Fail(handoffID, err.Error()); ferr != nil {
			e.logf("recording handoff %s failure: %v", handoffID, ferr)
		}
		e.publish(eventbus.EventHandoffFailed, h, map[string]interface{}{"error": err.Error()})
		return err
	}

	if err := e.store.Complete(handoffID, newID); err != nil {
		return err
	}
	e.publish(eventbus.EventHandoffCompleted, h, map[string]interface{}{"new_session_id": newID})
	return nil
}

func (e *Executor) execute(h *Handoff) (string, error) {
	// Stage 1: fill the handoff file. Skipped when the agent supplied its
	// own summary, or pointed the handoff at its own notes file (anything
	// other than the generated scaffold path). Failure leaves the
	// scaffold; better than stranding the user in a dead pane, so the
	// surgery proceeds regardless.
	scaffold := h.HandoffFile == TemplatePath(e.root, h.SessionID, h.ID)
	if h.HandoffContent == "" && scaffold && e.summarize != nil {
		if path := e.transcriptPath(h); path == "" {
			e.logf("handoff %s: no transcript on record, skipping summarizer", h.ID)
		} else if err := e.summarize(h, path); err != nil {
			e.logf("handoff %s: summarizer failed, proceeding with scaffold: %v", h.ID, err)
		}
	}

	// Let the dying agent's last response finalize before the pane dies.
	time.Sleep(e.preKillWait)

	if err := e.reg.End(h.SessionID, constants.EndReasonHandoff); err != nil {
		return "", fmt.Errorf("ending session %s: %w", h.SessionID, err)
	}

	if h.TmuxPane != "" {
		if err := e.killPane(h.TmuxPane); err != nil {
			// Already-gone panes are the common case after a crash.
			e.logf("handoff %s: killing pane %s: %v", h.ID, h.TmuxPane, err)
		}
	}

	newID := util.NewSessionID()
	windowName := ""
	if h.ConversationID == constants.ConversationChief {
		windowName = e.cfg.Tmux.ChiefWindow
	}

	beacon := session.Beacon{Role: h.Role, SessionID: newID, Topic: "handoff"}
	res, err := session.Spawn(e.mux, e.cfg, e.root, session.SpawnConfig{
		SessionID:          newID,
		Role:               h.Role,
		Mode:               h.Mode,
		Description:        fmt.Sprintf("handoff successor of %s", h.SessionID),
		ConversationID:     h.ConversationID,
		ParentSessionID:    h.SessionID,
		MissionExecutionID: h.MissionExecutionID,
		SpecPath:           h.HandoffFile,
		WindowName:         windowName,
		Prompt:             session.StartupPrompt(beacon, session.HandoffInstructions(h.HandoffFile)),
		Replace:            true,
	})
	if err != nil {
		return "", fmt.Errorf("spawning replacement for %s: %w", h.SessionID, err)
	}
	e.logf("handoff %s: replacement %s live on %s", h.ID, newID, res.Pane)
	return newID, nil
}

// transcriptPath resolves the dying session's transcript from its row.
func (e *Executor) transcriptPath(h *Handoff) string {
	s, err := e.reg.Get(h.SessionID)
	if err != nil || s == nil {
		return ""
	}
	return s.TranscriptPath
}

func (e *Executor) publish(eventType string, h *Handoff, extra map[string]interface{}) {
	if e.bus == nil {
		return
	}
	data := map[string]interface{}{
		"handoff_id":      h.ID,
		"session_id":      h.SessionID,
		"conversation_id": h.ConversationID,
		"reason":          h.Reason,
	}
	for k, v := range extra {
		data[k] = v
	}
	e.bus.Publish(eventType, data)
}
