package handoff

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/eventbus"
	"github.com/claudeos/cos/internal/registry"
)

// Pipeline coordinates session replacement. Request records the intent and
// scaffolds the handoff file; Launch detaches the executor so neither the
// dying agent nor a daemon loop ever waits on the surgery.
type Pipeline struct {
	store *Store
	reg   *registry.Registry
	bus   *eventbus.Bus
	root  string

	// launch starts the detached executor process. Tests substitute a
	// recorder; the default execs this binary's `handoff exec` command.
	launch func(handoffID string) error
}

// NewPipeline wires a pipeline. bus may be nil.
func NewPipeline(store *Store, reg *registry.Registry, bus *eventbus.Bus, root string) *Pipeline {
	p := &Pipeline{store: store, reg: reg, bus: bus, root: root}
	p.launch = p.launchExecutor
	return p
}

// SetLauncher overrides how the detached executor process is started.
// The daemon keeps the default; tests substitute recorders.
func (p *Pipeline) SetLauncher(fn func(handoffID string) error) { p.launch = fn }

// RequestParams describes a handoff request.
type RequestParams struct {
	SessionID string

	// Reason is the handoff reason code. Empty means context_low.
	Reason string

	// Summary, when set, becomes the handoff file content directly and the
	// summarizer stage is skipped. Graceful resets pass the agent's own
	// wind-down summary here.
	Summary string

	// File, when set, points the replacement at an existing file instead
	// of a generated one (the agent kept its own working notes).
	File string
}

// Request creates a pending handoff for a live session and launches the
// executor. A session with a handoff already in flight gets that handoff
// back unchanged; the guard is what makes monitor double-triggers harmless.
func (p *Pipeline) Request(params RequestParams) (*Handoff, error) {
	if params.Reason == "" {
		params.Reason = constants.ReasonContextLow
	}

	inflight, err := p.store.InFlightForSession(params.SessionID)
	if err != nil {
		return nil, err
	}
	if len(inflight) > 0 {
		return inflight[0], nil
	}

	s, err := p.reg.Get(params.SessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("handoff request: unknown session %s", params.SessionID)
	}
	if !s.Live() {
		return nil, fmt.Errorf("handoff request: session %s already ended (%s)", params.SessionID, s.EndReason)
	}

	h := &Handoff{
		SessionID:          s.SessionID,
		Role:               s.Role,
		Mode:               s.Mode,
		TmuxPane:           s.TmuxPane,
		ConversationID:     s.ConversationID,
		ParentSessionID:    s.ParentSessionID,
		MissionExecutionID: s.MissionExecutionID,
		Reason:             params.Reason,
		HandoffContent:     params.Summary,
	}
	if err := p.store.Create(h); err != nil {
		return nil, err
	}

	// The file is scaffolded (or filled from the summary) before the
	// executor detaches, so even an executor that dies instantly leaves a
	// readable artifact.
	switch {
	case params.File != "":
		h.HandoffFile = params.File
	case h.HandoffContent != "":
		h.HandoffFile = TemplatePath(p.root, s.SessionID, h.ID)
		if err := WriteInlineContent(h.HandoffFile, h); err != nil {
			return nil, err
		}
	default:
		h.HandoffFile = TemplatePath(p.root, s.SessionID, h.ID)
		if err := WriteTemplate(h.HandoffFile, h); err != nil {
			return nil, err
		}
	}
	if err := p.store.SetFile(h.ID, h.HandoffFile); err != nil {
		return nil, err
	}

	if p.bus != nil {
		p.bus.Publish(eventbus.EventHandoffRequested, map[string]interface{}{
			"handoff_id": h.ID,
			"session_id": h.SessionID,
			"reason":     h.Reason,
		})
	}

	if err := p.launch(h.ID); err != nil {
		// The row stays pending; `cos handoff exec` can be re-run by hand.
		return h, fmt.Errorf("launching handoff executor: %w", err)
	}
	return h, nil
}

// launchExecutor re-invokes this binary as `cos handoff exec <id>` in its
// own session, detached from the caller. The dying agent's pane is about to
// be killed; the executor must not be in its process tree.
func (p *Pipeline) launchExecutor(handoffID string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own binary: %w", err)
	}

	logPath := filepath.Join(constants.EngineStateDir(p.root), "handoff-"+handoffID+".log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening executor log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(self, "handoff", "exec", handoffID)
	cmd.Dir = p.root
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	detachSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting executor: %w", err)
	}
	// Released, not waited: the executor outlives us.
	return cmd.Process.Release()
}
