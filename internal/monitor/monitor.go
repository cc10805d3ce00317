// Package monitor watches live sessions for context exhaustion and
// intervenes before the agent becomes unrecoverable: one warning at the
// threshold, one emergency handoff at the wall.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/claudeos/cos/internal/claude"
	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/handoff"
	"github.com/claudeos/cos/internal/registry"
	"github.com/claudeos/cos/internal/tmux"
)

// paneReader is the slice of the tmux driver the monitor needs.
type paneReader interface {
	CapturePane(target string, lines int) (string, error)
	CapturePaneTitle(target string) (string, error)
	SendEscape(target string) error
	Inject(target, message string, opts tmux.InjectOptions) (bool, error)
}

// requester is the handoff entry point; *handoff.Pipeline implements it.
type requester interface {
	Request(params handoff.RequestParams) (*handoff.Handoff, error)
}

// Monitor is the context watchdog loop.
type Monitor struct {
	reg      *registry.Registry
	pipeline requester
	mux      paneReader
	logf     func(format string, args ...interface{})

	interval     time.Duration
	threshold    int
	shift        int
	escapeSettle time.Duration

	// captureLines bounds how much scrollback each poll reads. The
	// warning banner sits near the bottom; 200 lines is generous.
	captureLines int
}

// New builds a monitor. threshold is the interactive warning percent;
// autonomous modes warn shift points earlier.
func New(reg *registry.Registry, pipeline requester, mux paneReader, threshold, shift int, logf func(string, ...interface{})) *Monitor {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Monitor{
		reg:          reg,
		pipeline:     pipeline,
		mux:          mux,
		logf:         logf,
		interval:     constants.MonitorPollInterval,
		threshold:    threshold,
		shift:        shift,
		escapeSettle: constants.EscapeSettle,
		captureLines: 200,
	}
}

// Run polls until ctx is cancelled. A failing tick is logged and the loop
// sleeps normally; per-session failures never affect other sessions.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Tick(); err != nil {
				m.logf("monitor tick: %v", err)
			}
		}
	}
}

// Tick checks every live session once.
func (m *Monitor) Tick() error {
	sessions, err := m.reg.LiveSessions()
	if err != nil {
		return fmt.Errorf("listing live sessions: %w", err)
	}
	for _, s := range sessions {
		if s.TmuxPane == "" || s.Mode == constants.ModeSummarizer {
			continue
		}
		if err := m.checkSession(s); err != nil {
			m.logf("monitor %s: %v", s.SessionID, err)
		}
	}
	return nil
}

func (m *Monitor) checkSession(s *registry.Session) error {
	buffer, err := m.mux.CapturePane(s.TmuxPane, m.captureLines)
	if err != nil {
		// Pane gone or server down; the next poll (or reconciliation)
		// resolves it.
		return nil
	}
	title, _ := m.mux.CapturePaneTitle(s.TmuxPane)
	status := claude.ParseStatus(buffer, title)

	if status.ContextFull {
		return m.emergency(s)
	}

	threshold := m.thresholdFor(s.Mode)
	if !status.ContextWarning || status.PercentUsed < threshold {
		return nil
	}
	if s.ContextWarningLevel >= threshold {
		// Already warned at this level; one warning per session, not one
		// per poll.
		return nil
	}
	return m.warn(s, status, threshold)
}

// emergency triggers the handoff pipeline on behalf of a stuck agent. The
// pipeline's in-flight guard makes a second tick within the same window a
// no-op.
func (m *Monitor) emergency(s *registry.Session) error {
	h, err := m.pipeline.Request(handoff.RequestParams{
		SessionID: s.SessionID,
		Reason:    constants.ReasonEmergencyContextFull,
	})
	if err != nil {
		return fmt.Errorf("emergency handoff: %w", err)
	}
	m.logf("monitor: emergency handoff %s for session %s", h.ID, s.SessionID)
	return nil
}

// warn interrupts the agent and injects the reset recommendation, then
// records the level so the warning fires once.
func (m *Monitor) warn(s *registry.Session, status claude.Status, threshold int) error {
	// Escape first: the warning must not land mid-tool-call.
	if err := m.mux.SendEscape(s.TmuxPane); err != nil {
		return fmt.Errorf("escape: %w", err)
	}
	time.Sleep(m.escapeSettle)

	msg := fmt.Sprintf(
		"%s Context at %d%% used (%d%% remaining). Wind down now: summarize "+
			"your current state and call `cos session reset` with the summary. "+
			"Past 100%% you cannot participate in your own handoff.",
		constants.WarnPrefix, status.PercentUsed, status.ContextRemaining)

	ok, err := m.mux.Inject(s.TmuxPane, msg, tmux.InjectOptions{Submit: true, Source: "MONITOR"})
	if !ok {
		// Not recorded as warned; the next poll retries the injection.
		return fmt.Errorf("warning injection: %w", err)
	}
	if err := m.reg.SetWarningLevel(s.SessionID, threshold); err != nil {
		return fmt.Errorf("recording warning level: %w", err)
	}
	m.logf("monitor: warned %s at %d%% used", s.SessionID, status.PercentUsed)
	return nil
}

// thresholdFor shifts the warning earlier for unattended modes; nobody is
// watching those panes to catch mistakes.
func (m *Monitor) thresholdFor(mode string) int {
	switch mode {
	case constants.ModeBackground, constants.ModeMission, constants.ModeAutonomous:
		return m.threshold - m.shift
	}
	return m.threshold
}
