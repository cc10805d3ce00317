// Package tmux wraps the tmux binary for pane discovery, window management,
// and message delivery into agent panes. Every subprocess call runs under a
// hard timeout so a wedged tmux server cannot stall the daemon loops.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/claudeos/cos/internal/constants"
)

// Sentinel errors detected from tmux stderr.
var (
	ErrNoServer       = errors.New("tmux server not running")
	ErrTargetNotFound = errors.New("tmux target not found")
	ErrSessionExists  = errors.New("tmux session already exists")
)

// DefaultSubmitDelay is how long pasted text settles before Enter is sent.
// Claude's TUI debounces input; submitting too fast truncates the message.
const DefaultSubmitDelay = 500 * time.Millisecond

const lockTimeout = 30 * time.Second

var sessionNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// execFunc runs the tmux binary with the given args and returns stdout.
// Tests substitute a fake to script server behavior without a live tmux.
type execFunc func(ctx context.Context, args ...string) (string, error)

// Tmux is the driver. Safe for concurrent use; injections to the same
// target are serialized, distinct targets proceed in parallel.
type Tmux struct {
	exec  execFunc
	locks sync.Map // target -> chan struct{} (1-slot semaphore)

	attempts   int
	retryDelay time.Duration
}

// NewTmux returns a driver that shells out to the tmux on PATH.
func NewTmux() *Tmux {
	return &Tmux{
		exec:       realExec,
		attempts:   3,
		retryDelay: 500 * time.Millisecond,
	}
}

func realExec(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", append([]string{"-u"}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("tmux %s timed out after %s", args[0], constants.TmuxTimeout)
		}
		return "", wrapError(err, stderr.String(), args)
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

// wrapError maps well-known tmux stderr messages to sentinel errors so
// callers can branch on "server gone" vs "pane gone" without string checks.
func wrapError(err error, stderr string, args []string) error {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "no server running"),
		strings.Contains(s, "error connecting to"):
		return ErrNoServer
	case strings.Contains(s, "duplicate session"):
		return ErrSessionExists
	case strings.Contains(s, "session not found"),
		strings.Contains(s, "can't find session"),
		strings.Contains(s, "can't find window"),
		strings.Contains(s, "window not found"),
		strings.Contains(s, "can't find pane"),
		strings.Contains(s, "no such window"):
		return ErrTargetNotFound
	}
	return fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr))
}

func (t *Tmux) run(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.TmuxTimeout)
	defer cancel()
	return t.exec(ctx, args...)
}

// lockTarget acquires the per-target injection lock. The returned release
// func must be called exactly once.
func (t *Tmux) lockTarget(target string) (func(), error) {
	v, _ := t.locks.LoadOrStore(target, make(chan struct{}, 1))
	sem := v.(chan struct{})
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-time.After(lockTimeout):
		return nil, fmt.Errorf("timed out waiting for injection lock on %s", target)
	}
}

// SendKeys sends raw key names (Enter, Escape, C-c, ...) to a target pane.
func (t *Tmux) SendKeys(target string, keys ...string) error {
	args := append([]string{"send-keys", "-t", target}, keys...)
	_, err := t.run(args...)
	return err
}

// SendText types text literally into a target pane. With submit set, waits
// delay (DefaultSubmitDelay when zero) and then sends Enter as a separate
// keystroke so the TUI registers the text before the submit.
func (t *Tmux) SendText(target, text string, submit bool, delay time.Duration) error {
	if _, err := t.run("send-keys", "-t", target, "-l", text); err != nil {
		return err
	}
	if !submit {
		return nil
	}
	if delay <= 0 {
		delay = DefaultSubmitDelay
	}
	time.Sleep(delay)
	return t.SendKeys(target, "Enter")
}

// SendEscape sends a lone Escape, interrupting whatever the agent is doing
// without touching its input buffer.
func (t *Tmux) SendEscape(target string) error {
	return t.SendKeys(target, "Escape")
}

// DisplayMessage shows text as a status-line overlay on the client viewing
// the target pane. It never writes into the pane's input.
func (t *Tmux) DisplayMessage(target, text string) error {
	_, err := t.run("display-message", "-t", target, "-d", "5000", text)
	return err
}

// CapturePane returns the visible contents of a pane plus up to lines of
// scrollback. lines <= 0 captures only the visible area.
func (t *Tmux) CapturePane(target string, lines int) (string, error) {
	args := []string{"capture-pane", "-p", "-t", target}
	if lines > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", lines))
	}
	return t.run(args...)
}

// CapturePaneTitle returns the pane title, which Claude sets to its current
// task summary.
func (t *Tmux) CapturePaneTitle(target string) (string, error) {
	return t.run("display-message", "-p", "-t", target, "#{pane_title}")
}

// PanePID returns the pid of the process running in a pane.
func (t *Tmux) PanePID(target string) (int, error) {
	out, err := t.run("display-message", "-p", "-t", target, "#{pane_pid}")
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("unexpected pane_pid %q for %s", out, target)
	}
	return pid, nil
}

// HasSession reports whether a session with exactly this name exists.
// A missing server counts as the session not existing.
func (t *Tmux) HasSession(name string) (bool, error) {
	_, err := t.run("has-session", "-t", "="+name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNoServer) || errors.Is(err, ErrTargetNotFound) {
		return false, nil
	}
	return false, err
}

// NewSession creates a detached session. dir may be empty.
func (t *Tmux) NewSession(name, dir string) error {
	if !sessionNameRe.MatchString(name) {
		return fmt.Errorf("invalid session name %q", name)
	}
	args := []string{"new-session", "-d", "-s", name}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	_, err := t.run(args...)
	return err
}

// EnsureSession creates the session if it does not exist yet.
func (t *Tmux) EnsureSession(name, dir string) error {
	has, err := t.HasSession(name)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	err = t.NewSession(name, dir)
	if errors.Is(err, ErrSessionExists) {
		// Raced with another creator; the session is there either way.
		return nil
	}
	return err
}

// ListSessions returns the names of all sessions. A missing server yields
// an empty list, not an error.
func (t *Tmux) ListSessions() ([]string, error) {
	out, err := t.run("list-sessions", "-F", "#{session_name}")
	if errors.Is(err, ErrNoServer) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// Window describes one window of a session. PaneID is the active pane.
type Window struct {
	Index  int
	Name   string
	Active bool
	PaneID string
}

// ListWindows returns the windows of a session. A missing session or server
// yields an empty list.
func (t *Tmux) ListWindows(session string) ([]Window, error) {
	out, err := t.run("list-windows", "-t", session, "-F",
		"#{window_index}\t#{window_name}\t#{window_active}\t#{pane_id}")
	if errors.Is(err, ErrNoServer) || errors.Is(err, ErrTargetNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var windows []Window
	for _, line := range splitLines(out) {
		parts := strings.SplitN(line, "\t", 4)
		if len(parts) != 4 {
			continue
		}
		idx, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		windows = append(windows, Window{
			Index:  idx,
			Name:   parts[1],
			Active: parts[2] == "1",
			PaneID: parts[3],
		})
	}
	return windows, nil
}

// WindowExists reports whether a named window exists in a session. Absence
// of the session (or the whole server) is an answer, not an error.
func (t *Tmux) WindowExists(session, window string) (bool, error) {
	windows, err := t.ListWindows(session)
	if err != nil {
		return false, err
	}
	for _, w := range windows {
		if w.Name == window {
			return true, nil
		}
	}
	return false, nil
}

// NewWindow creates a detached window running command and returns the id of
// its pane. Environment entries are applied in sorted key order so spawn
// invocations are deterministic.
func (t *Tmux) NewWindow(session, name, dir string, env map[string]string, command string) (string, error) {
	args := []string{"new-window", "-d", "-t", session, "-n", name, "-P", "-F", "#{pane_id}"}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	for _, k := range sortedKeys(env) {
		args = append(args, "-e", k+"="+env[k])
	}
	if command != "" {
		args = append(args, command)
	}
	return t.run(args...)
}

// KillPane removes a pane. The pane's process receives SIGHUP from tmux;
// use KillPaneProcesses first when the tree must be dead, not just orphaned.
func (t *Tmux) KillPane(target string) error {
	_, err := t.run("kill-pane", "-t", target)
	return err
}

// KillWindow removes a window and every pane in it.
func (t *Tmux) KillWindow(session, window string) error {
	_, err := t.run("kill-window", "-t", session+":"+window)
	return err
}

// SetPaneStyle applies a window-style (bg/fg) to a single pane.
func (t *Tmux) SetPaneStyle(target, style string) error {
	_, err := t.run("set-option", "-p", "-t", target, "window-style", style)
	return err
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
