package tmux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

func equalArgs(got, want []string) bool {
	return slices.Equal(got, want)
}

// fakeServer scripts tmux behavior without a live server. It records every
// argv and, for load-buffer calls, snapshots the temp file contents before
// Inject removes them.
type fakeServer struct {
	mu      sync.Mutex
	calls   [][]string
	loaded  map[string]string // buffer name -> content
	respond func(args []string) (string, error)
}

func newFakeServer() *fakeServer {
	return &fakeServer{loaded: make(map[string]string)}
}

func (f *fakeServer) exec(_ context.Context, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	if args[0] == "load-buffer" && len(args) == 4 {
		if data, err := os.ReadFile(args[3]); err == nil {
			f.loaded[args[2]] = string(data)
		}
	}
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		return respond(args)
	}
	return "", nil
}

func (f *fakeServer) callsFor(cmd string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.calls {
		if c[0] == cmd {
			out = append(out, c)
		}
	}
	return out
}

func newTestTmux(f *fakeServer) *Tmux {
	return &Tmux{exec: f.exec, attempts: 3, retryDelay: time.Millisecond}
}

func TestSendTextLiteral(t *testing.T) {
	f := newFakeServer()
	tm := newTestTmux(f)

	if err := tm.SendText("%1", "hello world", false, 0); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(f.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(f.calls))
	}
	want := []string{"send-keys", "-t", "%1", "-l", "hello world"}
	if !equalArgs(f.calls[0], want) {
		t.Errorf("argv = %v, want %v", f.calls[0], want)
	}
}

func TestSendTextSubmit(t *testing.T) {
	f := newFakeServer()
	tm := newTestTmux(f)

	if err := tm.SendText("%1", "ls", true, time.Millisecond); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(f.calls) != 2 {
		t.Fatalf("calls = %d, want 2 (text then Enter)", len(f.calls))
	}
	if !equalArgs(f.calls[1], []string{"send-keys", "-t", "%1", "Enter"}) {
		t.Errorf("second call = %v, want separate Enter", f.calls[1])
	}
}

func TestSendEscape(t *testing.T) {
	f := newFakeServer()
	tm := newTestTmux(f)

	if err := tm.SendEscape("%3"); err != nil {
		t.Fatalf("SendEscape: %v", err)
	}
	if !equalArgs(f.calls[0], []string{"send-keys", "-t", "%3", "Escape"}) {
		t.Errorf("argv = %v", f.calls[0])
	}
}

func TestInjectSequence(t *testing.T) {
	f := newFakeServer()
	tm := newTestTmux(f)

	ok, err := tm.Inject("%1", "line one\nline two", InjectOptions{Submit: true, Delay: time.Millisecond})
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if !ok {
		t.Fatal("Inject reported failure")
	}

	loads := f.callsFor("load-buffer")
	pastes := f.callsFor("paste-buffer")
	if len(loads) != 1 || len(pastes) != 1 {
		t.Fatalf("load=%d paste=%d, want 1 each", len(loads), len(pastes))
	}

	buffer := loads[0][2]
	if !strings.HasPrefix(buffer, "inject-") {
		t.Errorf("buffer name = %q, want inject- prefix", buffer)
	}
	if got := f.loaded[buffer]; got != "line one\nline two" {
		t.Errorf("loaded content = %q", got)
	}
	// Temp file must be gone after the paste.
	if _, err := os.Stat(loads[0][3]); !os.IsNotExist(err) {
		t.Errorf("temp file %s still exists", loads[0][3])
	}

	wantPaste := []string{"paste-buffer", "-d", "-p", "-b", buffer, "-t", "%1"}
	if !equalArgs(pastes[0], wantPaste) {
		t.Errorf("paste argv = %v, want %v", pastes[0], wantPaste)
	}

	last := f.calls[len(f.calls)-1]
	if !equalArgs(last, []string{"send-keys", "-t", "%1", "Enter"}) {
		t.Errorf("final call = %v, want Enter submit", last)
	}
}

func TestInjectNoSubmit(t *testing.T) {
	f := newFakeServer()
	tm := newTestTmux(f)

	ok, err := tm.Inject("%1", "draft", InjectOptions{Delay: time.Millisecond})
	if err != nil || !ok {
		t.Fatalf("Inject: ok=%v err=%v", ok, err)
	}
	if got := f.callsFor("send-keys"); len(got) != 0 {
		t.Errorf("send-keys called %d times, want 0 without submit", len(got))
	}
}

func TestInjectSourceTag(t *testing.T) {
	f := newFakeServer()
	tm := newTestTmux(f)

	ok, err := tm.Inject("%1", "wrap it up", InjectOptions{Delay: time.Millisecond, Source: "monitor"})
	if err != nil || !ok {
		t.Fatalf("Inject: ok=%v err=%v", ok, err)
	}
	loads := f.callsFor("load-buffer")
	content := f.loaded[loads[0][2]]
	if match, _ := regexp.MatchString(`^\[monitor \d{2}:\d{2}\] wrap it up$`, content); !match {
		t.Errorf("tagged content = %q, want [monitor HH:MM] prefix", content)
	}
}

func TestInjectRetriesThenSucceeds(t *testing.T) {
	f := newFakeServer()
	var pasteAttempts int
	f.respond = func(args []string) (string, error) {
		if args[0] == "paste-buffer" {
			pasteAttempts++
			if pasteAttempts < 3 {
				return "", fmt.Errorf("tmux paste-buffer: transient")
			}
		}
		return "", nil
	}
	tm := newTestTmux(f)

	ok, err := tm.Inject("%1", "retry me", InjectOptions{Submit: true, Delay: time.Millisecond})
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if !ok {
		t.Fatal("Inject reported failure after successful retry")
	}
	if pasteAttempts != 3 {
		t.Errorf("paste attempts = %d, want 3", pasteAttempts)
	}
	// Every failed paste must delete its orphaned buffer.
	if deletes := f.callsFor("delete-buffer"); len(deletes) != 2 {
		t.Errorf("delete-buffer calls = %d, want 2", len(deletes))
	}
}

func TestInjectGivesUp(t *testing.T) {
	f := newFakeServer()
	f.respond = func(args []string) (string, error) {
		if args[0] == "paste-buffer" {
			return "", fmt.Errorf("tmux paste-buffer: broken")
		}
		return "", nil
	}
	tm := newTestTmux(f)

	ok, err := tm.Inject("%1", "doomed", InjectOptions{Delay: time.Millisecond})
	if ok {
		t.Fatal("Inject reported success")
	}
	if err == nil {
		t.Fatal("Inject returned nil error on failure")
	}
	if loads := f.callsFor("load-buffer"); len(loads) != 3 {
		t.Errorf("attempts = %d, want 3", len(loads))
	}
}

func TestInjectStopsWhenTargetGone(t *testing.T) {
	f := newFakeServer()
	f.respond = func(args []string) (string, error) {
		if args[0] == "paste-buffer" {
			return "", ErrTargetNotFound
		}
		return "", nil
	}
	tm := newTestTmux(f)

	ok, err := tm.Inject("%9", "nobody home", InjectOptions{Delay: time.Millisecond})
	if ok {
		t.Fatal("Inject reported success")
	}
	if !errors.Is(err, ErrTargetNotFound) {
		t.Errorf("err = %v, want ErrTargetNotFound", err)
	}
	// A vanished pane is permanent; no point burning retries on it.
	if loads := f.callsFor("load-buffer"); len(loads) != 1 {
		t.Errorf("attempts = %d, want 1", len(loads))
	}
}

func TestInjectSerializesPerTarget(t *testing.T) {
	f := newFakeServer()
	var mu sync.Mutex
	active := 0
	maxActive := 0
	f.respond = func(args []string) (string, error) {
		if args[0] == "paste-buffer" {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}
		return "", nil
	}
	tm := newTestTmux(f)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = tm.Inject("%1", "same pane", InjectOptions{Delay: time.Millisecond})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("concurrent pastes to one target = %d, want 1", maxActive)
	}
}

func TestCapturePaneArgs(t *testing.T) {
	f := newFakeServer()
	f.respond = func(args []string) (string, error) { return "line\n", nil }
	tm := newTestTmux(f)

	out, err := tm.CapturePane("%2", 50)
	if err != nil {
		t.Fatalf("CapturePane: %v", err)
	}
	if out != "line\n" {
		t.Errorf("out = %q", out)
	}
	want := []string{"capture-pane", "-p", "-t", "%2", "-S", "-50"}
	if !equalArgs(f.calls[0], want) {
		t.Errorf("argv = %v, want %v", f.calls[0], want)
	}
}

func TestCapturePaneTitle(t *testing.T) {
	f := newFakeServer()
	f.respond = func(args []string) (string, error) { return "Reviewing budget", nil }
	tm := newTestTmux(f)

	title, err := tm.CapturePaneTitle("%2")
	if err != nil {
		t.Fatalf("CapturePaneTitle: %v", err)
	}
	if title != "Reviewing budget" {
		t.Errorf("title = %q", title)
	}
	want := []string{"display-message", "-p", "-t", "%2", "#{pane_title}"}
	if !equalArgs(f.calls[0], want) {
		t.Errorf("argv = %v, want %v", f.calls[0], want)
	}
}

func TestDisplayMessageNeverTouchesInput(t *testing.T) {
	f := newFakeServer()
	tm := newTestTmux(f)

	if err := tm.DisplayMessage("%1", "low context"); err != nil {
		t.Fatalf("DisplayMessage: %v", err)
	}
	for _, c := range f.calls {
		if c[0] == "send-keys" || c[0] == "paste-buffer" {
			t.Errorf("DisplayMessage issued %v", c)
		}
	}
}

func TestWindowExists(t *testing.T) {
	f := newFakeServer()
	f.respond = func(args []string) (string, error) {
		return "0\tchief\t1\t%0\n1\tspecialist-ab12cd34\t0\t%1\n", nil
	}
	tm := newTestTmux(f)

	tests := []struct {
		window string
		want   bool
	}{
		{"chief", true},
		{"specialist-ab12cd34", true},
		{"missing", false},
	}
	for _, tt := range tests {
		got, err := tm.WindowExists("life", tt.window)
		if err != nil {
			t.Fatalf("WindowExists(%q): %v", tt.window, err)
		}
		if got != tt.want {
			t.Errorf("WindowExists(%q) = %v, want %v", tt.window, got, tt.want)
		}
	}
}

func TestWindowExistsMissingSession(t *testing.T) {
	f := newFakeServer()
	f.respond = func(args []string) (string, error) {
		return "", ErrTargetNotFound
	}
	tm := newTestTmux(f)

	got, err := tm.WindowExists("gone", "chief")
	if err != nil {
		t.Fatalf("missing session should not error, got %v", err)
	}
	if got {
		t.Error("WindowExists = true for missing session")
	}
}

func TestListWindowsParsing(t *testing.T) {
	f := newFakeServer()
	f.respond = func(args []string) (string, error) {
		return "0\tchief\t1\t%0\n3\tmission-f00dcafe\t0\t%4\n", nil
	}
	tm := newTestTmux(f)

	windows, err := tm.ListWindows("life")
	if err != nil {
		t.Fatalf("ListWindows: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("windows = %d, want 2", len(windows))
	}
	if windows[0].Index != 0 || windows[0].Name != "chief" || !windows[0].Active || windows[0].PaneID != "%0" {
		t.Errorf("windows[0] = %+v", windows[0])
	}
	if windows[1].Index != 3 || windows[1].Active {
		t.Errorf("windows[1] = %+v", windows[1])
	}
}

func TestNewWindowArgs(t *testing.T) {
	f := newFakeServer()
	f.respond = func(args []string) (string, error) { return "%7", nil }
	tm := newTestTmux(f)

	pane, err := tm.NewWindow("life", "specialist-ab12cd34", "/work", map[string]string{
		"CLAUDE_SESSION_ROLE": "researcher",
		"CLAUDE_SESSION_ID":   "ab12cd34",
	}, "claude")
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	if pane != "%7" {
		t.Errorf("pane = %q, want %%7", pane)
	}
	want := []string{
		"new-window", "-d", "-t", "life", "-n", "specialist-ab12cd34",
		"-P", "-F", "#{pane_id}", "-c", "/work",
		"-e", "CLAUDE_SESSION_ID=ab12cd34",
		"-e", "CLAUDE_SESSION_ROLE=researcher",
		"claude",
	}
	if !equalArgs(f.calls[0], want) {
		t.Errorf("argv = %v\nwant   %v", f.calls[0], want)
	}
}

func TestKillTargets(t *testing.T) {
	f := newFakeServer()
	tm := newTestTmux(f)

	if err := tm.KillPane("%5"); err != nil {
		t.Fatalf("KillPane: %v", err)
	}
	if err := tm.KillWindow("life", "old"); err != nil {
		t.Fatalf("KillWindow: %v", err)
	}
	if !equalArgs(f.calls[0], []string{"kill-pane", "-t", "%5"}) {
		t.Errorf("kill-pane argv = %v", f.calls[0])
	}
	if !equalArgs(f.calls[1], []string{"kill-window", "-t", "life:old"}) {
		t.Errorf("kill-window argv = %v", f.calls[1])
	}
}

func TestHasSessionAbsent(t *testing.T) {
	f := newFakeServer()
	f.respond = func(args []string) (string, error) { return "", ErrNoServer }
	tm := newTestTmux(f)

	has, err := tm.HasSession("life")
	if err != nil {
		t.Fatalf("no server should not error, got %v", err)
	}
	if has {
		t.Error("HasSession = true with no server")
	}
}

func TestEnsureSessionRace(t *testing.T) {
	f := newFakeServer()
	f.respond = func(args []string) (string, error) {
		switch args[0] {
		case "has-session":
			return "", ErrTargetNotFound
		case "new-session":
			return "", ErrSessionExists
		}
		return "", nil
	}
	tm := newTestTmux(f)

	if err := tm.EnsureSession("life", ""); err != nil {
		t.Errorf("EnsureSession lost race but errored: %v", err)
	}
}

func TestNewSessionRejectsBadName(t *testing.T) {
	tm := newTestTmux(newFakeServer())
	if err := tm.NewSession("bad name;rm", ""); err == nil {
		t.Error("NewSession accepted shell metacharacters")
	}
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		stderr string
		want   error
	}{
		{"no server running on /tmp/tmux-1000/default", ErrNoServer},
		{"error connecting to /tmp/tmux-1000/default", ErrNoServer},
		{"duplicate session: life", ErrSessionExists},
		{"session not found: life", ErrTargetNotFound},
		{"can't find session: life", ErrTargetNotFound},
		{"can't find window: chief", ErrTargetNotFound},
		{"can't find pane: %9", ErrTargetNotFound},
	}
	for _, tt := range tests {
		err := wrapError(errors.New("exit status 1"), tt.stderr, []string{"test"})
		if err != tt.want {
			t.Errorf("wrapError(%q) = %v, want %v", tt.stderr, err, tt.want)
		}
	}

	err := wrapError(errors.New("exit status 1"), "something else entirely", []string{"send-keys", "-t", "%1"})
	if err == ErrNoServer || err == ErrTargetNotFound || err == ErrSessionExists {
		t.Errorf("unknown stderr mapped to sentinel: %v", err)
	}
	if !strings.Contains(err.Error(), "send-keys") {
		t.Errorf("generic error lost command context: %v", err)
	}
}

func TestDescendantPIDsOrder(t *testing.T) {
	// With no real children, the walk returns nothing and the kill path
	// falls through to the root pid alone.
	if got := descendantPIDs(-1); len(got) != 0 {
		t.Errorf("descendantPIDs(-1) = %v, want empty", got)
	}
}
