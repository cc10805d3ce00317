package tmux

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/claudeos/cos/internal/util"
)

// InjectOptions controls message delivery.
type InjectOptions struct {
	// Submit sends Enter after the paste settles.
	Submit bool
	// Delay is the settle time between paste and submit. Zero means
	// DefaultSubmitDelay.
	Delay time.Duration
	// Source, when set, prepends a "[<source> HH:MM] " tag so the agent can
	// tell runtime traffic from typed input.
	Source string
}

// Inject delivers a message into a pane through a uniquely named paste
// buffer. Unlike send-keys, a buffer paste survives arbitrary content
// (newlines, quotes, unicode) and the unique name keeps concurrent
// injections to different panes from clobbering each other.
//
// The sequence per attempt: write the message to a temp file, load-buffer
// into inject-<uuid>, paste-buffer with delete-on-paste, settle, Enter.
// Failed attempts retry with linear backoff, up to three tries. The bool
// result reports delivery; callers log failures, they never panic.
func (t *Tmux) Inject(target, message string, opts InjectOptions) (bool, error) {
	release, err := t.lockTarget(target)
	if err != nil {
		return false, err
	}
	defer release()

	if opts.Source != "" {
		message = fmt.Sprintf("[%s %s] %s", opts.Source, time.Now().Format("15:04"), message)
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = DefaultSubmitDelay
	}

	var lastErr error
	for attempt := 1; attempt <= t.attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(time.Duration(attempt-1) * t.retryDelay)
		}
		if err := t.injectOnce(target, message, opts.Submit, delay); err != nil {
			lastErr = err
			// The pane or server vanishing will not heal on retry.
			if errors.Is(err, ErrNoServer) || errors.Is(err, ErrTargetNotFound) {
				break
			}
			continue
		}
		return true, nil
	}
	return false, fmt.Errorf("inject into %s failed after %d attempts: %w", target, t.attempts, lastErr)
}

func (t *Tmux) injectOnce(target, message string, submit bool, delay time.Duration) error {
	f, err := os.CreateTemp("", "cos-inject-*.txt")
	if err != nil {
		return fmt.Errorf("create inject temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(message); err != nil {
		f.Close()
		return fmt.Errorf("write inject temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close inject temp file: %w", err)
	}

	buffer := util.NewBufferName()
	if _, err := t.run("load-buffer", "-b", buffer, path); err != nil {
		return err
	}
	// -d deletes the buffer on paste; -p respects bracketed paste so embedded
	// newlines do not submit line by line.
	if _, err := t.run("paste-buffer", "-d", "-p", "-b", buffer, "-t", target); err != nil {
		_, _ = t.run("delete-buffer", "-b", buffer)
		return err
	}
	if !submit {
		return nil
	}
	time.Sleep(delay)
	return t.SendKeys(target, "Enter")
}
