package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/claudeos/cos/internal/constants"
)

// stopPollInterval paces the wait inside StopDaemon.
const stopPollInterval = 200 * time.Millisecond

// pidFilePath returns the daemon PID file for a workspace.
func pidFilePath(root string) string {
	return filepath.Join(constants.EngineStateDir(root), constants.DaemonPIDName)
}

// IsRunning reports whether a daemon holds this workspace, and its PID.
// A stale PID file (dead process) is removed on the way through.
func IsRunning(root string) (bool, int, error) {
	data, err := os.ReadFile(pidFilePath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("reading pid file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return false, 0, fmt.Errorf("invalid pid %q in pid file", pidStr)
	}

	if !processAlive(pid) {
		_ = os.Remove(pidFilePath(root))
		return false, 0, nil
	}
	return true, pid, nil
}

// StopDaemon sends the running daemon a termination signal and waits up to
// timeout for it to exit.
func StopDaemon(root string, timeout time.Duration) error {
	running, pid, err := IsRunning(root)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon not running")
	}

	if err := terminate(pid); err != nil {
		return fmt.Errorf("signaling daemon (pid %d): %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(stopPollInterval)
	}
	return fmt.Errorf("daemon (pid %d) did not exit within %v", pid, timeout)
}

// StartDetached re-execs this binary as `daemon run` in a new session so the
// daemon outlives the invoking shell. Returns the child PID.
func StartDetached(root string) (int, error) {
	if running, pid, err := IsRunning(root); err != nil {
		return 0, err
	} else if running {
		return 0, fmt.Errorf("daemon already running (pid %d)", pid)
	}

	self, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locating executable: %w", err)
	}

	stateDir := constants.EngineStateDir(root)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return 0, fmt.Errorf("creating state dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(stateDir, constants.DaemonLogName),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening daemon log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(self, "daemon", "run")
	cmd.Dir = root
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting daemon: %w", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("releasing daemon process: %w", err)
	}
	return pid, nil
}
