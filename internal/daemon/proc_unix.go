//go:build !windows

package daemon

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// notifySignals registers the shutdown signals.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)
}

// processAlive reports whether pid is a live process we could signal.
func processAlive(pid int) bool {
	// Signal 0 probes without delivering. EPERM still means alive.
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// terminate asks pid to shut down gracefully.
func terminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

// detach configures cmd to survive its parent: new session, no controlling
// terminal.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
