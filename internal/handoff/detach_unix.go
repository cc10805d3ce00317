//go:build !windows

package handoff

import (
	"os/exec"
	"syscall"
)

// detachSysProcAttr puts the executor in its own session so killing the
// requesting pane's process tree cannot take the executor down with it.
func detachSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
