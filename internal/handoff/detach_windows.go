//go:build windows

package handoff

import "os/exec"

func detachSysProcAttr(cmd *exec.Cmd) {}
