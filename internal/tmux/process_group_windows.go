//go:build windows

package tmux

import "os"

// tmux does not run on Windows, so these paths are unreachable in practice;
// they exist to keep the package compiling for cross-platform builds.

func terminateProcess(pid int) {
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Kill()
	}
}

func forceKillProcess(pid int) {
	terminateProcess(pid)
}

func processAlive(pid int) bool {
	return false
}

func childPIDs(pid int) []int {
	return nil
}

func processGroupID(pid int) int {
	return 0
}

func processGroupMembers(pgid int) []int {
	return nil
}
