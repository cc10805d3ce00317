//go:build !windows

package tmux

import (
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

func terminateProcess(pid int) {
	_ = syscall.Kill(pid, syscall.SIGTERM)
}

func forceKillProcess(pid int) {
	_ = syscall.Kill(pid, syscall.SIGKILL)
}

// processAlive uses signal 0, which probes without delivering anything.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// childPIDs returns the direct children of a process.
func childPIDs(pid int) []int {
	out, err := exec.Command("pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		// pgrep exits 1 when there are no matches.
		return nil
	}
	return parsePIDs(strings.Fields(string(out)))
}

// processGroupID returns the PGID for a pid, or 0 if the process is gone.
func processGroupID(pid int) int {
	out, err := exec.Command("ps", "-o", "pgid=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0
	}
	pgid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0
	}
	return pgid
}

// processGroupMembers returns every pid sharing a PGID, catching processes
// that detached from their parent but stayed in the group.
func processGroupMembers(pgid int) []int {
	out, err := exec.Command("ps", "-axo", "pid,pgid").Output()
	if err != nil {
		return nil
	}
	var members []int
	want := strconv.Itoa(pgid)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == want {
			if pid, err := strconv.Atoi(fields[0]); err == nil {
				members = append(members, pid)
			}
		}
	}
	return members
}

func parsePIDs(fields []string) []int {
	var pids []int
	for _, f := range fields {
		if pid, err := strconv.Atoi(strings.TrimSpace(f)); err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}
