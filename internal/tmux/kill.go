package tmux

import (
	"time"
)

const killGrace = 2 * time.Second

// KillPaneProcesses terminates the process tree rooted at a pane's process,
// deepest child first so parents cannot respawn what was just killed. Each
// process gets SIGTERM, a grace period, then SIGKILL for survivors. Group
// members that reparented to init are swept up via the pane's pgid.
//
// This does not remove the pane itself; callers follow with KillPane.
func (t *Tmux) KillPaneProcesses(target string) error {
	root, err := t.PanePID(target)
	if err != nil {
		return err
	}

	pids := descendantPIDs(root)
	pids = append(pids, root)
	if pgid := processGroupID(root); pgid > 0 {
		for _, m := range processGroupMembers(pgid) {
			if !containsPID(pids, m) {
				pids = append(pids, m)
			}
		}
	}

	for _, pid := range pids {
		terminateProcess(pid)
	}

	deadline := time.Now().Add(killGrace)
	for time.Now().Before(deadline) {
		if !anyAlive(pids) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	for _, pid := range pids {
		if processAlive(pid) {
			forceKillProcess(pid)
		}
	}
	return nil
}

// descendantPIDs walks the child tree of root and returns it post-order,
// deepest processes first. root itself is not included.
func descendantPIDs(root int) []int {
	var out []int
	var walk func(pid int)
	walk = func(pid int) {
		for _, child := range childPIDs(pid) {
			walk(child)
			out = append(out, child)
		}
	}
	walk(root)
	return out
}

func anyAlive(pids []int) bool {
	for _, pid := range pids {
		if processAlive(pid) {
			return true
		}
	}
	return false
}

func containsPID(pids []int, pid int) bool {
	for _, p := range pids {
		if p == pid {
			return true
		}
	}
	return false
}
