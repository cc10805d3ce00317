package cmd

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/claudeos/cos/internal/config"
	"github.com/claudeos/cos/internal/daemon"
	"github.com/claudeos/cos/internal/db"
	"github.com/claudeos/cos/internal/registry"
	"github.com/claudeos/cos/internal/session"
	"github.com/claudeos/cos/internal/style"
	"github.com/claudeos/cos/internal/tmux"
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	GroupID: GroupDiag,
	Short:   "Check the workspace and its dependencies",
	RunE:    runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type check struct {
	name string
	fn   func(root string, cfg *config.Config) (string, error)
}

var doctorChecks = []check{
	{"tmux binary", func(root string, cfg *config.Config) (string, error) {
		path, err := exec.LookPath("tmux")
		if err != nil {
			return "", fmt.Errorf("tmux not found in PATH")
		}
		return path, nil
	}},
	{"agent command", func(root string, cfg *config.Config) (string, error) {
		path, err := exec.LookPath(cfg.Claude.Command)
		if err != nil {
			return "", fmt.Errorf("%q not found in PATH", cfg.Claude.Command)
		}
		return path, nil
	}},
	{"timezone", func(root string, cfg *config.Config) (string, error) {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return "", fmt.Errorf("unknown timezone %q", cfg.Timezone)
		}
		return cfg.Timezone, nil
	}},
	{"database", func(root string, cfg *config.Config) (string, error) {
		database, err := db.OpenWorkspace(root)
		if err != nil {
			return "", err
		}
		defer database.Close()
		if err := database.Migrate(); err != nil {
			return "", err
		}
		return database.Path(), nil
	}},
	{"tmux session", func(root string, cfg *config.Config) (string, error) {
		ok, err := tmux.NewTmux().HasSession(cfg.Tmux.Session)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("session %q not running (spawn the chief to create it)", cfg.Tmux.Session)
		}
		return cfg.ChiefTarget(), nil
	}},
	{"roles", func(root string, cfg *config.Config) (string, error) {
		roles, err := session.ListRoles(root)
		if err != nil {
			return "", err
		}
		if len(roles) == 0 {
			return "", fmt.Errorf("no roles under .claude/roles")
		}
		return fmt.Sprintf("%d defined", len(roles)), nil
	}},
	{"live sessions", func(root string, cfg *config.Config) (string, error) {
		database, err := db.OpenWorkspace(root)
		if err != nil {
			return "", err
		}
		defer database.Close()
		if err := database.Migrate(); err != nil {
			return "", err
		}
		live, err := registry.New(database, nil).LiveSessions()
		if err != nil {
			return "", err
		}
		tm := tmux.NewTmux()
		dangling := 0
		for _, s := range live {
			if s.TmuxPane == "" {
				continue
			}
			if _, err := tm.PanePID(s.TmuxPane); err != nil {
				dangling++
			}
		}
		if dangling > 0 {
			return "", fmt.Errorf("%d live session(s) whose panes are gone", dangling)
		}
		return fmt.Sprintf("%d live, all panes present", len(live)), nil
	}},
	{"daemon", func(root string, cfg *config.Config) (string, error) {
		running, pid, err := daemon.IsRunning(root)
		if err != nil {
			return "", err
		}
		if !running {
			return "", fmt.Errorf("not running (cos daemon start)")
		}
		return fmt.Sprintf("pid %d", pid), nil
	}},
}

func runDoctor(cmd *cobra.Command, args []string) error {
	root, err := requireWorkspace()
	if err != nil {
		return err
	}
	cfg, err := config.Resolve(root)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n\n", style.Header.Render("Workspace"), root)
	failures := 0
	for _, c := range doctorChecks {
		detail, err := c.fn(root, cfg)
		if err != nil {
			failures++
			fmt.Printf("  %s %-14s %s\n", style.Bad.Render("✗"), c.name, err)
			continue
		}
		fmt.Printf("  %s %-14s %s\n", style.Good.Render("✓"), c.name, style.Dim.Render(detail))
	}

	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	fmt.Printf("\n%s\n", style.Good.Render("All checks passed."))
	return nil
}
