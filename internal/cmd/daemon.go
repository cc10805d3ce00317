package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/daemon"
	"github.com/claudeos/cos/internal/style"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: GroupServices,
	Short:   "Manage the background daemon",
	RunE:    requireSubcommand,
	Long: `Manage the cos background daemon.

The daemon hosts the runtime loops: the context monitor, the duty and
mission schedulers, the trigger service, and the filesystem watcher. One
daemon runs per workspace.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runDaemonStatus,
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the daemon log",
	RunE:  runDaemonLogs,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground (internal)",
	Hidden: true,
	RunE:   runDaemonRun,
}

var (
	daemonLogLines  int
	daemonLogFollow bool
)

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
	daemonCmd.AddCommand(daemonRunCmd)

	daemonLogsCmd.Flags().IntVarP(&daemonLogLines, "lines", "n", 50, "Number of lines to show")
	daemonLogsCmd.Flags().BoolVarP(&daemonLogFollow, "follow", "f", false, "Follow log output")

	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	root, err := requireWorkspace()
	if err != nil {
		return err
	}
	pid, err := daemon.StartDetached(root)
	if err != nil {
		return err
	}
	fmt.Printf("%s daemon started (pid %d)\n", style.Good.Render("✓"), pid)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	root, err := requireWorkspace()
	if err != nil {
		return err
	}
	if err := daemon.StopDaemon(root, 10*time.Second); err != nil {
		return err
	}
	fmt.Printf("%s daemon stopped\n", style.Good.Render("✓"))
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	root, err := requireWorkspace()
	if err != nil {
		return err
	}
	running, pid, err := daemon.IsRunning(root)
	if err != nil {
		return err
	}
	if running {
		fmt.Printf("daemon: %s (pid %d)\n", style.Good.Render("running"), pid)
	} else {
		fmt.Printf("daemon: %s\n", style.Dim.Render("not running"))
	}
	return nil
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	root, err := requireWorkspace()
	if err != nil {
		return err
	}
	logPath := filepath.Join(constants.EngineStateDir(root), constants.DaemonLogName)
	if _, err := os.Stat(logPath); err != nil {
		return fmt.Errorf("no daemon log at %s", logPath)
	}

	// tail does this job better than we would.
	tailArgs := []string{"-n", fmt.Sprintf("%d", daemonLogLines)}
	if daemonLogFollow {
		tailArgs = append(tailArgs, "-f")
	}
	tailArgs = append(tailArgs, logPath)
	tail := exec.Command("tail", tailArgs...)
	tail.Stdout = os.Stdout
	tail.Stderr = os.Stderr
	return tail.Run()
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	root, err := requireWorkspace()
	if err != nil {
		return err
	}
	d, err := daemon.New(root)
	if err != nil {
		return err
	}
	return d.Run()
}
