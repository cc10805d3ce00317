package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/claudeos/cos/internal/config"
	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/db"
	"github.com/claudeos/cos/internal/style"
)

var initCmd = &cobra.Command{
	Use:     "init [dir]",
	GroupID: GroupServices,
	Short:   "Initialize a workspace",
	Long: `Create the workspace layout in the given directory (default: cwd).

Lays down .engine/, the Desktop tree, the roles directory with a chief
role stub, and a commented config file, then creates the database.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

const configTemplate = `# cos runtime configuration. Every key is optional; these are the defaults.

# timezone = "America/Los_Angeles"

[tmux]
# session = "life"
# chief_window = "chief"

[claude]
# command = "claude"

[monitor]
# poll_seconds = 30
# warn_threshold = 90
# autonomous_shift = 10

[calendar]
# command = ""
# minutes_ahead = 10

[missions]
# max_concurrent = 4
`

const chiefRoleStub = `You are the Chief: the user-facing session for this workspace.

You own the Desktop, delegate long work to specialist sessions, and act
on runtime notifications prefixed with [CLAUDE OS SYS: ...].
`

func runInit(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	var err error
	if root, err = filepath.Abs(root); err != nil {
		return err
	}

	dirs := []string{
		constants.EngineStateDir(root),
		filepath.Dir(constants.DatabasePath(root)),
		constants.ConversationsPath(root),
		filepath.Join(root, constants.DesktopDir, constants.WorkingDir),
		filepath.Join(root, constants.DesktopDir, "apps"),
		constants.RolePath(root, constants.RoleChief),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	// Never clobber an existing config or role definition.
	configPath := filepath.Join(root, config.ConfigPath)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.WriteFile(configPath, []byte(configTemplate), 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
	}
	rolePath := filepath.Join(constants.RolePath(root, constants.RoleChief), "role.md")
	if _, err := os.Stat(rolePath); os.IsNotExist(err) {
		if err := os.WriteFile(rolePath, []byte(chiefRoleStub), 0o644); err != nil {
			return fmt.Errorf("writing chief role: %w", err)
		}
	}

	database, err := db.OpenWorkspace(root)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Migrate(); err != nil {
		return err
	}

	fmt.Printf("%s workspace initialized at %s\n", style.Good.Render("✓"), root)
	fmt.Println("Next: cos daemon start, then cos spawn chief")
	return nil
}
