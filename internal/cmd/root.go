// Package cmd provides the cos CLI commands.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/claudeos/cos/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "cos",
	Short:   "Claude OS - agent orchestration runtime",
	Version: version.Version,
	Long: `Claude OS (cos) runs a workspace of Claude agents in tmux panes.

It registers sessions, watches their context budgets, hands dying sessions
off to fresh successors, and drives scheduled duties, triggers, and
missions against the Chief window.`,
	SilenceUsage: true,
}

// Command group IDs, used to organize help output.
const (
	GroupSessions   = "sessions"
	GroupAutomation = "automation"
	GroupServices   = "services"
	GroupDiag       = "diag"
)

func init() {
	// Prefix matching: "cos mis r nightly-digest" -> "cos mission run".
	cobra.EnablePrefixMatching = true

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupSessions, Title: "Sessions:"},
		&cobra.Group{ID: GroupAutomation, Title: "Automation:"},
		&cobra.Group{ID: GroupServices, Title: "Services:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)
	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupDiag)
}

// Execute runs the root command and returns an exit code for main.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// buildCommandPath walks up the command tree for error messages like
// "cos mission run".
func buildCommandPath(cmd *cobra.Command) string {
	var parts []string
	for c := cmd; c != nil; c = c.Parent() {
		parts = append([]string{c.Name()}, parts...)
	}
	return strings.Join(parts, " ")
}

// requireSubcommand is the RunE for parent commands. Without it cobra shows
// help and exits 0 for unknown subcommands, masking typos.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires a subcommand\n\nRun '%s --help' for usage", buildCommandPath(cmd))
	}
	return fmt.Errorf("unknown command %q for %q\n\nRun '%s --help' for available commands",
		args[0], buildCommandPath(cmd), buildCommandPath(cmd))
}
