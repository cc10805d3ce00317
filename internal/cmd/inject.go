package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/claudeos/cos/internal/config"
	"github.com/claudeos/cos/internal/tmux"
)

var injectCmd = &cobra.Command{
	Use:     "inject <target> <message>...",
	GroupID: GroupSessions,
	Short:   "Inject a message into a tmux pane",
	Long: `Deliver a message into a pane through a named paste buffer.

Target is a tmux target ("life:chief", "%12") or "chief" for the
configured Chief window. Buffer paste survives newlines, quotes, and
unicode that send-keys would mangle.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runInject,
}

var (
	injectSource   string
	injectNoSubmit bool
	injectDelay    time.Duration
)

func init() {
	injectCmd.Flags().StringVar(&injectSource, "source", "", "Source tag prepended to the message")
	injectCmd.Flags().BoolVar(&injectNoSubmit, "no-submit", false, "Paste without pressing Enter")
	injectCmd.Flags().DurationVar(&injectDelay, "delay", 0, "Settle time between paste and Enter")
	rootCmd.AddCommand(injectCmd)
}

func runInject(cmd *cobra.Command, args []string) error {
	target := args[0]
	message := strings.Join(args[1:], " ")

	if target == "chief" {
		root, err := requireWorkspace()
		if err != nil {
			return err
		}
		cfg, err := config.Resolve(root)
		if err != nil {
			return err
		}
		target = cfg.ChiefTarget()
	}

	delivered, err := tmux.NewTmux().Inject(target, message, tmux.InjectOptions{
		Submit: !injectNoSubmit,
		Delay:  injectDelay,
		Source: injectSource,
	})
	if err != nil {
		return err
	}
	if !delivered {
		return fmt.Errorf("message not delivered to %s", target)
	}
	return nil
}
