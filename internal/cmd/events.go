package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/claudeos/cos/internal/events"
	"github.com/claudeos/cos/internal/style"
	"github.com/claudeos/cos/internal/ui"
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	GroupID: GroupDiag,
	Short:   "Read the activity feed",
	RunE:    requireSubcommand,
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent events",
	RunE:  runEventsTail,
}

var (
	eventsTailLines  int
	eventsTailFollow bool
	eventsTailJSON   bool
)

func init() {
	eventsTailCmd.Flags().IntVarP(&eventsTailLines, "lines", "n", 30, "Number of events to show")
	eventsTailCmd.Flags().BoolVarP(&eventsTailFollow, "follow", "f", false, "Follow the feed")
	eventsTailCmd.Flags().BoolVar(&eventsTailJSON, "json", false, "Raw JSONL output")
	eventsCmd.AddCommand(eventsTailCmd)
	rootCmd.AddCommand(eventsCmd)
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	root, err := requireWorkspace()
	if err != nil {
		return err
	}
	feed := events.NewFeed(root)

	if eventsTailFollow {
		// Delegate the hard part; tail handles rotation and partial lines.
		tail := exec.Command("tail", "-n", fmt.Sprintf("%d", eventsTailLines), "-f", feed.Path())
		tail.Stdout = os.Stdout
		tail.Stderr = os.Stderr
		return tail.Run()
	}

	entries, err := feed.Tail(eventsTailLines)
	if err != nil {
		return err
	}
	for _, e := range entries {
		printEntry(e)
	}
	return nil
}

func printEntry(e events.Entry) {
	if eventsTailJSON || ui.IsAgentMode() {
		data, err := json.Marshal(e)
		if err != nil {
			return
		}
		fmt.Println(string(data))
		return
	}

	detail := ""
	if len(e.Payload) > 0 {
		data, err := json.Marshal(e.Payload)
		if err == nil {
			detail = " " + style.Dim.Render(string(data))
		}
	}
	fmt.Printf("%s  %-20s %s%s\n", style.Dim.Render(e.Timestamp), e.Type, e.Source, detail)
}
