// Command cos is the Claude OS orchestration CLI and daemon.
package main

import (
	"os"

	"github.com/claudeos/cos/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
