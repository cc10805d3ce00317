package handoff

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/claudeos/cos/internal/claude"
	"github.com/claudeos/cos/internal/config"
	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/session"
	"github.com/claudeos/cos/internal/util"
)

// transcriptBudget caps how much conversation text goes into the summarizer
// prompt. The recent end of the transcript is what a handoff needs.
const transcriptBudget = 60_000

// Summarizer runs a short-lived headless agent whose only job is to edit
// the handoff template in place.
//
// It gets its own fresh session id and mode=summarizer in the environment
// contract. That is load-bearing: the lifecycle hook upserts on those env
// vars, and without the overwrite the summarizer's tiny transcript would be
// registered against the dying session's row and clobber the transcript
// path the summary is being built from.
type Summarizer struct {
	cfg  *config.Config
	root string

	// runCmd executes the prepared agent command. Tests substitute a fake.
	runCmd func(cmd *exec.Cmd) error
}

// NewSummarizer builds a summarizer for a workspace.
func NewSummarizer(cfg *config.Config, root string) *Summarizer {
	return &Summarizer{
		cfg:    cfg,
		root:   root,
		runCmd: func(cmd *exec.Cmd) error { return cmd.Run() },
	}
}

// Run fills the handoff file for h by prompting a headless agent with the
// dying session's transcript and context files. Errors leave the scaffold
// intact; the executor proceeds regardless.
func (s *Summarizer) Run(h *Handoff, transcriptPath string) error {
	prompt, err := s.buildPrompt(h, transcriptPath)
	if err != nil {
		return err
	}

	args := append([]string{}, s.cfg.Claude.Args...)
	args = append(args, "-p", prompt)
	cmd := exec.Command(s.cfg.Claude.Command, args...)
	cmd.Dir = filepath.Dir(h.HandoffFile)

	env := config.SessionEnv(config.SessionEnvConfig{
		SessionID:       util.NewSessionID(),
		Role:            h.Role,
		Mode:            constants.ModeSummarizer,
		Description:     "summarizing session " + h.SessionID,
		ConversationID:  "summarizer-" + h.ID,
		ParentSessionID: h.SessionID,
	})
	cmd.Env = config.EnvForExecCommand(env)

	if err := s.runCmd(cmd); err != nil {
		return fmt.Errorf("summarizer agent for %s: %w", h.SessionID, err)
	}
	return nil
}

// buildPrompt assembles the summarizer's instructions: the template to
// edit, the transcript, the role definition, and the working files.
func (s *Summarizer) buildPrompt(h *Handoff, transcriptPath string) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, `You are writing a handoff for an agent session that is running out of context.
Edit the file %s in place, replacing each HTML comment placeholder with real
content. Do not call any tools other than file edits. Do not add new sections.

A fresh agent will read this file to CONTINUE THE WORK. It does not need a
chat recap; it needs what was in flight, the current state of every touched
file, and the single next action.

`, h.HandoffFile)

	if def, err := session.LoadRole(s.root, h.Role); err == nil && def.Definition != "" {
		fmt.Fprintf(&b, "## Role definition (%s)\n\n%s\n\n", h.Role, def.Definition)
	}
	if notes, err := session.ModeNotes(s.root, h.Role, h.Mode); err == nil && notes != "" {
		fmt.Fprintf(&b, "## Mode notes (%s)\n\n%s\n\n", h.Mode, notes)
	}

	for _, name := range []string{"TODAY.md", "MEMORY.md"} {
		data, err := os.ReadFile(filepath.Join(s.root, constants.DesktopDir, name))
		if err == nil && len(data) > 0 {
			fmt.Fprintf(&b, "## %s\n\n%s\n\n", name, strings.TrimSpace(string(data)))
		}
	}

	turns, err := claude.ReadTranscript(transcriptPath)
	if err != nil {
		return "", fmt.Errorf("reading transcript %s: %w", transcriptPath, err)
	}
	if len(turns) == 0 {
		return "", fmt.Errorf("transcript %s is empty", transcriptPath)
	}
	fmt.Fprintf(&b, "## Transcript of the dying session\n\n%s\n",
		claude.RenderConversation(turns, transcriptBudget))

	return b.String(), nil
}
