package mission

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/claudeos/cos/internal/config"
	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/eventbus"
	"github.com/claudeos/cos/internal/util"
)

// Executor runs missions as headless agent subprocesses. A semaphore caps
// how many run at once; missions are batch automation and have no claim on
// the whole machine.
type Executor struct {
	store *Store
	cfg   *config.Config
	bus   *eventbus.Bus
	root  string
	logf  func(format string, args ...interface{})

	sem chan struct{}
	wg  sync.WaitGroup

	// runAgent executes one prepared mission agent and blocks until it
	// exits. Tests substitute a fake.
	runAgent func(ctx context.Context, m *Mission, e *Execution, prompt string) error
}

// NewExecutor builds a mission executor with concurrency cap maxConcurrent.
func NewExecutor(store *Store, cfg *config.Config, bus *eventbus.Bus, root string, maxConcurrent int, logf func(string, ...interface{})) *Executor {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	x := &Executor{
		store: store,
		cfg:   cfg,
		bus:   bus,
		root:  root,
		logf:  logf,
		sem:   make(chan struct{}, maxConcurrent),
	}
	x.runAgent = x.runHeadless
	return x
}

// Execute starts a mission run in the background and returns its execution
// row immediately. The agent closes the row itself via
// `cos mission complete --execution <id>`; an agent that exits without
// closing is marked failed.
func (x *Executor) Execute(ctx context.Context, slug string, vars map[string]string) (*Execution, error) {
	m, err := x.store.Get(slug)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("mission %s not found", slug)
	}
	if !m.Enabled {
		return nil, fmt.Errorf("mission %s is disabled", slug)
	}

	prompt, err := x.loadPrompt(m)
	if err != nil {
		return nil, err
	}

	e, err := x.store.BeginExecution(m)
	if err != nil {
		return nil, err
	}

	merged := map[string]string{
		"execution_id": e.ID,
		"mission_slug": m.Slug,
		"date":         time.Now().Format("2006-01-02"),
	}
	for k, v := range vars {
		merged[k] = v
	}
	prompt = Substitute(prompt, merged)

	x.publish(eventbus.EventMissionStarted, m, e, nil)

	x.wg.Add(1)
	go x.run(ctx, m, e, prompt)
	return e, nil
}

// Wait blocks until every in-flight mission has returned. The daemon calls
// this during drain.
func (x *Executor) Wait() { x.wg.Wait() }

func (x *Executor) run(ctx context.Context, m *Mission, e *Execution, prompt string) {
	defer x.wg.Done()

	select {
	case x.sem <- struct{}{}:
		defer func() { <-x.sem }()
	case <-ctx.Done():
		x.close(e, ExecFailed, "", "cancelled before start")
		return
	}

	timeout := time.Duration(m.TimeoutMinutes) * time.Minute
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := x.runAgent(runCtx, m, e, prompt)

	// The agent's own `mission complete` call closes the row; this path
	// only records agents that died without reporting.
	current, gerr := x.store.GetExecution(e.ID)
	if gerr != nil || current == nil {
		x.logf("mission %s: reading execution %s: %v", m.Slug, e.ID, gerr)
		return
	}
	if current.Status != ExecRunning {
		x.finish(m, current, nil)
		return
	}
	if err == nil {
		err = fmt.Errorf("agent exited without calling mission complete")
	}
	x.close(e, ExecFailed, "", err.Error())
	current, _ = x.store.GetExecution(e.ID)
	x.finish(m, current, err)
}

func (x *Executor) close(e *Execution, status, summary, errMsg string) {
	if err := x.store.CloseExecution(e.ID, status, summary, errMsg); err != nil {
		x.logf("closing execution %s: %v", e.ID, err)
	}
}

func (x *Executor) finish(m *Mission, e *Execution, err error) {
	status := ExecCompleted
	if e != nil && e.Status != "" {
		status = e.Status
	}
	if uerr := x.store.UpdateLastRun(m.ID, status, time.Now()); uerr != nil {
		x.logf("mission %s: %v", m.Slug, uerr)
	}
	x.publish(eventbus.EventMissionCompleted, m, e, err)
}

// runHeadless launches the agent CLI with the mission prompt and the env
// contract. No pane: stdout goes to a per-execution log under
// .engine/state.
func (x *Executor) runHeadless(ctx context.Context, m *Mission, e *Execution, prompt string) error {
	args := append([]string{}, x.cfg.Claude.Args...)
	args = append(args, "-p", prompt)
	cmd := exec.CommandContext(ctx, x.cfg.Claude.Command, args...)
	cmd.Dir = x.root

	env := config.SessionEnv(config.SessionEnvConfig{
		SessionID:          util.NewSessionID(),
		Role:               m.Role,
		Mode:               m.Mode,
		Description:        "mission " + m.Slug,
		ConversationID:     "mission-" + e.ID,
		MissionExecutionID: e.ID,
	})
	cmd.Env = config.EnvForExecCommand(env)

	logPath := filepath.Join(constants.EngineStateDir(x.root), "mission-"+e.ID+".log")
	_ = os.MkdirAll(filepath.Dir(logPath), 0o755)
	if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mission agent: %w", err)
	}
	return nil
}

// loadPrompt resolves the mission's prompt source: file XOR inline,
// enforced at create time and re-checked here because rows predate the
// check.
func (x *Executor) loadPrompt(m *Mission) (string, error) {
	switch {
	case m.PromptFile != "" && m.PromptInline != "":
		return "", fmt.Errorf("mission %s has both prompt_file and prompt_inline", m.Slug)
	case m.PromptFile != "":
		data, err := os.ReadFile(m.PromptFile)
		if err != nil {
			return "", fmt.Errorf("mission %s prompt: %w", m.Slug, err)
		}
		return string(data), nil
	case m.PromptInline != "":
		return m.PromptInline, nil
	}
	return "", fmt.Errorf("mission %s has no prompt", m.Slug)
}

// Substitute replaces {{variable}} placeholders. Unknown placeholders are
// left in place so a typo is visible in the prompt instead of silently
// vanishing.
func Substitute(template string, vars map[string]string) string {
	out := template
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

func (x *Executor) publish(eventType string, m *Mission, e *Execution, err error) {
	if x.bus == nil {
		return
	}
	data := map[string]interface{}{
		"mission_slug": m.Slug,
	}
	if e != nil {
		data["execution_id"] = e.ID
		data["status"] = e.Status
	}
	if err != nil {
		data["error"] = err.Error()
	}
	x.bus.Publish(eventType, data)
}
