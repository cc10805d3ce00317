package duty

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/eventbus"
	"github.com/claudeos/cos/internal/tmux"
)

// chiefInjector is the slice of the tmux driver the scheduler needs.
type chiefInjector interface {
	WindowExists(session, window string) (bool, error)
	Inject(target, message string, opts tmux.InjectOptions) (bool, error)
}

// Scheduler fires duties into the Chief pane. The schedule is self-healing:
// there is no next_run column, only today's scheduled time compared against
// last_run, so every failure mode degrades to "run it now or run it next
// tick".
type Scheduler struct {
	store *Store
	mux   chiefInjector
	bus   *eventbus.Bus
	logf  func(format string, args ...interface{})

	tmuxSession string
	chiefWindow string
	loc         *time.Location
	interval    time.Duration
	now         func() time.Time
	root        string
}

// NewScheduler builds a duty scheduler. loc is the wall-clock zone duties
// are specified in.
func NewScheduler(store *Store, mux chiefInjector, bus *eventbus.Bus, root, tmuxSession, chiefWindow string, loc *time.Location, logf func(string, ...interface{})) *Scheduler {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Scheduler{
		store:       store,
		mux:         mux,
		bus:         bus,
		logf:        logf,
		tmuxSession: tmuxSession,
		chiefWindow: chiefWindow,
		loc:         loc,
		interval:    constants.DutyPollInterval,
		now:         time.Now,
		root:        root,
	}
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(); err != nil {
				s.logf("duty tick: %v", err)
			}
		}
	}
}

// Tick fires at most one eligible duty. One per tick keeps duty prompts
// from piling into the Chief's input while it is mid-response.
func (s *Scheduler) Tick() error {
	duties, err := s.store.Enabled()
	if err != nil {
		return fmt.Errorf("listing duties: %w", err)
	}

	now := s.now().In(s.loc)
	for _, d := range duties {
		if !ShouldRun(d, now) {
			continue
		}

		// The Chief window is the execution surface. Absent window means
		// skip the tick entirely; last_run stays put and the duty fires on
		// a later poll once the Chief is back.
		exists, err := s.mux.WindowExists(s.tmuxSession, s.chiefWindow)
		if err != nil {
			return fmt.Errorf("checking chief window: %w", err)
		}
		if !exists {
			s.logf("duty %s due, chief window absent; retrying next tick", d.Slug)
			return nil
		}

		return s.fire(d, now)
	}
	return nil
}

// fire injects the duty prompt into the Chief and records the run.
func (s *Scheduler) fire(d *Duty, now time.Time) error {
	target := s.tmuxSession + ":" + s.chiefWindow
	prompt := s.prompt(d)

	ok, err := s.mux.Inject(target, prompt, tmux.InjectOptions{Submit: true, Source: "DUTY"})
	if !ok {
		// last_run untouched; the next tick retries.
		return fmt.Errorf("injecting duty %s: %w", d.Slug, err)
	}

	if err := s.store.UpdateLastRun(d.ID, "triggered", now); err != nil {
		return err
	}
	if _, err := s.store.RecordExecution(&Execution{
		DutyID:    d.ID,
		DutySlug:  d.Slug,
		StartedAt: now,
		Status:    "triggered",
	}); err != nil {
		s.logf("duty %s: %v", d.Slug, err)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.EventDutyCompleted, map[string]interface{}{
			"duty_slug": d.Slug,
			"status":    "triggered",
		})
	}
	s.logf("duty %s fired at %s", d.Slug, now.Format("15:04"))
	return nil
}

// prompt resolves the injected text: the prompt file's contents when one is
// configured, otherwise the conventional slash-command form.
func (s *Scheduler) prompt(d *Duty) string {
	if d.PromptFile != "" {
		data, err := os.ReadFile(d.PromptFile)
		if err == nil && len(strings.TrimSpace(string(data))) > 0 {
			return fmt.Sprintf("[DUTY] %s", strings.TrimSpace(string(data)))
		}
		s.logf("duty %s: prompt file %s unreadable, using slash command", d.Slug, d.PromptFile)
	}
	return fmt.Sprintf("[DUTY] /%s", d.Slug)
}

// ShouldRun decides fire-eligibility from today's scheduled time and
// last_run alone. A missing or corrupt last_run runs the duty; a system
// that slept through the scheduled time runs it on the first tick after
// waking. now must already be in the schedule's timezone.
func ShouldRun(d *Duty, now time.Time) bool {
	h, m, err := parseHHMM(d.ScheduleTime)
	if err != nil {
		return false
	}
	todayScheduled := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	if now.Before(todayScheduled) {
		return false
	}
	if d.LastRun == "" {
		return true
	}
	lastRun, err := time.Parse(time.RFC3339, d.LastRun)
	if err != nil {
		// Corrupt stamp: run rather than silently never run again.
		return true
	}
	return lastRun.In(now.Location()).Before(todayScheduled)
}

func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("bad schedule time %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad schedule hour %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad schedule minute %q", s)
	}
	return hour, minute, nil
}
