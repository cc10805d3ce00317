package mission

import (
	"context"
	"fmt"
	"time"
)

// Scheduler fires scheduled missions through the executor. It reuses the
// duties' self-healing shape: eligibility is computed from today's HH:MM
// and last_run, never from a stored next_run.
type Scheduler struct {
	store    *Store
	executor *Executor
	logf     func(format string, args ...interface{})

	loc      *time.Location
	interval time.Duration
	now      func() time.Time
}

// NewScheduler builds a mission scheduler.
func NewScheduler(store *Store, executor *Executor, loc *time.Location, interval time.Duration, logf func(string, ...interface{})) *Scheduler {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Scheduler{
		store:    store,
		executor: executor,
		logf:     logf,
		loc:      loc,
		interval: interval,
		now:      time.Now,
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
			if err := s.Tick(ctx); err != nil {
				s.logf("mission tick: %v", err)
			}
		}
	}
}

// Tick launches every eligible scheduled mission. Unlike duties, several
// missions may start in one tick; the executor's semaphore bounds actual
// concurrency.
func (s *Scheduler) Tick(ctx context.Context) error {
	missions, err := s.store.EnabledScheduled()
	if err != nil {
		return fmt.Errorf("listing scheduled missions: %w", err)
	}

	now := s.now().In(s.loc)
	for _, m := range missions {
		if !eligible(m, now) {
			continue
		}
		// Stamp before launch: a wedged agent must not make the scheduler
		// re-fire the mission every 30 seconds for its whole timeout.
		if err := s.store.UpdateLastRun(m.ID, ExecRunning, now); err != nil {
			s.logf("mission %s: %v", m.Slug, err)
			continue
		}
		if _, err := s.executor.Execute(ctx, m.Slug, nil); err != nil {
			s.logf("mission %s: %v", m.Slug, err)
		}
	}
	return nil
}

func eligible(m *Mission, now time.Time) bool {
	var h, min int
	if _, err := fmt.Sscanf(m.ScheduleTime, "%d:%d", &h, &min); err != nil || h < 0 || h > 23 || min < 0 || min > 59 {
		return false
	}
	todayScheduled := time.Date(now.Year(), now.Month(), now.Day(), h, min, 0, 0, now.Location())
	if now.Before(todayScheduled) {
		return false
	}
	if m.LastRun == "" {
		return true
	}
	lastRun, err := time.Parse(time.RFC3339, m.LastRun)
	if err != nil {
		return true
	}
	return lastRun.In(now.Location()).Before(todayScheduled)
}
