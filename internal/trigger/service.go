package trigger

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/eventbus"
	"github.com/claudeos/cos/internal/tmux"
)

// chiefInjector is the slice of the tmux driver the service needs.
type chiefInjector interface {
	WindowExists(session, window string) (bool, error)
	Inject(target, message string, opts tmux.InjectOptions) (bool, error)
}

// dedupeWindow is how long a fired calendar event stays ineligible. Firing
// is keyed by event id AND last-fire time, so an all-day event that
// straddles the sweep cannot re-fire the moment the map is cleared.
const dedupeWindow = time.Hour

// Service evaluates scheduled and calendar triggers against the Chief.
type Service struct {
	store    *Store
	mux      chiefInjector
	bus      *eventbus.Bus
	calendar CalendarSource
	logf     func(format string, args ...interface{})

	tmuxSession string
	chiefWindow string
	loc         *time.Location
	interval    time.Duration
	now         func() time.Time

	mu        sync.Mutex
	fired     map[string]time.Time // calendar event id -> fire time
	lastSweep time.Time
}

// NewService builds a trigger service. calendar may be nil when no calendar
// command is configured; calendar triggers then evaluate to nothing.
func NewService(store *Store, mux chiefInjector, bus *eventbus.Bus, calendar CalendarSource, tmuxSession, chiefWindow string, loc *time.Location, logf func(string, ...interface{})) *Service {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Service{
		store:       store,
		mux:         mux,
		bus:         bus,
		calendar:    calendar,
		logf:        logf,
		tmuxSession: tmuxSession,
		chiefWindow: chiefWindow,
		loc:         loc,
		interval:    constants.TriggerPollInterval,
		now:         time.Now,
		fired:       make(map[string]time.Time),
	}
}

// Run polls until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(); err != nil {
				s.logf("trigger tick: %v", err)
			}
		}
	}
}

// Tick evaluates every enabled trigger once.
func (s *Service) Tick() error {
	triggers, err := s.store.Enabled()
	if err != nil {
		return fmt.Errorf("listing triggers: %w", err)
	}

	now := s.now().In(s.loc)
	s.sweepFired(now)

	for _, tr := range triggers {
		var err error
		switch tr.Type {
		case TypeScheduled:
			err = s.tickScheduled(tr, now)
		case TypeCalendar:
			err = s.tickCalendar(tr, now)
		}
		if err != nil {
			s.logf("trigger %s: %v", tr.Name, err)
		}
	}
	return nil
}

// tickScheduled reuses the duties' self-healing evaluation: today's
// scheduled time versus last_run, no next_run bookkeeping.
func (s *Service) tickScheduled(tr *Trigger, now time.Time) error {
	if !scheduledEligible(tr, now) {
		return nil
	}
	prompt := tr.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("%s Scheduled check-in: %s", constants.NotifyPrefix, tr.Name)
	}
	if ok, err := s.injectChief(prompt, "TRIGGER"); !ok {
		return err
	}
	if err := s.store.UpdateLastRun(tr.ID, now); err != nil {
		return err
	}
	s.publish(tr, map[string]interface{}{"kind": TypeScheduled})
	return nil
}

// tickCalendar fires a pre-event prompt for events starting minutes-ahead
// from now, give or take a minute so a 30 s poll cannot step over the
// window.
func (s *Service) tickCalendar(tr *Trigger, now time.Time) error {
	if s.calendar == nil {
		return nil
	}
	ahead, err := strconv.Atoi(tr.TimeSpec)
	if err != nil || ahead <= 0 {
		return fmt.Errorf("bad minutes-ahead %q", tr.TimeSpec)
	}

	from := now.Add(time.Duration(ahead-1) * time.Minute)
	to := now.Add(time.Duration(ahead+1) * time.Minute)
	events, err := s.calendar.Upcoming(from, to)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if !s.claimEvent(ev.ID, now) {
			continue
		}
		prompt := fmt.Sprintf("%s Upcoming in %d min: %s (at %s)",
			constants.NotifyPrefix, ahead, ev.Title, ev.Start.In(s.loc).Format("15:04"))
		if ok, err := s.injectChief(prompt, "CALENDAR"); !ok {
			// Unclaim so the next tick retries while the event is still
			// inside the window.
			s.unclaimEvent(ev.ID)
			s.logf("calendar trigger for %s: %v", ev.ID, err)
			continue
		}
		s.publish(tr, map[string]interface{}{"kind": TypeCalendar, "event_id": ev.ID})
	}
	return nil
}

func (s *Service) injectChief(prompt, source string) (bool, error) {
	exists, err := s.mux.WindowExists(s.tmuxSession, s.chiefWindow)
	if err != nil || !exists {
		return false, err
	}
	return s.mux.Inject(s.tmuxSession+":"+s.chiefWindow, prompt, tmux.InjectOptions{Submit: true, Source: source})
}

// claimEvent records an event id as fired. Returns false when the id fired
// inside the dedupe window already.
func (s *Service) claimEvent(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at, ok := s.fired[id]; ok && now.Sub(at) < dedupeWindow {
		return false
	}
	s.fired[id] = now
	return true
}

func (s *Service) unclaimEvent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fired, id)
}

// sweepFired drops entries older than the dedupe window, hourly. The map
// stays bounded without a timestamp-ordered structure.
func (s *Service) sweepFired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastSweep) < dedupeWindow {
		return
	}
	s.lastSweep = now
	for id, at := range s.fired {
		if now.Sub(at) >= dedupeWindow {
			delete(s.fired, id)
		}
	}
}

func (s *Service) publish(tr *Trigger, extra map[string]interface{}) {
	if s.bus == nil {
		return
	}
	data := map[string]interface{}{"trigger_id": tr.ID, "name": tr.Name}
	for k, v := range extra {
		data[k] = v
	}
	s.bus.Publish(eventbus.EventTriggerFired, data)
}

// scheduledEligible mirrors the duty evaluator for HH:MM triggers.
func scheduledEligible(tr *Trigger, now time.Time) bool {
	var h, m int
	if _, err := fmt.Sscanf(tr.TimeSpec, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return false
	}
	todayScheduled := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	if now.Before(todayScheduled) {
		return false
	}
	if tr.LastRun == "" {
		return true
	}
	lastRun, err := time.Parse(time.RFC3339, tr.LastRun)
	if err != nil {
		return true
	}
	return lastRun.In(now.Location()).Before(todayScheduled)
}
