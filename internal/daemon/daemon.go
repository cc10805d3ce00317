// Package daemon hosts the long-running orchestration loops: the context
// monitor, duty scheduler, trigger service, mission scheduler, filesystem
// watcher, and the bridge from the in-process bus to the durable event feed.
// One daemon per workspace, enforced with a file lock.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/claudeos/cos/internal/config"
	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/db"
	"github.com/claudeos/cos/internal/duty"
	"github.com/claudeos/cos/internal/eventbus"
	"github.com/claudeos/cos/internal/events"
	"github.com/claudeos/cos/internal/handoff"
	"github.com/claudeos/cos/internal/mission"
	"github.com/claudeos/cos/internal/monitor"
	"github.com/claudeos/cos/internal/registry"
	"github.com/claudeos/cos/internal/reply"
	"github.com/claudeos/cos/internal/sysindex"
	"github.com/claudeos/cos/internal/tmux"
	"github.com/claudeos/cos/internal/trigger"
	"github.com/claudeos/cos/internal/watcher"
)

// Daemon owns the runtime components and their lifecycles.
type Daemon struct {
	root   string
	cfg    *config.Config
	logger *log.Logger
	logOut io.Closer

	database *db.DB
	bus      *eventbus.Bus
	feed     *events.Feed
	reg      *registry.Registry
	tm       *tmux.Tmux

	watch    *watcher.Watcher
	missions *mission.Executor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New prepares a daemon for a workspace root. Nothing is locked or opened
// until Run.
func New(root string) (*Daemon, error) {
	cfg, err := config.Resolve(root)
	if err != nil {
		return nil, err
	}

	stateDir := constants.EngineStateDir(root)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	var out io.Writer = os.Stderr
	var closer io.Closer
	logFile, err := os.OpenFile(filepath.Join(stateDir, constants.DaemonLogName),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err == nil {
		out = io.MultiWriter(os.Stderr, logFile)
		closer = logFile
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		root:   root,
		cfg:    cfg,
		logger: log.New(out, "", log.LstdFlags),
		logOut: closer,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Run acquires the single-instance lock and blocks until a shutdown signal
// arrives or Stop is called.
func (d *Daemon) Run() error {
	d.logger.Printf("daemon starting (pid %d, root %s)", os.Getpid(), d.root)

	// The flock closes the start race: concurrent starts can both miss the
	// PID file, but only one wins the lock.
	stateDir := constants.EngineStateDir(d.root)
	fileLock := flock.New(filepath.Join(stateDir, constants.DaemonLockName))
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon already running (lock held)")
	}
	defer func() { _ = fileLock.Unlock() }()

	pidFile := filepath.Join(stateDir, constants.DaemonPIDName)
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	defer func() { _ = os.Remove(pidFile) }()

	if err := d.start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)

	select {
	case <-d.ctx.Done():
		d.logger.Printf("daemon context canceled, shutting down")
	case sig := <-sigChan:
		d.logger.Printf("received %v, shutting down", sig)
	}
	return d.shutdown()
}

// Stop cancels the running daemon from within the same process.
func (d *Daemon) Stop() { d.cancel() }

// start opens the database and wires every component together.
func (d *Daemon) start() error {
	database, err := db.OpenWorkspace(d.root)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return fmt.Errorf("migrating database: %w", err)
	}
	d.database = database

	d.bus = eventbus.New()
	d.feed = events.NewFeed(d.root)
	d.reg = registry.New(database, d.bus)
	d.tm = tmux.NewTmux()
	logf := d.logger.Printf
	loc := d.cfg.Location()

	// Bus-to-feed bridge first, so component startup events are recorded.
	d.wg.Add(1)
	go d.bridge()

	// Handoff pipeline. The monitor requests; the detached executor that the
	// pipeline launches does the actual kill-and-respawn.
	handoffs := handoff.NewPipeline(handoff.NewStore(database), d.reg, d.bus, d.root)

	mon := monitor.New(d.reg, handoffs, d.tm,
		d.cfg.Monitor.WarnThreshold, d.cfg.Monitor.AutonomousShift, logf)
	d.runLoop(func(ctx context.Context) { mon.Run(ctx) })

	duties := duty.NewStore(database)
	if err := duties.EnsureDefaults(); err != nil {
		d.logger.Printf("seeding duties: %v", err)
	}
	dutySched := duty.NewScheduler(duties, d.tm, d.bus, d.root,
		d.cfg.Tmux.Session, d.cfg.Tmux.ChiefWindow, loc, logf)
	d.runLoop(func(ctx context.Context) { dutySched.Run(ctx) })

	var calendar trigger.CalendarSource
	if d.cfg.Calendar.Command != "" {
		calendar = trigger.NewCommandCalendar(d.cfg.Calendar.Command)
	}
	triggers := trigger.NewService(trigger.NewStore(database), d.tm, d.bus, calendar,
		d.cfg.Tmux.Session, d.cfg.Tmux.ChiefWindow, loc, logf)
	d.runLoop(func(ctx context.Context) { triggers.Run(ctx) })

	missionStore := mission.NewStore(database)
	if err := missionStore.EnsureDefaults(); err != nil {
		d.logger.Printf("seeding missions: %v", err)
	}
	d.missions = mission.NewExecutor(missionStore, d.cfg, d.bus, d.root,
		d.cfg.Missions.MaxConcurrent, logf)
	missionSched := mission.NewScheduler(missionStore, d.missions, loc,
		constants.DutyPollInterval, logf)
	d.runLoop(func(ctx context.Context) { missionSched.Run(ctx) })

	// Filesystem paths: index trigger files rebuild SYSTEM-INDEX.md, reply
	// files feed the chief injector.
	index := sysindex.New(d.root, logf)
	replies := reply.New(database, d.reg, d.tm, d.bus, d.root, logf)

	d.watch = watcher.New(d.root, d.cfg.Watch.Roots, d.bus, logf)
	d.watch.OnIndexRefresh(func() {
		index.Refresh()
		d.bus.Publish(eventbus.EventIndexRefreshed, nil)
	})
	d.watch.OnReply(func(conversationID string) {
		if err := replies.HandleReply(conversationID); err != nil {
			d.logger.Printf("reply injection for %s: %v", conversationID, err)
		}
	})
	if err := d.watch.Start(); err != nil {
		d.logger.Printf("starting watcher: %v", err)
	}

	d.logger.Printf("daemon running (tmux %s, timezone %s)", d.cfg.ChiefTarget(), d.cfg.Timezone)
	return nil
}

// runLoop hosts one poll loop on the daemon's waitgroup.
func (d *Daemon) runLoop(fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn(d.ctx)
	}()
}

// bridge copies bus events into the durable feed. File-change events are
// dropped; they are plumbing for the watcher's consumers, not activity.
func (d *Daemon) bridge() {
	defer d.wg.Done()
	ch, unsubscribe := d.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-d.ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Type {
			case eventbus.EventFileCreated, eventbus.EventFileModified,
				eventbus.EventFileDeleted, eventbus.EventFileMoved:
				continue
			}
			if err := d.feed.Append(events.SourceDaemon, ev.Type, ev.Data); err != nil {
				d.logger.Printf("appending to feed: %v", err)
			}
		}
	}
}

// shutdown stops the loops, drains in-flight missions, and releases
// resources. Mission drain is bounded; agents that outlive it keep running
// detached and close their executions through the CLI.
func (d *Daemon) shutdown() error {
	d.cancel()
	if d.watch != nil {
		d.watch.Stop()
	}
	d.wg.Wait()

	if d.missions != nil {
		done := make(chan struct{})
		go func() {
			d.missions.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(constants.LoopDrainTimeout):
			d.logger.Printf("mission drain timed out after %v", constants.LoopDrainTimeout)
		}
	}

	d.bus.Close()
	if d.database != nil {
		if err := d.database.Close(); err != nil {
			d.logger.Printf("closing database: %v", err)
		}
	}
	d.logger.Printf("daemon stopped")
	if d.logOut != nil {
		_ = d.logOut.Close()
	}
	return nil
}
