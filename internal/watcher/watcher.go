// Package watcher turns filesystem activity under the workspace into bus
// events and routes the two paths the runtime reacts to: index trigger files
// and conversation reply files.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/eventbus"
)

// skipDirs are build caches and VCS internals never worth watching.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	"target":       true,
	"dist":         true,
	".venv":        true,
}

// hiddenAllow are dot-directories that carry runtime state we do care about.
var hiddenAllow = map[string]bool{
	".claude": true,
	".engine": true,
}

// skipSuffixes are temp and atomic-write artifacts.
var skipSuffixes = []string{"~", ".tmp", ".swp", ".swx", ".part", ".lock"}

// Watcher watches the workspace roots recursively and publishes debounced
// file events. One Watcher per daemon.
type Watcher struct {
	root     string
	roots    []string
	bus      *eventbus.Bus
	debounce time.Duration
	logger   func(format string, args ...interface{})

	onIndexRefresh func()
	onReply        func(conversationID string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	fsw    *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*pendingEvent
}

type pendingEvent struct {
	timer *time.Timer
	op    fsnotify.Op
}

// DefaultRoots are the directories watched when config names none: the
// user-visible Desktop tree and the role definitions.
func DefaultRoots(root string) []string {
	return []string{
		filepath.Join(root, constants.DesktopDir),
		filepath.Join(root, constants.RolesDir),
	}
}

// New creates a watcher over the given roots. Roots that do not exist yet
// are skipped at Start; nil roots means DefaultRoots.
func New(root string, roots []string, bus *eventbus.Bus, logger func(format string, args ...interface{})) *Watcher {
	if len(roots) == 0 {
		roots = DefaultRoots(root)
	}
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		root:     root,
		roots:    roots,
		bus:      bus,
		debounce: constants.WatchDebounce,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]*pendingEvent),
	}
}

// OnIndexRefresh registers the callback fired when an index trigger file
// changes. The callee owns coalescing.
func (w *Watcher) OnIndexRefresh(fn func()) { w.onIndexRefresh = fn }

// OnReply registers the callback fired when conversations/<id>/reply.txt is
// written.
func (w *Watcher) OnReply(fn func(conversationID string)) { w.onReply = fn }

// Start begins watching. Callbacks and the bus see events until Stop.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w.fsw = fsw

	for _, root := range w.roots {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		if err := w.addRecursive(root); err != nil {
			w.logger("watcher: adding %s: %v", root, err)
		}
	}

	w.wg.Add(1)
	go w.run()
	return nil
}

// Stop halts the watcher and flushes nothing: pending debounce timers are
// dropped, not fired.
func (w *Watcher) Stop() {
	w.cancel()
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	w.mu.Lock()
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger("watcher: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := event.Name
	if w.excluded(path) {
		return
	}

	// New directories must be registered immediately or writes to their
	// children arrive before any debounce timer fires.
	if event.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			if err := w.addRecursive(path); err != nil {
				w.logger("watcher: adding %s: %v", path, err)
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.op |= event.Op
		p.timer.Reset(w.debounce)
		return
	}
	p := &pendingEvent{op: event.Op}
	p.timer = time.AfterFunc(w.debounce, func() { w.flush(path) })
	w.pending[path] = p
}

// flush runs on the debounce timer goroutine once a path has gone quiet.
func (w *Watcher) flush(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	delete(w.pending, path)
	w.mu.Unlock()
	if !ok {
		return
	}

	eventType := classifyOp(p.op)
	if eventType == "" {
		return
	}
	if w.bus != nil {
		w.bus.Publish(eventType, map[string]interface{}{
			"path": path,
			"name": filepath.Base(path),
		})
	}

	if eventType != eventbus.EventFileCreated && eventType != eventbus.EventFileModified {
		return
	}
	if w.onIndexRefresh != nil && constants.IndexTriggerFiles[filepath.Base(path)] {
		w.onIndexRefresh()
	}
	if w.onReply != nil {
		if id, ok := w.conversationFor(path); ok {
			w.onReply(id)
		}
	}
}

// classifyOp maps a coalesced op bitmask to one event type. Deletion wins
// over everything; a create followed by writes is still a create.
func classifyOp(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Remove != 0:
		return eventbus.EventFileDeleted
	case op&fsnotify.Rename != 0:
		return eventbus.EventFileMoved
	case op&fsnotify.Create != 0:
		return eventbus.EventFileCreated
	case op&fsnotify.Write != 0:
		return eventbus.EventFileModified
	default:
		return ""
	}
}

// conversationFor reports whether path is a conversation reply file and
// which conversation owns it.
func (w *Watcher) conversationFor(path string) (string, bool) {
	rel, err := filepath.Rel(constants.ConversationsPath(w.root), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) == 2 && parts[1] == constants.ReplyFileName {
		return parts[0], true
	}
	return "", false
}

// excluded applies the path filter: hidden components (minus the allowed
// runtime dirs), build caches, and temp suffixes. Only components inside
// the workspace count; the absolute prefix above it is the host's business.
func (w *Watcher) excluded(path string) bool {
	base := filepath.Base(path)
	for _, suffix := range skipSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	if rel, err := filepath.Rel(w.root, path); err == nil && !strings.HasPrefix(rel, "..") {
		path = rel
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "" || part == "." || part == ".." {
			continue
		}
		if skipDirs[part] {
			return true
		}
		if strings.HasPrefix(part, ".") && !hiddenAllow[part] {
			return true
		}
	}
	return false
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.excluded(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger("watcher: watch %s: %v", path, err)
		}
		return nil
	})
}
