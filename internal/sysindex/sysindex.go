// Package sysindex regenerates SYSTEM-INDEX.md, the one-page map of the
// workspace an agent reads to orient itself: the spec files, installed
// apps, and available roles.
package sysindex

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/claudeos/cos/internal/constants"
	"github.com/claudeos/cos/internal/session"
	"github.com/claudeos/cos/internal/util"
)

// Manifest is the manifest.yaml an installed app ships.
type Manifest struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	Entry       string `yaml:"entry"`
}

// Refresher rebuilds the index. Refresh calls are coalesced: a burst of
// trigger-file changes produces one rebuild, not one per change.
type Refresher struct {
	root string
	logf func(format string, args ...interface{})

	mu      sync.Mutex
	pending bool
}

// New builds a refresher for a workspace root.
func New(root string, logf func(string, ...interface{})) *Refresher {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Refresher{root: root, logf: logf}
}

// Refresh schedules a rebuild. Safe to call from the watcher's event
// goroutine; the work happens on its own goroutine and further calls while
// one is pending fold into it.
func (r *Refresher) Refresh() {
	r.mu.Lock()
	if r.pending {
		r.mu.Unlock()
		return
	}
	r.pending = true
	r.mu.Unlock()

	go func() {
		// Let the rest of the burst land before reading the tree.
		time.Sleep(constants.WatchDebounce)
		r.mu.Lock()
		r.pending = false
		r.mu.Unlock()

		if err := r.Rebuild(); err != nil {
			r.logf("sysindex refresh: %v", err)
		}
	}()
}

// Rebuild regenerates SYSTEM-INDEX.md synchronously. The write is atomic
// (tmp + rename) so the watcher's suffix filter drops the intermediate
// file and readers never see a half-written index.
func (r *Refresher) Rebuild() error {
	var b strings.Builder
	fmt.Fprintf(&b, "# SYSTEM-INDEX\n\nGenerated %s. Do not edit; this file is rebuilt on change.\n",
		time.Now().Format(time.RFC3339))

	r.writeSpecs(&b)
	r.writeApps(&b)
	r.writeRoles(&b)

	path := filepath.Join(r.root, constants.DesktopDir, constants.SystemIndexName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating desktop dir: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing system index: %w", err)
	}
	return nil
}

// writeSpecs lists the top-level spec documents with their first heading.
func (r *Refresher) writeSpecs(b *strings.Builder) {
	fmt.Fprintf(b, "\n## Specs\n\n")
	found := false
	for _, name := range []string{"LIFE-SPEC.md", "SYSTEM-SPEC.md", "APP-SPEC.md"} {
		path := filepath.Join(r.root, constants.DesktopDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		found = true
		fmt.Fprintf(b, "- `%s` — %s\n", name, firstHeading(string(data)))
	}
	if !found {
		fmt.Fprintf(b, "(none)\n")
	}
}

// writeApps reads each installed app's manifest.yaml under Desktop/apps.
func (r *Refresher) writeApps(b *strings.Builder) {
	fmt.Fprintf(b, "\n## Apps\n\n")
	appsDir := filepath.Join(r.root, constants.DesktopDir, "apps")
	entries, err := os.ReadDir(appsDir)
	if err != nil || len(entries) == 0 {
		fmt.Fprintf(b, "(none)\n")
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	wrote := false
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(appsDir, name, "manifest.yaml"))
		if err != nil {
			continue
		}
		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			r.logf("sysindex: bad manifest for app %s: %v", name, err)
			continue
		}
		if m.Name == "" {
			m.Name = name
		}
		wrote = true
		fmt.Fprintf(b, "- **%s** %s — %s\n", m.Name, m.Version, m.Description)
	}
	if !wrote {
		fmt.Fprintf(b, "(none)\n")
	}
}

// writeRoles lists the roles defined under .claude/roles.
func (r *Refresher) writeRoles(b *strings.Builder) {
	fmt.Fprintf(b, "\n## Roles\n\n")
	roles, err := session.ListRoles(r.root)
	if err != nil || len(roles) == 0 {
		fmt.Fprintf(b, "(none)\n")
		return
	}
	for _, role := range roles {
		fmt.Fprintf(b, "- %s\n", role)
	}
}

// firstHeading returns the first markdown heading's text, or a shrug.
func firstHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return "(no heading)"
}
