// Package config provides runtime configuration, workspace discovery, and
// the environment contract for spawned agents.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/claudeos/cos/internal/constants"
)

// ConfigPath is the relative path for the runtime config inside a workspace.
const ConfigPath = ".engine/config.toml"

// Config holds the tunable runtime settings. Every field has a default;
// the config file only needs to mention what it overrides.
type Config struct {
	Timezone string `toml:"timezone"`

	Tmux struct {
		Session     string `toml:"session"`
		ChiefWindow string `toml:"chief_window"`
	} `toml:"tmux"`

	Claude struct {
		Command string   `toml:"command"`
		Args    []string `toml:"args"`
	} `toml:"claude"`

	Monitor struct {
		PollSeconds     int `toml:"poll_seconds"`
		WarnThreshold   int `toml:"warn_threshold"`
		AutonomousShift int `toml:"autonomous_shift"`
	} `toml:"monitor"`

	Calendar struct {
		Command      string `toml:"command"`
		MinutesAhead int    `toml:"minutes_ahead"`
	} `toml:"calendar"`

	Watch struct {
		Roots []string `toml:"roots"`
	} `toml:"watch"`

	Missions struct {
		MaxConcurrent int `toml:"max_concurrent"`
	} `toml:"missions"`
}

// Load reads and parses the runtime config from the workspace root.
// Returns (nil, nil) if the file is not present.
func Load(root string) (*Config, error) {
	path := filepath.Join(root, ConfigPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Timezone = constants.DefaultTimezone
	cfg.Tmux.Session = constants.DefaultTmuxSession
	cfg.Tmux.ChiefWindow = constants.ChiefWindow
	cfg.Claude.Command = "claude"
	cfg.Monitor.PollSeconds = int(constants.MonitorPollInterval / time.Second)
	cfg.Monitor.WarnThreshold = constants.ContextWarnThreshold
	cfg.Monitor.AutonomousShift = constants.AutonomousShift
	cfg.Calendar.MinutesAhead = 10
	cfg.Missions.MaxConcurrent = 4
	return cfg
}

// Resolve loads the workspace config and fills any unset field with its
// default. Callers always get a usable Config back.
func Resolve(root string) (*Config, error) {
	cfg, err := Load(root)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}

	def := Default()
	if cfg.Timezone == "" {
		cfg.Timezone = def.Timezone
	}
	if cfg.Tmux.Session == "" {
		cfg.Tmux.Session = def.Tmux.Session
	}
	if cfg.Tmux.ChiefWindow == "" {
		cfg.Tmux.ChiefWindow = def.Tmux.ChiefWindow
	}
	if cfg.Claude.Command == "" {
		cfg.Claude.Command = def.Claude.Command
	}
	if cfg.Monitor.PollSeconds <= 0 {
		cfg.Monitor.PollSeconds = def.Monitor.PollSeconds
	}
	if cfg.Monitor.WarnThreshold <= 0 {
		cfg.Monitor.WarnThreshold = def.Monitor.WarnThreshold
	}
	if cfg.Monitor.AutonomousShift < 0 {
		cfg.Monitor.AutonomousShift = def.Monitor.AutonomousShift
	}
	if cfg.Calendar.MinutesAhead <= 0 {
		cfg.Calendar.MinutesAhead = def.Calendar.MinutesAhead
	}
	if cfg.Missions.MaxConcurrent <= 0 {
		cfg.Missions.MaxConcurrent = def.Missions.MaxConcurrent
	}
	return cfg, nil
}

// Location resolves the configured timezone. Falls back to UTC if the zone
// database does not know the name.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ChiefTarget returns the tmux target for the Chief window, e.g. "life:chief".
func (c *Config) ChiefTarget() string {
	return c.Tmux.Session + ":" + c.Tmux.ChiefWindow
}

// PollInterval returns the monitor poll cadence as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollSeconds) * time.Second
}
