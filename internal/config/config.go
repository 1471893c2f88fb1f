// Package config handles responsibility tracker configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// RESP_-prefixed environment variables (double underscore separates nesting,
// e.g. RESP_SERVER__PORT=9090).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/quantumlife/responsibility/internal/core"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "RESP_"

// Config holds all configuration
type Config struct {
	// Paths
	DataDir  string `koanf:"data_dir"`
	Timezone string `koanf:"timezone"`

	Log           LogConfig          `koanf:"log"`
	Reconcile     ReconcileConfig    `koanf:"reconcile"`
	Notifications NotificationConfig `koanf:"notifications"`
	Conflicts     ConflictConfig     `koanf:"conflicts"`
	Server        ServerConfig       `koanf:"server"`
	Calendar      CalendarConfig     `koanf:"calendar"`
	Mirror        MirrorConfig       `koanf:"mirror"`
	Slots         SlotConfig         `koanf:"slots"`
}

// LogConfig for the logger
type LogConfig struct {
	Level string `koanf:"level"`
}

// ReconcileConfig controls the polling pass. The interval is the upper bound
// on how late a status change can be observed.
type ReconcileConfig struct {
	Interval int `koanf:"interval"` // seconds
}

// NotificationConfig for the notification channel
type NotificationConfig struct {
	Enabled          bool `koanf:"enabled"`
	DispatchInterval int  `koanf:"dispatch_interval"` // seconds
}

// ConflictConfig for the auto-resolution pass
type ConflictConfig struct {
	Enabled      bool `koanf:"enabled"`
	Interval     int  `koanf:"interval"` // seconds
	NudgeMinutes int  `koanf:"nudge_minutes"`
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port int    `koanf:"port"`
	Host string `koanf:"host"`
}

// CalendarConfig for the Google Calendar busy-interval source
type CalendarConfig struct {
	Enabled      bool   `koanf:"enabled"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	CalendarID   string `koanf:"calendar_id"`
	TokenFile    string `koanf:"token_file"`
	MirrorEvents bool   `koanf:"mirror_events"`
}

// MirrorConfig for the best-effort remote snapshot mirror
type MirrorConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Timeout int    `koanf:"timeout"` // seconds
}

// SlotConfig tunes canonical candidate times
type SlotConfig struct {
	MorningHour int      `koanf:"morning_hour"`
	EveningHour int      `koanf:"evening_hour"`
	WorkDays    []string `koanf:"work_days"`
}

// DefaultDataDir is ~/.responsibility.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".responsibility")
}

// DefaultPath is the config file looked up when none is given.
func DefaultPath(dataDir string) string {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	return filepath.Join(dataDir, "config.yaml")
}

// Load loads config from file and environment, falling back to defaults.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(NewDefaultProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = DefaultPath(k.String("data_dir"))
	}
	path = expandPath(path)
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.DataDir = expandPath(cfg.DataDir)
	if cfg.Calendar.TokenFile == "" {
		cfg.Calendar.TokenFile = filepath.Join(cfg.DataDir, "calendar_token.json")
	}
	cfg.Calendar.TokenFile = expandPath(cfg.Calendar.TokenFile)

	return &cfg, nil
}

// envKey maps RESP_SERVER__PORT to server.port. List values are comma separated.
func envKey(key, value string) (string, interface{}) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if key == "slots.work_days" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return key, parts
	}
	return key, value
}

// Save writes the config as YAML, creating the directory if needed.
// Client secrets are not written.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath(c.DataDir)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	k := koanf.New(".")
	safe := c.toMap()
	safe["calendar"].(map[string]interface{})["client_secret"] = ""
	if err := k.Load(confmapProvider(safe), nil); err != nil {
		return err
	}

	data, err := k.Marshal(yaml.Parser())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir", core.ErrMissingRequired)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q", core.ErrInvalidInput, c.Timezone)
	}
	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("%w: reconcile.interval must be positive", core.ErrInvalidInput)
	}
	if c.Notifications.DispatchInterval <= 0 {
		return fmt.Errorf("%w: notifications.dispatch_interval must be positive", core.ErrInvalidInput)
	}
	if c.Conflicts.Enabled && c.Conflicts.Interval <= 0 {
		return fmt.Errorf("%w: conflicts.interval must be positive", core.ErrInvalidInput)
	}
	if c.Conflicts.NudgeMinutes < 0 {
		return fmt.Errorf("%w: conflicts.nudge_minutes must not be negative", core.ErrInvalidInput)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d", core.ErrInvalidInput, c.Server.Port)
	}
	if c.Slots.MorningHour < 0 || c.Slots.MorningHour > 23 {
		return fmt.Errorf("%w: slots.morning_hour %d", core.ErrInvalidInput, c.Slots.MorningHour)
	}
	if c.Slots.EveningHour < 0 || c.Slots.EveningHour > 23 {
		return fmt.Errorf("%w: slots.evening_hour %d", core.ErrInvalidInput, c.Slots.EveningHour)
	}
	for _, d := range c.Slots.WorkDays {
		if _, err := core.ParseWeekday(d); err != nil {
			return fmt.Errorf("slots.work_days: %w", err)
		}
	}
	if c.Calendar.Enabled && (c.Calendar.ClientID == "" || c.Calendar.ClientSecret == "") {
		return fmt.Errorf("%w: calendar.client_id and calendar.client_secret", core.ErrMissingRequired)
	}
	if c.Mirror.Enabled && c.Mirror.URL == "" {
		return fmt.Errorf("%w: mirror.url", core.ErrMissingRequired)
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// DatabasePath is the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "responsibility.db")
}

// ReconcileInterval returns the polling interval.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Reconcile.Interval) * time.Second
}

// DispatchInterval returns the notification delivery poll.
func (c *Config) DispatchInterval() time.Duration {
	return time.Duration(c.Notifications.DispatchInterval) * time.Second
}

// ConflictInterval returns the auto-resolution poll.
func (c *Config) ConflictInterval() time.Duration {
	return time.Duration(c.Conflicts.Interval) * time.Second
}

// MirrorTimeout returns the remote mirror request timeout.
func (c *Config) MirrorTimeout() time.Duration {
	return time.Duration(c.Mirror.Timeout) * time.Second
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
