package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	DefaultAPIBase        = "http://127.0.0.1:8000/api/v1"
	DefaultListen         = "127.0.0.1:8080"
	DefaultTimezone       = "UTC"
	DefaultWeekStart      = "sunday"
	DefaultRefreshCron    = "*/5 * * * *"
	DefaultRequestTimeout = 15 * time.Second
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the local web UI.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	// Level is one of debug, info, error.
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

// Config is the top-level application configuration.
type Config struct {
	// APIBase is the scheduling backend base URL, including the version
	// prefix (e.g. "http://127.0.0.1:8000/api/v1").
	APIBase string `yaml:"api_base" json:"api_base"`

	// RequestTimeout bounds each backend round trip.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// Listen is the HTTP listen address for `famcal serve`.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used to bucket events into days.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls which weekday is treated as the first day of the week
	// in calendar views. Supported values:
	//   - "sunday" (default)
	//   - "monday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron-style schedule string (e.g. "*/5 * * * *")
	// used by `famcal serve` to refetch events in the background. An
	// explicit "off" disables the scheduler.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// StateDir holds credentials.yaml and capture output. Defaults to the
	// directory containing the config file.
	StateDir string `yaml:"state_dir" json:"state_dir"`

	Log LogConfig `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIBase:        DefaultAPIBase,
		RequestTimeout: DefaultRequestTimeout,
		Listen:         DefaultListen,
		Timezone:       DefaultTimezone,
		WeekStart:      DefaultWeekStart,
		RefreshCron:    DefaultRefreshCron,
		Log:            LogConfig{Level: "info"},
		BasicAuth:      nil,
	}
}

// DefaultPath returns $HOME/.famcal/config.yaml, or a relative path when the
// home directory cannot be resolved.
func DefaultPath() string {
	h, err := os.UserHomeDir()
	if err != nil || h == "" {
		return filepath.Join(".famcal", "config.yaml")
	}
	return filepath.Join(h, ".famcal", "config.yaml")
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	c.APIBase = strings.TrimRight(strings.TrimSpace(c.APIBase), "/")
	if c.APIBase == "" {
		c.APIBase = DefaultAPIBase
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	// WeekStart default & validation.
	switch strings.ToLower(c.WeekStart) {
	case "monday":
		c.WeekStart = "monday"
	case "sunday":
		c.WeekStart = "sunday"
	default:
		// Unknown value; fall back to sunday to avoid surprising layouts.
		c.WeekStart = DefaultWeekStart
	}
	if c.RefreshCron == "" {
		c.RefreshCron = DefaultRefreshCron
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// WeekStartDay maps WeekStart onto time.Weekday.
func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// RefreshEnabled reports whether the background refresh scheduler should run.
func (c *Config) RefreshEnabled() bool {
	return !strings.EqualFold(strings.TrimSpace(c.RefreshCron), "off")
}

// Location resolves Timezone, falling back to time.Local for unknown names.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ResolveStateDir returns StateDir, or the directory of the config path.
func (c *Config) ResolveStateDir(configPath string) string {
	if strings.TrimSpace(c.StateDir) != "" {
		return c.StateDir
	}
	return filepath.Dir(configPath)
}

// ApplyEnv overrides selected fields from FAMCAL_* environment variables.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("FAMCAL_API_BASE")); v != "" {
		c.APIBase = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("FAMCAL_TIMEZONE")); v != "" {
		c.Timezone = v
	}
	if v := strings.TrimSpace(os.Getenv("FAMCAL_LOG_LEVEL")); v != "" {
		c.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("FAMCAL_LISTEN")); v != "" {
		c.Listen = v
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via WriteFileAtomic.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to a temp file next to path, then renames it
// over path. The final file is 0600 and its directory 0700. Shared with the
// session credentials file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".famcal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
