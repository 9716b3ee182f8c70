package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"calwidget/internal/ics"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// CALWIDGET_LISTEN=0.0.0.0:8080 or CALWIDGET_CACHE_TTL=2m.
const EnvPrefix = "CALWIDGET_"

var (
	ErrEmptyPath = errors.New("config path is empty")
	ErrNilConfig = errors.New("config is nil")
)

// CalendarConfig describes a single public calendar feed.
type CalendarConfig struct {
	// ID is the Google calendar id (e.g. "team@group.calendar.google.com")
	// or any internal identifier when URL is set explicitly.
	ID string `yaml:"id" json:"id" koanf:"id"`
	// Name is the fallback display name when the feed carries no X-WR-CALNAME.
	Name string `yaml:"name" json:"name" koanf:"name"`
	// URL overrides the public Google export URL derived from ID.
	URL string `yaml:"url,omitempty" json:"url,omitempty" koanf:"url"`
}

// FeedURL returns the explicit URL or the public Google export URL.
func (c CalendarConfig) FeedURL() string {
	if c.URL != "" {
		return c.URL
	}
	if c.ID == "" {
		return ""
	}
	return ics.GoogleFeedURL(c.ID)
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" koanf:"listen"`

	// Timezone is the IANA zone used when a feed declares none and for
	// turning instants into grid days.
	Timezone string `yaml:"timezone" json:"timezone" koanf:"timezone"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level" koanf:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "*/5 * * * *") used
	// to keep feed caches warm. Empty disables background refresh.
	RefreshCron string `yaml:"refresh" json:"refresh" koanf:"refresh"`

	// CacheTTL is how long a fetched feed body is served from memory.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl" koanf:"cache_ttl"`

	// CacheDir stores the last good body per feed for 304s and outages.
	CacheDir string `yaml:"cache_dir" json:"cache_dir" koanf:"cache_dir"`

	// VisibleRows is the number of stacked event rows a week shows before
	// the "+N more" indicator.
	VisibleRows int `yaml:"visible_rows" json:"visible_rows" koanf:"visible_rows"`

	// Calendars is the list of public calendars served by the API.
	Calendars []CalendarConfig `yaml:"calendars" json:"calendars" koanf:"calendars"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "UTC",
		LogLevel:    "info",
		RefreshCron: "*/5 * * * *",
		CacheTTL:    5 * time.Minute,
		CacheDir:    "./var/feed-cache",
		VisibleRows: 3,
		Calendars:   []CalendarConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.CacheTTL < 0 {
		c.CacheTTL = 0
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.VisibleRows <= 0 {
		c.VisibleRows = def.VisibleRows
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
}

// Calendar looks a calendar up by ID. An empty id selects the first one.
func (c *Config) Calendar(id string) (CalendarConfig, bool) {
	for _, cal := range c.Calendars {
		if id == "" || cal.ID == id {
			return cal, true
		}
	}
	return CalendarConfig{}, false
}

// Load loads configuration from the given YAML path, layered as
// defaults < file < CALWIDGET_* environment.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - If the file exists:
//   - read YAML through koanf
//   - apply environment overrides and normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, err
	}

	if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		// First run: create default config file.
		if err := Save(path, DefaultConfig()); err != nil {
			// Even if save fails, return defaults with error so caller can decide.
			return DefaultConfig(), err
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(k, v string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(k, EnvPrefix)), v
		},
	}), nil)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
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
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return ErrEmptyPath
	}
	if cfg == nil {
		return ErrNilConfig
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".calwidget-config-*.tmp")
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
