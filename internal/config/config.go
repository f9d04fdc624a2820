package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"icscal/internal/filter"
	"icscal/internal/parser"
)

// MinDownloadInterval is the shortest allowed refresh interval per calendar,
// in minutes.
const MinDownloadInterval = 15

// CalendarConfig describes a single ICS calendar source and how its events
// are queried.
type CalendarConfig struct {
	// Name identifies the calendar in the API and in logs.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS endpoint. http(s):// and file:// are supported, and the
	// placeholders {year} and {month} are filled in at download time.
	URL string `yaml:"url" json:"url"`
	// Parser selects the parser engine. Empty means the default engine.
	Parser string `yaml:"parser,omitempty" json:"parser,omitempty"`

	IncludeAllDay bool `yaml:"include_all_day" json:"include_all_day"`
	// Days is the look-ahead for the current/next event query.
	Days int `yaml:"days" json:"days"`
	// OffsetHours shifts timed events, for feeds with a wrong zone.
	OffsetHours int `yaml:"offset_hours" json:"offset_hours"`

	// Exclude and Include are filter lists, e.g. "['holiday', '/^ooo/i']".
	Exclude string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	Include string `yaml:"include,omitempty" json:"include,omitempty"`
	// Prefix is prepended to every returned summary.
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`

	// DownloadInterval is the minimum time between downloads, in minutes.
	DownloadInterval int `yaml:"download_interval" json:"download_interval"`

	Username     string `yaml:"username,omitempty" json:"username,omitempty"`
	Password     string `yaml:"password,omitempty" json:"-"`
	UserAgent    string `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	AcceptHeader string `yaml:"accept_header,omitempty" json:"accept_header,omitempty"`
	// ConnectionTimeout is the HTTP timeout in seconds.
	ConnectionTimeout int `yaml:"connection_timeout" json:"connection_timeout"`
}

// Interval returns DownloadInterval as a duration.
func (c CalendarConfig) Interval() time.Duration {
	return time.Duration(c.DownloadInterval) * time.Minute
}

// Timeout returns ConnectionTimeout as a duration.
func (c CalendarConfig) Timeout() time.Duration {
	return time.Duration(c.ConnectionTimeout) * time.Second
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used as display zone (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// driving calendar refresh in serve mode. Each calendar still honours its
	// own DownloadInterval.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CacheDir, if set, keeps downloaded calendars on disk with their
	// ETag/Last-Modified validators.
	CacheDir string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`

	// Calendars is the list of configured calendars.
	Calendars []CalendarConfig `yaml:"calendars" json:"calendars"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "UTC",
		RefreshCron: "*/15 * * * *",
		LogLevel:    "info",
		Calendars:   []CalendarConfig{},
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = "info"
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	for i := range c.Calendars {
		c.Calendars[i].normalize()
	}
}

func (c *CalendarConfig) normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.URL = strings.TrimSpace(c.URL)
	if c.Days <= 0 {
		c.Days = 1
	}
	if c.DownloadInterval < MinDownloadInterval {
		c.DownloadInterval = MinDownloadInterval
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 30
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "timezone %q", c.Timezone)
	}
	return loc, nil
}

// Calendar returns the calendar with the given name.
func (c *Config) Calendar(name string) (CalendarConfig, bool) {
	for _, cal := range c.Calendars {
		if cal.Name == name {
			return cal, true
		}
	}
	return CalendarConfig{}, false
}

// Validate reports every problem found in the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if _, err := c.Location(); err != nil {
		result = multierror.Append(result, err)
	}

	seen := make(map[string]bool, len(c.Calendars))
	for i, cal := range c.Calendars {
		label := fmt.Sprintf("calendars[%d]", i)
		if cal.Name != "" {
			label = fmt.Sprintf("calendar %q", cal.Name)
		}

		if cal.Name == "" {
			result = multierror.Append(result, errors.Errorf("%s: name is required", label))
		} else if seen[cal.Name] {
			result = multierror.Append(result, errors.Errorf("%s: duplicate name", label))
		}
		seen[cal.Name] = true

		if cal.URL == "" {
			result = multierror.Append(result, errors.Errorf("%s: url is required", label))
		}
		if _, err := parser.Resolve(cal.Parser); err != nil {
			result = multierror.Append(result, errors.Wrap(err, label))
		}
		if cal.Exclude != "" && strings.TrimSpace(cal.Exclude) == strings.TrimSpace(cal.Include) {
			result = multierror.Append(result, errors.Errorf("%s: exclude and include must differ", label))
		}
		if _, err := filter.New(cal.Exclude, cal.Include); err != nil {
			result = multierror.Append(result, errors.Wrap(err, label))
		}
		if (cal.Username == "") != (cal.Password == "") {
			result = multierror.Append(result, errors.Errorf("%s: username and password must be set together", label))
		}
	}

	return result.ErrorOrNil()
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
		return nil, errors.Wrap(err, "read config")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
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
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".icscal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
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
