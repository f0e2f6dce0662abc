package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ColumnsConfig maps semantic roles to column names in the source rows.
// The source layer resolves these against its header row; nothing about
// the cell layout is hardcoded.
type ColumnsConfig struct {
	// Person is the column holding the employee name. Required.
	Person string `yaml:"person" json:"person"`
	// Date is the column holding the shift date. Required.
	Date string `yaml:"date" json:"date"`
	// Start / End hold explicit shift hours ("HH:MM"). Optional; a row
	// without them is either an all-day shift or resolved via Code.
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
	// Code holds a shift code resolved through the timed_shifts /
	// allday_events tables. Optional.
	Code string `yaml:"code" json:"code"`
	// Note holds free text carried into the event description. Optional.
	Note string `yaml:"note" json:"note"`
}

// TimedShift describes one coded shift with fixed hours.
type TimedShift struct {
	Name  string `yaml:"name" json:"name"`
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
	// SpansMidnight marks shifts whose end time falls on the next day.
	SpansMidnight bool `yaml:"spans_midnight" json:"spans_midnight"`
}

// RecurringShift is a configured shift pattern expanded into concrete
// shifts within the horizon window (e.g. weekly standby duty).
type RecurringShift struct {
	Person string `yaml:"person" json:"person"`
	// RRule is an iCalendar recurrence rule, e.g. "FREQ=WEEKLY;BYDAY=MO".
	RRule string `yaml:"rrule" json:"rrule"`
	// Start / End are shift hours ("HH:MM"); both empty means all-day.
	Start   string `yaml:"start" json:"start"`
	End     string `yaml:"end" json:"end"`
	Summary string `yaml:"summary" json:"summary"`
	Note    string `yaml:"note" json:"note"`
}

// SourceConfig describes where the roster file comes from.
type SourceConfig struct {
	// Path is the local roster file read by the row source.
	Path string `yaml:"path" json:"path"`
	// URL, if set, is fetched via headless browser before each run.
	URL string `yaml:"url" json:"url"`
	// UserDataDir persists the browser profile (login session) between
	// runs.
	UserDataDir string `yaml:"user_data_dir" json:"user_data_dir"`
	// TimeoutSec bounds the whole download. Zero means a default.
	TimeoutSec int `yaml:"timeout_sec" json:"timeout_sec"`
	// Headful shows the browser window so a user can complete a login.
	Headful bool `yaml:"headful" json:"headful"`
}

// PublishConfig controls where and how calendars are published.
type PublishConfig struct {
	OutputDir  string `yaml:"output_dir" json:"output_dir"`
	ArchiveDir string `yaml:"archive_dir" json:"archive_dir"`
	StateFile  string `yaml:"state_file" json:"state_file"`
	// Emptied selects what happens to a person who dropped off the
	// roster: "archive" (move the file aside), "write-empty" (publish a
	// calendar with zero events), or "keep" (leave the file untouched).
	Emptied string `yaml:"emptied" json:"emptied"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status API and the
	// published calendar files.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone all shift times resolve in
	// (e.g. "Europe/Amsterdam").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of "debug", "info", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron schedules periodic sync runs (e.g. "0 */4 * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// NamePrefix labels each generated calendar ("<prefix> - <name>").
	NamePrefix string `yaml:"name_prefix" json:"name_prefix"`

	// UIDDomain is the suffix of generated event UIDs.
	UIDDomain string `yaml:"uid_domain" json:"uid_domain"`

	// HorizonDays bounds expansion of recurring shift patterns.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	Columns ColumnsConfig `yaml:"columns" json:"columns"`

	// TimedShifts / AlldayEvents resolve shift codes found in the Code
	// column. IgnoreCodes lists cell values to skip silently.
	TimedShifts  map[string]TimedShift `yaml:"timed_shifts" json:"timed_shifts"`
	AlldayEvents map[string]string     `yaml:"allday_events" json:"allday_events"`
	IgnoreCodes  []string              `yaml:"ignore_codes" json:"ignore_codes"`

	Recurring []RecurringShift `yaml:"recurring_shifts" json:"recurring_shifts"`

	Source  SourceConfig  `yaml:"source" json:"source"`
	Publish PublishConfig `yaml:"publish" json:"publish"`

	// BasicAuth, if non-nil, protects all endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Europe/Amsterdam",
		LogLevel:    "info",
		RefreshCron: "0 */4 * * *",
		NamePrefix:  "Work Schedule",
		UIDDomain:   "rostercal",
		HorizonDays: 90,
		Columns: ColumnsConfig{
			Person: "name",
			Date:   "date",
			Start:  "start",
			End:    "end",
			Code:   "code",
			Note:   "note",
		},
		TimedShifts:  map[string]TimedShift{},
		AlldayEvents: map[string]string{},
		IgnoreCodes:  []string{"", "-"},
		Recurring:    []RecurringShift{},
		Source: SourceConfig{
			Path:       "./var/roster.csv",
			TimeoutSec: 120,
		},
		Publish: PublishConfig{
			OutputDir:  "./var/calendars",
			ArchiveDir: "./var/archive",
			StateFile:  "./var/state.json",
			Emptied:    "archive",
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Amsterdam"
	}
	switch c.LogLevel {
	case "debug", "info", "error":
	default:
		c.LogLevel = "info"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "0 */4 * * *"
	}
	if c.NamePrefix == "" {
		c.NamePrefix = "Work Schedule"
	}
	if c.UIDDomain == "" {
		c.UIDDomain = "rostercal"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 90
	}
	if c.Columns.Person == "" {
		c.Columns.Person = "name"
	}
	if c.Columns.Date == "" {
		c.Columns.Date = "date"
	}
	if c.TimedShifts == nil {
		c.TimedShifts = map[string]TimedShift{}
	}
	if c.AlldayEvents == nil {
		c.AlldayEvents = map[string]string{}
	}
	if c.IgnoreCodes == nil {
		c.IgnoreCodes = []string{"", "-"}
	}
	if c.Recurring == nil {
		c.Recurring = []RecurringShift{}
	}
	if c.Source.Path == "" {
		c.Source.Path = "./var/roster.csv"
	}
	if c.Source.TimeoutSec <= 0 {
		c.Source.TimeoutSec = 120
	}
	if c.Publish.OutputDir == "" {
		c.Publish.OutputDir = "./var/calendars"
	}
	if c.Publish.ArchiveDir == "" {
		c.Publish.ArchiveDir = "./var/archive"
	}
	if c.Publish.StateFile == "" {
		c.Publish.StateFile = "./var/state.json"
	}
	switch c.Publish.Emptied {
	case "archive", "write-empty", "keep":
	default:
		c.Publish.Emptied = "archive"
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: create the parent directory, write a
//     default config with 0600 perms, and return the defaults.
//   - If the file exists: read YAML, unmarshal, normalize defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
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

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
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
		return err
	}

	tmp, err := os.CreateTemp(dir, ".rostercal-config-*.tmp")
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
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
