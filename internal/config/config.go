package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"checkin/internal/dates"
	"checkin/internal/planner"
	"checkin/internal/reconcile"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Backends.
const (
	BackendGoogle = "google"
	BackendCalDAV = "caldav"
	BackendMemory = "memory"
)

// AttendeesConfig is the attendee policy for CSV imports.
type AttendeesConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Email   string `yaml:"email" json:"email"`
}

// GoogleConfig locates the OAuth client and saved token.
type GoogleConfig struct {
	CredentialsPath string `yaml:"credentials_path" json:"credentials_path"`
	TokenPath       string `yaml:"token_path" json:"token_path"`
	ClientID        string `yaml:"client_id" json:"client_id"`
	ClientSecret    string `yaml:"client_secret" json:"-"`
	RedirectURL     string `yaml:"redirect_url" json:"redirect_url"`
}

// CalDAVConfig holds CalDAV server credentials.
type CalDAVConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// RedisConfig enables the cross-process key lock when URL is set.
type RedisConfig struct {
	URL     string        `yaml:"url" json:"url"`
	LockTTL time.Duration `yaml:"lock_ttl" json:"lock_ttl"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// CleanupConfig schedules the demo sweep while serving.
type CleanupConfig struct {
	// Cron is a standard five-field schedule. Empty disables the sweep.
	Cron string `yaml:"cron" json:"cron"`
}

// Config is the top-level application configuration.
type Config struct {
	// Backend selects the remote calendar: google, caldav or memory.
	Backend string `yaml:"backend" json:"backend"`
	// DemoMode routes every call to an in-memory store.
	DemoMode bool `yaml:"demo_mode" json:"demo_mode"`
	// MarkDemo sets the demo flag on every created event.
	MarkDemo bool `yaml:"mark_demo" json:"mark_demo"`

	Timezone        string `yaml:"timezone" json:"timezone"`
	DefaultTime     string `yaml:"default_time" json:"default_time"`
	DurationMinutes int    `yaml:"duration_minutes" json:"duration_minutes"`

	Calendars reconcile.Calendars `yaml:"calendars" json:"calendars"`
	Attendees AttendeesConfig     `yaml:"attendees" json:"attendees"`
	Google    GoogleConfig        `yaml:"google" json:"google"`
	CalDAV    CalDAVConfig        `yaml:"caldav" json:"caldav"`
	Redis     RedisConfig         `yaml:"redis" json:"redis"`
	Server    ServerConfig        `yaml:"server" json:"server"`
	Cleanup   CleanupConfig       `yaml:"cleanup" json:"cleanup"`

	MinYear int `yaml:"min_year" json:"min_year"`
	MaxYear int `yaml:"max_year" json:"max_year"`

	// Columns overrides the CSV column schema.
	Columns *planner.Schema `yaml:"columns,omitempty" json:"columns,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend:         BackendGoogle,
		Timezone:        "America/New_York",
		DefaultTime:     "09:00",
		DurationMinutes: 30,
		Calendars:       reconcile.Calendars{}.WithDefaults(),
		Google: GoogleConfig{
			CredentialsPath: "credentials.json",
			TokenPath:       "token.json",
		},
		CalDAV:  CalDAVConfig{Endpoint: "https://caldav.icloud.com/"},
		Redis:   RedisConfig{LockTTL: 30 * time.Second},
		Server:  ServerConfig{Listen: "127.0.0.1:3000"},
		MinYear: planner.DefaultMinYear,
		MaxYear: planner.DefaultMaxYear,
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s value: %w", name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s value: %w", name, err))
				return
			}
			*dst = n
		}
	}

	str("CHECKIN_BACKEND", &c.Backend)
	boolean("DEMO_MODE", &c.DemoMode)
	boolean("MARK_DEMO", &c.MarkDemo)
	str("TIMEZONE", &c.Timezone)
	str("DEFAULT_TIME", &c.DefaultTime)
	integer("DURATION_MINUTES", &c.DurationMinutes)

	str("CALENDAR_ID", &c.Calendars.Default)
	str("REMINDER_CALENDAR_ID", &c.Calendars.Reminder)
	str("RETENTION_CALENDAR_ID", &c.Calendars.Retention)

	boolean("ATTENDEES_ENABLED", &c.Attendees.Enabled)
	str("ATTENDEE_EMAIL", &c.Attendees.Email)

	str("GOOGLE_CREDENTIALS_PATH", &c.Google.CredentialsPath)
	str("GOOGLE_TOKEN_PATH", &c.Google.TokenPath)
	str("GOOGLE_CLIENT_ID", &c.Google.ClientID)
	str("GOOGLE_CLIENT_SECRET", &c.Google.ClientSecret)
	str("GOOGLE_REDIRECT_URL", &c.Google.RedirectURL)

	str("CALDAV_ENDPOINT", &c.CalDAV.Endpoint)
	str("ICLOUD_USERNAME", &c.CalDAV.Username)
	str("ICLOUD_APP_SPECIFIC_PASSWORD", &c.CalDAV.Password)

	str("REDIS_URL", &c.Redis.URL)
	str("LISTEN_ADDR", &c.Server.Listen)
	str("CLEANUP_CRON", &c.Cleanup.Cron)

	return errors.Join(errs...)
}

// Normalize fills in missing values with defaults so that partially filled
// configs still behave correctly.
func (c *Config) Normalize(logger *slog.Logger) {
	def := DefaultConfig()
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.DefaultTime == "" {
		c.DefaultTime = def.DefaultTime
	}
	if c.DurationMinutes <= 0 {
		c.DurationMinutes = def.DurationMinutes
	}
	c.Calendars = c.Calendars.WithDefaults()
	if c.Redis.LockTTL <= 0 {
		c.Redis.LockTTL = def.Redis.LockTTL
	}
	if c.Server.Listen == "" {
		c.Server.Listen = def.Server.Listen
	}
	if c.MinYear == 0 {
		c.MinYear = def.MinYear
	}
	if c.MaxYear == 0 {
		c.MaxYear = def.MaxYear
	}

	c.Attendees.Email = strings.TrimSpace(c.Attendees.Email)
	if c.Attendees.Enabled && c.Attendees.Email == "" {
		if logger != nil {
			logger.Warn("Attendees are enabled but no attendee email is set, disabling attendees.")
		}
		c.Attendees.Enabled = false
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGoogle, BackendCalDAV, BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q (want google, caldav or memory)", c.Backend)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Clock(); err != nil {
		return err
	}
	if c.MinYear > c.MaxYear {
		return fmt.Errorf("min_year %d is after max_year %d", c.MinYear, c.MaxYear)
	}
	if c.Attendees.Enabled {
		if err := planner.ValidateEmail("attendee email", c.Attendees.Email); err != nil {
			return err
		}
	}
	if c.Columns != nil {
		if err := c.Columns.Validate(); err != nil {
			return fmt.Errorf("invalid columns: %w", err)
		}
	}
	if c.Cleanup.Cron != "" {
		if _, err := cron.ParseStandard(c.Cleanup.Cron); err != nil {
			return fmt.Errorf("invalid cleanup cron %q: %w", c.Cleanup.Cron, err)
		}
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	return loc, nil
}

// Clock parses the default event time.
func (c *Config) Clock() (dates.Clock, error) {
	clock, err := dates.ParseClock(c.DefaultTime)
	if err != nil {
		return dates.Clock{}, fmt.Errorf("invalid default_time: %w", err)
	}
	return clock, nil
}

// Duration is the length of timed events.
func (c *Config) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}

// PlannerOptions returns the planner settings of c.
func (c *Config) PlannerOptions() (planner.Options, error) {
	clock, err := c.Clock()
	if err != nil {
		return planner.Options{}, err
	}
	opts := planner.Options{DefaultClock: &clock, MinYear: c.MinYear, MaxYear: c.MaxYear}
	if c.Columns != nil {
		opts.Schema = *c.Columns
	}
	return opts, nil
}
