// Package config loads and validates the daydial YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata" // time_zone must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvAPIURL = "DAYDIAL_API_URL"
	EnvToken  = "DAYDIAL_TOKEN"
)

const (
	defaultPollInterval = 5 * time.Minute
	minPollInterval     = 30 * time.Second
	maxPollInterval     = time.Hour
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// APIURL is the base URL of the event API (e.g. "https://api.daydial.app").
	APIURL string `yaml:"api_url,omitempty"`

	// Token is the bearer token of the signed-in account. Leave empty and set
	// TokenFile to read it from a file that another tool keeps fresh.
	Token string `yaml:"token,omitempty"`

	// TokenFile is read on every request when Token is empty.
	TokenFile string `yaml:"token_file,omitempty"`

	// CloudSync enables uploading and fetching events. With it off every
	// record stays local.
	CloudSync bool `yaml:"cloud_sync"`

	// PollInterval controls how often the daemon runs a full sync.
	// Minimum 30s, maximum 1h. Defaults to 5m if unset.
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`

	// Schedule is an optional five-field cron expression that replaces
	// PollInterval, e.g. "*/15 7-22 * * *".
	Schedule string `yaml:"schedule,omitempty"`

	// TimeZone is the IANA zone used to decide which day is "today".
	// Defaults to the system zone.
	TimeZone string `yaml:"time_zone,omitempty"`

	// StatePath overrides the SQLite database location.
	StatePath string `yaml:"state_path,omitempty"`

	// WidgetPath is where today's events are published for the widget.
	// Empty disables publishing.
	WidgetPath string `yaml:"widget_path,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`

	loc *time.Location
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure,omitempty"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "daydial".
	ServiceName string `yaml:"service_name,omitempty"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/daydial/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "daydial", "config.yaml"), nil
}

// Load reads the configuration file at path, applies environment overrides
// and validates the result. A .env file next to the config file, or in the
// working directory, is loaded first; variables already set in the
// environment take precedence over it.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Write validates c and saves it to path, creating parent directories. The
// file is readable by the owner only since it may hold a token.
func (c *Config) Write(path string) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}

func loadDotEnv(files ...string) error {
	seen := make(map[string]bool, len(files))
	for _, name := range files {
		abs, err := filepath.Abs(name)
		if err == nil {
			if seen[abs] {
				continue
			}
			seen[abs] = true
		}
		if err := godotenv.Load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Token = v
	}
}

// validate checks that all required fields are present and well-formed, and
// fills in defaults.
func (c *Config) validate() error {
	if c.APIURL != "" {
		u, err := url.ParseRequestURI(c.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("api_url %q must be a valid http or https URL", c.APIURL)
		}
	}

	if c.CloudSync {
		if c.APIURL == "" {
			return fmt.Errorf("api_url is required when cloud_sync is enabled")
		}
		if c.Token == "" && c.TokenFile == "" {
			return fmt.Errorf("token or token_file is required when cloud_sync is enabled")
		}
	}

	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollInterval < minPollInterval {
		return fmt.Errorf("poll_interval %v is too short (minimum %v)", c.PollInterval, minPollInterval)
	}
	if c.PollInterval > maxPollInterval {
		return fmt.Errorf("poll_interval %v is too long (maximum %v)", c.PollInterval, maxPollInterval)
	}

	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("schedule %q: %w", c.Schedule, err)
		}
	}

	c.loc = time.Local
	if c.TimeZone != "" {
		loc, err := time.LoadLocation(c.TimeZone)
		if err != nil {
			return fmt.Errorf("time_zone %q: %w", c.TimeZone, err)
		}
		c.loc = loc
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
