// ABOUTME: Configuration loading and parsing for fixie-bridge
// ABOUTME: Supports YAML files with .env loading, environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete fixie-bridge configuration
type Config struct {
	MemGPT         MemGPTConfig         `yaml:"memgpt"`
	Matrix         MatrixConfig         `yaml:"matrix"`
	Database       DatabaseConfig       `yaml:"database"`
	Delivery       DeliveryConfig       `yaml:"delivery"`
	Profiles       ProfilesConfig       `yaml:"profiles"`
	Health         HealthConfig         `yaml:"health"`
	Admin          AdminConfig          `yaml:"admin"`
	Logging        LoggingConfig        `yaml:"logging"`
	DirectoryCache DirectoryCacheConfig `yaml:"directory_cache"`
}

// MemGPTConfig holds the agent service connection settings
type MemGPTConfig struct {
	BaseURL         string      `yaml:"base_url"`
	APIKey          string      `yaml:"api_key"`
	Retry           RetryConfig `yaml:"retry"`
	NotReadyMarkers []string    `yaml:"not_ready_markers"`

	Timeout     time.Duration `yaml:"-"`
	AttachDelay time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TimeoutRaw     string `yaml:"timeout"`
	AttachDelayRaw string `yaml:"attach_delay"`
}

// RetryConfig bounds retries of transient agent service failures
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"-"`
	DelayRaw    string        `yaml:"delay"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Homeserver      string   `yaml:"homeserver"`
	UserID          string   `yaml:"user_id"`
	AccessToken     string   `yaml:"access_token"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	DeviceName      string   `yaml:"device_name"`
	RecoveryKey     string   `yaml:"recovery_key"` // enables E2EE when set
	AllowedUsers    []string `yaml:"allowed_users"`
	CommandPrefix   string   `yaml:"command_prefix"`
	TypingIndicator bool     `yaml:"typing_indicator"`
	DataDir         string   `yaml:"data_dir"` // crypto database location
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// DeliveryConfig holds delivery loop timing
type DeliveryConfig struct {
	PollInterval    time.Duration `yaml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval"`
}

// ProfilesConfig points at the agent profile catalog
type ProfilesConfig struct {
	Path    string `yaml:"path"`    // empty uses the built-in catalog
	Default string `yaml:"default"` // overrides the file's default profile
	Watch   bool   `yaml:"watch"`
}

// HealthConfig holds the agent service health check schedule
type HealthConfig struct {
	Schedule   string        `yaml:"schedule"`
	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// AdminConfig holds the admin HTTP surface
type AdminConfig struct {
	HTTPAddr  string          `yaml:"http_addr"` // empty disables the admin server
	JWTSecret string          `yaml:"jwt_secret"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DirectoryCacheConfig sizes the in-memory user lookup cache
type DirectoryCacheConfig struct {
	Size   int           `yaml:"size"` // 0 disables the cache
	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// Defaults applied when a value is left out of the file.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultRetryAttempts  = 3
	DefaultRetryDelay     = 2 * time.Second
	DefaultAttachDelay    = 2 * time.Second
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultHealthSchedule = "@every 1m"
	DefaultHealthTimeout  = 10 * time.Second
	DefaultCacheTTL       = 5 * time.Minute
	DefaultDatabaseDriver = "sqlite"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration from raw YAML.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.MemGPT.Timeout == 0 {
		c.MemGPT.Timeout = DefaultTimeout
	}
	if c.MemGPT.Retry.MaxAttempts == 0 {
		c.MemGPT.Retry.MaxAttempts = DefaultRetryAttempts
	}
	if c.MemGPT.Retry.Delay == 0 {
		c.MemGPT.Retry.Delay = DefaultRetryDelay
	}
	if c.MemGPT.AttachDelay == 0 {
		c.MemGPT.AttachDelay = DefaultAttachDelay
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}
	if c.Delivery.PollInterval == 0 {
		c.Delivery.PollInterval = DefaultPollInterval
	}
	if c.Health.Schedule == "" {
		c.Health.Schedule = DefaultHealthSchedule
	}
	if c.Health.Timeout == 0 {
		c.Health.Timeout = DefaultHealthTimeout
	}
	if c.DirectoryCache.TTL == 0 {
		c.DirectoryCache.TTL = DefaultCacheTTL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.MemGPT.BaseURL == "" {
		return fmt.Errorf("memgpt.base_url is required")
	}
	u, err := url.Parse(c.MemGPT.BaseURL)
	if err != nil {
		return fmt.Errorf("memgpt.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("memgpt.base_url must use http or https scheme")
	}
	if c.MemGPT.Retry.MaxAttempts < 1 {
		return fmt.Errorf("memgpt.retry.max_attempts must be at least 1")
	}

	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.AccessToken == "" && (c.Matrix.Username == "" || c.Matrix.Password == "") {
		return fmt.Errorf("matrix.access_token or matrix.username and matrix.password are required")
	}
	if c.Matrix.AccessToken != "" && c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required with matrix.access_token")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	if c.Profiles.Watch && c.Profiles.Path == "" {
		return fmt.Errorf("profiles.watch needs profiles.path")
	}

	if c.Admin.HTTPAddr != "" || c.Admin.Tailscale.Enabled {
		if c.Admin.JWTSecret == "" {
			return fmt.Errorf("admin.jwt_secret is required when the admin server is enabled")
		}
	}
	if c.Admin.Tailscale.Enabled && c.Admin.Tailscale.Hostname == "" {
		return fmt.Errorf("admin.tailscale.hostname is required when tailscale is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"memgpt.timeout", cfg.MemGPT.TimeoutRaw, &cfg.MemGPT.Timeout},
		{"memgpt.attach_delay", cfg.MemGPT.AttachDelayRaw, &cfg.MemGPT.AttachDelay},
		{"memgpt.retry.delay", cfg.MemGPT.Retry.DelayRaw, &cfg.MemGPT.Retry.Delay},
		{"delivery.poll_interval", cfg.Delivery.PollIntervalRaw, &cfg.Delivery.PollInterval},
		{"health.timeout", cfg.Health.TimeoutRaw, &cfg.Health.Timeout},
		{"directory_cache.ttl", cfg.DirectoryCache.TTLRaw, &cfg.DirectoryCache.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}

	return nil
}
