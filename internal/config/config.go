package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leobook/leosync/internal/schema"
)

// Remote drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverREST     = "rest"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Remote  RemoteConfig  `yaml:"remote"`
	Sync    SyncConfig    `yaml:"sync"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     LogConfig     `yaml:"log"`
	Archive ArchiveConfig `yaml:"archive"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DataConfig locates the local CSV tables.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// RemoteConfig selects and addresses the remote store.
type RemoteConfig struct {
	Driver  string   `yaml:"driver"` // postgres, sqlite or rest
	DSN     string   `yaml:"dsn"`    // postgres and sqlite
	URL     string   `yaml:"url"`    // rest
	APIKey  string   `yaml:"-"`      // env-only, never in YAML
	Timeout Duration `yaml:"timeout"`
}

// SyncConfig contains sync engine and scheduling settings.
type SyncConfig struct {
	Tables           []string `yaml:"tables"` // empty means every synced table
	Interval         Duration `yaml:"interval"`
	OnStartup        bool     `yaml:"on_startup"`
	PageSize         int      `yaml:"page_size"`
	PullBatchSize    int      `yaml:"pull_batch_size"`
	PushBatchSize    int      `yaml:"push_batch_size"`
	ParitySampleSize int      `yaml:"parity_sample_size"`
	ParityTolerance  Duration `yaml:"parity_tolerance"`
	RetryAttempts    int      `yaml:"retry_attempts"`
	RetryBaseDelay   Duration `yaml:"retry_base_delay"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings. File enables rotation through
// lumberjack; empty logs to stderr.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ArchiveConfig contains S3-compatible storage settings for post-sync
// table archives. An empty bucket disables archiving.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	UseSSL    *bool  `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"-"` // env-only, never in YAML
	SecretKey string `yaml:"-"` // env-only, never in YAML
}

// SyncEnabled reports whether a remote store is configured.
func (c *Config) SyncEnabled() bool {
	switch c.Remote.Driver {
	case DriverREST:
		return c.Remote.URL != "" && c.Remote.APIKey != ""
	case DriverPostgres, DriverSQLite:
		return c.Remote.DSN != ""
	}
	return false
}

// SyncTables resolves the configured table names against the registry.
func (c *Config) SyncTables() ([]schema.Table, error) {
	if len(c.Sync.Tables) == 0 {
		return schema.Synced(), nil
	}
	return schema.Resolve(c.Sync.Tables)
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("LEOSYNC_CONFIG_PATH", "config/leosync.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(5 * time.Minute),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Data: DataConfig{
			Dir: "Data/Store",
		},
		Remote: RemoteConfig{
			Timeout: Duration(30 * time.Second),
		},
		Sync: SyncConfig{
			Interval:         Duration(0),
			OnStartup:        true,
			PageSize:         1000,
			PullBatchSize:    200,
			PushBatchSize:    1000,
			ParitySampleSize: 10,
			ParityTolerance:  Duration(time.Second),
			RetryAttempts:    3,
			RetryBaseDelay:   Duration(time.Second),
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Archive: ArchiveConfig{
			Prefix: "leosync",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("LEOSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	envDuration("LEOSYNC_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("LEOSYNC_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("LEOSYNC_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Data
	if v := os.Getenv("LEOSYNC_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}

	// Remote (SUPABASE_* is the deployment convention)
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.Remote.URL = v
	}
	if v := os.Getenv("SUPABASE_SERVICE_KEY"); v != "" {
		cfg.Remote.APIKey = v
	}
	if v := os.Getenv("LEOSYNC_REMOTE_URL"); v != "" {
		cfg.Remote.URL = v
	}
	if v := os.Getenv("LEOSYNC_REMOTE_API_KEY"); v != "" {
		cfg.Remote.APIKey = v
	}
	if v := os.Getenv("LEOSYNC_REMOTE_DSN"); v != "" {
		cfg.Remote.DSN = v
	}
	if v := os.Getenv("LEOSYNC_REMOTE_DRIVER"); v != "" {
		cfg.Remote.Driver = v
	}
	envDuration("LEOSYNC_REMOTE_TIMEOUT", &cfg.Remote.Timeout)
	if cfg.Remote.Driver == "" {
		switch {
		case cfg.Remote.URL != "":
			cfg.Remote.Driver = DriverREST
		case cfg.Remote.DSN != "":
			cfg.Remote.Driver = DriverPostgres
		}
	}

	// Sync
	if v := os.Getenv("LEOSYNC_SYNC_TABLES"); v != "" {
		cfg.Sync.Tables = splitList(v)
	}
	envDuration("LEOSYNC_SYNC_INTERVAL", &cfg.Sync.Interval)
	if v := os.Getenv("LEOSYNC_SYNC_ON_STARTUP"); v != "" {
		cfg.Sync.OnStartup = v == "true" || v == "1"
	}
	if v := os.Getenv("LEOSYNC_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.RetryAttempts = n
		}
	}
	envDuration("LEOSYNC_RETRY_BASE_DELAY", &cfg.Sync.RetryBaseDelay)

	// Auth
	if v := os.Getenv("LEOSYNC_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Log
	if v := os.Getenv("LEOSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LEOSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LEOSYNC_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	// Archive
	if v := os.Getenv("LEOSYNC_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("LEOSYNC_S3_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("LEOSYNC_S3_REGION"); v != "" {
		cfg.Archive.Region = v
	}
	if v := os.Getenv("LEOSYNC_S3_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("LEOSYNC_S3_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
	if v := os.Getenv("LEOSYNC_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.Archive.UseSSL = &useSSL
	}
}

// validate checks value ranges and that a remote store is configured.
// In dev mode (LEOSYNC_DEV_MODE=true), the remote requirement is skipped
// and sync runs are disabled when no remote is set.
func (c *Config) validate() error {
	switch c.Remote.Driver {
	case "", DriverPostgres, DriverSQLite, DriverREST:
	default:
		return fmt.Errorf("unknown remote driver %q", c.Remote.Driver)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Sync.PageSize <= 0 || c.Sync.PullBatchSize <= 0 || c.Sync.PushBatchSize <= 0 {
		return errors.New("sync page and batch sizes must be positive")
	}
	if c.Sync.RetryAttempts <= 0 {
		return errors.New("sync retry_attempts must be positive")
	}
	if c.Sync.ParitySampleSize < 0 || c.Sync.Interval < 0 {
		return errors.New("sync parity_sample_size and interval must not be negative")
	}
	if _, err := c.SyncTables(); err != nil {
		return err
	}

	if os.Getenv("LEOSYNC_DEV_MODE") == "true" {
		return nil
	}

	switch c.Remote.Driver {
	case "":
		return errors.New("SUPABASE_URL or LEOSYNC_REMOTE_DSN is required")
	case DriverREST:
		if c.Remote.URL == "" {
			return errors.New("SUPABASE_URL is required for the rest driver")
		}
		if c.Remote.APIKey == "" {
			return errors.New("SUPABASE_SERVICE_KEY is required for the rest driver")
		}
	default:
		if c.Remote.DSN == "" {
			return fmt.Errorf("LEOSYNC_REMOTE_DSN is required for the %s driver", c.Remote.Driver)
		}
	}
	return nil
}

// ValidateServe checks settings only the HTTP server needs.
func (c *Config) ValidateServe() error {
	if os.Getenv("LEOSYNC_DEV_MODE") == "true" {
		return nil
	}
	if c.Auth.APIKey == "" {
		return errors.New("LEOSYNC_API_KEY is required")
	}
	return nil
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
