package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissing is wrapped by validation errors naming a required setting.
var ErrMissing = errors.New("required configuration missing")

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Board   BoardConfig   `yaml:"board"`
	Columns ColumnsConfig `yaml:"columns"`
	Policy  PolicyConfig  `yaml:"policy"`
	State   StateConfig   `yaml:"state"`
	Queue   QueueConfig   `yaml:"queue"`
	Auth    AuthConfig    `yaml:"auth"`
	Backup  BackupConfig  `yaml:"backup"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	Debug           bool     `yaml:"debug"`
}

// BoardConfig contains remote board API settings.
type BoardConfig struct {
	APIURL     string   `yaml:"api_url"`
	APIVersion string   `yaml:"api_version"`
	APIKey     string   `yaml:"-"` // env-only, never in YAML
	BoardID    string   `yaml:"board_id"`
	PageSize   int      `yaml:"page_size"`
	Timeout    Duration `yaml:"timeout"`
}

// ColumnsConfig names the board columns the engine reads and writes.
type ColumnsConfig struct {
	Trigger   string `yaml:"trigger"`
	Aggregate string `yaml:"aggregate"`
	Source    string `yaml:"source"`
}

// PolicyConfig selects the aggregation policy.
type PolicyConfig struct {
	Kind     string `yaml:"kind"`
	Baseline string `yaml:"baseline"`
	Trigger  string `yaml:"trigger"`
}

// StateConfig selects the write-cache backend.
type StateConfig struct {
	DSN string `yaml:"dsn"`
}

// QueueConfig sizes the reconcile queue.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// AuthConfig contains authentication settings for the management API.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// BackupConfig contains S3-compatible settings for write-cache backups.
// An empty bucket disables backups.
type BackupConfig struct {
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool    `yaml:"use_ssl"`
	Interval  Duration `yaml:"interval"`
	URLExpiry Duration `yaml:"url_expiry"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
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

// Load loads configuration with precedence: defaults → YAML file → .env file →
// env vars. Variables from .env never override variables already set.
func Load() (*Config, error) {
	cfg := newDefaults()

	if err := loadDotEnv(getEnv("BOARDSYNC_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	configPath := getEnv("BOARDSYNC_CONFIG_PATH", "config/boardsync.yaml")

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
	useSSL := true
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Board: BoardConfig{
			APIURL:     "https://api.monday.com/v2",
			APIVersion: "2024-01",
			PageSize:   500,
			Timeout:    Duration(15 * time.Second),
		},
		Policy: PolicyConfig{
			Kind:     "number",
			Baseline: "reset",
			Trigger:  "add",
		},
		State: StateConfig{
			DSN: "./lastState.json",
		},
		Queue: QueueConfig{
			Capacity: 256,
		},
		Backup: BackupConfig{
			Region:    "us-east-1",
			UseSSL:    &useSSL,
			Interval:  Duration(1 * time.Hour),
			URLExpiry: Duration(15 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading env file: %w", err)
	}
	return nil
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
	// Server (PORT is the platform convention)
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BOARDSYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}
	if v := os.Getenv("BOARDSYNC_DEBUG"); v != "" {
		cfg.Server.Debug = v == "true" || v == "1"
	}

	// Board
	if v := os.Getenv("MONDAY_API_URL"); v != "" {
		cfg.Board.APIURL = v
	}
	if v := os.Getenv("MONDAY_API_KEY"); v != "" {
		cfg.Board.APIKey = v
	}
	if v := os.Getenv("BOARD_ID"); v != "" {
		cfg.Board.BoardID = v
	}
	if v := os.Getenv("BOARDSYNC_BOARD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Board.Timeout = Duration(d)
		}
	}

	// Columns
	if v := os.Getenv("COL_TRIGGER"); v != "" {
		cfg.Columns.Trigger = v
	}
	if v := os.Getenv("COL_AGGREGATE"); v != "" {
		cfg.Columns.Aggregate = v
	}
	if v := os.Getenv("COL_SOURCE"); v != "" {
		cfg.Columns.Source = v
	}

	// Policy
	if v := os.Getenv("BOARDSYNC_KIND"); v != "" {
		cfg.Policy.Kind = strings.ToLower(v)
	}
	if v := os.Getenv("BOARDSYNC_BASELINE"); v != "" {
		cfg.Policy.Baseline = strings.ToLower(v)
	}
	if v := os.Getenv("BOARDSYNC_TRIGGER_POLICY"); v != "" {
		cfg.Policy.Trigger = strings.ToLower(v)
	}

	// State and queue
	if v := os.Getenv("BOARDSYNC_STATE_DSN"); v != "" {
		cfg.State.DSN = v
	}
	if v := os.Getenv("BOARDSYNC_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Capacity = n
		}
	}

	// Auth
	if v := os.Getenv("BOARDSYNC_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Backup
	if v := os.Getenv("BOARDSYNC_BACKUP_BUCKET"); v != "" {
		cfg.Backup.Bucket = v
	}
	if v := os.Getenv("BOARDSYNC_BACKUP_ENDPOINT"); v != "" {
		cfg.Backup.Endpoint = v
	}
	if v := os.Getenv("BOARDSYNC_BACKUP_REGION"); v != "" {
		cfg.Backup.Region = v
	}
	if v := os.Getenv("BOARDSYNC_BACKUP_ACCESS_KEY"); v != "" {
		cfg.Backup.AccessKey = v
	}
	if v := os.Getenv("BOARDSYNC_BACKUP_SECRET_KEY"); v != "" {
		cfg.Backup.SecretKey = v
	}
	if v := os.Getenv("BOARDSYNC_BACKUP_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.Backup.UseSSL = &useSSL
	}
	if v := os.Getenv("BOARDSYNC_BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backup.Interval = Duration(d)
		}
	}
	if v := os.Getenv("BOARDSYNC_BACKUP_URL_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backup.URLExpiry = Duration(d)
		}
	}

	// Log
	if v := os.Getenv("BOARDSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("BOARDSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks required settings and enum values. The trigger column is
// checked separately by RequireTrigger since baseline-only runs do not need it.
func (c *Config) validate() error {
	if c.Board.APIKey == "" {
		return fmt.Errorf("%w: MONDAY_API_KEY", ErrMissing)
	}
	if c.Board.BoardID == "" {
		return fmt.Errorf("%w: BOARD_ID", ErrMissing)
	}
	if c.Columns.Aggregate == "" {
		return fmt.Errorf("%w: COL_AGGREGATE", ErrMissing)
	}

	switch c.Policy.Kind {
	case "number", "text":
	default:
		return fmt.Errorf("policy.kind must be number or text, got %q", c.Policy.Kind)
	}
	switch c.Policy.Baseline {
	case "reset":
	case "mirror":
		if c.Columns.Source == "" {
			return fmt.Errorf("%w: COL_SOURCE (required by mirror baseline)", ErrMissing)
		}
	default:
		return fmt.Errorf("policy.baseline must be reset or mirror, got %q", c.Policy.Baseline)
	}
	switch c.Policy.Trigger {
	case "add", "replace":
	default:
		return fmt.Errorf("policy.trigger must be add or replace, got %q", c.Policy.Trigger)
	}

	if c.Columns.Trigger != "" && c.Columns.Trigger == c.Columns.Aggregate {
		return fmt.Errorf("trigger column %q must differ from the aggregate column", c.Columns.Trigger)
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity)
	}
	if c.Board.PageSize <= 0 {
		return fmt.Errorf("board.page_size must be positive, got %d", c.Board.PageSize)
	}
	return nil
}

// RequireTrigger reports an error when no trigger column is configured.
// The webhook server cannot run without one.
func (c *Config) RequireTrigger() error {
	if c.Columns.Trigger == "" {
		return fmt.Errorf("%w: COL_TRIGGER", ErrMissing)
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
