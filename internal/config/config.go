package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLASSROOMHUB_"

// Database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Auth      AuthConfig      `yaml:"auth"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Booking   BookingConfig   `yaml:"booking"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Driver  string        `yaml:"driver"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	BufferSize     int           `yaml:"buffer_size"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	// AllowedOrigins empty accepts every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type LifecycleConfig struct {
	// SessionEndGrace is added to the classroom window before its sessions end.
	SessionEndGrace  time.Duration `yaml:"session_end_grace"`
	ArchiveSchedule  string        `yaml:"archive_schedule"`
	ArchiveBatchSize int           `yaml:"archive_batch_size"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	// Location is an IANA zone name used for end-of-day and cron schedules.
	Location string `yaml:"location"`
}

type BookingConfig struct {
	SafetyOffset int `yaml:"safety_offset"`
}

type RateLimitConfig struct {
	EventsPerMinute int `yaml:"events_per_minute"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults based on classroom requirements
// Database on local filesystem, HTTP on standard port, WebSocket with 30s heartbeat
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:  DriverSQLite,
			Path:    "./data/classroomhub.db",
			Timeout: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 64 * 1024,
		},
		Auth: AuthConfig{
			Issuer:   "classroomhub",
			TokenTTL: 24 * time.Hour,
		},
		Lifecycle: LifecycleConfig{
			SessionEndGrace:  5 * time.Minute,
			ArchiveSchedule:  "59 23 * * *",
			ArchiveBatchSize: 500,
			RetryAttempts:    3,
			RetryDelay:       time.Second,
			Location:         "UTC",
		},
		Booking:   BookingConfig{SafetyOffset: 1},
		RateLimit: RateLimitConfig{EventsPerMinute: 100},
		Log:       LogConfig{Level: "info", Format: "text"},
		Metrics:   MetricsConfig{Enabled: true, Namespace: "classroomhub"},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.Database.Driver == DriverSQLite || c.Database.Driver == DriverMemory,
		fmt.Sprintf("database driver must be %q or %q", DriverSQLite, DriverMemory))
	check(c.Database.Driver != DriverSQLite || c.Database.Path != "", "database path cannot be empty")
	check(c.Database.Timeout > 0, "database timeout must be positive")

	check(c.HTTP.Host != "", "HTTP host cannot be empty")
	check(c.HTTP.Port > 0 && c.HTTP.Port <= 65535, "HTTP port must be between 1 and 65535")
	check(c.HTTP.ReadTimeout > 0, "HTTP read timeout must be positive")
	check(c.HTTP.WriteTimeout > 0, "HTTP write timeout must be positive")
	check(c.HTTP.ShutdownTimeout > 0, "HTTP shutdown timeout must be positive")

	check(c.WebSocket.PingInterval > 0, "WebSocket ping interval must be positive")
	check(c.WebSocket.ReadTimeout > c.WebSocket.PingInterval, "WebSocket read timeout must exceed the ping interval")
	check(c.WebSocket.WriteTimeout > 0, "WebSocket write timeout must be positive")
	check(c.WebSocket.BufferSize > 0, "WebSocket buffer size must be positive")
	check(c.WebSocket.MaxMessageSize > 0, "WebSocket max message size must be positive")

	check(c.Auth.Secret != "", "auth secret cannot be empty")
	check(c.Auth.TokenTTL > 0, "auth token TTL must be positive")

	check(c.Lifecycle.SessionEndGrace >= 0, "session end grace cannot be negative")
	check(c.Lifecycle.ArchiveBatchSize > 0, "archive batch size must be positive")
	check(c.Lifecycle.RetryAttempts > 0, "retry attempts must be positive")
	check(c.Lifecycle.RetryDelay >= 0, "retry delay cannot be negative")
	if _, err := cron.ParseStandard(c.Lifecycle.ArchiveSchedule); err != nil {
		errs = append(errs, fmt.Errorf("archive schedule %q: %w", c.Lifecycle.ArchiveSchedule, err))
	}
	if _, err := time.LoadLocation(c.Lifecycle.Location); err != nil {
		errs = append(errs, fmt.Errorf("lifecycle location %q: %w", c.Lifecycle.Location, err))
	}

	check(c.Booking.SafetyOffset >= 0, "booking safety offset cannot be negative")
	check(c.RateLimit.EventsPerMinute > 0, "events per minute must be positive")

	return errors.Join(errs...)
}

// Location resolves the lifecycle time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Lifecycle.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Supports containerized deployments and configuration management systems.
// Malformed values are reported rather than silently ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = n
	}
	duration := func(name string, dst *time.Duration) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = d
	}
	boolean := func(name string, dst *bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = b
	}

	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_PATH", &c.Database.Path)
	duration("DATABASE_TIMEOUT", &c.Database.Timeout)

	str("HTTP_HOST", &c.HTTP.Host)
	integer("HTTP_PORT", &c.HTTP.Port)
	duration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	duration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	duration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)

	duration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	duration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	duration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	integer("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)
	if v, ok := lookup(EnvPrefix + "WEBSOCKET_ALLOWED_ORIGINS"); ok && v != "" {
		c.WebSocket.AllowedOrigins = splitList(v)
	}

	str("AUTH_SECRET", &c.Auth.Secret)
	str("AUTH_ISSUER", &c.Auth.Issuer)
	duration("AUTH_TOKEN_TTL", &c.Auth.TokenTTL)

	duration("LIFECYCLE_SESSION_END_GRACE", &c.Lifecycle.SessionEndGrace)
	str("LIFECYCLE_ARCHIVE_SCHEDULE", &c.Lifecycle.ArchiveSchedule)
	integer("LIFECYCLE_ARCHIVE_BATCH_SIZE", &c.Lifecycle.ArchiveBatchSize)
	integer("LIFECYCLE_RETRY_ATTEMPTS", &c.Lifecycle.RetryAttempts)
	duration("LIFECYCLE_RETRY_DELAY", &c.Lifecycle.RetryDelay)
	str("LIFECYCLE_LOCATION", &c.Lifecycle.Location)

	integer("BOOKING_SAFETY_OFFSET", &c.Booking.SafetyOffset)
	integer("RATE_LIMIT_EVENTS_PER_MINUTE", &c.RateLimit.EventsPerMinute)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	boolean("METRICS_ENABLED", &c.Metrics.Enabled)
	str("METRICS_NAMESPACE", &c.Metrics.Namespace)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromEnv returns the defaults overridden by the process environment.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyFile overlays the YAML file at path. Keys absent from the file keep
// their current values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	// TECHNICAL DISCOVERY: yaml.v3 parses duration strings such as "30s"
	// directly into time.Duration fields
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadFromFile returns the defaults overlaid with the YAML file at path.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// Enables flexible deployment patterns while maintaining sane defaults.
// An empty path skips the file.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
