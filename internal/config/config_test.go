package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Auth.Secret = "s3cret"
	return cfg
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "classroomhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestConfig_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Minute, cfg.Lifecycle.SessionEndGrace)
	assert.Equal(t, "59 23 * * *", cfg.Lifecycle.ArchiveSchedule)
	assert.Equal(t, 500, cfg.Lifecycle.ArchiveBatchSize)
	assert.Equal(t, 1, cfg.Booking.SafetyOffset)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, time.UTC, cfg.Location())

	// The signing secret has no default.
	assert.ErrorContains(t, cfg.Validate(), "auth secret")
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"driver", func(c *Config) { c.Database.Driver = "postgres" }, "database driver"},
		{"sqlite path", func(c *Config) { c.Database.Path = "" }, "database path"},
		{"port", func(c *Config) { c.HTTP.Port = 70000 }, "HTTP port"},
		{"read timeout vs ping", func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }, "exceed the ping interval"},
		{"buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }, "buffer size"},
		{"batch", func(c *Config) { c.Lifecycle.ArchiveBatchSize = 0 }, "archive batch size"},
		{"cron", func(c *Config) { c.Lifecycle.ArchiveSchedule = "every night" }, "archive schedule"},
		{"location", func(c *Config) { c.Lifecycle.Location = "Mars/Olympus" }, "lifecycle location"},
		{"offset", func(c *Config) { c.Booking.SafetyOffset = -1 }, "safety offset"},
		{"rate", func(c *Config) { c.RateLimit.EventsPerMinute = 0 }, "events per minute"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}

func TestConfig_MemoryDriverNeedsNoPath(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Driver = DriverMemory
	cfg.Database.Path = ""
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0
	cfg.Booking.SafetyOffset = -1

	err := cfg.Validate()
	assert.ErrorContains(t, err, "HTTP port")
	assert.ErrorContains(t, err, "safety offset")
}

func TestConfig_ApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(lookupFrom(map[string]string{
		"CLASSROOMHUB_HTTP_PORT":                   "9090",
		"CLASSROOMHUB_DATABASE_DRIVER":             "memory",
		"CLASSROOMHUB_AUTH_SECRET":                 "from-env",
		"CLASSROOMHUB_LIFECYCLE_SESSION_END_GRACE": "2m",
		"CLASSROOMHUB_LIFECYCLE_LOCATION":          "Europe/Berlin",
		"CLASSROOMHUB_WEBSOCKET_ALLOWED_ORIGINS":   "https://a.example, https://b.example,",
		"CLASSROOMHUB_METRICS_ENABLED":             "false",
		"CLASSROOMHUB_BOOKING_SAFETY_OFFSET":       "0",
		"OTHERAPP_HTTP_PORT":                       "1",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, 2*time.Minute, cfg.Lifecycle.SessionEndGrace)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.WebSocket.AllowedOrigins)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 0, cfg.Booking.SafetyOffset)
}

func TestConfig_ApplyEnvReportsMalformedValues(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(lookupFrom(map[string]string{
		"CLASSROOMHUB_HTTP_PORT":         "eighty",
		"CLASSROOMHUB_HTTP_READ_TIMEOUT": "soon",
	}))
	assert.ErrorContains(t, err, "CLASSROOMHUB_HTTP_PORT")
	assert.ErrorContains(t, err, "CLASSROOMHUB_HTTP_READ_TIMEOUT")
	assert.Equal(t, 8080, cfg.HTTP.Port)
}

func TestConfig_LoadFromFile(t *testing.T) {
	path := writeFile(t, `
database:
  driver: memory
http:
  port: 9000
auth:
  secret: file-secret
lifecycle:
  session_end_grace: 90s
  archive_schedule: "0 2 * * *"
log:
  level: debug
  format: json
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, 90*time.Second, cfg.Lifecycle.SessionEndGrace)
	assert.Equal(t, "0 2 * * *", cfg.Lifecycle.ArchiveSchedule)
	assert.Equal(t, "json", cfg.Log.Format)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
	assert.Equal(t, 500, cfg.Lifecycle.ArchiveBatchSize)
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = LoadFromFile(writeFile(t, "http: [not, a, map"))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = LoadFromFile(writeFile(t, "http:\n  port: 8081\n"))
	assert.ErrorContains(t, err, "auth secret")
}

func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("CLASSROOMHUB_AUTH_SECRET", "env-secret")
	t.Setenv("CLASSROOMHUB_HTTP_PORT", "7000")
	t.Setenv("CLASSROOMHUB_HTTP_HOST", "127.0.0.1")

	cfg, err := LoadConfigWithPrecedence("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr())

	// File values win over the environment.
	cfg, err = LoadConfigWithPrecedence(writeFile(t, "http:\n  port: 7100\n"))
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.HTTP.Port)
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host)
	assert.Equal(t, "env-secret", cfg.Auth.Secret)

	_, err = LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
