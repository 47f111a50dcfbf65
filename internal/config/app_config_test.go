package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfig_SlogLevel(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     slog.Level
	}{
		{"debug", "debug", slog.LevelDebug},
		{"info", "info", slog.LevelInfo},
		{"warn", "warn", slog.LevelWarn},
		{"error", "error", slog.LevelError},
		{"unknown defaults to info", "unknown", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &AppConfig{LogLevel: tt.logLevel}
			assert.Equal(t, tt.want, c.SlogLevel())
		})
	}
}

func TestAppConfig_DirectoryPaths(t *testing.T) {
	c := &AppConfig{DataDir: "/data"}

	tests := []struct {
		name string
		fn   func() string
		want string
	}{
		{"LogDir", c.LogDir, "/data/logs"},
		{"DBPath", c.DBPath, "/data/notifyrelay.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fn())
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("NOTIFYRELAY_DATA_DIR", "/tmp/test-notifyrelay")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test-notifyrelay", cfg.DataDir)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, QueueRedis, cfg.QueueBackend)
	assert.Equal(t, "notification_queue", cfg.QueueName)
	assert.Equal(t, 3*time.Second, cfg.QueuePollInterval)
	assert.Equal(t, time.Second, cfg.QueueErrorDelay)
	assert.Equal(t, "http://localhost:1337/send", cfg.ProviderURL)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.InDelta(t, 0.5, cfg.BreakerFailureThreshold, 1e-9)
	assert.Equal(t, 10, cfg.BreakerWindowSize)
	assert.Equal(t, 5, cfg.BreakerMinRequests)
	assert.Equal(t, 10*time.Second, cfg.BreakerResetTimeout)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 1, cfg.DispatcherWorkers)
	assert.Equal(t, 168*time.Hour, cfg.HistoryRetention)
	assert.Equal(t, 1337, cfg.MockProviderPort)
	assert.False(t, cfg.SMTPEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("NOTIFYRELAY_DATA_DIR", "/tmp/test")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("QUEUE_BACKEND", " Memory ")
	t.Setenv("RETRY_BASE_DELAY", "250ms")
	t.Setenv("DISPATCHER_WORKERS", "4")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.local,http://b.local")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_FROM", "relay@example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, QueueMemory, cfg.QueueBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 4, cfg.DispatcherWorkers)
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.SMTPEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("NOTIFYRELAY_DATA_DIR", "/tmp/test")
	t.Setenv("PROVIDER_TIMEOUT", "soon")

	_, err := Load()
	assert.Error(t, err)
}

func TestAppConfig_Validate(t *testing.T) {
	valid := func() AppConfig {
		return AppConfig{
			Port:                    3000,
			QueueBackend:            QueueRedis,
			RedisURL:                "redis://localhost:6379/0",
			ProviderURL:             "http://localhost:1337/send",
			BreakerFailureThreshold: 0.5,
			RetryMaxAttempts:        3,
			DispatcherWorkers:       1,
		}
	}

	tests := []struct {
		name   string
		mutate func(*AppConfig)
		ok     bool
	}{
		{"valid", func(*AppConfig) {}, true},
		{"memory queue needs no redis", func(c *AppConfig) { c.QueueBackend = QueueMemory; c.RedisURL = "" }, true},
		{"bad port", func(c *AppConfig) { c.Port = 0 }, false},
		{"unknown queue", func(c *AppConfig) { c.QueueBackend = "kafka" }, false},
		{"redis without url", func(c *AppConfig) { c.RedisURL = "" }, false},
		{"no provider", func(c *AppConfig) { c.ProviderURL = "" }, false},
		{"threshold above one", func(c *AppConfig) { c.BreakerFailureThreshold = 1.5 }, false},
		{"zero attempts", func(c *AppConfig) { c.RetryMaxAttempts = 0 }, false},
		{"zero workers", func(c *AppConfig) { c.DispatcherWorkers = 0 }, false},
		{"smtp without from", func(c *AppConfig) { c.SMTPHost = "smtp.example.com" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			if tt.ok {
				assert.NoError(t, c.Validate())
			} else {
				assert.Error(t, c.Validate())
			}
		})
	}
}
