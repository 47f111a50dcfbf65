// Package config loads the relay's configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Queue backends.
const (
	QueueRedis  = "redis"
	QueueMemory = "memory"
)

// AppConfig holds all application-level configuration loaded from environment variables.
type AppConfig struct {
	// Port is the HTTP server port. Defaults to 3000.
	Port int `envconfig:"PORT" default:"3000"`

	// DataDir is the root data directory for the history database and logs.
	// Defaults to ~/.notifyrelay.
	DataDir string `envconfig:"NOTIFYRELAY_DATA_DIR"`

	// LogLevel sets the minimum log level (debug, info, warn, error). Defaults to info.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// LogStdout writes logs to stderr instead of the rotated log file.
	LogStdout bool `envconfig:"LOG_STDOUT" default:"false"`

	// QueueBackend selects the queue implementation: redis or memory.
	QueueBackend string `envconfig:"QUEUE_BACKEND" default:"redis"`

	RedisURL          string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	QueueName         string        `envconfig:"QUEUE_NAME" default:"notification_queue"`
	QueuePollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"3s"`
	QueueErrorDelay   time.Duration `envconfig:"QUEUE_ERROR_DELAY" default:"1s"`

	ProviderURL     string        `envconfig:"PROVIDER_URL" default:"http://localhost:1337/send"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"5s"`

	BreakerFailureThreshold float64       `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"0.5"`
	BreakerWindowSize       int           `envconfig:"BREAKER_WINDOW_SIZE" default:"10"`
	BreakerMinRequests      int           `envconfig:"BREAKER_MIN_REQUESTS" default:"5"`
	BreakerResetTimeout     time.Duration `envconfig:"BREAKER_RESET_TIMEOUT" default:"10s"`

	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"2s"`

	DispatcherWorkers int `envconfig:"DISPATCHER_WORKERS" default:"1"`

	// ObserverBuffer is the per-observer event buffer; a full buffer evicts
	// the observer.
	ObserverBuffer int `envconfig:"OBSERVER_BUFFER" default:"64"`

	// HistoryRetention is how long terminal notifications stay in history.
	HistoryRetention time.Duration `envconfig:"HISTORY_RETENTION" default:"168h"`

	// CORSAllowedOrigins is a comma separated list of dashboard origins.
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`

	// SMTP delivery for email notifications is enabled when SMTPHost is set.
	SMTPHost       string `envconfig:"SMTP_HOST"`
	SMTPPort       int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername   string `envconfig:"SMTP_USERNAME"`
	SMTPPassword   string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom       string `envconfig:"SMTP_FROM"`
	SMTPEncryption string `envconfig:"SMTP_ENCRYPTION" default:"starttls"`

	// MockProviderPort is the port of the `mock-provider` command.
	MockProviderPort int `envconfig:"MOCK_PROVIDER_PORT" default:"1337"`
}

// Load reads AppConfig from environment variables using envconfig.
// DataDir defaults to ~/.notifyrelay if not set.
func Load() (*AppConfig, error) {
	var c AppConfig
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".notifyrelay")
	}
	c.QueueBackend = strings.ToLower(strings.TrimSpace(c.QueueBackend))
	return &c, nil
}

// Validate reports the first invalid setting.
func (c *AppConfig) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	case c.QueueBackend != QueueRedis && c.QueueBackend != QueueMemory:
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueRedis, QueueMemory, c.QueueBackend)
	case c.QueueBackend == QueueRedis && c.RedisURL == "":
		return fmt.Errorf("REDIS_URL is required for the redis queue")
	case c.ProviderURL == "":
		return fmt.Errorf("PROVIDER_URL is required")
	case c.BreakerFailureThreshold <= 0 || c.BreakerFailureThreshold > 1:
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be in (0, 1], got %v", c.BreakerFailureThreshold)
	case c.RetryMaxAttempts < 1:
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	case c.DispatcherWorkers < 1:
		return fmt.Errorf("DISPATCHER_WORKERS must be at least 1, got %d", c.DispatcherWorkers)
	case c.SMTPHost != "" && c.SMTPFrom == "":
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	return nil
}

// SMTPEnabled reports whether email notifications go through SMTP.
func (c *AppConfig) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// SlogLevel converts the LogLevel string to a slog.Level.
// Unknown values default to slog.LevelInfo.
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogDir returns the path to the log directory (~/.notifyrelay/logs).
func (c *AppConfig) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// DBPath returns the path to the history database.
func (c *AppConfig) DBPath() string {
	return filepath.Join(c.DataDir, "notifyrelay.db")
}
