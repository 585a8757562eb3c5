// Package config loads client configuration from the environment and the
// persisted settings file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ReplayMode selects which exchange path a queued message takes when it
// is replayed.
type ReplayMode string

const (
	// ReplayInherit reuses whatever path is currently configured.
	ReplayInherit ReplayMode = "inherit"
	// ReplayStreaming forces the streaming path.
	ReplayStreaming ReplayMode = "streaming"
	// ReplayFallback forces the non-streaming path.
	ReplayFallback ReplayMode = "fallback"
)

// Config holds all configuration values.
type Config struct {
	// Assistant server
	ServerURL string `yaml:"server_url"`
	APIToken  string `yaml:"api_token"`

	// Chat defaults
	ModelName   string `yaml:"model_name"`
	MaxDaysBack int    `yaml:"max_days_back"`

	// Exchange budgets and path selection
	ConnectionTimeoutMs int        `yaml:"connection_timeout_ms"`
	ResponseTimeoutMs   int        `yaml:"response_timeout_ms"`
	Streaming           bool       `yaml:"streaming"`
	ReplayMode          ReplayMode `yaml:"replay_mode"`

	// Offline queue store
	QueueDir string `yaml:"queue_dir"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration from environment variables, then overlays the
// persisted settings file (MAILMIND_SETTINGS or the default path) when it
// exists.
func Load() Config {
	cfg := Config{
		ServerURL: getEnv("MAILMIND_SERVER_URL", "http://localhost:8787"),
		APIToken:  getEnv("MAILMIND_API_TOKEN", ""),

		ModelName:   getEnv("MAILMIND_MODEL", "assistant-default"),
		MaxDaysBack: getEnvInt("MAILMIND_MAX_DAYS_BACK", 30),

		ConnectionTimeoutMs: getEnvInt("MAILMIND_CONNECTION_TIMEOUT_MS", 30000),
		ResponseTimeoutMs:   getEnvInt("MAILMIND_RESPONSE_TIMEOUT_MS", 120000),
		Streaming:           getEnv("MAILMIND_STREAMING", "true") != "false",
		ReplayMode:          ReplayMode(getEnv("MAILMIND_REPLAY_MODE", string(ReplayInherit))),

		QueueDir: getEnv("MAILMIND_QUEUE_DIR", defaultQueueDir()),

		LogFile:  getEnv("MAILMIND_LOG_FILE", "/tmp/mailmind.log"),
		LogLevel: parseLogLevel(getEnv("MAILMIND_LOG_LEVEL", "INFO")),
	}

	path := getEnv("MAILMIND_SETTINGS", defaultSettingsPath())
	if path != "" {
		if overlaid, err := cfg.overlayFile(path); err == nil {
			cfg = overlaid
		}
	}
	return cfg
}

// LoadFile reads configuration with an explicit settings file, failing
// when the file is missing or malformed.
func LoadFile(path string) (Config, error) {
	cfg := Load()
	return cfg.overlayFile(path)
}

// overlayFile applies the YAML settings on top of the receiver.
func (c Config) overlayFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse settings: %w", err)
	}
	return c, nil
}

// Validate checks value ranges and the replay mode.
func (c Config) Validate() error {
	if c.ConnectionTimeoutMs <= 0 {
		return fmt.Errorf("connection_timeout_ms must be positive, got %d", c.ConnectionTimeoutMs)
	}
	if c.ResponseTimeoutMs <= 0 {
		return fmt.Errorf("response_timeout_ms must be positive, got %d", c.ResponseTimeoutMs)
	}
	switch c.ReplayMode {
	case ReplayInherit, ReplayStreaming, ReplayFallback:
	default:
		return fmt.Errorf("unknown replay_mode %q", c.ReplayMode)
	}
	return nil
}

// ConnectionTimeout returns the connection budget as a duration.
func (c Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutMs) * time.Millisecond
}

// ResponseTimeout returns the liveness budget as a duration.
func (c Config) ResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutMs) * time.Millisecond
}

// ReplayStreaming resolves the replay path against the configured
// default.
func (c Config) ResolveReplayStreaming() bool {
	switch c.ReplayMode {
	case ReplayStreaming:
		return true
	case ReplayFallback:
		return false
	default:
		return c.Streaming
	}
}

func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mailmind", "settings.yaml")
}

func defaultQueueDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "mailmind-queue")
	}
	return filepath.Join(dir, "mailmind", "queue")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
