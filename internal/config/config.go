package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server struct {
		Port            string        `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	// Logging configuration
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// Sync channel configuration
	Sync struct {
		Channel      string        `yaml:"channel"`
		PollInterval time.Duration `yaml:"poll_interval"`
		GuardMaxAge  time.Duration `yaml:"guard_max_age"`
		RelayURL     string        `yaml:"relay_url"`
	} `yaml:"sync"`

	// Player settings
	Player struct {
		SkipSeconds float64       `yaml:"skip_seconds"`
		Tick        time.Duration `yaml:"tick"`
	} `yaml:"player"`

	// File paths
	Paths struct {
		DatabaseFile string `yaml:"database_file"`
	} `yaml:"paths"`
}

// Load loads configuration from a file (if specified) and environment variables.
// Configuration priority: 1) Environment variables, 2) Config file, 3) Defaults
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	// Set default values first
	cfg.Server.Port = "8080"
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Sync.Channel = "tandem-playback"
	cfg.Sync.PollInterval = 500 * time.Millisecond
	cfg.Sync.GuardMaxAge = 3 * time.Second
	cfg.Player.SkipSeconds = 30
	cfg.Player.Tick = 250 * time.Millisecond
	cfg.Paths.DatabaseFile = "./tandem.db"

	// Load configuration from file (if specified); absent fields keep
	// their defaults
	if configFile != "" {
		absConfigFile, err := filepath.Abs(configFile)
		if err == nil {
			configFile = absConfigFile
		}

		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Then load from environment variables (highest priority)
	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Sync.Channel) == "" {
		return &ConfigError{Field: "sync.channel", Msg: "must not be empty"}
	}
	if c.Sync.PollInterval <= 0 {
		return &ConfigError{Field: "sync.poll_interval", Msg: "must be positive"}
	}
	if c.Sync.GuardMaxAge <= 0 {
		return &ConfigError{Field: "sync.guard_max_age", Msg: "must be positive"}
	}
	if c.Player.SkipSeconds <= 0 {
		return &ConfigError{Field: "player.skip_seconds", Msg: "must be positive"}
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return &ConfigError{Field: "server.port", Msg: "must be a port number"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Msg
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(cfg *Config) {
	if port := getEnv("PORT", ""); port != "" {
		cfg.Server.Port = port
	}
	if timeout := getDurationFromEnv("SHUTDOWN_TIMEOUT", 0); timeout > 0 {
		cfg.Server.ShutdownTimeout = timeout
	}
	if level := getEnv("LOG_LEVEL", ""); level != "" {
		cfg.Logging.Level = level
	}
	if format := getEnv("LOG_FORMAT", ""); format != "" {
		cfg.Logging.Format = format
	}
	if channel := getEnv("SYNC_CHANNEL", ""); channel != "" {
		cfg.Sync.Channel = channel
	}
	if interval := getDurationFromEnv("SYNC_POLL_INTERVAL", 0); interval > 0 {
		cfg.Sync.PollInterval = interval
	}
	if maxAge := getDurationFromEnv("SYNC_GUARD_MAX_AGE", 0); maxAge > 0 {
		cfg.Sync.GuardMaxAge = maxAge
	}
	if relayURL := getEnv("SYNC_RELAY_URL", ""); relayURL != "" {
		cfg.Sync.RelayURL = relayURL
	}
	if skip := getFloat64FromEnv("PLAYER_SKIP_SECONDS", 0); skip > 0 {
		cfg.Player.SkipSeconds = skip
	}
	if tick := getDurationFromEnv("PLAYER_TICK", 0); tick > 0 {
		cfg.Player.Tick = tick
	}
	if dbFile := getEnv("DATABASE_FILE", ""); dbFile != "" {
		cfg.Paths.DatabaseFile = dbFile
	}
}

// Helper functions for environment variable parsing
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDurationFromEnv(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fallback
		}
		return d
	}
	return fallback
}

func getFloat64FromEnv(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fallback
		}
		return f
	}
	return fallback
}
