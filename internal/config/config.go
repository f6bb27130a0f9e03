// Package config holds studykit runtime configuration, loaded from a yaml
// file with environment overrides layered on top.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all studykit configuration.
type Config struct {
	// Listen is the HTTP bind address.
	Listen string `yaml:"listen"`

	// DBPath is the SQLite database file; ":memory:" for ephemeral.
	DBPath string `yaml:"db_path"`

	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig tunes HTTP timeouts. Durations are Go duration strings
// ("15s", "1m").
type ServerConfig struct {
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "studykit.db",
		Server: ServerConfig{
			ReadTimeout:     "15s",
			WriteTimeout:    "30s",
			ShutdownTimeout: "10s",
		},
		Logging: LoggingConfig{Level: "info", JSON: true},
	}
}

// Load reads the yaml file at path over the defaults, then applies
// environment overrides. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv maps STUDYKIT_* variables over the file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("STUDYKIT_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("STUDYKIT_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("STUDYKIT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// duration parses a duration string, falling back when empty or malformed.
func duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ReadTimeoutDuration returns the parsed read timeout.
func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	return duration(s.ReadTimeout, 15*time.Second)
}

// WriteTimeoutDuration returns the parsed write timeout.
func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return duration(s.WriteTimeout, 30*time.Second)
}

// ShutdownTimeoutDuration returns the parsed shutdown timeout.
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return duration(s.ShutdownTimeout, 10*time.Second)
}
