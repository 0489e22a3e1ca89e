// Package config provides configuration management for Confab.
// It supports loading configuration from environment variables, config files,
// and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Confab.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Discussion DiscussionConfig `mapstructure:"discussion"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP/WebSocket server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds storage configuration. Driver "memory" keeps all
// state in process; "sqlite" persists to Path.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // memory, sqlite
	Path   string `mapstructure:"path"`   // sqlite file path
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DiscussionConfig holds defaults and background-loop intervals for the
// discussion orchestrator.
type DiscussionConfig struct {
	MaxParticipants    int  `mapstructure:"maxParticipants"`
	TurnTimeoutSeconds int  `mapstructure:"turnTimeoutSeconds"`
	MaxMessages        int  `mapstructure:"maxMessages"`
	AutoModeration     bool `mapstructure:"autoModeration"`
	AllowReactions     bool `mapstructure:"allowReactions"`

	CacheTTLMinutes        int `mapstructure:"cacheTtlMinutes"`
	CacheSweepMinutes      int `mapstructure:"cacheSweepMinutes"`
	TriggerSweepSeconds    int `mapstructure:"triggerSweepSeconds"`
	TriggerCooldownSeconds int `mapstructure:"triggerCooldownSeconds"`
	AgentDedupMinutes      int `mapstructure:"agentDedupMinutes"`
	HealthIntervalSeconds  int `mapstructure:"healthIntervalSeconds"`
	InactiveAfterMinutes   int `mapstructure:"inactiveAfterMinutes"`
	CleanupIntervalMinutes int `mapstructure:"cleanupIntervalMinutes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// CacheTTL returns the discussion cache TTL as a time.Duration.
func (d *DiscussionConfig) CacheTTL() time.Duration {
	return time.Duration(d.CacheTTLMinutes) * time.Minute
}

// CacheSweepInterval returns the cache sweep interval as a time.Duration.
func (d *DiscussionConfig) CacheSweepInterval() time.Duration {
	return time.Duration(d.CacheSweepMinutes) * time.Minute
}

// TriggerSweepInterval returns the participation sweep interval.
func (d *DiscussionConfig) TriggerSweepInterval() time.Duration {
	return time.Duration(d.TriggerSweepSeconds) * time.Second
}

// TriggerCooldown returns the per-discussion participation rate limit.
func (d *DiscussionConfig) TriggerCooldown() time.Duration {
	return time.Duration(d.TriggerCooldownSeconds) * time.Second
}

// AgentDedupWindow returns the per-agent trigger dedup window.
func (d *DiscussionConfig) AgentDedupWindow() time.Duration {
	return time.Duration(d.AgentDedupMinutes) * time.Minute
}

// HealthInterval returns the health monitor interval.
func (d *DiscussionConfig) HealthInterval() time.Duration {
	return time.Duration(d.HealthIntervalSeconds) * time.Second
}

// InactiveAfter returns the inactivity threshold for health reporting.
func (d *DiscussionConfig) InactiveAfter() time.Duration {
	return time.Duration(d.InactiveAfterMinutes) * time.Minute
}

// CleanupInterval returns the stale-state cleanup interval.
func (d *DiscussionConfig) CleanupInterval() time.Duration {
	return time.Duration(d.CleanupIntervalMinutes) * time.Minute
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - in-memory unless a sqlite path is configured
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.path", "confab.db")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "confab")
	v.SetDefault("nats.maxReconnects", 10)

	// Discussion defaults
	v.SetDefault("discussion.maxParticipants", 10)
	v.SetDefault("discussion.turnTimeoutSeconds", 10)
	v.SetDefault("discussion.maxMessages", 100)
	v.SetDefault("discussion.autoModeration", true)
	v.SetDefault("discussion.allowReactions", true)
	v.SetDefault("discussion.cacheTtlMinutes", 60)
	v.SetDefault("discussion.cacheSweepMinutes", 10)
	v.SetDefault("discussion.triggerSweepSeconds", 5)
	v.SetDefault("discussion.triggerCooldownSeconds", 30)
	v.SetDefault("discussion.agentDedupMinutes", 2)
	v.SetDefault("discussion.healthIntervalSeconds", 30)
	v.SetDefault("discussion.inactiveAfterMinutes", 10)
	v.SetDefault("discussion.cleanupIntervalMinutes", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix CONFAB_ with underscore
// naming. The config file is config.yaml in the current directory or
// /etc/confab/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CONFAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/confab/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "memory":
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: memory, sqlite")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Discussion.MaxParticipants <= 0 {
		errs = append(errs, "discussion.maxParticipants must be positive")
	}
	if cfg.Discussion.TurnTimeoutSeconds <= 0 {
		errs = append(errs, "discussion.turnTimeoutSeconds must be positive")
	}
	if cfg.Discussion.MaxMessages <= 0 {
		errs = append(errs, "discussion.maxMessages must be positive")
	}
	if cfg.Discussion.TriggerSweepSeconds <= 0 {
		errs = append(errs, "discussion.triggerSweepSeconds must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
