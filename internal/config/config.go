// Package config loads and validates the qqgate YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config represents the complete qqgate configuration.
type Config struct {
	Bot     BotConfig     `yaml:"bot"`
	Server  ServerConfig  `yaml:"server"`
	Queue   QueueConfig   `yaml:"queue"`
	State   StateConfig   `yaml:"state"`
	Service ServiceConfig `yaml:"service"`
}

// BotConfig holds the platform application credentials.
type BotConfig struct {
	// AppID is the bot application identifier.
	AppID string `yaml:"app_id"`

	// AppSecret is the shared secret the signing keypair is derived from.
	// Use ${ENV_VAR} interpolation rather than committing it to the file.
	AppSecret string `yaml:"app_secret"`
}

// ServerConfig defines the callback HTTP server settings.
type ServerConfig struct {
	Listen       string `yaml:"listen"`
	CallbackPath string `yaml:"callback_path"`
	MaxBodySize  int64  `yaml:"max_body_size,omitempty"`
}

// QueueConfig tunes event dispatch.
type QueueConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

// StateConfig defines persistent storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// ServiceConfig defines process-level settings.
type ServiceConfig struct {
	LogLevel string `yaml:"log_level"`
	LockPath string `yaml:"lock_path,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       "127.0.0.1:8443",
			CallbackPath: "/qqbot/callback",
		},
		Queue: QueueConfig{
			PollInterval:   time.Second,
			HandlerTimeout: 30 * time.Second,
			RetryBackoff:   5 * time.Second,
			MaxAttempts:    4,
		},
		State: StateConfig{
			Path: "./data/qqgate.db",
		},
		Service: ServiceConfig{
			LogLevel: "info",
		},
	}
}

// Load reads and parses configuration from a YAML file. ${ENV_VAR}
// placeholders are interpolated from the environment before parsing, so
// secrets stay out of the file on disk.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", absPath, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// interpolateEnv replaces ${VAR} placeholders with environment values.
// Unset variables keep the placeholder so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Bot.AppID == "" {
		return fmt.Errorf("bot.app_id is required")
	}
	if cfg.Bot.AppSecret == "" {
		return fmt.Errorf("bot.app_secret is required")
	}
	if envVarPattern.MatchString(cfg.Bot.AppSecret) {
		matches := envVarPattern.FindStringSubmatch(cfg.Bot.AppSecret)
		return fmt.Errorf("bot.app_secret: environment variable ${%s} is not set", matches[1])
	}

	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if cfg.Server.MaxBodySize < 0 {
		return fmt.Errorf("server.max_body_size must not be negative")
	}

	if cfg.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.poll_interval must be positive")
	}
	if cfg.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	return nil
}
