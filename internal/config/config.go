// Package config loads daemon configuration from <workspace>/.elemental/config.yaml,
// overlaying ELEMENTAL_*-prefixed environment variables on top of file values.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the daemon configuration.
type Config struct {
	// Port is the TCP port the HTTP+SSE API listens on.
	Port int `mapstructure:"port"`

	// PollInterval is the interval between scheduler reconciliation polls, in seconds.
	PollInterval int `mapstructure:"poll_interval"`

	// AgentCommand is the command to run for agent sessions (default: claude).
	AgentCommand string `mapstructure:"agent_command"`

	// AgentArgs are the arguments to pass to the agent command (default: ["-p"]).
	AgentArgs []string `mapstructure:"agent_args"`

	// MaxConcurrentAgents is the maximum number of concurrently running agent sessions.
	MaxConcurrentAgents int `mapstructure:"max_concurrent_agents"`

	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// EventQueueSize is the per-subscriber SSE event queue depth before drop-oldest kicks in.
	EventQueueSize int `mapstructure:"event_queue_size"`

	// GraceSeconds is how long a graceful stop waits before escalating to SIGKILL.
	GraceSeconds int `mapstructure:"grace_seconds"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:                4170,
		PollInterval:        1,
		AgentCommand:        "claude",
		AgentArgs:           []string{"-p"},
		MaxConcurrentAgents: 3,
		LogLevel:            "info",
		EventQueueSize:      256,
		GraceSeconds:        10,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ELEMENTAL")
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("port", d.Port)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("agent_command", d.AgentCommand)
	v.SetDefault("agent_args", d.AgentArgs)
	v.SetDefault("max_concurrent_agents", d.MaxConcurrentAgents)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("event_queue_size", d.EventQueueSize)
	v.SetDefault("grace_seconds", d.GraceSeconds)
	return v
}

// Load loads configuration from <elementalDir>/config.yaml, overlaying
// ELEMENTAL_*-prefixed environment variables, falling back to defaults
// when the file does not exist.
func Load(elementalDir string) (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath(elementalDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to <elementalDir>/config.yaml.
func (c *Config) Save(elementalDir string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("port", c.Port)
	v.Set("poll_interval", c.PollInterval)
	v.Set("agent_command", c.AgentCommand)
	v.Set("agent_args", c.AgentArgs)
	v.Set("max_concurrent_agents", c.MaxConcurrentAgents)
	v.Set("log_level", c.LogLevel)
	v.Set("event_queue_size", c.EventQueueSize)
	v.Set("grace_seconds", c.GraceSeconds)

	configPath := filepath.Join(elementalDir, "config.yaml")
	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.PollInterval < 1 {
		return fmt.Errorf("poll_interval must be at least 1 second")
	}
	if c.MaxConcurrentAgents < 1 {
		return fmt.Errorf("max_concurrent_agents must be at least 1")
	}
	if c.EventQueueSize < 1 {
		return fmt.Errorf("event_queue_size must be at least 1")
	}
	if c.GraceSeconds < 0 {
		return fmt.Errorf("grace_seconds must not be negative")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	return nil
}
