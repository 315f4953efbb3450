package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PollInterval != 1 {
		t.Errorf("PollInterval = %d, want 1", cfg.PollInterval)
	}
	if cfg.AgentCommand != "claude" {
		t.Errorf("AgentCommand = %q, want %q", cfg.AgentCommand, "claude")
	}
	if cfg.MaxConcurrentAgents != 3 {
		t.Errorf("MaxConcurrentAgents = %d, want 3", cfg.MaxConcurrentAgents)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.EventQueueSize != 256 {
		t.Errorf("EventQueueSize = %d, want 256", cfg.EventQueueSize)
	}
	if cfg.GraceSeconds != 10 {
		t.Errorf("GraceSeconds = %d, want 10", cfg.GraceSeconds)
	}
}

func TestLoadNoFile(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.PollInterval != 1 {
		t.Errorf("PollInterval = %d, want 1", cfg.PollInterval)
	}
	if cfg.AgentCommand != "claude" {
		t.Errorf("AgentCommand = %q, want %q", cfg.AgentCommand, "claude")
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configYAML := `
poll_interval: 5
agent_command: custom-agent
max_concurrent_agents: 10
log_level: debug
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.PollInterval != 5 {
		t.Errorf("PollInterval = %d, want 5", cfg.PollInterval)
	}
	if cfg.AgentCommand != "custom-agent" {
		t.Errorf("AgentCommand = %q, want %q", cfg.AgentCommand, "custom-agent")
	}
	if cfg.MaxConcurrentAgents != 10 {
		t.Errorf("MaxConcurrentAgents = %d, want 10", cfg.MaxConcurrentAgents)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadPartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configYAML := `
poll_interval: 10
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.PollInterval != 10 {
		t.Errorf("PollInterval = %d, want 10", cfg.PollInterval)
	}

	// Defaults should still be present for unset fields.
	if cfg.AgentCommand != "claude" {
		t.Errorf("AgentCommand = %q, want %q", cfg.AgentCommand, "claude")
	}
	if cfg.EventQueueSize != 256 {
		t.Errorf("EventQueueSize = %d, want 256", cfg.EventQueueSize)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("poll_interval: [1, 2\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(tmpDir)
	if err == nil {
		t.Error("Load() should fail for invalid YAML")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()

	t.Setenv("ELEMENTAL_LOG_LEVEL", "debug")
	t.Setenv("ELEMENTAL_MAX_CONCURRENT_AGENTS", "7")

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q (env override)", cfg.LogLevel, "debug")
	}
	if cfg.MaxConcurrentAgents != 7 {
		t.Errorf("MaxConcurrentAgents = %d, want 7 (env override)", cfg.MaxConcurrentAgents)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("log_level: warn\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("ELEMENTAL_LOG_LEVEL", "error")

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want %q (env takes precedence over file)", cfg.LogLevel, "error")
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &Config{
		PollInterval:        3,
		AgentCommand:        "my-agent",
		MaxConcurrentAgents: 5,
		LogLevel:            "warn",
		EventQueueSize:      128,
		GraceSeconds:        5,
	}

	if err := cfg.Save(tmpDir); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if loaded.PollInterval != cfg.PollInterval {
		t.Errorf("PollInterval = %d, want %d", loaded.PollInterval, cfg.PollInterval)
	}
	if loaded.AgentCommand != cfg.AgentCommand {
		t.Errorf("AgentCommand = %q, want %q", loaded.AgentCommand, cfg.AgentCommand)
	}
	if loaded.EventQueueSize != cfg.EventQueueSize {
		t.Errorf("EventQueueSize = %d, want %d", loaded.EventQueueSize, cfg.EventQueueSize)
	}
}

func TestSaveInvalidPath(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.Save("/nonexistent/directory")
	if err == nil {
		t.Error("Save() should fail for invalid path")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     DefaultConfig(),
			wantErr: false,
		},
		{
			name: "invalid poll interval",
			cfg: &Config{
				Port:                4170,
				PollInterval:        0,
				AgentCommand:        "claude",
				MaxConcurrentAgents: 1,
			},
			wantErr: true,
		},
		{
			name: "negative poll interval",
			cfg: &Config{
				Port:                4170,
				PollInterval:        -1,
				AgentCommand:        "claude",
				MaxConcurrentAgents: 1,
			},
			wantErr: true,
		},
		{
			name: "invalid max concurrent agents",
			cfg: &Config{
				Port:                4170,
				PollInterval:        1,
				AgentCommand:        "claude",
				MaxConcurrentAgents: 0,
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			cfg: &Config{
				Port:                4170,
				PollInterval:        1,
				MaxConcurrentAgents: 1,
				EventQueueSize:      1,
				GraceSeconds:        1,
				LogLevel:            "verbose",
			},
			wantErr: true,
		},
		{
			name: "negative grace seconds",
			cfg: &Config{
				Port:                4170,
				PollInterval:        1,
				MaxConcurrentAgents: 1,
				EventQueueSize:      1,
				GraceSeconds:        -1,
				LogLevel:            "info",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
