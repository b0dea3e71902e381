// Package config loads and validates taskforge configuration from YAML,
// with environment variable overrides for deployment settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all taskforge configuration.
type Config struct {
	// Session sandbox settings
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Backend (text generation service)
	Backend BackendConfig `yaml:"backend"`

	// Engine (conversation loop and retry policy)
	Engine EngineConfig `yaml:"engine"`

	// HTTP API server
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// SandboxConfig configures session path confinement.
type SandboxConfig struct {
	// CacheRoot is the directory under which every session root lives.
	CacheRoot string `yaml:"cache_root" validate:"required"`

	// AuditDir receives per-session JSONL audit trails. Empty disables
	// the audit trail.
	AuditDir string `yaml:"audit_dir"`
}

// BackendConfig configures the Ollama connection.
type BackendConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	Model   string `yaml:"model" validate:"required"`
	Timeout string `yaml:"timeout"`
}

// EngineConfig configures the conversation loop and retry policy.
type EngineConfig struct {
	MaxRetries          int     `yaml:"max_retries" validate:"min=0,max=10"`
	BaseDelay           string  `yaml:"base_delay"`
	IterationCap        int     `yaml:"iteration_cap" validate:"min=1,max=200"`
	MinConfidence       float64 `yaml:"min_confidence" validate:"min=0,max=1"`
	MinReasoningLength  int     `yaml:"min_reasoning_length" validate:"min=0"`
	ShellCommandTimeout string  `yaml:"shell_command_timeout"`
	MirrorBaseURL       string  `yaml:"mirror_base_url" validate:"omitempty,url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			CacheRoot: "data/sessions",
			AuditDir:  "data/audit",
		},

		Backend: BackendConfig{
			BaseURL: "http://localhost:11434",
			Model:   "qwen2.5-coder:7b",
			Timeout: "120s",
		},

		Engine: EngineConfig{
			MaxRetries:          3,
			BaseDelay:           "500ms",
			IterationCap:        25,
			MinConfidence:       0.8,
			MinReasoningLength:  10,
			ShellCommandTimeout: "60s",
		},

		Server: ServerConfig{
			Addr: ":8090",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies TASKFORGE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TASKFORGE_CACHE_ROOT"); v != "" {
		c.Sandbox.CacheRoot = v
	}
	if v := os.Getenv("TASKFORGE_AUDIT_DIR"); v != "" {
		c.Sandbox.AuditDir = v
	}
	if v := os.Getenv("TASKFORGE_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("TASKFORGE_MODEL"); v != "" {
		c.Backend.Model = v
	}
	if v := os.Getenv("TASKFORGE_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("TASKFORGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TASKFORGE_ITERATION_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.IterationCap = n
		}
	}
	if v := os.Getenv("TASKFORGE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.MaxRetries = n
		}
	}
}

// Validate checks the configuration against its struct-tag constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// BackendTimeout returns the backend HTTP timeout as a duration.
func (c *Config) BackendTimeout() time.Duration {
	d, err := time.ParseDuration(c.Backend.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// RetryBaseDelay returns the retry base delay as a duration.
func (c *Config) RetryBaseDelay() time.Duration {
	d, err := time.ParseDuration(c.Engine.BaseDelay)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// ShellTimeout returns the default shell command timeout as a duration.
func (c *Config) ShellTimeout() time.Duration {
	d, err := time.ParseDuration(c.Engine.ShellCommandTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}
