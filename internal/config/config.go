// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/agentloop/agentloop/internal/profile"
)

// Config represents the orchestrator configuration.
type Config struct {
	Session   SessionConfig            `toml:"session"`
	Profiles  map[string]ProfileConfig `toml:"profiles"` // per-profile limit overrides
	Tools     ToolsConfig              `toml:"tools"`
	Events    EventsConfig             `toml:"events"`
	Logging   LoggingConfig            `toml:"logging"`
	Knowledge KnowledgeConfig          `toml:"knowledge"`
}

// SessionConfig contains session-level defaults.
type SessionConfig struct {
	Profile    string `toml:"profile"`      // default profile name
	PerfLogDir string `toml:"perf_log_dir"` // directory for persisted performance logs
}

// ProfileConfig overrides the limits of a named strategy profile. Zero
// values keep the built-in default.
type ProfileConfig struct {
	MaxSteps        int    `toml:"max_steps"`
	MaxRetries      int    `toml:"max_retries"`
	MaxRewrites     int    `toml:"max_rewrites"`
	StrategyTimeout string `toml:"strategy_timeout"` // Go duration string, e.g. "3s"
}

// ToolsConfig contains tool registration settings.
type ToolsConfig struct {
	Manifest string `toml:"manifest"` // YAML manifest of additional tool schemas
	Builtins bool   `toml:"builtins"` // register the built-in tools
}

// EventsConfig contains event sink settings.
type EventsConfig struct {
	NATSURL string `toml:"nats_url"` // empty disables the NATS sink
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level string `toml:"level"` // debug|info|warn|error
	JSON  bool   `toml:"json"`
}

// KnowledgeConfig configures the static knowledge base.
type KnowledgeConfig struct {
	Docs []KnowledgeDoc `toml:"docs"`
}

// KnowledgeDoc is one knowledge base document declared in config.
type KnowledgeDoc struct {
	Ref     string   `toml:"ref"`
	Title   string   `toml:"title"`
	Content string   `toml:"content"`
	Tags    []string `toml:"tags,omitempty"`
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Session: SessionConfig{
			Profile: "conservative",
		},
		Tools: ToolsConfig{
			Builtins: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from agentloop.toml in the current
// directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return LoadFile(filepath.Join(cwd, "agentloop.toml"))
}

// GetProfile returns the named strategy profile with any configured
// overrides applied.
func (c *Config) GetProfile(name string) (profile.Profile, error) {
	if name == "" {
		name = c.Session.Profile
	}
	prof, err := profile.ByName(name)
	if err != nil {
		return profile.Profile{}, err
	}

	override, ok := c.Profiles[name]
	if !ok {
		return prof, nil
	}
	if override.MaxSteps > 0 {
		prof.MaxSteps = override.MaxSteps
	}
	if override.MaxRetries > 0 {
		prof.MaxRetries = override.MaxRetries
	}
	if override.MaxRewrites > 0 {
		prof.MaxRewrites = override.MaxRewrites
	}
	if override.StrategyTimeout != "" {
		d, err := time.ParseDuration(override.StrategyTimeout)
		if err != nil {
			return profile.Profile{}, fmt.Errorf("profile %s: bad strategy_timeout: %w", name, err)
		}
		prof.StrategyTimeout = d
	}
	if err := prof.Validate(); err != nil {
		return profile.Profile{}, fmt.Errorf("profile %s: %w", name, err)
	}
	return prof, nil
}
