// Package config loads and validates kamishibai configuration from YAML,
// with environment-variable overrides for secrets and paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all kamishibai configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Completion provider
	Provider ProviderConfig `yaml:"provider"`

	// Generation and quality gating
	Generation GenerationConfig `yaml:"generation"`

	// Tiered cache
	Cache CacheConfig `yaml:"cache"`

	// Scenario templates
	Scenario ScenarioConfig `yaml:"scenario"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ProviderConfig configures the completion-provider boundary.
type ProviderConfig struct {
	Kind    string `yaml:"kind"` // openai, gemini
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// GenerationConfig configures content generation and the quality gate.
type GenerationConfig struct {
	VariationEnabled bool    `yaml:"variation_enabled"`
	ForceRegenerate  bool    `yaml:"force_regenerate"`
	MaxAttempts      int     `yaml:"max_attempts"`      // >= 1
	QualityThreshold int     `yaml:"quality_threshold"` // 0-100
	Temperature      float64 `yaml:"temperature"`       // base; roles override
	MaxTokens        int     `yaml:"max_tokens"`        // base; roles multiply
}

// CacheConfig configures the tiered cache.
type CacheConfig struct {
	TTL        string `yaml:"ttl"`
	MaxEntries int    `yaml:"max_entries"`
	Path       string `yaml:"path"` // SQLite database path
}

// ScenarioConfig configures the static template registry.
type ScenarioConfig struct {
	TemplatesDir string `yaml:"templates_dir"`
	Watch        bool   `yaml:"watch"` // hot-reload templates on change
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "kamishibai",
		Version: "1.0.0",

		Provider: ProviderConfig{
			Kind:    "openai",
			Model:   "gpt-4o-mini",
			BaseURL: "https://api.openai.com/v1",
			Timeout: "60s",
		},

		Generation: GenerationConfig{
			VariationEnabled: true,
			MaxAttempts:      3,
			QualityThreshold: 80,
			Temperature:      0.7,
			MaxTokens:        500,
		},

		Cache: CacheConfig{
			TTL:        "24h",
			MaxEntries: 100,
			Path:       "data/kamishibai.db",
		},

		Scenario: ScenarioConfig{
			TemplatesDir: "data/scenarios",
			Watch:        false,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
// Missing file returns defaults; environment overrides always apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
// API keys are checked in priority order: OPENAI > GEMINI.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Provider.APIKey = key
		c.Provider.Kind = "openai"
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Provider.APIKey = key
		if c.Provider.Kind != "gemini" {
			c.Provider.Kind = "gemini"
			c.Provider.Model = "gemini-2.0-flash"
			c.Provider.BaseURL = ""
		}
	}

	if path := os.Getenv("KAMI_DB"); path != "" {
		c.Cache.Path = path
	}
	if dir := os.Getenv("KAMI_TEMPLATES"); dir != "" {
		c.Scenario.TemplatesDir = dir
	}
}

// GetProviderTimeout parses the provider timeout duration.
func (c *Config) GetProviderTimeout() time.Duration {
	d, err := time.ParseDuration(c.Provider.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetCacheTTL parses the cache TTL duration.
func (c *Config) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// Validate checks for configuration errors.
func (c *Config) Validate() error {
	if c.Generation.MaxAttempts < 1 {
		return fmt.Errorf("generation.max_attempts must be >= 1 (got %d)", c.Generation.MaxAttempts)
	}
	if c.Generation.QualityThreshold < 0 || c.Generation.QualityThreshold > 100 {
		return fmt.Errorf("generation.quality_threshold must be in [0,100] (got %d)", c.Generation.QualityThreshold)
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be >= 1 (got %d)", c.Cache.MaxEntries)
	}
	if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
		return fmt.Errorf("cache.ttl is not a valid duration: %w", err)
	}
	switch c.Provider.Kind {
	case "openai", "gemini", "":
	default:
		return fmt.Errorf("provider.kind must be openai or gemini (got %q)", c.Provider.Kind)
	}
	return nil
}

// DefaultConfigPath returns the default path to .kami/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".kami", "config.yaml")
	}
	return filepath.Join(home, ".kami", "config.yaml")
}
