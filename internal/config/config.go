// Package config loads coursemap configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all coursemap configuration.
type Config struct {
	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Document chunking
	Chunker ChunkerConfig `yaml:"chunker"`

	// External call discipline (timeouts, retries)
	Caller CallerConfig `yaml:"caller"`

	// Extraction pipeline
	Extract ExtractConfig `yaml:"extract"`

	// Mapping session thresholds
	Mapping MappingConfig `yaml:"mapping"`

	// SQLite storage
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the inference provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

// ChunkerConfig configures document splitting.
type ChunkerConfig struct {
	MaxChunkChars int `yaml:"max_chunk_chars"`
	TokenBudget   int `yaml:"token_budget"`
	MinChunkChars int `yaml:"min_chunk_chars"`
}

// CallerConfig configures retry and timeout behavior for external calls.
type CallerConfig struct {
	Timeout        string `yaml:"timeout"`
	MaxAttempts    int    `yaml:"max_attempts"`
	BackoffBase    string `yaml:"backoff_base"`
	BackoffMax     string `yaml:"backoff_max"`
	RequestLogSize int    `yaml:"request_log_size"`
}

// ExtractConfig configures the extraction pipeline.
type ExtractConfig struct {
	InterChunkDelay string `yaml:"inter_chunk_delay"`
}

// MappingConfig configures mapping session thresholds.
type MappingConfig struct {
	ConfidenceThreshold int `yaml:"confidence_threshold"`
	PrefixLength        int `yaml:"prefix_length"`
	BatchSize           int `yaml:"batch_size"`
}

// StoreConfig configures SQLite storage.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Chunker: ChunkerConfig{
			MaxChunkChars: 48000,
			TokenBudget:   3000,
			MinChunkChars: 100,
		},
		Caller: CallerConfig{
			Timeout:        "45s",
			MaxAttempts:    3,
			BackoffBase:    "500ms",
			BackoffMax:     "8s",
			RequestLogSize: 64,
		},
		Extract: ExtractConfig{
			InterChunkDelay: "500ms",
		},
		Mapping: MappingConfig{
			ConfidenceThreshold: 75,
			PrefixLength:        7,
			BatchSize:           20,
		},
		Store: StoreConfig{
			DatabasePath: defaultDatabasePath(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "coursemap.db"
	}
	return filepath.Join(home, ".coursemap", "coursemap.db")
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
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

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
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
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "openai"
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.Provider == "gemini" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("COURSEMAP_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("COURSEMAP_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if url := os.Getenv("COURSEMAP_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if path := os.Getenv("COURSEMAP_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if level := os.Getenv("COURSEMAP_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetCallerTimeout returns the per-attempt timeout as a duration.
func (c *Config) GetCallerTimeout() time.Duration {
	return parseDuration(c.Caller.Timeout, 45*time.Second)
}

// GetBackoffBase returns the base backoff as a duration.
func (c *Config) GetBackoffBase() time.Duration {
	return parseDuration(c.Caller.BackoffBase, 500*time.Millisecond)
}

// GetBackoffMax returns the backoff ceiling as a duration.
func (c *Config) GetBackoffMax() time.Duration {
	return parseDuration(c.Caller.BackoffMax, 8*time.Second)
}

// GetInterChunkDelay returns the pause between chunk calls.
func (c *Config) GetInterChunkDelay() time.Duration {
	return parseDuration(c.Extract.InterChunkDelay, 500*time.Millisecond)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Caller.MaxAttempts < 1 {
		return fmt.Errorf("caller.max_attempts must be at least 1")
	}
	if c.Mapping.ConfidenceThreshold < 0 || c.Mapping.ConfidenceThreshold > 100 {
		return fmt.Errorf("mapping.confidence_threshold must be within 0-100")
	}
	if c.Mapping.PrefixLength < 1 {
		return fmt.Errorf("mapping.prefix_length must be at least 1")
	}
	return nil
}
