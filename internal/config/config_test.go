package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mapping.ConfidenceThreshold != 75 {
		t.Errorf("confidence threshold = %d, want 75", cfg.Mapping.ConfidenceThreshold)
	}
	if cfg.Mapping.PrefixLength != 7 {
		t.Errorf("prefix length = %d, want 7", cfg.Mapping.PrefixLength)
	}
	if cfg.GetCallerTimeout() != 45*time.Second {
		t.Errorf("caller timeout = %v, want 45s", cfg.GetCallerTimeout())
	}
	if cfg.GetInterChunkDelay() != 500*time.Millisecond {
		t.Errorf("inter-chunk delay = %v, want 500ms", cfg.GetInterChunkDelay())
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm:
  provider: gemini
  model: gemini-2.0-flash
caller:
  timeout: 20s
  max_attempts: 5
mapping:
  confidence_threshold: 80
  prefix_length: 5
store:
  database_path: /tmp/courses.db
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("provider = %q, want gemini", cfg.LLM.Provider)
	}
	if cfg.GetCallerTimeout() != 20*time.Second {
		t.Errorf("caller timeout = %v, want 20s", cfg.GetCallerTimeout())
	}
	if cfg.Caller.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", cfg.Caller.MaxAttempts)
	}
	if cfg.Mapping.ConfidenceThreshold != 80 {
		t.Errorf("confidence threshold = %d, want 80", cfg.Mapping.ConfidenceThreshold)
	}
	// Sections the file omits keep their defaults.
	if cfg.Chunker.TokenBudget != 3000 {
		t.Errorf("token budget = %d, want 3000", cfg.Chunker.TokenBudget)
	}
	if cfg.Store.DatabasePath != "/tmp/courses.db" {
		t.Errorf("database path = %q", cfg.Store.DatabasePath)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm:
  api_key: from-file
store:
  database_path: /tmp/file.db
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COURSEMAP_API_KEY", "from-env")
	t.Setenv("COURSEMAP_DB", "/tmp/env.db")
	t.Setenv("COURSEMAP_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("api key = %q, want from-env", cfg.LLM.APIKey)
	}
	if cfg.Store.DatabasePath != "/tmp/env.db" {
		t.Errorf("database path = %q, want /tmp/env.db", cfg.Store.DatabasePath)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
}

func TestProviderKeyRespectsExplicitConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "openai-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "llm:\n  provider: openai\n  api_key: explicit\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "explicit" {
		t.Errorf("api key = %q, want explicit config to win over provider env", cfg.LLM.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "carrier-pigeon" }, true},
		{"zero attempts", func(c *Config) { c.Caller.MaxAttempts = 0 }, true},
		{"threshold above 100", func(c *Config) { c.Mapping.ConfidenceThreshold = 101 }, true},
		{"zero prefix", func(c *Config) { c.Mapping.PrefixLength = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Mapping.ConfidenceThreshold = 90

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Mapping.ConfidenceThreshold != 90 {
		t.Errorf("round trip threshold = %d, want 90", loaded.Mapping.ConfidenceThreshold)
	}
}
