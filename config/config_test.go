package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL nats://localhost:4222, got %s", cfg.NATS.URL)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("expected default base URL http://localhost:11434/v1, got %s", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("expected default temperature 0.2, got %f", cfg.LLM.Temperature)
	}
	if cfg.Vector.Collection != "record_blocks" {
		t.Errorf("expected default collection record_blocks, got %s", cfg.Vector.Collection)
	}
	if cfg.Cache.Tool.MaxSize == 0 {
		t.Error("expected default tool cache sizing")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing NATS URL",
			modify:  func(c *Config) { c.NATS.URL = "" },
			wantErr: true,
		},
		{
			name:    "missing LLM base URL",
			modify:  func(c *Config) { c.LLM.BaseURL = "" },
			wantErr: true,
		},
		{
			name:    "missing model",
			modify:  func(c *Config) { c.LLM.Model = "" },
			wantErr: true,
		},
		{
			name:    "temperature too low",
			modify:  func(c *Config) { c.LLM.Temperature = -0.1 },
			wantErr: true,
		},
		{
			name:    "temperature too high",
			modify:  func(c *Config) { c.LLM.Temperature = 1.1 },
			wantErr: true,
		},
		{
			name:    "similarity out of range",
			modify:  func(c *Config) { c.Vector.MinSimilarity = 1.5 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temp file with config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
nats:
  url: "nats://test:4222"
  stream: "TEST_EVENTS"
llm:
  base_url: "http://test:1234/v1"
  model: "test-model"
  temperature: 0.5
cache:
  tool:
    max_size: 64
    ttl: 2m
vector:
  persist_path: "/var/lib/semsync/index"
  top_k: 8
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if cfg.NATS.Stream != "TEST_EVENTS" {
		t.Errorf("expected stream TEST_EVENTS, got %s", cfg.NATS.Stream)
	}
	if cfg.LLM.Model != "test-model" {
		t.Errorf("expected model test-model, got %s", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.5 {
		t.Errorf("expected temperature 0.5, got %f", cfg.LLM.Temperature)
	}
	if cfg.Cache.Tool.MaxSize != 64 {
		t.Errorf("expected tool cache size 64, got %d", cfg.Cache.Tool.MaxSize)
	}
	if cfg.Cache.Tool.TTL != 2*time.Minute {
		t.Errorf("expected tool cache TTL 2m, got %v", cfg.Cache.Tool.TTL)
	}
	if cfg.Vector.TopK != 8 {
		t.Errorf("expected top_k 8, got %d", cfg.Vector.TopK)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		LLM: LLMConfig{
			Model: "override-model",
		},
		Vector: VectorConfig{
			PersistPath: "/override/index",
		},
	}

	base.Merge(override)

	if base.LLM.Model != "override-model" {
		t.Errorf("expected model override-model, got %s", base.LLM.Model)
	}
	// Base URL should remain from base since override didn't set it
	if base.LLM.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("expected base URL to remain default, got %s", base.LLM.BaseURL)
	}
	if base.Vector.PersistPath != "/override/index" {
		t.Errorf("expected persist path /override/index, got %s", base.Vector.PersistPath)
	}
	if base.Vector.Collection != "record_blocks" {
		t.Errorf("expected collection to remain default, got %s", base.Vector.Collection)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Model = "saved-model"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Verify file was created
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	// Load and verify
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.LLM.Model != "saved-model" {
		t.Errorf("expected model saved-model, got %s", loaded.LLM.Model)
	}
}

func TestLoaderEnvOverride(t *testing.T) {
	t.Setenv(APIKeyEnv, "sk-from-env")

	// Run from a directory with no project config.
	tmpDir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)

	cfg, err := NewLoader(nil).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Errorf("expected API key from environment, got %q", cfg.LLM.APIKey)
	}
}
