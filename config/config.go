// Package config provides configuration loading and management for Semsync.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semsync/cache"
)

// Config represents the complete Semsync configuration
type Config struct {
	NATS   NATSConfig          `yaml:"nats"`
	LLM    LLMConfig           `yaml:"llm"`
	Cache  cache.ManagerConfig `yaml:"cache"`
	Vector VectorConfig        `yaml:"vector"`
	Creds  CredsConfig         `yaml:"credentials"`
}

// NATSConfig configures the NATS connection shared by the KV store, the
// event stream and the blob store.
type NATSConfig struct {
	// URL is the NATS server URL (default: nats://localhost:4222)
	URL string `yaml:"url"`
	// KVBucket is the JetStream KV bucket for service configuration
	KVBucket string `yaml:"kv_bucket"`
	// BlobBucket is the object-store bucket for record content
	BlobBucket string `yaml:"blob_bucket"`
	// Stream is the JetStream stream carrying connector and graph events
	Stream string `yaml:"stream"`
}

// LLMConfig configures the chat-completion endpoint
type LLMConfig struct {
	// BaseURL is the OpenAI-compatible API root (default: http://localhost:11434/v1)
	BaseURL string `yaml:"base_url"`
	// APIKey authenticates requests; the SEMSYNC_LLM_API_KEY environment
	// variable takes precedence over the file value
	APIKey string `yaml:"api_key"`
	// Model is the model name sent with each request
	Model string `yaml:"model"`
	// Temperature controls randomness (0.0-1.0, default: 0.2)
	Temperature float64 `yaml:"temperature"`
}

// VectorConfig configures the vector index and retrieval
type VectorConfig struct {
	// PersistPath is the on-disk index location (empty = in-memory)
	PersistPath string `yaml:"persist_path"`
	// Collection is the index collection name
	Collection string `yaml:"collection"`
	// TopK is the number of blocks returned per retrieval query
	TopK int `yaml:"top_k"`
	// MinSimilarity filters weak retrieval matches (0.0-1.0)
	MinSimilarity float32 `yaml:"min_similarity"`
}

// CredsConfig configures credential storage
type CredsConfig struct {
	// KeyFile holds the 32-byte AES key sealing credentials at rest;
	// empty disables encryption (tests and local development only)
	KeyFile string `yaml:"key_file"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:        "nats://localhost:4222",
			KVBucket:   "SEMSYNC_CONFIG",
			BlobBucket: "SEMSYNC_BLOBS",
			Stream:     "SEMSYNC_EVENTS",
		},
		LLM: LLMConfig{
			BaseURL:     "http://localhost:11434/v1",
			Model:       "qwen2.5:32b",
			Temperature: 0.2,
		},
		Cache: cache.DefaultManagerConfig(),
		Vector: VectorConfig{
			Collection:    "record_blocks",
			TopK:          5,
			MinSimilarity: 0.5,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("llm.temperature must be between 0 and 1")
	}
	if c.Vector.MinSimilarity < 0 || c.Vector.MinSimilarity > 1 {
		return fmt.Errorf("vector.min_similarity must be between 0 and 1")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.KVBucket != "" {
		c.NATS.KVBucket = other.NATS.KVBucket
	}
	if other.NATS.BlobBucket != "" {
		c.NATS.BlobBucket = other.NATS.BlobBucket
	}
	if other.NATS.Stream != "" {
		c.NATS.Stream = other.NATS.Stream
	}

	// LLM
	if other.LLM.BaseURL != "" {
		c.LLM.BaseURL = other.LLM.BaseURL
	}
	if other.LLM.APIKey != "" {
		c.LLM.APIKey = other.LLM.APIKey
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}

	// Cache
	mergeCache := func(dst *cache.Config, src cache.Config) {
		if src.MaxSize != 0 {
			dst.MaxSize = src.MaxSize
		}
		if src.TTL != 0 {
			dst.TTL = src.TTL
		}
	}
	mergeCache(&c.Cache.LLM, other.Cache.LLM)
	mergeCache(&c.Cache.Tool, other.Cache.Tool)
	mergeCache(&c.Cache.Retrieval, other.Cache.Retrieval)

	// Vector
	if other.Vector.PersistPath != "" {
		c.Vector.PersistPath = other.Vector.PersistPath
	}
	if other.Vector.Collection != "" {
		c.Vector.Collection = other.Vector.Collection
	}
	if other.Vector.TopK != 0 {
		c.Vector.TopK = other.Vector.TopK
	}
	if other.Vector.MinSimilarity != 0 {
		c.Vector.MinSimilarity = other.Vector.MinSimilarity
	}

	// Credentials
	if other.Creds.KeyFile != "" {
		c.Creds.KeyFile = other.Creds.KeyFile
	}
}
