package cache

import (
	"fmt"
	"time"
)

// Cache names.
const (
	LLMCache       = "llm_cache"
	ToolCache      = "tool_cache"
	RetrievalCache = "retrieval_cache"
)

// Config sizes one cache.
type Config struct {
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// ManagerConfig sizes the three caches.
type ManagerConfig struct {
	LLM       Config `yaml:"llm"`
	Tool      Config `yaml:"tool"`
	Retrieval Config `yaml:"retrieval"`
}

// DefaultManagerConfig returns production cache sizing.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		LLM:       Config{MaxSize: 512, TTL: 30 * time.Minute},
		Tool:      Config{MaxSize: 1024, TTL: 5 * time.Minute},
		Retrieval: Config{MaxSize: 256, TTL: 10 * time.Minute},
	}
}

// Manager owns the three independent caches and exposes aggregate
// telemetry. It is constructed once at process start and passed down; there
// is no global instance.
type Manager struct {
	llm       *Cache
	tool      *Cache
	retrieval *Cache
}

// NewManager builds the three caches from cfg, applying defaults for
// zero-valued sections.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	defaults := DefaultManagerConfig()
	if cfg.LLM.MaxSize == 0 {
		cfg.LLM = defaults.LLM
	}
	if cfg.Tool.MaxSize == 0 {
		cfg.Tool = defaults.Tool
	}
	if cfg.Retrieval.MaxSize == 0 {
		cfg.Retrieval = defaults.Retrieval
	}

	llm, err := New(LLMCache, cfg.LLM.MaxSize, cfg.LLM.TTL)
	if err != nil {
		return nil, fmt.Errorf("create llm cache: %w", err)
	}
	tool, err := New(ToolCache, cfg.Tool.MaxSize, cfg.Tool.TTL)
	if err != nil {
		return nil, fmt.Errorf("create tool cache: %w", err)
	}
	retrieval, err := New(RetrievalCache, cfg.Retrieval.MaxSize, cfg.Retrieval.TTL)
	if err != nil {
		return nil, fmt.Errorf("create retrieval cache: %w", err)
	}
	return &Manager{llm: llm, tool: tool, retrieval: retrieval}, nil
}

// LLM returns the LLM completion cache.
func (m *Manager) LLM() *Cache { return m.llm }

// Tool returns the tool result cache.
func (m *Manager) Tool() *Cache { return m.tool }

// Retrieval returns the retrieval result cache.
func (m *Manager) Retrieval() *Cache { return m.retrieval }

// Stats returns per-cache snapshots keyed by cache name.
func (m *Manager) Stats() map[string]Stats {
	return map[string]Stats{
		LLMCache:       m.llm.Stats(),
		ToolCache:      m.tool.Stats(),
		RetrievalCache: m.retrieval.Stats(),
	}
}

// ClearExpired sweeps all caches and returns the total dropped entries.
func (m *Manager) ClearExpired() int {
	return m.llm.ClearExpired() + m.tool.ClearExpired() + m.retrieval.ClearExpired()
}

// Health aggregates heuristic findings across all caches.
func (m *Manager) Health() []string {
	var findings []string
	findings = append(findings, m.llm.Health()...)
	findings = append(findings, m.tool.Health()...)
	findings = append(findings, m.retrieval.Health()...)
	return findings
}
