// Package cache provides the multi-level result caches used by the agent
// runtime: one for LLM completions, one for tool results and one for
// retrieval results. Each cache is an LRU bounded by entry count with a
// per-entry TTL and hit-rate telemetry.
package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a single LRU+TTL cache. Expired entries are dropped on access
// before they can affect LRU order; inserts at capacity evict the least
// recently used entry.
type Cache struct {
	name    string
	maxSize int
	ttl     time.Duration

	mu        sync.Mutex
	entries   *lru.Cache[string, entry]
	hits      uint64
	misses    uint64
	evictions uint64
	lookups   uint64
}

type entry struct {
	value      any
	insertedAt time.Time
	expiresAt  time.Time
}

// Stats is a point-in-time snapshot of cache telemetry.
type Stats struct {
	Name           string  `json:"name"`
	Size           int     `json:"size"`
	MaxSize        int     `json:"max_size"`
	Hits           uint64  `json:"hits"`
	Misses         uint64  `json:"misses"`
	Evictions      uint64  `json:"evictions"`
	HitRatePercent float64 `json:"hit_rate_percent"`
}

// New creates a cache bounded to maxSize entries with the given TTL.
func New(name string, maxSize int, ttl time.Duration) (*Cache, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("cache %s: max size must be positive, got %d", name, maxSize)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache %s: ttl must be positive, got %v", name, ttl)
	}
	entries, err := lru.New[string, entry](maxSize)
	if err != nil {
		return nil, fmt.Errorf("cache %s: %w", name, err)
	}
	return &Cache{name: name, maxSize: maxSize, ttl: ttl, entries: entries}, nil
}

// Get returns the cached value for key and whether it was a hit.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++

	// Peek first so an expired entry never gains recency from this lookup.
	e, ok := c.entries.Peek(key)
	if ok && time.Now().After(e.expiresAt) {
		c.entries.Remove(key)
		ok = false
	}
	if !ok {
		c.misses++
		return nil, false
	}

	// Promote on genuine hit.
	c.entries.Get(key)
	c.hits++
	return e.value, true
}

// Put stores value under key, evicting the LRU entry at capacity.
func (c *Cache) Put(key string, value any) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if evicted := c.entries.Add(key, entry{value: value, insertedAt: now, expiresAt: now.Add(c.ttl)}); evicted {
		c.evictions++
	}
}

// Invalidate removes key if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key)
}

// Clear drops every entry. Counters are retained.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// ClearExpired removes every expired entry and returns how many it dropped.
func (c *Cache) ClearExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var dropped int
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && now.After(e.expiresAt) {
			c.entries.Remove(key)
			dropped++
		}
	}
	return dropped
}

// Stats returns a telemetry snapshot.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Name:      c.name,
		Size:      c.entries.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRatePercent = float64(c.hits) / float64(total) * 100
	}
	return s
}

// Health heuristic thresholds. Findings are reported, never auto-applied.
const (
	healthMinLookups     = 100
	healthLowHitRate     = 30.0
	healthHighPressure   = 0.9
	healthLowHitRateMsg  = "low hit rate"
	healthHighPressMsg   = "high pressure"
)

// Health returns heuristic findings for this cache, empty when healthy.
func (c *Cache) Health() []string {
	s := c.Stats()
	c.mu.Lock()
	lookups := c.lookups
	c.mu.Unlock()

	var findings []string
	if lookups >= healthMinLookups && s.HitRatePercent < healthLowHitRate {
		findings = append(findings, fmt.Sprintf("%s: %s (%.1f%% over %d lookups)", c.name, healthLowHitRateMsg, s.HitRatePercent, lookups))
	}
	if float64(s.Size) > float64(s.MaxSize)*healthHighPressure {
		findings = append(findings, fmt.Sprintf("%s: %s (%d/%d entries)", c.name, healthHighPressMsg, s.Size, s.MaxSize))
	}
	return findings
}
