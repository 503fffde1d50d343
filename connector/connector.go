// Package connector defines the source abstraction and the sync runner
// that pulls items from external systems into the transform pipeline.
// Sources are registered by name through a factory so the event layer can
// instantiate them from configuration alone.
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360studio/semsync/kvstore"
	"github.com/c360studio/semsync/record"
)

// ErrEndOfItems is returned by Iterator.Next when the source is drained.
var ErrEndOfItems = errors.New("connector: end of items")

// Item is one unit of content pulled from a source, carrying everything
// the transform pipeline needs.
type Item struct {
	Record      *record.Record
	FileRecord  *record.FileRecord
	Blocks      record.BlocksContainer
	Permissions []record.Permission

	// Content is the raw source artifact.
	Content []byte

	// SyncPoint is the source cursor positioned after this item. Empty
	// means the source does not support incremental sync.
	SyncPoint string
}

// Iterator walks a source's items in sync order.
type Iterator interface {
	// Next returns the next item, or ErrEndOfItems when drained.
	Next(ctx context.Context) (*Item, error)

	Close() error
}

// Source is a connector implementation for one external system.
type Source interface {
	// Name identifies the connector type (gmail, drive, webpage).
	Name() string

	// Items opens an iterator starting after cursor. An empty cursor
	// means a full sync from the beginning.
	Items(ctx context.Context, cursor string) (Iterator, error)
}

// ConnectionTester is implemented by sources that can probe their
// configuration and credentials before syncs are scheduled.
type ConnectionTester interface {
	TestConnectionAndAccess(ctx context.Context) error
}

// Config is the per-connector configuration held in the KV store.
type Config struct {
	// Enabled gates the connector; a disabled connector syncs nothing.
	Enabled bool `json:"enabled"`

	// AutoIndexOff skips the vector sink for this connector's records.
	AutoIndexOff bool `json:"autoIndexOff,omitempty"`

	// IntervalSeconds is the periodic sync interval; 0 disables
	// scheduled syncs (event-driven only).
	IntervalSeconds int `json:"intervalSeconds,omitempty"`

	// Auth carries connector-specific credential material.
	Auth json.RawMessage `json:"auth,omitempty"`

	// Settings carries connector-specific options.
	Settings json.RawMessage `json:"settings,omitempty"`
}

// Interval returns the sync interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// LoadConfig reads and decodes the connector config from the KV store.
func LoadConfig(ctx context.Context, store kvstore.Store, name string) (*Config, error) {
	raw, err := store.Get(ctx, fmt.Sprintf(kvstore.PathConnectorConfig, name))
	if err != nil {
		return nil, fmt.Errorf("load config for connector %s: %w", name, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config for connector %s: %w", name, err)
	}
	return &cfg, nil
}

// Deps is the dependency bundle handed to source factories.
type Deps struct {
	Store  kvstore.Store
	Logger *slog.Logger
}

// Factory builds a source from its KV config.
type Factory func(cfg *Config, deps Deps) (Source, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a connector type available by name. Registering
// the same name twice panics; connector names are wiring, not data.
func RegisterFactory(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[name]; dup {
		panic("connector: duplicate factory registration for " + name)
	}
	factories[name] = factory
}

// NewSource instantiates the named connector type.
func NewSource(name string, cfg *Config, deps Deps) (Source, error) {
	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("connector: unknown type %q", name)
	}
	return factory(cfg, deps)
}

// RegisteredTypes returns the known connector type names, sorted.
func RegisteredTypes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
