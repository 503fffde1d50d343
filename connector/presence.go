package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/c360studio/semsync/kvstore"
)

// presenceEntry tracks one known record between runs. Missed counts
// consecutive runs where the source no longer returned the record; after
// enough misses the record is purged from the sinks.
type presenceEntry struct {
	OrgKey string `json:"orgId"`
	Missed int    `json:"missed"`
}

// presenceStore persists the known-record set per connector instance.
type presenceStore struct {
	store kvstore.Store
}

func (s *presenceStore) load(ctx context.Context, instance string) (map[string]*presenceEntry, error) {
	raw, err := s.store.Get(ctx, fmt.Sprintf(kvstore.PathConnectorPresence, instance))
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return make(map[string]*presenceEntry), nil
		}
		return nil, fmt.Errorf("load presence for %s: %w", instance, err)
	}
	var entries map[string]*presenceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode presence for %s: %w", instance, err)
	}
	if entries == nil {
		entries = make(map[string]*presenceEntry)
	}
	return entries, nil
}

func (s *presenceStore) save(ctx context.Context, instance string, entries map[string]*presenceEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal presence for %s: %w", instance, err)
	}
	if err := s.store.Set(ctx, fmt.Sprintf(kvstore.PathConnectorPresence, instance), raw, 0); err != nil {
		return fmt.Errorf("save presence for %s: %w", instance, err)
	}
	return nil
}
