package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/semsync/kvstore"
)

// SyncPoint is the durable cursor for one connector instance. Epoch
// increments on resync, invalidating the cursor so the next run starts
// from the beginning while record presence state survives.
type SyncPoint struct {
	Cursor    string    `json:"cursor,omitempty"`
	Epoch     int       `json:"epoch"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SyncPointStore persists sync points in the KV store.
type SyncPointStore struct {
	store kvstore.Store
}

// NewSyncPointStore wraps store.
func NewSyncPointStore(store kvstore.Store) *SyncPointStore {
	return &SyncPointStore{store: store}
}

// Load returns the sync point for instance, or a zero sync point when
// the instance has never synced.
func (s *SyncPointStore) Load(ctx context.Context, instance string) (*SyncPoint, error) {
	raw, err := s.store.Get(ctx, s.path(instance))
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return &SyncPoint{}, nil
		}
		return nil, fmt.Errorf("load sync point for %s: %w", instance, err)
	}
	var sp SyncPoint
	if err := json.Unmarshal(raw, &sp); err != nil {
		return nil, fmt.Errorf("decode sync point for %s: %w", instance, err)
	}
	return &sp, nil
}

// Save persists sp for instance.
func (s *SyncPointStore) Save(ctx context.Context, instance string, sp *SyncPoint) error {
	sp.UpdatedAt = time.Now()
	raw, err := json.Marshal(sp)
	if err != nil {
		return fmt.Errorf("marshal sync point for %s: %w", instance, err)
	}
	if err := s.store.Set(ctx, s.path(instance), raw, 0); err != nil {
		return fmt.Errorf("save sync point for %s: %w", instance, err)
	}
	return nil
}

// BumpEpoch clears the cursor and increments the epoch, forcing the next
// run to re-enumerate the source from the beginning.
func (s *SyncPointStore) BumpEpoch(ctx context.Context, instance string) (*SyncPoint, error) {
	sp, err := s.Load(ctx, instance)
	if err != nil {
		return nil, err
	}
	sp.Cursor = ""
	sp.Epoch++
	if err := s.Save(ctx, instance, sp); err != nil {
		return nil, err
	}
	return sp, nil
}

func (s *SyncPointStore) path(instance string) string {
	return fmt.Sprintf(kvstore.PathConnectorSyncPoint, instance)
}
