package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the JetStream KV bucket holding service configuration.
const DefaultBucket = "SEMSYNC_CONFIG"

// NATSConfig configures the JetStream-backed store.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string

	// Bucket is the KV bucket name. Defaults to DefaultBucket.
	Bucket string

	// Description is stored on the bucket when it is created.
	Description string
}

// NATS is a Store backed by a JetStream key-value bucket.
type NATS struct {
	cfg    NATSConfig
	logger *slog.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	bucket jetstream.KeyValue
}

// NewNATS creates a JetStream-backed store. Connect must be called before
// any other operation.
func NewNATS(cfg NATSConfig, logger *slog.Logger) *NATS {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{cfg: cfg, logger: logger}
}

// Connect dials NATS and creates or opens the KV bucket. Idempotent.
func (s *NATS) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucket != nil {
		return nil
	}

	conn, err := nats.Connect(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}

	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      s.cfg.Bucket,
		Description: s.cfg.Description,
		History:     1,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("create KV bucket %s: %w", s.cfg.Bucket, err)
	}

	s.conn = conn
	s.bucket = bucket
	s.logger.Info("KV store connected", "bucket", s.cfg.Bucket)
	return nil
}

// Disconnect closes the NATS connection.
func (s *NATS) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.bucket = nil
	}
	return nil
}

func (s *NATS) kv() (jetstream.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucket == nil {
		return nil, fmt.Errorf("kvstore: not connected")
	}
	return s.bucket, nil
}

// Set stores value under key. A positive ttl is applied per key.
func (s *NATS) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	kv, err := s.kv()
	if err != nil {
		return err
	}
	k := encodeKey(key)
	if ttl > 0 {
		// Per-key TTLs only apply on create, so replace the key.
		if err := kv.Purge(ctx, k); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("purge %s: %w", key, err)
		}
		if _, err := kv.Create(ctx, k, value, jetstream.KeyTTL(ttl)); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		return nil
	}
	if _, err := kv.Put(ctx, k, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get returns the value for key.
func (s *NATS) Get(ctx context.Context, key string) ([]byte, error) {
	kv, err := s.kv()
	if err != nil {
		return nil, err
	}
	entry, err := kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return entry.Value(), nil
}

// Delete removes key.
func (s *NATS) Delete(ctx context.Context, key string) error {
	kv, err := s.kv()
	if err != nil {
		return err
	}
	if err := kv.Delete(ctx, encodeKey(key)); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Watch streams the current value of every key under prefix, then
// changes, until ctx is done. The nil marker JetStream sends after the
// initial values is skipped.
func (s *NATS) Watch(ctx context.Context, prefix string) (<-chan Entry, error) {
	kv, err := s.kv()
	if err != nil {
		return nil, err
	}

	pattern := encodeKey(prefix) + ".>"
	watcher, err := kv.Watch(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", prefix, err)
	}

	out := make(chan Entry, 16)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if update == nil {
					continue
				}
				entry := Entry{Key: decodeKey(update.Key()), Value: update.Value()}
				if update.Operation() != jetstream.KeyValuePut {
					entry.Operation = OpDelete
					entry.Value = nil
				}
				select {
				case out <- entry:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
