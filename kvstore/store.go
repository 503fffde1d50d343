// Package kvstore provides the key-value store abstraction backing all
// service configuration and credentials. Keys are path-like
// ("/services/..."), values are opaque bytes; callers serialize. The store
// is the single source of truth for credentials, and credential buckets are
// wrapped with encryption at rest.
package kvstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrKeyNotFound is returned by Get and Delete for missing keys.
var ErrKeyNotFound = errors.New("kvstore: key not found")

// Operation describes a watch event.
type Operation int

// Watch operations.
const (
	OpPut Operation = iota
	OpDelete
)

// Entry is a single watch event or read result.
type Entry struct {
	Key       string
	Value     []byte
	Operation Operation
}

// Store is the configuration and credential persistence contract.
// Implementations may encrypt values at rest; callers must not assume
// plaintext durability beyond this interface.
type Store interface {
	// Connect establishes the backing connection. Idempotent.
	Connect(ctx context.Context) error

	// Disconnect releases the backing connection.
	Disconnect() error

	// Set stores value under key. A positive ttl expires the entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value for key or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Missing keys return ErrKeyNotFound.
	Delete(ctx context.Context, key string) error

	// Watch streams the current value of every key under prefix, then
	// changes, until ctx is done.
	Watch(ctx context.Context, prefix string) (<-chan Entry, error)
}

// Well-known configuration paths consumed by the platform.
const (
	PathConnectorConfig    = "/services/connectors/%s/config"    // per connector type
	PathConnectorSyncPoint = "/services/connectors/%s/syncpoint" // per connector instance
	PathConnectorPresence  = "/services/connectors/%s/presence"  // per connector instance
	PathConnectorCreds     = "/services/connectors/%s/credentials"
	PathToolsetCreds       = "/services/toolsets/%s/%s"          // userID, instanceID
	PathToolsetOAuth       = "/services/oauths/toolsets/%s"      // toolset type
	PathEndpoints          = "/services/endpoints"
	PathSecretKeys         = "/services/secretKeys"
	PathStorage            = "/services/storage"
	PathKafka              = "/services/kafka"
	PathRedis              = "/services/redis"
	PathGraphDB            = "/services/arangodb"
	PathVectorDB           = "/services/qdrant"
	PathAIModels           = "/services/aiModels"
)

// encodeKey maps a path-like key to the JetStream KV key charset.
func encodeKey(path string) string {
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
}

// decodeKey reverses encodeKey.
func decodeKey(key string) string {
	return "/" + strings.ReplaceAll(key, ".", "/")
}
