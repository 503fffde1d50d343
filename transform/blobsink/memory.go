package blobsink

import (
	"context"
	"sync"

	"github.com/c360studio/semsync/transform"
)

// Memory is an in-process BlobSink for tests and NATS-less deployments.
type Memory struct {
	mu       sync.RWMutex
	blobs    map[string][]byte
	metadata map[string]*transform.Reconciliation
}

// NewMemory creates an empty in-memory blob sink.
func NewMemory() *Memory {
	return &Memory{
		blobs:    make(map[string][]byte),
		metadata: make(map[string]*transform.Reconciliation),
	}
}

// Store implements transform.BlobSink.
func (m *Memory) Store(_ context.Context, tc *transform.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[BlobName(tc)] = append([]byte(nil), tc.Content...)
	return nil
}

// StoreReconciliation implements transform.BlobSink.
func (m *Memory) StoreReconciliation(_ context.Context, recordKey string, rec *transform.Reconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *rec
	m.metadata[recordKey] = &copied
	return nil
}

// LoadReconciliation returns the stored metadata for recordKey, or nil.
func (m *Memory) LoadReconciliation(_ context.Context, recordKey string) (*transform.Reconciliation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadata[recordKey], nil
}

// Get returns the stored blob for name.
func (m *Memory) Get(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[name]
	return b, ok
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
