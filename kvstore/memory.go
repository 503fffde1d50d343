package kvstore

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and as a fallback when no
// NATS server is configured.
type Memory struct {
	mu       sync.RWMutex
	data     map[string]memoryEntry
	watchers []*memoryWatcher
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type memoryWatcher struct {
	prefix string
	ch     chan Entry
	done   <-chan struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]memoryEntry)}
}

// Connect is a no-op.
func (m *Memory) Connect(_ context.Context) error { return nil }

// Disconnect is a no-op.
func (m *Memory) Disconnect() error { return nil }

// Set stores value under key.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.data[key] = entry
	m.notify(Entry{Key: key, Value: entry.value, Operation: OpPut})
	m.mu.Unlock()
	return nil
}

// Get returns the value for key, honoring TTL expiry.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return ErrKeyNotFound
	}
	delete(m.data, key)
	m.notify(Entry{Key: key, Operation: OpDelete})
	return nil
}

// Watch streams the current value of every key under prefix, then
// changes, until ctx is done.
func (m *Memory) Watch(ctx context.Context, prefix string) (<-chan Entry, error) {
	m.mu.Lock()
	now := time.Now()
	var initial []Entry
	for key, entry := range m.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			continue
		}
		initial = append(initial, Entry{Key: key, Value: append([]byte(nil), entry.value...), Operation: OpPut})
	}
	// Initial entries are buffered before the watcher registers, so no
	// update can be delivered ahead of the value it supersedes.
	w := &memoryWatcher{prefix: prefix, ch: make(chan Entry, len(initial)+16), done: ctx.Done()}
	for _, entry := range initial {
		w.ch <- entry
	}
	m.watchers = append(m.watchers, w)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, watcher := range m.watchers {
			if watcher == w {
				m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(w.ch)
	}()
	return w.ch, nil
}

// notify fans an event out to matching watchers. Callers hold m.mu.
func (m *Memory) notify(entry Entry) {
	for _, w := range m.watchers {
		if !strings.HasPrefix(entry.Key, w.prefix) {
			continue
		}
		select {
		case w.ch <- entry:
		case <-w.done:
		default:
			// Slow watchers drop events rather than blocking writers.
		}
	}
}
