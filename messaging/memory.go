package messaging

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process broker implementing Producer and Consumer for
// tests. It mimics at-least-once delivery: a handler returning false gets
// the message redelivered up to MaxDeliveries times.
type Memory struct {
	// MaxDeliveries bounds redelivery attempts per message. Defaults to 3.
	MaxDeliveries int

	mu     sync.Mutex
	queues map[string]chan Message
}

// NewMemory creates an in-process broker.
func NewMemory() *Memory {
	return &Memory{MaxDeliveries: 3, queues: make(map[string]chan Message)}
}

func (m *Memory) queue(topic string) chan Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[topic]
	if !ok {
		q = make(chan Message, 128)
		m.queues[topic] = q
	}
	return q
}

// Publish enqueues value on topic.
func (m *Memory) Publish(_ context.Context, topic, key string, value []byte) error {
	m.queue(topic) <- Message{Topic: topic, Key: key, Value: append([]byte(nil), value...), Timestamp: time.Now()}
	return nil
}

// Subscribe delivers topic messages to handler until ctx is done.
func (m *Memory) Subscribe(ctx context.Context, topic string, handler Handler) error {
	q := m.queue(topic)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q:
			for attempt := 0; attempt < m.maxDeliveries(); attempt++ {
				if handler(ctx, msg) {
					break
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
		}
	}
}

func (m *Memory) maxDeliveries() int {
	if m.MaxDeliveries <= 0 {
		return 3
	}
	return m.MaxDeliveries
}
