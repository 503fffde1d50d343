// Package messaging provides the topic producer/consumer abstraction used
// for connector events and sink completion notifications. Delivery is
// at-least-once: a handler returning true acknowledges the message, false
// returns it for redelivery, so handlers must be idempotent.
package messaging

import (
	"context"
	"time"
)

// Topics used by the platform.
const (
	// TopicConnectorEvents carries inbound connector lifecycle events.
	TopicConnectorEvents = "connector.events"

	// TopicReconciliation carries outbound sink completion events.
	TopicReconciliation = "connector.reconciliation"

	// TopicCredentialEvents carries user-visible credential status changes.
	TopicCredentialEvents = "connector.credentials"

	// TopicGraphIngest carries entity payloads for the graph store.
	TopicGraphIngest = "graph.ingest.entity"
)

// Message is a single delivery from a topic.
type Message struct {
	Topic string

	// Key partitions messages where partitioning matters; orgId by
	// convention.
	Key string

	Value     []byte
	Timestamp time.Time
}

// Handler processes one message. Returning true acknowledges it; false
// requests redelivery subject to the broker's retry policy.
type Handler func(ctx context.Context, msg Message) bool

// Producer publishes messages to topics.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Consumer subscribes a handler to a topic. Subscribe blocks until ctx is
// cancelled or the subscription fails.
type Consumer interface {
	Subscribe(ctx context.Context, topic string, handler Handler) error
}
