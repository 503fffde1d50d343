package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// headerKey carries the partition key on JetStream messages.
const headerKey = "Semsync-Key"

// NATSConfig configures the JetStream broker client.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string

	// Stream is the JetStream stream holding platform topics.
	Stream string

	// ConsumerPrefix namespaces durable consumer names.
	ConsumerPrefix string

	// FetchBatch is the per-poll batch size. Defaults to 16.
	FetchBatch int

	// FetchMaxWait bounds a single poll. Defaults to 5s.
	FetchMaxWait time.Duration
}

func (c *NATSConfig) withDefaults() NATSConfig {
	out := *c
	if out.Stream == "" {
		out.Stream = "SEMSYNC_EVENTS"
	}
	if out.ConsumerPrefix == "" {
		out.ConsumerPrefix = "semsync"
	}
	if out.FetchBatch <= 0 {
		out.FetchBatch = 16
	}
	if out.FetchMaxWait <= 0 {
		out.FetchMaxWait = 5 * time.Second
	}
	return out
}

// NATS implements Producer and Consumer on a JetStream stream. Topics map
// to stream subjects; each subscription is a durable consumer, so delivery
// is at-least-once with broker-managed redelivery on nak.
type NATS struct {
	cfg    NATSConfig
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewNATS dials NATS and ensures the event stream exists.
func NewNATS(ctx context.Context, cfg NATSConfig, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{"connector.>", "graph.>"},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}

	return &NATS{cfg: cfg, conn: conn, js: js, logger: logger}, nil
}

// Close releases the NATS connection.
func (n *NATS) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

// Publish sends value to topic with the given partition key.
func (n *NATS) Publish(ctx context.Context, topic, key string, value []byte) error {
	msg := &nats.Msg{Subject: topic, Data: value}
	if key != "" {
		msg.Header = nats.Header{headerKey: []string{key}}
	}
	if _, err := n.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes topic with a durable consumer until ctx is done.
func (n *NATS) Subscribe(ctx context.Context, topic string, handler Handler) error {
	durable := n.cfg.ConsumerPrefix + "-" + strings.ReplaceAll(topic, ".", "-")
	consumer, err := n.js.CreateOrUpdateConsumer(ctx, n.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: topic,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", durable, err)
	}

	n.logger.Info("Consumer connected", "stream", n.cfg.Stream, "consumer", durable, "topic", topic)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := consumer.Fetch(n.cfg.FetchBatch, jetstream.FetchMaxWait(n.cfg.FetchMaxWait))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue // Timeout, try again
		}

		for msg := range msgs.Messages() {
			select {
			case <-ctx.Done():
				// NAK the current message so it can be redelivered,
				// then drain the rest of the batch.
				_ = msg.Nak()
				for remaining := range msgs.Messages() {
					_ = remaining.Nak()
				}
				return ctx.Err()
			default:
			}

			delivery := Message{
				Topic:     msg.Subject(),
				Key:       msg.Headers().Get(headerKey),
				Value:     msg.Data(),
				Timestamp: time.Now(),
			}
			if meta, err := msg.Metadata(); err == nil {
				delivery.Timestamp = meta.Timestamp
			}

			if handler(ctx, delivery) {
				_ = msg.Ack()
			} else {
				_ = msg.Nak()
			}
		}
	}
}
