// Package graphsink publishes record entities to the graph store. The
// record, its file subtype, the is_of_type edge and the permission set
// travel in a single entity payload so the graph never observes a record
// without its relationships. Every document is schema-validated before
// anything is published.
package graphsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/semsync/messaging"
	"github.com/c360studio/semsync/record"
	"github.com/c360studio/semsync/schema"
	"github.com/c360studio/semsync/transform"
)

// Event types carried in entity payloads.
const (
	EventUpsert = "record.upsert"
	EventDelete = "record.delete"
)

// EntityPayload is the message format for graph ingestion.
type EntityPayload struct {
	ID          string           `json:"id"`
	Event       string           `json:"event"`
	Record      map[string]any   `json:"record,omitempty"`
	FileRecord  map[string]any   `json:"fileRecord,omitempty"`
	Edges       []record.Edge    `json:"edges,omitempty"`
	Permissions []map[string]any `json:"permissions,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Sink implements transform.GraphSink by validating documents and
// publishing one entity payload per record.
type Sink struct {
	validator *schema.Validator
	producer  messaging.Producer
	logger    *slog.Logger
}

// New wires the validator and producer.
func New(validator *schema.Validator, producer messaging.Producer, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{validator: validator, producer: producer, logger: logger}
}

// Upsert implements transform.GraphSink. A validation failure rejects the
// whole payload before any publish, so a partial entity is never visible.
func (s *Sink) Upsert(ctx context.Context, tc *transform.Context) error {
	key := tc.Record.Key
	now := time.Now()

	recordDoc, err := toDocument(tc.Record)
	if err != nil {
		return transform.NewError(transform.KindIndexing, key, err)
	}
	if err := s.validator.ValidateFull("records", recordDoc); err != nil {
		return transform.NewError(transform.KindIndexing, key, err)
	}

	payload := EntityPayload{
		ID:        key,
		Event:     EventUpsert,
		Record:    recordDoc,
		UpdatedAt: now,
	}

	if tc.FileRecord != nil {
		fileDoc, err := toDocument(tc.FileRecord)
		if err != nil {
			return transform.NewError(transform.KindIndexing, key, err)
		}
		if err := s.validator.ValidateFull("fileRecords", fileDoc); err != nil {
			return transform.NewError(transform.KindIndexing, key, err)
		}
		payload.FileRecord = fileDoc
		payload.Edges = append(payload.Edges, record.NewIsOfTypeEdge(key, tc.FileRecord.Key, now))
	}

	for i := range tc.Permissions {
		permDoc, err := toDocument(&tc.Permissions[i])
		if err != nil {
			return transform.NewError(transform.KindIndexing, key, err)
		}
		if err := s.validator.ValidateFull("permissions", permDoc); err != nil {
			return transform.NewError(transform.KindIndexing, key, err)
		}
		payload.Permissions = append(payload.Permissions, permDoc)
	}

	if err := s.publish(ctx, tc.Record.OrgKey, payload); err != nil {
		return transform.NewError(transform.KindIndexing, key, err).Retryable()
	}
	s.logger.Debug("Entity published", "record", key, "edges", len(payload.Edges), "permissions", len(payload.Permissions))
	return nil
}

// Remove publishes a delete event for a purged record.
func (s *Sink) Remove(ctx context.Context, orgID, recordKey string) error {
	payload := EntityPayload{ID: recordKey, Event: EventDelete, UpdatedAt: time.Now()}
	if err := s.publish(ctx, orgID, payload); err != nil {
		return fmt.Errorf("publish delete for %s: %w", recordKey, err)
	}
	return nil
}

func (s *Sink) publish(ctx context.Context, key string, payload EntityPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal entity payload: %w", err)
	}
	return s.producer.Publish(ctx, messaging.TopicGraphIngest, key, data)
}

// toDocument converts a JSON-tagged struct into the map form the schema
// validator operates on.
func toDocument(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
