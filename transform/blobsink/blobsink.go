// Package blobsink stores raw record content in a JetStream object store.
// Objects are addressed by virtual record id so records sharing identical
// content across sources converge on one blob, and writes are idempotent
// by content hash.
package blobsink

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semsync/transform"
)

// reconciliationPrefix namespaces reconciliation metadata objects.
const reconciliationPrefix = "reconcile/"

// NATS is a transform.BlobSink backed by a JetStream object store bucket.
type NATS struct {
	store  jetstream.ObjectStore
	logger *slog.Logger
}

// NewNATS opens (or creates) the blob bucket.
func NewNATS(ctx context.Context, conn *nats.Conn, bucket string, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if bucket == "" {
		bucket = "SEMSYNC_BLOBS"
	}
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	store, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "Raw record content addressed by virtual record id",
	})
	if err != nil {
		return nil, fmt.Errorf("create object store %s: %w", bucket, err)
	}
	return &NATS{store: store, logger: logger}, nil
}

// Store implements transform.BlobSink. Failure is fatal for the record.
func (s *NATS) Store(ctx context.Context, tc *transform.Context) error {
	name := BlobName(tc)
	digest := contentDigest(tc.Content)

	// Skip the write when the stored object already carries this content.
	if info, err := s.store.GetInfo(ctx, name); err == nil {
		if info.Headers.Get(digestHeader) == digest {
			return nil
		}
	}

	meta := jetstream.ObjectMeta{Name: name, Headers: nats.Header{digestHeader: []string{digest}}}
	if _, err := s.store.Put(ctx, meta, bytes.NewReader(tc.Content)); err != nil {
		return transform.NewError(transform.KindIndexing, tc.Record.Key,
			fmt.Errorf("store blob %s: %w", name, err)).Retryable()
	}
	return nil
}

// digestHeader carries the content hash used for idempotent writes.
const digestHeader = "Semsync-Content-Sha256"

// StoreReconciliation persists the run's reconciliation metadata for the
// next run's diff.
func (s *NATS) StoreReconciliation(ctx context.Context, recordKey string, rec *transform.Reconciliation) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return transform.NewError(transform.KindIndexing, recordKey, fmt.Errorf("marshal reconciliation: %w", err))
	}
	if _, err := s.store.PutBytes(ctx, reconciliationPrefix+recordKey, raw); err != nil {
		return transform.NewError(transform.KindIndexing, recordKey,
			fmt.Errorf("store reconciliation: %w", err)).Retryable()
	}
	return nil
}

// LoadReconciliation returns the previous run's metadata, or nil when the
// record has never been reconciled.
func (s *NATS) LoadReconciliation(ctx context.Context, recordKey string) (*transform.Reconciliation, error) {
	raw, err := s.store.GetBytes(ctx, reconciliationPrefix+recordKey)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load reconciliation for %s: %w", recordKey, err)
	}
	var rec transform.Reconciliation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode reconciliation for %s: %w", recordKey, err)
	}
	return &rec, nil
}

// BlobName resolves the object name for a transform context: the virtual
// record id when set, otherwise the content hash.
func BlobName(tc *transform.Context) string {
	if tc.Record.VirtualRecordID != "" {
		return tc.Record.VirtualRecordID
	}
	return contentDigest(tc.Content)
}

func contentDigest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
