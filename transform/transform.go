// Package transform applies each record produced by a connector to the
// sink chain in fixed order: blob storage, vector index, reconciliation
// metadata, graph store. The order is deliberate and not configurable:
// blob is the authoritative content artifact, vector is the derived index
// and graph is the relational facade; each later stage depends on the
// invariants of the earlier one.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/semsync/record"
)

// Settings carries per-run transform options.
type Settings struct {
	// SkipVector disables the vector sink (AUTO_INDEX_OFF connectors).
	SkipVector bool
}

// Reconciliation carries the diff between the previously stored blob
// metadata and the newly observed metadata. Sinks may use it to skip work.
type Reconciliation struct {
	// PreviousContentHash is the content hash seen on the last run.
	PreviousContentHash string `json:"previous_content_hash,omitempty"`

	// ContentHash is the hash observed this run.
	ContentHash string `json:"content_hash"`

	// PreviousRevisionID is the external revision seen on the last run.
	PreviousRevisionID string `json:"previous_revision_id,omitempty"`

	// RevisionID is the external revision observed this run; it becomes
	// PreviousRevisionID on the next run.
	RevisionID string `json:"revision_id,omitempty"`
}

// Unchanged reports whether the record content is identical to the
// previous run.
func (r *Reconciliation) Unchanged() bool {
	return r != nil && r.PreviousContentHash != "" && r.PreviousContentHash == r.ContentHash
}

// Context is the unit of work flowing through the sink chain.
type Context struct {
	Record      *record.Record
	FileRecord  *record.FileRecord
	Blocks      record.BlocksContainer
	Permissions []record.Permission

	// Content is the raw source artifact persisted by the blob sink.
	Content []byte

	Settings       Settings
	Reconciliation *Reconciliation
}

// BlobSink stores raw content addressed by virtual record id.
type BlobSink interface {
	Store(ctx context.Context, tc *Context) error
	StoreReconciliation(ctx context.Context, recordKey string, rec *Reconciliation) error
}

// VectorSink chunks, embeds and upserts record content under the record's
// namespace.
type VectorSink interface {
	Index(ctx context.Context, tc *Context) error
}

// GraphSink upserts the record, its subtype, edges and permissions as one
// atomic entity payload.
type GraphSink interface {
	Upsert(ctx context.Context, tc *Context) error
}

// Orchestrator drives the fixed sink order for each record.
type Orchestrator struct {
	blob   BlobSink
	vector VectorSink
	graph  GraphSink
	logger *slog.Logger
}

// NewOrchestrator wires the three sinks.
func NewOrchestrator(blob BlobSink, vector VectorSink, graph GraphSink, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{blob: blob, vector: vector, graph: graph, logger: logger}
}

// Apply runs the sink chain for one record. On success the record leaves
// with indexingStatus COMPLETED. A blob failure is fatal for the record; a
// vector failure aborts the remaining sinks and marks the record FAILED
// while the earlier blob write is retained. A FAILED status travels only
// in memory and in the run report: the graph keeps the last version that
// published successfully.
func (o *Orchestrator) Apply(ctx context.Context, tc *Context) error {
	if tc.Record == nil {
		return fmt.Errorf("transform: record is required")
	}
	if err := tc.Record.Validate(); err != nil {
		return NewError(KindIndexing, tc.Record.Key, err)
	}

	// A completed record with an unchanged revision is never re-indexed.
	if tc.Record.IndexingStatus == record.StatusCompleted &&
		tc.Reconciliation != nil &&
		tc.Reconciliation.PreviousRevisionID == tc.Record.ExternalRevisionID {
		o.logger.Debug("Record unchanged, skipping transform", "record", tc.Record.Key)
		return nil
	}

	tc.Record.IndexingStatus = record.StatusInProgress
	start := time.Now()

	if err := o.blob.Store(ctx, tc); err != nil {
		tc.Record.IndexingStatus = record.StatusFailed
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	skipVector := tc.Settings.SkipVector || tc.Reconciliation.Unchanged()
	if tc.Settings.SkipVector {
		tc.Record.IndexingStatus = record.StatusAutoIndexOff
	}
	if !skipVector {
		if err := o.vector.Index(ctx, tc); err != nil {
			// Blob write retained; graph never sees this record version.
			tc.Record.IndexingStatus = record.StatusFailed
			return err
		}
	}

	if tc.Reconciliation != nil {
		if err := o.blob.StoreReconciliation(ctx, tc.Record.Key, tc.Reconciliation); err != nil {
			tc.Record.IndexingStatus = record.StatusFailed
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := o.graph.Upsert(ctx, tc); err != nil {
		tc.Record.IndexingStatus = record.StatusFailed
		return err
	}

	if tc.Record.IndexingStatus == record.StatusInProgress {
		tc.Record.IndexingStatus = record.StatusCompleted
	}
	o.logger.Debug("Record transformed",
		"record", tc.Record.Key,
		"status", tc.Record.IndexingStatus,
		"duration", time.Since(start))
	return nil
}
