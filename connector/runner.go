package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/c360studio/semsync/kvstore"
	"github.com/c360studio/semsync/messaging"
	"github.com/c360studio/semsync/transform"
)

const (
	// maxItemRetries bounds transient-failure retries per item.
	maxItemRetries = 5

	// purgeAfterMissedRuns is how many consecutive runs a record must be
	// absent from the source before its derived data is purged.
	purgeAfterMissedRuns = 2
)

// Run outcomes reported on the reconciliation topic.
const (
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunFailed    = "failed"
	RunSkipped   = "skipped"
	RunCancelled = "cancelled"
)

// Report summarizes one sync run. It is published to the reconciliation
// topic when the run ends, however it ends.
type Report struct {
	Connector  string    `json:"connector"`
	Status     string    `json:"status"`
	Total      int       `json:"total"`
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	Purged     int       `json:"purged"`
	SyncPoint  string    `json:"syncPoint,omitempty"`
	Epoch      int       `json:"epoch"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Error      string    `json:"error,omitempty"`
}

// VectorRemover purges a record's documents from the vector index.
type VectorRemover interface {
	Remove(ctx context.Context, recordKey string) error
}

// GraphRemover publishes a record deletion to the graph store.
type GraphRemover interface {
	Remove(ctx context.Context, orgID, recordKey string) error
}

// ReconciliationLoader returns the previous run's metadata for a record,
// or nil on first sight.
type ReconciliationLoader interface {
	LoadReconciliation(ctx context.Context, recordKey string) (*transform.Reconciliation, error)
}

// Runner executes sync runs: it drains a source iterator, applies each
// item to the transform pipeline, advances the sync point per success and
// purges records the source stopped returning.
type Runner struct {
	store           kvstore.Store
	syncPoints      *SyncPointStore
	presence        *presenceStore
	orchestrator    *transform.Orchestrator
	reconciliations ReconciliationLoader
	vector          VectorRemover
	graph           GraphRemover
	producer        messaging.Producer
	logger          *slog.Logger

	// backoff is overridable in tests.
	backoff func(attempt int) time.Duration
}

// NewRunner wires a runner. vector and graph may be nil when the
// deployment has no purge targets.
func NewRunner(store kvstore.Store, orchestrator *transform.Orchestrator, reconciliations ReconciliationLoader,
	vector VectorRemover, graph GraphRemover, producer messaging.Producer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:           store,
		syncPoints:      NewSyncPointStore(store),
		presence:        &presenceStore{store: store},
		orchestrator:    orchestrator,
		reconciliations: reconciliations,
		vector:          vector,
		graph:           graph,
		producer:        producer,
		logger:          logger,
		backoff:         retryDelay,
	}
}

// retryDelay is exponential with jitter, capped at 30s.
func retryDelay(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d + time.Duration(rand.Int64N(int64(500*time.Millisecond)))
}

// Run executes one sync for instance against source. The returned report
// has already been published; the error reflects run-level failures, not
// per-item ones.
func (r *Runner) Run(ctx context.Context, instance string, source Source) (*Report, error) {
	report := &Report{Connector: instance, StartedAt: time.Now()}

	cfg, err := LoadConfig(ctx, r.store, instance)
	if err != nil {
		return r.finish(ctx, report, RunFailed, err)
	}
	if !cfg.Enabled {
		r.logger.Info("Connector disabled, skipping sync", "connector", instance)
		return r.finish(ctx, report, RunSkipped, nil)
	}

	sp, err := r.syncPoints.Load(ctx, instance)
	if err != nil {
		return r.finish(ctx, report, RunFailed, err)
	}
	report.Epoch = sp.Epoch

	known, err := r.presence.load(ctx, instance)
	if err != nil {
		return r.finish(ctx, report, RunFailed, err)
	}

	it, err := source.Items(ctx, sp.Cursor)
	if err != nil {
		return r.finish(ctx, report, RunFailed, err)
	}
	defer func() { _ = it.Close() }()

	seen := make(map[string]bool)
	drained := false

	for {
		if err := ctx.Err(); err != nil {
			// Persist progress so the next run resumes where this one
			// stopped.
			_ = r.syncPoints.Save(context.WithoutCancel(ctx), instance, sp)
			report.SyncPoint = sp.Cursor
			return r.finish(context.WithoutCancel(ctx), report, RunCancelled, err)
		}

		item, err := it.Next(ctx)
		if errors.Is(err, ErrEndOfItems) {
			drained = true
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				continue // Top of loop handles cancellation.
			}
			r.logger.Error("Source iteration failed", "connector", instance, "error", err)
			report.Error = err.Error()
			break
		}

		report.Total++
		if err := r.applyItem(ctx, cfg, item); err != nil {
			report.Failed++
			r.logger.Error("Item failed", "connector", instance, "record", item.Record.Key, "error", err)
			continue
		}
		report.Processed++
		seen[item.Record.Key] = true
		known[item.Record.Key] = &presenceEntry{OrgKey: item.Record.OrgKey}

		if item.SyncPoint != "" {
			sp.Cursor = item.SyncPoint
			if err := r.syncPoints.Save(ctx, instance, sp); err != nil {
				r.logger.Error("Sync point save failed", "connector", instance, "error", err)
			}
		}
	}

	// Absence tracking only runs on full drains: a failed or partial
	// enumeration says nothing about records it never reached.
	if drained {
		report.Purged = r.reapAbsent(ctx, instance, known, seen)
	}
	if err := r.presence.save(ctx, instance, known); err != nil {
		r.logger.Error("Presence save failed", "connector", instance, "error", err)
	}

	if err := r.syncPoints.Save(ctx, instance, sp); err != nil {
		r.logger.Error("Sync point save failed", "connector", instance, "error", err)
	}
	report.SyncPoint = sp.Cursor

	status := RunCompleted
	if report.Error != "" {
		status = RunFailed
	} else if report.Failed > 0 {
		status = RunPartial
	}
	return r.finish(ctx, report, status, nil)
}

// applyItem pushes one item through the transform pipeline, retrying
// transient failures with backoff.
func (r *Runner) applyItem(ctx context.Context, cfg *Config, item *Item) error {
	hash := sha256.Sum256(item.Content)
	rec := &transform.Reconciliation{
		ContentHash: hex.EncodeToString(hash[:]),
		RevisionID:  item.Record.ExternalRevisionID,
	}
	if prev, err := r.reconciliations.LoadReconciliation(ctx, item.Record.Key); err == nil && prev != nil {
		rec.PreviousContentHash = prev.ContentHash
		rec.PreviousRevisionID = prev.RevisionID
	}

	tc := &transform.Context{
		Record:         item.Record,
		FileRecord:     item.FileRecord,
		Blocks:         item.Blocks,
		Permissions:    item.Permissions,
		Content:        item.Content,
		Settings:       transform.Settings{SkipVector: cfg.AutoIndexOff},
		Reconciliation: rec,
	}

	var err error
	for attempt := 0; attempt < maxItemRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff(attempt)):
			}
		}
		if err = r.orchestrator.Apply(ctx, tc); err == nil || !transform.IsTransient(err) {
			return err
		}
	}
	return err
}

// reapAbsent increments miss counters for records the source no longer
// returned and purges those absent for purgeAfterMissedRuns runs.
func (r *Runner) reapAbsent(ctx context.Context, instance string, known map[string]*presenceEntry, seen map[string]bool) int {
	purged := 0
	for key, entry := range known {
		if seen[key] {
			entry.Missed = 0
			continue
		}
		entry.Missed++
		if entry.Missed < purgeAfterMissedRuns {
			continue
		}
		if r.vector != nil {
			if err := r.vector.Remove(ctx, key); err != nil {
				r.logger.Error("Vector purge failed", "connector", instance, "record", key, "error", err)
				continue // Retry on the next run.
			}
		}
		if r.graph != nil {
			if err := r.graph.Remove(ctx, entry.OrgKey, key); err != nil {
				r.logger.Error("Graph purge failed", "connector", instance, "record", key, "error", err)
				continue
			}
		}
		delete(known, key)
		purged++
		r.logger.Info("Record purged", "connector", instance, "record", key)
	}
	return purged
}

// finish stamps the report, publishes it and returns it alongside err.
func (r *Runner) finish(ctx context.Context, report *Report, status string, err error) (*Report, error) {
	report.Status = status
	report.FinishedAt = time.Now()
	if err != nil && report.Error == "" {
		report.Error = err.Error()
	}

	if r.producer != nil {
		raw, marshalErr := json.Marshal(report)
		if marshalErr == nil {
			if pubErr := r.producer.Publish(ctx, messaging.TopicReconciliation, report.Connector, raw); pubErr != nil {
				r.logger.Error("Report publish failed", "connector", report.Connector, "error", pubErr)
			}
		}
	}

	r.logger.Info("Sync run finished",
		"connector", report.Connector,
		"status", report.Status,
		"total", report.Total,
		"processed", report.Processed,
		"failed", report.Failed,
		"purged", report.Purged,
		"duration", report.FinishedAt.Sub(report.StartedAt))

	if err != nil {
		return report, err
	}
	if status == RunFailed && report.Error != "" {
		return report, fmt.Errorf("sync run failed: %s", report.Error)
	}
	return report, nil
}
