// Package synctask manages the lifecycle of per-connector sync tasks. The
// manager guarantees at most one running task per connector instance id:
// starting a sync for an id that already has one cancels and awaits the old
// task before the new one launches.
package synctask

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Work is the body of a sync task. Long-running work must check ctx between
// logical units (per record, per page) so cancellation stays cooperative.
type Work func(ctx context.Context) error

// task is one running sync. Completion is observed on done, never on a
// caller-provided channel, so Cancel can never deadlock.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Manager is the process-wide sync task registry.
type Manager struct {
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, tasks: make(map[string]*task)}
}

// Start launches work as the sync task for connectorID. Any existing task
// for the id is cancelled and awaited first; its cancellation error is
// absorbed. The slot is re-checked and claimed under the lock, so
// concurrent Starts for the same id serialize: each awaits whatever task
// it observes until it registers its own.
func (m *Manager) Start(ctx context.Context, connectorID string, work Work) {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}

	for {
		m.mu.Lock()
		old := m.tasks[connectorID]
		if old == nil || completed(old) {
			m.tasks[connectorID] = t
			m.mu.Unlock()
			if old != nil && old.err != nil && !errors.Is(old.err, context.Canceled) {
				m.logger.Warn("Replaced sync task ended with error",
					"connector_id", connectorID, "error", old.err)
			}
			break
		}
		m.mu.Unlock()

		old.cancel()
		<-old.done
		// Another Start may have claimed the slot while this one awaited;
		// loop and re-check.
	}

	go func() {
		defer func() {
			close(t.done)
			cancel()
			m.mu.Lock()
			// Remove the entry only if it is still this task; a newer
			// task may already have replaced it.
			if m.tasks[connectorID] == t {
				delete(m.tasks, connectorID)
			}
			m.mu.Unlock()
		}()
		t.err = work(taskCtx)
		if t.err != nil && !errors.Is(t.err, context.Canceled) {
			m.logger.Error("Sync task failed", "connector_id", connectorID, "error", t.err)
		}
	}()
}

// completed reports whether t has finished. Its error is safe to read
// once done is closed.
func completed(t *task) bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Cancel signals and awaits the task for connectorID, absorbing
// cancellation. Cancelling an unknown id is a no-op.
func (m *Manager) Cancel(connectorID string) {
	m.mu.Lock()
	t := m.tasks[connectorID]
	m.mu.Unlock()
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

// CancelAll cancels every registered task concurrently and awaits them all.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			m.Cancel(id)
			return nil
		})
	}
	_ = g.Wait()
}

// IsRunning reports whether a non-completed task is registered for
// connectorID.
func (m *Manager) IsRunning(connectorID string) bool {
	m.mu.Lock()
	t := m.tasks[connectorID]
	m.mu.Unlock()
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Len returns the number of registered tasks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}
