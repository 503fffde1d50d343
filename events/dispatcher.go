// Package events routes connector lifecycle events from the event topic
// to the sync runtime. Event types follow "<connector>.<verb>" with verbs
// init, start, resync and stop. The broker redelivers on nak, so every
// handler path is idempotent.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/c360studio/semsync/connector"
	"github.com/c360studio/semsync/kvstore"
	"github.com/c360studio/semsync/messaging"
	"github.com/c360studio/semsync/synctask"
)

// Lifecycle verbs.
const (
	VerbInit   = "init"
	VerbStart  = "start"
	VerbResync = "resync"
	VerbStop   = "stop"
)

// Event is the wire format on the connector event topic.
type Event struct {
	// EventType is "<connector>.<verb>", e.g. "drive.start".
	EventType string `json:"eventType"`

	OrgKey  string          `json:"orgId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Dispatcher owns the connector instance registry and translates events
// into sync task operations.
type Dispatcher struct {
	store      kvstore.Store
	runner     *connector.Runner
	tasks      *synctask.Manager
	syncPoints *connector.SyncPointStore
	consumer   messaging.Consumer
	deps       connector.Deps
	logger     *slog.Logger

	mu        sync.Mutex
	instances map[string]connector.Source
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(store kvstore.Store, runner *connector.Runner, tasks *synctask.Manager,
	consumer messaging.Consumer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:      store,
		runner:     runner,
		tasks:      tasks,
		syncPoints: connector.NewSyncPointStore(store),
		consumer:   consumer,
		deps:       connector.Deps{Store: store, Logger: logger},
		logger:     logger,
		instances:  make(map[string]connector.Source),
	}
}

// Run consumes the connector event topic until ctx is done, then stops
// every running sync.
func (d *Dispatcher) Run(ctx context.Context) error {
	err := d.consumer.Subscribe(ctx, messaging.TopicConnectorEvents, func(hctx context.Context, msg messaging.Message) bool {
		return d.Handle(hctx, msg)
	})
	d.tasks.CancelAll()
	return err
}

// Handle processes one event. The return value is the ack decision:
// malformed and unknown events are acked so they cannot poison the
// topic, while transient infrastructure failures nak for redelivery.
func (d *Dispatcher) Handle(ctx context.Context, msg messaging.Message) bool {
	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		d.logger.Error("Dropping malformed event", "error", err)
		return true
	}

	name, verb, err := splitEventType(event.EventType)
	if err != nil {
		d.logger.Error("Dropping event with bad type", "event_type", event.EventType, "error", err)
		return true
	}

	switch verb {
	case VerbInit:
		return d.handleInit(ctx, name)
	case VerbStart:
		return d.handleStart(ctx, name, false)
	case VerbResync:
		return d.handleStart(ctx, name, true)
	case VerbStop:
		return d.handleStop(name)
	default:
		d.logger.Warn("Dropping event with unknown verb", "event_type", event.EventType)
		return true
	}
}

// handleInit instantiates the connector. Re-init for a live instance
// cancels its sync and rebuilds from the KV config, so config and
// credential changes take effect; a replay with unchanged config lands
// on the same instance state.
func (d *Dispatcher) handleInit(ctx context.Context, name string) bool {
	d.mu.Lock()
	_, exists := d.instances[name]
	d.mu.Unlock()
	if exists {
		d.tasks.Cancel(name)
		d.mu.Lock()
		delete(d.instances, name)
		d.mu.Unlock()
		d.logger.Info("Reinitializing connector", "connector", name)
	}
	_, ack := d.initInstance(ctx, name)
	return ack
}

// initInstance builds and registers the source. The second return is the
// ack decision: missing config and unknown types ack because redelivery
// cannot fix them, store failures nak.
func (d *Dispatcher) initInstance(ctx context.Context, name string) (connector.Source, bool) {
	cfg, err := connector.LoadConfig(ctx, d.store, name)
	if err != nil {
		d.logger.Error("Connector config load failed", "connector", name, "error", err)
		return nil, errors.Is(err, kvstore.ErrKeyNotFound)
	}
	source, err := connector.NewSource(name, cfg, d.deps)
	if err != nil {
		d.logger.Error("Connector instantiation failed", "connector", name, "error", err)
		return nil, true
	}
	if tester, ok := source.(connector.ConnectionTester); ok {
		if err := tester.TestConnectionAndAccess(ctx); err != nil {
			// Acked: redelivery cannot fix bad config, the next start
			// event re-initializes.
			d.logger.Error("Connector access probe failed", "connector", name, "error", err)
			return nil, true
		}
	}

	d.mu.Lock()
	d.instances[name] = source
	d.mu.Unlock()
	d.logger.Info("Connector initialized", "connector", name)
	return source, true
}

// handleStart launches a sync run, replacing any run in flight for the
// same connector. resync invalidates the cursor first.
func (d *Dispatcher) handleStart(ctx context.Context, name string, resync bool) bool {
	d.mu.Lock()
	source := d.instances[name]
	d.mu.Unlock()
	if source == nil {
		// Start before init happens on replays; initialize in place.
		var ack bool
		if source, ack = d.initInstance(ctx, name); source == nil {
			return ack
		}
	}

	if resync {
		if _, err := d.syncPoints.BumpEpoch(ctx, name); err != nil {
			d.logger.Error("Epoch bump failed", "connector", name, "error", err)
			return false
		}
	}

	d.tasks.Start(context.WithoutCancel(ctx), name, func(taskCtx context.Context) error {
		_, err := d.runner.Run(taskCtx, name, source)
		return err
	})
	return true
}

// handleStop cancels the running sync and drops the instance. Stopping an
// unknown connector acks: the desired state already holds.
func (d *Dispatcher) handleStop(name string) bool {
	d.tasks.Cancel(name)

	d.mu.Lock()
	_, existed := d.instances[name]
	delete(d.instances, name)
	d.mu.Unlock()

	if existed {
		d.logger.Info("Connector stopped", "connector", name)
	}
	return true
}

// IsInitialized reports whether the named connector has a live instance.
func (d *Dispatcher) IsInitialized(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.instances[name]
	return ok
}

// splitEventType parses "<connector>.<verb>".
func splitEventType(eventType string) (name, verb string, err error) {
	idx := strings.LastIndex(eventType, ".")
	if idx <= 0 || idx == len(eventType)-1 {
		return "", "", fmt.Errorf("event type %q is not <connector>.<verb>", eventType)
	}
	return eventType[:idx], eventType[idx+1:], nil
}
