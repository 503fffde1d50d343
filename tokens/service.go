package tokens

import (
	"container/heap"
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/c360studio/semsync/kvstore"
	"github.com/c360studio/semsync/messaging"
)

// Scheduling constants. A credential is refreshed at
// expiry − skew − jitter(0, maxJitter) so fleets of credentials with the
// same expiry do not refresh in lockstep.
const (
	refreshSkew      = 60 * time.Second
	refreshMaxJitter = 30 * time.Second

	maxRetryAttempts   = 5
	maxRetryBackoff    = 60 * time.Second
	degradedReschedule = 5 * time.Minute
)

// CredentialEvent is emitted on every refresh outcome. Invalid and
// degraded events are user-visible; active events record a successful
// refresh.
type CredentialEvent struct {
	EventType    string `json:"event_type"`
	Service      string `json:"service"`
	CredentialID string `json:"credential_id"`
	Status       Status `json:"status"`
	Reason       string `json:"reason,omitempty"`
}

// registration is one managed credential. gen and nextAt identify the
// single live schedule: heap entries carrying an older generation or a
// superseded time are discarded when popped.
type registration struct {
	id       string
	kvPath   string
	provider Provider
	gen      uint64
	nextAt   time.Time
}

// scheduled is a heap entry.
type scheduled struct {
	at  time.Time
	id  string
	gen uint64
}

// refreshHeap is a min-heap ordered by refresh time.
type refreshHeap []scheduled

func (h refreshHeap) Len() int            { return len(h) }
func (h refreshHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h refreshHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *refreshHeap) Push(x any)         { *h = append(*h, x.(scheduled)) }
func (h *refreshHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Service keeps registered credentials fresh. The platform runs two
// independent instances, one for connectors and one for toolsets.
type Service struct {
	name     string
	store    kvstore.Store
	producer messaging.Producer
	logger   *slog.Logger

	mu      sync.Mutex
	regs    map[string]*registration
	heap    refreshHeap
	keyLock map[string]*sync.Mutex
	wake    chan struct{}

	// backoff computes the retry delay; overridable in tests.
	backoff func(attempt int) time.Duration
}

// NewService creates a refresh service persisting through store and
// emitting credential events through producer.
func NewService(name string, store kvstore.Store, producer messaging.Producer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		name:     name,
		store:    store,
		producer: producer,
		logger:   logger.With("service", name),
		regs:     make(map[string]*registration),
		keyLock:  make(map[string]*sync.Mutex),
		wake:     make(chan struct{}, 1),
		backoff:  backoffDelay,
	}
}

// Register manages the credential stored at kvPath, refreshing it through
// provider ahead of expiresAt. Re-registering an id supersedes its
// previous schedule, so watch-driven registration after every write-back
// never accumulates duplicate refreshes.
func (s *Service) Register(id, kvPath string, provider Provider, expiresAt time.Time) {
	at := refreshAt(expiresAt)
	s.mu.Lock()
	gen := uint64(1)
	if old := s.regs[id]; old != nil {
		gen = old.gen + 1
	}
	s.regs[id] = &registration{id: id, kvPath: kvPath, provider: provider, gen: gen, nextAt: at}
	heap.Push(&s.heap, scheduled{at: at, id: id, gen: gen})
	s.mu.Unlock()
	s.signal()
}

// Unregister stops managing id. An in-flight refresh for id completes but
// is not rescheduled.
func (s *Service) Unregister(id string) {
	s.mu.Lock()
	delete(s.regs, id)
	s.mu.Unlock()
}

// refreshAt computes the scheduled refresh time for a credential expiry.
func refreshAt(expiresAt time.Time) time.Time {
	jitter := time.Duration(rand.Int64N(int64(refreshMaxJitter)))
	return expiresAt.Add(-refreshSkew - jitter)
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the scheduler until ctx is done. A single worker pops due
// entries; refreshes for distinct credentials run concurrently while
// per-credential refreshes serialize on a per-key mutex.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("Token refresh service started")
	for {
		s.mu.Lock()
		var wait time.Duration
		switch {
		case len(s.heap) == 0:
			wait = time.Hour
		default:
			wait = time.Until(s.heap[0].at)
		}

		if wait <= 0 {
			entry := heap.Pop(&s.heap).(scheduled)
			reg := s.regs[entry.id]
			live := reg != nil && reg.gen == entry.gen && reg.nextAt.Equal(entry.at)
			s.mu.Unlock()
			if live {
				go s.refreshOne(ctx, reg)
			}
			continue
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Token refresh service stopped")
			return ctx.Err()
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *Service) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.keyLock[id]
	if !ok {
		l = &sync.Mutex{}
		s.keyLock[id] = l
	}
	return l
}

// refreshOne performs one refresh cycle for a credential, applying the
// retry policy and writing the result back to the KV store.
func (s *Service) refreshOne(ctx context.Context, reg *registration) {
	l := s.lockFor(reg.id)
	l.Lock()
	defer l.Unlock()

	current, err := s.load(ctx, reg.kvPath)
	if err != nil {
		s.logger.Error("Failed to load credential", "credential_id", reg.id, "error", err)
		s.reschedule(reg.id, time.Now().Add(degradedReschedule))
		return
	}

	var next Credential
	for attempt := 0; ; attempt++ {
		next, err = reg.provider.Refresh(ctx, current)
		if err == nil {
			break
		}
		if IsTerminal(err) {
			s.markStatus(ctx, reg, current, StatusInvalid, err.Error())
			s.emit(ctx, reg.id, StatusInvalid, err.Error())
			s.logger.Error("Credential invalid, refresh abandoned", "credential_id", reg.id, "error", err)
			return
		}
		if attempt+1 >= maxRetryAttempts {
			s.markStatus(ctx, reg, current, StatusDegraded, err.Error())
			s.emit(ctx, reg.id, StatusDegraded, err.Error())
			s.reschedule(reg.id, time.Now().Add(degradedReschedule))
			s.logger.Warn("Credential degraded after retries", "credential_id", reg.id, "attempts", attempt+1, "error", err)
			return
		}

		backoff := s.backoff(attempt)
		s.logger.Warn("Refresh failed, retrying", "credential_id", reg.id, "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}

	// Providers return token material only; the toolset binding rides
	// along from the stored document.
	if next.Toolset == "" {
		next.Toolset = current.Toolset
	}
	if err := s.write(ctx, reg.kvPath, next); err != nil {
		s.logger.Error("Failed to persist refreshed credential", "credential_id", reg.id, "error", err)
		s.reschedule(reg.id, time.Now().Add(degradedReschedule))
		return
	}

	s.logger.Info("Credential refreshed", "credential_id", reg.id, "expires_at", next.ExpiresAt)
	s.emit(ctx, reg.id, StatusActive, "")
	s.reschedule(reg.id, refreshAt(next.ExpiresAt))
}

// backoffDelay is min(2^attempt, 60s) seconds plus up to one second of
// jitter.
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxRetryBackoff {
		d = maxRetryBackoff
	}
	return d + time.Duration(rand.Int64N(int64(time.Second)))
}

func (s *Service) load(ctx context.Context, kvPath string) (Credential, error) {
	raw, err := s.store.Get(ctx, kvPath)
	if err != nil {
		return Credential{}, err
	}
	return Decode(raw)
}

func (s *Service) write(ctx context.Context, kvPath string, c Credential) error {
	raw, err := c.Encode()
	if err != nil {
		return err
	}
	return s.store.Set(ctx, kvPath, raw, 0)
}

// markStatus persists a status change without touching token material.
func (s *Service) markStatus(ctx context.Context, reg *registration, current Credential, status Status, reason string) {
	current.Status = status
	if err := s.write(ctx, reg.kvPath, current); err != nil {
		s.logger.Error("Failed to persist credential status",
			"credential_id", reg.id, "status", status, "reason", reason, "error", err)
	}
}

func (s *Service) emit(ctx context.Context, id string, status Status, reason string) {
	if s.producer == nil {
		return
	}
	event := CredentialEvent{
		EventType:    "credential." + string(status),
		Service:      s.name,
		CredentialID: id,
		Status:       status,
		Reason:       reason,
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.producer.Publish(ctx, messaging.TopicCredentialEvents, id, raw); err != nil {
		s.logger.Warn("Failed to publish credential event", "credential_id", id, "error", err)
	}
}

// reschedule re-enqueues id at the given time if it is still registered,
// superseding any earlier schedule.
func (s *Service) reschedule(id string, at time.Time) {
	s.mu.Lock()
	if reg, ok := s.regs[id]; ok {
		reg.nextAt = at
		heap.Push(&s.heap, scheduled{at: at, id: id, gen: reg.gen})
	}
	s.mu.Unlock()
	s.signal()
}

// Due reports the next scheduled refresh time, for introspection and tests.
func (s *Service) Due() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return time.Time{}, false
	}
	return s.heap[0].at, true
}
