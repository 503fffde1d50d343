package tokens

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360studio/semsync/kvstore"
	"github.com/c360studio/semsync/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	calls atomic.Int32
	fn    func(attempt int32, current Credential) (Credential, error)
}

func (p *stubProvider) Refresh(_ context.Context, current Credential) (Credential, error) {
	return p.fn(p.calls.Add(1), current)
}

func seedCredential(t *testing.T, store kvstore.Store, path string, c Credential) {
	t.Helper()
	raw, err := c.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), path, raw, 0))
}

func TestRefreshAtWindow(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	for i := 0; i < 20; i++ {
		at := refreshAt(expiry)
		assert.True(t, at.After(expiry.Add(-refreshSkew-refreshMaxJitter)))
		assert.True(t, !at.After(expiry.Add(-refreshSkew)))
	}
}

func TestServiceRefreshWritesBackAndReschedules(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := kvstore.NewMemory()
	path := "/services/connectors/gmail/config"
	seedCredential(t, store, path, Credential{AccessToken: "T1", RefreshToken: "R1"})

	nextExpiry := time.Now().Add(time.Hour)
	provider := &stubProvider{fn: func(_ int32, current Credential) (Credential, error) {
		assert.Equal(t, "R1", current.RefreshToken)
		return Credential{AccessToken: "T2", RefreshToken: "R1", ExpiresAt: nextExpiry, Status: StatusActive}, nil
	}}

	svc := NewService("connectors", store, nil, nil)
	go func() { _ = svc.Run(ctx) }()

	// Expired now: due immediately.
	svc.Register("gmail", path, provider, time.Now())

	require.Eventually(t, func() bool {
		raw, err := store.Get(ctx, path)
		if err != nil {
			return false
		}
		c, err := Decode(raw)
		return err == nil && c.AccessToken == "T2"
	}, 2*time.Second, 10*time.Millisecond)

	due, ok := svc.Due()
	require.True(t, ok, "refreshed credential must be re-enqueued")
	assert.True(t, due.After(time.Now().Add(30*time.Minute)))
}

func TestServiceTerminalFailureMarksInvalidAndEmits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := kvstore.NewMemory()
	broker := messaging.NewMemory()
	path := "/services/toolsets/u1/i1"
	seedCredential(t, store, path, Credential{AccessToken: "T1", RefreshToken: "R1"})

	events := make(chan messaging.Message, 1)
	go func() {
		_ = broker.Subscribe(ctx, messaging.TopicCredentialEvents, func(_ context.Context, msg messaging.Message) bool {
			events <- msg
			return true
		})
	}()

	provider := &stubProvider{fn: func(_ int32, _ Credential) (Credential, error) {
		return Credential{}, &TerminalError{Reason: "invalid_grant", Err: errors.New("grant revoked")}
	}}

	svc := NewService("toolsets", store, broker, nil)
	go func() { _ = svc.Run(ctx) }()
	svc.Register("u1/i1", path, provider, time.Now())

	select {
	case msg := <-events:
		assert.Contains(t, string(msg.Value), `"credential.invalid"`)
	case <-time.After(2 * time.Second):
		t.Fatal("expected credential event")
	}

	raw, err := store.Get(ctx, path)
	require.NoError(t, err)
	c, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalid, c.Status)
	assert.Equal(t, "T1", c.AccessToken, "token material untouched on terminal failure")
	assert.Equal(t, int32(1), provider.calls.Load(), "terminal failures are not retried")
}

func TestServiceRetriesTransientThenSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := kvstore.NewMemory()
	path := "/services/connectors/jira/config"
	seedCredential(t, store, path, Credential{AccessToken: "T1", RefreshToken: "R1"})

	provider := &stubProvider{fn: func(attempt int32, _ Credential) (Credential, error) {
		if attempt < 3 {
			return Credential{}, errors.New("connection reset")
		}
		return Credential{AccessToken: "T2", RefreshToken: "R1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}

	svc := NewService("connectors", store, nil, nil)
	svc.backoff = func(int) time.Duration { return time.Millisecond }
	go func() { _ = svc.Run(ctx) }()
	svc.Register("jira", path, provider, time.Now())

	require.Eventually(t, func() bool {
		raw, err := store.Get(ctx, path)
		if err != nil {
			return false
		}
		c, _ := Decode(raw)
		return c.AccessToken == "T2"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), provider.calls.Load())
}

func TestServiceDegradedAfterExhaustedRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := kvstore.NewMemory()
	path := "/services/connectors/slack/config"
	seedCredential(t, store, path, Credential{AccessToken: "T1", RefreshToken: "R1"})

	provider := &stubProvider{fn: func(_ int32, _ Credential) (Credential, error) {
		return Credential{}, errors.New("503 from provider")
	}}

	svc := NewService("connectors", store, nil, nil)
	svc.backoff = func(int) time.Duration { return time.Millisecond }
	go func() { _ = svc.Run(ctx) }()
	svc.Register("slack", path, provider, time.Now())

	require.Eventually(t, func() bool {
		raw, err := store.Get(ctx, path)
		if err != nil {
			return false
		}
		c, _ := Decode(raw)
		return c.Status == StatusDegraded
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(maxRetryAttempts), provider.calls.Load())

	due, ok := svc.Due()
	require.True(t, ok, "degraded credential re-scheduled")
	assert.True(t, due.After(time.Now().Add(4*time.Minute)))
}

func TestReregisterSupersedesOldSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := kvstore.NewMemory()
	path := "/services/toolsets/u1/slack"
	seedCredential(t, store, path, Credential{AccessToken: "T1", RefreshToken: "R1"})

	provider := &stubProvider{fn: func(_ int32, _ Credential) (Credential, error) {
		return Credential{AccessToken: "T2", RefreshToken: "R1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}

	svc := NewService("toolsets", store, nil, nil)
	// Both schedules due immediately; only the latest may fire.
	svc.Register("u1/slack", path, provider, time.Now())
	svc.Register("u1/slack", path, provider, time.Now())
	go func() { _ = svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		raw, err := store.Get(ctx, path)
		if err != nil {
			return false
		}
		c, _ := Decode(raw)
		return c.AccessToken == "T2"
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), provider.calls.Load(), "superseded schedule must not fire")
}

func TestRefreshPreservesToolsetBinding(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := kvstore.NewMemory()
	path := "/services/toolsets/u1/i1"
	seedCredential(t, store, path, Credential{AccessToken: "T1", RefreshToken: "R1", Toolset: "slack"})

	provider := &stubProvider{fn: func(_ int32, _ Credential) (Credential, error) {
		return Credential{AccessToken: "T2", RefreshToken: "R1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}

	svc := NewService("toolsets", store, nil, nil)
	go func() { _ = svc.Run(ctx) }()
	svc.Register("u1/i1", path, provider, time.Now())

	require.Eventually(t, func() bool {
		raw, err := store.Get(ctx, path)
		if err != nil {
			return false
		}
		c, _ := Decode(raw)
		return c.AccessToken == "T2" && c.Toolset == "slack"
	}, 2*time.Second, 10*time.Millisecond)
}

// TestHotSwapOn401 covers the hot-swap contract: a request in flight with a
// stale token gets a 401, reconciles against the KV store, swaps once and
// retries successfully.
func TestHotSwapOn401(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	path := "/services/connectors/gmail/config"
	seedCredential(t, store, path, Credential{AccessToken: "T2", RefreshToken: "R1"})

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer T2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()

	var swaps atomic.Int32
	holder := NewSwappableCredential(Credential{AccessToken: "T1", RefreshToken: "R1"}, nil)

	call := func() int {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		req.Header.Set("Authorization", "Bearer "+holder.AccessToken())
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	status := call()
	require.Equal(t, http.StatusUnauthorized, status)

	swapped, err := Reconcile(ctx, store, path, holder)
	require.NoError(t, err)
	if swapped {
		swaps.Add(1)
	}

	status = call()
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, int32(1), swaps.Load())

	// Reconcile is idempotent: a second pass observes no drift.
	swapped, err = Reconcile(ctx, store, path, holder)
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestSwappableCredentialRebuildOnRefreshTokenChange(t *testing.T) {
	var rebuilds atomic.Int32
	holder := NewSwappableCredential(Credential{AccessToken: "T1", RefreshToken: "R1"},
		func(Credential) { rebuilds.Add(1) })

	// Access-token-only change: update in place, no rebuild.
	holder.Swap(Credential{AccessToken: "T2", RefreshToken: "R1"})
	assert.Equal(t, int32(0), rebuilds.Load())

	// Refresh-token change: user re-authenticated, rebuild required.
	holder.Swap(Credential{AccessToken: "T3", RefreshToken: "R2"})
	assert.Equal(t, int32(1), rebuilds.Load())
	assert.Equal(t, "T3", holder.AccessToken())
}
