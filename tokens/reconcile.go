package tokens

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360studio/semsync/kvstore"
)

// Holder owns a provider-native credential object inside a live client.
// Snapshot and Swap must be safe for concurrent use so reconciliation
// never blocks other requests on the same client.
type Holder interface {
	// Snapshot returns the credential currently backing the client.
	Snapshot() Credential

	// Swap atomically replaces the client's credential. A refresh-token
	// change indicates user re-authentication and implementations must
	// rebuild any derived provider objects; an access-token-only change
	// may update the existing object in place.
	Swap(next Credential)
}

// Reconcile compares the holder's in-memory credential with the KV store
// and hot-swaps when they differ. It is cheap and idempotent; clients call
// it before each outbound request, and again after a 401 before retrying.
// Returns true when a swap happened.
func Reconcile(ctx context.Context, store kvstore.Store, kvPath string, holder Holder) (bool, error) {
	raw, err := store.Get(ctx, kvPath)
	if err != nil {
		return false, fmt.Errorf("reconcile %s: %w", kvPath, err)
	}
	stored, err := Decode(raw)
	if err != nil {
		return false, fmt.Errorf("reconcile %s: %w", kvPath, err)
	}

	if holder.Snapshot().Equal(stored) {
		return false, nil
	}
	holder.Swap(stored)
	return true, nil
}

// SwappableCredential is a ready-made Holder guarding a credential with a
// RWMutex. Connectors embed it and read the access token per request.
type SwappableCredential struct {
	mu   sync.RWMutex
	cred Credential

	// onRebuild, when set, runs under the write lock whenever the refresh
	// token changes, so provider-native clients can be reconstructed.
	onRebuild func(Credential)
}

// NewSwappableCredential creates a holder seeded with cred. onRebuild may
// be nil.
func NewSwappableCredential(cred Credential, onRebuild func(Credential)) *SwappableCredential {
	return &SwappableCredential{cred: cred, onRebuild: onRebuild}
}

// Snapshot implements Holder.
func (s *SwappableCredential) Snapshot() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// Swap implements Holder.
func (s *SwappableCredential) Swap(next Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rebuilt := next.RefreshToken != s.cred.RefreshToken
	s.cred = next
	if rebuilt && s.onRebuild != nil {
		s.onRebuild(next)
	}
}

// AccessToken returns the current access token.
func (s *SwappableCredential) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred.AccessToken
}
