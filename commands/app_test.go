package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360studio/semsync/kvstore"
	"github.com/c360studio/semsync/tokens"
)

func TestWatchToolsetCredentialsSchedulesStoredCredential(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := kvstore.NewMemory()
	svc := tokens.NewService("toolsets", store, nil, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := json.Marshal(oauthClient{ClientID: "c1", ClientSecret: "s1", TokenURL: "https://auth.example.com/token"})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, fmt.Sprintf(kvstore.PathToolsetOAuth, "slack"), client, 0))

	// Stored before the watcher starts; must still be scheduled.
	cred, err := tokens.Credential{
		AccessToken:  "T1",
		RefreshToken: "R1",
		ExpiresAt:    time.Now().Add(time.Hour),
		Toolset:      "slack",
	}.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, fmt.Sprintf(kvstore.PathToolsetCreds, "u1", "i1"), cred, 0))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = watchToolsetCredentials(ctx, store, svc, logger)
	}()

	require.Eventually(t, func() bool {
		_, ok := svc.Due()
		return ok
	}, 2*time.Second, 10*time.Millisecond, "stored toolset credential never scheduled")

	cancel()
	<-done
}

func TestWatchToolsetCredentialsSkipsUnboundCredential(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := kvstore.NewMemory()
	svc := tokens.NewService("toolsets", store, nil, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// No toolset type, so no OAuth client can be resolved.
	cred, err := tokens.Credential{AccessToken: "T1", RefreshToken: "R1", ExpiresAt: time.Now().Add(time.Hour)}.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, fmt.Sprintf(kvstore.PathToolsetCreds, "u1", "i1"), cred, 0))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = watchToolsetCredentials(ctx, store, svc, logger)
	}()

	time.Sleep(50 * time.Millisecond)
	_, ok := svc.Due()
	require.False(t, ok, "credential without a toolset binding must not be scheduled")

	cancel()
	<-done
}
