package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Connect(ctx))

	key := "/services/connectors/drive/config"
	require.NoError(t, store.Set(ctx, key, []byte(`{"a":1}`), 0))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), got)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.ErrorIs(t, store.Delete(ctx, key), ErrKeyNotFound)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Set(ctx, "/tmp/k", []byte("v"), 10*time.Millisecond))

	_, err := store.Get(ctx, "/tmp/k")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = store.Get(ctx, "/tmp/k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStoreWatchPrefix(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewMemory()

	ch, err := store.Watch(ctx, "/services/connectors/")
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "/services/connectors/slack/config", []byte("x"), 0))
	require.NoError(t, store.Set(ctx, "/services/endpoints", []byte("y"), 0))

	select {
	case entry := <-ch:
		assert.Equal(t, "/services/connectors/slack/config", entry.Key)
		assert.Equal(t, OpPut, entry.Operation)
	case <-time.After(time.Second):
		t.Fatal("expected watch event")
	}

	// The non-matching key must not be delivered.
	select {
	case entry := <-ch:
		t.Fatalf("unexpected event for %s", entry.Key)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryStoreWatchDeliversExistingKeys(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewMemory()

	require.NoError(t, store.Set(ctx, "/services/toolsets/u1/i1", []byte("existing"), 0))
	require.NoError(t, store.Set(ctx, "/services/endpoints", []byte("other"), 0))

	ch, err := store.Watch(ctx, "/services/toolsets/")
	require.NoError(t, err)

	select {
	case entry := <-ch:
		assert.Equal(t, "/services/toolsets/u1/i1", entry.Key)
		assert.Equal(t, []byte("existing"), entry.Value)
		assert.Equal(t, OpPut, entry.Operation)
	case <-time.After(time.Second):
		t.Fatal("expected the pre-existing key to be delivered")
	}

	// Updates follow the initial values.
	require.NoError(t, store.Set(ctx, "/services/toolsets/u1/i2", []byte("new"), 0))
	select {
	case entry := <-ch:
		assert.Equal(t, "/services/toolsets/u1/i2", entry.Key)
	case <-time.After(time.Second):
		t.Fatal("expected watch event")
	}
}

func TestEncryptedStoreSealsValues(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	store, err := NewEncrypted(inner, key)
	require.NoError(t, err)

	secret := []byte(`{"access_token":"T1"}`)
	require.NoError(t, store.Set(ctx, "/services/toolsets/u1/i1", secret, 0))

	// The inner store must never see plaintext.
	raw, err := inner.Get(ctx, "/services/toolsets/u1/i1")
	require.NoError(t, err)
	assert.NotEqual(t, secret, raw)

	got, err := store.Get(ctx, "/services/toolsets/u1/i1")
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestEncryptedStoreRejectsShortKey(t *testing.T) {
	_, err := NewEncrypted(NewMemory(), []byte("short"))
	assert.Error(t, err)
}

func TestEncryptedWatchDecrypts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	key := make([]byte, 32)
	store, err := NewEncrypted(NewMemory(), key)
	require.NoError(t, err)

	ch, err := store.Watch(ctx, "/services/")
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "/services/secretKeys", []byte("plaintext"), 0))

	select {
	case entry := <-ch:
		assert.Equal(t, []byte("plaintext"), entry.Value)
	case <-time.After(time.Second):
		t.Fatal("expected watch event")
	}
}

func TestKeyEncoding(t *testing.T) {
	assert.Equal(t, "services.connectors.drive.config", encodeKey("/services/connectors/drive/config"))
	assert.Equal(t, "/services/connectors/drive/config", decodeKey("services.connectors.drive.config"))
}
