package kvstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"time"
)

// Encrypted wraps a Store with AES-256-GCM encryption at rest. Credential
// paths are always stored through this wrapper. Keys stay in plaintext so
// prefix watches keep working; only values are sealed.
type Encrypted struct {
	inner Store
	aead  cipher.AEAD
}

// NewEncrypted wraps inner with AES-256-GCM using the given 32-byte key.
func NewEncrypted(inner Store, key []byte) (*Encrypted, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("kvstore: encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Encrypted{inner: inner, aead: aead}, nil
}

// Connect delegates to the wrapped store.
func (e *Encrypted) Connect(ctx context.Context) error { return e.inner.Connect(ctx) }

// Disconnect delegates to the wrapped store.
func (e *Encrypted) Disconnect() error { return e.inner.Disconnect() }

// Set seals value with a random nonce and stores nonce||ciphertext.
func (e *Encrypted) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, value, []byte(key))
	return e.inner.Set(ctx, key, sealed, ttl)
}

// Get retrieves and opens the sealed value.
func (e *Encrypted) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := e.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.open(key, sealed)
}

// Delete delegates to the wrapped store.
func (e *Encrypted) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, key)
}

// Watch streams decrypted change events.
func (e *Encrypted) Watch(ctx context.Context, prefix string) (<-chan Entry, error) {
	in, err := e.inner.Watch(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make(chan Entry, 16)
	go func() {
		defer close(out)
		for entry := range in {
			if entry.Operation == OpPut {
				plain, err := e.open(entry.Key, entry.Value)
				if err != nil {
					// Undecryptable entries are dropped rather than
					// surfaced as garbage to watchers.
					continue
				}
				entry.Value = plain
			}
			select {
			case out <- entry:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (e *Encrypted) open(key string, sealed []byte) ([]byte, error) {
	ns := e.aead.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("kvstore: sealed value too short for %s", key)
	}
	plain, err := e.aead.Open(nil, sealed[:ns], sealed[ns:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", key, err)
	}
	return plain, nil
}
