package commands

import (
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := NewRoot()

	var names []string
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "ask")
	assert.Contains(t, names, "connector")
	assert.Contains(t, names, "version")

	connectorCmd, _, err := root.Find([]string{"connector"})
	require.NoError(t, err)
	var verbs []string
	for _, sub := range connectorCmd.Commands() {
		verbs = append(verbs, sub.Name())
	}
	for _, want := range []string{"init", "start", "resync", "stop", "types", "status", "configure"} {
		assert.Contains(t, verbs, want)
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("anything else"))
}

func TestLoadCredentialKey(t *testing.T) {
	dir := t.TempDir()

	rawPath := filepath.Join(dir, "raw.key")
	require.NoError(t, os.WriteFile(rawPath, []byte("0123456789abcdef0123456789abcdef"), 0600))
	key, err := loadCredentialKey(rawPath)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	hexPath := filepath.Join(dir, "hex.key")
	encoded := hex.EncodeToString(key) + "\n"
	require.NoError(t, os.WriteFile(hexPath, []byte(encoded), 0600))
	decoded, err := loadCredentialKey(hexPath)
	require.NoError(t, err)
	assert.Equal(t, key, decoded)

	shortPath := filepath.Join(dir, "short.key")
	require.NoError(t, os.WriteFile(shortPath, []byte("too short"), 0600))
	_, err = loadCredentialKey(shortPath)
	assert.Error(t, err)

	_, err = loadCredentialKey(filepath.Join(dir, "missing.key"))
	assert.Error(t, err)
}
