package webpage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semsync/connector"
	"github.com/c360studio/semsync/kvstore"
	"github.com/c360studio/semsync/record"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Release Notes</title></head>
<body>
<nav>skip me</nav>
<main>
<h1>Release Notes</h1>
<p>Version 2.0 ships faster sync.</p>
<h2>Fixes</h2>
<p>Cursor handling no longer drops items.</p>
</main>
<footer>skip me too</footer>
</body>
</html>`

func testSource(t *testing.T, store kvstore.Store, urls ...string) *Source {
	t.Helper()
	settings, err := json.Marshal(Settings{OrgKey: "org-1", URLs: urls, TimeoutSeconds: 5})
	require.NoError(t, err)

	src, err := New(&connector.Config{Enabled: true, Settings: settings}, connector.Deps{Store: store})
	require.NoError(t, err)

	source := src.(*Source)
	source.fetcher.insecure = true // httptest serves plain HTTP
	return source
}

func drain(t *testing.T, src *Source) []*connector.Item {
	t.Helper()
	it, err := src.Items(context.Background(), "")
	require.NoError(t, err)
	defer func() { require.NoError(t, it.Close()) }()

	var items []*connector.Item
	for {
		item, err := it.Next(context.Background())
		if err == connector.ErrEndOfItems {
			return items
		}
		require.NoError(t, err)
		items = append(items, item)
	}
}

func TestSourceBuildsWebpageRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		_, _ = w.Write([]byte(samplePage))
	}))
	defer server.Close()

	src := testSource(t, kvstore.NewMemory(), server.URL)
	items := drain(t, src)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, record.TypeWebpage, item.Record.Type)
	assert.Equal(t, "org-1", item.Record.OrgKey)
	assert.Equal(t, server.URL, item.Record.ExternalID)
	assert.Equal(t, "Release Notes", item.Record.Name)
	assert.Equal(t, Name, item.Record.ConnectorName)
	assert.NotEmpty(t, item.Content)
	assert.NotContains(t, string(item.Content), "skip me", "page chrome stripped")

	require.GreaterOrEqual(t, len(item.Blocks.Blocks), 2, "one block per heading section")
	for i, block := range item.Blocks.Blocks {
		assert.Equal(t, i, block.Index)
		assert.Equal(t, record.FormatMarkdown, block.Format)
		assert.Equal(t, item.Record.Key, block.RecordKey)
	}
	assert.Contains(t, item.Blocks.Blocks[1].Data, "Cursor handling")
}

func TestSourceSkipsUnchangedPages(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(samplePage))
	}))
	defer server.Close()

	store := kvstore.NewMemory()
	src := testSource(t, store, server.URL)

	first := drain(t, src)
	require.Len(t, first, 1)
	assert.Equal(t, `"v1"`, first[0].Record.ExternalRevisionID)

	// Second run sends the cached ETag and yields nothing.
	second := drain(t, testSource(t, store, server.URL))
	assert.Empty(t, second)
	assert.Equal(t, int32(2), requests.Load())
}

func TestSourceStableRecordKey(t *testing.T) {
	assert.Equal(t, pageKey("https://example.com/a"), pageKey("https://example.com/a"))
	assert.NotEqual(t, pageKey("https://example.com/a"), pageKey("https://example.com/b"))
}

func TestSourceRequiresSettings(t *testing.T) {
	_, err := New(&connector.Config{Enabled: true}, connector.Deps{})
	assert.Error(t, err)

	settings, _ := json.Marshal(Settings{OrgKey: "org-1"})
	_, err = New(&connector.Config{Enabled: true, Settings: settings}, connector.Deps{})
	assert.Error(t, err, "urls are required")
}

func TestTestConnectionAndAccess(t *testing.T) {
	src := testSource(t, kvstore.NewMemory(), "https://example.com/docs")
	require.NoError(t, src.TestConnectionAndAccess(context.Background()))

	bad := testSource(t, kvstore.NewMemory(), "https://example.com/docs", "https://db.corp.internal/dump")
	assert.Error(t, bad.TestConnectionAndAccess(context.Background()))
}

func TestValidateURLPolicy(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid https URL", "https://go.dev/doc/effective_go", false},
		{"http rejected", "http://example.com", true},
		{"localhost rejected", "https://localhost:8080", true},
		{"private IP rejected", "https://192.168.1.1/path", true},
		{"cgnat rejected", "https://100.64.0.1", true},
		{"local domain rejected", "https://build.internal", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSplitSections(t *testing.T) {
	markdown := "# Title\n\nintro\n\n## Part One\n\nbody one\n\n## Part Two\n\nbody two"
	sections := splitSections(markdown)
	require.Len(t, sections, 3)
	assert.Contains(t, sections[0], "intro")
	assert.Contains(t, sections[2], "body two")

	assert.Equal(t, []string{"no headings here"}, splitSections("no headings here"))
	assert.Empty(t, splitSections(""))
}
