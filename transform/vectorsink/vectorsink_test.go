package vectorsink

import (
	"context"
	"crypto/sha256"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semsync/record"
	"github.com/c360studio/semsync/transform"
)

// hashEmbedder maps text deterministically onto a unit vector, so
// identical text always lands on the same embedding.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, len(sum))
	var norm float64
	for i, b := range sum {
		vec[i] = float32(b) - 128
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	sink, err := New(Config{}, hashEmbedder{}, nil)
	require.NoError(t, err)
	return sink
}

func blockContext(key, org string, blocks ...record.Block) *transform.Context {
	return &transform.Context{
		Record: &record.Record{Key: key, OrgKey: org, ExternalID: "ext-" + key, Type: record.TypeFile},
		Blocks: record.BlocksContainer{Blocks: blocks},
	}
}

func TestIndexAddsDocuments(t *testing.T) {
	sink := newTestSink(t)

	tc := blockContext("rec-1", "org-1",
		record.Block{Index: 0, Type: record.BlockText, Data: "quarterly revenue grew", RecordKey: "rec-1"},
		record.Block{Index: 1, Type: record.BlockText, Data: "headcount stayed flat", RecordKey: "rec-1"},
	)
	require.NoError(t, sink.Index(context.Background(), tc))
	assert.Equal(t, 2, sink.Count())
}

func TestIndexReplacesPreviousDocuments(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	first := blockContext("rec-1", "org-1",
		record.Block{Index: 0, Type: record.BlockText, Data: "old content one", RecordKey: "rec-1"},
		record.Block{Index: 1, Type: record.BlockText, Data: "old content two", RecordKey: "rec-1"},
		record.Block{Index: 2, Type: record.BlockText, Data: "old content three", RecordKey: "rec-1"},
	)
	require.NoError(t, sink.Index(ctx, first))
	require.Equal(t, 3, sink.Count())

	// Re-index with fewer blocks: stale chunks must not survive.
	second := blockContext("rec-1", "org-1",
		record.Block{Index: 0, Type: record.BlockText, Data: "new content", RecordKey: "rec-1"},
	)
	require.NoError(t, sink.Index(ctx, second))
	assert.Equal(t, 1, sink.Count())
}

func TestIndexSkipsEmptyBlocks(t *testing.T) {
	sink := newTestSink(t)

	tc := blockContext("rec-1", "org-1",
		record.Block{Index: 0, Type: record.BlockText, Data: "", RecordKey: "rec-1"},
		record.Block{Index: 1, Type: record.BlockText, Data: "real content", RecordKey: "rec-1"},
	)
	require.NoError(t, sink.Index(context.Background(), tc))
	assert.Equal(t, 1, sink.Count())
}

func TestRemoveDeletesRecordDocuments(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	require.NoError(t, sink.Index(ctx, blockContext("rec-1", "org-1",
		record.Block{Index: 0, Type: record.BlockText, Data: "keep", RecordKey: "rec-1"})))
	require.NoError(t, sink.Index(ctx, blockContext("rec-2", "org-1",
		record.Block{Index: 0, Type: record.BlockText, Data: "purge", RecordKey: "rec-2"})))

	require.NoError(t, sink.Remove(ctx, "rec-2"))
	assert.Equal(t, 1, sink.Count())
}

func TestRetrieverScopedToOrg(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	require.NoError(t, sink.Index(ctx, blockContext("rec-1", "org-1",
		record.Block{Index: 4, Type: record.BlockText, Data: "the onboarding checklist", RecordKey: "rec-1"})))
	require.NoError(t, sink.Index(ctx, blockContext("rec-2", "org-2",
		record.Block{Index: 0, Type: record.BlockText, Data: "the onboarding checklist", RecordKey: "rec-2"})))

	retriever := NewRetriever(RetrieverConfig{TopK: 5, MinSimilarity: -1}, sink)
	hits, err := retriever.Search(ctx, "org-1", "the onboarding checklist")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "rec-1", hits[0].RecordKey)
	assert.Equal(t, 4, hits[0].BlockIndex, "citation metadata survives retrieval")
	assert.InDelta(t, 1.0, hits[0].Similarity, 0.01, "identical text embeds identically")
}

func TestRetrieverEmptyQuery(t *testing.T) {
	retriever := NewRetriever(RetrieverConfig{}, newTestSink(t))
	_, err := retriever.Search(context.Background(), "org-1", "")
	assert.Error(t, err)
}

func TestRetrieverEmptyIndex(t *testing.T) {
	retriever := NewRetriever(RetrieverConfig{}, newTestSink(t))
	hits, err := retriever.Search(context.Background(), "org-1", "anything")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSplitBlockPassThrough(t *testing.T) {
	cfg := DefaultChunkConfig()
	chunks := splitBlock(cfg, "short text")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0])
}

func TestSplitBlockOnParagraphs(t *testing.T) {
	cfg := ChunkConfig{TargetTokens: 10, MaxTokens: 15}
	para := strings.Repeat("word ", 10) // ~12 tokens
	text := para + "\n\n" + para + "\n\n" + para

	chunks := splitBlock(cfg, text)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, estimateTokens(c), cfg.MaxTokens)
	}
}

func TestSplitBlockHardSplit(t *testing.T) {
	cfg := ChunkConfig{TargetTokens: 10, MaxTokens: 15}
	text := strings.Repeat("word ", 100) // one giant paragraph

	chunks := splitBlock(cfg, text)
	require.Greater(t, len(chunks), 2)
	for _, c := range chunks {
		assert.NotEmpty(t, c)
	}
}

func TestFormatBlocks(t *testing.T) {
	out := FormatBlocks([]RetrievedBlock{
		{RecordKey: "rec-1", BlockIndex: 3, Content: "alpha", Similarity: 0.91},
		{RecordKey: "rec-2", BlockIndex: 0, Content: "beta", Similarity: 0.77},
	})
	assert.Contains(t, out, "[Block 3]")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "[Block 0]")

	assert.Equal(t, "No relevant blocks found.", FormatBlocks(nil))
}
