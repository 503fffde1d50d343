package vectorsink

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// RetrieverConfig holds retrieval configuration.
type RetrieverConfig struct {
	// TopK is the number of results to return (default 5).
	TopK int

	// MinSimilarity filters weak matches (0.0-1.0, default 0.5).
	MinSimilarity float32
}

// RetrievedBlock is one search hit, carrying enough metadata for the
// caller to cite the source block.
type RetrievedBlock struct {
	RecordKey  string
	BlockIndex int
	BlockType  string
	Content    string
	Similarity float32
}

// Retriever runs similarity search over the indexed blocks, scoped to
// one organization.
type Retriever struct {
	config RetrieverConfig
	sink   *Sink
}

// NewRetriever wraps sink with retrieval defaults.
func NewRetriever(config RetrieverConfig, sink *Sink) *Retriever {
	if config.TopK == 0 {
		config.TopK = 5
	}
	if config.MinSimilarity == 0 {
		config.MinSimilarity = 0.5
	}
	return &Retriever{config: config, sink: sink}
}

// Search returns the blocks most similar to query within orgID.
func (r *Retriever) Search(ctx context.Context, orgID, query string) ([]RetrievedBlock, error) {
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	topK := r.config.TopK
	if count := r.sink.Count(); count < topK {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	results, err := r.sink.collection.Query(ctx, query, topK, map[string]string{"org_id": orgID}, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	blocks := make([]RetrievedBlock, 0, len(results))
	for _, res := range results {
		if res.Similarity < r.config.MinSimilarity {
			continue
		}
		index, _ := strconv.Atoi(res.Metadata["block_index"])
		blocks = append(blocks, RetrievedBlock{
			RecordKey:  res.Metadata["record_key"],
			BlockIndex: index,
			BlockType:  res.Metadata["block_type"],
			Content:    res.Content,
			Similarity: res.Similarity,
		})
	}
	return blocks, nil
}

// FormatBlocks renders search hits as numbered context for a prompt.
// The block numbers are the ones the model cites in its final answer.
func FormatBlocks(blocks []RetrievedBlock) string {
	if len(blocks) == 0 {
		return "No relevant blocks found."
	}
	var sb strings.Builder
	for _, b := range blocks {
		fmt.Fprintf(&sb, "[Block %d] (record %s, similarity %.2f)\n", b.BlockIndex, b.RecordKey, b.Similarity)
		sb.WriteString(strings.TrimSpace(b.Content))
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}
