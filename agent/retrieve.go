package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semsync/cache"
	"github.com/c360studio/semsync/transform/vectorsink"
)

// conditionalRetrieve runs the parallel retrieval queries, merges and
// deduplicates the hits by block identity and assigns block numbers.
// Results are cached per (org, queries) tuple.
func (l *Loop) conditionalRetrieve(ctx context.Context, state *State, needed bool) error {
	if !needed || l.retriever == nil {
		return nil
	}

	queries := retrievalQueries(state.Query.Question, state.Class)

	var cacheKey string
	if l.caches != nil {
		cacheKey = cache.Key("retrieval", state.Query.OrgKey, queries)
		if value, hit := l.caches.Retrieval().Get(cacheKey); hit {
			if blocks, ok := value.([]RetrievalBlock); ok {
				state.RetrievalBlocks = blocks
				return nil
			}
		}
	}

	var mu sync.Mutex
	var hits []vectorsink.RetrievedBlock

	g, gctx := errgroup.WithContext(ctx)
	for _, query := range queries {
		g.Go(func() error {
			found, err := l.retriever.Search(gctx, state.Query.OrgKey, query)
			if err != nil {
				return fmt.Errorf("retrieve %q: %w", query, err)
			}
			mu.Lock()
			hits = append(hits, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Retrieval is best-effort context; the loop continues without it.
		state.Errors = append(state.Errors, err.Error())
		l.logger.Warn("Retrieval failed", "error", err)
		return nil
	}

	state.RetrievalBlocks = numberBlocks(hits)
	if cacheKey != "" {
		l.caches.Retrieval().Put(cacheKey, state.RetrievalBlocks)
	}
	return nil
}

// numberBlocks deduplicates hits by block identity, orders them by
// similarity and assigns the 1-based block numbers the model cites.
func numberBlocks(hits []vectorsink.RetrievedBlock) []RetrievalBlock {
	type identity struct {
		recordKey  string
		blockIndex int
	}
	seen := make(map[identity]vectorsink.RetrievedBlock)
	for _, hit := range hits {
		id := identity{hit.RecordKey, hit.BlockIndex}
		if prev, ok := seen[id]; !ok || hit.Similarity > prev.Similarity {
			seen[id] = hit
		}
	}

	unique := make([]vectorsink.RetrievedBlock, 0, len(seen))
	for _, hit := range seen {
		unique = append(unique, hit)
	}
	sort.Slice(unique, func(i, j int) bool {
		if unique[i].Similarity != unique[j].Similarity {
			return unique[i].Similarity > unique[j].Similarity
		}
		if unique[i].RecordKey != unique[j].RecordKey {
			return unique[i].RecordKey < unique[j].RecordKey
		}
		return unique[i].BlockIndex < unique[j].BlockIndex
	})

	blocks := make([]RetrievalBlock, len(unique))
	for i, hit := range unique {
		blocks[i] = RetrievalBlock{
			Number:     i + 1,
			RecordKey:  hit.RecordKey,
			BlockIndex: hit.BlockIndex,
			BlockType:  hit.BlockType,
			Content:    hit.Content,
			Similarity: hit.Similarity,
		}
	}
	return blocks
}

// formatRetrievalContext renders the numbered blocks for the prompt.
func formatRetrievalContext(blocks []RetrievalBlock) string {
	if len(blocks) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Retrieved context blocks (cite by number):\n\n")
	for _, b := range blocks {
		fmt.Fprintf(&sb, "[Block %d] (record %s)\n%s\n\n", b.Number, b.RecordKey, strings.TrimSpace(b.Content))
	}
	return strings.TrimSpace(sb.String())
}
