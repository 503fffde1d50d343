// Package vectorsink indexes record blocks into an embedded chromem-go
// vector store. Each block becomes one or more documents under the
// record's namespace; re-indexing a record replaces its previous
// documents so stale chunks never survive an update.
package vectorsink

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"github.com/c360studio/semsync/record"
	"github.com/c360studio/semsync/transform"
)

// Embedder generates embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds vector store configuration.
type Config struct {
	// PersistPath persists the store on disk when set; empty keeps it
	// in memory.
	PersistPath string

	// Collection is the chromem collection name.
	Collection string

	Chunking ChunkConfig
}

// Sink implements transform.VectorSink on chromem-go.
type Sink struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     Config
	logger     *slog.Logger
}

// New creates the vector sink, opening or creating the collection.
func New(config Config, embedder Embedder, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Collection == "" {
		config.Collection = "record_blocks"
	}
	if config.Chunking.TargetTokens == 0 {
		config.Chunking = DefaultChunkConfig()
	}

	var db *chromem.DB
	var err error
	if config.PersistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(config.PersistPath, "chromem.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("create persistent DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(config.Collection, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", config.Collection, err)
	}

	return &Sink{db: db, collection: collection, config: config, logger: logger}, nil
}

// Index implements transform.VectorSink. The record's previous documents
// are removed first so the index always reflects exactly the current
// block set.
func (s *Sink) Index(ctx context.Context, tc *transform.Context) error {
	key := tc.Record.Key

	if err := s.collection.Delete(ctx, map[string]string{"record_key": key}, nil); err != nil {
		return transform.NewError(transform.KindVectorStore, key,
			fmt.Errorf("delete stale documents: %w", err)).Retryable()
	}

	for _, block := range tc.Blocks.Blocks {
		if block.Data == "" {
			continue
		}
		chunks := splitBlock(s.config.Chunking, block.Data)
		for i, chunk := range chunks {
			doc := chromem.Document{
				ID:      documentID(block, i, len(chunks)),
				Content: chunk,
				Metadata: map[string]string{
					"record_key":  key,
					"org_id":      tc.Record.OrgKey,
					"block_index": strconv.Itoa(block.Index),
					"block_type":  string(block.Type),
				},
			}
			if err := s.collection.AddDocument(ctx, doc); err != nil {
				return transform.NewError(transform.KindEmbedding, key,
					fmt.Errorf("index block %d: %w", block.Index, err)).Retryable()
			}
		}
	}

	s.logger.Debug("Record indexed", "record", key, "blocks", len(tc.Blocks.Blocks))
	return nil
}

// Remove deletes every document belonging to recordKey. Used when a
// record is purged after deletion at the source.
func (s *Sink) Remove(ctx context.Context, recordKey string) error {
	if err := s.collection.Delete(ctx, map[string]string{"record_key": recordKey}, nil); err != nil {
		return fmt.Errorf("remove documents for %s: %w", recordKey, err)
	}
	return nil
}

// Count returns the total indexed document count.
func (s *Sink) Count() int {
	return s.collection.Count()
}

func documentID(block record.Block, chunk, total int) string {
	id := block.BlockID()
	if total > 1 {
		id += "/c" + strconv.Itoa(chunk)
	}
	return id
}
