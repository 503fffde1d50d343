package tools

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semsync/connector"
	"github.com/c360studio/semsync/kvstore"
	"github.com/c360studio/semsync/messaging"
	"github.com/c360studio/semsync/record"
	"github.com/c360studio/semsync/tool"
	"github.com/c360studio/semsync/transform"
	"github.com/c360studio/semsync/transform/vectorsink"
)

// hashEmbedder derives a deterministic unit vector from the text so
// identical text always matches itself perfectly.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, 8)
	var norm float64
	for i := range vec {
		vec[i] = float32(binary.BigEndian.Uint16(sum[i*2:])) / math.MaxUint16
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

type recordingProducer struct {
	mu        sync.Mutex
	published []messaging.Message
}

func (p *recordingProducer) Publish(_ context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, messaging.Message{Topic: topic, Key: key, Value: value})
	return nil
}

func newRetriever(t *testing.T) *vectorsink.Retriever {
	t.Helper()
	sink, err := vectorsink.New(vectorsink.Config{Collection: "test_blocks"}, hashEmbedder{}, nil)
	require.NoError(t, err)

	tc := &transform.Context{
		Record: &record.Record{Key: "rec-1", OrgKey: "org-1"},
		Blocks: record.BlocksContainer{Blocks: []record.Block{
			{Index: 0, RecordKey: "rec-1", Type: record.BlockText, Data: "release notes for version two"},
		}},
	}
	require.NoError(t, sink.Index(context.Background(), tc))
	return vectorsink.NewRetriever(vectorsink.RetrieverConfig{}, sink)
}

func TestRegisterBuiltins(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, Register(registry, Deps{
		Retriever:  newRetriever(t),
		Store:      kvstore.NewMemory(),
		Producer:   &recordingProducer{},
		DefaultOrg: "org-1",
	}))

	for _, name := range []string{
		"retrieval.search_blocks",
		"connector.status",
		"connector.list_types",
		"connector.sync_now",
	} {
		_, ok := registry.Get(name)
		assert.True(t, ok, name)
	}

	// Retrieval survives any filter.
	active := registry.Active([]string{"nothing"})
	require.Len(t, active, 1)
	assert.Equal(t, "retrieval.search_blocks", active[0].FullName())
}

func TestSearchBlocksTool(t *testing.T) {
	search := searchBlocksTool(Deps{Retriever: newRetriever(t), DefaultOrg: "org-1"})

	out, err := search.Handler(context.Background(), map[string]any{"query": "release notes for version two"})
	require.NoError(t, err)
	assert.Contains(t, out, "rec-1")
	assert.Contains(t, out, "release notes")

	_, err = search.Handler(context.Background(), map[string]any{})
	assert.Error(t, err, "query is required")

	// Wrong org finds nothing.
	out, err = search.Handler(context.Background(), map[string]any{
		"query": "release notes for version two",
		"orgId": "org-2",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "No relevant blocks found")
}

func TestConnectorStatusTool(t *testing.T) {
	store := kvstore.NewMemory()
	status := connectorStatusTool(Deps{Store: store})

	out, err := status.Handler(context.Background(), map[string]any{"connector": "webpage"})
	require.NoError(t, err)
	assert.Contains(t, out, "not configured")

	raw, err := json.Marshal(&connector.Config{Enabled: true, IntervalSeconds: 300})
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(),
		fmt.Sprintf(kvstore.PathConnectorConfig, "webpage"), raw, 0))

	syncPoints := connector.NewSyncPointStore(store)
	require.NoError(t, syncPoints.Save(context.Background(), "webpage", &connector.SyncPoint{Cursor: "c42", Epoch: 2}))

	out, err = status.Handler(context.Background(), map[string]any{"connector": "webpage"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, true, decoded["enabled"])
	assert.Equal(t, "c42", decoded["cursor"])
	assert.Equal(t, float64(2), decoded["epoch"])
}

func TestSyncNowTool(t *testing.T) {
	producer := &recordingProducer{}
	syncNow := syncNowTool(Deps{Producer: producer, DefaultOrg: "org-1"})

	out, err := syncNow.Handler(context.Background(), map[string]any{"connector": "webpage"})
	require.NoError(t, err)
	assert.Contains(t, out, "sync requested")

	require.Len(t, producer.published, 1)
	msg := producer.published[0]
	assert.Equal(t, messaging.TopicConnectorEvents, msg.Topic)
	assert.Equal(t, "webpage", msg.Key)

	var event map[string]string
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, "webpage.start", event["eventType"])
	assert.Equal(t, "org-1", event["orgId"])
}
