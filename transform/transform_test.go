package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semsync/record"
)

type fakeSinks struct {
	calls []string

	blobErr   error
	vectorErr error
	graphErr  error
}

func (f *fakeSinks) Store(_ context.Context, _ *Context) error {
	f.calls = append(f.calls, "blob")
	return f.blobErr
}

func (f *fakeSinks) StoreReconciliation(_ context.Context, _ string, _ *Reconciliation) error {
	f.calls = append(f.calls, "reconcile")
	return nil
}

func (f *fakeSinks) Index(_ context.Context, _ *Context) error {
	f.calls = append(f.calls, "vector")
	return f.vectorErr
}

func (f *fakeSinks) Upsert(_ context.Context, _ *Context) error {
	f.calls = append(f.calls, "graph")
	return f.graphErr
}

func testContext() *Context {
	return &Context{
		Record: &record.Record{
			Key:            "rec-1",
			OrgKey:         "org-1",
			ExternalID:     "ext-1",
			Type:           record.TypeFile,
			Origin:         record.OriginConnector,
			IndexingStatus: record.StatusNotStarted,
		},
		Content:        []byte("hello"),
		Reconciliation: &Reconciliation{ContentHash: "h1"},
	}
}

func TestOrchestratorSinkOrder(t *testing.T) {
	sinks := &fakeSinks{}
	o := NewOrchestrator(sinks, sinks, sinks, nil)

	tc := testContext()
	require.NoError(t, o.Apply(context.Background(), tc))

	assert.Equal(t, []string{"blob", "vector", "reconcile", "graph"}, sinks.calls)
	assert.Equal(t, record.StatusCompleted, tc.Record.IndexingStatus)
}

func TestOrchestratorBlobFailureIsFatal(t *testing.T) {
	sinks := &fakeSinks{blobErr: NewError(KindIndexing, "rec-1", errors.New("bucket down"))}
	o := NewOrchestrator(sinks, sinks, sinks, nil)

	tc := testContext()
	err := o.Apply(context.Background(), tc)
	require.Error(t, err)
	assert.Equal(t, record.StatusFailed, tc.Record.IndexingStatus)
	assert.Equal(t, []string{"blob"}, sinks.calls, "no sink runs after a blob failure")
}

func TestOrchestratorVectorFailureRetainsBlob(t *testing.T) {
	sinks := &fakeSinks{vectorErr: NewError(KindEmbedding, "rec-1", errors.New("embedder timeout")).Retryable()}
	o := NewOrchestrator(sinks, sinks, sinks, nil)

	tc := testContext()
	err := o.Apply(context.Background(), tc)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, record.StatusFailed, tc.Record.IndexingStatus)
	assert.Equal(t, []string{"blob", "vector"}, sinks.calls,
		"blob write retained, graph never sees the failed version")
}

func TestOrchestratorSkipVector(t *testing.T) {
	sinks := &fakeSinks{}
	o := NewOrchestrator(sinks, sinks, sinks, nil)

	tc := testContext()
	tc.Settings.SkipVector = true
	require.NoError(t, o.Apply(context.Background(), tc))

	assert.Equal(t, []string{"blob", "reconcile", "graph"}, sinks.calls)
	assert.Equal(t, record.StatusAutoIndexOff, tc.Record.IndexingStatus)
}

func TestOrchestratorUnchangedContentSkipsVectorOnly(t *testing.T) {
	sinks := &fakeSinks{}
	o := NewOrchestrator(sinks, sinks, sinks, nil)

	tc := testContext()
	tc.Reconciliation = &Reconciliation{PreviousContentHash: "h1", ContentHash: "h1"}
	require.NoError(t, o.Apply(context.Background(), tc))

	assert.Equal(t, []string{"blob", "reconcile", "graph"}, sinks.calls)
	assert.Equal(t, record.StatusCompleted, tc.Record.IndexingStatus)
}

func TestOrchestratorCompletedUnchangedRevisionNoop(t *testing.T) {
	sinks := &fakeSinks{}
	o := NewOrchestrator(sinks, sinks, sinks, nil)

	tc := testContext()
	tc.Record.IndexingStatus = record.StatusCompleted
	tc.Record.ExternalRevisionID = "v7"
	tc.Reconciliation.PreviousRevisionID = "v7"
	require.NoError(t, o.Apply(context.Background(), tc))

	assert.Empty(t, sinks.calls, "completed record with unchanged revision is never re-indexed")
	assert.Equal(t, record.StatusCompleted, tc.Record.IndexingStatus)
}

func TestOrchestratorCancelledBetweenSinks(t *testing.T) {
	sinks := &fakeSinks{}
	o := NewOrchestrator(sinks, sinks, sinks, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tc := testContext()
	err := o.Apply(ctx, tc)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"blob"}, sinks.calls)
}

func TestReconciliationUnchanged(t *testing.T) {
	assert.False(t, (&Reconciliation{ContentHash: "h1"}).Unchanged(), "first run is never unchanged")
	assert.True(t, (&Reconciliation{PreviousContentHash: "h1", ContentHash: "h1"}).Unchanged())
	assert.False(t, (&Reconciliation{PreviousContentHash: "h1", ContentHash: "h2"}).Unchanged())

	var nilRec *Reconciliation
	assert.False(t, nilRec.Unchanged())
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(KindVectorStore, "rec-9", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "VectorStoreError")
	assert.Contains(t, err.Error(), "rec-9")
	assert.False(t, IsTransient(err))
	assert.True(t, IsTransient(err.Retryable()))

	assert.False(t, IsTransient(errors.New("plain")))
	assert.False(t, IsTransient(nil))
}
