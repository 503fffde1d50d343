package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{"not started to in progress", StatusNotStarted, StatusInProgress, true},
		{"in progress to completed", StatusInProgress, StatusCompleted, true},
		{"in progress to failed", StatusInProgress, StatusFailed, true},
		{"completed stays until revision reset", StatusCompleted, StatusInProgress, false},
		{"completed resets on revision change", StatusCompleted, StatusNotStarted, true},
		{"failed retries", StatusFailed, StatusInProgress, true},
		{"no skipping in progress", StatusNotStarted, StatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestRecordValidate(t *testing.T) {
	r := &Record{
		Key:        "r1",
		OrgKey:     "org1",
		ExternalID: "ext1",
		Type:       TypeFile,
	}
	require.NoError(t, r.Validate())

	missing := &Record{Key: "r2", ExternalID: "ext", Type: TypeFile}
	assert.Error(t, missing.Validate())
}

func TestNewIsOfTypeEdgeSharesTimestamps(t *testing.T) {
	now := time.Now()
	e := NewIsOfTypeEdge("r1", "f1", now)
	assert.Equal(t, "records/r1", e.From)
	assert.Equal(t, "fileRecords/f1", e.To)
	assert.Equal(t, EdgeIsOfType, e.Relation)
	assert.Equal(t, e.CreatedAt, e.UpdatedAt)
}

func TestBlockID(t *testing.T) {
	b := Block{Index: 3, RecordKey: "r9", Type: BlockText, Format: FormatMarkdown}
	assert.Equal(t, "r9#3", b.BlockID())
}

func TestPermissionValidate(t *testing.T) {
	p := &Permission{Role: RoleReader, EntityType: EntityUser, Email: "a@b.c"}
	require.NoError(t, p.Validate())

	anyone := &Permission{Role: RoleReader, EntityType: EntityAnyone}
	require.NoError(t, anyone.Validate())

	noPrincipal := &Permission{Role: RoleReader, EntityType: EntityUser}
	assert.Error(t, noPrincipal.Validate())
}
