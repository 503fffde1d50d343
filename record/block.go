package record

import "strconv"

// BlockType classifies a content fragment inside a record.
type BlockType string

// Block types.
const (
	BlockText  BlockType = "text"
	BlockImage BlockType = "image"
	BlockTable BlockType = "table"
	BlockRow   BlockType = "row"
	BlockCode  BlockType = "code"
)

// DataFormat describes the encoding of a block's payload.
type DataFormat string

// Block data formats.
const (
	FormatPlain    DataFormat = "plain"
	FormatMarkdown DataFormat = "markdown"
	FormatBase64   DataFormat = "base64"
	FormatJSON     DataFormat = "json"
)

// Block is an ordered content fragment inside a record. Blocks are the unit
// of citation: the agent assigns block numbers at prompt-construction time
// and the same numbers are persisted with retrieval results.
type Block struct {
	// Index is the block's position within its record, starting at 0.
	Index int `json:"index"`

	Type   BlockType  `json:"type"`
	Format DataFormat `json:"format"`

	// Data is the payload, encoded per Format.
	Data string `json:"data"`

	// RecordKey ties the block back to its parent record.
	RecordKey string `json:"recordKey,omitempty"`
}

// GroupType classifies a block group.
type GroupType string

// Block group types.
const (
	GroupTable       GroupType = "table"
	GroupView        GroupType = "view"
	GroupSection     GroupType = "section"
	GroupChildRecord GroupType = "child_record"
)

// BlockGroup is an ordered collection of blocks with shared structure, such
// as a table or a section. Child records are referenced by key rather than
// held in memory, so record trees never form in-process cycles.
type BlockGroup struct {
	Index int       `json:"index"`
	Type  GroupType `json:"type"`
	Name  string    `json:"name,omitempty"`

	// BlockIndexes are positions into the container's block slice.
	BlockIndexes []int `json:"blockIndexes,omitempty"`

	// ChildRecordKey references a child record for GroupChildRecord.
	ChildRecordKey string `json:"childRecordKey,omitempty"`
}

// BlocksContainer bundles a record's decomposed content.
type BlocksContainer struct {
	Blocks      []Block      `json:"blocks"`
	BlockGroups []BlockGroup `json:"block_groups,omitempty"`
}

// BlockID identifies a block across the retrieval and citation layers.
// Two retrieval hits for the same block deduplicate on this identity.
func (b Block) BlockID() string {
	return b.RecordKey + "#" + strconv.Itoa(b.Index)
}
