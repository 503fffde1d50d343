// Package record defines the canonical content model shared by connectors,
// the transform pipeline and the agent runtime. A Record is the system's
// source-agnostic content unit; file-backed records carry a FileRecord
// subtype linked by an is_of_type edge.
package record

import (
	"fmt"
	"time"
)

// RecordType classifies the shape of a record's source artifact.
type RecordType string

// Record types.
const (
	TypeFile     RecordType = "FILE"
	TypeMail     RecordType = "MAIL"
	TypeLink     RecordType = "LINK"
	TypePage     RecordType = "PAGE"
	TypeWebpage  RecordType = "WEBPAGE"
	TypeComment  RecordType = "COMMENT"
	TypeTicket   RecordType = "TICKET"
	TypeProject  RecordType = "PROJECT"
	TypeSQLTable RecordType = "SQL_TABLE"
	TypeSQLView  RecordType = "SQL_VIEW"
)

// Origin identifies how a record entered the system.
type Origin string

// Record origins.
const (
	OriginConnector Origin = "CONNECTOR"
	OriginUpload    Origin = "UPLOAD"
)

// Status tracks indexing and extraction progress for a record.
type Status string

// Indexing/extraction statuses.
const (
	StatusNotStarted   Status = "NOT_STARTED"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusAutoIndexOff Status = "AUTO_INDEX_OFF"
)

// CanTransition reports whether s may progress to next. Statuses advance
// NOT_STARTED -> IN_PROGRESS -> {COMPLETED, FAILED, AUTO_INDEX_OFF}; a
// COMPLETED record only re-enters IN_PROGRESS when its external revision
// changes, which callers signal by resetting to NOT_STARTED first.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusNotStarted:
		return next == StatusInProgress || next == StatusAutoIndexOff
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed || next == StatusAutoIndexOff
	case StatusFailed:
		return next == StatusInProgress
	case StatusCompleted, StatusAutoIndexOff:
		return next == StatusNotStarted
	default:
		return false
	}
}

// Record is the central content entity.
type Record struct {
	// Key is the stable record identifier.
	Key string `json:"_key"`

	// OrgKey is the owning organization.
	OrgKey string `json:"orgId"`

	// ExternalID is the source-side identifier.
	ExternalID string `json:"externalRecordId"`

	// Name is the display name of the record.
	Name string `json:"recordName"`

	Type   RecordType `json:"recordType"`
	Origin Origin     `json:"origin"`

	// ConnectorName names the connector that produced the record, if any.
	ConnectorName string `json:"connectorName,omitempty"`

	// SourceCreatedAt and SourceModifiedAt are source-side timestamps.
	SourceCreatedAt  time.Time `json:"sourceCreatedAtTimestamp"`
	SourceModifiedAt time.Time `json:"sourceLastModifiedTimestamp"`

	WebURL   string `json:"webUrl,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// ExternalRevisionID changes when the source content changes; a
	// COMPLETED record is only re-indexed when this differs.
	ExternalRevisionID string `json:"externalRevisionId,omitempty"`

	IndexingStatus   Status `json:"indexingStatus"`
	ExtractionStatus Status `json:"extractionStatus"`

	// VirtualRecordID groups records sharing identical content across
	// sources. Content-hash equivalence at minimum.
	VirtualRecordID string `json:"virtualRecordId,omitempty"`
}

// Validate checks the structural invariants of a record.
func (r *Record) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("record key is required")
	}
	if r.OrgKey == "" {
		return fmt.Errorf("record %s: org key is required", r.Key)
	}
	if r.ExternalID == "" {
		return fmt.Errorf("record %s: external id is required", r.Key)
	}
	if r.Type == "" {
		return fmt.Errorf("record %s: type is required", r.Key)
	}
	return nil
}

// Checksums is the tuple of content digests a file record may carry.
// Sources populate whichever digests they expose.
type Checksums struct {
	QuickXorHash string `json:"quickXorHash,omitempty"`
	CRC32        string `json:"crc32Checksum,omitempty"`
	MD5          string `json:"md5Checksum,omitempty"`
	SHA1         string `json:"sha1Hash,omitempty"`
	SHA256       string `json:"sha256Hash,omitempty"`
}

// FileRecord carries file-specific attributes for records of TypeFile.
type FileRecord struct {
	Key       string    `json:"_key"`
	OrgKey    string    `json:"orgId"`
	Name      string    `json:"name"`
	Extension string    `json:"extension,omitempty"`
	MimeType  string    `json:"mimeType,omitempty"`
	SizeBytes int64     `json:"sizeInBytes"`
	Path      string    `json:"path,omitempty"`
	ETag      string    `json:"etag,omitempty"`
	CTag      string    `json:"ctag,omitempty"`
	Checksums Checksums `json:"checksums"`
}

// Edge relates two graph nodes. The is_of_type edge between a Record and
// its FileRecord is created in the same atomic unit as both nodes.
type Edge struct {
	From      string    `json:"_from"`
	To        string    `json:"_to"`
	Relation  string    `json:"relation"`
	CreatedAt time.Time `json:"createdAtTimestamp"`
	UpdatedAt time.Time `json:"updatedAtTimestamp"`
}

// EdgeIsOfType is the relation linking a Record to its subtype node.
const EdgeIsOfType = "is_of_type"

// NewIsOfTypeEdge builds the record -> file-record edge with shared
// timestamps, satisfying the one-record-one-file-record invariant.
func NewIsOfTypeEdge(recordKey, fileRecordKey string, now time.Time) Edge {
	return Edge{
		From:      "records/" + recordKey,
		To:        "fileRecords/" + fileRecordKey,
		Relation:  EdgeIsOfType,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
