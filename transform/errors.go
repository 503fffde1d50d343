package transform

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline errors for the retry policy and for callers.
type Kind string

// Pipeline error kinds.
const (
	KindIndexing           Kind = "IndexingError"
	KindDocumentProcessing Kind = "DocumentProcessingError"
	KindEmbedding          Kind = "EmbeddingError"
	KindVectorStore        Kind = "VectorStoreError"
	KindChunking           Kind = "ChunkingError"
	KindExtraction         Kind = "ExtractionError"
)

// Error is the typed pipeline error surfaced to callers.
type Error struct {
	Kind     Kind   `json:"kind"`
	Message  string `json:"message"`
	RecordID string `json:"record_id,omitempty"`
	Details  string `json:"details,omitempty"`

	// Transient marks failures that are safe to retry at the record level.
	Transient bool `json:"-"`

	cause error
}

// Error implements error.
func (e *Error) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("%s for record %s: %s", e.Kind, e.RecordID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// NewError builds a typed pipeline error wrapping cause.
func NewError(kind Kind, recordID string, cause error) *Error {
	e := &Error{Kind: kind, RecordID: recordID, cause: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// Retryable marks e as transient and returns it.
func (e *Error) Retryable() *Error {
	e.Transient = true
	return e
}

// IsTransient reports whether err is safe to retry for the same record.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Transient
}
