// Package schema validates graph node documents against per-collection
// JSON Schemas before they are handed to the graph sink. Validation
// failures never reach the graph publisher.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

// ValidationError is the typed error raised for schema violations.
type ValidationError struct {
	Collection string `json:"collection"`
	Path       string `json:"path"`
	Message    string `json:"message"`
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("schema validation failed for collection %s: %s", e.Collection, e.Message)
	}
	return fmt.Sprintf("schema validation failed for collection %s at %s: %s", e.Collection, e.Path, e.Message)
}

// Validator compiles and applies per-collection schemas. Collections
// without a registered schema pass validation silently.
type Validator struct {
	mu          sync.RWMutex
	collections map[string]*compiled
}

type compiled struct {
	full    *jsonschema.Schema
	partial *jsonschema.Schema
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{collections: make(map[string]*compiled)}
}

// NewDefaultValidator creates a validator preloaded with the canonical
// document schemas (records, fileRecords, permissions).
func NewDefaultValidator() (*Validator, error) {
	v := NewValidator()
	for collection, raw := range defaultSchemas {
		if err := v.RegisterCollection(collection, []byte(raw)); err != nil {
			return nil, fmt.Errorf("register %s schema: %w", collection, err)
		}
	}
	return v, nil
}

// RegisterCollection compiles schemaJSON for collection in both modes:
// full (insert/upsert) and partial (update). Partial mode strips the
// required constraint and forces additionalProperties to true while still
// enforcing types and enums for fields present.
func (v *Validator) RegisterCollection(collection string, schemaJSON []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return fmt.Errorf("parse schema for %s: %w", collection, err)
	}

	full, err := compileSchema(collection+"-full.json", doc)
	if err != nil {
		return fmt.Errorf("compile full schema for %s: %w", collection, err)
	}

	partialDoc := relaxForPartial(doc)
	partial, err := compileSchema(collection+"-partial.json", partialDoc)
	if err != nil {
		return fmt.Errorf("compile partial schema for %s: %w", collection, err)
	}

	v.mu.Lock()
	v.collections[collection] = &compiled{full: full, partial: partial}
	v.mu.Unlock()
	return nil
}

func compileSchema(name string, doc map[string]any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(name)
}

// relaxForPartial produces the update-mode variant of a schema document.
func relaxForPartial(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, val := range doc {
		if k == "required" {
			continue
		}
		out[k] = val
	}
	out["additionalProperties"] = true
	return out
}

// ValidateFull validates doc for insert/upsert into collection.
func (v *Validator) ValidateFull(collection string, doc map[string]any) error {
	return v.validate(collection, doc, true)
}

// ValidatePartial validates doc for a partial update of collection.
func (v *Validator) ValidatePartial(collection string, doc map[string]any) error {
	return v.validate(collection, doc, false)
}

func (v *Validator) validate(collection string, doc map[string]any, full bool) error {
	v.mu.RLock()
	c, ok := v.collections[collection]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	schema := c.partial
	if full {
		schema = c.full
	}

	// The composite _id is assembled by the driver and never validated.
	instance := stripID(doc)

	if err := schema.Validate(instance); err != nil {
		return toValidationError(collection, err)
	}
	return nil
}

func stripID(doc map[string]any) map[string]any {
	if _, ok := doc["_id"]; !ok {
		return doc
	}
	out := make(map[string]any, len(doc))
	for k, val := range doc {
		if k == "_id" {
			continue
		}
		out[k] = val
	}
	return out
}

// toValidationError converts a jsonschema error into the typed,
// path-qualified error surfaced to callers.
func toValidationError(collection string, err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Collection: collection, Message: err.Error()}
	}
	leaf := leafCause(ve)
	path := strings.Join(leaf.InstanceLocation, "/")
	msg := leaf.Error()

	// Required-property failures report the missing property as the path.
	if missing := missingProperty(leaf); missing != "" {
		if path == "" {
			path = missing
		} else {
			path = path + "/" + missing
		}
	}
	return &ValidationError{Collection: collection, Path: path, Message: msg}
}

func leafCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

func missingProperty(ve *jsonschema.ValidationError) string {
	if req, ok := ve.ErrorKind.(*kind.Required); ok && len(req.Missing) > 0 {
		return req.Missing[0]
	}
	return ""
}
