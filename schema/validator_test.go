package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecordDoc() map[string]any {
	return map[string]any{
		"_key":             "r1",
		"orgId":            "org1",
		"externalRecordId": "ext1",
		"recordType":       "FILE",
		"origin":           "CONNECTOR",
		"indexingStatus":   "NOT_STARTED",
		"extractionStatus": "NOT_STARTED",
	}
}

func TestValidateFullAcceptsValidRecord(t *testing.T) {
	v, err := NewDefaultValidator()
	require.NoError(t, err)
	require.NoError(t, v.ValidateFull("records", validRecordDoc()))
}

func TestValidateFullMissingOrgID(t *testing.T) {
	v, err := NewDefaultValidator()
	require.NoError(t, err)

	doc := validRecordDoc()
	delete(doc, "orgId")

	err = v.ValidateFull("records", doc)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "records", ve.Collection)
	assert.Equal(t, "orgId", ve.Path)
}

func TestValidateFullRejectsExtraField(t *testing.T) {
	v, err := NewDefaultValidator()
	require.NoError(t, err)

	doc := validRecordDoc()
	doc["unexpected"] = "x"

	var ve *ValidationError
	require.ErrorAs(t, v.ValidateFull("records", doc), &ve)
}

func TestValidatePartialAcceptsExtraFieldAndMissingRequired(t *testing.T) {
	v, err := NewDefaultValidator()
	require.NoError(t, err)

	// Partial updates may omit required fields and add unknown ones.
	doc := map[string]any{"unexpected": "x", "recordName": "renamed"}
	require.NoError(t, v.ValidatePartial("records", doc))
}

func TestValidatePartialStillEnforcesEnums(t *testing.T) {
	v, err := NewDefaultValidator()
	require.NoError(t, err)

	doc := map[string]any{"indexingStatus": "BOGUS"}
	var ve *ValidationError
	require.ErrorAs(t, v.ValidatePartial("records", doc), &ve)
	assert.Equal(t, "indexingStatus", ve.Path)
}

func TestValidateUnknownCollectionPasses(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.ValidateFull("unregistered", map[string]any{"anything": true}))
}

func TestValidateStripsCompositeID(t *testing.T) {
	v, err := NewDefaultValidator()
	require.NoError(t, err)

	doc := validRecordDoc()
	doc["_id"] = "records/r1"
	require.NoError(t, v.ValidateFull("records", doc))
}

func TestValidateBadEnumValue(t *testing.T) {
	v, err := NewDefaultValidator()
	require.NoError(t, err)

	doc := validRecordDoc()
	doc["recordType"] = "NOT_A_TYPE"
	var ve *ValidationError
	require.ErrorAs(t, v.ValidateFull("records", doc), &ve)
	assert.Equal(t, "recordType", ve.Path)
}
