package schema

// defaultSchemas holds the canonical document schemas per graph collection.
// They mirror the record model in the record package; the graph sink
// validates every node against its collection schema before publishing.
var defaultSchemas = map[string]string{
	"records": `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["_key", "orgId", "externalRecordId", "recordType", "origin", "indexingStatus", "extractionStatus"],
		"additionalProperties": false,
		"properties": {
			"_key": {"type": "string", "minLength": 1},
			"orgId": {"type": "string", "minLength": 1},
			"externalRecordId": {"type": "string", "minLength": 1},
			"recordName": {"type": "string"},
			"recordType": {"type": "string", "enum": ["FILE", "MAIL", "LINK", "PAGE", "WEBPAGE", "COMMENT", "TICKET", "PROJECT", "SQL_TABLE", "SQL_VIEW"]},
			"origin": {"type": "string", "enum": ["CONNECTOR", "UPLOAD"]},
			"connectorName": {"type": "string"},
			"sourceCreatedAtTimestamp": {"type": "string"},
			"sourceLastModifiedTimestamp": {"type": "string"},
			"webUrl": {"type": "string"},
			"mimeType": {"type": "string"},
			"externalRevisionId": {"type": "string"},
			"indexingStatus": {"type": "string", "enum": ["NOT_STARTED", "IN_PROGRESS", "COMPLETED", "FAILED", "AUTO_INDEX_OFF"]},
			"extractionStatus": {"type": "string", "enum": ["NOT_STARTED", "IN_PROGRESS", "COMPLETED", "FAILED", "AUTO_INDEX_OFF"]},
			"virtualRecordId": {"type": "string"}
		}
	}`,
	"fileRecords": `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["_key", "orgId", "name"],
		"additionalProperties": false,
		"properties": {
			"_key": {"type": "string", "minLength": 1},
			"orgId": {"type": "string", "minLength": 1},
			"name": {"type": "string", "minLength": 1},
			"extension": {"type": "string"},
			"mimeType": {"type": "string"},
			"sizeInBytes": {"type": "integer", "minimum": 0},
			"path": {"type": "string"},
			"etag": {"type": "string"},
			"ctag": {"type": "string"},
			"checksums": {
				"type": "object",
				"additionalProperties": false,
				"properties": {
					"quickXorHash": {"type": "string"},
					"crc32Checksum": {"type": "string"},
					"md5Checksum": {"type": "string"},
					"sha1Hash": {"type": "string"},
					"sha256Hash": {"type": "string"}
				}
			}
		}
	}`,
	"permissions": `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["role", "type"],
		"additionalProperties": true,
		"properties": {
			"externalPermissionId": {"type": "string"},
			"email": {"type": "string"},
			"role": {"type": "string", "enum": ["READER", "WRITER", "OWNER", "COMMENTER", "OTHERS"]},
			"type": {"type": "string", "enum": ["USER", "GROUP", "ROLE", "DOMAIN", "ORG", "TEAM", "ANYONE", "ANYONE_WITH_LINK"]},
			"createdAtTimestamp": {"type": "string"},
			"updatedAtTimestamp": {"type": "string"}
		}
	}`,
}
