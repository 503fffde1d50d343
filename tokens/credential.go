// Package tokens implements the credential refresh service. Two instances
// run in the platform, one for connectors and one for toolsets; both keep
// OAuth credentials in the KV store fresh ahead of expiry and let in-flight
// clients hot-swap to the newest tokens without tearing down connections.
package tokens

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status tracks the health of a managed credential.
type Status string

// Credential statuses.
const (
	StatusActive   Status = "active"
	StatusDegraded Status = "degraded"
	StatusInvalid  Status = "invalid"
)

// Credential is the token material persisted in the KV store. The KV store
// is the single source of truth; in-memory copies reconcile against it on
// every use.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"access_token_expiry_time,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Status       Status    `json:"status,omitempty"`

	// Toolset names the toolset type for per-user toolset credentials,
	// locating the OAuth client that refreshes them. Empty for connector
	// credentials.
	Toolset string `json:"toolset,omitempty"`
}

// Decode parses a stored credential.
func Decode(raw []byte) (Credential, error) {
	var c Credential
	if err := json.Unmarshal(raw, &c); err != nil {
		return Credential{}, fmt.Errorf("decode credential: %w", err)
	}
	return c, nil
}

// Encode serializes a credential for the KV store.
func (c Credential) Encode() ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}
	return raw, nil
}

// Equal reports whether both token values match. Expiry and status are
// deliberately excluded: holders only rebuild when token material changes.
func (c Credential) Equal(other Credential) bool {
	return c.AccessToken == other.AccessToken && c.RefreshToken == other.RefreshToken
}
