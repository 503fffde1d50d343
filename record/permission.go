package record

import (
	"fmt"
	"time"
)

// Role is the access level a principal holds on a resource.
type Role string

// Permission roles.
const (
	RoleReader    Role = "READER"
	RoleWriter    Role = "WRITER"
	RoleOwner     Role = "OWNER"
	RoleCommenter Role = "COMMENTER"
	RoleOthers    Role = "OTHERS"
)

// EntityType is the kind of principal a permission applies to.
type EntityType string

// Permission entity types.
const (
	EntityUser           EntityType = "USER"
	EntityGroup          EntityType = "GROUP"
	EntityRole           EntityType = "ROLE"
	EntityDomain         EntityType = "DOMAIN"
	EntityOrg            EntityType = "ORG"
	EntityTeam           EntityType = "TEAM"
	EntityAnyone         EntityType = "ANYONE"
	EntityAnyoneWithLink EntityType = "ANYONE_WITH_LINK"
)

// Permission models an access grant as an edge between a principal and a
// resource node.
type Permission struct {
	ExternalID string     `json:"externalPermissionId,omitempty"`
	Email      string     `json:"email,omitempty"`
	Role       Role       `json:"role"`
	EntityType EntityType `json:"type"`
	CreatedAt  time.Time  `json:"createdAtTimestamp"`
	UpdatedAt  time.Time  `json:"updatedAtTimestamp"`
}

// Validate checks that the permission identifies a principal and a role.
func (p *Permission) Validate() error {
	if p.Role == "" {
		return fmt.Errorf("permission role is required")
	}
	if p.EntityType == "" {
		return fmt.Errorf("permission entity type is required")
	}
	if p.ExternalID == "" && p.Email == "" &&
		p.EntityType != EntityAnyone && p.EntityType != EntityAnyoneWithLink {
		return fmt.Errorf("permission requires external id or email")
	}
	return nil
}
