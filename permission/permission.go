// Package permission evaluates role-based tool allow-lists. A user may
// invoke a tool iff any of their roles allows the tool's full name or
// carries the "*" wildcard. The tool wrapper consults this before every
// invocation.
package permission

import (
	"sync"
)

// Wildcard allows every tool for a role.
const Wildcard = "*"

// Manager holds role assignments and role allow-lists.
type Manager struct {
	mu        sync.RWMutex
	userRoles map[string][]string
	roleTools map[string]map[string]bool
}

// NewManager creates an empty manager. A user with no roles is allowed
// nothing.
func NewManager() *Manager {
	return &Manager{
		userRoles: make(map[string][]string),
		roleTools: make(map[string]map[string]bool),
	}
}

// AssignRole adds role to userID's role set.
func (m *Manager) AssignRole(userID, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.userRoles[userID] {
		if r == role {
			return
		}
	}
	m.userRoles[userID] = append(m.userRoles[userID], role)
}

// GrantTool allows toolName (or Wildcard) for role.
func (m *Manager) GrantTool(role, toolName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tools, ok := m.roleTools[role]
	if !ok {
		tools = make(map[string]bool)
		m.roleTools[role] = tools
	}
	tools[toolName] = true
}

// UserAllowed reports whether any of userID's roles allows toolName.
func (m *Manager) UserAllowed(userID, toolName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, role := range m.userRoles[userID] {
		tools := m.roleTools[role]
		if tools[Wildcard] || tools[toolName] {
			return true
		}
	}
	return false
}

// Roles returns a copy of userID's role set.
func (m *Manager) Roles(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.userRoles[userID]...)
}
