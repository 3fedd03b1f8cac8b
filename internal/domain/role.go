package domain

import "time"

// BackendKind identifies which authorization backend owns a role.
type BackendKind string

const (
	// BackendDirectory is the tenant-wide directory role backend (Entra).
	BackendDirectory BackendKind = "DIRECTORY"
	// BackendResource is the resource-scoped role backend (ARM).
	BackendResource BackendKind = "RESOURCE"
)

// ScopeClass is the coarse classification of a role's scope, derived from
// the backend-native scope identifier.
type ScopeClass string

const (
	ScopeDirectory     ScopeClass = "DIRECTORY"
	ScopeCustom        ScopeClass = "CUSTOM"
	ScopeSubscription  ScopeClass = "SUBSCRIPTION"
	ScopeResourceGroup ScopeClass = "RESOURCE_GROUP"
	ScopeResource      ScopeClass = "RESOURCE"
)

// IdentityKey matches an eligible role against its active grant within one
// backend. Keys are backend-local; the two backends never share a key space.
type IdentityKey struct {
	RoleDefinitionID string
	ScopeID          string
}

// Role is the unified eligible-role record built during discovery.
// It is read-only after the catalog is assembled.
type Role struct {
	DisplayName      string      `json:"display_name"`
	RoleDefinitionID string      `json:"role_definition_id"`
	PrincipalID      string      `json:"principal_id"`
	ScopeID          string      `json:"scope_id"`
	ScopeDisplayName string      `json:"scope_display_name"`
	ScopeClass       ScopeClass  `json:"scope_class"`
	Backend          BackendKind `json:"backend"`

	// Activity state, stamped by the catalog builder from the active-grant
	// listing. ActiveAssignmentID and ExpiresAt are set iff IsActive.
	IsActive           bool       `json:"is_active"`
	ActiveAssignmentID string     `json:"active_assignment_id,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

// Key returns the identity key used to match this role against an active grant.
func (r Role) Key() IdentityKey {
	return IdentityKey{RoleDefinitionID: r.RoleDefinitionID, ScopeID: r.ScopeID}
}

// ActiveGrant is a backend-native active assignment, fetched fresh each
// session and discarded after being folded into the catalog.
type ActiveGrant struct {
	Key          IdentityKey
	AssignmentID string
	ActivatedAt  time.Time
	ExpiresAt    time.Time
}
