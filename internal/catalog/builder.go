// Package catalog merges the two backends' eligibility and active-grant
// listings into one unified role catalog.
package catalog

import "vn.io.arda/pim/internal/domain"

// Build concatenates the eligibility lists (directory backend first, each
// backend's native order preserved) and stamps every role with its activity
// state from the same-backend grant map. Pure merge, no I/O.
func Build(
	directoryRoles, resourceRoles []domain.Role,
	activeDirectory, activeResource map[domain.IdentityKey]domain.ActiveGrant,
) []domain.Role {
	out := make([]domain.Role, 0, len(directoryRoles)+len(resourceRoles))
	out = append(out, stamp(directoryRoles, activeDirectory)...)
	out = append(out, stamp(resourceRoles, activeResource)...)
	return out
}

func stamp(roles []domain.Role, grants map[domain.IdentityKey]domain.ActiveGrant) []domain.Role {
	stamped := make([]domain.Role, len(roles))
	for i, role := range roles {
		if grant, ok := grants[role.Key()]; ok {
			role.IsActive = true
			role.ActiveAssignmentID = grant.AssignmentID
			expires := grant.ExpiresAt
			role.ExpiresAt = &expires
		}
		stamped[i] = role
	}
	return stamped
}
