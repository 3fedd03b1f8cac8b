package catalog_test

import (
	"testing"
	"time"

	"vn.io.arda/pim/internal/catalog"
	"vn.io.arda/pim/internal/domain"
)

func role(backend domain.BackendKind, defID, scopeID string) domain.Role {
	return domain.Role{
		DisplayName:      defID,
		RoleDefinitionID: defID,
		ScopeID:          scopeID,
		Backend:          backend,
	}
}

func TestBuild_OrderAndStamping(t *testing.T) {
	dirRoles := []domain.Role{
		role(domain.BackendDirectory, "def-a", "/"),
		role(domain.BackendDirectory, "def-b", "/"),
	}
	resRoles := []domain.Role{
		role(domain.BackendResource, "def-c", "/subscriptions/s1"),
	}

	expires := time.Now().Add(4 * time.Hour).Truncate(time.Second)
	activeDir := map[domain.IdentityKey]domain.ActiveGrant{
		{RoleDefinitionID: "def-b", ScopeID: "/"}: {
			AssignmentID: "assign-1",
			ExpiresAt:    expires,
		},
	}

	got := catalog.Build(dirRoles, resRoles, activeDir, nil)

	if len(got) != 3 {
		t.Fatalf("expected 3 roles, got %d", len(got))
	}
	wantOrder := []string{"def-a", "def-b", "def-c"}
	for i, want := range wantOrder {
		if got[i].RoleDefinitionID != want {
			t.Fatalf("position %d: got %s, want %s", i, got[i].RoleDefinitionID, want)
		}
	}

	if got[0].IsActive || got[2].IsActive {
		t.Fatal("roles without grants must stay inactive")
	}
	active := got[1]
	if !active.IsActive {
		t.Fatal("def-b should be active")
	}
	if active.ActiveAssignmentID != "assign-1" {
		t.Fatalf("got assignment id %q", active.ActiveAssignmentID)
	}
	if active.ExpiresAt == nil || !active.ExpiresAt.Equal(expires) {
		t.Fatalf("got expiry %v", active.ExpiresAt)
	}
}

// isActive, ActiveAssignmentID and ExpiresAt must be mutually consistent:
// either all set or none.
func TestBuild_ActivityFieldsConsistent(t *testing.T) {
	roles := []domain.Role{
		role(domain.BackendResource, "def-a", "/subscriptions/s1"),
		role(domain.BackendResource, "def-b", "/subscriptions/s1"),
	}
	grants := map[domain.IdentityKey]domain.ActiveGrant{
		{RoleDefinitionID: "def-a", ScopeID: "/subscriptions/s1"}: {AssignmentID: "x", ExpiresAt: time.Now()},
	}

	for _, r := range catalog.Build(nil, roles, nil, grants) {
		set := r.ActiveAssignmentID != "" && r.ExpiresAt != nil
		if r.IsActive != set {
			t.Fatalf("role %s: IsActive=%v but assignment/expiry set=%v", r.RoleDefinitionID, r.IsActive, set)
		}
	}
}

// A grant map from one backend must never stamp the other backend's roles,
// even when the compound keys collide textually.
func TestBuild_GrantsAreBackendLocal(t *testing.T) {
	dirRoles := []domain.Role{role(domain.BackendDirectory, "def-a", "/")}
	resGrants := map[domain.IdentityKey]domain.ActiveGrant{
		{RoleDefinitionID: "def-a", ScopeID: "/"}: {AssignmentID: "x", ExpiresAt: time.Now()},
	}

	got := catalog.Build(dirRoles, nil, nil, resGrants)
	if got[0].IsActive {
		t.Fatal("resource-backend grant stamped a directory role")
	}
}

func TestBuild_IdentityKeyUniquePerBackend(t *testing.T) {
	roles := catalog.Build(
		[]domain.Role{
			role(domain.BackendDirectory, "def-a", "/"),
			role(domain.BackendDirectory, "def-a", "/administrativeUnits/au1"),
		},
		[]domain.Role{
			role(domain.BackendResource, "def-a", "/subscriptions/s1"),
		},
		nil, nil,
	)

	seen := map[domain.BackendKind]map[domain.IdentityKey]bool{}
	for _, r := range roles {
		if seen[r.Backend] == nil {
			seen[r.Backend] = map[domain.IdentityKey]bool{}
		}
		if seen[r.Backend][r.Key()] {
			t.Fatalf("duplicate identity key %+v within backend %s", r.Key(), r.Backend)
		}
		seen[r.Backend][r.Key()] = true
	}
}
