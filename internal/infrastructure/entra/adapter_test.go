package entra_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vn.io.arda/pim/internal/domain"
	"vn.io.arda/pim/internal/infrastructure/azauth"
	"vn.io.arda/pim/internal/infrastructure/entra"
)

func newAdapter(t *testing.T, handler http.Handler) (*entra.Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return entra.New(srv.URL, azauth.NewStatic("test-token")), srv
}

func TestListEligible(t *testing.T) {
	adapter, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/roleManagement/directory/roleEligibilityScheduleInstances" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing bearer header, got %q", got)
		}
		if filter := r.URL.Query().Get("$filter"); filter != "principalId eq 'principal-1'" {
			t.Errorf("unexpected filter %q", filter)
		}
		fmt.Fprint(w, `{"value":[
			{"principalId":"principal-1","roleDefinitionId":"def-1","directoryScopeId":"/","roleDefinition":{"displayName":"Global Reader"}},
			{"principalId":"principal-1","roleDefinitionId":"def-2","directoryScopeId":"/administrativeUnits/au1","roleDefinition":{"displayName":"User Administrator"}}
		]}`)
	}))

	roles, err := adapter.ListEligible(context.Background(), "principal-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 2 {
		t.Fatalf("got %d roles", len(roles))
	}

	first := roles[0]
	if first.DisplayName != "Global Reader" || first.Backend != domain.BackendDirectory {
		t.Fatalf("unexpected role %+v", first)
	}
	if first.ScopeClass != domain.ScopeDirectory || first.ScopeDisplayName != "/" {
		t.Fatalf("unexpected scope classification %+v", first)
	}
	if roles[1].ScopeClass != domain.ScopeCustom {
		t.Fatalf("administrative unit scope should classify as custom, got %s", roles[1].ScopeClass)
	}
}

func TestListActive_SkipsPermanentAssignments(t *testing.T) {
	adapter, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"value":[
			{"id":"assign-1","roleDefinitionId":"def-1","directoryScopeId":"/","assignmentType":"Activated","startDateTime":"2026-08-25T09:00:00Z","endDateTime":"2026-08-25T17:00:00Z"},
			{"id":"assign-2","roleDefinitionId":"def-2","directoryScopeId":"/","assignmentType":"Assigned"}
		]}`)
	}))

	grants, err := adapter.ListActive(context.Background(), "principal-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(grants) != 1 {
		t.Fatalf("got %d grants", len(grants))
	}
	grant := grants[domain.IdentityKey{RoleDefinitionID: "def-1", ScopeID: "/"}]
	if grant.AssignmentID != "assign-1" {
		t.Fatalf("got %+v", grant)
	}
	if grant.ExpiresAt.IsZero() {
		t.Fatal("expiry not parsed")
	}
}

func TestRequestActivation_BodyShape(t *testing.T) {
	var got map[string]any
	adapter, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	role := domain.Role{
		PrincipalID:      "principal-1",
		RoleDefinitionID: "def-1",
		ScopeID:          "/",
		Backend:          domain.BackendDirectory,
	}
	kind, err := adapter.RequestActivation(context.Background(), role, "ticket 42", 8*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if kind != domain.OutcomeActivated {
		t.Fatalf("got %s", kind)
	}

	if got["action"] != "selfActivate" || got["justification"] != "ticket 42" {
		t.Fatalf("body %v", got)
	}
	sched := got["scheduleInfo"].(map[string]any)
	exp := sched["expiration"].(map[string]any)
	if exp["type"] != "afterDuration" || exp["duration"] != "PT8H" {
		t.Fatalf("expiration %v", exp)
	}
}

func TestRequestActivation_AlreadyExistsIsIdempotentSuccess(t *testing.T) {
	adapter, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":"RoleAssignmentExists","message":"The Role assignment already exists."}}`)
	}))

	kind, err := adapter.RequestActivation(context.Background(), domain.Role{}, "", 8*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if kind != domain.OutcomeAlreadyActive {
		t.Fatalf("got %s", kind)
	}
}

func TestRequestActivation_RejectionCarriesBackendMessage(t *testing.T) {
	adapter, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":"RoleAssignmentRequestPolicyValidationFailed","message":"Justification rule violated."}}`)
	}))

	kind, err := adapter.RequestActivation(context.Background(), domain.Role{}, "", 8*time.Hour)
	if kind != domain.OutcomeFailed || err == nil {
		t.Fatalf("kind=%s err=%v", kind, err)
	}
	var be *domain.BackendError
	if !errors.As(err, &be) || be.Code != "RoleAssignmentRequestPolicyValidationFailed" {
		t.Fatalf("error not classified: %v", err)
	}
}

func TestRequestDeactivation_NotFoundIsIdempotentSuccess(t *testing.T) {
	adapter, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"RoleAssignmentDoesNotExist","message":"The Role assignment does not exist."}}`)
	}))

	kind, err := adapter.RequestDeactivation(context.Background(), domain.Role{})
	if err != nil {
		t.Fatal(err)
	}
	if kind != domain.OutcomeAlreadyInactive {
		t.Fatalf("got %s", kind)
	}
}

func TestListEligible_TransportErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // force connection failures

	adapter := entra.New(srv.URL, azauth.NewStatic("test-token"))
	_, err := adapter.ListEligible(context.Background(), "principal-1")
	if !domain.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
