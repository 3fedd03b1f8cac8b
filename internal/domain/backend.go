package domain

import (
	"context"
	"time"
)

// Action is the transition requested for a selection of roles.
type Action string

const (
	ActionActivate   Action = "ACTIVATE"
	ActionDeactivate Action = "DEACTIVATE"
	ActionReactivate Action = "REACTIVATE"
)

// Backend is the four-operation contract both authorization backends expose.
// Each adapter owns its request/response mapping, its token acquisition, and
// its error classification; callers stay backend-agnostic.
type Backend interface {
	// Kind reports which backend this adapter fronts.
	Kind() BackendKind

	// ListEligible returns the principal's eligible roles. On transport
	// failure it degrades to an empty list with a warning; it never aborts
	// the discovery pass.
	ListEligible(ctx context.Context, principalID string) ([]Role, error)

	// ListActive returns the principal's active grants keyed by identity key.
	// Same degrade-to-empty policy as ListEligible.
	ListActive(ctx context.Context, principalID string) (map[IdentityKey]ActiveGrant, error)

	// RequestActivation submits a self-activation. A backend response
	// indicating the assignment already exists yields OutcomeAlreadyActive
	// with a nil error: activation is idempotent from the caller's side.
	RequestActivation(ctx context.Context, role Role, justification string, duration time.Duration) (OutcomeKind, error)

	// RequestDeactivation submits a self-deactivation. A "not found"
	// response yields OutcomeAlreadyInactive with a nil error. The caller
	// is responsible for only deactivating roles it believes are active.
	RequestDeactivation(ctx context.Context, role Role) (OutcomeKind, error)
}
