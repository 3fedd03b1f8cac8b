package domain

// OutcomeKind classifies the result of one per-role operation.
type OutcomeKind string

const (
	OutcomeActivated       OutcomeKind = "ACTIVATED"
	OutcomeDeactivated     OutcomeKind = "DEACTIVATED"
	OutcomeAlreadyActive   OutcomeKind = "ALREADY_ACTIVE"
	OutcomeAlreadyInactive OutcomeKind = "ALREADY_INACTIVE"
	OutcomeFailed          OutcomeKind = "FAILED"
)

// RoleOutcome records what happened to one role in a transition batch.
type RoleOutcome struct {
	Role   Role        `json:"role"`
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

// Report is the final tally of a transition batch. Outcomes preserve
// selection order. Idempotent backend responses (AlreadyActive on activate,
// AlreadyInactive on deactivate) count as successes; only precheck no-ops
// recorded via AddNoop stay outside both buckets.
type Report struct {
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Outcomes  []RoleOutcome `json:"outcomes"`
}

// Add appends an outcome and updates the tally.
func (r *Report) Add(role Role, kind OutcomeKind, reason string) {
	r.Outcomes = append(r.Outcomes, RoleOutcome{Role: role, Kind: kind, Reason: reason})
	switch kind {
	case OutcomeActivated, OutcomeDeactivated, OutcomeAlreadyActive, OutcomeAlreadyInactive:
		r.Succeeded++
	case OutcomeFailed:
		r.Failed++
	}
}

// AddNoop appends an outcome for a role that was skipped before any backend
// call, without touching the tally.
func (r *Report) AddNoop(role Role, kind OutcomeKind) {
	r.Outcomes = append(r.Outcomes, RoleOutcome{Role: role, Kind: kind})
}
