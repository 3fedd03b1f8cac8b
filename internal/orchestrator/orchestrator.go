// Package orchestrator sequences activation and deactivation batches
// against the owning backend adapters.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"vn.io.arda/pim/internal/domain"
)

const (
	// DefaultPacingDelay spaces consecutive backend calls to stay under
	// rate limits.
	DefaultPacingDelay = 1 * time.Second
	// DefaultSettleDelay is the wait between the deactivation and
	// re-activation phases of a Reactivate batch. Re-activating before the
	// deactivation has propagated makes the backend reject the activation
	// as a duplicate.
	DefaultSettleDelay = 5 * time.Second
	// DefaultActivationDuration is the fixed lifetime requested for each
	// activation.
	DefaultActivationDuration = 8 * time.Hour
	// DefaultJustification is used when the caller supplies none.
	DefaultJustification = "Administrative work requirement"
)

// Orchestrator drives per-role transitions. Calls are issued one at a time
// in selection order; a failure on one role never prevents attempting the
// rest. Cancellation is honored between per-role calls, never mid-call.
type Orchestrator struct {
	backends map[domain.BackendKind]domain.Backend

	pacing        time.Duration
	settle        time.Duration
	duration      time.Duration
	justification string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPacingDelay overrides the inter-call pacing delay.
func WithPacingDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.pacing = d }
}

// WithSettleDelay overrides the Reactivate settle delay.
func WithSettleDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.settle = d }
}

// WithActivationDuration overrides the requested activation lifetime.
func WithActivationDuration(d time.Duration) Option {
	return func(o *Orchestrator) { o.duration = d }
}

// WithDefaultJustification overrides the justification used when the caller
// supplies none.
func WithDefaultJustification(j string) Option {
	return func(o *Orchestrator) {
		if j != "" {
			o.justification = j
		}
	}
}

// New creates an Orchestrator over the given backend adapters.
func New(backends []domain.Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backends:      make(map[domain.BackendKind]domain.Backend, len(backends)),
		pacing:        DefaultPacingDelay,
		settle:        DefaultSettleDelay,
		duration:      DefaultActivationDuration,
		justification: DefaultJustification,
	}
	for _, b := range backends {
		o.backends[b.Kind()] = b
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one transition batch over the selected roles and returns the
// tally. The returned error is non-nil only for an unknown action or a
// context cancellation; per-role failures are folded into the report.
func (o *Orchestrator) Run(ctx context.Context, action domain.Action, selected []domain.Role, justification string) (domain.Report, error) {
	if justification == "" {
		justification = o.justification
	}

	switch action {
	case domain.ActionActivate:
		return o.activate(ctx, selected, justification)
	case domain.ActionDeactivate:
		return o.deactivate(ctx, selected)
	case domain.ActionReactivate:
		return o.reactivate(ctx, selected, justification)
	default:
		return domain.Report{}, fmt.Errorf("unknown action %q", action)
	}
}

func (o *Orchestrator) activate(ctx context.Context, selected []domain.Role, justification string) (domain.Report, error) {
	var report domain.Report
	for i, role := range selected {
		if i > 0 {
			if err := wait(ctx, o.pacing); err != nil {
				return report, err
			}
		}
		o.activateOne(ctx, &report, role, justification)
	}
	return report, ctx.Err()
}

func (o *Orchestrator) deactivate(ctx context.Context, selected []domain.Role) (domain.Report, error) {
	var report domain.Report
	paced := false
	for _, role := range selected {
		if !role.IsActive {
			// Precondition enforced here: never call the backend for a
			// role the catalog already shows inactive.
			report.AddNoop(role, domain.OutcomeAlreadyInactive)
			continue
		}
		if paced {
			if err := wait(ctx, o.pacing); err != nil {
				return report, err
			}
		}

		backend, err := o.backendFor(role)
		if err != nil {
			report.Add(role, domain.OutcomeFailed, err.Error())
			continue
		}
		paced = true
		kind, err := backend.RequestDeactivation(ctx, role)
		if err != nil {
			log.Error().Err(err).
				Str("role", role.DisplayName).
				Str("scope", role.ScopeDisplayName).
				Str("backend", string(role.Backend)).
				Msg("deactivation failed")
			report.Add(role, domain.OutcomeFailed, err.Error())
			continue
		}
		report.Add(role, kind, "")
	}
	return report, ctx.Err()
}

// reactivate runs in two phases: deactivate whatever is currently active,
// wait for the backend's eventual-consistency window to clear, then
// activate the full selection. Phase 1 results are not tallied; its
// failures are logged and do not block phase 2.
func (o *Orchestrator) reactivate(ctx context.Context, selected []domain.Role, justification string) (domain.Report, error) {
	deactivated := false
	for _, role := range selected {
		if !role.IsActive {
			continue
		}
		if deactivated {
			if err := wait(ctx, o.pacing); err != nil {
				return domain.Report{}, err
			}
		}
		deactivated = true

		backend, err := o.backendFor(role)
		if err != nil {
			log.Warn().Err(err).Str("role", role.DisplayName).Msg("skipping deactivation phase for role")
			continue
		}
		if _, err := backend.RequestDeactivation(ctx, role); err != nil {
			log.Warn().Err(err).
				Str("role", role.DisplayName).
				Str("scope", role.ScopeDisplayName).
				Msg("deactivation before reactivate failed, activation will still be attempted")
		}
		if ctx.Err() != nil {
			return domain.Report{}, ctx.Err()
		}
	}

	if deactivated {
		log.Info().Dur("settle", o.settle).Msg("waiting for deactivations to propagate")
		if err := wait(ctx, o.settle); err != nil {
			return domain.Report{}, err
		}
	}

	return o.activate(ctx, selected, justification)
}

func (o *Orchestrator) activateOne(ctx context.Context, report *domain.Report, role domain.Role, justification string) {
	backend, err := o.backendFor(role)
	if err != nil {
		report.Add(role, domain.OutcomeFailed, err.Error())
		return
	}
	kind, err := backend.RequestActivation(ctx, role, justification, o.duration)
	if err != nil {
		log.Error().Err(err).
			Str("role", role.DisplayName).
			Str("scope", role.ScopeDisplayName).
			Str("backend", string(role.Backend)).
			Msg("activation failed")
		report.Add(role, domain.OutcomeFailed, err.Error())
		return
	}
	report.Add(role, kind, "")
}

func (o *Orchestrator) backendFor(role domain.Role) (domain.Backend, error) {
	backend, ok := o.backends[role.Backend]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for backend %s", role.Backend)
	}
	return backend, nil
}

// wait sleeps for d or until ctx is cancelled.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
