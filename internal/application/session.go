// Package application ties discovery, reconciliation, selection, and
// transition orchestration into one session. Each session performs a full
// fresh discovery-reconcile-act cycle; nothing is retained across runs.
package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"vn.io.arda/pim/internal/catalog"
	"vn.io.arda/pim/internal/domain"
	"vn.io.arda/pim/internal/orchestrator"
	"vn.io.arda/pim/internal/selection"
)

// OutcomePublisher receives the final report of a transition batch.
// The Kafka producer implements it; a nil publisher disables publishing.
type OutcomePublisher interface {
	PublishReport(ctx context.Context, principalID string, action domain.Action, report domain.Report)
}

// PrincipalResolver resolves the caller's principal id from the session's
// authenticated identity.
type PrincipalResolver func(ctx context.Context) (string, error)

// Session is one discovery-reconcile-act cycle over both backends.
type Session struct {
	directory domain.Backend
	resource  domain.Backend
	orch      *orchestrator.Orchestrator
	publisher OutcomePublisher
	principal PrincipalResolver

	mu          sync.Mutex
	principalID string
}

// NewSession creates a Session. publisher may be nil.
func NewSession(directory, resource domain.Backend, orch *orchestrator.Orchestrator, publisher OutcomePublisher, principal PrincipalResolver) *Session {
	return &Session{
		directory: directory,
		resource:  resource,
		orch:      orch,
		publisher: publisher,
		principal: principal,
	}
}

// Principal resolves and caches the session's principal id. A resolution
// failure is fatal to the session: without an identity there is nothing to
// discover.
func (s *Session) Principal(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.principalID != "" {
		return s.principalID, nil
	}
	id, err := s.principal(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve principal identity: %w", err)
	}
	s.principalID = id
	return id, nil
}

// Discover queries both backends for eligible roles and active grants and
// merges them into the unified catalog. The backends are independent, so
// they are queried concurrently; a backend that cannot be reached degrades
// to an empty contribution with a warning rather than aborting discovery.
func (s *Session) Discover(ctx context.Context) ([]domain.Role, error) {
	principalID, err := s.Principal(ctx)
	if err != nil {
		return nil, err
	}

	var (
		wg        sync.WaitGroup
		dirRoles  []domain.Role
		resRoles  []domain.Role
		dirGrants map[domain.IdentityKey]domain.ActiveGrant
		resGrants map[domain.IdentityKey]domain.ActiveGrant
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		dirRoles, dirGrants = discoverBackend(ctx, s.directory, principalID)
	}()
	go func() {
		defer wg.Done()
		resRoles, resGrants = discoverBackend(ctx, s.resource, principalID)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	roles := catalog.Build(dirRoles, resRoles, dirGrants, resGrants)
	log.Info().
		Int("directory_roles", len(dirRoles)).
		Int("resource_roles", len(resRoles)).
		Int("total", len(roles)).
		Msg("role discovery complete")
	return roles, nil
}

// Transition runs one batch: fresh discovery, selection resolution, then
// the requested action. Rejected selection tokens are returned for
// reporting; selection.ErrNoneSelected is surfaced as the session outcome.
func (s *Session) Transition(ctx context.Context, action domain.Action, expr, justification string) (domain.Report, []string, error) {
	roles, err := s.Discover(ctx)
	if err != nil {
		return domain.Report{}, nil, err
	}

	selected, invalid, err := selection.Resolve(expr, roles)
	if err != nil {
		return domain.Report{}, invalid, err
	}
	for _, msg := range invalid {
		log.Warn().Str("token", msg).Msg("selection token rejected")
	}
	if len(selected) == 0 {
		log.Info().Str("selection", expr).Msg("selection matched no roles, nothing to do")
		return domain.Report{}, invalid, nil
	}

	report, runErr := s.orch.Run(ctx, action, selected, justification)

	if s.publisher != nil && len(report.Outcomes) > 0 {
		principalID, _ := s.Principal(ctx)
		s.publisher.PublishReport(ctx, principalID, action, report)
	}
	return report, invalid, runErr
}

// discoverBackend fetches one backend's eligibility and grant listings,
// degrading each to empty on failure.
func discoverBackend(ctx context.Context, backend domain.Backend, principalID string) ([]domain.Role, map[domain.IdentityKey]domain.ActiveGrant) {
	roles, err := backend.ListEligible(ctx, principalID)
	if err != nil {
		log.Warn().Err(err).Str("backend", string(backend.Kind())).Msg("eligibility listing unavailable, continuing without it")
		roles = nil
	}
	grants, err := backend.ListActive(ctx, principalID)
	if err != nil {
		log.Warn().Err(err).Str("backend", string(backend.Kind())).Msg("active-grant listing unavailable, continuing without it")
		grants = nil
	}
	return roles, grants
}
