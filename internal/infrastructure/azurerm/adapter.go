// Package azurerm adapts the resource-scoped role backend (ARM-style API)
// to the domain.Backend contract.
package azurerm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vn.io.arda/pim/internal/domain"
	"vn.io.arda/pim/internal/infrastructure/azauth"
	"vn.io.arda/pim/internal/scope"
)

const (
	// DefaultBaseURL is the production ARM endpoint.
	DefaultBaseURL = "https://management.azure.com"
	// DefaultAPIVersion is the schedule-instance API version.
	DefaultAPIVersion = "2020-10-01"

	subscriptionAPIVersion   = "2020-01-01"
	roleDefinitionAPIVersion = "2022-04-01"
)

// Adapter fronts the resource-scoped role backend.
type Adapter struct {
	baseURL    string
	apiVersion string
	tokens     *azauth.TokenSource
	httpClient *http.Client

	// Role definitions are immutable within a session, so the display-name
	// lookup result is reused for every role sharing the definition id.
	// Failed lookups are cached too, with a fallback label, so a broken
	// definition endpoint is hit at most once.
	mu        sync.Mutex
	nameCache map[string]string
}

// New creates an Adapter. Empty baseURL and apiVersion fall back to the
// production defaults.
func New(baseURL, apiVersion string, tokens *azauth.TokenSource) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	return &Adapter{
		baseURL:    baseURL,
		apiVersion: apiVersion,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		nameCache:  make(map[string]string),
	}
}

// Kind implements domain.Backend.
func (a *Adapter) Kind() domain.BackendKind { return domain.BackendResource }

type scheduleInstance struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Properties struct {
		PrincipalID      string `json:"principalId"`
		RoleDefinitionID string `json:"roleDefinitionId"`
		Scope            string `json:"scope"`
		AssignmentType   string `json:"assignmentType"`
		StartDateTime    string `json:"startDateTime"`
		EndDateTime      string `json:"endDateTime"`
		ExpandedProperties struct {
			RoleDefinition struct {
				DisplayName string `json:"displayName"`
			} `json:"roleDefinition"`
		} `json:"expandedProperties"`
	} `json:"properties"`
}

type instancePage struct {
	Value    []scheduleInstance `json:"value"`
	NextLink string             `json:"nextLink"`
}

// ListEligible implements domain.Backend.
func (a *Adapter) ListEligible(ctx context.Context, principalID string) ([]domain.Role, error) {
	endpoint := a.collectionURL("roleEligibilityScheduleInstances")

	instances, err := a.listAll(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	roles := make([]domain.Role, 0, len(instances))
	for _, inst := range instances {
		p := inst.Properties
		name := p.ExpandedProperties.RoleDefinition.DisplayName
		if name == "" {
			name = a.roleDefinitionName(ctx, p.RoleDefinitionID)
		}
		display, class := scope.Resolve(ctx, a, p.Scope)
		roles = append(roles, domain.Role{
			DisplayName:      name,
			RoleDefinitionID: p.RoleDefinitionID,
			PrincipalID:      p.PrincipalID,
			ScopeID:          p.Scope,
			ScopeDisplayName: display,
			ScopeClass:       class,
			Backend:          domain.BackendResource,
		})
	}
	return roles, nil
}

// ListActive implements domain.Backend.
func (a *Adapter) ListActive(ctx context.Context, principalID string) (map[domain.IdentityKey]domain.ActiveGrant, error) {
	endpoint := a.collectionURL("roleAssignmentScheduleInstances")

	instances, err := a.listAll(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	grants := make(map[domain.IdentityKey]domain.ActiveGrant, len(instances))
	for _, inst := range instances {
		p := inst.Properties
		if p.AssignmentType != "" && p.AssignmentType != "Activated" {
			continue
		}
		key := domain.IdentityKey{RoleDefinitionID: p.RoleDefinitionID, ScopeID: p.Scope}
		grants[key] = domain.ActiveGrant{
			Key:          key,
			AssignmentID: inst.ID,
			ActivatedAt:  parseTime(p.StartDateTime),
			ExpiresAt:    parseTime(p.EndDateTime),
		}
	}
	return grants, nil
}

type scheduleRequestBody struct {
	Properties struct {
		PrincipalID      string        `json:"principalId"`
		RoleDefinitionID string        `json:"roleDefinitionId"`
		RequestType      string        `json:"requestType"`
		Justification    string        `json:"justification,omitempty"`
		ScheduleInfo     *scheduleInfo `json:"scheduleInfo,omitempty"`
	} `json:"properties"`
}

type scheduleInfo struct {
	StartDateTime string `json:"startDateTime"`
	Expiration    struct {
		Type     string `json:"type"`
		Duration string `json:"duration"`
	} `json:"expiration"`
}

// RequestActivation implements domain.Backend. Requests are idempotent by
// name; each submission gets a freshly generated identifier.
func (a *Adapter) RequestActivation(ctx context.Context, role domain.Role, justification string, duration time.Duration) (domain.OutcomeKind, error) {
	var body scheduleRequestBody
	body.Properties.PrincipalID = role.PrincipalID
	body.Properties.RoleDefinitionID = role.RoleDefinitionID
	body.Properties.RequestType = "SelfActivate"
	body.Properties.Justification = justification

	info := &scheduleInfo{StartDateTime: time.Now().UTC().Format(time.RFC3339)}
	info.Expiration.Type = "AfterDuration"
	info.Expiration.Duration = isoDuration(duration)
	body.Properties.ScheduleInfo = info

	err := a.putRequest(ctx, role.ScopeID, body)
	if err == nil {
		return domain.OutcomeActivated, nil
	}
	if domain.IsAlreadyExists(err) {
		log.Debug().Str("role", role.DisplayName).Str("scope", role.ScopeID).Msg("activation already in place")
		return domain.OutcomeAlreadyActive, nil
	}
	return domain.OutcomeFailed, err
}

// RequestDeactivation implements domain.Backend.
func (a *Adapter) RequestDeactivation(ctx context.Context, role domain.Role) (domain.OutcomeKind, error) {
	var body scheduleRequestBody
	body.Properties.PrincipalID = role.PrincipalID
	body.Properties.RoleDefinitionID = role.RoleDefinitionID
	body.Properties.RequestType = "SelfDeactivate"

	err := a.putRequest(ctx, role.ScopeID, body)
	if err == nil {
		return domain.OutcomeDeactivated, nil
	}
	if domain.IsNotFound(err) {
		log.Debug().Str("role", role.DisplayName).Str("scope", role.ScopeID).Msg("nothing to deactivate")
		return domain.OutcomeAlreadyInactive, nil
	}
	return domain.OutcomeFailed, err
}

// SubscriptionName implements scope.SubscriptionNamer with a best-effort
// lookup on the subscription endpoint.
func (a *Adapter) SubscriptionName(ctx context.Context, subscriptionID string) (string, error) {
	endpoint := fmt.Sprintf("%s/subscriptions/%s?api-version=%s", a.baseURL, subscriptionID, subscriptionAPIVersion)

	var body struct {
		DisplayName string `json:"displayName"`
	}
	if err := a.getJSON(ctx, endpoint, &body); err != nil {
		return "", err
	}
	return body.DisplayName, nil
}

// --- internal helpers ---

func (a *Adapter) collectionURL(collection string) string {
	query := url.Values{
		"api-version": {a.apiVersion},
		"$filter":     {"asTarget()"},
	}
	return fmt.Sprintf("%s/providers/Microsoft.Authorization/%s?%s", a.baseURL, collection, query.Encode())
}

// listAll follows nextLink pagination until the listing is exhausted.
func (a *Adapter) listAll(ctx context.Context, endpoint string) ([]scheduleInstance, error) {
	var all []scheduleInstance
	for endpoint != "" {
		var page instancePage
		if err := a.getJSON(ctx, endpoint, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Value...)
		endpoint = page.NextLink
	}
	return all, nil
}

// roleDefinitionName resolves a role definition's display name, consulting
// the session cache first.
func (a *Adapter) roleDefinitionName(ctx context.Context, roleDefinitionID string) string {
	a.mu.Lock()
	if name, ok := a.nameCache[roleDefinitionID]; ok {
		a.mu.Unlock()
		return name
	}
	a.mu.Unlock()

	name := ""
	endpoint := fmt.Sprintf("%s%s?api-version=%s", a.baseURL, roleDefinitionID, roleDefinitionAPIVersion)
	var body struct {
		Properties struct {
			RoleName string `json:"roleName"`
		} `json:"properties"`
	}
	if err := a.getJSON(ctx, endpoint, &body); err != nil {
		log.Warn().Err(err).Str("role_definition", roleDefinitionID).Msg("role definition lookup failed, using id tail")
	} else {
		name = body.Properties.RoleName
	}
	if name == "" {
		name = lastSegment(roleDefinitionID)
	}

	a.mu.Lock()
	a.nameCache[roleDefinitionID] = name
	a.mu.Unlock()
	return name
}

func (a *Adapter) putRequest(ctx context.Context, scopeID string, body scheduleRequestBody) error {
	name := uuid.NewString()
	endpoint := fmt.Sprintf("%s%s/providers/Microsoft.Authorization/roleAssignmentScheduleRequests/%s?api-version=%s",
		a.baseURL, scopeID, name, a.apiVersion)

	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, nil)
}

func (a *Adapter) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return a.do(req, out)
}

func (a *Adapter) do(req *http.Request, out any) error {
	token, err := a.tokens.Token(req.Context())
	if err != nil {
		return &domain.TransportError{Backend: domain.BackendResource, Op: "acquire token", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Backend: domain.BackendResource, Op: req.Method + " " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", req.URL.Path, err)
		}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	be := &domain.BackendError{Backend: domain.BackendResource, Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && (body.Error.Code != "" || body.Error.Message != "") {
		be.Code = body.Error.Code
		be.Message = body.Error.Message
	} else {
		be.Message = string(raw)
	}
	return be
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// isoDuration renders a duration in the ISO 8601 shape the backend expects.
func isoDuration(d time.Duration) string {
	if d <= 0 {
		d = 8 * time.Hour
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("PT%dH", int(d/time.Hour))
	}
	return fmt.Sprintf("PT%dM", int(d/time.Minute))
}
