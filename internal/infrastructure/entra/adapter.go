// Package entra adapts the tenant directory role backend (Graph-style API)
// to the domain.Backend contract.
package entra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"vn.io.arda/pim/internal/domain"
	"vn.io.arda/pim/internal/infrastructure/azauth"
	"vn.io.arda/pim/internal/scope"
)

// DefaultBaseURL is the production Graph endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Adapter fronts the directory role backend.
type Adapter struct {
	baseURL    string
	tokens     *azauth.TokenSource
	httpClient *http.Client
}

// New creates an Adapter. baseURL defaults to DefaultBaseURL when empty.
func New(baseURL string, tokens *azauth.TokenSource) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Kind implements domain.Backend.
func (a *Adapter) Kind() domain.BackendKind { return domain.BackendDirectory }

type eligibilityInstance struct {
	PrincipalID      string `json:"principalId"`
	RoleDefinitionID string `json:"roleDefinitionId"`
	DirectoryScopeID string `json:"directoryScopeId"`
	RoleDefinition   struct {
		DisplayName string `json:"displayName"`
	} `json:"roleDefinition"`
}

type assignmentInstance struct {
	ID               string `json:"id"`
	RoleDefinitionID string `json:"roleDefinitionId"`
	DirectoryScopeID string `json:"directoryScopeId"`
	AssignmentType   string `json:"assignmentType"`
	StartDateTime    string `json:"startDateTime"`
	EndDateTime      string `json:"endDateTime"`
}

// ListEligible implements domain.Backend.
func (a *Adapter) ListEligible(ctx context.Context, principalID string) ([]domain.Role, error) {
	query := url.Values{
		"$filter": {fmt.Sprintf("principalId eq '%s'", principalID)},
		"$expand": {"roleDefinition"},
	}
	endpoint := a.baseURL + "/roleManagement/directory/roleEligibilityScheduleInstances?" + query.Encode()

	var body struct {
		Value []eligibilityInstance `json:"value"`
	}
	if err := a.getJSON(ctx, endpoint, &body); err != nil {
		return nil, err
	}

	roles := make([]domain.Role, 0, len(body.Value))
	for _, inst := range body.Value {
		display, class := scope.Resolve(ctx, nil, inst.DirectoryScopeID)
		name := inst.RoleDefinition.DisplayName
		if name == "" {
			name = inst.RoleDefinitionID
		}
		roles = append(roles, domain.Role{
			DisplayName:      name,
			RoleDefinitionID: inst.RoleDefinitionID,
			PrincipalID:      inst.PrincipalID,
			ScopeID:          inst.DirectoryScopeID,
			ScopeDisplayName: display,
			ScopeClass:       class,
			Backend:          domain.BackendDirectory,
		})
	}
	return roles, nil
}

// ListActive implements domain.Backend. Only activated assignments count;
// permanent ones are not grants this tool manages.
func (a *Adapter) ListActive(ctx context.Context, principalID string) (map[domain.IdentityKey]domain.ActiveGrant, error) {
	query := url.Values{
		"$filter": {fmt.Sprintf("principalId eq '%s'", principalID)},
	}
	endpoint := a.baseURL + "/roleManagement/directory/roleAssignmentScheduleInstances?" + query.Encode()

	var body struct {
		Value []assignmentInstance `json:"value"`
	}
	if err := a.getJSON(ctx, endpoint, &body); err != nil {
		return nil, err
	}

	grants := make(map[domain.IdentityKey]domain.ActiveGrant, len(body.Value))
	for _, inst := range body.Value {
		if inst.AssignmentType != "" && inst.AssignmentType != "Activated" {
			continue
		}
		key := domain.IdentityKey{RoleDefinitionID: inst.RoleDefinitionID, ScopeID: inst.DirectoryScopeID}
		grants[key] = domain.ActiveGrant{
			Key:          key,
			AssignmentID: inst.ID,
			ActivatedAt:  parseTime(inst.StartDateTime),
			ExpiresAt:    parseTime(inst.EndDateTime),
		}
	}
	return grants, nil
}

type scheduleRequest struct {
	Action           string        `json:"action"`
	PrincipalID      string        `json:"principalId"`
	RoleDefinitionID string        `json:"roleDefinitionId"`
	DirectoryScopeID string        `json:"directoryScopeId"`
	Justification    string        `json:"justification,omitempty"`
	ScheduleInfo     *scheduleInfo `json:"scheduleInfo,omitempty"`
}

type scheduleInfo struct {
	StartDateTime string `json:"startDateTime"`
	Expiration    struct {
		Type     string `json:"type"`
		Duration string `json:"duration"`
	} `json:"expiration"`
}

// RequestActivation implements domain.Backend.
func (a *Adapter) RequestActivation(ctx context.Context, role domain.Role, justification string, duration time.Duration) (domain.OutcomeKind, error) {
	info := &scheduleInfo{StartDateTime: time.Now().UTC().Format(time.RFC3339)}
	info.Expiration.Type = "afterDuration"
	info.Expiration.Duration = isoDuration(duration)

	req := scheduleRequest{
		Action:           "selfActivate",
		PrincipalID:      role.PrincipalID,
		RoleDefinitionID: role.RoleDefinitionID,
		DirectoryScopeID: role.ScopeID,
		Justification:    justification,
		ScheduleInfo:     info,
	}

	err := a.postJSON(ctx, a.baseURL+"/roleManagement/directory/roleAssignmentScheduleRequests", req)
	if err == nil {
		return domain.OutcomeActivated, nil
	}
	if domain.IsAlreadyExists(err) {
		log.Debug().Str("role", role.DisplayName).Msg("activation already in place")
		return domain.OutcomeAlreadyActive, nil
	}
	return domain.OutcomeFailed, err
}

// RequestDeactivation implements domain.Backend.
func (a *Adapter) RequestDeactivation(ctx context.Context, role domain.Role) (domain.OutcomeKind, error) {
	req := scheduleRequest{
		Action:           "selfDeactivate",
		PrincipalID:      role.PrincipalID,
		RoleDefinitionID: role.RoleDefinitionID,
		DirectoryScopeID: role.ScopeID,
	}

	err := a.postJSON(ctx, a.baseURL+"/roleManagement/directory/roleAssignmentScheduleRequests", req)
	if err == nil {
		return domain.OutcomeDeactivated, nil
	}
	if domain.IsNotFound(err) {
		log.Debug().Str("role", role.DisplayName).Msg("nothing to deactivate")
		return domain.OutcomeAlreadyInactive, nil
	}
	return domain.OutcomeFailed, err
}

// --- internal helpers ---

func (a *Adapter) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return a.do(req, out)
}

func (a *Adapter) postJSON(ctx context.Context, endpoint string, payload any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, nil)
}

func (a *Adapter) do(req *http.Request, out any) error {
	token, err := a.tokens.Token(req.Context())
	if err != nil {
		return &domain.TransportError{Backend: domain.BackendDirectory, Op: "acquire token", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Backend: domain.BackendDirectory, Op: req.Method + " " + req.URL.Path, Err: err}
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
	be := &domain.BackendError{Backend: domain.BackendDirectory, Status: resp.StatusCode}
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
