// Package azauth acquires and caches bearer tokens for the backend adapters.
// Each adapter owns one TokenSource; acquisition happens once per session and
// refresh on expiry is transparent to callers.
package azauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAuthorityURL is the token endpoint authority used when none is
// configured.
const DefaultAuthorityURL = "https://login.microsoftonline.com"

// refreshMargin is how long before expiry a cached token is considered stale.
const refreshMargin = 2 * time.Minute

// TokenSource produces bearer tokens for one backend, either from a static
// pre-acquired token or via the client-credentials flow.
type TokenSource struct {
	authorityURL string
	tenantID     string
	clientID     string
	clientSecret string
	scope        string
	static       string

	httpClient *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClientCredentials builds a TokenSource that requests tokens from the
// tenant's token endpoint. scope is the resource scope to request, e.g.
// "https://graph.microsoft.com/.default".
func NewClientCredentials(authorityURL, tenantID, clientID, clientSecret, scope string) *TokenSource {
	if authorityURL == "" {
		authorityURL = DefaultAuthorityURL
	}
	return &TokenSource{
		authorityURL: authorityURL,
		tenantID:     tenantID,
		clientID:     clientID,
		clientSecret: clientSecret,
		scope:        scope,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// NewStatic builds a TokenSource around an externally acquired token, e.g.
// one exported from a CLI login. The value is normalized: surrounding
// whitespace and an optional "Bearer " prefix are stripped so that both raw
// and header-shaped representations are accepted.
func NewStatic(token string) *TokenSource {
	return &TokenSource{static: Normalize(token)}
}

// Normalize strips the representation differences between token shapes:
// surrounding whitespace and a leading "Bearer " (any case).
func Normalize(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

// Token returns a valid bearer token, fetching or refreshing as needed.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if s.static != "" {
		return s.static, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Add(refreshMargin).Before(s.expiresAt) {
		return s.token, nil
	}

	token, expiresIn, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expiresAt = time.Now().Add(expiresIn)
	return s.token, nil
}

// PrincipalID extracts the principal object id from the token's claims,
// falling back to the subject claim. The token is already trusted (we are
// the client it was issued to), so the parse is claims-only.
func (s *TokenSource) PrincipalID(ctx context.Context) (string, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return "", err
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("parse access token claims: %w", err)
	}
	claims, ok := unverified.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("access token has no claims")
	}

	if oid, _ := claims["oid"].(string); oid != "" {
		return oid, nil
	}
	if sub, _ := claims["sub"].(string); sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("access token carries neither oid nor sub claim")
}

// flexSeconds decodes an expiry duration that older token endpoints return
// as a JSON string and newer ones as a JSON number.
type flexSeconds int64

func (f *flexSeconds) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("expires_in %q: %w", string(b), err)
	}
	*f = flexSeconds(v)
	return nil
}

func (s *TokenSource) fetch(ctx context.Context) (string, time.Duration, error) {
	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", s.authorityURL, s.tenantID)

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
		"scope":         {s.scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error != "" {
			return "", 0, fmt.Errorf("token endpoint: %s: %s", body.Error, body.ErrorDescription)
		}
		return "", 0, fmt.Errorf("token endpoint: status %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   flexSeconds `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", 0, fmt.Errorf("token endpoint returned empty access_token")
	}

	expiresIn := time.Duration(tok.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	return Normalize(tok.AccessToken), expiresIn, nil
}
