package azauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"abc":            "abc",
		"  abc \n":       "abc",
		"Bearer abc":     "abc",
		"bearer abc":     "abc",
		"BEARER   abc  ": "abc",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToken_StaticSkipsEndpoint(t *testing.T) {
	s := NewStatic("Bearer static-token")
	got, err := s.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "static-token" {
		t.Fatalf("got %q", got)
	}
}

func TestToken_FetchAndCache(t *testing.T) {
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("unexpected grant_type %q", r.Form.Get("grant_type"))
		}
		fmt.Fprint(w, `{"access_token":"tok-1","expires_in":3600}`)
	}))
	defer srv.Close()

	s := NewClientCredentials(srv.URL, "tenant-1", "client-1", "secret", "https://example.test/.default")

	for i := 0; i < 3; i++ {
		got, err := s.Token(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got != "tok-1" {
			t.Fatalf("got %q", got)
		}
	}
	if fetches != 1 {
		t.Fatalf("expected a single fetch for a fresh token, got %d", fetches)
	}
}

func TestToken_StringExpiresInAndRefresh(t *testing.T) {
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches++
		// Older endpoints return expires_in as a string. A one-second
		// lifetime is inside the refresh margin, forcing a refetch.
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":"1"}`, fetches)
	}))
	defer srv.Close()

	s := NewClientCredentials(srv.URL, "tenant-1", "client-1", "secret", "scope")

	if _, err := s.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, err := s.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fetches != 2 {
		t.Fatalf("expected refresh on stale token, got %d fetches", fetches)
	}
	if got != "tok-2" {
		t.Fatalf("got %q", got)
	}
}

func TestToken_EndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_client","error_description":"bad secret"}`)
	}))
	defer srv.Close()

	s := NewClientCredentials(srv.URL, "tenant-1", "client-1", "wrong", "scope")
	if _, err := s.Token(context.Background()); err == nil {
		t.Fatal("expected error from token endpoint")
	}
}

func TestPrincipalID(t *testing.T) {
	s := NewStatic(signedToken(t, jwt.MapClaims{"oid": "principal-1", "sub": "subject-1"}))
	got, err := s.PrincipalID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "principal-1" {
		t.Fatalf("expected oid claim to win, got %q", got)
	}
}

func TestPrincipalID_FallsBackToSub(t *testing.T) {
	s := NewStatic(signedToken(t, jwt.MapClaims{"sub": "subject-1"}))
	got, err := s.PrincipalID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "subject-1" {
		t.Fatalf("got %q", got)
	}
}

func TestPrincipalID_NotAJWT(t *testing.T) {
	s := NewStatic("opaque-token")
	if _, err := s.PrincipalID(context.Background()); err == nil {
		t.Fatal("expected error for non-JWT token")
	}
}
