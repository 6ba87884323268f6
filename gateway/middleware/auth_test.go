package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authHandler(auth *Authenticator, scopes ...string) http.Handler {
	return auth.Middleware(scopes...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Subject", Subject(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "escrow", Audience: "api"}, nil)
	token := signToken(t, jwt.MapClaims{
		"iss":   "escrow",
		"aud":   "api",
		"sub":   "operator-1",
		"scope": "escrow:write escrow:read",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	authHandler(auth, "escrow:write").ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if got := res.Header().Get("X-Subject"); got != "operator-1" {
		t.Fatalf("expected subject in context, got %q", got)
	}
}

func TestAuthenticatorRejects(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "escrow"}, nil)
	valid := jwt.MapClaims{"iss": "escrow", "scope": "escrow:read", "exp": time.Now().Add(time.Hour).Unix()}

	cases := []struct {
		name   string
		header string
		scopes []string
		status int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "bad scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not-a-token", status: http.StatusUnauthorized},
		{name: "wrong issuer", header: "Bearer " + signToken(t, jwt.MapClaims{"iss": "other", "exp": time.Now().Add(time.Hour).Unix()}), status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, jwt.MapClaims{"iss": "escrow", "exp": time.Now().Add(-time.Hour).Unix()}), status: http.StatusUnauthorized},
		{name: "no expiry", header: "Bearer " + signToken(t, jwt.MapClaims{"iss": "escrow"}), status: http.StatusUnauthorized},
		{name: "missing scope", header: "Bearer " + signToken(t, valid), scopes: []string{"escrow:write"}, status: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/orders/x", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res := httptest.NewRecorder()
			authHandler(auth, tc.scopes...).ServeHTTP(res, req)
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, res.Code)
			}
		})
	}
}

func TestAuthenticatorOptionalPaths(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:        true,
		HMACSecret:     testSecret,
		OptionalPaths:  []string{"/healthz"},
		AllowAnonymous: true,
	}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	authHandler(auth).ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected anonymous access to optional path, got %d", res.Code)
	}
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/orders/x", nil)
	res := httptest.NewRecorder()
	authHandler(auth, "escrow:write").ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", res.Code)
	}
}

func TestAuthenticatorScopeArrayAndAudienceList(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Audience: "api"}, nil)
	token := signToken(t, jwt.MapClaims{
		"aud":   []string{"explorer", "api"},
		"sub":   "arbiter",
		"scope": []string{"escrow:resolve"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	var got Principal
	handler := auth.Middleware("escrow:resolve")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if got.Subject != "arbiter" || len(got.Scopes) != 1 || got.Scopes[0] != "escrow:resolve" {
		t.Fatalf("unexpected principal %+v", got)
	}
}
