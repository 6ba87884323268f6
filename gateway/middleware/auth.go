package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig controls bearer-token checks on the operator API.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	// OptionalPaths are path prefixes served without a token when
	// AllowAnonymous is set.
	OptionalPaths  []string
	AllowAnonymous bool
	ClockSkew      time.Duration
}

type authContextKey struct{}

// Principal is what a verified token grants the request.
type Principal struct {
	Subject string
	Scopes  []string
}

// scopeList accepts both the space separated OAuth form and a JSON array.
type scopeList []string

func (s *scopeList) UnmarshalJSON(data []byte) error {
	var joined string
	if err := json.Unmarshal(data, &joined); err == nil {
		*s = strings.Fields(joined)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("scope claim: %w", err)
	}
	*s = list
	return nil
}

type operatorClaims struct {
	jwt.RegisteredClaims
	Scope scopeList `json:"scope,omitempty"`
}

// Authenticator checks HMAC-signed JWTs presented by escrow operators.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	parser *jwt.Parser
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		parser: newParser(cfg, time.Now),
	}
}

func newParser(cfg AuthConfig, now func() time.Time) *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithTimeFunc(now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return jwt.NewParser(opts...)
}

// Middleware rejects requests without a valid token or missing any of the
// required scopes.
func (a *Authenticator) Middleware(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled || (a.cfg.AllowAnonymous && a.anonymous(r.URL.Path)) {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			principal, err := a.verify(raw)
			if err != nil {
				a.logger.Warn("rejected operator token", "path", r.URL.Path, "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			for _, scope := range required {
				if !slices.Contains(principal.Scopes, scope) {
					http.Error(w, "insufficient scope", http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authContextKey{}, principal)))
		})
	}
}

func (a *Authenticator) verify(raw string) (Principal, error) {
	if len(a.secret) == 0 {
		return Principal{}, fmt.Errorf("hmac secret not configured")
	}
	var claims operatorClaims
	if _, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return Principal{}, err
	}
	return Principal{Subject: claims.Subject, Scopes: claims.Scope}, nil
}

func (a *Authenticator) anonymous(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// PrincipalFrom returns the token principal attached by Middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(authContextKey{}).(Principal)
	return p, ok
}

// Subject returns the authenticated token subject, or "" for anonymous
// requests.
func Subject(ctx context.Context) string {
	p, _ := PrincipalFrom(ctx)
	return p.Subject
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
