// Package apiauth validates incoming bearer tokens for protected web APIs.
// Unlike the web-app login flow it is stateless: claims are built fresh per
// request, nothing is written to any store, and no session is involved.
package apiauth

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/rayluo/identity/provider"
)

var (
	// ErrUnauthenticated covers a missing, malformed, expired, or otherwise
	// invalid token. Maps to HTTP 401 at the transport boundary.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the token is valid but grants none of the expected
	// scopes or roles. Maps to HTTP 403.
	ErrForbidden = errors.New("insufficient scope")
)

// Claims is the validated payload of an incoming bearer token.
type Claims struct {
	Subject  string
	ObjectID string
	TenantID string
	Issuer   string
	Audience []string
	Expiry   time.Time
	Scopes   []string
	Roles    []string

	// Raw is the full claim set as returned by the provider.
	Raw map[string]any
}

// Validator checks bearer tokens against the token provider's validation
// capability. It is safe for concurrent use and holds no per-request state.
type Validator struct {
	provider provider.TokenProvider
	realm    string
	log      zerolog.Logger
}

// ValidatorOption modifies a Validator instance.
type ValidatorOption func(*Validator)

// WithRealm sets the realm advertised in WWW-Authenticate challenges,
// typically the authority URL.
func WithRealm(realm string) ValidatorOption {
	return func(v *Validator) {
		v.realm = realm
	}
}

// WithLogger attaches a logger. Token material is never logged.
func WithLogger(log zerolog.Logger) ValidatorOption {
	return func(v *Validator) {
		v.log = log
	}
}

// NewValidator creates a bearer-token validator over the given provider.
func NewValidator(tp provider.TokenProvider, options ...ValidatorOption) (*Validator, error) {
	if tp == nil {
		return nil, errors.New("[NewValidator] token provider is required")
	}

	v := &Validator{
		provider: tp,
		log:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(v)
	}
	return v, nil
}

// Authorize validates a raw bearer token and checks it against the expected
// scopes. expectedScopes maps short scope names to fully-qualified scope
// URIs; a token matching ANY key or value, in either its scp or roles claim,
// is authorized (logical OR). An empty map requires authentication only.
//
// Pure and side-effect free: nothing is cached or written.
func (v *Validator) Authorize(ctx context.Context, raw string, expectedScopes map[string]string) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.Wrap(ErrUnauthenticated, "no bearer token presented")
	}

	rawClaims, err := v.provider.ValidateBearer(ctx, raw)
	if err != nil {
		v.log.Debug().Err(err).Msg("bearer token rejected")
		return nil, errors.Wrap(ErrUnauthenticated, err.Error())
	}

	claims := parseClaims(rawClaims)

	if len(expectedScopes) > 0 && !anyScopeMatches(claims, expectedScopes) {
		return nil, errors.Wrapf(ErrForbidden,
			"token grants %q, expected one of %q",
			strings.Join(append(claims.Scopes, claims.Roles...), " "),
			strings.Join(scopeNames(expectedScopes), " "))
	}

	return claims, nil
}

// FromAuthorizationHeader extracts the bearer token from an Authorization
// header value. A missing or non-Bearer header is ErrUnauthenticated.
func FromAuthorizationHeader(header string) (string, error) {
	if header == "" {
		return "", errors.Wrap(ErrUnauthenticated, "Authorization header is missing")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.Wrap(ErrUnauthenticated, "Authorization header is not a bearer token")
	}
	return strings.TrimSpace(parts[1]), nil
}

func parseClaims(raw map[string]any) *Claims {
	c := &Claims{Raw: raw}

	c.Subject, _ = raw["sub"].(string)
	c.ObjectID, _ = raw["oid"].(string)
	c.TenantID, _ = raw["tid"].(string)
	c.Issuer, _ = raw["iss"].(string)

	// aud is a string for a single audience, a list otherwise.
	switch aud := raw["aud"].(type) {
	case string:
		c.Audience = []string{aud}
	case []any:
		for _, a := range aud {
			if s, ok := a.(string); ok {
				c.Audience = append(c.Audience, s)
			}
		}
	}

	switch exp := raw["exp"].(type) {
	case float64:
		c.Expiry = time.Unix(int64(exp), 0)
	case int64:
		c.Expiry = time.Unix(exp, 0)
	}

	// scp is a space-separated string for delegated tokens; roles is a list
	// for app-only tokens.
	if scp, ok := raw["scp"].(string); ok {
		c.Scopes = strings.Fields(scp)
	}
	if roles, ok := raw["roles"].([]any); ok {
		for _, r := range roles {
			if role, ok := r.(string); ok {
				c.Roles = append(c.Roles, role)
			}
		}
	}

	return c
}

func anyScopeMatches(claims *Claims, expected map[string]string) bool {
	granted := make(map[string]bool, len(claims.Scopes)+len(claims.Roles))
	for _, s := range claims.Scopes {
		granted[s] = true
	}
	for _, r := range claims.Roles {
		granted[r] = true
	}
	for short, full := range expected {
		if granted[short] || granted[full] {
			return true
		}
	}
	return false
}

func scopeNames(expected map[string]string) []string {
	names := make([]string, 0, len(expected))
	for short := range expected {
		names = append(names, short)
	}
	return names
}
