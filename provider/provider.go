// Package provider abstracts the identity provider: building authorization
// request URIs, exchanging and refreshing tokens, and validating incoming
// bearer tokens. The auth flow and the API-side validator only see the
// TokenProvider interface; the concrete OIDC implementation lives in oidc.go.
package provider

import (
	"context"
	"time"
)

// AuthRequest carries the parameters embedded into an authorization-request
// URI for the code flow's first leg.
type AuthRequest struct {
	State         string
	Nonce         string
	CodeChallenge string
	RedirectURI   string
	Scopes        []string
	Prompt        string
	LoginHint     string
}

// DeviceAuth is the intermediate state of a device-code login: the short code
// the end user types in at the verification URI, plus what the provider needs
// to complete the grant later.
type DeviceAuth struct {
	DeviceCode      string    `json:"device_code"`
	UserCode        string    `json:"user_code"`
	VerificationURI string    `json:"verification_uri"`
	Interval        int64     `json:"interval,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Tokens is the outcome of a successful code exchange, device grant, or
// refresh. AccessToken and RefreshToken are opaque to callers and must never
// be logged.
type Tokens struct {
	// IDClaims holds the claims of the already-validated ID token, if the
	// response carried one.
	IDClaims      map[string]any
	AccessToken   string
	RefreshToken  string
	TokenType     string
	ExpiresAt     time.Time
	GrantedScopes []string
}

// TokenProvider is the identity-provider capability consumed by the auth
// flow, the token cache, and the bearer validator. Network calls are blocking;
// retry and timeout policy belongs to the implementation.
type TokenProvider interface {
	// BuildAuthURI builds the authorization-request URI for the first leg of
	// the code flow. No network round-trip beyond discovery at construction.
	BuildAuthURI(req AuthRequest) (string, error)

	// BeginDeviceAuth starts a device-code flow for browserless logins.
	BeginDeviceAuth(ctx context.Context, scopes []string) (*DeviceAuth, error)

	// ExchangeCode exchanges an authorization code for tokens, supplying the
	// PKCE verifier and the redirect URI used on the first leg. The returned
	// ID-token claims are signature-verified.
	ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string, scopes []string) (*Tokens, error)

	// ExchangeDeviceCode completes a device-code flow, blocking until the
	// user approves, the code expires, or ctx is done.
	ExchangeDeviceCode(ctx context.Context, da *DeviceAuth, scopes []string) (*Tokens, error)

	// Refresh obtains a new access token from a refresh token. A revoked or
	// expired refresh token is an error, not a panic-worthy condition.
	Refresh(ctx context.Context, refreshToken string, scopes []string) (*Tokens, error)

	// ClientCredentials obtains an app-only access token through the client
	// credentials grant. No user is involved, so the result carries neither
	// ID claims nor a refresh token.
	ClientCredentials(ctx context.Context, scopes []string) (*Tokens, error)

	// ValidateBearer verifies an incoming bearer token's signature, issuer,
	// audience and expiry, returning its claims.
	ValidateBearer(ctx context.Context, raw string) (map[string]any, error)

	// EndSessionURI builds the provider's logout URI. Falls back to
	// postLogoutRedirect itself when the provider has no end-session
	// endpoint. Network-free.
	EndSessionURI(postLogoutRedirect string) string
}
