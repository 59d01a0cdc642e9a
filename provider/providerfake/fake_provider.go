// Package providerfake is an in-memory TokenProvider for tests and local
// development. Grants are scripted per authorization code or refresh token,
// and bearer tokens are real HS256 JWTs so the validation path is exercised
// end to end without a network.
package providerfake

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/rayluo/identity/provider"
)

var _ provider.TokenProvider = (*FakeProvider)(nil)

// Grant scripts the outcome of a code exchange, device grant, or refresh.
type Grant struct {
	IDClaims      map[string]any
	AccessToken   string
	RefreshToken  string
	GrantedScopes []string
	ExpiresIn     time.Duration
}

type FakeProvider struct {
	Issuer     string
	ClientID   string
	SigningKey []byte

	AuthEndpoint       string
	VerificationURI    string
	EndSessionEndpoint string

	// CodeGrants maps authorization codes to their scripted outcome.
	CodeGrants map[string]Grant
	// RefreshGrants maps refresh tokens to their scripted outcome.
	RefreshGrants map[string]Grant
	// DeviceGrant is returned by ExchangeDeviceCode.
	DeviceGrant *Grant
	// ClientGrant is returned by ClientCredentials.
	ClientGrant *Grant

	// ExchangeErr / RefreshErr / DeviceErr force the corresponding call to
	// fail, simulating network or credential failures.
	ExchangeErr error
	RefreshErr  error
	DeviceErr   error
	ClientErr   error

	// LastAuthRequest records the most recent BuildAuthURI input so tests can
	// echo state and nonce the way a real provider would.
	LastAuthRequest *provider.AuthRequest

	// EchoNonce injects the nonce of LastAuthRequest into granted ID claims,
	// mimicking a compliant provider. Tests scripting a nonce mismatch leave
	// it off and set the claim themselves.
	EchoNonce bool

	ExchangeCalls int
	RefreshCalls  int
	ClientCalls   int
	ValidateCalls int

	lock sync.Mutex
	now  func() time.Time
}

func New() *FakeProvider {
	return &FakeProvider{
		Issuer:             "https://fake.example.com/tenant",
		ClientID:           "fake-client-id",
		SigningKey:         []byte("fake-signing-key-for-tests-only!"),
		AuthEndpoint:       "https://fake.example.com/tenant/oauth2/authorize",
		VerificationURI:    "https://fake.example.com/devicelogin",
		EndSessionEndpoint: "https://fake.example.com/tenant/oauth2/logout",
		CodeGrants:         make(map[string]Grant),
		RefreshGrants:      make(map[string]Grant),
		now:                time.Now,
	}
}

// WithNowTime overrides the clock used for token expiries.
func (f *FakeProvider) WithNowTime(nowFunc func() time.Time) *FakeProvider {
	f.now = nowFunc
	return f
}

func (f *FakeProvider) BuildAuthURI(req provider.AuthRequest) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	reqCopy := req
	f.LastAuthRequest = &reqCopy

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", f.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("scope", strings.Join(req.Scopes, " "))
	q.Set("state", req.State)
	q.Set("nonce", req.Nonce)
	q.Set("code_challenge", req.CodeChallenge)
	q.Set("code_challenge_method", "S256")
	if req.Prompt != "" {
		q.Set("prompt", req.Prompt)
	}
	return f.AuthEndpoint + "?" + q.Encode(), nil
}

func (f *FakeProvider) BeginDeviceAuth(ctx context.Context, scopes []string) (*provider.DeviceAuth, error) {
	if f.DeviceErr != nil {
		return nil, f.DeviceErr
	}
	return &provider.DeviceAuth{
		DeviceCode:      "fake-device-code",
		UserCode:        "ABCD-1234",
		VerificationURI: f.VerificationURI,
		Interval:        5,
		ExpiresAt:       f.now().Add(15 * time.Minute),
	}, nil
}

func (f *FakeProvider) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string, scopes []string) (*provider.Tokens, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.ExchangeCalls++

	if f.ExchangeErr != nil {
		return nil, f.ExchangeErr
	}
	grant, ok := f.CodeGrants[code]
	if !ok {
		return nil, errors.New("invalid_grant: unknown authorization code")
	}
	return f.toTokens(grant), nil
}

func (f *FakeProvider) ExchangeDeviceCode(ctx context.Context, da *provider.DeviceAuth, scopes []string) (*provider.Tokens, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.ExchangeCalls++

	if f.DeviceErr != nil {
		return nil, f.DeviceErr
	}
	if f.DeviceGrant == nil {
		return nil, errors.New("authorization_pending")
	}
	return f.toTokens(*f.DeviceGrant), nil
}

func (f *FakeProvider) Refresh(ctx context.Context, refreshToken string, scopes []string) (*provider.Tokens, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.RefreshCalls++

	if f.RefreshErr != nil {
		return nil, f.RefreshErr
	}
	grant, ok := f.RefreshGrants[refreshToken]
	if !ok {
		return nil, errors.New("invalid_grant: refresh token revoked or expired")
	}
	return f.toTokens(grant), nil
}

func (f *FakeProvider) ClientCredentials(ctx context.Context, scopes []string) (*provider.Tokens, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.ClientCalls++

	if f.ClientErr != nil {
		return nil, f.ClientErr
	}
	if f.ClientGrant == nil {
		return nil, errors.New("unauthorized_client: no client credentials grant scripted")
	}
	return f.toTokens(*f.ClientGrant), nil
}

func (f *FakeProvider) ValidateBearer(ctx context.Context, raw string) (map[string]any, error) {
	f.lock.Lock()
	f.ValidateCalls++
	f.lock.Unlock()

	parsed, err := jwt.Parse(
		raw,
		func(t *jwt.Token) (any, error) { return f.SigningKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(f.Issuer),
		jwt.WithAudience(f.ClientID),
		jwt.WithTimeFunc(f.now),
	)
	if err != nil {
		return nil, errors.Wrap(err, "bearer token rejected")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("bearer token carries no claims")
	}
	return map[string]any(claims), nil
}

func (f *FakeProvider) EndSessionURI(postLogoutRedirect string) string {
	if f.EndSessionEndpoint == "" {
		return postLogoutRedirect
	}
	q := url.Values{}
	q.Set("post_logout_redirect_uri", postLogoutRedirect)
	return f.EndSessionEndpoint + "?" + q.Encode()
}

// MintBearerToken signs an HS256 access token that ValidateBearer will
// accept, with iss, aud, iat and exp filled in around the given claims.
func (f *FakeProvider) MintBearerToken(claims map[string]any) (string, error) {
	mapClaims := jwt.MapClaims{
		"iss": f.Issuer,
		"aud": f.ClientID,
		"iat": f.now().Unix(),
		"exp": f.now().Add(time.Hour).Unix(),
	}
	for k, v := range claims {
		mapClaims[k] = v
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims).SignedString(f.SigningKey)
}

func (f *FakeProvider) toTokens(grant Grant) *provider.Tokens {
	expiresIn := grant.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	idClaims := make(map[string]any, len(grant.IDClaims)+1)
	for k, v := range grant.IDClaims {
		idClaims[k] = v
	}
	if f.EchoNonce && f.LastAuthRequest != nil {
		if _, set := idClaims["nonce"]; !set {
			idClaims["nonce"] = f.LastAuthRequest.Nonce
		}
	}

	return &provider.Tokens{
		IDClaims:      idClaims,
		AccessToken:   grant.AccessToken,
		RefreshToken:  grant.RefreshToken,
		TokenType:     "Bearer",
		ExpiresAt:     f.now().Add(expiresIn),
		GrantedScopes: append([]string(nil), grant.GrantedScopes...),
	}
}
