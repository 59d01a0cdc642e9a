package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Config configures an OIDC token provider for one app registration.
type Config struct {
	ClientID string

	// ClientSecret is empty for public clients. Confidential web apps set it.
	ClientSecret string

	Authority Authority

	// SigningAlgs restricts the accepted token signature algorithms.
	// Defaults to RS256 only, preventing downgrade attacks.
	SigningAlgs []string
}

// OIDC implements TokenProvider against a standard OpenID Connect provider,
// using its discovery document resolved once at construction.
type OIDC struct {
	cfg        Config
	issuer     string
	provider   *gooidc.Provider
	endSession string
	httpClient *http.Client
	now        func() time.Time
}

var _ TokenProvider = (*OIDC)(nil)

// OIDCOption modifies an OIDC provider instance.
type OIDCOption func(*OIDC)

// WithHTTPClient sets the HTTP client used for discovery and token-endpoint
// calls. Callers set their own timeout and retry policy here.
func WithHTTPClient(hc *http.Client) OIDCOption {
	return func(p *OIDC) {
		p.httpClient = hc
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) OIDCOption {
	return func(p *OIDC) {
		p.now = nowFunc
	}
}

// New resolves the authority into a canonical issuer, fetches the discovery
// document, and returns a long-lived provider instance.
func New(ctx context.Context, cfg Config, options ...OIDCOption) (*OIDC, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("[provider.New] client ID is required")
	}

	issuer, err := cfg.Authority.Issuer()
	if err != nil {
		return nil, errors.Wrap(err, "[provider.New] resolving authority")
	}

	p := &OIDC{
		cfg:    cfg,
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range options {
		opt(p)
	}

	if p.httpClient != nil {
		ctx = gooidc.ClientContext(ctx, p.httpClient)
	}

	oidcProvider, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrap(err, "[provider.New] OIDC discovery")
	}
	p.provider = oidcProvider

	// end_session_endpoint is optional in the discovery document.
	var metadata struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := oidcProvider.Claims(&metadata); err == nil {
		p.endSession = metadata.EndSessionEndpoint
	}

	return p, nil
}

// Issuer returns the canonical issuer resolved from the authority.
func (p *OIDC) Issuer() string {
	return p.issuer
}

func (p *OIDC) BuildAuthURI(req AuthRequest) (string, error) {
	if req.State == "" {
		return "", errors.New("[OIDC.BuildAuthURI] state is required")
	}

	o2c := p.oauth2Config(req.RedirectURI, req.Scopes)

	opts := []oauth2.AuthCodeOption{
		gooidc.Nonce(req.Nonce),
		oauth2.SetAuthURLParam("code_challenge", req.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if req.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", req.Prompt))
	}
	if req.LoginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", req.LoginHint))
	}

	return o2c.AuthCodeURL(req.State, opts...), nil
}

func (p *OIDC) BeginDeviceAuth(ctx context.Context, scopes []string) (*DeviceAuth, error) {
	o2c := p.oauth2Config("", scopes)

	resp, err := o2c.DeviceAuth(p.clientContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "[OIDC.BeginDeviceAuth] device authorization request")
	}

	return &DeviceAuth{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		Interval:        resp.Interval,
		ExpiresAt:       resp.Expiry,
	}, nil
}

func (p *OIDC) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string, scopes []string) (*Tokens, error) {
	o2c := p.oauth2Config(redirectURI, scopes)

	token, err := o2c.Exchange(
		p.clientContext(ctx),
		code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[OIDC.ExchangeCode] token endpoint")
	}

	return p.toTokens(ctx, token, true)
}

func (p *OIDC) ExchangeDeviceCode(ctx context.Context, da *DeviceAuth, scopes []string) (*Tokens, error) {
	o2c := p.oauth2Config("", scopes)

	token, err := o2c.DeviceAccessToken(p.clientContext(ctx), &oauth2.DeviceAuthResponse{
		DeviceCode: da.DeviceCode,
		Expiry:     da.ExpiresAt,
		Interval:   da.Interval,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[OIDC.ExchangeDeviceCode] device token endpoint")
	}

	return p.toTokens(ctx, token, true)
}

func (p *OIDC) Refresh(ctx context.Context, refreshToken string, scopes []string) (*Tokens, error) {
	o2c := p.oauth2Config("", scopes)

	token, err := o2c.TokenSource(p.clientContext(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
	}).Token()
	if err != nil {
		return nil, errors.Wrap(err, "[OIDC.Refresh] refresh grant")
	}

	// A refresh response may omit the ID token; claims stay nil in that case.
	return p.toTokens(ctx, token, false)
}

func (p *OIDC) ClientCredentials(ctx context.Context, scopes []string) (*Tokens, error) {
	// The reserved scopes are user-flow concepts; a client credentials
	// request carries the caller's scopes verbatim.
	cc := &clientcredentials.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		TokenURL:     p.provider.Endpoint().TokenURL,
		Scopes:       scopes,
	}

	token, err := cc.Token(p.clientContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "[OIDC.ClientCredentials] token endpoint")
	}

	return p.toTokens(ctx, token, false)
}

func (p *OIDC) ValidateBearer(ctx context.Context, raw string) (map[string]any, error) {
	verifier := p.provider.Verifier(p.verifierConfig())

	token, err := verifier.Verify(p.clientContext(ctx), raw)
	if err != nil {
		return nil, errors.Wrap(err, "[OIDC.ValidateBearer] token verification")
	}

	claims := make(map[string]any)
	if err := token.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[OIDC.ValidateBearer] decoding claims")
	}
	return claims, nil
}

func (p *OIDC) EndSessionURI(postLogoutRedirect string) string {
	if p.endSession == "" {
		return postLogoutRedirect
	}

	q := url.Values{}
	q.Set("post_logout_redirect_uri", postLogoutRedirect)
	return p.endSession + "?" + q.Encode()
}

// toTokens converts an oauth2 token into the provider-neutral shape,
// verifying the embedded ID token when one is present.
func (p *OIDC) toTokens(ctx context.Context, token *oauth2.Token, requireIDToken bool) (*Tokens, error) {
	out := &Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		ExpiresAt:    token.Expiry,
	}

	// Per RFC 6749 §5.1 the scope parameter is present when the granted
	// scopes differ from the requested ones.
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		out.GrantedScopes = strings.Fields(scope)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		if requireIDToken {
			return nil, errors.New("[OIDC.toTokens] no ID token in response")
		}
		return out, nil
	}

	idToken, err := p.provider.Verifier(p.verifierConfig()).Verify(p.clientContext(ctx), rawIDToken)
	if err != nil {
		return nil, errors.Wrap(err, "[OIDC.toTokens] ID token verification")
	}

	claims := make(map[string]any)
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[OIDC.toTokens] decoding ID token claims")
	}
	out.IDClaims = claims

	return out, nil
}

func (p *OIDC) verifierConfig() *gooidc.Config {
	algs := p.cfg.SigningAlgs
	if len(algs) == 0 {
		algs = []string{"RS256"}
	}
	return &gooidc.Config{
		ClientID:             p.cfg.ClientID,
		SupportedSigningAlgs: algs,
		Now:                  p.now,
	}
}

func (p *OIDC) oauth2Config(redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint:     p.provider.Endpoint(),
		RedirectURL:  redirectURI,
		Scopes:       withReservedScopes(scopes),
	}
}

func (p *OIDC) clientContext(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return gooidc.ClientContext(ctx, p.httpClient)
}

// withReservedScopes guarantees openid and offline_access are requested, so
// every login yields an ID token and a refresh token.
func withReservedScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes)+2)
	seen := map[string]bool{}
	for _, s := range append([]string{gooidc.ScopeOpenID, gooidc.ScopeOfflineAccess}, scopes...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
