// Package auth drives the browser-redirect authorization-code login flow for
// server-rendered web apps: BeginLogin issues the redirect to the identity
// provider, CompleteLogin consumes the provider's callback, and
// GetTokenForUser hands out cached tokens with incremental consent.
//
// All mutable state lives in the injected per-session store, so one Service
// per request (or per session) is the expected usage and sessions for
// different users need no coordination.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/rayluo/identity/provider"
	"github.com/rayluo/identity/sessions"
	"github.com/rayluo/identity/tokencache"
)

const stateLength = 32
const verifierLength = 32

// flowMaxAge bounds how long a login attempt may sit between BeginLogin and
// CompleteLogin before it is treated as stale.
const flowMaxAge = 10 * time.Minute

// Service orchestrates the login flow for one browser session.
//
// Known limitation: at most one login flow is live per session. A second
// BeginLogin overwrites the first (last-write-wins); concurrent
// BeginLogin/CompleteLogin pairs on the same session are not synchronized.
type Service struct {
	store    sessions.Store
	provider provider.TokenProvider
	cache    *tokencache.Cache
	log      zerolog.Logger
	now      func() time.Time
}

// ServiceOption modifies a Service instance.
type ServiceOption func(*Service)

// WithLogger attaches a logger. The service never logs token material.
func WithLogger(log zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = nowFunc
	}
}

// NewService creates the auth service over a session store and a token
// provider.
func NewService(store sessions.Store, tp provider.TokenProvider, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("[NewService] session store is required")
	}
	if tp == nil {
		return nil, errors.New("[NewService] token provider is required")
	}

	s := &Service{
		store:    store,
		provider: tp,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	s.cache = tokencache.New(store, tp, tokencache.WithNowTime(s.now))

	return s, nil
}

// LoginResult is what BeginLogin hands back to the caller: the URI to send
// the user to, and, for the device flow, the short code they must enter
// there.
type LoginResult struct {
	AuthURI  string
	UserCode string
}

// loginOptions collects the optional BeginLogin parameters.
type loginOptions struct {
	state     string
	prompt    string
	loginHint string
	nextLink  string
}

// LoginOption modifies a BeginLogin call.
type LoginOption func(*loginOptions)

// WithState lets the caller supply their own state correlation token instead
// of a generated one.
func WithState(state string) LoginOption {
	return func(o *loginOptions) { o.state = state }
}

// WithPrompt sets the OIDC prompt parameter, e.g. "select_account".
func WithPrompt(prompt string) LoginOption {
	return func(o *loginOptions) { o.prompt = prompt }
}

// WithLoginHint pre-fills the provider's login page with a username.
func WithLoginHint(hint string) LoginOption {
	return func(o *loginOptions) { o.loginHint = hint }
}

// WithNextLink records where to send the user after a successful login; it is
// returned by CompleteLogin.
func WithNextLink(link string) LoginOption {
	return func(o *loginOptions) { o.nextLink = link }
}

// BeginLogin starts the first leg of the login flow. With a redirect URI it
// builds an authorization-request URI embedding fresh state, nonce and PKCE
// challenge; with an empty redirect URI it starts the device-code flow
// instead. Any unfinished flow in the session is overwritten.
func (s *Service) BeginLogin(ctx context.Context, scopes []string, redirectURI string, options ...LoginOption) (*LoginResult, error) {
	if len(scopes) == 0 {
		return nil, errors.New("[BeginLogin] at least one scope is required")
	}

	var opts loginOptions
	for _, opt := range options {
		opt(&opts)
	}

	if redirectURI == "" {
		return s.beginDeviceLogin(ctx, scopes, opts)
	}

	state := opts.state
	if state == "" {
		state = generateRandomString(stateLength)
	}

	verifier := generateRandomString(verifierLength)
	fs := &FlowState{
		State:           state,
		Nonce:           generateRandomString(stateLength),
		CodeVerifier:    verifier,
		CodeChallenge:   generateCodeChallenge(verifier),
		RequestedScopes: append([]string(nil), scopes...),
		RedirectURI:     redirectURI,
		NextLink:        opts.nextLink,
		CreatedAt:       s.now(),
	}

	authURI, err := s.provider.BuildAuthURI(provider.AuthRequest{
		State:         fs.State,
		Nonce:         fs.Nonce,
		CodeChallenge: fs.CodeChallenge,
		RedirectURI:   fs.RedirectURI,
		Scopes:        fs.RequestedScopes,
		Prompt:        opts.prompt,
		LoginHint:     opts.loginHint,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[BeginLogin] building authorization URI")
	}

	if err := s.saveFlowState(fs); err != nil {
		return nil, errors.Wrap(err, "[BeginLogin] persisting flow state")
	}

	return &LoginResult{AuthURI: authURI}, nil
}

func (s *Service) beginDeviceLogin(ctx context.Context, scopes []string, opts loginOptions) (*LoginResult, error) {
	if opts.state != "" {
		s.log.Warn().Msg("caller state is only honored in redirect mode; ignoring it for device login")
	}

	da, err := s.provider.BeginDeviceAuth(ctx, scopes)
	if err != nil {
		return nil, errors.Wrap(err, "[BeginLogin] starting device flow")
	}

	fs := &FlowState{
		RequestedScopes: append([]string(nil), scopes...),
		NextLink:        opts.nextLink,
		DeviceAuth:      da,
		CreatedAt:       s.now(),
	}
	if err := s.saveFlowState(fs); err != nil {
		return nil, errors.Wrap(err, "[BeginLogin] persisting flow state")
	}

	return &LoginResult{AuthURI: da.VerificationURI, UserCode: da.UserCode}, nil
}

// CompletedLogin is the outcome of a successful CompleteLogin.
type CompletedLogin struct {
	// Claims are the validated ID-token claims of the signed-in user.
	Claims map[string]any
	// NextLink is the destination recorded at BeginLogin, if any.
	NextLink string
}

// CompleteLogin consumes the provider's callback parameters and finishes the
// login. The flow state is consumed no matter the outcome; replaying the
// same callback fails with FlowStateMissingErr.
func (s *Service) CompleteLogin(ctx context.Context, params map[string]string) (*CompletedLogin, error) {
	fs, err := s.loadFlowState()
	if err != nil {
		return nil, err
	}
	if fs == nil {
		s.log.Warn().Msg("auth callback without prior BeginLogin in this session; " +
			"either the flow was already completed, or sessions were reset, or this " +
			"server does not share its session store with the one that started the login")
		return nil, FlowStateMissingErr
	}

	if !fs.CreatedAt.IsZero() && s.now().Sub(fs.CreatedAt) > flowMaxAge {
		s.clearFlowState()
		return nil, errors.Wrap(FlowStateMissingErr, "login attempt expired; start over")
	}

	if fs.DeviceAuth != nil {
		defer s.clearFlowState()
		tokens, err := s.provider.ExchangeDeviceCode(ctx, fs.DeviceAuth, fs.RequestedScopes)
		if err != nil {
			return nil, errors.Wrap(TokenExchangeFailedErr, err.Error())
		}
		return s.finishLogin(fs, tokens, false)
	}

	if params["state"] != fs.State {
		s.clearFlowState()
		return nil, StateMismatchErr
	}

	// From here on the flow is consumed regardless of outcome, so a failed
	// attempt can never be replayed.
	defer s.clearFlowState()

	if errCode := params["error"]; errCode != "" {
		return nil, &ProviderError{Code: errCode, Description: params["error_description"]}
	}

	code := params["code"]
	if code == "" {
		return nil, errors.Wrap(TokenExchangeFailedErr, "no authorization code in callback")
	}

	tokens, err := s.provider.ExchangeCode(ctx, code, fs.CodeVerifier, fs.RedirectURI, fs.RequestedScopes)
	if err != nil {
		s.log.Error().Err(err).Msg("authorization code exchange failed")
		return nil, errors.Wrap(TokenExchangeFailedErr, err.Error())
	}

	return s.finishLogin(fs, tokens, true)
}

// finishLogin runs the post-exchange checks shared by the redirect and device
// paths, then persists the account and tokens.
func (s *Service) finishLogin(fs *FlowState, tokens *provider.Tokens, checkNonce bool) (*CompletedLogin, error) {
	if checkNonce {
		nonce, _ := tokens.IDClaims["nonce"].(string)
		if nonce != fs.Nonce {
			return nil, NonceMismatchErr
		}
	}

	// Per RFC 6749 §5.1 the provider may grant fewer scopes than requested.
	// Surface that as an error rather than caching a token that cannot serve
	// the scopes the caller asked for.
	if len(tokens.GrantedScopes) > 0 {
		if ungranted := missingScopes(fs.RequestedScopes, tokens.GrantedScopes); len(ungranted) > 0 {
			return nil, &ProviderError{
				Code:        "invalid_scope",
				Description: "ungranted scope(s): " + strings.Join(ungranted, " "),
			}
		}
	}

	accountID := homeAccountID(tokens.IDClaims)

	grantedScopes := mergeScopes(fs.RequestedScopes, tokens.GrantedScopes)
	if existing, err := s.loadAccount(); err == nil && existing != nil && existing.HomeAccountID == accountID {
		// Incremental consent: a new leg layers scopes onto the same account.
		grantedScopes = mergeScopes(existing.GrantedScopes, grantedScopes)
	}

	account := &CachedAccount{
		HomeAccountID: accountID,
		Claims:        tokens.IDClaims,
		GrantedScopes: grantedScopes,
	}
	if err := s.saveAccount(account); err != nil {
		return nil, err
	}

	cacheScopes := mergeScopes(fs.RequestedScopes, tokens.GrantedScopes)
	if err := s.cache.Put(accountID, cacheScopes, tokens); err != nil {
		return nil, errors.Wrap(err, "[CompleteLogin] caching tokens")
	}

	return &CompletedLogin{Claims: account.Claims, NextLink: fs.NextLink}, nil
}

// GetUser returns the signed-in user's ID-token claims, or nil when the
// session is unauthenticated. Pure read: no network, no side effects.
func (s *Service) GetUser() (map[string]any, error) {
	account, err := s.loadAccount()
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, nil
	}
	return account.Claims, nil
}

// Logout clears the signed-in account and all cached tokens, then returns the
// provider's end-session URI parameterized with postLogoutRedirect. It is an
// idempotent no-op on an already-logged-out session and contacts no network.
func (s *Service) Logout(postLogoutRedirect string) (string, error) {
	if err := s.store.Delete(SessionKeyUser); err != nil {
		return "", errors.Wrap(err, "[Logout] clearing account")
	}
	if err := s.cache.Clear(); err != nil {
		return "", errors.Wrap(err, "[Logout] clearing token cache")
	}
	return s.provider.EndSessionURI(postLogoutRedirect), nil
}

// missingScopes returns the requested scopes absent from granted.
func missingScopes(requested, granted []string) []string {
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}
	var missing []string
	for _, s := range requested {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	return missing
}

// generateRandomString creates a random base64url string
func generateRandomString(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// generateCodeChallenge creates a PKCE code challenge from a verifier
func generateCodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
