package auth_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rayluo/identity/auth"
	"github.com/rayluo/identity/provider/providerfake"
	"github.com/rayluo/identity/sessions"
)

const (
	testRedirectURI = "https://app.example.com/callback"
	testCode        = "test-auth-code"
	testScopeRead   = "scope.read"
	testScopeWrite  = "scope.write"
)

// testFixture holds all test dependencies
type testFixture struct {
	store    *sessions.MapStore
	provider *providerfake.FakeProvider
	service  *auth.Service
	clock    time.Time
}

// setupTestFixture creates a new test fixture with all dependencies
func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{
		store: sessions.NewMapStore(),
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return f.clock }
	f.provider = providerfake.New().WithNowTime(now)
	f.provider.EchoNonce = true

	service, err := auth.NewService(f.store, f.provider, auth.WithNowTime(now))
	require.NoError(t, err)
	f.service = service

	return f
}

// storedFlowState reads the persisted flow state back out of the session.
func (f *testFixture) storedFlowState(t *testing.T) *auth.FlowState {
	t.Helper()

	raw, ok, err := f.store.Get(auth.SessionKeyAuthFlow)
	require.NoError(t, err)
	require.True(t, ok, "expected a flow state in the session")

	var fs auth.FlowState
	require.NoError(t, json.Unmarshal([]byte(raw), &fs))
	return &fs
}

func (f *testFixture) hasFlowState(t *testing.T) bool {
	t.Helper()

	_, ok, err := f.store.Get(auth.SessionKeyAuthFlow)
	require.NoError(t, err)
	return ok
}

// login runs a full successful redirect login for the given scopes.
func (f *testFixture) login(t *testing.T, scopes []string, grant providerfake.Grant) *auth.CompletedLogin {
	t.Helper()

	_, err := f.service.BeginLogin(context.Background(), scopes, testRedirectURI)
	require.NoError(t, err)

	f.provider.CodeGrants[testCode] = grant
	completed, err := f.service.CompleteLogin(context.Background(), map[string]string{
		"state": f.provider.LastAuthRequest.State,
		"code":  testCode,
	})
	require.NoError(t, err)
	return completed
}

func defaultGrant(scopes ...string) providerfake.Grant {
	return providerfake.Grant{
		IDClaims: map[string]any{
			"sub":                "user-sub-1",
			"oid":                "user-oid-1",
			"tid":                "tenant-1",
			"name":               "Jane Doe",
			"preferred_username": "jane@example.com",
		},
		AccessToken:   "access-token-1",
		RefreshToken:  "refresh-token-1",
		GrantedScopes: scopes,
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := auth.NewService(nil, providerfake.New())
	require.Error(t, err)

	_, err = auth.NewService(sessions.NewMapStore(), nil)
	require.Error(t, err)
}

func TestBeginLoginBuildsAuthURIAndPersistsFlow(t *testing.T) {
	f := setupTestFixture(t)

	result, err := f.service.BeginLogin(context.Background(), []string{testScopeRead}, testRedirectURI)
	require.NoError(t, err)
	require.NotEmpty(t, result.AuthURI)
	require.Empty(t, result.UserCode)

	fs := f.storedFlowState(t)
	require.NotEmpty(t, fs.State)
	require.NotEmpty(t, fs.Nonce)
	require.NotEmpty(t, fs.CodeVerifier)
	require.Equal(t, []string{testScopeRead}, fs.RequestedScopes)
	require.Equal(t, testRedirectURI, fs.RedirectURI)

	// The challenge sent to the provider must be the S256 hash of the
	// verifier kept server-side.
	hash := sha256.Sum256([]byte(fs.CodeVerifier))
	require.Equal(t, base64.RawURLEncoding.EncodeToString(hash[:]), fs.CodeChallenge)

	require.Contains(t, result.AuthURI, "state="+fs.State)
	require.Contains(t, result.AuthURI, "code_challenge="+fs.CodeChallenge)
}

func TestBeginLoginRequiresScopes(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.BeginLogin(context.Background(), nil, testRedirectURI)
	require.Error(t, err)
}

func TestBeginLoginOverwritesUnfinishedFlow(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.BeginLogin(context.Background(), []string{testScopeRead}, testRedirectURI)
	require.NoError(t, err)
	first := f.storedFlowState(t)

	_, err = f.service.BeginLogin(context.Background(), []string{testScopeWrite}, testRedirectURI)
	require.NoError(t, err)
	second := f.storedFlowState(t)

	// Last write wins: the first flow can no longer complete.
	require.NotEqual(t, first.State, second.State)
	require.Equal(t, []string{testScopeWrite}, second.RequestedScopes)
}

func TestCompleteLoginSuccess(t *testing.T) {
	f := setupTestFixture(t)

	completed := f.login(t, []string{testScopeRead}, defaultGrant(testScopeRead))
	require.Equal(t, "user-sub-1", completed.Claims["sub"])

	user, err := f.service.GetUser()
	require.NoError(t, err)
	require.Equal(t, "jane@example.com", user["preferred_username"])

	require.False(t, f.hasFlowState(t), "flow state must be consumed on success")
}

func TestCompleteLoginWithoutFlow(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.CompleteLogin(context.Background(), map[string]string{
		"state": "whatever",
		"code":  testCode,
	})
	require.ErrorIs(t, err, auth.FlowStateMissingErr)
}

func TestCompleteLoginStateMismatch(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.BeginLogin(context.Background(), []string{testScopeRead}, testRedirectURI)
	require.NoError(t, err)

	_, err = f.service.CompleteLogin(context.Background(), map[string]string{
		"state": "forged-state",
		"code":  testCode,
	})
	require.ErrorIs(t, err, auth.StateMismatchErr)
	require.False(t, f.hasFlowState(t), "a failed attempt must leave no residual flow state")
}

func TestCompleteLoginReplayFails(t *testing.T) {
	f := setupTestFixture(t)

	f.login(t, []string{testScopeRead}, defaultGrant(testScopeRead))
	params := map[string]string{
		"state": f.provider.LastAuthRequest.State,
		"code":  testCode,
	}

	_, err := f.service.CompleteLogin(context.Background(), params)
	require.ErrorIs(t, err, auth.FlowStateMissingErr)
}

func TestCompleteLoginStaleFlowFails(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.BeginLogin(context.Background(), []string{testScopeRead}, testRedirectURI)
	require.NoError(t, err)
	state := f.provider.LastAuthRequest.State

	// A callback arriving long after BeginLogin is a stale attempt.
	f.clock = f.clock.Add(11 * time.Minute)
	f.provider.CodeGrants[testCode] = defaultGrant(testScopeRead)

	_, err = f.service.CompleteLogin(context.Background(), map[string]string{
		"state": state,
		"code":  testCode,
	})
	require.ErrorIs(t, err, auth.FlowStateMissingErr)
	require.False(t, f.hasFlowState(t), "stale flow state must be cleared")
	require.Zero(t, f.provider.ExchangeCalls, "stale flow must not reach the token endpoint")
}

func TestCompleteLoginProviderDenied(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.BeginLogin(context.Background(), []string{testScopeRead}, testRedirectURI)
	require.NoError(t, err)

	_, err = f.service.CompleteLogin(context.Background(), map[string]string{
		"state":             f.provider.LastAuthRequest.State,
		"error":             "access_denied",
		"error_description": "AADSTS65004: user declined consent",
	})

	var pErr *auth.ProviderError
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, "access_denied", pErr.Code)
	require.Equal(t, "AADSTS65004: user declined consent", pErr.Description)
	require.False(t, f.hasFlowState(t))
}

func TestCompleteLoginExchangeFailure(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.BeginLogin(context.Background(), []string{testScopeRead}, testRedirectURI)
	require.NoError(t, err)

	f.provider.ExchangeErr = context.DeadlineExceeded
	_, err = f.service.CompleteLogin(context.Background(), map[string]string{
		"state": f.provider.LastAuthRequest.State,
		"code":  testCode,
	})
	require.ErrorIs(t, err, auth.TokenExchangeFailedErr)
	require.False(t, f.hasFlowState(t))

	user, err := f.service.GetUser()
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestCompleteLoginNonceMismatch(t *testing.T) {
	f := setupTestFixture(t)
	f.provider.EchoNonce = false

	_, err := f.service.BeginLogin(context.Background(), []string{testScopeRead}, testRedirectURI)
	require.NoError(t, err)

	grant := defaultGrant(testScopeRead)
	grant.IDClaims["nonce"] = "replayed-nonce"
	f.provider.CodeGrants[testCode] = grant

	_, err = f.service.CompleteLogin(context.Background(), map[string]string{
		"state": f.provider.LastAuthRequest.State,
		"code":  testCode,
	})
	require.ErrorIs(t, err, auth.NonceMismatchErr)

	user, err := f.service.GetUser()
	require.NoError(t, err)
	require.Nil(t, user, "a nonce mismatch must never sign the user in")
}

func TestCompleteLoginPartialGrant(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.BeginLogin(context.Background(), []string{testScopeRead, testScopeWrite}, testRedirectURI)
	require.NoError(t, err)

	// Provider granted only one of the two requested scopes.
	f.provider.CodeGrants[testCode] = defaultGrant(testScopeRead)

	_, err = f.service.CompleteLogin(context.Background(), map[string]string{
		"state": f.provider.LastAuthRequest.State,
		"code":  testCode,
	})

	var pErr *auth.ProviderError
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, "invalid_scope", pErr.Code)
	require.Contains(t, pErr.Description, testScopeWrite)
}

func TestCompleteLoginNextLink(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.BeginLogin(
		context.Background(), []string{testScopeRead}, testRedirectURI,
		auth.WithNextLink("/reports/42"))
	require.NoError(t, err)

	f.provider.CodeGrants[testCode] = defaultGrant(testScopeRead)
	completed, err := f.service.CompleteLogin(context.Background(), map[string]string{
		"state": f.provider.LastAuthRequest.State,
		"code":  testCode,
	})
	require.NoError(t, err)
	require.Equal(t, "/reports/42", completed.NextLink)
}

func TestLogoutClearsSession(t *testing.T) {
	f := setupTestFixture(t)

	f.login(t, []string{testScopeRead}, defaultGrant(testScopeRead))

	endSessionURI, err := f.service.Logout("https://app.example.com/")
	require.NoError(t, err)
	require.Contains(t, endSessionURI, "post_logout_redirect_uri=")

	user, err := f.service.GetUser()
	require.NoError(t, err)
	require.Nil(t, user)

	_, err = f.service.GetTokenForUser(context.Background(), []string{testScopeRead})
	require.ErrorIs(t, err, auth.ConsentRequiredErr)

	// Logging out an already-logged-out session is a no-op.
	_, err = f.service.Logout("https://app.example.com/")
	require.NoError(t, err)
}

func TestDeviceFlowLogin(t *testing.T) {
	f := setupTestFixture(t)

	result, err := f.service.BeginLogin(context.Background(), []string{testScopeRead}, "")
	require.NoError(t, err)
	require.Equal(t, "ABCD-1234", result.UserCode)
	require.Equal(t, f.provider.VerificationURI, result.AuthURI)

	grant := defaultGrant(testScopeRead)
	f.provider.DeviceGrant = &grant

	completed, err := f.service.CompleteLogin(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "user-sub-1", completed.Claims["sub"])
	require.False(t, f.hasFlowState(t))
}

func TestIncrementalConsentMergesGrantedScopes(t *testing.T) {
	f := setupTestFixture(t)

	f.login(t, []string{testScopeRead}, defaultGrant(testScopeRead))

	// Second leg for a new scope on the same account.
	grant := defaultGrant(testScopeWrite)
	grant.AccessToken = "access-token-2"
	grant.RefreshToken = "refresh-token-2"
	f.login(t, []string{testScopeWrite}, grant)

	// Tokens from both legs remain usable.
	readToken, err := f.service.GetTokenForUser(context.Background(), []string{testScopeRead})
	require.NoError(t, err)
	require.Equal(t, "access-token-1", readToken.AccessToken)

	writeToken, err := f.service.GetTokenForUser(context.Background(), []string{testScopeWrite})
	require.NoError(t, err)
	require.Equal(t, "access-token-2", writeToken.AccessToken)
}
