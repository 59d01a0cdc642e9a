// Package middleware provides net/http adapters over the auth core: a login
// wall for server-rendered pages and a bearer-token gate for APIs. The core
// is framework-agnostic; anything here can be reimplemented for another
// router by calling the same Service and Validator operations.
package middleware

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/rayluo/identity/apiauth"
	"github.com/rayluo/identity/auth"
	"github.com/rayluo/identity/provider"
	"github.com/rayluo/identity/sessions"
	"github.com/rayluo/identity/tokencache"
)

type userContextKey struct{}
type tokenContextKey struct{}
type claimsContextKey struct{}

// SessionSource mints the per-request session store, typically from a
// cookie. cookiestore.Source implements it directly.
type SessionSource interface {
	Open(w http.ResponseWriter, r *http.Request) (sessions.Store, error)
}

// SourceFunc adapts a function to a SessionSource.
type SourceFunc func(w http.ResponseWriter, r *http.Request) (sessions.Store, error)

func (f SourceFunc) Open(w http.ResponseWriter, r *http.Request) (sessions.Store, error) {
	return f(w, r)
}

// Web protects server-rendered routes with the redirect login flow.
type Web struct {
	Sessions SessionSource
	Provider provider.TokenProvider

	// RedirectURI is the absolute callback URI registered with the provider.
	RedirectURI string

	// Scopes are requested at login and resolved to an access token before
	// the wrapped handler runs. Empty means authentication only.
	Scopes []string

	Logger zerolog.Logger
}

func (m *Web) service(w http.ResponseWriter, r *http.Request) (*auth.Service, error) {
	store, err := m.Sessions.Open(w, r)
	if err != nil {
		return nil, errors.Wrap(err, "opening session")
	}
	return auth.NewService(store, m.Provider, auth.WithLogger(m.Logger))
}

// RequireLogin wraps next, sending unauthenticated users through the login
// flow and, when Scopes is set, resolving an access token first. On a
// consent miss it starts a new authorization leg for the missing scopes
// rather than failing.
func (m *Web) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		svc, err := m.service(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		user, err := svc.GetUser()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if user == nil {
			m.redirectToLogin(svc, w, r)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey{}, user)

		if len(m.Scopes) > 0 {
			record, err := svc.GetTokenForUser(r.Context(), m.Scopes)
			if errors.Is(err, auth.ConsentRequiredErr) {
				m.redirectToLogin(svc, w, r)
				return
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			ctx = context.WithValue(ctx, tokenContextKey{}, record)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Web) redirectToLogin(svc *auth.Service, w http.ResponseWriter, r *http.Request) {
	scopes := m.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid"}
	}

	result, err := svc.BeginLogin(r.Context(), scopes, m.RedirectURI,
		auth.WithNextLink(r.URL.RequestURI()))
	if err != nil {
		m.Logger.Error().Err(err).Msg("failed to start login flow")
		http.Error(w, "failed to start login", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, result.AuthURI, http.StatusSeeOther)
}

// CallbackHandler finishes the login flow at the registered redirect URI and
// sends the user on to their original destination, or fallback when none was
// recorded.
func (m *Web) CallbackHandler(fallback string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := m.service(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		// Both query params (GET) and form_post response mode arrive here.
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid callback parameters", http.StatusBadRequest)
			return
		}
		params := make(map[string]string, len(r.Form))
		for k := range r.Form {
			params[k] = r.Form.Get(k)
		}

		completed, err := svc.CompleteLogin(r.Context(), params)
		if err != nil {
			var pErr *auth.ProviderError
			switch {
			case errors.As(err, &pErr):
				http.Error(w, pErr.Error(), http.StatusForbidden)
			case errors.Is(err, auth.FlowStateMissingErr),
				errors.Is(err, auth.StateMismatchErr),
				errors.Is(err, auth.NonceMismatchErr):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}

		nextLink := completed.NextLink
		if nextLink == "" {
			nextLink = fallback
		}
		http.Redirect(w, r, nextLink, http.StatusSeeOther)
	}
}

// LogoutHandler clears the session's account and tokens, then redirects to
// the provider's end-session page.
func (m *Web) LogoutHandler(postLogoutRedirect string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := m.service(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		endSessionURI, err := svc.Logout(postLogoutRedirect)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, endSessionURI, http.StatusSeeOther)
	}
}

// API protects API routes with bearer-token validation.
type API struct {
	Validator *apiauth.Validator

	// Scopes maps short scope names to fully-qualified scope URIs; a token
	// granting any one of them is authorized.
	Scopes map[string]string
}

// Require wraps next, rejecting requests without a valid bearer token (401)
// or with insufficient scope (403), per RFC 6750.
func (m *API) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := apiauth.FromAuthorizationHeader(r.Header.Get("Authorization"))
		if err == nil {
			var claims *apiauth.Claims
			claims, err = m.Validator.Authorize(r.Context(), token, m.Scopes)
			if err == nil {
				ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		w.Header().Set("WWW-Authenticate", m.Validator.Challenge(err, m.Scopes))
		http.Error(w, err.Error(), apiauth.StatusCode(err))
	})
}

// UserFromContext returns the signed-in user's claims injected by
// Web.RequireLogin, or nil.
func UserFromContext(ctx context.Context) map[string]any {
	user, _ := ctx.Value(userContextKey{}).(map[string]any)
	return user
}

// TokenFromContext returns the access-token record injected by
// Web.RequireLogin when scopes were configured, or nil.
func TokenFromContext(ctx context.Context) *tokencache.Record {
	record, _ := ctx.Value(tokenContextKey{}).(*tokencache.Record)
	return record
}

// ClaimsFromContext returns the bearer-token claims injected by API.Require,
// or nil.
func ClaimsFromContext(ctx context.Context) *apiauth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*apiauth.Claims)
	return claims
}
