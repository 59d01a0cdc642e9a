package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rayluo/identity/apiauth"
	"github.com/rayluo/identity/internal/config"
	"github.com/rayluo/identity/middleware"
	"github.com/rayluo/identity/provider"
	"github.com/rayluo/identity/sessions"
	"github.com/rayluo/identity/sessions/cookiestore"
	"github.com/rayluo/identity/sessions/redisstore"
)

const sessionCookieName = "session_id"

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (http.Handler, error) {
	tp, err := provider.New(ctx, provider.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Authority:    authorityFromConfig(cfg),
	})
	if err != nil {
		return nil, err
	}

	source, err := sessionSource(cfg)
	if err != nil {
		return nil, err
	}

	web := &middleware.Web{
		Sessions:    source,
		Provider:    tp,
		RedirectURI: cfg.RedirectURI,
		Scopes:      cfg.Scopes,
		Logger:      logger,
	}

	validator, err := apiauth.NewValidator(tp,
		apiauth.WithRealm(tp.Issuer()),
		apiauth.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	api := &middleware.API{
		Validator: validator,
		Scopes:    map[string]string{"me.read": "api://" + cfg.ClientID + "/me.read"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", web.CallbackHandler("/"))
	mux.HandleFunc("/logout", web.LogoutHandler("/"))
	mux.Handle("/", web.RequireLogin(http.HandlerFunc(indexHandler)))
	mux.Handle("/api/me", api.Require(http.HandlerFunc(meHandler)))

	return mux, nil
}

func authorityFromConfig(cfg config.Config) provider.Authority {
	switch {
	case cfg.B2CTenant != "" && cfg.B2CUserFlow != "":
		return provider.B2CAuthority(cfg.B2CTenant, cfg.B2CUserFlow)
	case cfg.OIDCAuthority != "":
		return provider.OIDCAuthority(cfg.OIDCAuthority)
	default:
		return provider.EntraAuthority(cfg.Authority)
	}
}

// sessionSource picks Redis-backed sessions when REDIS_ADDR is set, falling
// back to signed cookies.
func sessionSource(cfg config.Config) (middleware.SessionSource, error) {
	if cfg.RedisAddr == "" {
		var encKey []byte
		if cfg.SessionEncKey != "" {
			encKey = []byte(cfg.SessionEncKey)
		}
		return cookiestore.New([]byte(cfg.SessionAuthKey), encKey)
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return middleware.SourceFunc(func(w http.ResponseWriter, r *http.Request) (sessions.Store, error) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			sessionID := redisstore.NewSessionID()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookieName,
				Value:    sessionID,
				Path:     "/",
				HttpOnly: true,
				Secure:   r.TLS != nil,
				SameSite: http.SameSiteLaxMode,
			})
			return redisstore.New(client, sessionID)
		}
		return redisstore.New(client, cookie.Value)
	}), nil
}

func indexHandler(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	name, _ := user["name"].(string)
	if name == "" {
		name, _ = user["preferred_username"].(string)
	}

	fmt.Fprintf(w, "Hello, %s!\n", name)
	if record := middleware.TokenFromContext(r.Context()); record != nil {
		fmt.Fprintf(w, "An access token covering %v is cached until %s.\n",
			record.Scopes, record.ExpiresAt.Format("15:04:05"))
	}
	fmt.Fprintln(w, "Visit /logout to sign out.")
}

func meHandler(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"content":"content for %s@%s"}`, claims.Subject, claims.TenantID)
}
