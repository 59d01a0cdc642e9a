// Package cookiestore adapts gorilla/sessions cookie sessions to the
// sessions.Store interface, so the login flow state travels in an
// authenticated (and optionally encrypted) cookie with no server-side
// storage at all.
package cookiestore

import (
	"net/http"

	gsessions "github.com/gorilla/sessions"
	"github.com/pkg/errors"

	"github.com/rayluo/identity/sessions"
)

const defaultSessionName = "identity-session"

// Source mints per-request session stores from the incoming request's
// cookie. One Source is shared across all requests.
type Source struct {
	store *gsessions.CookieStore
	name  string
}

// Option modifies a Source instance.
type Option func(*Source)

// WithSessionName overrides the cookie name.
func WithSessionName(name string) Option {
	return func(s *Source) {
		s.name = name
	}
}

// New creates a cookie-backed session source. authKey (32 or 64 bytes) signs
// the cookie; encKey (16, 24 or 32 bytes) additionally encrypts it and may
// be nil. Token records live in this cookie, so encryption is strongly
// recommended.
func New(authKey, encKey []byte, options ...Option) (*Source, error) {
	if len(authKey) == 0 {
		return nil, errors.New("[cookiestore.New] authentication key is required")
	}

	var store *gsessions.CookieStore
	if encKey != nil {
		store = gsessions.NewCookieStore(authKey, encKey)
	} else {
		store = gsessions.NewCookieStore(authKey)
	}
	store.Options.HttpOnly = true
	store.Options.SameSite = http.SameSiteLaxMode

	s := &Source{store: store, name: defaultSessionName}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Open returns the session store for this request. Writes go straight
// through to the response's Set-Cookie header, so Open must be called before
// the handler writes its body.
func (s *Source) Open(w http.ResponseWriter, r *http.Request) (sessions.Store, error) {
	// Get ignores cookie decoding errors and hands back a fresh session,
	// which is the right behavior for tampered or stale cookies.
	session, _ := s.store.Get(r, s.name)
	return &requestStore{session: session, w: w, r: r}, nil
}

var _ sessions.Store = (*requestStore)(nil)

type requestStore struct {
	session *gsessions.Session
	w       http.ResponseWriter
	r       *http.Request
}

func (s *requestStore) Get(key string) (string, bool, error) {
	v, ok := s.session.Values[key]
	if !ok {
		return "", false, nil
	}
	str, ok := v.(string)
	return str, ok, nil
}

func (s *requestStore) Set(key, value string) error {
	s.session.Values[key] = value
	return errors.Wrap(s.session.Save(s.r, s.w), "[cookiestore.Set] saving session cookie")
}

func (s *requestStore) Delete(key string) error {
	if _, ok := s.session.Values[key]; !ok {
		return nil
	}
	delete(s.session.Values, key)
	return errors.Wrap(s.session.Save(s.r, s.w), "[cookiestore.Delete] saving session cookie")
}
