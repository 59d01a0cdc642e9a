// Package tokencache stores access and refresh token material inside the
// session, namespaced by (home account, scope set). Lookups are satisfied by
// any record whose scope set contains the requested scopes; expired records
// are silently refreshed through the token provider before a miss is
// declared.
package tokencache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/rayluo/identity/provider"
	"github.com/rayluo/identity/sessions"
)

// SessionKey is the session key holding the serialized cache.
const SessionKey = "_token_cache"

// expirySkew is the safety margin subtracted from token expiry so callers
// never receive a token about to lapse mid-request.
const expirySkew = 5 * time.Minute

// ErrCacheMiss reports that no usable token exists for the requested scopes.
// A failed silent refresh also surfaces as a miss, never as a fatal error.
var ErrCacheMiss = errors.New("token cache miss")

// Record is one cached token, keyed by home account and scope set. Never log
// a Record.
type Record struct {
	HomeAccountID string    `json:"home_account_id"`
	Scopes        []string  `json:"scopes"`
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	TokenType     string    `json:"token_type,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Cache is the per-session token cache. It holds no state of its own; every
// operation reads and writes the session store, so concurrent sessions need
// no coordination.
type Cache struct {
	store    sessions.Store
	provider provider.TokenProvider
	now      func() time.Time
}

// Option modifies a Cache instance.
type Option func(*Cache)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Cache) {
		c.now = nowFunc
	}
}

// New creates a cache over the given session store and token provider.
func New(store sessions.Store, tp provider.TokenProvider, options ...Option) *Cache {
	c := &Cache{
		store:    store,
		provider: tp,
		now:      time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Put stores the tokens for the account under the given scope set. Records
// whose scope sets the new one subsumes are replaced rather than kept as
// stale duplicates.
func (c *Cache) Put(homeAccountID string, scopes []string, t *provider.Tokens) error {
	if t == nil || t.AccessToken == "" {
		return errors.New("[tokencache.Put] no access token to store")
	}

	records, err := c.load()
	if err != nil {
		return err
	}

	kept := records[:0]
	for _, r := range records {
		if r.HomeAccountID == homeAccountID && containsAll(scopes, r.Scopes) {
			continue
		}
		kept = append(kept, r)
	}

	kept = append(kept, Record{
		HomeAccountID: homeAccountID,
		Scopes:        append([]string(nil), scopes...),
		AccessToken:   t.AccessToken,
		RefreshToken:  t.RefreshToken,
		TokenType:     t.TokenType,
		ExpiresAt:     t.ExpiresAt,
	})

	return c.save(kept)
}

// Get returns a token covering the requested scopes for the account. A fresh
// record is returned without any network call; an expired one triggers a
// silent refresh first. ErrCacheMiss means the caller must obtain new
// consent.
func (c *Cache) Get(ctx context.Context, homeAccountID string, scopes []string) (*Record, error) {
	records, err := c.load()
	if err != nil {
		return nil, err
	}

	for i, r := range records {
		if r.HomeAccountID != homeAccountID || !containsAll(r.Scopes, scopes) {
			continue
		}

		if c.now().Add(expirySkew).Before(r.ExpiresAt) {
			found := r
			return &found, nil
		}

		if r.RefreshToken == "" {
			continue
		}

		refreshed, err := c.provider.Refresh(ctx, r.RefreshToken, r.Scopes)
		if err != nil {
			// Revoked or expired refresh token: report a miss so the caller
			// re-enters the consent flow.
			return nil, errors.Wrap(ErrCacheMiss, "silent refresh failed")
		}

		records[i].AccessToken = refreshed.AccessToken
		records[i].ExpiresAt = refreshed.ExpiresAt
		if refreshed.TokenType != "" {
			records[i].TokenType = refreshed.TokenType
		}
		if refreshed.RefreshToken != "" {
			records[i].RefreshToken = refreshed.RefreshToken
		}
		if err := c.save(records); err != nil {
			return nil, err
		}

		found := records[i]
		return &found, nil
	}

	return nil, ErrCacheMiss
}

// Clear drops every cached token for this session.
func (c *Cache) Clear() error {
	return c.store.Delete(SessionKey)
}

func (c *Cache) load() ([]Record, error) {
	raw, ok, err := c.store.Get(SessionKey)
	if err != nil {
		return nil, errors.Wrap(err, "[tokencache] reading session")
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		// A corrupt cache is recoverable: treat it as empty.
		return nil, nil
	}
	return records, nil
}

func (c *Cache) save(records []Record) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return errors.Wrap(err, "[tokencache] serializing records")
	}
	return errors.Wrap(c.store.Set(SessionKey, string(raw)), "[tokencache] writing session")
}

// containsAll reports whether have covers every scope in want.
func containsAll(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, s := range have {
		set[s] = true
	}
	for _, s := range want {
		if !set[s] {
			return false
		}
	}
	return true
}
