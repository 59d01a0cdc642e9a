package auth

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// CachedAccount is the signed-in principal persisted in the session. Exactly
// one exists per authenticated session; it is absent when unauthenticated.
type CachedAccount struct {
	// HomeAccountID is the provider-issued stable identifier for the
	// (user, tenant) pair.
	HomeAccountID string `json:"home_account_id"`

	// Claims are the validated ID-token claims. Read-only to callers.
	Claims map[string]any `json:"claims"`

	// GrantedScopes accumulates every scope a token has been acquired for on
	// this account, across incremental-consent legs.
	GrantedScopes []string `json:"granted_scopes"`
}

// HasScopes reports whether every scope in want has been granted.
func (a *CachedAccount) HasScopes(want []string) bool {
	granted := make(map[string]bool, len(a.GrantedScopes))
	for _, s := range a.GrantedScopes {
		granted[s] = true
	}
	for _, s := range want {
		if !granted[s] {
			return false
		}
	}
	return true
}

func (s *Service) saveAccount(account *CachedAccount) error {
	raw, err := json.Marshal(account)
	if err != nil {
		return errors.Wrap(err, "[auth] serializing account")
	}
	return errors.Wrap(s.store.Set(SessionKeyUser, string(raw)), "[auth] writing account")
}

func (s *Service) loadAccount() (*CachedAccount, error) {
	raw, ok, err := s.store.Get(SessionKeyUser)
	if err != nil {
		return nil, errors.Wrap(err, "[auth] reading account")
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var account CachedAccount
	if err := json.Unmarshal([]byte(raw), &account); err != nil {
		return nil, nil
	}
	return &account, nil
}

// homeAccountID derives the stable (user, tenant) identifier from ID-token
// claims: "<oid>.<tid>" when both are present, otherwise the sub claim.
func homeAccountID(claims map[string]any) string {
	oid, _ := claims["oid"].(string)
	tid, _ := claims["tid"].(string)
	if oid != "" && tid != "" {
		return fmt.Sprintf("%s.%s", oid, tid)
	}
	sub, _ := claims["sub"].(string)
	return sub
}

// mergeScopes unions scope lists, preserving first-seen order.
func mergeScopes(lists ...[]string) []string {
	var out []string
	seen := map[string]bool{}
	for _, list := range lists {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
