package auth

import (
	"context"

	"github.com/pkg/errors"

	"github.com/rayluo/identity/tokencache"
)

// GetTokenForUser returns a cached access token covering the requested
// scopes for the signed-in user, silently refreshing an expired one through
// the provider's refresh-token path.
//
// A miss (scopes never granted, or the refresh token revoked) surfaces as
// ConsentRequiredErr rather than a failure: the caller is expected to
// redirect into BeginLogin with the same scopes, layering a new consent leg
// onto the existing account.
func (s *Service) GetTokenForUser(ctx context.Context, scopes []string) (*tokencache.Record, error) {
	account, err := s.loadAccount()
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, errors.Wrap(ConsentRequiredErr, "log in required")
	}

	// A scope the account never consented to cannot be in the cache.
	if !account.HasScopes(scopes) {
		return nil, errors.Wrap(ConsentRequiredErr, "scope(s) not granted to this account")
	}

	record, err := s.cache.Get(ctx, account.HomeAccountID, scopes)
	if err != nil {
		if errors.Is(err, tokencache.ErrCacheMiss) {
			return nil, errors.Wrap(ConsentRequiredErr, "no cached token for the requested scopes")
		}
		return nil, err
	}
	return record, nil
}

// clientAccountID keys app-only tokens in the cache. They belong to the app
// registration itself, not to any signed-in user.
const clientAccountID = "_app_client"

// GetTokenForClient returns an app-only access token for the given scopes,
// obtained through the client credentials grant and reused from the cache
// while it is fresh. No user or consent is involved, so a failure surfaces as
// TokenExchangeFailedErr rather than ConsentRequiredErr.
func (s *Service) GetTokenForClient(ctx context.Context, scopes []string) (*tokencache.Record, error) {
	if len(scopes) == 0 {
		return nil, errors.New("[GetTokenForClient] at least one scope is required")
	}

	record, err := s.cache.Get(ctx, clientAccountID, scopes)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, tokencache.ErrCacheMiss) {
		return nil, err
	}

	tokens, err := s.provider.ClientCredentials(ctx, scopes)
	if err != nil {
		return nil, errors.Wrap(TokenExchangeFailedErr, err.Error())
	}
	if err := s.cache.Put(clientAccountID, scopes, tokens); err != nil {
		return nil, errors.Wrap(err, "[GetTokenForClient] caching token")
	}

	return &tokencache.Record{
		HomeAccountID: clientAccountID,
		Scopes:        append([]string(nil), scopes...),
		AccessToken:   tokens.AccessToken,
		TokenType:     tokens.TokenType,
		ExpiresAt:     tokens.ExpiresAt,
	}, nil
}
