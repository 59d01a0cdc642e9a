package auth

import (
	"errors"
	"fmt"
)

var (
	// FlowStateMissingErr means no login flow is in progress for this
	// session: a stale bookmark, a replayed callback, or a reset session.
	FlowStateMissingErr = errors.New("no login flow in progress")

	// StateMismatchErr means the state parameter returned by the provider
	// does not match the one this session issued. This is the CSRF defense.
	StateMismatchErr = errors.New("state parameter mismatch")

	// NonceMismatchErr means the ID token's nonce claim does not match the
	// one embedded in the authorization request. Never silently ignored.
	NonceMismatchErr = errors.New("nonce claim mismatch")

	// TokenExchangeFailedErr means the code-for-token exchange with the
	// provider failed, due to network or credential problems.
	TokenExchangeFailedErr = errors.New("token exchange failed")

	// ConsentRequiredErr means no cached token covers the requested scopes
	// and the user must be sent through a new authorization leg.
	ConsentRequiredErr = errors.New("user login or consent required")
)

// ProviderError is a denial reported by the identity provider itself, such as
// the user cancelling consent. Code and Description are surfaced verbatim
// from the provider's response; this is not a defect in the flow.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}
