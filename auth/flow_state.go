package auth

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/rayluo/identity/provider"
)

// Session keys used by this package. They are exported so session-store
// operators can reason about what lives where; the values themselves are
// opaque serialized records.
const (
	// SessionKeyAuthFlow holds the in-flight login flow state.
	SessionKeyAuthFlow = "_auth_flow"
	// SessionKeyUser holds the signed-in account record.
	SessionKeyUser = "_logged_in_user"
)

// FlowState is the ephemeral record created by BeginLogin and consumed by
// CompleteLogin. At most one lives in a session; a new BeginLogin overwrites
// any unfinished one (last-write-wins, see Service).
type FlowState struct {
	State           string               `json:"state"`
	Nonce           string               `json:"nonce"`
	CodeVerifier    string               `json:"code_verifier"`
	CodeChallenge   string               `json:"code_challenge"`
	RequestedScopes []string             `json:"requested_scopes"`
	RedirectURI     string               `json:"redirect_uri"`
	NextLink        string               `json:"next_link,omitempty"`
	DeviceAuth      *provider.DeviceAuth `json:"device_auth,omitempty"`

	// CreatedAt bounds the flow's lifetime; CompleteLogin rejects flows
	// older than flowMaxAge.
	CreatedAt time.Time `json:"created_at"`
}

func (s *Service) saveFlowState(fs *FlowState) error {
	raw, err := json.Marshal(fs)
	if err != nil {
		return errors.Wrap(err, "[auth] serializing flow state")
	}
	return errors.Wrap(s.store.Set(SessionKeyAuthFlow, string(raw)), "[auth] writing flow state")
}

func (s *Service) loadFlowState() (*FlowState, error) {
	raw, ok, err := s.store.Get(SessionKeyAuthFlow)
	if err != nil {
		return nil, errors.Wrap(err, "[auth] reading flow state")
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var fs FlowState
	if err := json.Unmarshal([]byte(raw), &fs); err != nil {
		// Unreadable flow state is as good as none.
		return nil, nil
	}
	return &fs, nil
}

func (s *Service) clearFlowState() {
	if err := s.store.Delete(SessionKeyAuthFlow); err != nil {
		s.log.Warn().Err(err).Msg("failed to clear login flow state from session")
	}
}
