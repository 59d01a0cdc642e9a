package apiauth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// StatusCode maps an Authorize failure to its HTTP status: 401 for
// authentication failures, 403 for insufficient scope. Unknown errors are
// treated as 401 so no defect accidentally grants access.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

// Challenge builds the WWW-Authenticate header value for a failed Authorize,
// per RFC 6750 §3. expectedScopes, when present, advertises the
// fully-qualified scopes the API accepts.
func (v *Validator) Challenge(err error, expectedScopes map[string]string) string {
	params := []string{}
	if v.realm != "" {
		params = append(params, fmt.Sprintf("realm=%q", v.realm))
	}

	switch {
	case err == nil:
		// No error parameter on an initial challenge.
	case errors.Is(err, ErrForbidden):
		params = append(params, `error="insufficient_scope"`)
		if len(expectedScopes) > 0 {
			full := make([]string, 0, len(expectedScopes))
			for _, uri := range expectedScopes {
				full = append(full, uri)
			}
			params = append(params, fmt.Sprintf("scope=%q", strings.Join(full, " ")))
		}
	default:
		params = append(params, `error="invalid_token"`)
	}

	if len(params) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(params, ", ")
}
