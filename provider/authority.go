package provider

import (
	"fmt"
	"strings"
)

// AuthorityKind selects how an authority URL is turned into the canonical
// OIDC issuer used for discovery. The variant is resolved once at
// construction; flow logic never branches on it.
type AuthorityKind int

const (
	// KindOIDC uses the authority as the issuer verbatim. The discovery
	// document lives at <authority>/.well-known/openid-configuration.
	KindOIDC AuthorityKind = iota

	// KindEntra is a Microsoft Entra ID tenant authority, e.g.
	// https://login.microsoftonline.com/<tenant>. The v2.0 endpoint is
	// appended to form the issuer.
	KindEntra

	// KindB2C is a Microsoft Entra B2C tenant plus user-flow pair, expanded
	// through the b2clogin.com template.
	KindB2C
)

// Authority identifies where the app is registered. Use one of the
// constructors; the zero value is invalid.
type Authority struct {
	Kind AuthorityKind

	// URL is the authority for KindOIDC and KindEntra.
	URL string

	// Tenant and UserFlow apply to KindB2C only, e.g. "contoso" and
	// "B2C_1_signupsignin1".
	Tenant   string
	UserFlow string
}

// OIDCAuthority uses issuer as-is, sticking with standard OIDC behavior.
func OIDCAuthority(issuer string) Authority {
	return Authority{Kind: KindOIDC, URL: issuer}
}

// EntraAuthority points at a Microsoft Entra ID tenant, e.g.
// "https://login.microsoftonline.com/contoso.onmicrosoft.com".
func EntraAuthority(url string) Authority {
	return Authority{Kind: KindEntra, URL: url}
}

// B2CAuthority points at an Entra B2C user flow (policy). Separate flows such
// as profile-editing or password-reset are separate authorities.
func B2CAuthority(tenant, userFlow string) Authority {
	return Authority{Kind: KindB2C, Tenant: tenant, UserFlow: userFlow}
}

// Issuer resolves the authority into the canonical issuer URL for OIDC
// discovery.
func (a Authority) Issuer() (string, error) {
	switch a.Kind {
	case KindOIDC:
		if a.URL == "" {
			return "", fmt.Errorf("authority URL is required")
		}
		return strings.TrimSuffix(a.URL, "/"), nil
	case KindEntra:
		if a.URL == "" {
			return "", fmt.Errorf("authority URL is required")
		}
		return strings.TrimSuffix(a.URL, "/") + "/v2.0", nil
	case KindB2C:
		if a.Tenant == "" || a.UserFlow == "" {
			return "", fmt.Errorf("B2C authority requires tenant and user flow")
		}
		return fmt.Sprintf(
			"https://%s.b2clogin.com/%s.onmicrosoft.com/%s/v2.0",
			a.Tenant, a.Tenant, a.UserFlow,
		), nil
	default:
		return "", fmt.Errorf("unknown authority kind %d", a.Kind)
	}
}
