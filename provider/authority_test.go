package provider_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rayluo/identity/provider"
)

func TestOIDCAuthorityIssuer(t *testing.T) {
	issuer, err := provider.OIDCAuthority("https://accounts.example.com/").Issuer()
	require.NoError(t, err)
	require.Equal(t, "https://accounts.example.com", issuer)
}

func TestOIDCAuthorityRequiresURL(t *testing.T) {
	_, err := provider.OIDCAuthority("").Issuer()
	require.Error(t, err)
}

func TestEntraAuthorityIssuer(t *testing.T) {
	issuer, err := provider.EntraAuthority("https://login.microsoftonline.com/contoso.onmicrosoft.com").Issuer()
	require.NoError(t, err)
	require.Equal(t, "https://login.microsoftonline.com/contoso.onmicrosoft.com/v2.0", issuer)
}

func TestB2CAuthorityIssuer(t *testing.T) {
	issuer, err := provider.B2CAuthority("contoso", "B2C_1_signupsignin1").Issuer()
	require.NoError(t, err)
	require.Equal(t,
		"https://contoso.b2clogin.com/contoso.onmicrosoft.com/B2C_1_signupsignin1/v2.0",
		issuer)
}

func TestB2CAuthorityRequiresTenantAndFlow(t *testing.T) {
	_, err := provider.B2CAuthority("", "B2C_1_signupsignin1").Issuer()
	require.Error(t, err)

	_, err = provider.B2CAuthority("contoso", "").Issuer()
	require.Error(t, err)
}

func TestZeroAuthorityWithoutURLIsInvalid(t *testing.T) {
	_, err := provider.Authority{}.Issuer()
	require.Error(t, err)
}
