// Package config loads the demo web app's settings from the environment.
// The library itself takes explicit parameters; only cmd/webapp uses this.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port    string `env:"PORT" envDefault:":8080"`
	AppName string `env:"APP_NAME" envDefault:"identity demo"`

	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`

	// Exactly one authority style is expected: a plain OIDC issuer, an Entra
	// tenant authority, or a B2C tenant plus sign-up/sign-in user flow.
	OIDCAuthority string `env:"OIDC_AUTHORITY"`
	Authority     string `env:"AUTHORITY"`
	B2CTenant     string `env:"B2C_TENANT_NAME"`
	B2CUserFlow   string `env:"B2C_SIGNUPSIGNIN_USER_FLOW"`

	RedirectURI string   `env:"REDIRECT_URI"`
	Scopes      []string `env:"SCOPES" envSeparator:" "`

	// SessionAuthKey signs the session cookie; SessionEncKey encrypts it.
	SessionAuthKey string `env:"SESSION_AUTH_KEY"`
	SessionEncKey  string `env:"SESSION_ENC_KEY"`

	// RedisAddr switches session storage from cookies to Redis when set.
	RedisAddr string `env:"REDIS_ADDR"`
}

// Load parses the environment and verifies the settings a login flow cannot
// work without.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}

	if c.ClientID == "" {
		return Config{}, fmt.Errorf("CLIENT_ID is required")
	}
	if c.OIDCAuthority == "" && c.Authority == "" && (c.B2CTenant == "" || c.B2CUserFlow == "") {
		return Config{}, fmt.Errorf(
			"an authority is required: set OIDC_AUTHORITY, or AUTHORITY, or the B2C_TENANT_NAME and B2C_SIGNUPSIGNIN_USER_FLOW pair")
	}

	return c, nil
}
