package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"deedescrow/crypto"
	"deedescrow/native/escrow"
)

// ErrMissingSecret is returned when authenticated RPC is configured without a
// signing secret.
var ErrMissingSecret = errors.New("config: jwt secret not configured")

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if _, err := c.EscrowRoles(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Audit.Driver)) {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("audit: unsupported driver %q", c.Audit.Driver)
	}
	if c.Audit.Driver != "" && strings.TrimSpace(c.Audit.DSN) == "" {
		return fmt.Errorf("audit: dsn required for driver %q", c.Audit.Driver)
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit: values must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample ratio must be within [0,1]")
	}
	return nil
}

// EscrowRoles decodes the configured role addresses.
func (c *Config) EscrowRoles() (escrow.Roles, error) {
	var roles escrow.Roles
	for _, field := range []struct {
		name string
		raw  string
		dst  *crypto.Address
	}{
		{"seller", c.Roles.Seller, &roles.Seller},
		{"inspector", c.Roles.Inspector, &roles.Inspector},
		{"lender", c.Roles.Lender, &roles.Lender},
	} {
		addr, err := crypto.DecodeAddress(field.raw)
		if err != nil {
			return escrow.Roles{}, fmt.Errorf("roles: %s: %w", field.name, err)
		}
		*field.dst = addr
	}
	if err := roles.Validate(); err != nil {
		return escrow.Roles{}, err
	}
	return roles, nil
}

// JWTSecretValue resolves the signing secret, preferring the inline value.
func (c *Config) JWTSecretValue() (string, error) {
	if secret := strings.TrimSpace(c.Auth.JWTSecret); secret != "" {
		return secret, nil
	}
	if env := strings.TrimSpace(c.Auth.JWTSecretEnv); env != "" {
		if secret := strings.TrimSpace(os.Getenv(env)); secret != "" {
			return secret, nil
		}
	}
	return "", ErrMissingSecret
}
