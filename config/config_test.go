package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"deedescrow/crypto"
)

func testAddress(t *testing.T) string {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.PubKey().Address().String()
}

func TestLoadParsesSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	seller, inspector, lender := testAddress(t), testAddress(t), testAddress(t)
	contents := `ListenAddress = "127.0.0.1:9000"
DataDir = "./data"
GenesisFile = "genesis.yaml"
LogFile = "escrowd.log"
PausedModules = ["escrow"]
ShutdownTimeout = "3s"

[Roles]
Seller = "` + seller + `"
Inspector = "` + inspector + `"
Lender = "` + lender + `"

[Auth]
JWTSecretEnv = "TEST_ESCROW_SECRET"

[RateLimit]
RequestsPerSecond = 2.5
Burst = 5
TrustedProxies = ["10.0.0.0/8"]

[Audit]
Driver = "sqlite"
DSN = "file::memory:"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, 3*time.Second, cfg.ShutdownTimeout.Duration)
	require.Equal(t, []string{"escrow"}, cfg.PausedModules)
	require.Equal(t, "local", cfg.Environment)
	require.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
	require.Equal(t, []string{"10.0.0.0/8"}, cfg.RateLimit.TrustedProxies)
	require.Equal(t, "deedescrow", cfg.Auth.Issuer)

	roles, err := cfg.EscrowRoles()
	require.NoError(t, err)
	require.Equal(t, seller, roles.Seller.String())

	_, err = cfg.JWTSecretValue()
	require.ErrorIs(t, err, ErrMissingSecret)
	t.Setenv("TEST_ESCROW_SECRET", "s3cret")
	secret, err := cfg.JWTSecretValue()
	require.NoError(t, err)
	require.Equal(t, "s3cret", secret)
}

func TestLoadCreatesDefaultWithRoleKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "escrowd.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	for _, name := range []string{"seller", "inspector", "lender"} {
		require.FileExists(t, filepath.Join(dir, "keys", name+".json"))
	}
	_, err = cfg.EscrowRoles()
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Roles, reloaded.Roles)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	same := testAddress(t)
	contents := `[Roles]
Seller = "` + same + `"
Inspector = "` + same + `"
Lender = "` + testAddress(t) + `"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	_, err := Load(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("Bogus = 1\n"), 0o600))
	_, err = Load(path)
	require.ErrorContains(t, err, "unknown keys")
}
