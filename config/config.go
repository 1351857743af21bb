package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"deedescrow/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress   string          `toml:"ListenAddress"`
	DataDir         string          `toml:"DataDir"`
	GenesisFile     string          `toml:"GenesisFile"`
	Environment     string          `toml:"Environment"`
	LogLevel        string          `toml:"LogLevel"`
	LogFile         string          `toml:"LogFile"`
	PausedModules   []string        `toml:"PausedModules"`
	ShutdownTimeout Duration        `toml:"ShutdownTimeout"`
	Roles           RolesConfig     `toml:"Roles"`
	Auth            AuthConfig      `toml:"Auth"`
	RateLimit       RateLimitConfig `toml:"RateLimit"`
	Audit           AuditConfig     `toml:"Audit"`
	Telemetry       TelemetryConfig `toml:"Telemetry"`
}

// RolesConfig names the three fixed escrow identities as bech32 addresses.
type RolesConfig struct {
	Seller      string `toml:"Seller"`
	Inspector   string `toml:"Inspector"`
	Lender      string `toml:"Lender"`
	KeystoreDir string `toml:"KeystoreDir"`
}

// AuthConfig controls bearer-token verification. The secret may be supplied
// inline or through the environment variable named by JWTSecretEnv.
type AuthConfig struct {
	JWTSecret    string `toml:"JWTSecret"`
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	Issuer       string `toml:"Issuer"`
	Audience     string `toml:"Audience"`
}

// RateLimitConfig bounds request rates per caller. TrustedProxies lists the
// addresses or CIDR ranges whose X-Forwarded-For header is believed.
type RateLimitConfig struct {
	RequestsPerSecond float64  `toml:"RequestsPerSecond"`
	Burst             int      `toml:"Burst"`
	TrustedProxies    []string `toml:"TrustedProxies"`
}

// AuditConfig selects the relational event log. Driver is "sqlite" or
// "postgres"; an empty driver disables the audit log.
type AuditConfig struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Load loads the configuration from the given path. A missing file is created
// with development defaults, including freshly generated role keys.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./escrow-data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if c.ShutdownTimeout.Duration <= 0 {
		c.ShutdownTimeout.Duration = defaultShutdownTimeout
	}
	if c.PausedModules == nil {
		c.PausedModules = []string{}
	}
	if strings.TrimSpace(c.Auth.Issuer) == "" {
		c.Auth.Issuer = "deedescrow"
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = 20
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 40
	}
}

// createDefault creates and saves a default configuration file. Role keys are
// generated into keystores next to the config with an empty passphrase.
func createDefault(path string) (*Config, error) {
	keystoreDir := filepath.Join(filepath.Dir(path), "keys")
	roles := RolesConfig{KeystoreDir: keystoreDir}
	for _, target := range []struct {
		name string
		dst  *string
	}{
		{"seller", &roles.Seller},
		{"inspector", &roles.Inspector},
		{"lender", &roles.Lender},
	} {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		if err := crypto.SaveToKeystore(filepath.Join(keystoreDir, target.name+".json"), key, ""); err != nil {
			return nil, err
		}
		*target.dst = key.PubKey().Address().String()
	}

	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./escrow-data",
		GenesisFile:   "",
		Roles:         roles,
		Auth:          AuthConfig{JWTSecretEnv: "ESCROW_JWT_SECRET"},
		Audit:         AuditConfig{Driver: "sqlite", DSN: "escrow-audit.db"},
	}
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
