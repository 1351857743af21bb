package main

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"deedescrow/config"
)

func TestResolveGenesisPathPrecedence(t *testing.T) {
	env := func(value string) func(string) (string, bool) {
		return func(key string) (string, bool) {
			if key != genesisPathEnv || value == "" {
				return "", false
			}
			return value, true
		}
	}
	if got := resolveGenesisPath(" flag.yaml ", "config.yaml", env("env.yaml")); got != "flag.yaml" {
		t.Fatalf("flag should win, got %q", got)
	}
	if got := resolveGenesisPath("", "config.yaml", env("env.yaml")); got != "env.yaml" {
		t.Fatalf("env should beat config, got %q", got)
	}
	if got := resolveGenesisPath("", "config.yaml", env("  ")); got != "config.yaml" {
		t.Fatalf("blank env should fall through, got %q", got)
	}
	if got := resolveGenesisPath("", "", nil); got != "" {
		t.Fatalf("expected empty path, got %q", got)
	}
}

func TestServerConfigWithoutSecretIsReadOnly(t *testing.T) {
	t.Setenv("ESCROW_TEST_SECRET_UNSET", "")
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecretEnv: "ESCROW_TEST_SECRET_UNSET"}}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	serverCfg, err := serverConfig(cfg, logger)
	if err != nil {
		t.Fatalf("serverConfig: %v", err)
	}
	if serverCfg.Auth.HMACSecret != "" {
		t.Fatalf("expected empty secret, got %q", serverCfg.Auth.HMACSecret)
	}
	if !bytes.Contains(buf.Bytes(), []byte("state-changing RPC methods are disabled")) {
		t.Fatalf("expected read-only warning, got %q", buf.String())
	}
}

func TestServerConfigMapsSettings(t *testing.T) {
	cfg := &config.Config{
		Auth:      config.AuthConfig{JWTSecret: "s3cret", Issuer: "deeds", Audience: "rpc"},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 2.5, Burst: 4, TrustedProxies: []string{"10.0.0.0/8"}},
	}
	var buf bytes.Buffer
	serverCfg, err := serverConfig(cfg, slog.New(slog.NewTextHandler(&buf, nil)))
	if err != nil {
		t.Fatalf("serverConfig: %v", err)
	}
	if serverCfg.Auth.HMACSecret != "s3cret" || serverCfg.Auth.Issuer != "deeds" || serverCfg.Auth.Audience != "rpc" {
		t.Fatalf("unexpected auth config: %+v", serverCfg.Auth)
	}
	if serverCfg.RateLimit.RequestsPerSecond != 2.5 || serverCfg.RateLimit.Burst != 4 || len(serverCfg.RateLimit.TrustedProxies) != 1 {
		t.Fatalf("unexpected rate limit: %+v", serverCfg.RateLimit)
	}
	if bytes.Contains(buf.Bytes(), []byte("s3cret")) {
		t.Fatalf("secret leaked into logs: %q", buf.String())
	}
}

func TestTelemetryConfigParsesHeaders(t *testing.T) {
	cfg := &config.Config{Environment: "test", Telemetry: config.TelemetryConfig{
		Endpoint: "collector:4318",
		Headers:  "x-api-key=abc",
		Traces:   true,
	}}
	tc := telemetryConfig(cfg)
	if tc.ServiceName != serviceName || tc.Environment != "test" || !tc.Traces || tc.Metrics {
		t.Fatalf("unexpected telemetry config: %+v", tc)
	}
	if tc.Headers["x-api-key"] != "abc" {
		t.Fatalf("expected parsed header, got %v", tc.Headers)
	}
}

func TestExportSettlementsRequiresAudit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := exportSettlements(&config.Config{}, filepath.Join(t.TempDir(), "out.parquet"), logger); err == nil {
		t.Fatalf("expected error without audit driver")
	}
}

func TestExportSettlementsWritesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Audit: config.AuditConfig{Driver: "sqlite", DSN: "file:" + filepath.Join(dir, "audit.db")}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := exportSettlements(cfg, filepath.Join(dir, "out.parquet"), logger); err != nil {
		t.Fatalf("export: %v", err)
	}
}

func TestLoggingOptionsAddsFileSink(t *testing.T) {
	base := loggingOptions(&config.Config{LogLevel: "debug"})
	withFile := loggingOptions(&config.Config{LogLevel: "debug", LogFile: filepath.Join(t.TempDir(), "escrowd.log")})
	if len(withFile) != len(base)+1 {
		t.Fatalf("expected file option, got %d vs %d", len(withFile), len(base))
	}
}
