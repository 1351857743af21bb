package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"deedescrow/config"
	"deedescrow/core"
	"deedescrow/core/genesis"
	"deedescrow/observability/logging"
	telemetry "deedescrow/observability/otel"
	"deedescrow/rpc"
	"deedescrow/storage"
	"deedescrow/storage/audit"
)

const (
	serviceName    = "escrowd"
	genesisPathEnv = "ESCROW_GENESIS"
	logFileMaxMB   = 100
	logFileBackups = 5
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides ESCROW_GENESIS and config GenesisFile)")
	exportPath := flag.String("export-settlements", "", "Write the audit settlement history to this parquet file and exit")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(serviceName, cfg.Environment, loggingOptions(cfg)...)

	if strings.TrimSpace(*exportPath) != "" {
		if err := exportSettlements(cfg, *exportPath, logger); err != nil {
			logger.Error("settlement export failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	genesisPath := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv)
	if err := run(ctx, cfg, genesisPath, logger); err != nil {
		logger.Error("escrowd exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, genesisPath string, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	roles, err := cfg.EscrowRoles()
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	opts := []core.Option{
		core.WithLogger(logger),
		core.WithPausedModules(cfg.PausedModules...),
	}
	store, err := openAudit(cfg, logger)
	if err != nil {
		db.Close()
		return err
	}
	if store != nil {
		defer store.Close()
		opts = append(opts, core.WithEventSinks(store))
	}

	node, err := core.NewNode(db, roles, opts...)
	if err != nil {
		db.Close()
		return fmt.Errorf("create node: %w", err)
	}
	defer node.Close()

	if genesisPath != "" {
		spec, err := genesis.LoadGenesisSpec(genesisPath)
		if err != nil {
			return err
		}
		if _, err := node.ApplyGenesis(spec); err != nil {
			return fmt.Errorf("apply genesis: %w", err)
		}
	}

	serverCfg, err := serverConfig(cfg, logger)
	if err != nil {
		return err
	}
	server, err := rpc.NewServer(node, store, serverCfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx, cfg.ListenAddress, cfg.ShutdownTimeout.Duration)
}

func loggingOptions(cfg *config.Config) []logging.Option {
	opts := []logging.Option{logging.WithLevel(cfg.LogLevel)}
	if path := strings.TrimSpace(cfg.LogFile); path != "" {
		opts = append(opts, logging.WithFile(path, logFileMaxMB, logFileBackups))
	}
	return opts
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	return telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}
}

// serverConfig maps the daemon configuration onto the RPC server. A missing
// signing secret leaves the server read-only.
func serverConfig(cfg *config.Config, logger *slog.Logger) (rpc.ServerConfig, error) {
	secret, err := cfg.JWTSecretValue()
	switch {
	case errors.Is(err, config.ErrMissingSecret):
		logger.Warn("no JWT secret configured; state-changing RPC methods are disabled")
	case err != nil:
		return rpc.ServerConfig{}, err
	default:
		logger.Info("rpc authentication enabled", logging.MaskField("jwt_secret", secret))
	}
	return rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			HMACSecret: secret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: rpc.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			TrustedProxies:    cfg.RateLimit.TrustedProxies,
		},
		Logger:      logger,
		ServiceName: serviceName,
	}, nil
}

func openAudit(cfg *config.Config, logger *slog.Logger) (*audit.Store, error) {
	if strings.TrimSpace(cfg.Audit.Driver) == "" {
		return nil, nil
	}
	store, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
	if err != nil {
		return nil, err
	}
	store.SetLogger(logger)
	logger.Info("audit log enabled", slog.String("driver", cfg.Audit.Driver))
	return store, nil
}

func exportSettlements(cfg *config.Config, path string, logger *slog.Logger) error {
	store, err := openAudit(cfg, logger)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("audit log not configured")
	}
	defer store.Close()
	n, err := store.ExportSettlements(path)
	if err != nil {
		return err
	}
	logger.Info("settlements exported", slog.String("path", path), slog.Int("rows", n))
	return nil
}

// resolveGenesisPath prefers the flag, then the environment, then config.
func resolveGenesisPath(flagValue, configValue string, lookupEnv func(string) (string, bool)) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if lookupEnv != nil {
		if value, ok := lookupEnv(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(configValue)
}
