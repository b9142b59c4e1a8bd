// Command ledgerd runs the collateral ledger behind its HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"

	"reserveledger/config"
	"reserveledger/core"
	ledgererrors "reserveledger/core/errors"
	"reserveledger/core/genesis"
	"reserveledger/observability/logging"
	telemetry "reserveledger/observability/otel"
	"reserveledger/services/ledgerd/journal"
	"reserveledger/services/ledgerd/server"
	"reserveledger/storage"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "ledgerd.toml", "path to the node configuration file")
	genesisPath := flag.String("genesis", "", "genesis file applied to an empty ledger (overrides GenesisFile)")
	listen := flag.String("listen", "", "HTTP listen address (overrides api.ListenAddress)")
	memory := flag.Bool("memory", false, "keep state in memory only")
	logLevel := flag.String("log-level", "", "log level (overrides logging.Level)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *genesisPath != "" {
		cfg.GenesisFile = *genesisPath
	}
	if *listen != "" {
		cfg.API.ListenAddress = *listen
	}
	if *memory {
		cfg.Storage.Backend = config.BackendMemory
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := logging.Setup("ledgerd", cfg.Logging.Env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "ledgerd",
		Version:     version,
		Environment: cfg.Logging.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := engineOptions(cfg, logger)
	if cfg.Journal.Driver != "" {
		j, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			return err
		}
		defer j.Close()
		opts.Receipts = j
		logger.Info("event journal enabled", "driver", cfg.Journal.Driver, logging.MaskField("dsn", cfg.Journal.DSN))
	}

	engine, err := core.NewEngine(db, opts)
	if err != nil {
		return err
	}
	if err := applyGenesis(ctx, engine, cfg.GenesisFile, logger); err != nil {
		return err
	}

	token, err := cfg.API.ResolveAdminToken()
	if err != nil {
		return err
	}
	auth, err := server.NewAuthenticator(token)
	if err != nil {
		return err
	}
	var events server.EventLog
	if j, ok := opts.Receipts.(*journal.Journal); ok {
		events = j
	}
	srv, err := server.New(server.Config{
		ListenAddress:     cfg.API.ListenAddress,
		ReadHeaderTimeout: config.Seconds(cfg.API.ReadHeaderTimeout, 0),
		ReadTimeout:       config.Seconds(cfg.API.ReadTimeout, 0),
		WriteTimeout:      config.Seconds(cfg.API.WriteTimeout, 0),
		IdleTimeout:       config.Seconds(cfg.API.IdleTimeout, 0),
		ShutdownTimeout:   config.Seconds(cfg.API.ShutdownTimeout, 0),
		MaxBodyBytes:      cfg.API.MaxBodyBytes,
	}, engine, events, auth, server.NewRateLimiter(cfg.API.Quota.RequestsPerSecond, cfg.API.Quota.Burst), logger)
	if err != nil {
		return err
	}

	logger.Info("ledgerd starting", "version", version, "storage", cfg.Storage.Backend, "paused", strings.Join(cfg.Pauses.Modules(), ","))
	return srv.Run(ctx)
}

func openDatabase(cfg config.Storage) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendLevelDB:
		db, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open leveldb %s: %w", cfg.Path, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func applyGenesis(ctx context.Context, engine *core.Engine, path string, logger *slog.Logger) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	spec, err := genesis.LoadGenesisSpec(path)
	if err != nil {
		return err
	}
	plan, err := spec.Plan()
	if err != nil {
		return fmt.Errorf("genesis %s: %w", path, err)
	}
	receipt, err := engine.ApplyGenesis(ctx, plan)
	if errors.Is(err, ledgererrors.ErrGenesisApplied) {
		logger.Info("genesis already applied", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	logger.Info("genesis applied", "path", path, "receipt", receipt.ID, "assets", len(plan.Assets))
	return nil
}
