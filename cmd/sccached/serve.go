package main

import (
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/sccached/internal/compile"
	"github.com/Sumatoshi-tech/sccached/internal/compilerinfo"
	"github.com/Sumatoshi-tech/sccached/internal/config"
	"github.com/Sumatoshi-tech/sccached/internal/dialect"
	"github.com/Sumatoshi-tech/sccached/internal/observability"
	"github.com/Sumatoshi-tech/sccached/internal/runner"
	"github.com/Sumatoshi-tech/sccached/internal/server"
	"github.com/Sumatoshi-tech/sccached/internal/sizeunit"
	"github.com/Sumatoshi-tech/sccached/internal/stats"
	"github.com/Sumatoshi-tech/sccached/internal/storage"
	"github.com/Sumatoshi-tech/sccached/internal/storage/disk"
	"github.com/Sumatoshi-tech/sccached/internal/storage/memory"
	"github.com/Sumatoshi-tech/sccached/internal/storage/s3"
	"github.com/Sumatoshi-tech/sccached/internal/workerpool"
	"github.com/Sumatoshi-tech/sccached/pkg/version"
)

// newServeCommand builds the `serve` subcommand: load config, wire the
// compile pipeline to a cache backend, and run until one of the
// supervisor's three shutdown triggers fires. Grounded on the
// "build observability providers, construct server deps, call Run(ctx)"
// shape of cmd/codefang/commands/mcp.go's MCP command.
func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Run the caching daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return runServe(cobraCmd, configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Configuration file path (default: .sccached.yaml in CWD)")

	return cmd
}

func runServe(cobraCmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	logger := observability.NewLogger(obsCfg)

	store, err := buildStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("build storage backend: %w", err)
	}

	r := runner.New()
	pipeline := &compile.Pipeline{
		Dialect:   dialect.NewDefault(),
		Compilers: compilerinfo.New(r, compilerinfo.DetectDefault),
		Runner:    r,
		Store:     store,
		Pool:      workerpool.New(cfg.Server.Workers),
		Stats:     stats.NewOwner(),
		Logger:    logger,
	}

	listener, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if startupErr := server.NotifyStartup(cfg.Server.StartupNotify, err); startupErr != nil {
		logger.Warn("startup notify failed", "error", startupErr)
	}

	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.ListenAddr, err)
	}

	defer listener.Close()

	meterProvider, metricsHandler, err := observability.NewPrometheusMeterProvider()
	if err != nil {
		return fmt.Errorf("build metrics provider: %w", err)
	}

	metricsReg, err := stats.Export(meterProvider.Meter("sccached"), pipeline.Stats.Snapshot)
	if err != nil {
		return fmt.Errorf("export stats metrics: %w", err)
	}
	defer metricsReg.Unregister()

	var diag *observability.DiagnosticsServer

	if cfg.Server.DiagnosticsAddr != "" {
		diag, err = observability.NewDiagnosticsServer(cfg.Server.DiagnosticsAddr, metricsHandler)
		if err != nil {
			return fmt.Errorf("start diagnostics server: %w", err)
		}

		defer diag.Close()
	}

	ctx, stop := signal.NotifyContext(cobraCmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := server.New(
		time.Duration(cfg.Server.IdleTimeoutMs)*time.Millisecond,
		time.Duration(cfg.Server.GraceWindowMs)*time.Millisecond,
		logger,
	)

	dispatcher := &server.Dispatcher{
		Pipeline:   pipeline,
		Store:      store,
		Stats:      pipeline.Stats,
		Supervisor: sup,
		Logger:     logger,
		RootCtx:    ctx,
		Recache:    cfg.Server.Recache,
	}

	logger.Info("sccached listening", "addr", listener.Addr().String(), "backend", cfg.Storage.Backend)

	return sup.Run(ctx, listener, dispatcher.Handle)
}

// buildStore constructs the configured storage.Store backend. cfg has
// already passed config.Config.Validate, so the backend name and its
// required fields are known-good.
func buildStore(cfg config.StorageConfig) (storage.Store, error) {
	maxSize, err := sizeunit.Parse(cfg.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("parse storage.max_size: %w", err)
	}

	switch cfg.Backend {
	case "disk":
		return disk.New(cfg.Disk.Dir, maxSize)
	case "s3":
		creds := s3.Credentials{
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			SessionToken:    cfg.S3.SessionToken,
		}

		return s3.New(cfg.S3.Bucket, cfg.S3.Endpoint, cfg.S3.UseSSL, creds, maxSize), nil
	default:
		return memory.New(maxSize), nil
	}
}
