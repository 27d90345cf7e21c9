package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/dupguard/internal/api"
	"github.com/eliteGoblin/dupguard/internal/config"
	"github.com/eliteGoblin/dupguard/internal/daemon"
	"github.com/eliteGoblin/dupguard/internal/domain"
	"github.com/eliteGoblin/dupguard/internal/infra"
	"github.com/eliteGoblin/dupguard/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the precheck HTTP service",
	Long: `Starts the HTTP service executors call before and after each action.
The policy file is watched and reloaded on change. A background janitor
expires stale reservations and applies the retention policy.

Settings come from DUPGUARD_* environment variables or a .env file.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := infra.NewMetrics(Version)
	a, err := openApp(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("Failed to open data directory", zap.String("dir", cfg.DataDir), zap.Error(err))
		return err
	}
	defer a.Close()

	provider, closeProvider, err := newRateLimitProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create rate limit provider: %w", err)
	}
	defer closeProvider()

	server := api.NewServer(api.DefaultServerConfig(cfg.HTTPAddr), api.Dependencies{
		Prechecker: a.newPrechecker(provider),
		Rules:      a.rules,
		Audit:      a.audit,
		Policy:     a.policy,
		Exporter:   infra.NewExporter(),
		Metrics:    metrics,
	}, logger)

	processes := infra.NewProcessInspector()
	janitor := daemon.NewJanitor(
		daemon.JanitorConfig{SweepInterval: cfg.JanitorInterval, HeartbeatInterval: cfg.HeartbeatInterval},
		a.history,
		a.audit,
		a.policy,
		infra.NewFileInstanceRegistry(cfg.DataDir, processes),
		domain.Instance{PID: processes.GetCurrentPID(), Addr: cfg.HTTPAddr, Version: Version},
		logger,
	)

	logger.Info("dupguard starting",
		zap.String("version", Version),
		zap.String("data_dir", cfg.DataDir),
		zap.String("policy_file", cfg.PolicyFile))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		return a.policy.Watch(gctx)
	})
	g.Go(func() error {
		if err := janitor.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("dupguard stopped with error", zap.Error(err))
		return err
	}
	logger.Info("dupguard stopped")
	return nil
}
