package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/dupguard/internal/config"
	"github.com/eliteGoblin/dupguard/internal/domain"
	"github.com/eliteGoblin/dupguard/internal/guard"
	"github.com/eliteGoblin/dupguard/internal/infra"
	"github.com/eliteGoblin/dupguard/internal/logging"
	"github.com/eliteGoblin/dupguard/internal/policy"
	"github.com/eliteGoblin/dupguard/internal/usecase"
)

// app holds the stores and services shared by every command.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *infra.Store
	policy   *config.Holder
	groups   *infra.StaticGroupResolver
	rules    *infra.SQLRuleStore
	history  *infra.SQLHistoryStore
	audit    *infra.SQLAuditLog
	detector *usecase.Detector
	metrics  *infra.Metrics
}

// openApp opens the encrypted store under cfg.DataDir, keyed by
// DUPGUARD_DB_KEY or the generated key file, and wires the duplication
// detector. metrics may be nil.
func openApp(ctx context.Context, cfg config.Config, logger *zap.Logger, metrics *infra.Metrics) (*app, error) {
	keys, err := infra.NewKeySource(cfg.DBKey, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("invalid DUPGUARD_DB_KEY: %w", err)
	}
	store, err := infra.OpenStore(cfg.DataDir, keys)
	if err != nil {
		return nil, err
	}

	holder, err := config.NewHolder(cfg.PolicyFile, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	groups := infra.NewStaticGroupResolver(holder)

	rules, err := infra.NewSQLRuleStore(ctx, store.DB(), policy.NewRegistry(), groups, holder, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	history := infra.NewSQLHistoryStore(store.DB(), infra.WithReservationTTL(cfg.ReservationTTL))
	audit := infra.NewSQLAuditLog(store.DB(), logger)

	var opts []usecase.Option
	if metrics != nil {
		opts = append(opts, usecase.WithMetrics(metrics))
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		policy:   holder,
		groups:   groups,
		rules:    rules,
		history:  history,
		audit:    audit,
		detector: usecase.NewDetector(rules, history, audit, holder, groups, logger, opts...),
		metrics:  metrics,
	}, nil
}

// newPrechecker wires the four guards around the detector.
func (a *app) newPrechecker(provider domain.RateLimitProvider) *usecase.Prechecker {
	rateCfg := guard.DefaultRateLimitGuardConfig()
	rateCfg.Timeout = a.cfg.RateLimitTimeout

	var observer guard.BreakerObserver
	opts := []usecase.Option{usecase.WithConfig(a.policy)}
	if a.metrics != nil {
		observer = a.metrics
		opts = append(opts, usecase.WithMetrics(a.metrics))
	}

	guards := []guard.Guard{
		guard.NewPermissionGuard(),
		guard.NewRateLimitGuard(provider, a.policy, rateCfg, observer, a.logger),
		guard.NewDeduplicationGuard(a.detector, a.logger),
		guard.NewSensitiveContentGuard(guard.NewConfigMatcher(a.policy)),
	}
	return usecase.NewPrechecker(guards, a.detector, a.history, a.audit,
		usecase.PrecheckerConfig{Timeout: a.cfg.PrecheckTimeout}, a.logger, opts...)
}

// newRateLimitProvider returns the redis limiter when a URL is configured,
// otherwise the in-process limiter. The returned func releases it.
func newRateLimitProvider(ctx context.Context, cfg config.Config, logger *zap.Logger) (domain.RateLimitProvider, func(), error) {
	if cfg.RedisURL == "" {
		limiter := infra.NewMemoryRateLimiter(infra.DefaultMemoryRateLimiterConfig(), logger)
		logger.Info("Using in-process rate limiter")
		return limiter, limiter.Stop, nil
	}

	client, err := infra.NewRedisClientFromURL(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Using redis rate limiter", zap.String("addr", client.Options().Addr))
	return infra.NewRedisRateLimiter(client), func() { _ = client.Close() }, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close store", zap.Error(err))
	}
}

// openCLI loads the environment and opens the app for a one-shot command.
func openCLI(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg, logging.NewCLI(verbose), nil)
}
