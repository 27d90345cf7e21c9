// Package daemon implements the background maintenance loop of the server.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// JanitorConfig holds janitor configuration.
type JanitorConfig struct {
	SweepInterval     time.Duration // How often to expire reservations and apply retention
	HeartbeatInterval time.Duration // How often to update the instance heartbeat
}

// DefaultJanitorConfig returns default janitor configuration.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		SweepInterval:     time.Minute,
		HeartbeatInterval: 30 * time.Second,
	}
}

// SweepResult counts what a single sweep removed.
type SweepResult struct {
	Expired       int64 // reservations cancelled
	HistoryPurged int64 // ledger entries past retention
	AuditPurged   int64 // checks and events past retention
}

// Janitor keeps the stores bounded while the server runs.
// It cancels stale reservations, drops data older than the retention policy
// and keeps the instance registration fresh.
type Janitor struct {
	config   JanitorConfig
	history  domain.ActionHistoryStore
	audit    domain.AuditLog
	policy   domain.ConfigProvider
	registry domain.InstanceRegistry
	instance domain.Instance
	logger   *zap.Logger
	now      func() time.Time
}

// NewJanitor creates a new janitor. registry may be nil.
func NewJanitor(
	config JanitorConfig,
	history domain.ActionHistoryStore,
	audit domain.AuditLog,
	policy domain.ConfigProvider,
	registry domain.InstanceRegistry,
	instance domain.Instance,
	logger *zap.Logger,
) *Janitor {
	return &Janitor{
		config:   config,
		history:  history,
		audit:    audit,
		policy:   policy,
		registry: registry,
		instance: instance,
		logger:   logger,
		now:      time.Now,
	}
}

// Run starts the janitor loop.
// This blocks until context is canceled.
func (j *Janitor) Run(ctx context.Context) error {
	if j.registry != nil {
		if err := j.registry.Register(j.instance); err != nil {
			j.logger.Error("Failed to register instance", zap.Error(err))
			return err
		}
		defer func() {
			if err := j.registry.Clear(); err != nil {
				j.logger.Warn("Failed to clear instance registration", zap.Error(err))
			}
		}()
	}

	j.logger.Info("Janitor started",
		zap.Int("pid", j.instance.PID),
		zap.Duration("sweep_interval", j.config.SweepInterval))

	// Sweep immediately so a restart after downtime catches up.
	j.Sweep(ctx)

	sweepTicker := time.NewTicker(j.config.SweepInterval)
	heartbeatTicker := time.NewTicker(j.config.HeartbeatInterval)
	defer func() {
		sweepTicker.Stop()
		heartbeatTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Janitor stopping")
			return ctx.Err()

		case <-sweepTicker.C:
			j.Sweep(ctx)

		case <-heartbeatTicker.C:
			if j.registry == nil {
				continue
			}
			if err := j.registry.UpdateHeartbeat(); err != nil {
				j.logger.Warn("Failed to update heartbeat", zap.Error(err))
			}
		}
	}
}

// Sweep runs one maintenance pass. Failures are logged and the remaining
// steps still run.
func (j *Janitor) Sweep(ctx context.Context) SweepResult {
	var res SweepResult

	expired, err := j.history.ExpireReservations(ctx)
	if err != nil {
		j.logger.Warn("Failed to expire reservations", zap.Error(err))
	}
	res.Expired = expired

	cutoff := j.policy.Current().RetentionCutoff(j.now())
	if !cutoff.IsZero() {
		if res.HistoryPurged, err = j.history.PurgeBefore(ctx, cutoff); err != nil {
			j.logger.Warn("Failed to purge action history", zap.Error(err))
		}
		if res.AuditPurged, err = j.audit.PurgeBefore(ctx, cutoff); err != nil {
			j.logger.Warn("Failed to purge audit log", zap.Error(err))
		}
	}

	if res.Expired > 0 || res.HistoryPurged > 0 || res.AuditPurged > 0 {
		j.logger.Info("Sweep completed",
			zap.Int64("reservations_expired", res.Expired),
			zap.Int64("history_purged", res.HistoryPurged),
			zap.Int64("audit_purged", res.AuditPurged),
			zap.Time("cutoff", cutoff))
	}
	return res
}
