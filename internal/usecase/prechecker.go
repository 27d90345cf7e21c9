package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/dupguard/internal/domain"
	"github.com/eliteGoblin/dupguard/internal/guard"
)

// PrecheckerConfig holds precheck service settings.
type PrecheckerConfig struct {
	// Timeout bounds a whole evaluation. The caller's deadline wins if earlier.
	Timeout time.Duration
}

// DefaultPrecheckerConfig returns the default configuration.
func DefaultPrecheckerConfig() PrecheckerConfig {
	return PrecheckerConfig{
		Timeout: 2 * time.Second,
	}
}

// releaseTimeout bounds giving back reservations and rate-limit tokens.
const releaseTimeout = 2 * time.Second

// DuplicationVerdict is the reduced answer of the duplication-only interface.
type DuplicationVerdict struct {
	Result      domain.CheckResult `json:"result"`
	WaitSeconds int                `json:"waitSeconds,omitempty"`
	Reason      string             `json:"reason"`
}

// Prechecker runs every guard for a candidate action and records executed actions.
type Prechecker struct {
	guards   []guard.Guard
	detector guard.DuplicationChecker
	history  domain.ActionHistoryStore
	audit    domain.AuditLog
	cfg      PrecheckerConfig
	logger   *zap.Logger
	opts     options
}

// NewPrechecker creates the precheck service.
// Guards are evaluated concurrently; their order does not matter.
func NewPrechecker(
	guards []guard.Guard,
	detector guard.DuplicationChecker,
	history domain.ActionHistoryStore,
	audit domain.AuditLog,
	cfg PrecheckerConfig,
	logger *zap.Logger,
	opts ...Option,
) *Prechecker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPrecheckerConfig().Timeout
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Prechecker{
		guards:   guards,
		detector: detector,
		history:  history,
		audit:    audit,
		cfg:      cfg,
		logger:   logger,
		opts:     o,
	}
}

type guardVerdict struct {
	index int
	check domain.PrecheckCheck
}

// Evaluate runs all guards concurrently and combines their verdicts.
// A guard that misses the deadline is reported as a timeout warning.
// When the result is blocked, or a guard answers after the deadline, the
// reservations and tokens the guards took are given back.
func (p *Prechecker) Evaluate(ctx context.Context, action domain.CandidateAction) domain.PrecheckResult {
	start := time.Now()

	if p.opts.config != nil && p.opts.config.Current().EmergencyStop {
		result := guard.Combine(domain.PrecheckCheck{
			Key:     guard.KeyDeduplication,
			Status:  domain.StatusBlocked,
			Message: "emergency stop active",
		})
		p.opts.metrics.ObservePrecheck(result, time.Since(start))
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	verdicts := make(chan guardVerdict, len(p.guards))
	var g errgroup.Group
	for i, gd := range p.guards {
		g.Go(func() error {
			verdicts <- guardVerdict{index: i, check: p.evaluateGuard(ctx, gd, action)}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(verdicts)
	}()

	checks := make([]domain.PrecheckCheck, len(p.guards))
	received := make([]bool, len(p.guards))
collect:
	for {
		select {
		case v, ok := <-verdicts:
			if !ok {
				break collect
			}
			checks[v.index] = v.check
			received[v.index] = true
		case <-ctx.Done():
			go p.releaseLate(ctx, verdicts, action.TargetID)
			break collect
		}
	}

	for i, ok := range received {
		if !ok {
			p.logger.Warn("Guard missed evaluation deadline",
				zap.String("guard", p.guards[i].Key()),
				zap.String("target", action.TargetID))
			checks[i] = guard.TimeoutCheck(p.guards[i].Key())
		}
	}

	result := guard.Combine(checks...)
	if result.Status() == domain.StatusBlocked {
		p.release(ctx, result.Checks, action.TargetID)
	}
	p.opts.metrics.ObservePrecheck(result, time.Since(start))

	p.logger.Debug("Precheck evaluated",
		zap.String("target", action.TargetID),
		zap.String("device", action.DeviceID),
		zap.String("action", string(action.ActionType)),
		zap.String("status", string(result.Status())),
		zap.Duration("elapsed", time.Since(start)))
	return result
}

// release gives back what each check consumed and clears its Release hook.
func (p *Prechecker) release(ctx context.Context, checks []domain.PrecheckCheck, target string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	for i := range checks {
		if checks[i].Release == nil {
			continue
		}
		if err := checks[i].Release(ctx); err != nil {
			p.logger.Warn("Failed to release guard allowance",
				zap.String("guard", checks[i].Key),
				zap.String("target", target),
				zap.Error(err))
		}
		checks[i].Release = nil
	}
}

// releaseLate drains verdicts that arrived after the deadline. They were
// reported as timeouts, so whatever they took is given back.
func (p *Prechecker) releaseLate(ctx context.Context, verdicts <-chan guardVerdict, target string) {
	for v := range verdicts {
		p.release(ctx, []domain.PrecheckCheck{v.check}, target)
	}
}

// evaluateGuard turns a guard panic into a warning so Evaluate stays total.
func (p *Prechecker) evaluateGuard(ctx context.Context, g guard.Guard, action domain.CandidateAction) (check domain.PrecheckCheck) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Guard panicked",
				zap.String("guard", g.Key()),
				zap.Any("panic", r))
			check = domain.PrecheckCheck{
				Key:     g.Key(),
				Label:   guard.Label(g.Key()),
				Status:  domain.StatusWarning,
				Message: "guard failed",
				Detail:  fmt.Sprint(r),
			}
		}
	}()
	return g.Evaluate(ctx, action)
}

// Record appends an executed action to the ledger, finalising its
// reservation, and folds it into the target's audit history.
func (p *Prechecker) Record(ctx context.Context, action domain.CandidateAction, outcome domain.Outcome) error {
	if err := action.Validate(); err != nil {
		return err
	}
	if !outcome.Valid() {
		return fmt.Errorf("%w: unknown outcome %q", domain.ErrInvalidAction, outcome)
	}

	entry := domain.ActionEntry{
		TargetID:   action.TargetID,
		ActionType: action.ActionType,
		DeviceID:   action.DeviceID,
		Timestamp:  p.opts.now(),
		Outcome:    outcome,
	}
	if err := p.history.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}

	if err := p.audit.RecordAction(ctx, entry); err != nil {
		p.logger.Warn("Failed to update target history",
			zap.String("target", entry.TargetID),
			zap.Error(err))
	}

	p.logger.Info("Action recorded",
		zap.String("target", entry.TargetID),
		zap.String("device", entry.DeviceID),
		zap.String("action", string(entry.ActionType)),
		zap.String("outcome", string(entry.Outcome)))
	return nil
}

// CheckDuplication runs only the duplication rules.
// Store failures are folded into a blocked verdict; only invalid input errors.
func (p *Prechecker) CheckDuplication(
	ctx context.Context,
	actionType domain.ActionType,
	targetID, deviceID string,
) (DuplicationVerdict, error) {
	action := domain.CandidateAction{TargetID: targetID, ActionType: actionType, DeviceID: deviceID}
	if err := action.Validate(); err != nil {
		return DuplicationVerdict{}, err
	}

	dc, err := p.detector.Check(ctx, action)
	if err != nil {
		p.logger.Warn("Duplication check failed closed",
			zap.String("target", targetID),
			zap.Error(err))
		return DuplicationVerdict{Result: domain.ResultBlocked, Reason: "cannot verify uniqueness"}, nil
	}

	verdict := DuplicationVerdict{Result: dc.Result, Reason: dc.Reason}
	if dc.Result == domain.ResultDelayed {
		verdict.WaitSeconds = guard.WaitSeconds(dc.DelayUntil, p.opts.now())
	}
	return verdict, nil
}

// RecordDuplicationAction records an executed action by its identifying fields.
func (p *Prechecker) RecordDuplicationAction(
	ctx context.Context,
	actionType domain.ActionType,
	targetID, deviceID string,
	outcome domain.Outcome,
) error {
	action := domain.CandidateAction{TargetID: targetID, ActionType: actionType, DeviceID: deviceID}
	return p.Record(ctx, action, outcome)
}
