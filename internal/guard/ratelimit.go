package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"go.uber.org/zap"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// BreakerObserver is notified when the provider circuit opens or closes.
type BreakerObserver interface {
	SetBreakerOpen(name string, open bool)
}

// RateLimitGuardConfig configures provider calls.
type RateLimitGuardConfig struct {
	// Timeout bounds a single provider call.
	Timeout time.Duration
	// FailureThreshold failures out of FailureWindow calls open the circuit.
	FailureThreshold uint
	FailureWindow    uint
	// OpenDelay is how long the circuit stays open before probing again.
	OpenDelay time.Duration
}

// DefaultRateLimitGuardConfig returns the default configuration.
func DefaultRateLimitGuardConfig() RateLimitGuardConfig {
	return RateLimitGuardConfig{
		Timeout:          500 * time.Millisecond,
		FailureThreshold: 5,
		FailureWindow:    10,
		OpenDelay:        15 * time.Second,
	}
}

// RateLimitGuard enforces per-account rate limits through a provider.
// Provider failures fail open.
type RateLimitGuard struct {
	provider domain.RateLimitProvider
	config   domain.ConfigProvider
	cfg      RateLimitGuardConfig
	breaker  circuitbreaker.CircuitBreaker[domain.RateDecision]
	logger   *zap.Logger
}

// NewRateLimitGuard creates the guard. observer may be nil.
func NewRateLimitGuard(
	provider domain.RateLimitProvider,
	config domain.ConfigProvider,
	cfg RateLimitGuardConfig,
	observer BreakerObserver,
	logger *zap.Logger,
) *RateLimitGuard {
	defaults := DefaultRateLimitGuardConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.FailureWindow == 0 {
		cfg.FailureWindow = defaults.FailureWindow
	}
	if cfg.FailureThreshold == 0 || cfg.FailureThreshold > cfg.FailureWindow {
		cfg.FailureThreshold = min(defaults.FailureThreshold, cfg.FailureWindow)
	}
	if cfg.OpenDelay <= 0 {
		cfg.OpenDelay = defaults.OpenDelay
	}

	breaker := circuitbreaker.NewBuilder[domain.RateDecision]().
		WithFailureThresholdRatio(cfg.FailureThreshold, cfg.FailureWindow).
		WithDelay(cfg.OpenDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			open := event.NewState == circuitbreaker.OpenState
			logger.Warn("Rate limit provider circuit breaker state change",
				zap.Bool("open", open),
				zap.String("to", stateName(event.NewState)))
			if observer != nil {
				observer.SetBreakerOpen(KeyRateLimit, open)
			}
		}).
		Build()

	return &RateLimitGuard{
		provider: provider,
		config:   config,
		cfg:      cfg,
		breaker:  breaker,
		logger:   logger,
	}
}

// Key implements Guard.
func (g *RateLimitGuard) Key() string { return KeyRateLimit }

// Evaluate resolves the device's account and checks it.
func (g *RateLimitGuard) Evaluate(ctx context.Context, action domain.CandidateAction) domain.PrecheckCheck {
	accountID := action.AccountID
	if accountID == "" {
		accountID = g.config.Current().Accounts[action.DeviceID]
	}
	return g.Check(ctx, accountID)
}

// Check asks the provider whether the account may act now.
func (g *RateLimitGuard) Check(ctx context.Context, accountID string) domain.PrecheckCheck {
	if accountID == "" {
		return newCheck(KeyRateLimit, domain.StatusWarning, "no account bound to device, rate limit not enforced")
	}
	policy := g.config.Current().RateLimit

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	decision, err := failsafe.With(g.breaker).WithContext(callCtx).Get(func() (domain.RateDecision, error) {
		return g.provider.Allow(callCtx, accountID, policy)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrRateLimitProviderUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrRateLimitProviderUnavailable, err)
		}
		g.logger.Warn("Rate limit check failed open",
			zap.String("account", accountID),
			zap.Error(err))
		c := newCheck(KeyRateLimit, domain.StatusWarning, "rate limit provider unavailable, proceeding")
		c.Detail = err.Error()
		return c
	}

	switch {
	case decision.Allowed:
		c := newCheck(KeyRateLimit, domain.StatusPass, "within rate limit")
		c.Detail = fmt.Sprintf("%d remaining", decision.Remaining)
		if refunder, ok := g.provider.(domain.RateLimitRefunder); ok {
			c.Release = func(ctx context.Context) error {
				return refunder.Refund(ctx, accountID, decision)
			}
		}
		return c
	case decision.WaitSeconds > 0:
		c := newCheck(KeyRateLimit, domain.StatusWarning, fmt.Sprintf("rate limited, retry in %ds", decision.WaitSeconds))
		c.WaitSeconds = decision.WaitSeconds
		return c
	}
	return newCheck(KeyRateLimit, domain.StatusBlocked, "rate limit exceeded")
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	}
	return "closed"
}

var _ Guard = (*RateLimitGuard)(nil)
