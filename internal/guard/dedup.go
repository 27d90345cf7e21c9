package guard

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// DuplicationChecker runs the duplication rules for an action.
// On history failure it returns a blocked check together with the error.
type DuplicationChecker interface {
	Check(ctx context.Context, action domain.CandidateAction) (domain.DuplicationCheck, error)
}

// ReservationCanceller is implemented by checkers that hold ledger
// reservations for passing checks.
type ReservationCanceller interface {
	CancelReservation(ctx context.Context, id int64) error
}

// DeduplicationGuard adapts the duplication detector to a precheck verdict.
// It fails closed.
type DeduplicationGuard struct {
	checker DuplicationChecker
	logger  *zap.Logger
	now     func() time.Time
}

// NewDeduplicationGuard creates the guard.
func NewDeduplicationGuard(checker DuplicationChecker, logger *zap.Logger) *DeduplicationGuard {
	return &DeduplicationGuard{checker: checker, logger: logger, now: time.Now}
}

// Key implements Guard.
func (g *DeduplicationGuard) Key() string { return KeyDeduplication }

// Evaluate implements Guard.
func (g *DeduplicationGuard) Evaluate(ctx context.Context, action domain.CandidateAction) domain.PrecheckCheck {
	result, err := g.checker.Check(ctx, action)
	if err != nil {
		g.logger.Error("Duplication check failed closed",
			zap.String("target", action.TargetID),
			zap.String("device", action.DeviceID),
			zap.Error(err))
		c := newCheck(KeyDeduplication, domain.StatusBlocked, "cannot verify uniqueness")
		c.Detail = err.Error()
		return c
	}
	c := FromDuplicationCheck(result, g.now())
	if canceller, ok := g.checker.(ReservationCanceller); ok && result.ReservationID != 0 {
		id := result.ReservationID
		c.Release = func(ctx context.Context) error {
			return canceller.CancelReservation(ctx, id)
		}
	}
	return c
}

// FromDuplicationCheck maps a duplication check onto a precheck verdict.
// Delayed checks surface as warnings carrying the remaining wait.
func FromDuplicationCheck(dc domain.DuplicationCheck, now time.Time) domain.PrecheckCheck {
	c := newCheck(KeyDeduplication, domain.StatusPass, dc.Reason)
	if dc.RuleID != "" {
		c.Detail = fmt.Sprintf("rule %s", dc.RuleID)
	}

	switch dc.Result {
	case domain.ResultPass:
		c.Status = domain.StatusPass
	case domain.ResultWarning:
		c.Status = domain.StatusWarning
	case domain.ResultDelayed:
		c.Status = domain.StatusWarning
		c.WaitSeconds = WaitSeconds(dc.DelayUntil, now)
	case domain.ResultBlocked:
		c.Status = domain.StatusBlocked
	default:
		c.Status = domain.StatusBlocked
		c.Message = fmt.Sprintf("unknown duplication result %q", dc.Result)
	}
	return c
}

// WaitSeconds rounds the time until t up to whole seconds.
func WaitSeconds(t *time.Time, now time.Time) int {
	if t == nil || !t.After(now) {
		return 0
	}
	return int(math.Ceil(t.Sub(now).Seconds()))
}

var _ Guard = (*DeduplicationGuard)(nil)
