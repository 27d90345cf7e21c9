package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimitProviderUnavailable marks transient rate-limit provider failures.
	// The rate-limit guard fails open on it.
	ErrRateLimitProviderUnavailable = errors.New("rate limit provider unavailable")

	// ErrHistoryStoreUnavailable marks history store failures.
	// The duplication detector fails closed on it.
	ErrHistoryStoreUnavailable = errors.New("history store unavailable")

	// ErrEvaluationTimeout is reported when a guard misses the precheck deadline.
	ErrEvaluationTimeout = errors.New("evaluation timed out")

	// ErrEventNotFound is returned when resolving an unknown event.
	ErrEventNotFound = errors.New("event not found")

	// ErrInvalidAction is returned for a candidate action missing required fields.
	ErrInvalidAction = errors.New("invalid action")
)

// InvalidRuleError is returned for malformed rules on create/update.
// Nothing is written when it is returned.
type InvalidRuleError struct {
	RuleID string
	Err    error // usually a *multierror.Error listing every violation
}

func (e *InvalidRuleError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("invalid rule %s: %v", e.RuleID, e.Err)
	}
	return fmt.Sprintf("invalid rule: %v", e.Err)
}

func (e *InvalidRuleError) Unwrap() error {
	return e.Err
}

// RuleNotFoundError is returned for update/delete/toggle on an unknown id.
type RuleNotFoundError struct {
	RuleID string
}

func (e *RuleNotFoundError) Error() string {
	return fmt.Sprintf("rule not found: %s", e.RuleID)
}

// IsInvalidRule reports whether err is an InvalidRuleError.
func IsInvalidRule(err error) bool {
	var ire *InvalidRuleError
	return errors.As(err, &ire)
}

// IsRuleNotFound reports whether err is a RuleNotFoundError.
func IsRuleNotFound(err error) bool {
	var nfe *RuleNotFoundError
	return errors.As(err, &nfe)
}
