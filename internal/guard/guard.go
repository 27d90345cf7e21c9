// Package guard implements the independent precheck guards and the combiner
// that merges their verdicts.
//
// Guards never return errors: every failure is folded into the verdict,
// failing open (warning) or closed (blocked) depending on the guard.
package guard

import (
	"context"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// Guard keys, in the order they are reported.
const (
	KeyPermission       = "permission"
	KeyRateLimit        = "rate_limit"
	KeyDeduplication    = "deduplication"
	KeySensitiveContent = "sensitive_content"
)

// Order lists guard keys in report order.
var Order = []string{KeyPermission, KeyRateLimit, KeyDeduplication, KeySensitiveContent}

var labels = map[string]string{
	KeyPermission:       "Permission",
	KeyRateLimit:        "Rate limit",
	KeyDeduplication:    "Deduplication",
	KeySensitiveContent: "Sensitive content",
}

// Label returns the display label of a guard key.
func Label(key string) string {
	if l, ok := labels[key]; ok {
		return l
	}
	return key
}

// Guard evaluates one aspect of a candidate action.
type Guard interface {
	Key() string
	Evaluate(ctx context.Context, action domain.CandidateAction) domain.PrecheckCheck
}

// TimeoutCheck is reported for a guard that missed the evaluation deadline.
func TimeoutCheck(key string) domain.PrecheckCheck {
	return domain.PrecheckCheck{
		Key:     key,
		Label:   Label(key),
		Status:  domain.StatusWarning,
		Message: domain.ErrEvaluationTimeout.Error(),
	}
}

func newCheck(key string, status domain.PrecheckStatus, message string) domain.PrecheckCheck {
	return domain.PrecheckCheck{
		Key:     key,
		Label:   Label(key),
		Status:  status,
		Message: message,
	}
}
