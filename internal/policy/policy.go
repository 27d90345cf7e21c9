// Package policy implements the Strategy pattern for built-in duplication rules
// and the helpers every rule store shares: validation, device scope matching
// and exception bypass.
package policy

import (
	"github.com/eliteGoblin/dupguard/internal/domain"
)

// DefaultPriority is used by presets that do not need a specific ordering.
const DefaultPriority = 5

// RulePreset defines the strategy interface for a built-in rule.
// Presets are seeded into an empty rule store on first open.
type RulePreset interface {
	// ID returns the stable rule id (e.g., "default_follow_24h").
	ID() string

	// Name returns human-readable name for display.
	Name() string

	// RuleType returns the action family the preset guards.
	RuleType() domain.RuleType

	// Window returns the lookback window.
	Window() domain.TimeWindow

	// MaxActionsPerTarget returns how many actions a single target may receive per window.
	MaxActionsPerTarget() int

	// Priority returns the evaluation priority (1-10).
	Priority() int
}

// ToRule converts a RulePreset to a domain.DuplicationRule entity.
func ToRule(p RulePreset) domain.DuplicationRule {
	return domain.DuplicationRule{
		ID:          p.ID(),
		Name:        p.Name(),
		Type:        p.RuleType(),
		Enabled:     true,
		Priority:    p.Priority(),
		TimeWindow:  p.Window(),
		DeviceScope: domain.DeviceScope{Type: domain.ScopeAll},
		Conditions: domain.RuleConditions{
			MaxActionsPerTarget: p.MaxActionsPerTarget(),
		},
		Actions: domain.RuleActions{
			OnDuplicationDetected: domain.OnDuplicationBlock,
			FallbackStrategy:      domain.FallbackSkip,
		},
	}
}
