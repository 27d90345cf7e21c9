package policy

import "github.com/eliteGoblin/dupguard/internal/domain"

// FollowPreset allows one follow per target per day.
type FollowPreset struct {
	hours int
}

// NewFollowPreset creates the 24h follow guard.
func NewFollowPreset() *FollowPreset {
	return &FollowPreset{hours: 24}
}

func (p *FollowPreset) ID() string {
	return "default_follow_24h"
}

func (p *FollowPreset) Name() string {
	return "Follow dedup (24h)"
}

func (p *FollowPreset) RuleType() domain.RuleType {
	return domain.RuleFollow
}

func (p *FollowPreset) Window() domain.TimeWindow {
	return domain.TimeWindow{Value: p.hours, Unit: domain.UnitHours}
}

func (p *FollowPreset) MaxActionsPerTarget() int {
	return 1
}

func (p *FollowPreset) Priority() int {
	return DefaultPriority
}

// Ensure FollowPreset implements RulePreset.
var _ RulePreset = (*FollowPreset)(nil)
