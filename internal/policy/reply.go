package policy

import "github.com/eliteGoblin/dupguard/internal/domain"

// ReplyPreset allows one reply per target per hour.
type ReplyPreset struct{}

// NewReplyPreset creates the 1h reply guard.
func NewReplyPreset() *ReplyPreset {
	return &ReplyPreset{}
}

func (p *ReplyPreset) ID() string {
	return "default_reply_1h"
}

func (p *ReplyPreset) Name() string {
	return "Reply dedup (1h)"
}

func (p *ReplyPreset) RuleType() domain.RuleType {
	return domain.RuleReply
}

func (p *ReplyPreset) Window() domain.TimeWindow {
	return domain.TimeWindow{Value: 1, Unit: domain.UnitHours}
}

func (p *ReplyPreset) MaxActionsPerTarget() int {
	return 1
}

func (p *ReplyPreset) Priority() int {
	return DefaultPriority
}

// Ensure ReplyPreset implements RulePreset.
var _ RulePreset = (*ReplyPreset)(nil)
