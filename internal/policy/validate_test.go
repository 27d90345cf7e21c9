package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

func validRule() domain.DuplicationRule {
	return domain.DuplicationRule{
		ID:          "r1",
		Name:        "follow once a day",
		Type:        domain.RuleFollow,
		Enabled:     true,
		Priority:    5,
		TimeWindow:  domain.TimeWindow{Value: 1, Unit: domain.UnitDays},
		DeviceScope: domain.DeviceScope{Type: domain.ScopeAll},
		Conditions:  domain.RuleConditions{MaxActionsPerTarget: 1, MaxActionsPerTimeWindow: 10},
		Actions:     domain.RuleActions{OnDuplicationDetected: domain.OnDuplicationBlock},
	}
}

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *domain.DuplicationRule)
		wantErr string
	}{
		{name: "valid rule", mutate: func(r *domain.DuplicationRule) {}},
		{
			name:    "priority too low",
			mutate:  func(r *domain.DuplicationRule) { r.Priority = 0 },
			wantErr: "priority 0 out of range",
		},
		{
			name:    "priority too high",
			mutate:  func(r *domain.DuplicationRule) { r.Priority = 11 },
			wantErr: "priority 11 out of range",
		},
		{
			name:    "non-positive window",
			mutate:  func(r *domain.DuplicationRule) { r.TimeWindow.Value = 0 },
			wantErr: "time window value must be positive",
		},
		{
			name:    "unknown unit",
			mutate:  func(r *domain.DuplicationRule) { r.TimeWindow.Unit = "fortnights" },
			wantErr: "unknown time window unit",
		},
		{
			name:    "missing max per target",
			mutate:  func(r *domain.DuplicationRule) { r.Conditions.MaxActionsPerTarget = 0 },
			wantErr: "maxActionsPerTarget must be at least 1",
		},
		{
			name: "window cap below target cap",
			mutate: func(r *domain.DuplicationRule) {
				r.Conditions.MaxActionsPerTarget = 5
				r.Conditions.MaxActionsPerTimeWindow = 2
			},
			wantErr: "is below maxActionsPerTarget",
		},
		{
			name:    "specific scope without devices",
			mutate:  func(r *domain.DuplicationRule) { r.DeviceScope = domain.DeviceScope{Type: domain.ScopeSpecific} },
			wantErr: "lists no devices",
		},
		{
			name:    "delay without minutes",
			mutate:  func(r *domain.DuplicationRule) { r.Actions.OnDuplicationDetected = domain.OnDuplicationDelay },
			wantErr: "delay policy requires delayMinutes",
		},
		{
			name:    "unknown type",
			mutate:  func(r *domain.DuplicationRule) { r.Type = "comment" },
			wantErr: "unknown rule type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(&rule)

			err := ValidateRule(rule)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, domain.IsInvalidRule(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateRule_ReportsEveryViolation(t *testing.T) {
	rule := validRule()
	rule.Priority = 42
	rule.TimeWindow.Value = -1
	rule.Conditions.MaxActionsPerTarget = 0

	err := ValidateRule(rule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priority 42")
	assert.Contains(t, err.Error(), "time window value")
	assert.Contains(t, err.Error(), "maxActionsPerTarget")
}

func TestApplyDefaults(t *testing.T) {
	cfg := domain.DefaultDuplicationConfig()
	rule := ApplyDefaults(domain.DuplicationRule{Name: "x"}, cfg)

	assert.Equal(t, cfg.DefaultTimeWindow, rule.TimeWindow)
	assert.Equal(t, domain.ScopeAll, rule.DeviceScope.Type)
	assert.Equal(t, domain.OnDuplicationBlock, rule.Actions.OnDuplicationDetected)
}
