package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeWindow_Duration(t *testing.T) {
	tests := []struct {
		window TimeWindow
		want   time.Duration
	}{
		{TimeWindow{Value: 30, Unit: UnitMinutes}, 30 * time.Minute},
		{TimeWindow{Value: 24, Unit: UnitHours}, 24 * time.Hour},
		{TimeWindow{Value: 2, Unit: UnitDays}, 48 * time.Hour},
		{TimeWindow{Value: 1, Unit: UnitWeeks}, 7 * 24 * time.Hour},
		{TimeWindow{Value: 5, Unit: "fortnights"}, 0},
		{TimeWindow{}, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.window.Value, tt.window.Unit), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.window.Duration())
		})
	}
	assert.True(t, TimeWindow{}.IsZero())
	assert.False(t, TimeWindow{Unit: UnitHours}.IsZero())
}

func TestRuleType_Covers(t *testing.T) {
	assert.True(t, RuleFollow.Covers(ActionFollow))
	assert.False(t, RuleFollow.Covers(ActionReply))
	assert.True(t, RuleInteraction.Covers(ActionLike))
	assert.True(t, RuleInteraction.Covers(ActionShare))
	assert.False(t, RuleType("unknown").Covers(ActionFollow))
}

func TestRulePatch_Apply(t *testing.T) {
	rule := DuplicationRule{ID: "r1", Name: "before", Priority: 3, Enabled: true}
	name := "after"
	disabled := false

	got := RulePatch{Name: &name, Enabled: &disabled}.Apply(rule)
	assert.Equal(t, "after", got.Name)
	assert.False(t, got.Enabled)
	assert.Equal(t, 3, got.Priority)
	assert.Equal(t, "before", rule.Name, "original is untouched")
}

func TestCandidateAction_Validate(t *testing.T) {
	valid := CandidateAction{TargetID: "user_a", DeviceID: "dev1", ActionType: ActionFollow}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*CandidateAction)
	}{
		{"missing target", func(a *CandidateAction) { a.TargetID = "" }},
		{"missing device", func(a *CandidateAction) { a.DeviceID = "" }},
		{"unknown action", func(a *CandidateAction) { a.ActionType = "poke" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid
			tt.mutate(&a)
			assert.ErrorIs(t, a.Validate(), ErrInvalidAction)
		})
	}
}

func TestOutcome_Valid(t *testing.T) {
	assert.True(t, OutcomeSuccess.Valid())
	assert.True(t, OutcomeCancelled.Valid())
	assert.False(t, OutcomeReserved.Valid(), "reservations are internal")
}

func TestPrecheckResult_StatusAndSummary(t *testing.T) {
	r := PrecheckResult{Checks: []PrecheckCheck{
		{Label: "Permission", Status: StatusPass, Message: "ok"},
		{Label: "Rate limit", Status: StatusWarning, Message: "slow down"},
		{Label: "Deduplication", Status: StatusBlocked, Message: "already followed"},
	}}
	assert.Equal(t, StatusBlocked, r.Status())
	assert.Equal(t, "Deduplication: already followed; Rate limit: slow down", r.Summary())

	assert.Equal(t, StatusPass, PrecheckResult{}.Status())
	assert.Equal(t, "all checks passed", PrecheckResult{}.Summary())
}

func TestDuplicationConfig_RetentionCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultDuplicationConfig()
	assert.True(t, now.AddDate(0, 0, -30).Equal(cfg.RetentionCutoff(now)))

	cfg.DataRetention.HistoryDays = 0
	assert.True(t, cfg.RetentionCutoff(now).IsZero())
}

func TestErrorHelpers(t *testing.T) {
	inner := errors.New("priority out of range")
	err := fmt.Errorf("failed to create rule: %w", &InvalidRuleError{RuleID: "r1", Err: inner})
	assert.True(t, IsInvalidRule(err))
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "invalid rule r1")

	err = fmt.Errorf("failed to delete rule: %w", &RuleNotFoundError{RuleID: "r2"})
	assert.True(t, IsRuleNotFound(err))
	assert.False(t, IsInvalidRule(err))
}
