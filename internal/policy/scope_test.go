package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

type mapGroups map[string][]string

func (m mapGroups) DevicesInGroup(group string) []string { return m[group] }

func (m mapGroups) InGroup(deviceID, group string) bool {
	for _, d := range m[group] {
		if d == deviceID {
			return true
		}
	}
	return false
}

func TestScopeMatches(t *testing.T) {
	groups := mapGroups{"farm-a": {"dev-1", "dev-2"}}

	tests := []struct {
		name   string
		scope  domain.DeviceScope
		device string
		want   bool
	}{
		{"all matches anything", domain.DeviceScope{Type: domain.ScopeAll}, "dev-9", true},
		{"specific member", domain.DeviceScope{Type: domain.ScopeSpecific, Devices: []string{"dev-1"}}, "dev-1", true},
		{"specific non-member", domain.DeviceScope{Type: domain.ScopeSpecific, Devices: []string{"dev-1"}}, "dev-2", false},
		{"specific empty matches nothing", domain.DeviceScope{Type: domain.ScopeSpecific}, "dev-1", false},
		{"group member", domain.DeviceScope{Type: domain.ScopeGroup, Groups: []string{"farm-a"}}, "dev-2", true},
		{"group non-member", domain.DeviceScope{Type: domain.ScopeGroup, Groups: []string{"farm-a"}}, "dev-3", false},
		{"unknown group", domain.DeviceScope{Type: domain.ScopeGroup, Groups: []string{"farm-z"}}, "dev-1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScopeMatches(tt.scope, tt.device, groups))
		})
	}
}

func TestScopeDevices(t *testing.T) {
	groups := mapGroups{"a": {"dev-2", "dev-1"}, "b": {"dev-1", "dev-3"}}

	assert.Nil(t, ScopeDevices(domain.DeviceScope{Type: domain.ScopeAll}, groups))
	assert.Equal(t, []string{"dev-1", "dev-2", "dev-3"},
		ScopeDevices(domain.DeviceScope{Type: domain.ScopeGroup, Groups: []string{"a", "b"}}, groups))

	empty := ScopeDevices(domain.DeviceScope{Type: domain.ScopeSpecific}, groups)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestExceptionReason(t *testing.T) {
	rule := validRule()
	rule.Exceptions = domain.RuleExceptions{
		VIPTargets:        []string{"vip-1"},
		UrgentKeywords:    []string{"giveaway"},
		HighPriorityTasks: []string{"task-9"},
	}

	_, ok := ExceptionReason(rule, domain.CandidateAction{TargetID: "vip-1"})
	assert.True(t, ok)

	_, ok = ExceptionReason(rule, domain.CandidateAction{TargetID: "u1", Content: "join the giveaway now"})
	assert.True(t, ok)

	_, ok = ExceptionReason(rule, domain.CandidateAction{TargetID: "u1", TaskID: "task-9"})
	assert.True(t, ok)

	_, ok = ExceptionReason(rule, domain.CandidateAction{TargetID: "u1", TaskID: "task-1", Content: "hello"})
	assert.False(t, ok)
}

func TestSortByPriority(t *testing.T) {
	rules := []domain.DuplicationRule{
		{ID: "b", Priority: 3},
		{ID: "a", Priority: 3},
		{ID: "c", Priority: 9},
	}
	SortByPriority(rules)

	assert.Equal(t, "c", rules[0].ID)
	assert.Equal(t, "a", rules[1].ID)
	assert.Equal(t, "b", rules[2].ID)
}
