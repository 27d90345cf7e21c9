package policy

import (
	"sort"
	"strings"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// ScopeMatches reports whether a device falls inside a rule's device scope.
// A specific scope with no devices matches nothing.
func ScopeMatches(scope domain.DeviceScope, deviceID string, groups domain.DeviceGroupResolver) bool {
	switch scope.Type {
	case domain.ScopeAll, "":
		return true
	case domain.ScopeSpecific:
		for _, d := range scope.Devices {
			if d == deviceID {
				return true
			}
		}
		return false
	case domain.ScopeGroup:
		if groups == nil {
			return false
		}
		for _, g := range scope.Groups {
			if groups.InGroup(deviceID, g) {
				return true
			}
		}
		return false
	}
	return false
}

// ScopeDevices expands a scope to its device list.
// It returns nil for the all-devices scope, and a non-nil (possibly empty)
// slice otherwise so that history queries select nothing for an empty scope.
func ScopeDevices(scope domain.DeviceScope, groups domain.DeviceGroupResolver) []string {
	switch scope.Type {
	case domain.ScopeAll, "":
		return nil
	case domain.ScopeSpecific:
		return append([]string{}, scope.Devices...)
	case domain.ScopeGroup:
		seen := make(map[string]struct{})
		devices := []string{}
		if groups == nil {
			return devices
		}
		for _, g := range scope.Groups {
			for _, d := range groups.DevicesInGroup(g) {
				if _, dup := seen[d]; dup {
					continue
				}
				seen[d] = struct{}{}
				devices = append(devices, d)
			}
		}
		sort.Strings(devices)
		return devices
	}
	return []string{}
}

// ExceptionReason reports whether the action bypasses the rule, and why.
func ExceptionReason(rule domain.DuplicationRule, action domain.CandidateAction) (string, bool) {
	for _, vip := range rule.Exceptions.VIPTargets {
		if vip == action.TargetID {
			return "target is a VIP exception", true
		}
	}
	if action.Content != "" {
		for _, kw := range rule.Exceptions.UrgentKeywords {
			if kw != "" && strings.Contains(action.Content, kw) {
				return "content contains urgent keyword " + kw, true
			}
		}
	}
	if action.TaskID != "" {
		for _, task := range rule.Exceptions.HighPriorityTasks {
			if task == action.TaskID {
				return "task is high priority", true
			}
		}
	}
	return "", false
}

// SortByPriority orders rules by priority descending, then id for determinism.
func SortByPriority(rules []domain.DuplicationRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}
