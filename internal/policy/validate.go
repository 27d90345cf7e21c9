package policy

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

const (
	MinPriority = 1
	MaxPriority = 10
)

// ApplyDefaults fills fields a caller may leave empty.
// An unset time window takes the configured default window.
func ApplyDefaults(rule domain.DuplicationRule, cfg domain.DuplicationConfig) domain.DuplicationRule {
	if rule.TimeWindow.IsZero() {
		rule.TimeWindow = cfg.DefaultTimeWindow
	}
	if rule.DeviceScope.Type == "" {
		rule.DeviceScope.Type = domain.ScopeAll
	}
	if rule.Actions.OnDuplicationDetected == "" {
		rule.Actions.OnDuplicationDetected = domain.OnDuplicationBlock
	}
	return rule
}

// ValidateRule checks a rule and reports every violation at once.
// It returns a *domain.InvalidRuleError or nil.
func ValidateRule(rule domain.DuplicationRule) error {
	var errs *multierror.Error

	if rule.Name == "" {
		errs = multierror.Append(errs, fmt.Errorf("name is required"))
	}
	if len(rule.Type.ActionTypes()) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("unknown rule type %q", rule.Type))
	}
	if rule.Priority < MinPriority || rule.Priority > MaxPriority {
		errs = multierror.Append(errs, fmt.Errorf("priority %d out of range [%d,%d]", rule.Priority, MinPriority, MaxPriority))
	}
	if rule.TimeWindow.Value <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("time window value must be positive, got %d", rule.TimeWindow.Value))
	}
	if rule.TimeWindow.Duration() == 0 && rule.TimeWindow.Value > 0 {
		errs = multierror.Append(errs, fmt.Errorf("unknown time window unit %q", rule.TimeWindow.Unit))
	}

	c := rule.Conditions
	if c.MaxActionsPerTarget < 1 {
		errs = multierror.Append(errs, fmt.Errorf("maxActionsPerTarget must be at least 1, got %d", c.MaxActionsPerTarget))
	}
	if c.MaxActionsPerTimeWindow < 0 {
		errs = multierror.Append(errs, fmt.Errorf("maxActionsPerTimeWindow must not be negative"))
	} else if c.MaxActionsPerTimeWindow > 0 && c.MaxActionsPerTimeWindow < c.MaxActionsPerTarget {
		errs = multierror.Append(errs, fmt.Errorf("maxActionsPerTimeWindow (%d) is below maxActionsPerTarget (%d)",
			c.MaxActionsPerTimeWindow, c.MaxActionsPerTarget))
	}
	if c.CooldownPeriod < 0 {
		errs = multierror.Append(errs, fmt.Errorf("cooldownPeriod must not be negative"))
	}

	switch rule.DeviceScope.Type {
	case domain.ScopeAll:
	case domain.ScopeSpecific:
		if len(rule.DeviceScope.Devices) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("specific device scope lists no devices"))
		}
	case domain.ScopeGroup:
		if len(rule.DeviceScope.Groups) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("group device scope lists no groups"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown device scope %q", rule.DeviceScope.Type))
	}

	switch rule.Actions.OnDuplicationDetected {
	case domain.OnDuplicationBlock, domain.OnDuplicationWarn, domain.OnDuplicationLog:
	case domain.OnDuplicationDelay:
		if rule.Actions.DelayMinutes <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("delay policy requires delayMinutes > 0"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown onDuplicationDetected %q", rule.Actions.OnDuplicationDetected))
	}

	switch rule.Actions.FallbackStrategy {
	case "", domain.FallbackSkip, domain.FallbackReassign, domain.FallbackQueue:
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown fallbackStrategy %q", rule.Actions.FallbackStrategy))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return &domain.InvalidRuleError{RuleID: rule.ID, Err: err}
	}
	return nil
}
