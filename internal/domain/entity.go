// Package domain contains core business entities and interfaces.
// This is the innermost layer - no dependencies beyond the standard library.
package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ActionType is an automated action an executor can dispatch to a device.
type ActionType string

const (
	ActionFollow ActionType = "follow"
	ActionReply  ActionType = "reply"
	ActionLike   ActionType = "like"
	ActionShare  ActionType = "share"
)

// Valid reports whether the action type is known.
func (a ActionType) Valid() bool {
	switch a {
	case ActionFollow, ActionReply, ActionLike, ActionShare:
		return true
	}
	return false
}

// RuleType groups action types for rule matching.
type RuleType string

const (
	RuleFollow      RuleType = "follow"
	RuleReply       RuleType = "reply"
	RuleInteraction RuleType = "interaction" // like + share
)

// ActionTypes returns the action types a rule of this type governs.
func (t RuleType) ActionTypes() []ActionType {
	switch t {
	case RuleFollow:
		return []ActionType{ActionFollow}
	case RuleReply:
		return []ActionType{ActionReply}
	case RuleInteraction:
		return []ActionType{ActionLike, ActionShare}
	}
	return nil
}

// Covers reports whether a rule of this type applies to the action.
func (t RuleType) Covers(a ActionType) bool {
	for _, at := range t.ActionTypes() {
		if at == a {
			return true
		}
	}
	return false
}

// TimeUnit is the unit of a rule's lookback window.
type TimeUnit string

const (
	UnitMinutes TimeUnit = "minutes"
	UnitHours   TimeUnit = "hours"
	UnitDays    TimeUnit = "days"
	UnitWeeks   TimeUnit = "weeks"
)

// TimeWindow is the lookback window used for counting.
type TimeWindow struct {
	Value int      `json:"value" yaml:"value"`
	Unit  TimeUnit `json:"unit" yaml:"unit"`
}

// Duration converts the window to a time.Duration. Unknown units yield 0.
func (w TimeWindow) Duration() time.Duration {
	var unit time.Duration
	switch w.Unit {
	case UnitMinutes:
		unit = time.Minute
	case UnitHours:
		unit = time.Hour
	case UnitDays:
		unit = 24 * time.Hour
	case UnitWeeks:
		unit = 7 * 24 * time.Hour
	default:
		return 0
	}
	return time.Duration(w.Value) * unit
}

// IsZero reports whether the window was left unset.
func (w TimeWindow) IsZero() bool {
	return w.Value == 0 && w.Unit == ""
}

// ScopeType restricts which devices a rule applies to.
type ScopeType string

const (
	ScopeAll      ScopeType = "all"
	ScopeSpecific ScopeType = "specific"
	ScopeGroup    ScopeType = "group"
)

// DeviceScope restricts a rule to a set of devices.
type DeviceScope struct {
	Type    ScopeType `json:"type" yaml:"type"`
	Devices []string  `json:"devices,omitempty" yaml:"devices,omitempty"`
	Groups  []string  `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// RuleConditions are the thresholds a rule enforces.
type RuleConditions struct {
	MaxActionsPerTarget     int  `json:"maxActionsPerTarget"`
	MaxActionsPerTimeWindow int  `json:"maxActionsPerTimeWindow"`  // 0 disables the window cap
	CooldownPeriod          int  `json:"cooldownPeriod,omitempty"` // minutes
	CheckUserLevel          bool `json:"checkUserLevel,omitempty"`
	CheckContentSimilarity  bool `json:"checkContentSimilarity,omitempty"`
	RespectPlatformLimits   bool `json:"respectPlatformLimits,omitempty"`
}

// OnDuplication is what a rule does when it fires.
type OnDuplication string

const (
	OnDuplicationBlock OnDuplication = "block"
	OnDuplicationWarn  OnDuplication = "warn"
	OnDuplicationDelay OnDuplication = "delay"
	OnDuplicationLog   OnDuplication = "log"
)

// Obstructive reports whether the policy stops or postpones the action.
func (o OnDuplication) Obstructive() bool {
	return o == OnDuplicationBlock || o == OnDuplicationDelay
}

// FallbackStrategy is advisory metadata for the executor.
type FallbackStrategy string

const (
	FallbackSkip     FallbackStrategy = "skip"
	FallbackReassign FallbackStrategy = "reassign"
	FallbackQueue    FallbackStrategy = "queue"
)

// RuleActions describes the reaction to a detected duplication.
type RuleActions struct {
	OnDuplicationDetected OnDuplication    `json:"onDuplicationDetected"`
	DelayMinutes          int              `json:"delayMinutes,omitempty"`
	FallbackStrategy      FallbackStrategy `json:"fallbackStrategy,omitempty"`
}

// RuleExceptions lists targets and content that bypass a rule.
type RuleExceptions struct {
	VIPTargets        []string `json:"vipTargets,omitempty"`
	UrgentKeywords    []string `json:"urgentKeywords,omitempty"`
	HighPriorityTasks []string `json:"highPriorityTasks,omitempty"`
}

// RuleStats are monotonically increasing counters.
type RuleStats struct {
	TotalChecks          int64      `json:"totalChecks"`
	DuplicationsDetected int64      `json:"duplicationsDetected"`
	ActionsBlocked       int64      `json:"actionsBlocked"`
	LastTriggered        *time.Time `json:"lastTriggered,omitempty"`
}

// DuplicationRule is a policy definition.
type DuplicationRule struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        RuleType       `json:"type"`
	Enabled     bool           `json:"enabled"`
	Priority    int            `json:"priority"` // 1-10, higher checked first
	TimeWindow  TimeWindow     `json:"timeWindow"`
	DeviceScope DeviceScope    `json:"deviceScope"`
	Conditions  RuleConditions `json:"conditions"`
	Actions     RuleActions    `json:"actions"`
	Exceptions  RuleExceptions `json:"exceptions"`
	Stats       RuleStats      `json:"stats"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// RulePatch is a partial update. Nil fields are left unchanged.
type RulePatch struct {
	Name        *string         `json:"name,omitempty"`
	Type        *RuleType       `json:"type,omitempty"`
	Enabled     *bool           `json:"enabled,omitempty"`
	Priority    *int            `json:"priority,omitempty"`
	TimeWindow  *TimeWindow     `json:"timeWindow,omitempty"`
	DeviceScope *DeviceScope    `json:"deviceScope,omitempty"`
	Conditions  *RuleConditions `json:"conditions,omitempty"`
	Actions     *RuleActions    `json:"actions,omitempty"`
	Exceptions  *RuleExceptions `json:"exceptions,omitempty"`
}

// Apply returns a copy of rule with the patch applied.
func (p RulePatch) Apply(rule DuplicationRule) DuplicationRule {
	if p.Name != nil {
		rule.Name = *p.Name
	}
	if p.Type != nil {
		rule.Type = *p.Type
	}
	if p.Enabled != nil {
		rule.Enabled = *p.Enabled
	}
	if p.Priority != nil {
		rule.Priority = *p.Priority
	}
	if p.TimeWindow != nil {
		rule.TimeWindow = *p.TimeWindow
	}
	if p.DeviceScope != nil {
		rule.DeviceScope = *p.DeviceScope
	}
	if p.Conditions != nil {
		rule.Conditions = *p.Conditions
	}
	if p.Actions != nil {
		rule.Actions = *p.Actions
	}
	if p.Exceptions != nil {
		rule.Exceptions = *p.Exceptions
	}
	return rule
}

// StatsDelta increments rule counters.
type StatsDelta struct {
	Checks       int64
	Duplications int64
	Blocked      int64
	TriggeredAt  *time.Time
}

// ExecutorMode is how an action will be executed.
type ExecutorMode string

const (
	ExecutorAPI    ExecutorMode = "api"
	ExecutorManual ExecutorMode = "manual"
)

// CandidateAction is an action an executor wants to perform.
type CandidateAction struct {
	TargetID     string       `json:"targetId"`
	TargetType   string       `json:"targetType,omitempty"`
	ActionType   ActionType   `json:"actionType"`
	DeviceID     string       `json:"deviceId"`
	AccountID    string       `json:"accountId,omitempty"`
	TaskID       string       `json:"taskId,omitempty"`
	Content      string       `json:"content,omitempty"`
	ExecutorMode ExecutorMode `json:"executorMode,omitempty"`
}

// Validate checks the fields every guard relies on.
func (a CandidateAction) Validate() error {
	switch {
	case a.TargetID == "":
		return fmt.Errorf("%w: targetId is required", ErrInvalidAction)
	case a.DeviceID == "":
		return fmt.Errorf("%w: deviceId is required", ErrInvalidAction)
	case !a.ActionType.Valid():
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, a.ActionType)
	}
	return nil
}

// Outcome is the state of a ledger entry.
type Outcome string

const (
	OutcomeReserved  Outcome = "reserved"
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Valid reports whether an executor may record this outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailed, OutcomeCancelled:
		return true
	}
	return false
}

// ActionEntry is one row of the action history ledger.
type ActionEntry struct {
	ID         int64      `json:"id"`
	TargetID   string     `json:"targetId"`
	ActionType ActionType `json:"actionType"`
	DeviceID   string     `json:"deviceId"`
	Timestamp  time.Time  `json:"timestamp"`
	Outcome    Outcome    `json:"outcome"`
}

// CheckResult is the verdict of a duplication check.
type CheckResult string

const (
	ResultPass    CheckResult = "pass"
	ResultBlocked CheckResult = "blocked"
	ResultWarning CheckResult = "warning"
	ResultDelayed CheckResult = "delayed"
)

// ActionTaken mirrors the check result from the executor's point of view.
type ActionTaken string

const (
	TakenProceeded ActionTaken = "proceeded"
	TakenBlocked   ActionTaken = "blocked"
	TakenDelayed   ActionTaken = "delayed"
	TakenModified  ActionTaken = "modified"
)

// CheckDetails carries the evidence used for a decision.
type CheckDetails struct {
	PreviousActions []ActionEntry `json:"previousActions"`
	CountForTarget  int           `json:"countForTarget"`
	CountForWindow  int           `json:"countForWindow"`
	WindowStart     *time.Time    `json:"windowStart,omitempty"`
}

// DuplicationCheck records one evaluation. Immutable once created.
type DuplicationCheck struct {
	ID               string           `json:"id"`
	RuleID           string           `json:"ruleId,omitempty"`
	TargetID         string           `json:"targetId"`
	TargetType       string           `json:"targetType,omitempty"`
	ActionType       ActionType       `json:"actionType"`
	DeviceID         string           `json:"deviceId"`
	TaskID           string           `json:"taskId,omitempty"`
	Result           CheckResult      `json:"result"`
	Reason           string           `json:"reason"`
	Confidence       int              `json:"confidence"`
	Details          CheckDetails     `json:"details"`
	ActionTaken      ActionTaken      `json:"actionTaken"`
	ModifiedTarget   string           `json:"modifiedTarget,omitempty"`
	DelayUntil       *time.Time       `json:"delayUntil,omitempty"`
	FallbackStrategy FallbackStrategy `json:"fallbackStrategy,omitempty"`
	CheckedAt        time.Time        `json:"checkedAt"`

	// ReservationID is the ledger row held for a passing check, 0 if none.
	ReservationID int64 `json:"-"`
}

// EventType classifies notable occurrences.
type EventType string

const (
	EventRuleTriggered   EventType = "rule_triggered"
	EventActionBlocked   EventType = "action_blocked"
	EventWarningIssued   EventType = "warning_issued"
	EventCooldownStarted EventType = "cooldown_started"
)

// Impact is how disruptive an event was.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// ResolutionType is how an operator handled an event.
type ResolutionType string

const (
	ResolutionManualOverride    ResolutionType = "manual_override"
	ResolutionAutoRetry         ResolutionType = "auto_retry"
	ResolutionAlternativeAction ResolutionType = "alternative_action"
	ResolutionCancelled         ResolutionType = "cancelled"
)

// Valid reports whether the resolution type is known.
func (r ResolutionType) Valid() bool {
	switch r {
	case ResolutionManualOverride, ResolutionAutoRetry, ResolutionAlternativeAction, ResolutionCancelled:
		return true
	}
	return false
}

// EventResolution is recorded later by an operator.
type EventResolution struct {
	Type       ResolutionType `json:"type"`
	Note       string         `json:"note,omitempty"`
	Operator   string         `json:"operator,omitempty"`
	ResolvedAt time.Time      `json:"resolvedAt"`
}

// DuplicationEvent is a rule-triggered occurrence.
type DuplicationEvent struct {
	ID          string           `json:"id"`
	Type        EventType        `json:"type"`
	RuleID      string           `json:"ruleId,omitempty"`
	RuleName    string           `json:"ruleName,omitempty"`
	CheckID     string           `json:"checkId,omitempty"`
	TargetID    string           `json:"targetId"`
	DeviceID    string           `json:"deviceId"`
	Impact      Impact           `json:"impact"`
	Description string           `json:"description"`
	OccurredAt  time.Time        `json:"occurredAt"`
	Resolution  *EventResolution `json:"resolution,omitempty"`
}

// RiskLevel is derived from a target's history.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// HistoryAction is one item of a target's rollup.
type HistoryAction struct {
	Type      ActionType  `json:"type"`
	DeviceID  string      `json:"deviceId"`
	Timestamp time.Time   `json:"timestamp"`
	Result    CheckResult `json:"result,omitempty"`
	Outcome   Outcome     `json:"outcome,omitempty"`
}

// DuplicationHistory is the per-target rollup.
type DuplicationHistory struct {
	TargetID      string          `json:"targetId"`
	TargetInfo    string          `json:"targetInfo,omitempty"`
	Actions       []HistoryAction `json:"actions"`
	TotalActions  int             `json:"totalActions"`
	UniqueDevices int             `json:"uniqueDevices"`
	FirstAction   time.Time       `json:"firstAction"`
	LastAction    time.Time       `json:"lastAction"`
	RiskLevel     RiskLevel       `json:"riskLevel"`
	RiskFactors   []string        `json:"riskFactors"`
}

// PrecheckStatus is a guard verdict.
type PrecheckStatus string

const (
	StatusPass    PrecheckStatus = "pass"
	StatusWarning PrecheckStatus = "warning"
	StatusBlocked PrecheckStatus = "blocked"
)

// Severity orders statuses: blocked > warning > pass.
func (s PrecheckStatus) Severity() int {
	switch s {
	case StatusBlocked:
		return 2
	case StatusWarning:
		return 1
	}
	return 0
}

// PrecheckCheck is a single guard's verdict.
type PrecheckCheck struct {
	Key         string         `json:"key"`
	Label       string         `json:"label"`
	Status      PrecheckStatus `json:"status"`
	Message     string         `json:"message"`
	Detail      string         `json:"detail,omitempty"`
	WaitSeconds int            `json:"waitSeconds,omitempty"`

	// Release gives back what the guard consumed while evaluating, such as
	// a ledger reservation or a rate-limit token. Nil when nothing was taken.
	Release func(ctx context.Context) error `json:"-"`
}

// PrecheckResult is the combined verdict of all guards.
type PrecheckResult struct {
	Checks    []PrecheckCheck `json:"checks"`
	AllPassed bool            `json:"allPassed"`
}

// Status returns the most severe status among the checks.
func (r PrecheckResult) Status() PrecheckStatus {
	worst := StatusPass
	for _, c := range r.Checks {
		if c.Status.Severity() > worst.Severity() {
			worst = c.Status
		}
	}
	return worst
}

// Summary names the guards that did not pass, most severe first.
func (r PrecheckResult) Summary() string {
	var blocked, warned []string
	for _, c := range r.Checks {
		switch c.Status {
		case StatusBlocked:
			blocked = append(blocked, c.Label+": "+c.Message)
		case StatusWarning:
			warned = append(warned, c.Label+": "+c.Message)
		}
	}
	if len(blocked) == 0 && len(warned) == 0 {
		return "all checks passed"
	}
	return strings.Join(append(blocked, warned...), "; ")
}

// RateLimitPolicy is the per-account allowance.
type RateLimitPolicy struct {
	PerMinute int `json:"perMinute" yaml:"perMinute"`
	Burst     int `json:"burst" yaml:"burst"`
}

// RateDecision is what a rate-limit provider answers.
type RateDecision struct {
	Allowed     bool
	Remaining   int
	WaitSeconds int    // 0 when the provider cannot tell
	Token       string // identifies the consumed allowance, if the provider tracks one
}
