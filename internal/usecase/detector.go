// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/dupguard/internal/domain"
	"github.com/eliteGoblin/dupguard/internal/guard"
	"github.com/eliteGoblin/dupguard/internal/policy"
)

const (
	// ConfidenceCertain is reported when no rule fires or a gate decides.
	ConfidenceCertain = 100
	// ConfidenceRuleFired is reported when a rule threshold is reached.
	ConfidenceRuleFired = 95
)

// MetricsRecorder receives detector and precheck observations.
type MetricsRecorder interface {
	ObservePrecheck(result domain.PrecheckResult, elapsed time.Duration)
	ObserveCheck(result domain.CheckResult)
	ObserveReservation(won bool)
}

type noopMetrics struct{}

func (noopMetrics) ObservePrecheck(domain.PrecheckResult, time.Duration) {}
func (noopMetrics) ObserveCheck(domain.CheckResult)                      {}
func (noopMetrics) ObserveReservation(bool)                              {}

// Option configures the detector and the prechecker.
type Option func(*options)

type options struct {
	now     func() time.Time
	metrics MetricsRecorder
	newID   func() string
	config  domain.ConfigProvider
}

func defaultOptions() options {
	return options{
		now:     time.Now,
		metrics: noopMetrics{},
		newID:   func() string { return uuid.NewString() },
	}
}

// WithClock injects the clock (for testing).
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithConfig lets the prechecker honour the emergency stop before any guard runs.
func WithConfig(config domain.ConfigProvider) Option {
	return func(o *options) { o.config = config }
}

// WithIDGenerator overrides uuid ids for checks and events (for testing).
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// Detector evaluates windowed duplication rules for candidate actions.
type Detector struct {
	rules   domain.RuleStore
	history domain.ActionHistoryStore
	audit   domain.AuditLog
	config  domain.ConfigProvider
	groups  domain.DeviceGroupResolver
	logger  *zap.Logger
	opts    options
}

// NewDetector creates a duplication detector.
func NewDetector(
	rules domain.RuleStore,
	history domain.ActionHistoryStore,
	audit domain.AuditLog,
	config domain.ConfigProvider,
	groups domain.DeviceGroupResolver,
	logger *zap.Logger,
	opts ...Option,
) *Detector {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Detector{
		rules:   rules,
		history: history,
		audit:   audit,
		config:  config,
		groups:  groups,
		logger:  logger,
		opts:    o,
	}
}

// ruleEvaluation is what one rule saw in its window.
type ruleEvaluation struct {
	rule           domain.DuplicationRule
	windowStart    time.Time
	countForTarget int
	countForWindow int
	previous       []domain.ActionEntry
	fired          bool
	reason         string
	limit          domain.ReservationLimit
}

// Check evaluates the action against the applicable rules.
// On a history failure it returns a blocked check together with an error
// wrapping domain.ErrHistoryStoreUnavailable.
func (d *Detector) Check(ctx context.Context, action domain.CandidateAction) (domain.DuplicationCheck, error) {
	now := d.opts.now()
	cfg := d.config.Current()

	check := domain.DuplicationCheck{
		ID:         d.opts.newID(),
		TargetID:   action.TargetID,
		TargetType: action.TargetType,
		ActionType: action.ActionType,
		DeviceID:   action.DeviceID,
		TaskID:     action.TaskID,
		Details:    domain.CheckDetails{PreviousActions: []domain.ActionEntry{}},
		CheckedAt:  now,
	}

	if !cfg.Enabled {
		d.pass(&check, "duplication guard disabled")
		return d.finish(ctx, check, cfg, nil), nil
	}
	if cfg.EmergencyStop {
		check.Result = domain.ResultBlocked
		check.ActionTaken = domain.TakenBlocked
		check.Confidence = ConfidenceCertain
		check.Reason = "emergency stop active"
		return d.finish(ctx, check, cfg, nil), nil
	}

	if cfg.GlobalMaxPerHour > 0 {
		since := now.Add(-time.Hour)
		n, err := d.history.CountInWindow(ctx, domain.HistoryQuery{Since: since})
		if err != nil {
			return d.failClosed(ctx, check, cfg, err)
		}
		if n >= cfg.GlobalMaxPerHour {
			check.Result = domain.ResultBlocked
			check.ActionTaken = domain.TakenBlocked
			check.Confidence = ConfidenceCertain
			check.Reason = fmt.Sprintf("global hourly limit reached (%d/%d)", n, cfg.GlobalMaxPerHour)
			check.Details.CountForWindow = n
			check.Details.WindowStart = &since
			d.applyLearningMode(&check, cfg)
			return d.finish(ctx, check, cfg, nil), nil
		}
	}

	rules, err := d.rules.FindApplicable(ctx, action.ActionType, action.DeviceID)
	if err != nil {
		return d.failClosed(ctx, check, cfg, err)
	}

	var evaluated []ruleEvaluation
	var fired *ruleEvaluation
	for _, rule := range rules {
		if reason, ok := policy.ExceptionReason(rule, action); ok {
			d.logger.Debug("Rule bypassed by exception",
				zap.String("rule", rule.ID),
				zap.String("target", action.TargetID),
				zap.String("reason", reason))
			continue
		}

		ev, err := d.evaluateRule(ctx, rule, action, now)
		if err != nil {
			d.recordStats(ctx, evaluated, nil, check.Result)
			return d.failClosed(ctx, check, cfg, err)
		}
		evaluated = append(evaluated, ev)
		if ev.fired {
			fired = &evaluated[len(evaluated)-1]
			break
		}
	}

	switch {
	case fired != nil:
		d.applyRule(&check, fired, now)
	case len(evaluated) == 0:
		if len(rules) == 0 {
			d.pass(&check, "no applicable rules")
		} else {
			d.pass(&check, "all applicable rules bypassed by exceptions")
		}
	default:
		lost, err := d.reserve(ctx, &check, action, evaluated, now)
		if err != nil {
			d.recordStats(ctx, evaluated, nil, check.Result)
			return d.failClosed(ctx, check, cfg, err)
		}
		fired = lost
	}

	d.applyLearningMode(&check, cfg)
	d.recordStats(ctx, evaluated, fired, check.Result)

	var firedRule *domain.DuplicationRule
	if fired != nil {
		firedRule = &fired.rule
	}
	return d.finish(ctx, check, cfg, firedRule), nil
}

// CancelReservation gives back a slot taken by Check for an action that will
// not run.
func (d *Detector) CancelReservation(ctx context.Context, id int64) error {
	cancelled, err := d.history.CancelReservation(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to cancel reservation %d: %w", id, err)
	}
	d.logger.Debug("Reservation released",
		zap.Int64("reservation", id),
		zap.Bool("cancelled", cancelled))
	return nil
}

// evaluateRule fetches the rule's window once and derives every count from it.
func (d *Detector) evaluateRule(
	ctx context.Context,
	rule domain.DuplicationRule,
	action domain.CandidateAction,
	now time.Time,
) (ruleEvaluation, error) {
	windowStart := now.Add(-rule.TimeWindow.Duration())
	cooldown := time.Duration(rule.Conditions.CooldownPeriod) * time.Minute

	since := windowStart
	if cooldown > 0 && now.Add(-cooldown).Before(since) {
		since = now.Add(-cooldown)
	}

	devices := policy.ScopeDevices(rule.DeviceScope, d.groups)
	entries, err := d.history.ListInWindow(ctx, domain.HistoryQuery{
		ActionTypes: rule.Type.ActionTypes(),
		Devices:     devices,
		Since:       since,
	})
	if err != nil {
		return ruleEvaluation{}, fmt.Errorf("failed to evaluate rule %s: %w", rule.ID, err)
	}

	ev := ruleEvaluation{
		rule:        rule,
		windowStart: windowStart,
		previous:    []domain.ActionEntry{},
		limit: domain.ReservationLimit{
			RuleID:       rule.ID,
			ActionTypes:  rule.Type.ActionTypes(),
			Devices:      devices,
			Since:        windowStart,
			MaxPerTarget: rule.Conditions.MaxActionsPerTarget,
			MaxPerWindow: rule.Conditions.MaxActionsPerTimeWindow,
		},
	}

	var lastOnTarget time.Time
	for _, e := range entries {
		inWindow := !e.Timestamp.Before(windowStart)
		if inWindow {
			ev.countForWindow++
		}
		if e.TargetID != action.TargetID {
			continue
		}
		if inWindow {
			ev.countForTarget++
			ev.previous = append(ev.previous, e)
		}
		if e.Timestamp.After(lastOnTarget) {
			lastOnTarget = e.Timestamp
		}
	}

	c := rule.Conditions
	window := formatWindow(rule.TimeWindow)
	switch {
	case c.MaxActionsPerTarget <= 0:
		ev.fired = true
		ev.reason = fmt.Sprintf("rule %q allows no %s actions on a target", rule.Name, rule.Type)
	case ev.countForTarget >= c.MaxActionsPerTarget:
		ev.fired = true
		ev.reason = fmt.Sprintf("target already received %d %s action(s) within %s (limit %d)",
			ev.countForTarget, rule.Type, window, c.MaxActionsPerTarget)
	case c.MaxActionsPerTimeWindow > 0 && ev.countForWindow >= c.MaxActionsPerTimeWindow:
		ev.fired = true
		ev.reason = fmt.Sprintf("%d %s action(s) within %s (limit %d)",
			ev.countForWindow, rule.Type, window, c.MaxActionsPerTimeWindow)
	case cooldown > 0 && !lastOnTarget.IsZero() && now.Sub(lastOnTarget) < cooldown:
		ev.fired = true
		ev.reason = fmt.Sprintf("cooldown of %d minute(s) active until %s",
			c.CooldownPeriod, lastOnTarget.Add(cooldown).UTC().Format(time.RFC3339))
	}
	return ev, nil
}

// reserve claims a ledger slot under every obstructive rule that was evaluated.
// It returns the rule whose limit was exhausted by a concurrent caller, if any.
func (d *Detector) reserve(
	ctx context.Context,
	check *domain.DuplicationCheck,
	action domain.CandidateAction,
	evaluated []ruleEvaluation,
	now time.Time,
) (*ruleEvaluation, error) {
	first := evaluated[0]
	d.setDetails(check, first)

	var limits []domain.ReservationLimit
	for _, ev := range evaluated {
		if ev.rule.Actions.OnDuplicationDetected.Obstructive() {
			limits = append(limits, ev.limit)
		}
	}
	if len(limits) == 0 {
		d.pass(check, "no duplication detected")
		return nil, nil
	}

	res, err := d.history.TryReserve(ctx, domain.Reservation{
		Entry: domain.ActionEntry{
			TargetID:   action.TargetID,
			ActionType: action.ActionType,
			DeviceID:   action.DeviceID,
			Timestamp:  now,
			Outcome:    domain.OutcomeReserved,
		},
		Limits: limits,
	})
	if err != nil {
		return nil, err
	}
	d.opts.metrics.ObserveReservation(res.Reserved)

	if res.Reserved {
		d.pass(check, "no duplication detected")
		check.ReservationID = res.EntryID
		return nil, nil
	}

	for i := range evaluated {
		if evaluated[i].rule.ID != res.LostTo {
			continue
		}
		lost := &evaluated[i]
		lost.countForTarget = res.CountForTarget
		lost.countForWindow = res.CountForWindow
		d.setDetails(check, *lost)
		check.RuleID = lost.rule.ID
		check.Result = domain.ResultBlocked
		check.ActionTaken = domain.TakenBlocked
		check.Confidence = ConfidenceRuleFired
		check.FallbackStrategy = lost.rule.Actions.FallbackStrategy
		check.Reason = fmt.Sprintf("limit of rule %q reached by a concurrent action", lost.rule.Name)
		return lost, nil
	}

	// LostTo always names one of the submitted limits.
	return nil, fmt.Errorf("reservation lost to unknown rule %q", res.LostTo)
}

// applyRule maps the firing rule's policy onto the check.
func (d *Detector) applyRule(check *domain.DuplicationCheck, ev *ruleEvaluation, now time.Time) {
	d.setDetails(check, *ev)
	check.RuleID = ev.rule.ID
	check.Reason = ev.reason
	check.Confidence = ConfidenceRuleFired
	check.FallbackStrategy = ev.rule.Actions.FallbackStrategy

	switch ev.rule.Actions.OnDuplicationDetected {
	case domain.OnDuplicationWarn:
		check.Result = domain.ResultWarning
		check.ActionTaken = domain.TakenProceeded
	case domain.OnDuplicationDelay:
		until := now.Add(time.Duration(ev.rule.Actions.DelayMinutes) * time.Minute)
		check.Result = domain.ResultDelayed
		check.ActionTaken = domain.TakenDelayed
		check.DelayUntil = &until
	case domain.OnDuplicationLog:
		check.Result = domain.ResultPass
		check.ActionTaken = domain.TakenProceeded
	default:
		check.Result = domain.ResultBlocked
		check.ActionTaken = domain.TakenBlocked
	}
}

func (d *Detector) setDetails(check *domain.DuplicationCheck, ev ruleEvaluation) {
	ws := ev.windowStart
	check.Details = domain.CheckDetails{
		PreviousActions: ev.previous,
		CountForTarget:  ev.countForTarget,
		CountForWindow:  ev.countForWindow,
		WindowStart:     &ws,
	}
}

func (d *Detector) pass(check *domain.DuplicationCheck, reason string) {
	check.Result = domain.ResultPass
	check.ActionTaken = domain.TakenProceeded
	check.Confidence = ConfidenceCertain
	check.Reason = reason
}

// applyLearningMode downgrades obstructive results to warnings.
func (d *Detector) applyLearningMode(check *domain.DuplicationCheck, cfg domain.DuplicationConfig) {
	if !cfg.LearningMode {
		return
	}
	if check.Result != domain.ResultBlocked && check.Result != domain.ResultDelayed {
		return
	}
	check.Reason = fmt.Sprintf("learning mode, would have been %s: %s", check.Result, check.Reason)
	check.Result = domain.ResultWarning
	check.ActionTaken = domain.TakenProceeded
}

// failClosed blocks the action because the history could not be read.
func (d *Detector) failClosed(
	ctx context.Context,
	check domain.DuplicationCheck,
	cfg domain.DuplicationConfig,
	err error,
) (domain.DuplicationCheck, error) {
	if !errors.Is(err, domain.ErrHistoryStoreUnavailable) {
		err = fmt.Errorf("%w: %w", domain.ErrHistoryStoreUnavailable, err)
	}
	d.logger.Error("Duplication check failed closed",
		zap.String("target", check.TargetID),
		zap.String("device", check.DeviceID),
		zap.Error(err))

	check.Result = domain.ResultBlocked
	check.ActionTaken = domain.TakenBlocked
	check.Confidence = 0
	check.Reason = "cannot verify uniqueness"
	return d.finish(ctx, check, cfg, nil), err
}

func (d *Detector) recordStats(
	ctx context.Context,
	evaluated []ruleEvaluation,
	fired *ruleEvaluation,
	result domain.CheckResult,
) {
	now := d.opts.now()
	for _, ev := range evaluated {
		delta := domain.StatsDelta{Checks: 1}
		if fired != nil && fired.rule.ID == ev.rule.ID {
			delta.Duplications = 1
			delta.TriggeredAt = &now
			if result == domain.ResultBlocked {
				delta.Blocked = 1
			}
		}
		if err := d.rules.RecordStats(ctx, ev.rule.ID, delta); err != nil {
			d.logger.Warn("Failed to record rule stats",
				zap.String("rule", ev.rule.ID),
				zap.Error(err))
		}
	}
}

// finish writes the check and any resulting event to the audit log.
// Audit failures are logged; the verdict stands.
func (d *Detector) finish(
	ctx context.Context,
	check domain.DuplicationCheck,
	cfg domain.DuplicationConfig,
	rule *domain.DuplicationRule,
) domain.DuplicationCheck {
	d.opts.metrics.ObserveCheck(check.Result)

	if err := d.audit.RecordCheck(ctx, check); err != nil {
		d.logger.Warn("Failed to record duplication check",
			zap.String("check", check.ID),
			zap.Error(err))
	}

	if event, ok := d.eventFor(check, rule); ok {
		if err := d.audit.RecordEvent(ctx, event); err != nil {
			d.logger.Warn("Failed to record duplication event",
				zap.String("check", check.ID),
				zap.Error(err))
		}
		d.notify(event, cfg)
	}

	d.logger.Debug("Duplication check",
		zap.String("target", check.TargetID),
		zap.String("device", check.DeviceID),
		zap.String("action", string(check.ActionType)),
		zap.String("result", string(check.Result)),
		zap.String("rule", check.RuleID),
		zap.String("reason", check.Reason))
	return check
}

func (d *Detector) eventFor(check domain.DuplicationCheck, rule *domain.DuplicationRule) (domain.DuplicationEvent, bool) {
	event := domain.DuplicationEvent{
		ID:          d.opts.newID(),
		RuleID:      check.RuleID,
		CheckID:     check.ID,
		TargetID:    check.TargetID,
		DeviceID:    check.DeviceID,
		Description: check.Reason,
		OccurredAt:  check.CheckedAt,
	}
	if rule != nil {
		event.RuleName = rule.Name
	}

	switch check.Result {
	case domain.ResultBlocked:
		event.Type = domain.EventActionBlocked
		event.Impact = domain.ImpactHigh
	case domain.ResultDelayed:
		event.Type = domain.EventCooldownStarted
		event.Impact = domain.ImpactMedium
	case domain.ResultWarning:
		event.Type = domain.EventWarningIssued
		event.Impact = domain.ImpactMedium
	default:
		// A log-only rule fired.
		if rule == nil {
			return domain.DuplicationEvent{}, false
		}
		event.Type = domain.EventRuleTriggered
		event.Impact = domain.ImpactLow
	}
	return event, true
}

// notify logs events the notification policy asks operators to see.
func (d *Detector) notify(event domain.DuplicationEvent, cfg domain.DuplicationConfig) {
	n := cfg.Notifications
	switch {
	case event.Type == domain.EventActionBlocked && n.OnBlock,
		event.Type == domain.EventWarningIssued && n.OnWarning:
		d.logger.Warn("Duplication notification",
			zap.String("event", string(event.Type)),
			zap.String("rule", event.RuleID),
			zap.String("target", event.TargetID),
			zap.String("device", event.DeviceID),
			zap.Strings("channels", n.Channels),
			zap.String("description", event.Description))
	}
}

func formatWindow(w domain.TimeWindow) string {
	return fmt.Sprintf("%d %s", w.Value, w.Unit)
}

// Ensure Detector implements guard.DuplicationChecker and guard.ReservationCanceller.
var (
	_ guard.DuplicationChecker   = (*Detector)(nil)
	_ guard.ReservationCanceller = (*Detector)(nil)
)
