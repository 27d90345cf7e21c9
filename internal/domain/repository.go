package domain

import (
	"context"
	"time"
)

// RuleStore holds DuplicationRule definitions.
// Implementation: encrypted SQLite table with a copy-on-write read snapshot.
type RuleStore interface {
	// Create validates and persists a rule, returning its id.
	Create(ctx context.Context, rule DuplicationRule) (string, error)

	// Update applies a patch. The patched rule is validated before writing.
	Update(ctx context.Context, id string, patch RulePatch) (*DuplicationRule, error)

	// Delete removes a rule.
	Delete(ctx context.Context, id string) error

	// SetEnabled toggles a rule.
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// Get returns a single rule.
	Get(ctx context.Context, id string) (*DuplicationRule, error)

	// List returns every rule, highest priority first.
	List(ctx context.Context) ([]DuplicationRule, error)

	// FindApplicable returns enabled rules covering the action type whose
	// device scope matches deviceID, sorted by priority descending.
	FindApplicable(ctx context.Context, action ActionType, deviceID string) ([]DuplicationRule, error)

	// RecordStats increments a rule's counters.
	RecordStats(ctx context.Context, id string, delta StatsDelta) error
}

// HistoryQuery selects ledger entries.
type HistoryQuery struct {
	TargetID    string       // empty selects every target
	ActionTypes []ActionType // empty selects every action type
	Devices     []string     // nil selects every device; empty non-nil selects none
	Since       time.Time
}

// ReservationLimit is one rule's thresholds re-checked atomically on reserve.
type ReservationLimit struct {
	RuleID       string
	ActionTypes  []ActionType
	Devices      []string // nil means every device
	Since        time.Time
	MaxPerTarget int
	MaxPerWindow int // 0 disables the window cap
}

// Reservation asks for a slot for entry under every limit.
type Reservation struct {
	Entry  ActionEntry
	Limits []ReservationLimit
}

// ReserveResult reports the outcome of TryReserve.
type ReserveResult struct {
	Reserved       bool
	EntryID        int64  // ledger row of the reservation when Reserved
	LostTo         string // rule id whose limit was exhausted
	CountForTarget int
	CountForWindow int
}

// ActionHistoryStore is the append-only ledger of past actions.
// Safe for concurrent use by many executors.
type ActionHistoryStore interface {
	// Append records an action. An entry matching a live reservation
	// (same target, action type and device) finalises that reservation.
	Append(ctx context.Context, entry ActionEntry) error

	// CountInWindow counts counted entries. Computed on every call.
	CountInWindow(ctx context.Context, q HistoryQuery) (int, error)

	// ListInWindow returns counted entries, oldest first.
	ListInWindow(ctx context.Context, q HistoryQuery) ([]ActionEntry, error)

	// TryReserve atomically recounts every limit and, only if all hold,
	// inserts a reserved entry. Exactly one of N racing callers wins the
	// last free slot.
	TryReserve(ctx context.Context, r Reservation) (ReserveResult, error)

	// CancelReservation cancels a live reservation by ledger id. It reports
	// false when the row was already finalised or expired.
	CancelReservation(ctx context.Context, id int64) (bool, error)

	// ExpireReservations cancels reservations older than the reservation TTL.
	ExpireReservations(ctx context.Context) (int64, error)

	// PurgeBefore deletes entries older than t.
	PurgeBefore(ctx context.Context, t time.Time) (int64, error)
}

// Page selects a slice of a listing. Page is 1-based.
type Page struct {
	Page     int `json:"page" form:"page"`
	PageSize int `json:"pageSize" form:"pageSize"`
}

// CheckFilter selects DuplicationCheck records.
type CheckFilter struct {
	RuleID     string
	TargetID   string
	DeviceID   string
	ActionType ActionType
	Result     CheckResult
	Since      time.Time
	Until      time.Time
	Page
}

// EventFilter selects DuplicationEvent records.
type EventFilter struct {
	RuleID     string
	TargetID   string
	Type       EventType
	Unresolved bool
	Since      time.Time
	Until      time.Time
	Page
}

// AuditLog records checks, events and per-target history.
type AuditLog interface {
	RecordCheck(ctx context.Context, check DuplicationCheck) error
	RecordEvent(ctx context.Context, event DuplicationEvent) error
	ResolveEvent(ctx context.Context, id string, resolution EventResolution) error

	// ListChecks returns matching checks newest first plus the total match count.
	ListChecks(ctx context.Context, f CheckFilter) ([]DuplicationCheck, int, error)
	ListEvents(ctx context.Context, f EventFilter) ([]DuplicationEvent, int, error)

	// History returns the rollup for a target, or nil if none exists.
	History(ctx context.Context, targetID string) (*DuplicationHistory, error)

	// RecordAction folds an executed action into the target rollup.
	RecordAction(ctx context.Context, entry ActionEntry) error

	// PurgeTarget removes all audit data about a target.
	PurgeTarget(ctx context.Context, targetID string) error

	// PurgeBefore drops checks and events older than t.
	PurgeBefore(ctx context.Context, t time.Time) (int64, error)
}

// DeviceGroupResolver resolves device groups (owned by device management).
type DeviceGroupResolver interface {
	// DevicesInGroup returns the devices belonging to a group.
	DevicesInGroup(group string) []string

	// InGroup reports whether a device belongs to a group.
	InGroup(deviceID, group string) bool
}

// RateLimitProvider is a token-bucket or sliding-window counter keyed by account.
type RateLimitProvider interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (RateDecision, error)
}

// RateLimitRefunder is implemented by providers that can give back an
// allowance granted by Allow.
type RateLimitRefunder interface {
	Refund(ctx context.Context, key string, decision RateDecision) error
}

// Matcher finds disallowed terms in text.
type Matcher interface {
	// Match returns the first disallowed term found.
	Match(text string) (term string, found bool)
}

// ConfigProvider returns the current DuplicationConfig snapshot.
// Callers must not cache the result across evaluations.
type ConfigProvider interface {
	Current() DuplicationConfig
}
