package infra

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/dupguard/internal/domain"
	"github.com/eliteGoblin/dupguard/internal/policy"
)

const (
	// MaxHistoryActions is how many actions a target rollup keeps.
	MaxHistoryActions = 200

	defaultPageSize = 50
	maxPageSize     = 500
)

// SQLAuditLog implements domain.AuditLog on the shared database.
type SQLAuditLog struct {
	db     *sql.DB
	risk   policy.RiskConfig
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex // serialises rollup read-modify-write
}

// historyRecord is the persisted rollup plus the state needed to recompute it.
type historyRecord struct {
	domain.DuplicationHistory
	Devices []string `json:"devices"`
	Blocked int      `json:"blocked"`
}

// NewSQLAuditLog creates an audit log over db.
func NewSQLAuditLog(db *sql.DB, logger *zap.Logger) *SQLAuditLog {
	return &SQLAuditLog{
		db:     db,
		risk:   policy.DefaultRiskConfig(),
		logger: logger,
		now:    time.Now,
	}
}

// RecordCheck stores a check and folds it into the target rollup.
func (a *SQLAuditLog) RecordCheck(ctx context.Context, check domain.DuplicationCheck) error {
	body, err := json.Marshal(check)
	if err != nil {
		return fmt.Errorf("failed to encode check: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin check record: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checks (id, rule_id, target_id, device_id, action_type, result, checked_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		check.ID, check.RuleID, check.TargetID, check.DeviceID, string(check.ActionType),
		string(check.Result), check.CheckedAt.UnixMilli(), string(body))
	if err != nil {
		return fmt.Errorf("failed to insert check: %w", err)
	}

	err = a.fold(ctx, tx, check.TargetID, func(rec *historyRecord) {
		if rec.TargetInfo == "" {
			rec.TargetInfo = check.TargetType
		}
		rec.Actions = append(rec.Actions, domain.HistoryAction{
			Type:      check.ActionType,
			DeviceID:  check.DeviceID,
			Timestamp: check.CheckedAt,
			Result:    check.Result,
		})
		if check.Result == domain.ResultBlocked {
			rec.Blocked++
		}
		rec.addDevice(check.DeviceID)
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// RecordAction folds an executed action into the target rollup.
// The outcome is attached to the newest open check for the same action and device.
func (a *SQLAuditLog) RecordAction(ctx context.Context, entry domain.ActionEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin action record: %w", err)
	}
	defer tx.Rollback()

	err = a.fold(ctx, tx, entry.TargetID, func(rec *historyRecord) {
		matched := false
		for i := len(rec.Actions) - 1; i >= 0; i-- {
			act := &rec.Actions[i]
			if act.Type == entry.ActionType && act.DeviceID == entry.DeviceID &&
				act.Outcome == "" && act.Result != domain.ResultBlocked {
				act.Outcome = entry.Outcome
				act.Timestamp = entry.Timestamp
				matched = true
				break
			}
		}
		if !matched {
			rec.Actions = append(rec.Actions, domain.HistoryAction{
				Type:      entry.ActionType,
				DeviceID:  entry.DeviceID,
				Timestamp: entry.Timestamp,
				Outcome:   entry.Outcome,
			})
		}
		if entry.Outcome == domain.OutcomeSuccess || entry.Outcome == domain.OutcomeFailed {
			rec.TotalActions++
		}
		rec.addDevice(entry.DeviceID)
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// fold loads the rollup of a target, applies fn, recomputes derived
// fields and writes it back inside tx.
func (a *SQLAuditLog) fold(ctx context.Context, tx *sql.Tx, targetID string, fn func(*historyRecord)) error {
	rec, err := loadHistory(ctx, tx, targetID)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &historyRecord{DuplicationHistory: domain.DuplicationHistory{TargetID: targetID}}
	}

	fn(rec)

	sort.SliceStable(rec.Actions, func(i, j int) bool {
		return rec.Actions[i].Timestamp.Before(rec.Actions[j].Timestamp)
	})
	if len(rec.Actions) > MaxHistoryActions {
		rec.Actions = rec.Actions[len(rec.Actions)-MaxHistoryActions:]
	}
	rec.UniqueDevices = len(rec.Devices)
	if len(rec.Actions) > 0 {
		if rec.FirstAction.IsZero() || rec.Actions[0].Timestamp.Before(rec.FirstAction) {
			rec.FirstAction = rec.Actions[0].Timestamp
		}
		rec.LastAction = rec.Actions[len(rec.Actions)-1].Timestamp
	}
	rec.RiskLevel, rec.RiskFactors = policy.AssessRisk(a.risk, rec.DuplicationHistory, rec.Blocked, a.now())

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO target_history (target_id, last_action, body) VALUES (?, ?, ?)
		ON CONFLICT(target_id) DO UPDATE SET last_action = excluded.last_action, body = excluded.body`,
		targetID, rec.LastAction.UnixMilli(), string(body))
	if err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

func (r *historyRecord) addDevice(deviceID string) {
	if deviceID == "" {
		return
	}
	for _, d := range r.Devices {
		if d == deviceID {
			return
		}
	}
	r.Devices = append(r.Devices, deviceID)
}

func loadHistory(ctx context.Context, q querier, targetID string) (*historyRecord, error) {
	var body string
	err := q.QueryRowContext(ctx, `SELECT body FROM target_history WHERE target_id = ?`, targetID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	var rec historyRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return &rec, nil
}

// History returns the rollup for a target, or nil if none exists.
func (a *SQLAuditLog) History(ctx context.Context, targetID string) (*domain.DuplicationHistory, error) {
	rec, err := loadHistory(ctx, a.db, targetID)
	if err != nil || rec == nil {
		return nil, err
	}
	// Risk decays with time, so recompute on read.
	rec.RiskLevel, rec.RiskFactors = policy.AssessRisk(a.risk, rec.DuplicationHistory, rec.Blocked, a.now())
	return &rec.DuplicationHistory, nil
}

// RecordEvent stores an event.
func (a *SQLAuditLog) RecordEvent(ctx context.Context, event domain.DuplicationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO events (id, type, rule_id, target_id, device_id, resolved, occurred_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), event.RuleID, event.TargetID, event.DeviceID,
		event.Resolution != nil, event.OccurredAt.UnixMilli(), string(body))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ResolveEvent attaches an operator resolution to an event.
func (a *SQLAuditLog) ResolveEvent(ctx context.Context, id string, resolution domain.EventResolution) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin resolve: %w", err)
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx, `SELECT body FROM events WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrEventNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read event: %w", err)
	}

	var event domain.DuplicationEvent
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}
	if resolution.ResolvedAt.IsZero() {
		resolution.ResolvedAt = a.now()
	}
	event.Resolution = &resolution

	updated, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE events SET resolved = 1, body = ? WHERE id = ?`, string(updated), id); err != nil {
		return fmt.Errorf("failed to resolve event: %w", err)
	}
	return tx.Commit()
}

// ListChecks returns matching checks newest first plus the total match count.
func (a *SQLAuditLog) ListChecks(ctx context.Context, f domain.CheckFilter) ([]domain.DuplicationCheck, int, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		clauses = append(clauses, clause)
		args = append(args, v)
	}
	if f.RuleID != "" {
		add("rule_id = ?", f.RuleID)
	}
	if f.TargetID != "" {
		add("target_id = ?", f.TargetID)
	}
	if f.DeviceID != "" {
		add("device_id = ?", f.DeviceID)
	}
	if f.ActionType != "" {
		add("action_type = ?", string(f.ActionType))
	}
	if f.Result != "" {
		add("result = ?", string(f.Result))
	}
	if !f.Since.IsZero() {
		add("checked_at >= ?", f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		add("checked_at < ?", f.Until.UnixMilli())
	}

	var checks []domain.DuplicationCheck
	total, err := a.list(ctx, "checks", "checked_at", clauses, args, f.Page, func(body []byte) error {
		var c domain.DuplicationCheck
		if err := json.Unmarshal(body, &c); err != nil {
			return err
		}
		checks = append(checks, c)
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list checks: %w", err)
	}
	return checks, total, nil
}

// ListEvents returns matching events newest first plus the total match count.
func (a *SQLAuditLog) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.DuplicationEvent, int, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		clauses = append(clauses, clause)
		args = append(args, v)
	}
	if f.RuleID != "" {
		add("rule_id = ?", f.RuleID)
	}
	if f.TargetID != "" {
		add("target_id = ?", f.TargetID)
	}
	if f.Type != "" {
		add("type = ?", string(f.Type))
	}
	if f.Unresolved {
		add("resolved = ?", false)
	}
	if !f.Since.IsZero() {
		add("occurred_at >= ?", f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		add("occurred_at < ?", f.Until.UnixMilli())
	}

	var events []domain.DuplicationEvent
	total, err := a.list(ctx, "events", "occurred_at", clauses, args, f.Page, func(body []byte) error {
		var e domain.DuplicationEvent
		if err := json.Unmarshal(body, &e); err != nil {
			return err
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	return events, total, nil
}

// list runs a paginated body query over table ordered by tsColumn descending.
func (a *SQLAuditLog) list(
	ctx context.Context,
	table, tsColumn string,
	clauses []string,
	args []any,
	page domain.Page,
	scan func([]byte) error,
) (int, error) {
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+where, args...).Scan(&total); err != nil {
		return 0, err
	}

	limit, offset := pageBounds(page)
	rows, err := a.db.QueryContext(ctx,
		`SELECT body FROM `+table+where+` ORDER BY `+tsColumn+` DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return 0, err
		}
		if err := scan([]byte(body)); err != nil {
			return 0, err
		}
	}
	return total, rows.Err()
}

// pageBounds converts a 1-based page to LIMIT/OFFSET.
func pageBounds(p domain.Page) (limit, offset int) {
	size := p.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	page := p.Page
	if page < 1 {
		page = 1
	}
	return size, (page - 1) * size
}

// PurgeTarget removes all audit data about a target.
func (a *SQLAuditLog) PurgeTarget(ctx context.Context, targetID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin purge: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM checks WHERE target_id = ?`,
		`DELETE FROM events WHERE target_id = ?`,
		`DELETE FROM target_history WHERE target_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, targetID); err != nil {
			return fmt.Errorf("failed to purge target: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}
	a.logger.Info("Purged target audit data", zap.String("target", targetID))
	return nil
}

// PurgeBefore drops checks and events older than t.
func (a *SQLAuditLog) PurgeBefore(ctx context.Context, t time.Time) (int64, error) {
	var total int64
	for _, stmt := range []string{
		`DELETE FROM checks WHERE checked_at < ?`,
		`DELETE FROM events WHERE occurred_at < ?`,
	} {
		res, err := a.db.ExecContext(ctx, stmt, t.UnixMilli())
		if err != nil {
			return total, fmt.Errorf("failed to purge audit log: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Ensure SQLAuditLog implements domain.AuditLog.
var _ domain.AuditLog = (*SQLAuditLog)(nil)
