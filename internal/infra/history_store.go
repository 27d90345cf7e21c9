package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// DefaultReservationTTL is how long an unfinalised reservation keeps counting.
const DefaultReservationTTL = 2 * time.Minute

// SQLHistoryStore implements domain.ActionHistoryStore on the shared database.
type SQLHistoryStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time

	// mu serialises TryReserve and Append so a recount and its insert
	// are never interleaved with another writer.
	mu sync.Mutex
}

// HistoryStoreOption configures a SQLHistoryStore.
type HistoryStoreOption func(*SQLHistoryStore)

// WithReservationTTL overrides DefaultReservationTTL.
func WithReservationTTL(ttl time.Duration) HistoryStoreOption {
	return func(s *SQLHistoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithHistoryClock injects the clock (for testing).
func WithHistoryClock(now func() time.Time) HistoryStoreOption {
	return func(s *SQLHistoryStore) { s.now = now }
}

// NewSQLHistoryStore creates a history store over db.
func NewSQLHistoryStore(db *sql.DB, opts ...HistoryStoreOption) *SQLHistoryStore {
	s := &SQLHistoryStore{
		db:  db,
		ttl: DefaultReservationTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records an executed action, finalising a live reservation if one matches.
func (s *SQLHistoryStore) Append(ctx context.Context, entry domain.ActionEntry) error {
	if entry.Outcome == "" {
		entry.Outcome = domain.OutcomeSuccess
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin append", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM action_history
		WHERE target_id = ? AND action_type = ? AND device_id = ?
		  AND outcome = ? AND reserved_at >= ?
		ORDER BY ts ASC, id ASC LIMIT 1`,
		entry.TargetID, string(entry.ActionType), entry.DeviceID,
		string(domain.OutcomeReserved), s.liveCutoff(),
	).Scan(&id)

	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, `UPDATE action_history SET outcome = ?, ts = ? WHERE id = ?`,
			string(entry.Outcome), entry.Timestamp.UnixMilli(), id)
		if err != nil {
			return unavailable("finalise reservation", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO action_history (target_id, action_type, device_id, ts, outcome)
			VALUES (?, ?, ?, ?, ?)`,
			entry.TargetID, string(entry.ActionType), entry.DeviceID,
			entry.Timestamp.UnixMilli(), string(entry.Outcome))
		if err != nil {
			return unavailable("append action", err)
		}
	default:
		return unavailable("look up reservation", err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit append", err)
	}
	return nil
}

// CountInWindow counts counted entries matching q.
func (s *SQLHistoryStore) CountInWindow(ctx context.Context, q domain.HistoryQuery) (int, error) {
	n, err := s.count(ctx, s.db, q)
	if err != nil {
		return 0, unavailable("count history", err)
	}
	return n, nil
}

// ListInWindow returns counted entries matching q, oldest first.
func (s *SQLHistoryStore) ListInWindow(ctx context.Context, q domain.HistoryQuery) ([]domain.ActionEntry, error) {
	where, args := s.where(q)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_id, action_type, device_id, ts, outcome
		FROM action_history WHERE `+where+`
		ORDER BY ts ASC, id ASC`, args...)
	if err != nil {
		return nil, unavailable("list history", err)
	}
	defer rows.Close()

	var entries []domain.ActionEntry
	for rows.Next() {
		var (
			e          domain.ActionEntry
			actionType string
			outcome    string
			ts         int64
		)
		if err := rows.Scan(&e.ID, &e.TargetID, &actionType, &e.DeviceID, &ts, &outcome); err != nil {
			return nil, unavailable("scan history", err)
		}
		e.ActionType = domain.ActionType(actionType)
		e.Outcome = domain.Outcome(outcome)
		e.Timestamp = time.UnixMilli(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate history", err)
	}
	return entries, nil
}

// TryReserve recounts every limit inside one transaction and inserts a
// reserved entry only if all of them still hold.
func (s *SQLHistoryStore) TryReserve(ctx context.Context, r domain.Reservation) (domain.ReserveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReserveResult{}, unavailable("begin reserve", err)
	}
	defer tx.Rollback()

	var result domain.ReserveResult
	for i, limit := range r.Limits {
		q := domain.HistoryQuery{
			ActionTypes: limit.ActionTypes,
			Devices:     limit.Devices,
			Since:       limit.Since,
		}
		windowCount, err := s.count(ctx, tx, q)
		if err != nil {
			return domain.ReserveResult{}, unavailable("recount window", err)
		}
		q.TargetID = r.Entry.TargetID
		targetCount, err := s.count(ctx, tx, q)
		if err != nil {
			return domain.ReserveResult{}, unavailable("recount target", err)
		}

		if i == 0 {
			result.CountForTarget = targetCount
			result.CountForWindow = windowCount
		}
		exhausted := limit.MaxPerTarget <= 0 ||
			targetCount >= limit.MaxPerTarget ||
			(limit.MaxPerWindow > 0 && windowCount >= limit.MaxPerWindow)
		if exhausted {
			return domain.ReserveResult{
				LostTo:         limit.RuleID,
				CountForTarget: targetCount,
				CountForWindow: windowCount,
			}, nil
		}
	}

	ts := r.Entry.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	inserted, err := tx.ExecContext(ctx, `
		INSERT INTO action_history (target_id, action_type, device_id, ts, outcome, reserved_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.Entry.TargetID, string(r.Entry.ActionType), r.Entry.DeviceID,
		ts.UnixMilli(), string(domain.OutcomeReserved), s.now().UnixMilli())
	if err != nil {
		return domain.ReserveResult{}, unavailable("insert reservation", err)
	}
	id, err := inserted.LastInsertId()
	if err != nil {
		return domain.ReserveResult{}, unavailable("read reservation id", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.ReserveResult{}, unavailable("commit reservation", err)
	}

	result.Reserved = true
	result.EntryID = id
	return result, nil
}

// CancelReservation cancels the reservation with the given ledger id if it
// has not been finalised yet.
func (s *SQLHistoryStore) CancelReservation(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE action_history SET outcome = ?
		WHERE id = ? AND outcome = ?`,
		string(domain.OutcomeCancelled), id, string(domain.OutcomeReserved))
	if err != nil {
		return false, unavailable("cancel reservation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("cancel reservation", err)
	}
	return n > 0, nil
}

// ExpireReservations cancels reservations older than the TTL.
func (s *SQLHistoryStore) ExpireReservations(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE action_history SET outcome = ?
		WHERE outcome = ? AND reserved_at < ?`,
		string(domain.OutcomeCancelled), string(domain.OutcomeReserved), s.liveCutoff())
	if err != nil {
		return 0, fmt.Errorf("failed to expire reservations: %w", err)
	}
	return res.RowsAffected()
}

// PurgeBefore deletes finalised entries older than t.
func (s *SQLHistoryStore) PurgeBefore(ctx context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM action_history WHERE ts < ? AND outcome != ?`,
		t.UnixMilli(), string(domain.OutcomeReserved))
	if err != nil {
		return 0, fmt.Errorf("failed to purge history: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLHistoryStore) count(ctx context.Context, q querier, hq domain.HistoryQuery) (int, error) {
	where, args := s.where(hq)
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM action_history WHERE `+where, args...).Scan(&n)
	return n, err
}

// where builds the filter for counted entries.
func (s *SQLHistoryStore) where(q domain.HistoryQuery) (string, []any) {
	clauses := []string{
		"ts >= ?",
		"(outcome IN (?, ?) OR (outcome = ? AND reserved_at >= ?))",
	}
	args := []any{
		q.Since.UnixMilli(),
		string(domain.OutcomeSuccess), string(domain.OutcomeFailed),
		string(domain.OutcomeReserved), s.liveCutoff(),
	}

	if q.TargetID != "" {
		clauses = append(clauses, "target_id = ?")
		args = append(args, q.TargetID)
	}
	if len(q.ActionTypes) > 0 {
		clauses = append(clauses, "action_type IN ("+inClause(len(q.ActionTypes))+")")
		for _, at := range q.ActionTypes {
			args = append(args, string(at))
		}
	}
	if q.Devices != nil {
		if len(q.Devices) == 0 {
			clauses = append(clauses, "1 = 0")
		} else {
			clauses = append(clauses, "device_id IN ("+inClause(len(q.Devices))+")")
			for _, d := range q.Devices {
				args = append(args, d)
			}
		}
	}
	return strings.Join(clauses, " AND "), args
}

func (s *SQLHistoryStore) liveCutoff() int64 {
	return s.now().Add(-s.ttl).UnixMilli()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, domain.ErrHistoryStoreUnavailable, err)
}

// Ensure SQLHistoryStore implements domain.ActionHistoryStore.
var _ domain.ActionHistoryStore = (*SQLHistoryStore)(nil)
