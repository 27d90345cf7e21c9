package infra

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/dupguard/internal/domain"
	"github.com/eliteGoblin/dupguard/internal/policy"
)

const metaRulesSeeded = "rules_seeded"

// SQLRuleStore implements domain.RuleStore.
// Reads are served from an immutable snapshot replaced after every write.
type SQLRuleStore struct {
	db     *sql.DB
	groups domain.DeviceGroupResolver
	config domain.ConfigProvider
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex // serialises writers
	snapshot atomic.Pointer[[]domain.DuplicationRule]
}

// NewSQLRuleStore loads the rule table, seeding it from presets on first open.
func NewSQLRuleStore(
	ctx context.Context,
	db *sql.DB,
	presets *policy.Registry,
	groups domain.DeviceGroupResolver,
	config domain.ConfigProvider,
	logger *zap.Logger,
) (*SQLRuleStore, error) {
	s := &SQLRuleStore{
		db:     db,
		groups: groups,
		config: config,
		logger: logger,
		now:    time.Now,
	}

	if presets != nil {
		if err := s.seed(ctx, presets); err != nil {
			return nil, err
		}
	}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// seed inserts the built-in presets once per database.
func (s *SQLRuleStore) seed(ctx context.Context, presets *policy.Registry) error {
	seeded, err := metaValue(ctx, s.db, metaRulesSeeded)
	if err != nil {
		return fmt.Errorf("failed to read seed marker: %w", err)
	}
	if seeded != "" {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	for _, rule := range presets.Rules() {
		rule.CreatedAt = now
		rule.UpdatedAt = now
		if err := insertRule(ctx, tx, rule); err != nil {
			return fmt.Errorf("failed to seed rule %s: %w", rule.ID, err)
		}
		s.logger.Info("Seeded preset rule", zap.String("id", rule.ID), zap.String("name", rule.Name))
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		metaRulesSeeded, now.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to write seed marker: %w", err)
	}
	return tx.Commit()
}

// reload replaces the snapshot with the table contents.
func (s *SQLRuleStore) reload(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM rules`)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.DuplicationRule
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("failed to scan rule: %w", err)
		}
		var rule domain.DuplicationRule
		if err := json.Unmarshal([]byte(body), &rule); err != nil {
			return fmt.Errorf("failed to decode rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	policy.SortByPriority(rules)
	s.snapshot.Store(&rules)
	return nil
}

// Create validates and persists a new rule.
func (s *SQLRuleStore) Create(ctx context.Context, rule domain.DuplicationRule) (string, error) {
	rule = policy.ApplyDefaults(rule, s.currentConfig())
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := policy.ValidateRule(rule); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.find(rule.ID); ok {
		return "", &domain.InvalidRuleError{RuleID: rule.ID, Err: errors.New("id already exists")}
	}

	now := s.now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.Stats = domain.RuleStats{}

	if err := insertRule(ctx, s.db, rule); err != nil {
		return "", fmt.Errorf("failed to create rule: %w", err)
	}

	s.replace(func(rules []domain.DuplicationRule) []domain.DuplicationRule {
		return append(rules, rule)
	})
	s.logger.Info("Rule created", zap.String("id", rule.ID), zap.String("name", rule.Name))
	return rule.ID, nil
}

// Update applies a patch and validates the result before writing.
func (s *SQLRuleStore) Update(ctx context.Context, id string, patch domain.RulePatch) (*domain.DuplicationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.find(id)
	if !ok {
		return nil, &domain.RuleNotFoundError{RuleID: id}
	}

	updated := patch.Apply(current)
	updated.ID = id
	if err := policy.ValidateRule(updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.now()

	if err := updateRule(ctx, s.db, updated); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	s.replaceOne(updated)
	return &updated, nil
}

// Delete removes a rule.
func (s *SQLRuleStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.find(id); !ok {
		return &domain.RuleNotFoundError{RuleID: id}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	s.replace(func(rules []domain.DuplicationRule) []domain.DuplicationRule {
		kept := rules[:0]
		for _, r := range rules {
			if r.ID != id {
				kept = append(kept, r)
			}
		}
		return kept
	})
	s.logger.Info("Rule deleted", zap.String("id", id))
	return nil
}

// SetEnabled toggles a rule.
func (s *SQLRuleStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.Update(ctx, id, domain.RulePatch{Enabled: &enabled})
	return err
}

// Get returns a single rule.
func (s *SQLRuleStore) Get(_ context.Context, id string) (*domain.DuplicationRule, error) {
	rule, ok := s.find(id)
	if !ok {
		return nil, &domain.RuleNotFoundError{RuleID: id}
	}
	return &rule, nil
}

// List returns every rule, highest priority first.
func (s *SQLRuleStore) List(_ context.Context) ([]domain.DuplicationRule, error) {
	rules := *s.snapshot.Load()
	out := make([]domain.DuplicationRule, len(rules))
	copy(out, rules)
	return out, nil
}

// FindApplicable returns enabled rules covering the action on the device.
func (s *SQLRuleStore) FindApplicable(_ context.Context, action domain.ActionType, deviceID string) ([]domain.DuplicationRule, error) {
	var out []domain.DuplicationRule
	for _, r := range *s.snapshot.Load() {
		if !r.Enabled || !r.Type.Covers(action) {
			continue
		}
		if !policy.ScopeMatches(r.DeviceScope, deviceID, s.groups) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// RecordStats increments a rule's counters. Unknown ids are ignored since
// the rule may have been deleted while a check was in flight.
func (s *SQLRuleStore) RecordStats(ctx context.Context, id string, delta domain.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.find(id)
	if !ok {
		return nil
	}

	rule.Stats.TotalChecks += delta.Checks
	rule.Stats.DuplicationsDetected += delta.Duplications
	rule.Stats.ActionsBlocked += delta.Blocked
	if delta.TriggeredAt != nil {
		t := *delta.TriggeredAt
		if rule.Stats.LastTriggered == nil || t.After(*rule.Stats.LastTriggered) {
			rule.Stats.LastTriggered = &t
		}
	}

	if err := updateRule(ctx, s.db, rule); err != nil {
		return fmt.Errorf("failed to record stats: %w", err)
	}
	s.replaceOne(rule)
	return nil
}

func (s *SQLRuleStore) find(id string) (domain.DuplicationRule, bool) {
	for _, r := range *s.snapshot.Load() {
		if r.ID == id {
			return r, true
		}
	}
	return domain.DuplicationRule{}, false
}

// replace publishes a new snapshot built from a copy of the current one.
// Callers hold s.mu.
func (s *SQLRuleStore) replace(fn func([]domain.DuplicationRule) []domain.DuplicationRule) {
	current := *s.snapshot.Load()
	next := make([]domain.DuplicationRule, len(current))
	copy(next, current)
	next = fn(next)
	policy.SortByPriority(next)
	s.snapshot.Store(&next)
}

func (s *SQLRuleStore) replaceOne(rule domain.DuplicationRule) {
	s.replace(func(rules []domain.DuplicationRule) []domain.DuplicationRule {
		for i := range rules {
			if rules[i].ID == rule.ID {
				rules[i] = rule
			}
		}
		return rules
	})
}

func (s *SQLRuleStore) currentConfig() domain.DuplicationConfig {
	if s.config == nil {
		return domain.DefaultDuplicationConfig()
	}
	return s.config.Current()
}

func insertRule(ctx context.Context, q querier, rule domain.DuplicationRule) error {
	body, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO rules (id, priority, enabled, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Priority, rule.Enabled, string(body),
		rule.CreatedAt.UnixMilli(), rule.UpdatedAt.UnixMilli())
	return err
}

func updateRule(ctx context.Context, q querier, rule domain.DuplicationRule) error {
	body, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE rules SET priority = ?, enabled = ?, body = ?, updated_at = ? WHERE id = ?`,
		rule.Priority, rule.Enabled, string(body), rule.UpdatedAt.UnixMilli(), rule.ID)
	return err
}

// Ensure SQLRuleStore implements domain.RuleStore.
var _ domain.RuleStore = (*SQLRuleStore)(nil)
