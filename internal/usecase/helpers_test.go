package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/dupguard/internal/domain"
	"github.com/eliteGoblin/dupguard/internal/infra"
	"github.com/eliteGoblin/dupguard/internal/policy"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// mutableConfig is a domain.ConfigProvider tests can change between checks.
type mutableConfig struct {
	mu  sync.Mutex
	cfg domain.DuplicationConfig
}

func (m *mutableConfig) Current() domain.DuplicationConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *mutableConfig) Set(fn func(*domain.DuplicationConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.cfg)
}

// testEnv wires the real stores on a temporary encrypted database.
type testEnv struct {
	clock    *fakeClock
	config   *mutableConfig
	rules    *infra.SQLRuleStore
	history  *infra.SQLHistoryStore
	audit    *infra.SQLAuditLog
	detector *Detector
}

func newTestEnv(t *testing.T, withPresets bool) *testEnv {
	t.Helper()

	key, err := infra.GenerateKey()
	require.NoError(t, err)
	store, err := infra.OpenStore(t.TempDir(), infra.StaticKey(key))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{t: t0}
	config := &mutableConfig{cfg: domain.DefaultDuplicationConfig()}
	groups := infra.NewStaticGroupResolver(config)
	logger := zap.NewNop()

	var presets *policy.Registry
	if withPresets {
		presets = policy.NewRegistry()
	}
	rules, err := infra.NewSQLRuleStore(context.Background(), store.DB(), presets, groups, config, logger)
	require.NoError(t, err)

	history := infra.NewSQLHistoryStore(store.DB(), infra.WithHistoryClock(clock.Now))
	audit := infra.NewSQLAuditLog(store.DB(), logger)

	return &testEnv{
		clock:    clock,
		config:   config,
		rules:    rules,
		history:  history,
		audit:    audit,
		detector: NewDetector(rules, history, audit, config, groups, logger, WithClock(clock.Now)),
	}
}

func (e *testEnv) createRule(t *testing.T, rule domain.DuplicationRule) string {
	t.Helper()
	id, err := e.rules.Create(context.Background(), rule)
	require.NoError(t, err)
	return id
}

// record appends an executed action at the current fake time.
func (e *testEnv) record(t *testing.T, target string, action domain.ActionType, device string) {
	t.Helper()
	require.NoError(t, e.history.Append(context.Background(), domain.ActionEntry{
		TargetID:   target,
		ActionType: action,
		DeviceID:   device,
		Timestamp:  e.clock.Now(),
		Outcome:    domain.OutcomeSuccess,
	}))
}

func followRule(name string, priority, maxPerTarget int) domain.DuplicationRule {
	return domain.DuplicationRule{
		Name:       name,
		Type:       domain.RuleFollow,
		Enabled:    true,
		Priority:   priority,
		TimeWindow: domain.TimeWindow{Value: 24, Unit: domain.UnitHours},
		Conditions: domain.RuleConditions{MaxActionsPerTarget: maxPerTarget},
	}
}

func follow(target, device string) domain.CandidateAction {
	return domain.CandidateAction{
		TargetID:     target,
		TargetType:   "user",
		ActionType:   domain.ActionFollow,
		DeviceID:     device,
		ExecutorMode: domain.ExecutorAPI,
	}
}

// failingHistory fails every read and write.
type failingHistory struct {
	err error
}

func (f failingHistory) Append(context.Context, domain.ActionEntry) error { return f.err }
func (f failingHistory) CountInWindow(context.Context, domain.HistoryQuery) (int, error) {
	return 0, f.err
}
func (f failingHistory) ListInWindow(context.Context, domain.HistoryQuery) ([]domain.ActionEntry, error) {
	return nil, f.err
}
func (f failingHistory) TryReserve(context.Context, domain.Reservation) (domain.ReserveResult, error) {
	return domain.ReserveResult{}, f.err
}
func (f failingHistory) CancelReservation(context.Context, int64) (bool, error) {
	return false, f.err
}
func (f failingHistory) ExpireReservations(context.Context) (int64, error) { return 0, f.err }
func (f failingHistory) PurgeBefore(context.Context, time.Time) (int64, error) {
	return 0, f.err
}

var _ domain.ActionHistoryStore = failingHistory{}
