package infra

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// newTestStore opens an encrypted store in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)

	store, err := OpenStore(t.TempDir(), StaticKey(key))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// fakeClock is a settable clock shared by the stores under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
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

// staticConfig is a fixed domain.ConfigProvider.
type staticConfig struct {
	cfg domain.DuplicationConfig
}

func (s staticConfig) Current() domain.DuplicationConfig {
	return s.cfg
}

func configWithGroups(groups map[string][]string) staticConfig {
	cfg := domain.DefaultDuplicationConfig()
	cfg.DeviceGroups = groups
	return staticConfig{cfg: cfg}
}

// mockProcessInspector is a test double for domain.ProcessInspector.
type mockProcessInspector struct {
	runningPIDs map[int]bool
	cpu         float64
	rss         uint64
}

func newMockProcessInspector() *mockProcessInspector {
	return &mockProcessInspector{runningPIDs: make(map[int]bool)}
}

func (m *mockProcessInspector) IsRunning(pid int) bool {
	return m.runningPIDs[pid]
}

func (m *mockProcessInspector) Usage(pid int) (float64, uint64, error) {
	return m.cpu, m.rss, nil
}

func (m *mockProcessInspector) GetCurrentPID() int {
	return 4242
}

func (m *mockProcessInspector) SetRunning(pid int, running bool) {
	m.runningPIDs[pid] = running
}

var _ domain.ProcessInspector = (*mockProcessInspector)(nil)
