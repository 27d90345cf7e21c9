package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DUPGUARD_DATA_DIR", dir)
	t.Setenv("DUPGUARD_POLICY_FILE", "")

	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)

	cfg, err := parse()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, PolicyFileName), cfg.PolicyFile)
	assert.Equal(t, "127.0.0.1:8390", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Second, cfg.PrecheckTimeout)
	assert.Equal(t, 2*time.Minute, cfg.ReservationTTL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFrom_EnvFileOverlay(t *testing.T) {
	// Registered so the overlay is undone after the test.
	t.Setenv("DUPGUARD_DATA_DIR", t.TempDir())
	t.Setenv("DUPGUARD_HTTP_ADDR", "")
	t.Setenv("DUPGUARD_PRECHECK_TIMEOUT", "")

	envfile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envfile, []byte(
		"DUPGUARD_HTTP_ADDR=0.0.0.0:9000\nDUPGUARD_PRECHECK_TIMEOUT=750ms\n"), 0600))

	cfg, err := LoadFrom(envfile)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.HTTPAddr)
	assert.Equal(t, 750*time.Millisecond, cfg.PrecheckTimeout)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{
		HTTPAddr:         "",
		PrecheckTimeout:  0,
		RateLimitTimeout: time.Second,
		ReservationTTL:   time.Minute,
		JanitorInterval:  time.Minute,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DUPGUARD_HTTP_ADDR")
	assert.Contains(t, err.Error(), "DUPGUARD_PRECHECK_TIMEOUT")
}

func TestConfig_ValidateDBKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"unset uses key file", "", false},
		{"64 hex characters", strings.Repeat("0f", 32), false},
		{"too short", "0f0f", true},
		{"not hex", strings.Repeat("xy", 32), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				HTTPAddr:         "127.0.0.1:0",
				DBKey:            tt.key,
				PrecheckTimeout:  time.Second,
				RateLimitTimeout: time.Second,
				ReservationTTL:   time.Minute,
				JanitorInterval:  time.Minute,
			}
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorContains(t, err, "DUPGUARD_DB_KEY")
				return
			}
			assert.NoError(t, err)
		})
	}
}

const samplePolicy = `
enabled: true
learningMode: true
globalMaxPerHour: 120
defaultTimeWindow:
  value: 12
  unit: hours
rateLimit:
  perMinute: 10
  burst: 2
sensitiveWords: [giveaway, crypto]
deviceGroups:
  eu: [dev1, dev2]
accounts:
  dev1: acct_1
`

func newTestHolder(t *testing.T) (*Holder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), PolicyFileName)
	h, err := NewHolder(path, zap.NewNop())
	require.NoError(t, err)
	return h, path
}

func TestHolder_MissingFileUsesDefaults(t *testing.T) {
	h, _ := newTestHolder(t)
	assert.Equal(t, domain.DefaultDuplicationConfig(), h.Current())

	changed, err := h.Reload()
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestHolder_Reload(t *testing.T) {
	h, path := newTestHolder(t)
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0600))

	changed, err := h.Reload()
	require.NoError(t, err)
	assert.True(t, changed)

	cfg := h.Current()
	assert.True(t, cfg.LearningMode)
	assert.Equal(t, 120, cfg.GlobalMaxPerHour)
	assert.Equal(t, domain.TimeWindow{Value: 12, Unit: domain.UnitHours}, cfg.DefaultTimeWindow)
	assert.Equal(t, []string{"giveaway", "crypto"}, cfg.SensitiveWords)
	assert.Equal(t, "acct_1", cfg.Accounts["dev1"])
	// Keys absent from the file keep their defaults.
	assert.Equal(t, 30, cfg.DataRetention.HistoryDays)
}

func TestHolder_ReloadIsIdempotent(t *testing.T) {
	h, path := newTestHolder(t)
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0600))
	_, err := h.Reload()
	require.NoError(t, err)
	before := h.current.Load()

	for i := 0; i < 3; i++ {
		changed, err := h.Reload()
		require.NoError(t, err)
		assert.False(t, changed)
	}
	assert.Same(t, before, h.current.Load())
}

func TestHolder_InvalidReloadKeepsPrevious(t *testing.T) {
	h, path := newTestHolder(t)
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0600))
	_, err := h.Reload()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("globalMaxPerHour: -1\ndataRetention:\n  exportFormat: pdf\n"), 0600))
	_, err = h.Reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "globalMaxPerHour")
	assert.Contains(t, err.Error(), "pdf")
	assert.Equal(t, 120, h.Current().GlobalMaxPerHour)

	require.NoError(t, os.WriteFile(path, []byte("enabled: [oops"), 0600))
	_, err = h.Reload()
	require.Error(t, err)
	assert.True(t, h.Current().LearningMode)
}

func TestHolder_Update(t *testing.T) {
	h, path := newTestHolder(t)

	cfg := domain.DefaultDuplicationConfig()
	cfg.EmergencyStop = true
	cfg.Notifications.Channels = []string{"ops"}
	require.NoError(t, h.Update(cfg))
	assert.True(t, h.Current().EmergencyStop)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)

	changed, err := h.Reload()
	require.NoError(t, err)
	assert.False(t, changed, "reloading what Update wrote is a no-op")

	bad := cfg
	bad.RateLimit.PerMinute = -5
	require.Error(t, h.Update(bad))
	assert.Equal(t, cfg, h.Current())
}

func TestHolder_Watch(t *testing.T) {
	h, path := newTestHolder(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Watch(ctx) }()

	// The watcher registers asynchronously; keep rewriting until it is seen.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(samplePolicy), 0600)
		return h.Current().LearningMode
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
