package policy

import (
	"time"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// Risk factor names reported on a target's history.
const (
	FactorHighFrequency  = "high_frequency"
	FactorMultiDevice    = "multi_device"
	FactorRepeatedBlocks = "repeated_blocks"
	FactorRecentBurst    = "recent_burst"
)

// RiskConfig holds the thresholds of each risk factor.
type RiskConfig struct {
	FrequencyWindow    time.Duration
	FrequencyThreshold int
	DeviceThreshold    int
	BlockThreshold     int
	BurstWindow        time.Duration
	BurstThreshold     int
}

// DefaultRiskConfig returns the standard thresholds.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		FrequencyWindow:    24 * time.Hour,
		FrequencyThreshold: 5,
		DeviceThreshold:    3,
		BlockThreshold:     2,
		BurstWindow:        10 * time.Minute,
		BurstThreshold:     3,
	}
}

// AssessRisk derives the risk factors and level of a target.
// Only executed actions (success or failed) count towards frequency and burst.
func AssessRisk(cfg RiskConfig, h domain.DuplicationHistory, blocked int, now time.Time) (domain.RiskLevel, []string) {
	var executed []time.Time
	for _, a := range h.Actions {
		if a.Outcome == domain.OutcomeSuccess || a.Outcome == domain.OutcomeFailed {
			executed = append(executed, a.Timestamp)
		}
	}

	factors := []string{}

	recent := 0
	for _, ts := range executed {
		if !ts.Before(now.Add(-cfg.FrequencyWindow)) {
			recent++
		}
	}
	if recent >= cfg.FrequencyThreshold {
		factors = append(factors, FactorHighFrequency)
	}
	if h.UniqueDevices >= cfg.DeviceThreshold {
		factors = append(factors, FactorMultiDevice)
	}
	if blocked >= cfg.BlockThreshold {
		factors = append(factors, FactorRepeatedBlocks)
	}
	if hasBurst(executed, cfg.BurstWindow, cfg.BurstThreshold) {
		factors = append(factors, FactorRecentBurst)
	}

	return riskLevel(len(factors)), factors
}

// hasBurst reports whether any n timestamps fall within one window.
// Timestamps are in insertion order, which is chronological for the rollup.
func hasBurst(ts []time.Time, window time.Duration, n int) bool {
	if n <= 0 || len(ts) < n {
		return false
	}
	for i := n - 1; i < len(ts); i++ {
		if ts[i].Sub(ts[i-n+1]) <= window {
			return true
		}
	}
	return false
}

func riskLevel(factors int) domain.RiskLevel {
	switch {
	case factors >= 3:
		return domain.RiskCritical
	case factors == 2:
		return domain.RiskHigh
	case factors == 1:
		return domain.RiskMedium
	}
	return domain.RiskLow
}
