package domain

import "time"

// ExportFormat selects the check export encoding.
type ExportFormat string

const (
	ExportJSON  ExportFormat = "json"
	ExportCSV   ExportFormat = "csv"
	ExportExcel ExportFormat = "excel"
)

// Valid reports whether the format is supported.
func (f ExportFormat) Valid() bool {
	return f == ExportJSON || f == ExportCSV || f == ExportExcel
}

// NotificationPolicy controls operator notifications.
type NotificationPolicy struct {
	OnBlock   bool     `json:"onBlock" yaml:"onBlock"`
	OnWarning bool     `json:"onWarning" yaml:"onWarning"`
	Channels  []string `json:"channels,omitempty" yaml:"channels,omitempty"`
}

// DataRetention controls how long audit data is kept and how it is exported.
type DataRetention struct {
	HistoryDays  int          `json:"historyDays" yaml:"historyDays"`
	LogLevel     string       `json:"logLevel" yaml:"logLevel"`
	ExportFormat ExportFormat `json:"exportFormat" yaml:"exportFormat"`
}

// DuplicationConfig holds process-wide tunables.
// Loaded at startup, replaced atomically by operator actions.
type DuplicationConfig struct {
	Enabled           bool                `json:"enabled" yaml:"enabled"`
	DefaultTimeWindow TimeWindow          `json:"defaultTimeWindow" yaml:"defaultTimeWindow"`
	GlobalMaxPerHour  int                 `json:"globalMaxPerHour" yaml:"globalMaxPerHour"` // 0 disables
	EmergencyStop     bool                `json:"emergencyStop" yaml:"emergencyStop"`
	LearningMode      bool                `json:"learningMode" yaml:"learningMode"`
	Notifications     NotificationPolicy  `json:"notifications" yaml:"notifications"`
	DataRetention     DataRetention       `json:"dataRetention" yaml:"dataRetention"`
	RateLimit         RateLimitPolicy     `json:"rateLimit" yaml:"rateLimit"`
	SensitiveWords    []string            `json:"sensitiveWords,omitempty" yaml:"sensitiveWords,omitempty"`
	CaseInsensitive   bool                `json:"caseInsensitiveWords,omitempty" yaml:"caseInsensitiveWords,omitempty"`
	DeviceGroups      map[string][]string `json:"deviceGroups,omitempty" yaml:"deviceGroups,omitempty"`
	Accounts          map[string]string   `json:"accounts,omitempty" yaml:"accounts,omitempty"` // deviceId -> accountId
}

// DefaultDuplicationConfig returns the configuration used when no policy file exists.
func DefaultDuplicationConfig() DuplicationConfig {
	return DuplicationConfig{
		Enabled:           true,
		DefaultTimeWindow: TimeWindow{Value: 24, Unit: UnitHours},
		Notifications:     NotificationPolicy{OnBlock: true},
		DataRetention: DataRetention{
			HistoryDays:  30,
			LogLevel:     "info",
			ExportFormat: ExportJSON,
		},
		RateLimit: RateLimitPolicy{PerMinute: 20, Burst: 5},
	}
}

// RetentionCutoff returns the oldest timestamp kept under the retention policy.
// The zero time means keep everything.
func (c DuplicationConfig) RetentionCutoff(now time.Time) time.Time {
	if c.DataRetention.HistoryDays <= 0 {
		return time.Time{}
	}
	return now.Add(-time.Duration(c.DataRetention.HistoryDays) * 24 * time.Hour)
}
