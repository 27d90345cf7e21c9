package domain

import "time"

// KeySource yields the database encryption key.
type KeySource interface {
	LoadKey() ([]byte, error)
}

// Instance is a running dupguard server process.
type Instance struct {
	PID           int       `json:"pid"`
	Addr          string    `json:"addr"`
	Version       string    `json:"version"`
	StartedAt     time.Time `json:"startedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// InstanceStatus is what `status` reports about a registered instance.
type InstanceStatus struct {
	Instance
	Alive      bool    `json:"alive"`
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
}

// InstanceRegistry tracks the server process for status and liveness checks.
type InstanceRegistry interface {
	// Register records the current process.
	Register(inst Instance) error

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat() error

	// Status returns the registered instance, or nil if none is registered.
	Status() (*InstanceStatus, error)

	// Clear removes the registration.
	Clear() error
}

// ProcessInspector looks at OS processes.
type ProcessInspector interface {
	IsRunning(pid int) bool
	Usage(pid int) (cpuPercent float64, rssBytes uint64, err error)
	GetCurrentPID() int
}
