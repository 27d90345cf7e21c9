package infra

import (
	"fmt"
	"os"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// ProcessInspectorImpl implements domain.ProcessInspector using gopsutil.
type ProcessInspectorImpl struct{}

// NewProcessInspector creates a new process inspector.
func NewProcessInspector() domain.ProcessInspector {
	return &ProcessInspectorImpl{}
}

// IsRunning checks if a PID exists and is running.
func (pi *ProcessInspectorImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	// On Unix, FindProcess always succeeds
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Send signal 0 to check if process exists
	return proc.Signal(syscall.Signal(0)) == nil
}

// Usage returns the CPU percentage and resident memory of a process.
func (pi *ProcessInspectorImpl) Usage(pid int) (float64, uint64, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to inspect process %d: %w", pid, err)
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return cpu, 0, fmt.Errorf("failed to read memory usage: %w", err)
	}
	return cpu, mem.RSS, nil
}

// GetCurrentPID returns the current process PID.
func (pi *ProcessInspectorImpl) GetCurrentPID() int {
	return os.Getpid()
}

// Ensure ProcessInspectorImpl implements domain.ProcessInspector.
var _ domain.ProcessInspector = (*ProcessInspectorImpl)(nil)
