package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

const instanceFileName = "instance.json"

// FileInstanceRegistry implements domain.InstanceRegistry using a JSON file
// in the data directory.
type FileInstanceRegistry struct {
	path      string
	processes domain.ProcessInspector
	now       func() time.Time
}

// NewFileInstanceRegistry creates a registry under dataDir.
func NewFileInstanceRegistry(dataDir string, pi domain.ProcessInspector) *FileInstanceRegistry {
	return &FileInstanceRegistry{
		path:      filepath.Join(dataDir, instanceFileName),
		processes: pi,
		now:       time.Now,
	}
}

// Path returns the registry file path.
func (r *FileInstanceRegistry) Path() string {
	return r.path
}

// Register saves the current instance.
func (r *FileInstanceRegistry) Register(inst domain.Instance) error {
	// Use file lock so a second server started concurrently does not interleave writes
	lockFile, err := os.OpenFile(r.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	if inst.StartedAt.IsZero() {
		inst.StartedAt = r.now()
	}
	inst.LastHeartbeat = r.now()
	return r.atomicWrite(&inst)
}

// UpdateHeartbeat updates timestamp for liveness check.
func (r *FileInstanceRegistry) UpdateHeartbeat() error {
	inst, err := r.read()
	if err != nil {
		return err
	}
	if inst == nil {
		return fmt.Errorf("instance not registered")
	}
	inst.LastHeartbeat = r.now()
	return r.atomicWrite(inst)
}

// Status returns the registered instance with liveness and resource usage.
func (r *FileInstanceRegistry) Status() (*domain.InstanceStatus, error) {
	inst, err := r.read()
	if err != nil || inst == nil {
		return nil, err
	}

	status := &domain.InstanceStatus{Instance: *inst}
	status.Alive = r.processes.IsRunning(inst.PID)
	if status.Alive {
		// Usage is best effort; a process owned by another user may not be readable.
		status.CPUPercent, status.RSSBytes, _ = r.processes.Usage(inst.PID)
	}
	return status, nil
}

// Clear removes the registry file.
func (r *FileInstanceRegistry) Clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (r *FileInstanceRegistry) read() (*domain.Instance, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var inst domain.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("failed to decode instance file: %w", err)
	}
	return &inst, nil
}

// atomicWrite writes the registry atomically (write + rename).
func (r *FileInstanceRegistry) atomicWrite(inst *domain.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Write to temp file first (unique per process to avoid race)
	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileInstanceRegistry implements domain.InstanceRegistry.
var _ domain.InstanceRegistry = (*FileInstanceRegistry)(nil)
