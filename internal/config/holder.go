package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

type snapshot struct {
	cfg domain.DuplicationConfig
	raw []byte
}

// Holder serves the current DuplicationConfig and replaces it atomically.
// Snapshots are shared; callers must not mutate maps or slices they return.
type Holder struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex // serialises Reload and Update
	current atomic.Pointer[snapshot]
}

// NewHolder loads the policy file at path. A missing file yields the defaults.
func NewHolder(path string, logger *zap.Logger) (*Holder, error) {
	h := &Holder{path: path, logger: logger}
	h.current.Store(&snapshot{cfg: domain.DefaultDuplicationConfig()})
	if _, err := h.Reload(); err != nil {
		return nil, err
	}
	return h, nil
}

// Path returns the policy file path.
func (h *Holder) Path() string {
	return h.path
}

// Current implements domain.ConfigProvider.
func (h *Holder) Current() domain.DuplicationConfig {
	return h.current.Load().cfg
}

// Reload re-reads the policy file. It reports whether the snapshot changed;
// identical content leaves the current snapshot in place.
func (h *Holder) Reload() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	raw, err := os.ReadFile(h.path)
	if errors.Is(err, os.ErrNotExist) {
		raw = nil
	} else if err != nil {
		return false, fmt.Errorf("failed to read policy file: %w", err)
	}

	if bytes.Equal(h.current.Load().raw, raw) {
		return false, nil
	}

	cfg, err := Parse(raw)
	if err != nil {
		return false, err
	}
	h.current.Store(&snapshot{cfg: cfg, raw: raw})
	h.logger.Info("Policy config loaded",
		zap.String("path", h.path),
		zap.Bool("enabled", cfg.Enabled),
		zap.Bool("learningMode", cfg.LearningMode),
		zap.Bool("emergencyStop", cfg.EmergencyStop))
	return true, nil
}

// Update validates cfg, writes it to the policy file and swaps the snapshot.
func (h *Holder) Update(cfg domain.DuplicationConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := writeFileAtomic(h.path, raw); err != nil {
		return err
	}
	h.current.Store(&snapshot{cfg: cfg, raw: raw})
	h.logger.Info("Policy config updated", zap.String("path", h.path))
	return nil
}

// Watch reloads the policy file whenever it changes, until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
func (h *Holder) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create policy directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(h.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if _, err := h.Reload(); err != nil {
				h.logger.Warn("Policy reload failed, keeping previous config",
					zap.String("path", h.path),
					zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("Policy watcher error", zap.Error(err))
		}
	}
}

// Parse decodes a policy document on top of the defaults and validates it.
func Parse(raw []byte) (domain.DuplicationConfig, error) {
	cfg := domain.DefaultDuplicationConfig()
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return domain.DuplicationConfig{}, fmt.Errorf("failed to parse policy: %w", err)
		}
	}
	if err := Validate(cfg); err != nil {
		return domain.DuplicationConfig{}, err
	}
	return cfg, nil
}

// Validate reports every problem with a policy at once.
func Validate(cfg domain.DuplicationConfig) error {
	var errs *multierror.Error

	if cfg.DefaultTimeWindow.Duration() <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("defaultTimeWindow must be a positive window, got %d %q",
			cfg.DefaultTimeWindow.Value, cfg.DefaultTimeWindow.Unit))
	}
	if cfg.GlobalMaxPerHour < 0 {
		errs = multierror.Append(errs, fmt.Errorf("globalMaxPerHour must not be negative"))
	}
	if cfg.DataRetention.HistoryDays < 0 {
		errs = multierror.Append(errs, fmt.Errorf("dataRetention.historyDays must not be negative"))
	}
	if f := cfg.DataRetention.ExportFormat; f != "" && !f.Valid() {
		errs = multierror.Append(errs, fmt.Errorf("unknown export format %q", f))
	}
	if cfg.RateLimit.PerMinute < 0 || cfg.RateLimit.Burst < 0 {
		errs = multierror.Append(errs, fmt.Errorf("rateLimit values must not be negative"))
	}
	for group, devices := range cfg.DeviceGroups {
		if len(devices) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("device group %q is empty", group))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create policy directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".policy-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace policy file: %w", err)
	}
	return nil
}

// Ensure Holder implements domain.ConfigProvider.
var _ domain.ConfigProvider = (*Holder)(nil)
