package guard

import (
	"context"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// PermissionGuard checks how the action will be executed.
// It never blocks: manual execution only warns the operator.
type PermissionGuard struct{}

// NewPermissionGuard creates a permission guard.
func NewPermissionGuard() *PermissionGuard {
	return &PermissionGuard{}
}

// Key implements Guard.
func (g *PermissionGuard) Key() string { return KeyPermission }

// Evaluate implements Guard.
func (g *PermissionGuard) Evaluate(_ context.Context, action domain.CandidateAction) domain.PrecheckCheck {
	switch action.ExecutorMode {
	case domain.ExecutorAPI:
		return newCheck(KeyPermission, domain.StatusPass, "API executor available")
	case domain.ExecutorManual:
		return newCheck(KeyPermission, domain.StatusWarning, "manual execution, operator must confirm")
	}
	c := newCheck(KeyPermission, domain.StatusWarning, "unknown executor mode, treated as manual")
	c.Detail = string(action.ExecutorMode)
	return c
}

var _ Guard = (*PermissionGuard)(nil)
