package usecase

import (
	"context"
	"fmt"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

const exportPageSize = 500

// CollectChecks pages through every check matching f, newest first.
// The page fields of f are ignored.
func CollectChecks(ctx context.Context, audit domain.AuditLog, f domain.CheckFilter) ([]domain.DuplicationCheck, error) {
	var all []domain.DuplicationCheck
	f.PageSize = exportPageSize
	for f.Page.Page = 1; ; f.Page.Page++ {
		checks, total, err := audit.ListChecks(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("failed to list checks: %w", err)
		}
		all = append(all, checks...)
		if len(checks) == 0 || len(all) >= total {
			return all, nil
		}
	}
}
