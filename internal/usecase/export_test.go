package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// pagedAudit serves ListChecks from a fixed slice and records the pages asked for.
type pagedAudit struct {
	domain.AuditLog
	checks []domain.DuplicationCheck
	pages  []int
	err    error
}

func (a *pagedAudit) ListChecks(_ context.Context, f domain.CheckFilter) ([]domain.DuplicationCheck, int, error) {
	if a.err != nil {
		return nil, 0, a.err
	}
	a.pages = append(a.pages, f.Page.Page)
	start := (f.Page.Page - 1) * f.PageSize
	if start >= len(a.checks) {
		return nil, len(a.checks), nil
	}
	end := min(start+f.PageSize, len(a.checks))
	return a.checks[start:end], len(a.checks), nil
}

func TestCollectChecks(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		wantPages []int
	}{
		{"empty", 0, []int{1}},
		{"single page", 3, []int{1}},
		{"exact page", exportPageSize, []int{1}},
		{"several pages", 2*exportPageSize + 7, []int{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit := &pagedAudit{}
			for i := range tt.n {
				audit.checks = append(audit.checks, domain.DuplicationCheck{ID: fmt.Sprintf("c%d", i)})
			}

			got, err := CollectChecks(context.Background(), audit, domain.CheckFilter{
				TargetID: "user_a",
				Page:     domain.Page{Page: 9, PageSize: 2},
			})
			require.NoError(t, err)
			assert.Len(t, got, tt.n)
			assert.Equal(t, tt.wantPages, audit.pages, "caller page fields are ignored")
		})
	}
}

func TestCollectChecks_Error(t *testing.T) {
	audit := &pagedAudit{err: errors.New("disk gone")}
	_, err := CollectChecks(context.Background(), audit, domain.CheckFilter{})
	assert.ErrorContains(t, err, "failed to list checks")
}
