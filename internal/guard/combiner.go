package guard

import (
	"sort"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// Combine merges guard verdicts into one result.
// Checks are reported in Order; unknown keys follow in input order.
// A check with an unknown status is reported as a warning.
func Combine(checks ...domain.PrecheckCheck) domain.PrecheckResult {
	out := make([]domain.PrecheckCheck, len(checks))
	copy(out, checks)

	rank := func(key string) int {
		for i, k := range Order {
			if k == key {
				return i
			}
		}
		return len(Order)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Key) < rank(out[j].Key)
	})

	allPassed := true
	for i := range out {
		switch out[i].Status {
		case domain.StatusPass, domain.StatusWarning, domain.StatusBlocked:
		default:
			out[i].Detail = "unrecognised status " + string(out[i].Status)
			out[i].Status = domain.StatusWarning
		}
		if out[i].Label == "" {
			out[i].Label = Label(out[i].Key)
		}
		if out[i].Status != domain.StatusPass {
			allPassed = false
		}
	}

	return domain.PrecheckResult{Checks: out, AllPassed: allPassed}
}
