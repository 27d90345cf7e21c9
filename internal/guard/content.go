package guard

import (
	"context"
	"fmt"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// SensitiveContentGuard blocks content containing a disallowed term.
type SensitiveContentGuard struct {
	matcher domain.Matcher
}

// NewSensitiveContentGuard creates the guard.
func NewSensitiveContentGuard(matcher domain.Matcher) *SensitiveContentGuard {
	return &SensitiveContentGuard{matcher: matcher}
}

// Key implements Guard.
func (g *SensitiveContentGuard) Key() string { return KeySensitiveContent }

// Evaluate implements Guard.
func (g *SensitiveContentGuard) Evaluate(_ context.Context, action domain.CandidateAction) domain.PrecheckCheck {
	if action.Content == "" {
		return newCheck(KeySensitiveContent, domain.StatusPass, "no content to check")
	}
	if term, found := g.matcher.Match(action.Content); found {
		c := newCheck(KeySensitiveContent, domain.StatusBlocked, fmt.Sprintf("content contains disallowed term %q", term))
		c.Detail = term
		return c
	}
	return newCheck(KeySensitiveContent, domain.StatusPass, "no disallowed terms")
}

var _ Guard = (*SensitiveContentGuard)(nil)
