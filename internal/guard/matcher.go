package guard

import (
	"strings"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// SubstringMatcher finds the first listed term contained in the text.
// Matching is case-sensitive unless folding is enabled.
type SubstringMatcher struct {
	terms []string
	fold  bool
}

// NewSubstringMatcher creates a matcher over terms. Empty terms are ignored.
func NewSubstringMatcher(terms []string, caseInsensitive bool) *SubstringMatcher {
	m := &SubstringMatcher{fold: caseInsensitive}
	for _, t := range terms {
		if t != "" {
			m.terms = append(m.terms, t)
		}
	}
	return m
}

// Match implements domain.Matcher.
func (m *SubstringMatcher) Match(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	haystack := text
	if m.fold {
		haystack = strings.ToLower(text)
	}
	for _, term := range m.terms {
		needle := term
		if m.fold {
			needle = strings.ToLower(term)
		}
		if strings.Contains(haystack, needle) {
			return term, true
		}
	}
	return "", false
}

// ConfigMatcher matches against the word list of the current config snapshot.
type ConfigMatcher struct {
	config domain.ConfigProvider
}

// NewConfigMatcher creates a matcher that follows config reloads.
func NewConfigMatcher(config domain.ConfigProvider) *ConfigMatcher {
	return &ConfigMatcher{config: config}
}

// Match implements domain.Matcher.
func (m *ConfigMatcher) Match(text string) (string, bool) {
	cfg := m.config.Current()
	return NewSubstringMatcher(cfg.SensitiveWords, cfg.CaseInsensitive).Match(text)
}

var (
	_ domain.Matcher = (*SubstringMatcher)(nil)
	_ domain.Matcher = (*ConfigMatcher)(nil)
)
