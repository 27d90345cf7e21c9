package policy

import (
	"sort"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

// Registry holds the built-in rule presets.
// Rule stores seed themselves from it when they are empty.
type Registry struct {
	presets map[string]RulePreset
}

// NewRegistry creates a registry with all default presets.
func NewRegistry() *Registry {
	r := &Registry{
		presets: make(map[string]RulePreset),
	}

	r.Register(NewFollowPreset())
	r.Register(NewReplyPreset())

	return r
}

// NewRegistryWithPresets creates a registry with custom presets (for testing).
func NewRegistryWithPresets(presets ...RulePreset) *Registry {
	r := &Registry{
		presets: make(map[string]RulePreset),
	}
	for _, p := range presets {
		r.Register(p)
	}
	return r
}

// Register adds a preset to the registry.
func (r *Registry) Register(p RulePreset) {
	r.presets[p.ID()] = p
}

// Get returns a preset by ID.
func (r *Registry) Get(id string) (RulePreset, bool) {
	p, ok := r.presets[id]
	return p, ok
}

// GetAll returns all registered presets ordered by ID.
func (r *Registry) GetAll() []RulePreset {
	result := make([]RulePreset, 0, len(r.presets))
	for _, p := range r.presets {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// List returns all preset IDs.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.presets))
	for _, p := range r.GetAll() {
		ids = append(ids, p.ID())
	}
	return ids
}

// Rules converts every preset to a rule.
func (r *Registry) Rules() []domain.DuplicationRule {
	presets := r.GetAll()
	rules := make([]domain.DuplicationRule, len(presets))
	for i, p := range presets {
		rules[i] = ToRule(p)
	}
	return rules
}
