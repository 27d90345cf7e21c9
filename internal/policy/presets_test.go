package policy

import (
	"testing"
	"time"

	"github.com/eliteGoblin/dupguard/internal/domain"
)

func TestFollowPreset_ID(t *testing.T) {
	p := NewFollowPreset()
	if p.ID() != "default_follow_24h" {
		t.Errorf("expected ID 'default_follow_24h', got '%s'", p.ID())
	}
}

func TestFollowPreset_Window(t *testing.T) {
	p := NewFollowPreset()
	if p.Window().Duration() != 24*time.Hour {
		t.Errorf("expected 24h window, got %v", p.Window().Duration())
	}
}

func TestReplyPreset_Window(t *testing.T) {
	p := NewReplyPreset()
	if p.Window().Duration() != time.Hour {
		t.Errorf("expected 1h window, got %v", p.Window().Duration())
	}
	if p.RuleType() != domain.RuleReply {
		t.Errorf("expected reply rule type, got %s", p.RuleType())
	}
}

func TestToRule_ProducesValidRule(t *testing.T) {
	for _, p := range NewRegistry().GetAll() {
		rule := ToRule(p)
		if err := ValidateRule(rule); err != nil {
			t.Errorf("preset %s produced invalid rule: %v", p.ID(), err)
		}
		if !rule.Enabled {
			t.Errorf("preset %s should be enabled", p.ID())
		}
		if rule.Actions.OnDuplicationDetected != domain.OnDuplicationBlock {
			t.Errorf("preset %s should block, got %s", p.ID(), rule.Actions.OnDuplicationDetected)
		}
	}
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	ids := r.List()

	if len(ids) != 2 {
		t.Fatalf("expected 2 presets, got %d", len(ids))
	}
	if ids[0] != "default_follow_24h" || ids[1] != "default_reply_1h" {
		t.Errorf("unexpected preset order: %v", ids)
	}
}

func TestRegistry_WithPresets(t *testing.T) {
	r := NewRegistryWithPresets(NewReplyPreset())

	if _, ok := r.Get("default_follow_24h"); ok {
		t.Error("follow preset should not be registered")
	}
	if _, ok := r.Get("default_reply_1h"); !ok {
		t.Error("reply preset should be registered")
	}
	if len(r.Rules()) != 1 {
		t.Errorf("expected 1 rule, got %d", len(r.Rules()))
	}
}
