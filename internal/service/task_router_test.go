package service

import (
	"testing"

	"github.com/kraklabs/tonebase-ask/internal/config"
)

func testTierRules() *config.Rules {
	return &config.Rules{
		Tiers: map[string]config.TierRule{
			"factual":  {Signals: []string{"what is", "define", "what key", "what bpm"}, Chain: []string{"fast", "local", "standard"}},
			"creative": {Signals: []string{"suggest", "analyze", "improve", "based on my sessions"}, Chain: []string{"standard", "fast", "local"}},
			"realtime": {Signals: []string{"right now", "currently", "while i'm playing"}, Chain: []string{"local", "fast", "standard"}},
		},
	}
}

func tierOrder() []string { return []string{"factual", "creative", "realtime"} }

func TestTaskRouter_ClassifiesFactual(t *testing.T) {
	r := NewTaskRouter(true, testTierRules(), tierOrder(), nil)
	route := r.Route("what is the key of this track?")
	if route.Tier != "factual" {
		t.Fatalf("tier = %q, want factual", route.Tier)
	}
	if len(route.Chain) == 0 || route.Chain[0] != "fast" {
		t.Fatalf("chain = %v, want to start with fast", route.Chain)
	}
}

func TestTaskRouter_ClassifiesCreative(t *testing.T) {
	r := NewTaskRouter(true, testTierRules(), tierOrder(), nil)
	route := r.Route("can you suggest how to improve this mix based on my sessions?")
	if route.Tier != "creative" {
		t.Fatalf("tier = %q, want creative", route.Tier)
	}
}

func TestTaskRouter_ClassifiesRealtime(t *testing.T) {
	r := NewTaskRouter(true, testTierRules(), tierOrder(), nil)
	route := r.Route("what should I do right now while I'm playing live?")
	if route.Tier != "realtime" {
		t.Fatalf("tier = %q, want realtime", route.Tier)
	}
}

func TestTaskRouter_ZeroMatchesDefaultsToFactual(t *testing.T) {
	r := NewTaskRouter(true, testTierRules(), tierOrder(), nil)
	route := r.Route("hello there")
	if route.Tier != "factual" {
		t.Fatalf("tier = %q, want factual default", route.Tier)
	}
	if route.Confidence != 0 {
		t.Fatalf("confidence = %v, want 0 for zero matches", route.Confidence)
	}
}

func TestTaskRouter_ConfidenceFormula(t *testing.T) {
	r := NewTaskRouter(true, testTierRules(), tierOrder(), nil)
	route := r.Route("what is the bpm? define tempo. what key is this in?")
	// 3 distinct signal matches: n/(n+1) = 3/4 = 0.75
	if route.Confidence != 0.75 {
		t.Fatalf("confidence = %v, want 0.75", route.Confidence)
	}
}

func TestTaskRouter_DisabledUsesStaticChain(t *testing.T) {
	r := NewTaskRouter(false, testTierRules(), tierOrder(), []string{"standard"})
	route := r.Route("suggest an improvement right now")
	if route.Tier != "static" {
		t.Fatalf("tier = %q, want static when routing disabled", route.Tier)
	}
	if len(route.Chain) != 1 || route.Chain[0] != "standard" {
		t.Fatalf("chain = %v, want [standard]", route.Chain)
	}
}
