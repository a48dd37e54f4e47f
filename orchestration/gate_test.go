package orchestration

import "testing"

func defaultGateConfig() GateConfig {
	return GateConfig{
		OverlapThreshold:    0.8,
		ConflictThreshold:   0.3,
		ComplexityThreshold: 0.6,
		Enabled:             true,
	}
}

func TestGatePolicyDirectAnswer(t *testing.T) {
	g := NewGatePolicy(defaultGateConfig())
	decision := g.Decide(ScoutSignals{RetrievalOverlap: 0.95, ConflictScore: 0, Complexity: 0.1}, 3, nil, nil)
	if decision.Mode != DirectAnswer {
		t.Fatalf("expected DirectAnswer, got %v", decision.Mode)
	}
}

func TestGatePolicyFullDebateOnConflict(t *testing.T) {
	g := NewGatePolicy(defaultGateConfig())
	decision := g.Decide(ScoutSignals{RetrievalOverlap: 0.95, ConflictScore: 0.5, Complexity: 0.1}, 3, nil, nil)
	if decision.Mode != FullDebate || decision.Loops != 3 {
		t.Fatalf("expected FullDebate with loops=3, got %v/%d", decision.Mode, decision.Loops)
	}
}

func TestGatePolicyFullDebateOnComplexity(t *testing.T) {
	g := NewGatePolicy(defaultGateConfig())
	decision := g.Decide(ScoutSignals{RetrievalOverlap: 0.5, ConflictScore: 0, Complexity: 0.9}, 2, nil, nil)
	if decision.Mode != FullDebate {
		t.Fatalf("expected FullDebate, got %v", decision.Mode)
	}
}

func TestGatePolicyShortDebateFallthrough(t *testing.T) {
	g := NewGatePolicy(defaultGateConfig())
	decision := g.Decide(ScoutSignals{RetrievalOverlap: 0.5, ConflictScore: 0.1, Complexity: 0.3}, 4, nil, nil)
	if decision.Mode != ShortDebate || decision.Loops != 1 {
		t.Fatalf("expected ShortDebate with loops=1, got %v/%d", decision.Mode, decision.Loops)
	}
}

func TestGatePolicyOperatorOverrideTakesPrecedence(t *testing.T) {
	g := NewGatePolicy(defaultGateConfig())
	override := &GateDecision{Mode: DirectAnswer, Loops: 0}
	decision := g.Decide(ScoutSignals{RetrievalOverlap: 0, ConflictScore: 1, Complexity: 1}, 5, override, nil)
	if decision.Mode != DirectAnswer {
		t.Fatalf("expected operator override to win, got %v", decision.Mode)
	}
}

func TestGatePolicyDisabledAlwaysFullDebates(t *testing.T) {
	cfg := defaultGateConfig()
	cfg.Enabled = false
	g := NewGatePolicy(cfg)
	decision := g.Decide(ScoutSignals{RetrievalOverlap: 1, ConflictScore: 0, Complexity: 0}, 3, nil, nil)
	if decision.Mode != FullDebate {
		t.Fatalf("expected FullDebate when gate disabled, got %v", decision.Mode)
	}
}
