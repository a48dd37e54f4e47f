package orchestration

import (
	"context"
	"testing"

	"github.com/ravenoak/autoresearch/modeladapter"
	"github.com/ravenoak/autoresearch/storage"
)

// TestContrarianAgentContradictsExistingThesis covers spec §3's invariant
// that contradicts edges are inserted in pairs: a Contrarian executing
// against a state that already carries a synthesis claim must target it
// with a RelationContradicts edge, not emit a bare antithesis.
func TestContrarianAgentContradictsExistingThesis(t *testing.T) {
	state := NewQueryState("is X better than Y?", nil)
	state.MergeClaims([]*storage.Claim{{
		ID:         "thesis-1",
		Text:       "X is better",
		Kind:       storage.KindSynthesis,
		Confidence: 0.7,
		Sources:    []storage.Source{{URL: "https://example.com/x"}},
	}})

	agent := NewContrarianAgent(modeladapter.NewMock("Y is actually better"), modeladapter.Params{})
	result, err := agent.Execute(context.Background(), state, RuntimeConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Claims) != 1 {
		t.Fatalf("expected exactly 1 claim, got %d", len(result.Claims))
	}
	claim := result.Claims[0]
	if len(claim.Relations) != 1 || claim.Relations[0].Kind != storage.RelationContradicts || claim.Relations[0].To != "thesis-1" {
		t.Fatalf("expected a contradicts edge to thesis-1, got %+v", claim.Relations)
	}
}

// TestContrarianAgentWithNoThesisYetEmitsNoRelation covers the edge case
// where a Contrarian runs before any thesis/synthesis claim exists: there
// is nothing to contradict yet, so Relations stays empty rather than
// pointing at a nonexistent claim.
func TestContrarianAgentWithNoThesisYetEmitsNoRelation(t *testing.T) {
	state := NewQueryState("is X better than Y?", nil)
	agent := NewContrarianAgent(modeladapter.NewMock("a counter-claim"), modeladapter.Params{})
	result, err := agent.Execute(context.Background(), state, RuntimeConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Claims[0].Relations) != 0 {
		t.Fatalf("expected no relations with nothing to contradict yet, got %+v", result.Claims[0].Relations)
	}
}
