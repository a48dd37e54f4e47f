package orchestration

import (
	"testing"
	"time"

	"github.com/ravenoak/autoresearch/storage"
)

func claimFixture(id string) *storage.Claim {
	return &storage.Claim{
		ID:          id,
		Text:        "claim " + id,
		Kind:        storage.KindEvidence,
		Confidence:  0.5,
		AuditStatus: storage.StatusUnverified,
		CreatedAt:   time.Unix(0, 0),
	}
}

// TestMergeClaimsIsCommutative covers property P5: the final claim set does
// not depend on the order distinct groups' deltas are merged in.
func TestMergeClaimsIsCommutative(t *testing.T) {
	groupA := []*storage.Claim{claimFixture("a"), claimFixture("b")}
	groupB := []*storage.Claim{claimFixture("c")}

	forward := NewQueryState("q", nil)
	forward.MergeClaims(groupA)
	forward.MergeClaims(groupB)

	backward := NewQueryState("q", nil)
	backward.MergeClaims(groupB)
	backward.MergeClaims(groupA)

	forwardIDs := make(map[string]bool)
	for _, c := range forward.Claims() {
		forwardIDs[c.ID] = true
	}
	backwardIDs := make(map[string]bool)
	for _, c := range backward.Claims() {
		backwardIDs[c.ID] = true
	}
	if len(forwardIDs) != len(backwardIDs) {
		t.Fatalf("claim set size differs by merge order: %d vs %d", len(forwardIDs), len(backwardIDs))
	}
	for id := range forwardIDs {
		if !backwardIDs[id] {
			t.Fatalf("claim %s present in forward merge but not backward", id)
		}
	}
}

func TestMergeClaimsIsIdempotent(t *testing.T) {
	state := NewQueryState("q", nil)
	claims := []*storage.Claim{claimFixture("a")}
	state.MergeClaims(claims)
	state.MergeClaims(claims)
	if got := len(state.Claims()); got != 1 {
		t.Fatalf("expected 1 claim after idempotent merge, got %d", got)
	}
}

// TestSnapshotRoundTrip covers property P10: QueryState -> Snapshot ->
// QueryState preserves the claim set, ordering, and audit statuses.
func TestSnapshotRoundTrip(t *testing.T) {
	state := NewQueryState("q", nil)
	c1 := claimFixture("a")
	c1.AuditStatus = storage.StatusSupported
	c2 := claimFixture("b")
	c2.AuditStatus = storage.StatusHedged
	state.MergeClaims([]*storage.Claim{c1, c2})
	state.RecordError("transient", "search", "timeout")

	snap := state.ToSnapshot()
	restored := FromSnapshot(snap, nil)

	if got, want := restored.ClaimOrder(), state.ClaimOrder(); len(got) != len(want) {
		t.Fatalf("claim order length mismatch: %v vs %v", got, want)
	}
	for i, id := range state.ClaimOrder() {
		if restored.ClaimOrder()[i] != id {
			t.Fatalf("claim order mismatch at %d: %v vs %v", i, restored.ClaimOrder(), state.ClaimOrder())
		}
	}
	for _, id := range state.ClaimOrder() {
		original, _ := state.Claim(id)
		roundTripped, ok := restored.Claim(id)
		if !ok {
			t.Fatalf("claim %s missing after round-trip", id)
		}
		if roundTripped.AuditStatus != original.AuditStatus {
			t.Fatalf("claim %s audit status changed: %s -> %s", id, original.AuditStatus, roundTripped.AuditStatus)
		}
	}
	if len(restored.Errors()) != len(state.Errors()) {
		t.Fatalf("error records did not round-trip: %v vs %v", restored.Errors(), state.Errors())
	}
}

func TestRecordErrorDeduplicatesAndCounts(t *testing.T) {
	state := NewQueryState("q", nil)
	state.RecordError("transient", "search", "timeout")
	state.RecordError("transient", "search", "timeout")
	errs := state.Errors()
	if len(errs) != 1 {
		t.Fatalf("expected 1 deduplicated error record, got %d", len(errs))
	}
	if errs[0].Count != 2 {
		t.Fatalf("expected count 2, got %d", errs[0].Count)
	}
}
