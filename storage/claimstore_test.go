package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ravenoak/autoresearch/core"
	"github.com/stretchr/testify/require"
)

// fakeDurableStore is an in-memory stand-in for tabularStore so these tests
// don't need a live Postgres connection.
type fakeDurableStore struct {
	mu       sync.Mutex
	rows     map[string]*Claim
	failNext bool
}

func newFakeDurableStore() *fakeDurableStore {
	return &fakeDurableStore{rows: make(map[string]*Claim)}
}

func (f *fakeDurableStore) insertClaim(ctx context.Context, c *Claim) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return fmt.Errorf("simulated durable write failure")
	}
	f.rows[c.ID] = c.Clone()
	return nil
}

func (f *fakeDurableStore) updateClaim(ctx context.Context, id string, confidence float64, status AuditStatus, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return fmt.Errorf("no row for %s", id)
	}
	row.Confidence = confidence
	row.AuditStatus = status
	row.LastAccessedAt = now
	return nil
}

func (f *fakeDurableStore) hasClaim(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[id]
	return ok, nil
}

func (f *fakeDurableStore) countClaims(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows), nil
}

func (f *fakeDurableStore) loadClaim(ctx context.Context, id string) (*Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("no row for %s", id)
	}
	return row.Clone(), nil
}

func (f *fakeDurableStore) close() error { return nil }

type fakeClock struct{ mu sync.Mutex; now time.Time }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testClaim(id string, confidence float64) *Claim {
	return &Claim{
		ID:         id,
		Text:       "claim " + id,
		Kind:       KindEvidence,
		Confidence: confidence,
		Sources:    []Source{{URL: "https://example.com/" + id, Backend: "web", Credibility: 0.8}},
	}
}

func newTestClaimStore(t *testing.T, cfg Config) (*ClaimStore, *fakeDurableStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cfg.Clock = clock
	durable := newFakeDurableStore()
	return NewClaimStore(cfg, durable), durable, clock
}

func TestPersistClaimWritesBothBackends(t *testing.T) {
	cs, durable, _ := newTestClaimStore(t, Config{RAMBudgetMB: 1024})
	ctx := context.Background()

	require.NoError(t, cs.PersistClaim(ctx, testClaim("c1", 0.9), false))

	has, err := durable.hasClaim(ctx, "c1")
	require.NoError(t, err)
	require.True(t, has, "claim must be durably stored")
	require.Equal(t, 1, cs.graph.size())
}

func TestPersistClaimRollsBackOnDurableFailure(t *testing.T) {
	cs, durable, _ := newTestClaimStore(t, Config{RAMBudgetMB: 1024})
	ctx := context.Background()
	durable.failNext = true

	err := cs.PersistClaim(ctx, testClaim("c1", 0.9), false)
	require.Error(t, err)
	require.True(t, core.IsCritical(err))
	require.Equal(t, 0, cs.graph.size(), "in-memory insertion must be rolled back")
}

func TestPersistClaimRejectsMissingSourceInvariant(t *testing.T) {
	cs, _, _ := newTestClaimStore(t, Config{RAMBudgetMB: 1024})
	ctx := context.Background()

	bad := &Claim{ID: "c1", Kind: KindThesis, Confidence: 0.9}
	err := cs.PersistClaim(ctx, bad, false)
	require.Error(t, err)
}

// TestEvictionInvariant grounds P7: while memory_usage <= budget and the
// deterministic floor isn't exceeded, nothing is evicted.
func TestEvictionInvariant(t *testing.T) {
	cs, _, _ := newTestClaimStore(t, Config{
		RAMBudgetMB:                       10, // generous; ~5KB of claims won't trip it
		BytesPerClaim:                     1024,
		MinimumDeterministicResidentNodes: 2,
		Policy:                            EvictionLRU,
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, cs.PersistClaim(ctx, testClaim(fmt.Sprintf("c%d", i), 0.5), false))
	}
	require.Equal(t, 5, cs.graph.size(), "under budget, nothing should be evicted")
}

// TestEvictionUnderBudgetLRU grounds S7: a budget that fits three claims,
// five persisted under lru, exactly the two eldest evicted from the graph
// while all five remain durable and vector-indexed.
func TestEvictionUnderBudgetLRU(t *testing.T) {
	cs, durable, clock := newTestClaimStore(t, Config{
		RAMBudgetMB:                       3 * 1024.0 / (1024 * 1024), // 3 claims * 1KB each, in MB
		BytesPerClaim:                     1024,
		MinimumDeterministicResidentNodes: 1,
		Policy:                            EvictionLRU,
	})
	ctx := context.Background()

	ids := []string{"c0", "c1", "c2", "c3", "c4"}
	for _, id := range ids {
		require.NoError(t, cs.PersistClaim(ctx, testClaim(id, 0.5), false))
		clock.advance(time.Second)
	}

	require.Equal(t, 3, cs.graph.size(), "only three claims should remain resident")
	for _, evicted := range []string{"c0", "c1"} {
		_, ok := cs.graph.node(evicted)
		require.False(t, ok, "%s should have been evicted as the least recently accessed", evicted)
	}
	for _, id := range ids {
		has, err := durable.hasClaim(ctx, id)
		require.NoError(t, err)
		require.True(t, has, "%s must remain in the durable store after eviction", id)
		require.True(t, cs.vectors.has(id), "%s must remain in the vector index after eviction", id)
	}
}

// TestVectorSearchSyncsWithPersist grounds P8: after every successful
// persist_claim, the vector index contains exactly the embeddings of
// currently-persisted claims, and a search finds an evicted claim too.
func TestVectorSearchSyncsWithPersist(t *testing.T) {
	cs, _, clock := newTestClaimStore(t, Config{
		RAMBudgetMB:                       1024.0 / (1024 * 1024), // fits ~1 claim
		BytesPerClaim:                     1024,
		MinimumDeterministicResidentNodes: 1,
		Policy:                            EvictionLRU,
	})
	ctx := context.Background()

	c1 := testClaim("c1", 0.9)
	c1.Embedding = []float32{1, 0, 0}
	require.NoError(t, cs.PersistClaim(ctx, c1, false))
	clock.advance(time.Second)

	c2 := testClaim("c2", 0.9)
	c2.Embedding = []float32{0, 1, 0}
	require.NoError(t, cs.PersistClaim(ctx, c2, false))

	_, resident := cs.graph.node("c1")
	require.False(t, resident, "c1 should have been evicted to respect the budget")

	results, err := cs.VectorSearch(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "c1", results[0].ID, "evicted claim must still be the closest match")
}

// TestPersistClaimMirrorsContradictsEdge grounds spec §3/§4.9's invariant
// that contradicts edges are inserted in symmetric pairs: persisting a
// claim that contradicts an already-resident claim must also add the
// back-edge to that target, both in memory and in the durable store.
func TestPersistClaimMirrorsContradictsEdge(t *testing.T) {
	cs, durable, _ := newTestClaimStore(t, Config{RAMBudgetMB: 1024})
	ctx := context.Background()

	thesis := testClaim("thesis", 0.8)
	require.NoError(t, cs.PersistClaim(ctx, thesis, false))

	antithesis := testClaim("antithesis", 0.5)
	antithesis.Relations = []Relation{{Kind: RelationContradicts, To: "thesis"}}
	require.NoError(t, cs.PersistClaim(ctx, antithesis, false))

	node, ok := cs.graph.node("thesis")
	require.True(t, ok)
	require.True(t, hasRelation(node.claim.Relations, RelationContradicts, "antithesis"),
		"thesis must carry the mirrored back-edge to antithesis")

	row, err := durable.loadClaim(ctx, "thesis")
	require.NoError(t, err)
	durableRelations := durable.rows["thesis"].Relations
	require.True(t, hasRelation(durableRelations, RelationContradicts, "antithesis"),
		"mirrored back-edge must be durably persisted too")
	require.Equal(t, "thesis", row.ID)
}

// TestPersistClaimContradictsMirrorIsIdempotent covers re-persisting the
// same contradicts edge twice: the mirror must not be duplicated.
func TestPersistClaimContradictsMirrorIsIdempotent(t *testing.T) {
	cs, _, _ := newTestClaimStore(t, Config{RAMBudgetMB: 1024})
	ctx := context.Background()

	require.NoError(t, cs.PersistClaim(ctx, testClaim("thesis", 0.8), false))
	antithesis := testClaim("antithesis", 0.5)
	antithesis.Relations = []Relation{{Kind: RelationContradicts, To: "thesis"}}
	require.NoError(t, cs.PersistClaim(ctx, antithesis, false))
	require.NoError(t, cs.PersistClaim(ctx, antithesis, false))

	node, ok := cs.graph.node("thesis")
	require.True(t, ok)
	count := 0
	for _, r := range node.claim.Relations {
		if r.Kind == RelationContradicts && r.To == "antithesis" {
			count++
		}
	}
	require.Equal(t, 1, count, "re-persisting the same contradicts edge must not duplicate the mirror")
}
