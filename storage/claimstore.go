package storage

import (
	"context"
	"sync"
	"time"

	"github.com/ravenoak/autoresearch/core"
)

// EvictionPolicy selects which node enforce_ram_budget removes from the
// in-memory graph first (spec §4.9).
type EvictionPolicy string

const (
	EvictionLRU      EvictionPolicy = "lru"
	EvictionScore    EvictionPolicy = "score"
	EvictionHybrid   EvictionPolicy = "hybrid"
	EvictionAdaptive EvictionPolicy = "adaptive"
	EvictionPriority EvictionPolicy = "priority"
)

// durableStore is the subset of tabularStore's surface ClaimStore depends
// on, narrowed to an interface so tests can substitute an in-memory fake
// instead of a live Postgres connection.
type durableStore interface {
	insertClaim(ctx context.Context, c *Claim) error
	updateClaim(ctx context.Context, id string, confidence float64, status AuditStatus, now time.Time) error
	hasClaim(ctx context.Context, id string) (bool, error)
	countClaims(ctx context.Context) (int, error)
	loadClaim(ctx context.Context, id string) (*Claim, error)
	close() error
}

// Config configures a ClaimStore.
type Config struct {
	// RAMBudgetMB bounds the in-memory graph's estimated footprint.
	RAMBudgetMB float64
	// BytesPerClaim estimates one resident claim's memory footprint, used
	// to convert RAMBudgetMB into a node count. Defaults to 64KB, a rough
	// allowance for a claim's text, embedding, and relation list.
	BytesPerClaim int
	// MinimumDeterministicResidentNodes floors how far eviction may shrink
	// the graph (spec §4.9, default 2).
	MinimumDeterministicResidentNodes int
	Policy                            EvictionPolicy
	// HybridAlpha weights recency vs. confidence for EvictionHybrid.
	HybridAlpha float64

	Logger core.Logger
	Clock  core.Clock
}

func (c Config) withDefaults() Config {
	if c.BytesPerClaim <= 0 {
		c.BytesPerClaim = 64 * 1024
	}
	if c.MinimumDeterministicResidentNodes <= 0 {
		c.MinimumDeterministicResidentNodes = 2
	}
	if c.Policy == "" {
		c.Policy = EvictionLRU
	}
	if c.HybridAlpha <= 0 {
		c.HybridAlpha = 0.5
	}
	if c.Logger == nil {
		c.Logger = &core.NoOpLogger{}
	}
	if c.Clock == nil {
		c.Clock = core.RealClock{}
	}
	return c
}

// adaptiveStats tracks each delegate policy's historical cache-miss count
// so EvictionAdaptive can pick the policy that has minimised misses so
// far (spec §4.9: "pick whichever policy has minimised cache misses
// historically"). A miss is counted whenever VectorSearch has to fall
// back to the durable store, or UpdateClaim is called, for an id that
// isn't graph-resident.
type adaptiveStats struct {
	mu     sync.Mutex
	misses map[EvictionPolicy]int
}

func newAdaptiveStats() *adaptiveStats {
	return &adaptiveStats{misses: map[EvictionPolicy]int{EvictionLRU: 0, EvictionScore: 0, EvictionHybrid: 0}}
}

func (a *adaptiveStats) recordMiss(policy EvictionPolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.misses[policy]++
}

// best returns the delegate policy with the fewest recorded misses,
// breaking ties toward lru.
func (a *adaptiveStats) best() EvictionPolicy {
	a.mu.Lock()
	defer a.mu.Unlock()
	order := []EvictionPolicy{EvictionLRU, EvictionScore, EvictionHybrid}
	best := order[0]
	bestMisses := a.misses[best]
	for _, p := range order[1:] {
		if a.misses[p] < bestMisses {
			best = p
			bestMisses = a.misses[p]
		}
	}
	return best
}

// ClaimStore is the Hybrid Storage Layer (spec §4.9): an in-memory claim
// graph backed by a durable tabular store, an RDF/quad index, and an ANN
// vector index, with RAM-budgeted eviction of the in-memory graph only.
//
// Grounded on _examples/itsneelabh-gomind/orchestration/workflow_dag.go's
// mutex-guarded node map for the resident graph half; the durable/RDF/
// vector backends have no teacher analogue and are new components built
// to spec (see DESIGN.md).
type ClaimStore struct {
	cfg      Config
	mu       sync.Mutex
	graph    *memGraph
	quads    *quadStore
	vectors  *vectorIndex
	durable  durableStore
	adaptive *adaptiveStats
}

// NewClaimStore wires a ClaimStore over a durable backend. Pass a
// *tabularStore from newTabularStore for production use, or a fake
// durableStore in tests.
func NewClaimStore(cfg Config, durable durableStore) *ClaimStore {
	cfg = cfg.withDefaults()
	return &ClaimStore{
		cfg:      cfg,
		graph:    newMemGraph(),
		quads:    newQuadStore(),
		vectors:  newVectorIndex(),
		durable:  durable,
		adaptive: newAdaptiveStats(),
	}
}

// PersistClaim writes claim to all backends atomically from the caller's
// perspective: a failed durable write rolls back the in-memory insertion
// (spec §4.9). When partialUpdate is true and a claim with the same id is
// already resident, sources and relations are merged rather than replaced.
func (cs *ClaimStore) PersistClaim(ctx context.Context, claim *Claim, partialUpdate bool) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := cs.cfg.Clock.Now()
	effective := claim.Clone()
	effective.CreatedAt = firstNonZero(effective.CreatedAt, now)
	effective.LastAccessedAt = now

	var previous *Claim
	if existing, ok := cs.graph.node(effective.ID); ok {
		previous = existing.claim.Clone()
		if partialUpdate {
			effective = mergeClaim(previous, effective)
		}
	}

	if !effective.SatisfiesSourceInvariant() {
		return core.Newf(core.KindCritical, "claimstore", "persist_claim",
			"claim %s violates source invariant: non-inference claim needs a source or confidence<0.2", effective.ID)
	}

	isNew := cs.graph.upsert(effective, now)

	if err := cs.durable.insertClaim(ctx, effective); err != nil {
		if isNew {
			cs.graph.remove(effective.ID)
		} else if previous != nil {
			cs.graph.upsert(previous, now)
		}
		cs.cfg.Logger.Error("claimstore: durable write failed, rolled back in-memory insertion",
			map[string]interface{}{"claim_id": effective.ID, "error": err})
		return core.New(core.KindCritical, "claimstore", "persist_claim", err)
	}

	cs.vectors.upsert(effective.ID, effective.Embedding)
	cs.quads.assert(effective)
	cs.mirrorContradictsLocked(ctx, effective, now)

	cs.enforceRAMBudgetLocked(ctx)
	return nil
}

// mirrorContradictsLocked enforces spec §3/§4.9's "contradicts edges are
// inserted in pairs" invariant: whenever claim asserts a contradicts edge
// to an already graph-resident target, the target gets the mirrored
// back-edge too, so the relation is discoverable from either endpoint. A
// target that isn't graph-resident yet (e.g. the thesis hasn't been
// persisted before its antithesis) is left alone — there is nothing to
// mirror onto until it exists. Must be called with cs.mu held.
func (cs *ClaimStore) mirrorContradictsLocked(ctx context.Context, claim *Claim, now time.Time) {
	for _, rel := range claim.Relations {
		if rel.Kind != RelationContradicts || rel.To == claim.ID {
			continue
		}
		target, ok := cs.graph.node(rel.To)
		if !ok || hasRelation(target.claim.Relations, RelationContradicts, claim.ID) {
			continue
		}
		mirrored := target.claim.Clone()
		mirrored.Relations = append(mirrored.Relations, Relation{Kind: RelationContradicts, To: claim.ID})
		mirrored.LastAccessedAt = now
		cs.graph.upsert(mirrored, now)
		cs.quads.assert(mirrored)
		if err := cs.durable.insertClaim(ctx, mirrored); err != nil {
			cs.cfg.Logger.Error("claimstore: failed to persist mirrored contradicts edge",
				map[string]interface{}{"claim_id": mirrored.ID, "target": claim.ID, "error": err})
		}
	}
}

// hasRelation reports whether relations already contains a (kind, to) edge.
func hasRelation(relations []Relation, kind RelationKind, to string) bool {
	for _, r := range relations {
		if r.Kind == kind && r.To == to {
			return true
		}
	}
	return false
}

// ClaimPatch describes a partial update to an existing claim's mutable
// fields (spec §4.9 update_claim). Nil fields are left untouched.
type ClaimPatch struct {
	Confidence  *float64
	AuditStatus *AuditStatus
	Provenance  []ProvenanceEntry
	Relations   []Relation
	// Replace, when true, overwrites Relations wholesale instead of
	// merging them (UpdateClaim with partialUpdate false also overwrites);
	// Provenance always appends (it's a history log).
	Replace bool
}

// UpdateClaim merges or replaces id's mutable fields, then refreshes the
// vector index and RDF triples (spec §4.9). AuditLoop is the primary
// caller, recording re-verification outcomes.
func (cs *ClaimStore) UpdateClaim(ctx context.Context, id string, patch ClaimPatch, partialUpdate bool) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := cs.cfg.Clock.Now()
	node, ok := cs.graph.node(id)
	if !ok {
		cs.adaptive.recordMiss(cs.cfg.Policy)
		return core.Newf(core.KindRecoverable, "claimstore", "update_claim", "claim %s is not graph-resident", id)
	}
	claim := node.claim.Clone()

	if patch.Confidence != nil {
		claim.Confidence = *patch.Confidence
	}
	if patch.AuditStatus != nil {
		claim.AuditStatus = *patch.AuditStatus
	}
	claim.Provenance = append(claim.Provenance, patch.Provenance...)
	if patch.Relations != nil {
		if patch.Replace || !partialUpdate {
			claim.Relations = append([]Relation(nil), patch.Relations...)
		} else {
			claim.Relations = mergeRelations(claim.Relations, patch.Relations)
		}
	}
	claim.LastAccessedAt = now

	cs.graph.upsert(claim, now)
	if err := cs.durable.updateClaim(ctx, id, claim.Confidence, claim.AuditStatus, now); err != nil {
		return core.New(core.KindCritical, "claimstore", "update_claim", err)
	}
	cs.vectors.upsert(claim.ID, claim.Embedding)
	cs.quads.assert(claim)
	if patch.Relations != nil {
		cs.mirrorContradictsLocked(ctx, claim, now)
	}
	return nil
}

// VectorSearch runs an ANN query over the embedding index, returning the k
// nearest claims by cosine similarity. Claims evicted from the in-memory
// graph are transparently reconstructed from the durable store (spec §4.9:
// eviction never removes a claim from vector_search's result set).
func (cs *ClaimStore) VectorSearch(ctx context.Context, vec []float32, k int) ([]*Claim, error) {
	cs.mu.Lock()
	hits := cs.vectors.search(vec, k)
	policy := cs.cfg.Policy
	cs.mu.Unlock()

	now := cs.cfg.Clock.Now()
	out := make([]*Claim, 0, len(hits))
	for _, hit := range hits {
		if claim, ok := cs.graph.get(hit.id, now); ok {
			out = append(out, claim.Clone())
			continue
		}
		cs.adaptive.recordMiss(resolvedPolicy(policy, cs.adaptive))
		claim, err := cs.durable.loadClaim(ctx, hit.id)
		if err != nil {
			cs.cfg.Logger.Warn("claimstore: vector hit missing from durable store", map[string]interface{}{"claim_id": hit.id, "error": err})
			continue
		}
		claim.Relations = cs.quads.relationsFrom(hit.id)
		out = append(out, claim)
	}
	return out, nil
}

// MemoryUsageBytes estimates the in-memory graph's footprint.
func (cs *ClaimStore) MemoryUsageBytes() int64 {
	return int64(cs.graph.size()) * int64(cs.cfg.BytesPerClaim)
}

// EnforceRAMBudget evicts graph-resident nodes per the configured policy
// until memory usage is at or under the configured budget or the
// deterministic-resident floor is reached (spec §4.9, property P7).
func (cs *ClaimStore) EnforceRAMBudget(ctx context.Context) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.enforceRAMBudgetLocked(ctx)
}

func (cs *ClaimStore) enforceRAMBudgetLocked(ctx context.Context) {
	budgetBytes := int64(cs.cfg.RAMBudgetMB * 1024 * 1024)
	for cs.MemoryUsageBytes() > budgetBytes && cs.graph.size() > cs.cfg.MinimumDeterministicResidentNodes {
		id := cs.pickEvictionCandidate()
		if id == "" {
			return
		}
		cs.graph.remove(id)
		cs.cfg.Logger.Debug("claimstore: evicted claim from in-memory graph", map[string]interface{}{"claim_id": id, "policy": string(cs.cfg.Policy)})
	}
}

func (cs *ClaimStore) pickEvictionCandidate() string {
	policy := resolvedPolicy(cs.cfg.Policy, cs.adaptive)

	var less func(a, b *graphNode) bool
	switch policy {
	case EvictionScore:
		less = func(a, b *graphNode) bool { return a.claim.Confidence < b.claim.Confidence }
	case EvictionHybrid:
		now := cs.cfg.Clock.Now()
		alpha := cs.cfg.HybridAlpha
		composite := func(n *graphNode) float64 {
			age := now.Sub(n.lastAccessAt).Seconds()
			recency := 1.0 / (1.0 + age)
			return alpha*recency + (1-alpha)*n.claim.Confidence
		}
		less = func(a, b *graphNode) bool { return composite(a) < composite(b) }
	case EvictionPriority:
		less = func(a, b *graphNode) bool {
			if a.claim.Priority != b.claim.Priority {
				return a.claim.Priority < b.claim.Priority
			}
			return a.lastAccessAt.Before(b.lastAccessAt)
		}
	default: // EvictionLRU and resolved-adaptive-to-lru
		less = func(a, b *graphNode) bool { return a.lastAccessAt.Before(b.lastAccessAt) }
	}

	ids := cs.graph.candidatesForEviction(less)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// resolvedPolicy maps EvictionAdaptive to its currently-best delegate;
// every other policy resolves to itself.
func resolvedPolicy(policy EvictionPolicy, stats *adaptiveStats) EvictionPolicy {
	if policy != EvictionAdaptive {
		return policy
	}
	return stats.best()
}

// Close releases the durable backend's resources.
func (cs *ClaimStore) Close() error {
	return cs.durable.close()
}

func firstNonZero(t time.Time, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

// mergeClaim merges incoming into previous for a partial_update persist:
// sources and relations are unioned, confidence and audit status take
// incoming's value when set.
func mergeClaim(previous, incoming *Claim) *Claim {
	merged := previous.Clone()
	merged.Text = incoming.Text
	merged.Sources = mergeSources(merged.Sources, incoming.Sources)
	merged.Relations = mergeRelations(merged.Relations, incoming.Relations)
	if len(incoming.Embedding) > 0 {
		merged.Embedding = incoming.Embedding
	}
	if incoming.Confidence != 0 {
		merged.Confidence = incoming.Confidence
	}
	if incoming.AuditStatus != "" {
		merged.AuditStatus = incoming.AuditStatus
	}
	merged.Provenance = append(merged.Provenance, incoming.Provenance...)
	merged.LastAccessedAt = incoming.LastAccessedAt
	return merged
}

func mergeSources(existing, incoming []Source) []Source {
	seen := make(map[string]bool, len(existing))
	out := append([]Source(nil), existing...)
	for _, s := range existing {
		seen[s.URL] = true
	}
	for _, s := range incoming {
		if !seen[s.URL] {
			seen[s.URL] = true
			out = append(out, s)
		}
	}
	return out
}

// mergeRelations unions two relation lists, deduping by (kind, to). The
// `contradicts`-inserted-in-pairs invariant (spec §4.9) is enforced
// separately by mirrorContradictsLocked, not here: this only unions one
// claim's own relation list, never reaches across claims.
func mergeRelations(existing, incoming []Relation) []Relation {
	type key struct {
		kind RelationKind
		to   string
	}
	seen := make(map[key]bool, len(existing))
	out := append([]Relation(nil), existing...)
	for _, r := range existing {
		seen[key{r.Kind, r.To}] = true
	}
	for _, r := range incoming {
		k := key{r.Kind, r.To}
		if !seen[k] {
			seen[k] = true
			out = append(out, r)
		}
	}
	return out
}
