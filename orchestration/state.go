package orchestration

import (
	"time"

	"github.com/ravenoak/autoresearch/storage"
	"github.com/ravenoak/autoresearch/telemetry"
)

// ReActStep is one entry in an append-only thought/action/observation log
// (spec §3).
type ReActStep struct {
	Timestamp   time.Time
	Thought     string
	Action      string
	Observation string
	Tool        string
	Input       string
	Output      string
	Confidence  *float64
}

// ReActTrace is an append-only, snapshot-serialisable sequence of
// ReActSteps attached to one executing task (spec §4.7).
type ReActTrace struct {
	TaskID string
	Steps  []ReActStep
}

// ErrorRecord is one QueryResponse.errors[] entry (spec §7: "errors[]
// enumerates all non-recovered events with {kind, component, message,
// count}").
type ErrorRecord struct {
	Kind      string
	Component string
	Message   string
	Count     int
}

// QueryState is the Orchestrator-owned per-query mutable aggregate (spec
// §3). Agents receive a read-only snapshot (spec §5); only the
// Orchestrator mutates it, at the merge step.
type QueryState struct {
	Query       string
	LoopIndex   int
	PrimusIndex int

	claims     map[string]*storage.Claim
	claimOrder []string

	Messages  []string
	errors    map[string]*ErrorRecord
	errorOrder []string

	Metrics    *telemetry.Metrics
	ReactLog   []ReActTrace
	TaskGraph  *TaskGraph
	AuditResults []AuditResult
}

// NewQueryState builds an empty QueryState for query, with metrics handle
// metrics (spec §9: constructed and passed explicitly, never a global).
func NewQueryState(query string, metrics *telemetry.Metrics) *QueryState {
	return &QueryState{
		Query:   query,
		claims:  make(map[string]*storage.Claim),
		errors:  make(map[string]*ErrorRecord),
		Metrics: metrics,
	}
}

// ClaimOrder returns claim ids in insertion order (spec §3 invariant:
// "claims preserves insertion order for reproducibility").
func (qs *QueryState) ClaimOrder() []string {
	return append([]string(nil), qs.claimOrder...)
}

// Claim looks up a claim by id.
func (qs *QueryState) Claim(id string) (*storage.Claim, bool) {
	c, ok := qs.claims[id]
	return c, ok
}

// Claims returns every claim in insertion order.
func (qs *QueryState) Claims() []*storage.Claim {
	out := make([]*storage.Claim, 0, len(qs.claimOrder))
	for _, id := range qs.claimOrder {
		out = append(out, qs.claims[id])
	}
	return out
}

// MergeClaims implements spec §5's set-union-on-id merge: commutative and
// idempotent (property P5), so the order groups complete in never affects
// the final claim set. New ids are appended in the order first seen within
// this merge call; an existing id's claim is replaced (last writer for
// that id within the call wins — callers merge one group's claims at a
// time, never interleaving distinct groups' deltas for the same id).
func (qs *QueryState) MergeClaims(claims []*storage.Claim) {
	for _, c := range claims {
		if _, exists := qs.claims[c.ID]; !exists {
			qs.claimOrder = append(qs.claimOrder, c.ID)
		}
		qs.claims[c.ID] = c
	}
}

// RecordError accumulates a non-recovered event into QueryState.errors,
// incrementing Count when the same (kind, component, message) repeats
// (spec §7: "{kind, component, message, count}").
func (qs *QueryState) RecordError(kind, component, message string) {
	key := kind + "|" + component + "|" + message
	if rec, ok := qs.errors[key]; ok {
		rec.Count++
		return
	}
	rec := &ErrorRecord{Kind: kind, Component: component, Message: message, Count: 1}
	qs.errors[key] = rec
	qs.errorOrder = append(qs.errorOrder, key)
}

// Errors returns recorded error records in first-seen order.
func (qs *QueryState) Errors() []ErrorRecord {
	out := make([]ErrorRecord, 0, len(qs.errorOrder))
	for _, key := range qs.errorOrder {
		out = append(out, *qs.errors[key])
	}
	return out
}

// AppendMessages appends to the append-only messages log.
func (qs *QueryState) AppendMessages(msgs []string) {
	qs.Messages = append(qs.Messages, msgs...)
}

// AppendReactTrace appends one task's ReAct trace.
func (qs *QueryState) AppendReactTrace(trace ReActTrace) {
	qs.ReactLog = append(qs.ReactLog, trace)
}

// Snapshot is QueryState's deep-clonable, lock-free serialisation form
// (spec §5: "QueryState can be deep-cloned for registries ... Clones
// rebuild any internal locks — they are NOT shared across snapshots").
// QueryState itself holds no locks (the Orchestrator is the sole mutator,
// per spec §5), so Snapshot/Restore is a plain deep copy rather than a
// lock-rebuilding exercise — but the same "never share mutable state
// across clones" invariant holds for its map-backed fields.
type Snapshot struct {
	Query       string
	LoopIndex   int
	PrimusIndex int
	ClaimOrder  []string
	Claims      map[string]*storage.Claim
	Messages    []string
	Errors      []ErrorRecord
	ReactLog    []ReActTrace
}

// ToSnapshot deep-clones QueryState's claim set, ordering, and audit
// statuses (property P10: "QueryState → snapshot → QueryState preserves
// the claim set, ordering, and audit statuses").
func (qs *QueryState) ToSnapshot() Snapshot {
	claims := make(map[string]*storage.Claim, len(qs.claims))
	for id, c := range qs.claims {
		claims[id] = c.Clone()
	}
	return Snapshot{
		Query:       qs.Query,
		LoopIndex:   qs.LoopIndex,
		PrimusIndex: qs.PrimusIndex,
		ClaimOrder:  append([]string(nil), qs.claimOrder...),
		Claims:      claims,
		Messages:    append([]string(nil), qs.Messages...),
		Errors:      qs.Errors(),
		ReactLog:    append([]ReActTrace(nil), qs.ReactLog...),
	}
}

// FromSnapshot rebuilds a QueryState from a Snapshot, round-tripping the
// claim set, ordering, and audit statuses (P10). The rebuilt state gets a
// fresh errors index — Errors is restored from the snapshot's already-
// aggregated records, not replayed key-by-key.
func FromSnapshot(snap Snapshot, metrics *telemetry.Metrics) *QueryState {
	qs := NewQueryState(snap.Query, metrics)
	qs.LoopIndex = snap.LoopIndex
	qs.PrimusIndex = snap.PrimusIndex
	for _, id := range snap.ClaimOrder {
		qs.claims[id] = snap.Claims[id].Clone()
	}
	qs.claimOrder = append([]string(nil), snap.ClaimOrder...)
	qs.Messages = append([]string(nil), snap.Messages...)
	qs.ReactLog = append([]ReActTrace(nil), snap.ReactLog...)
	for _, rec := range snap.Errors {
		key := rec.Kind + "|" + rec.Component + "|" + rec.Message
		cp := rec
		qs.errors[key] = &cp
		qs.errorOrder = append(qs.errorOrder, key)
	}
	return qs
}
