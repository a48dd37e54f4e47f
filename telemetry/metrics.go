// Package telemetry implements the Metrics component: thread-safe counters,
// histograms, and per-agent token ledgers consumed by every layer of the
// orchestration kernel, search engine, and storage layer (spec §2).
package telemetry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ravenoak/autoresearch/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// instruments caches OTel counters/histograms by name so repeated emission
// doesn't re-create an instrument per call.
type instruments struct {
	meter      metric.Meter
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
	mu         sync.RWMutex
}

func newInstruments(meter metric.Meter) *instruments {
	return &instruments{
		meter:      meter,
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (in *instruments) counter(name string) metric.Float64Counter {
	in.mu.RLock()
	c, ok := in.counters[name]
	in.mu.RUnlock()
	if ok {
		return c
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if c, ok = in.counters[name]; ok {
		return c
	}
	c, _ = in.meter.Float64Counter(name)
	in.counters[name] = c
	return c
}

func (in *instruments) histogram(name string) metric.Float64Histogram {
	in.mu.RLock()
	h, ok := in.histograms[name]
	in.mu.RUnlock()
	if ok {
		return h
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if h, ok = in.histograms[name]; ok {
		return h
	}
	h, _ = in.meter.Float64Histogram(name)
	in.histograms[name] = h
	return h
}

// tokenLedger accumulates prompt/completion token counts for one agent using
// atomics only, per spec §5 ("Metrics counters are lock-free or use atomics").
type tokenLedger struct {
	prompt     atomic.Int64
	completion atomic.Int64
	calls      atomic.Int64
}

// TokenUsage is a point-in-time read of a tokenLedger.
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	Calls            int64
}

// GateDecisionRecord is the structured audit record GatePolicy must emit
// into Metrics (spec §4.5).
type GateDecisionRecord struct {
	RetrievalOverlap float64
	ConflictScore    float64
	Complexity       float64
	Decision         string
}

// Snapshot is a synchronous, consistent read of accumulated metrics, used to
// populate QueryResponse.metrics. Unlike the OTel instruments (which are
// write-only from the caller's perspective, collected asynchronously by a
// reader), this is read directly off the same atomics the hot path updates.
type Snapshot struct {
	Counters    map[string]int64
	TokenUsage  map[string]TokenUsage
	GateRecord  *GateDecisionRecord
	LoopsUsed   int
	AgentsRun   []string
	AgentGroups []string
}

// Metrics is the component named in spec §2. One instance is constructed per
// Orchestrator run (or shared across runs for process-wide OTel export) and
// passed explicitly into every component that emits — no package-level
// registry, per spec §9.
type Metrics struct {
	inst   *instruments
	reader *sdkmetric.ManualReader
	logger core.Logger

	mu       sync.Mutex
	counters map[string]*atomic.Int64
	tokens   map[string]*tokenLedger
	gate     atomic.Pointer[GateDecisionRecord]

	loopsUsed   atomic.Int32
	agentsSeq   []string
	agentsMu    sync.Mutex
	agentGroups []string
	groupsMu    sync.Mutex
}

// NewMetrics builds a Metrics instance backed by an in-process OTel SDK
// meter provider. No OTLP exporter is attached here — transport is an
// external shell concern (spec §1 Non-goals); the ManualReader keeps the SDK
// instruments real and collectible by an embedding process without forcing a
// network dependency into the core.
func NewMetrics(serviceName string, logger core.Logger) *Metrics {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter(serviceName)

	return &Metrics{
		inst:     newInstruments(meter),
		reader:   reader,
		logger:   logger,
		counters: make(map[string]*atomic.Int64),
		tokens:   make(map[string]*tokenLedger),
	}
}

func attrsFromLabels(labels []string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	kvs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		kvs = append(kvs, attribute.String(labels[i], labels[i+1]))
	}
	return kvs
}

// Counter increments a named counter by 1, both in the local atomic ledger
// (for synchronous Snapshot) and in the OTel instrument (for export).
func (m *Metrics) Counter(name string, labels ...string) {
	m.CounterBy(name, 1, labels...)
}

// CounterBy increments a named counter by delta.
func (m *Metrics) CounterBy(name string, delta int64, labels ...string) {
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		c = &atomic.Int64{}
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.Add(delta)

	attrs := attrsFromLabels(labels)
	m.inst.counter(name).Add(context.Background(), float64(delta), metric.WithAttributes(attrs...))
}

// Histogram records a single observation (latency, score, etc).
func (m *Metrics) Histogram(name string, value float64, labels ...string) {
	attrs := attrsFromLabels(labels)
	m.inst.histogram(name).Record(context.Background(), value, metric.WithAttributes(attrs...))
}

// RecordTokenUsage accumulates prompt/completion token counts for an agent,
// backing QueryResponse.metrics' per-agent token ledger (spec §2).
func (m *Metrics) RecordTokenUsage(agent string, prompt, completion int) {
	m.mu.Lock()
	l, ok := m.tokens[agent]
	if !ok {
		l = &tokenLedger{}
		m.tokens[agent] = l
	}
	m.mu.Unlock()
	l.prompt.Add(int64(prompt))
	l.completion.Add(int64(completion))
	l.calls.Add(1)

	m.CounterBy("autoresearch.agent.prompt_tokens", int64(prompt), "agent", agent)
	m.CounterBy("autoresearch.agent.completion_tokens", int64(completion), "agent", agent)
}

// RecordGateDecision stores the structured scout-pass record GatePolicy
// must emit for auditability (spec §4.5).
func (m *Metrics) RecordGateDecision(rec GateDecisionRecord) {
	m.gate.Store(&rec)
	m.Counter("autoresearch.gate.decision", "decision", rec.Decision)
	m.Histogram("autoresearch.gate.retrieval_overlap", rec.RetrievalOverlap)
	m.Histogram("autoresearch.gate.conflict_score", rec.ConflictScore)
	m.Histogram("autoresearch.gate.complexity", rec.Complexity)
}

// RecordLoopsUsed sets the number of reasoning loops actually executed.
func (m *Metrics) RecordLoopsUsed(loops int) {
	m.loopsUsed.Store(int32(loops))
}

// RecordAgentExecuted appends an agent name to the executed-order list
// (deduplication is NOT applied — repeat invocations across loops are
// meaningful and preserved in order, per scenarios S1/S2).
func (m *Metrics) RecordAgentExecuted(name string) {
	m.agentsMu.Lock()
	defer m.agentsMu.Unlock()
	m.agentsSeq = append(m.agentsSeq, name)
}

// RecordAgentGroup appends a description of one executed group (e.g. the
// "; "-joined role names that ran in that group) for S1/S2's agent_groups.
func (m *Metrics) RecordAgentGroup(group string) {
	m.groupsMu.Lock()
	defer m.groupsMu.Unlock()
	m.agentGroups = append(m.agentGroups, group)
}

// Snapshot returns a consistent point-in-time read for QueryResponse.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	counters := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v.Load()
	}
	tokens := make(map[string]TokenUsage, len(m.tokens))
	for k, v := range m.tokens {
		tokens[k] = TokenUsage{
			PromptTokens:     v.prompt.Load(),
			CompletionTokens: v.completion.Load(),
			Calls:            v.calls.Load(),
		}
	}
	m.mu.Unlock()

	m.agentsMu.Lock()
	agentsRun := append([]string(nil), m.agentsSeq...)
	m.agentsMu.Unlock()

	m.groupsMu.Lock()
	groups := append([]string(nil), m.agentGroups...)
	m.groupsMu.Unlock()

	return Snapshot{
		Counters:    counters,
		TokenUsage:  tokens,
		GateRecord:  m.gate.Load(),
		LoopsUsed:   int(m.loopsUsed.Load()),
		AgentsRun:   agentsRun,
		AgentGroups: groups,
	}
}

// SortedCounterNames is a small helper for deterministic test/log output.
func (s Snapshot) SortedCounterNames() []string {
	names := make([]string, 0, len(s.Counters))
	for k := range s.Counters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
