package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ravenoak/autoresearch/core"
	"github.com/ravenoak/autoresearch/modeladapter"
	"github.com/ravenoak/autoresearch/resilience"
	"github.com/ravenoak/autoresearch/storage"
	"github.com/ravenoak/autoresearch/telemetry"
)

func baseRuntimeConfig(agents []string, loops int) RuntimeConfig {
	return RuntimeConfig{
		Agents:            agents,
		Loops:             loops,
		ReasoningMode:     "dialectical",
		TokenBudget:       4000,
		AdaptiveMaxFactor: 4.0,
		AdaptiveMinBuffer: 64,
		Gate:              GateConfig{OverlapThreshold: 0.8, ConflictThreshold: 0.3, ComplexityThreshold: 0.6, Enabled: true},
	}
}

func fastRetryConfig() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 1.0,
		JitterEnabled: false,
	}
}

func newTestOrchestrator(registry *AgentRegistry, audit auditRunner, gate *GatePolicy, metrics *telemetry.Metrics) *Orchestrator {
	return NewOrchestrator(OrchestratorConfig{
		Planner:     SingletonPlanner{},
		Registry:    registry,
		AuditLoop:   audit,
		GatePolicy:  gate,
		Metrics:     metrics,
		Logger:      &core.NoOpLogger{},
		Clock:       core.RealClock{},
		RetryConfig: fastRetryConfig(),
	})
}

// TestRunQueryDirectAnswerS1 covers spec §8 S1 verbatim: config =
// {mode: direct, loops: 2} runs exactly one Synthesizer invocation
// regardless of the configured loop count, never consulting GatePolicy.
func TestRunQueryDirectAnswerS1(t *testing.T) {
	registry := NewAgentRegistry()
	registry.Register("Synthesizer", func() Agent {
		return NewSynthesizerAgent(modeladapter.NewMock("Paris is the capital of France."), modeladapter.Params{})
	})
	metrics := telemetry.NewMetrics("test", &core.NoOpLogger{})
	// GatePolicy is wired but must never be consulted in direct mode.
	gate := NewGatePolicy(GateConfig{OverlapThreshold: 0.8, ConflictThreshold: 0.3, ComplexityThreshold: 0.6, Enabled: true})
	orch := newTestOrchestrator(registry, nil, gate, metrics)

	cfg := baseRuntimeConfig([]string{"Synthesizer"}, 2)
	cfg.ReasoningMode = "direct"
	resp, err := orch.RunQuery(context.Background(), "what is the capital of France?", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer == "" {
		t.Fatal("expected a non-empty direct answer")
	}
	snap := metrics.Snapshot()
	if snap.GateRecord != nil {
		t.Fatalf("direct mode must never consult GatePolicy, got a recorded decision: %v", snap.GateRecord)
	}
	if snap.LoopsUsed != 1 {
		t.Fatalf("direct mode should record exactly 1 loop even with loops=2 configured, got %d", snap.LoopsUsed)
	}
	if len(snap.AgentsRun) != 1 || snap.AgentsRun[0] != "Synthesizer" {
		t.Fatalf("expected agents_executed=[Synthesizer], got %v", snap.AgentsRun)
	}
	if len(snap.AgentGroups) != 1 || snap.AgentGroups[0] != "Synthesizer" {
		t.Fatalf("expected agent_groups=[Synthesizer], got %v", snap.AgentGroups)
	}
}

// TestRunQueryChainOfThoughtAlwaysRunsAllLoops covers reasoning_mode's
// "chain_of_thought" differentiation: every configured loop executes, even
// when scout signals would otherwise trigger a direct answer.
func TestRunQueryChainOfThoughtAlwaysRunsAllLoops(t *testing.T) {
	registry := NewAgentRegistry()
	registry.Register("Synthesizer", func() Agent {
		return NewSynthesizerAgent(modeladapter.NewMock("a synthesized answer"), modeladapter.Params{})
	})
	metrics := telemetry.NewMetrics("test", &core.NoOpLogger{})
	// A permissive gate that would pick DirectAnswer for a clean scout
	// pass, proving chain_of_thought bypasses it entirely.
	gate := NewGatePolicy(GateConfig{OverlapThreshold: 0.1, ConflictThreshold: 0.9, ComplexityThreshold: 0.9, Enabled: true})
	orch := newTestOrchestrator(registry, nil, gate, metrics)

	cfg := baseRuntimeConfig([]string{"Synthesizer"}, 3)
	cfg.ReasoningMode = "chain_of_thought"
	_, err := orch.RunQuery(context.Background(), "walk me through it", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := metrics.Snapshot()
	if snap.GateRecord != nil {
		t.Fatalf("chain_of_thought must never consult GatePolicy, got a recorded decision: %v", snap.GateRecord)
	}
	if snap.LoopsUsed != 3 {
		t.Fatalf("chain_of_thought should run every configured loop, got %d", snap.LoopsUsed)
	}
}

// TestRunQueryFullDebateS2 covers S2: with the gate forced open (no
// GatePolicy wired), every configured loop and agent runs and their claims
// are merged into the final response.
func TestRunQueryFullDebateS2(t *testing.T) {
	registry := NewAgentRegistry()
	registry.Register("Synthesizer", func() Agent {
		return NewSynthesizerAgent(modeladapter.NewMock("a synthesized answer"), modeladapter.Params{})
	})
	registry.Register("Contrarian", func() Agent {
		return NewContrarianAgent(modeladapter.NewMock("a counter-claim"), modeladapter.Params{})
	})
	metrics := telemetry.NewMetrics("test", &core.NoOpLogger{})
	orch := newTestOrchestrator(registry, nil, nil, metrics)

	cfg := baseRuntimeConfig([]string{"Synthesizer", "Contrarian"}, 2)
	resp, err := orch.RunQuery(context.Background(), "is X better than Y?", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := metrics.Snapshot()
	if snap.LoopsUsed != 2 {
		t.Fatalf("expected 2 loops used, got %d", snap.LoopsUsed)
	}
	if len(snap.AgentsRun) == 0 {
		t.Fatal("expected agents to be recorded as run")
	}
	var sawSynthesis, sawAntithesis bool
	for _, c := range resp.Claims {
		if c.Kind == storage.KindSynthesis {
			sawSynthesis = true
		}
		if c.Kind == storage.KindAntithesis {
			sawAntithesis = true
		}
	}
	if !sawSynthesis || !sawAntithesis {
		t.Fatalf("expected both synthesis and antithesis claims, got %+v", resp.Claims)
	}
}

// flakyAgent fails its first N executions, then succeeds — used to drive
// S3's transient-error recovery path through resilience.Retry.
type flakyAgent struct {
	role        string
	failures    int
	calls       int
	claimText   string
}

func (f *flakyAgent) Role() string { return f.role }

func (f *flakyAgent) Execute(ctx context.Context, state *QueryState, cfg RuntimeConfig) (AgentResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return AgentResult{}, core.New(core.KindTransient, "agent", "execute", errors.New("transient backend hiccup"))
	}
	return AgentResult{Claims: []*storage.Claim{{
		ID:         f.role + "-claim",
		Text:       f.claimText,
		Kind:       storage.KindSynthesis,
		Confidence: 0.6,
	}}}, nil
}

// TestRunQueryRecoversFromTransientErrorS3 covers S3: an agent failing
// transiently within max_retries still contributes its claims and is not
// recorded as an unrecovered error.
func TestRunQueryRecoversFromTransientErrorS3(t *testing.T) {
	agent := &flakyAgent{role: "Synthesizer", failures: 2, claimText: "recovered answer"}
	registry := NewAgentRegistry()
	registry.Register("Synthesizer", func() Agent { return agent })
	metrics := telemetry.NewMetrics("test", &core.NoOpLogger{})
	orch := newTestOrchestrator(registry, nil, nil, metrics)

	resp, err := orch.RunQuery(context.Background(), "flaky query", baseRuntimeConfig([]string{"Synthesizer"}, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Claims) == 0 {
		t.Fatal("expected the recovered agent's claim to be merged")
	}
	for _, e := range resp.Errors {
		if e.Component == "agent/Synthesizer" {
			t.Fatalf("transient failures recovered within max_retries should not be recorded as unrecovered errors, got %+v", e)
		}
	}
}

// fakeAuditRunner lets S4 simulate a critical ClaimStore failure without
// constructing a real storage.ClaimStore.
type fakeAuditRunner struct{ err error }

func (f *fakeAuditRunner) Run(ctx context.Context, state *QueryState) ([]AuditResult, error) {
	return nil, f.err
}

// TestRunQueryPropagatesCriticalStorageFailureS4 covers S4: a critical
// storage error during the audit loop short-circuits straight to response
// formatting and is surfaced as both the returned error and an error record.
func TestRunQueryPropagatesCriticalStorageFailureS4(t *testing.T) {
	registry := NewAgentRegistry()
	registry.Register("Synthesizer", func() Agent {
		return NewSynthesizerAgent(modeladapter.NewMock("an answer"), modeladapter.Params{})
	})
	storageErr := core.New(core.KindCritical, "claimstore", "persist_claim", errors.New("disk full"))
	audit := &fakeAuditRunner{err: storageErr}
	metrics := telemetry.NewMetrics("test", &core.NoOpLogger{})
	orch := newTestOrchestrator(registry, audit, nil, metrics)

	resp, err := orch.RunQuery(context.Background(), "query", baseRuntimeConfig([]string{"Synthesizer"}, 1))
	if err == nil || !core.IsCritical(err) {
		t.Fatalf("expected a critical error, got %v", err)
	}
	found := false
	for _, e := range resp.Errors {
		if e.Component == "claimstore" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a claimstore error record, got %+v", resp.Errors)
	}
}

// TestRunQueryRejectsUnsupportedReasoningModeS5 covers S5: an unknown
// reasoning mode fails fast with a structured error, never dispatching any
// agent.
func TestRunQueryRejectsUnsupportedReasoningModeS5(t *testing.T) {
	registry := NewAgentRegistry()
	called := false
	registry.Register("Synthesizer", func() Agent {
		called = true
		return NewSynthesizerAgent(modeladapter.NewMock("unused"), modeladapter.Params{})
	})
	metrics := telemetry.NewMetrics("test", &core.NoOpLogger{})
	orch := newTestOrchestrator(registry, nil, nil, metrics)

	cfg := baseRuntimeConfig([]string{"Synthesizer"}, 1)
	cfg.ReasoningMode = "quantum_leap"
	resp, err := orch.RunQuery(context.Background(), "query", cfg)
	if err == nil {
		t.Fatal("expected an error for an unsupported reasoning mode")
	}
	if !errors.Is(err, core.ErrUnsupportedReasoningMode) {
		t.Fatalf("expected ErrUnsupportedReasoningMode, got %v", err)
	}
	if called {
		t.Fatal("no agent should be dispatched for an unsupported reasoning mode")
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("expected exactly 1 error record, got %d", len(resp.Errors))
	}
}
