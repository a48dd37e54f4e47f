package orchestration

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ravenoak/autoresearch/core"
	"github.com/ravenoak/autoresearch/resilience"
	"github.com/ravenoak/autoresearch/search"
	"github.com/ravenoak/autoresearch/storage"
	"github.com/ravenoak/autoresearch/telemetry"
)

// QueryResponse is spec §6's outbound response.
type QueryResponse struct {
	Query                 string
	Answer                string
	Reasoning             []string
	Citations             []string
	Confidence            float64
	Claims                []*storage.Claim
	AuditTable            []AuditResult
	Metrics               telemetry.Snapshot
	Errors                []ErrorRecord
	ReactTraces           []ReActTrace
	KnowledgeGraphExports map[string]string // format ("graphml"|"json") -> serialised export
}

// auditRunner is the narrow surface Orchestrator depends on, satisfied by
// *AuditLoop; a seam for substituting a test double without constructing a
// real ClaimStore.
type auditRunner interface {
	Run(ctx context.Context, state *QueryState) ([]AuditResult, error)
}

// Orchestrator is spec §4.1's top-level entry point, binding every other
// component (spec.md's own design note: "Orchestrator — Top-level entry
// point binding all of the above"). Mirrors the teacher's own
// Orchestrator-struct-with-a-single-public-run-method shape.
type Orchestrator struct {
	planner      Planner
	registry     *AgentRegistry
	breakers     map[string]*resilience.CircuitBreaker
	breakerCfg   func(agent string) resilience.Config
	searchEngine *search.SearchEngine
	claimStore   *storage.ClaimStore
	auditLoop    auditRunner
	gatePolicy   *GatePolicy
	metrics      *telemetry.Metrics
	logger       core.Logger
	clock        core.Clock
	retryCfg     *resilience.RetryConfig
}

type OrchestratorConfig struct {
	Planner           Planner
	Registry          *AgentRegistry
	SearchEngine      *search.SearchEngine
	ClaimStore        *storage.ClaimStore
	AuditLoop         auditRunner
	GatePolicy        *GatePolicy
	Metrics           *telemetry.Metrics
	Logger            core.Logger
	Clock             core.Clock
	RetryConfig       *resilience.RetryConfig
	BreakerThreshold  float64
	BreakerCooldownMS int
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = core.RealClock{}
	}
	planner := cfg.Planner
	if planner == nil {
		planner = SingletonPlanner{}
	}
	retryCfg := cfg.RetryConfig
	if retryCfg == nil {
		retryCfg = resilience.DefaultRetryConfig()
	}
	return &Orchestrator{
		planner:      planner,
		registry:     cfg.Registry,
		breakers:     make(map[string]*resilience.CircuitBreaker),
		searchEngine: cfg.SearchEngine,
		claimStore:   cfg.ClaimStore,
		auditLoop:    cfg.AuditLoop,
		gatePolicy:   cfg.GatePolicy,
		metrics:      cfg.Metrics,
		logger:       logger,
		clock:        clock,
		retryCfg:     retryCfg,
		breakerCfg: func(agent string) resilience.Config {
			return resilience.Config{
				Name:      agent,
				Threshold: cfg.BreakerThreshold,
				Cooldown:  time.Duration(cfg.BreakerCooldownMS) * time.Millisecond,
				Logger:    logger,
				Clock:     clock,
				Metrics:   cfg.Metrics,
			}
		},
	}
}

func (o *Orchestrator) breakerFor(agent string) *resilience.CircuitBreaker {
	if cb, ok := o.breakers[agent]; ok {
		return cb
	}
	cb := resilience.New(o.breakerCfg(agent))
	o.breakers[agent] = cb
	return cb
}

// RunQuery implements spec §4.1's 7-step algorithm.
func (o *Orchestrator) RunQuery(ctx context.Context, query string, cfg RuntimeConfig) (*QueryResponse, error) {
	if !isSupportedReasoningMode(cfg.ReasoningMode) {
		o.logger.Error("unsupported reasoning mode", map[string]interface{}{"mode": cfg.ReasoningMode})
		return &QueryResponse{
			Query: query,
			Errors: []ErrorRecord{{
				Kind:      string(core.KindCritical),
				Component: "orchestrator",
				Message:   "ReasoningModeError: unsupported reasoning mode",
				Count:     1,
			}},
		}, core.New(core.KindCritical, "orchestrator", "run_query", core.ErrUnsupportedReasoningMode)
	}

	// Step 1: initialise QueryState, Metrics, TokenBudgeter.
	state := NewQueryState(query, o.metrics)
	budgeter := NewTokenBudgeter(cfg.TokenBudget, estimateTokens(query), cfg.Loops, cfg.AdaptiveMaxFactor, cfg.AdaptiveMinBuffer)

	// Step 2: ask Planner for a TaskGraph; fall back to a singleton graph.
	graph, err := o.planner.Plan(ctx, query, nil, cfg.Search.Backends)
	if err != nil || graph == nil {
		o.logger.Warn("orchestrator: planning failed, falling back to singleton graph", map[string]interface{}{"error": err})
		graph = SingletonTaskGraph(query)
	}
	state.TaskGraph = graph
	coordinator := NewCoordinator(graph)
	completedTasks := make(map[string]struct{})

	// Step 3: scout pass.
	resolvedAgents, err := o.registry.Resolve(cfg.Agents)
	if err != nil || len(resolvedAgents) == 0 {
		resolvedAgents = []string{"Synthesizer"}
	}
	scoutAgent, scoutErr := o.registry.New("Synthesizer")
	var signals ScoutSignals
	if scoutErr == nil {
		scoutResult, execErr := o.dispatchOne(ctx, scoutAgent, state, cfg, budgeter.PerLoop())
		if execErr == nil {
			state.MergeClaims(scoutResult.Claims)
			state.AppendMessages(scoutResult.Messages)
			signals = deriveScoutSignals(scoutResult)
		} else {
			o.recordAgentError(state, scoutAgent.Role(), execErr)
		}
	}

	// Step 4: GatePolicy decision. reasoning_mode (spec §6) differentiates
	// this step: "direct" always answers off the scout pass alone, never
	// entering a debate loop (spec §8 S1); "chain_of_thought" always runs
	// every configured loop, since deliberate step-by-step reasoning is
	// never cut short by an early direct-answer signal; "dialectical"
	// defers to GatePolicy as before.
	if cfg.ReasoningMode == "direct" {
		if o.metrics != nil {
			if scoutErr == nil {
				o.metrics.RecordAgentGroup(scoutAgent.Role())
			}
			o.metrics.RecordLoopsUsed(1)
		}
		return o.finishResponse(query, state), nil
	}

	var decision GateDecision
	switch {
	case cfg.ReasoningMode == "chain_of_thought":
		decision = GateDecision{Mode: FullDebate, Loops: cfg.Loops}
	case o.gatePolicy != nil:
		decision = o.gatePolicy.Decide(signals, cfg.Loops, nil, o.metrics)
	default:
		decision = GateDecision{Mode: FullDebate, Loops: cfg.Loops}
	}

	if decision.Mode == DirectAnswer {
		if o.metrics != nil {
			o.metrics.RecordLoopsUsed(1)
		}
		return o.finishResponse(query, state), nil
	}

	loopsToRun := decision.Loops
	if loopsToRun < 1 {
		loopsToRun = 1
	}

	// Step 5: execute loops.
	groups := cfg.groups()
	for loop := 0; loop < loopsToRun; loop++ {
		state.LoopIndex = loop
		scheduled := coordinatorAgentOrder(coordinator, completedTasks, resolvedAgents)
		order := rotate(scheduled, state.PrimusIndex)
		orderedGroups := regroup(groups, order)

		for _, group := range orderedGroups {
			groupResults := o.dispatchGroup(ctx, group, state, cfg, budgeter.PerGroup(len(orderedGroups)))
			for _, gr := range groupResults {
				state.MergeClaims(gr.Claims)
				state.AppendMessages(gr.Messages)
			}
			if o.metrics != nil {
				o.metrics.RecordAgentGroup(strings.Join(group, "; "))
			}
			markTasksCompleted(coordinator, completedTasks, group)
		}

		state.PrimusIndex = (state.PrimusIndex + 1) % len(resolvedAgents)
		for _, agent := range resolvedAgents {
			o.breakerFor(agent).Tick(o.clock.Now())
		}
	}
	if o.metrics != nil {
		o.metrics.RecordLoopsUsed(loopsToRun)
	}

	// Step 6: AuditLoop.
	if o.auditLoop != nil {
		auditResults, auditErr := o.auditLoop.Run(ctx, state)
		state.AuditResults = append(state.AuditResults, auditResults...)
		if auditErr != nil && core.IsCritical(auditErr) {
			state.RecordError(string(core.KindCritical), "claimstore", "StorageError: "+auditErr.Error())
			return o.finishResponse(query, state), auditErr
		}
	}

	// Step 7: format response.
	return o.finishResponse(query, state), nil
}

// dispatchGroup runs agents within a group sequentially (spec §5), one
// group at a time.
func (o *Orchestrator) dispatchGroup(ctx context.Context, group []string, state *QueryState, cfg RuntimeConfig, tokenBudget int) []AgentResult {
	var results []AgentResult
	for _, name := range group {
		agent, err := o.registry.New(name)
		if err != nil {
			o.recordAgentError(state, name, err)
			continue
		}
		cb := o.breakerFor(name)
		if cb.IsOpen() {
			o.logger.Warn("orchestrator: skipping agent, breaker open", map[string]interface{}{"agent": name})
			continue
		}
		result, execErr := o.dispatchOne(ctx, agent, state, cfg, tokenBudget)
		if execErr != nil {
			o.recordAgentError(state, name, execErr)
			cb.Failure(core.Classify(execErr))
			continue
		}
		cb.Success()
		results = append(results, result)
	}
	return results
}

func (o *Orchestrator) dispatchOne(ctx context.Context, agent Agent, state *QueryState, cfg RuntimeConfig, tokenBudget int) (AgentResult, error) {
	var result AgentResult
	err := resilience.Retry(ctx, o.retryCfg, func() error {
		var execErr error
		result, execErr = agent.Execute(ctx, state, cfg)
		return execErr
	})
	if err == nil && o.metrics != nil {
		o.metrics.RecordAgentExecuted(agent.Role())
		o.metrics.RecordTokenUsage(agent.Role(), result.PromptTokens, result.CompletionTokens)
	}
	return result, err
}

func (o *Orchestrator) recordAgentError(state *QueryState, agent string, err error) {
	kind := core.Classify(err)
	state.RecordError(string(kind), "agent/"+agent, err.Error())
}

func (o *Orchestrator) finishResponse(query string, state *QueryState) *QueryResponse {
	answer, confidence, citations := selectAnswer(state)
	var snapshot telemetry.Snapshot
	if o.metrics != nil {
		snapshot = o.metrics.Snapshot()
	}
	claims := state.Claims()
	return &QueryResponse{
		Query:       query,
		Answer:      answer,
		Reasoning:   append([]string(nil), state.Messages...),
		Citations:   citations,
		Confidence:  confidence,
		Claims:      claims,
		AuditTable:  state.AuditResults,
		Metrics:     snapshot,
		Errors:      state.Errors(),
		ReactTraces: state.ReactLog,
		KnowledgeGraphExports: map[string]string{
			"graphml": ExportKnowledgeGraphGraphML(claims),
			"json":    ExportKnowledgeGraphJSON(claims),
		},
	}
}

// selectAnswer picks the highest-confidence supported synthesis claim
// (spec §4.1 step 7).
func selectAnswer(state *QueryState) (answer string, confidence float64, citations []string) {
	var best *storage.Claim
	for _, c := range state.Claims() {
		if c.Kind != storage.KindSynthesis {
			continue
		}
		if best == nil || c.Confidence > best.Confidence {
			best = c
		}
	}
	if best == nil {
		return "", 0, nil
	}
	for _, s := range best.Sources {
		citations = append(citations, s.URL)
	}
	return best.Text, best.Confidence, citations
}

func isSupportedReasoningMode(mode string) bool {
	switch mode {
	case "direct", "dialectical", "chain_of_thought":
		return true
	default:
		return false
	}
}

// estimateTokens is a conservative whitespace-token estimate — the core
// never depends on a specific model's tokenizer (spec §1 Non-goals: LLM
// provider transport details are out of scope).
func estimateTokens(text string) int {
	return len(strings.Fields(text))
}

func rotate(agents []string, primusIndex int) []string {
	if len(agents) == 0 {
		return nil
	}
	n := len(agents)
	start := ((primusIndex % n) + n) % n
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = agents[(start+i)%n]
	}
	return out
}

// regroup re-partitions configured groups to match the rotated agent
// order, preserving each group's membership but visiting groups in the
// order their first member appears in order.
func regroup(groups [][]string, order []string) [][]string {
	position := make(map[string]int, len(order))
	for i, name := range order {
		position[name] = i
	}
	type indexedGroup struct {
		group []string
		rank  int
	}
	indexed := make([]indexedGroup, 0, len(groups))
	for _, g := range groups {
		rank := len(order)
		for _, name := range g {
			if p, ok := position[name]; ok && p < rank {
				rank = p
			}
		}
		indexed = append(indexed, indexedGroup{group: g, rank: rank})
	}
	sort.SliceStable(indexed, func(i, j int) bool { return indexed[i].rank < indexed[j].rank })
	out := make([][]string, len(indexed))
	for i, ig := range indexed {
		out[i] = ig.group
	}
	return out
}

// coordinatorAgentOrder asks Coordinator for the TaskGraph's not yet
// completed task ids (already topologically and tie-break ordered by
// BuildTaskGraph) and maps them onto the configured agent names via each
// task's AgentRole, so the planner's scheduling decision — not just
// round-robin rotation — decides which agent group goes first within a
// loop. Agents with no matching task node (e.g. a coalition member the
// planner didn't model) keep their original relative order at the end.
func coordinatorAgentOrder(c *Coordinator, completed map[string]struct{}, resolvedAgents []string) []string {
	inResolved := make(map[string]struct{}, len(resolvedAgents))
	for _, a := range resolvedAgents {
		inResolved[a] = struct{}{}
	}
	seen := make(map[string]struct{}, len(resolvedAgents))
	var ordered []string
	for _, id := range c.Next(completed) {
		node, ok := c.Node(id)
		if !ok || node.AgentRole == "" {
			continue
		}
		if _, ok := inResolved[node.AgentRole]; !ok {
			continue
		}
		if _, dup := seen[node.AgentRole]; dup {
			continue
		}
		ordered = append(ordered, node.AgentRole)
		seen[node.AgentRole] = struct{}{}
	}
	for _, a := range resolvedAgents {
		if _, ok := seen[a]; !ok {
			ordered = append(ordered, a)
		}
	}
	return ordered
}

// markTasksCompleted marks every still-pending TaskGraph node whose
// AgentRole matches one of the just-dispatched agents as completed, so the
// next loop's Coordinator.Next call schedules whatever remains.
func markTasksCompleted(c *Coordinator, completed map[string]struct{}, group []string) {
	dispatched := make(map[string]struct{}, len(group))
	for _, name := range group {
		dispatched[name] = struct{}{}
	}
	for _, id := range c.graph.TopologicalOrder {
		if _, done := completed[id]; done {
			continue
		}
		node, ok := c.Node(id)
		if !ok {
			continue
		}
		if _, ok := dispatched[node.AgentRole]; ok {
			completed[id] = struct{}{}
		}
	}
}

// deriveScoutSignals derives GatePolicy inputs from the scout pass's
// result — a deliberately simple, deterministic heuristic: an empty scout
// draft reads as maximal conflict/complexity (nothing to ground a direct
// answer on); a non-empty draft with no antithesis-kind claims reads as
// high overlap, no conflict, low complexity.
func deriveScoutSignals(result AgentResult) ScoutSignals {
	if len(result.Claims) == 0 {
		return ScoutSignals{RetrievalOverlap: 0, ConflictScore: 1, Complexity: 1}
	}
	signals := ScoutSignals{RetrievalOverlap: 0.9, ConflictScore: 0, Complexity: 0.2}
	for _, c := range result.Claims {
		if c.Kind == storage.KindAntithesis {
			signals.ConflictScore++
		}
	}
	return signals
}
