package orchestration

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ravenoak/autoresearch/modeladapter"
	"github.com/ravenoak/autoresearch/storage"
)

// AgentResult is the delta an Agent returns; the Orchestrator merges it
// into QueryState atomically at the loop's serialisation point (spec §4.2:
// "An agent MUST NOT mutate state directly; it returns a delta that the
// Orchestrator merges atomically").
type AgentResult struct {
	Claims   []*storage.Claim
	Messages []string
	PromptTokens,
	CompletionTokens int
}

// Agent is spec §4.2's polymorphic worker contract:
// execute(state, config) → AgentResult.
type Agent interface {
	Role() string
	Execute(ctx context.Context, state *QueryState, cfg RuntimeConfig) (AgentResult, error)
}

// baseAgent supplies the shared model-calling plumbing every variant
// below reuses — only the prompt construction and claim interpretation
// differ per role.
type baseAgent struct {
	role    string
	model   modeladapter.ModelAdapter
	params  modeladapter.Params
}

func (a *baseAgent) Role() string { return a.role }

// buildPrompt is deterministic given (state.claims, agent role, config) —
// spec §4.2's replay-test requirement — since it only reads QueryState's
// already-ordered claims slice and the role/config values passed in.
func buildPrompt(role string, state *QueryState, cfg RuntimeConfig) string {
	prompt := fmt.Sprintf("role=%s query=%q loop=%d\n", role, state.Query, state.LoopIndex)
	for _, id := range state.ClaimOrder() {
		c := state.claims[id]
		prompt += fmt.Sprintf("claim[%s]=%s (kind=%s, confidence=%.2f)\n", c.ID, c.Text, c.Kind, c.Confidence)
	}
	return prompt
}

func (a *baseAgent) generate(ctx context.Context, state *QueryState, cfg RuntimeConfig) (modeladapter.Result, error) {
	prompt := buildPrompt(a.role, state, cfg)
	return a.model.Generate(ctx, prompt, a.params)
}

// SynthesizerAgent drafts a candidate answer grounded in retrieved
// sources (spec §4.2).
type SynthesizerAgent struct{ baseAgent }

func NewSynthesizerAgent(model modeladapter.ModelAdapter, params modeladapter.Params) *SynthesizerAgent {
	return &SynthesizerAgent{baseAgent{role: "Synthesizer", model: model, params: params}}
}

func (a *SynthesizerAgent) Execute(ctx context.Context, state *QueryState, cfg RuntimeConfig) (AgentResult, error) {
	result, err := a.generate(ctx, state, cfg)
	if err != nil {
		return AgentResult{}, err
	}
	claim := &storage.Claim{
		ID:         fmt.Sprintf("synthesis-%s", uuid.New().String()),
		Text:       result.Text,
		Kind:       storage.KindSynthesis,
		Confidence: 0.6,
	}
	return AgentResult{
		Claims:           []*storage.Claim{claim},
		Messages:         []string{"synthesizer drafted a candidate answer"},
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
	}, nil
}

// ContrarianAgent produces counter-claims and flags missing citations
// (spec §4.2).
type ContrarianAgent struct{ baseAgent }

func NewContrarianAgent(model modeladapter.ModelAdapter, params modeladapter.Params) *ContrarianAgent {
	return &ContrarianAgent{baseAgent{role: "Contrarian", model: model, params: params}}
}

func (a *ContrarianAgent) Execute(ctx context.Context, state *QueryState, cfg RuntimeConfig) (AgentResult, error) {
	result, err := a.generate(ctx, state, cfg)
	if err != nil {
		return AgentResult{}, err
	}
	claim := &storage.Claim{
		ID:         fmt.Sprintf("antithesis-%s", uuid.New().String()),
		Text:       result.Text,
		Kind:       storage.KindAntithesis,
		Confidence: 0.5,
	}
	// When a thesis or synthesis exists, the contrarian contradicts the
	// highest-confidence one (spec §3 invariant: "contradicts edges are
	// inserted in pairs" — ClaimStore.PersistClaim mirrors the back-edge
	// onto the target once this claim is persisted).
	if target := highestConfidenceThesis(state); target != "" {
		claim.Relations = []storage.Relation{{Kind: storage.RelationContradicts, To: target}}
	}
	return AgentResult{
		Claims:           []*storage.Claim{claim},
		Messages:         []string{"contrarian raised a counter-claim"},
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
	}, nil
}

// highestConfidenceThesis returns the highest-confidence thesis or
// synthesis claim currently in state, the natural target of a contrarian's
// antithesis, or "" if none exists yet.
func highestConfidenceThesis(state *QueryState) string {
	var best *storage.Claim
	for _, c := range state.Claims() {
		if c.Kind != storage.KindThesis && c.Kind != storage.KindSynthesis {
			continue
		}
		if best == nil || c.Confidence > best.Confidence {
			best = c
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// FactCheckerAgent marks every claim in state that has no audit_status yet
// as unverified, which queues it for AuditLoop's re-retrieval (spec §4.2).
// It operates on the claims already present rather than emitting new ones.
// It computes no support score itself; the model output is used only for
// its token counts.
type FactCheckerAgent struct{ baseAgent }

func NewFactCheckerAgent(model modeladapter.ModelAdapter, params modeladapter.Params) *FactCheckerAgent {
	return &FactCheckerAgent{baseAgent{role: "FactChecker", model: model, params: params}}
}

func (a *FactCheckerAgent) Execute(ctx context.Context, state *QueryState, cfg RuntimeConfig) (AgentResult, error) {
	result, err := a.generate(ctx, state, cfg)
	if err != nil {
		return AgentResult{}, err
	}
	var updated []*storage.Claim
	for _, id := range state.ClaimOrder() {
		c := state.claims[id].Clone()
		if c.AuditStatus == "" || c.AuditStatus == storage.StatusUnverified {
			c.AuditStatus = storage.StatusUnverified
			updated = append(updated, c)
		}
	}
	return AgentResult{
		Claims:           updated,
		Messages:         []string{"factchecker scored existing claims for support"},
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
	}, nil
}

// ResearcherAgent (spec §4.2) returns the claims held in SearchHits, as set
// by whoever constructs it. It issues no searches and makes no model call
// itself, and the Orchestrator does not populate SearchHits.
type ResearcherAgent struct {
	baseAgent
	SearchHits []*storage.Claim
}

func NewResearcherAgent(model modeladapter.ModelAdapter, params modeladapter.Params) *ResearcherAgent {
	return &ResearcherAgent{baseAgent: baseAgent{role: "Researcher", model: model, params: params}}
}

func (a *ResearcherAgent) Execute(ctx context.Context, state *QueryState, cfg RuntimeConfig) (AgentResult, error) {
	return AgentResult{
		Claims:   a.SearchHits,
		Messages: []string{fmt.Sprintf("researcher retrieved %d candidate claims", len(a.SearchHits))},
	}, nil
}

// ModeratorAgent, SummarizerAgent, DomainSpecialistAgent, and UserAgent
// are optional variants sharing the same execute contract (spec §4.2).
type ModeratorAgent struct{ baseAgent }

func NewModeratorAgent(model modeladapter.ModelAdapter, params modeladapter.Params) *ModeratorAgent {
	return &ModeratorAgent{baseAgent{role: "Moderator", model: model, params: params}}
}

func (a *ModeratorAgent) Execute(ctx context.Context, state *QueryState, cfg RuntimeConfig) (AgentResult, error) {
	result, err := a.generate(ctx, state, cfg)
	if err != nil {
		return AgentResult{}, err
	}
	return AgentResult{Messages: []string{result.Text}, PromptTokens: result.PromptTokens, CompletionTokens: result.CompletionTokens}, nil
}

type SummarizerAgent struct{ baseAgent }

func NewSummarizerAgent(model modeladapter.ModelAdapter, params modeladapter.Params) *SummarizerAgent {
	return &SummarizerAgent{baseAgent{role: "Summarizer", model: model, params: params}}
}

func (a *SummarizerAgent) Execute(ctx context.Context, state *QueryState, cfg RuntimeConfig) (AgentResult, error) {
	result, err := a.generate(ctx, state, cfg)
	if err != nil {
		return AgentResult{}, err
	}
	claim := &storage.Claim{
		ID:         fmt.Sprintf("summary-%s", uuid.New().String()),
		Text:       result.Text,
		Kind:       storage.KindSynthesis,
		Confidence: 0.55,
	}
	return AgentResult{Claims: []*storage.Claim{claim}, PromptTokens: result.PromptTokens, CompletionTokens: result.CompletionTokens}, nil
}

type DomainSpecialistAgent struct {
	baseAgent
	Domain string
}

func NewDomainSpecialistAgent(domain string, model modeladapter.ModelAdapter, params modeladapter.Params) *DomainSpecialistAgent {
	return &DomainSpecialistAgent{baseAgent: baseAgent{role: "DomainSpecialist:" + domain, model: model, params: params}, Domain: domain}
}

func (a *DomainSpecialistAgent) Execute(ctx context.Context, state *QueryState, cfg RuntimeConfig) (AgentResult, error) {
	result, err := a.generate(ctx, state, cfg)
	if err != nil {
		return AgentResult{}, err
	}
	claim := &storage.Claim{
		ID:         fmt.Sprintf("%s-%s", a.Domain, uuid.New().String()),
		Text:       result.Text,
		Kind:       storage.KindEvidence,
		Confidence: 0.5,
	}
	return AgentResult{Claims: []*storage.Claim{claim}, PromptTokens: result.PromptTokens, CompletionTokens: result.CompletionTokens}, nil
}

// UserAgent injects operator-provided claims verbatim — the human-in-the-
// loop variant spec §4.2 lists.
type UserAgent struct {
	role   string
	Claims []*storage.Claim
}

func NewUserAgent(claims []*storage.Claim) *UserAgent {
	return &UserAgent{role: "UserAgent", Claims: claims}
}

func (a *UserAgent) Role() string { return a.role }

func (a *UserAgent) Execute(ctx context.Context, state *QueryState, cfg RuntimeConfig) (AgentResult, error) {
	return AgentResult{Claims: a.Claims, Messages: []string{"operator-supplied claims injected"}}, nil
}
