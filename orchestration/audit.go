package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/ravenoak/autoresearch/core"
	"github.com/ravenoak/autoresearch/search"
	"github.com/ravenoak/autoresearch/storage"
)

// AckOutcome is what OperatorAck.Wait returns (spec §6).
type AckOutcome int

const (
	AckReceived AckOutcome = iota
	AckTimeout
)

// OperatorAck is the capability AuditLoop blocks on when
// audit.require_human_ack is set and a claim is unsupported (spec §6).
type OperatorAck interface {
	Wait(ctx context.Context, timeout time.Duration) (AckOutcome, error)
}

// AuditResult is one claim's re-verification outcome, recorded into
// QueryState.AuditResults and surfaced as QueryResponse.audit_table[].
type AuditResult struct {
	ClaimID    string
	Status     storage.AuditStatus
	Retries    int
	AckOutcome *AckOutcome
}

// AuditLoop implements spec §4.6's per-claim re-verification pipeline.
type AuditLoop struct {
	cfg         AuditConfig
	searchEngine *search.SearchEngine
	claimStore  *storage.ClaimStore
	ack         OperatorAck
	clock       core.Clock
	logger      core.Logger
}

type AuditLoopConfig struct {
	Audit        AuditConfig
	SearchEngine *search.SearchEngine
	ClaimStore   *storage.ClaimStore
	Ack          OperatorAck
	Clock        core.Clock
	Logger       core.Logger
}

func NewAuditLoop(cfg AuditLoopConfig) *AuditLoop {
	clock := cfg.Clock
	if clock == nil {
		clock = core.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &AuditLoop{
		cfg:          cfg.Audit,
		searchEngine: cfg.SearchEngine,
		claimStore:   cfg.ClaimStore,
		ack:          cfg.Ack,
		clock:        clock,
		logger:       logger,
	}
}

var _ auditRunner = (*AuditLoop)(nil)

// Run re-verifies every unverified claim in state (spec §4.6's 5-step
// algorithm), persisting retries and outcomes atomically via
// ClaimStore.UpdateClaim, and appends one AuditResult per claim processed.
func (al *AuditLoop) Run(ctx context.Context, state *QueryState) ([]AuditResult, error) {
	var results []AuditResult
	for _, id := range state.ClaimOrder() {
		claim, ok := state.Claim(id)
		if !ok || claim.AuditStatus != storage.StatusUnverified {
			continue
		}
		result, err := al.auditOne(ctx, claim)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (al *AuditLoop) auditOne(ctx context.Context, claim *storage.Claim) (AuditResult, error) {
	var (
		attempt int
		support float64
	)
	for attempt = 1; attempt <= al.cfg.MaxRetryResults; attempt++ {
		hits, err := al.retrieveEvidence(ctx, claim)
		if err != nil {
			al.logger.Warn("auditloop: retrieval failed, treating as no new evidence", map[string]interface{}{"claim_id": claim.ID, "error": err})
		}
		support = al.scoreSupport(claim, hits)
		evidenceDelta := fmt.Sprintf("%d candidate results, support=%.2f", len(hits), support)

		if err := al.claimStore.UpdateClaim(ctx, claim.ID, storage.ClaimPatch{
			Provenance: []storage.ProvenanceEntry{{
				Attempt:       attempt,
				Tool:          "search.external_lookup",
				EvidenceDelta: evidenceDelta,
				Timestamp:     al.clock.Now(),
			}},
		}, true); err != nil {
			return AuditResult{}, err
		}

		if support >= 0.7 || support <= 0.2 {
			break
		}
	}
	if attempt > al.cfg.MaxRetryResults {
		attempt = al.cfg.MaxRetryResults
	}

	status := al.classify(support)

	var ackOutcome *AckOutcome
	if al.cfg.RequireHumanAck && status == storage.StatusUnsupported && al.ack != nil {
		outcome, err := al.ack.Wait(ctx, time.Duration(al.cfg.OperatorTimeoutS)*time.Second)
		if err != nil {
			al.logger.Warn("auditloop: operator ack wait failed", map[string]interface{}{"claim_id": claim.ID, "error": err})
		}
		ackOutcome = &outcome
		if outcome == AckTimeout {
			status = storage.StatusHedged
		}
	}

	confidence := support
	if err := al.claimStore.UpdateClaim(ctx, claim.ID, storage.ClaimPatch{
		Confidence:  &confidence,
		AuditStatus: &status,
	}, true); err != nil {
		return AuditResult{}, err
	}

	return AuditResult{ClaimID: claim.ID, Status: status, Retries: attempt, AckOutcome: ackOutcome}, nil
}

// retrieveEvidence dispatches a targeted retrieval for claim.Text (spec
// §4.6 step 2) through the shared SearchEngine.
func (al *AuditLoop) retrieveEvidence(ctx context.Context, claim *storage.Claim) ([]search.SearchResult, error) {
	if al.searchEngine == nil {
		return nil, nil
	}
	return al.searchEngine.ExternalLookup(ctx, claim.Text, search.LookupConfig{
		Weights: search.Weights{BM25: 0.5, Semantic: 0.3, Credibility: 0.2},
		MaxResults: 5,
	})
}

// scoreSupport is a bounded heuristic: the average final_score of the hits,
// clamped to [0,1]; no hits gives 0.1.
func (al *AuditLoop) scoreSupport(claim *storage.Claim, hits []search.SearchResult) float64 {
	if len(hits) == 0 {
		return 0.1
	}
	var sum float64
	for _, h := range hits {
		sum += h.FinalScore
	}
	avg := sum / float64(len(hits))
	if avg > 1 {
		avg = 1
	}
	if avg < 0 {
		avg = 0
	}
	return avg
}

func (al *AuditLoop) classify(support float64) storage.AuditStatus {
	switch {
	case support >= 0.7:
		return storage.StatusSupported
	case support <= 0.2:
		return storage.StatusUnsupported
	default:
		return storage.StatusHedged
	}
}
