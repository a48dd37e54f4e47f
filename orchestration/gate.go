package orchestration

import "github.com/ravenoak/autoresearch/telemetry"

// GateDecision is GatePolicy's output (spec §4.5).
type GateDecision struct {
	Mode  GateMode
	Loops int // debate loops to run: the configured count for FullDebate, 1 for ShortDebate, 0 for DirectAnswer
}

type GateMode string

const (
	DirectAnswer GateMode = "direct_answer"
	ShortDebate  GateMode = "short_debate"
	FullDebate   GateMode = "full_debate"
)

// ScoutSignals are the scout-pass observations GatePolicy decides on (spec
// §4.1 step 3, §4.5).
type ScoutSignals struct {
	RetrievalOverlap float64
	ConflictScore    float64
	Complexity       float64
}

// GatePolicy implements spec §4.5's deterministic scout→debate decision
// rule. An operator override, when set, takes precedence over the
// threshold computation.
type GatePolicy struct {
	cfg GateConfig
}

func NewGatePolicy(cfg GateConfig) *GatePolicy {
	return &GatePolicy{cfg: cfg}
}

// Decide applies spec §4.5's rule and records a structured audit trail
// into metrics. operatorOverride, when non-nil, is returned unconditionally
// (spec §4.5: "Operator overrides take precedence").
func (g *GatePolicy) Decide(signals ScoutSignals, loops int, operatorOverride *GateDecision, metrics *telemetry.Metrics) GateDecision {
	decision := g.decideLocked(signals, loops)
	if operatorOverride != nil {
		decision = *operatorOverride
	}
	if metrics != nil {
		metrics.RecordGateDecision(telemetry.GateDecisionRecord{
			RetrievalOverlap: signals.RetrievalOverlap,
			ConflictScore:    signals.ConflictScore,
			Complexity:       signals.Complexity,
			Decision:         string(decision.Mode),
		})
	}
	return decision
}

// decideLocked applies spec §4.5's three-way rule. RuntimeConfig's
// external interface (spec §6) exposes a single gate.complexity_threshold
// rather than the spec prose's separate T_low/T_complex — this realization
// uses that one threshold as both the direct-answer ceiling and the
// full-debate floor, which is self-consistent: the branches are checked in
// order, so a complexity exactly at the threshold (with high overlap and
// no conflict) still resolves to DirectAnswer before the FullDebate branch
// is reached.
func (g *GatePolicy) decideLocked(signals ScoutSignals, loops int) GateDecision {
	if !g.cfg.Enabled {
		return GateDecision{Mode: FullDebate, Loops: loops}
	}
	switch {
	case signals.RetrievalOverlap >= g.cfg.OverlapThreshold &&
		signals.ConflictScore == 0 &&
		signals.Complexity <= g.cfg.ComplexityThreshold:
		return GateDecision{Mode: DirectAnswer, Loops: 0}
	case signals.ConflictScore >= g.cfg.ConflictThreshold ||
		signals.Complexity >= g.cfg.ComplexityThreshold:
		return GateDecision{Mode: FullDebate, Loops: loops}
	default:
		return GateDecision{Mode: ShortDebate, Loops: 1}
	}
}
