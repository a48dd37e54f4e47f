package orchestration

// TokenBudgeter computes per-loop and per-group token allocations (spec
// §4.4). Grounded in `resilience/retry.go`'s numeric-clamping style (its
// backoff delay is clamped against MaxDelay the same way PerLoop is
// clamped here between a query-derived floor and an adaptive ceiling).
type TokenBudgeter struct {
	budget       int
	queryTokens  int
	loops        int
	adaptiveFactor float64
	minBuffer    int
}

// NewTokenBudgeter builds a budgeter from RuntimeConfig.token_budget,
// query length in tokens, configured loops, and the adaptive factor/buffer
// (spec §6: adaptive_max_factor, adaptive_min_buffer).
func NewTokenBudgeter(budget, queryTokens, loops int, adaptiveFactor float64, minBuffer int) *TokenBudgeter {
	if loops < 1 {
		loops = 1
	}
	if adaptiveFactor <= 1 {
		adaptiveFactor = 4.0
	}
	return &TokenBudgeter{
		budget:         budget,
		queryTokens:    queryTokens,
		loops:          loops,
		adaptiveFactor: adaptiveFactor,
		minBuffer:      minBuffer,
	}
}

// PerLoop implements spec §4.4's clamp formula:
// `per_loop = clamp(b / max(1,l), lower = q + buffer, upper = q * alpha)`.
func (tb *TokenBudgeter) PerLoop() int {
	raw := float64(tb.budget) / float64(tb.loops)
	lower := float64(tb.queryTokens + tb.minBuffer)
	upper := float64(tb.queryTokens) * tb.adaptiveFactor
	if upper < lower {
		upper = lower
	}
	if raw < lower {
		raw = lower
	}
	if raw > upper {
		raw = upper
	}
	return int(raw)
}

// PerGroup divides PerLoop's allocation fairly across groupCount parallel
// groups (spec §4.4: "each group receives a fair share:
// per_loop / group_count").
func (tb *TokenBudgeter) PerGroup(groupCount int) int {
	if groupCount < 1 {
		groupCount = 1
	}
	return tb.PerLoop() / groupCount
}

// Total returns the per-query total: PerLoop multiplied by the configured
// loop count, used by P3's "increasing loops never decreases the total
// per-query budget" monotonicity check.
func (tb *TokenBudgeter) Total() int {
	return tb.PerLoop() * tb.loops
}
