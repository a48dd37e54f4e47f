package orchestration

import "context"

// Planner produces a TaskGraph from the query and prior claims (spec
// §4.7). A Planner implementation is typically model-backed; Orchestrator
// falls back to SingletonTaskGraph when Plan returns an error or an
// unparseable result (spec §4.7: "If the planner's output is unparseable,
// a singleton graph is used").
type Planner interface {
	Plan(ctx context.Context, query string, priorClaims []string, availableTools []string) (*TaskGraph, error)
}

// SingletonPlanner always returns SingletonTaskGraph(query), matching the
// behaviour of a Planner with no model backing it — the degenerate case
// spec §4.1 step 2 describes for RunQuery when planning is unavailable.
type SingletonPlanner struct{}

func (SingletonPlanner) Plan(ctx context.Context, query string, priorClaims []string, availableTools []string) (*TaskGraph, error) {
	return SingletonTaskGraph(query), nil
}
