package orchestration

import "testing"

// TestCoordinatorNextRespectsDependencies drives Coordinator.Next against a
// real multi-node TaskGraph (root -> child -> grandchild) and checks that
// completed nodes fall out of future schedules while the remaining nodes
// stay in dependency order.
func TestCoordinatorNextRespectsDependencies(t *testing.T) {
	nodes := []*TaskNode{
		{ID: "root", AgentRole: "Synthesizer"},
		{ID: "child", AgentRole: "Contrarian", Dependencies: map[string]struct{}{"root": {}}},
		{ID: "grandchild", AgentRole: "FactChecker", Dependencies: map[string]struct{}{"child": {}}},
	}
	graph, err := BuildTaskGraph(nodes, nil)
	if err != nil {
		t.Fatalf("unexpected error building graph: %v", err)
	}
	coordinator := NewCoordinator(graph)

	completed := map[string]struct{}{}
	next := coordinator.Next(completed)
	if len(next) != 3 || next[0] != "root" {
		t.Fatalf("expected root scheduled first with nothing completed, got %v", next)
	}

	completed["root"] = struct{}{}
	next = coordinator.Next(completed)
	if len(next) != 2 || next[0] != "child" {
		t.Fatalf("expected child next once root is completed, got %v", next)
	}

	completed["child"] = struct{}{}
	next = coordinator.Next(completed)
	if len(next) != 1 || next[0] != "grandchild" {
		t.Fatalf("expected only grandchild left, got %v", next)
	}

	completed["grandchild"] = struct{}{}
	if next := coordinator.Next(completed); len(next) != 0 {
		t.Fatalf("expected no tasks left once all are completed, got %v", next)
	}

	if node, ok := coordinator.Node("child"); !ok || node.AgentRole != "Contrarian" {
		t.Fatalf("expected Node to resolve child's AgentRole, got %+v ok=%v", node, ok)
	}
	if _, ok := coordinator.Node("missing"); ok {
		t.Fatal("expected Node to report false for an unknown id")
	}

	path := coordinator.CriticalPath()
	if len(path) != 3 || path[0] != "root" || path[len(path)-1] != "grandchild" {
		t.Fatalf("expected critical path root->child->grandchild, got %v", path)
	}
}

// TestCoordinatorAgentOrderFollowsTaskGraphSchedule covers the
// Orchestrator-facing seam: coordinatorAgentOrder maps Coordinator's
// schedule onto the configured agent names, not just their configured
// order.
func TestCoordinatorAgentOrderFollowsTaskGraphSchedule(t *testing.T) {
	nodes := []*TaskNode{
		{ID: "t1", AgentRole: "Contrarian"},
		{ID: "t2", AgentRole: "Synthesizer", Dependencies: map[string]struct{}{"t1": {}}},
	}
	graph, err := BuildTaskGraph(nodes, nil)
	if err != nil {
		t.Fatalf("unexpected error building graph: %v", err)
	}
	coordinator := NewCoordinator(graph)

	resolvedAgents := []string{"Synthesizer", "Contrarian", "FactChecker"}
	order := coordinatorAgentOrder(coordinator, map[string]struct{}{}, resolvedAgents)
	if len(order) != 3 || order[0] != "Contrarian" || order[2] != "FactChecker" {
		t.Fatalf("expected Contrarian scheduled first (t1 has no deps) and the unmatched agent appended last, got %v", order)
	}

	completed := map[string]struct{}{}
	markTasksCompleted(coordinator, completed, []string{"Contrarian"})
	if _, done := completed["t1"]; !done {
		t.Fatal("expected markTasksCompleted to mark t1 complete once Contrarian dispatched")
	}
	order = coordinatorAgentOrder(coordinator, completed, resolvedAgents)
	if len(order) != 3 || order[0] != "Synthesizer" {
		t.Fatalf("expected Synthesizer scheduled next once t1 completes, got %v", order)
	}
}
