package orchestration

import (
	"sort"

	"github.com/ravenoak/autoresearch/core"
)

// TaskNode is spec §3's planner output unit. A node is ready iff every id
// in Dependencies is present in a caller-supplied completed set.
type TaskNode struct {
	ID             string
	Description    string
	Dependencies   map[string]struct{}
	ToolAffinity   map[string]float64
	EstimatedTokens int
	Priority       int
	AgentRole      string
	ExitCriteria   string
	Metadata       map[string]interface{}
}

// TaskGraph is spec §3's planner output: nodes plus derived scheduling
// metadata. Grounded on
// `_examples/itsneelabh-gomind/orchestration/workflow_dag.go`'s
// map[string]*DAGNode + dependents-rebuild + Kahn's-algorithm shape,
// generalized from workflow execution bookkeeping to task *planning*
// (this type never tracks runtime node status — that's Coordinator's job).
type TaskGraph struct {
	Nodes            map[string]*TaskNode
	Roots            []string
	TopologicalOrder []string
	CriticalPath     []string
}

// BuildTaskGraph constructs a TaskGraph from nodes, computing
// topological_order via Kahn's algorithm with the tie-break ordering spec
// §4.7 names: (priority desc, tool_affinity_with_available_tools desc,
// estimated_tokens asc, dependency_depth desc, id asc). Returns
// core.ErrPlannerCycle (property P9) if any node remains unresolved.
func BuildTaskGraph(nodes []*TaskNode, availableTools []string) (*TaskGraph, error) {
	byID := make(map[string]*TaskNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	dependents := make(map[string][]string)
	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] = len(n.Dependencies)
		for dep := range n.Dependencies {
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	depth := dependencyDepths(nodes)
	toolSet := make(map[string]struct{}, len(availableTools))
	for _, t := range availableTools {
		toolSet[t] = struct{}{}
	}
	affinityWithAvailable := func(n *TaskNode) float64 {
		var sum float64
		for tool, score := range n.ToolAffinity {
			if _, ok := toolSet[tool]; ok {
				sum += score
			}
		}
		return sum
	}

	var roots []string
	var ready []string
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			ready = append(ready, n.ID)
			roots = append(roots, n.ID)
		}
	}
	sort.Strings(roots)

	lessReady := func(ids []string) func(i, j int) bool {
		return func(i, j int) bool {
			a, b := byID[ids[i]], byID[ids[j]]
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
			affA, affB := affinityWithAvailable(a), affinityWithAvailable(b)
			if affA != affB {
				return affA > affB
			}
			if a.EstimatedTokens != b.EstimatedTokens {
				return a.EstimatedTokens < b.EstimatedTokens
			}
			if depth[a.ID] != depth[b.ID] {
				return depth[a.ID] > depth[b.ID]
			}
			return a.ID < b.ID
		}
	}

	var order []string
	for len(ready) > 0 {
		sort.Slice(ready, lessReady(ready))
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, core.New(core.KindCritical, "planner", "build_task_graph", core.ErrPlannerCycle)
	}

	return &TaskGraph{
		Nodes:            byID,
		Roots:            roots,
		TopologicalOrder: order,
		CriticalPath:     criticalPath(byID, order, depth),
	}, nil
}

// dependencyDepths computes each node's longest dependency chain length
// (0 for roots), used as a deterministic tie-breaker.
func dependencyDepths(nodes []*TaskNode) map[string]int {
	byID := make(map[string]*TaskNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	depth := make(map[string]int, len(nodes))
	var resolve func(id string, visiting map[string]bool) int
	resolve = func(id string, visiting map[string]bool) int {
		if d, ok := depth[id]; ok {
			return d
		}
		if visiting[id] {
			return 0 // cycle; BuildTaskGraph's Kahn pass reports this properly
		}
		visiting[id] = true
		n := byID[id]
		max := 0
		for dep := range n.Dependencies {
			if _, ok := byID[dep]; !ok {
				continue
			}
			if d := resolve(dep, visiting) + 1; d > max {
				max = d
			}
		}
		delete(visiting, id)
		depth[id] = max
		return max
	}
	for _, n := range nodes {
		resolve(n.ID, map[string]bool{})
	}
	return depth
}

// criticalPath returns the longest chain of nodes by dependency depth,
// ending at the topologically-last node on that chain.
func criticalPath(byID map[string]*TaskNode, order []string, depth map[string]int) []string {
	if len(order) == 0 {
		return nil
	}
	deepest := order[0]
	for _, id := range order {
		if depth[id] > depth[deepest] {
			deepest = id
		}
	}
	var path []string
	current := deepest
	for {
		path = append([]string{current}, path...)
		n := byID[current]
		var best string
		bestDepth := -1
		for dep := range n.Dependencies {
			if d, ok := depth[dep]; ok && d > bestDepth {
				bestDepth = d
				best = dep
			}
		}
		if best == "" {
			break
		}
		current = best
	}
	return path
}

// SingletonTaskGraph builds the trivial single-node fallback spec §4.7
// names: "If the planner's output is unparseable, a singleton graph is
// used."
func SingletonTaskGraph(query string) *TaskGraph {
	node := &TaskNode{
		ID:          "root",
		Description: query,
		AgentRole:   "Synthesizer",
	}
	return &TaskGraph{
		Nodes:            map[string]*TaskNode{"root": node},
		Roots:            []string{"root"},
		TopologicalOrder: []string{"root"},
		CriticalPath:     []string{"root"},
	}
}
