package recording

import (
	"sort"
)

// Edge declares that Dependent may only run after Parent completed or was skipped.
type Edge struct {
	Parent    StageType
	Dependent StageType
}

// Graph is the static stage dependency declaration. It is expected to be a
// DAG but every walk tolerates cycles.
type Graph struct {
	dependents   map[StageType][]StageType
	dependencies map[StageType][]StageType
	declared     []StageType
	order        map[StageType]int
}

// DefaultGraph returns the standard pipeline: trim gates transcription, and
// transcription gates topic extraction and subtitle generation.
func DefaultGraph() *Graph {
	return NewGraph(
		Edge{Parent: StageTrim, Dependent: StageTranscribe},
		Edge{Parent: StageTranscribe, Dependent: StageExtractTopics},
		Edge{Parent: StageTranscribe, Dependent: StageGenerateSubtitles},
	)
}

// NewGraph builds a graph from edges. Duplicate edges are ignored.
func NewGraph(edges ...Edge) *Graph {
	g := &Graph{
		dependents:   make(map[StageType][]StageType),
		dependencies: make(map[StageType][]StageType),
	}
	seenEdge := make(map[Edge]struct{}, len(edges))
	seenType := make(map[StageType]struct{})
	declare := func(t StageType) {
		if _, ok := seenType[t]; ok {
			return
		}
		seenType[t] = struct{}{}
		g.declared = append(g.declared, t)
	}
	for _, edge := range edges {
		if edge.Parent == "" || edge.Dependent == "" {
			continue
		}
		declare(edge.Parent)
		declare(edge.Dependent)
		if _, ok := seenEdge[edge]; ok {
			continue
		}
		seenEdge[edge] = struct{}{}
		g.dependents[edge.Parent] = append(g.dependents[edge.Parent], edge.Dependent)
		g.dependencies[edge.Dependent] = append(g.dependencies[edge.Dependent], edge.Parent)
	}
	g.order = make(map[StageType]int, len(g.declared))
	for i, t := range g.Order() {
		g.order[t] = i
	}
	return g
}

// Known reports whether t appears in the graph.
func (g *Graph) Known(t StageType) bool {
	_, ok := g.order[t]
	return ok
}

// Types returns every declared stage type in pipeline order.
func (g *Graph) Types() []StageType {
	return g.Order()
}

// Dependents returns the direct dependents of t.
func (g *Graph) Dependents(t StageType) []StageType {
	return append([]StageType(nil), g.dependents[t]...)
}

// Dependencies returns the direct dependencies of t.
func (g *Graph) Dependencies(t StageType) []StageType {
	return append([]StageType(nil), g.dependencies[t]...)
}

// TransitiveDependents walks dependents breadth-first from t. Each type is
// visited once, so cycles terminate; t itself is never returned.
func (g *Graph) TransitiveDependents(t StageType) []StageType {
	visited := map[StageType]struct{}{t: {}}
	queue := []StageType{t}
	var out []StageType
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.dependents[current] {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out
}

// Order returns a stable topological order. Types caught in a cycle are
// appended in declaration order once no acyclic progress is possible.
func (g *Graph) Order() []StageType {
	indegree := make(map[StageType]int, len(g.declared))
	for _, t := range g.declared {
		indegree[t] = len(g.dependencies[t])
	}
	placed := make(map[StageType]struct{}, len(g.declared))
	out := make([]StageType, 0, len(g.declared))
	for len(out) < len(g.declared) {
		progressed := false
		for _, t := range g.declared {
			if _, done := placed[t]; done || indegree[t] > 0 {
				continue
			}
			placed[t] = struct{}{}
			out = append(out, t)
			progressed = true
			for _, dep := range g.dependents[t] {
				indegree[dep]--
			}
		}
		if progressed {
			continue
		}
		for _, t := range g.declared {
			if _, done := placed[t]; !done {
				placed[t] = struct{}{}
				out = append(out, t)
				for _, dep := range g.dependents[t] {
					indegree[dep]--
				}
				break
			}
		}
	}
	return out
}

// HasCycle reports whether any dependency cycle exists.
func (g *Graph) HasCycle() bool {
	for _, t := range g.declared {
		for _, dep := range g.TransitiveDependents(t) {
			for _, back := range g.dependents[dep] {
				if back == t {
					return true
				}
			}
		}
	}
	return false
}

// DependenciesMet reports whether every existing dependency record of t is
// completed or skipped. Dependencies without a record are treated as not
// configured for this recording.
func (g *Graph) DependenciesMet(rec *Recording, t StageType) bool {
	for _, parent := range g.dependencies[t] {
		stage, ok := rec.Stage(parent)
		if !ok {
			continue
		}
		if !stage.Status.Terminal() {
			return false
		}
	}
	return true
}

func (g *Graph) rank(t StageType) int {
	if idx, ok := g.order[t]; ok {
		return idx
	}
	return len(g.order)
}

func (g *Graph) sortStages(stages []ProcessingStage) {
	sort.SliceStable(stages, func(i, j int) bool {
		return g.rank(stages[i].Type) < g.rank(stages[j].Type)
	})
}
