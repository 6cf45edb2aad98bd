package agent

import "sort"

// defaultDependencies is the compile-time dependency table. Key = checker,
// value = checkers that must run before it. Checkers may declare additional
// edges at registration via DependsOn.
var defaultDependencies = map[string][]string{
	// Infrastructure checkers depend on environment.
	"database":      {"environment"},
	"performance":   {"environment", "database"},
	"security":      {"environment"},
	"api_health":    {"environment"},
	"dependency":    {"environment"},
	"code_quality":  {"environment"},
	"test_coverage": {"environment"},
	"config_drift":  {"environment"},

	// Domain-specific checkers.
	"ytdlp_pipeline":     {"environment"},
	"whisper_health":     {"environment"},
	"knowledge_graph":    {"database"},
	"ontology_sync":      {"database", "knowledge_graph"},
	"url_pattern":        {"environment"},
	"agent_budget":       {"database"},
	"rag_pipeline":       {"database"},
	"golden_quality":     {"database"},
	"citation_integrity": {"database", "knowledge_graph"},
	"search_index":       {"database"},
	"skill_template":     {"environment"},
	"schema_migration":   {"database"},
}

// DependencyGraph orders checker execution: an edge a→b means b must run
// before a. The graph is built once per workspace and is not mutated during
// scans, so no locking is needed.
type DependencyGraph struct {
	deps map[string]map[string]bool
}

// NewDependencyGraph creates a graph seeded with the default dependency
// table. Pass a non-nil table to replace the defaults (used by tests).
func NewDependencyGraph(table map[string][]string) *DependencyGraph {
	if table == nil {
		table = defaultDependencies
	}
	g := &DependencyGraph{deps: make(map[string]map[string]bool, len(table))}
	for name, deps := range table {
		for _, d := range deps {
			g.AddDependency(name, d)
		}
	}
	return g
}

// AddDependency records that checker depends on dep.
func (g *DependencyGraph) AddDependency(checker, dep string) {
	if g.deps[checker] == nil {
		g.deps[checker] = make(map[string]bool)
	}
	g.deps[checker][dep] = true
}

// AddFromChecker records the dependencies a checker declared at registration.
func (g *DependencyGraph) AddFromChecker(name string, dependsOn []string) {
	for _, d := range dependsOn {
		g.AddDependency(name, d)
	}
}

// Dependencies returns the direct prerequisites of a checker, sorted.
func (g *DependencyGraph) Dependencies(checker string) []string {
	out := make([]string, 0, len(g.deps[checker]))
	for d := range g.deps[checker] {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// ResolveOrder expands the requested checkers with their transitive
// dependencies and returns a Kahn topological order with deterministic
// alphabetical tie-breaking. If a cycle survives (defensively), the remaining
// nodes are appended in sorted order so execution still makes progress.
func (g *DependencyGraph) ResolveOrder(requested []string) []string {
	// Expand to the transitive closure.
	needed := make(map[string]bool)
	stack := append([]string(nil), requested...)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if needed[name] {
			continue
		}
		needed[name] = true
		for dep := range g.deps[name] {
			if !needed[dep] {
				stack = append(stack, dep)
			}
		}
	}

	// Kahn's algorithm with a sorted zero-in-degree queue.
	inDegree := make(map[string]int, len(needed))
	for n := range needed {
		for dep := range g.deps[n] {
			if needed[dep] {
				inDegree[n]++
			}
		}
	}

	var queue []string
	for n := range needed {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(needed))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)
		for n := range needed {
			if g.deps[n][node] {
				inDegree[n]--
				if inDegree[n] == 0 {
					queue = append(queue, n)
					sort.Strings(queue)
				}
			}
		}
	}

	// Cycle leftovers: append sorted so execution still makes progress.
	if len(result) < len(needed) {
		done := make(map[string]bool, len(result))
		for _, n := range result {
			done[n] = true
		}
		var remaining []string
		for n := range needed {
			if !done[n] {
				remaining = append(remaining, n)
			}
		}
		sort.Strings(remaining)
		result = append(result, remaining...)
	}

	return result
}
