package resolver

import (
	"sort"

	"github.com/kingrea/plugd/internal/plugin"
)

// Node captures a plugin plus the precedence edges derived for it.
type Node struct {
	Plugin plugin.Plugin
	// Index is the plugin's registration position; it breaks rank ties.
	Index int
	// After lists the nodes this plugin must run after.
	After []*Node
	// Dependents lists the nodes that must run after this plugin.
	Dependents []*Node
	Rank       int
}

// Name returns the plugin name.
func (n *Node) Name() string {
	return n.Plugin.Name()
}

// Graph is the precedence relation over a fixed plugin set.
type Graph struct {
	nodes      []*Node
	byIdentity map[plugin.Identity]*Node
}

// NewGraph builds the precedence relation. Constraints naming identities
// outside plugins are ignored.
func NewGraph(plugins []plugin.Plugin) *Graph {
	g := &Graph{
		nodes:      make([]*Node, 0, len(plugins)),
		byIdentity: make(map[plugin.Identity]*Node, len(plugins)),
	}
	for idx, p := range plugins {
		if p == nil {
			continue
		}
		node := &Node{Plugin: p, Index: idx}
		g.nodes = append(g.nodes, node)
		if _, exists := g.byIdentity[p.Identity()]; !exists {
			g.byIdentity[p.Identity()] = node
		}
	}
	for _, node := range g.nodes {
		for _, id := range node.Plugin.Before() {
			if later, ok := g.byIdentity[id]; ok {
				g.addEdge(later, node)
			}
		}
		for _, id := range node.Plugin.After() {
			if earlier, ok := g.byIdentity[id]; ok {
				g.addEdge(node, earlier)
			}
		}
	}
	return g
}

// addEdge records that later must run after earlier.
func (g *Graph) addEdge(later, earlier *Node) {
	for _, existing := range later.After {
		if existing == earlier {
			return
		}
	}
	later.After = append(later.After, earlier)
	earlier.Dependents = append(earlier.Dependents, later)
}

// Nodes returns the nodes in registration order.
func (g *Graph) Nodes() []*Node {
	return append([]*Node{}, g.nodes...)
}

// Node retrieves the node registered under id.
func (g *Graph) Node(id plugin.Identity) (*Node, bool) {
	node, ok := g.byIdentity[id]
	return node, ok
}

// Len returns the number of plugins in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

type rankKey struct {
	node  *Node
	depth int
}

// ranker evaluates rank(P, depth) = 1 + max(rank(Q, depth+1)) over P's
// predecessors, 0 without predecessors, and 0 once depth exceeds the plugin
// count. No acyclic chain is longer than the plugin count, so the bound only
// cuts cycles short.
type ranker struct {
	limit int
	memo  map[rankKey]int
}

func (r *ranker) rank(node *Node, depth int) int {
	if depth > r.limit {
		return 0
	}
	if len(node.After) == 0 {
		return 0
	}
	key := rankKey{node: node, depth: depth}
	if v, ok := r.memo[key]; ok {
		return v
	}
	best := 0
	for _, pred := range node.After {
		if v := r.rank(pred, depth+1) + 1; v > best {
			best = v
		}
	}
	r.memo[key] = best
	return best
}

// Plan is the resolved execution order.
type Plan struct {
	Order []plugin.Plugin
	Graph *Graph
	ranks map[string]int
}

// Resolve computes a total order over plugins that honours every acyclic
// before/after constraint. Equal ranks keep registration order.
func Resolve(plugins []plugin.Plugin) Plan {
	g := NewGraph(plugins)
	r := &ranker{limit: g.Len(), memo: make(map[rankKey]int)}
	for _, node := range g.nodes {
		node.Rank = r.rank(node, 0)
	}
	sorted := g.Nodes()
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Rank < sorted[j].Rank
	})
	plan := Plan{
		Order: make([]plugin.Plugin, 0, len(sorted)),
		Graph: g,
		ranks: make(map[string]int, len(sorted)),
	}
	for _, node := range sorted {
		plan.Order = append(plan.Order, node.Plugin)
		plan.ranks[node.Name()] = node.Rank
	}
	return plan
}

// Rank returns the computed rank for the named plugin.
func (p Plan) Rank(name string) (int, bool) {
	rank, ok := p.ranks[name]
	return rank, ok
}

// Names returns plugin names in resolved order.
func (p Plan) Names() []string {
	names := make([]string, 0, len(p.Order))
	for _, pl := range p.Order {
		names = append(names, pl.Name())
	}
	return names
}
