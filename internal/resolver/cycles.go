package resolver

import "sort"

// Cycles reports groups of plugins whose constraints contradict each other:
// strongly connected components with more than one member, plus plugins that
// must run after themselves. Each group lists names in registration order and
// groups are ordered by their first member.
func (p Plan) Cycles() [][]string {
	if p.Graph == nil {
		return nil
	}
	return p.Graph.Cycles()
}

// Cycles is the graph-level form of Plan.Cycles.
func (g *Graph) Cycles() [][]string {
	t := &tarjan{
		index:   make(map[*Node]int, len(g.nodes)),
		lowlink: make(map[*Node]int, len(g.nodes)),
		onStack: make(map[*Node]bool, len(g.nodes)),
	}
	for _, node := range g.nodes {
		if _, seen := t.index[node]; !seen {
			t.visit(node)
		}
	}
	var groups [][]*Node
	for _, comp := range t.components {
		if len(comp) > 1 || selfLoop(comp[0]) {
			sort.Slice(comp, func(i, j int) bool { return comp[i].Index < comp[j].Index })
			groups = append(groups, comp)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0].Index < groups[j][0].Index })
	out := make([][]string, 0, len(groups))
	for _, comp := range groups {
		names := make([]string, 0, len(comp))
		for _, node := range comp {
			names = append(names, node.Name())
		}
		out = append(out, names)
	}
	return out
}

func selfLoop(node *Node) bool {
	for _, pred := range node.After {
		if pred == node {
			return true
		}
	}
	return false
}

type tarjan struct {
	next       int
	index      map[*Node]int
	lowlink    map[*Node]int
	onStack    map[*Node]bool
	stack      []*Node
	components [][]*Node
}

func (t *tarjan) visit(node *Node) {
	t.index[node] = t.next
	t.lowlink[node] = t.next
	t.next++
	t.stack = append(t.stack, node)
	t.onStack[node] = true
	for _, pred := range node.After {
		if _, seen := t.index[pred]; !seen {
			t.visit(pred)
			if t.lowlink[pred] < t.lowlink[node] {
				t.lowlink[node] = t.lowlink[pred]
			}
		} else if t.onStack[pred] && t.index[pred] < t.lowlink[node] {
			t.lowlink[node] = t.index[pred]
		}
	}
	if t.lowlink[node] != t.index[node] {
		return
	}
	var comp []*Node
	for {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[top] = false
		comp = append(comp, top)
		if top == node {
			break
		}
	}
	t.components = append(t.components, comp)
}
