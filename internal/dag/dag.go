package dag

import (
	"fmt"
	"sort"
)

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// AddNode adds a new node with the given ID to the graph. If a node with
// the same ID already exists, the function does nothing.
func (g *Graph) AddNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}

	g.nodes[id] = &node{
		id:         id,
		index:      len(g.order),
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
	g.order = append(g.order, id)
}

// Has reports whether the node exists.
func (g *Graph) Has(id string) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// AddEdge creates a directed edge from the `fromID` node to the `toID` node.
// This signifies that `toID` has a dependency on `fromID`. An error is returned
// if either node does not exist or if the edge would create a self-reference.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return &CycleError{Path: []string{fromID, fromID}}
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}

	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode

	return nil
}

// Dependencies returns the IDs the given node depends on, in insertion order.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedIDs(n.deps), nil
}

// Dependents returns the IDs that depend on the given node, in insertion order.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedIDs(n.dependents), nil
}

func sortedIDs(set map[string]*node) []string {
	list := make([]*node, 0, len(set))
	for _, n := range set {
		list = append(list, n)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].index < list[j].index })
	ids := make([]string, len(list))
	for i, n := range list {
		ids[i] = n.id
	}
	return ids
}

// DetectCycles checks the graph for cycles. The returned *CycleError names
// the first cycle found when visiting nodes in insertion order.
func (g *Graph) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	// Classic depth-first search. permanent holds nodes known to be outside
	// any cycle; stack holds the current traversal path.
	permanent := make(map[string]bool)
	onStack := make(map[string]int)
	var stack []string

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent[n.id] {
			return nil
		}
		if pos, ok := onStack[n.id]; ok {
			path := append([]string{}, stack[pos:]...)
			return &CycleError{Path: append(path, n.id)}
		}

		onStack[n.id] = len(stack)
		stack = append(stack, n.id)

		for _, id := range sortedIDs(n.dependents) {
			if err := visit(g.nodes[id]); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, n.id)
		permanent[n.id] = true
		return nil
	}

	for _, id := range g.order {
		if err := visit(g.nodes[id]); err != nil {
			return err
		}
	}
	return nil
}

// TopologicalOrder returns every node after all of its dependencies. Among
// nodes that are ready at the same time, the one with the lowest rank goes
// first; a nil rank uses insertion order.
func (g *Graph) TopologicalOrder(rank func(id string) int) ([]string, error) {
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}

	g.mutex.RLock()
	defer g.mutex.RUnlock()

	if rank == nil {
		rank = func(id string) int { return g.nodes[id].index }
	}

	remaining := make(map[string]int, len(g.nodes))
	var ready []string
	for _, id := range g.order {
		remaining[id] = len(g.nodes[id].deps)
		if remaining[id] == 0 {
			ready = append(ready, id)
		}
	}

	out := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool { return rank(ready[i]) < rank(ready[j]) })
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)

		for _, dep := range sortedIDs(g.nodes[id].dependents) {
			remaining[dep]--
			if remaining[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return out, nil
}

// HasPath reports whether toID is reachable from fromID by following edges
// from dependencies to dependents. A node always reaches itself.
func (g *Graph) HasPath(fromID, toID string) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	start, ok := g.nodes[fromID]
	if !ok {
		return false
	}
	if _, ok := g.nodes[toID]; !ok {
		return false
	}

	seen := map[string]bool{fromID: true}
	queue := []*node{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.id == toID {
			return true
		}
		for id, next := range n.dependents {
			if !seen[id] {
				seen[id] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
