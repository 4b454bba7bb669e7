package domain

import (
	"iter"
	"slices"
	"strings"

	"go.trai.ch/zerr"
)

// Graph is the directed acyclic dependency graph of build nodes.
type Graph struct {
	nodes          map[InternedString]Node
	dependents     map[InternedString][]InternedString
	executionOrder []InternedString
	root           string
}

// NewGraph creates a new empty Graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:      make(map[InternedString]Node),
		dependents: make(map[InternedString][]InternedString),
	}
}

// SetRoot records the project root directory the graph was loaded from.
func (g *Graph) SetRoot(root string) {
	g.root = root
}

// Root returns the project root directory.
func (g *Graph) Root() string {
	return g.root
}

// AddNode adds a node to the graph.
// It returns an error if a node with the same identity already exists.
func (g *Graph) AddNode(n *Node) error {
	if _, exists := g.nodes[n.Name]; exists {
		return zerr.With(ErrNodeAlreadyExists, "node", n.Name.String())
	}
	g.nodes[n.Name] = *n
	return nil
}

// GetNode returns the node with the given identity.
func (g *Graph) GetNode(name InternedString) (Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// Validate checks for missing dependencies and cycles using a depth-first
// topological sort. It populates the execution order and the reverse edge
// index, and must be called before evaluation begins.
func (g *Graph) Validate() error {
	g.executionOrder = make([]InternedString, 0, len(g.nodes))
	g.dependents = make(map[InternedString][]InternedString, len(g.nodes))
	visited := make(map[InternedString]int) // 0: unvisited, 1: visiting, 2: visited
	var path []InternedString

	var visit func(u InternedString) error
	visit = func(u InternedString) error {
		visited[u] = 1
		path = append(path, u)

		node, exists := g.nodes[u]
		if !exists {
			return zerr.With(ErrMissingDependency, "dependency", u.String())
		}

		for _, dep := range node.Dependencies {
			if visited[dep] == 1 {
				return g.buildCycleError(path, dep)
			}
			if visited[dep] == 0 {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		visited[u] = 2
		path = path[:len(path)-1]
		g.executionOrder = append(g.executionOrder, u)
		return nil
	}

	// Iterate in sorted order so the execution order of disconnected
	// components is deterministic across runs.
	for _, name := range g.sortedNames() {
		if visited[name] == 0 {
			if err := visit(name); err != nil {
				return err
			}
		}
	}

	for name, node := range g.nodes {
		for _, dep := range node.Dependencies {
			g.dependents[dep] = append(g.dependents[dep], name)
		}
	}
	for dep := range g.dependents {
		slices.SortFunc(g.dependents[dep], compareNames)
	}

	return nil
}

// buildCycleError constructs an error with cycle path metadata.
func (g *Graph) buildCycleError(path []InternedString, dep InternedString) error {
	var cyclePath strings.Builder
	startIdx := 0
	for i, node := range path {
		if node == dep {
			startIdx = i
			break
		}
	}
	for i := startIdx; i < len(path); i++ {
		cyclePath.WriteString(path[i].String())
		cyclePath.WriteString(" -> ")
	}
	cyclePath.WriteString(dep.String())
	return zerr.With(ErrCycleDetected, "cycle", cyclePath.String())
}

// Walk returns an iterator that yields nodes in execution order.
// It assumes Validate() has been called and returned nil.
func (g *Graph) Walk() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		for _, name := range g.executionOrder {
			if !yield(g.nodes[name]) {
				return
			}
		}
	}
}

// Dependents returns the nodes that directly depend on the given node.
// It assumes Validate() has been called and returned nil.
func (g *Graph) Dependents(name InternedString) []InternedString {
	return g.dependents[name]
}

func (g *Graph) sortedNames() []InternedString {
	names := make([]InternedString, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	slices.SortFunc(names, compareNames)
	return names
}

func compareNames(a, b InternedString) int {
	return strings.Compare(a.String(), b.String())
}
