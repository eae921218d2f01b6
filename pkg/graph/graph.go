package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is a dependency graph over string node names. Edges point from a
// dependency to its dependents, so traversal order is deploy order.
type Graph struct {
	nodes      map[string]bool
	deps       map[string][]string // node -> declared dependencies
	dependents map[string][]string // node -> nodes depending on it
	inDegree   map[string]int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:      make(map[string]bool),
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
		inDegree:   make(map[string]int),
	}
}

// Add registers a node with its declared dependencies. Adding the same
// node twice returns an error. Dependencies may reference nodes added
// later; Resolve reports any that never materialize.
func (g *Graph) Add(name string, deps []string) error {
	if name == "" {
		return fmt.Errorf("node has empty name")
	}
	if g.nodes[name] {
		return fmt.Errorf("duplicate node: %s", name)
	}
	g.nodes[name] = true
	g.deps[name] = append([]string(nil), deps...)
	if _, ok := g.inDegree[name]; !ok {
		g.inDegree[name] = 0
	}
	return nil
}

// Resolve wires edges from the declared dependencies and returns every
// dependency name that does not resolve to a node. Must be called once
// after all Add calls; cycle and ordering queries operate on the wired
// edges.
func (g *Graph) Resolve() []string {
	var missing []string
	for _, name := range g.sortedNodes() {
		for _, dep := range g.deps[name] {
			if !g.nodes[dep] {
				missing = append(missing, fmt.Sprintf("%s -> %s", name, dep))
				continue
			}
			g.dependents[dep] = append(g.dependents[dep], name)
			g.inDegree[name]++
		}
	}
	return missing
}

// FindCycle detects a circular dependency with depth-first search using
// a recursion stack. It returns the cycle path, closed on the repeated
// node, or nil when the graph is acyclic.
func (g *Graph) FindCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range g.sortedNodes() {
		if !visited[id] {
			if cycle := g.findCycleFrom(id, visited, recStack, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (g *Graph) findCycleFrom(nodeID string, visited, recStack map[string]bool, path []string) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range g.sortedDependents(nodeID) {
		if !visited[dependent] {
			if cycle := g.findCycleFrom(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			cycleStart := -1
			for i, id := range path {
				if id == dependent {
					cycleStart = i
					break
				}
			}
			if cycleStart >= 0 {
				return append(append([]string(nil), path[cycleStart:]...), dependent)
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// Levels computes deploy levels with Kahn's algorithm: repeatedly take
// all zero-in-degree nodes, then decrement their dependents. Nodes in
// one level share no ordering constraint and may deploy in parallel.
// Stalling with nodes still pending means a cycle survived validation,
// which is an internal invariant violation, not a recoverable error.
func (g *Graph) Levels() ([][]string, error) {
	inDegree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}

	var current []string
	for _, id := range g.sortedNodes() {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	var levels [][]string
	processed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		processed += len(current)

		var next []string
		for _, nodeID := range current {
			for _, dependent := range g.sortedDependents(nodeID) {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if processed != len(g.nodes) {
		return nil, fmt.Errorf("dependency graph stalled with %d of %d nodes pending: cycle not caught by validation", len(g.nodes)-processed, len(g.nodes))
	}
	return levels, nil
}

// Order returns a flat topological ordering, level by level.
func (g *Graph) Order() ([]string, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	var order []string
	for _, level := range levels {
		order = append(order, level...)
	}
	return order, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) sortedNodes() []string {
	names := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (g *Graph) sortedDependents(id string) []string {
	deps := append([]string(nil), g.dependents[id]...)
	sort.Strings(deps)
	return deps
}

// FormatCycle renders a cycle path for error messages.
func FormatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}
