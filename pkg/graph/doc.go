/*
Package graph provides dependency graph construction, cycle detection,
and topological ordering for component deploys.

The graph is generic over string node names. Edges run from a dependency
to its dependents, so topological order is deploy order: a dependency is
fully processed before any dependent is attempted.

# Algorithms

Cycle detection is depth-first search with a recursion stack; the
discovered cycle path is returned closed on the repeated node so the
validator can report it verbatim (for example "a -> b -> c -> a").

Ordering uses Kahn's algorithm with level tracking: each level holds the
nodes whose dependencies are all satisfied, so members of one level may
deploy in parallel. Node traversal is sorted, making levels and order
deterministic for a given input. If Kahn's algorithm stalls with nodes
still pending, a cycle survived validation; that is reported as an
internal invariant violation rather than a recoverable error.

# Usage

	g := graph.New()
	g.Add("db", nil)
	g.Add("cache", []string{"db"})
	g.Add("gateway", []string{"db", "cache"})

	if missing := g.Resolve(); len(missing) > 0 {
		// unresolved dependency references
	}
	if cycle := g.FindCycle(); cycle != nil {
		return fmt.Errorf("circular dependency: %s", graph.FormatCycle(cycle))
	}
	levels, err := g.Levels()

Used by pkg/validator for structural checks and by pkg/driver for the
multi-component deploy ordering.
*/
package graph
