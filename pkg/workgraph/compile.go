package workgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// Compile validates the graph and creates an executable CompiledGraph.
// Returns an error if validation fails. Multiple errors are joined together.
//
// Validation checks:
//  1. No node or fan-out name was added twice
//  2. Entry point must be set and reference an existing step
//  3. All edge sources must reference existing steps
//  4. All edge, route, and fan-out targets must reference existing steps or END
//  5. Every node has exactly one outgoing definition (static edge or
//     conditional edge), unless it is only used as a fan-out branch
//  6. Fan-out branches must be plain nodes
//  7. A path to END must exist from the entry point
//
// Unreachable nodes (not reachable from entry) are logged as warnings
// but do not cause compilation to fail.
//
// Compile freezes the schema.
func (g *Graph) Compile() (*CompiledGraph, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	errs := slices.Clone(g.buildErrs)

	// 2. Entry point
	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if !g.exists(g.entryPoint) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	validTarget := func(to string) bool { return to == END || g.exists(to) }

	// 3 & 4. Static edges
	for _, from := range slices.Sorted(maps.Keys(g.edges)) {
		if !g.exists(from) {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for _, to := range g.edges[from] {
			if !validTarget(to) {
				errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
			}
		}
	}

	// Conditional edges
	for _, from := range slices.Sorted(maps.Keys(g.conditionalEdges)) {
		if !g.exists(from) {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for _, edge := range g.conditionalEdges[from] {
			if len(edge.routes) == 0 {
				errs = append(errs, fmt.Errorf("%w: conditional edge from '%s'", ErrNoRoutes, from))
			}
			for _, label := range slices.Sorted(maps.Keys(edge.routes)) {
				if to := edge.routes[label]; !validTarget(to) {
					errs = append(errs, fmt.Errorf("%w: route '%s' from '%s' targets '%s'",
						ErrNodeNotFound, label, from, to))
				}
			}
		}
	}

	// Fan-outs
	branchOnly := make(map[string]bool)
	for _, id := range slices.Sorted(maps.Keys(g.fanOuts)) {
		fo := g.fanOuts[id]
		if !validTarget(fo.next) {
			errs = append(errs, fmt.Errorf("%w: fan-out '%s' next '%s' does not exist", ErrNodeNotFound, id, fo.next))
		}
		if len(g.edges[id]) > 0 || len(g.conditionalEdges[id]) > 0 {
			errs = append(errs, fmt.Errorf("%w: fan-out '%s' already continues at '%s'", ErrMultipleEdges, id, fo.next))
		}
		for _, b := range fo.branches {
			if _, ok := g.nodes[b]; !ok {
				errs = append(errs, fmt.Errorf("%w: fan-out '%s' branch '%s' is not a node", ErrNodeNotFound, id, b))
				continue
			}
			branchOnly[b] = true
		}
	}

	// 5. Outgoing edge definitions per node
	for _, id := range slices.Sorted(maps.Keys(g.nodes)) {
		n := len(g.edges[id]) + len(g.conditionalEdges[id])
		switch {
		case n == 0 && !branchOnly[id]:
			errs = append(errs, fmt.Errorf("%w: %s", ErrNoOutgoingEdge, id))
		case n > 1:
			errs = append(errs, fmt.Errorf("%w: %s", ErrMultipleEdges, id))
		}
	}

	// 7. Path to END
	if len(errs) == 0 && !g.hasPathToEnd() {
		errs = append(errs, ErrNoPathToEnd)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// Check for unreachable nodes (warning only)
	g.warnUnreachableNodes()

	g.schema.Freeze()
	return g.buildCompiledGraph(), nil
}

// successorsOf returns every step the given step may continue at.
// Caller must hold g.mu.
func (g *Graph) successorsOf(id string) []string {
	var out []string
	out = append(out, g.edges[id]...)
	for _, edge := range g.conditionalEdges[id] {
		for _, label := range slices.Sorted(maps.Keys(edge.routes)) {
			out = append(out, edge.routes[label])
		}
	}
	if fo, ok := g.fanOuts[id]; ok {
		out = append(out, fo.next)
	}
	return out
}

// hasPathToEnd checks if there's a path from entry to END.
func (g *Graph) hasPathToEnd() bool {
	// Find all steps that can reach END using reverse propagation
	canReachEnd := map[string]bool{END: true}

	changed := true
	for changed {
		changed = false
		for _, id := range g.stepIDs() {
			if canReachEnd[id] {
				continue
			}
			for _, to := range g.successorsOf(id) {
				if canReachEnd[to] {
					canReachEnd[id] = true
					changed = true
					break
				}
			}
		}
	}

	return canReachEnd[g.entryPoint]
}

func (g *Graph) stepIDs() []string {
	ids := slices.Collect(maps.Keys(g.nodes))
	ids = append(ids, slices.Collect(maps.Keys(g.fanOuts))...)
	slices.Sort(ids)
	return ids
}

// warnUnreachableNodes logs warnings for steps not reachable from entry.
func (g *Graph) warnUnreachableNodes() {
	reachable := g.findReachableNodes()

	for _, id := range g.stepIDs() {
		if !reachable[id] {
			slog.Warn("node is unreachable from entry", "node_id", id)
		}
	}
}

// findReachableNodes returns the set of steps reachable from the entry point.
// Fan-out branches count as reachable from their fan-out.
func (g *Graph) findReachableNodes() map[string]bool {
	reachable := map[string]bool{g.entryPoint: true}

	// BFS from entry
	queue := []string{g.entryPoint}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		next := g.successorsOf(current)
		if fo, ok := g.fanOuts[current]; ok {
			next = append(next, fo.branches...)
		}
		for _, target := range next {
			if target != END && !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}

	return reachable
}

// buildCompiledGraph creates the immutable CompiledGraph from the builder state.
func (g *Graph) buildCompiledGraph() *CompiledGraph {
	edges := make(map[string]string, len(g.edges))
	for from, targets := range g.edges {
		edges[from] = targets[0]
	}

	conditional := make(map[string]conditionalEdge, len(g.conditionalEdges))
	for from, list := range g.conditionalEdges {
		conditional[from] = conditionalEdge{router: list[0].router, routes: maps.Clone(list[0].routes)}
	}

	fanOuts := make(map[string]fanOut, len(g.fanOuts))
	for id, fo := range g.fanOuts {
		fanOuts[id] = fanOut{dispatch: fo.dispatch, next: fo.next, branches: slices.Clone(fo.branches)}
	}

	successors := make(map[string][]string)
	for _, id := range g.stepIDs() {
		successors[id] = slices.Compact(slices.Sorted(slices.Values(g.successorsOf(id))))
	}

	return &CompiledGraph{
		schema:      g.schema,
		nodes:       maps.Clone(g.nodes),
		fanOuts:     fanOuts,
		edges:       edges,
		conditional: conditional,
		entryPoint:  g.entryPoint,
		successors:  successors,
	}
}
