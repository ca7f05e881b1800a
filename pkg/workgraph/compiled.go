package workgraph

import (
	"maps"
	"slices"
)

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is safe for concurrent use by any number of Runners.
// Use the introspection methods (NodeIDs, Successors, etc.) to examine
// the graph structure for debugging or visualization.
type CompiledGraph struct {
	schema      *Schema
	nodes       map[string]NodeFunc
	fanOuts     map[string]fanOut
	edges       map[string]string
	conditional map[string]conditionalEdge
	entryPoint  string

	// Pre-computed for efficient lookup
	successors map[string][]string
}

// EntryPoint returns the entry step ID.
func (cg *CompiledGraph) EntryPoint() string {
	return cg.entryPoint
}

// Schema returns the frozen state schema.
func (cg *CompiledGraph) Schema() *Schema {
	return cg.schema
}

// NodeIDs returns all node and fan-out identifiers in sorted order.
func (cg *CompiledGraph) NodeIDs() []string {
	ids := slices.Collect(maps.Keys(cg.nodes))
	ids = append(ids, slices.Collect(maps.Keys(cg.fanOuts))...)
	slices.Sort(ids)
	return ids
}

// HasNode checks if a node or fan-out step exists in the graph.
func (cg *CompiledGraph) HasNode(id string) bool {
	if _, ok := cg.nodes[id]; ok {
		return true
	}
	_, ok := cg.fanOuts[id]
	return ok
}

// IsFanOut returns true if id names a fan-out step.
func (cg *CompiledGraph) IsFanOut(id string) bool {
	_, ok := cg.fanOuts[id]
	return ok
}

// IsConditional returns true if the node has a conditional edge.
func (cg *CompiledGraph) IsConditional(id string) bool {
	_, ok := cg.conditional[id]
	return ok
}

// Successors returns every step (or END) that may follow id, including
// all conditional route targets. Returns nil for END or unknown steps.
func (cg *CompiledGraph) Successors(id string) []string {
	return slices.Clone(cg.successors[id])
}

// Routes returns a copy of the label-to-target map of a conditional edge.
func (cg *CompiledGraph) Routes(id string) map[string]string {
	edge, ok := cg.conditional[id]
	if !ok {
		return nil
	}
	return maps.Clone(edge.routes)
}

// Branches returns the nodes a fan-out step may dispatch to.
func (cg *CompiledGraph) Branches(id string) []string {
	fo, ok := cg.fanOuts[id]
	if !ok {
		return nil
	}
	return slices.Clone(fo.branches)
}

func (cg *CompiledGraph) getNode(id string) (NodeFunc, bool) {
	fn, ok := cg.nodes[id]
	return fn, ok
}

func (cg *CompiledGraph) getFanOut(id string) (fanOut, bool) {
	fo, ok := cg.fanOuts[id]
	return fo, ok
}
