package workgraph

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// Graph is a mutable builder for creating execution graphs.
// Use NewGraph to create a new graph, then chain AddNode, AddEdge,
// and SetEntry calls to define the workflow.
//
// Build the graph from a single goroutine, then call Compile() to create
// an immutable CompiledGraph that can be safely shared.
//
// Example:
//
//	schema := workgraph.NewSchema().
//	    Declare("intent", workgraph.TypeString, workgraph.Overwrite).
//	    Declare("messages", workgraph.TypeList, workgraph.Append)
//
//	graph := workgraph.NewGraph(schema).
//	    AddNode("classify", classify).
//	    AddNode("respond", respond).
//	    AddEdge("classify", "respond").
//	    AddEdge("respond", workgraph.END).
//	    SetEntry("classify")
//
//	compiled, err := graph.Compile()
type Graph struct {
	mu               sync.RWMutex
	schema           *Schema
	nodes            map[string]NodeFunc
	fanOuts          map[string]fanOut
	edges            map[string][]string
	conditionalEdges map[string][]conditionalEdge
	entryPoint       string
	buildErrs        []error
}

type conditionalEdge struct {
	router RouterFunc
	routes map[string]string
}

type fanOut struct {
	dispatch DispatchFunc
	next     string
	branches []string
}

// NewGraph creates a new graph builder over schema.
func NewGraph(schema *Schema) *Graph {
	if schema == nil {
		panic("workgraph: schema cannot be nil")
	}
	return &Graph{
		schema:           schema,
		nodes:            make(map[string]NodeFunc),
		fanOuts:          make(map[string]fanOut),
		edges:            make(map[string][]string),
		conditionalEdges: make(map[string][]conditionalEdge),
	}
}

// validateStepName panics on names that can never be valid.
func validateStepName(kind, id string) {
	if id == "" {
		panic("workgraph: " + kind + " ID cannot be empty")
	}

	// Check reserved words (case-insensitive)
	idLower := strings.ToLower(id)
	if idLower == "end" || idLower == END {
		panic("workgraph: " + kind + " ID cannot be reserved word 'END'")
	}

	if strings.ContainsAny(id, " \t\n\r") {
		panic("workgraph: " + kind + " ID cannot contain whitespace")
	}
}

// AddNode adds a named node to the graph.
// Returns the graph for method chaining.
//
// Panics if:
//   - id is empty
//   - id is the reserved word "END" or "__end__" (case-insensitive)
//   - id contains whitespace (space, tab, newline)
//   - fn is nil
//
// Re-using a name records a *DuplicateNodeError that Compile returns.
func (g *Graph) AddNode(id string, fn NodeFunc) *Graph {
	validateStepName("node", id)
	if fn == nil {
		panic("workgraph: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.exists(id) {
		g.buildErrs = append(g.buildErrs, &DuplicateNodeError{NodeID: id})
		return g
	}

	g.nodes[id] = fn
	return g
}

// AddFanOut adds a fan-out step. When the step runs, dispatch expands the
// state into Sends; every Send must target one of branches. The branch
// updates are merged into the state in dispatch order and execution
// continues at next (a node, another fan-out, or END).
//
// Branch nodes are invoked only as fan-out branches from this step; their
// own outgoing edges, if any, are not followed.
func (g *Graph) AddFanOut(id string, dispatch DispatchFunc, next string, branches ...string) *Graph {
	validateStepName("fan-out", id)
	if dispatch == nil {
		panic("workgraph: dispatch function cannot be nil")
	}
	if len(branches) == 0 {
		panic("workgraph: fan-out must declare at least one branch node")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.exists(id) {
		g.buildErrs = append(g.buildErrs, &DuplicateNodeError{NodeID: id})
		return g
	}

	g.fanOuts[id] = fanOut{
		dispatch: dispatch,
		next:     next,
		branches: slices.Clone(branches),
	}
	return g
}

// exists reports whether a node or fan-out step named id was added.
// Caller must hold g.mu.
func (g *Graph) exists(id string) bool {
	if _, ok := g.nodes[id]; ok {
		return true
	}
	_, ok := g.fanOuts[id]
	return ok
}

// AddEdge adds an unconditional edge from one node to another.
// The target can be a node ID, a fan-out ID, or workgraph.END.
// Returns the graph for method chaining.
//
// Edge validation happens at Compile() time, not here.
// This allows edges to be added in any order.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge adds a conditional edge. After the node runs, router
// returns a label and routes maps it to the next step (or END).
// Returns the graph for method chaining.
//
// Every route target is checked at Compile() time. A label missing from
// routes fails the thread with a *RoutingError at run time.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc, routes map[string]string) *Graph {
	if router == nil {
		panic("workgraph: router function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.conditionalEdges[from] = append(g.conditionalEdges[from], conditionalEdge{
		router: router,
		routes: maps.Clone(routes),
	})
	return g
}

// SetEntry designates the entry point node.
// This must be called before Compile().
// Returns the graph for method chaining.
//
// Entry point validation happens at Compile() time.
func (g *Graph) SetEntry(id string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}

// Schema returns the graph's state schema.
func (g *Graph) Schema() *Schema {
	return g.schema
}
