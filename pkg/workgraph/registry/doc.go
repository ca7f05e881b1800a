// Package registry names compiled graphs so a process can look them up by
// the name recorded alongside its threads.
//
// A thread's checkpoints only make sense against the graph that wrote them.
// Services and admin tools that handle several graphs register a builder per
// graph name and resolve the graph when a thread is touched.
//
// # Basic Usage
//
//	graphs := registry.New().
//	    MustRegister("support", buildSupportGraph).
//	    MustRegister("billing", buildBillingGraph)
//
//	graph, err := graphs.Get("support")
//	if errors.Is(err, registry.ErrUnknownGraph) {
//	    // not registered
//	}
//	runner := workgraph.NewRunner(graph, store)
//
// # Lazy Compilation
//
// Builders run on first Get and the compiled graph is cached, so a graph is
// compiled at most once even under concurrent access. A builder that fails is
// not cached; the next Get tries again.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use.
package registry
