/*
Package workgraph provides a durable, stateful workflow engine for
conversational agents.

# Overview

A workflow is a directed graph of named nodes over a shared, schema-governed
State. Every step is persisted as a checkpoint, so a thread (one
conversation or workflow instance) can pause for human input, survive a
process restart, and be inspected or replayed later.

The package covers:
  - A state model where each field declares how updates merge (Overwrite or Append)
  - A graph builder validated at Compile time
  - A Runner that advances threads step by step with a checkpoint per step
  - Durable interrupts: a node suspends, and a later Resume delivers the answer
  - Fan-out steps that run independent branches in parallel and merge them atomically

# Basic Usage

Declare the state, build the graph, compile, and run a thread:

	schema := workgraph.NewSchema().
	    Declare("query", workgraph.TypeString, workgraph.Overwrite).
	    Declare("messages", workgraph.TypeList, workgraph.Append)

	respond := func(ctx workgraph.Context, s workgraph.State) (workgraph.Result, error) {
	    reply := "you asked: " + s.GetString("query")
	    return workgraph.Update(workgraph.State{"messages": []any{reply}}), nil
	}

	compiled, err := workgraph.NewGraph(schema).
	    AddNode("respond", respond).
	    AddEdge("respond", workgraph.END).
	    SetEntry("respond").
	    Compile()
	if err != nil {
	    log.Fatal(err)
	}

	runner := workgraph.NewRunner(compiled, checkpoint.NewMemoryStore())
	res, err := runner.Start(ctx, "thread-1", workgraph.State{"query": "hello"})

# Conditional Routing

A router picks a label; the route map turns it into the next step. Every
route target is checked at Compile time, while a label missing from the
map fails the thread at run time with a *RoutingError:

	graph.AddConditionalEdge("classify", func(s workgraph.State) string {
	    return s.GetString("intent")
	}, map[string]string{"billing": "billing", "tech": "tech"})

# Interrupts

A node returns Suspend to wait for input. The thread is persisted as
suspended and nothing keeps running; Resume invokes the same node again
with the value available from Context.ResumeValue:

	func approve(ctx workgraph.Context, s workgraph.State) (workgraph.Result, error) {
	    v, ok := ctx.ResumeValue()
	    if !ok {
	        return workgraph.Suspend(map[string]any{"reason": "needs approval"}), nil
	    }
	    return workgraph.Update(workgraph.State{"approved": v}), nil
	}

A resume value is consumed once. A second Resume of the same interrupt
returns *AlreadyResumedError.

# Fan-out

AddFanOut declares a step whose dispatch function expands the state into
Sends. Branches run on a bounded worker pool, and their updates are merged
in dispatch order in a single checkpoint:

	graph.AddFanOut("analyze", func(s workgraph.State) []workgraph.Send {
	    var sends []workgraph.Send
	    for _, c := range s.GetList("competitors") {
	        sends = append(sends, workgraph.Send{Node: "research", Input: workgraph.State{"competitor": c}})
	    }
	    return sends
	}, "summarize", "research")

# Error Handling

Build errors are joined by Compile. Execution errors are persisted on a
failed checkpoint before they are returned; a failed thread only continues
through the administrative Runner.RetryFrom. Use errors.Is with the
sentinel errors and errors.As with the typed errors:

	var nodeErr *workgraph.NodeError
	if errors.As(err, &nodeErr) {
	    log.Printf("node %s failed: %v", nodeErr.NodeID, nodeErr.Err)
	}

# Thread Safety

A CompiledGraph is immutable and shared freely. A Runner serializes
invocations per thread with a lock.Locker (in-process by default, Redis
for several processes) and runs different threads in parallel.
*/
package workgraph
