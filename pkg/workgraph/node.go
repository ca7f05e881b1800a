package workgraph

// END is the terminal node identifier.
// Use this as an edge target to indicate the graph should terminate.
const END = "__end__"

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and the current state and return a
// Result: a partial update, a suspension request, or a final update.
//
// The state is a copy owned by the node; mutating it has no effect.
// Only fields present in the returned update are merged.
//
// Example:
//
//	func classify(ctx workgraph.Context, s workgraph.State) (workgraph.Result, error) {
//	    return workgraph.Update(workgraph.State{"intent": "billing"}), nil
//	}
type NodeFunc func(ctx Context, state State) (Result, error)

// RouterFunc picks a label for a conditional edge. The label is looked up in
// the edge's route map to find the next node.
//
// Routers must be pure and fast: they run inline between steps and must not
// mutate state or perform I/O.
type RouterFunc func(state State) string

// DispatchFunc expands one fan-out step into independent branch invocations.
// Returning no Sends skips straight to the fan-out's next step.
type DispatchFunc func(state State) []Send

// Send is one fan-out branch: the node to invoke and the fields to overlay
// on the parent state for that invocation.
type Send struct {
	Node  string
	Input State
}

type resultKind int

const (
	resultUpdate resultKind = iota
	resultSuspend
	resultDone
)

// Result is what a node returns. Build one with Update, Suspend or Done.
// The zero Result is an empty update.
type Result struct {
	kind    resultKind
	update  State
	payload any
}

// Update merges partial into the state and continues along the node's edge.
func Update(partial State) Result {
	return Result{kind: resultUpdate, update: partial}
}

// Suspend pauses the thread until a resume value is supplied. payload must
// be JSON-serializable; it is returned to the caller and persisted with the
// interrupt record. The node is invoked again on resume, with the resume
// value available from Context.ResumeValue.
func Suspend(payload any) Result {
	return Result{kind: resultSuspend, payload: payload}
}

// Done merges partial into the state and completes the thread, ignoring the
// node's outgoing edge.
func Done(partial State) Result {
	return Result{kind: resultDone, update: partial}
}

// IsSuspend reports whether the result requests suspension.
func (r Result) IsSuspend() bool { return r.kind == resultSuspend }

// IsDone reports whether the result completes the thread.
func (r Result) IsDone() bool { return r.kind == resultDone }

// State returns the partial update carried by the result.
func (r Result) State() State { return r.update }

// Payload returns the suspension payload.
func (r Result) Payload() any { return r.payload }
