package workgraph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph building and compilation.
var (
	// ErrNoEntryPoint indicates SetEntry() was not called before Compile().
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrEntryNotFound indicates the entry point references a non-existent node.
	ErrEntryNotFound = errors.New("entry point node not found")

	// ErrNodeNotFound indicates an edge references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoPathToEnd indicates no path exists from the entry point to END.
	ErrNoPathToEnd = errors.New("no path to END from entry")

	// ErrDuplicateNode indicates a node name was registered twice.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrNoOutgoingEdge indicates a node has nowhere to go after it runs.
	ErrNoOutgoingEdge = errors.New("node has no outgoing edge")

	// ErrMultipleEdges indicates a step has more than one outgoing definition.
	ErrMultipleEdges = errors.New("step has more than one outgoing edge")

	// ErrNoRoutes indicates a conditional edge with an empty route map.
	ErrNoRoutes = errors.New("conditional edge has no routes")
)

// Sentinel errors for the state schema.
var (
	// ErrSchemaFrozen indicates a field was declared after the graph was compiled.
	ErrSchemaFrozen = errors.New("schema is frozen")

	// ErrInvalidField indicates a malformed field declaration.
	ErrInvalidField = errors.New("invalid field declaration")

	// ErrUnknownField indicates a state key that the schema does not declare.
	ErrUnknownField = errors.New("unknown state field")

	// ErrFieldType indicates a value of the wrong type for its field.
	ErrFieldType = errors.New("field type mismatch")
)

// Sentinel errors for execution.
var (
	// ErrMaxIterations indicates the execution loop exceeded the configured limit.
	ErrMaxIterations = errors.New("exceeded maximum iterations")

	// ErrNilContext indicates a Runner method was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrThreadIDRequired indicates an empty thread ID.
	ErrThreadIDRequired = errors.New("thread ID required")

	// ErrUnmappedLabel indicates a router returned a label with no route.
	ErrUnmappedLabel = errors.New("router returned unmapped label")

	// ErrInvalidBranch indicates a dispatch targeted a node that is not a
	// declared branch of the fan-out.
	ErrInvalidBranch = errors.New("dispatch targeted undeclared branch")

	// ErrSuspendInFanOut indicates a fan-out branch tried to suspend.
	ErrSuspendInFanOut = errors.New("suspend is not allowed inside a fan-out branch")

	// ErrCancelled indicates the invocation was cancelled through Runner.Cancel.
	ErrCancelled = errors.New("invocation cancelled")
)

// Sentinel errors for the thread protocol (start, resume, retry).
var (
	// ErrThreadNotFound indicates no checkpoint exists for the thread.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrResumeValueRequired indicates Start was called on a suspended thread.
	ErrResumeValueRequired = errors.New("thread is suspended; resume value required")

	// ErrNotSuspended indicates Resume was called on a thread that never suspended.
	ErrNotSuspended = errors.New("thread is not suspended")

	// ErrAlreadyResumed indicates the pending resume value was already consumed.
	ErrAlreadyResumed = errors.New("interrupt already resumed")

	// ErrThreadFailed indicates Start was called on a failed thread.
	ErrThreadFailed = errors.New("thread failed")

	// ErrCheckpointVersionMismatch indicates the checkpoint version is incompatible.
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")

	// ErrInvalidCursor indicates a checkpoint cursor that names no step in the graph.
	ErrInvalidCursor = errors.New("checkpoint cursor not in graph")

	// ErrHistoryPruned indicates a replay over a thread whose early
	// checkpoints were pruned.
	ErrHistoryPruned = errors.New("checkpoint history pruned")
)

// SchemaError reports a bad field declaration.
type SchemaError struct {
	// Field is the field being declared.
	Field string
	// Reason describes what is wrong, if Err alone is not enough.
	Reason string
	// Err is ErrSchemaFrozen or ErrInvalidField.
	Err error
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("schema field %q: %v: %s", e.Field, e.Err, e.Reason)
	}
	return fmt.Sprintf("schema field %q: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SchemaError) Unwrap() error {
	return e.Err
}

// UnknownFieldError reports a state key not declared in the schema.
type UnknownFieldError struct {
	Field string
}

// Error implements the error interface.
func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown state field %q", e.Field)
}

// Unwrap returns ErrUnknownField for errors.Is support.
func (e *UnknownFieldError) Unwrap() error {
	return ErrUnknownField
}

// FieldTypeError reports a value that does not match its field's type.
type FieldTypeError struct {
	Field string
	Want  FieldType
	Got   any
}

// Error implements the error interface.
func (e *FieldTypeError) Error() string {
	return fmt.Sprintf("state field %q: want %s, got %T", e.Field, e.Want, e.Got)
}

// Unwrap returns ErrFieldType for errors.Is support.
func (e *FieldTypeError) Unwrap() error {
	return ErrFieldType
}

// DuplicateNodeError reports a node or fan-out name added twice.
type DuplicateNodeError struct {
	NodeID string
}

// Error implements the error interface.
func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate node ID: %s", e.NodeID)
}

// Unwrap returns ErrDuplicateNode for errors.Is support.
func (e *DuplicateNodeError) Unwrap() error {
	return ErrDuplicateNode
}

// RoutingError reports a conditional edge or fan-out that could not pick
// its next step.
type RoutingError struct {
	// FromNode is the node with the conditional edge, or the fan-out step.
	FromNode string
	// Label is the value the router returned, or the targeted branch.
	Label string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing from %s with label %q: %v", e.FromNode, e.Label, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RoutingError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps errors from checkpoint store operations.
// A failed save means the step is not durable; the caller may retry it.
type PersistenceError struct {
	ThreadID string
	// Op is the operation that failed ("save", "load", "put_interrupt", ...).
	Op string
	// Sequence is the checkpoint sequence involved, or -1.
	Sequence int
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	if e.Sequence >= 0 {
		return fmt.Sprintf("checkpoint %s for thread %s at sequence %d: %v", e.Op, e.ThreadID, e.Sequence, e.Err)
	}
	return fmt.Sprintf("checkpoint %s for thread %s: %v", e.Op, e.ThreadID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ResumeValueRequiredError reports Start on a suspended thread.
type ResumeValueRequiredError struct {
	ThreadID    string
	NodeID      string
	InterruptID string
}

// Error implements the error interface.
func (e *ResumeValueRequiredError) Error() string {
	return fmt.Sprintf("thread %s is suspended at node %s (interrupt %s); resume value required",
		e.ThreadID, e.NodeID, e.InterruptID)
}

// Unwrap returns ErrResumeValueRequired for errors.Is support.
func (e *ResumeValueRequiredError) Unwrap() error {
	return ErrResumeValueRequired
}

// NotSuspendedError reports Resume on a thread that is not waiting for input.
type NotSuspendedError struct {
	ThreadID string
	// Status is the thread's current status, empty for an unknown thread.
	Status string
}

// Error implements the error interface.
func (e *NotSuspendedError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("thread %s is not suspended: no checkpoints", e.ThreadID)
	}
	return fmt.Sprintf("thread %s is not suspended (status %s)", e.ThreadID, e.Status)
}

// Unwrap returns ErrNotSuspended for errors.Is support.
func (e *NotSuspendedError) Unwrap() error {
	return ErrNotSuspended
}

// AlreadyResumedError reports a second resume of an interrupt whose value
// was already consumed.
type AlreadyResumedError struct {
	ThreadID    string
	InterruptID string
}

// Error implements the error interface.
func (e *AlreadyResumedError) Error() string {
	return fmt.Sprintf("thread %s: interrupt %s already resumed", e.ThreadID, e.InterruptID)
}

// Unwrap returns ErrAlreadyResumed for errors.Is support.
func (e *AlreadyResumedError) Unwrap() error {
	return ErrAlreadyResumed
}

// ThreadFailedError reports Start on a failed thread. Use Runner.RetryFrom
// to continue it.
type ThreadFailedError struct {
	ThreadID string
	NodeID   string
	Sequence int
	// Cause is the error message recorded on the failed checkpoint.
	Cause string
}

// Error implements the error interface.
func (e *ThreadFailedError) Error() string {
	return fmt.Sprintf("thread %s failed at node %s (sequence %d): %s", e.ThreadID, e.NodeID, e.Sequence, e.Cause)
}

// Unwrap returns ErrThreadFailed for errors.Is support.
func (e *ThreadFailedError) Unwrap() error {
	return ErrThreadFailed
}

// NodeError wraps an error with node context.
// It provides information about which node failed and what operation was attempted.
type NodeError struct {
	// NodeID is the identifier of the node that failed.
	NodeID string
	// Op is the operation that failed ("execute", "merge", "route", "dispatch").
	Op string
	// Err is the underlying error from the node.
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// PanicError captures panic information from node execution.
// It includes the stack trace for debugging.
type PanicError struct {
	// NodeID is the identifier of the node that panicked.
	NodeID string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError captures where execution was cancelled.
type CancellationError struct {
	// NodeID is the step that was about to execute or was executing.
	NodeID string
	// Cause is the underlying cancellation cause (context.Canceled,
	// context.DeadlineExceeded or ErrCancelled).
	Cause error
	// WasExecuting is true if cancellation occurred during step execution.
	WasExecuting bool
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	if e.WasExecuting {
		return fmt.Sprintf("cancelled during node %s: %v", e.NodeID, e.Cause)
	}
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// MaxIterationsError provides context when the step limit is exceeded.
type MaxIterationsError struct {
	// Max is the configured step limit.
	Max int
	// LastNodeID is the step that would have executed next.
	LastNodeID string
}

// Error implements the error interface.
func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("exceeded maximum iterations (%d) at node %s", e.Max, e.LastNodeID)
}

// Unwrap returns ErrMaxIterations for errors.Is support.
func (e *MaxIterationsError) Unwrap() error {
	return ErrMaxIterations
}

// FanOutError reports a failed fan-out branch.
type FanOutError struct {
	// FanOutID is the fan-out step.
	FanOutID string
	// Branch is the index of the branch in dispatch order.
	Branch int
	// NodeID is the node the branch invoked.
	NodeID string
	// Err is the branch error.
	Err error
}

// Error implements the error interface.
func (e *FanOutError) Error() string {
	return fmt.Sprintf("fan-out %s branch %d (%s): %v", e.FanOutID, e.Branch, e.NodeID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *FanOutError) Unwrap() error {
	return e.Err
}
