package workgraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Context provides execution context to nodes.
// It extends context.Context with workgraph-specific services and metadata.
//
// Context is immutable after creation. The Runner creates derived contexts
// for each node with updated NodeID and enriched logger.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with thread and node context.
	// Never returns nil - defaults to slog.Default() if not configured.
	Logger() *slog.Logger

	// ThreadID returns the thread being advanced.
	ThreadID() string

	// NodeID returns the current node being executed.
	NodeID() string

	// ResumeValue returns the value supplied to Runner.Resume. It is only
	// present on the first invocation of the node that suspended.
	ResumeValue() (any, bool)

	// Branch returns the index of the fan-out branch running this node,
	// or -1 outside a fan-out.
	Branch() int
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger      *slog.Logger
	threadID    string
	nodeID      string
	resumeValue any
	hasResume   bool
	branch      int
}

// Logger returns the configured logger.
func (c *executionContext) Logger() *slog.Logger {
	return c.logger
}

// ThreadID returns the thread identifier.
func (c *executionContext) ThreadID() string {
	return c.threadID
}

// NodeID returns the current node identifier.
func (c *executionContext) NodeID() string {
	return c.nodeID
}

// ResumeValue returns the resume value, if any.
func (c *executionContext) ResumeValue() (any, bool) {
	return c.resumeValue, c.hasResume
}

// Branch returns the fan-out branch index.
func (c *executionContext) Branch() int {
	return c.branch
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithContextLogger sets the logger for the context.
func WithContextLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		c.logger = logger
	}
}

// WithContextThreadID sets the thread identifier for the context.
// If not set, a UUID will be auto-generated.
func WithContextThreadID(id string) ContextOption {
	return func(c *executionContext) {
		c.threadID = id
	}
}

// WithContextResumeValue makes v available through ResumeValue.
func WithContextResumeValue(v any) ContextOption {
	return func(c *executionContext) {
		c.resumeValue = v
		c.hasResume = true
	}
}

// NewContext creates an execution context from a standard context.
// The Runner builds its own contexts; NewContext is for calling node
// functions directly, typically in tests.
//
// Example:
//
//	ctx := workgraph.NewContext(context.Background(),
//	    workgraph.WithContextThreadID("thread-123"),
//	    workgraph.WithContextResumeValue(map[string]any{"approved": true}))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context:  ctx,
		logger:   slog.Default(),
		threadID: uuid.New().String(),
		branch:   -1,
	}

	for _, opt := range opts {
		opt(ec)
	}

	return ec
}

// withNode returns a new context for one node invocation.
// Used internally by the Runner to enrich the context per node.
func (c *executionContext) withNode(nodeID string, branch int) *executionContext {
	logger := c.logger.With("thread_id", c.threadID, "node_id", nodeID)
	if branch >= 0 {
		logger = logger.With("branch", branch)
	}
	return &executionContext{
		Context:  c.Context,
		logger:   logger,
		threadID: c.threadID,
		nodeID:   nodeID,
		branch:   branch,
	}
}

// withResume attaches a resume value.
func (c *executionContext) withResume(v any) *executionContext {
	cp := *c
	cp.resumeValue = v
	cp.hasResume = true
	return &cp
}
