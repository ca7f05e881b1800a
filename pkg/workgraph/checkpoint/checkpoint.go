package checkpoint

import (
	"encoding/json"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// Status is the lifecycle state of a thread as recorded by a checkpoint.
type Status string

// Thread status constants.
const (
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further automatic progress is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusSuspended, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Checkpoint is the persisted snapshot of a thread after one step.
// Checkpoints are append-only: every step writes a new sequence number.
type Checkpoint struct {
	// Metadata
	Version   int       `json:"version"`
	ThreadID  string    `json:"thread_id"`
	Sequence  int       `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`

	// NodeID is the node or fan-out step that produced this checkpoint.
	// Empty for the initial checkpoint (sequence 0).
	NodeID string `json:"node_id,omitempty"`

	// Cursor names what runs next. For a suspended thread it names the
	// node awaiting a resume value; for a completed thread it is "__end__".
	Cursor string `json:"cursor"`
	Status Status `json:"status"`

	// State is the full state after this step.
	State map[string]any `json:"state"`

	// Updates are the partial updates applied at this step, in merge order.
	// The initial checkpoint carries the initial state as its only update.
	Updates []map[string]any `json:"updates,omitempty"`

	// RetryOf is set on checkpoints written by an administrative retry and
	// names the sequence whose state was copied forward.
	RetryOf *int `json:"retry_of,omitempty"`

	// Interrupt bookkeeping.
	Payload         json.RawMessage `json:"payload,omitempty"`
	InterruptID     string          `json:"interrupt_id,omitempty"`
	LastInterruptID string          `json:"last_interrupt_id,omitempty"`

	// Error is the failure message for failed checkpoints and the joined
	// branch errors of a best-effort fan-out.
	Error string `json:"error,omitempty"`
}

// New creates a checkpoint for the given thread step.
func New(threadID string, sequence int, nodeID, cursor string, status Status, state map[string]any) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		ThreadID:  threadID,
		Sequence:  sequence,
		NodeID:    nodeID,
		Cursor:    cursor,
		Status:    status,
		State:     state,
		CreatedAt: time.Now().UTC(),
	}
}

// WithUpdates records the partial updates merged at this step.
func (c *Checkpoint) WithUpdates(updates ...map[string]any) *Checkpoint {
	c.Updates = updates
	return c
}

// WithRetryOf marks the checkpoint as a copy of sequence seq.
func (c *Checkpoint) WithRetryOf(seq int) *Checkpoint {
	c.RetryOf = &seq
	return c
}

// WithError records a failure message.
func (c *Checkpoint) WithError(msg string) *Checkpoint {
	c.Error = msg
	return c
}

// WithInterrupt marks the checkpoint as the suspension point for interruptID.
func (c *Checkpoint) WithInterrupt(interruptID string, payload json.RawMessage) *Checkpoint {
	c.InterruptID = interruptID
	c.LastInterruptID = interruptID
	c.Payload = payload
	return c
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Interrupt records why a thread is suspended. It exists only while the
// thread waits for a resume value.
type Interrupt struct {
	ThreadID    string          `json:"thread_id"`
	InterruptID string          `json:"interrupt_id"`
	NodeID      string          `json:"node_id"`
	Sequence    int             `json:"sequence"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// clone returns a deep copy so stores never share memory with callers.
func (c *Checkpoint) clone() (*Checkpoint, error) {
	data, err := c.Marshal()
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

func (i *Interrupt) clone() *Interrupt {
	cp := *i
	if i.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), i.Payload...)
	}
	return &cp
}
