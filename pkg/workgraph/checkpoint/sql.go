package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	name            string
	schema          []string
	upsertInterrupt string
}

// sqlStore implements Store over database/sql. SQLiteStore and MySQLStore
// share it and differ only in dialect and connection setup.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
	closed  bool
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create %s schema: %w", d.name, err)
		}
	}
	return &sqlStore{db: db, dialect: d}, nil
}

// Save implements Store.
func (s *sqlStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := cp.Marshal()
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM checkpoints WHERE thread_id = ?`,
		cp.ThreadID,
	).Scan(&latest); err != nil {
		return fmt.Errorf("read latest sequence: %w", err)
	}
	if latest.Valid && int(latest.Int64) >= cp.Sequence {
		return fmt.Errorf("%w: thread %s sequence %d <= %d",
			ErrSequenceConflict, cp.ThreadID, cp.Sequence, latest.Int64)
	}

	// cursor is reserved in MySQL; both dialects accept backquotes.
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO checkpoints (thread_id, sequence, node_id, `cursor`, status, created_at, data)"+
			" VALUES (?, ?, ?, ?, ?, ?, ?)",
		cp.ThreadID, cp.Sequence, cp.NodeID, cp.Cursor, string(cp.Status),
		cp.CreatedAt.UTC().Format(time.RFC3339Nano), data); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (s *sqlStore) LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	return s.loadOne(ctx, `
		SELECT data FROM checkpoints
		WHERE thread_id = ?
		ORDER BY sequence DESC
		LIMIT 1
	`, threadID)
}

// Load implements Store.
func (s *sqlStore) Load(ctx context.Context, threadID string, sequence int) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	return s.loadOne(ctx, `
		SELECT data FROM checkpoints
		WHERE thread_id = ? AND sequence = ?
	`, threadID, sequence)
}

func (s *sqlStore) loadOne(ctx context.Context, query string, args ...any) (*Checkpoint, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	cp, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}

// List implements Store.
func (s *sqlStore) List(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM checkpoints
		WHERE thread_id = ?
		ORDER BY sequence
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	result := []*Checkpoint{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp, err := Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
		result = append(result, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return result, nil
}

// Prune implements Store.
func (s *sqlStore) Prune(ctx context.Context, threadID string, keep int) (int, error) {
	if keep < 1 {
		return 0, ErrInvalidRetention
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	// Find the oldest sequence that survives, then drop everything below it.
	var cutoff sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT sequence FROM checkpoints
		WHERE thread_id = ?
		ORDER BY sequence DESC
		LIMIT 1 OFFSET ?
	`, threadID, keep-1).Scan(&cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find prune cutoff: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE thread_id = ? AND sequence < ?
	`, threadID, cutoff.Int64)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	return int(n), nil
}

// DeleteThread implements Store.
func (s *sqlStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM interrupts WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread interrupt: %w", err)
	}
	return nil
}

// PutInterrupt implements Store.
func (s *sqlStore) PutInterrupt(ctx context.Context, rec *Interrupt) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode interrupt: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.upsertInterrupt,
		rec.ThreadID, rec.InterruptID, data); err != nil {
		return fmt.Errorf("save interrupt: %w", err)
	}
	return nil
}

// GetInterrupt implements Store.
func (s *sqlStore) GetInterrupt(ctx context.Context, threadID string) (*Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM interrupts WHERE thread_id = ?`, threadID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load interrupt: %w", err)
	}

	var rec Interrupt
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode interrupt: %w", err)
	}
	return &rec, nil
}

// DeleteInterrupt implements Store.
func (s *sqlStore) DeleteInterrupt(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM interrupts WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete interrupt: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
