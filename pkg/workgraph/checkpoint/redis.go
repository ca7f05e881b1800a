package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	backend "github.com/redis/go-redis/v9"
)

// saveScript appends a checkpoint only if its sequence advances the thread.
// KEYS[1] = sequence index (ZSET), KEYS[2] = checkpoint data (HASH)
// ARGV[1] = sequence, ARGV[2] = encoded checkpoint
var saveScript = backend.NewScript(`
local top = redis.call("ZREVRANGE", KEYS[1], 0, 0, "WITHSCORES")
if top[2] and tonumber(top[2]) >= tonumber(ARGV[1]) then
	return tonumber(top[2])
end
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[1])
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
return -1
`)

// RedisStore persists checkpoints in Redis. Each thread keeps a sorted set
// of sequence numbers and a hash of encoded checkpoints keyed by sequence.
type RedisStore struct {
	client *backend.Client
	prefix string
	closed atomic.Bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix. Defaults to "workgraph:".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis checkpoint store for the given address.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient creates a Redis checkpoint store from an existing client.
// Close closes the client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: "workgraph:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStore) indexKey(threadID string) string {
	return s.prefix + "seq:" + threadID
}

func (s *RedisStore) dataKey(threadID string) string {
	return s.prefix + "cp:" + threadID
}

func (s *RedisStore) interruptKey(threadID string) string {
	return s.prefix + "interrupt:" + threadID
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	data, err := cp.Marshal()
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	latest, err := saveScript.Run(ctx, s.client,
		[]string{s.indexKey(cp.ThreadID), s.dataKey(cp.ThreadID)},
		cp.Sequence, data,
	).Int64()
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if latest >= 0 {
		return fmt.Errorf("%w: thread %s sequence %d <= %d",
			ErrSequenceConflict, cp.ThreadID, cp.Sequence, latest)
	}
	return nil
}

// LoadLatest implements Store.
func (s *RedisStore) LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	seqs, err := s.client.ZRevRange(ctx, s.indexKey(threadID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("read latest sequence: %w", err)
	}
	if len(seqs) == 0 {
		return nil, ErrNotFound
	}
	return s.get(ctx, threadID, seqs[0])
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, threadID string, sequence int) (*Checkpoint, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	return s.get(ctx, threadID, strconv.Itoa(sequence))
}

func (s *RedisStore) get(ctx context.Context, threadID, field string) (*Checkpoint, error) {
	val, err := s.client.HGet(ctx, s.dataKey(threadID), field).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	cp, err := Unmarshal(val)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	seqs, err := s.client.ZRange(ctx, s.indexKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	result := make([]*Checkpoint, 0, len(seqs))
	if len(seqs) == 0 {
		return result, nil
	}

	vals, err := s.client.HMGet(ctx, s.dataKey(threadID), seqs...).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("list checkpoints: missing data for sequence %s", seqs[i])
		}
		cp, err := Unmarshal([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
		result = append(result, cp)
	}
	return result, nil
}

// Prune implements Store.
func (s *RedisStore) Prune(ctx context.Context, threadID string, keep int) (int, error) {
	if keep < 1 {
		return 0, ErrInvalidRetention
	}
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}

	total, err := s.client.ZCard(ctx, s.indexKey(threadID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count checkpoints: %w", err)
	}
	excess := total - int64(keep)
	if excess <= 0 {
		return 0, nil
	}

	seqs, err := s.client.ZRange(ctx, s.indexKey(threadID), 0, excess-1).Result()
	if err != nil {
		return 0, fmt.Errorf("find prunable checkpoints: %w", err)
	}

	members := make([]any, len(seqs))
	for i, seq := range seqs {
		members[i] = seq
	}

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.indexKey(threadID), members...)
	pipe.HDel(ctx, s.dataKey(threadID), seqs...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	return len(seqs), nil
}

// DeleteThread implements Store.
func (s *RedisStore) DeleteThread(ctx context.Context, threadID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	err := s.client.Del(ctx,
		s.indexKey(threadID), s.dataKey(threadID), s.interruptKey(threadID),
	).Err()
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// PutInterrupt implements Store.
func (s *RedisStore) PutInterrupt(ctx context.Context, rec *Interrupt) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode interrupt: %w", err)
	}
	if err := s.client.Set(ctx, s.interruptKey(rec.ThreadID), data, 0).Err(); err != nil {
		return fmt.Errorf("save interrupt: %w", err)
	}
	return nil
}

// GetInterrupt implements Store.
func (s *RedisStore) GetInterrupt(ctx context.Context, threadID string) (*Interrupt, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	val, err := s.client.Get(ctx, s.interruptKey(threadID)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load interrupt: %w", err)
	}

	var rec Interrupt
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("decode interrupt: %w", err)
	}
	return &rec, nil
}

// DeleteInterrupt implements Store.
func (s *RedisStore) DeleteInterrupt(ctx context.Context, threadID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	if err := s.client.Del(ctx, s.interruptKey(threadID)).Err(); err != nil {
		return fmt.Errorf("delete interrupt: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}
