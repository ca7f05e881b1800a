// Package storetest provides a contract suite that every checkpoint.Store
// implementation must pass.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/workgraph/pkg/workgraph/checkpoint"
)

// Factory creates a fresh, empty store for one subtest.
type Factory func(t *testing.T) checkpoint.Store

func step(threadID string, seq int, status checkpoint.Status, count float64) *checkpoint.Checkpoint {
	return checkpoint.New(threadID, seq, fmt.Sprintf("node-%d", seq), "next", status,
		map[string]any{"count": count, "log": []any{"a"}}).
		WithUpdates(map[string]any{"count": count})
}

// RunStoreContract runs the Store contract against the factory's stores.
func RunStoreContract(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("SaveAndLoadLatest", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, step("t1", 0, checkpoint.StatusRunning, 0)))
		require.NoError(t, store.Save(ctx, step("t1", 1, checkpoint.StatusRunning, 1)))

		latest, err := store.LoadLatest(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 1, latest.Sequence)
		assert.Equal(t, "node-1", latest.NodeID)
		assert.Equal(t, "next", latest.Cursor)
		assert.Equal(t, checkpoint.StatusRunning, latest.Status)
		assert.Equal(t, float64(1), latest.State["count"])
		assert.Equal(t, []any{"a"}, latest.State["log"])
		require.Len(t, latest.Updates, 1)
		assert.Equal(t, float64(1), latest.Updates[0]["count"])
	})

	t.Run("LoadLatest_NotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.LoadLatest(ctx, "missing")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run("LoadBySequence", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		for i := 0; i < 3; i++ {
			require.NoError(t, store.Save(ctx, step("t1", i, checkpoint.StatusRunning, float64(i))))
		}

		cp, err := store.Load(ctx, "t1", 1)
		require.NoError(t, err)
		assert.Equal(t, 1, cp.Sequence)
		assert.Equal(t, float64(1), cp.State["count"])

		_, err = store.Load(ctx, "t1", 7)
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run("SequenceMustIncrease", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, step("t1", 0, checkpoint.StatusRunning, 0)))
		require.NoError(t, store.Save(ctx, step("t1", 1, checkpoint.StatusRunning, 1)))

		err := store.Save(ctx, step("t1", 1, checkpoint.StatusRunning, 9))
		assert.ErrorIs(t, err, checkpoint.ErrSequenceConflict)

		err = store.Save(ctx, step("t1", 0, checkpoint.StatusRunning, 9))
		assert.ErrorIs(t, err, checkpoint.ErrSequenceConflict)

		// Rejected saves leave history untouched
		latest, err := store.LoadLatest(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, float64(1), latest.State["count"])

		// Gaps are allowed
		require.NoError(t, store.Save(ctx, step("t1", 5, checkpoint.StatusRunning, 5)))
	})

	t.Run("List_Ordered", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		for i := 0; i < 12; i++ {
			require.NoError(t, store.Save(ctx, step("t1", i, checkpoint.StatusRunning, float64(i))))
		}

		history, err := store.List(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, history, 12)
		for i, cp := range history {
			assert.Equal(t, i, cp.Sequence)
		}
	})

	t.Run("List_Empty", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		history, err := store.List(ctx, "missing")
		require.NoError(t, err)
		assert.NotNil(t, history)
		assert.Empty(t, history)
	})

	t.Run("ThreadsIsolated", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, step("t1", 0, checkpoint.StatusRunning, 1)))
		require.NoError(t, store.Save(ctx, step("t1", 1, checkpoint.StatusRunning, 2)))
		require.NoError(t, store.Save(ctx, step("t2", 0, checkpoint.StatusRunning, 100)))

		h1, err := store.List(ctx, "t1")
		require.NoError(t, err)
		h2, err := store.List(ctx, "t2")
		require.NoError(t, err)
		assert.Len(t, h1, 2)
		assert.Len(t, h2, 1)
		assert.Equal(t, float64(100), h2[0].State["count"])
	})

	t.Run("Prune", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		for i := 0; i < 5; i++ {
			require.NoError(t, store.Save(ctx, step("t1", i, checkpoint.StatusRunning, float64(i))))
		}

		removed, err := store.Prune(ctx, "t1", 2)
		require.NoError(t, err)
		assert.Equal(t, 3, removed)

		history, err := store.List(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, 3, history[0].Sequence)
		assert.Equal(t, 4, history[1].Sequence)

		_, err = store.Load(ctx, "t1", 0)
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		// Pruned sequences stay consumed
		err = store.Save(ctx, step("t1", 2, checkpoint.StatusRunning, 2))
		assert.ErrorIs(t, err, checkpoint.ErrSequenceConflict)

		removed, err = store.Prune(ctx, "t1", 10)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("Prune_KeepsLatest", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, step("t1", 0, checkpoint.StatusRunning, 0)))

		_, err := store.Prune(ctx, "t1", 0)
		assert.ErrorIs(t, err, checkpoint.ErrInvalidRetention)

		latest, err := store.LoadLatest(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 0, latest.Sequence)
	})

	t.Run("Interrupts", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.GetInterrupt(ctx, "t1")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		rec := &checkpoint.Interrupt{
			ThreadID:    "t1",
			InterruptID: "int-1",
			NodeID:      "approve",
			Sequence:    3,
			Payload:     json.RawMessage(`{"question":"ok?"}`),
		}
		require.NoError(t, store.PutInterrupt(ctx, rec))

		got, err := store.GetInterrupt(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "int-1", got.InterruptID)
		assert.Equal(t, "approve", got.NodeID)
		assert.Equal(t, 3, got.Sequence)
		assert.JSONEq(t, `{"question":"ok?"}`, string(got.Payload))

		// Replace
		rec.InterruptID = "int-2"
		require.NoError(t, store.PutInterrupt(ctx, rec))
		got, err = store.GetInterrupt(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "int-2", got.InterruptID)

		require.NoError(t, store.DeleteInterrupt(ctx, "t1"))
		_, err = store.GetInterrupt(ctx, "t1")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		// Deleting an absent record is not an error
		assert.NoError(t, store.DeleteInterrupt(ctx, "t1"))
	})

	t.Run("DeleteThread", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, step("t1", 0, checkpoint.StatusRunning, 0)))
		require.NoError(t, store.Save(ctx, step("t2", 0, checkpoint.StatusRunning, 0)))
		require.NoError(t, store.PutInterrupt(ctx, &checkpoint.Interrupt{ThreadID: "t1", InterruptID: "x"}))

		require.NoError(t, store.DeleteThread(ctx, "t1"))

		_, err := store.LoadLatest(ctx, "t1")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
		_, err = store.GetInterrupt(ctx, "t1")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		_, err = store.LoadLatest(ctx, "t2")
		assert.NoError(t, err)

		assert.NoError(t, store.DeleteThread(ctx, "missing"))
	})

	t.Run("NoSharedMemory", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		cp := step("t1", 0, checkpoint.StatusRunning, 1)
		require.NoError(t, store.Save(ctx, cp))
		cp.State["count"] = float64(99)

		loaded, err := store.LoadLatest(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, float64(1), loaded.State["count"])

		loaded.State["count"] = float64(42)
		again, err := store.LoadLatest(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, float64(1), again.State["count"])
	})

	t.Run("Concurrent", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		const threads = 8
		const steps = 10

		var wg sync.WaitGroup
		errs := make(chan error, threads*steps)
		for i := 0; i < threads; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				threadID := fmt.Sprintf("t-%d", id)
				for seq := 0; seq < steps; seq++ {
					if err := store.Save(ctx, step(threadID, seq, checkpoint.StatusRunning, float64(seq))); err != nil {
						errs <- err
					}
				}
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}
		for i := 0; i < threads; i++ {
			history, err := store.List(ctx, fmt.Sprintf("t-%d", i))
			require.NoError(t, err)
			assert.Len(t, history, steps)
		}
	})

	t.Run("Close_ThenError", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Close())

		err := store.Save(ctx, step("t1", 0, checkpoint.StatusRunning, 0))
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)

		_, err = store.LoadLatest(ctx, "t1")
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)

		_, err = store.List(ctx, "t1")
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)

		_, err = store.GetInterrupt(ctx, "t1")
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)

		// Close is idempotent
		assert.NoError(t, store.Close())
	})
}
