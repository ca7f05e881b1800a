package checkpoint_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/workgraph/pkg/workgraph/checkpoint"
)

func TestRedisStore_Prefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})

	store := checkpoint.NewRedisStoreFromClient(client, checkpoint.WithPrefix("tenant-a:"))
	defer store.Close()

	require.NoError(t, store.Save(ctx, checkpoint.New("t1", 0, "", "a",
		checkpoint.StatusRunning, map[string]any{})))
	require.NoError(t, store.PutInterrupt(ctx, &checkpoint.Interrupt{ThreadID: "t1", InterruptID: "i"}))

	assert.True(t, mr.Exists("tenant-a:seq:t1"))
	assert.True(t, mr.Exists("tenant-a:cp:t1"))
	assert.True(t, mr.Exists("tenant-a:interrupt:t1"))
}

func TestRedisStore_SharedAcrossClients(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	a := checkpoint.NewRedisStore(mr.Addr(), "", 0)
	defer a.Close()
	b := checkpoint.NewRedisStore(mr.Addr(), "", 0)
	defer b.Close()

	require.NoError(t, a.Save(ctx, checkpoint.New("t1", 0, "", "a",
		checkpoint.StatusRunning, map[string]any{"v": "x"})))

	// A second process sees the same history and cannot reuse the sequence.
	latest, err := b.LoadLatest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "x", latest.State["v"])

	err = b.Save(ctx, checkpoint.New("t1", 0, "", "a", checkpoint.StatusRunning, nil))
	assert.ErrorIs(t, err, checkpoint.ErrSequenceConflict)
}
