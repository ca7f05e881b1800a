package checkpoint_test

import (
	"fmt"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/workgraph/pkg/workgraph/checkpoint"
	"github.com/randalmurphal/workgraph/pkg/workgraph/checkpoint/storetest"
)

// TestMemoryStore runs contract tests against MemoryStore.
func TestMemoryStore(t *testing.T) {
	storetest.RunStoreContract(t, func(t *testing.T) checkpoint.Store {
		return checkpoint.NewMemoryStore()
	})
}

// TestSQLiteStore runs contract tests against SQLiteStore.
func TestSQLiteStore(t *testing.T) {
	storetest.RunStoreContract(t, func(t *testing.T) checkpoint.Store {
		store, err := checkpoint.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		return store
	})
}

// TestRedisStore runs contract tests against RedisStore backed by miniredis.
func TestRedisStore(t *testing.T) {
	storetest.RunStoreContract(t, func(t *testing.T) checkpoint.Store {
		mr := miniredis.RunT(t)
		client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
		return checkpoint.NewRedisStoreFromClient(client)
	})
}

// TestMySQLStore runs contract tests against a live MySQL server.
func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL tests: TEST_MYSQL_DSN not set")
	}

	storetest.RunStoreContract(t, func(t *testing.T) checkpoint.Store {
		store, err := checkpoint.NewMySQLStore(t.Context(), dsn)
		require.NoError(t, err)

		// Tables are shared between subtests; start each one clean.
		ids := []string{"t1", "t2", "missing"}
		for i := 0; i < 8; i++ {
			ids = append(ids, fmt.Sprintf("t-%d", i))
		}
		for _, id := range ids {
			require.NoError(t, store.DeleteThread(t.Context(), id))
		}
		return store
	})
}
