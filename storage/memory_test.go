package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanuelegissi/flowbuttons/types"
)

// MockGenerator hands out ids from a fixed starting point.
type MockGenerator struct {
	mu  sync.Mutex
	id  uint64
	err error
}

func (g *MockGenerator) NextID() (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return 0, g.err
	}
	g.id++
	return g.id, nil
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Seeder {
		return NewMemoryStore()
	})
}

func TestMemoryStoreGenerator(t *testing.T) {
	ctx := context.Background()

	t.Run("IDsFromGenerator", func(t *testing.T) {
		store := NewMemoryStore(WithGenerator(&MockGenerator{id: 41}))
		_, err := store.ApplyUserActions(ctx, []types.UserAction{types.AddTable("T", []string{"a"})})
		require.NoError(t, err)

		id, err := store.CreateRecord(ctx, "T", map[string]interface{}{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, int64(42), id)
	})

	t.Run("GeneratorError", func(t *testing.T) {
		store := NewMemoryStore(WithGenerator(&MockGenerator{err: errors.New("clock moved backwards")}))
		_, err := store.ApplyUserActions(ctx, []types.UserAction{types.AddTable("T", []string{"a"})})
		require.NoError(t, err)

		_, err = store.CreateRecord(ctx, "T", nil)
		assert.ErrorContains(t, err, "clock moved backwards")
	})
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.ApplyUserActions(ctx, []types.UserAction{
		types.AddTable("T", []string{"list"}),
		types.AddRecord("T", 1, map[string]interface{}{"list": []interface{}{"L", "a"}}),
	})
	require.NoError(t, err)

	rec, err := store.FetchRecord(ctx, "T", 1)
	require.NoError(t, err)
	rec["list"].([]interface{})[1] = "mutated"

	again, err := store.FetchRecord(ctx, "T", 1)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"L", "a"}, again["list"])
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.ListTables(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.CreateRecord(ctx, "T", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStoreConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.ApplyUserActions(ctx, []types.UserAction{types.AddTable("T", []string{"n"})})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.CreateRecord(ctx, "T", map[string]interface{}{"n": n})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	data, err := store.FetchTable(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, 50, data.Len())
}
