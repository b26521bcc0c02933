package kvstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/todosync/internal/testutil"
	"github.com/roach88/todosync/internal/todo"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func rec(id int64, text string, completed bool, offset int) todo.Todo {
	return todo.Todo{
		ID:        id,
		Text:      text,
		Completed: completed,
		CreatedAt: testutil.DefaultEpoch.Add(time.Duration(offset) * time.Second),
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestStore_UpsertAndLoad(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, s.WriteUpsert(ctx, rec(1, "Buy milk", false, 0)))
	require.NoError(t, s.WriteUpsert(ctx, rec(2, "Walk dog", false, 1)))
	require.NoError(t, s.WriteUpsert(ctx, rec(1, "Buy milk", true, 0)))

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []todo.Todo{rec(2, "Walk dog", false, 1), rec(1, "Buy milk", true, 0)}, all)
}

func TestStore_LoadAllCanonicalOrderNotKeyOrder(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	// Key order is by id; canonical order is newest first with id tie-break.
	require.NoError(t, s.WriteUpsert(ctx, rec(1, "newest", false, 10)))
	require.NoError(t, s.WriteUpsert(ctx, rec(2, "tied", false, 5)))
	require.NoError(t, s.WriteUpsert(ctx, rec(3, "tied", false, 5)))
	require.NoError(t, s.WriteUpsert(ctx, rec(10, "oldest", false, 0)))

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 2, 10}, todo.IDs(all))
}

func TestStore_Deletes(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	for i := int64(1); i <= 4; i++ {
		require.NoError(t, s.WriteUpsert(ctx, rec(i, "item", false, int(i))))
	}

	require.NoError(t, s.WriteDelete(ctx, 2))
	require.NoError(t, s.WriteDelete(ctx, 2), "deleting a missing id succeeds")
	require.NoError(t, s.WriteDeleteMany(ctx, []int64{1, 3, 99}))

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, todo.IDs(all))
}

func TestStore_EmptyLoad(t *testing.T) {
	s := openInMemory(t)

	all, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s1.WriteUpsert(ctx, rec(1, "Buy milk", false, 0)))
	require.NoError(t, s1.Close())

	s2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s2.Close()

	all, err := s2.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []todo.Todo{rec(1, "Buy milk", false, 0)}, all)
}

func TestStore_LastIDSurvivesDeleteAndReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s1.WriteUpsert(ctx, rec(1, "a", false, 0)))
	require.NoError(t, s1.WriteUpsert(ctx, rec(2, "b", false, 1)))
	require.NoError(t, s1.WriteDelete(ctx, 2))
	require.NoError(t, s1.Close())

	s2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s2.Close()

	last, err := s2.LastID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), last)

	all, err := s2.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, todo.IDs(all))
}

func TestStore_LastIDNeverLowered(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	last, err := s.LastID(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)

	require.NoError(t, s.WriteUpsert(ctx, rec(9, "a", false, 0)))
	require.NoError(t, s.WriteUpsert(ctx, rec(3, "b", false, 1)))
	require.NoError(t, s.WriteDeleteMany(ctx, []int64{9, 3}))

	last, err = s.LastID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), last)
}

func TestStore_ConcurrentUpsertsRaiseLastID(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for id := int64(1); id <= 20; id++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.WriteUpsert(ctx, rec(id, "x", false, int(id))))
		}()
	}
	wg.Wait()

	last, err := s.LastID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), last)
}

func TestStore_CancelledContext(t *testing.T) {
	s := openInMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.WriteUpsert(ctx, rec(1, "a", false, 0)), context.Canceled)
	assert.ErrorIs(t, s.WriteDelete(ctx, 1), context.Canceled)
	assert.ErrorIs(t, s.WriteDeleteMany(ctx, []int64{1}), context.Canceled)
	_, err := s.LoadAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.LastID(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKey_SortsByID(t *testing.T) {
	assert.Equal(t, "todo:00000000000000000042", string(key(42)))
	assert.Less(t, string(key(9)), string(key(10)))
}
