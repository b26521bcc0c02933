package records

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/todosync/internal/testutil"
	"github.com/roach88/todosync/internal/todo"
)

// newTestStore creates a store with a deterministic clock.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(WithClock(testutil.NewClock().Now))
}

// recorder collects events delivered to a subscriber.
type recorder struct {
	mu     sync.Mutex
	events []Event
	alls   [][]todo.Todo
}

func (r *recorder) subscriber(ev Event, all []todo.Todo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.alls = append(r.alls, all)
}

func (r *recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func ptr[T any](v T) *T { return &v }

func TestStore_Insert(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Insert("Buy milk")
	require.NoError(t, err)

	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, "Buy milk", rec.Text)
	assert.False(t, rec.Completed)
	assert.Equal(t, testutil.DefaultEpoch, rec.CreatedAt)

	got, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestStore_Insert_ValidationDoesNotAllocate(t *testing.T) {
	s := newTestStore(t)
	rec := &recorder{}
	s.Subscribe(rec.subscriber)

	_, err := s.Insert("   ")
	require.Error(t, err)
	assert.True(t, todo.IsValidation(err))

	_, err = s.Insert(strings.Repeat("x", todo.MaxTextLength+1))
	require.Error(t, err)
	assert.True(t, todo.IsValidation(err))

	assert.Equal(t, 0, s.Len())
	assert.Empty(t, rec.Events(), "rejected calls must not emit")

	ok, err := s.Insert("first valid")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ok.ID, "rejected inserts must not consume ids")
}

func TestStore_IDsUniqueAndStrictlyIncreasing(t *testing.T) {
	s := newTestStore(t)

	var last int64
	for i := 0; i < 100; i++ {
		rec, err := s.Insert("item")
		require.NoError(t, err)
		assert.Greater(t, rec.ID, last)
		last = rec.ID
	}

	// Deletion never frees an id for reuse.
	require.NoError(t, s.Delete(last))
	rec, err := s.Insert("after delete")
	require.NoError(t, err)
	assert.Equal(t, last+1, rec.ID)
}

func TestStore_Update(t *testing.T) {
	s := newTestStore(t)
	orig, err := s.Insert("Buy milk")
	require.NoError(t, err)

	t.Run("text only", func(t *testing.T) {
		rec, err := s.Update(orig.ID, todo.Patch{Text: ptr("Buy oat milk")})
		require.NoError(t, err)
		assert.Equal(t, "Buy oat milk", rec.Text)
		assert.False(t, rec.Completed)
		assert.Equal(t, orig.CreatedAt, rec.CreatedAt, "createdAt is immutable")
	})

	t.Run("completed only", func(t *testing.T) {
		rec, err := s.Update(orig.ID, todo.Patch{Completed: ptr(true)})
		require.NoError(t, err)
		assert.Equal(t, "Buy oat milk", rec.Text)
		assert.True(t, rec.Completed)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.Update(99, todo.Patch{Completed: ptr(true)})
		require.Error(t, err)
		assert.True(t, todo.IsNotFound(err))
	})

	t.Run("invalid text leaves record untouched", func(t *testing.T) {
		_, err := s.Update(orig.ID, todo.Patch{Text: ptr(""), Completed: ptr(false)})
		require.Error(t, err)
		assert.True(t, todo.IsValidation(err))

		rec, err := s.Get(orig.ID)
		require.NoError(t, err)
		assert.True(t, rec.Completed)
	})

	t.Run("empty patch", func(t *testing.T) {
		_, err := s.Update(orig.ID, todo.Patch{})
		require.Error(t, err)
		assert.True(t, todo.IsValidation(err))
	})
}

func TestStore_Toggle(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Insert("Walk dog")
	require.NoError(t, err)

	toggled, err := s.Toggle(rec.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Completed)

	toggled, err = s.Toggle(rec.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Completed)

	_, err = s.Toggle(404)
	assert.True(t, todo.IsNotFound(err))
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Insert("Walk dog")
	require.NoError(t, err)

	require.NoError(t, s.Delete(rec.ID))
	_, err = s.Get(rec.ID)
	assert.True(t, todo.IsNotFound(err))

	err = s.Delete(rec.ID)
	assert.True(t, todo.IsNotFound(err), "second delete reports not found")
}

func TestStore_ListCanonicalOrder(t *testing.T) {
	s := newTestStore(t)
	for _, text := range []string{"a", "b", "c"} {
		_, err := s.Insert(text)
		require.NoError(t, err)
	}

	assert.Equal(t, []int64{3, 2, 1}, todo.IDs(s.List()))
}

func TestStore_ListTieBreakByIDDesc(t *testing.T) {
	s := New(WithClock(testutil.NewClockAt(testutil.DefaultEpoch, 0).Now))
	for _, text := range []string{"a", "b", "c"} {
		_, err := s.Insert(text)
		require.NoError(t, err)
	}

	assert.Equal(t, []int64{3, 2, 1}, todo.IDs(s.List()))
}

func TestStore_BuyMilkScenario(t *testing.T) {
	s := newTestStore(t)

	milk, err := s.Insert("Buy milk")
	require.NoError(t, err)
	assert.Equal(t, int64(1), milk.ID)
	assert.False(t, milk.Completed)

	dog, err := s.Insert("Walk dog")
	require.NoError(t, err)
	assert.Equal(t, int64(2), dog.ID)

	milk, err = s.Toggle(1)
	require.NoError(t, err)
	assert.True(t, milk.Completed)

	all := s.List()
	require.Len(t, all, 2)
	assert.Equal(t, int64(2), all[0].ID)
	assert.Equal(t, "Walk dog", all[0].Text)
	assert.Equal(t, int64(1), all[1].ID)
	assert.Equal(t, "Buy milk", all[1].Text)

	assert.Equal(t, 1, s.DeleteCompleted())
	assert.Equal(t, []int64{2}, todo.IDs(s.List()))
}

func TestStore_DeleteCompleted_PreservesOrder(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 6; i++ {
		_, err := s.Insert("item")
		require.NoError(t, err)
	}
	for _, id := range []int64{2, 3, 5} {
		_, err := s.Toggle(id)
		require.NoError(t, err)
	}

	before := s.List()
	removed := s.DeleteCompleted()
	after := s.List()

	assert.Equal(t, 3, removed)
	var expected []int64
	for _, r := range before {
		if !r.Completed {
			expected = append(expected, r.ID)
		}
	}
	assert.Equal(t, expected, todo.IDs(after))
	for _, r := range after {
		assert.False(t, r.Completed)
	}
}

func TestStore_DeleteAll(t *testing.T) {
	s := newTestStore(t)
	rec := &recorder{}
	s.Subscribe(rec.subscriber)

	assert.Equal(t, 0, s.DeleteAll(), "empty store")
	assert.Empty(t, rec.Events(), "nothing removed, nothing emitted")

	for i := 0; i < 3; i++ {
		_, err := s.Insert("item")
		require.NoError(t, err)
	}

	assert.Equal(t, 3, s.DeleteAll())
	assert.Equal(t, 0, s.Len())

	events := rec.Events()
	last := events[len(events)-1]
	assert.Equal(t, EventBulkDeleted, last.Kind)
	assert.Equal(t, []int64{3, 2, 1}, last.IDs)
}

func TestStore_DeleteCompleted_NoneCompletedEmitsNothing(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 2; i++ {
		_, err := s.Insert("item")
		require.NoError(t, err)
	}
	rec := &recorder{}
	s.Subscribe(rec.subscriber)

	assert.Equal(t, 0, s.DeleteCompleted())
	assert.Equal(t, 0, s.DeleteCompleted())
	assert.Empty(t, rec.Events())
	assert.Equal(t, 2, s.Len())
}

func TestStore_Reserve(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Insert("one")
	require.NoError(t, err)

	s.Reserve(5)
	s.Reserve(3)
	assert.Equal(t, int64(5), s.LastID())

	rec, err := s.Insert("after reserve")
	require.NoError(t, err)
	assert.Equal(t, int64(6), rec.ID)
}

func TestStore_SetAllCompleted(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		_, err := s.Insert("item")
		require.NoError(t, err)
	}
	_, err := s.Toggle(2)
	require.NoError(t, err)

	rec := &recorder{}
	s.Subscribe(rec.subscriber)

	assert.Equal(t, 2, s.SetAllCompleted(true))
	assert.Equal(t, todo.Stats{Total: 3, Completed: 3}, s.Stats())

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventBulkUpdated, events[0].Kind)
	assert.Equal(t, []int64{3, 1}, events[0].AffectedIDs())

	assert.Equal(t, 0, s.SetAllCompleted(true), "no-op emits nothing")
	assert.Len(t, rec.Events(), 1)
}

func TestStore_EventsOnePerMutationInOrder(t *testing.T) {
	s := newTestStore(t)
	rec := &recorder{}
	snapshot, cancel := s.Subscribe(rec.subscriber)
	defer cancel()
	assert.Empty(t, snapshot)

	a, _ := s.Insert("a")
	_, _ = s.Insert("b")
	_, _ = s.Toggle(a.ID)
	_ = s.Delete(a.ID)
	_ = s.DeleteAll()

	events := rec.Events()
	kinds := make([]EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
		if i > 0 {
			assert.Greater(t, ev.Seq, events[i-1].Seq, "seq strictly increasing")
		}
	}
	assert.Equal(t, []EventKind{EventCreated, EventCreated, EventUpdated, EventDeleted, EventBulkDeleted}, kinds)

	// Each subscriber sees the post-mutation record set.
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []int64{1}, todo.IDs(rec.alls[0]))
	assert.Equal(t, []int64{2, 1}, todo.IDs(rec.alls[1]))
	assert.Empty(t, rec.alls[4])
}

func TestStore_SubscribeSnapshotAndCancel(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.Insert("existing")

	rec := &recorder{}
	snapshot, cancel := s.Subscribe(rec.subscriber)
	assert.Equal(t, []int64{1}, todo.IDs(snapshot))

	_, _ = s.Insert("seen")
	cancel()
	cancel() // idempotent
	_, _ = s.Insert("unseen")

	assert.Len(t, rec.Events(), 1)
}

func TestStore_SubscribersRunInOrder(t *testing.T) {
	s := newTestStore(t)
	var order []string
	s.Subscribe(func(Event, []todo.Todo) { order = append(order, "first") })
	s.Subscribe(func(Event, []todo.Todo) { order = append(order, "second") })

	_, err := s.Insert("x")
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestStore_Load(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	err := s.Load([]todo.Todo{
		{ID: 7, Text: "old", CreatedAt: base},
		{ID: 3, Text: "older", Completed: true, CreatedAt: base.Add(-time.Hour)},
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{7, 3}, todo.IDs(s.List()))
	assert.Equal(t, int64(7), s.LastID())

	rec, err := s.Insert("new")
	require.NoError(t, err)
	assert.Equal(t, int64(8), rec.ID, "allocator reseeded past restored ids")
}

func TestStore_Load_RejectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.Insert("keep")

	err := s.Load([]todo.Todo{{ID: 1, Text: "a"}, {ID: 1, Text: "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id 1")

	err = s.Load([]todo.Todo{{ID: 0, Text: "zero"}})
	require.Error(t, err)

	assert.Equal(t, 1, s.Len(), "failed load leaves store unchanged")
}

func TestStore_ConcurrentMutations(t *testing.T) {
	s := New()
	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				rec, err := s.Insert("concurrent")
				if !assert.NoError(t, err) {
					return
				}
				_, err = s.Toggle(rec.ID)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	st := s.Stats()
	assert.Equal(t, goroutines*perGoroutine, st.Total)
	assert.Equal(t, goroutines*perGoroutine, st.Completed)
	assert.Equal(t, int64(goroutines*perGoroutine), s.LastID())
}

func TestEvent_AffectedIDs(t *testing.T) {
	assert.Equal(t, []int64{4}, Event{Kind: EventUpdated, Record: todo.Todo{ID: 4}}.AffectedIDs())
	assert.Equal(t, []int64{1, 2}, Event{Kind: EventBulkDeleted, IDs: []int64{1, 2}}.AffectedIDs())
	assert.Equal(t, "bulk_updated", EventBulkUpdated.String())
}
