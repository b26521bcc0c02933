package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/todosync/internal/records"
	"github.com/roach88/todosync/internal/testutil"
	"github.com/roach88/todosync/internal/todo"
)

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
}

// setup wires a store to a started coordinator over backend.
func setup(t *testing.T, backend *testutil.MemoryBackend, opts ...Option) (*records.Store, *Coordinator) {
	t.Helper()

	c := New(backend, append([]Option{WithRetryPolicy(fastRetry(3))}, opts...)...)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		_ = c.Shutdown(context.Background())
	})

	s := records.New(records.WithClock(testutil.NewClock().Now))
	s.Subscribe(func(ev records.Event, _ []todo.Todo) {
		c.OnEvent(ev)
	})
	return s, c
}

func drain(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Drain(ctx))
}

func ops(writes []testutil.Write) []testutil.WriteOp {
	out := make([]testutil.WriteOp, len(writes))
	for i, w := range writes {
		out[i] = w.Op
	}
	return out
}

func TestCoordinator_PersistsEveryMutation(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	s, c := setup(t, backend)

	milk, err := s.Insert("Buy milk")
	require.NoError(t, err)
	_, err = s.Insert("Walk dog")
	require.NoError(t, err)
	_, err = s.Toggle(milk.ID)
	require.NoError(t, err)

	drain(t, c)

	assert.Equal(t, s.List(), backend.Records())
}

func TestCoordinator_PerIDWriteOrder(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	s, c := setup(t, backend, WithWorkers(3))

	var ids []int64
	for i := 0; i < 9; i++ {
		rec, err := s.Insert("item")
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	for _, id := range ids {
		_, err := s.Update(id, todo.Patch{Text: ptr("edited")})
		require.NoError(t, err)
		_, err = s.Toggle(id)
		require.NoError(t, err)
		require.NoError(t, s.Delete(id))
	}

	drain(t, c)

	for _, id := range ids {
		writes := backend.WritesFor(id)
		assert.Equal(t,
			[]testutil.WriteOp{testutil.WriteUpsert, testutil.WriteUpsert, testutil.WriteUpsert, testutil.WriteDelete},
			ops(writes), "id %d", id)
		assert.Equal(t, "edited", writes[2].Record.Text)
		assert.True(t, writes[2].Record.Completed)
	}
	assert.Empty(t, backend.Records())
}

func TestCoordinator_BulkDeleteSplitsPerLane(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	s, c := setup(t, backend, WithWorkers(2))

	for i := 0; i < 5; i++ {
		_, err := s.Insert("item")
		require.NoError(t, err)
	}
	assert.Equal(t, 5, s.DeleteAll())

	drain(t, c)

	assert.Empty(t, backend.Records())

	var bulk []testutil.Write
	for _, w := range backend.Writes() {
		if w.Op == testutil.WriteDeleteMany {
			bulk = append(bulk, w)
		}
	}
	require.Len(t, bulk, 2, "one delete_many per lane")
	assert.ElementsMatch(t, [][]int64{{4, 2}, {5, 3, 1}}, [][]int64{bulk[0].IDs, bulk[1].IDs})
}

func TestCoordinator_BulkUpdateBecomesUpserts(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	s, c := setup(t, backend)

	for i := 0; i < 3; i++ {
		_, err := s.Insert("item")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, s.SetAllCompleted(true))

	drain(t, c)

	for _, rec := range backend.Records() {
		assert.True(t, rec.Completed, "id %d", rec.ID)
	}
	assert.Equal(t, float64(6), promtest.ToFloat64(c.Metrics().Writes.WithLabelValues("upsert", "success")))
}

func TestCoordinator_RetriesTransientFailure(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	s, c := setup(t, backend, WithRetryPolicy(fastRetry(5)))

	backend.FailNext(2)
	_, err := s.Insert("Buy milk")
	require.NoError(t, err)

	drain(t, c)

	assert.Len(t, backend.Records(), 1)
	assert.Equal(t, 3, backend.Attempts())
	assert.Equal(t, float64(2), promtest.ToFloat64(c.Metrics().Retries))
	assert.Equal(t, float64(0), promtest.ToFloat64(c.Metrics().Failures))
}

func TestCoordinator_ExhaustedRetriesGoToSink(t *testing.T) {
	backend := testutil.NewMemoryBackend()

	var (
		mu       sync.Mutex
		failures []*PersistenceFailure
	)
	sink := func(f *PersistenceFailure) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, f)
	}
	s, c := setup(t, backend, WithRetryPolicy(fastRetry(3)), WithFailureSink(sink))

	backend.FailAlways(true)
	rec, err := s.Insert("Buy milk")
	require.NoError(t, err, "the caller never sees persistence failures")

	drain(t, c)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 1)
	f := failures[0]
	assert.Equal(t, OpUpsert, f.Op)
	assert.Equal(t, []int64{rec.ID}, f.IDs)
	assert.Equal(t, 3, f.Attempts)
	assert.ErrorIs(t, f, testutil.ErrInjected)

	assert.Equal(t, float64(1), promtest.ToFloat64(c.Metrics().Failures))
	assert.Equal(t, float64(1), promtest.ToFloat64(c.Metrics().Writes.WithLabelValues("upsert", "failure")))

	// The store keeps the record; only durability was lost.
	_, err = s.Get(rec.ID)
	assert.NoError(t, err)
}

func TestCoordinator_FailureDoesNotBlockOtherIDs(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	s, c := setup(t, backend, WithWorkers(2), WithFailureSink(func(*PersistenceFailure) {}))

	backend.FailID(1)
	for i := 0; i < 4; i++ {
		_, err := s.Insert("item")
		require.NoError(t, err)
	}

	drain(t, c)

	assert.Equal(t, []int64{4, 3, 2}, todo.IDs(backend.Records()))
}

func TestCoordinator_QueuesBeforeStart(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	c := New(backend, WithWorkers(2))

	s := records.New(records.WithClock(testutil.NewClock().Now))
	s.Subscribe(func(ev records.Event, _ []todo.Todo) { c.OnEvent(ev) })

	_, err := s.Insert("early")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, float64(1), promtest.ToFloat64(c.Metrics().QueueDepth))
	assert.ErrorIs(t, c.Drain(context.Background()), ErrNotStarted)

	require.NoError(t, c.Start(context.Background()))
	drain(t, c)
	require.NoError(t, c.Shutdown(context.Background()))

	assert.Len(t, backend.Records(), 1)
	assert.Equal(t, float64(0), promtest.ToFloat64(c.Metrics().QueueDepth))
}

func TestCoordinator_StartTwice(t *testing.T) {
	c := New(testutil.NewMemoryBackend())
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown(context.Background())

	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
}

func TestCoordinator_Shutdown(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	backend.SetDelay(5 * time.Millisecond)
	c := New(backend, WithRetryPolicy(fastRetry(1)))
	require.NoError(t, c.Start(context.Background()))

	s := records.New(records.WithClock(testutil.NewClock().Now))
	s.Subscribe(func(ev records.Event, _ []todo.Todo) { c.OnEvent(ev) })

	for i := 0; i < 5; i++ {
		_, err := s.Insert("item")
		require.NoError(t, err)
	}

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Len(t, backend.Records(), 5, "shutdown drains pending writes")

	_, err := s.Insert("late")
	require.NoError(t, err)
	assert.Equal(t, float64(1), promtest.ToFloat64(c.Metrics().Dropped))
	assert.Len(t, backend.Records(), 5)

	assert.NoError(t, c.Shutdown(context.Background()), "shutdown is idempotent")
	assert.ErrorIs(t, c.Drain(context.Background()), ErrClosed)
	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)
}

func TestCoordinator_ShutdownDeadlineAbandonsWrites(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	backend.SetDelay(time.Hour)

	var abandoned sync.WaitGroup
	abandoned.Add(1)
	c := New(backend,
		WithWorkers(1),
		WithRetryPolicy(fastRetry(1)),
		WithFailureSink(func(*PersistenceFailure) { abandoned.Done() }),
	)
	require.NoError(t, c.Start(context.Background()))

	s := records.New(records.WithClock(testutil.NewClock().Now))
	s.Subscribe(func(ev records.Event, _ []todo.Todo) { c.OnEvent(ev) })
	_, err := s.Insert("stuck")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.Shutdown(ctx)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	abandoned.Wait()
	assert.Empty(t, backend.Records())
}

func TestCoordinator_OnEventDoesNotBlock(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	backend.SetDelay(200 * time.Millisecond)
	s, c := setup(t, backend, WithWorkers(1))

	start := time.Now()
	for i := 0; i < 20; i++ {
		_, err := s.Insert("item")
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// Let cleanup finish quickly.
	backend.SetDelay(0)
	drain(t, c)
}

func TestCoordinator_LoadAll(t *testing.T) {
	seed := []todo.Todo{
		{ID: 1, Text: "a", CreatedAt: testutil.DefaultEpoch},
		{ID: 2, Text: "b", CreatedAt: testutil.DefaultEpoch.Add(time.Second)},
	}
	c := New(testutil.NewMemoryBackend(seed...))

	got, err := c.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, todo.IDs(got))
}

func TestCoordinator_LastID(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	c := New(backend)
	ctx := context.Background()

	require.NoError(t, backend.WriteUpsert(ctx, todo.Todo{ID: 4, Text: "d", CreatedAt: testutil.DefaultEpoch}))
	require.NoError(t, backend.WriteDelete(ctx, 4))

	last, err := c.LastID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), last)
}

func TestCoordinator_RegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, c := setup(t, testutil.NewMemoryBackend(), WithRegisterer(reg))

	_, err := s.Insert("Buy milk")
	require.NoError(t, err)
	drain(t, c)

	n, err := promtest.GatherAndCount(reg, "todosync_persist_writes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRetryPolicy_ClampsAttempts(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	backend.FailAlways(true)

	var got *PersistenceFailure
	done := make(chan struct{})
	c := New(backend,
		WithRetryPolicy(RetryPolicy{MaxAttempts: 0}),
		WithFailureSink(func(f *PersistenceFailure) {
			got = f
			close(done)
		}),
	)
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown(context.Background())

	c.OnEvent(records.Event{Kind: records.EventDeleted, Seq: 1, Record: todo.Todo{ID: 7}})
	<-done

	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, OpDelete, got.Op)
}

func ptr[T any](v T) *T { return &v }
