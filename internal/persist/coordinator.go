// Package persist implements the write-behind persistence coordinator.
//
// Store mutations are turned into write intents and handed to a bounded pool
// of workers without blocking the mutating caller. Intents are sharded into
// lanes by ID modulo the worker count; each lane is a FIFO drained by exactly
// one worker, so writes for one ID reach the backend in submission order
// while writes for different IDs proceed in parallel.
//
// Failed writes are retried with exponential backoff. A write that exhausts
// its retries is reported to the FailureSink and counted in metrics; it is
// never surfaced to the caller whose mutation produced it.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/todosync/internal/queue"
	"github.com/roach88/todosync/internal/records"
	"github.com/roach88/todosync/internal/todo"
)

// DefaultWorkers is the default number of lanes and workers.
const DefaultWorkers = 4

// RetryPolicy bounds the exponential backoff applied to failed writes.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2,
	}
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		eb.Multiplier = p.Multiplier
	}
	// Attempts, not elapsed time, bound the retry loop.
	eb.MaxElapsedTime = 0
	eb.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Coordinator is the write-behind persistence pipeline.
//
// Thread-safety model:
//   - OnEvent(): safe from any goroutine, never blocks on I/O
//   - LoadAll(), Drain(), Shutdown(): safe from any goroutine, block
//   - Start(): at most once
type Coordinator struct {
	backend Backend
	workers int
	retry   RetryPolicy
	reg     prometheus.Registerer
	sink    FailureSink
	logger  *slog.Logger
	metrics *Metrics

	lanes []*queue.Queue[intent]

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWorkers sets the number of lanes. Values below 1 are treated as 1.
func WithWorkers(n int) Option {
	return func(c *Coordinator) {
		c.workers = n
	}
}

// WithRetryPolicy sets the retry policy for failed writes.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Coordinator) {
		c.retry = p
	}
}

// WithRegisterer registers the coordinator's metrics with reg.
// Without it the metrics are kept but not registered anywhere.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Coordinator) {
		c.reg = reg
	}
}

// WithFailureSink overrides where abandoned writes are reported.
// The default logs them at error level.
func WithFailureSink(fn FailureSink) Option {
	return func(c *Coordinator) {
		c.sink = fn
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// New creates a coordinator over backend. Events submitted before Start are
// queued and written once the workers run.
func New(backend Backend, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend: backend,
		workers: DefaultWorkers,
		retry:   DefaultRetryPolicy(),
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.workers < 1 {
		c.workers = 1
	}
	if c.sink == nil {
		c.sink = c.logFailure
	}
	c.metrics = NewMetrics(c.reg)

	c.lanes = make([]*queue.Queue[intent], c.workers)
	for i := range c.lanes {
		c.lanes[i] = queue.New[intent]()
	}
	return c
}

// Metrics returns the coordinator's collectors.
func (c *Coordinator) Metrics() *Metrics {
	return c.metrics
}

// LoadAll reads every durable record synchronously.
func (c *Coordinator) LoadAll(ctx context.Context) ([]todo.Todo, error) {
	recs, err := c.backend.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load all: %w", err)
	}
	return recs, nil
}

// LastID reads the backend's identity high-water mark synchronously.
func (c *Coordinator) LastID(ctx context.Context) (int64, error) {
	last, err := c.backend.LastID(ctx)
	if err != nil {
		return 0, fmt.Errorf("last id: %w", err)
	}
	return last, nil
}

// Start launches one worker per lane. Workers stop when ctx is cancelled or
// Shutdown completes.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	g, gctx := errgroup.WithContext(runCtx)
	for i, lane := range c.lanes {
		g.Go(func() error {
			return c.runLane(gctx, i, lane)
		})
	}

	go func() {
		_ = g.Wait()
		close(c.done)
	}()

	c.logger.Debug("persistence workers started", "workers", c.workers)
	return nil
}

// OnEvent turns a store event into write intents and queues them.
// It never blocks on I/O, so it is safe to call from a store subscriber.
func (c *Coordinator) OnEvent(ev records.Event) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.drop(ev)
		return
	}

	switch ev.Kind {
	case records.EventCreated, records.EventUpdated:
		c.enqueue(ev, intent{op: OpUpsert, record: ev.Record, ids: []int64{ev.Record.ID}, seq: ev.Seq})

	case records.EventDeleted:
		c.enqueue(ev, intent{op: OpDelete, ids: []int64{ev.Record.ID}, seq: ev.Seq})

	case records.EventBulkDeleted:
		// One intent per lane keeps each ID ordered behind its earlier writes.
		byLane := make(map[int][]int64)
		var order []int
		for _, id := range ev.IDs {
			l := c.laneFor(id)
			if _, ok := byLane[l]; !ok {
				order = append(order, l)
			}
			byLane[l] = append(byLane[l], id)
		}
		for _, l := range order {
			c.enqueue(ev, intent{op: OpDeleteMany, ids: byLane[l], seq: ev.Seq})
		}

	case records.EventBulkUpdated:
		for _, rec := range ev.Records {
			c.enqueue(ev, intent{op: OpUpsert, record: rec, ids: []int64{rec.ID}, seq: ev.Seq})
		}

	default:
		c.logger.Warn("ignoring unknown event", "kind", ev.Kind, "seq", ev.Seq)
	}
}

// Pending returns the number of write intents not yet taken by a worker.
func (c *Coordinator) Pending() int {
	n := 0
	for _, lane := range c.lanes {
		n += lane.Len()
	}
	return n
}

// Drain blocks until every intent queued before the call has been written
// or abandoned after retries.
func (c *Coordinator) Drain(ctx context.Context) error {
	c.mu.Lock()
	started, closed := c.started, c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if !started {
		return ErrNotStarted
	}
	return c.drain(ctx)
}

// Shutdown drains pending writes, stops the workers and rejects further
// events. Shutdown is idempotent. If ctx expires first, the workers are
// cancelled and pending writes are abandoned.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	if !started {
		for _, lane := range c.lanes {
			lane.Close()
		}
		if n := c.Pending(); n > 0 {
			c.logger.Warn("persistence coordinator closed before start, discarding writes", "pending", n)
		}
		return nil
	}

	drainErr := c.drain(ctx)

	for _, lane := range c.lanes {
		lane.Close()
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		c.cancel()
		<-c.done
		if drainErr == nil {
			drainErr = ctx.Err()
		}
	}
	c.cancel()

	c.logger.Debug("persistence workers stopped")
	if drainErr != nil {
		return fmt.Errorf("shutdown: %w", drainErr)
	}
	return nil
}

// drain pushes a barrier into every lane and waits for all of them.
func (c *Coordinator) drain(ctx context.Context) error {
	barriers := make([]chan struct{}, 0, len(c.lanes))
	for _, lane := range c.lanes {
		b := make(chan struct{})
		if !lane.Push(intent{barrier: b}) {
			return ErrClosed
		}
		barriers = append(barriers, b)
	}

	for _, b := range barriers {
		select {
		case <-b:
		case <-c.done:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Coordinator) laneFor(id int64) int {
	return int(uint64(id) % uint64(len(c.lanes)))
}

func (c *Coordinator) enqueue(ev records.Event, it intent) {
	lane := c.lanes[c.laneFor(it.ids[0])]
	c.metrics.QueueDepth.Inc()
	if !lane.Push(it) {
		c.metrics.QueueDepth.Dec()
		c.drop(ev)
	}
}

func (c *Coordinator) drop(ev records.Event) {
	c.metrics.Dropped.Inc()
	c.logger.Warn("persistence coordinator closed, dropping event",
		"kind", ev.Kind,
		"seq", ev.Seq,
		"ids", ev.AffectedIDs(),
	)
}

// runLane is the worker loop for one lane. It exits once the lane is closed
// and empty, or when ctx is cancelled.
func (c *Coordinator) runLane(ctx context.Context, n int, lane *queue.Queue[intent]) error {
	for {
		if ctx.Err() != nil {
			if pending := lane.Len(); pending > 0 {
				c.logger.Warn("persistence lane cancelled with pending writes", "lane", n, "pending", pending)
			}
			return nil
		}

		if it, ok := lane.TryPop(); ok {
			if it.barrier != nil {
				close(it.barrier)
				continue
			}
			c.metrics.QueueDepth.Dec()
			c.write(ctx, it)
			continue
		}

		if lane.Drained() {
			return nil
		}

		select {
		case <-ctx.Done():
		case <-lane.Wait():
		}
	}
}

// write applies it with retries and records the outcome.
func (c *Coordinator) write(ctx context.Context, it intent) {
	start := time.Now()
	attempts := 0

	err := backoff.RetryNotify(
		func() error {
			attempts++
			return it.apply(ctx, c.backend)
		},
		c.retry.newBackOff(ctx),
		func(err error, next time.Duration) {
			c.metrics.Retries.Inc()
			c.logger.Warn("persistence write failed, retrying",
				"op", it.op,
				"ids", it.ids,
				"attempt", attempts,
				"backoff", next,
				"error", err,
			)
		},
	)

	c.metrics.WriteDuration.WithLabelValues(string(it.op)).Observe(time.Since(start).Seconds())

	if err != nil {
		c.metrics.Writes.WithLabelValues(string(it.op), outcomeFailure).Inc()
		c.metrics.Failures.Inc()
		c.sink(&PersistenceFailure{Op: it.op, IDs: it.ids, Attempts: attempts, Err: err})
		return
	}

	c.metrics.Writes.WithLabelValues(string(it.op), outcomeSuccess).Inc()
	c.logger.Debug("persisted", "op", it.op, "ids", it.ids, "seq", it.seq, "attempts", attempts)
}

func (c *Coordinator) logFailure(f *PersistenceFailure) {
	c.logger.Error("persistence write abandoned",
		"op", f.Op,
		"ids", f.IDs,
		"attempts", f.Attempts,
		"error", f.Err,
	)
}
