package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/todosync/internal/persist"
	"github.com/roach88/todosync/internal/records"
	"github.com/roach88/todosync/internal/todo"
	"github.com/roach88/todosync/internal/view"
)

// Engine is the todosync facade.
//
// Thread-safety model:
//   - mutations and reads: safe from any goroutine, serialized by the store
//   - Start(): exactly once, before any other call
//   - Shutdown(): safe from any goroutine, idempotent
type Engine struct {
	store  *records.Store
	coord  *persist.Coordinator
	ids    IDGenerator
	logger *slog.Logger

	mu            sync.Mutex
	started       bool
	closed        bool
	stopPersist   func()
	subscriptions map[string]*Subscription
}

// Option allows configuration of engine parameters.
type Option func(*engineConfig)

type engineConfig struct {
	now    func() time.Time
	ids    IDGenerator
	logger *slog.Logger
}

// WithClock overrides the wall clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) {
		c.now = now
	}
}

// WithIDGenerator overrides how subscription IDs are generated.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *engineConfig) {
		c.ids = g
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = l
	}
}

// New creates an engine persisting through coord.
// Call Start before any other method.
func New(coord *persist.Coordinator, opts ...Option) *Engine {
	cfg := engineConfig{
		now:    time.Now,
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Engine{
		store: records.New(
			records.WithClock(cfg.now),
			records.WithLogger(cfg.logger),
		),
		coord:         coord,
		ids:           cfg.ids,
		logger:        cfg.logger,
		subscriptions: make(map[string]*Subscription),
	}
}

// Start rehydrates the store from durable storage, starts the persistence
// workers and begins persisting mutations.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return &LifecycleError{Code: ErrCodeClosed, Op: "start"}
	}
	if e.started {
		return &LifecycleError{Code: ErrCodeAlreadyStarted, Op: "start"}
	}

	restored, err := e.coord.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := e.store.Load(restored); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	// Deleted records leave no row behind, so the backend's high-water mark
	// can exceed every restored id.
	lastID, err := e.coord.LastID(ctx)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	e.store.Reserve(lastID)
	if err := e.coord.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	// Persistence subscribes first so it sees every event before any view.
	_, e.stopPersist = e.store.Subscribe(func(ev records.Event, _ []todo.Todo) {
		e.coord.OnEvent(ev)
	})
	e.started = true

	e.logger.Info("engine started", "records", len(restored), "last_id", e.store.LastID())
	return nil
}

// check returns a LifecycleError unless the engine is running.
func (e *Engine) check(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.closed:
		return &LifecycleError{Code: ErrCodeClosed, Op: op}
	case !e.started:
		return &LifecycleError{Code: ErrCodeNotStarted, Op: op}
	}
	return nil
}

// Insert creates a todo with the given text.
func (e *Engine) Insert(text string) (todo.Todo, error) {
	if err := e.check("insert"); err != nil {
		return todo.Todo{}, err
	}
	return e.store.Insert(text)
}

// Update applies patch to the todo with the given id.
func (e *Engine) Update(id int64, patch todo.Patch) (todo.Todo, error) {
	if err := e.check("update"); err != nil {
		return todo.Todo{}, err
	}
	return e.store.Update(id, patch)
}

// Toggle flips the completed flag of the todo with the given id.
func (e *Engine) Toggle(id int64) (todo.Todo, error) {
	if err := e.check("toggle"); err != nil {
		return todo.Todo{}, err
	}
	return e.store.Toggle(id)
}

// Delete removes the todo with the given id.
func (e *Engine) Delete(id int64) error {
	if err := e.check("delete"); err != nil {
		return err
	}
	return e.store.Delete(id)
}

// DeleteAll removes every todo and returns how many were removed.
func (e *Engine) DeleteAll() (int, error) {
	if err := e.check("delete all"); err != nil {
		return 0, err
	}
	return e.store.DeleteAll(), nil
}

// DeleteCompleted removes every completed todo and returns how many were
// removed.
func (e *Engine) DeleteCompleted() (int, error) {
	if err := e.check("delete completed"); err != nil {
		return 0, err
	}
	return e.store.DeleteCompleted(), nil
}

// SetAllCompleted sets every todo's completed flag and returns how many
// changed.
func (e *Engine) SetAllCompleted(completed bool) (int, error) {
	if err := e.check("set all completed"); err != nil {
		return 0, err
	}
	return e.store.SetAllCompleted(completed), nil
}

// Get returns the todo with the given id.
func (e *Engine) Get(id int64) (todo.Todo, error) {
	if err := e.check("get"); err != nil {
		return todo.Todo{}, err
	}
	return e.store.Get(id)
}

// List materializes f over the current records.
func (e *Engine) List(f view.Filter) ([]todo.Todo, error) {
	if err := e.check("list"); err != nil {
		return nil, err
	}
	return f.Materialize(e.store.List()), nil
}

// Stats summarizes the current records.
func (e *Engine) Stats() (todo.Stats, error) {
	if err := e.check("stats"); err != nil {
		return todo.Stats{}, err
	}
	return e.store.Stats(), nil
}

// Drain blocks until every mutation accepted so far is durable or has been
// reported as a persistence failure.
func (e *Engine) Drain(ctx context.Context) error {
	if err := e.check("drain"); err != nil {
		return err
	}
	return e.coord.Drain(ctx)
}

// Shutdown closes every subscription, drains pending writes and stops the
// persistence workers. Later calls return a closed LifecycleError, except
// Shutdown itself which is idempotent.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	subs := make([]*Subscription, 0, len(e.subscriptions))
	for _, s := range e.subscriptions {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}

	err := e.coord.Shutdown(ctx)
	if e.stopPersist != nil {
		e.stopPersist()
	}
	if err != nil {
		return fmt.Errorf("engine shutdown: %w", err)
	}

	e.logger.Info("engine stopped")
	return nil
}
