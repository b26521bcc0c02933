package view

import (
	"slices"
	"sync"

	"github.com/roach88/todosync/internal/records"
	"github.com/roach88/todosync/internal/todo"
)

// ChangeFunc observes a recomputation. prev and next are the materialized
// sequences before and after the mutation described by ev. It runs inside
// the store mutation and must not block or call back into the store.
type ChangeFunc func(ev records.Event, prev, next []todo.Todo)

// Handle is a live, materialized view over a store.
//
// The handle recomputes synchronously on every store event, so Current
// always reflects the latest accepted mutation once that mutation's call has
// returned.
//
// Thread-safety: Current may be called from any goroutine.
type Handle struct {
	filter   Filter
	onChange ChangeFunc

	mu      sync.RWMutex
	initial []todo.Todo
	current []todo.Todo
	cancel  func()
}

// HandleOption configures a Handle.
type HandleOption func(*Handle)

// WithOnChange registers fn to observe every recomputation.
func WithOnChange(fn ChangeFunc) HandleOption {
	return func(h *Handle) {
		h.onChange = fn
	}
}

// Subscribe materializes f over s and keeps it current until Close.
func Subscribe(s *records.Store, f Filter, opts ...HandleOption) *Handle {
	h := &Handle{filter: f}
	for _, opt := range opts {
		opt(h)
	}

	// Hold the handle lock across Subscribe so an event that lands between
	// registration and seeding cannot be applied to an unseeded view.
	h.mu.Lock()
	snapshot, cancel := s.Subscribe(h.recompute)
	h.current = f.Materialize(snapshot)
	h.initial = h.current
	h.cancel = cancel
	h.mu.Unlock()

	return h
}

// recompute is the store subscriber.
func (h *Handle) recompute(ev records.Event, all []todo.Todo) {
	next := h.filter.Materialize(all)

	h.mu.Lock()
	prev := h.current
	h.current = next
	h.mu.Unlock()

	if h.onChange != nil {
		h.onChange(ev, prev, next)
	}
}

// Filter returns the handle's filter.
func (h *Handle) Filter() Filter {
	return h.filter
}

// Initial returns a copy of the sequence the handle was seeded with. The
// first ChangeFunc call's prev is exactly this sequence.
func (h *Handle) Initial() []todo.Todo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.initial)
}

// Current returns a copy of the latest materialized sequence.
func (h *Handle) Current() []todo.Todo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.current)
}

// Len returns the number of records in the view.
func (h *Handle) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.current)
}

// Close stops recomputation. Close is idempotent.
func (h *Handle) Close() {
	h.mu.RLock()
	cancel := h.cancel
	h.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}
