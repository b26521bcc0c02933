// Package records implements the in-memory record store: the single owner of
// canonical todos.
//
// Every accepted mutation emits exactly one Event to all current subscribers,
// synchronously, before the mutating call returns. Rejected calls
// (ValidationError, NotFoundError) leave the store untouched and emit nothing.
//
// Concurrent callers are serialized by one mutex; mutation is short and
// CPU-only, so nothing in this package waits on I/O.
package records

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/todosync/internal/ident"
	"github.com/roach88/todosync/internal/todo"
)

// Store owns the canonical record set.
type Store struct {
	mu      sync.Mutex
	records map[int64]todo.Todo
	ids     *ident.Allocator
	seq     *ident.Allocator
	now     func() time.Time
	logger  *slog.Logger

	subs    []subscription
	nextSub int
}

type subscription struct {
	id int
	fn Subscriber
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for CreatedAt.
// Tests use testutil.Clock for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithAllocator supplies the identity allocator.
func WithAllocator(a *ident.Allocator) Option {
	return func(s *Store) {
		s.ids = a
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[int64]todo.Todo),
		ids:     ident.NewAllocator(),
		seq:     ident.NewAllocator(),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the record set with records restored from durable storage
// and reseeds the identity allocator past the highest restored ID.
//
// Load emits no event; it is meant for startup, before subscribers attach.
// Duplicate or non-positive IDs are rejected and leave the store unchanged.
func (s *Store) Load(restored []todo.Todo) error {
	next := make(map[int64]todo.Todo, len(restored))
	var maxID int64
	for _, r := range restored {
		if r.ID <= 0 {
			return fmt.Errorf("load: invalid id %d", r.ID)
		}
		if _, dup := next[r.ID]; dup {
			return fmt.Errorf("load: duplicate id %d", r.ID)
		}
		r.CreatedAt = todo.NormalizeTime(r.CreatedAt)
		next[r.ID] = r
		maxID = max(maxID, r.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = next
	s.ids.Reseed(maxID)

	s.logger.Debug("records loaded", "count", len(next), "max_id", maxID)
	return nil
}

// Reserve marks every identity up to last as used, so the next Insert
// allocates at least last+1. It never lowers the allocator.
func (s *Store) Reserve(last int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids.Reseed(last)
}

// Subscribe registers fn for every subsequent mutation. It returns the record
// set in canonical order at the moment of subscription, so the caller can
// seed derived state without missing or double-counting an event, and a
// cancel function. Cancel is idempotent and must not be called from inside a
// subscriber.
func (s *Store) Subscribe(fn Subscriber) (snapshot []todo.Todo, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscription{id: id, fn: fn})

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.subs = slices.DeleteFunc(s.subs, func(sub subscription) bool {
				return sub.id == id
			})
		})
	}
	return s.listLocked(), cancel
}

// Insert validates text, allocates an identity and creates a record.
// The identity is allocated only after validation succeeds.
func (s *Store) Insert(text string) (todo.Todo, error) {
	normalized, err := todo.NormalizeText(text)
	if err != nil {
		return todo.Todo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := todo.Todo{
		ID:        s.ids.Next(),
		Text:      normalized,
		CreatedAt: todo.NormalizeTime(s.now()),
	}
	s.records[rec.ID] = rec

	s.emitLocked(Event{Kind: EventCreated, Record: rec})
	return rec, nil
}

// Update applies the provided fields of patch to record id.
// An empty patch is a validation error.
func (s *Store) Update(id int64, patch todo.Patch) (todo.Todo, error) {
	if patch.IsEmpty() {
		return todo.Todo{}, &todo.ValidationError{Field: "patch", Reason: todo.ReasonEmptyPatch}
	}

	var text string
	if patch.Text != nil {
		normalized, err := todo.NormalizeText(*patch.Text)
		if err != nil {
			return todo.Todo{}, err
		}
		text = normalized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return todo.Todo{}, &todo.NotFoundError{ID: id}
	}

	if patch.Text != nil {
		rec.Text = text
	}
	if patch.Completed != nil {
		rec.Completed = *patch.Completed
	}
	s.records[id] = rec

	s.emitLocked(Event{Kind: EventUpdated, Record: rec})
	return rec, nil
}

// Toggle flips the completed flag of record id.
func (s *Store) Toggle(id int64) (todo.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return todo.Todo{}, &todo.NotFoundError{ID: id}
	}

	rec.Completed = !rec.Completed
	s.records[id] = rec

	s.emitLocked(Event{Kind: EventUpdated, Record: rec})
	return rec, nil
}

// Delete removes record id.
func (s *Store) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return &todo.NotFoundError{ID: id}
	}
	delete(s.records, id)

	s.emitLocked(Event{Kind: EventDeleted, Record: rec})
	return nil
}

// DeleteAll removes every record and returns how many were removed.
// Emits one BulkDeleted event, or none if the store was already empty.
func (s *Store) DeleteAll() int {
	return s.deleteWhere(func(todo.Todo) bool { return true })
}

// DeleteCompleted removes every completed record and returns the count.
// Emits one BulkDeleted event, or none if nothing matched.
func (s *Store) DeleteCompleted() int {
	return s.deleteWhere(func(r todo.Todo) bool { return r.Completed })
}

func (s *Store) deleteWhere(match func(todo.Todo) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []todo.Todo
	for _, rec := range s.records {
		if match(rec) {
			removed = append(removed, rec)
		}
	}
	if len(removed) == 0 {
		return 0
	}

	todo.SortCanonical(removed)
	for _, rec := range removed {
		delete(s.records, rec.ID)
	}

	s.emitLocked(Event{Kind: EventBulkDeleted, IDs: todo.IDs(removed)})
	return len(removed)
}

// SetAllCompleted sets every record's completed flag and returns how many
// records actually changed. Emits one BulkUpdated event, or none if no
// record changed.
func (s *Store) SetAllCompleted(completed bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []todo.Todo
	for id, rec := range s.records {
		if rec.Completed == completed {
			continue
		}
		rec.Completed = completed
		s.records[id] = rec
		changed = append(changed, rec)
	}
	if len(changed) == 0 {
		return 0
	}

	todo.SortCanonical(changed)
	s.emitLocked(Event{Kind: EventBulkUpdated, Records: changed})
	return len(changed)
}

// Get returns record id.
func (s *Store) Get(id int64) (todo.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return todo.Todo{}, &todo.NotFoundError{ID: id}
	}
	return rec, nil
}

// List returns every record in canonical order.
func (s *Store) List() []todo.Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

// Stats counts records by state.
func (s *Store) Stats() todo.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st todo.Stats
	for _, rec := range s.records {
		st.Total++
		if rec.Completed {
			st.Completed++
		} else {
			st.Active++
		}
	}
	return st
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// LastID returns the most recently allocated identity.
func (s *Store) LastID() int64 {
	return s.ids.Current()
}

func (s *Store) listLocked() []todo.Todo {
	out := make([]todo.Todo, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	todo.SortCanonical(out)
	return out
}

// emitLocked stamps ev and delivers it to every subscriber in
// subscription order. Caller must hold s.mu.
func (s *Store) emitLocked(ev Event) {
	ev.Seq = s.seq.Next()

	s.logger.Debug("mutation applied",
		"kind", ev.Kind.String(),
		"seq", ev.Seq,
		"ids", ev.AffectedIDs(),
	)

	if len(s.subs) == 0 {
		return
	}

	all := s.listLocked()
	for _, sub := range s.subs {
		sub.fn(ev, all)
	}
}
