// Package filestore keeps todos in a single JSON document on disk.
//
// Every write is a read-modify-write of the whole document performed under a
// cross-process lock (gofrs/flock on "<path>.lock") and committed by writing
// a temp file and renaming it over the original, so readers never observe a
// partial document. The document's last_id records the highest id ever
// upserted and is never lowered by deletes. The store satisfies
// persist.Backend.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/roach88/todosync/internal/todo"
)

// formatVersion is written into every document.
// Version 2 added last_id; version 1 documents derive it from their todos.
const formatVersion = 2

// ErrLocked is returned when the file lock cannot be acquired in time.
var ErrLocked = errors.New("could not acquire file lock")

// document is the on-disk layout.
type document struct {
	Version   int         `json:"version"`
	UpdatedAt time.Time   `json:"updated_at"`
	LastID    int64       `json:"last_id"`
	Todos     []todo.Todo `json:"todos"`
}

// Store is a JSON-file todo store.
type Store struct {
	path         string
	lock         *flock.Flock
	lockTimeout  time.Duration
	lockInterval time.Duration
	now          func() time.Time

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long a call waits for the file lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

// WithClock overrides the clock used for the document's updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open prepares a store at path. The file is created on first write; the
// parent directory is created now.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}

	s := &Store{
		path:         path,
		lock:         flock.New(path + ".lock"),
		lockTimeout:  3 * time.Second,
		lockInterval: 100 * time.Millisecond,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}

// Close releases the lock handle.
func (s *Store) Close() error {
	return s.lock.Close()
}

// LoadAll returns every stored todo in canonical order.
func (s *Store) LoadAll(ctx context.Context) ([]todo.Todo, error) {
	var out []todo.Todo
	err := s.withLock(ctx, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		out = doc.Todos
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load all: %w", err)
	}

	for i := range out {
		out[i].CreatedAt = todo.NormalizeTime(out[i].CreatedAt)
	}
	todo.SortCanonical(out)
	return out, nil
}

// LastID returns the highest id ever upserted, including deleted ones.
func (s *Store) LastID(ctx context.Context) (int64, error) {
	var last int64
	err := s.withLock(ctx, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		last = doc.LastID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("last id: %w", err)
	}
	return last, nil
}

// WriteUpsert stores rec, replacing any todo with the same id.
func (s *Store) WriteUpsert(ctx context.Context, rec todo.Todo) error {
	err := s.modify(ctx, func(todos []todo.Todo) []todo.Todo {
		for i, t := range todos {
			if t.ID == rec.ID {
				todos[i] = rec
				return todos
			}
		}
		return append(todos, rec)
	})
	if err != nil {
		return fmt.Errorf("write upsert %d: %w", rec.ID, err)
	}
	return nil
}

// WriteDelete removes id. Deleting a missing id succeeds.
func (s *Store) WriteDelete(ctx context.Context, id int64) error {
	if err := s.modify(ctx, without(id)); err != nil {
		return fmt.Errorf("write delete %d: %w", id, err)
	}
	return nil
}

// WriteDeleteMany removes every id in ids with a single document rewrite.
func (s *Store) WriteDeleteMany(ctx context.Context, ids []int64) error {
	if err := s.modify(ctx, without(ids...)); err != nil {
		return fmt.Errorf("write delete many: %w", err)
	}
	return nil
}

func without(ids ...int64) func([]todo.Todo) []todo.Todo {
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	return func(todos []todo.Todo) []todo.Todo {
		kept := todos[:0]
		for _, t := range todos {
			if !drop[t.ID] {
				kept = append(kept, t)
			}
		}
		return kept
	}
}

// modify runs a read-modify-write cycle under the file lock.
func (s *Store) modify(ctx context.Context, fn func([]todo.Todo) []todo.Todo) error {
	return s.withLock(ctx, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		doc.Todos = fn(doc.Todos)
		doc.raiseLastID()
		todo.SortCanonical(doc.Todos)
		doc.UpdatedAt = s.now().UTC()
		return s.write(doc)
	})
}

// withLock serializes in-process callers and then takes the file lock.
func (s *Store) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	locked, err := s.lock.TryLockContext(ctx, s.lockInterval)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn()
}

// read loads the document. A missing or empty file is an empty document.
func (s *Store) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return &document{Version: formatVersion, Todos: []todo.Todo{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if doc.Version > formatVersion {
		return nil, fmt.Errorf("parse %s: unsupported version %d", s.path, doc.Version)
	}
	if doc.Todos == nil {
		doc.Todos = []todo.Todo{}
	}
	doc.raiseLastID()
	return &doc, nil
}

// raiseLastID lifts LastID to at least every stored id.
func (d *document) raiseLastID() {
	for _, t := range d.Todos {
		d.LastID = max(d.LastID, t.ID)
	}
}

// write replaces the document atomically.
func (s *Store) write(doc *document) error {
	doc.Version = formatVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
