package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/roach88/todosync/internal/todo"
)

// ErrInjected is returned by MemoryBackend when a failure is injected.
var ErrInjected = errors.New("injected backend failure")

// WriteOp names a durable write recorded by MemoryBackend.
type WriteOp string

const (
	WriteUpsert     WriteOp = "upsert"
	WriteDelete     WriteOp = "delete"
	WriteDeleteMany WriteOp = "delete_many"
)

// Write is one successfully applied durable write.
type Write struct {
	Op     WriteOp
	IDs    []int64
	Record todo.Todo
}

// MemoryBackend is an in-memory durable store with failure injection.
//
// It satisfies persist.Backend. Successful writes are appended to a log so
// tests can assert on per-ID ordering; injected failures are not logged.
//
// Thread-safety: All methods are safe for concurrent use.
type MemoryBackend struct {
	mu       sync.Mutex
	records  map[int64]todo.Todo
	lastID   int64
	log      []Write
	attempts int

	failNext   int
	failAlways bool
	failIDs    map[int64]bool
	delay      time.Duration
}

// NewMemoryBackend creates a backend pre-populated with seed.
func NewMemoryBackend(seed ...todo.Todo) *MemoryBackend {
	b := &MemoryBackend{
		records: make(map[int64]todo.Todo),
		failIDs: make(map[int64]bool),
	}
	for _, r := range seed {
		b.records[r.ID] = r
		b.lastID = max(b.lastID, r.ID)
	}
	return b
}

// FailNext makes the next n write attempts fail.
func (b *MemoryBackend) FailNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
}

// FailAlways makes every write attempt fail until cleared.
func (b *MemoryBackend) FailAlways(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAlways = fail
}

// FailID makes every write touching id fail.
func (b *MemoryBackend) FailID(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failIDs[id] = true
}

// SetDelay makes every write sleep for d before applying.
func (b *MemoryBackend) SetDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
}

// LoadAll returns every stored record in canonical order.
func (b *MemoryBackend) LoadAll(ctx context.Context) ([]todo.Todo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(), nil
}

// LastID returns the highest id ever upserted or seeded.
func (b *MemoryBackend) LastID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastID, nil
}

// WriteUpsert stores rec.
func (b *MemoryBackend) WriteUpsert(ctx context.Context, rec todo.Todo) error {
	return b.write(ctx, []int64{rec.ID}, func() Write {
		b.records[rec.ID] = rec
		b.lastID = max(b.lastID, rec.ID)
		return Write{Op: WriteUpsert, IDs: []int64{rec.ID}, Record: rec}
	})
}

// WriteDelete removes id. Deleting a missing id succeeds.
func (b *MemoryBackend) WriteDelete(ctx context.Context, id int64) error {
	return b.write(ctx, []int64{id}, func() Write {
		delete(b.records, id)
		return Write{Op: WriteDelete, IDs: []int64{id}}
	})
}

// WriteDeleteMany removes every id in ids.
func (b *MemoryBackend) WriteDeleteMany(ctx context.Context, ids []int64) error {
	return b.write(ctx, ids, func() Write {
		for _, id := range ids {
			delete(b.records, id)
		}
		return Write{Op: WriteDeleteMany, IDs: slices.Clone(ids)}
	})
}

func (b *MemoryBackend) write(ctx context.Context, ids []int64, apply func() Write) error {
	b.mu.Lock()
	delay := b.delay
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	if b.failAlways {
		return ErrInjected
	}
	if b.failNext > 0 {
		b.failNext--
		return ErrInjected
	}
	for _, id := range ids {
		if b.failIDs[id] {
			return ErrInjected
		}
	}

	b.log = append(b.log, apply())
	return nil
}

// Records returns the stored records in canonical order.
func (b *MemoryBackend) Records() []todo.Todo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Writes returns the log of successful writes in application order.
func (b *MemoryBackend) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.log)
}

// WritesFor returns the successful writes that touched id, in order.
func (b *MemoryBackend) WritesFor(id int64) []Write {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Write
	for _, w := range b.log {
		if slices.Contains(w.IDs, id) {
			out = append(out, w)
		}
	}
	return out
}

// Attempts returns how many write attempts were made, including failures.
func (b *MemoryBackend) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func (b *MemoryBackend) snapshotLocked() []todo.Todo {
	out := make([]todo.Todo, 0, len(b.records))
	for _, r := range b.records {
		out = append(out, r)
	}
	todo.SortCanonical(out)
	return out
}
