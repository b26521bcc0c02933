package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/todosync/internal/todo"
)

// Backend is the durable store behind a Coordinator.
//
// Every write is idempotent by ID: upserting the same record twice or
// deleting a missing ID succeeds. LastID reports the highest ID ever
// upserted, even if that record has since been deleted, so identities are
// not reused across restarts. Implementations must honor ctx cancellation
// on every call.
type Backend interface {
	LoadAll(ctx context.Context) ([]todo.Todo, error)
	LastID(ctx context.Context) (int64, error)
	WriteUpsert(ctx context.Context, rec todo.Todo) error
	WriteDelete(ctx context.Context, id int64) error
	WriteDeleteMany(ctx context.Context, ids []int64) error
}

// Op names a durable write.
type Op string

const (
	OpUpsert     Op = "upsert"
	OpDelete     Op = "delete"
	OpDeleteMany Op = "delete_many"
)

// intent is one queued durable write, or a drain barrier when barrier is set.
type intent struct {
	op      Op
	record  todo.Todo
	ids     []int64
	seq     int64
	barrier chan struct{}
}

func (it intent) apply(ctx context.Context, b Backend) error {
	switch it.op {
	case OpUpsert:
		return b.WriteUpsert(ctx, it.record)
	case OpDelete:
		return b.WriteDelete(ctx, it.ids[0])
	case OpDeleteMany:
		return b.WriteDeleteMany(ctx, it.ids)
	default:
		return fmt.Errorf("unknown write op %q", it.op)
	}
}

// Coordinator lifecycle errors.
var (
	ErrNotStarted     = errors.New("persistence coordinator not started")
	ErrAlreadyStarted = errors.New("persistence coordinator already started")
	ErrClosed         = errors.New("persistence coordinator closed")
	ErrStopped        = errors.New("persistence workers stopped")
)

// PersistenceFailure reports a write that was abandoned after exhausting its
// retries. It is delivered to the FailureSink and never to the caller whose
// mutation produced the write.
type PersistenceFailure struct {
	Op       Op
	IDs      []int64
	Attempts int
	Err      error
}

// Error implements the error interface.
func (f *PersistenceFailure) Error() string {
	return fmt.Sprintf("persist %s %v failed after %d attempts: %v", f.Op, f.IDs, f.Attempts, f.Err)
}

// Unwrap returns the last backend error.
func (f *PersistenceFailure) Unwrap() error {
	return f.Err
}

// FailureSink receives abandoned writes. It is called from a worker
// goroutine and must not block for long.
type FailureSink func(f *PersistenceFailure)
