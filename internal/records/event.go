package records

import (
	"fmt"

	"github.com/roach88/todosync/internal/todo"
)

// EventKind distinguishes mutation events.
type EventKind int

const (
	// EventCreated is emitted by Insert. Record holds the new todo.
	EventCreated EventKind = iota + 1

	// EventUpdated is emitted by Update and Toggle. Record holds the new value.
	EventUpdated

	// EventDeleted is emitted by Delete. Record holds the removed todo.
	EventDeleted

	// EventBulkDeleted is emitted by DeleteAll and DeleteCompleted.
	// IDs holds every removed identity, in canonical order.
	EventBulkDeleted

	// EventBulkUpdated is emitted by SetAllCompleted.
	// Records holds the new value of every changed todo, in canonical order.
	EventBulkUpdated
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventUpdated:
		return "updated"
	case EventDeleted:
		return "deleted"
	case EventBulkDeleted:
		return "bulk_deleted"
	case EventBulkUpdated:
		return "bulk_updated"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event describes one accepted mutation.
//
// Events are values; subscribers may retain them. Seq is stamped from the
// store's mutation clock and is strictly increasing across events.
type Event struct {
	Kind    EventKind
	Seq     int64
	Record  todo.Todo
	IDs     []int64
	Records []todo.Todo
}

// AffectedIDs returns every identity touched by the event.
func (e Event) AffectedIDs() []int64 {
	switch e.Kind {
	case EventBulkDeleted:
		return e.IDs
	case EventBulkUpdated:
		return todo.IDs(e.Records)
	default:
		return []int64{e.Record.ID}
	}
}

// Subscriber receives every accepted mutation together with the full record
// set in canonical order as of just after the mutation.
//
// Subscribers run synchronously inside the mutation while the store lock is
// held. They must not call back into the Store and must not block on I/O.
// The all slice is shared between subscribers of one event and must not be
// modified.
type Subscriber func(ev Event, all []todo.Todo)
