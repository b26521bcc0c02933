package reconcile

import (
	"fmt"
	"strings"

	"github.com/roach88/todosync/internal/todo"
)

// OpKind identifies an edit operation.
type OpKind int

const (
	// OpRemove deletes the element at From (an index into the previous sequence).
	OpRemove OpKind = iota + 1

	// OpInsert places Record at To (an index into the next sequence).
	OpInsert

	// OpMove relocates the unchanged element at From to To.
	OpMove

	// OpUpdate replaces the content of the element that was at From and ends
	// up at To. If Moved is set the element also changed relative position.
	OpUpdate
)

// String returns the op kind name.
func (k OpKind) String() string {
	switch k {
	case OpRemove:
		return "remove"
	case OpInsert:
		return "insert"
	case OpMove:
		return "move"
	case OpUpdate:
		return "update"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// MarshalText encodes the kind by name, so JSON output reads "remove"
// rather than a number.
func (k OpKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name written by MarshalText.
func (k *OpKind) UnmarshalText(text []byte) error {
	for _, kind := range []OpKind{OpRemove, OpInsert, OpMove, OpUpdate} {
		if string(text) == kind.String() {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown op kind %q", text)
}

// Op is one edit. From is -1 for inserts; To is -1 for removals.
type Op struct {
	Kind   OpKind    `json:"kind"`
	From   int       `json:"from"`
	To     int       `json:"to"`
	Moved  bool      `json:"moved,omitempty"`
	Record todo.Todo `json:"record"`
}

// String renders the op in a stable, human-readable form.
func (o Op) String() string {
	switch o.Kind {
	case OpRemove:
		return fmt.Sprintf("remove from=%d id=%d", o.From, o.Record.ID)
	case OpInsert:
		return fmt.Sprintf("insert to=%d id=%d text=%q completed=%t", o.To, o.Record.ID, o.Record.Text, o.Record.Completed)
	case OpMove:
		return fmt.Sprintf("move from=%d to=%d id=%d", o.From, o.To, o.Record.ID)
	case OpUpdate:
		moved := ""
		if o.Moved {
			moved = " moved"
		}
		return fmt.Sprintf("update from=%d to=%d id=%d text=%q completed=%t%s",
			o.From, o.To, o.Record.ID, o.Record.Text, o.Record.Completed, moved)
	default:
		return o.Kind.String()
	}
}

// relocates reports whether the op takes the element out of its old slot.
func (o Op) relocates() bool {
	return o.Kind == OpMove || (o.Kind == OpUpdate && o.Moved)
}

// Script is an ordered edit script.
//
// Order is fixed: every OpRemove first, in descending From order; then
// inserts, moves and updates in ascending To order. A display surface can
// therefore apply removals by old index without disturbing each other, then
// walk the rest top to bottom.
type Script []Op

// IsEmpty reports whether the script changes nothing.
func (s Script) IsEmpty() bool {
	return len(s) == 0
}

// Count returns how many ops of kind k the script holds.
func (s Script) Count(k OpKind) int {
	n := 0
	for _, op := range s {
		if op.Kind == k {
			n++
		}
	}
	return n
}

// String renders one op per line. Two equal scripts render byte-identically.
func (s Script) String() string {
	var b strings.Builder
	for _, op := range s {
		b.WriteString(op.String())
		b.WriteByte('\n')
	}
	return b.String()
}
