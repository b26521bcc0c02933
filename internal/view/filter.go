// Package view derives ordered, filtered sequences from the record store.
//
// A Filter is a predicate plus a comparator. Materialize is a pure function
// of the full record set: it holds no incremental state and is recomputed in
// full on every mutation, which is O(n log n) and fine at todo-list scale.
package view

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/todosync/internal/todo"
)

// Kind identifies a built-in filter.
type Kind int

const (
	KindAll Kind = iota
	KindActive
	KindCompleted
	KindSearch
)

// String returns the filter name as accepted by Parse.
func (k Kind) String() string {
	switch k {
	case KindAll:
		return "all"
	case KindActive:
		return "active"
	case KindCompleted:
		return "completed"
	case KindSearch:
		return "search"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Filter is a named predicate with an ordering.
// The zero value is the All filter in canonical order.
type Filter struct {
	kind   Kind
	query  string
	folded string
	cmp    func(a, b todo.Todo) int
}

// All matches every record.
func All() Filter { return Filter{kind: KindAll} }

// Active matches records that are not completed.
func Active() Filter { return Filter{kind: KindActive} }

// Completed matches completed records.
func Completed() Filter { return Filter{kind: KindCompleted} }

// Search matches records whose text contains q, ignoring case.
// Matching uses Unicode case folding on NFC-normalized text, so precomposed
// and decomposed accents compare equal.
// An empty query matches every record.
func Search(q string) Filter {
	return Filter{kind: KindSearch, query: q, folded: fold(q)}
}

// Parse builds a filter from its name. query is only used by "search".
func Parse(name, query string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "all":
		return All(), nil
	case "active":
		return Active(), nil
	case "completed", "done":
		return Completed(), nil
	case "search":
		return Search(query), nil
	default:
		return Filter{}, fmt.Errorf("unknown filter %q: must be one of all, active, completed, search", name)
	}
}

// OrderedBy returns a copy of f that sorts with cmp instead of the canonical
// order. cmp must be a strict weak ordering; ties keep canonical order.
func (f Filter) OrderedBy(cmp func(a, b todo.Todo) int) Filter {
	f.cmp = cmp
	return f
}

// Kind returns the filter kind.
func (f Filter) Kind() Kind { return f.kind }

// Query returns the search query, or "" for non-search filters.
func (f Filter) Query() string { return f.query }

// String renders the filter for logs and traces, e.g. `search("milk")`.
func (f Filter) String() string {
	if f.kind == KindSearch {
		return fmt.Sprintf("search(%q)", f.query)
	}
	return f.kind.String()
}

// Match reports whether rec passes the predicate.
func (f Filter) Match(rec todo.Todo) bool {
	switch f.kind {
	case KindActive:
		return !rec.Completed
	case KindCompleted:
		return rec.Completed
	case KindSearch:
		if f.folded == "" {
			return true
		}
		return strings.Contains(fold(rec.Text), f.folded)
	default:
		return true
	}
}

// Materialize applies the predicate to records and sorts the survivors.
// records is not modified; the result is a fresh slice.
func (f Filter) Materialize(records []todo.Todo) []todo.Todo {
	out := make([]todo.Todo, 0, len(records))
	for _, rec := range records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}

	// Stable sort on canonical order first so custom comparators break
	// their ties deterministically.
	todo.SortCanonical(out)
	if f.cmp != nil {
		slices.SortStableFunc(out, f.cmp)
	}
	return out
}

// fold normalizes s for case-insensitive comparison.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}
