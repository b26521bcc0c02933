// Package reconcile computes edit scripts between two rendered sequences.
//
// Diff turns (prev, next) into a Script of removals, inserts, moves and
// updates keyed by record identity. The set of surviving records that keep
// their relative order is the longest increasing subsequence of their old
// positions, so the number of moves is minimal. Apply replays a script and
// is the executable definition of script semantics: for any prev and next
// with unique identities, Apply(prev, Diff(prev, next)) equals next.
package reconcile

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/todosync/internal/todo"
)

// ErrInvalidScript is returned by Apply when a script does not fit the
// sequence it is applied to.
var ErrInvalidScript = errors.New("invalid edit script")

// Diff computes the edit script from prev to next.
//
// Records are matched by ID. IDs must be unique within each sequence.
// Diff is deterministic: equal inputs always produce equal scripts.
func Diff(prev, next []todo.Todo) Script {
	oldIndex := make(map[int64]int, len(prev))
	for i, rec := range prev {
		oldIndex[rec.ID] = i
	}

	// survivors[k] is the old index of the k-th surviving record in next
	// order; at[k] is its new index.
	var (
		survivors []int
		at        []int
		kept      = make(map[int64]struct{}, len(next))
	)
	for j, rec := range next {
		if i, ok := oldIndex[rec.ID]; ok {
			survivors = append(survivors, i)
			at = append(at, j)
			kept[rec.ID] = struct{}{}
		}
	}

	var script Script
	for i := len(prev) - 1; i >= 0; i-- {
		if _, ok := kept[prev[i].ID]; !ok {
			script = append(script, Op{Kind: OpRemove, From: i, To: -1, Record: prev[i]})
		}
	}

	stays := longestIncreasing(survivors)

	k := 0
	for j, rec := range next {
		if k < len(at) && at[k] == j {
			from := survivors[k]
			changed := !prev[from].SameContent(rec)
			switch {
			case stays[k] && changed:
				script = append(script, Op{Kind: OpUpdate, From: from, To: j, Record: rec})
			case !stays[k] && changed:
				script = append(script, Op{Kind: OpUpdate, From: from, To: j, Moved: true, Record: rec})
			case !stays[k]:
				script = append(script, Op{Kind: OpMove, From: from, To: j, Record: rec})
			}
			k++
			continue
		}
		script = append(script, Op{Kind: OpInsert, From: -1, To: j, Record: rec})
	}

	return script
}

// Apply replays script against prev and returns the resulting sequence.
// prev is not modified.
//
// Removals and relocated elements are lifted out first. The remaining
// elements keep their relative order; inserts and relocated elements are
// then placed at their new index in ascending order, and in-place updates
// overwrite content last.
func Apply(prev []todo.Todo, script Script) ([]todo.Todo, error) {
	lifted := make([]bool, len(prev))
	var placed, overwrites []Op

	for n, op := range script {
		switch op.Kind {
		case OpRemove, OpMove, OpUpdate:
			if op.From < 0 || op.From >= len(prev) {
				return nil, fmt.Errorf("%w: op %d (%s): from index %d out of range [0,%d)",
					ErrInvalidScript, n, op.Kind, op.From, len(prev))
			}
			if prev[op.From].ID != op.Record.ID {
				return nil, fmt.Errorf("%w: op %d (%s): id %d does not match id %d at index %d",
					ErrInvalidScript, n, op.Kind, op.Record.ID, prev[op.From].ID, op.From)
			}
		case OpInsert:
		default:
			return nil, fmt.Errorf("%w: op %d: unknown kind %s", ErrInvalidScript, n, op.Kind)
		}

		switch {
		case op.Kind == OpRemove:
			if lifted[op.From] {
				return nil, fmt.Errorf("%w: op %d: index %d touched twice", ErrInvalidScript, n, op.From)
			}
			lifted[op.From] = true
		case op.relocates():
			if lifted[op.From] {
				return nil, fmt.Errorf("%w: op %d: index %d touched twice", ErrInvalidScript, n, op.From)
			}
			lifted[op.From] = true
			placed = append(placed, op)
		case op.Kind == OpInsert:
			placed = append(placed, op)
		default:
			overwrites = append(overwrites, op)
		}
	}

	out := make([]todo.Todo, 0, len(prev)+len(placed))
	for i, rec := range prev {
		if !lifted[i] {
			out = append(out, rec)
		}
	}

	slices.SortStableFunc(placed, func(a, b Op) int { return a.To - b.To })
	for _, op := range placed {
		if op.To < 0 || op.To > len(out) {
			return nil, fmt.Errorf("%w: %s: to index out of range [0,%d]", ErrInvalidScript, op, len(out))
		}
		rec := op.Record
		if op.Kind == OpMove {
			rec = prev[op.From]
		}
		out = slices.Insert(out, op.To, rec)
	}

	for _, op := range overwrites {
		if op.To < 0 || op.To >= len(out) {
			return nil, fmt.Errorf("%w: %s: to index out of range [0,%d)", ErrInvalidScript, op, len(out))
		}
		if out[op.To].ID != op.Record.ID {
			return nil, fmt.Errorf("%w: %s: found id %d at target", ErrInvalidScript, op, out[op.To].ID)
		}
		out[op.To] = op.Record
	}

	return out, nil
}

// longestIncreasing marks one longest strictly increasing subsequence of seq.
// Values in seq are distinct. Patience sorting with predecessor links,
// O(n log n). Among equally long candidates it picks the one reconstructed
// from the final tail, so the result depends only on seq.
func longestIncreasing(seq []int) []bool {
	in := make([]bool, len(seq))
	if len(seq) == 0 {
		return in
	}

	// tails[l] is the position in seq of the smallest tail of an increasing
	// run of length l+1.
	tails := make([]int, 0, len(seq))
	prevPos := make([]int, len(seq))

	for p, v := range seq {
		l, _ := slices.BinarySearchFunc(tails, v, func(pos, target int) int {
			return seq[pos] - target
		})
		if l > 0 {
			prevPos[p] = tails[l-1]
		} else {
			prevPos[p] = -1
		}
		if l == len(tails) {
			tails = append(tails, p)
		} else {
			tails[l] = p
		}
	}

	for p := tails[len(tails)-1]; p >= 0; p = prevPos[p] {
		in[p] = true
	}
	return in
}
