package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/todosync/internal/todo"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		switch event.Type {
		case EventStep:
			fmt.Fprintf(&buf, "  [%d] %s -> %s\n", event.Step, event.Op, event.Outcome)
		case EventScript:
			fmt.Fprintf(&buf, "      %s: %s\n", event.View, strings.Join(event.Edits, "; "))
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns one
// message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertView:
		return assertView(result, a)
	case AssertStats:
		return assertStats(result, a)
	case AssertPersisted:
		return assertPersisted(result, a)
	case AssertScriptCount:
		return assertScriptCount(result, a)
	case AssertTraceContains:
		return assertTraceContains(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertView compares a view's final content by text, by id, or both.
func assertView(result *Result, a Assertion) error {
	records, ok := result.Views[a.View]
	if !ok {
		return fmt.Errorf("view %q was not opened", a.View)
	}

	if a.Texts != nil {
		got := texts(records)
		if !slices.Equal(got, a.Texts) {
			return &AssertionError{
				Type:     AssertView,
				Expected: fmt.Sprintf("%s texts %q", a.View, a.Texts),
				Actual:   fmt.Sprintf("%q", got),
				Trace:    result.Trace,
			}
		}
	}

	if a.IDs != nil {
		got := todo.IDs(records)
		if !slices.Equal(got, a.IDs) {
			return &AssertionError{
				Type:     AssertView,
				Expected: fmt.Sprintf("%s ids %v", a.View, a.IDs),
				Actual:   fmt.Sprintf("%v", got),
				Trace:    result.Trace,
			}
		}
	}

	return nil
}

func assertStats(result *Result, a Assertion) error {
	want := todo.Stats{Total: a.Stats.Total, Active: a.Stats.Active, Completed: a.Stats.Completed}
	if result.Stats != want {
		return &AssertionError{
			Type:     AssertStats,
			Expected: fmt.Sprintf("%+v", want),
			Actual:   fmt.Sprintf("%+v", result.Stats),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertPersisted compares the drained backend content in canonical order.
func assertPersisted(result *Result, a Assertion) error {
	got := todo.IDs(result.Persisted)
	if !slices.Equal(got, a.IDs) {
		return &AssertionError{
			Type:     AssertPersisted,
			Expected: fmt.Sprintf("persisted ids %v", a.IDs),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertScriptCount checks how many non-empty scripts a view produced.
func assertScriptCount(result *Result, a Assertion) error {
	count := len(result.Scripts(a.View))
	if count != a.Count {
		return &AssertionError{
			Type:     AssertScriptCount,
			Expected: fmt.Sprintf("%s produced %d scripts", a.View, a.Count),
			Actual:   fmt.Sprintf("%d scripts", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertTraceContains checks that some script of the view contains the
// given edit line.
func assertTraceContains(result *Result, a Assertion) error {
	for _, edits := range result.Scripts(a.View) {
		if slices.Contains(edits, a.Edit) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s edit %q", a.View, a.Edit),
		Actual:   "not found in trace",
		Trace:    result.Trace,
	}
}

func texts(records []todo.Todo) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Text
	}
	return out
}
