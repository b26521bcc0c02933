package harness

import (
	"github.com/roach88/todosync/internal/reconcile"
	"github.com/roach88/todosync/internal/todo"
)

// Trace event types.
const (
	EventStep   = "step"
	EventScript = "script"
)

// TraceEvent is one entry of a scenario trace: either a step and its
// outcome, or an edit script one view produced for that step.
// Traces carry no timestamps so golden files stay stable.
type TraceEvent struct {
	Type string `json:"type"` // "step" or "script"
	Step int    `json:"step"`

	// Step events.
	Op      string `json:"op,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	ID      int64  `json:"id,omitempty"`
	Count   *int   `json:"count,omitempty"`

	// Script events.
	View  string   `json:"view,omitempty"`
	Edits []string `json:"edits,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every step and script in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Views holds each view's final sequence, keyed by view name.
	Views map[string][]todo.Todo `json:"views,omitempty"`

	// Stats is the final record summary.
	Stats todo.Stats `json:"stats"`

	// Persisted is the backend content after the final drain.
	Persisted []todo.Todo `json:"persisted,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Views:  make(map[string][]todo.Todo),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStepTrace adds a step outcome to the trace.
func (r *Result) AddStepTrace(step int, op, outcome string, id int64, count *int) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:    EventStep,
		Step:    step,
		Op:      op,
		Outcome: outcome,
		ID:      id,
		Count:   count,
	})
}

// AddScriptTrace adds one view's edit script to the trace.
func (r *Result) AddScriptTrace(step int, viewName string, s reconcile.Script) {
	edits := make([]string, len(s))
	for i, op := range s {
		edits[i] = op.String()
	}
	r.Trace = append(r.Trace, TraceEvent{
		Type:  EventScript,
		Step:  step,
		View:  viewName,
		Edits: edits,
	})
}

// Scripts returns the edit lines recorded for viewName, one entry per script.
func (r *Result) Scripts(viewName string) [][]string {
	var out [][]string
	for _, ev := range r.Trace {
		if ev.Type == EventScript && ev.View == viewName {
			out = append(out, ev.Edits)
		}
	}
	return out
}
