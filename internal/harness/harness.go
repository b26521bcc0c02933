package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/todosync/internal/engine"
	"github.com/roach88/todosync/internal/persist"
	"github.com/roach88/todosync/internal/reconcile"
	"github.com/roach88/todosync/internal/store"
	"github.com/roach88/todosync/internal/testutil"
	"github.com/roach88/todosync/internal/todo"
	"github.com/roach88/todosync/internal/view"
)

// Harness is the scenario execution engine.
// It runs scenarios with a deterministic clock and subscription IDs.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
	views  []*viewRecorder

	mu       sync.Mutex
	failures []*persist.PersistenceFailure
}

// viewRecorder collects the scripts one view produces.
type viewRecorder struct {
	name    string
	sub     *engine.Subscription
	pending []reconcile.Script
	all     []reconcile.Script
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory SQLite database for
// isolation, through the real engine and persistence coordinator.
//
// Execution flow:
// 1. Create fresh in-memory database and write the seed records
// 2. Start the engine (rehydrating from the database) and open the views
// 3. Execute steps, recording outcomes and per-view edit scripts
// 4. Drain persistence and read the database back
// 5. Replay every view's scripts and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	for i, rec := range scenario.Seed {
		if err := st.WriteUpsert(ctx, seedTodo(i, len(scenario.Seed), rec)); err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
	}

	h := &Harness{
		store:  st,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	coord := persist.New(st,
		persist.WithWorkers(2),
		persist.WithRetryPolicy(persist.RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     10 * time.Millisecond,
			Multiplier:      2,
		}),
		persist.WithLogger(h.logger),
		persist.WithFailureSink(h.recordFailure),
	)
	h.engine = engine.New(coord,
		engine.WithClock(testutil.NewClock().Now),
		engine.WithIDGenerator(testutil.NewSequenceIDGenerator("view")),
		engine.WithLogger(h.logger),
	)
	if err := h.engine.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	defer func() { _ = h.engine.Shutdown(ctx) }()

	if err := h.openViews(scenario.Views); err != nil {
		return nil, err
	}

	result := NewResult()
	if err := h.executeSteps(scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	if err := h.engine.Drain(ctx); err != nil {
		return nil, fmt.Errorf("failed to drain persistence: %w", err)
	}
	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

// seedTodo converts a seed entry. Seeds without created_at get distinct
// instants before the deterministic clock's epoch, oldest first.
func seedTodo(i, n int, rec SeedRecord) todo.Todo {
	created := rec.CreatedAt
	if created.IsZero() {
		created = testutil.DefaultEpoch.Add(-time.Duration(n-i) * time.Minute)
	}
	return todo.Todo{
		ID:        rec.ID,
		Text:      rec.Text,
		Completed: rec.Completed,
		CreatedAt: todo.NormalizeTime(created),
	}
}

func (h *Harness) recordFailure(f *persist.PersistenceFailure) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, f)
}

// openViews subscribes every named view in order.
func (h *Harness) openViews(names []string) error {
	for _, name := range names {
		f, err := ParseView(name)
		if err != nil {
			return fmt.Errorf("view %q: %w", name, err)
		}

		rec := &viewRecorder{name: name}
		// Delivery is synchronous, on the goroutine running the step.
		rec.sub, err = h.engine.SubscribeFunc(f, func(s reconcile.Script) {
			rec.pending = append(rec.pending, s)
		})
		if err != nil {
			return fmt.Errorf("view %q: %w", name, err)
		}
		h.views = append(h.views, rec)
	}
	return nil
}

// executeSteps runs all steps, validates expect clauses and records the
// scripts each step produced.
func (h *Harness) executeSteps(steps []Step, result *Result) error {
	for i, step := range steps {
		n := i + 1

		id, count, err := h.execute(step)
		outcome, err := classify(err)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", n, step.Op, err)
		}

		result.AddStepTrace(n, step.Op, outcome, id, count)
		for _, msg := range checkExpect(n, step, outcome, id, count) {
			result.AddError(msg)
		}

		for _, v := range h.views {
			for _, s := range v.pending {
				result.AddScriptTrace(n, v.name, s)
			}
			v.all = append(v.all, v.pending...)
			v.pending = nil
		}

		h.logger.Info("step completed", "step", n, "op", step.Op, "outcome", outcome)
	}
	return nil
}

// execute performs one step against the engine. It returns the affected
// record's id for single-record ops and the affected count for bulk ops.
func (h *Harness) execute(step Step) (int64, *int, error) {
	var (
		rec todo.Todo
		n   int
		err error
	)

	switch step.Op {
	case OpInsert:
		rec, err = h.engine.Insert(*step.Text)
	case OpUpdate:
		rec, err = h.engine.Update(step.ID, todo.Patch{Text: step.Text, Completed: step.Completed})
	case OpToggle:
		rec, err = h.engine.Toggle(step.ID)
	case OpDelete:
		err = h.engine.Delete(step.ID)
		if err == nil {
			return step.ID, nil, nil
		}
	case OpDeleteAll:
		n, err = h.engine.DeleteAll()
		return 0, &n, err
	case OpDeleteCompleted:
		n, err = h.engine.DeleteCompleted()
		return 0, &n, err
	case OpSetAllCompleted:
		n, err = h.engine.SetAllCompleted(*step.Completed)
		return 0, &n, err
	default:
		return 0, nil, fmt.Errorf("unknown op %q", step.Op)
	}

	return rec.ID, nil, err
}

// classify maps record-level errors to outcomes. Any other error aborts
// the scenario.
func classify(err error) (string, error) {
	switch {
	case err == nil:
		return OutcomeOK, nil
	case todo.IsValidation(err):
		return OutcomeValidation, nil
	case todo.IsNotFound(err):
		return OutcomeNotFound, nil
	default:
		return "", err
	}
}

func checkExpect(n int, step Step, outcome string, id int64, count *int) []string {
	want := OutcomeOK
	if step.Expect != nil && step.Expect.Outcome != "" {
		want = step.Expect.Outcome
	}

	var errs []string
	if outcome != want {
		errs = append(errs, fmt.Sprintf("step %d (%s): expected outcome %s, got %s", n, step.Op, want, outcome))
	}
	if step.Expect == nil {
		return errs
	}
	if step.Expect.ID != 0 && id != step.Expect.ID {
		errs = append(errs, fmt.Sprintf("step %d (%s): expected id %d, got %d", n, step.Op, step.Expect.ID, id))
	}
	if step.Expect.Count != nil && (count == nil || *count != *step.Expect.Count) {
		got := "none"
		if count != nil {
			got = fmt.Sprint(*count)
		}
		errs = append(errs, fmt.Sprintf("step %d (%s): expected count %d, got %s", n, step.Op, *step.Expect.Count, got))
	}
	return errs
}

// collect fills the final state into result. It checks that the database
// matches the engine and that replaying each view's scripts over its initial
// sequence reproduces the final sequence.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	stats, err := h.engine.Stats()
	if err != nil {
		return err
	}
	result.Stats = stats

	persisted, err := h.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to read back store: %w", err)
	}
	result.Persisted = persisted

	memory, err := h.engine.List(view.All())
	if err != nil {
		return err
	}
	if !slices.EqualFunc(memory, persisted, sameRecord) {
		result.AddError(fmt.Sprintf("store holds %v, engine holds %v", todo.IDs(persisted), todo.IDs(memory)))
	}

	for _, v := range h.views {
		current := v.sub.Current()
		result.Views[v.name] = current

		replayed, err := replay(v.sub.Initial(), v.all)
		if err != nil {
			result.AddError(fmt.Sprintf("view %s: %v", v.name, err))
			continue
		}
		if !slices.EqualFunc(replayed, current, sameRecord) {
			result.AddError(fmt.Sprintf("view %s: replayed scripts give %v, view holds %v",
				v.name, todo.IDs(replayed), todo.IDs(current)))
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, f := range h.failures {
		result.AddError(fmt.Sprintf("persistence failure: %v", f))
	}
	return nil
}

// replay applies scripts in order to initial.
func replay(initial []todo.Todo, scripts []reconcile.Script) ([]todo.Todo, error) {
	seq := initial
	for i, s := range scripts {
		next, err := reconcile.Apply(seq, s)
		if err != nil {
			return nil, fmt.Errorf("script %d does not apply: %w", i+1, err)
		}
		seq = next
	}
	return seq, nil
}

func sameRecord(a, b todo.Todo) bool {
	return a.ID == b.ID && a.SameContent(b) && a.CreatedAt.Equal(b.CreatedAt)
}
