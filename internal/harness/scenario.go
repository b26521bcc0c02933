package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/todosync/internal/view"
)

// Scenario defines a conformance test scenario.
// A scenario seeds durable storage, opens live views, runs a sequence of
// mutations and asserts on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Seed lists records present in storage before the engine starts.
	Seed []SeedRecord `yaml:"seed,omitempty"`

	// Views names the live views opened after startup, e.g. "all",
	// "active", "completed" or "search:milk".
	Views []string `yaml:"views"`

	// Steps are the mutations, executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedRecord is a record restored from storage at startup.
type SeedRecord struct {
	ID        int64     `yaml:"id"`
	Text      string    `yaml:"text"`
	Completed bool      `yaml:"completed,omitempty"`
	CreatedAt time.Time `yaml:"created_at,omitempty"`
}

// Step is one mutation.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// ID targets update, toggle and delete.
	ID int64 `yaml:"id,omitempty"`

	// Text is the insert text, or the new text for update.
	Text *string `yaml:"text,omitempty"`

	// Completed is the new flag for update and set_all_completed.
	Completed *bool `yaml:"completed,omitempty"`

	// Expect validates the step outcome. If nil the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Outcome is "ok", "validation" or "not_found". Defaults to "ok".
	Outcome string `yaml:"outcome,omitempty"`

	// ID is the expected identity of the returned record.
	ID int64 `yaml:"id,omitempty"`

	// Count is the expected number of affected records for bulk ops.
	Count *int `yaml:"count,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// View names the view for view, script_count and trace_contains.
	View string `yaml:"view,omitempty"`

	// Texts is the expected view content by text (view).
	Texts []string `yaml:"texts,omitempty"`

	// IDs is the expected content by id (view, persisted).
	IDs []int64 `yaml:"ids,omitempty"`

	// Stats is the expected summary (stats).
	Stats *StatsExpect `yaml:"stats,omitempty"`

	// Count is the expected number of scripts (script_count).
	Count int `yaml:"count,omitempty"`

	// Edit is an edit-script line that must appear in the view's trace
	// (trace_contains), e.g. "move from=2 to=0 id=3".
	Edit string `yaml:"edit,omitempty"`
}

// StatsExpect is the expected record summary.
type StatsExpect struct {
	Total     int `yaml:"total"`
	Active    int `yaml:"active"`
	Completed int `yaml:"completed"`
}

// Step operations.
const (
	OpInsert          = "insert"
	OpUpdate          = "update"
	OpToggle          = "toggle"
	OpDelete          = "delete"
	OpDeleteAll       = "delete_all"
	OpDeleteCompleted = "delete_completed"
	OpSetAllCompleted = "set_all_completed"
)

// Step outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeValidation = "validation"
	OutcomeNotFound   = "not_found"
)

// Assertion type constants.
const (
	AssertView          = "view"
	AssertStats         = "stats"
	AssertPersisted     = "persisted"
	AssertScriptCount   = "script_count"
	AssertTraceContains = "trace_contains"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// ParseView resolves a view name: "all", "active", "completed" or
// "search:<query>".
func ParseView(name string) (view.Filter, error) {
	if q, ok := strings.CutPrefix(name, "search:"); ok {
		return view.Parse("search", q)
	}
	return view.Parse(name, "")
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	seen := make(map[int64]bool, len(s.Seed))
	for i, rec := range s.Seed {
		if rec.ID <= 0 {
			return fmt.Errorf("seed[%d]: id must be positive", i)
		}
		if seen[rec.ID] {
			return fmt.Errorf("seed[%d]: duplicate id %d", i, rec.ID)
		}
		seen[rec.ID] = true
	}

	views := make(map[string]bool, len(s.Views))
	for i, name := range s.Views {
		if _, err := ParseView(name); err != nil {
			return fmt.Errorf("views[%d]: %w", i, err)
		}
		if views[name] {
			return fmt.Errorf("views[%d]: duplicate view %q", i, name)
		}
		views[name] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, views); err != nil {
			return err
		}
	}

	return nil
}

// validateStep validates a single step based on its op.
func validateStep(index int, st *Step) error {
	switch st.Op {
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	case OpInsert:
		if st.Text == nil {
			return fmt.Errorf("steps[%d]: text is required for insert", index)
		}
	case OpUpdate, OpToggle, OpDelete:
		if st.ID == 0 {
			return fmt.Errorf("steps[%d]: id is required for %s", index, st.Op)
		}
	case OpSetAllCompleted:
		if st.Completed == nil {
			return fmt.Errorf("steps[%d]: completed is required for set_all_completed", index)
		}
	case OpDeleteAll, OpDeleteCompleted:
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}

	if st.Expect != nil {
		switch st.Expect.Outcome {
		case "", OutcomeOK, OutcomeValidation, OutcomeNotFound:
		default:
			return fmt.Errorf("steps[%d].expect: unknown outcome %q", index, st.Expect.Outcome)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, views map[string]bool) error {
	needView := func() error {
		if a.View == "" {
			return fmt.Errorf("assertions[%d]: view is required for %s", index, a.Type)
		}
		if !views[a.View] {
			return fmt.Errorf("assertions[%d]: view %q is not opened by the scenario", index, a.View)
		}
		return nil
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertView:
		if err := needView(); err != nil {
			return err
		}
		if a.Texts == nil && a.IDs == nil {
			return fmt.Errorf("assertions[%d]: texts or ids is required for view", index)
		}
	case AssertStats:
		if a.Stats == nil {
			return fmt.Errorf("assertions[%d]: stats is required for stats", index)
		}
	case AssertPersisted:
		if a.IDs == nil {
			return fmt.Errorf("assertions[%d]: ids is required for persisted (use [] for none)", index)
		}
	case AssertScriptCount:
		if err := needView(); err != nil {
			return err
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for script_count", index)
		}
	case AssertTraceContains:
		if err := needView(); err != nil {
			return err
		}
		if a.Edit == "" {
			return fmt.Errorf("assertions[%d]: edit is required for trace_contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
