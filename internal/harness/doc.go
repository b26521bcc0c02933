// Package harness runs todosync scenarios as executable conformance tests.
//
// A scenario seeds durable storage, starts the real engine over an
// in-memory SQLite database, opens live views, runs mutations and asserts
// on the trace of step outcomes and edit scripts and on the final state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	seed:
//	  - { id: 7, text: "Restored", completed: true }
//	views: [all, active, completed, "search:milk"]
//	steps:
//	  - op: insert
//	    text: Buy milk
//	    expect: { id: 8 }
//	  - op: toggle
//	    id: 99
//	    expect: { outcome: not_found }
//	  - op: delete_completed
//	    expect: { count: 1 }
//	assertions:
//	  - type: view
//	    view: active
//	    texts: [Buy milk]
//	  - type: trace_contains
//	    view: all
//	    edit: "remove from=1 id=7"
//
// # Assertion Types
//
//   - view: a view's final content by text and/or id
//   - stats: the final total, active and completed counts
//   - persisted: the ids in storage after the final drain, canonical order
//   - script_count: how many non-empty scripts a view produced
//   - trace_contains: an edit line some script of a view contains
//
// Independently of the listed assertions, every run replays each view's
// scripts over its initial sequence and fails if the result differs from
// the view's final sequence, and fails on any persistence failure.
//
// # Deterministic Testing
//
// Record timestamps come from testutil.Clock and subscription IDs from
// testutil.SequenceIDGenerator; traces contain no timestamps. Identical
// scenarios therefore produce identical traces for golden comparison.
package harness
