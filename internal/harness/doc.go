// Package harness runs scripted scenarios against the sync engine.
//
// A scenario seeds an in-memory remote store, drives a real engine through a
// sequence of flow steps and checks the outcome of each step, the final
// cache and the persisted documents. Every step is recorded in a trace that
// can be compared against a golden file.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	actor: premium:user-1
//	engine:
//	  max_attempts: 5
//	remote:
//	  events:
//	    - id: a1
//	      name: Jazz night
//	      venue: City Hall
//	      location: {lat: 59.43, lng: 24.75}
//	      starts_at: 2025-03-05T19:00:00Z
//	  generate:
//	    - {prefix: gen, count: 500, location: {lat: 59.43, lng: 24.75}}
//	flow:
//	  - action: create
//	    args: {name: Jazz night, venue: City Hall, lat: 59.43, lng: 24.75}
//	    expect:
//	      case: confirmed
//	      result: {event_id: ev-1}
//	assertions:
//	  - type: cache_contains
//	    id: ev-1
//	    expect: {name: Jazz night}
//	  - type: final_state
//	    table: mutations
//	    expect: {pending: []}
//
// # Actions
//
// Reads: fetch, load, status, calls. Writes: create, update, delete, await.
// Remote control: fail, recover, push. Engine control: retry_failed,
// clear_errors, set_online, update_check, settle. Time: advance moves the
// fake wall clock, sleep waits in real time for background work.
//
// # Assertion Types
//
//   - trace_contains: a step with the action, a subset of args and optionally a case
//   - trace_order: actions appear in the given order
//   - trace_count: an action appears exactly N times
//   - cache_count, cache_contains, cache_absent: the engine's cached events
//   - venue: a venue cache record
//   - status: the final SyncStatus
//   - remote_calls: calls made to the remote store per method
//   - final_state: a document persisted under a KV key after teardown
//
// # Deterministic Testing
//
// Event ids are ev-1, ev-2, ... and mutation ids m-1, m-2, ... in creation
// order. Trace sequence numbers come from a logical clock and the wall clock
// starts at testutil.Epoch, so traces are stable across runs.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/park_after_retries.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
