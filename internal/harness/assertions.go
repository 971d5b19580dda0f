package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/eventsync/internal/engine"
	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/store"
	"github.com/roach88/eventsync/internal/venue"
)

// Observed is the engine state captured at the end of the flow, before
// teardown.
type Observed struct {
	Events []event.Event
	Venues []venue.Record
	Status engine.SyncStatus
	Calls  map[string]int
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Ctx      context.Context
	KV       store.KV
	Observed Observed
}

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

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			if ev.Type == TraceOutcome {
				fmt.Fprintf(&buf, "  [%d] %s -> %s %v\n", ev.Seq, ev.Action, ev.Case, ev.Result)
			}
		}
	}

	return buf.String()
}

// assertTraceContains checks if the trace contains a step matching the
// action, the args (subset match) and, when given, the outcome case.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for i, ev := range trace {
		if ev.Type != TraceRequest || ev.Action != assertion.Action {
			continue
		}
		if !matchSubset(ev.Args, assertion.Args) {
			continue
		}
		if assertion.Case == "" || (i+1 < len(trace) && trace[i+1].Case == assertion.Case) {
			return nil
		}
	}

	expected := fmt.Sprintf("action %s with args %v", assertion.Action, assertion.Args)
	if assertion.Case != "" {
		expected += fmt.Sprintf(" and case %s", assertion.Case)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)

	for i, ev := range trace {
		if ev.Type == TraceRequest {
			for _, expected := range assertion.Actions {
				if ev.Action == expected && positions[expected] == 0 {
					positions[expected] = i + 1 // 1-indexed for readability
				}
			}
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type == TraceRequest && ev.Action == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertCacheCount(obs Observed, assertion Assertion) error {
	if len(obs.Events) != assertion.Count {
		return &AssertionError{
			Type:     AssertCacheCount,
			Expected: fmt.Sprintf("%d cached events", assertion.Count),
			Actual:   fmt.Sprintf("%d cached events: %v", len(obs.Events), event.IDs(obs.Events)),
		}
	}
	return nil
}

func assertCacheContains(obs Observed, assertion Assertion) error {
	for _, ev := range obs.Events {
		if ev.ID != assertion.ID {
			continue
		}
		if actual := normalize(ev); !matchSubset(actual, assertion.Expect) {
			return &AssertionError{
				Type:     AssertCacheContains,
				Expected: fmt.Sprintf("event %s with %v", assertion.ID, assertion.Expect),
				Actual:   fmt.Sprintf("%v", actual),
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertCacheContains,
		Expected: fmt.Sprintf("event %s in cache", assertion.ID),
		Actual:   fmt.Sprintf("cached ids: %v", event.IDs(obs.Events)),
	}
}

func assertCacheAbsent(obs Observed, assertion Assertion) error {
	for _, ev := range obs.Events {
		if ev.ID == assertion.ID {
			return &AssertionError{
				Type:     AssertCacheAbsent,
				Expected: fmt.Sprintf("event %s not in cache", assertion.ID),
				Actual:   "present",
			}
		}
	}
	return nil
}

func assertVenue(obs Observed, assertion Assertion) error {
	key := venue.Key(assertion.Name)
	for _, rec := range obs.Venues {
		if rec.Key != key {
			continue
		}
		actual := flattenVenue(rec)
		if !matchSubset(actual, assertion.Expect) {
			return &AssertionError{
				Type:     AssertVenue,
				Expected: fmt.Sprintf("venue %q with %v", assertion.Name, assertion.Expect),
				Actual:   fmt.Sprintf("%v", actual),
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertVenue,
		Expected: fmt.Sprintf("venue %q in cache", assertion.Name),
		Actual:   "not found",
	}
}

// flattenVenue exposes the record with lat and lng at the top level next to
// the nested location.
func flattenVenue(rec venue.Record) any {
	m, isMap := normalize(rec).(map[string]any)
	if !isMap {
		return nil
	}
	m["lat"] = rec.Location.Lat
	m["lng"] = rec.Location.Lng
	return m
}

func assertStatus(obs Observed, assertion Assertion) error {
	actual := normalize(statusResult(obs.Status))
	if !matchSubset(actual, assertion.Expect) {
		return &AssertionError{
			Type:     AssertStatus,
			Expected: fmt.Sprintf("%v", assertion.Expect),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

func assertRemoteCalls(obs Observed, assertion Assertion) error {
	if got := obs.Calls[assertion.Method]; got != assertion.Count {
		return &AssertionError{
			Type:     AssertRemoteCalls,
			Expected: fmt.Sprintf("%d %s calls", assertion.Count, assertion.Method),
			Actual:   fmt.Sprintf("%d calls", got),
		}
	}
	return nil
}

// assertFinalState loads the document persisted under assertion.Table.
// For a list document, some element matching Where must also match Expect.
// For an object document, Expect is matched against the object itself.
func assertFinalState(ctx context.Context, kv store.KV, assertion Assertion) error {
	var doc any
	found, err := store.LoadJSON(ctx, kv, assertion.Table, &doc)
	if err != nil {
		return fmt.Errorf("load %s: %w", assertion.Table, err)
	}
	if !found {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("document %q", assertion.Table),
			Actual:   "not persisted",
		}
	}

	items, isList := doc.([]any)
	if !isList {
		if !matchSubset(doc, assertion.Expect) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s with %v", assertion.Table, assertion.Expect),
				Actual:   fmt.Sprintf("%v", doc),
			}
		}
		return nil
	}

	var matched []any
	for _, item := range items {
		if matchSubset(item, assertion.Where) {
			matched = append(matched, item)
		}
	}
	if len(matched) == 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("element of %s where %s", assertion.Table, formatWhere(assertion.Where)),
			Actual:   fmt.Sprintf("no match among %d elements", len(items)),
		}
	}
	for _, item := range matched {
		if matchSubset(item, assertion.Expect) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("element of %s where %s with %v", assertion.Table, formatWhere(assertion.Where), assertion.Expect),
		Actual:   fmt.Sprintf("%v", matched[0]),
	}
}

// formatWhere creates a human-readable description of the Where filter.
// Keys are sorted for determinism.
func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(any)"
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, where[k])
	}
	return strings.Join(parts, " AND ")
}

// normalize converts v to the shape encoding/json produces when decoding
// into any: maps, slices, float64, string, bool and nil.
func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// matchSubset reports whether actual contains every field of expected.
// Nested maps use subset semantics; lists must match element for element.
// Extra keys in actual are ignored.
func matchSubset(actual any, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}
	return valuesMatch(normalize(actual), normalize(expected))
}

func valuesMatch(actual, expected any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		act, isMap := actual.(map[string]any)
		if !isMap {
			return false
		}
		for k, v := range exp {
			av, found := act[k]
			if !found || !valuesMatch(av, v) {
				return false
			}
		}
		return true
	case []any:
		act, isList := actual.([]any)
		if !isList || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !valuesMatch(act[i], exp[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(actual, expected)
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	if actx == nil {
		actx = &AssertionContext{Ctx: context.Background()}
	}
	var errs []string

	for _, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertCacheCount:
			err = assertCacheCount(actx.Observed, assertion)
		case AssertCacheContains:
			err = assertCacheContains(actx.Observed, assertion)
		case AssertCacheAbsent:
			err = assertCacheAbsent(actx.Observed, assertion)
		case AssertVenue:
			err = assertVenue(actx.Observed, assertion)
		case AssertStatus:
			err = assertStatus(actx.Observed, assertion)
		case AssertRemoteCalls:
			err = assertRemoteCalls(actx.Observed, assertion)
		case AssertFinalState:
			if actx.KV == nil {
				err = fmt.Errorf("final_state assertion requires a KV store")
			} else {
				err = assertFinalState(actx.Ctx, actx.KV, assertion)
			}
		default:
			err = fmt.Errorf("unknown assertion type: %s", assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
