package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/eventsync/internal/event"
)

// Scenario is a scripted run of the sync engine.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Actor is the default actor for writes and loads, written as
	// "anonymous", "registered:<id>" or "premium:<id>".
	Actor string `yaml:"actor,omitempty"`

	// Engine tunes the engine under test.
	Engine EngineOptions `yaml:"engine,omitempty"`

	// Remote seeds the remote store before the engine starts.
	Remote RemoteSeed `yaml:"remote,omitempty"`

	// Setup steps run before the flow. They are not traced and must succeed.
	Setup []FlowStep `yaml:"setup,omitempty"`

	// Flow steps run in order and are recorded in the trace.
	Flow []FlowStep `yaml:"flow"`

	// Assertions are evaluated after the flow.
	Assertions []Assertion `yaml:"assertions"`
}

// EngineOptions overrides engine and loader defaults. Zero values keep the
// defaults.
type EngineOptions struct {
	MaxAttempts    int `yaml:"max_attempts,omitempty"`
	InitialLimit   int `yaml:"initial_limit,omitempty"`
	ExpansionLimit int `yaml:"expansion_limit,omitempty"`
	EnrichmentCap  int `yaml:"enrichment_cap,omitempty"`
}

// RemoteSeed lists the events the remote store starts with.
type RemoteSeed struct {
	Events   []event.Event `yaml:"events,omitempty"`
	Generate []Generator   `yaml:"generate,omitempty"`
}

// Generator produces Count events named "<prefix>-001", "<prefix>-002", ...
// at one location.
type Generator struct {
	Prefix   string           `yaml:"prefix"`
	Count    int              `yaml:"count"`
	Location event.Coordinate `yaml:"location"`
	Category string           `yaml:"category,omitempty"`
}

// events expands the generator. Start times are spread one hour apart from
// start.
func (g Generator) events(start time.Time) []event.Event {
	out := make([]event.Event, 0, g.Count)
	for i := 1; i <= g.Count; i++ {
		out = append(out, event.Event{
			ID:       fmt.Sprintf("%s-%03d", g.Prefix, i),
			Name:     fmt.Sprintf("%s event %d", g.Prefix, i),
			Category: g.Category,
			Location: g.Location,
			StartsAt: start.Add(time.Duration(i) * time.Hour),
			Source:   event.SourceApp,
		})
	}
	return out
}

// FlowStep is one action against the engine or its environment.
type FlowStep struct {
	// Action names the step; see the Action constants.
	Action string `yaml:"action"`

	// As overrides the scenario actor for this step.
	As string `yaml:"as,omitempty"`

	// Args are the action arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Async makes a write return as soon as it is applied locally. Use an
	// await step to collect the outcome.
	Async bool `yaml:"async,omitempty"`

	// Expect is the expected outcome. Without it any outcome except
	// "error" is accepted.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause describes the expected outcome of a step.
type ExpectClause struct {
	Case string `yaml:"case"`

	// Result fields are matched as a subset of the step result.
	Result map[string]any `yaml:"result,omitempty"`
}

// Flow step actions.
const (
	ActionFetch       = "fetch"
	ActionLoad        = "load"
	ActionCreate      = "create"
	ActionUpdate      = "update"
	ActionDelete      = "delete"
	ActionAwait       = "await"
	ActionPush        = "push"
	ActionFail        = "fail"
	ActionRecover     = "recover"
	ActionRetryFailed = "retry_failed"
	ActionClearErrors = "clear_errors"
	ActionSetOnline   = "set_online"
	ActionUpdateCheck = "update_check"
	ActionSettle      = "settle"
	ActionAdvance     = "advance"
	ActionSleep       = "sleep"
	ActionStatus      = "status"
	ActionCalls       = "calls"
)

var knownActions = map[string]bool{
	ActionFetch: true, ActionLoad: true, ActionCreate: true, ActionUpdate: true,
	ActionDelete: true, ActionAwait: true, ActionPush: true, ActionFail: true,
	ActionRecover: true, ActionRetryFailed: true, ActionClearErrors: true,
	ActionSetOnline: true, ActionUpdateCheck: true, ActionSettle: true,
	ActionAdvance: true, ActionSleep: true, ActionStatus: true, ActionCalls: true,
}

// Step outcome cases.
const (
	CaseOK        = "ok"
	CaseConfirmed = "confirmed"
	CasePending   = "pending"
	CaseParked    = "parked"
	CaseRejected  = "rejected"
	CaseDiscarded = "discarded"
	CaseDenied    = "denied"
	CaseInvalid   = "invalid"
	CaseApplied   = "applied"
	CaseDropped   = "dropped"
	CaseCached    = "cached"
	CaseError     = "error"
)

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type; see the Assert constants.
	Type string `yaml:"type"`

	// Action is the step action (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args are matched as a subset of the step args (trace_contains).
	Args map[string]any `yaml:"args,omitempty"`

	// Case is the expected step outcome (trace_contains).
	Case string `yaml:"case,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number (trace_count, cache_count, remote_calls).
	Count int `yaml:"count,omitempty"`

	// ID is the event id (cache_contains, cache_absent).
	ID string `yaml:"id,omitempty"`

	// Name is the venue name (venue).
	Name string `yaml:"name,omitempty"`

	// Method is the remote method (remote_calls).
	Method string `yaml:"method,omitempty"`

	// Table is the KV key of a persisted document (final_state).
	Table string `yaml:"table,omitempty"`

	// Where selects list elements by exact field values (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values, matched as a subset.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertCacheCount    = "cache_count"
	AssertCacheContains = "cache_contains"
	AssertCacheAbsent   = "cache_absent"
	AssertVenue         = "venue"
	AssertStatus        = "status"
	AssertRemoteCalls   = "remote_calls"
	AssertFinalState    = "final_state"
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

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Actor != "" {
		if _, err := parseActor(s.Actor); err != nil {
			return fmt.Errorf("actor: %w", err)
		}
	}

	for i, ev := range s.Remote.Events {
		if ev.ID == "" {
			return fmt.Errorf("remote.events[%d]: id is required", i)
		}
	}
	for i, g := range s.Remote.Generate {
		if g.Prefix == "" || g.Count <= 0 {
			return fmt.Errorf("remote.generate[%d]: prefix and a positive count are required", i)
		}
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(step FlowStep) error {
	if step.Action == "" {
		return fmt.Errorf("action is required")
	}
	if !knownActions[step.Action] {
		return fmt.Errorf("unknown action %q", step.Action)
	}
	if step.As != "" {
		if _, err := parseActor(step.As); err != nil {
			return fmt.Errorf("as: %w", err)
		}
	}
	if step.Expect != nil && step.Expect.Case == "" {
		return fmt.Errorf("expect: case is required")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertCacheCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for cache_count", index)
		}
	case AssertCacheContains, AssertCacheAbsent:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
		}
	case AssertVenue:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for venue", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for venue", index)
		}
	case AssertStatus:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for status", index)
		}
	case AssertRemoteCalls:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for remote_calls", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
