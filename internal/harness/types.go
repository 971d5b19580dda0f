package harness

// Trace event types. Every flow step adds a request followed by its outcome.
const (
	TraceRequest = "request"
	TraceOutcome = "outcome"
)

// TraceEvent is one entry of a scenario trace.
type TraceEvent struct {
	Type   string         `json:"type"`
	Action string         `json:"action,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Case   string         `json:"case,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Seq    int64          `json:"seq"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every flow step request and outcome in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddRequestTrace records a step request.
func (r *Result) AddRequestTrace(action string, args map[string]any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   TraceRequest,
		Action: action,
		Args:   args,
		Seq:    seq,
	})
}

// AddOutcomeTrace records the outcome of the preceding request.
func (r *Result) AddOutcomeTrace(action, outcomeCase string, result map[string]any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   TraceOutcome,
		Action: action,
		Case:   outcomeCase,
		Result: result,
		Seq:    seq,
	})
}

// Outcomes returns the outcome entries of the trace.
func (r *Result) Outcomes() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == TraceOutcome {
			out = append(out, ev)
		}
	}
	return out
}
