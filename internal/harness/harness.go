package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/eventsync/internal/access"
	"github.com/roach88/eventsync/internal/engine"
	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/loader"
	"github.com/roach88/eventsync/internal/store"
	"github.com/roach88/eventsync/internal/testutil"
	"github.com/roach88/eventsync/internal/venue"
)

// StepTimeout bounds every wait inside a step: receipts, settling and the
// background expansion.
const StepTimeout = 5 * time.Second

// Harness is the scenario execution engine.
// It runs one scenario against a fresh engine with deterministic ids,
// a fake wall clock and an in-memory remote store.
type Harness struct {
	engine   *engine.Engine
	loader   *loader.Loader
	remote   *testutil.FakeRemote
	kv       *store.Memory
	clock    *testutil.FakeClock
	seq      *engine.Clock
	actor    access.Actor
	receipts map[string]*engine.Receipt
	logger   *slog.Logger
	stopped  bool
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store and remote.
//
// Execution flow:
// 1. Seed the remote store and start the engine
// 2. Execute setup steps
// 3. Execute flow steps, tracing each request and outcome
// 4. Check expect clauses against the real outcomes
// 5. Tear the engine down and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.stop()

	ctx := context.Background()
	result := NewResult()

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	observed := h.observe()
	if err := h.stop(); err != nil {
		return nil, fmt.Errorf("failed to tear down engine: %w", err)
	}

	actx := &AssertionContext{
		Ctx:      ctx,
		KV:       h.kv,
		Observed: observed,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	clock := testutil.NewFakeClock(time.Time{})

	var seed []event.Event
	seed = append(seed, scenario.Remote.Events...)
	for _, g := range scenario.Remote.Generate {
		seed = append(seed, g.events(clock.Now())...)
	}
	rs := testutil.NewFakeRemote(seed...)
	kv := store.NewMemory()

	actor, err := parseActor(scenario.Actor)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithNow(clock.Now),
		engine.WithRegistry(prometheus.NewRegistry()),
		engine.WithVenueCache(venue.New(venue.WithClock(clock.Now))),
		engine.WithBackoff(time.Millisecond, 5*time.Millisecond),
		engine.WithChunking(engine.DefaultChunkSize, 0),
		engine.WithEventIDs(newSequence("ev")),
		engine.WithMutationIDs(newSequence("m")),
	}
	eo := scenario.Engine
	if eo.MaxAttempts > 0 {
		opts = append(opts, engine.WithMaxAttempts(eo.MaxAttempts))
	}
	if eo.InitialLimit > 0 {
		opts = append(opts, engine.WithInitialLimit(eo.InitialLimit))
	}
	if eo.EnrichmentCap > 0 {
		opts = append(opts, engine.WithEnrichmentCap(eo.EnrichmentCap))
	}
	eng := engine.New(rs, kv, opts...)
	if err := eng.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	initial, expansion := loader.DefaultInitialLimit, loader.DefaultExpansionLimit
	if eo.InitialLimit > 0 {
		initial = eo.InitialLimit
	}
	if eo.ExpansionLimit > 0 {
		expansion = eo.ExpansionLimit
	}
	ld := loader.New(eng, eng.Policy(),
		loader.WithNow(clock.Now),
		loader.WithLimits(initial, expansion),
		loader.WithSettleDelay(time.Millisecond),
	)

	return &Harness{
		engine:   eng,
		loader:   ld,
		remote:   rs,
		kv:       kv,
		clock:    clock,
		seq:      engine.NewClock(),
		actor:    actor,
		receipts: make(map[string]*engine.Receipt),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}, nil
}

// stop tears the engine down once, persisting its state to the KV.
func (h *Harness) stop() error {
	if h.stopped {
		return nil
	}
	h.stopped = true
	ctx, cancel := context.WithTimeout(context.Background(), StepTimeout)
	defer cancel()
	return h.engine.Teardown(ctx)
}

// executeSetup runs all setup steps. A setup step that does not succeed
// aborts the scenario.
func (h *Harness) executeSetup(ctx context.Context, setup []FlowStep) error {
	for i, step := range setup {
		out, err := h.execute(ctx, step)
		if err != nil {
			return fmt.Errorf("setup step %d (%s): %w", i, step.Action, err)
		}
		if !succeeded(out.Case) {
			return fmt.Errorf("setup step %d (%s): outcome %q", i, step.Action, out.Case)
		}
		h.logger.Info("setup step completed", "step", i, "action", step.Action, "case", out.Case)
	}
	return nil
}

// executeFlow runs all flow steps and validates expect clauses.
//
// Each step:
// 1. Records the request with a fresh sequence number
// 2. Executes the action against the engine or its environment
// 3. Records the outcome case and result
// 4. Compares the outcome with the expect clause
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		result.AddRequestTrace(step.Action, step.Args, h.seq.Next())

		out, err := h.execute(ctx, step)
		if err != nil {
			return fmt.Errorf("flow step %d (%s): %w", i, step.Action, err)
		}
		result.AddOutcomeTrace(step.Action, out.Case, out.Result, h.seq.Next())

		switch {
		case step.Expect == nil:
			if out.Case == CaseError {
				result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", i, step.Action, out.Err))
			}
		case out.Case != step.Expect.Case:
			msg := fmt.Sprintf("flow[%d] %s: expected case %q, got %q", i, step.Action, step.Expect.Case, out.Case)
			if out.Err != nil {
				msg += fmt.Sprintf(" (%v)", out.Err)
			}
			result.AddError(msg)
		case !matchSubset(out.Result, step.Expect.Result):
			result.AddError(fmt.Sprintf("flow[%d] %s: expected result %v, got %v", i, step.Action, step.Expect.Result, out.Result))
		}

		h.logger.Info("flow step completed",
			"step", i,
			"action", step.Action,
			"case", out.Case,
		)
	}
	return nil
}

// observe captures the live engine state for assertions.
func (h *Harness) observe() Observed {
	calls := make(map[string]int)
	for _, m := range []string{testutil.MethodList, testutil.MethodCreate, testutil.MethodUpdate, testutil.MethodDelete} {
		calls[m] = h.remote.Calls(m)
	}
	return Observed{
		Events: h.engine.GetCachedEventsImmediate(),
		Venues: h.engine.Venues().Snapshot(),
		Status: h.engine.Status(),
		Calls:  calls,
	}
}

func (h *Harness) actorFor(step FlowStep) access.Actor {
	if step.As == "" {
		return h.actor
	}
	a, _ := parseActor(step.As) // validated on load
	return a
}

func succeeded(c string) bool {
	switch c {
	case CaseOK, CaseConfirmed, CasePending, CaseApplied:
		return true
	}
	return false
}

// parseActor reads "anonymous", "registered:<id>", "premium:<id>" or
// "lapsed:<id>". A lapsed actor holds a premium subscription that has ended.
func parseActor(s string) (access.Actor, error) {
	kind, id, _ := strings.Cut(s, ":")
	switch kind {
	case "", "anonymous":
		return access.Anonymous, nil
	case "registered", "premium", "lapsed":
	default:
		return access.Actor{}, fmt.Errorf("unknown actor kind %q", kind)
	}
	if id == "" {
		return access.Actor{}, fmt.Errorf("actor %q needs an id", s)
	}

	actor := access.Actor{ID: id, Authenticated: true}
	switch kind {
	case "premium":
		actor.Subscription = &access.Subscription{Status: access.SubscriptionPremium}
	case "lapsed":
		ended := testutil.Epoch.Add(-24 * time.Hour)
		actor.Subscription = &access.Subscription{Status: access.SubscriptionPremium, EndsAt: &ended}
	}
	return actor, nil
}
