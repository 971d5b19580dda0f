package harness

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/roach88/eventsync/internal/access"
	"github.com/roach88/eventsync/internal/engine"
	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/loader"
	"github.com/roach88/eventsync/internal/remote"
)

// outcome is the result of one step. Err carries the engine error behind a
// non-success case; it is reported but not traced.
type outcome struct {
	Case   string
	Result map[string]any
	Err    error
}

func ok(result map[string]any) outcome {
	return outcome{Case: CaseOK, Result: result}
}

// execute runs one step. A returned error means the step itself is
// malformed; engine failures are reported through the outcome case.
func (h *Harness) execute(ctx context.Context, step FlowStep) (outcome, error) {
	args := stepArgs(step.Args)

	switch step.Action {
	case ActionFetch:
		return h.fetch(ctx, args)
	case ActionLoad:
		return h.load(ctx, h.actorFor(step), args)
	case ActionCreate:
		return h.create(ctx, h.actorFor(step), args, step.Async)
	case ActionUpdate:
		return h.update(ctx, h.actorFor(step), args, step.Async)
	case ActionDelete:
		return h.deleteEvent(ctx, h.actorFor(step), args, step.Async)
	case ActionAwait:
		id, err := args.requireString("id")
		if err != nil {
			return outcome{}, err
		}
		r, found := h.receipts[id]
		if !found {
			return outcome{}, fmt.Errorf("no async write for event %q", id)
		}
		delete(h.receipts, id)
		return h.wait(ctx, r), nil
	case ActionPush:
		return h.push(args)
	case ActionFail:
		return h.fail(args)
	case ActionRecover:
		h.remote.ClearFailures()
		return ok(nil), nil
	case ActionRetryFailed:
		h.engine.RetryFailed()
		return ok(nil), nil
	case ActionClearErrors:
		h.engine.ClearSyncErrors()
		return ok(nil), nil
	case ActionSetOnline:
		online, err := args.boolean("online", true)
		if err != nil {
			return outcome{}, err
		}
		h.engine.SetOnline(online)
		return ok(nil), nil
	case ActionUpdateCheck:
		if err := h.engine.ForceUpdateCheck(ctx); err != nil {
			return outcome{Case: CaseError, Err: err}, nil
		}
		return ok(nil), nil
	case ActionSettle:
		return h.settle(ctx)
	case ActionAdvance:
		d, err := args.duration("duration", 0)
		if err != nil {
			return outcome{}, err
		}
		h.clock.Advance(d)
		return ok(nil), nil
	case ActionSleep:
		d, err := args.duration("duration", 10*time.Millisecond)
		if err != nil {
			return outcome{}, err
		}
		time.Sleep(d)
		return ok(nil), nil
	case ActionStatus:
		return ok(statusResult(h.engine.Status())), nil
	case ActionCalls:
		method, err := args.requireString("method")
		if err != nil {
			return outcome{}, err
		}
		return ok(map[string]any{"count": h.remote.Calls(method)}), nil
	}
	return outcome{}, fmt.Errorf("unknown action %q", step.Action)
}

func (h *Harness) fetch(ctx context.Context, args stepArgs) (outcome, error) {
	q, err := h.query(args)
	if err != nil {
		return outcome{}, err
	}
	merge, err := args.boolean("merge", false)
	if err != nil {
		return outcome{}, err
	}
	var opts []engine.FetchOption
	if merge {
		opts = append(opts, engine.WithMerge())
	}

	res, err := h.engine.FetchEvents(ctx, q, opts...)
	if err != nil {
		return outcome{Case: CaseError, Result: map[string]any{"kind": string(remote.KindOf(err))}, Err: err}, nil
	}
	result := map[string]any{"events": len(res.Events), "total": res.Total}
	if res.Degraded {
		result["degraded"] = true
	}
	if res.Superseded {
		result["superseded"] = true
	}
	return ok(result), nil
}

func (h *Harness) load(ctx context.Context, actor access.Actor, args stepArgs) (outcome, error) {
	q, err := h.query(args)
	if err != nil {
		return outcome{}, err
	}
	res, err := h.loader.Load(ctx, loader.Request{
		Actor:    actor,
		Center:   q.Center,
		RadiusKm: q.RadiusKm,
		Window:   q.Window,
	})
	if err != nil {
		return outcome{Case: CaseError, Err: err}, nil
	}

	result := map[string]any{
		"events":        len(res.Events),
		"total":         res.Total,
		"radius_km":     res.Radius.RadiusKm,
		"radius_source": res.Radius.Source,
	}
	if res.Radius.Clamped {
		result["clamped"] = true
	}
	if res.WindowClamped {
		result["window_clamped"] = true
	}
	if res.FromCache {
		return outcome{Case: CaseCached, Result: result, Err: res.Err}, nil
	}
	if res.Expansion == nil {
		return ok(result), nil
	}

	select {
	case exp, open := <-res.Expansion:
		if !open {
			return outcome{}, fmt.Errorf("expansion closed without a result")
		}
		result["expanded"] = true
		result["expanded_km"] = exp.RadiusKm
		if exp.Clamped {
			result["expansion_clamped"] = true
		}
		result["merged"] = len(exp.Events)
		result["duplicates"] = len(exp.Events) - len(uniqueIDs(exp.Events))
		result["total"] = exp.Total
		if exp.FromCache {
			return outcome{Case: CaseCached, Result: result, Err: exp.Err}, nil
		}
		return ok(result), nil
	case <-time.After(StepTimeout):
		return outcome{}, fmt.Errorf("background expansion did not finish within %s", StepTimeout)
	}
}

func (h *Harness) create(ctx context.Context, actor access.Actor, args stepArgs, async bool) (outcome, error) {
	draft, err := args.overlayEvent(event.Event{StartsAt: h.clock.Now().Add(48 * time.Hour)})
	if err != nil {
		return outcome{}, err
	}
	r, err := h.engine.CreateEvent(ctx, actor, draft)
	return h.written(ctx, r, err, async), nil
}

func (h *Harness) update(ctx context.Context, actor access.Actor, args stepArgs, async bool) (outcome, error) {
	id, err := args.requireString("id")
	if err != nil {
		return outcome{}, err
	}
	ev := event.Event{ID: id}
	for _, cached := range h.engine.GetCachedEventsImmediate() {
		if cached.ID == id {
			ev = cached
			break
		}
	}
	ev, err = args.overlayEvent(ev)
	if err != nil {
		return outcome{}, err
	}
	r, err := h.engine.UpdateEvent(ctx, actor, ev)
	return h.written(ctx, r, err, async), nil
}

func (h *Harness) deleteEvent(ctx context.Context, actor access.Actor, args stepArgs, async bool) (outcome, error) {
	id, err := args.requireString("id")
	if err != nil {
		return outcome{}, err
	}
	r, err := h.engine.DeleteEvent(ctx, actor, id)
	return h.written(ctx, r, err, async), nil
}

// written turns the result of a write call into an outcome, waiting for the
// receipt unless the step is async.
func (h *Harness) written(ctx context.Context, r *engine.Receipt, err error, async bool) outcome {
	if err != nil {
		return outcome{Case: caseOf(err), Result: errorResult(err), Err: err}
	}
	if async {
		h.receipts[r.EventID] = r
		return outcome{Case: CasePending, Result: map[string]any{"event_id": r.EventID}}
	}
	return h.wait(ctx, r)
}

func (h *Harness) wait(ctx context.Context, r *engine.Receipt) outcome {
	ctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	ev, err := r.Wait(ctx)
	if err != nil {
		result := errorResult(err)
		result["event_id"] = r.EventID
		return outcome{Case: caseOf(err), Result: result, Err: err}
	}
	return outcome{Case: CaseConfirmed, Result: map[string]any{"event_id": ev.ID}}
}

func (h *Harness) push(args stepArgs) (outcome, error) {
	id, err := args.requireString("id")
	if err != nil {
		return outcome{}, err
	}
	version, err := args.integer("version", 0)
	if err != nil {
		return outcome{}, err
	}
	msg := remote.PushMessage{
		Type:    args.str("type", remote.PushUpsert),
		ID:      id,
		Version: int64(version),
	}
	if msg.Type == remote.PushUpsert {
		ev, err := args.overlayEvent(event.Event{StartsAt: h.clock.Now().Add(24 * time.Hour)})
		if err != nil {
			return outcome{}, err
		}
		msg.Event = &ev
	}

	if h.engine.ApplyPush(msg) {
		return outcome{Case: CaseApplied}, nil
	}
	return outcome{Case: CaseDropped}, nil
}

// fail scripts remote failures. Without times the failure is permanent
// until a recover step.
func (h *Harness) fail(args stepArgs) (outcome, error) {
	method, err := args.requireString("method")
	if err != nil {
		return outcome{}, err
	}
	times, err := args.integer("times", 0)
	if err != nil {
		return outcome{}, err
	}

	var failure error
	switch kind := args.str("kind", "network"); kind {
	case "network":
		failure = remote.NewNetworkError("scripted failure", errors.New("connection reset by peer"))
	case "status":
		status, err := args.integer("status", 503)
		if err != nil {
			return outcome{}, err
		}
		failure = remote.NewStatusError(status, "scripted failure")
	default:
		return outcome{}, fmt.Errorf("unknown failure kind %q", kind)
	}

	if times <= 0 {
		h.remote.FailAlways(method, failure)
		return ok(nil), nil
	}
	errs := make([]error, times)
	for i := range errs {
		errs[i] = failure
	}
	h.remote.FailNext(method, errs...)
	return ok(nil), nil
}

// settle waits until no mutation is queued or in flight.
func (h *Harness) settle(ctx context.Context) (outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		st := h.engine.Status()
		if st.PendingCount == 0 {
			return ok(nil), nil
		}
		select {
		case <-ctx.Done():
			return outcome{Case: CaseError, Result: map[string]any{"pending_count": st.PendingCount}, Err: ctx.Err()}, nil
		case <-tick.C:
		}
	}
}

// query builds a remote query from lat, lng, radius_km, limit and days.
func (h *Harness) query(args stepArgs) (remote.Query, error) {
	lat, err := args.float("lat", event.Sentinel.Lat)
	if err != nil {
		return remote.Query{}, err
	}
	lng, err := args.float("lng", event.Sentinel.Lng)
	if err != nil {
		return remote.Query{}, err
	}
	radius, err := args.float("radius_km", 0)
	if err != nil {
		return remote.Query{}, err
	}
	limit, err := args.integer("limit", 0)
	if err != nil {
		return remote.Query{}, err
	}
	days, err := args.integer("days", 0)
	if err != nil {
		return remote.Query{}, err
	}

	q := remote.Query{
		Center:   event.Coordinate{Lat: lat, Lng: lng},
		RadiusKm: radius,
		Limit:    limit,
	}
	if days > 0 {
		q.Window = event.WindowFrom(h.clock.Now(), days)
	}
	return q, nil
}

// caseOf maps a write error to its outcome case.
func caseOf(err error) string {
	if err == nil {
		return CaseConfirmed
	}
	if access.IsPermissionError(err) {
		return CaseDenied
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		switch ee.Code {
		case engine.ErrCodeParked:
			return CaseParked
		case engine.ErrCodeDiscarded:
			return CaseDiscarded
		case engine.ErrCodeInvalidEvent, engine.ErrCodeUnknownEvent, engine.ErrCodeDuplicateEvent:
			return CaseInvalid
		}
	}
	var re *remote.Error
	if errors.As(err, &re) {
		return CaseRejected
	}
	return CaseError
}

func errorResult(err error) map[string]any {
	result := map[string]any{}
	var ee *engine.Error
	if errors.As(err, &ee) {
		result["code"] = string(ee.Code)
	}
	var pe *access.PermissionError
	if errors.As(err, &pe) {
		result["reason"] = string(pe.Reason)
	}
	var re *remote.Error
	if errors.As(err, &re) {
		result["kind"] = string(re.Kind)
	}
	return result
}

func statusResult(st engine.SyncStatus) map[string]any {
	return map[string]any{
		"online":        st.Online,
		"read_only":     st.ReadOnly,
		"pending_count": st.PendingCount,
		"errors":        len(st.Errors),
		"stale_pushes":  st.StalePushes,
	}
}

func uniqueIDs(events []event.Event) map[string]bool {
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		seen[ev.ID] = true
	}
	return seen
}

// sequence generates "<prefix>-1", "<prefix>-2", ...
type sequence struct {
	prefix string
	n      atomic.Int64
}

func newSequence(prefix string) *sequence {
	return &sequence{prefix: prefix}
}

// Generate implements engine.IDGenerator.
func (s *sequence) Generate() string {
	return s.prefix + "-" + strconv.FormatInt(s.n.Add(1), 10)
}

// stepArgs reads typed values from YAML-decoded step arguments.
type stepArgs map[string]any

func (a stepArgs) str(key, def string) string {
	if v, found := a[key]; found {
		return fmt.Sprint(v)
	}
	return def
}

func (a stepArgs) requireString(key string) (string, error) {
	v, found := a[key]
	if !found || fmt.Sprint(v) == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return fmt.Sprint(v), nil
}

func (a stepArgs) float(key string, def float64) (float64, error) {
	v, found := a[key]
	if !found {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return 0, fmt.Errorf("%s: expected a number, got %T", key, v)
}

func (a stepArgs) integer(key string, def int) (int, error) {
	v, found := a[key]
	if !found {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("%s: expected an integer, got %v", key, v)
}

func (a stepArgs) boolean(key string, def bool) (bool, error) {
	v, found := a[key]
	if !found {
		return def, nil
	}
	b, isBool := v.(bool)
	if !isBool {
		return false, fmt.Errorf("%s: expected a boolean, got %T", key, v)
	}
	return b, nil
}

func (a stepArgs) duration(key string, def time.Duration) (time.Duration, error) {
	v, found := a[key]
	if !found {
		return def, nil
	}
	d, err := time.ParseDuration(fmt.Sprint(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func (a stepArgs) time(key string) (time.Time, bool, error) {
	v, found := a[key]
	if !found {
		return time.Time{}, false, nil
	}
	if t, isTime := v.(time.Time); isTime {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, fmt.Sprint(v))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s: %w", key, err)
	}
	return t, true, nil
}

// overlayEvent copies the event fields present in the args onto ev.
func (a stepArgs) overlayEvent(ev event.Event) (event.Event, error) {
	for key, dst := range map[string]*string{
		"id":          &ev.ID,
		"name":        &ev.Name,
		"description": &ev.Description,
		"category":    &ev.Category,
		"venue":       &ev.Venue,
		"address":     &ev.Address,
		"source":      &ev.Source,
	} {
		if _, found := a[key]; found {
			*dst = a.str(key, "")
		}
	}
	if _, found := a["creator_id"]; found {
		ev.CreatorID = event.StringPtr(a.str("creator_id", ""))
	}

	lat, err := a.float("lat", ev.Location.Lat)
	if err != nil {
		return ev, err
	}
	lng, err := a.float("lng", ev.Location.Lng)
	if err != nil {
		return ev, err
	}
	ev.Location = event.Coordinate{Lat: lat, Lng: lng}

	t, found, err := a.time("starts_at")
	if err != nil {
		return ev, err
	}
	if found {
		ev.StartsAt = t
	}
	version, err := a.integer("version", int(ev.Version))
	if err != nil {
		return ev, err
	}
	ev.Version = int64(version)
	return ev, nil
}

var _ engine.IDGenerator = (*sequence)(nil)
