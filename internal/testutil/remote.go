package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/remote"
)

// Remote method names used by FakeRemote's call counters and failure scripts.
const (
	MethodList   = "list"
	MethodCreate = "create"
	MethodUpdate = "update"
	MethodDelete = "delete"
)

// FakeRemote is an in-memory remote.Store.
//
// It stores events in insertion order, assigns increasing versions on every
// write, counts calls per method and can be scripted to fail. Hooks replace
// the default behavior of List and Create for scenarios that need control
// over timing or server-assigned ids.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeRemote struct {
	mu      sync.Mutex
	events  []event.Event
	version int64
	calls   map[string]int
	queries []remote.Query
	failN   map[string][]error
	always  map[string]error

	listHook   func(context.Context, remote.Query) (remote.Page, error)
	createHook func(event.Event) (event.Event, error)
}

// NewFakeRemote creates a store seeded with events. Seeded events without a
// version are given one.
func NewFakeRemote(events ...event.Event) *FakeRemote {
	f := &FakeRemote{
		calls:  make(map[string]int),
		failN:  make(map[string][]error),
		always: make(map[string]error),
	}
	for _, ev := range events {
		f.put(ev)
	}
	return f
}

// Put adds or replaces ev as if another client had written it.
func (f *FakeRemote) Put(ev event.Event) event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.put(ev)
}

func (f *FakeRemote) put(ev event.Event) event.Event {
	f.version++
	ev = ev.Clone()
	if ev.Version < f.version {
		ev.Version = f.version
	} else {
		f.version = ev.Version
	}
	if i := f.index(ev.ID); i >= 0 {
		f.events[i] = ev
	} else {
		f.events = append(f.events, ev)
	}
	return ev
}

func (f *FakeRemote) index(id string) int {
	return slices.IndexFunc(f.events, func(ev event.Event) bool { return ev.ID == id })
}

// FailNext makes the next len(errs) calls of method return errs in order.
func (f *FakeRemote) FailNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failN[method] = append(f.failN[method], errs...)
}

// FailAlways makes every call of method return err until ClearFailures.
func (f *FakeRemote) FailAlways(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.always[method] = err
}

// ClearFailures removes every scripted failure.
func (f *FakeRemote) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failN = make(map[string][]error)
	f.always = make(map[string]error)
}

// OnList replaces List. The hook runs without the fake's lock held.
func (f *FakeRemote) OnList(hook func(context.Context, remote.Query) (remote.Page, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listHook = hook
}

// OnCreate rewrites the record Create stores, for example to assign a
// server-side id.
func (f *FakeRemote) OnCreate(hook func(event.Event) (event.Event, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createHook = hook
}

// Calls returns how many times method was called, failures included.
func (f *FakeRemote) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Queries returns every query passed to List.
func (f *FakeRemote) Queries() []remote.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.queries)
}

// Events returns a copy of the stored events.
func (f *FakeRemote) Events() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.events)
}

// Get returns the stored event with id.
func (f *FakeRemote) Get(id string) (event.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := f.index(id); i >= 0 {
		return f.events[i], true
	}
	return event.Event{}, false
}

// begin counts a call and returns its scripted failure, if any.
func (f *FakeRemote) begin(method string) error {
	f.calls[method]++
	if q := f.failN[method]; len(q) > 0 {
		f.failN[method] = q[1:]
		return q[0]
	}
	return f.always[method]
}

// List returns stored events inside the query circle and window, capped at
// q.Limit. Total counts every match.
func (f *FakeRemote) List(ctx context.Context, q remote.Query) (remote.Page, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	err := f.begin(MethodList)
	hook := f.listHook
	var matches []event.Event
	if err == nil && hook == nil {
		for _, ev := range f.events {
			if q.RadiusKm > 0 && event.DistanceKm(q.Center, ev.Location) > q.RadiusKm {
				continue
			}
			if !q.Window.From.IsZero() && !q.Window.Contains(ev.StartsAt) {
				continue
			}
			matches = append(matches, ev.Clone())
		}
	}
	f.mu.Unlock()

	if err != nil {
		return remote.Page{}, err
	}
	if hook != nil {
		return hook(ctx, q)
	}
	page := remote.Page{Events: matches, Total: len(matches)}
	if q.Limit > 0 && len(matches) > q.Limit {
		page.Events = matches[:q.Limit]
	}
	if page.Events == nil {
		page.Events = []event.Event{}
	}
	return page, nil
}

// Create stores ev and returns the canonical record.
func (f *FakeRemote) Create(ctx context.Context, ev event.Event) (event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(MethodCreate); err != nil {
		return event.Event{}, err
	}
	if f.createHook != nil {
		var err error
		if ev, err = f.createHook(ev); err != nil {
			return event.Event{}, err
		}
	}
	if f.index(ev.ID) >= 0 {
		return event.Event{}, remote.NewStatusError(409, "event already exists")
	}
	ev.Version = 0
	return f.put(ev), nil
}

// Update replaces an existing event and returns the canonical record.
func (f *FakeRemote) Update(ctx context.Context, ev event.Event) (event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(MethodUpdate); err != nil {
		return event.Event{}, err
	}
	if f.index(ev.ID) < 0 {
		return event.Event{}, remote.NewStatusError(404, "event not found")
	}
	ev.Version = 0
	return f.put(ev), nil
}

// Delete removes an event.
func (f *FakeRemote) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(MethodDelete); err != nil {
		return err
	}
	i := f.index(id)
	if i < 0 {
		return remote.NewStatusError(404, "event not found")
	}
	f.events = slices.Delete(f.events, i, i+1)
	f.version++
	return nil
}

var _ remote.Store = (*FakeRemote)(nil)
