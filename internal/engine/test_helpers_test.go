package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventsync/internal/access"
	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/remote"
	"github.com/roach88/eventsync/internal/store"
	"github.com/roach88/eventsync/internal/testutil"
)

const waitFor = 2 * time.Second

var (
	cityHall = event.Coordinate{Lat: 59.4372, Lng: 24.7453}
	kumu     = event.Coordinate{Lat: 59.4370, Lng: 24.7962}
)

type testEngine struct {
	*Engine
	remote *testutil.FakeRemote
	kv     *store.Memory
	clock  *testutil.FakeClock
}

// newTestEngine builds and initializes an engine over a fake remote and an
// in-memory KV, with millisecond backoff and no chunk pauses.
func newTestEngine(t *testing.T, opts ...Option) *testEngine {
	t.Helper()
	return newTestEngineWith(t, testutil.NewFakeRemote(), store.NewMemory(), testutil.NewFakeClock(time.Time{}), opts...)
}

func newTestEngineWith(t *testing.T, rs *testutil.FakeRemote, kv *store.Memory, clock *testutil.FakeClock, opts ...Option) *testEngine {
	t.Helper()
	base := []Option{
		WithNow(clock.Now),
		WithRegistry(prometheus.NewRegistry()),
		WithBackoff(time.Millisecond, 5*time.Millisecond),
		WithChunking(DefaultChunkSize, 0),
	}
	e := New(rs, kv, append(base, opts...)...)
	require.NoError(t, e.Init(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = e.Teardown(ctx)
	})
	return &testEngine{Engine: e, remote: rs, kv: kv, clock: clock}
}

func registered(id string) access.Actor {
	return access.Actor{ID: id, Authenticated: true}
}

func premium(id string) access.Actor {
	return access.Actor{
		ID:            id,
		Authenticated: true,
		Subscription:  &access.Subscription{Status: access.SubscriptionPremium},
	}
}

func draft(name string, loc event.Coordinate) event.Event {
	return event.Event{
		Name:     name,
		Venue:    "Tallinn City Hall",
		Location: loc,
		StartsAt: testutil.Epoch.Add(48 * time.Hour),
	}
}

// remoteEvent builds an event as the server would hold it.
func remoteEvent(id, creator string, loc event.Coordinate) event.Event {
	ev := event.Event{
		ID:       id,
		Name:     fmt.Sprintf("Event %s", id),
		Category: "music",
		Location: loc,
		StartsAt: testutil.Epoch.Add(24 * time.Hour),
		Source:   event.SourceApp,
	}
	if creator != "" {
		ev.CreatorID = event.StringPtr(creator)
	}
	return ev
}

func wait(t *testing.T, r *Receipt) (event.Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	ev, err := r.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "receipt did not resolve")
	return ev, err
}

func cachedByID(e *Engine, id string) (event.Event, bool) {
	for _, ev := range e.GetCachedEventsImmediate() {
		if ev.ID == id {
			return ev, true
		}
	}
	return event.Event{}, false
}

func tallinnQuery() remote.Query {
	return remote.Query{Center: cityHall, RadiusKm: 10}
}

// next returns the next notification on sub or fails the test.
func next(t *testing.T, sub *Subscription) Notification {
	t.Helper()
	select {
	case n, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return n
	case <-time.After(waitFor):
		t.Fatal("no notification received")
		return Notification{}
	}
}
