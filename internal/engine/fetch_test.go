package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/remote"
	"github.com/roach88/eventsync/internal/store"
	"github.com/roach88/eventsync/internal/testutil"
)

func seededEngine(t *testing.T, events []event.Event, opts ...Option) *testEngine {
	t.Helper()
	return newTestEngineWith(t, testutil.NewFakeRemote(events...), store.NewMemory(), testutil.NewFakeClock(time.Time{}), opts...)
}

func TestFetchEvents_ReplacesCache(t *testing.T) {
	te := seededEngine(t, []event.Event{
		remoteEvent("a", "", cityHall),
		remoteEvent("b", "", kumu),
	})
	ctx := context.Background()

	res, err := te.FetchEvents(ctx, tallinnQuery())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.False(t, res.Superseded)
	assert.Equal(t, []string{"a", "b"}, event.IDs(te.GetCachedEventsImmediate()))

	// Narrow query: b is outside one kilometre.
	_, err = te.FetchEvents(ctx, remote.Query{Center: cityHall, RadiusKm: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, event.IDs(te.GetCachedEventsImmediate()))

	st := te.Status()
	assert.True(t, st.Online)
	assert.Equal(t, testutil.Epoch, st.LastSyncAt)
}

func TestFetchEvents_WithMergeKeepsEarlierResults(t *testing.T) {
	te := seededEngine(t, []event.Event{
		remoteEvent("a", "", cityHall),
		remoteEvent("b", "", kumu),
	})
	ctx := context.Background()

	_, err := te.FetchEvents(ctx, tallinnQuery())
	require.NoError(t, err)

	te.remote.Put(remoteEvent("c", "", cityHall))
	_, err = te.FetchEvents(ctx, remote.Query{Center: cityHall, RadiusKm: 1}, WithMerge())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, event.IDs(te.GetCachedEventsImmediate()))
}

func TestFetchEvents_KeepsPendingOptimisticRecords(t *testing.T) {
	te := seededEngine(t, []event.Event{remoteEvent("mine", "user-1", cityHall)},
		WithBackoff(time.Hour, time.Hour))
	ctx := context.Background()
	_, err := te.FetchEvents(ctx, tallinnQuery())
	require.NoError(t, err)

	te.remote.FailAlways(testutil.MethodCreate, remote.NewStatusError(503, ""))
	te.remote.FailAlways(testutil.MethodUpdate, remote.NewStatusError(503, ""))

	created, err := te.CreateEvent(ctx, premium("user-1"), draft("Jazz night", cityHall))
	require.NoError(t, err)
	ev, _ := cachedByID(te.Engine, "mine")
	ev.Name = "Renamed locally"
	_, err = te.UpdateEvent(ctx, registered("user-1"), ev)
	require.NoError(t, err)

	_, err = te.FetchEvents(ctx, tallinnQuery())
	require.NoError(t, err)

	_, ok := cachedByID(te.Engine, created.EventID)
	assert.True(t, ok, "unconfirmed create survives the refresh")
	mine, _ := cachedByID(te.Engine, "mine")
	assert.Equal(t, "Renamed locally", mine.Name, "pending edit is not overwritten")
}

func TestFetchEvents_PendingDeleteStaysDeleted(t *testing.T) {
	te := seededEngine(t, []event.Event{remoteEvent("mine", "user-1", cityHall)})
	ctx := context.Background()
	_, err := te.FetchEvents(ctx, tallinnQuery())
	require.NoError(t, err)

	te.SetOnline(false)
	_, err = te.DeleteEvent(ctx, registered("user-1"), "mine")
	require.NoError(t, err)

	te.remote.FailAlways(testutil.MethodDelete, remote.NewStatusError(503, ""))
	_, err = te.FetchEvents(ctx, tallinnQuery())
	require.NoError(t, err)

	_, ok := cachedByID(te.Engine, "mine")
	assert.False(t, ok)
}

func TestFetchEvents_SupersededResponseDiscarded(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	te.remote.OnList(func(ctx context.Context, q remote.Query) (remote.Page, error) {
		if q.RadiusKm == 5 {
			close(started)
			<-release
			return remote.Page{Events: []event.Event{remoteEvent("old", "", cityHall)}, Total: 1}, nil
		}
		return remote.Page{Events: []event.Event{remoteEvent("new", "", cityHall)}, Total: 1}, nil
	})

	slow := make(chan FetchResult, 1)
	go func() {
		res, err := te.FetchEvents(ctx, remote.Query{Center: cityHall, RadiusKm: 5})
		assert.NoError(t, err)
		slow <- res
	}()

	<-started
	fast, err := te.FetchEvents(ctx, remote.Query{Center: cityHall, RadiusKm: 20})
	require.NoError(t, err)
	close(release)
	older := <-slow

	assert.False(t, fast.Superseded)
	assert.True(t, older.Superseded)
	assert.Nil(t, older.Events)
	assert.Less(t, older.Generation, fast.Generation)
	assert.Equal(t, []string{"new"}, event.IDs(te.GetCachedEventsImmediate()))
	assert.Equal(t, 1.0, promtest.ToFloat64(te.metrics.superseded))
}

func TestFetchEvents_DegradedAboveEnrichmentCap(t *testing.T) {
	tests := []struct {
		name         string
		cap          int
		wantDegraded bool
		wantCategory string
	}{
		{name: "within cap", cap: 10, wantDegraded: false, wantCategory: "music"},
		{name: "above cap", cap: 2, wantDegraded: true, wantCategory: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []event.Event
			for i := 0; i < 3; i++ {
				ev := remoteEvent(fmt.Sprintf("e%d", i), "", cityHall)
				ev.Name = "Jazz concert"
				ev.Category = ""
				events = append(events, ev)
			}
			te := seededEngine(t, events, WithEnrichmentCap(tt.cap), WithChunking(2, 0))

			res, err := te.FetchEvents(context.Background(), tallinnQuery())
			require.NoError(t, err)

			assert.Equal(t, tt.wantDegraded, res.Degraded)
			require.Len(t, res.Events, 3, "degraded batches are still applied")
			for _, ev := range te.GetCachedEventsImmediate() {
				assert.Equal(t, tt.wantCategory, ev.Category)
			}
		})
	}
}

func TestFetchEvents_NormalizesRecords(t *testing.T) {
	bad := remoteEvent("bad", "", event.Coordinate{Lat: 123, Lng: 500})
	bad.Name = "  Jazz concert  "
	te := newTestEngine(t)
	te.remote.OnList(func(context.Context, remote.Query) (remote.Page, error) {
		return remote.Page{Events: []event.Event{bad, {ID: ""}}, Total: 2}, nil
	})

	res, err := te.FetchEvents(context.Background(), tallinnQuery())
	require.NoError(t, err)

	require.Len(t, res.Events, 1, "records without an id are dropped")
	assert.Equal(t, "Jazz concert", res.Events[0].Name)
	assert.Equal(t, event.Sentinel, res.Events[0].Location)
	assert.Equal(t, 2, res.Total)
}

func TestFetchEvents_NetworkFailureGoesOffline(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.remote.FailNext(testutil.MethodList, remote.NewNetworkError("dial", errors.New("connection refused")))

	_, err := te.FetchEvents(ctx, tallinnQuery())
	require.Error(t, err)
	assert.False(t, te.Status().Online)

	_, err = te.FetchEvents(ctx, tallinnQuery())
	require.NoError(t, err)
	assert.True(t, te.Status().Online)
}

func TestFetchEventsProgressive_AppliesInitialLimit(t *testing.T) {
	var events []event.Event
	for i := 0; i < 5; i++ {
		events = append(events, remoteEvent(fmt.Sprintf("e%d", i), "", cityHall))
	}
	te := seededEngine(t, events, WithInitialLimit(2))

	res, err := te.FetchEventsProgressive(context.Background(), tallinnQuery())
	require.NoError(t, err)

	assert.Len(t, res.Initial, 2)
	assert.Equal(t, 5, res.Total)
	require.Len(t, te.remote.Queries(), 1)
	assert.Equal(t, 2, te.remote.Queries()[0].Limit)
}

func TestForceUpdateCheck(t *testing.T) {
	te := seededEngine(t, []event.Event{
		remoteEvent("a", "", cityHall),
		remoteEvent("b", "", kumu),
	})
	ctx := context.Background()
	sub := te.Subscribe(KindUpdateCheckCompleted, KindUpdateCheckError)
	defer sub.Close()

	err := te.ForceUpdateCheck(ctx)
	assert.True(t, hasCode(err, ErrCodeNoQuery))
	n := next(t, sub)
	assert.Equal(t, KindUpdateCheckError, n.Kind)

	_, err = te.FetchEvents(ctx, tallinnQuery())
	require.NoError(t, err)

	require.NoError(t, te.ForceUpdateCheck(ctx))
	n = next(t, sub)
	assert.Equal(t, KindUpdateCheckCompleted, n.Kind)
	assert.Equal(t, 2, n.Count)
	assert.Len(t, te.remote.Queries(), 2)
}
