package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventsync/internal/engine"
	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/store"
	"github.com/roach88/eventsync/internal/venue"
)

func sampleTrace() []TraceEvent {
	r := NewResult()
	r.AddRequestTrace(ActionFetch, map[string]any{"radius_km": 10}, 1)
	r.AddOutcomeTrace(ActionFetch, CaseOK, map[string]any{"events": 2}, 2)
	r.AddRequestTrace(ActionCreate, map[string]any{"name": "Jazz night"}, 3)
	r.AddOutcomeTrace(ActionCreate, CaseDenied, map[string]any{"reason": "CAPABILITY"}, 4)
	r.AddRequestTrace(ActionCreate, map[string]any{"name": "Jazz night"}, 5)
	r.AddOutcomeTrace(ActionCreate, CaseConfirmed, map[string]any{"event_id": "ev-1"}, 6)
	r.AddRequestTrace(ActionStatus, nil, 7)
	r.AddOutcomeTrace(ActionStatus, CaseOK, map[string]any{"errors": 0}, 8)
	return r.Trace
}

func TestMatchSubset(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		expected map[string]any
		want     bool
	}{
		{"empty expectation", map[string]any{"a": 1}, nil, true},
		{"nil actual empty expectation", nil, map[string]any{}, true},
		{"int matches float", map[string]any{"count": 3.0}, map[string]any{"count": 3}, true},
		{"extra keys ignored", map[string]any{"a": 1, "b": 2}, map[string]any{"a": 1}, true},
		{"missing key", map[string]any{"a": 1}, map[string]any{"b": 1}, false},
		{"different value", map[string]any{"a": "x"}, map[string]any{"a": "y"}, false},
		{"nested subset", map[string]any{"loc": map[string]any{"lat": 1.5, "lng": 2.5}}, map[string]any{"loc": map[string]any{"lat": 1.5}}, true},
		{"list exact", map[string]any{"ids": []string{"a", "b"}}, map[string]any{"ids": []any{"a", "b"}}, true},
		{"list length differs", map[string]any{"ids": []string{"a"}}, map[string]any{"ids": []any{"a", "b"}}, false},
		{"actual not a map", []any{1}, map[string]any{"a": 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSubset(tt.actual, tt.expected))
		})
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Type: AssertTraceContains, Action: ActionFetch}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Type: AssertTraceContains, Action: ActionCreate, Case: CaseConfirmed}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Type: AssertTraceContains, Action: ActionFetch, Args: map[string]any{"radius_km": 10}}))

	err := assertTraceContains(trace, Assertion{Type: AssertTraceContains, Action: ActionCreate, Case: CaseParked})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Contains(t, ae.Expected, "case parked")
	assert.Contains(t, err.Error(), "Full trace:")
	assert.Contains(t, err.Error(), "[6] create -> confirmed")

	assert.Error(t, assertTraceContains(trace, Assertion{Type: AssertTraceContains, Action: ActionFetch, Args: map[string]any{"radius_km": 20}}))
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{ActionFetch, ActionCreate, ActionStatus}}))

	err := assertTraceOrder(trace, Assertion{Actions: []string{ActionStatus, ActionFetch}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(trace, Assertion{Actions: []string{ActionFetch, ActionPush}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing action: push")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Action: ActionCreate, Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: ActionLoad, Count: 0}))

	err := assertTraceCount(trace, Assertion{Action: ActionCreate, Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestAssertCache(t *testing.T) {
	obs := Observed{Events: []event.Event{
		{ID: "a1", Name: "Jazz night", Category: "music", Location: event.Coordinate{Lat: 59.4372, Lng: 24.7453}, Version: 2},
		{ID: "a2", Name: "Book club"},
	}}

	assert.NoError(t, assertCacheCount(obs, Assertion{Count: 2}))
	assert.Error(t, assertCacheCount(obs, Assertion{Count: 1}))

	assert.NoError(t, assertCacheContains(obs, Assertion{ID: "a1", Expect: map[string]any{
		"name":     "Jazz night",
		"version":  2,
		"location": map[string]any{"lat": 59.4372},
	}}))
	err := assertCacheContains(obs, Assertion{ID: "a1", Expect: map[string]any{"category": "sports"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event a1 with")

	err = assertCacheContains(obs, Assertion{ID: "zz"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cached ids: [a1 a2]")

	assert.NoError(t, assertCacheAbsent(obs, Assertion{ID: "zz"}))
	assert.Error(t, assertCacheAbsent(obs, Assertion{ID: "a2"}))
}

func TestAssertVenue(t *testing.T) {
	obs := Observed{Venues: []venue.Record{{
		Key:        venue.Key("Kultuurikatel"),
		Name:       "Kultuurikatel",
		Location:   event.Coordinate{Lat: 59.4445, Lng: 24.7532},
		UsageCount: 3,
	}}}

	assert.NoError(t, assertVenue(obs, Assertion{Name: "KULTUURIKATEL ", Expect: map[string]any{"lat": 59.4445, "usage_count": 3}}))

	err := assertVenue(obs, Assertion{Name: "Kultuurikatel", Expect: map[string]any{"usage_count": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `venue "Kultuurikatel" with`)

	err = assertVenue(obs, Assertion{Name: "Telliskivi", Expect: map[string]any{"usage_count": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestAssertStatusAndCalls(t *testing.T) {
	obs := Observed{
		Status: engine.SyncStatus{Online: true, PendingCount: 2, StalePushes: 1},
		Calls:  map[string]int{"create": 2},
	}

	assert.NoError(t, assertStatus(obs, Assertion{Expect: map[string]any{"online": true, "pending_count": 2, "errors": 0}}))
	assert.Error(t, assertStatus(obs, Assertion{Expect: map[string]any{"read_only": true}}))

	assert.NoError(t, assertRemoteCalls(obs, Assertion{Method: "create", Count: 2}))
	assert.NoError(t, assertRemoteCalls(obs, Assertion{Method: "delete", Count: 0}))
	assert.Error(t, assertRemoteCalls(obs, Assertion{Method: "create", Count: 1}))
}

func TestAssertFinalState(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	require.NoError(t, store.SaveJSON(ctx, kv, "events", []event.Event{
		{ID: "a1", Name: "Jazz night", Version: 4},
		{ID: "a2", Name: "Book club", Version: 1},
	}))
	require.NoError(t, store.SaveJSON(ctx, kv, "quota", map[string]any{"last_date": "2025-03-04", "count": 2}))

	t.Run("list element matched by where", func(t *testing.T) {
		err := assertFinalState(ctx, kv, Assertion{
			Table:  "events",
			Where:  map[string]any{"id": "a1"},
			Expect: map[string]any{"version": 4},
		})
		assert.NoError(t, err)
	})

	t.Run("list element with wrong value", func(t *testing.T) {
		err := assertFinalState(ctx, kv, Assertion{
			Table:  "events",
			Where:  map[string]any{"id": "a2"},
			Expect: map[string]any{"name": "Jazz night"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "where id=a2")
	})

	t.Run("no element matches where", func(t *testing.T) {
		err := assertFinalState(ctx, kv, Assertion{
			Table:  "events",
			Where:  map[string]any{"id": "zz"},
			Expect: map[string]any{"version": 1},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no match among 2 elements")
	})

	t.Run("object document", func(t *testing.T) {
		assert.NoError(t, assertFinalState(ctx, kv, Assertion{Table: "quota", Expect: map[string]any{"count": 2}}))
		assert.Error(t, assertFinalState(ctx, kv, Assertion{Table: "quota", Expect: map[string]any{"count": 3}}))
	})

	t.Run("missing document", func(t *testing.T) {
		err := assertFinalState(ctx, kv, Assertion{Table: "venues", Expect: map[string]any{"x": 1}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not persisted")
	})
}

func TestFormatWhere(t *testing.T) {
	assert.Equal(t, "(any)", formatWhere(nil))
	assert.Equal(t, "a=1 AND b=x", formatWhere(map[string]any{"b": "x", "a": 1}))
}

func TestEvaluateAssertions(t *testing.T) {
	result := &Result{Pass: true, Trace: sampleTrace()}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Action: ActionFetch},
		{Type: AssertTraceCount, Action: ActionStatus, Count: 1},
		{Type: AssertCacheCount, Count: 1},
	}, nil)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Assertion failed: "+AssertCacheCount)
	assert.Contains(t, errs[0], "0 cached events")
}
