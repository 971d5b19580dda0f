package venue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventsync/internal/event"
)

var cityHall = event.Coordinate{Lat: 59.43, Lng: 24.75}

type fakeNow struct{ t time.Time }

func (f *fakeNow) Now() time.Time { return f.t }

func newTestCache(t *testing.T) (*Cache, *fakeNow) {
	t.Helper()
	clock := &fakeNow{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	return New(WithClock(clock.Now)), clock
}

func TestKey_CaseInsensitiveTrimmed(t *testing.T) {
	assert.Equal(t, Key("City Hall"), Key("  city   HALL "))
	assert.Equal(t, Key("Põhjala Tehas"), Key("PÕHJALA TEHAS"))
	assert.Equal(t, "", Key("   "))
}

func TestObserve_CountsEverySighting(t *testing.T) {
	c, _ := newTestCache(t)

	for i := 0; i < 7; i++ {
		c.Observe("Kultuurikatel", "", event.Sentinel)
	}

	rec, ok := c.Get("kultuurikatel")
	require.True(t, ok)
	assert.Equal(t, 7, rec.UsageCount)
}

func TestObserve_CityHallEitherOrder(t *testing.T) {
	orders := map[string][]event.Coordinate{
		"sentinel first": {event.Sentinel, cityHall},
		"valid first":    {cityHall, event.Sentinel},
	}

	for name, coords := range orders {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestCache(t)
			for _, loc := range coords {
				c.Observe("City Hall", "Raekoja plats 1", loc)
			}

			rec, ok := c.Get("City Hall")
			require.True(t, ok)
			assert.Equal(t, cityHall, rec.Location)
			assert.Equal(t, 2, rec.UsageCount)
		})
	}
}

func TestObserve_NeverDowngradesOrReplacesValid(t *testing.T) {
	c, _ := newTestCache(t)
	other := event.Coordinate{Lat: 58.38, Lng: 26.72}

	c.Observe("Venue", "", cityHall)
	c.Observe("Venue", "", event.Sentinel)
	c.Observe("Venue", "", event.Coordinate{})
	c.Observe("Venue", "", other)

	loc, ok := c.Resolve("venue")
	require.True(t, ok)
	assert.Equal(t, cityHall, loc)
}

func TestObserve_IgnoresEmptyName(t *testing.T) {
	c, _ := newTestCache(t)
	c.Observe("  ", "", cityHall)
	assert.Equal(t, 0, c.Len())
}

func TestResolve_SentinelIsAbsent(t *testing.T) {
	c, _ := newTestCache(t)

	_, ok := c.Resolve("Nowhere")
	assert.False(t, ok, "unknown venue")

	c.Observe("Placeholder", "", event.Sentinel)
	_, ok = c.Resolve("Placeholder")
	assert.False(t, ok, "venue known only with sentinel")
}

func TestAutoFix(t *testing.T) {
	c, _ := newTestCache(t)
	c.Observe("City Hall", "", cityHall)

	known := event.Coordinate{Lat: 58.0, Lng: 25.0}
	assert.Equal(t, known, c.AutoFix("City Hall", known), "known input returned unchanged")
	assert.Equal(t, cityHall, c.AutoFix("city hall", event.Sentinel))
	assert.Equal(t, event.Sentinel, c.AutoFix("Elsewhere", event.Sentinel))
	assert.Equal(t, event.Coordinate{}, c.AutoFix("Elsewhere", event.Coordinate{}))
}

func TestAutoFix_IdentityForKnownCoordinates(t *testing.T) {
	c, _ := newTestCache(t)
	c.Observe("A", "", cityHall)

	for lat := -89.5; lat <= 89.5; lat += 17.9 {
		for lng := -179.5; lng <= 179.5; lng += 35.9 {
			in := event.Coordinate{Lat: lat, Lng: lng}
			if !in.Known() {
				continue
			}
			assert.Equal(t, in, c.AutoFix("A", in))
		}
	}
}

func TestEvictStale(t *testing.T) {
	c, clock := newTestCache(t)

	c.Observe("Rare Old", "", cityHall)
	c.Observe("Popular Old", "", cityHall)
	c.Observe("Popular Old", "", cityHall)

	clock.t = clock.t.Add(31 * 24 * time.Hour)
	c.Observe("Rare Fresh", "", cityHall)

	// nothing happens implicitly
	assert.Equal(t, 3, c.Len())

	evicted := c.EvictStale()
	assert.Equal(t, []string{Key("Rare Old")}, evicted)
	assert.Equal(t, 2, c.Len())

	_, ok := c.Get("Popular Old")
	assert.True(t, ok)
	_, ok = c.Get("Rare Fresh")
	assert.True(t, ok)
}

func TestSnapshotRestore(t *testing.T) {
	c, _ := newTestCache(t)
	c.Observe("B venue", "addr", cityHall)
	c.Observe("A venue", "", event.Sentinel)

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, Key("A venue"), snap[0].Key)

	restored, _ := newTestCache(t)
	restored.Restore(snap)
	assert.Equal(t, snap, restored.Snapshot())

	loc, ok := restored.Resolve("b venue")
	require.True(t, ok)
	assert.Equal(t, cityHall, loc)
}
