// Package venue remembers where named venues are so that events arriving with
// placeholder coordinates can be repaired without a geocoding round trip.
package venue

import (
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"

	"github.com/roach88/eventsync/internal/event"
)

// Default eviction thresholds.
const (
	DefaultStaleAfter = 30 * 24 * time.Hour
	DefaultMinUsage   = 2
)

// Record is one cached venue.
type Record struct {
	Key        string           `json:"key"`
	Name       string           `json:"name"`
	Address    string           `json:"address,omitempty"`
	Location   event.Coordinate `json:"location"`
	UsageCount int              `json:"usage_count"`
	LastUsedAt time.Time        `json:"last_used_at"`
}

// Cache maps normalized venue names to their best known coordinates.
//
// Invariants:
//   - UsageCount never decreases
//   - a non-sentinel Location is never replaced by the sentinel
//
// Cache is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	records    map[string]*Record
	now        func() time.Time
	staleAfter time.Duration
	minUsage   int
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock injects the wall clock used for LastUsedAt and eviction.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithEviction overrides the stale threshold and minimum usage count.
func WithEviction(staleAfter time.Duration, minUsage int) Option {
	return func(c *Cache) {
		c.staleAfter = staleAfter
		c.minUsage = minUsage
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		records:    make(map[string]*Record),
		now:        time.Now,
		staleAfter: DefaultStaleAfter,
		minUsage:   DefaultMinUsage,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key normalizes a venue name: surrounding whitespace trimmed, inner runs of
// whitespace collapsed, Unicode case folded.
func Key(name string) string {
	collapsed := strings.Join(strings.Fields(name), " ")
	return cases.Fold().String(collapsed)
}

// Observe records one sighting of a venue. The usage count always increases;
// coordinates are upgraded from sentinel to a known value but never
// downgraded. Empty names are ignored.
func (c *Cache) Observe(name, address string, loc event.Coordinate) {
	key := Key(name)
	if key == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[key]
	if !ok {
		rec = &Record{
			Key:      key,
			Name:     strings.TrimSpace(name),
			Location: event.Sentinel,
		}
		c.records[key] = rec
	}

	rec.UsageCount++
	rec.LastUsedAt = c.now()

	if address != "" && rec.Address == "" {
		rec.Address = address
	}
	if loc.Known() && !rec.Location.Known() {
		rec.Location = loc
		if address != "" {
			rec.Address = address
		}
	}
}

// Resolve returns the cached coordinates for name, or false when the venue is
// unknown or only known with the sentinel.
func (c *Cache) Resolve(name string) (event.Coordinate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[Key(name)]
	if !ok || !rec.Location.Known() {
		return event.Coordinate{}, false
	}
	return rec.Location, true
}

// AutoFix returns current unchanged when it is already a known position,
// otherwise the cached position for name if there is one, otherwise current.
func (c *Cache) AutoFix(name string, current event.Coordinate) event.Coordinate {
	if current.Known() {
		return current
	}
	if loc, ok := c.Resolve(name); ok {
		return loc
	}
	return current
}

// Get returns a copy of the record for name.
func (c *Cache) Get(name string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[Key(name)]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of cached venues.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// EvictStale removes venues that are both older than the stale threshold and
// used fewer than the minimum number of times. It returns the evicted keys in
// sorted order. Eviction only happens when this method is called.
func (c *Cache) EvictStale() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.staleAfter)
	var evicted []string
	for key, rec := range c.records {
		if rec.LastUsedAt.Before(cutoff) && rec.UsageCount < c.minUsage {
			delete(c.records, key)
			evicted = append(evicted, key)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// Snapshot returns all records ordered by key.
func (c *Cache) Snapshot() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Record, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Restore replaces the cache contents with records. Records are re-keyed so a
// table written by an older normalization still resolves.
func (c *Cache) Restore(records []Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = make(map[string]*Record, len(records))
	for _, r := range records {
		key := Key(r.Name)
		if key == "" {
			key = r.Key
		}
		if key == "" {
			continue
		}
		rec := r
		rec.Key = key
		if existing, ok := c.records[key]; ok {
			existing.UsageCount += rec.UsageCount
			if rec.LastUsedAt.After(existing.LastUsedAt) {
				existing.LastUsedAt = rec.LastUsedAt
			}
			if !existing.Location.Known() && rec.Location.Known() {
				existing.Location = rec.Location
			}
			continue
		}
		c.records[key] = &rec
	}
}
