package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/eventsync/internal/access"
	"github.com/roach88/eventsync/internal/category"
	"github.com/roach88/eventsync/internal/cluster"
	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/remote"
	"github.com/roach88/eventsync/internal/store"
	"github.com/roach88/eventsync/internal/venue"
)

// Defaults for the tunables exposed as options.
const (
	DefaultMaxAttempts   = 5
	DefaultBaseBackoff   = 500 * time.Millisecond
	DefaultMaxBackoff    = 30 * time.Second
	DefaultChunkSize     = 100
	DefaultChunkYield    = 5 * time.Millisecond
	DefaultEnrichmentCap = 2000
	DefaultInitialLimit  = 100
)

// Geocoder resolves a place description to coordinates. It is consulted only
// for locally written events whose venue is not in the venue cache.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (event.Coordinate, error)
}

// Engine is the client-side sync engine.
//
// Thread-safety model:
//   - Public methods: safe from any goroutine
//   - State changes: serialized by mu (single writer)
//   - GetCachedEventsImmediate, Status: lock-free snapshot reads
//   - Remote calls for mutations: only from the dispatch goroutine
type Engine struct {
	remote      remote.Store
	kv          store.KV
	policy      *access.Policy
	venues      *venue.Cache
	classifier  *category.Classifier
	geocoder    Geocoder
	region      event.Region
	now         func() time.Time
	clock       *Clock
	eventIDs    IDGenerator
	mutationIDs IDGenerator
	registry    prometheus.Registerer
	metrics     *metrics
	bus         bus
	queue       *workQueue

	maxAttempts   int
	baseBackoff   time.Duration
	maxBackoff    time.Duration
	chunkSize     int
	chunkYield    time.Duration
	enrichmentCap int
	initialLimit  int

	snapshot atomic.Pointer[[]event.Event]
	status   atomic.Pointer[SyncStatus]

	mu          sync.Mutex
	running     bool
	events      []event.Event
	pending     []*Mutation
	parked      []*Mutation
	inflight    map[string]bool
	waiting     map[string]*time.Timer
	receipts    map[string]*Receipt
	settled     settlements
	watermarks  map[string]int64
	quota       access.DailyQuota
	online      bool
	readOnly    bool
	lastSyncAt  time.Time
	lastQuery   *remote.Query
	stalePushes int64
	saveSeq     int64

	persistMu sync.Mutex
	savedSeq  int64

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow injects the wall clock used for timestamps, tier derivation and
// the daily quota.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithPolicy sets the access policy. Default: access.DefaultPolicy().
func WithPolicy(p *access.Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithVenueCache shares a venue cache with the engine.
func WithVenueCache(c *venue.Cache) Option {
	return func(e *Engine) {
		e.venues = c
	}
}

// WithClassifier replaces the category classifier.
func WithClassifier(c *category.Classifier) Option {
	return func(e *Engine) {
		e.classifier = c
	}
}

// WithGeocoder enables geocoding for written events. Results outside region
// are ignored.
func WithGeocoder(g Geocoder, region event.Region) Option {
	return func(e *Engine) {
		e.geocoder = g
		e.region = region
	}
}

// WithRegistry registers engine metrics on reg instead of a private registry.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

// WithMaxAttempts sets the retry ceiling for retryable failures.
//
// Default: 5 (DefaultMaxAttempts)
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		e.maxAttempts = n
	}
}

// WithBackoff sets the exponential backoff bounds between attempts.
func WithBackoff(base, max time.Duration) Option {
	return func(e *Engine) {
		e.baseBackoff = base
		e.maxBackoff = max
	}
}

// WithChunking sets the normalization chunk size and the pause between chunks.
func WithChunking(size int, yield time.Duration) Option {
	return func(e *Engine) {
		e.chunkSize = size
		e.chunkYield = yield
	}
}

// WithEnrichmentCap sets the batch size above which venue and category
// enrichment is skipped.
func WithEnrichmentCap(n int) Option {
	return func(e *Engine) {
		e.enrichmentCap = n
	}
}

// WithInitialLimit sets the page size of FetchEventsProgressive when the
// query has none.
func WithInitialLimit(n int) Option {
	return func(e *Engine) {
		e.initialLimit = n
	}
}

// WithEventIDs sets the generator for client-chosen event ids.
func WithEventIDs(g IDGenerator) Option {
	return func(e *Engine) {
		e.eventIDs = g
	}
}

// WithMutationIDs sets the generator for mutation ids.
func WithMutationIDs(g IDGenerator) Option {
	return func(e *Engine) {
		e.mutationIDs = g
	}
}

// New creates an Engine over a remote store and a persistent KV.
// Call Init before use and Teardown when done.
func New(rs remote.Store, kv store.KV, opts ...Option) *Engine {
	e := &Engine{
		remote:        rs,
		kv:            kv,
		now:           time.Now,
		clock:         NewClock(),
		eventIDs:      UUIDv7Generator{},
		mutationIDs:   NanoIDGenerator{},
		queue:         newWorkQueue(),
		maxAttempts:   DefaultMaxAttempts,
		baseBackoff:   DefaultBaseBackoff,
		maxBackoff:    DefaultMaxBackoff,
		chunkSize:     DefaultChunkSize,
		chunkYield:    DefaultChunkYield,
		enrichmentCap: DefaultEnrichmentCap,
		initialLimit:  DefaultInitialLimit,
		inflight:      make(map[string]bool),
		waiting:       make(map[string]*time.Timer),
		receipts:      make(map[string]*Receipt),
		watermarks:    make(map[string]int64),
		online:        true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy == nil {
		e.policy = access.DefaultPolicy()
	}
	if e.venues == nil {
		e.venues = venue.New(venue.WithClock(e.now))
	}
	if e.classifier == nil {
		e.classifier = category.New()
	}
	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
	}
	if e.maxAttempts < 1 {
		e.maxAttempts = 1
	}
	if e.chunkSize < 1 {
		e.chunkSize = DefaultChunkSize
	}
	e.metrics = newMetrics(e.registry)

	empty := []event.Event{}
	e.snapshot.Store(&empty)
	e.status.Store(&SyncStatus{Online: true, Errors: []SyncError{}})
	return e
}

// Init restores persisted state and starts the dispatch loop.
// Mutations left pending by a previous run are sent again. An Engine is
// initialized at most once; create a new one after Teardown.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.running || e.done != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine already initialized")
	}
	e.mu.Unlock()

	st, err := e.load(ctx)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	e.mu.Lock()
	e.restoreLocked(st)
	e.running = true
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.commitLocked()
	ids := e.pendingIDsLocked()
	e.mu.Unlock()

	go e.run(runCtx)
	for _, id := range ids {
		e.queue.Enqueue(id)
	}

	slog.Info("sync engine initialized",
		"events", len(st.Events),
		"pending", len(st.Mutations.Pending),
		"parked", len(st.Mutations.Parked),
	)
	return nil
}

// Teardown stops the dispatch loop, persists state and closes every
// subscription. Unresolved receipts resolve with a NOT_RUNNING error; their
// mutations stay persisted for the next Init.
func (e *Engine) Teardown(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	for id, t := range e.waiting {
		t.Stop()
		delete(e.waiting, id)
	}
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	e.queue.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	for id := range e.receipts {
		e.settleLocked(id, event.Event{}, errNotRunning)
	}
	st := e.commitLocked()
	settled := e.takeSettledLocked()
	e.mu.Unlock()

	settled.resolve()

	e.bus.closeAll()
	if err := e.save(ctx, st); err != nil {
		return err
	}
	slog.Info("sync engine stopped")
	return nil
}

// Subscribe returns a subscription to the given notification kinds, or to
// every kind when none are given.
func (e *Engine) Subscribe(kinds ...Kind) *Subscription {
	return e.bus.subscribe(kinds)
}

// Status returns the current sync status snapshot.
func (e *Engine) Status() SyncStatus {
	return *e.status.Load()
}

// GetCachedEventsImmediate returns the current cache snapshot without any
// network access. The slice is owned by the caller.
func (e *Engine) GetCachedEventsImmediate() []event.Event {
	return slices.Clone(*e.snapshot.Load())
}

// Clusters groups the cached snapshot into map markers.
func (e *Engine) Clusters() []cluster.Cluster {
	return cluster.Build(*e.snapshot.Load())
}

// Venues exposes the engine's venue cache.
func (e *Engine) Venues() *venue.Cache {
	return e.venues
}

// Policy returns the access policy the engine enforces.
func (e *Engine) Policy() *access.Policy {
	return e.policy
}

// SetOnline records connectivity. Going online resumes dispatch.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	changed := e.setOnlineLocked(online)
	var ids []string
	if changed && online {
		ids = e.pendingIDsLocked()
	}
	if changed {
		e.commitLocked()
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.queue.Enqueue(id)
	}
}

func (e *Engine) setOnlineLocked(online bool) bool {
	if e.online == online {
		return false
	}
	e.online = online
	slog.Info("network status changed", "online", online)
	e.bus.publish(Notification{Kind: KindNetworkStatus, Online: online})
	return true
}

// commitLocked publishes the current state: the event snapshot, the status
// snapshot and gauges. It returns the state to persist.
func (e *Engine) commitLocked() *persisted {
	events := e.events
	if events == nil {
		events = []event.Event{}
	}
	e.snapshot.Store(&events)

	status := &SyncStatus{
		Online:       e.online,
		ReadOnly:     e.readOnly,
		LastSyncAt:   e.lastSyncAt,
		PendingCount: len(e.pending),
		Errors:       make([]SyncError, 0, len(e.parked)),
		StalePushes:  e.stalePushes,
	}
	for _, m := range e.parked {
		status.Errors = append(status.Errors, SyncError{
			MutationID: m.ID,
			EventID:    m.EventID,
			Op:         m.Op,
			Attempts:   m.Attempts,
			Kind:       m.ErrorKind,
			Message:    m.LastError,
			At:         m.EnqueuedAt,
		})
	}
	e.status.Store(status)
	e.bus.publish(Notification{Kind: KindSyncStatus, Status: status})

	e.metrics.pending.Set(float64(len(e.pending)))
	e.metrics.cachedEvents.Set(float64(len(events)))

	e.saveSeq++
	return e.persistedLocked()
}

// pendingIDsLocked lists event ids with sendable mutations in queue order.
func (e *Engine) pendingIDsLocked() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range e.pending {
		if !seen[m.EventID] {
			seen[m.EventID] = true
			ids = append(ids, m.EventID)
		}
	}
	return ids
}

// headLocked returns the oldest pending mutation for id.
func (e *Engine) headLocked(id string) *Mutation {
	for _, m := range e.pending {
		if m.EventID == id {
			return m
		}
	}
	return nil
}

// hasLocalChangeLocked reports whether id has a queued, in-flight or parked
// mutation.
func (e *Engine) hasLocalChangeLocked(id string) bool {
	if e.inflight[id] || e.headLocked(id) != nil {
		return true
	}
	return e.isBlockedLocked(id)
}

// isBlockedLocked reports whether a parked mutation holds back later
// mutations for id.
func (e *Engine) isBlockedLocked(id string) bool {
	for _, m := range e.parked {
		if m.EventID == id {
			return true
		}
	}
	return false
}

func (e *Engine) removePendingLocked(m *Mutation) {
	e.pending = slices.DeleteFunc(e.pending, func(x *Mutation) bool { return x == m })
}

// nextSeqLocked assigns the next per-event sequence number.
func (e *Engine) nextSeqLocked(id string) int64 {
	e.watermarks[id]++
	return e.watermarks[id]
}

func (e *Engine) raiseWatermarkLocked(id string, version int64) {
	if version > e.watermarks[id] {
		e.watermarks[id] = version
	}
}

// findLocked returns the index of id in the cache, or -1.
func (e *Engine) findLocked(id string) int {
	return slices.IndexFunc(e.events, func(ev event.Event) bool { return ev.ID == id })
}

// upsertLocked replaces or appends ev, building a new collection so that
// published snapshots are never modified.
func (e *Engine) upsertLocked(ev event.Event) (created bool) {
	next := slices.Clone(e.events)
	if i := slices.IndexFunc(next, func(x event.Event) bool { return x.ID == ev.ID }); i >= 0 {
		next[i] = ev
		e.events = next
		return false
	}
	e.events = append(next, ev)
	return true
}

// removeLocked drops id from the cache. It reports whether id was present.
func (e *Engine) removeLocked(id string) bool {
	i := e.findLocked(id)
	if i < 0 {
		return false
	}
	next := make([]event.Event, 0, len(e.events)-1)
	next = append(next, e.events[:i]...)
	next = append(next, e.events[i+1:]...)
	e.events = next
	return true
}
