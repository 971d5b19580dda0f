// Package loader decides how much of the map to fetch and stages the fetch.
//
// A load starts with one bounded fetch sized from the user's radius, a known
// density center or the sparse-area default, always within the tier's limits.
// When the server reports more matches than the first page returned, exactly
// one wider background fetch follows after a settle delay and is merged into
// the first page by id.
package loader

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/eventsync/internal/access"
	"github.com/roach88/eventsync/internal/config"
	"github.com/roach88/eventsync/internal/engine"
	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/remote"
)

// Defaults for the tunables exposed as options.
const (
	DefaultSparseRadiusKm  = 75.0
	DefaultMatchDistanceKm = 30.0
	DefaultInitialLimit    = 100
	DefaultExpansionLimit  = 1000
	DefaultSettleDelay     = 1500 * time.Millisecond
)

// Fetcher is the part of the sync engine the loader drives.
type Fetcher interface {
	FetchEventsProgressive(ctx context.Context, q remote.Query) (engine.ProgressiveResult, error)
	FetchEvents(ctx context.Context, q remote.Query, opts ...engine.FetchOption) (engine.FetchResult, error)
	GetCachedEventsImmediate() []event.Event
}

// Loader plans and runs progressive loads.
type Loader struct {
	fetcher         Fetcher
	policy          *access.Policy
	centers         []config.DensityCenter
	sparseRadiusKm  float64
	matchDistanceKm float64
	initialLimit    int
	expansionLimit  int
	settleDelay     time.Duration
	now             func() time.Time
}

// Option configures a Loader.
type Option func(*Loader)

// WithConfig applies the loader section and density centers of cfg.
func WithConfig(cfg *config.Config) Option {
	return func(l *Loader) {
		l.centers = cfg.DensityCenters
		l.sparseRadiusKm = cfg.Loader.SparseRadiusKm
		l.matchDistanceKm = cfg.Loader.MatchDistanceKm
		l.initialLimit = cfg.Loader.InitialLimit
		l.expansionLimit = cfg.Loader.ExpansionLimit
		l.settleDelay = cfg.Loader.SettleDelay
	}
}

// WithDensityCenters replaces the density center table.
func WithDensityCenters(centers []config.DensityCenter) Option {
	return func(l *Loader) {
		l.centers = centers
	}
}

// WithLimits sets the page size of the initial and the expansion fetch.
func WithLimits(initial, expansion int) Option {
	return func(l *Loader) {
		l.initialLimit = initial
		l.expansionLimit = expansion
	}
}

// WithSettleDelay sets the pause before the background expansion.
func WithSettleDelay(d time.Duration) Option {
	return func(l *Loader) {
		l.settleDelay = d
	}
}

// WithNow injects the clock used to derive the caller's tier.
func WithNow(now func() time.Time) Option {
	return func(l *Loader) {
		l.now = now
	}
}

// New creates a Loader over f. Limits come from policy.
func New(f Fetcher, policy *access.Policy, opts ...Option) *Loader {
	l := &Loader{
		fetcher:         f,
		policy:          policy,
		centers:         config.Default().DensityCenters,
		sparseRadiusKm:  DefaultSparseRadiusKm,
		matchDistanceKm: DefaultMatchDistanceKm,
		initialLimit:    DefaultInitialLimit,
		expansionLimit:  DefaultExpansionLimit,
		settleDelay:     DefaultSettleDelay,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.policy == nil {
		l.policy = access.DefaultPolicy()
	}
	return l
}

// Request describes one load.
type Request struct {
	Actor  access.Actor
	Center event.Coordinate
	// RadiusKm is the user's explicit radius. Zero lets the loader choose.
	RadiusKm float64
	// Window limits start times. The zero window means the tier's full
	// window starting now.
	Window event.DateWindow
}

// Result is the outcome of the initial stage of a load.
type Result struct {
	Events []event.Event
	Total  int
	Radius RadiusDecision
	// WindowClamped is set when the requested window exceeded the tier.
	WindowClamped bool
	Degraded      bool
	// FromCache is set when the fetch failed or was superseded and Events
	// is the engine's cached snapshot.
	FromCache bool
	Err       error
	// Expansion delivers the single background expansion, then closes.
	// It is nil when no expansion was scheduled.
	Expansion <-chan ExpansionResult
}

// ExpansionResult is the outcome of the background expansion.
type ExpansionResult struct {
	// Events is the initial page merged with the expansion by id; records
	// from the expansion win.
	Events    []event.Event
	Total     int
	RadiusKm float64
	// Clamped is set when the tier maximum capped the wider radius. At the
	// maximum the expansion repeats the radius with the larger limit.
	Clamped   bool
	FromCache bool
	Err       error
}

// Load runs the initial fetch and schedules the expansion when the server
// has more to give. Fetch failures do not fail the load: the result falls
// back to the cached snapshot and carries the error in Err.
func (l *Loader) Load(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := l.now()
	tier := req.Actor.TierAt(now)
	limits := l.policy.LimitsFor(tier)

	decision := l.InitialRadius(req.Center, req.RadiusKm, limits.MaxRadiusKm)
	window, windowClamped := ClampWindow(req.Window, limits.MaxDateWindowDays, now)
	q := remote.Query{
		Center:   req.Center,
		RadiusKm: decision.RadiusKm,
		Window:   window,
		Limit:    l.initialLimit,
	}

	res := &Result{Radius: decision, WindowClamped: windowClamped}
	pr, err := l.fetcher.FetchEventsProgressive(ctx, q)
	switch {
	case err != nil:
		slog.Warn("initial load failed, using cache", "radius_km", q.RadiusKm, "error", err)
		res.Events = l.fetcher.GetCachedEventsImmediate()
		res.Total = len(res.Events)
		res.FromCache = true
		res.Err = err
		return res, nil
	case pr.Superseded:
		res.Events = l.fetcher.GetCachedEventsImmediate()
		res.Total = max(pr.Total, len(res.Events))
		res.FromCache = true
		return res, nil
	}

	res.Events = pr.Initial
	res.Total = pr.Total
	res.Degraded = pr.Degraded
	slog.Info("initial load",
		"tier", tier.String(),
		"radius_km", decision.RadiusKm,
		"radius_source", decision.Source,
		"clamped", decision.Clamped,
		"events", len(pr.Initial),
		"total", pr.Total,
	)

	if len(pr.Initial) == 0 || pr.Total <= len(pr.Initial) {
		return res, nil
	}

	ch := make(chan ExpansionResult, 1)
	res.Expansion = ch
	var clamped bool
	next := q
	next.RadiusKm, clamped = ExpansionRadius(decision.RadiusKm, len(pr.Initial), limits.MaxRadiusKm)
	next.Limit = l.expansionLimit
	go l.expand(ctx, next, clamped, pr.Initial, ch)
	return res, nil
}

func (l *Loader) expand(ctx context.Context, q remote.Query, clamped bool, initial []event.Event, out chan<- ExpansionResult) {
	defer close(out)

	t := time.NewTimer(l.settleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		out <- ExpansionResult{Events: initial, Total: len(initial), RadiusKm: q.RadiusKm, Clamped: clamped, Err: ctx.Err()}
		return
	case <-t.C:
	}

	res, err := l.fetcher.FetchEvents(ctx, q, engine.WithMerge())
	if err != nil || res.Superseded {
		slog.Warn("background expansion fell back to cache", "radius_km", q.RadiusKm, "superseded", res.Superseded, "error", err)
		cached := l.fetcher.GetCachedEventsImmediate()
		out <- ExpansionResult{Events: cached, Total: len(cached), RadiusKm: q.RadiusKm, Clamped: clamped, FromCache: true, Err: err}
		return
	}

	merged := event.MergeByID(initial, res.Events)
	slog.Info("background expansion",
		"radius_km", q.RadiusKm,
		"clamped", clamped,
		"fetched", len(res.Events),
		"merged", len(merged),
		"total", res.Total,
	)
	out <- ExpansionResult{Events: merged, Total: res.Total, RadiusKm: q.RadiusKm, Clamped: clamped}
}
