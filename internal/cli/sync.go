package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/eventsync/internal/access"
	"github.com/roach88/eventsync/internal/cluster"
	"github.com/roach88/eventsync/internal/config"
	"github.com/roach88/eventsync/internal/engine"
	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/loader"
	"github.com/roach88/eventsync/internal/remote"
	"github.com/roach88/eventsync/internal/store"
	"github.com/roach88/eventsync/internal/venue"
)

const shutdownTimeout = 5 * time.Second

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Database    string
	Redis       string
	Remote      string
	Push        string
	Token       string
	Lat         float64
	Lng         float64
	RadiusKm    float64
	Days        int
	Watch       bool
	MetricsAddr string
}

// SyncReport is the sync command's payload.
type SyncReport struct {
	Events        int               `json:"events"`
	Total         int               `json:"total"`
	Tier          string            `json:"tier"`
	RadiusKm      float64           `json:"radius_km"`
	RadiusSource  string            `json:"radius_source"`
	RadiusClamped bool              `json:"radius_clamped,omitempty"`
	WindowClamped bool              `json:"window_clamped,omitempty"`
	Degraded      bool              `json:"degraded,omitempty"`
	FromCache     bool              `json:"from_cache,omitempty"`
	Expanded      bool              `json:"expanded,omitempty"`
	ExpandedKm    float64           `json:"expanded_radius_km,omitempty"`
	ExpandClamped bool              `json:"expansion_clamped,omitempty"`
	Evicted       int               `json:"venues_evicted,omitempty"`
	PushesApplied int               `json:"pushes_applied,omitempty"`
	Clusters      cluster.Summary   `json:"clusters"`
	Status        engine.SyncStatus `json:"status"`
	Error         string            `json:"error,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Load events around a point and sync pending changes",
		Long: `Start the sync engine over a local store, load the events around a
point with a progressive fetch, and flush any mutations left pending by an
earlier run.

The local store is a SQLite file (--db) or a Redis server (--redis). With
--watch the command stays connected to the push channel and applies live
changes until interrupted. --metrics-addr serves Prometheus metrics on
/metrics while the command runs.

Example:
  eventsync sync --db ./eventsync.db --remote https://api.example.com --lat 59.437 --lng 24.745
  eventsync sync --redis redis://localhost:6379/0 --watch --metrics-addr :9102`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $"+EnvDB+")")
	cmd.Flags().StringVar(&opts.Redis, "redis", "", "Redis URL used instead of SQLite (default $"+EnvRedis+")")
	cmd.Flags().StringVar(&opts.Remote, "remote", "", "base URL of the remote event store (default $"+EnvRemote+" or config)")
	cmd.Flags().StringVar(&opts.Push, "push", "", "push channel URL (default $"+EnvPush+" or <remote>/push)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "session token (default $"+EnvToken+")")
	cmd.Flags().Float64Var(&opts.Lat, "lat", event.Sentinel.Lat, "latitude of the map center")
	cmd.Flags().Float64Var(&opts.Lng, "lng", event.Sentinel.Lng, "longitude of the map center")
	cmd.Flags().Float64Var(&opts.RadiusKm, "radius", 0, "search radius in km (0 picks one from the area)")
	cmd.Flags().IntVar(&opts.Days, "days", 0, "only events starting within this many days (0 for no limit)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "stay connected to the push channel until interrupted")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default $"+EnvMetricsAddr+")")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	policy, err := access.NewPolicy(cfg.Tiers)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "tier table rejected", err)
	}

	baseURL := firstNonEmpty(opts.Remote, os.Getenv(EnvRemote), cfg.Remote.BaseURL)
	if baseURL == "" {
		return formatter.Fail(ExitCommandError, ErrCodeRemote, "no remote store: set --remote, $"+EnvRemote+" or remote.base_url", nil)
	}
	token := firstNonEmpty(opts.Token, os.Getenv(EnvToken))

	actor, err := access.ParseSession(token, time.Now())
	switch {
	case errors.Is(err, access.ErrSessionExpired):
		slog.Warn("session expired, continuing as signed out", "subject", actor.ID)
	case err != nil:
		return formatter.Fail(ExitCommandError, ErrCodeSession, "cannot read session token", err)
	}

	var httpOpts []remote.HTTPOption
	if token != "" {
		httpOpts = append(httpOpts, remote.WithToken(token))
	}
	rs, err := remote.NewHTTPClient(baseURL, cfg.Remote.Timeout, httpOpts...)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRemote, "invalid remote store URL", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	kv, closeKV, err := openKV(ctx, opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot open local store", err)
	}
	defer closeKV()

	reg := prometheus.NewRegistry()
	eng := newSyncEngine(cfg, policy, rs, kv, reg)
	if err := eng.Init(ctx); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot restore engine state", err)
	}
	defer func() {
		tctx, tcancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer tcancel()
		if err := eng.Teardown(tctx); err != nil {
			slog.Error("engine teardown", "error", err)
		}
	}()

	metricsAddr := firstNonEmpty(opts.MetricsAddr, os.Getenv(EnvMetricsAddr))
	if metricsAddr != "" {
		stop, addr, err := serveMetrics(metricsAddr, reg)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "cannot serve metrics", err)
		}
		defer stop()
		formatter.VerboseLog("Serving metrics on http://%s/metrics", addr)
	}

	report := SyncReport{Tier: actor.TierAt(time.Now()).String()}
	report.Evicted = len(eng.Venues().EvictStale())

	req := loader.Request{
		Actor:    actor,
		Center:   event.Coordinate{Lat: opts.Lat, Lng: opts.Lng},
		RadiusKm: opts.RadiusKm,
	}
	if opts.Days > 0 {
		req.Window = event.WindowFrom(time.Now(), opts.Days)
	}

	ld := loader.New(eng, policy, loader.WithConfig(cfg))
	res, err := ld.Load(ctx, req)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "load cancelled", err)
	}
	report.Events = len(res.Events)
	report.Total = res.Total
	report.RadiusKm = res.Radius.RadiusKm
	report.RadiusSource = res.Radius.Source
	report.RadiusClamped = res.Radius.Clamped
	report.WindowClamped = res.WindowClamped
	report.Degraded = res.Degraded
	report.FromCache = res.FromCache
	loadErr := res.Err

	if res.Expansion != nil {
		formatter.VerboseLog("Server has %d event(s), expanding in the background", res.Total)
		select {
		case exp := <-res.Expansion:
			report.Expanded = exp.Err == nil && !exp.FromCache
			report.ExpandedKm = exp.RadiusKm
			report.ExpandClamped = exp.Clamped
			report.Events = len(exp.Events)
			if exp.Err != nil && !errors.Is(exp.Err, context.Canceled) {
				loadErr = exp.Err
			}
		case <-ctx.Done():
		}
	}

	if opts.Watch && ctx.Err() == nil {
		pushURL := firstNonEmpty(opts.Push, os.Getenv(EnvPush))
		if pushURL == "" {
			pushURL, err = derivePushURL(baseURL)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeRemote, "cannot derive push URL", err)
			}
		}
		report.PushesApplied = watchPush(ctx, eng, pushURL, token, formatter)
	}

	report.Clusters = cluster.Summarize(eng.Clusters())
	report.Status = eng.Status()

	if loadErr != nil {
		report.Error = loadErr.Error()
		_ = formatter.Error(ErrCodeRemote, "remote store unavailable, showing cached events", report)
		return WrapExitError(ExitFailure, ErrCodeRemote+": remote store unavailable", loadErr)
	}
	if n := len(report.Status.Errors); n > 0 {
		_ = formatter.Error(ErrCodeSyncErrors, fmt.Sprintf("%d mutation(s) could not be synced", n), report)
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %d mutation(s) parked", ErrCodeSyncErrors, n))
	}

	if formatter.Format == "json" {
		return formatter.Success(report)
	}
	return outputSync(formatter, report)
}

// newSyncEngine builds an engine tuned by cfg.
func newSyncEngine(cfg *config.Config, policy *access.Policy, rs remote.Store, kv store.KV, reg prometheus.Registerer) *engine.Engine {
	return engine.New(rs, kv,
		engine.WithPolicy(policy),
		engine.WithRegistry(reg),
		engine.WithVenueCache(venue.New(venue.WithEviction(cfg.Venue.StaleAfter, cfg.Venue.MinUsage))),
		engine.WithMaxAttempts(cfg.Sync.MaxAttempts),
		engine.WithBackoff(cfg.Sync.BaseBackoff, cfg.Sync.MaxBackoff),
		engine.WithChunking(cfg.Sync.ChunkSize, cfg.Sync.ChunkYield),
		engine.WithEnrichmentCap(cfg.Sync.EnrichmentCap),
		engine.WithInitialLimit(cfg.Loader.InitialLimit),
	)
}

// openKV opens Redis when a Redis URL is configured, SQLite otherwise.
func openKV(ctx context.Context, opts *SyncOptions) (store.KV, func(), error) {
	if redisURL := firstNonEmpty(opts.Redis, os.Getenv(EnvRedis)); redisURL != "" {
		r, err := store.OpenRedis(ctx, redisURL, store.DefaultRedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { closeStore(r) }, nil
	}
	st, err := openLocalStore(opts.Database)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { closeStore(st) }, nil
}

// serveMetrics exposes reg on /metrics. It returns a stop function and the
// bound address.
func serveMetrics(addr string, reg *prometheus.Registry) (func(), string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", "error", err)
		}
	}()

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return stop, ln.Addr().String(), nil
}

// watchPush applies push messages until ctx ends and returns how many were
// applied.
func watchPush(ctx context.Context, eng *engine.Engine, pushURL, token string, formatter *OutputFormatter) int {
	sub := eng.Subscribe(engine.KindEventCreated, engine.KindEventUpdated, engine.KindEventDeleted)
	defer sub.Close()
	go func() {
		for n := range sub.C() {
			name := ""
			if n.Event != nil {
				name = n.Event.Name
			}
			formatter.VerboseLog("%s %s %s", n.Kind, n.EventID, name)
		}
	}()

	applied := 0
	opts := []remote.PushOption{
		remote.WithConnectionState(func(connected bool) {
			slog.Info("push channel", "connected", connected, "url", pushURL)
			if connected {
				eng.SetOnline(true)
			}
		}),
	}
	if token != "" {
		opts = append(opts, remote.WithPushToken(token))
	}
	// The handler runs on the listener goroutine, which Run joins before
	// returning.
	listener := remote.NewPushListener(pushURL, func(m remote.PushMessage) {
		if eng.ApplyPush(m) {
			applied++
		}
	}, opts...)

	fmt.Fprintln(formatter.GetErrWriter(), "Watching for changes. Press Ctrl-C to stop.")
	_ = listener.Run(ctx)
	return applied
}

// derivePushURL maps http(s)://host/base to ws(s)://host/base/push.
func derivePushURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/push"
	return u.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func outputSync(formatter *OutputFormatter, r SyncReport) error {
	w := formatter.Writer
	source := "remote"
	if r.FromCache {
		source = "cache"
	}
	fmt.Fprintf(w, "Loaded %d of %d event(s) from %s (tier %s)\n", r.Events, r.Total, source, r.Tier)
	clamped := ""
	if r.RadiusClamped {
		clamped = ", clamped to tier"
	}
	fmt.Fprintf(w, "Radius: %g km (%s%s)\n", r.RadiusKm, r.RadiusSource, clamped)
	if r.Expanded {
		note := ""
		if r.ExpandClamped {
			note = " (tier maximum)"
		}
		fmt.Fprintf(w, "Expanded to %g km%s\n", r.ExpandedKm, note)
	}
	if r.Degraded {
		fmt.Fprintln(w, "Batch above enrichment cap: categories and venues not repaired")
	}
	fmt.Fprintf(w, "Markers: %d (%d single, largest %d)\n", r.Clusters.Clusters, r.Clusters.Singles, r.Clusters.Largest)
	fmt.Fprintf(w, "Pending: %d  Online: %t  Read-only: %t\n", r.Status.PendingCount, r.Status.Online, r.Status.ReadOnly)
	if r.PushesApplied > 0 {
		fmt.Fprintf(w, "Applied %d push message(s)\n", r.PushesApplied)
	}
	if r.Evicted > 0 {
		fmt.Fprintf(w, "Evicted %d stale venue(s)\n", r.Evicted)
	}
	return nil
}
