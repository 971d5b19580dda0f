package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/eventsync/internal/engine"
	"github.com/roach88/eventsync/internal/store"
	"github.com/roach88/eventsync/internal/venue"
)

// VenuesOptions holds flags for the venues commands.
type VenuesOptions struct {
	*RootOptions
	Database   string
	StaleAfter time.Duration
	MinUsage   int
	DryRun     bool
}

// VenueList is the payload of venues list.
type VenueList struct {
	Count  int            `json:"count"`
	Venues []venue.Record `json:"venues"`
}

// EvictionResult is the payload of venues evict.
type EvictionResult struct {
	Evicted   []string `json:"evicted"`
	Remaining int      `json:"remaining"`
	DryRun    bool     `json:"dry_run,omitempty"`
}

// NewVenuesCommand creates the venues command group.
func NewVenuesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VenuesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "venues",
		Short: "Inspect and prune the persisted venue cache",
		Long: `Inspect and prune the venue coordinate cache stored in a local database.

The engine persists the cache next to its events; these commands read and
rewrite that document without starting the engine.`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $"+EnvDB+")")

	list := &cobra.Command{
		Use:           "list",
		Short:         "List cached venues by usage",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVenuesList(opts, cmd)
		},
	}

	evict := &cobra.Command{
		Use:   "evict",
		Short: "Drop stale, rarely used venues",
		Long: `Drop venues not used within --stale-after that were used fewer than
--min-usage times. Defaults come from the venue section of the config.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVenuesEvict(opts, cmd)
		},
	}
	evict.Flags().DurationVar(&opts.StaleAfter, "stale-after", 0, "evict venues unused for longer than this")
	evict.Flags().IntVar(&opts.MinUsage, "min-usage", 0, "keep venues used at least this many times")
	evict.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would be evicted without writing")

	cmd.AddCommand(list, evict)
	return cmd
}

func runVenuesList(opts *VenuesOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openLocalStore(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot open local store", err)
	}
	defer closeStore(st)

	cache := venue.New()
	if err := loadVenues(cmd.Context(), st, cache); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot read venue cache", err)
	}

	records := cache.Snapshot()
	if formatter.Format == "json" {
		return formatter.Success(VenueList{Count: len(records), Venues: records})
	}
	fmt.Fprintf(formatter.Writer, "%d venue(s)\n", len(records))
	for _, r := range records {
		fmt.Fprintf(formatter.Writer, "  %-32s %s  used %d, last %s\n",
			r.Name, r.Location, r.UsageCount, r.LastUsedAt.Format("2006-01-02"))
	}
	return nil
}

func runVenuesEvict(opts *VenuesOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	staleAfter, minUsage := cfg.Venue.StaleAfter, cfg.Venue.MinUsage
	if opts.StaleAfter > 0 {
		staleAfter = opts.StaleAfter
	}
	if opts.MinUsage > 0 {
		minUsage = opts.MinUsage
	}

	st, err := openLocalStore(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot open local store", err)
	}
	defer closeStore(st)

	ctx := cmd.Context()
	cache := venue.New(venue.WithEviction(staleAfter, minUsage))
	if err := loadVenues(ctx, st, cache); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot read venue cache", err)
	}

	evicted := cache.EvictStale()
	if evicted == nil {
		evicted = []string{}
	}
	formatter.VerboseLog("evicting %d venue(s), stale after %s, min usage %d", len(evicted), staleAfter, minUsage)

	if len(evicted) > 0 && !opts.DryRun {
		if err := store.SaveJSON(ctx, st, engine.KeyVenues, cache.Snapshot()); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "cannot write venue cache", err)
		}
	}

	res := EvictionResult{Evicted: evicted, Remaining: cache.Len(), DryRun: opts.DryRun}
	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	verb := "Evicted"
	if opts.DryRun {
		verb = "Would evict"
	}
	fmt.Fprintf(formatter.Writer, "%s %d venue(s), %d remaining\n", verb, len(res.Evicted), res.Remaining)
	for _, key := range res.Evicted {
		fmt.Fprintf(formatter.Writer, "  %s\n", key)
	}
	return nil
}

// openLocalStore opens the SQLite database at path, falling back to $EVENTSYNC_DB.
func openLocalStore(path string) (*store.SQLite, error) {
	if path == "" {
		path = envOr(EnvDB, "")
	}
	if path == "" {
		return nil, fmt.Errorf("no database given: set --db or $%s", EnvDB)
	}
	return store.Open(path)
}

func closeStore(st interface{ Close() error }) {
	if err := st.Close(); err != nil {
		slog.Error("error closing store", "error", err)
	}
}

func loadVenues(ctx context.Context, kv store.KV, cache *venue.Cache) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var records []venue.Record
	if _, err := store.LoadJSON(ctx, kv, engine.KeyVenues, &records); err != nil {
		return err
	}
	cache.Restore(records)
	return nil
}
