package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/eventsync/internal/engine"
	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/store"
)

// StateOptions holds flags for the state command.
type StateOptions struct {
	*RootOptions
	Database string
}

// StateReport summarizes what an engine left in a local database.
type StateReport struct {
	Keys     []store.Entry     `json:"keys"`
	Events   int               `json:"events"`
	Pending  []engine.Mutation `json:"pending"`
	Parked   []engine.Mutation `json:"parked"`
	ReadOnly bool              `json:"read_only"`
}

// persistedQueue mirrors the mutation document the engine writes.
type persistedQueue struct {
	Pending  []engine.Mutation `json:"pending"`
	Parked   []engine.Mutation `json:"parked"`
	ReadOnly bool              `json:"read_only"`
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the engine state persisted in a local database",
		Long: `Print the stored documents of a local database together with the
number of cached events and the pending and parked mutations.

Example:
  eventsync state --db ./eventsync.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $"+EnvDB+")")

	return cmd
}

func runState(opts *StateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openLocalStore(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot open local store", err)
	}
	defer closeStore(st)

	ctx := cmd.Context()
	keys, err := st.Keys(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot list stored keys", err)
	}

	var events []event.Event
	if _, err := store.LoadJSON(ctx, st, engine.KeyEvents, &events); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot read cached events", err)
	}
	var queue persistedQueue
	if _, err := store.LoadJSON(ctx, st, engine.KeyMutations, &queue); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot read mutation queue", err)
	}

	report := StateReport{
		Keys:     keys,
		Events:   len(events),
		Pending:  nonNil(queue.Pending),
		Parked:   nonNil(queue.Parked),
		ReadOnly: queue.ReadOnly,
	}

	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	w := formatter.Writer
	for _, k := range report.Keys {
		fmt.Fprintf(w, "%-10s %8d bytes  %s\n", k.Key, k.Size, k.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "Events: %d  Pending: %d  Parked: %d  Read-only: %t\n",
		report.Events, len(report.Pending), len(report.Parked), report.ReadOnly)
	for _, m := range report.Parked {
		fmt.Fprintf(w, "  parked %s %s after %d attempt(s): %s\n", m.Op, m.EventID, m.Attempts, m.LastError)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
