package engine

import (
	"context"
	"time"

	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/remote"
)

// Op is the kind of change a mutation carries.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Mutation is a local change waiting to be confirmed by the remote store.
type Mutation struct {
	ID      string `json:"id"`
	EventID string `json:"event_id"`
	Op      Op     `json:"op"`

	// Payload is the record to send. Nil for deletes.
	Payload *event.Event `json:"payload,omitempty"`

	// Previous is the cached record before the change, restored on rollback.
	// Nil for creates.
	Previous *event.Event `json:"previous,omitempty"`

	// Seq is the per-event sequence number; strictly increasing per EventID.
	Seq        int64     `json:"seq"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
}

// SyncError describes a parked mutation in SyncStatus.
type SyncError struct {
	MutationID string    `json:"mutation_id"`
	EventID    string    `json:"event_id"`
	Op         Op        `json:"op"`
	Attempts   int       `json:"attempts"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// SyncStatus is an immutable snapshot of the engine's sync state.
// A new value replaces the old one on every change.
type SyncStatus struct {
	Online       bool        `json:"online"`
	ReadOnly     bool        `json:"read_only"`
	LastSyncAt   time.Time   `json:"last_sync_at"`
	PendingCount int         `json:"pending_count"`
	Errors       []SyncError `json:"errors"`
	StalePushes  int64       `json:"stale_pushes"`
}

// Receipt is the confirmation channel for one local write.
//
// It resolves exactly once: with the canonical record on confirmation, with
// the terminal error on rejection, or with a PARKED error when retries are
// exhausted. A parked mutation that later succeeds through RetryFailed does
// not resolve its receipt again.
type Receipt struct {
	MutationID string
	EventID    string

	done  chan struct{}
	event event.Event
	err   error
}

func newReceipt(m *Mutation) *Receipt {
	return &Receipt{MutationID: m.ID, EventID: m.EventID, done: make(chan struct{})}
}

func (r *Receipt) resolve(ev event.Event, err error) {
	select {
	case <-r.done:
		return
	default:
	}
	r.event = ev
	r.err = err
	close(r.done)
}

type settlement struct {
	r   *Receipt
	ev  event.Event
	err error
}

// settlements are receipt resolutions collected under the engine lock and
// delivered after the new state is published.
type settlements []settlement

func (s settlements) resolve() {
	for _, x := range s {
		x.r.resolve(x.ev, x.err)
	}
}

// settleLocked detaches the receipt for mutationID and schedules its
// resolution.
func (e *Engine) settleLocked(mutationID string, ev event.Event, err error) {
	r := e.receipts[mutationID]
	if r == nil {
		return
	}
	delete(e.receipts, mutationID)
	e.settled = append(e.settled, settlement{r: r, ev: ev, err: err})
}

func (e *Engine) takeSettledLocked() settlements {
	s := e.settled
	e.settled = nil
	return s
}

// Done is closed once the receipt resolves.
func (r *Receipt) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the receipt resolves or ctx ends.
func (r *Receipt) Wait(ctx context.Context) (event.Event, error) {
	select {
	case <-r.done:
		return r.event, r.err
	case <-ctx.Done():
		return event.Event{}, ctx.Err()
	}
}

// outcome is what the dispatch loop learned from one remote call.
type outcome int

const (
	outcomeConfirmed outcome = iota
	outcomeRetry
	outcomeParked
	outcomeRolledBack
)

func (o outcome) String() string {
	switch o {
	case outcomeConfirmed:
		return "confirmed"
	case outcomeRetry:
		return "retry"
	case outcomeParked:
		return "parked"
	default:
		return "rolled_back"
	}
}

// classify decides what a failed attempt means for the mutation.
func classify(err error, attempts, maxAttempts int) outcome {
	switch {
	case err == nil:
		return outcomeConfirmed
	case remote.IsAuthentication(err):
		return outcomeParked
	case remote.IsRetryable(err) && attempts < maxAttempts:
		return outcomeRetry
	case remote.IsRetryable(err):
		return outcomeParked
	default:
		return outcomeRolledBack
	}
}

// backoff returns the delay before retry number attempts+1.
func backoff(attempts int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempts && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}
