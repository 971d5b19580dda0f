package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/eventsync/internal/event"
)

// ClearSyncErrors discards every parked mutation and undoes its optimistic
// change. Later mutations for the same events were built on the discarded
// ones and are discarded with them. Read-only mode is left as is.
func (e *Engine) ClearSyncErrors() {
	e.mu.Lock()
	if len(e.parked) == 0 {
		e.mu.Unlock()
		return
	}
	parked := e.parked
	e.parked = nil

	cleared := make(map[string]bool, len(parked))
	for _, m := range parked {
		cleared[m.EventID] = true
	}
	var later []*Mutation
	kept := e.pending[:0:0]
	for _, m := range e.pending {
		if cleared[m.EventID] {
			later = append(later, m)
			continue
		}
		kept = append(kept, m)
	}
	e.pending = kept

	// Undo newest first so each event ends at its pre-write state.
	undo := append(append([]*Mutation{}, parked...), later...)
	for i := len(undo) - 1; i >= 0; i-- {
		e.undoLocked(undo[i])
	}
	for _, m := range undo {
		e.settleLocked(m.ID, event.Event{}, &Error{Code: ErrCodeDiscarded, Message: "sync error cleared", EventID: m.EventID, MutationID: m.ID})
	}
	st := e.commitLocked()
	settled := e.takeSettledLocked()
	e.mu.Unlock()

	settled.resolve()

	slog.Info("sync errors cleared", "parked", len(parked), "discarded", len(later))
	_ = e.save(context.Background(), st)
}

// RetryFailed moves every parked mutation back to the front of the queue
// with a fresh attempt budget and leaves read-only mode.
func (e *Engine) RetryFailed() {
	e.mu.Lock()
	parked := e.parked
	e.parked = nil
	wasReadOnly := e.readOnly
	e.readOnly = false
	if len(parked) == 0 && !wasReadOnly {
		e.mu.Unlock()
		return
	}
	for _, m := range parked {
		m.Attempts = 0
		m.LastError = ""
		m.ErrorKind = ""
	}
	e.pending = append(parked, e.pending...)
	ids := e.pendingIDsLocked()
	st := e.commitLocked()
	e.mu.Unlock()

	slog.Info("retrying parked mutations", "count", len(parked), "was_read_only", wasReadOnly)
	_ = e.save(context.Background(), st)
	for _, id := range ids {
		e.queue.Enqueue(id)
	}
}
