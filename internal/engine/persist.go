package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/eventsync/internal/access"
	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/store"
	"github.com/roach88/eventsync/internal/venue"
)

// Keys under which the engine persists its documents.
const (
	KeyEvents    = "events"
	KeyVenues    = "venues"
	KeyMutations = "mutations"
	KeyQuota     = "quota"
)

type mutationDoc struct {
	Pending    []*Mutation      `json:"pending"`
	Parked     []*Mutation      `json:"parked"`
	Watermarks map[string]int64 `json:"watermarks"`
	ReadOnly   bool             `json:"read_only"`
}

// persisted is one consistent copy of the durable state.
type persisted struct {
	seq       int64
	Events    []event.Event
	Mutations mutationDoc
	Quota     access.DailyQuota
}

// persistedLocked copies the durable state. Mutations and their records are
// deep-copied so the dispatch loop can keep updating its own.
func (e *Engine) persistedLocked() *persisted {
	st := &persisted{
		seq:    e.saveSeq,
		Events: e.events,
		Mutations: mutationDoc{
			Pending:    copyMutations(e.pending),
			Parked:     copyMutations(e.parked),
			Watermarks: make(map[string]int64, len(e.watermarks)),
			ReadOnly:   e.readOnly,
		},
		Quota: e.quota,
	}
	for k, v := range e.watermarks {
		st.Mutations.Watermarks[k] = v
	}
	return st
}

func copyMutations(ms []*Mutation) []*Mutation {
	out := make([]*Mutation, len(ms))
	for i, m := range ms {
		cp := *m
		cp.Payload = cloneEvent(m.Payload)
		cp.Previous = cloneEvent(m.Previous)
		out[i] = &cp
	}
	return out
}

func cloneEvent(ev *event.Event) *event.Event {
	if ev == nil {
		return nil
	}
	c := ev.Clone()
	return &c
}

// save writes st unless a newer state was already written.
// Failures are logged and returned; in-memory state stays authoritative.
func (e *Engine) save(ctx context.Context, st *persisted) error {
	if st == nil || e.kv == nil {
		return nil
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	if st.seq <= e.savedSeq {
		return nil
	}

	err := errors.Join(
		store.SaveJSON(ctx, e.kv, KeyEvents, st.Events),
		store.SaveJSON(ctx, e.kv, KeyVenues, e.venues.Snapshot()),
		store.SaveJSON(ctx, e.kv, KeyMutations, st.Mutations),
		store.SaveJSON(ctx, e.kv, KeyQuota, st.Quota),
	)
	if err != nil {
		slog.Error("persist engine state", "error", err)
		return fmt.Errorf("persist: %w", err)
	}
	e.savedSeq = st.seq
	return nil
}

// load reads every persisted document. Missing keys leave zero values.
func (e *Engine) load(ctx context.Context) (*persisted, error) {
	st := &persisted{}
	if e.kv == nil {
		return st, nil
	}
	var venues []venue.Record
	if _, err := store.LoadJSON(ctx, e.kv, KeyEvents, &st.Events); err != nil {
		return nil, err
	}
	if _, err := store.LoadJSON(ctx, e.kv, KeyVenues, &venues); err != nil {
		return nil, err
	}
	if _, err := store.LoadJSON(ctx, e.kv, KeyMutations, &st.Mutations); err != nil {
		return nil, err
	}
	if _, err := store.LoadJSON(ctx, e.kv, KeyQuota, &st.Quota); err != nil {
		return nil, err
	}
	if len(venues) > 0 {
		e.venues.Restore(venues)
	}
	return st, nil
}

func (e *Engine) restoreLocked(st *persisted) {
	e.events = st.Events
	e.pending = st.Mutations.Pending
	e.parked = st.Mutations.Parked
	e.readOnly = st.Mutations.ReadOnly
	e.quota = st.Quota
	for k, v := range st.Mutations.Watermarks {
		e.watermarks[k] = v
	}
	for _, ev := range e.events {
		e.raiseWatermarkLocked(ev.ID, ev.Version)
	}
	for _, m := range e.pending {
		e.raiseWatermarkLocked(m.EventID, m.Seq)
	}
	for _, m := range e.parked {
		e.raiseWatermarkLocked(m.EventID, m.Seq)
	}
}
