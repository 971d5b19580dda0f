package engine

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/remote"
)

// run is the dispatch loop. It drains the work queue and sends one mutation
// at a time until ctx is cancelled or the queue is closed.
//
// CRITICAL: exactly one run goroutine exists per engine, so there is never
// more than one remote mutation in flight for an event id.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	slog.Info("dispatch loop starting")

	for {
		if id, ok := e.queue.TryDequeue(); ok {
			e.dispatch(ctx, id)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("dispatch loop stopping: context cancelled")
			return
		case _, ok := <-e.queue.Wait():
			if !ok {
				slog.Info("dispatch loop stopping: queue closed")
				return
			}
		}
	}
}

// dispatch sends the oldest mutation for id if nothing holds it back:
// offline, read-only, backoff in progress, or a parked earlier mutation.
func (e *Engine) dispatch(ctx context.Context, id string) {
	e.mu.Lock()
	m := e.headLocked(id)
	if m == nil || !e.online || e.readOnly || e.inflight[id] || e.waiting[id] != nil || e.isBlockedLocked(id) {
		e.mu.Unlock()
		return
	}
	e.inflight[id] = true
	m.Attempts++
	attempt := *m
	if m.Payload != nil {
		p := m.Payload.Clone()
		attempt.Payload = &p
	}
	e.mu.Unlock()

	if attempt.Payload != nil && !attempt.Payload.Location.Known() {
		e.geocode(ctx, attempt.Payload)
	}

	slog.Debug("sending mutation",
		"mutation_id", attempt.ID,
		"event_id", attempt.EventID,
		"op", attempt.Op,
		"attempt", attempt.Attempts,
	)
	canonical, err := e.send(ctx, &attempt)

	if err != nil && ctx.Err() != nil {
		// Shutting down: the attempt does not count and the mutation stays
		// queued for the next Init.
		e.mu.Lock()
		delete(e.inflight, id)
		m.Attempts--
		e.mu.Unlock()
		return
	}
	e.complete(ctx, m, attempt.Payload, canonical, err)
}

func (e *Engine) send(ctx context.Context, m *Mutation) (event.Event, error) {
	switch m.Op {
	case OpCreate:
		return e.remote.Create(ctx, *m.Payload)
	case OpUpdate:
		return e.remote.Update(ctx, *m.Payload)
	default:
		return event.Event{}, e.remote.Delete(ctx, m.EventID)
	}
}

// geocode fills p's coordinates from the geocoder when it returns a known
// position inside the configured region.
func (e *Engine) geocode(ctx context.Context, p *event.Event) {
	if e.geocoder == nil {
		return
	}
	query := p.Venue
	if p.Address != "" {
		if query != "" {
			query += ", "
		}
		query += p.Address
	}
	if query == "" {
		return
	}
	c, err := e.geocoder.Geocode(ctx, query)
	if err != nil {
		slog.Warn("geocode failed", "event_id", p.ID, "query", query, "error", err)
		return
	}
	if !c.Known() || !e.region.Contains(c) {
		slog.Debug("geocode result ignored", "event_id", p.ID, "location", c.String())
		return
	}
	p.Location = c
	if p.Venue != "" {
		e.venues.Observe(p.Venue, p.Address, c)
	}
}

// complete applies the result of one remote call.
func (e *Engine) complete(ctx context.Context, m *Mutation, payload *event.Event, canonical event.Event, err error) {
	e.mu.Lock()
	delete(e.inflight, m.EventID)
	if e.headLocked(m.EventID) != m {
		// Removed while in flight.
		e.mu.Unlock()
		return
	}
	if payload != nil {
		m.Payload = payload
	}

	oc := classify(err, m.Attempts, e.maxAttempts)
	e.metrics.mutations.WithLabelValues(string(m.Op), oc.String()).Inc()

	next := m.EventID
	switch oc {
	case outcomeConfirmed:
		next = e.confirmLocked(m, canonical)
	case outcomeRetry:
		e.retryLocked(m, err)
	case outcomeParked:
		e.parkLocked(m, err)
	case outcomeRolledBack:
		e.rollbackLocked(m, err)
	}
	st := e.commitLocked()
	settled := e.takeSettledLocked()
	e.mu.Unlock()

	settled.resolve()
	_ = e.save(ctx, st)
	if oc != outcomeRetry {
		e.queue.Enqueue(next)
	}
}

// confirmLocked replaces the optimistic record with the canonical one and
// returns the id the event now lives under.
func (e *Engine) confirmLocked(m *Mutation, canonical event.Event) string {
	e.removePendingLocked(m)
	e.lastSyncAt = e.now()
	id := m.EventID

	var published *event.Event
	switch m.Op {
	case OpCreate, OpUpdate:
		if canonical.ID == "" {
			canonical = m.Payload.Clone()
		}
		canonical = e.normalizeOne(canonical)
		if canonical.ID != id {
			e.rekeyLocked(id, canonical.ID)
			id = canonical.ID
		}
		e.raiseWatermarkLocked(id, canonical.Version)
		if e.headLocked(id) == nil {
			e.upsertLocked(canonical)
		} else if i := e.findLocked(id); i >= 0 {
			// A later local change is still pending; keep it visible but
			// carry the confirmed version.
			cur := e.events[i]
			cur.Version = canonical.Version
			e.upsertLocked(cur)
		}
		published = &canonical
	case OpDelete:
		published = cloneEvent(m.Previous)
	}

	kind := map[Op]Kind{OpCreate: KindEventCreated, OpUpdate: KindEventUpdated, OpDelete: KindEventDeleted}[m.Op]
	e.bus.publish(Notification{Kind: kind, EventID: id, Event: published})

	var ev event.Event
	if published != nil {
		ev = *published
	}
	e.settleLocked(m.ID, ev, nil)
	slog.Info("mutation confirmed", "mutation_id", m.ID, "event_id", id, "op", m.Op, "attempts", m.Attempts)
	return id
}

// rekeyLocked moves everything known under oldID to newID when the server
// assigns its own id to a created event.
func (e *Engine) rekeyLocked(oldID, newID string) {
	if i := e.findLocked(oldID); i >= 0 {
		next := slices.Clone(e.events)
		next[i].ID = newID
		e.events = next
	}
	for _, list := range [][]*Mutation{e.pending, e.parked} {
		for _, m := range list {
			if m.EventID != oldID {
				continue
			}
			m.EventID = newID
			// Never write through a record another goroutine may hold.
			if m.Payload = cloneEvent(m.Payload); m.Payload != nil {
				m.Payload.ID = newID
			}
			if m.Previous = cloneEvent(m.Previous); m.Previous != nil {
				m.Previous.ID = newID
			}
		}
	}
	if wm, ok := e.watermarks[oldID]; ok {
		e.raiseWatermarkLocked(newID, wm)
		delete(e.watermarks, oldID)
	}
	slog.Info("event re-keyed by server", "client_id", oldID, "server_id", newID)
}

func (e *Engine) retryLocked(m *Mutation, err error) {
	m.LastError = err.Error()
	m.ErrorKind = string(remote.KindOf(err))
	delay := backoff(m.Attempts, e.baseBackoff, e.maxBackoff)
	id := m.EventID
	e.waiting[id] = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.waiting, id)
		e.mu.Unlock()
		e.queue.Enqueue(id)
	})
	e.metrics.retries.Inc()
	slog.Warn("mutation failed, retrying",
		"mutation_id", m.ID,
		"event_id", id,
		"attempt", m.Attempts,
		"max_attempts", e.maxAttempts,
		"retry_in", delay,
		"error", err,
	)
}

// parkLocked moves m to the error list. Authentication failures also switch
// the engine to read-only; the cache is left untouched.
func (e *Engine) parkLocked(m *Mutation, err error) {
	e.removePendingLocked(m)
	m.LastError = err.Error()
	m.ErrorKind = string(remote.KindOf(err))
	e.parked = append(e.parked, m)

	result := err
	if remote.IsAuthentication(err) {
		e.readOnly = true
		slog.Error("authentication rejected, engine is read-only", "mutation_id", m.ID, "event_id", m.EventID, "error", err)
	} else {
		result = &Error{Code: ErrCodeParked, Message: "retries exhausted", EventID: m.EventID, MutationID: m.ID, Err: err}
		slog.Error("mutation parked", "mutation_id", m.ID, "event_id", m.EventID, "attempts", m.Attempts, "error", err)
	}
	e.settleLocked(m.ID, event.Event{}, result)
}

// rollbackLocked undoes a rejected mutation and every later mutation for the
// same event, which were built on top of it. The rejected mutation's receipt
// gets err unmodified; later receipts get a DISCARDED error.
func (e *Engine) rollbackLocked(m *Mutation, err error) {
	var later []*Mutation
	for _, x := range e.pending {
		if x != m && x.EventID == m.EventID {
			later = append(later, x)
		}
	}
	e.pending = slices.DeleteFunc(e.pending, func(x *Mutation) bool { return x.EventID == m.EventID })

	e.undoLocked(m)
	e.settleLocked(m.ID, event.Event{}, err)
	for _, x := range later {
		e.settleLocked(x.ID, event.Event{}, &Error{Code: ErrCodeDiscarded, Message: "earlier change was rejected", EventID: x.EventID, MutationID: x.ID, Err: err})
	}
	slog.Warn("mutation rejected, rolled back",
		"mutation_id", m.ID,
		"event_id", m.EventID,
		"op", m.Op,
		"discarded", len(later),
		"error", err,
	)
}

// undoLocked puts the cache back to how it was before m was applied.
func (e *Engine) undoLocked(m *Mutation) {
	switch m.Op {
	case OpCreate:
		e.removeLocked(m.EventID)
		e.quota.Release(e.policy.LocalDate(m.EnqueuedAt))
		e.bus.publish(Notification{Kind: KindEventDeleted, EventID: m.EventID, Event: cloneEvent(m.Payload), Rollback: true})
	case OpUpdate, OpDelete:
		if m.Previous == nil {
			return
		}
		prev := m.Previous.Clone()
		kind := KindEventUpdated
		if e.upsertLocked(prev) {
			kind = KindEventCreated
		}
		e.bus.publish(Notification{Kind: kind, EventID: m.EventID, Event: &prev, Rollback: true})
	}
}
