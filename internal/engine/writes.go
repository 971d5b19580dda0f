package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/eventsync/internal/access"
	"github.com/roach88/eventsync/internal/event"
)

// CreateEvent applies draft optimistically and queues a remote create.
//
// Capability, read-only mode and the daily quota are checked first; a denial
// returns *access.PermissionError and nothing is queued or sent. An empty
// draft id gets a client-chosen UUIDv7. The creator defaults to the actor.
func (e *Engine) CreateEvent(ctx context.Context, actor access.Actor, draft event.Event) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := e.now()
	tier := actor.TierAt(now)

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil, errNotRunning
	}
	if err := e.checkWritableLocked(tier); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if !e.policy.LimitsFor(tier).CanCreateEvents {
		e.mu.Unlock()
		return nil, e.policy.Deny(tier, access.ReasonCapability)
	}

	ev := draft.Clone()
	if ev.ID == "" {
		ev.ID = e.eventIDs.Generate()
	}
	if !ev.HasCreator() && actor.ID != "" {
		ev.CreatorID = event.StringPtr(actor.ID)
	}
	if ev.Source == "" {
		ev.Source = event.SourceApp
	}
	ev.CreatedAt = now
	ev.UpdatedAt = now
	ev.Version = 0
	ev = e.normalizeOne(ev)
	if err := ev.Validate(); err != nil {
		e.mu.Unlock()
		return nil, &Error{Code: ErrCodeInvalidEvent, Message: "create rejected", EventID: ev.ID, Err: err}
	}
	if e.findLocked(ev.ID) >= 0 || e.hasLocalChangeLocked(ev.ID) {
		e.mu.Unlock()
		return nil, &Error{Code: ErrCodeDuplicateEvent, Message: "event id already exists", EventID: ev.ID}
	}

	if err := e.quota.Consume(e.policy, tier, e.policy.LocalDate(now)); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	e.upsertLocked(ev)
	payload := ev.Clone()
	r := e.enqueueLocked(&Mutation{EventID: ev.ID, Op: OpCreate, Payload: &payload}, now)
	e.bus.publish(Notification{Kind: KindEventCreated, EventID: ev.ID, Event: &ev, Pending: true})
	st := e.commitLocked()
	e.mu.Unlock()

	slog.Info("event created locally", "event_id", ev.ID, "mutation_id", r.MutationID, "tier", tier.String())
	_ = e.save(ctx, st)
	e.queue.Enqueue(ev.ID)
	return r, nil
}

// UpdateEvent applies ev over the cached record with the same id and queues
// a remote update. Ownership is checked against the cached record, and the
// id, creator, creation time and source are kept from it.
func (e *Engine) UpdateEvent(ctx context.Context, actor access.Actor, ev event.Event) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := e.now()
	tier := actor.TierAt(now)

	e.mu.Lock()
	current, err := e.authorizeLocked(actor, tier, ev.ID, now, OpUpdate)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	next := ev.Clone()
	next.CreatorID = current.Clone().CreatorID
	next.CreatedAt = current.CreatedAt
	next.Source = current.Source
	next.Version = current.Version
	next.UpdatedAt = now
	next = e.normalizeOne(next)
	if err := next.Validate(); err != nil {
		e.mu.Unlock()
		return nil, &Error{Code: ErrCodeInvalidEvent, Message: "update rejected", EventID: ev.ID, Err: err}
	}

	e.upsertLocked(next)
	payload := next.Clone()
	prev := current.Clone()
	r := e.enqueueLocked(&Mutation{EventID: next.ID, Op: OpUpdate, Payload: &payload, Previous: &prev}, now)
	e.bus.publish(Notification{Kind: KindEventUpdated, EventID: next.ID, Event: &next, Pending: true})
	st := e.commitLocked()
	e.mu.Unlock()

	slog.Info("event updated locally", "event_id", next.ID, "mutation_id", r.MutationID)
	_ = e.save(ctx, st)
	e.queue.Enqueue(next.ID)
	return r, nil
}

// DeleteEvent removes the cached record optimistically and queues a remote
// delete. The same ownership rule as UpdateEvent applies.
func (e *Engine) DeleteEvent(ctx context.Context, actor access.Actor, id string) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := e.now()
	tier := actor.TierAt(now)

	e.mu.Lock()
	current, err := e.authorizeLocked(actor, tier, id, now, OpDelete)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	e.removeLocked(id)
	prev := current.Clone()
	r := e.enqueueLocked(&Mutation{EventID: id, Op: OpDelete, Previous: &prev}, now)
	e.bus.publish(Notification{Kind: KindEventDeleted, EventID: id, Event: &current, Pending: true})
	st := e.commitLocked()
	e.mu.Unlock()

	slog.Info("event deleted locally", "event_id", id, "mutation_id", r.MutationID)
	_ = e.save(ctx, st)
	e.queue.Enqueue(id)
	return r, nil
}

func (e *Engine) checkWritableLocked(tier access.Tier) error {
	if e.readOnly {
		return e.policy.Deny(tier, access.ReasonReadOnly)
	}
	return nil
}

// authorizeLocked finds id and checks that actor may apply op to it. A tier
// without the capability gets a capability denial; a capable tier that does
// not own the record gets an ownership denial.
func (e *Engine) authorizeLocked(actor access.Actor, tier access.Tier, id string, now time.Time, op Op) (event.Event, error) {
	if !e.running {
		return event.Event{}, errNotRunning
	}
	if err := e.checkWritableLocked(tier); err != nil {
		return event.Event{}, err
	}
	i := e.findLocked(id)
	if i < 0 {
		return event.Event{}, &Error{Code: ErrCodeUnknownEvent, Message: "event not in local cache", EventID: id}
	}
	current := e.events[i]

	limits := e.policy.LimitsFor(tier)
	capable, allowed := limits.CanEditEvents, e.policy.CanEditEvent
	if op == OpDelete {
		capable, allowed = limits.CanDeleteEvents, e.policy.CanDeleteEvent
	}
	if !capable {
		return event.Event{}, e.policy.Deny(tier, access.ReasonCapability)
	}
	if !allowed(actor, current, now) {
		return event.Event{}, e.policy.Deny(tier, access.ReasonOwnership)
	}
	return current, nil
}

// enqueueLocked stamps m with an id, the next per-event sequence number and
// the enqueue time, appends it to the queue and returns its receipt.
func (e *Engine) enqueueLocked(m *Mutation, now time.Time) *Receipt {
	m.ID = e.mutationIDs.Generate()
	m.Seq = e.nextSeqLocked(m.EventID)
	m.EnqueuedAt = now
	e.pending = append(e.pending, m)
	r := newReceipt(m)
	e.receipts[m.ID] = r
	return r
}
