package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/eventsync/internal/event"
	"github.com/roach88/eventsync/internal/remote"
)

// FetchResult is the outcome of one remote read.
type FetchResult struct {
	// Events are the normalized records returned for the query. Nil when
	// the response was superseded.
	Events []event.Event
	// Total is the server's match count, never less than len(Events).
	Total      int
	Generation int64
	// Superseded is set when a newer fetch was applied first; the cache
	// was left untouched.
	Superseded bool
	// Degraded is set when the batch exceeded the enrichment cap.
	Degraded bool
}

// ProgressiveResult is the first, bounded page of a progressive load.
type ProgressiveResult struct {
	Initial    []event.Event
	Total      int
	Degraded   bool
	Superseded bool
}

type fetchOptions struct {
	merge bool
}

// FetchOption configures FetchEvents.
type FetchOption func(*fetchOptions)

// WithMerge merges the fetched records into the current cache by id instead
// of replacing the collection.
func WithMerge() FetchOption {
	return func(o *fetchOptions) {
		o.merge = true
	}
}

// FetchEvents reads q from the remote store and applies the result to the
// cache.
//
// Each call takes a generation from the logical clock before it goes to the
// network. A response whose generation is older than the last applied one is
// discarded on arrival. Records with a queued, in-flight or parked local
// change keep their optimistic version; locally deleted records stay deleted.
// A network failure marks the engine offline and a success marks it online.
func (e *Engine) FetchEvents(ctx context.Context, q remote.Query, opts ...FetchOption) (FetchResult, error) {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return FetchResult{}, errNotRunning
	}
	e.mu.Unlock()

	gen := e.clock.Next()
	page, err := e.remote.List(ctx, q)
	if err != nil {
		e.metrics.fetches.WithLabelValues("error").Inc()
		if remote.KindOf(err) == remote.KindNetwork && ctx.Err() == nil {
			e.mu.Lock()
			if e.setOnlineLocked(false) {
				e.commitLocked()
			}
			e.mu.Unlock()
		}
		slog.Warn("fetch failed", "generation", gen, "error", err)
		return FetchResult{Generation: gen}, err
	}

	fetched, degraded, err := e.normalizeBatch(ctx, page.Events)
	if err != nil {
		return FetchResult{Generation: gen}, err
	}
	if degraded {
		e.metrics.degraded.Inc()
		slog.Warn("batch above enrichment cap, enrichment skipped",
			"generation", gen,
			"size", len(fetched),
			"cap", e.enrichmentCap,
		)
	}
	res := FetchResult{
		Events:     fetched,
		Total:      max(page.Total, len(fetched)),
		Generation: gen,
		Degraded:   degraded,
	}

	e.mu.Lock()
	if !e.clock.Apply(gen) {
		applied := e.clock.Applied()
		e.mu.Unlock()
		e.metrics.fetches.WithLabelValues("superseded").Inc()
		e.metrics.superseded.Inc()
		slog.Debug("fetch superseded", "generation", gen, "applied", applied)
		return FetchResult{Total: res.Total, Generation: gen, Superseded: true, Degraded: degraded}, nil
	}
	cameOnline := e.setOnlineLocked(true)
	e.events = e.applyFetchedLocked(fetched, o.merge)
	e.lastSyncAt = e.now()
	last := q
	e.lastQuery = &last
	var ids []string
	if cameOnline {
		ids = e.pendingIDsLocked()
	}
	st := e.commitLocked()
	e.mu.Unlock()

	e.metrics.fetches.WithLabelValues("ok").Inc()
	slog.Info("fetch applied",
		"generation", gen,
		"fetched", len(fetched),
		"total", res.Total,
		"merge", o.merge,
		"degraded", degraded,
	)
	_ = e.save(ctx, st)
	for _, id := range ids {
		e.queue.Enqueue(id)
	}
	return res, nil
}

// applyFetchedLocked builds the next cache collection from fetched records.
func (e *Engine) applyFetchedLocked(fetched []event.Event, merge bool) []event.Event {
	cached := make(map[string]event.Event, len(e.events))
	for _, ev := range e.events {
		cached[ev.ID] = ev
	}

	next := fetched
	if merge {
		next = event.MergeByID(e.events, fetched)
	}

	out := make([]event.Event, 0, len(next))
	seen := make(map[string]bool, len(next))
	for _, ev := range next {
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		cur, ok := cached[ev.ID]
		if e.hasLocalChangeLocked(ev.ID) {
			if ok {
				out = append(out, cur)
			}
			continue
		}
		if ok && cur.Version > ev.Version {
			ev = cur
		}
		e.raiseWatermarkLocked(ev.ID, ev.Version)
		out = append(out, ev)
	}
	for _, ev := range e.events {
		if !seen[ev.ID] && e.hasLocalChangeLocked(ev.ID) {
			out = append(out, ev)
		}
	}
	return out
}

// FetchEventsProgressive fetches the first bounded page of q. When q has no
// limit the engine's initial limit applies. Total tells the caller whether a
// wider background fetch is worthwhile.
func (e *Engine) FetchEventsProgressive(ctx context.Context, q remote.Query) (ProgressiveResult, error) {
	if q.Limit <= 0 {
		q.Limit = e.initialLimit
	}
	res, err := e.FetchEvents(ctx, q)
	if err != nil {
		return ProgressiveResult{}, err
	}
	return ProgressiveResult{
		Initial:    res.Events,
		Total:      res.Total,
		Degraded:   res.Degraded,
		Superseded: res.Superseded,
	}, nil
}

// ForceUpdateCheck re-runs the most recent query and resumes dispatch of
// pending mutations. The outcome is published as updateCheckCompleted or
// updateCheckError.
func (e *Engine) ForceUpdateCheck(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return errNotRunning
	}
	q := e.lastQuery
	e.mu.Unlock()

	if q == nil {
		err := &Error{Code: ErrCodeNoQuery, Message: "no fetch has run yet"}
		e.bus.publish(Notification{Kind: KindUpdateCheckError, Err: err})
		return err
	}

	res, err := e.FetchEvents(ctx, *q)
	if err != nil {
		e.bus.publish(Notification{Kind: KindUpdateCheckError, Err: err})
		return err
	}
	e.bus.publish(Notification{Kind: KindUpdateCheckCompleted, Count: len(res.Events)})

	e.mu.Lock()
	ids := e.pendingIDsLocked()
	e.mu.Unlock()
	for _, id := range ids {
		e.queue.Enqueue(id)
	}
	return nil
}
