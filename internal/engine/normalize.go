package engine

import (
	"context"
	"strings"
	"time"

	"github.com/roach88/eventsync/internal/event"
)

// normalizeBatch prepares fetched records for the cache.
//
// Every record gets minimal normalization. Venue and category enrichment
// runs only when the batch is within the enrichment cap; above it the batch
// is degraded rather than rejected. Work proceeds in chunks with a short
// pause between chunks so a large batch does not monopolize the process.
func (e *Engine) normalizeBatch(ctx context.Context, in []event.Event) (out []event.Event, degraded bool, err error) {
	degraded = e.enrichmentCap > 0 && len(in) > e.enrichmentCap
	out = make([]event.Event, 0, len(in))
	for start := 0; start < len(in); start += e.chunkSize {
		if start > 0 {
			if err := e.yield(ctx); err != nil {
				return nil, false, err
			}
		}
		end := min(start+e.chunkSize, len(in))
		for _, ev := range in[start:end] {
			ev = normalizeMinimal(ev)
			if ev.ID == "" {
				continue
			}
			if !degraded {
				ev = e.enrich(ev)
			}
			out = append(out, ev)
		}
	}
	return out, degraded, nil
}

func (e *Engine) yield(ctx context.Context) error {
	if e.chunkYield <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.chunkYield)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// normalizeMinimal trims text fields and forces coordinates to be valid or
// the sentinel. An empty source stays empty.
func normalizeMinimal(ev event.Event) event.Event {
	ev = ev.Clone()
	ev.ID = strings.TrimSpace(ev.ID)
	ev.Name = strings.TrimSpace(ev.Name)
	ev.Venue = strings.TrimSpace(ev.Venue)
	ev.Address = strings.TrimSpace(ev.Address)
	ev.Location = ev.Location.Sanitize()
	return ev
}

// enrich records the venue observation, repairs placeholder coordinates from
// the venue cache and repairs unknown categories.
func (e *Engine) enrich(ev event.Event) event.Event {
	if ev.Venue != "" {
		e.venues.Observe(ev.Venue, ev.Address, ev.Location)
		ev.Location = e.venues.AutoFix(ev.Venue, ev.Location)
	}
	ev.Category = string(e.classifier.Repair(ev.Category, ev.Name, ev.Description))
	return ev
}

// normalizeOne applies full normalization to a single record.
func (e *Engine) normalizeOne(ev event.Event) event.Event {
	return e.enrich(normalizeMinimal(ev))
}
