package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/eventsync/internal/remote"
)

// ApplyPush applies one server-initiated change and reports whether it was
// applied.
//
// A push is dropped and counted as stale when its version is below the
// event's watermark, or when a local mutation for the event is queued, in
// flight or parked. An unversioned push (version 0) skips the watermark check.
func (e *Engine) ApplyPush(msg remote.PushMessage) bool {
	if err := msg.Validate(); err != nil {
		slog.Warn("push ignored", "error", err)
		return false
	}
	version := msg.Version
	if version == 0 && msg.Event != nil {
		version = msg.Event.Version
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return false
	}
	if (version > 0 && version < e.watermarks[msg.ID]) || e.hasLocalChangeLocked(msg.ID) {
		e.stalePushes++
		e.metrics.stalePushes.Inc()
		wm := e.watermarks[msg.ID]
		st := e.commitLocked()
		e.mu.Unlock()
		slog.Debug("stale push dropped", "event_id", msg.ID, "type", msg.Type, "version", version, "watermark", wm)
		_ = e.save(context.Background(), st)
		return false
	}

	switch msg.Type {
	case remote.PushUpsert:
		ev := e.normalizeOne(*msg.Event)
		if ev.Version == 0 {
			ev.Version = version
		}
		kind := KindEventUpdated
		if e.upsertLocked(ev) {
			kind = KindEventCreated
		}
		e.raiseWatermarkLocked(ev.ID, version)
		e.bus.publish(Notification{Kind: kind, EventID: ev.ID, Event: &ev})
	case remote.PushDelete:
		if !e.removeLocked(msg.ID) {
			e.raiseWatermarkLocked(msg.ID, version)
			e.mu.Unlock()
			return false
		}
		e.raiseWatermarkLocked(msg.ID, version)
		e.bus.publish(Notification{Kind: KindEventDeleted, EventID: msg.ID})
	}
	st := e.commitLocked()
	e.mu.Unlock()

	slog.Debug("push applied", "event_id", msg.ID, "type", msg.Type, "version", version)
	_ = e.save(context.Background(), st)
	return true
}
