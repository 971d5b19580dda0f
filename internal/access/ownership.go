package access

import (
	"time"

	"github.com/roach88/eventsync/internal/event"
)

// CanEditEvent reports whether actor may change ev: the actor's tier must
// carry the edit capability and the actor must own the event.
//
// Legacy carve-out: records written before creator ids existed have no
// CreatorID. Those are editable by any editor when their source is the app
// itself; imported records without an owner stay read-only.
func (p *Policy) CanEditEvent(actor Actor, ev event.Event, now time.Time) bool {
	if !p.LimitsFor(actor.TierAt(now)).CanEditEvents {
		return false
	}
	return ownsOrLegacy(actor, ev)
}

// CanDeleteEvent applies the same ownership rule with the delete capability.
func (p *Policy) CanDeleteEvent(actor Actor, ev event.Event, now time.Time) bool {
	if !p.LimitsFor(actor.TierAt(now)).CanDeleteEvents {
		return false
	}
	return ownsOrLegacy(actor, ev)
}

func ownsOrLegacy(actor Actor, ev event.Event) bool {
	if actor.ID == "" {
		return false
	}
	if ev.HasCreator() {
		return ev.OwnedBy(actor.ID)
	}
	return ev.Source == event.SourceApp
}
