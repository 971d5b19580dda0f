// Package remote talks to the authoritative event store.
//
// Store is the interface the engine depends on. HTTPClient implements it over
// JSON/HTTP, and PushListener receives server-initiated changes over a
// websocket. Every failure is reported as *Error with a Kind so callers can
// decide between retrying and surfacing it.
package remote

import (
	"context"

	"github.com/roach88/eventsync/internal/event"
)

// Query scopes a read to a circle and a date window.
type Query struct {
	Center   event.Coordinate
	RadiusKm float64
	Window   event.DateWindow
	// Limit caps the page size. Zero lets the server pick.
	Limit int
}

// Page is one read result. Total counts every match, not just this page.
type Page struct {
	Events []event.Event `json:"events"`
	Total  int           `json:"total"`
}

// Store is the remote CRUD surface. Create and Update return the canonical
// stored record, which may carry a different id than the one sent.
type Store interface {
	List(ctx context.Context, q Query) (Page, error)
	Create(ctx context.Context, ev event.Event) (event.Event, error)
	Update(ctx context.Context, ev event.Event) (event.Event, error)
	Delete(ctx context.Context, id string) error
}
