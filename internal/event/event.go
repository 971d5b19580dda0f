package event

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Source tags recognised on Event.Source.
const (
	SourceApp      = "app"
	SourceImported = "imported"
)

// Sentinel is the placeholder position meaning "coordinates not yet known".
// It is the default map center and must never be reported as a resolved venue.
var Sentinel = Coordinate{Lat: 59.4370, Lng: 24.7536}

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// IsSentinel reports whether c is the placeholder pair or the 0,0 origin.
func (c Coordinate) IsSentinel() bool {
	if c.Lat == 0 && c.Lng == 0 {
		return true
	}
	return nearlyEqual(c.Lat, Sentinel.Lat) && nearlyEqual(c.Lng, Sentinel.Lng)
}

// InBounds reports whether c lies within valid geographic bounds.
func (c Coordinate) InBounds() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Known reports whether c is a real, in-bounds position.
func (c Coordinate) Known() bool {
	return c.InBounds() && !c.IsSentinel()
}

// Sanitize returns c if it is in bounds, otherwise the sentinel.
func (c Coordinate) Sanitize() Coordinate {
	if !c.InBounds() || c.IsSentinel() {
		return Sentinel
	}
	return c
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-7
}

// Event is a geotagged happening as cached on the client.
type Event struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string     `json:"category,omitempty" yaml:"category,omitempty"`
	Venue       string     `json:"venue,omitempty" yaml:"venue,omitempty"`
	Address     string     `json:"address,omitempty" yaml:"address,omitempty"`
	Location    Coordinate `json:"location" yaml:"location"`
	StartsAt    time.Time  `json:"starts_at" yaml:"starts_at"`
	CreatorID   *string    `json:"creator_id,omitempty" yaml:"creator_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
	Source      string     `json:"source,omitempty" yaml:"source,omitempty"`

	// Version is assigned by the remote store and increases on every stored
	// change. Zero means the record has never been confirmed.
	Version int64 `json:"version,omitempty" yaml:"version,omitempty"`
}

// HasCreator reports whether the event carries a non-empty owner.
func (e Event) HasCreator() bool {
	return e.CreatorID != nil && *e.CreatorID != ""
}

// OwnedBy reports whether actorID is the recorded creator.
func (e Event) OwnedBy(actorID string) bool {
	return e.HasCreator() && actorID != "" && *e.CreatorID == actorID
}

// Clone returns a deep copy. CreatorID is the only pointer field.
func (e Event) Clone() Event {
	if e.CreatorID != nil {
		id := *e.CreatorID
		e.CreatorID = &id
	}
	return e
}

// Validate checks the fields required before an event is handed to the
// remote store.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("event name is required")
	}
	if e.StartsAt.IsZero() {
		return fmt.Errorf("event %q: start time is required", e.Name)
	}
	if !e.Location.InBounds() {
		return fmt.Errorf("event %q: coordinates %s out of bounds", e.Name, e.Location)
	}
	return nil
}

// StringPtr is a convenience for building CreatorID values.
func StringPtr(s string) *string {
	return &s
}
