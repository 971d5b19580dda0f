package loader

import (
	"math"
	"time"

	"github.com/roach88/eventsync/internal/event"
)

// Radius sources reported in RadiusDecision.Source.
const (
	SourceUser    = "user"
	SourceDensity = "density"
	SourceSparse  = "sparse"
)

// RadiusDecision explains the radius chosen for an initial fetch.
type RadiusDecision struct {
	RadiusKm float64
	// Clamped is set when the tier maximum cut the radius down.
	Clamped bool
	Source  string
	// Center names the density center used, if any.
	Center string
}

// InitialRadius picks the radius of the first fetch around center.
//
// An explicit user radius wins. Otherwise the nearest density center within
// the match distance supplies its tuned radius, and failing that the sparse
// default applies. The result never exceeds maxRadiusKm.
func (l *Loader) InitialRadius(center event.Coordinate, userRadiusKm, maxRadiusKm float64) RadiusDecision {
	var d RadiusDecision
	switch {
	case userRadiusKm > 0:
		d = RadiusDecision{RadiusKm: userRadiusKm, Source: SourceUser}
	default:
		d = RadiusDecision{RadiusKm: l.sparseRadiusKm, Source: SourceSparse}
		best := math.Inf(1)
		for _, c := range l.centers {
			dist := event.DistanceKm(center, c.Location)
			if dist <= l.matchDistanceKm && dist < best {
				best = dist
				d = RadiusDecision{RadiusKm: c.RadiusKm, Source: SourceDensity, Center: c.Name}
			}
		}
	}
	if d.RadiusKm > maxRadiusKm {
		d.RadiusKm = maxRadiusKm
		d.Clamped = true
	}
	return d
}

// ClampWindow shortens window to at most maxDays, keeping its start.
// The zero window becomes maxDays from now and counts as clamped.
func ClampWindow(window event.DateWindow, maxDays int, now time.Time) (event.DateWindow, bool) {
	if window.From.IsZero() && window.To.IsZero() {
		return event.WindowFrom(now, maxDays), true
	}
	if window.Days() <= maxDays {
		return window, false
	}
	return event.WindowFrom(window.From, maxDays), true
}

// ExpansionRadius widens current for the background fetch. The fewer events
// the first page found, the more aggressively it widens. The result is
// capped at maxRadiusKm and clamped reports whether the cap applied.
func ExpansionRadius(current float64, count int, maxRadiusKm float64) (radius float64, clamped bool) {
	factor := 1.5
	switch {
	case count < 50:
		factor = 3
	case count < 200:
		factor = 2
	}
	want := current * factor
	if want > maxRadiusKm {
		return maxRadiusKm, true
	}
	return want, false
}
