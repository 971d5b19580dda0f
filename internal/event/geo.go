package event

import (
	"math"
	"time"
)

const earthRadiusKm = 6371.0088

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Region is a latitude/longitude bounding box.
type Region struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Contains reports whether c falls inside r (inclusive).
func (r Region) Contains(c Coordinate) bool {
	return c.Lat >= r.MinLat && c.Lat <= r.MaxLat && c.Lng >= r.MinLng && c.Lng <= r.MaxLng
}

// DateWindow is a half-open [From, To) interval of event start times.
type DateWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// WindowFrom returns a window of the given number of days starting at from.
func WindowFrom(from time.Time, days int) DateWindow {
	return DateWindow{From: from, To: from.AddDate(0, 0, days)}
}

// Days returns the window length rounded up to whole days.
func (w DateWindow) Days() int {
	if !w.To.After(w.From) {
		return 0
	}
	d := w.To.Sub(w.From)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// Contains reports whether t falls inside the window.
func (w DateWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}
