// Package event defines the geotagged event record shared by every other
// package: coordinates and their sentinel semantics, date windows, great-circle
// distance, and merging of overlapping fetch results.
//
// # Sentinel Coordinates
//
// A coordinate pair equal to Sentinel (or exactly 0,0) means "location not yet
// known". Callers never treat it as a real position. The venue cache and the
// geocoder collaborator are responsible for replacing it.
//
// # Identity
//
// Event.ID is assigned once (client-chosen UUIDv7 or server id) and never
// changes afterwards. Re-keying from a client id to a server id is an engine
// operation that produces a new record, not an in-place edit.
package event
