// Package cluster collapses events that render at the same map position into
// a single marker.
//
// Only identical positions are grouped: coordinates are rounded to six decimal
// places (about 0.1 m) and events sharing the rounded key form one cluster.
// There is no radius-based or hierarchical merging.
//
// Build performs no capping or sampling; callers bound the input size.
package cluster

import (
	"fmt"
	"math"
	"sort"

	"github.com/roach88/eventsync/internal/event"
)

// precision is the rounding scale for location keys (1e6 = 6 decimals).
const precision = 1e6

// Cluster is one map marker. It is derived on every call and has no identity
// beyond its location key.
type Cluster struct {
	Key        string           `json:"key"`
	Location   event.Coordinate `json:"location"`
	Events     []event.Event    `json:"events"`
	Count      int              `json:"count"`
	Categories []string         `json:"categories"`
}

// IsSingle reports whether the cluster holds exactly one event.
func (c Cluster) IsSingle() bool {
	return c.Count == 1
}

// Key returns the location key for c.
func Key(c event.Coordinate) string {
	lat := int64(math.Round(c.Lat * precision))
	lng := int64(math.Round(c.Lng * precision))
	return fmt.Sprintf("%d:%d", lat, lng)
}

// Build groups events by location key. Clusters appear in the order their key
// is first seen in events. Members are sorted by start time ascending; equal
// start times keep their input order. The representative location is the
// first member's coordinate.
func Build(events []event.Event) []Cluster {
	index := make(map[string]int)
	var out []Cluster

	for _, ev := range events {
		key := Key(ev.Location)
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, Cluster{Key: key})
		}
		out[i].Events = append(out[i].Events, ev)
	}

	for i := range out {
		c := &out[i]
		sort.SliceStable(c.Events, func(a, b int) bool {
			return c.Events[a].StartsAt.Before(c.Events[b].StartsAt)
		})
		c.Count = len(c.Events)
		c.Location = c.Events[0].Location
		c.Categories = distinctCategories(c.Events)
	}

	if out == nil {
		out = []Cluster{}
	}
	return out
}

func distinctCategories(events []event.Event) []string {
	seen := make(map[string]bool)
	cats := []string{}
	for _, ev := range events {
		if ev.Category == "" || seen[ev.Category] {
			continue
		}
		seen[ev.Category] = true
		cats = append(cats, ev.Category)
	}
	return cats
}

// Summary describes a cluster set.
type Summary struct {
	Clusters int `json:"clusters"`
	Events   int `json:"events"`
	Singles  int `json:"singles"`
	Largest  int `json:"largest"`
}

// Summarize counts clusters, events, single-event markers and the largest
// cluster size.
func Summarize(clusters []Cluster) Summary {
	s := Summary{Clusters: len(clusters)}
	for _, c := range clusters {
		s.Events += c.Count
		if c.IsSingle() {
			s.Singles++
		}
		if c.Count > s.Largest {
			s.Largest = c.Count
		}
	}
	return s
}
