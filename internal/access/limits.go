package access

import (
	"fmt"
	"sort"
	"time"
)

// Limits is the fixed allowance of one tier.
type Limits struct {
	MaxRadiusKm       float64  `json:"max_radius_km"`
	MaxEventsPerDay   int      `json:"max_events_per_day"`
	MaxDateWindowDays int      `json:"max_date_window_days"`
	CanCreateEvents   bool     `json:"can_create_events"`
	CanEditEvents     bool     `json:"can_edit_events"`
	CanDeleteEvents   bool     `json:"can_delete_events"`
	Features          []string `json:"features"`
}

// HasFeature reports whether name is in the feature set.
func (l Limits) HasFeature(name string) bool {
	for _, f := range l.Features {
		if f == name {
			return true
		}
	}
	return false
}

// Table maps every tier to its limits.
type Table map[Tier]Limits

// DefaultTable returns the built-in limits.
func DefaultTable() Table {
	return Table{
		Unregistered: {
			MaxRadiusKm:       25,
			MaxEventsPerDay:   0,
			MaxDateWindowDays: 7,
			Features:          []string{"map", "list"},
		},
		Registered: {
			MaxRadiusKm:       100,
			MaxEventsPerDay:   3,
			MaxDateWindowDays: 30,
			CanCreateEvents:   true,
			CanEditEvents:     true,
			CanDeleteEvents:   true,
			Features:          []string{"map", "list", "create_events", "favorites"},
		},
		Premium: {
			MaxRadiusKm:       500,
			MaxEventsPerDay:   20,
			MaxDateWindowDays: 365,
			CanCreateEvents:   true,
			CanEditEvents:     true,
			CanDeleteEvents:   true,
			Features:          []string{"map", "list", "create_events", "favorites", "extended_radius", "advanced_filters", "analytics"},
		},
	}
}

// Validate checks that every tier is present and that each higher tier is at
// least as permissive as the one below it.
func (t Table) Validate() error {
	for _, tier := range Tiers {
		if _, ok := t[tier]; !ok {
			return fmt.Errorf("limits table: missing tier %s", tier)
		}
	}
	for i := 1; i < len(Tiers); i++ {
		lo, hi := t[Tiers[i-1]], t[Tiers[i]]
		name := fmt.Sprintf("%s > %s", Tiers[i], Tiers[i-1])
		switch {
		case hi.MaxRadiusKm < lo.MaxRadiusKm:
			return fmt.Errorf("limits table: %s: max radius decreases", name)
		case hi.MaxEventsPerDay < lo.MaxEventsPerDay:
			return fmt.Errorf("limits table: %s: max events per day decreases", name)
		case hi.MaxDateWindowDays < lo.MaxDateWindowDays:
			return fmt.Errorf("limits table: %s: max date window decreases", name)
		case lo.CanCreateEvents && !hi.CanCreateEvents,
			lo.CanEditEvents && !hi.CanEditEvents,
			lo.CanDeleteEvents && !hi.CanDeleteEvents:
			return fmt.Errorf("limits table: %s: capability removed", name)
		}
		for _, f := range lo.Features {
			if !hi.HasFeature(f) {
				return fmt.Errorf("limits table: %s: feature %q removed", name, f)
			}
		}
	}
	return nil
}

// Policy answers stateless access questions over a limits table.
type Policy struct {
	table Table
	loc   *time.Location
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithLocation sets the time zone that defines a calendar day for the daily
// quota. Defaults to time.Local.
func WithLocation(loc *time.Location) PolicyOption {
	return func(p *Policy) {
		p.loc = loc
	}
}

// NewPolicy validates table and returns a Policy over a copy of it.
func NewPolicy(table Table, opts ...PolicyOption) (*Policy, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	cp := make(Table, len(table))
	for k, v := range table {
		v.Features = append([]string(nil), v.Features...)
		sort.Strings(v.Features)
		cp[k] = v
	}
	p := &Policy{table: cp, loc: time.Local}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// DefaultPolicy returns a Policy over DefaultTable.
func DefaultPolicy(opts ...PolicyOption) *Policy {
	p, err := NewPolicy(DefaultTable(), opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// LimitsFor returns the limits of tier. Unknown tiers get Unregistered limits.
func (p *Policy) LimitsFor(tier Tier) Limits {
	l, ok := p.table[tier]
	if !ok {
		l = p.table[Unregistered]
	}
	l.Features = append([]string(nil), l.Features...)
	return l
}

// CanUseRadius reports whether radiusKm is within the tier's maximum.
func (p *Policy) CanUseRadius(tier Tier, radiusKm float64) bool {
	return radiusKm <= p.LimitsFor(tier).MaxRadiusKm
}

// ClampRadius returns radiusKm limited to the tier maximum and whether it was
// reduced.
func (p *Policy) ClampRadius(tier Tier, radiusKm float64) (float64, bool) {
	max := p.LimitsFor(tier).MaxRadiusKm
	if radiusKm > max {
		return max, true
	}
	return radiusKm, false
}

// CanUseDateWindow reports whether a window of days fits the tier.
func (p *Policy) CanUseDateWindow(tier Tier, days int) bool {
	return days <= p.LimitsFor(tier).MaxDateWindowDays
}

// HasFeature reports whether tier includes feature.
func (p *Policy) HasFeature(tier Tier, feature string) bool {
	return p.LimitsFor(tier).HasFeature(feature)
}

// Location returns the calendar time zone.
func (p *Policy) Location() *time.Location {
	return p.loc
}

// LocalDate formats t as the calendar date in the policy's time zone.
func (p *Policy) LocalDate(t time.Time) string {
	return t.In(p.loc).Format("2006-01-02")
}
