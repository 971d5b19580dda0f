// Package access derives a user's tier from authentication and subscription
// state and answers what that tier may do: search radius, date window, daily
// creation quota, and event ownership.
//
// Tier is never stored. Subscriptions lapse passively, so every check derives
// the tier again from (subscription, authenticated, now).
package access

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a user's access level.
type Tier int

const (
	Unregistered Tier = iota
	Registered
	Premium
)

// Tiers lists all tiers from lowest to highest.
var Tiers = []Tier{Unregistered, Registered, Premium}

func (t Tier) String() string {
	switch t {
	case Unregistered:
		return "unregistered"
	case Registered:
		return "registered"
	case Premium:
		return "premium"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unregistered", "anonymous", "guest":
		return Unregistered, nil
	case "registered", "free":
		return Registered, nil
	case "premium":
		return Premium, nil
	}
	return Unregistered, fmt.Errorf("unknown tier %q", s)
}

// SubscriptionPremium is the only status that grants Premium.
const SubscriptionPremium = "premium"

// Subscription is the billing record attached to an account.
type Subscription struct {
	Status    string     `json:"status"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	AutoRenew bool       `json:"auto_renew"`
}

// ActiveAt reports whether the subscription grants premium at now.
func (s *Subscription) ActiveAt(now time.Time) bool {
	if s == nil || s.Status != SubscriptionPremium {
		return false
	}
	return s.EndsAt == nil || s.EndsAt.After(now)
}

// DeriveTier computes the tier: Unregistered without authentication, Premium
// while a premium subscription has no end date or ends after now, otherwise
// Registered.
func DeriveTier(sub *Subscription, isAuthenticated bool, now time.Time) Tier {
	if !isAuthenticated {
		return Unregistered
	}
	if sub.ActiveAt(now) {
		return Premium
	}
	return Registered
}

// Actor is whoever issues an intent.
type Actor struct {
	ID            string
	Authenticated bool
	Subscription  *Subscription
}

// Anonymous is the unauthenticated actor.
var Anonymous = Actor{}

// TierAt derives the actor's tier at now.
func (a Actor) TierAt(now time.Time) Tier {
	return DeriveTier(a.Subscription, a.Authenticated && a.ID != "", now)
}
