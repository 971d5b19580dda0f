package access

import "fmt"

// messageRule pairs a condition with the text shown when an action is denied.
// Rules are evaluated in order; the first match wins.
type messageRule struct {
	when func(Tier, Reason) bool
	text func(p *Policy, t Tier) string
}

func is(reason Reason, tiers ...Tier) func(Tier, Reason) bool {
	return func(t Tier, r Reason) bool {
		if r != reason {
			return false
		}
		if len(tiers) == 0 {
			return true
		}
		for _, want := range tiers {
			if t == want {
				return true
			}
		}
		return false
	}
}

func static(s string) func(*Policy, Tier) string {
	return func(*Policy, Tier) string { return s }
}

var denialMessages = []messageRule{
	{is(ReasonReadOnly), static("Your session has expired. Sign in again to sync your changes.")},
	{is(ReasonCapability, Unregistered), static("Sign in to create and manage events.")},
	{is(ReasonCapability), static("This action is not available for your account.")},
	{is(ReasonOwnership), static("Only the creator of this event can change it.")},
	{is(ReasonQuota, Unregistered), static("Sign in to create events.")},
	{is(ReasonQuota, Registered), func(p *Policy, t Tier) string {
		return fmt.Sprintf("You have reached today's limit of %d events. Premium allows up to %d per day.",
			p.LimitsFor(t).MaxEventsPerDay, p.LimitsFor(Premium).MaxEventsPerDay)
	}},
	{is(ReasonQuota), func(p *Policy, t Tier) string {
		return fmt.Sprintf("You have reached today's limit of %d events. Try again tomorrow.", p.LimitsFor(t).MaxEventsPerDay)
	}},
	{is(ReasonRadius, Premium), func(p *Policy, t Tier) string {
		return fmt.Sprintf("The maximum search radius is %.0f km.", p.LimitsFor(t).MaxRadiusKm)
	}},
	{is(ReasonRadius), func(p *Policy, t Tier) string {
		return fmt.Sprintf("Your search radius is limited to %.0f km. Premium extends it to %.0f km.",
			p.LimitsFor(t).MaxRadiusKm, p.LimitsFor(Premium).MaxRadiusKm)
	}},
	{is(ReasonDateWindow, Premium), func(p *Policy, t Tier) string {
		return fmt.Sprintf("You can look at most %d days ahead.", p.LimitsFor(t).MaxDateWindowDays)
	}},
	{is(ReasonDateWindow), func(p *Policy, t Tier) string {
		return fmt.Sprintf("You can look %d days ahead. Premium extends this to %d days.",
			p.LimitsFor(t).MaxDateWindowDays, p.LimitsFor(Premium).MaxDateWindowDays)
	}},
}

// DenialMessage returns the user-facing explanation for a denial.
func (p *Policy) DenialMessage(tier Tier, reason Reason) string {
	for _, r := range denialMessages {
		if r.when(tier, reason) {
			return r.text(p, tier)
		}
	}
	return "This action is not available for your account."
}
