package access

// DailyQuotaRemaining returns how many events tier may still create today.
//
// The quota follows the local calendar date, not a rolling 24 hours: when
// lastCreatedLocalDate differs from today the full allowance is available no
// matter how many were created on the earlier day.
func (p *Policy) DailyQuotaRemaining(tier Tier, lastCreatedLocalDate string, createdTodayCount int, today string) int {
	max := p.LimitsFor(tier).MaxEventsPerDay
	if lastCreatedLocalDate != today {
		return max
	}
	remaining := max - createdTodayCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DailyQuota tracks creations on the current calendar day.
//
// The zero value is an unused quota. DailyQuota is not safe for concurrent
// use; the engine guards it with its writer lock.
type DailyQuota struct {
	LastDate string `json:"last_date"`
	Count    int    `json:"count"`
}

// Remaining returns the allowance left for tier on today.
func (q *DailyQuota) Remaining(p *Policy, tier Tier, today string) int {
	return p.DailyQuotaRemaining(tier, q.LastDate, q.Count, today)
}

// Consume records one creation on today, or returns a quota PermissionError
// without recording anything when nothing is left.
func (q *DailyQuota) Consume(p *Policy, tier Tier, today string) error {
	if q.Remaining(p, tier, today) <= 0 {
		return p.Deny(tier, ReasonQuota)
	}
	if q.LastDate != today {
		q.LastDate = today
		q.Count = 0
	}
	q.Count++
	return nil
}

// Release undoes one Consume on today, used when an optimistic create is
// rolled back before the server accepted it.
func (q *DailyQuota) Release(today string) {
	if q.LastDate == today && q.Count > 0 {
		q.Count--
	}
}
