package models

import "time"

// NextStatus derives a member's status for the current period.
//
// A payment always makes the member Active. Without one, a member still inside the grace
// window keeps whatever status it has: New/Pending stay untouched, and an official's
// explicit Active/Inactive is authoritative. Everyone else becomes Inactive.
func NextStatus(current MemberStatus, paidThisPeriod, isNewThisPeriod bool) MemberStatus {
	if paidThisPeriod {
		return MemberStatusActive
	}
	if isNewThisPeriod {
		return current
	}
	return MemberStatusInactive
}

// GracePolicy decides whether a member is still "new" at a given time.
// Days == 0 means created within the same period as now.
type GracePolicy struct {
	Days int
}

func (g GracePolicy) IsNewThisPeriod(createdAt, now time.Time) bool {
	if createdAt.IsZero() {
		return false
	}
	if g.Days > 0 {
		return now.Sub(createdAt) < time.Duration(g.Days)*24*time.Hour
	}
	return PeriodLabel(createdAt) == PeriodLabel(now)
}
