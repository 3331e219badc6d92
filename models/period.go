package models

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/hoa_backend/config"
)

// periodLayout renders "March 2025". Every ledger write and every status read keys on this.
const periodLayout = "January 2006"

var periodLocation = config.PeriodLocation()

// PeriodLocation is the timezone billing periods are cut in.
func PeriodLocation() *time.Location {
	return periodLocation
}

// Period is one billing cycle: a calendar month in PeriodLocation.
type Period struct {
	Year  int
	Month time.Month
}

func PeriodOf(t time.Time) Period {
	local := t.In(periodLocation)
	return Period{Year: local.Year(), Month: local.Month()}
}

// PeriodLabel is the canonical grouping key for a point in time.
func PeriodLabel(t time.Time) string {
	return PeriodOf(t).Label()
}

func (p Period) Label() string {
	return p.Start().Format(periodLayout)
}

func (p Period) String() string {
	return p.Label()
}

// Start is midnight of the first day of the period.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, periodLocation)
}

func (p Period) Next() Period {
	return PeriodOf(p.Start().AddDate(0, 1, 0))
}

func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// ParsePeriodLabel is the inverse of Period.Label.
func ParsePeriodLabel(label string) (Period, error) {
	t, err := time.ParseInLocation(periodLayout, label, periodLocation)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period label %q", label)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// PeriodsBetween lists every period from the one containing from to the one containing to, inclusive.
func PeriodsBetween(from, to time.Time) []Period {
	start, end := PeriodOf(from), PeriodOf(to)
	var out []Period
	for p := start; !end.Before(p); p = p.Next() {
		out = append(out, p)
	}
	return out
}
