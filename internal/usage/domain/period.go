package domain

import (
	"strings"
	"time"
)

// Period is a recurring window limits and quotas are enforced over.
type Period string

const (
	PeriodHourly    Period = "hourly"
	PeriodDaily     Period = "daily"
	PeriodWeekly    Period = "weekly"
	PeriodMonthly   Period = "monthly"
	PeriodQuarterly Period = "quarterly"
	PeriodYearly    Period = "yearly"
)

// Valid reports whether the period is a known value.
func (p Period) Valid() bool {
	switch p {
	case PeriodHourly, PeriodDaily, PeriodWeekly, PeriodMonthly,
		PeriodQuarterly, PeriodYearly:
		return true
	}
	return false
}

// ParsePeriod normalizes and validates a period string.
func ParsePeriod(raw string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", ErrInvalidPeriod
	}
	return p, nil
}

// Start returns the canonical start of the period containing ref.
// Weeks start on Monday; quarters are calendar quarters. All boundaries
// are computed in UTC.
func (p Period) Start(ref time.Time) time.Time {
	t := ref.UTC()
	switch p {
	case PeriodHourly:
		return t.Truncate(time.Hour)
	case PeriodDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	case PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case PeriodQuarterly:
		quarterMonth := time.Month((int(t.Month())-1)/3*3 + 1)
		return time.Date(t.Year(), quarterMonth, 1, 0, 0, 0, 0, time.UTC)
	case PeriodYearly:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// End returns the exclusive end of the period containing ref, which is
// the start of the next period.
func (p Period) End(ref time.Time) time.Time {
	start := p.Start(ref)
	switch p {
	case PeriodHourly:
		return start.Add(time.Hour)
	case PeriodDaily:
		return start.AddDate(0, 0, 1)
	case PeriodWeekly:
		return start.AddDate(0, 0, 7)
	case PeriodMonthly:
		return start.AddDate(0, 1, 0)
	case PeriodQuarterly:
		return start.AddDate(0, 3, 0)
	case PeriodYearly:
		return start.AddDate(1, 0, 0)
	}
	return start
}
