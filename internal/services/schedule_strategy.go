// This file implements the per-frequency advance strategies used by the
// recurrence engine. Each frequency has its own Advancer; monthly and yearly
// schedules keep the anchor's day-of-month and clamp it to shorter months.

package services

import (
	"fmt"
	"time"

	"famfin/internal/core"
)

// Advancer computes the occurrence that follows cur.
type Advancer interface {
	// Next returns the due date after cur for a schedule anchored at anchor
	// that repeats every interval units.
	Next(cur, anchor time.Time, interval int) time.Time
}

// DailyAdvancer moves by whole calendar days.
type DailyAdvancer struct{}

func (DailyAdvancer) Next(cur, _ time.Time, interval int) time.Time {
	return cur.AddDate(0, 0, interval)
}

// WeeklyAdvancer moves by whole weeks.
type WeeklyAdvancer struct{}

func (WeeklyAdvancer) Next(cur, _ time.Time, interval int) time.Time {
	return cur.AddDate(0, 0, 7*interval)
}

// MonthlyAdvancer moves by calendar months. A schedule anchored on the 31st
// lands on the last day of shorter months and returns to the 31st after.
type MonthlyAdvancer struct{}

func (MonthlyAdvancer) Next(cur, anchor time.Time, interval int) time.Time {
	return core.AddMonthsClamped(cur, interval, anchor.Day())
}

// YearlyAdvancer moves by calendar years; Feb 29 anchors fall on Feb 28 in
// common years.
type YearlyAdvancer struct{}

func (YearlyAdvancer) Next(cur, anchor time.Time, interval int) time.Time {
	return core.AddMonthsClamped(cur, 12*interval, anchor.Day())
}

var advancers = map[core.Frequency]Advancer{
	core.Daily:   DailyAdvancer{},
	core.Weekly:  WeeklyAdvancer{},
	core.Monthly: MonthlyAdvancer{},
	core.Yearly:  YearlyAdvancer{},
}

// GetAdvancer returns the advancer for a frequency.
func GetAdvancer(f core.Frequency) (Advancer, error) {
	a, ok := advancers[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidFrequency, f)
	}
	return a, nil
}
