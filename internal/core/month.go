package core

import (
	"cmp"
	"fmt"
	"time"
)

// Month is a calendar month. Months are compared by their Index, so the
// zero value sorts before every real month.
type Month struct {
	Year  int
	Month time.Month
}

// NewMonth builds a normalized month; out-of-range months roll over the
// year the same way time.Date does.
func NewMonth(year int, month time.Month) Month {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Month{Year: t.Year(), Month: t.Month()}
}

// MonthOf returns the calendar month containing t, in t's own location.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// MonthFromIndex is the inverse of Month.Index.
func MonthFromIndex(i int) Month {
	y := i / 12
	m := i % 12
	if m < 0 {
		m += 12
		y--
	}
	return Month{Year: y, Month: time.Month(m + 1)}
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, &ValidationError{Field: "month", Reason: fmt.Sprintf("%q is not YYYY-MM", s)}
	}
	return MonthOf(t), nil
}

// Index returns a dense ordinal: consecutive months differ by one.
func (m Month) Index() int {
	return m.Year*12 + int(m.Month) - 1
}

func (m Month) IsZero() bool { return m.Year == 0 && m.Month == 0 }

// AddMonths returns the month n months later (earlier for negative n).
func (m Month) AddMonths(n int) Month { return MonthFromIndex(m.Index() + n) }

func (m Month) Next() Month { return m.AddMonths(1) }
func (m Month) Prev() Month { return m.AddMonths(-1) }

func (m Month) Before(o Month) bool { return m.Index() < o.Index() }
func (m Month) After(o Month) bool { return m.Index() > o.Index() }

// MonthsUntil returns the number of months from m to o (negative if o is
// earlier).
func (m Month) MonthsUntil(o Month) int { return o.Index() - m.Index() }

// Start returns midnight of the first day of the month in loc.
func (m Month) Start(loc *time.Location) time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, loc)
}

// FirstDay and LastDay are civil dates ("2006-01-02") bounding the month.
func (m Month) FirstDay() string { return fmt.Sprintf("%04d-%02d-01", m.Year, int(m.Month)) }
func (m Month) LastDay() string {
	return fmt.Sprintf("%04d-%02d-%02d", m.Year, int(m.Month), DaysIn(m.Year, m.Month))
}

// Contains reports whether t falls in m on t's local calendar.
func (m Month) Contains(t time.Time) bool { return MonthOf(t) == m }

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

func (m Month) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Month) UnmarshalText(b []byte) error {
	v, err := ParseMonth(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MinMonth returns the earliest non-zero month, or the zero Month if none.
func MinMonth(ms ...Month) Month {
	var out Month
	for _, m := range ms {
		if m.IsZero() {
			continue
		}
		if out.IsZero() || m.Before(out) {
			out = m
		}
	}
	return out
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// CivilDate formats t as "2006-01-02" on its own calendar. Ledger date-range
// filters compare civil dates so storage does not depend on offsets.
func CivilDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

// CompareDay orders a and b by calendar day, each read on its own
// calendar. It returns -1, 0 or +1.
func CompareDay(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if c := cmp.Compare(ay, by); c != 0 {
		return c
	}
	if c := cmp.Compare(am, bm); c != 0 {
		return c
	}
	return cmp.Compare(ad, bd)
}

// OnOrBeforeDay reports whether a falls on or before b's calendar day.
func OnOrBeforeDay(a, b time.Time) bool {
	return CompareDay(a, b) <= 0
}

// Ledger dates are stored as YYYY-MM-DD, so only four-digit years are
// accepted.
const (
	MinYear = 1
	MaxYear = 9999
)

func validDate(field string, t time.Time) error {
	if y := t.Year(); y < MinYear || y > MaxYear {
		return invalid(field, "year %d outside %d..%d", y, MinYear, MaxYear)
	}
	return nil
}

// AddMonthsClamped moves t by n months keeping day as the target
// day-of-month, clamped to the last day of shorter months. Clock time and
// location are preserved.
func AddMonthsClamped(t time.Time, n int, day int) time.Time {
	target := MonthOf(t).AddMonths(n)
	if last := DaysIn(target.Year, target.Month); day > last {
		day = last
	}
	return time.Date(target.Year, target.Month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
