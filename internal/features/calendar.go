package features

import (
	"sort"
	"time"
)

// holidayHorizonCap bounds the days-to/since-holiday features. Distances
// beyond the horizon collapse to the cap, not to a sentinel.
const holidayHorizonCap = 30

// CalendarFunc supplies the holiday calendar covering a date range.
// The default is USCalendar; an external provider can be swapped in.
type CalendarFunc func(start, end time.Time) Calendar

// Calendar is an immutable set of holiday dates used for proximity
// features. Construct one per country/year-range via NewCalendar.
type Calendar struct {
	dates  map[string]bool
	sorted []time.Time
}

// NewCalendar builds a calendar from a set of holiday dates. Dates are
// normalized to UTC midnight and deduplicated.
func NewCalendar(holidays []time.Time) Calendar {
	set := make(map[string]bool, len(holidays))
	var sorted []time.Time
	for _, h := range holidays {
		d := midnightUTC(h)
		key := d.Format("2006-01-02")
		if set[key] {
			continue
		}
		set[key] = true
		sorted = append(sorted, d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	return Calendar{dates: set, sorted: sorted}
}

// IsHoliday reports whether d falls on a holiday.
func (c Calendar) IsHoliday(d time.Time) bool {
	return c.dates[midnightUTC(d).Format("2006-01-02")]
}

// DaysToNext returns the number of days until the next holiday strictly
// after d, capped at the horizon.
func (c Calendar) DaysToNext(d time.Time) int {
	day := midnightUTC(d)
	i := sort.Search(len(c.sorted), func(i int) bool { return c.sorted[i].After(day) })
	if i == len(c.sorted) {
		return holidayHorizonCap
	}
	days := int(c.sorted[i].Sub(day).Hours() / 24)
	if days > holidayHorizonCap {
		return holidayHorizonCap
	}
	return days
}

// DaysSinceLast returns the number of days since the last holiday
// strictly before d, capped at the horizon.
func (c Calendar) DaysSinceLast(d time.Time) int {
	day := midnightUTC(d)
	i := sort.Search(len(c.sorted), func(i int) bool { return !c.sorted[i].Before(day) })
	if i == 0 {
		return holidayHorizonCap
	}
	days := int(day.Sub(c.sorted[i-1]).Hours() / 24)
	if days > holidayHorizonCap {
		return holidayHorizonCap
	}
	return days
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
