package features

import "time"

// USFederalHolidays returns the federal holiday dates for the given
// years. These are the actual dates, not observed substitutes.
func USFederalHolidays(years ...int) []time.Time {
	var dates []time.Time
	for _, y := range years {
		dates = append(dates,
			time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),    // New Year's Day
			nthWeekday(y, time.January, time.Monday, 3),            // MLK Day
			nthWeekday(y, time.February, time.Monday, 3),           // Washington's Birthday
			lastWeekday(y, time.May, time.Monday),                  // Memorial Day
			time.Date(y, time.June, 19, 0, 0, 0, 0, time.UTC),      // Juneteenth
			time.Date(y, time.July, 4, 0, 0, 0, 0, time.UTC),       // Independence Day
			nthWeekday(y, time.September, time.Monday, 1),          // Labor Day
			nthWeekday(y, time.October, time.Monday, 2),            // Columbus Day
			time.Date(y, time.November, 11, 0, 0, 0, 0, time.UTC),  // Veterans Day
			nthWeekday(y, time.November, time.Thursday, 4),         // Thanksgiving
			time.Date(y, time.December, 25, 0, 0, 0, 0, time.UTC),  // Christmas
		)
	}
	return dates
}

// USCalendar builds a Calendar covering the years spanned by [start, end],
// padded a year on each side so proximity features near the boundaries
// still see the neighbouring year's holidays.
func USCalendar(start, end time.Time) Calendar {
	var years []int
	for y := start.UTC().Year() - 1; y <= end.UTC().Year()+1; y++ {
		years = append(years, y)
	}
	return NewCalendar(USFederalHolidays(years...))
}

func nthWeekday(year int, month time.Month, day time.Weekday, n int) time.Time {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(day) - int(t.Weekday()) + 7) % 7
	return t.AddDate(0, 0, offset+(n-1)*7)
}

func lastWeekday(year int, month time.Month, day time.Weekday) time.Time {
	t := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	offset := (int(t.Weekday()) - int(day) + 7) % 7
	return t.AddDate(0, 0, -offset)
}
