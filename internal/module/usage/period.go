package usage

import "time"

// PeriodFunc maps an instant to the billing period containing it. Injected
// so tests can fix the clock's position in the period.
type PeriodFunc func(now time.Time) (start, end time.Time)

// CalendarMonth is the default period: UTC calendar months. Rollover is
// implicit; the first Record call in a new month creates a new row and
// leaves the old one intact for history.
func CalendarMonth(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
