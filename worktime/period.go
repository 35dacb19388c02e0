package worktime

import (
	"math"
	"time"
)

// =============================================================================
// SALARY PERIOD - The payroll cycle a date falls within
// =============================================================================

// Period is an inclusive calendar-date range. Dates are midnight UTC values
// standing for local calendar days.
//
// Examples:
//   - Driver, 2024-01-10: 2024-01-07 - 2024-01-20
//   - Office worker, 2024-02-20: 2024-02-16 - 2024-02-29
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if the date is within [Start, End].
func (p Period) Contains(date time.Time) bool {
	d := truncateDate(date)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Days returns all days in the period.
func (p Period) Days() []time.Time {
	var days []time.Time
	for d := p.Start; !d.After(p.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func (p Period) String() string {
	return "[" + p.Start.Format(dateLayout) + ", " + p.End.Format(dateLayout) + "]"
}

const dateLayout = "2006-01-02"

// =============================================================================
// PERIOD RESOLVER
// =============================================================================

// ResolvePeriod returns the salary period that contains date. Drivers are
// paid biweekly, everyone else semi-monthly.
func (p Policy) ResolvePeriod(date time.Time, isDriver bool) Period {
	d := truncateDate(date)
	if isDriver {
		return p.driverPeriod(d)
	}
	return officePeriod(d)
}

// driverPeriod resolves the biweekly Sunday-Saturday pair. The anchor is
// the first Sunday of a pair.
func (p Policy) driverPeriod(date time.Time) Period {
	days := daysBetween(truncateDate(p.DriverPeriodAnchor), date)
	fullWeeks := int(math.Floor(float64(days) / 7))

	if fullWeeks%2 == 0 {
		start := previousOrSame(date, time.Sunday)
		return Period{Start: start, End: nextOrSame(start.AddDate(0, 0, 7), time.Saturday)}
	}
	start := previousOrSame(date.AddDate(0, 0, -7), time.Sunday)
	return Period{Start: start, End: nextOrSame(date, time.Saturday)}
}

func officePeriod(date time.Time) Period {
	if date.Day() < 16 {
		return Period{
			Start: time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(date.Year(), date.Month(), 15, 0, 0, 0, 0, time.UTC),
		}
	}
	return Period{
		Start: time.Date(date.Year(), date.Month(), 16, 0, 0, 0, 0, time.UTC),
		End:   EndOfMonth(date.Year(), date.Month()),
	}
}

// =============================================================================
// DATE UTILITIES
// =============================================================================

func truncateDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Hours() / 24))
}

func previousOrSame(date time.Time, wd time.Weekday) time.Time {
	diff := (int(date.Weekday()) - int(wd) + 7) % 7
	return date.AddDate(0, 0, -diff)
}

func nextOrSame(date time.Time, wd time.Weekday) time.Time {
	diff := (int(wd) - int(date.Weekday()) + 7) % 7
	return date.AddDate(0, 0, diff)
}

// EndOfMonth returns the last day of the month, leap years included.
func EndOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}
