package worktime

import "time"

// =============================================================================
// HOLIDAY CALENDAR - Company-wide holidays
// =============================================================================

// HolidayCalendar provides holiday lookup for allowance calculation.
type HolidayCalendar interface {
	// IsHoliday checks if a calendar date (midnight UTC) is a holiday.
	IsHoliday(date time.Time) bool
}

// NoHolidays is a calendar without holidays.
type NoHolidays struct{}

func (NoHolidays) IsHoliday(time.Time) bool { return false }

// HolidaySet is a calendar backed by a fixed set of dates.
type HolidaySet map[time.Time]string

// NewHolidaySet indexes holidays by date.
func NewHolidaySet(holidays []Holiday) HolidaySet {
	set := make(HolidaySet, len(holidays))
	for _, h := range holidays {
		set[truncateDate(h.Date)] = h.Name
	}
	return set
}

func (s HolidaySet) IsHoliday(date time.Time) bool {
	_, ok := s[truncateDate(date)]
	return ok
}

// IsSundayRate reports whether work on the date earns the Sunday allowance.
func IsSundayRate(date time.Time, cal HolidayCalendar) bool {
	if date.Weekday() == time.Sunday {
		return true
	}
	return cal != nil && cal.IsHoliday(date)
}
