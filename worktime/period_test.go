package worktime_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/worktime-engine/worktime"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolvePeriod_Driver(t *testing.T) {
	policy := worktime.NewPolicy(time.UTC)

	tests := []struct {
		name  string
		date  time.Time
		start time.Time
		end   time.Time
	}{
		{"anchor sunday", date(2024, 1, 7), date(2024, 1, 7), date(2024, 1, 20)},
		{"first week", date(2024, 1, 10), date(2024, 1, 7), date(2024, 1, 20)},
		{"second week", date(2024, 1, 17), date(2024, 1, 7), date(2024, 1, 20)},
		{"last day of pair", date(2024, 1, 20), date(2024, 1, 7), date(2024, 1, 20)},
		{"next pair", date(2024, 1, 21), date(2024, 1, 21), date(2024, 2, 3)},
		{"before anchor", date(2024, 1, 6), date(2023, 12, 24), date(2024, 1, 6)},
		{"far future second week", date(2024, 12, 25), date(2024, 12, 15), date(2024, 12, 28)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := policy.ResolvePeriod(tt.date, true)
			assert.Equal(t, tt.start, p.Start, "start")
			assert.Equal(t, tt.end, p.End, "end")
			assert.True(t, p.Contains(tt.date))
			assert.Len(t, p.Days(), 14)
		})
	}
}

func TestResolvePeriod_Office(t *testing.T) {
	policy := worktime.NewPolicy(time.UTC)

	tests := []struct {
		name  string
		date  time.Time
		start time.Time
		end   time.Time
	}{
		{"first half", date(2024, 3, 1), date(2024, 3, 1), date(2024, 3, 15)},
		{"fifteenth", date(2024, 3, 15), date(2024, 3, 1), date(2024, 3, 15)},
		{"sixteenth", date(2024, 3, 16), date(2024, 3, 16), date(2024, 3, 31)},
		{"leap february", date(2024, 2, 20), date(2024, 2, 16), date(2024, 2, 29)},
		{"plain february", date(2023, 2, 20), date(2023, 2, 16), date(2023, 2, 28)},
		{"thirty day month", date(2024, 4, 30), date(2024, 4, 16), date(2024, 4, 30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := policy.ResolvePeriod(tt.date, false)
			assert.Equal(t, tt.start, p.Start, "start")
			assert.Equal(t, tt.end, p.End, "end")
		})
	}
}

func TestResolvePeriod_DriverPeriodsTile(t *testing.T) {
	// GIVEN: Consecutive days across several months
	// WHEN: Resolving each day's driver period
	// THEN: Periods never overlap and always start on Sunday

	policy := worktime.NewPolicy(time.UTC)
	prev := policy.ResolvePeriod(date(2023, 11, 1), true)
	for d := date(2023, 11, 2); d.Before(date(2024, 4, 1)); d = d.AddDate(0, 0, 1) {
		p := policy.ResolvePeriod(d, true)
		assert.Equal(t, time.Sunday, p.Start.Weekday(), d.Format("2006-01-02"))
		if !p.Start.Equal(prev.Start) {
			assert.Equal(t, prev.End.AddDate(0, 0, 1), p.Start, d.Format("2006-01-02"))
		}
		prev = p
	}
}
