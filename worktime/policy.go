/*
policy.go - Fixed labor-contract constants

PURPOSE:
  Collects every rule constant the calculators need into one immutable
  value. Calculators receive a Policy instead of reading package-level
  constants, so a rule set can be tested in isolation or swapped for
  another jurisdiction.

RULE GROUPS:
  Shift boundaries:  rest gap, hard cut gap, idle shift timeout
  Aggregation:       break cap, evening/night clock windows, local zone
  Absences:          fixed hours per vacation / leave day
  Overtime:          driver tier limits, office daily threshold and tiers
  Periods:           driver biweekly anchor, default regular hours
  Maintenance:       duplicate grace period and per-sweep deletion cap

SEE ALSO:
  - aggregate.go: Uses windows and the break cap
  - overtime.go: Uses the tier limits
  - period.go: Uses the driver anchor
*/
package worktime

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ClockWindow is a daily local-time window [Start, End). When End is not
// after Start the window wraps past midnight.
type ClockWindow struct {
	Start time.Duration // offset from local midnight
	End   time.Duration
}

// Wraps reports whether the window continues into the next day.
func (w ClockWindow) Wraps() bool { return w.End <= w.Start }

// Policy holds the labor-contract rule set.
type Policy struct {
	Location *time.Location

	RestGap          time.Duration
	HardCutGap       time.Duration
	IdleShiftTimeout time.Duration

	BreakCap      time.Duration
	EveningWindow ClockWindow
	NightWindow   ClockWindow

	VacationDayHours          decimal.Decimal
	CompensatoryLeaveDayHours decimal.Decimal
	SickLeaveDayHours         decimal.Decimal
	DayOffOvernightAdjustment decimal.Decimal

	DriverPeriodAnchor         time.Time
	DriverRegularHours         decimal.Decimal
	DriverOvertimeFullLimit    decimal.Decimal
	DriverOvertimeReducedLimit decimal.Decimal
	DriverVacationLimitTrigger decimal.Decimal
	OfficeDailyThreshold       decimal.Decimal
	OfficeHalfTierLimit        decimal.Decimal

	DuplicateGrace        time.Duration
	MaxDuplicateDeletions int

	RequestTimeout time.Duration
}

// DefaultPolicy returns the contract rules in the Europe/Helsinki zone.
func DefaultPolicy() Policy {
	loc, err := time.LoadLocation("Europe/Helsinki")
	if err != nil {
		loc = time.UTC
	}
	return NewPolicy(loc)
}

// NewPolicy returns the contract rules evaluated in loc.
func NewPolicy(loc *time.Location) Policy {
	return Policy{
		Location: loc,

		RestGap:          3 * time.Hour,
		HardCutGap:       5 * time.Hour,
		IdleShiftTimeout: 5 * time.Hour,

		BreakCap:      30 * time.Minute,
		EveningWindow: ClockWindow{Start: 18 * time.Hour, End: 22 * time.Hour},
		NightWindow:   ClockWindow{Start: 22 * time.Hour, End: 6 * time.Hour},

		VacationDayHours:          decimal.RequireFromString("6.67"),
		CompensatoryLeaveDayHours: decimal.NewFromInt(8),
		SickLeaveDayHours:         decimal.NewFromInt(8),
		DayOffOvernightAdjustment: decimal.NewFromInt(1),

		DriverPeriodAnchor:         time.Date(2024, time.January, 7, 0, 0, 0, 0, time.UTC),
		DriverRegularHours:         decimal.NewFromInt(80),
		DriverOvertimeFullLimit:    decimal.NewFromInt(12),
		DriverOvertimeReducedLimit: decimal.NewFromInt(10),
		DriverVacationLimitTrigger: decimal.NewFromInt(40),
		OfficeDailyThreshold:       decimal.NewFromInt(8),
		OfficeHalfTierLimit:        decimal.NewFromInt(2),

		DuplicateGrace:        24 * time.Hour,
		MaxDuplicateDeletions: 20,

		RequestTimeout: 30 * time.Second,
	}
}

// BreakCapHours returns the break cap in fractional hours.
func (p Policy) BreakCapHours() decimal.Decimal { return HoursOf(p.BreakCap) }

// Validate checks the policy for contradictory values.
func (p Policy) Validate() error {
	if p.Location == nil {
		return fmt.Errorf("%w: policy location is required", ErrValidation)
	}
	if p.RestGap <= 0 || p.HardCutGap < p.RestGap {
		return fmt.Errorf("%w: rest gap must be positive and not exceed the hard cut gap", ErrValidation)
	}
	if p.MaxDuplicateDeletions <= 0 {
		return fmt.Errorf("%w: duplicate deletion cap must be positive", ErrValidation)
	}
	return nil
}
