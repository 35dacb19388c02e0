/*
Package payroll turns shift totals into payroll files.

PURPOSE:
  Overtime and filling hours depend on the whole salary period, so hours
  are always calculated per period: every shift of the employee dated in
  the period is aggregated, reconciled with manager overrides and then
  topped with the period rules.

CALCULATION ORDER (per period):
  1. Aggregate each shift (the profile's default cost center stands in
     for a shift without one)
  2. Reconcile every base work type with its override
  3. Overtime
       driver:        period tiers laid onto chronological per-cost-center
                      PAID_WORK - TRAINING hours; leftovers go to the last
                      shift's default cost center
       office/terminal: per shift, first 8h regular, next 2h half, rest full
  4. Filling hours onto the last shift's default cost center
  5. Reconcile overtime and filling hours with their overrides

  Pre-override values of every work type are the shift's calculated hours.

SEE ALSO:
  - worktime/overtime.go: Tier rules and TierCursor
  - rows.go: Export rows and CSV rendering
  - exporter.go: Period refresh and export lifecycle
*/
package payroll

import (
	"github.com/shopspring/decimal"

	"github.com/warp/worktime-engine/directory"
	"github.com/warp/worktime-engine/worktime"
)

// ShiftInput is one shift with its events and hours rows.
type ShiftInput struct {
	Shift  worktime.WorkShift
	Events []worktime.WorkEvent
	Hours  []worktime.WorkShiftHours
}

// ShiftResult holds the hours of one shift after the period rules.
type ShiftResult struct {
	Shift worktime.WorkShift

	// Calculated are the machine totals before overrides.
	Calculated worktime.ShiftTotals

	// Final are the reconciled totals that are exported.
	Final worktime.ShiftTotals
}

// PeriodResult is the calculation of one salary period.
type PeriodResult struct {
	Period  worktime.Period
	Profile directory.Profile
	Shifts  []ShiftResult

	// Totals sums Final over the period's shifts.
	Totals worktime.ShiftTotals
}

// Shift returns the result of one shift.
func (r PeriodResult) Shift(id int64) (ShiftResult, bool) {
	for _, s := range r.Shifts {
		if s.Shift.ID == id {
			return s, true
		}
	}
	return ShiftResult{}, false
}

// Calculator applies the period rules of a policy.
type Calculator struct {
	policy worktime.Policy
}

func NewCalculator(policy worktime.Policy) *Calculator {
	return &Calculator{policy: policy}
}

// periodTypes are the work types that need the whole period.
var periodTypes = map[worktime.WorkType]bool{
	worktime.WorkOvertimeHalf: true,
	worktime.WorkOvertimeFull: true,
	worktime.WorkFillingHours: true,
}

// Calculate computes the hours of every shift in a period.
func (c *Calculator) Calculate(profile directory.Profile, period worktime.Period, shifts []ShiftInput, calendar worktime.HolidayCalendar) PeriodResult {
	ordered := make([]ShiftInput, len(shifts))
	copy(ordered, shifts)
	sortInputs(ordered)

	agg := worktime.NewAggregator(c.policy, calendar)
	res := PeriodResult{Period: period, Profile: profile, Totals: worktime.ShiftTotals{}}
	overrides := make([]map[worktime.WorkType]*decimal.Decimal, len(ordered))

	// Base work types
	for i, in := range ordered {
		shift := in.Shift
		if shift.DefaultCostCenter == nil && profile.DefaultCostCenter != nil {
			shift.DefaultCostCenter = profile.DefaultCostCenter
		}
		overrides[i] = overridesOf(in.Hours)

		calculated := agg.AggregateShift(shift, in.Events)
		final := worktime.ShiftTotals{}
		for _, wt := range worktime.AllWorkTypes {
			if periodTypes[wt] {
				continue
			}
			per := c.policy.ReconcileWorkType(wt, calculated.Get(wt), overrides[i][wt], shift.DefaultCostCenterOrEmpty())
			if len(per) > 0 {
				final.Set(wt, per)
			}
		}
		res.Shifts = append(res.Shifts, ShiftResult{Shift: shift, Calculated: calculated, Final: final})
	}

	// Period work types, calculated first and reconciled afterwards
	if profile.IsDriver() {
		c.driverOvertime(profile, res.Shifts)
	} else {
		c.officeOvertime(res.Shifts)
	}
	c.fillingHours(profile, res.Shifts)

	for i := range res.Shifts {
		sr := &res.Shifts[i]
		cc := sr.Shift.DefaultCostCenterOrEmpty()
		for wt := range periodTypes {
			per := c.policy.ReconcileWorkType(wt, sr.Calculated.Get(wt), overrides[i][wt], cc)
			if len(per) > 0 {
				sr.Final.Set(wt, per)
			}
		}
		for wt, t := range sr.Final {
			for _, a := range t.PerCostCenter {
				res.Totals.Add(wt, a.CostCenter, a.Hours)
			}
		}
	}
	return res
}

// sum returns the period total of a work type over the final values.
func sum(shifts []ShiftResult, wt worktime.WorkType) decimal.Decimal {
	total := decimal.Zero
	for _, s := range shifts {
		total = total.Add(s.Final.Get(wt).Total)
	}
	return total
}

func (c *Calculator) driverOvertime(profile directory.Profile, shifts []ShiftResult) {
	if len(shifts) == 0 {
		return
	}
	regular, _ := profile.RegularHours(c.policy)
	half, full := c.policy.DriverOvertimeTiers(worktime.DriverHours{
		Regular:           regular,
		Working:           sum(shifts, worktime.WorkPaid),
		Training:          sum(shifts, worktime.WorkTraining),
		Vacation:          sum(shifts, worktime.WorkVacation),
		CompensatoryLeave: sum(shifts, worktime.WorkCompensatoryLeave),
	})
	if half.IsZero() && full.IsZero() {
		return
	}

	eligible := make([]worktime.CostCenterHours, len(shifts))
	total := decimal.Zero
	for i, s := range shifts {
		training := s.Final.Get(worktime.WorkTraining).PerCostCenter
		for _, a := range s.Final.Get(worktime.WorkPaid).PerCostCenter {
			h := a.Hours.Sub(training.Get(a.CostCenter))
			if h.IsPositive() {
				eligible[i].Add(a.CostCenter, h)
				total = total.Add(h)
			}
		}
	}

	cursor := worktime.NewTierCursor(total.Sub(half).Sub(full), half)
	halfLeft, fullLeft := half, full
	for i := range shifts {
		for _, a := range eligible[i] {
			split := cursor.Take(a.Hours)
			addPositive(shifts[i].Calculated, worktime.WorkOvertimeHalf, a.CostCenter, split.Half)
			addPositive(shifts[i].Calculated, worktime.WorkOvertimeFull, a.CostCenter, split.Full)
			halfLeft = halfLeft.Sub(split.Half)
			fullLeft = fullLeft.Sub(split.Full)
		}
	}

	// Vacation and compensatory leave count towards the tiers without
	// carrying hours of their own.
	last := &shifts[len(shifts)-1]
	cc := last.Shift.DefaultCostCenterOrEmpty()
	addPositive(last.Calculated, worktime.WorkOvertimeHalf, cc, halfLeft)
	addPositive(last.Calculated, worktime.WorkOvertimeFull, cc, fullLeft)
}

func (c *Calculator) officeOvertime(shifts []ShiftResult) {
	for i := range shifts {
		cursor := worktime.NewTierCursor(c.policy.OfficeDailyThreshold, c.policy.OfficeHalfTierLimit)
		for _, a := range shifts[i].Final.Get(worktime.WorkPaid).PerCostCenter {
			split := cursor.Take(a.Hours)
			addPositive(shifts[i].Calculated, worktime.WorkOvertimeHalf, a.CostCenter, split.Half)
			addPositive(shifts[i].Calculated, worktime.WorkOvertimeFull, a.CostCenter, split.Full)
		}
	}
}

func (c *Calculator) fillingHours(profile directory.Profile, shifts []ShiftResult) {
	// Only a contractual figure yields filling hours; the driver default is
	// an overtime baseline.
	if profile.RegularWorkingHours == nil || len(shifts) == 0 {
		return
	}
	filling := worktime.FillingHours(worktime.FillingInput{
		Regular:           *profile.RegularWorkingHours,
		Working:           sum(shifts, worktime.WorkPaid),
		Sick:              sum(shifts, worktime.WorkSickLeave),
		OfficialDuty:      sum(shifts, worktime.WorkOfficialDuty),
		Vacation:          sum(shifts, worktime.WorkVacation),
		CompensatoryLeave: sum(shifts, worktime.WorkCompensatoryLeave),
	})
	last := &shifts[len(shifts)-1]
	addPositive(last.Calculated, worktime.WorkFillingHours, last.Shift.DefaultCostCenterOrEmpty(), filling)
}

func addPositive(t worktime.ShiftTotals, wt worktime.WorkType, cc string, h decimal.Decimal) {
	if h.IsPositive() {
		t.Add(wt, cc, h)
	}
}

func overridesOf(rows []worktime.WorkShiftHours) map[worktime.WorkType]*decimal.Decimal {
	out := make(map[worktime.WorkType]*decimal.Decimal, len(rows))
	for _, r := range rows {
		if r.ActualHours != nil {
			out[r.WorkType] = r.ActualHours
		}
	}
	return out
}

func sortInputs(in []ShiftInput) {
	shifts := make([]worktime.WorkShift, len(in))
	byID := make(map[int64]ShiftInput, len(in))
	for i, s := range in {
		shifts[i] = s.Shift
		byID[s.Shift.ID] = s
	}
	worktime.SortShifts(shifts)
	for i, s := range shifts {
		in[i] = byID[s.ID]
	}
}
