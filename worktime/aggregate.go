/*
aggregate.go - Per-work-type hour totals for one shift

PURPOSE:
  Walks a shift's events in time order and attributes the time between
  consecutive events to work types and cost centers.

ALGORITHM:
  For event i the elapsed time is events[i+1].Timestamp - events[i].Timestamp.
  The last event attributes nothing; it only marks where work stopped.

  Paid task events:  full duration to PAID_WORK, plus the parts falling in
                     the evening / night clock windows and on Saturdays or
                     Sundays/holidays to the allowance work types
  BREAK:             counted until the shift's running break total reaches
                     the cap; anything after that is dropped
  Everything:        apportioned to the event's own cost center ("" when
                     untagged), in first-seen order

  Absence days and per diems are fixed quantities, not event math. The
  day-off bonus is derived from PAID_WORK or from the shift start.

SEE ALSO:
  - policy.go: Windows, caps and absence constants
  - hours.go: CostCenterHours ordered map
*/
package worktime

import (
	"time"

	"github.com/shopspring/decimal"
)

// Aggregator computes shift totals under a policy.
type Aggregator struct {
	Policy   Policy
	Calendar HolidayCalendar
}

// NewAggregator creates an aggregator. A nil calendar means no holidays.
func NewAggregator(policy Policy, calendar HolidayCalendar) *Aggregator {
	if calendar == nil {
		calendar = NoHolidays{}
	}
	return &Aggregator{Policy: policy, Calendar: calendar}
}

// Aggregate returns the event-derived totals of one work type.
func (a *Aggregator) Aggregate(events []WorkEvent, workType WorkType) Totals {
	return a.AggregateEvents(events).Get(workType)
}

// AggregateEvents returns all event-derived totals of a shift.
func (a *Aggregator) AggregateEvents(events []WorkEvent) ShiftTotals {
	ordered := make([]WorkEvent, len(events))
	copy(ordered, events)
	SortEvents(ordered)

	buckets := make(map[WorkType]*durationBucket)
	add := func(wt WorkType, cc string, d time.Duration) {
		b, ok := buckets[wt]
		if !ok {
			b = &durationBucket{}
			buckets[wt] = b
		}
		b.add(cc, d)
	}

	var breakUsed time.Duration
	for i := 0; i+1 < len(ordered); i++ {
		e, next := ordered[i], ordered[i+1]
		d := next.Timestamp.Sub(e.Timestamp)
		if d <= 0 {
			continue
		}
		cc := e.CostCenterOrEmpty()

		for _, wt := range e.Type.TimeTargets() {
			if wt == WorkBreak {
				counted := min(d, a.Policy.BreakCap-breakUsed)
				if counted <= 0 {
					continue
				}
				breakUsed += counted
				add(WorkBreak, cc, counted)
				continue
			}
			add(wt, cc, d)
		}

		if e.Type.IsPaidTask() {
			add(WorkEveningAllowance, cc, a.windowOverlap(e.Timestamp, next.Timestamp, a.Policy.EveningWindow))
			add(WorkNightAllowance, cc, a.windowOverlap(e.Timestamp, next.Timestamp, a.Policy.NightWindow))
			add(WorkSaturdayAllowance, cc, a.dayOverlap(e.Timestamp, next.Timestamp, func(d time.Time) bool {
				return d.Weekday() == time.Saturday
			}))
			add(WorkSundayAllowance, cc, a.dayOverlap(e.Timestamp, next.Timestamp, func(d time.Time) bool {
				return IsSundayRate(d, a.Calendar)
			}))
		}
	}

	totals := make(ShiftTotals, len(buckets))
	for wt, b := range buckets {
		if len(*b) == 0 {
			continue
		}
		totals[wt] = b.totals()
	}
	return totals
}

// AggregateShift returns event-derived totals plus the fixed absence,
// per diem and day-off quantities of the shift. Overtime and filling hours
// need the whole salary period and are added by the payroll calculator.
func (a *Aggregator) AggregateShift(shift WorkShift, events []WorkEvent) ShiftTotals {
	totals := a.AggregateEvents(events)
	cc := shift.DefaultCostCenterOrEmpty()

	if shift.AbsenceType != nil {
		if wt, hours, ok := a.absenceHours(*shift.AbsenceType); ok {
			totals.Add(wt, cc, hours)
		}
	}
	if shift.PerDiemAllowanceType != nil {
		totals.Add(shift.PerDiemAllowanceType.WorkType(), cc, decimal.NewFromInt(1))
	}
	if shift.DayOffWorkAllowance {
		if bonus := a.DayOffBonus(shift, events, totals.Get(WorkPaid)); len(bonus) > 0 {
			totals.Set(WorkDayOffBonus, bonus)
		}
	}
	return totals
}

// absenceHours returns the fixed per-day hours of an absence type.
func (a *Aggregator) absenceHours(t AbsenceType) (WorkType, decimal.Decimal, bool) {
	switch t {
	case AbsenceVacation:
		return WorkVacation, a.Policy.VacationDayHours, true
	case AbsenceCompensatoryLeave:
		return WorkCompensatoryLeave, a.Policy.CompensatoryLeaveDayHours, true
	case AbsenceSickLeave:
		return WorkSickLeave, a.Policy.SickLeaveDayHours, true
	}
	return "", decimal.Zero, false
}

// DayOffBonus computes the day-off work bonus. A shift that ends on its
// start date earns its own PAID_WORK; an overnight shift earns the hours
// from its start to local midnight less the overnight adjustment.
func (a *Aggregator) DayOffBonus(shift WorkShift, events []WorkEvent, paid Totals) CostCenterHours {
	if len(events) == 0 {
		return nil
	}
	ordered := make([]WorkEvent, len(events))
	copy(ordered, events)
	SortEvents(ordered)

	start := ordered[0].Timestamp
	end := ordered[len(ordered)-1].Timestamp
	if shift.StartedAt != nil {
		start = *shift.StartedAt
	}
	if shift.EndedAt != nil {
		end = *shift.EndedAt
	}

	loc := a.Policy.Location
	if DateOf(start, loc).Equal(DateOf(end, loc)) {
		return paid.PerCostCenter.Clone()
	}

	local := start.In(loc)
	t := decimal.NewFromInt(int64(local.Hour())).
		Add(decimal.NewFromInt(int64(local.Minute())).Div(decimal.NewFromInt(60))).
		Add(decimal.NewFromInt(int64(local.Second())).Div(secondsPerHour))
	bonus := decimal.NewFromInt(24).Sub(t.Add(a.Policy.DayOffOvernightAdjustment))
	if !bonus.IsPositive() {
		return nil
	}
	return CostCenterHours{{CostCenter: shift.DefaultCostCenterOrEmpty(), Hours: bonus}}
}

// =============================================================================
// WINDOW ARITHMETIC
// =============================================================================

// windowOverlap returns how much of [from, to) falls inside the daily
// clock window, evaluated in the policy's local zone.
func (a *Aggregator) windowOverlap(from, to time.Time, w ClockWindow) time.Duration {
	loc := a.Policy.Location
	lf := from.In(loc)
	var total time.Duration
	// Start a day early so a window wrapping past midnight is covered.
	for day := time.Date(lf.Year(), lf.Month(), lf.Day()-1, 0, 0, 0, 0, loc); day.Before(to); day = day.AddDate(0, 0, 1) {
		ws := clockAt(day, w.Start, loc)
		we := clockAt(day, w.End, loc)
		if w.Wraps() {
			we = clockAt(day.AddDate(0, 0, 1), w.End, loc)
		}
		total += overlap(from, to, ws, we)
	}
	return total
}

// dayOverlap returns how much of [from, to) falls on local days matching pred.
func (a *Aggregator) dayOverlap(from, to time.Time, pred func(date time.Time) bool) time.Duration {
	loc := a.Policy.Location
	lf := from.In(loc)
	var total time.Duration
	for day := time.Date(lf.Year(), lf.Month(), lf.Day(), 0, 0, 0, 0, loc); day.Before(to); day = day.AddDate(0, 0, 1) {
		if !pred(DateOf(day, loc)) {
			continue
		}
		total += overlap(from, to, day, day.AddDate(0, 0, 1))
	}
	return total
}

func clockAt(day time.Time, offset time.Duration, loc *time.Location) time.Time {
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc)
}

func overlap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}
