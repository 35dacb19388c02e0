/*
Package worktime provides the work-time and payroll calculation core.

PURPOSE:
  This package holds the domain types and algorithms that turn a stream of
  timestamped work events into payroll-ready hours: shift membership,
  per-work-type totals, salary periods, overtime tiers, manager overrides
  and the audit trail of every mutation.

KEY CONCEPTS IN THIS FILE (types.go):
  - WorkEvent: A timestamped, typed occurrence for one employee
  - WorkShift: A contiguous group of one employee's events
  - WorkShiftHours: Calculated vs. actual hours for a (shift, work type)
  - PayrollExport: A delivered payroll file tagging a set of shifts

DESIGN PRINCIPLES:
  1. Arena records: entities reference each other by ID, never by pointer
  2. Precision: hour quantities use decimal.Decimal
  3. Derived values: calculated hours are a cache, recomputed on demand
  4. Auditability: every mutation is recorded in a change set

SEE ALSO:
  - events.go: Event and work type enumerations
  - aggregate.go: Hours aggregation over an ordered event list
  - store.go: Persistence interface
*/
package worktime

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WORK EVENT
// =============================================================================

// WorkEvent is one timestamped state change of an employee.
type WorkEvent struct {
	ID         int64
	EmployeeID string
	Timestamp  time.Time
	Type       EventType
	ShiftID    int64
	TruckID    *string
	CostCenter *string
}

// CostCenterOrEmpty returns the event's cost center, or "" when untagged.
func (e WorkEvent) CostCenterOrEmpty() string {
	if e.CostCenter == nil {
		return ""
	}
	return *e.CostCenter
}

// Before orders events by timestamp, then by ID for equal timestamps.
func (e WorkEvent) Before(other WorkEvent) bool {
	if e.Timestamp.Equal(other.Timestamp) {
		return e.ID < other.ID
	}
	return e.Timestamp.Before(other.Timestamp)
}

// SortEvents sorts events in place in ascending (timestamp, id) order.
func SortEvents(events []WorkEvent) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].Before(events[j]) })
}

// =============================================================================
// WORK SHIFT
// =============================================================================

// WorkShift groups one employee's events between shift boundaries.
type WorkShift struct {
	ID                   int64
	EmployeeID           string
	Date                 time.Time // local calendar date of the earliest event (midnight UTC)
	StartedAt            *time.Time
	EndedAt              *time.Time
	Approved             bool
	AbsenceType          *AbsenceType
	PerDiemAllowanceType *PerDiemAllowanceType
	DayOffWorkAllowance  bool
	Notes                *string
	DefaultCostCenter    *string
	PayrollExportID      *int64
	DuplicatesChecked    bool
}

// IsOpen reports whether the shift has not been ended yet.
func (s WorkShift) IsOpen() bool { return s.EndedAt == nil }

// DefaultCostCenterOrEmpty returns the shift's default cost center, or "".
func (s WorkShift) DefaultCostCenterOrEmpty() string {
	if s.DefaultCostCenter == nil {
		return ""
	}
	return *s.DefaultCostCenter
}

// SortShifts orders shifts by date, then start time, then ID.
func SortShifts(shifts []WorkShift) {
	sort.SliceStable(shifts, func(i, j int) bool {
		a, b := shifts[i], shifts[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.StartedAt != nil && b.StartedAt != nil && !a.StartedAt.Equal(*b.StartedAt) {
			return a.StartedAt.Before(*b.StartedAt)
		}
		return a.ID < b.ID
	})
}

// AbsenceType marks a shift as a (partial) absence day.
type AbsenceType string

const (
	AbsenceVacation          AbsenceType = "VACATION"
	AbsenceCompensatoryLeave AbsenceType = "COMPENSATORY_LEAVE"
	AbsenceSickLeave         AbsenceType = "SICK_LEAVE"
	AbsenceUnpaidLeave       AbsenceType = "UNPAID_LEAVE"
)

func (a AbsenceType) Valid() bool {
	switch a {
	case AbsenceVacation, AbsenceCompensatoryLeave, AbsenceSickLeave, AbsenceUnpaidLeave:
		return true
	}
	return false
}

// PerDiemAllowanceType is the daily travel allowance granted for a shift.
type PerDiemAllowanceType string

const (
	PerDiemFull    PerDiemAllowanceType = "FULL"
	PerDiemPartial PerDiemAllowanceType = "PARTIAL"
	PerDiemMeal    PerDiemAllowanceType = "MEAL"
)

func (p PerDiemAllowanceType) Valid() bool {
	switch p {
	case PerDiemFull, PerDiemPartial, PerDiemMeal:
		return true
	}
	return false
}

// WorkType returns the work type the allowance is counted into.
func (p PerDiemAllowanceType) WorkType() WorkType {
	switch p {
	case PerDiemFull:
		return WorkPerDiemFull
	case PerDiemPartial:
		return WorkPerDiemPartial
	default:
		return WorkMealAllowance
	}
}

// =============================================================================
// WORK SHIFT HOURS
// =============================================================================

// WorkShiftHours holds the machine total and the manager override for one
// (shift, work type) pair. Exactly one row exists per pair.
type WorkShiftHours struct {
	ID              int64
	ShiftID         int64
	WorkType        WorkType
	ActualHours     *decimal.Decimal
	CalculatedHours *decimal.Decimal
}

// Effective returns the override when present, else the calculated value.
func (h WorkShiftHours) Effective() decimal.Decimal {
	if h.ActualHours != nil {
		return *h.ActualHours
	}
	if h.CalculatedHours != nil {
		return *h.CalculatedHours
	}
	return decimal.Zero
}

// NewHoursRows returns one empty hours row per work type for a shift.
func NewHoursRows(shiftID int64) []WorkShiftHours {
	rows := make([]WorkShiftHours, 0, len(AllWorkTypes))
	for _, wt := range AllWorkTypes {
		rows = append(rows, WorkShiftHours{ShiftID: shiftID, WorkType: wt})
	}
	return rows
}

// =============================================================================
// PAYROLL EXPORT
// =============================================================================

// PayrollExport records one delivered payroll file.
type PayrollExport struct {
	ID         int64
	EmployeeID string
	FileName   string
	ExportedAt time.Time
	CreatorID  string
	ShiftIDs   []int64
}

// =============================================================================
// HOLIDAYS
// =============================================================================

// Holiday is a company holiday. Work on a holiday earns the Sunday allowance.
type Holiday struct {
	ID   int64
	Date time.Time // calendar date at midnight UTC
	Name string
}

// =============================================================================
// HOUR HELPERS
// =============================================================================

var secondsPerHour = decimal.NewFromInt(3600)

// HoursOf converts a duration into fractional hours.
func HoursOf(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d / time.Second)).Div(secondsPerHour)
}

// DecimalPtr returns a pointer to d.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// DateOf truncates t to its calendar date in loc, returned as midnight UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC)
}
