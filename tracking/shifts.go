package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/worktime-engine/worktime"
)

// =============================================================================
// OPTIONAL - Tri-state patch field
// =============================================================================

// Optional is a patch field. Unset leaves the value alone; set with a nil
// Value clears it.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns a set field.
func Some[T any](v T) Optional[T] { return Optional[T]{Set: true, Value: &v} }

// None returns a field that clears the value.
func None[T any]() Optional[T] { return Optional[T]{Set: true} }

// UnmarshalJSON marks the field set; JSON null clears.
func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

func (o Optional[T]) apply(current *T) *T {
	if !o.Set {
		return current
	}
	return o.Value
}

// =============================================================================
// SHIFT UPDATES
// =============================================================================

// ShiftPatch changes shift fields. Absence, per diem, day-off and default
// cost center change computed totals and are locked while approved.
type ShiftPatch struct {
	Approved             *bool
	AbsenceType          Optional[worktime.AbsenceType]
	PerDiemAllowanceType Optional[worktime.PerDiemAllowanceType]
	DayOffWorkAllowance  *bool
	Notes                Optional[string]
	DefaultCostCenter    Optional[string]
}

func (p ShiftPatch) validate() error {
	if p.AbsenceType.Value != nil && !p.AbsenceType.Value.Valid() {
		return worktime.Invalid("absenceType", "unknown absence type "+string(*p.AbsenceType.Value))
	}
	if p.PerDiemAllowanceType.Value != nil && !p.PerDiemAllowanceType.Value.Valid() {
		return worktime.Invalid("perDiemAllowanceType", "unknown per diem type "+string(*p.PerDiemAllowanceType.Value))
	}
	return nil
}

// UpdateShift applies a patch and records each changed field.
func (s *Service) UpdateShift(ctx context.Context, m worktime.Mutation, id int64, p ShiftPatch) (worktime.WorkShift, error) {
	if err := p.validate(); err != nil {
		return worktime.WorkShift{}, err
	}
	m = m.Normalize()

	var updated worktime.WorkShift
	err := s.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		before, err := st.GetShift(ctx, id)
		if err != nil {
			return err
		}

		after := before
		if p.Approved != nil {
			after.Approved = *p.Approved
		}
		after.AbsenceType = p.AbsenceType.apply(before.AbsenceType)
		after.PerDiemAllowanceType = p.PerDiemAllowanceType.apply(before.PerDiemAllowanceType)
		if p.DayOffWorkAllowance != nil {
			after.DayOffWorkAllowance = *p.DayOffWorkAllowance
		}
		after.Notes = emptyToNil(p.Notes.apply(before.Notes))
		after.DefaultCostCenter = emptyToNil(p.DefaultCostCenter.apply(before.DefaultCostCenter))

		if before.Approved && !after.Approved && before.PayrollExportID != nil {
			return &worktime.ShiftStateError{ShiftID: id, Err: worktime.ErrAlreadyExported}
		}
		if before.Approved && after.Approved && totalsChanged(before, after) {
			return &worktime.ShiftStateError{ShiftID: id, Err: worktime.ErrShiftApproved}
		}

		if err := st.UpdateShift(ctx, after); err != nil {
			return err
		}
		for _, d := range []worktime.Entry{
			m.Entry(id, worktime.ReasonShiftApproved).Values(worktime.BoolValue(before.Approved), worktime.BoolValue(after.Approved)),
			m.Entry(id, worktime.ReasonShiftAbsenceType).Values(worktime.TextValue(before.AbsenceType), worktime.TextValue(after.AbsenceType)),
			m.Entry(id, worktime.ReasonShiftPerDiemAllowanceType).Values(worktime.TextValue(before.PerDiemAllowanceType), worktime.TextValue(after.PerDiemAllowanceType)),
			m.Entry(id, worktime.ReasonShiftDayOffWorkAllowance).Values(worktime.BoolValue(before.DayOffWorkAllowance), worktime.BoolValue(after.DayOffWorkAllowance)),
			m.Entry(id, worktime.ReasonShiftNotes).Values(before.Notes, after.Notes),
			m.Entry(id, worktime.ReasonShiftDefaultCostCenter).Values(before.DefaultCostCenter, after.DefaultCostCenter),
		} {
			if err := s.recorder.RecordIfChanged(ctx, st, d); err != nil {
				return err
			}
		}
		updated = after
		return nil
	})
	if err != nil {
		return worktime.WorkShift{}, err
	}

	if p.Approved != nil {
		s.logger.Info("shift approval changed",
			zap.Int64("shift", id),
			zap.Bool("approved", updated.Approved),
			zap.String("by", m.CreatorID))
	}
	return updated, nil
}

func totalsChanged(a, b worktime.WorkShift) bool {
	return !equalPtr(a.AbsenceType, b.AbsenceType) ||
		!equalPtr(a.PerDiemAllowanceType, b.PerDiemAllowanceType) ||
		a.DayOffWorkAllowance != b.DayOffWorkAllowance ||
		!equalPtr(a.DefaultCostCenter, b.DefaultCostCenter)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// SetActualHours stores a manager override for one work type. A nil value
// clears the override.
func (s *Service) SetActualHours(ctx context.Context, m worktime.Mutation, shiftID int64, wt worktime.WorkType, hours *decimal.Decimal) (worktime.WorkShiftHours, error) {
	if !wt.Valid() {
		return worktime.WorkShiftHours{}, worktime.Invalid("workType", "unknown work type "+string(wt))
	}
	if hours != nil && hours.IsNegative() {
		return worktime.WorkShiftHours{}, worktime.Invalid("actualHours", "must not be negative")
	}
	m = m.Normalize()

	var row worktime.WorkShiftHours
	err := s.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		if err := s.requireEditable(ctx, st, shiftID); err != nil {
			return err
		}
		rows, err := st.ListHours(ctx, shiftID)
		if err != nil {
			return err
		}
		found := false
		for _, r := range rows {
			if r.WorkType == wt {
				row, found = r, true
				break
			}
		}
		if !found {
			row = worktime.WorkShiftHours{ShiftID: shiftID, WorkType: wt}
			batch := []worktime.WorkShiftHours{row}
			if err := st.InsertHours(ctx, batch); err != nil {
				return err
			}
			row = batch[0]
		}

		old := row.ActualHours
		row.ActualHours = hours
		if err := st.UpdateHours(ctx, row); err != nil {
			return err
		}
		entry := m.Entry(shiftID, worktime.ReasonHoursActualHours).
			Values(worktime.DecimalValue(old), worktime.DecimalValue(hours))
		entry.HoursID = &row.ID
		return s.recorder.RecordIfChanged(ctx, st, entry)
	})
	if err != nil {
		return worktime.WorkShiftHours{}, err
	}
	return row, nil
}

// =============================================================================
// READS
// =============================================================================

// ShiftDetail is a shift with its events and hours rows.
type ShiftDetail struct {
	Shift  worktime.WorkShift
	Events []worktime.WorkEvent
	Hours  []worktime.WorkShiftHours
}

// GetShift returns a shift with its events and hours.
func (s *Service) GetShift(ctx context.Context, id int64) (ShiftDetail, error) {
	var d ShiftDetail
	err := s.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		var err error
		if d.Shift, err = st.GetShift(ctx, id); err != nil {
			return err
		}
		if d.Events, err = st.ListShiftEvents(ctx, id); err != nil {
			return err
		}
		d.Hours, err = st.ListHours(ctx, id)
		return err
	})
	return d, err
}

// ListShifts returns shifts matching the filter, ordered by date.
func (s *Service) ListShifts(ctx context.Context, f worktime.ShiftFilter) ([]worktime.WorkShift, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, worktime.ErrInvalidTimeRange
	}
	var shifts []worktime.WorkShift
	err := s.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		var err error
		shifts, err = st.ListShifts(ctx, f)
		return err
	})
	return shifts, err
}

// ChangeSets returns the audit trail of an employee's shifts dated within
// [from, to], grouped by change set.
func (s *Service) ChangeSets(ctx context.Context, employeeID string, from, to time.Time) ([]worktime.ChangeSetWithChanges, error) {
	if employeeID == "" {
		return nil, worktime.Invalid("employeeId", "required")
	}
	if to.Before(from) {
		return nil, worktime.ErrInvalidTimeRange
	}
	var out []worktime.ChangeSetWithChanges
	err := s.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		shifts, err := st.ListShifts(ctx, worktime.ShiftFilter{EmployeeID: employeeID, From: &from, To: &to})
		if err != nil {
			return err
		}
		ids := make([]int64, len(shifts))
		for i, sh := range shifts {
			ids[i] = sh.ID
		}
		sets, err := st.ListChangeSets(ctx, ids)
		if err != nil {
			return err
		}
		changes, err := st.ListChanges(ctx, ids)
		if err != nil {
			return err
		}
		out = worktime.GroupChanges(sets, changes)
		return nil
	})
	return out, err
}

// =============================================================================
// HOLIDAYS
// =============================================================================

// AddHoliday adds a company holiday.
func (s *Service) AddHoliday(ctx context.Context, date time.Time, name string) (worktime.Holiday, error) {
	if date.IsZero() {
		return worktime.Holiday{}, worktime.Invalid("date", "required")
	}
	if name == "" {
		return worktime.Holiday{}, worktime.Invalid("name", "required")
	}
	h := worktime.Holiday{
		Date: time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		Name: name,
	}
	err := s.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		return st.InsertHoliday(ctx, &h)
	})
	return h, err
}

func (s *Service) DeleteHoliday(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		return st.DeleteHoliday(ctx, id)
	})
}

func (s *Service) ListHolidays(ctx context.Context, from, to time.Time) ([]worktime.Holiday, error) {
	if to.Before(from) {
		return nil, worktime.ErrInvalidTimeRange
	}
	var out []worktime.Holiday
	err := s.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		var err error
		out, err = st.ListHolidays(ctx, from, to)
		return err
	})
	return out, err
}
