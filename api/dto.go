/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  domain types in worktime and directory.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry validator/v10 tags; handlers call decode(), which
  validates after unmarshalling. Domain rules are still enforced by the
  services.

HOURS:
  Hour quantities are decimal strings ("7.5"), never floats.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/worktime-engine/directory"
	"github.com/warp/worktime-engine/payroll"
	"github.com/warp/worktime-engine/tracking"
	"github.com/warp/worktime-engine/worktime"
)

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// EMPLOYEES
// =============================================================================

type CreateEmployeeRequest struct {
	Username   string              `json:"username" validate:"required"`
	FirstName  string              `json:"firstName" validate:"required"`
	LastName   string              `json:"lastName" validate:"required"`
	Email      string              `json:"email" validate:"omitempty,email"`
	Roles      []string            `json:"roles" validate:"dive,oneof=driver employee manager"`
	Attributes map[string][]string `json:"attributes"`
}

// SetAttributesRequest merges attributes; an empty list removes the key.
type SetAttributesRequest struct {
	Attributes map[string][]string `json:"attributes" validate:"required"`
}

// =============================================================================
// EVENTS
// =============================================================================

type CreateEventRequest struct {
	EmployeeID string             `json:"employeeId" validate:"required"`
	Timestamp  time.Time          `json:"timestamp" validate:"required"`
	Type       worktime.EventType `json:"type" validate:"required"`
	TruckID    *string            `json:"truckId"`
	CostCenter *string            `json:"costCenter"`
}

type UpdateEventRequest struct {
	Timestamp  *time.Time          `json:"timestamp"`
	Type       *worktime.EventType `json:"type"`
	CostCenter *string             `json:"costCenter"`
}

type EventDTO struct {
	ID         int64     `json:"id"`
	EmployeeID string    `json:"employeeId"`
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"type"`
	ShiftID    int64     `json:"shiftId"`
	TruckID    *string   `json:"truckId,omitempty"`
	CostCenter *string   `json:"costCenter,omitempty"`
}

func toEventDTO(e worktime.WorkEvent) EventDTO {
	return EventDTO{
		ID:         e.ID,
		EmployeeID: e.EmployeeID,
		Timestamp:  e.Timestamp,
		Type:       string(e.Type),
		ShiftID:    e.ShiftID,
		TruckID:    e.TruckID,
		CostCenter: e.CostCenter,
	}
}

// =============================================================================
// SHIFTS
// =============================================================================

// UpdateShiftRequest patches a shift. Omitted fields are left alone;
// null clears a nullable field.
type UpdateShiftRequest struct {
	Approved             *bool                                            `json:"approved"`
	AbsenceType          tracking.Optional[worktime.AbsenceType]          `json:"absenceType"`
	PerDiemAllowanceType tracking.Optional[worktime.PerDiemAllowanceType] `json:"perDiemAllowanceType"`
	DayOffWorkAllowance  *bool                                            `json:"dayOffWorkAllowance"`
	Notes                tracking.Optional[string]                        `json:"notes"`
	DefaultCostCenter    tracking.Optional[string]                        `json:"defaultCostCenter"`
}

func (r UpdateShiftRequest) patch() tracking.ShiftPatch {
	return tracking.ShiftPatch{
		Approved:             r.Approved,
		AbsenceType:          r.AbsenceType,
		PerDiemAllowanceType: r.PerDiemAllowanceType,
		DayOffWorkAllowance:  r.DayOffWorkAllowance,
		Notes:                r.Notes,
		DefaultCostCenter:    r.DefaultCostCenter,
	}
}

// SetHoursRequest sets or, with null, clears a manual override.
type SetHoursRequest struct {
	Hours *decimal.Decimal `json:"hours"`
}

type ShiftDTO struct {
	ID                   int64      `json:"id"`
	EmployeeID           string     `json:"employeeId"`
	Date                 string     `json:"date"`
	StartedAt            *time.Time `json:"startedAt,omitempty"`
	EndedAt              *time.Time `json:"endedAt,omitempty"`
	Approved             bool       `json:"approved"`
	AbsenceType          *string    `json:"absenceType,omitempty"`
	PerDiemAllowanceType *string    `json:"perDiemAllowanceType,omitempty"`
	DayOffWorkAllowance  bool       `json:"dayOffWorkAllowance"`
	Notes                *string    `json:"notes,omitempty"`
	DefaultCostCenter    *string    `json:"defaultCostCenter,omitempty"`
	PayrollExportID      *int64     `json:"payrollExportId,omitempty"`
}

func toShiftDTO(s worktime.WorkShift) ShiftDTO {
	dto := ShiftDTO{
		ID:                  s.ID,
		EmployeeID:          s.EmployeeID,
		Date:                s.Date.Format(dateLayout),
		StartedAt:           s.StartedAt,
		EndedAt:             s.EndedAt,
		Approved:            s.Approved,
		DayOffWorkAllowance: s.DayOffWorkAllowance,
		Notes:               s.Notes,
		DefaultCostCenter:   s.DefaultCostCenter,
		PayrollExportID:     s.PayrollExportID,
	}
	if s.AbsenceType != nil {
		v := string(*s.AbsenceType)
		dto.AbsenceType = &v
	}
	if s.PerDiemAllowanceType != nil {
		v := string(*s.PerDiemAllowanceType)
		dto.PerDiemAllowanceType = &v
	}
	return dto
}

type HoursDTO struct {
	ID              int64            `json:"id"`
	WorkType        string           `json:"workType"`
	ActualHours     *decimal.Decimal `json:"actualHours"`
	CalculatedHours *decimal.Decimal `json:"calculatedHours"`
}

func toHoursDTO(h worktime.WorkShiftHours) HoursDTO {
	return HoursDTO{
		ID:              h.ID,
		WorkType:        string(h.WorkType),
		ActualHours:     h.ActualHours,
		CalculatedHours: h.CalculatedHours,
	}
}

type ShiftDetailDTO struct {
	ShiftDTO
	Events []EventDTO `json:"events"`
	Hours  []HoursDTO `json:"hours"`
}

func toShiftDetailDTO(d tracking.ShiftDetail) ShiftDetailDTO {
	dto := ShiftDetailDTO{
		ShiftDTO: toShiftDTO(d.Shift),
		Events:   make([]EventDTO, 0, len(d.Events)),
		Hours:    make([]HoursDTO, 0, len(d.Hours)),
	}
	for _, e := range d.Events {
		dto.Events = append(dto.Events, toEventDTO(e))
	}
	for _, h := range d.Hours {
		dto.Hours = append(dto.Hours, toHoursDTO(h))
	}
	return dto
}

// =============================================================================
// PERIOD
// =============================================================================

// TotalsDTO is a work type total split by cost center.
type TotalsDTO struct {
	Total         decimal.Decimal            `json:"total"`
	PerCostCenter map[string]decimal.Decimal `json:"perCostCenter"`
}

type PeriodShiftDTO struct {
	ShiftID    int64                `json:"shiftId"`
	Date       string               `json:"date"`
	Calculated map[string]TotalsDTO `json:"calculated"`
	Final      map[string]TotalsDTO `json:"final"`
}

type PeriodDTO struct {
	EmployeeID   string               `json:"employeeId"`
	EmployeeType string               `json:"employeeType"`
	Start        string               `json:"start"`
	End          string               `json:"end"`
	Totals       map[string]TotalsDTO `json:"totals"`
	Shifts       []PeriodShiftDTO     `json:"shifts"`
}

func toTotalsDTO(t worktime.ShiftTotals) map[string]TotalsDTO {
	out := make(map[string]TotalsDTO, len(t))
	for wt, tot := range t {
		per := make(map[string]decimal.Decimal, len(tot.PerCostCenter))
		for _, cc := range tot.PerCostCenter {
			per[cc.CostCenter] = cc.Hours.Round(2)
		}
		out[string(wt)] = TotalsDTO{Total: tot.Total.Round(2), PerCostCenter: per}
	}
	return out
}

func toPeriodDTO(res payroll.PeriodResult) PeriodDTO {
	dto := PeriodDTO{
		EmployeeID:   res.Profile.ID,
		EmployeeType: string(res.Profile.EmployeeType),
		Start:        res.Period.Start.Format(dateLayout),
		End:          res.Period.End.Format(dateLayout),
		Totals:       toTotalsDTO(res.Totals),
		Shifts:       make([]PeriodShiftDTO, 0, len(res.Shifts)),
	}
	for _, s := range res.Shifts {
		dto.Shifts = append(dto.Shifts, PeriodShiftDTO{
			ShiftID:    s.Shift.ID,
			Date:       s.Shift.Date.Format(dateLayout),
			Calculated: toTotalsDTO(s.Calculated),
			Final:      toTotalsDTO(s.Final),
		})
	}
	return dto
}

// =============================================================================
// HOLIDAYS
// =============================================================================

type CreateHolidayRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Name string `json:"name" validate:"required"`
}

type HolidayDTO struct {
	ID   int64  `json:"id"`
	Date string `json:"date"`
	Name string `json:"name"`
}

func toHolidayDTO(h worktime.Holiday) HolidayDTO {
	return HolidayDTO{ID: h.ID, Date: h.Date.Format(dateLayout), Name: h.Name}
}

// =============================================================================
// EXPORTS
// =============================================================================

type CreateExportRequest struct {
	EmployeeID string  `json:"employeeId" validate:"required"`
	ShiftIDs   []int64 `json:"shiftIds" validate:"required,min=1,dive,gt=0"`
}

type ExportDTO struct {
	ID         int64     `json:"id"`
	EmployeeID string    `json:"employeeId"`
	FileName   string    `json:"fileName"`
	ExportedAt time.Time `json:"exportedAt"`
	CreatorID  string    `json:"creatorId"`
	ShiftIDs   []int64   `json:"shiftIds"`
}

func toExportDTO(e worktime.PayrollExport) ExportDTO {
	ids := e.ShiftIDs
	if ids == nil {
		ids = []int64{}
	}
	return ExportDTO{
		ID:         e.ID,
		EmployeeID: e.EmployeeID,
		FileName:   e.FileName,
		ExportedAt: e.ExportedAt,
		CreatorID:  e.CreatorID,
		ShiftIDs:   ids,
	}
}

// =============================================================================
// CHANGE LOG
// =============================================================================

type ChangeDTO struct {
	ID               int64     `json:"id"`
	WorkShiftHoursID *int64    `json:"workShiftHoursId,omitempty"`
	WorkEventID      *int64    `json:"workEventId,omitempty"`
	Reason           string    `json:"reason"`
	OldValue         *string   `json:"oldValue"`
	NewValue         *string   `json:"newValue"`
	CreatorID        string    `json:"creatorId"`
	CreatedAt        time.Time `json:"createdAt"`
}

type ChangeSetDTO struct {
	ID          string      `json:"id"`
	WorkShiftID int64       `json:"workShiftId"`
	CreatorID   string      `json:"creatorId"`
	CreatedAt   time.Time   `json:"createdAt"`
	Changes     []ChangeDTO `json:"changes"`
}

func toChangeSetDTO(cs worktime.ChangeSetWithChanges) ChangeSetDTO {
	dto := ChangeSetDTO{
		ID:          cs.ID,
		WorkShiftID: cs.WorkShiftID,
		CreatorID:   cs.CreatorID,
		CreatedAt:   cs.CreatedAt,
		Changes:     make([]ChangeDTO, 0, len(cs.Changes)),
	}
	for _, c := range cs.Changes {
		dto.Changes = append(dto.Changes, ChangeDTO{
			ID:               c.ID,
			WorkShiftHoursID: c.WorkShiftHoursID,
			WorkEventID:      c.WorkEventID,
			Reason:           string(c.Reason),
			OldValue:         c.OldValue,
			NewValue:         c.NewValue,
			CreatorID:        c.CreatorID,
			CreatedAt:        c.CreatedAt,
		})
	}
	return dto
}

// =============================================================================
// EMPLOYEES (response)
// =============================================================================

type EmployeeDTO struct {
	directory.User
	FullName string `json:"fullName"`
}

func toEmployeeDTO(u directory.User) EmployeeDTO {
	if u.Roles == nil {
		u.Roles = []string{}
	}
	return EmployeeDTO{User: u, FullName: u.FullName()}
}
