/*
store.go - Persistence interface for events, shifts, hours and audit data

PURPOSE:
  Defines the interface between the work-time services and the database.
  Records are arena-style: each entity is keyed by its own id and refers
  to related entities by id. Cascading delete of a shift is an explicit
  store operation.

KEY INTERFACES:
  Store:   Keyed repository operations
  TxStore: Store plus WithTx for atomic multi-record mutations

TRANSACTIONS:
  Services run every operation, reads included, inside WithTx. All
  mutations of one employee's shifts are serialized by the store's
  transaction isolation, so concurrent events for the same employee never
  lose updates. A failed or cancelled fn leaves no partial writes.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Durable SQLite store
  - worktime/store/memory.go: In-memory store for tests and development

SEE ALSO:
  - tracking/service.go: Event placement on top of Store
  - payroll/export.go: Export persistence
*/
package worktime

import (
	"context"
	"time"
)

// ShiftFilter narrows shift listings. Zero fields do not filter.
type ShiftFilter struct {
	EmployeeID string
	From       *time.Time // inclusive shift date
	To         *time.Time // inclusive shift date
	IDs        []int64
}

// Store persists work-time records.
type Store interface {
	// Events

	// InsertEvent persists an event and assigns its ID.
	InsertEvent(ctx context.Context, e *WorkEvent) error
	UpdateEvent(ctx context.Context, e WorkEvent) error
	DeleteEvent(ctx context.Context, id int64) error
	GetEvent(ctx context.Context, id int64) (WorkEvent, error)

	// FindEvent returns an event identical in employee, timestamp and type.
	FindEvent(ctx context.Context, employeeID string, ts time.Time, typ EventType) (WorkEvent, bool, error)

	// ListShiftEvents returns a shift's events in (timestamp, id) order.
	ListShiftEvents(ctx context.Context, shiftID int64) ([]WorkEvent, error)

	// EventAtOrBefore returns the employee's latest event at or before t,
	// skipping excludeID. Found is false when there is none.
	EventAtOrBefore(ctx context.Context, employeeID string, t time.Time, excludeID int64) (WorkEvent, bool, error)

	// EventAfter returns the employee's earliest event strictly after t,
	// skipping excludeID.
	EventAfter(ctx context.Context, employeeID string, t time.Time, excludeID int64) (WorkEvent, bool, error)

	// Shifts

	InsertShift(ctx context.Context, s *WorkShift) error
	UpdateShift(ctx context.Context, s WorkShift) error

	// DeleteShift removes a shift with its events, hours, change sets and
	// changes.
	DeleteShift(ctx context.Context, id int64) error
	GetShift(ctx context.Context, id int64) (WorkShift, error)
	ListShifts(ctx context.Context, filter ShiftFilter) ([]WorkShift, error)
	ListOpenShifts(ctx context.Context) ([]WorkShift, error)

	// NextUncheckedShift returns one shift not yet checked for duplicates
	// that ended before the cutoff, oldest first.
	NextUncheckedShift(ctx context.Context, endedBefore time.Time) (WorkShift, bool, error)

	// Hours

	// InsertHours persists hours rows and assigns their IDs.
	InsertHours(ctx context.Context, rows []WorkShiftHours) error
	UpdateHours(ctx context.Context, h WorkShiftHours) error
	ListHours(ctx context.Context, shiftID int64) ([]WorkShiftHours, error)

	// Payroll exports

	// NextExportID reserves an export id. Reserved ids are never reused.
	NextExportID(ctx context.Context) (int64, error)
	InsertExport(ctx context.Context, e PayrollExport) error
	GetExport(ctx context.Context, id int64) (PayrollExport, error)
	ListExports(ctx context.Context, employeeID string) ([]PayrollExport, error)
	DeleteExport(ctx context.Context, id int64) error

	// Change log

	GetChangeSet(ctx context.Context, id string, shiftID int64) (ChangeSet, error)
	InsertChangeSet(ctx context.Context, cs ChangeSet) error
	InsertChange(ctx context.Context, c *Change) error
	ListChangeSets(ctx context.Context, shiftIDs []int64) ([]ChangeSet, error)
	ListChanges(ctx context.Context, shiftIDs []int64) ([]Change, error)

	// Holidays

	InsertHoliday(ctx context.Context, h *Holiday) error
	DeleteHoliday(ctx context.Context, id int64) error
	ListHolidays(ctx context.Context, from, to time.Time) ([]Holiday, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, or ctx is done when fn returns, the transaction
	// is rolled back. Otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// LoadCalendar returns the holidays between from and to as a calendar.
func LoadCalendar(ctx context.Context, s Store, from, to time.Time) (HolidayCalendar, error) {
	holidays, err := s.ListHolidays(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return NewHolidaySet(holidays), nil
}
