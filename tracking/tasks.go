package tracking

import (
	"context"
	"time"

	"github.com/warp/worktime-engine/worktime"
)

// =============================================================================
// TASK PROGRESS - Loading and unloading reported by the task system
// =============================================================================

type TaskType string

const (
	TaskLoad   TaskType = "LOAD"
	TaskUnload TaskType = "UNLOAD"
)

// EventType returns the work event a running task records.
func (t TaskType) EventType() (worktime.EventType, bool) {
	switch t {
	case TaskLoad:
		return worktime.EventLoading, true
	case TaskUnload:
		return worktime.EventUnloading, true
	}
	return "", false
}

type TaskStatus string

const (
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskDone       TaskStatus = "DONE"
)

// TaskProgress is one status report of a loading task.
type TaskProgress struct {
	EmployeeID string
	Type       TaskType
	Status     TaskStatus
	TruckID    *string
	Time       time.Time
}

// RecordTaskProgress turns a task report into a work event.
//
// IN_PROGRESS records LOADING or UNLOADING unless the employee's latest
// event is already a task event. DONE requires the latest event to be the
// matching task event and records OTHER_WORK. Anything else is a conflict.
// Re-delivered reports return the event they recorded the first time.
func (s *Service) RecordTaskProgress(ctx context.Context, m worktime.Mutation, p TaskProgress) (worktime.WorkEvent, error) {
	if p.EmployeeID == "" {
		return worktime.WorkEvent{}, worktime.Invalid("userId", "required")
	}
	if p.Time.IsZero() {
		return worktime.WorkEvent{}, worktime.Invalid("eventTime", "required")
	}
	taskEvent, ok := p.Type.EventType()
	if !ok {
		return worktime.WorkEvent{}, worktime.Invalid("taskType", "unknown task type "+string(p.Type))
	}
	if p.Status != TaskInProgress && p.Status != TaskDone {
		return worktime.WorkEvent{}, worktime.Invalid("taskStatus", "unknown task status "+string(p.Status))
	}
	m = m.Normalize()
	ts := p.Time.UTC()

	recordType := taskEvent
	if p.Status == TaskDone {
		recordType = worktime.EventOtherWork
	}

	var (
		event   worktime.WorkEvent
		created bool
	)
	err := s.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		existing, found, err := st.FindEvent(ctx, p.EmployeeID, ts, recordType)
		if err != nil {
			return err
		}
		if found {
			event = existing
			return nil
		}

		latest, found, err := st.EventAtOrBefore(ctx, p.EmployeeID, ts, 0)
		if err != nil {
			return err
		}
		switch p.Status {
		case TaskInProgress:
			if found && latest.Type.IsTaskProgress() {
				return &worktime.ConflictError{EmployeeID: p.EmployeeID,
					Reason: "task started while " + string(latest.Type) + " is still running"}
			}
		case TaskDone:
			if !found || latest.Type != taskEvent {
				return &worktime.ConflictError{EmployeeID: p.EmployeeID,
					Reason: "task " + string(p.Type) + " finished without being started"}
			}
		}

		event, created, err = s.insertEvent(ctx, st, m, NewEvent{
			EmployeeID: p.EmployeeID,
			Timestamp:  ts,
			Type:       recordType,
			TruckID:    p.TruckID,
		})
		return err
	})
	if err != nil {
		return worktime.WorkEvent{}, err
	}
	if created {
		s.recorded(event)
	}
	return event, nil
}

// =============================================================================
// DRIVER STATE
// =============================================================================

// DriverStateChange is a working-state change reported by a driver's
// device. WorkTypeID tags the event with a cost center.
type DriverStateChange struct {
	DriverID   string
	WorkTypeID *string
	EventType  worktime.EventType
	Time       time.Time
	TruckID    *string
}

// RecordDriverState records a driver state change as a work event.
func (s *Service) RecordDriverState(ctx context.Context, m worktime.Mutation, c DriverStateChange) (worktime.WorkEvent, error) {
	return s.RecordEvent(ctx, m, NewEvent{
		EmployeeID: c.DriverID,
		Timestamp:  c.Time,
		Type:       c.EventType,
		TruckID:    c.TruckID,
		CostCenter: c.WorkTypeID,
	})
}
