package worktime

// =============================================================================
// EVENT TYPES - What the employee is doing from this timestamp on
// =============================================================================

type EventType string

const (
	EventShiftStart   EventType = "SHIFT_START"
	EventShiftEnd     EventType = "SHIFT_END"
	EventDrive        EventType = "DRIVE"
	EventLoading      EventType = "LOADING"
	EventUnloading    EventType = "UNLOADING"
	EventOtherWork    EventType = "OTHER_WORK"
	EventOffice       EventType = "OFFICE"
	EventMaintenance  EventType = "MAINTENANCE"
	EventTraining     EventType = "TRAINING"
	EventWaiting      EventType = "WAITING"
	EventBreak        EventType = "BREAK"
	EventRest         EventType = "REST"
	EventFrozen       EventType = "FROZEN"
	EventOfficialDuty EventType = "OFFICIAL_DUTY"
)

var AllEventTypes = []EventType{
	EventShiftStart, EventShiftEnd, EventDrive, EventLoading, EventUnloading,
	EventOtherWork, EventOffice, EventMaintenance, EventTraining, EventWaiting,
	EventBreak, EventRest, EventFrozen, EventOfficialDuty,
}

func (t EventType) Valid() bool {
	for _, et := range AllEventTypes {
		if et == t {
			return true
		}
	}
	return false
}

// IsPaidTask reports whether the event's duration counts as paid work and
// is eligible for the time-of-day allowances.
func (t EventType) IsPaidTask() bool {
	switch t {
	case EventShiftStart, EventDrive, EventLoading, EventUnloading, EventOtherWork,
		EventOffice, EventMaintenance, EventTraining:
		return true
	}
	return false
}

// IsRest reports whether a long gap after this event ends the shift early.
func (t EventType) IsRest() bool {
	return t == EventBreak || t == EventRest || t == EventFrozen
}

// IsTaskProgress reports whether the event was produced by a loading task.
func (t EventType) IsTaskProgress() bool {
	return t == EventLoading || t == EventUnloading
}

// =============================================================================
// WORK TYPES - Buckets hours are totalled into
// =============================================================================

type WorkType string

const (
	WorkPaid              WorkType = "PAID_WORK"
	WorkBreak             WorkType = "BREAK"
	WorkTraining          WorkType = "TRAINING"
	WorkStandby           WorkType = "STANDBY"
	WorkOfficialDuty      WorkType = "OFFICIAL_DUTY"
	WorkSickLeave         WorkType = "SICK_LEAVE"
	WorkVacation          WorkType = "VACATION"
	WorkCompensatoryLeave WorkType = "COMPENSATORY_LEAVE"
	WorkEveningAllowance  WorkType = "EVENING_ALLOWANCE"
	WorkNightAllowance    WorkType = "NIGHT_ALLOWANCE"
	WorkSaturdayAllowance WorkType = "SATURDAY_ALLOWANCE"
	WorkSundayAllowance   WorkType = "SUNDAY_ALLOWANCE"
	WorkDayOffBonus       WorkType = "DAY_OFF_BONUS"
	WorkOvertimeHalf      WorkType = "OVERTIME_HALF"
	WorkOvertimeFull      WorkType = "OVERTIME_FULL"
	WorkFillingHours      WorkType = "FILLING_HOURS"
	WorkPerDiemFull       WorkType = "PER_DIEM_FULL"
	WorkPerDiemPartial    WorkType = "PER_DIEM_PARTIAL"
	WorkMealAllowance     WorkType = "MEAL_ALLOWANCE"
)

// AllWorkTypes lists every work type in export order.
var AllWorkTypes = []WorkType{
	WorkPaid, WorkOvertimeHalf, WorkOvertimeFull, WorkEveningAllowance,
	WorkNightAllowance, WorkSaturdayAllowance, WorkSundayAllowance,
	WorkDayOffBonus, WorkFillingHours, WorkTraining, WorkStandby,
	WorkOfficialDuty, WorkSickLeave, WorkVacation, WorkCompensatoryLeave,
	WorkPerDiemFull, WorkPerDiemPartial, WorkMealAllowance, WorkBreak,
}

func (w WorkType) Valid() bool {
	for _, wt := range AllWorkTypes {
		if wt == w {
			return true
		}
	}
	return false
}

// TimeTargets returns the work types an event's elapsed time is counted
// into directly. Window allowances are handled separately by the aggregator.
func (t EventType) TimeTargets() []WorkType {
	switch {
	case t == EventTraining:
		return []WorkType{WorkPaid, WorkTraining}
	case t.IsPaidTask():
		return []WorkType{WorkPaid}
	case t == EventWaiting:
		return []WorkType{WorkStandby}
	case t == EventBreak:
		return []WorkType{WorkBreak}
	case t == EventOfficialDuty:
		return []WorkType{WorkOfficialDuty}
	}
	return nil
}
