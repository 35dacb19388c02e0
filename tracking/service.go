/*
Package tracking owns work events and their shift membership.

PURPOSE:
  Events arrive out of order from the bus and the API. The service decides
  which shift each event belongs to, keeps the derived shift fields in
  step with the member events and records every change in the audit log.

PLACEMENT OF AN EVENT AT TIME t:
  prev = employee's latest other event at or before t
  next = employee's earliest other event after t

  1. Join prev's shift unless
       - prev is SHIFT_END, or prev's shift ended before t
       - t - prev >= hard cut gap (5h)
       - prev is BREAK/REST/FROZEN and t - prev >= rest gap (3h)
  2. Otherwise join next's shift, unless the new event is SHIFT_END or
     next - t hits the same cut rules (the new event decides the rest rule)
  3. Otherwise start a new shift

DERIVED SHIFT FIELDS (after every membership change):
  date      = local date of the earliest event
  startedAt = earliest timestamp
  endedAt   = last timestamp when the last event is SHIFT_END, else nil
  An empty shift is deleted with its hours and change log.

SEE ALSO:
  - shifts.go: Shift field updates and manager overrides
  - sweeps.go: Idle shift closer and duplicate cleaner
*/
package tracking

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/warp/worktime-engine/metrics"
	"github.com/warp/worktime-engine/worktime"
)

// Service records events and maintains shifts.
type Service struct {
	store    worktime.TxStore
	policy   worktime.Policy
	recorder *worktime.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store worktime.TxStore, policy worktime.Policy, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		policy: policy,
		logger: logger.Named("tracking"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recorder = worktime.NewRecorder(s.now)
	return s
}

// Policy returns the rule set the service runs under.
func (s *Service) Policy() worktime.Policy { return s.policy }

// inTx runs fn in a store transaction bounded by the request timeout.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, st worktime.Store) error) error {
	if s.policy.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.policy.RequestTimeout)
		defer cancel()
	}
	return s.store.WithTx(ctx, func(st worktime.Store) error {
		return fn(ctx, st)
	})
}

// =============================================================================
// EVENT OPERATIONS
// =============================================================================

// NewEvent is the input of RecordEvent.
type NewEvent struct {
	EmployeeID string
	Timestamp  time.Time
	Type       worktime.EventType
	TruckID    *string
	CostCenter *string
}

func (e NewEvent) validate() error {
	if e.EmployeeID == "" {
		return worktime.Invalid("employeeId", "required")
	}
	if e.Timestamp.IsZero() {
		return worktime.Invalid("timestamp", "required")
	}
	if !e.Type.Valid() {
		return worktime.Invalid("type", "unknown event type "+string(e.Type))
	}
	return nil
}

// RecordEvent stores an event and places it into a shift. An event
// identical in employee, timestamp and type to a stored one is returned
// as is.
func (s *Service) RecordEvent(ctx context.Context, m worktime.Mutation, in NewEvent) (worktime.WorkEvent, error) {
	if err := in.validate(); err != nil {
		return worktime.WorkEvent{}, err
	}
	m = m.Normalize()
	in.Timestamp = in.Timestamp.UTC()

	var (
		event   worktime.WorkEvent
		created bool
	)
	err := s.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		var err error
		event, created, err = s.insertEvent(ctx, st, m, in)
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

// insertEvent places and stores an event within the caller's transaction.
// created is false when an identical event already exists.
func (s *Service) insertEvent(ctx context.Context, st worktime.Store, m worktime.Mutation, in NewEvent) (worktime.WorkEvent, bool, error) {
	existing, found, err := st.FindEvent(ctx, in.EmployeeID, in.Timestamp, in.Type)
	if err != nil || found {
		return existing, false, err
	}

	shiftID, err := s.place(ctx, st, m, in.EmployeeID, in.Timestamp, in.Type, 0)
	if err != nil {
		return worktime.WorkEvent{}, false, err
	}
	event := worktime.WorkEvent{
		EmployeeID: in.EmployeeID,
		Timestamp:  in.Timestamp,
		Type:       in.Type,
		ShiftID:    shiftID,
		TruckID:    in.TruckID,
		CostCenter: emptyToNil(in.CostCenter),
	}
	if err := st.InsertEvent(ctx, &event); err != nil {
		return worktime.WorkEvent{}, false, err
	}
	entry := m.Entry(shiftID, worktime.ReasonEventCreated).Values(nil, eventValue(event))
	entry.EventID = &event.ID
	if err := s.recorder.Record(ctx, st, entry); err != nil {
		return worktime.WorkEvent{}, false, err
	}
	if _, err := s.rederive(ctx, st, shiftID); err != nil {
		return worktime.WorkEvent{}, false, err
	}
	return event, true, nil
}

func (s *Service) recorded(event worktime.WorkEvent) {
	metrics.EventsRecorded.WithLabelValues(string(event.Type)).Inc()
	s.logger.Debug("event recorded",
		zap.String("employee", event.EmployeeID),
		zap.String("type", string(event.Type)),
		zap.Time("at", event.Timestamp),
		zap.Int64("shift", event.ShiftID))
}

// EventPatch changes an event. Nil fields are left as is; an empty cost
// center clears it.
type EventPatch struct {
	Timestamp  *time.Time
	Type       *worktime.EventType
	CostCenter *string
}

// UpdateEvent edits an event. Timestamp and type edits re-run placement;
// an event that is alone in its shift keeps the shift even when placement
// would open a new one.
func (s *Service) UpdateEvent(ctx context.Context, m worktime.Mutation, id int64, p EventPatch) (worktime.WorkEvent, error) {
	if p.Type != nil && !p.Type.Valid() {
		return worktime.WorkEvent{}, worktime.Invalid("type", "unknown event type "+string(*p.Type))
	}
	if p.Timestamp != nil && p.Timestamp.IsZero() {
		return worktime.WorkEvent{}, worktime.Invalid("timestamp", "must not be zero")
	}
	m = m.Normalize()

	var updated worktime.WorkEvent
	err := s.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		before, err := st.GetEvent(ctx, id)
		if err != nil {
			return err
		}
		if err := s.requireEditable(ctx, st, before.ShiftID); err != nil {
			return err
		}

		after := before
		if p.Timestamp != nil {
			after.Timestamp = p.Timestamp.UTC()
		}
		if p.Type != nil {
			after.Type = *p.Type
		}
		if p.CostCenter != nil {
			after.CostCenter = emptyToNil(p.CostCenter)
		}

		moved := !after.Timestamp.Equal(before.Timestamp) || after.Type != before.Type
		if moved {
			target, err := s.place(ctx, st, m, after.EmployeeID, after.Timestamp, after.Type, after.ID)
			if err != nil {
				return err
			}
			after.ShiftID = target
		}
		if err := st.UpdateEvent(ctx, after); err != nil {
			return err
		}

		if err := s.recordEventDiff(ctx, st, m, before, after); err != nil {
			return err
		}
		if before.ShiftID != after.ShiftID {
			deleted, err := s.rederive(ctx, st, before.ShiftID)
			if err != nil {
				return err
			}
			if !deleted {
				if err := s.recorder.Record(ctx, st, m.Entry(before.ShiftID, worktime.ReasonEventShift).
					Values(worktime.IDValue(&before.ShiftID), worktime.IDValue(&after.ShiftID))); err != nil {
					return err
				}
			}
		}
		if _, err := s.rederive(ctx, st, after.ShiftID); err != nil {
			return err
		}
		updated = after
		return nil
	})
	if err != nil {
		return worktime.WorkEvent{}, err
	}
	return updated, nil
}

// DeleteEvent removes an event. Deleting the last event of a shift
// deletes the shift.
func (s *Service) DeleteEvent(ctx context.Context, m worktime.Mutation, id int64) error {
	m = m.Normalize()
	return s.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		event, err := st.GetEvent(ctx, id)
		if err != nil {
			return err
		}
		if err := s.requireEditable(ctx, st, event.ShiftID); err != nil {
			return err
		}
		if err := st.DeleteEvent(ctx, id); err != nil {
			return err
		}
		deleted, err := s.rederive(ctx, st, event.ShiftID)
		if err != nil || deleted {
			return err
		}
		entry := m.Entry(event.ShiftID, worktime.ReasonEventDeleted).Values(eventValue(event), nil)
		entry.EventID = &event.ID
		return s.recorder.Record(ctx, st, entry)
	})
}

func (s *Service) recordEventDiff(ctx context.Context, st worktime.Store, m worktime.Mutation, before, after worktime.WorkEvent) error {
	entry := func(reason worktime.Reason, oldValue, newValue *string) worktime.Entry {
		e := m.Entry(after.ShiftID, reason).Values(oldValue, newValue)
		e.EventID = &after.ID
		return e
	}
	diffs := []worktime.Entry{
		entry(worktime.ReasonEventTimestamp, worktime.TimeValue(&before.Timestamp), worktime.TimeValue(&after.Timestamp)),
		entry(worktime.ReasonEventType, worktime.TextValue(&before.Type), worktime.TextValue(&after.Type)),
		entry(worktime.ReasonEventCostCenter, before.CostCenter, after.CostCenter),
		entry(worktime.ReasonEventShift, worktime.IDValue(&before.ShiftID), worktime.IDValue(&after.ShiftID)),
	}
	for _, d := range diffs {
		if err := s.recorder.RecordIfChanged(ctx, st, d); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PLACEMENT
// =============================================================================

// place returns the shift an event at t belongs to, creating one when
// needed. excludeID is the event being moved, or 0.
func (s *Service) place(ctx context.Context, st worktime.Store, m worktime.Mutation, employeeID string, t time.Time, typ worktime.EventType, excludeID int64) (int64, error) {
	target, absorb, err := s.neighbourShift(ctx, st, employeeID, t, typ, excludeID)
	if err != nil {
		return 0, err
	}

	if target == 0 && excludeID != 0 {
		// A lone event keeps its shift rather than opening a new one.
		current, err := st.GetEvent(ctx, excludeID)
		if err != nil {
			return 0, err
		}
		events, err := st.ListShiftEvents(ctx, current.ShiftID)
		if err != nil {
			return 0, err
		}
		if len(events) == 1 {
			return current.ShiftID, nil
		}
	}

	if target != 0 {
		if err := s.requireEditable(ctx, st, target); err != nil {
			return 0, err
		}
		if absorb != 0 {
			if err := s.mergeShift(ctx, st, m, absorb, target, excludeID); err != nil {
				return 0, err
			}
		}
		return target, nil
	}
	return s.openShift(ctx, st, m, employeeID, t)
}

// neighbourShift applies the join rules. Zero means a new shift. absorb is
// the following shift when an event joining the previous one also bridges
// the gap to it.
func (s *Service) neighbourShift(ctx context.Context, st worktime.Store, employeeID string, t time.Time, typ worktime.EventType, excludeID int64) (target, absorb int64, err error) {
	prev, found, err := st.EventAtOrBefore(ctx, employeeID, t, excludeID)
	if err != nil {
		return 0, 0, err
	}
	if found {
		shift, err := st.GetShift(ctx, prev.ShiftID)
		if err != nil {
			return 0, 0, err
		}
		if s.joinsPrevious(shift, prev, t) {
			target = prev.ShiftID
		}
	}

	if typ == worktime.EventShiftEnd {
		return target, 0, nil
	}
	next, found, err := st.EventAfter(ctx, employeeID, t, excludeID)
	if err != nil {
		return 0, 0, err
	}
	if !found || s.cuts(typ, next.Timestamp.Sub(t)) {
		return target, 0, nil
	}
	if target == 0 {
		return next.ShiftID, 0, nil
	}
	if next.ShiftID != target {
		absorb = next.ShiftID
	}
	return target, absorb, nil
}

// mergeShift moves every event of shift from into shift into and deletes
// the emptied shift. An approved shift is left alone. excludeID is the
// event being moved by the caller, which updates it itself.
func (s *Service) mergeShift(ctx context.Context, st worktime.Store, m worktime.Mutation, from, into, excludeID int64) error {
	source, err := st.GetShift(ctx, from)
	if err != nil {
		return err
	}
	if source.Approved {
		return nil
	}
	events, err := st.ListShiftEvents(ctx, from)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.ID == excludeID {
			continue
		}
		ev.ShiftID = into
		if err := st.UpdateEvent(ctx, ev); err != nil {
			return err
		}
		entry := m.Entry(into, worktime.ReasonEventShift).Values(worktime.IDValue(&from), worktime.IDValue(&into))
		entry.EventID = &ev.ID
		if err := s.recorder.Record(ctx, st, entry); err != nil {
			return err
		}
	}

	target, err := st.GetShift(ctx, into)
	if err != nil {
		return err
	}
	if target.DuplicatesChecked {
		target.DuplicatesChecked = false
		if err := st.UpdateShift(ctx, target); err != nil {
			return err
		}
	}
	if _, err := s.rederive(ctx, st, from); err != nil {
		return err
	}
	s.logger.Debug("shifts merged", zap.Int64("from", from), zap.Int64("into", into))
	return nil
}

func (s *Service) joinsPrevious(shift worktime.WorkShift, prev worktime.WorkEvent, t time.Time) bool {
	if prev.Type == worktime.EventShiftEnd {
		return false
	}
	if shift.EndedAt != nil && t.After(*shift.EndedAt) {
		return false
	}
	return !s.cuts(prev.Type, t.Sub(prev.Timestamp))
}

// cuts reports whether a gap following an event of type typ ends the shift.
func (s *Service) cuts(typ worktime.EventType, gap time.Duration) bool {
	if gap >= s.policy.HardCutGap {
		return true
	}
	return typ.IsRest() && gap >= s.policy.RestGap
}

func (s *Service) openShift(ctx context.Context, st worktime.Store, m worktime.Mutation, employeeID string, t time.Time) (int64, error) {
	shift := worktime.WorkShift{
		EmployeeID: employeeID,
		Date:       worktime.DateOf(t, s.policy.Location),
		StartedAt:  &t,
	}
	if err := st.InsertShift(ctx, &shift); err != nil {
		return 0, err
	}
	if err := st.InsertHours(ctx, worktime.NewHoursRows(shift.ID)); err != nil {
		return 0, err
	}
	if err := s.recorder.Record(ctx, st, m.Entry(shift.ID, worktime.ReasonShiftCreated).
		Values(nil, worktime.IDValue(&shift.ID))); err != nil {
		return 0, err
	}
	return shift.ID, nil
}

// rederive refreshes date, startedAt and endedAt from the member events,
// deleting the shift when it has none left.
func (s *Service) rederive(ctx context.Context, st worktime.Store, shiftID int64) (deleted bool, err error) {
	events, err := st.ListShiftEvents(ctx, shiftID)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return true, st.DeleteShift(ctx, shiftID)
	}

	shift, err := st.GetShift(ctx, shiftID)
	if err != nil {
		return false, err
	}
	first, last := events[0], events[len(events)-1]
	shift.Date = worktime.DateOf(first.Timestamp, s.policy.Location)
	started := first.Timestamp
	shift.StartedAt = &started
	shift.EndedAt = nil
	if last.Type == worktime.EventShiftEnd {
		ended := last.Timestamp
		shift.EndedAt = &ended
	}
	return false, st.UpdateShift(ctx, shift)
}

func (s *Service) requireEditable(ctx context.Context, st worktime.Store, shiftID int64) error {
	shift, err := st.GetShift(ctx, shiftID)
	if err != nil {
		return err
	}
	if shift.Approved {
		return &worktime.ShiftStateError{ShiftID: shiftID, Err: worktime.ErrShiftApproved}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func eventValue(e worktime.WorkEvent) *string {
	return worktime.StringPtr(string(e.Type) + "@" + e.Timestamp.UTC().Format(time.RFC3339))
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
