package tracking

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/worktime-engine/metrics"
	"github.com/warp/worktime-engine/worktime"
)

// =============================================================================
// IDLE SHIFT CLOSER
// =============================================================================

// CloseIdleShifts ends every open shift whose latest event is older than
// the idle timeout by appending a SHIFT_END at that event's timestamp.
// Each shift is closed in its own transaction; the first error stops the
// sweep and is returned with the count closed so far.
func (s *Service) CloseIdleShifts(ctx context.Context) (int, error) {
	var open []worktime.WorkShift
	err := s.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		var err error
		open, err = st.ListOpenShifts(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list open shifts: %w", err)
	}

	cutoff := s.now().Add(-s.policy.IdleShiftTimeout)
	closed := 0
	for _, shift := range open {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		ok, err := s.closeIfIdle(ctx, shift.ID, cutoff)
		if err != nil {
			return closed, fmt.Errorf("close shift %d: %w", shift.ID, err)
		}
		if ok {
			closed++
		}
	}

	if closed > 0 {
		metrics.ShiftsClosed.Add(float64(closed))
		s.logger.Info("idle shifts closed", zap.Int("count", closed))
	}
	return closed, nil
}

func (s *Service) closeIfIdle(ctx context.Context, shiftID int64, cutoff time.Time) (bool, error) {
	closed := false
	m := worktime.SystemMutation()
	err := s.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		shift, err := st.GetShift(ctx, shiftID)
		if worktime.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if !shift.IsOpen() {
			return nil
		}
		events, err := st.ListShiftEvents(ctx, shiftID)
		if err != nil || len(events) == 0 {
			return err
		}
		latest := events[len(events)-1]
		if !latest.Timestamp.Before(cutoff) {
			return nil
		}

		end := worktime.WorkEvent{
			EmployeeID: shift.EmployeeID,
			Timestamp:  latest.Timestamp,
			Type:       worktime.EventShiftEnd,
			ShiftID:    shiftID,
			TruckID:    latest.TruckID,
			CostCenter: latest.CostCenter,
		}
		if err := st.InsertEvent(ctx, &end); err != nil {
			return err
		}
		entry := m.Entry(shiftID, worktime.ReasonEventCreated).Values(nil, eventValue(end))
		entry.EventID = &end.ID
		if err := s.recorder.Record(ctx, st, entry); err != nil {
			return err
		}
		if _, err := s.rederive(ctx, st, shiftID); err != nil {
			return err
		}
		closed = true
		return nil
	})
	return closed, err
}

// =============================================================================
// DUPLICATE EVENT CLEANER
// =============================================================================

// Cleaner removes runs of consecutive same-type events.
type Cleaner struct {
	svc *Service
}

// NewCleaner creates a cleaner over the service's store and policy.
func NewCleaner(svc *Service) *Cleaner {
	return &Cleaner{svc: svc}
}

// SweepResult reports one sweep.
type SweepResult struct {
	ShiftID int64
	Removed int
	Checked bool
}

// Sweep processes one unchecked shift that ended before the grace period.
// Walking oldest to newest, each event's immediate successors of the same
// type are deleted, at most MaxDuplicateDeletions per sweep. The shift is
// marked checked only when it had no duplicates, so shifts with many are
// revisited until clean.
func (c *Cleaner) Sweep(ctx context.Context) (SweepResult, error) {
	s := c.svc
	var res SweepResult
	m := worktime.SystemMutation()

	err := s.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		res = SweepResult{}
		shift, found, err := st.NextUncheckedShift(ctx, s.now().Add(-s.policy.DuplicateGrace))
		if err != nil || !found {
			return err
		}
		res.ShiftID = shift.ID

		// Approved hours are final; they are marked checked untouched.
		if shift.Approved || shift.PayrollExportID != nil {
			shift.DuplicatesChecked = true
			res.Checked = true
			return st.UpdateShift(ctx, shift)
		}

		events, err := st.ListShiftEvents(ctx, shift.ID)
		if err != nil {
			return err
		}
		for _, dup := range duplicateRuns(events, s.policy.MaxDuplicateDeletions) {
			if err := st.DeleteEvent(ctx, dup.ID); err != nil {
				return err
			}
			entry := m.Entry(shift.ID, worktime.ReasonEventDeleted).Values(eventValue(dup), nil)
			entry.EventID = &dup.ID
			if err := s.recorder.Record(ctx, st, entry); err != nil {
				return err
			}
			res.Removed++
		}

		if res.Removed == 0 {
			shift.DuplicatesChecked = true
			res.Checked = true
			return st.UpdateShift(ctx, shift)
		}
		_, err = s.rederive(ctx, st, shift.ID)
		return err
	})
	if err != nil {
		return SweepResult{}, err
	}

	if res.Removed > 0 {
		metrics.DuplicatesRemoved.Add(float64(res.Removed))
		s.logger.Info("duplicate events removed",
			zap.Int64("shift", res.ShiftID),
			zap.Int("count", res.Removed))
	}
	return res, nil
}

// duplicateRuns returns the events to delete from an ordered event list:
// for each kept event, the immediate successors sharing its type, up to
// limit in total.
func duplicateRuns(events []worktime.WorkEvent, limit int) []worktime.WorkEvent {
	var dups []worktime.WorkEvent
	for i := 0; i < len(events) && len(dups) < limit; {
		j := i + 1
		for j < len(events) && events[j].Type == events[i].Type && len(dups) < limit {
			dups = append(dups, events[j])
			j++
		}
		i = j
	}
	return dups
}
