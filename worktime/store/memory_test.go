package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/worktime-engine/worktime"
	"github.com/warp/worktime-engine/worktime/store"
)

func at(hh, mm int) time.Time {
	return time.Date(2024, 1, 10, hh, mm, 0, 0, time.UTC)
}

func TestMemory_RollbackOnError(t *testing.T) {
	// GIVEN: An empty store
	ctx := context.Background()
	st := store.NewMemory()
	boom := errors.New("boom")

	// WHEN: A transaction inserts a shift and an event, then fails
	err := st.WithTx(ctx, func(tx worktime.Store) error {
		shift := worktime.WorkShift{EmployeeID: "emp-1", Date: at(0, 0)}
		require.NoError(t, tx.InsertShift(ctx, &shift))
		e := worktime.WorkEvent{EmployeeID: "emp-1", Timestamp: at(8, 0), Type: worktime.EventDrive, ShiftID: shift.ID}
		require.NoError(t, tx.InsertEvent(ctx, &e))
		return boom
	})

	// THEN: Nothing is visible afterwards
	assert.ErrorIs(t, err, boom)
	shifts, err := st.ListShifts(ctx, worktime.ShiftFilter{})
	require.NoError(t, err)
	assert.Empty(t, shifts)
	_, found, err := st.EventAtOrBefore(ctx, "emp-1", at(23, 0), 0)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_RollbackOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st := store.NewMemory()

	err := st.WithTx(ctx, func(tx worktime.Store) error {
		shift := worktime.WorkShift{EmployeeID: "emp-1"}
		require.NoError(t, tx.InsertShift(ctx, &shift))
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	shifts, err := st.ListShifts(context.Background(), worktime.ShiftFilter{})
	require.NoError(t, err)
	assert.Empty(t, shifts)
}

func TestMemory_ExportIDsSurviveRollback(t *testing.T) {
	// GIVEN: An export id reserved inside a failed transaction
	ctx := context.Background()
	st := store.NewMemory()
	var first int64
	_ = st.WithTx(ctx, func(tx worktime.Store) error {
		first, _ = tx.NextExportID(ctx)
		return errors.New("upload failed")
	})

	// WHEN: Reserving again
	second, err := st.NextExportID(ctx)

	// THEN: The id is not reused
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestMemory_NeighbourLookups(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	shift := worktime.WorkShift{EmployeeID: "emp-1"}
	require.NoError(t, st.InsertShift(ctx, &shift))

	insert := func(ts time.Time, employee string) worktime.WorkEvent {
		e := worktime.WorkEvent{EmployeeID: employee, Timestamp: ts, Type: worktime.EventDrive, ShiftID: shift.ID}
		require.NoError(t, st.InsertEvent(ctx, &e))
		return e
	}
	a := insert(at(8, 0), "emp-1")
	b := insert(at(9, 0), "emp-1")
	insert(at(8, 30), "emp-2")

	prev, found, err := st.EventAtOrBefore(ctx, "emp-1", at(8, 45), 0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, a.ID, prev.ID)

	prev, found, err = st.EventAtOrBefore(ctx, "emp-1", at(9, 0), b.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, a.ID, prev.ID, "excluded event is skipped")

	next, found, err := st.EventAfter(ctx, "emp-1", at(8, 0), 0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, b.ID, next.ID)

	_, found, err = st.EventAfter(ctx, "emp-1", at(9, 0), 0)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_DeleteShiftCascades(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	shift := worktime.WorkShift{EmployeeID: "emp-1"}
	require.NoError(t, st.InsertShift(ctx, &shift))
	e := worktime.WorkEvent{EmployeeID: "emp-1", Timestamp: at(8, 0), Type: worktime.EventDrive, ShiftID: shift.ID}
	require.NoError(t, st.InsertEvent(ctx, &e))
	require.NoError(t, st.InsertHours(ctx, worktime.NewHoursRows(shift.ID)))
	require.NoError(t, st.InsertChangeSet(ctx, worktime.ChangeSet{ID: "cs", WorkShiftID: shift.ID}))

	require.NoError(t, st.DeleteShift(ctx, shift.ID))

	_, err := st.GetEvent(ctx, e.ID)
	assert.True(t, worktime.IsNotFound(err))
	hours, err := st.ListHours(ctx, shift.ID)
	require.NoError(t, err)
	assert.Empty(t, hours)
	_, err = st.GetChangeSet(ctx, "cs", shift.ID)
	assert.True(t, worktime.IsNotFound(err))
}

func TestMemory_HoursRowUniquePerWorkType(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	shift := worktime.WorkShift{EmployeeID: "emp-1"}
	require.NoError(t, st.InsertShift(ctx, &shift))
	require.NoError(t, st.InsertHours(ctx, worktime.NewHoursRows(shift.ID)))

	err := st.InsertHours(ctx, []worktime.WorkShiftHours{{ShiftID: shift.ID, WorkType: worktime.WorkPaid}})

	assert.ErrorIs(t, err, worktime.ErrValidation)
}
