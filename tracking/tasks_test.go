package tracking_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/worktime-engine/tracking"
	"github.com/warp/worktime-engine/worktime"
)

func TestRecordTaskProgress_StartAndFinish(t *testing.T) {
	// GIVEN: A driver on the road
	env := newTestService(t)
	ctx := context.Background()
	env.record(t, at(10, 8, 0), worktime.EventDrive)

	// WHEN: A load starts and finishes
	started, err := env.svc.RecordTaskProgress(ctx, worktime.SystemMutation(), tracking.TaskProgress{
		EmployeeID: "emp-1", Type: tracking.TaskLoad, Status: tracking.TaskInProgress, Time: at(10, 9, 0),
	})
	require.NoError(t, err)
	done, err := env.svc.RecordTaskProgress(ctx, worktime.SystemMutation(), tracking.TaskProgress{
		EmployeeID: "emp-1", Type: tracking.TaskLoad, Status: tracking.TaskDone, Time: at(10, 9, 45),
	})
	require.NoError(t, err)

	// THEN: LOADING then OTHER_WORK join the running shift
	assert.Equal(t, worktime.EventLoading, started.Type)
	assert.Equal(t, worktime.EventOtherWork, done.Type)
	assert.Equal(t, started.ShiftID, done.ShiftID)
	assert.Len(t, env.events(t, done.ShiftID), 3)
}

func TestRecordTaskProgress_RedeliveryIsNoOp(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	start := tracking.TaskProgress{EmployeeID: "emp-1", Type: tracking.TaskUnload, Status: tracking.TaskInProgress, Time: at(10, 9, 0)}
	done := tracking.TaskProgress{EmployeeID: "emp-1", Type: tracking.TaskUnload, Status: tracking.TaskDone, Time: at(10, 9, 30)}

	first, err := env.svc.RecordTaskProgress(ctx, worktime.SystemMutation(), start)
	require.NoError(t, err)
	again, err := env.svc.RecordTaskProgress(ctx, worktime.SystemMutation(), start)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	finished, err := env.svc.RecordTaskProgress(ctx, worktime.SystemMutation(), done)
	require.NoError(t, err)
	finishedAgain, err := env.svc.RecordTaskProgress(ctx, worktime.SystemMutation(), done)
	require.NoError(t, err)
	assert.Equal(t, finished.ID, finishedAgain.ID)
	assert.Len(t, env.events(t, first.ShiftID), 2)
}

func TestRecordTaskProgress_Conflicts(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, env *testEnv)
		in    tracking.TaskProgress
	}{
		{
			name: "start while another task runs",
			setup: func(t *testing.T, env *testEnv) {
				env.record(t, at(10, 8, 0), worktime.EventLoading)
			},
			in: tracking.TaskProgress{Type: tracking.TaskUnload, Status: tracking.TaskInProgress, Time: at(10, 9, 0)},
		},
		{
			name: "start twice at different times",
			setup: func(t *testing.T, env *testEnv) {
				env.record(t, at(10, 8, 0), worktime.EventUnloading)
			},
			in: tracking.TaskProgress{Type: tracking.TaskUnload, Status: tracking.TaskInProgress, Time: at(10, 9, 0)},
		},
		{
			name:  "finish without start",
			setup: func(t *testing.T, env *testEnv) { env.record(t, at(10, 8, 0), worktime.EventDrive) },
			in:    tracking.TaskProgress{Type: tracking.TaskLoad, Status: tracking.TaskDone, Time: at(10, 9, 0)},
		},
		{
			name:  "finish the other task",
			setup: func(t *testing.T, env *testEnv) { env.record(t, at(10, 8, 0), worktime.EventLoading) },
			in:    tracking.TaskProgress{Type: tracking.TaskUnload, Status: tracking.TaskDone, Time: at(10, 9, 0)},
		},
		{
			name:  "finish with no events",
			setup: func(t *testing.T, env *testEnv) {},
			in:    tracking.TaskProgress{Type: tracking.TaskLoad, Status: tracking.TaskDone, Time: at(10, 9, 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestService(t)
			tt.setup(t, env)
			tt.in.EmployeeID = "emp-1"

			_, err := env.svc.RecordTaskProgress(context.Background(), worktime.SystemMutation(), tt.in)

			assert.ErrorIs(t, err, worktime.ErrConflict)
			assert.True(t, worktime.IsPermanent(err))
		})
	}
}

func TestRecordTaskProgress_Validation(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.RecordTaskProgress(context.Background(), worktime.SystemMutation(), tracking.TaskProgress{
		EmployeeID: "emp-1", Type: "LIFT", Status: tracking.TaskDone, Time: at(10, 9, 0),
	})

	assert.ErrorIs(t, err, worktime.ErrValidation)
}

func TestRecordDriverState_TagsCostCenter(t *testing.T) {
	env := newTestService(t)

	e, err := env.svc.RecordDriverState(context.Background(), worktime.SystemMutation(), tracking.DriverStateChange{
		DriverID:   "emp-1",
		WorkTypeID: worktime.StringPtr("Route7"),
		EventType:  worktime.EventDrive,
		Time:       at(10, 8, 0),
		TruckID:    worktime.StringPtr("TRK-1"),
	})

	require.NoError(t, err)
	assert.Equal(t, "Route7", e.CostCenterOrEmpty())
	assert.Equal(t, "TRK-1", *e.TruckID)
}
