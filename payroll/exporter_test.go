package payroll_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/worktime-engine/directory"
	"github.com/warp/worktime-engine/payroll"
	"github.com/warp/worktime-engine/payroll/sink"
	"github.com/warp/worktime-engine/tracking"
	"github.com/warp/worktime-engine/worktime"
	"github.com/warp/worktime-engine/worktime/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type exportEnv struct {
	store    *store.Memory
	tracking *tracking.Service
	exporter *payroll.Exporter
	dir      *directory.Memory
	s3       *sink.Memory
	sftp     *sink.Memory
}

var (
	manager = worktime.Mutation{CreatorID: "manager-1"}
	driver  = worktime.Mutation{CreatorID: "driver-1"}
)

func newExportEnv(t *testing.T) *exportEnv {
	t.Helper()
	now := func() time.Time { return at(25, 9, 0) }
	env := &exportEnv{
		store: store.NewMemory(),
		dir: directory.NewMemory(
			directory.User{
				ID: "emp-1", Username: "jdoe", FirstName: "Jane", LastName: "Doe",
				Roles: []string{directory.RoleEmployee},
				Attributes: map[string][]string{
					directory.AttrEmployeeNumber: {"E100"},
				},
			},
			directory.User{
				ID: "drv-1", Username: "driver", FirstName: "Max", LastName: "Speed",
				Roles: []string{directory.RoleDriver},
				Attributes: map[string][]string{
					directory.AttrEmployeeNumber:      {"D7"},
					directory.AttrRegularWorkingHours: {"8"},
				},
			},
		),
		s3:   sink.NewMemory("s3"),
		sftp: sink.NewMemory("sftp"),
	}
	env.tracking = tracking.NewService(env.store, policy, zap.NewNop(), tracking.WithClock(now))
	env.exporter = payroll.NewExporter(env.store, env.dir, policy,
		[]sink.Sink{env.s3, env.sftp}, zap.NewNop(), payroll.WithClock(now))
	return env
}

func (e *exportEnv) record(t *testing.T, employeeID string, ts time.Time, typ worktime.EventType, cc string) worktime.WorkEvent {
	t.Helper()
	in := tracking.NewEvent{EmployeeID: employeeID, Timestamp: ts, Type: typ}
	if cc != "" {
		in.CostCenter = worktime.StringPtr(cc)
	}
	ev, err := e.tracking.RecordEvent(context.Background(), driver, in)
	require.NoError(t, err)
	return ev
}

func (e *exportEnv) approve(t *testing.T, shiftID int64) {
	t.Helper()
	approved := true
	_, err := e.tracking.UpdateShift(context.Background(), manager, shiftID, tracking.ShiftPatch{Approved: &approved})
	require.NoError(t, err)
}

// splitDay records 2h on CostCenterA, 3h on CostCenterB and 1h untagged
// on the 10th and approves the shift.
func (e *exportEnv) splitDay(t *testing.T) int64 {
	t.Helper()
	e.record(t, "emp-1", at(10, 8, 0), worktime.EventDrive, "CostCenterA")
	e.record(t, "emp-1", at(10, 10, 0), worktime.EventDrive, "CostCenterB")
	e.record(t, "emp-1", at(10, 13, 0), worktime.EventDrive, "")
	end := e.record(t, "emp-1", at(10, 14, 0), worktime.EventShiftEnd, "")
	e.approve(t, end.ShiftID)
	return end.ShiftID
}

const splitDayCSV = "2024-01-10;E100;Jane Doe;11000;2.00;;CostCenterA;;;\n" +
	"2024-01-10;E100;Jane Doe;11000;3.00;;CostCenterB;;;\n" +
	"2024-01-10;E100;Jane Doe;11000;1.00;;;;;\n"

// =============================================================================
// CREATE
// =============================================================================

func TestCreateExport_DeliversIdenticalFiles(t *testing.T) {
	// GIVEN: An approved shift split across cost centers
	ctx := context.Background()
	env := newExportEnv(t)
	shiftID := env.splitDay(t)

	// WHEN: Exporting it
	export, err := env.exporter.CreateExport(ctx, manager, "emp-1", []int64{shiftID, shiftID})
	require.NoError(t, err)

	// THEN: Both sinks hold the same file
	assert.Equal(t, "1.csv", export.FileName)
	assert.Equal(t, []int64{shiftID}, export.ShiftIDs)
	assert.Equal(t, "manager-1", export.CreatorID)
	assert.Equal(t, at(25, 9, 0), export.ExportedAt)

	s3File, ok := env.s3.File("1.csv")
	require.True(t, ok)
	sftpFile, ok := env.sftp.File("1.csv")
	require.True(t, ok)
	assert.Equal(t, splitDayCSV, string(s3File))
	assert.Equal(t, s3File, sftpFile)

	// AND: The shift is tagged and the tag is in the change log
	d, err := env.tracking.GetShift(ctx, shiftID)
	require.NoError(t, err)
	require.NotNil(t, d.Shift.PayrollExportID)
	assert.Equal(t, export.ID, *d.Shift.PayrollExportID)

	sets, err := env.tracking.ChangeSets(ctx, "emp-1", at(1, 0, 0), at(31, 0, 0))
	require.NoError(t, err)
	var tagged []worktime.Change
	for _, cs := range sets {
		for _, c := range cs.Changes {
			if c.Reason == worktime.ReasonShiftPayrollExport {
				tagged = append(tagged, c)
			}
		}
	}
	require.Len(t, tagged, 1)
	assert.Nil(t, tagged[0].OldValue)
	assert.Equal(t, "1", *tagged[0].NewValue)
	assert.Equal(t, "manager-1", tagged[0].CreatorID)

	stored, err := env.exporter.GetExport(ctx, export.ID)
	require.NoError(t, err)
	assert.Equal(t, export, stored)
}

func TestCreateExport_Validation(t *testing.T) {
	ctx := context.Background()
	env := newExportEnv(t)
	shiftID := env.splitDay(t)
	open := env.record(t, "emp-1", at(12, 8, 0), worktime.EventDrive, "")

	tests := []struct {
		name       string
		employeeID string
		shiftIDs   []int64
		check      func(error) bool
	}{
		{"no shifts", "emp-1", nil, worktime.IsClientError},
		{"no employee", "", []int64{shiftID}, worktime.IsClientError},
		{"unknown shift", "emp-1", []int64{shiftID, 999}, worktime.IsNotFound},
		{"not approved", "emp-1", []int64{open.ShiftID}, worktime.IsClientError},
		{"other employee", "drv-1", []int64{shiftID}, worktime.IsClientError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.exporter.CreateExport(ctx, manager, tt.employeeID, tt.shiftIDs)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}

	// Nothing was delivered
	assert.Zero(t, env.s3.Len())
	assert.Zero(t, env.sftp.Len())
}

func TestCreateExport_RejectsExportedShift(t *testing.T) {
	ctx := context.Background()
	env := newExportEnv(t)
	shiftID := env.splitDay(t)
	_, err := env.exporter.CreateExport(ctx, manager, "emp-1", []int64{shiftID})
	require.NoError(t, err)

	_, err = env.exporter.CreateExport(ctx, manager, "emp-1", []int64{shiftID})

	assert.ErrorIs(t, err, worktime.ErrAlreadyExported)
	assert.Equal(t, 1, env.s3.Len())
}

func TestCreateExport_SinkFailurePersistsNothing(t *testing.T) {
	// GIVEN: An SFTP sink that rejects uploads
	ctx := context.Background()
	env := newExportEnv(t)
	shiftID := env.splitDay(t)
	env.sftp.Fail(errors.New("disk full"))

	// WHEN: Exporting
	_, err := env.exporter.CreateExport(ctx, manager, "emp-1", []int64{shiftID})

	// THEN: The export fails, the S3 copy is removed, nothing is recorded
	assert.ErrorIs(t, err, worktime.ErrDeliveryFailed)
	assert.Zero(t, env.s3.Len())
	exports, err := env.exporter.ListExports(ctx, "emp-1")
	require.NoError(t, err)
	assert.Empty(t, exports)
	d, err := env.tracking.GetShift(ctx, shiftID)
	require.NoError(t, err)
	assert.Nil(t, d.Shift.PayrollExportID)

	// AND: A retry gets a fresh id
	env.sftp.Fail(nil)
	export, err := env.exporter.CreateExport(ctx, manager, "emp-1", []int64{shiftID})
	require.NoError(t, err)
	assert.Equal(t, "2.csv", export.FileName)
	_, ok := env.sftp.File("2.csv")
	assert.True(t, ok)
}

func TestCreateExport_RefusedWithoutSecondSink(t *testing.T) {
	// GIVEN: Object storage configured and SFTP missing
	ctx := context.Background()
	env := newExportEnv(t)
	shiftID := env.splitDay(t)
	exporter := payroll.NewExporter(env.store, env.dir, policy,
		[]sink.Sink{env.s3, sink.NewUnconfigured("sftp")}, zap.NewNop())

	// WHEN: Exporting
	_, err := exporter.CreateExport(ctx, manager, "emp-1", []int64{shiftID})

	// THEN: Nothing is delivered or recorded
	assert.ErrorIs(t, err, worktime.ErrDeliveryFailed)
	assert.Contains(t, err.Error(), sink.ErrNotConfigured.Error())
	assert.Zero(t, env.s3.Len())
	exports, err := exporter.ListExports(ctx, "emp-1")
	require.NoError(t, err)
	assert.Empty(t, exports)
}

func TestCreateExport_DriverOvertimeAcrossPeriod(t *testing.T) {
	// GIVEN: Three approved 8h driving days for a driver with 8 regular hours
	ctx := context.Background()
	env := newExportEnv(t)
	var ids []int64
	for _, d := range []int{8, 9, 10} {
		env.record(t, "drv-1", at(d, 8, 0), worktime.EventDrive, "Route1")
		end := env.record(t, "drv-1", at(d, 16, 0), worktime.EventShiftEnd, "")
		env.approve(t, end.ShiftID)
		ids = append(ids, end.ShiftID)
	}

	// WHEN: Exporting only the last day
	export, err := env.exporter.CreateExport(ctx, manager, "drv-1", ids[2:])
	require.NoError(t, err)

	// THEN: The file carries that day's share of the period overtime
	content, ok := env.s3.File(export.FileName)
	require.True(t, ok)
	assert.Equal(t,
		"2024-01-10;D7;Max Speed;11000;8.00;;Route1;;;\n"+
			"2024-01-10;D7;Max Speed;11010;4.00;;Route1;;;\n"+
			"2024-01-10;D7;Max Speed;11020;4.00;;Route1;;;\n",
		string(content))
}

// =============================================================================
// DELETE AND READ
// =============================================================================

func TestDeleteExport_ReleasesShifts(t *testing.T) {
	// GIVEN: An exported shift
	ctx := context.Background()
	env := newExportEnv(t)
	shiftID := env.splitDay(t)
	export, err := env.exporter.CreateExport(ctx, manager, "emp-1", []int64{shiftID})
	require.NoError(t, err)

	// WHEN: Deleting the export
	require.NoError(t, env.exporter.DeleteExport(ctx, manager, export.ID))

	// THEN: The record is gone, the shift is free, the files stay
	_, err = env.exporter.GetExport(ctx, export.ID)
	assert.True(t, worktime.IsNotFound(err))
	d, err := env.tracking.GetShift(ctx, shiftID)
	require.NoError(t, err)
	assert.Nil(t, d.Shift.PayrollExportID)
	assert.Equal(t, 1, env.s3.Len())

	again, err := env.exporter.CreateExport(ctx, manager, "emp-1", []int64{shiftID})
	require.NoError(t, err)
	assert.Greater(t, again.ID, export.ID)
}

func TestDeleteExport_NotFound(t *testing.T) {
	env := newExportEnv(t)

	err := env.exporter.DeleteExport(context.Background(), manager, 42)

	assert.True(t, worktime.IsNotFound(err))
}

func TestRefreshPeriod_StoresCalculatedHours(t *testing.T) {
	// GIVEN: Three 8h driving days
	ctx := context.Background()
	env := newExportEnv(t)
	var last int64
	for _, d := range []int{8, 9, 10} {
		env.record(t, "drv-1", at(d, 8, 0), worktime.EventDrive, "Route1")
		last = env.record(t, "drv-1", at(d, 16, 0), worktime.EventShiftEnd, "").ShiftID
	}

	// WHEN: Refreshing the period of a date inside it
	res, err := env.exporter.RefreshPeriod(ctx, "drv-1", at(15, 0, 0))
	require.NoError(t, err)

	// THEN: Period bounds, totals and stored hours agree
	assert.Equal(t, at(7, 0, 0), res.Period.Start)
	assert.Equal(t, at(20, 0, 0), res.Period.End)
	assert.Len(t, res.Shifts, 3)
	assertHours(t, "12", res.Totals.Get(worktime.WorkOvertimeHalf).Total)
	assertHours(t, "4", res.Totals.Get(worktime.WorkOvertimeFull).Total)

	d, err := env.tracking.GetShift(ctx, last)
	require.NoError(t, err)
	calculated := map[worktime.WorkType]string{}
	for _, h := range d.Hours {
		require.NotNil(t, h.CalculatedHours, h.WorkType)
		calculated[h.WorkType] = h.CalculatedHours.String()
	}
	assert.Equal(t, "8", calculated[worktime.WorkPaid])
	assert.Equal(t, "4", calculated[worktime.WorkOvertimeHalf])
	assert.Equal(t, "0", calculated[worktime.WorkSickLeave])
}

func TestRefreshPeriod_UnknownEmployee(t *testing.T) {
	env := newExportEnv(t)

	_, err := env.exporter.RefreshPeriod(context.Background(), "nobody", at(10, 0, 0))

	assert.True(t, worktime.IsNotFound(err))
}
