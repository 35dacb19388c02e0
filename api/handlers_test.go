/*
handlers_test.go - HTTP tests for the API handlers

Tests run the full router against the in-memory store, directory and
payroll sinks.
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/worktime-engine/directory"
	"github.com/warp/worktime-engine/jobs"
	"github.com/warp/worktime-engine/messaging"
	"github.com/warp/worktime-engine/payroll"
	"github.com/warp/worktime-engine/payroll/sink"
	"github.com/warp/worktime-engine/tracking"
	"github.com/warp/worktime-engine/worktime"
	"github.com/warp/worktime-engine/worktime/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func at(d, hh, mm int) time.Time {
	return time.Date(2024, 1, d, hh, mm, 0, 0, time.UTC)
}

type apiEnv struct {
	router http.Handler
	s3     *sink.Memory
	sftp   *sink.Memory
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	logger := zap.NewNop()
	policy := worktime.NewPolicy(time.UTC)
	clock := func() time.Time { return at(25, 9, 0) }

	st := store.NewMemory()
	dir := directory.NewMemory(directory.User{
		ID: "emp-1", Username: "jane", FirstName: "Jane", LastName: "Doe",
		Roles: []string{directory.RoleEmployee},
		Attributes: map[string][]string{
			directory.AttrEmployeeNumber: {"E100"},
			directory.AttrEmployeeType:   {"OFFICE"},
		},
	})
	svc := tracking.NewService(st, policy, logger, tracking.WithClock(clock))

	env := &apiEnv{s3: sink.NewMemory("s3"), sftp: sink.NewMemory("sftp")}
	exporter := payroll.NewExporter(st, dir, policy, []sink.Sink{env.s3, env.sftp}, logger, payroll.WithClock(clock))

	scheduler := jobs.NewScheduler(logger)
	require.NoError(t, scheduler.Register(jobs.ResolveShiftsJob("", svc)))
	require.NoError(t, scheduler.Register(jobs.RemoveDuplicatesJob("", tracking.NewCleaner(svc))))

	bus := messaging.NewLocal(logger)
	messaging.Subscribe(bus, svc, scheduler, logger)

	env.router = NewRouter(NewHandler(svc, exporter, dir, scheduler, bus, logger), RouterOptions{RequestTimeout: 5 * time.Second})
	return env
}

func (e *apiEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *apiEnv) event(t *testing.T, ts time.Time, typ worktime.EventType) EventDTO {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/events", CreateEventRequest{EmployeeID: "emp-1", Timestamp: ts, Type: typ})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[EventDTO](t, rec)
}

// workday records an 8 hour office day and approves it.
func (e *apiEnv) workday(t *testing.T, d int) int64 {
	t.Helper()
	ev := e.event(t, at(d, 8, 0), worktime.EventOffice)
	e.event(t, at(d, 16, 0), worktime.EventShiftEnd)
	rec := e.do(t, http.MethodPatch, "/api/shifts/"+itoa(ev.ShiftID), map[string]any{"approved": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return ev.ShiftID
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

// =============================================================================
// EVENTS AND SHIFTS
// =============================================================================

func TestCreateEvent_PlacesIntoShift(t *testing.T) {
	// GIVEN: An empty store
	env := newAPIEnv(t)

	// WHEN: Two events of one morning are posted
	first := env.event(t, at(10, 8, 0), worktime.EventDrive)
	second := env.event(t, at(10, 9, 0), worktime.EventBreak)

	// THEN: Both land in one shift holding a row per work type
	assert.Equal(t, first.ShiftID, second.ShiftID)
	rec := env.do(t, http.MethodGet, "/api/shifts/"+itoa(first.ShiftID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[ShiftDetailDTO](t, rec)
	assert.Equal(t, "2024-01-10", detail.Date)
	assert.Len(t, detail.Events, 2)
	assert.Len(t, detail.Hours, len(worktime.AllWorkTypes))
}

func TestCreateEvent_Validation(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing employee", CreateEventRequest{Timestamp: at(10, 8, 0), Type: worktime.EventDrive}},
		{"missing timestamp", CreateEventRequest{EmployeeID: "emp-1", Type: worktime.EventDrive}},
		{"unknown type", CreateEventRequest{EmployeeID: "emp-1", Timestamp: at(10, 8, 0), Type: "NAP"}},
		{"not json", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/events", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Details)
		})
	}
}

func TestGetShift_NotFound(t *testing.T) {
	env := newAPIEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/shifts/999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/shifts/abc", nil).Code)
}

func TestSetHours_ApprovedShiftIsRejected(t *testing.T) {
	// GIVEN: An approved shift
	env := newAPIEnv(t)
	shiftID := env.workday(t, 10)

	// WHEN: A manager overrides its hours
	rec := env.do(t, http.MethodPut, "/api/shifts/"+itoa(shiftID)+"/hours/paid_work", map[string]string{"hours": "7"})

	// THEN: The edit is refused
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "approved")
}

func TestSetHours_RecordsCreator(t *testing.T) {
	// GIVEN: An open shift
	env := newAPIEnv(t)
	ev := env.event(t, at(10, 8, 0), worktime.EventOffice)

	// WHEN: A manager sets an override with mutation headers
	rec := env.do(t, http.MethodPut, "/api/shifts/"+itoa(ev.ShiftID)+"/hours/PAID_WORK",
		map[string]string{"hours": "7.5"},
		HeaderUserID, "manager-1", HeaderChangeSetID, "cs-42")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "7.5", decodeBody[HoursDTO](t, rec).ActualHours.String())

	// THEN: The change log shows the change set and creator
	rec = env.do(t, http.MethodGet, "/api/changes?employee_id=emp-1&from=2024-01-01&to=2024-01-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var found bool
	for _, cs := range decodeBody[[]ChangeSetDTO](t, rec) {
		if cs.ID == "cs-42" {
			found = true
			assert.Equal(t, "manager-1", cs.CreatorID)
			require.Len(t, cs.Changes, 1)
			assert.Equal(t, string(worktime.ReasonHoursActualHours), cs.Changes[0].Reason)
		}
	}
	assert.True(t, found)
}

func TestListShifts_RequiresEmployee(t *testing.T) {
	env := newAPIEnv(t)
	env.event(t, at(10, 8, 0), worktime.EventOffice)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/shifts", nil).Code)

	rec := env.do(t, http.MethodGet, "/api/shifts?employee_id=emp-1&from=2024-01-10&to=2024-01-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ShiftDTO](t, rec), 1)
}

// =============================================================================
// EXPORTS
// =============================================================================

func TestCreateExport_DeliversAndTags(t *testing.T) {
	// GIVEN: An approved office day
	env := newAPIEnv(t)
	shiftID := env.workday(t, 10)

	// WHEN: It is exported
	rec := env.do(t, http.MethodPost, "/api/exports", CreateExportRequest{EmployeeID: "emp-1", ShiftIDs: []int64{shiftID}})

	// THEN: The file reaches both sinks and the shift is tagged
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	exp := decodeBody[ExportDTO](t, rec)
	assert.Equal(t, "1.csv", exp.FileName)
	assert.Equal(t, []int64{shiftID}, exp.ShiftIDs)
	_, ok := env.s3.File("1.csv")
	assert.True(t, ok)
	_, ok = env.sftp.File("1.csv")
	assert.True(t, ok)

	shift := decodeBody[ShiftDetailDTO](t, env.do(t, http.MethodGet, "/api/shifts/"+itoa(shiftID), nil))
	require.NotNil(t, shift.PayrollExportID)
	assert.Equal(t, exp.ID, *shift.PayrollExportID)

	// AND: Exporting again is refused
	rec = env.do(t, http.MethodPost, "/api/exports", CreateExportRequest{EmployeeID: "emp-1", ShiftIDs: []int64{shiftID}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateExport_DeliveryFailure(t *testing.T) {
	env := newAPIEnv(t)
	shiftID := env.workday(t, 10)
	env.sftp.Fail(errors.New("connection refused"))

	rec := env.do(t, http.MethodPost, "/api/exports", CreateExportRequest{EmployeeID: "emp-1", ShiftIDs: []int64{shiftID}})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	list := decodeBody[[]ExportDTO](t, env.do(t, http.MethodGet, "/api/exports?employee_id=emp-1", nil))
	assert.Empty(t, list)
}

func TestCreateExport_Validation(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/exports", CreateExportRequest{EmployeeID: "emp-1"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Details, "shiftIds")
}

func TestDeleteExport(t *testing.T) {
	env := newAPIEnv(t)
	shiftID := env.workday(t, 10)
	rec := env.do(t, http.MethodPost, "/api/exports", CreateExportRequest{EmployeeID: "emp-1", ShiftIDs: []int64{shiftID}})
	require.Equal(t, http.StatusCreated, rec.Code)
	exp := decodeBody[ExportDTO](t, rec)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/exports/"+itoa(exp.ID), nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/exports/"+itoa(exp.ID), nil).Code)
	shift := decodeBody[ShiftDetailDTO](t, env.do(t, http.MethodGet, "/api/shifts/"+itoa(shiftID), nil))
	assert.Nil(t, shift.PayrollExportID)
}

// =============================================================================
// EMPLOYEES AND PERIOD
// =============================================================================

func TestEmployees_CreateListAndAttributes(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/employees", CreateEmployeeRequest{
		Username: "max", FirstName: "Max", LastName: "Speed", Roles: []string{directory.RoleDriver},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[EmployeeDTO](t, rec)
	assert.Equal(t, "Max Speed", created.FullName)

	rec = env.do(t, http.MethodGet, "/api/employees?role=driver", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	drivers := decodeBody[[]EmployeeDTO](t, rec)
	require.Len(t, drivers, 1)
	assert.Equal(t, created.ID, drivers[0].ID)

	rec = env.do(t, http.MethodPut, "/api/employees/"+created.ID+"/attributes", SetAttributesRequest{
		Attributes: map[string][]string{directory.AttrRegularWorkingHours: {"72"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"72"}, decodeBody[EmployeeDTO](t, rec).Attributes[directory.AttrRegularWorkingHours])

	rec = env.do(t, http.MethodPut, "/api/employees/"+created.ID+"/attributes", SetAttributesRequest{
		Attributes: map[string][]string{directory.AttrEmployeeType: {"PILOT"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmployees_Validation(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/employees", CreateEmployeeRequest{
		Username: "x", FirstName: "X", LastName: "Y", Roles: []string{"admin"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/employees/ghost", nil).Code)
}

func TestGetPeriod(t *testing.T) {
	// GIVEN: Two 8 hour office days
	env := newAPIEnv(t)
	env.workday(t, 10)
	env.workday(t, 11)

	// WHEN: The period is requested
	rec := env.do(t, http.MethodGet, "/api/employees/emp-1/period?date=2024-01-10", nil)

	// THEN: Paid work is summed over the period
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := decodeBody[PeriodDTO](t, rec)
	assert.Equal(t, "OFFICE", p.EmployeeType)
	assert.Len(t, p.Shifts, 2)
	assert.Equal(t, "16", p.Totals[string(worktime.WorkPaid)].Total.String())

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/employees/emp-1/period?date=10.1.2024", nil).Code)
}

// =============================================================================
// HOLIDAYS AND ADMIN
// =============================================================================

func TestHolidays(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/holidays", CreateHolidayRequest{Date: "2024-01-06", Name: "Epiphany"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	h := decodeBody[HolidayDTO](t, rec)

	list := decodeBody[[]HolidayDTO](t, env.do(t, http.MethodGet, "/api/holidays?from=2024-01-01&to=2024-12-31", nil))
	assert.Equal(t, []HolidayDTO{h}, list)

	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPost, "/api/holidays", CreateHolidayRequest{Date: "6.1.2024", Name: "x"}).Code)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/holidays/"+itoa(h.ID), nil).Code)
}

func TestRunSweep(t *testing.T) {
	// GIVEN: A shift left open since morning
	env := newAPIEnv(t)
	ev := env.event(t, at(10, 8, 0), worktime.EventDrive)

	// WHEN: The resolve sweep is triggered
	rec := env.do(t, http.MethodPost, "/api/admin/sweeps/"+jobs.ResolveShifts, nil)

	// THEN: The shift is closed
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody[map[string]any](t, rec)["ran"])
	shift := decodeBody[ShiftDetailDTO](t, env.do(t, http.MethodGet, "/api/shifts/"+itoa(ev.ShiftID), nil))
	assert.NotNil(t, shift.EndedAt)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/admin/sweeps/defrag", nil).Code)
	statuses := decodeBody[[]jobs.Status](t, env.do(t, http.MethodGet, "/api/admin/jobs", nil))
	assert.Len(t, statuses, 2)
}

func TestPublishEvent(t *testing.T) {
	// GIVEN: A driver state change posted over HTTP
	env := newAPIEnv(t)
	msg := messaging.DriverStateChanged{
		DriverID:      "emp-1",
		WorkEventType: worktime.EventDrive,
		Time:          at(10, 8, 0),
	}

	// WHEN: It is published
	rec := env.do(t, http.MethodPost, "/api/inbound/"+messaging.TopicDriverState, msg)

	// THEN: The event is recorded into a shift
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodGet, "/api/shifts?employee_id=emp-1&from=2024-01-10&to=2024-01-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ShiftDTO](t, rec), 1)
}

func TestPublishEvent_Rejections(t *testing.T) {
	env := newAPIEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/inbound/driver.teleported", map[string]string{}).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/inbound/"+messaging.TopicDriverState, strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A payload without a driver fails validation in the handler
	rec = env.do(t, http.MethodPost, "/api/inbound/"+messaging.TopicDriverState, messaging.DriverStateChanged{
		WorkEventType: worktime.EventDrive, Time: at(10, 8, 0),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestMetricsAndHealth(t *testing.T) {
	env := newAPIEnv(t)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).Code)
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
