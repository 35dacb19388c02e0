/*
handlers.go - HTTP API handlers for the work-time engine

PURPOSE:
  Exposes event capture, shift management, period calculation, payroll
  exports and the change log via REST. Handles HTTP request/response and
  JSON serialization, and delegates to the tracking and payroll services.

ENDPOINTS:
  Employees:
    GET    /api/employees                     List by role (role, page, size)
    POST   /api/employees                     Create employee
    GET    /api/employees/{id}                Get employee
    PUT    /api/employees/{id}/attributes     Merge profile attributes
    GET    /api/employees/{id}/period         Salary period totals (date)

  Events:
    POST   /api/events                        Record event
    PATCH  /api/events/{id}                   Edit event
    DELETE /api/events/{id}                   Delete event

  Shifts:
    GET    /api/shifts                        List (employee_id, from, to)
    GET    /api/shifts/{id}                   Shift with events and hours
    PATCH  /api/shifts/{id}                   Patch shift fields
    PUT    /api/shifts/{id}/hours/{workType}  Set or clear manual hours

  Exports:
    GET    /api/exports                       List (employee_id)
    POST   /api/exports                       Create and deliver
    GET    /api/exports/{id}                  Get export
    DELETE /api/exports/{id}                  Delete export, release shifts

  Holidays, change log and admin sweeps: see server.go.

MUTATION HEADERS:
  X-User-ID        creator recorded in the change log ("system" if absent)
  X-Change-Set-ID  groups the changes of one logical edit (generated if
                   absent)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, approved/exported shifts, bad time ranges
  - 404: Resource not found
  - 409: Conflicts
  - 502: Payroll file delivery failed
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/worktime-engine/directory"
	"github.com/warp/worktime-engine/jobs"
	"github.com/warp/worktime-engine/messaging"
	"github.com/warp/worktime-engine/payroll"
	"github.com/warp/worktime-engine/tracking"
	"github.com/warp/worktime-engine/worktime"
)

const (
	HeaderUserID      = "X-User-ID"
	HeaderChangeSetID = "X-Change-Set-ID"

	dateLayout = "2006-01-02"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// JobRunner runs and reports maintenance jobs.
type JobRunner interface {
	RunNow(ctx context.Context, name string) (bool, error)
	Statuses() []jobs.Status
}

// Publisher hands inbound messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	tracking  *tracking.Service
	exporter  *payroll.Exporter
	directory directory.Directory
	jobs      JobRunner
	bus       Publisher
	logger    *zap.Logger
	validate  *validator.Validate
}

func NewHandler(svc *tracking.Service, exporter *payroll.Exporter, dir directory.Directory, runner JobRunner, bus Publisher, logger *zap.Logger) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		tracking:  svc,
		exporter:  exporter,
		directory: dir,
		jobs:      runner,
		bus:       bus,
		logger:    logger.Named("api"),
		validate:  v,
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns a page of users, optionally filtered by role.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), "page", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	size, err := intParam(q.Get("size"), "size", 50)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	users, err := h.directory.ListUsersByRole(r.Context(), q.Get("role"), page, size)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]EmployeeDTO, len(users))
	for i, u := range users {
		dtos[i] = toEmployeeDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.directory.CreateUser(r.Context(), directory.User{
		Username:   req.Username,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Email:      req.Email,
		Roles:      req.Roles,
		Attributes: req.Attributes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(u))
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	u, err := h.directory.FindUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(u))
}

func (h *Handler) SetAttributes(w http.ResponseWriter, r *http.Request) {
	var req SetAttributesRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.directory.SetAttributes(r.Context(), chi.URLParam(r, "id"), req.Attributes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(u))
}

// GetPeriod calculates the salary period containing ?date (default
// today) and returns per-shift and period totals.
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	date := worktime.DateOf(time.Now(), h.tracking.Policy().Location)
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := parseDate(raw, "date")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		date = d
	}
	res, err := h.exporter.RefreshPeriod(r.Context(), chi.URLParam(r, "id"), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(res))
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.tracking.RecordEvent(r.Context(), mutationOf(r), tracking.NewEvent{
		EmployeeID: req.EmployeeID,
		Timestamp:  req.Timestamp,
		Type:       req.Type,
		TruckID:    req.TruckID,
		CostCenter: req.CostCenter,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(e))
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req UpdateEventRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.tracking.UpdateEvent(r.Context(), mutationOf(r), id, tracking.EventPatch{
		Timestamp:  req.Timestamp,
		Type:       req.Type,
		CostCenter: req.CostCenter,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(e))
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.tracking.DeleteEvent(r.Context(), mutationOf(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SHIFT HANDLERS
// =============================================================================

func (h *Handler) ListShifts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := worktime.ShiftFilter{EmployeeID: q.Get("employee_id")}
	if f.EmployeeID == "" {
		h.fail(w, r, worktime.Invalid("employee_id", "required"))
		return
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := q.Get(p.key)
		if raw == "" {
			continue
		}
		d, err := parseDate(raw, p.key)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		*p.dst = &d
	}

	shifts, err := h.tracking.ListShifts(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ShiftDTO, len(shifts))
	for i, s := range shifts {
		dtos[i] = toShiftDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetShift(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.tracking.GetShift(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShiftDetailDTO(d))
}

func (h *Handler) UpdateShift(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req UpdateShiftRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.tracking.UpdateShift(r.Context(), mutationOf(r), id, req.patch())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShiftDTO(s))
}

// SetHours sets the manual override of one work type.
func (h *Handler) SetHours(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	wt := worktime.WorkType(strings.ToUpper(chi.URLParam(r, "workType")))
	if !wt.Valid() {
		h.fail(w, r, worktime.Invalid("workType", "unknown work type "+string(wt)))
		return
	}
	var req SetHoursRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	row, err := h.tracking.SetActualHours(r.Context(), mutationOf(r), id, wt, req.Hours)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHoursDTO(row))
}

// =============================================================================
// EXPORT HANDLERS
// =============================================================================

func (h *Handler) ListExports(w http.ResponseWriter, r *http.Request) {
	exports, err := h.exporter.ListExports(r.Context(), r.URL.Query().Get("employee_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ExportDTO, len(exports))
	for i, e := range exports {
		dtos[i] = toExportDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateExport renders and delivers the payroll file of the given shifts.
func (h *Handler) CreateExport(w http.ResponseWriter, r *http.Request) {
	var req CreateExportRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.exporter.CreateExport(r.Context(), mutationOf(r), req.EmployeeID, req.ShiftIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExportDTO(e))
}

func (h *Handler) GetExport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.exporter.GetExport(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExportDTO(e))
}

func (h *Handler) DeleteExport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.exporter.DeleteExport(r.Context(), mutationOf(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CHANGE LOG
// =============================================================================

// ListChanges returns the change sets of an employee's shifts dated
// within [from, to].
func (h *Handler) ListChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate(q.Get("from"), "from")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := parseDate(q.Get("to"), "to")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sets, err := h.tracking.ChangeSets(r.Context(), q.Get("employee_id"), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]ChangeSetDTO, len(sets))
	for i, cs := range sets {
		dtos[i] = toChangeSetDTO(cs)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HOLIDAY ENDPOINTS
// =============================================================================

// ListHolidays returns holidays within [from, to], defaulting to the
// current year.
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year := time.Now().Year()
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	var err error
	if raw := q.Get("from"); raw != "" {
		if from, err = parseDate(raw, "from"); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if raw := q.Get("to"); raw != "" {
		if to, err = parseDate(raw, "to"); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	holidays, err := h.tracking.ListHolidays(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]HolidayDTO, len(holidays))
	for i, hd := range holidays {
		dtos[i] = toHolidayDTO(hd)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req CreateHolidayRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	hd, err := h.tracking.AddHoliday(r.Context(), date, req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHolidayDTO(hd))
}

func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.tracking.DeleteHoliday(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN
// =============================================================================

// RunSweep triggers a maintenance job. A job that is already running is
// not started twice; the response says whether this call ran it.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")
	ran, err := h.jobs.RunNow(r.Context(), job)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job, "ran": ran})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.Statuses())
}

// =============================================================================
// INBOUND HANDLERS
// =============================================================================

// PublishEvent accepts a message for a bus topic from systems that cannot
// write to the stream themselves. With the in-process bus the message is
// handled before the response, so handler errors are returned.
func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	if !messaging.KnownTopic(topic) {
		h.fail(w, r, worktime.NotFound("topic", topic))
		return
	}
	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.fail(w, r, worktime.Invalid("body", err.Error()))
		return
	}
	if err := h.bus.Publish(r.Context(), topic, payload); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"topic": topic, "status": "accepted"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps a service error to its HTTP status.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case worktime.IsNotFound(err), errors.Is(err, jobs.ErrUnknownJob):
		writeError(w, http.StatusNotFound, "Not found", err)
	case worktime.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case worktime.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case errors.Is(err, worktime.ErrDeliveryFailed):
		writeError(w, http.StatusBadGateway, "Payroll file delivery failed", err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "Request timed out", err)
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

// decode reads a JSON body and validates its tags.
func (h *Handler) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return worktime.Invalid("body", err.Error())
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return worktime.Invalid(verrs[0].Field(), "failed "+verrs[0].Tag())
		}
		return worktime.Invalid("body", err.Error())
	}
	return nil
}

func mutationOf(r *http.Request) worktime.Mutation {
	return worktime.Mutation{
		ChangeSetID: r.Header.Get(HeaderChangeSetID),
		CreatorID:   r.Header.Get(HeaderUserID),
	}.Normalize()
}

func pathID(r *http.Request, key string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		return 0, worktime.Invalid(key, "must be a positive integer")
	}
	return id, nil
}

func parseDate(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, worktime.Invalid(field, "required")
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, worktime.Invalid(field, "must be YYYY-MM-DD")
	}
	return d, nil
}

func intParam(raw, field string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, worktime.Invalid(field, "must be an integer")
	}
	return n, nil
}
