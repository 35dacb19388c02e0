package payroll

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/worktime-engine/directory"
	"github.com/warp/worktime-engine/metrics"
	"github.com/warp/worktime-engine/payroll/sink"
	"github.com/warp/worktime-engine/worktime"
)

// Exporter calculates salary periods and delivers payroll files.
type Exporter struct {
	store     worktime.TxStore
	directory directory.Directory
	policy    worktime.Policy
	calc      *Calculator
	sinks     []sink.Sink
	recorder  *worktime.Recorder
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(x *Exporter) { x.now = now }
}

// NewExporter creates an exporter. Every export is uploaded to all sinks.
func NewExporter(store worktime.TxStore, dir directory.Directory, policy worktime.Policy, sinks []sink.Sink, logger *zap.Logger, opts ...Option) *Exporter {
	x := &Exporter{
		store:     store,
		directory: dir,
		policy:    policy,
		calc:      NewCalculator(policy),
		sinks:     sinks,
		logger:    logger.Named("payroll"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	x.recorder = worktime.NewRecorder(x.now)
	return x
}

func (x *Exporter) inTx(ctx context.Context, fn func(ctx context.Context, st worktime.Store) error) error {
	if x.policy.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.policy.RequestTimeout)
		defer cancel()
	}
	return x.store.WithTx(ctx, func(st worktime.Store) error {
		return fn(ctx, st)
	})
}

func (x *Exporter) profile(ctx context.Context, employeeID string) (directory.Profile, error) {
	u, err := x.directory.FindUser(ctx, employeeID)
	if err != nil {
		return directory.Profile{}, err
	}
	return directory.ProfileOf(u)
}

// =============================================================================
// PERIOD CALCULATION
// =============================================================================

// RefreshPeriod calculates the salary period containing date and stores
// the calculated hours of its shifts.
func (x *Exporter) RefreshPeriod(ctx context.Context, employeeID string, date time.Time) (PeriodResult, error) {
	if employeeID == "" {
		return PeriodResult{}, worktime.Invalid("employeeId", "required")
	}
	profile, err := x.profile(ctx, employeeID)
	if err != nil {
		return PeriodResult{}, err
	}
	period := x.policy.ResolvePeriod(date, profile.IsDriver())

	var res PeriodResult
	err = x.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		res, err = x.calculatePeriod(ctx, st, profile, period)
		return err
	})
	return res, err
}

// calculatePeriod loads and calculates a period, then writes back the
// calculated hours that changed.
func (x *Exporter) calculatePeriod(ctx context.Context, st worktime.Store, profile directory.Profile, period worktime.Period) (PeriodResult, error) {
	shifts, err := st.ListShifts(ctx, worktime.ShiftFilter{
		EmployeeID: profile.ID,
		From:       &period.Start,
		To:         &period.End,
	})
	if err != nil {
		return PeriodResult{}, err
	}

	inputs := make([]ShiftInput, 0, len(shifts))
	for _, sh := range shifts {
		in := ShiftInput{Shift: sh}
		if in.Events, err = st.ListShiftEvents(ctx, sh.ID); err != nil {
			return PeriodResult{}, err
		}
		if in.Hours, err = st.ListHours(ctx, sh.ID); err != nil {
			return PeriodResult{}, err
		}
		inputs = append(inputs, in)
	}

	calendar, err := worktime.LoadCalendar(ctx, st, period.Start, period.End)
	if err != nil {
		return PeriodResult{}, err
	}
	res := x.calc.Calculate(profile, period, inputs, calendar)

	hours := make(map[int64][]worktime.WorkShiftHours, len(inputs))
	for _, in := range inputs {
		hours[in.Shift.ID] = in.Hours
	}
	for _, sr := range res.Shifts {
		for _, row := range hours[sr.Shift.ID] {
			calculated := sr.Calculated.Get(row.WorkType).Total
			if row.CalculatedHours != nil && row.CalculatedHours.Equal(calculated) {
				continue
			}
			row.CalculatedHours = worktime.DecimalPtr(calculated)
			if err := st.UpdateHours(ctx, row); err != nil {
				return PeriodResult{}, err
			}
		}
	}
	return res, nil
}

// =============================================================================
// EXPORTS
// =============================================================================

// CreateExport renders the payroll file of the given shifts, uploads it to
// every sink and tags the shifts with the new export.
//
// The file is uploaded before anything is persisted. If an upload fails
// nothing is recorded; if persisting fails the uploaded files are removed.
func (x *Exporter) CreateExport(ctx context.Context, m worktime.Mutation, employeeID string, shiftIDs []int64) (worktime.PayrollExport, error) {
	if employeeID == "" {
		return worktime.PayrollExport{}, worktime.Invalid("employeeId", "required")
	}
	ids := dedupeIDs(shiftIDs)
	if len(ids) == 0 {
		return worktime.PayrollExport{}, worktime.Invalid("shiftIds", "at least one shift is required")
	}
	m = m.Normalize()

	profile, err := x.profile(ctx, employeeID)
	if err != nil {
		return worktime.PayrollExport{}, err
	}

	var rows []Row
	err = x.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		shifts, err := exportable(ctx, st, employeeID, ids)
		if err != nil {
			return err
		}
		results, err := x.shiftResults(ctx, st, profile, shifts)
		if err != nil {
			return err
		}
		rows = Build(profile, results)
		return nil
	})
	if err != nil {
		metrics.Exports.WithLabelValues(metrics.ResultRejected).Inc()
		return worktime.PayrollExport{}, err
	}
	content, err := Render(rows)
	if err != nil {
		return worktime.PayrollExport{}, fmt.Errorf("render payroll file: %w", err)
	}

	id, err := x.store.NextExportID(ctx)
	if err != nil {
		return worktime.PayrollExport{}, err
	}
	export := worktime.PayrollExport{
		ID:         id,
		EmployeeID: employeeID,
		FileName:   fmt.Sprintf("%d.csv", id),
		ExportedAt: x.now().UTC(),
		CreatorID:  m.CreatorID,
		ShiftIDs:   ids,
	}

	if err := x.deliver(ctx, export.FileName, content); err != nil {
		metrics.Exports.WithLabelValues(metrics.ResultFailed).Inc()
		x.logger.Error("payroll delivery failed",
			zap.Int64("export_id", id),
			zap.String("employee_id", employeeID),
			zap.Error(err),
		)
		x.retract(export.FileName)
		return worktime.PayrollExport{}, fmt.Errorf("%w: %v", worktime.ErrDeliveryFailed, err)
	}

	err = x.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		shifts, err := exportable(ctx, st, employeeID, ids)
		if err != nil {
			return err
		}
		if err := st.InsertExport(ctx, export); err != nil {
			return err
		}
		return x.tag(ctx, st, m, shifts, &export.ID)
	})
	if err != nil {
		metrics.Exports.WithLabelValues(metrics.ResultFailed).Inc()
		x.retract(export.FileName)
		return worktime.PayrollExport{}, err
	}

	metrics.Exports.WithLabelValues(metrics.ResultOK).Inc()
	x.logger.Info("payroll exported",
		zap.Int64("export_id", id),
		zap.String("employee_id", employeeID),
		zap.Int("shifts", len(ids)),
		zap.Int("rows", len(rows)),
	)
	return export, nil
}

// DeleteExport removes an export and clears the tag of its shifts. The
// delivered files are left in place.
func (x *Exporter) DeleteExport(ctx context.Context, m worktime.Mutation, id int64) error {
	m = m.Normalize()
	return x.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		export, err := st.GetExport(ctx, id)
		if err != nil {
			return err
		}
		var shifts []worktime.WorkShift
		if len(export.ShiftIDs) > 0 {
			if shifts, err = st.ListShifts(ctx, worktime.ShiftFilter{IDs: export.ShiftIDs}); err != nil {
				return err
			}
		}
		if err := x.tag(ctx, st, m, shifts, nil); err != nil {
			return err
		}
		return st.DeleteExport(ctx, id)
	})
}

func (x *Exporter) GetExport(ctx context.Context, id int64) (worktime.PayrollExport, error) {
	var export worktime.PayrollExport
	err := x.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		var err error
		export, err = st.GetExport(ctx, id)
		return err
	})
	return export, err
}

// ListExports returns the exports of an employee, or all exports when
// employeeID is empty.
func (x *Exporter) ListExports(ctx context.Context, employeeID string) ([]worktime.PayrollExport, error) {
	var exports []worktime.PayrollExport
	err := x.inTx(ctx, func(ctx context.Context, st worktime.Store) error {
		var err error
		exports, err = st.ListExports(ctx, employeeID)
		return err
	})
	return exports, err
}

// exportable loads the shifts and checks that each is owned by the
// employee, approved and not yet exported.
func exportable(ctx context.Context, st worktime.Store, employeeID string, ids []int64) ([]worktime.WorkShift, error) {
	shifts, err := st.ListShifts(ctx, worktime.ShiftFilter{IDs: ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]worktime.WorkShift, len(shifts))
	for _, sh := range shifts {
		byID[sh.ID] = sh
	}

	out := make([]worktime.WorkShift, 0, len(ids))
	for _, id := range ids {
		sh, ok := byID[id]
		switch {
		case !ok:
			return nil, worktime.NotFound("shift", id)
		case sh.EmployeeID != employeeID:
			return nil, worktime.Invalid("shiftIds", fmt.Sprintf("shift %d belongs to another employee", id))
		case !sh.Approved:
			return nil, worktime.Invalid("shiftIds", fmt.Sprintf("shift %d is not approved", id))
		case sh.PayrollExportID != nil:
			return nil, &worktime.ShiftStateError{ShiftID: id, Err: worktime.ErrAlreadyExported}
		}
		out = append(out, sh)
	}
	return out, nil
}

// shiftResults calculates every period the shifts fall in and returns
// the results of the requested shifts.
func (x *Exporter) shiftResults(ctx context.Context, st worktime.Store, profile directory.Profile, shifts []worktime.WorkShift) ([]ShiftResult, error) {
	var (
		periods []worktime.Period
		results []ShiftResult
	)
	for _, sh := range shifts {
		period := x.policy.ResolvePeriod(sh.Date, profile.IsDriver())
		if slices.Contains(periods, period) {
			continue
		}
		periods = append(periods, period)

		res, err := x.calculatePeriod(ctx, st, profile, period)
		if err != nil {
			return nil, err
		}
		for _, sr := range res.Shifts {
			if slices.ContainsFunc(shifts, func(s worktime.WorkShift) bool { return s.ID == sr.Shift.ID }) {
				results = append(results, sr)
			}
		}
	}
	return results, nil
}

// tag sets the export id of each shift and records the change.
func (x *Exporter) tag(ctx context.Context, st worktime.Store, m worktime.Mutation, shifts []worktime.WorkShift, exportID *int64) error {
	for _, sh := range shifts {
		old := sh.PayrollExportID
		sh.PayrollExportID = exportID
		if err := st.UpdateShift(ctx, sh); err != nil {
			return err
		}
		entry := m.Entry(sh.ID, worktime.ReasonShiftPayrollExport).
			Values(worktime.IDValue(old), worktime.IDValue(exportID))
		if err := x.recorder.RecordIfChanged(ctx, st, entry); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// DELIVERY
// =============================================================================

// deliver uploads content to every sink concurrently.
func (x *Exporter) deliver(ctx context.Context, name string, content []byte) error {
	if len(x.sinks) == 0 {
		return errors.New("no delivery sinks configured")
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range x.sinks {
		g.Go(func() error {
			if err := s.Upload(gctx, name, content); err != nil {
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// retract removes a file from every sink, best effort. It runs detached
// from the request so a cancelled caller still cleans up.
func (x *Exporter) retract(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, s := range x.sinks {
		if err := s.Remove(ctx, name); err != nil {
			x.logger.Warn("failed to remove payroll file",
				zap.String("sink", s.Name()),
				zap.String("file", name),
				zap.Error(err),
			)
		}
	}
}

func dedupeIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
