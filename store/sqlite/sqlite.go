/*
Package sqlite provides a SQLite-backed implementation of worktime.TxStore.

PURPOSE:
  Durable storage for events, shifts, hours rows, payroll exports, the
  change log and the holiday calendar. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  work_shifts:           One row per shift, derived fields included
  work_events:           Events, cascading with their shift
  work_shift_hours:      One row per (shift, work type)
  payroll_export_ids:    Id reservations; survive failed exports
  payroll_exports:       Delivered payroll files
  payroll_export_shifts: Export membership, cascading with either side
  change_sets, changes:  Append-only audit trail, cascading with the shift
  holidays:              Company holiday calendar

ENCODING:
  Timestamps are fixed-width UTC text so lexical order is time order.
  Dates are "2006-01-02". Hours are decimal strings.

CONCURRENCY:
  One open connection; WithTx holds a mutex for the whole transaction so
  every mutation of an employee's shifts is serialized.

USAGE:
  store, err := sqlite.New("./data/worktime.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - worktime/store.go: Interface definitions
  - worktime/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/worktime-engine/worktime"
)

const (
	tsLayout   = "2006-01-02T15:04:05.000000000Z07:00"
	dateLayout = "2006-01-02"
)

// Store implements worktime.TxStore using SQLite.
type Store struct {
	*queries
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and writes serial.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, queries: &queries{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_shifts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		started_at TEXT,
		ended_at TEXT,
		approved BOOLEAN NOT NULL DEFAULT FALSE,
		absence_type TEXT,
		per_diem_allowance_type TEXT,
		day_off_work_allowance BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT,
		default_cost_center TEXT,
		payroll_export_id INTEGER,
		duplicates_checked BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_work_shifts_employee_date
		ON work_shifts(employee_id, date);
	CREATE INDEX IF NOT EXISTS idx_work_shifts_open
		ON work_shifts(id) WHERE ended_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_work_shifts_unchecked
		ON work_shifts(ended_at, id) WHERE duplicates_checked = FALSE;

	CREATE TABLE IF NOT EXISTS work_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		employee_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		type TEXT NOT NULL,
		shift_id INTEGER NOT NULL REFERENCES work_shifts(id) ON DELETE CASCADE,
		truck_id TEXT,
		cost_center TEXT
	);

	-- Placement hot path: neighbours of a timestamp for one employee
	CREATE INDEX IF NOT EXISTS idx_work_events_employee_ts
		ON work_events(employee_id, ts, id);
	CREATE INDEX IF NOT EXISTS idx_work_events_shift
		ON work_events(shift_id, ts, id);

	CREATE TABLE IF NOT EXISTS work_shift_hours (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		shift_id INTEGER NOT NULL REFERENCES work_shifts(id) ON DELETE CASCADE,
		work_type TEXT NOT NULL,
		actual_hours TEXT,
		calculated_hours TEXT,
		UNIQUE(shift_id, work_type)
	);

	CREATE TABLE IF NOT EXISTS payroll_export_ids (
		id INTEGER PRIMARY KEY AUTOINCREMENT
	);

	CREATE TABLE IF NOT EXISTS payroll_exports (
		id INTEGER PRIMARY KEY,
		employee_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		exported_at TEXT NOT NULL,
		creator_id TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payroll_exports_employee
		ON payroll_exports(employee_id);

	CREATE TABLE IF NOT EXISTS payroll_export_shifts (
		export_id INTEGER NOT NULL REFERENCES payroll_exports(id) ON DELETE CASCADE,
		shift_id INTEGER NOT NULL REFERENCES work_shifts(id) ON DELETE CASCADE,
		PRIMARY KEY (export_id, shift_id)
	);

	CREATE TABLE IF NOT EXISTS change_sets (
		id TEXT NOT NULL,
		work_shift_id INTEGER NOT NULL REFERENCES work_shifts(id) ON DELETE CASCADE,
		creator_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (id, work_shift_id)
	);

	CREATE TABLE IF NOT EXISTS changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		change_set_id TEXT NOT NULL,
		work_shift_id INTEGER NOT NULL,
		work_shift_hours_id INTEGER,
		work_event_id INTEGER,
		reason TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT,
		creator_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (change_set_id, work_shift_id)
			REFERENCES change_sets(id, work_shift_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_changes_shift
		ON changes(work_shift_id);

	CREATE TABLE IF NOT EXISTS holidays (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (worktime.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store worktime.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs the worktime.Store operations against a querier.
type queries struct {
	q querier
}

// =============================================================================
// EVENTS
// =============================================================================

const eventColumns = `id, employee_id, ts, type, shift_id, truck_id, cost_center`

func (s *queries) InsertEvent(ctx context.Context, e *worktime.WorkEvent) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO work_events (employee_id, ts, type, shift_id, truck_id, cost_center)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.EmployeeID, formatTime(e.Timestamp), e.Type, e.ShiftID,
		nullString(e.TruckID), nullString(e.CostCenter),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return worktime.NotFound("shift", e.ShiftID)
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

func (s *queries) UpdateEvent(ctx context.Context, e worktime.WorkEvent) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE work_events SET ts = ?, type = ?, shift_id = ?, truck_id = ?, cost_center = ?
		WHERE id = ?`,
		formatTime(e.Timestamp), e.Type, e.ShiftID,
		nullString(e.TruckID), nullString(e.CostCenter), e.ID,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return worktime.NotFound("shift", e.ShiftID)
		}
		return fmt.Errorf("failed to update event: %w", err)
	}
	return expectRow(res, "event", e.ID)
}

func (s *queries) DeleteEvent(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM work_events WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return expectRow(res, "event", id)
}

func (s *queries) GetEvent(ctx context.Context, id int64) (worktime.WorkEvent, error) {
	e, found, err := s.queryEvent(ctx, `SELECT `+eventColumns+` FROM work_events WHERE id = ?`, id)
	if err != nil {
		return worktime.WorkEvent{}, err
	}
	if !found {
		return worktime.WorkEvent{}, worktime.NotFound("event", id)
	}
	return e, nil
}

func (s *queries) FindEvent(ctx context.Context, employeeID string, ts time.Time, typ worktime.EventType) (worktime.WorkEvent, bool, error) {
	return s.queryEvent(ctx, `
		SELECT `+eventColumns+` FROM work_events
		WHERE employee_id = ? AND ts = ? AND type = ?
		ORDER BY id LIMIT 1`,
		employeeID, formatTime(ts), typ,
	)
}

func (s *queries) ListShiftEvents(ctx context.Context, shiftID int64) ([]worktime.WorkEvent, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM work_events
		WHERE shift_id = ?
		ORDER BY ts ASC, id ASC`, shiftID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []worktime.WorkEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *queries) EventAtOrBefore(ctx context.Context, employeeID string, t time.Time, excludeID int64) (worktime.WorkEvent, bool, error) {
	return s.queryEvent(ctx, `
		SELECT `+eventColumns+` FROM work_events
		WHERE employee_id = ? AND id <> ? AND ts <= ?
		ORDER BY ts DESC, id DESC LIMIT 1`,
		employeeID, excludeID, formatTime(t),
	)
}

func (s *queries) EventAfter(ctx context.Context, employeeID string, t time.Time, excludeID int64) (worktime.WorkEvent, bool, error) {
	return s.queryEvent(ctx, `
		SELECT `+eventColumns+` FROM work_events
		WHERE employee_id = ? AND id <> ? AND ts > ?
		ORDER BY ts ASC, id ASC LIMIT 1`,
		employeeID, excludeID, formatTime(t),
	)
}

func (s *queries) queryEvent(ctx context.Context, query string, args ...any) (worktime.WorkEvent, bool, error) {
	e, err := scanEvent(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return worktime.WorkEvent{}, false, nil
	}
	if err != nil {
		return worktime.WorkEvent{}, false, fmt.Errorf("failed to query event: %w", err)
	}
	return e, true, nil
}

func scanEvent(row scanner) (worktime.WorkEvent, error) {
	var (
		e                   worktime.WorkEvent
		ts                  string
		truckID, costCenter sql.NullString
	)
	if err := row.Scan(&e.ID, &e.EmployeeID, &ts, &e.Type, &e.ShiftID, &truckID, &costCenter); err != nil {
		return e, err
	}
	var err error
	if e.Timestamp, err = parseTime(ts); err != nil {
		return e, err
	}
	e.TruckID = stringPtr(truckID)
	e.CostCenter = stringPtr(costCenter)
	return e, nil
}

// =============================================================================
// SHIFTS
// =============================================================================

const shiftColumns = `id, employee_id, date, started_at, ended_at, approved, absence_type,
	per_diem_allowance_type, day_off_work_allowance, notes, default_cost_center,
	payroll_export_id, duplicates_checked`

func (s *queries) InsertShift(ctx context.Context, sh *worktime.WorkShift) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO work_shifts (employee_id, date, started_at, ended_at, approved, absence_type,
			per_diem_allowance_type, day_off_work_allowance, notes, default_cost_center,
			payroll_export_id, duplicates_checked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		shiftArgs(*sh)...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert shift: %w", err)
	}
	sh.ID, err = res.LastInsertId()
	return err
}

func (s *queries) UpdateShift(ctx context.Context, sh worktime.WorkShift) error {
	args := append(shiftArgs(sh), sh.ID)
	res, err := s.q.ExecContext(ctx, `
		UPDATE work_shifts SET employee_id = ?, date = ?, started_at = ?, ended_at = ?,
			approved = ?, absence_type = ?, per_diem_allowance_type = ?,
			day_off_work_allowance = ?, notes = ?, default_cost_center = ?,
			payroll_export_id = ?, duplicates_checked = ?
		WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update shift: %w", err)
	}
	return expectRow(res, "shift", sh.ID)
}

func shiftArgs(sh worktime.WorkShift) []any {
	return []any{
		sh.EmployeeID,
		sh.Date.Format(dateLayout),
		nullTime(sh.StartedAt),
		nullTime(sh.EndedAt),
		sh.Approved,
		nullString(sh.AbsenceType),
		nullString(sh.PerDiemAllowanceType),
		sh.DayOffWorkAllowance,
		nullString(sh.Notes),
		nullString(sh.DefaultCostCenter),
		nullInt(sh.PayrollExportID),
		sh.DuplicatesChecked,
	}
}

// DeleteShift removes the shift; events, hours, export membership and
// the change log cascade through foreign keys.
func (s *queries) DeleteShift(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM work_shifts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete shift: %w", err)
	}
	return expectRow(res, "shift", id)
}

func (s *queries) GetShift(ctx context.Context, id int64) (worktime.WorkShift, error) {
	sh, err := scanShift(s.q.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM work_shifts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return worktime.WorkShift{}, worktime.NotFound("shift", id)
	}
	if err != nil {
		return worktime.WorkShift{}, fmt.Errorf("failed to get shift: %w", err)
	}
	return sh, nil
}

func (s *queries) ListShifts(ctx context.Context, f worktime.ShiftFilter) ([]worktime.WorkShift, error) {
	var (
		where []string
		args  []any
	)
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if f.From != nil {
		where = append(where, "date >= ?")
		args = append(args, f.From.Format(dateLayout))
	}
	if f.To != nil {
		where = append(where, "date <= ?")
		args = append(args, f.To.Format(dateLayout))
	}
	if len(f.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}

	query := `SELECT ` + shiftColumns + ` FROM work_shifts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	shifts, err := s.queryShifts(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	worktime.SortShifts(shifts)
	return shifts, nil
}

func (s *queries) ListOpenShifts(ctx context.Context) ([]worktime.WorkShift, error) {
	return s.queryShifts(ctx, `SELECT `+shiftColumns+` FROM work_shifts WHERE ended_at IS NULL ORDER BY id`)
}

func (s *queries) NextUncheckedShift(ctx context.Context, endedBefore time.Time) (worktime.WorkShift, bool, error) {
	sh, err := scanShift(s.q.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM work_shifts
		WHERE duplicates_checked = FALSE AND ended_at IS NOT NULL AND ended_at < ?
		ORDER BY ended_at ASC, id ASC LIMIT 1`, formatTime(endedBefore)))
	if errors.Is(err, sql.ErrNoRows) {
		return worktime.WorkShift{}, false, nil
	}
	if err != nil {
		return worktime.WorkShift{}, false, fmt.Errorf("failed to find unchecked shift: %w", err)
	}
	return sh, true, nil
}

func (s *queries) queryShifts(ctx context.Context, query string, args ...any) ([]worktime.WorkShift, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query shifts: %w", err)
	}
	defer rows.Close()

	var shifts []worktime.WorkShift
	for rows.Next() {
		sh, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, sh)
	}
	return shifts, rows.Err()
}

func scanShift(row scanner) (worktime.WorkShift, error) {
	var (
		sh                                 worktime.WorkShift
		date                               string
		startedAt, endedAt                 sql.NullString
		absence, perDiem, notes, defaultCC sql.NullString
		exportID                           sql.NullInt64
	)
	err := row.Scan(&sh.ID, &sh.EmployeeID, &date, &startedAt, &endedAt, &sh.Approved,
		&absence, &perDiem, &sh.DayOffWorkAllowance, &notes, &defaultCC,
		&exportID, &sh.DuplicatesChecked)
	if err != nil {
		return sh, err
	}
	if sh.Date, err = time.Parse(dateLayout, date); err != nil {
		return sh, err
	}
	if sh.StartedAt, err = timePtr(startedAt); err != nil {
		return sh, err
	}
	if sh.EndedAt, err = timePtr(endedAt); err != nil {
		return sh, err
	}
	if absence.Valid {
		a := worktime.AbsenceType(absence.String)
		sh.AbsenceType = &a
	}
	if perDiem.Valid {
		p := worktime.PerDiemAllowanceType(perDiem.String)
		sh.PerDiemAllowanceType = &p
	}
	sh.Notes = stringPtr(notes)
	sh.DefaultCostCenter = stringPtr(defaultCC)
	if exportID.Valid {
		id := exportID.Int64
		sh.PayrollExportID = &id
	}
	return sh, nil
}

// =============================================================================
// HOURS
// =============================================================================

func (s *queries) InsertHours(ctx context.Context, rows []worktime.WorkShiftHours) error {
	for i := range rows {
		res, err := s.q.ExecContext(ctx, `
			INSERT INTO work_shift_hours (shift_id, work_type, actual_hours, calculated_hours)
			VALUES (?, ?, ?, ?)`,
			rows[i].ShiftID, rows[i].WorkType,
			nullDecimal(rows[i].ActualHours), nullDecimal(rows[i].CalculatedHours),
		)
		if err != nil {
			switch {
			case isForeignKeyError(err):
				return worktime.NotFound("shift", rows[i].ShiftID)
			case isUniqueConstraintError(err):
				return worktime.Invalid("workType", "hours row already exists for "+string(rows[i].WorkType))
			}
			return fmt.Errorf("failed to insert hours: %w", err)
		}
		if rows[i].ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

func (s *queries) UpdateHours(ctx context.Context, h worktime.WorkShiftHours) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE work_shift_hours SET actual_hours = ?, calculated_hours = ? WHERE id = ?`,
		nullDecimal(h.ActualHours), nullDecimal(h.CalculatedHours), h.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update hours: %w", err)
	}
	return expectRow(res, "hours", h.ID)
}

func (s *queries) ListHours(ctx context.Context, shiftID int64) ([]worktime.WorkShiftHours, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, shift_id, work_type, actual_hours, calculated_hours
		FROM work_shift_hours WHERE shift_id = ? ORDER BY id`, shiftID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hours: %w", err)
	}
	defer rows.Close()

	var out []worktime.WorkShiftHours
	for rows.Next() {
		var (
			h                  worktime.WorkShiftHours
			actual, calculated sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.ShiftID, &h.WorkType, &actual, &calculated); err != nil {
			return nil, err
		}
		if h.ActualHours, err = decimalPtr(actual); err != nil {
			return nil, err
		}
		if h.CalculatedHours, err = decimalPtr(calculated); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// PAYROLL EXPORTS
// =============================================================================

func (s *queries) NextExportID(ctx context.Context) (int64, error) {
	res, err := s.q.ExecContext(ctx, "INSERT INTO payroll_export_ids DEFAULT VALUES")
	if err != nil {
		return 0, fmt.Errorf("failed to reserve export id: %w", err)
	}
	return res.LastInsertId()
}

func (s *queries) InsertExport(ctx context.Context, e worktime.PayrollExport) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payroll_exports (id, employee_id, file_name, exported_at, creator_id)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.EmployeeID, e.FileName, formatTime(e.ExportedAt), e.CreatorID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return worktime.Invalid("id", "payroll export already exists")
		}
		return fmt.Errorf("failed to insert export: %w", err)
	}
	for _, shiftID := range e.ShiftIDs {
		if _, err := s.q.ExecContext(ctx,
			"INSERT INTO payroll_export_shifts (export_id, shift_id) VALUES (?, ?)", e.ID, shiftID); err != nil {
			if isForeignKeyError(err) {
				return worktime.NotFound("shift", shiftID)
			}
			return fmt.Errorf("failed to link export shift: %w", err)
		}
	}
	return nil
}

func (s *queries) GetExport(ctx context.Context, id int64) (worktime.PayrollExport, error) {
	exports, err := s.queryExports(ctx, "WHERE id = ?", id)
	if err != nil {
		return worktime.PayrollExport{}, err
	}
	if len(exports) == 0 {
		return worktime.PayrollExport{}, worktime.NotFound("payroll export", id)
	}
	return exports[0], nil
}

func (s *queries) ListExports(ctx context.Context, employeeID string) ([]worktime.PayrollExport, error) {
	if employeeID == "" {
		return s.queryExports(ctx, "")
	}
	return s.queryExports(ctx, "WHERE employee_id = ?", employeeID)
}

func (s *queries) DeleteExport(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM payroll_exports WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete export: %w", err)
	}
	return expectRow(res, "payroll export", id)
}

func (s *queries) queryExports(ctx context.Context, where string, args ...any) ([]worktime.PayrollExport, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, employee_id, file_name, exported_at, creator_id
		FROM payroll_exports `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query exports: %w", err)
	}
	var exports []worktime.PayrollExport
	for rows.Next() {
		var (
			e          worktime.PayrollExport
			exportedAt string
		)
		if err := rows.Scan(&e.ID, &e.EmployeeID, &e.FileName, &exportedAt, &e.CreatorID); err != nil {
			rows.Close()
			return nil, err
		}
		if e.ExportedAt, err = parseTime(exportedAt); err != nil {
			rows.Close()
			return nil, err
		}
		exports = append(exports, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Membership is read after the export cursor is closed; the single
	// connection cannot serve two open result sets.
	for i := range exports {
		if exports[i].ShiftIDs, err = s.exportShiftIDs(ctx, exports[i].ID); err != nil {
			return nil, err
		}
	}
	return exports, nil
}

func (s *queries) exportShiftIDs(ctx context.Context, exportID int64) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT shift_id FROM payroll_export_shifts WHERE export_id = ? ORDER BY shift_id", exportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query export shifts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// CHANGE LOG
// =============================================================================

func (s *queries) GetChangeSet(ctx context.Context, id string, shiftID int64) (worktime.ChangeSet, error) {
	var (
		cs        worktime.ChangeSet
		createdAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, work_shift_id, creator_id, created_at FROM change_sets
		WHERE id = ? AND work_shift_id = ?`, id, shiftID,
	).Scan(&cs.ID, &cs.WorkShiftID, &cs.CreatorID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cs, worktime.NotFound("change set", id)
	}
	if err != nil {
		return cs, fmt.Errorf("failed to get change set: %w", err)
	}
	cs.CreatedAt, err = parseTime(createdAt)
	return cs, err
}

func (s *queries) InsertChangeSet(ctx context.Context, cs worktime.ChangeSet) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO change_sets (id, work_shift_id, creator_id, created_at) VALUES (?, ?, ?, ?)`,
		cs.ID, cs.WorkShiftID, cs.CreatorID, formatTime(cs.CreatedAt),
	)
	if err != nil {
		switch {
		case isUniqueConstraintError(err):
			return worktime.Invalid("changeSetId", "change set already exists")
		case isForeignKeyError(err):
			return worktime.NotFound("shift", cs.WorkShiftID)
		}
		return fmt.Errorf("failed to insert change set: %w", err)
	}
	return nil
}

func (s *queries) InsertChange(ctx context.Context, c *worktime.Change) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO changes (change_set_id, work_shift_id, work_shift_hours_id, work_event_id,
			reason, old_value, new_value, creator_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ChangeSetID, c.WorkShiftID, nullInt(c.WorkShiftHoursID), nullInt(c.WorkEventID),
		c.Reason, nullString(c.OldValue), nullString(c.NewValue), c.CreatorID, formatTime(c.CreatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return worktime.NotFound("change set", c.ChangeSetID)
		}
		return fmt.Errorf("failed to insert change: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *queries) ListChangeSets(ctx context.Context, shiftIDs []int64) ([]worktime.ChangeSet, error) {
	if len(shiftIDs) == 0 {
		return nil, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, work_shift_id, creator_id, created_at FROM change_sets
		WHERE work_shift_id IN (`+placeholders(len(shiftIDs))+`)
		ORDER BY created_at, id, work_shift_id`, int64Args(shiftIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list change sets: %w", err)
	}
	defer rows.Close()

	var out []worktime.ChangeSet
	for rows.Next() {
		var (
			cs        worktime.ChangeSet
			createdAt string
		)
		if err := rows.Scan(&cs.ID, &cs.WorkShiftID, &cs.CreatorID, &createdAt); err != nil {
			return nil, err
		}
		if cs.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *queries) ListChanges(ctx context.Context, shiftIDs []int64) ([]worktime.Change, error) {
	if len(shiftIDs) == 0 {
		return nil, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, change_set_id, work_shift_id, work_shift_hours_id, work_event_id,
			reason, old_value, new_value, creator_id, created_at
		FROM changes WHERE work_shift_id IN (`+placeholders(len(shiftIDs))+`)
		ORDER BY id`, int64Args(shiftIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	defer rows.Close()

	var out []worktime.Change
	for rows.Next() {
		var (
			c                worktime.Change
			hoursID, eventID sql.NullInt64
			oldValue, newVal sql.NullString
			createdAt        string
		)
		if err := rows.Scan(&c.ID, &c.ChangeSetID, &c.WorkShiftID, &hoursID, &eventID,
			&c.Reason, &oldValue, &newVal, &c.CreatorID, &createdAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		c.WorkShiftHoursID = int64Ptr(hoursID)
		c.WorkEventID = int64Ptr(eventID)
		c.OldValue = stringPtr(oldValue)
		c.NewValue = stringPtr(newVal)
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

func (s *queries) InsertHoliday(ctx context.Context, h *worktime.Holiday) error {
	res, err := s.q.ExecContext(ctx, "INSERT INTO holidays (date, name) VALUES (?, ?)",
		h.Date.Format(dateLayout), h.Name)
	if err != nil {
		if isUniqueConstraintError(err) {
			return worktime.Invalid("date", "holiday already exists on "+h.Date.Format(dateLayout))
		}
		return fmt.Errorf("failed to insert holiday: %w", err)
	}
	h.ID, err = res.LastInsertId()
	return err
}

func (s *queries) DeleteHoliday(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete holiday: %w", err)
	}
	return expectRow(res, "holiday", id)
}

func (s *queries) ListHolidays(ctx context.Context, from, to time.Time) ([]worktime.Holiday, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, date, name FROM holidays WHERE date >= ? AND date <= ? ORDER BY date`,
		from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to list holidays: %w", err)
	}
	defer rows.Close()

	var out []worktime.Holiday
	for rows.Next() {
		var (
			h    worktime.Holiday
			date string
		)
		if err := rows.Scan(&h.ID, &date, &h.Name); err != nil {
			return nil, err
		}
		if h.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func timePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString[T ~string](s *T) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*s), Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullInt(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func int64Ptr(i sql.NullInt64) *int64 {
	if !i.Valid {
		return nil
	}
	v := i.Int64
	return &v
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func decimalPtr(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid stored hours %q: %w", s.String, err)
	}
	return &d, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func expectRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return worktime.NotFound(kind, id)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

var _ worktime.TxStore = (*Store)(nil)
