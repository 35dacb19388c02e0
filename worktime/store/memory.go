// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/warp/worktime-engine/worktime"
)

// =============================================================================
// ARENA - Unlocked record maps, one per entity kind
// =============================================================================

type changeSetKey struct {
	ID      string
	ShiftID int64
}

type arena struct {
	events     map[int64]worktime.WorkEvent
	shifts     map[int64]worktime.WorkShift
	hours      map[int64]worktime.WorkShiftHours
	exports    map[int64]worktime.PayrollExport
	changeSets map[changeSetKey]worktime.ChangeSet
	changes    map[int64]worktime.Change
	holidays   map[int64]worktime.Holiday

	eventSeq, shiftSeq, hoursSeq, changeSeq, holidaySeq int64

	// Export ids survive rollback so a reserved id is never handed out twice.
	exportSeq *int64
}

func newArena() *arena {
	return &arena{
		events:     make(map[int64]worktime.WorkEvent),
		shifts:     make(map[int64]worktime.WorkShift),
		hours:      make(map[int64]worktime.WorkShiftHours),
		exports:    make(map[int64]worktime.PayrollExport),
		changeSets: make(map[changeSetKey]worktime.ChangeSet),
		changes:    make(map[int64]worktime.Change),
		holidays:   make(map[int64]worktime.Holiday),
		exportSeq:  new(int64),
	}
}

func (a *arena) clone() *arena {
	c := *a
	c.events = maps.Clone(a.events)
	c.shifts = maps.Clone(a.shifts)
	c.hours = maps.Clone(a.hours)
	c.exports = make(map[int64]worktime.PayrollExport, len(a.exports))
	for id, e := range a.exports {
		e.ShiftIDs = slices.Clone(e.ShiftIDs)
		c.exports[id] = e
	}
	c.changeSets = maps.Clone(a.changeSets)
	c.changes = maps.Clone(a.changes)
	c.holidays = maps.Clone(a.holidays)
	return &c
}

// Events

func (a *arena) InsertEvent(_ context.Context, e *worktime.WorkEvent) error {
	if _, ok := a.shifts[e.ShiftID]; !ok {
		return worktime.NotFound("shift", e.ShiftID)
	}
	a.eventSeq++
	e.ID = a.eventSeq
	a.events[e.ID] = *e
	return nil
}

func (a *arena) UpdateEvent(_ context.Context, e worktime.WorkEvent) error {
	if _, ok := a.events[e.ID]; !ok {
		return worktime.NotFound("event", e.ID)
	}
	if _, ok := a.shifts[e.ShiftID]; !ok {
		return worktime.NotFound("shift", e.ShiftID)
	}
	a.events[e.ID] = e
	return nil
}

func (a *arena) DeleteEvent(_ context.Context, id int64) error {
	if _, ok := a.events[id]; !ok {
		return worktime.NotFound("event", id)
	}
	delete(a.events, id)
	return nil
}

func (a *arena) GetEvent(_ context.Context, id int64) (worktime.WorkEvent, error) {
	e, ok := a.events[id]
	if !ok {
		return worktime.WorkEvent{}, worktime.NotFound("event", id)
	}
	return e, nil
}

func (a *arena) FindEvent(_ context.Context, employeeID string, ts time.Time, typ worktime.EventType) (worktime.WorkEvent, bool, error) {
	var best worktime.WorkEvent
	found := false
	for _, e := range a.events {
		if e.EmployeeID != employeeID || e.Type != typ || !e.Timestamp.Equal(ts) {
			continue
		}
		if !found || e.ID < best.ID {
			best, found = e, true
		}
	}
	return best, found, nil
}

func (a *arena) ListShiftEvents(_ context.Context, shiftID int64) ([]worktime.WorkEvent, error) {
	var out []worktime.WorkEvent
	for _, e := range a.events {
		if e.ShiftID == shiftID {
			out = append(out, e)
		}
	}
	worktime.SortEvents(out)
	return out, nil
}

func (a *arena) EventAtOrBefore(_ context.Context, employeeID string, t time.Time, excludeID int64) (worktime.WorkEvent, bool, error) {
	var best worktime.WorkEvent
	found := false
	for _, e := range a.events {
		if e.EmployeeID != employeeID || e.ID == excludeID || e.Timestamp.After(t) {
			continue
		}
		if !found || best.Before(e) {
			best, found = e, true
		}
	}
	return best, found, nil
}

func (a *arena) EventAfter(_ context.Context, employeeID string, t time.Time, excludeID int64) (worktime.WorkEvent, bool, error) {
	var best worktime.WorkEvent
	found := false
	for _, e := range a.events {
		if e.EmployeeID != employeeID || e.ID == excludeID || !e.Timestamp.After(t) {
			continue
		}
		if !found || e.Before(best) {
			best, found = e, true
		}
	}
	return best, found, nil
}

// Shifts

func (a *arena) InsertShift(_ context.Context, s *worktime.WorkShift) error {
	a.shiftSeq++
	s.ID = a.shiftSeq
	a.shifts[s.ID] = *s
	return nil
}

func (a *arena) UpdateShift(_ context.Context, s worktime.WorkShift) error {
	if _, ok := a.shifts[s.ID]; !ok {
		return worktime.NotFound("shift", s.ID)
	}
	a.shifts[s.ID] = s
	return nil
}

func (a *arena) DeleteShift(_ context.Context, id int64) error {
	if _, ok := a.shifts[id]; !ok {
		return worktime.NotFound("shift", id)
	}
	delete(a.shifts, id)
	maps.DeleteFunc(a.events, func(_ int64, e worktime.WorkEvent) bool { return e.ShiftID == id })
	maps.DeleteFunc(a.hours, func(_ int64, h worktime.WorkShiftHours) bool { return h.ShiftID == id })
	maps.DeleteFunc(a.changeSets, func(k changeSetKey, _ worktime.ChangeSet) bool { return k.ShiftID == id })
	maps.DeleteFunc(a.changes, func(_ int64, c worktime.Change) bool { return c.WorkShiftID == id })
	for eid, e := range a.exports {
		if i := slices.Index(e.ShiftIDs, id); i >= 0 {
			e.ShiftIDs = slices.Delete(slices.Clone(e.ShiftIDs), i, i+1)
			a.exports[eid] = e
		}
	}
	return nil
}

func (a *arena) GetShift(_ context.Context, id int64) (worktime.WorkShift, error) {
	s, ok := a.shifts[id]
	if !ok {
		return worktime.WorkShift{}, worktime.NotFound("shift", id)
	}
	return s, nil
}

func (a *arena) ListShifts(_ context.Context, f worktime.ShiftFilter) ([]worktime.WorkShift, error) {
	var out []worktime.WorkShift
	for _, s := range a.shifts {
		if f.EmployeeID != "" && s.EmployeeID != f.EmployeeID {
			continue
		}
		if f.From != nil && s.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && s.Date.After(*f.To) {
			continue
		}
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, s.ID) {
			continue
		}
		out = append(out, s)
	}
	worktime.SortShifts(out)
	return out, nil
}

func (a *arena) ListOpenShifts(_ context.Context) ([]worktime.WorkShift, error) {
	var out []worktime.WorkShift
	for _, s := range a.shifts {
		if s.IsOpen() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *arena) NextUncheckedShift(_ context.Context, endedBefore time.Time) (worktime.WorkShift, bool, error) {
	var best worktime.WorkShift
	found := false
	for _, s := range a.shifts {
		if s.DuplicatesChecked || s.EndedAt == nil || !s.EndedAt.Before(endedBefore) {
			continue
		}
		if !found || s.EndedAt.Before(*best.EndedAt) || (s.EndedAt.Equal(*best.EndedAt) && s.ID < best.ID) {
			best, found = s, true
		}
	}
	return best, found, nil
}

// Hours

func (a *arena) InsertHours(_ context.Context, rows []worktime.WorkShiftHours) error {
	for i := range rows {
		if _, ok := a.shifts[rows[i].ShiftID]; !ok {
			return worktime.NotFound("shift", rows[i].ShiftID)
		}
		for _, h := range a.hours {
			if h.ShiftID == rows[i].ShiftID && h.WorkType == rows[i].WorkType {
				return worktime.Invalid("workType", "hours row already exists for "+string(h.WorkType))
			}
		}
		a.hoursSeq++
		rows[i].ID = a.hoursSeq
		a.hours[rows[i].ID] = rows[i]
	}
	return nil
}

func (a *arena) UpdateHours(_ context.Context, h worktime.WorkShiftHours) error {
	if _, ok := a.hours[h.ID]; !ok {
		return worktime.NotFound("hours", h.ID)
	}
	a.hours[h.ID] = h
	return nil
}

func (a *arena) ListHours(_ context.Context, shiftID int64) ([]worktime.WorkShiftHours, error) {
	var out []worktime.WorkShiftHours
	for _, h := range a.hours {
		if h.ShiftID == shiftID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Payroll exports

func (a *arena) NextExportID(_ context.Context) (int64, error) {
	*a.exportSeq++
	return *a.exportSeq, nil
}

func (a *arena) InsertExport(_ context.Context, e worktime.PayrollExport) error {
	if _, ok := a.exports[e.ID]; ok {
		return worktime.Invalid("id", "payroll export already exists")
	}
	e.ShiftIDs = slices.Clone(e.ShiftIDs)
	a.exports[e.ID] = e
	return nil
}

func (a *arena) GetExport(_ context.Context, id int64) (worktime.PayrollExport, error) {
	e, ok := a.exports[id]
	if !ok {
		return worktime.PayrollExport{}, worktime.NotFound("payroll export", id)
	}
	e.ShiftIDs = slices.Clone(e.ShiftIDs)
	return e, nil
}

func (a *arena) ListExports(_ context.Context, employeeID string) ([]worktime.PayrollExport, error) {
	var out []worktime.PayrollExport
	for _, e := range a.exports {
		if employeeID != "" && e.EmployeeID != employeeID {
			continue
		}
		e.ShiftIDs = slices.Clone(e.ShiftIDs)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *arena) DeleteExport(_ context.Context, id int64) error {
	if _, ok := a.exports[id]; !ok {
		return worktime.NotFound("payroll export", id)
	}
	delete(a.exports, id)
	return nil
}

// Change log

func (a *arena) GetChangeSet(_ context.Context, id string, shiftID int64) (worktime.ChangeSet, error) {
	cs, ok := a.changeSets[changeSetKey{ID: id, ShiftID: shiftID}]
	if !ok {
		return worktime.ChangeSet{}, worktime.NotFound("change set", id)
	}
	return cs, nil
}

func (a *arena) InsertChangeSet(_ context.Context, cs worktime.ChangeSet) error {
	k := changeSetKey{ID: cs.ID, ShiftID: cs.WorkShiftID}
	if _, ok := a.changeSets[k]; ok {
		return worktime.Invalid("changeSetId", "change set already exists")
	}
	a.changeSets[k] = cs
	return nil
}

func (a *arena) InsertChange(_ context.Context, c *worktime.Change) error {
	if _, ok := a.changeSets[changeSetKey{ID: c.ChangeSetID, ShiftID: c.WorkShiftID}]; !ok {
		return worktime.NotFound("change set", c.ChangeSetID)
	}
	a.changeSeq++
	c.ID = a.changeSeq
	a.changes[c.ID] = *c
	return nil
}

func (a *arena) ListChangeSets(_ context.Context, shiftIDs []int64) ([]worktime.ChangeSet, error) {
	var out []worktime.ChangeSet
	for k, cs := range a.changeSets {
		if slices.Contains(shiftIDs, k.ShiftID) {
			out = append(out, cs)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].WorkShiftID < out[j].WorkShiftID
	})
	return out, nil
}

func (a *arena) ListChanges(_ context.Context, shiftIDs []int64) ([]worktime.Change, error) {
	var out []worktime.Change
	for _, c := range a.changes {
		if slices.Contains(shiftIDs, c.WorkShiftID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Holidays

func (a *arena) InsertHoliday(_ context.Context, h *worktime.Holiday) error {
	for _, existing := range a.holidays {
		if existing.Date.Equal(h.Date) {
			return worktime.Invalid("date", "holiday already exists on "+h.Date.Format("2006-01-02"))
		}
	}
	a.holidaySeq++
	h.ID = a.holidaySeq
	a.holidays[h.ID] = *h
	return nil
}

func (a *arena) DeleteHoliday(_ context.Context, id int64) error {
	if _, ok := a.holidays[id]; !ok {
		return worktime.NotFound("holiday", id)
	}
	delete(a.holidays, id)
	return nil
}

func (a *arena) ListHolidays(_ context.Context, from, to time.Time) ([]worktime.Holiday, error) {
	var out []worktime.Holiday
	for _, h := range a.holidays {
		if h.Date.Before(from) || h.Date.After(to) {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// =============================================================================
// MEMORY STORE - Locked arena with snapshot/rollback transactions
// =============================================================================

// Memory is an in-memory TxStore for tests and development.
type Memory struct {
	mu    sync.Mutex
	arena *arena
}

func NewMemory() *Memory {
	return &Memory{arena: newArena()}
}

// WithTx executes fn within a transaction.
// For the memory store, this is simulated with a snapshot + rollback on error.
// Transactions are fully serialized.
func (m *Memory) WithTx(ctx context.Context, fn func(worktime.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.arena.clone()

	if err := fn(m.arena); err != nil {
		m.arena = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		m.arena = snapshot
		return err
	}
	return nil
}

func (m *Memory) InsertEvent(ctx context.Context, e *worktime.WorkEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.InsertEvent(ctx, e)
}

func (m *Memory) UpdateEvent(ctx context.Context, e worktime.WorkEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.UpdateEvent(ctx, e)
}

func (m *Memory) DeleteEvent(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.DeleteEvent(ctx, id)
}

func (m *Memory) GetEvent(ctx context.Context, id int64) (worktime.WorkEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.GetEvent(ctx, id)
}

func (m *Memory) FindEvent(ctx context.Context, employeeID string, ts time.Time, typ worktime.EventType) (worktime.WorkEvent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.FindEvent(ctx, employeeID, ts, typ)
}

func (m *Memory) ListShiftEvents(ctx context.Context, shiftID int64) ([]worktime.WorkEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.ListShiftEvents(ctx, shiftID)
}

func (m *Memory) EventAtOrBefore(ctx context.Context, employeeID string, t time.Time, excludeID int64) (worktime.WorkEvent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.EventAtOrBefore(ctx, employeeID, t, excludeID)
}

func (m *Memory) EventAfter(ctx context.Context, employeeID string, t time.Time, excludeID int64) (worktime.WorkEvent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.EventAfter(ctx, employeeID, t, excludeID)
}

func (m *Memory) InsertShift(ctx context.Context, s *worktime.WorkShift) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.InsertShift(ctx, s)
}

func (m *Memory) UpdateShift(ctx context.Context, s worktime.WorkShift) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.UpdateShift(ctx, s)
}

func (m *Memory) DeleteShift(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.DeleteShift(ctx, id)
}

func (m *Memory) GetShift(ctx context.Context, id int64) (worktime.WorkShift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.GetShift(ctx, id)
}

func (m *Memory) ListShifts(ctx context.Context, f worktime.ShiftFilter) ([]worktime.WorkShift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.ListShifts(ctx, f)
}

func (m *Memory) ListOpenShifts(ctx context.Context) ([]worktime.WorkShift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.ListOpenShifts(ctx)
}

func (m *Memory) NextUncheckedShift(ctx context.Context, endedBefore time.Time) (worktime.WorkShift, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.NextUncheckedShift(ctx, endedBefore)
}

func (m *Memory) InsertHours(ctx context.Context, rows []worktime.WorkShiftHours) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.InsertHours(ctx, rows)
}

func (m *Memory) UpdateHours(ctx context.Context, h worktime.WorkShiftHours) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.UpdateHours(ctx, h)
}

func (m *Memory) ListHours(ctx context.Context, shiftID int64) ([]worktime.WorkShiftHours, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.ListHours(ctx, shiftID)
}

func (m *Memory) NextExportID(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.NextExportID(ctx)
}

func (m *Memory) InsertExport(ctx context.Context, e worktime.PayrollExport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.InsertExport(ctx, e)
}

func (m *Memory) GetExport(ctx context.Context, id int64) (worktime.PayrollExport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.GetExport(ctx, id)
}

func (m *Memory) ListExports(ctx context.Context, employeeID string) ([]worktime.PayrollExport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.ListExports(ctx, employeeID)
}

func (m *Memory) DeleteExport(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.DeleteExport(ctx, id)
}

func (m *Memory) GetChangeSet(ctx context.Context, id string, shiftID int64) (worktime.ChangeSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.GetChangeSet(ctx, id, shiftID)
}

func (m *Memory) InsertChangeSet(ctx context.Context, cs worktime.ChangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.InsertChangeSet(ctx, cs)
}

func (m *Memory) InsertChange(ctx context.Context, c *worktime.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.InsertChange(ctx, c)
}

func (m *Memory) ListChangeSets(ctx context.Context, shiftIDs []int64) ([]worktime.ChangeSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.ListChangeSets(ctx, shiftIDs)
}

func (m *Memory) ListChanges(ctx context.Context, shiftIDs []int64) ([]worktime.Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.ListChanges(ctx, shiftIDs)
}

func (m *Memory) InsertHoliday(ctx context.Context, h *worktime.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.InsertHoliday(ctx, h)
}

func (m *Memory) DeleteHoliday(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.DeleteHoliday(ctx, id)
}

func (m *Memory) ListHolidays(ctx context.Context, from, to time.Time) ([]worktime.Holiday, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena.ListHolidays(ctx, from, to)
}

var _ worktime.TxStore = (*Memory)(nil)
