/*
changelog.go - Audit trail of shift, event and hours mutations

PURPOSE:
  Every mutating operation records field-level before/after values. One
  logical mutation (e.g. a PATCH touching several fields) carries a
  caller-supplied change-set id; all diffs it produces on a shift land in
  the same ChangeSet. Reusing the id in a later call appends to the set.

KEY CONCEPTS:
  ChangeSet: (id, shift) pair with creator and creation time. A mutation
             that touches two shifts (an event moving between them) yields
             one set per shift under the same id.
  Change:    One append-only diff row. Deleted only with its shift.

SEE ALSO:
  - tracking/service.go: Records event and shift diffs
  - payroll/export.go: Records export tagging
*/
package worktime

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reason is the closed set of audit reasons.
type Reason string

const (
	ReasonShiftCreated              Reason = "WORKSHIFT_CREATED"
	ReasonShiftApproved             Reason = "WORKSHIFT_UPDATED_APPROVED"
	ReasonShiftAbsenceType          Reason = "WORKSHIFT_UPDATED_ABSENCETYPE"
	ReasonShiftPerDiemAllowanceType Reason = "WORKSHIFT_UPDATED_PERDIEMALLOWANCETYPE"
	ReasonShiftDayOffWorkAllowance  Reason = "WORKSHIFT_UPDATED_DAYOFFWORKALLOWANCE"
	ReasonShiftNotes                Reason = "WORKSHIFT_UPDATED_NOTES"
	ReasonShiftDefaultCostCenter    Reason = "WORKSHIFT_UPDATED_DEFAULTCOSTCENTER"
	ReasonShiftPayrollExport        Reason = "WORKSHIFT_UPDATED_PAYROLLEXPORT"
	ReasonEventCreated              Reason = "WORKEVENT_CREATED"
	ReasonEventDeleted              Reason = "WORKEVENT_DELETED"
	ReasonEventTimestamp            Reason = "WORKEVENT_UPDATED_TIMESTAMP"
	ReasonEventType                 Reason = "WORKEVENT_UPDATED_TYPE"
	ReasonEventCostCenter           Reason = "WORKEVENT_UPDATED_COSTCENTER"
	ReasonEventShift                Reason = "WORKEVENT_UPDATED_WORKSHIFT"
	ReasonHoursActualHours          Reason = "WORKSHIFTHOURS_UPDATED_ACTUALHOURS"
)

// ChangeSet groups the changes one logical mutation made to one shift.
type ChangeSet struct {
	ID          string
	WorkShiftID int64
	CreatorID   string
	CreatedAt   time.Time
}

// Change is one field-level diff.
type Change struct {
	ID               int64
	ChangeSetID      string
	WorkShiftID      int64
	WorkShiftHoursID *int64
	WorkEventID      *int64
	Reason           Reason
	OldValue         *string
	NewValue         *string
	CreatorID        string
	CreatedAt        time.Time
}

// ChangeSetWithChanges is a change set and its diffs in insertion order.
type ChangeSetWithChanges struct {
	ChangeSet
	Changes []Change
}

// SystemCreator is the creator id of sweeps and inbound bus events.
const SystemCreator = "system"

// Mutation identifies the change set and the creator of one logical
// mutation.
type Mutation struct {
	ChangeSetID string
	CreatorID   string
}

// SystemMutation returns a fresh change set owned by the system creator.
func SystemMutation() Mutation {
	return Mutation{ChangeSetID: uuid.NewString(), CreatorID: SystemCreator}
}

// Normalize fills a missing change-set id and creator.
func (m Mutation) Normalize() Mutation {
	if m.ChangeSetID == "" {
		m.ChangeSetID = uuid.NewString()
	}
	if m.CreatorID == "" {
		m.CreatorID = SystemCreator
	}
	return m
}

// Entry starts a change entry for a shift under this mutation.
func (m Mutation) Entry(shiftID int64, reason Reason) Entry {
	return Entry{ChangeSetID: m.ChangeSetID, ShiftID: shiftID, Reason: reason, CreatorID: m.CreatorID}
}

// =============================================================================
// RECORDER
// =============================================================================

// Entry is one diff to record.
type Entry struct {
	ChangeSetID string
	ShiftID     int64
	Reason      Reason
	OldValue    *string
	NewValue    *string
	CreatorID   string
	HoursID     *int64
	EventID     *int64
}

// Values sets the before and after values.
func (e Entry) Values(oldValue, newValue *string) Entry {
	e.OldValue, e.NewValue = oldValue, newValue
	return e
}

// Recorder appends diffs within the caller's transaction.
type Recorder struct {
	Now func() time.Time
}

// NewRecorder creates a recorder. A nil clock uses time.Now.
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{Now: now}
}

// Record appends one change, opening the (set, shift) pair on first use.
func (r *Recorder) Record(ctx context.Context, s Store, e Entry) error {
	if e.ChangeSetID == "" {
		return Invalid("changeSetId", "required")
	}
	now := r.Now().UTC()

	_, err := s.GetChangeSet(ctx, e.ChangeSetID, e.ShiftID)
	switch {
	case IsNotFound(err):
		if err := s.InsertChangeSet(ctx, ChangeSet{
			ID:          e.ChangeSetID,
			WorkShiftID: e.ShiftID,
			CreatorID:   e.CreatorID,
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("open change set: %w", err)
		}
	case err != nil:
		return fmt.Errorf("load change set: %w", err)
	}

	c := Change{
		ChangeSetID:      e.ChangeSetID,
		WorkShiftID:      e.ShiftID,
		WorkShiftHoursID: e.HoursID,
		WorkEventID:      e.EventID,
		Reason:           e.Reason,
		OldValue:         e.OldValue,
		NewValue:         e.NewValue,
		CreatorID:        e.CreatorID,
		CreatedAt:        now,
	}
	if err := s.InsertChange(ctx, &c); err != nil {
		return fmt.Errorf("record %s: %w", e.Reason, err)
	}
	return nil
}

// RecordIfChanged records the diff only when old and new differ.
func (r *Recorder) RecordIfChanged(ctx context.Context, s Store, e Entry) error {
	if equalValues(e.OldValue, e.NewValue) {
		return nil
	}
	return r.Record(ctx, s, e)
}

// GroupChanges joins sets with their changes, ordered by set creation time.
func GroupChanges(sets []ChangeSet, changes []Change) []ChangeSetWithChanges {
	type setKey struct {
		id    string
		shift int64
	}
	index := make(map[setKey]int, len(sets))
	out := make([]ChangeSetWithChanges, 0, len(sets))
	for _, cs := range sets {
		index[setKey{cs.ID, cs.WorkShiftID}] = len(out)
		out = append(out, ChangeSetWithChanges{ChangeSet: cs})
	}
	for _, c := range changes {
		if i, ok := index[setKey{c.ChangeSetID, c.WorkShiftID}]; ok {
			out[i].Changes = append(out[i].Changes, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// =============================================================================
// VALUE FORMATTING - Audit values are stored as strings
// =============================================================================

func equalValues(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// TimeValue formats a timestamp for the audit log.
func TimeValue(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return StringPtr(t.UTC().Format(time.RFC3339))
}

// BoolValue formats a flag for the audit log.
func BoolValue(b bool) *string { return StringPtr(strconv.FormatBool(b)) }

// IDValue formats a record id for the audit log.
func IDValue(id *int64) *string {
	if id == nil {
		return nil
	}
	return StringPtr(strconv.FormatInt(*id, 10))
}

// DecimalValue formats an hour quantity for the audit log.
func DecimalValue(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	return StringPtr(d.String())
}

// TextValue copies an optional string for the audit log.
func TextValue[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	return StringPtr(string(*v))
}
