package worktime_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/worktime-engine/worktime"
)

func TestDriverOvertimeTiers(t *testing.T) {
	policy := worktime.NewPolicy(time.UTC)

	tests := []struct {
		name  string
		hours worktime.DriverHours
		half  string
		full  string
	}{
		{"under regular", worktime.DriverHours{Regular: dec("80"), Working: dec("70")}, "0", "0"},
		{"exactly regular", worktime.DriverHours{Regular: dec("80"), Working: dec("74"), Vacation: dec("6")}, "0", "0"},
		{"within limit", worktime.DriverHours{Regular: dec("80"), Working: dec("85")}, "5", "0"},
		{"three eight hour days over an eight hour regular", worktime.DriverHours{Regular: dec("8"), Working: dec("24")}, "12", "4"},
		{"training is not overtime", worktime.DriverHours{Regular: dec("80"), Working: dec("90"), Training: dec("6")}, "4", "0"},
		{"long vacation lowers the limit", worktime.DriverHours{Regular: dec("80"), Working: dec("50"), Vacation: dec("41")}, "10", "1"},
		{"vacation at the trigger keeps the full limit", worktime.DriverHours{Regular: dec("80"), Working: dec("52"), Vacation: dec("40")}, "12", "0"},
		{"compensatory leave counts as paid", worktime.DriverHours{Regular: dec("80"), Working: dec("76"), CompensatoryLeave: dec("8")}, "4", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			half, full := policy.DriverOvertimeTiers(tt.hours)
			assertHours(t, dec(tt.half), half, "half")
			assertHours(t, dec(tt.full), full, "full")
			assertHours(t, half, policy.DriverOvertime(tt.hours, worktime.TierHalf))
			assertHours(t, full, policy.DriverOvertime(tt.hours, worktime.TierFull))
		})
	}
}

func TestOfficeOvertime(t *testing.T) {
	// GIVEN: Shifts of 10, 8 and 11.5 paid hours
	policy := worktime.NewPolicy(time.UTC)
	paid := []decimal.Decimal{dec("10"), dec("8"), dec("11.5")}

	// WHEN: Summing the office tiers
	half := policy.OfficeOvertime(paid, worktime.TierHalf)
	full := policy.OfficeOvertime(paid, worktime.TierFull)

	// THEN: Each shift contributes its own excess over 8h
	assertHours(t, dec("4"), half)
	assertHours(t, dec("1.5"), full)
}

func TestOfficeShiftOvertime_Boundaries(t *testing.T) {
	policy := worktime.NewPolicy(time.UTC)

	half, full := policy.OfficeShiftOvertime(dec("9"))
	assertHours(t, dec("1"), half)
	assertHours(t, dec("0"), full)

	half, full = policy.OfficeShiftOvertime(dec("10"))
	assertHours(t, dec("2"), half)
	assertHours(t, dec("0"), full)

	half, full = policy.OfficeShiftOvertime(dec("7.5"))
	assert.True(t, half.IsZero())
	assert.True(t, full.IsZero())
}

func TestFillingHours(t *testing.T) {
	short := worktime.FillingHours(worktime.FillingInput{
		Regular:  dec("80"),
		Working:  dec("60"),
		Sick:     dec("8"),
		Vacation: dec("6.67"),
	})
	assertHours(t, dec("5.33"), short)

	over := worktime.FillingHours(worktime.FillingInput{
		Regular:      dec("80"),
		Working:      dec("78"),
		OfficialDuty: dec("4"),
	})
	assert.True(t, over.IsZero())
}

func TestTierCursor_DistributesInOrder(t *testing.T) {
	// GIVEN: Eight regular hours and a twelve hour half tier
	cursor := worktime.NewTierCursor(dec("8"), dec("12"))

	// WHEN: Three eight hour shifts are taken in order
	first := cursor.Take(dec("8"))
	second := cursor.Take(dec("8"))
	third := cursor.Take(dec("8"))

	// THEN: Regular fills first, then half, then full
	assertHours(t, dec("8"), first.Regular)
	assert.True(t, first.Half.IsZero())
	assertHours(t, dec("8"), second.Half)
	assertHours(t, dec("4"), third.Half)
	assertHours(t, dec("4"), third.Full)
}

func TestTierCursor_NegativeRegularIsZero(t *testing.T) {
	cursor := worktime.NewTierCursor(dec("-3"), dec("1"))

	split := cursor.Take(dec("2"))

	assert.True(t, split.Regular.IsZero())
	assertHours(t, dec("1"), split.Half)
	assertHours(t, dec("1"), split.Full)
}
