/*
overtime.go - Contractual overtime tiers and shortfall top-up

PURPOSE:
  Applies the two fixed overtime rule sets on top of aggregated hours.

DRIVER RULE (whole salary period):
  limit     = 10h if vacation > 40h else 12h
  paidWork  = (working - training) + vacation + compensatoryLeave
  paidWork <= regular                   -> half 0, full 0
  regular < paidWork <= regular + limit -> half = excess, full 0
  paidWork > regular + limit            -> half = limit, full = rest

OFFICE / TERMINAL RULE (per shift):
  above 8h PAID_WORK: first 2h half tier, the rest full tier; summed over
  the shifts of the period.

FILLING HOURS:
  max(0, regular - (working + sick + officialDuty) - (vacation + compLeave)),
  only when a contractual regular figure exists for the employee.
*/
package worktime

import "github.com/shopspring/decimal"

// OvertimeTier selects the half-rate or full-rate overtime bucket.
type OvertimeTier string

const (
	TierHalf OvertimeTier = "half"
	TierFull OvertimeTier = "full"
)

// DriverHours are the period totals the driver rule works on.
type DriverHours struct {
	Regular           decimal.Decimal
	Working           decimal.Decimal
	Training          decimal.Decimal
	Vacation          decimal.Decimal
	CompensatoryLeave decimal.Decimal
}

// PaidWork returns the hours the driver rule compares against Regular.
func (h DriverHours) PaidWork() decimal.Decimal {
	return h.Working.Sub(h.Training).Add(h.Vacation).Add(h.CompensatoryLeave)
}

// DriverOvertimeLimit returns the half-tier ceiling for the period.
func (p Policy) DriverOvertimeLimit(vacation decimal.Decimal) decimal.Decimal {
	if vacation.GreaterThan(p.DriverVacationLimitTrigger) {
		return p.DriverOvertimeReducedLimit
	}
	return p.DriverOvertimeFullLimit
}

// DriverOvertimeTiers returns both tiers of the driver rule.
func (p Policy) DriverOvertimeTiers(h DriverHours) (half, full decimal.Decimal) {
	limit := p.DriverOvertimeLimit(h.Vacation)
	paid := h.PaidWork()

	switch {
	case paid.LessThanOrEqual(h.Regular):
		return decimal.Zero, decimal.Zero
	case paid.LessThanOrEqual(h.Regular.Add(limit)):
		return paid.Sub(h.Regular), decimal.Zero
	default:
		return limit, paid.Sub(h.Regular).Sub(limit)
	}
}

// DriverOvertime returns one tier of the driver rule.
func (p Policy) DriverOvertime(h DriverHours, tier OvertimeTier) decimal.Decimal {
	half, full := p.DriverOvertimeTiers(h)
	if tier == TierFull {
		return full
	}
	return half
}

// OfficeShiftOvertime splits one shift's PAID_WORK excess into tiers.
func (p Policy) OfficeShiftOvertime(paid decimal.Decimal) (half, full decimal.Decimal) {
	excess := paid.Sub(p.OfficeDailyThreshold)
	if !excess.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	if excess.LessThanOrEqual(p.OfficeHalfTierLimit) {
		return excess, decimal.Zero
	}
	return p.OfficeHalfTierLimit, excess.Sub(p.OfficeHalfTierLimit)
}

// OfficeOvertime sums one tier of the office rule over the shifts' PAID_WORK.
func (p Policy) OfficeOvertime(paidPerShift []decimal.Decimal, tier OvertimeTier) decimal.Decimal {
	total := decimal.Zero
	for _, paid := range paidPerShift {
		half, full := p.OfficeShiftOvertime(paid)
		if tier == TierFull {
			total = total.Add(full)
		} else {
			total = total.Add(half)
		}
	}
	return total
}

// FillingInput are the period totals the shortfall top-up works on.
type FillingInput struct {
	Regular           decimal.Decimal
	Working           decimal.Decimal
	Sick              decimal.Decimal
	OfficialDuty      decimal.Decimal
	Vacation          decimal.Decimal
	CompensatoryLeave decimal.Decimal
}

// FillingHours returns the shortfall against the contractual regular hours.
func FillingHours(in FillingInput) decimal.Decimal {
	short := in.Regular.
		Sub(in.Working.Add(in.Sick).Add(in.OfficialDuty)).
		Sub(in.Vacation.Add(in.CompensatoryLeave))
	if short.IsNegative() {
		return decimal.Zero
	}
	return short
}

// =============================================================================
// DISTRIBUTION - Laying period tiers onto ordered hours
// =============================================================================

// TierSplit is how one ordered slice of hours divides into tiers.
type TierSplit struct {
	Regular decimal.Decimal
	Half    decimal.Decimal
	Full    decimal.Decimal
}

// TierCursor walks ordered hours, assigning the first regular hours to the
// regular bucket, the next half hours to the half tier and the remainder
// to the full tier.
type TierCursor struct {
	regularLeft decimal.Decimal
	halfLeft    decimal.Decimal
}

// NewTierCursor starts a distribution with the given regular and half budgets.
func NewTierCursor(regular, half decimal.Decimal) *TierCursor {
	if regular.IsNegative() {
		regular = decimal.Zero
	}
	return &TierCursor{regularLeft: regular, halfLeft: half}
}

// Take consumes hours and reports how they split.
func (c *TierCursor) Take(hours decimal.Decimal) TierSplit {
	var split TierSplit
	split.Regular = decimal.Min(hours, c.regularLeft)
	c.regularLeft = c.regularLeft.Sub(split.Regular)
	rest := hours.Sub(split.Regular)

	split.Half = decimal.Min(rest, c.halfLeft)
	c.halfLeft = c.halfLeft.Sub(split.Half)
	split.Full = rest.Sub(split.Half)
	return split
}
