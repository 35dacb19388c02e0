package worktime

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COST CENTER HOURS - Insertion-ordered map of cost center to hours
// =============================================================================

// CostCenterAmount is one entry of a CostCenterHours map.
type CostCenterAmount struct {
	CostCenter string
	Hours      decimal.Decimal
}

// CostCenterHours apportions hours to cost centers. Entries keep the order
// in which each cost center was first seen; reconciliation depends on it.
type CostCenterHours []CostCenterAmount

// Add adds hours to a cost center, appending it when first seen.
func (c *CostCenterHours) Add(costCenter string, hours decimal.Decimal) {
	for i := range *c {
		if (*c)[i].CostCenter == costCenter {
			(*c)[i].Hours = (*c)[i].Hours.Add(hours)
			return
		}
	}
	*c = append(*c, CostCenterAmount{CostCenter: costCenter, Hours: hours})
}

// Get returns the hours of a cost center, zero when absent.
func (c CostCenterHours) Get(costCenter string) decimal.Decimal {
	for _, e := range c {
		if e.CostCenter == costCenter {
			return e.Hours
		}
	}
	return decimal.Zero
}

// Sum returns the total over all cost centers.
func (c CostCenterHours) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, e := range c {
		total = total.Add(e.Hours)
	}
	return total
}

// Clone returns an independent copy.
func (c CostCenterHours) Clone() CostCenterHours {
	if c == nil {
		return nil
	}
	out := make(CostCenterHours, len(c))
	copy(out, c)
	return out
}

// Equal compares entries, order included.
func (c CostCenterHours) Equal(other CostCenterHours) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i].CostCenter != other[i].CostCenter || !c[i].Hours.Equal(other[i].Hours) {
			return false
		}
	}
	return true
}

// Totals is the aggregation result for one work type.
type Totals struct {
	Total         decimal.Decimal
	PerCostCenter CostCenterHours
}

// ShiftTotals maps each work type to its totals for one shift.
type ShiftTotals map[WorkType]Totals

// Get returns the totals for a work type, zero when absent.
func (s ShiftTotals) Get(wt WorkType) Totals {
	if t, ok := s[wt]; ok {
		return t
	}
	return Totals{Total: decimal.Zero}
}

// Add adds hours of a work type to a cost center.
func (s ShiftTotals) Add(wt WorkType, costCenter string, hours decimal.Decimal) {
	t := s.Get(wt)
	t.PerCostCenter = t.PerCostCenter.Clone()
	t.PerCostCenter.Add(costCenter, hours)
	t.Total = t.Total.Add(hours)
	s[wt] = t
}

// Set replaces the totals of a work type.
func (s ShiftTotals) Set(wt WorkType, per CostCenterHours) {
	s[wt] = Totals{Total: per.Sum(), PerCostCenter: per}
}

// =============================================================================
// DURATION ACCUMULATOR - Exact per-cost-center sums before hour conversion
// =============================================================================

type durationEntry struct {
	costCenter string
	d          time.Duration
}

type durationBucket []durationEntry

func (b *durationBucket) add(costCenter string, d time.Duration) {
	if d <= 0 {
		return
	}
	for i := range *b {
		if (*b)[i].costCenter == costCenter {
			(*b)[i].d += d
			return
		}
	}
	*b = append(*b, durationEntry{costCenter: costCenter, d: d})
}

func (b durationBucket) totals() Totals {
	per := make(CostCenterHours, 0, len(b))
	var sum time.Duration
	for _, e := range b {
		per = append(per, CostCenterAmount{CostCenter: e.costCenter, Hours: HoursOf(e.d)})
		sum += e.d
	}
	return Totals{Total: HoursOf(sum), PerCostCenter: per}
}
