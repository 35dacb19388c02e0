package worktime

import "github.com/shopspring/decimal"

// =============================================================================
// MANUAL OVERRIDE RECONCILER
// =============================================================================

// Reconcile merges a manager override into calculated per-cost-center hours.
//
// Rules:
//   - No override: the calculated map is returned unchanged.
//   - Override above the calculated sum: the difference goes to the default
//     cost center.
//   - Override below the calculated sum: the difference is taken from the
//     most recently inserted entries first, zeroing each before moving to
//     the previous one.
//
// The input is never modified.
func Reconcile(calculated Totals, override *decimal.Decimal, defaultCostCenter string) CostCenterHours {
	if override == nil {
		return calculated.PerCostCenter
	}
	return reconcileTo(calculated.PerCostCenter, calculated.PerCostCenter.Sum(), *override, defaultCostCenter)
}

// ReconcileWorkType is Reconcile with the break cap applied: an override
// can raise the BREAK total up to the cap, never beyond it, unless the
// calculated total already exceeds it.
func (p Policy) ReconcileWorkType(wt WorkType, calculated Totals, override *decimal.Decimal, defaultCostCenter string) CostCenterHours {
	if override == nil {
		return calculated.PerCostCenter
	}
	sum := calculated.PerCostCenter.Sum()
	target := *override
	if wt == WorkBreak && target.GreaterThan(sum) {
		target = decimal.Min(target, decimal.Max(sum, p.BreakCapHours()))
	}
	return reconcileTo(calculated.PerCostCenter, sum, target, defaultCostCenter)
}

func reconcileTo(per CostCenterHours, sum, target decimal.Decimal, defaultCostCenter string) CostCenterHours {
	out := per.Clone()
	switch {
	case target.GreaterThan(sum):
		out.Add(defaultCostCenter, target.Sub(sum))
	case target.LessThan(sum):
		remaining := sum.Sub(target)
		for i := len(out) - 1; i >= 0 && remaining.IsPositive(); i-- {
			take := decimal.Min(out[i].Hours, remaining)
			if !take.IsPositive() {
				continue
			}
			out[i].Hours = out[i].Hours.Sub(take)
			remaining = remaining.Sub(take)
		}
	}
	return out
}
