package payroll

import (
	"bytes"
	"encoding/csv"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/worktime-engine/directory"
	"github.com/warp/worktime-engine/worktime"
)

// =============================================================================
// ACCOUNT CODES
// =============================================================================

var accountCodes = map[worktime.WorkType]string{
	worktime.WorkPaid:              "11000",
	worktime.WorkEveningAllowance:  "11100",
	worktime.WorkNightAllowance:    "11110",
	worktime.WorkSaturdayAllowance: "11120",
	worktime.WorkSundayAllowance:   "11130",
	worktime.WorkDayOffBonus:       "11140",
	worktime.WorkFillingHours:      "11200",
	worktime.WorkTraining:          "11300",
	worktime.WorkStandby:           "11310",
	worktime.WorkOfficialDuty:      "11320",
	worktime.WorkSickLeave:         "12000",
	worktime.WorkVacation:          "13000",
	worktime.WorkCompensatoryLeave: "13010",
	worktime.WorkPerDiemFull:       "14000",
	worktime.WorkPerDiemPartial:    "14010",
	worktime.WorkMealAllowance:     "14020",
}

// AccountCode maps a work type to its payroll account. Overtime tiers
// have separate accounts for drivers and office/terminal staff. BREAK
// has no account.
func AccountCode(wt worktime.WorkType, driver bool) (string, bool) {
	switch wt {
	case worktime.WorkOvertimeHalf:
		if driver {
			return "11010", true
		}
		return "11030", true
	case worktime.WorkOvertimeFull:
		if driver {
			return "11020", true
		}
		return "11040", true
	}
	code, ok := accountCodes[wt]
	return code, ok
}

// =============================================================================
// ROWS
// =============================================================================

// Row is one line of a payroll file.
type Row struct {
	Date           time.Time
	EmployeeNumber string
	FullName       string
	AccountCode    string
	Hours          decimal.Decimal
	CostCenter     string
}

type rowKey struct {
	code string
	cc   string
}

// Build returns the rows of the given shifts: one per (date, account,
// cost center), ordered by date, then account in work type order, then
// cost center in first-seen order. Hours that round to 0.00 are left out.
func Build(profile directory.Profile, shifts []ShiftResult) []Row {
	ordered := make([]ShiftResult, len(shifts))
	copy(ordered, shifts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Shift.Date.Before(ordered[j].Shift.Date)
	})

	var rows []Row
	for start := 0; start < len(ordered); {
		date := ordered[start].Shift.Date
		end := start
		for end < len(ordered) && ordered[end].Shift.Date.Equal(date) {
			end++
		}
		rows = append(rows, buildDay(profile, date, ordered[start:end])...)
		start = end
	}
	return rows
}

func buildDay(profile directory.Profile, date time.Time, shifts []ShiftResult) []Row {
	var (
		keys  []rowKey
		hours = make(map[rowKey]decimal.Decimal)
	)
	for _, wt := range worktime.AllWorkTypes {
		code, ok := AccountCode(wt, profile.IsDriver())
		if !ok {
			continue
		}
		for _, s := range shifts {
			for _, a := range s.Final.Get(wt).PerCostCenter {
				k := rowKey{code: code, cc: a.CostCenter}
				if _, seen := hours[k]; !seen {
					keys = append(keys, k)
					hours[k] = decimal.Zero
				}
				hours[k] = hours[k].Add(a.Hours)
			}
		}
	}

	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		h := hours[k].Round(2)
		if h.IsZero() {
			continue
		}
		rows = append(rows, Row{
			Date:           date,
			EmployeeNumber: profile.EmployeeNumber,
			FullName:       profile.FullName,
			AccountCode:    k.code,
			Hours:          h,
			CostCenter:     k.cc,
		})
	}
	return rows
}

// =============================================================================
// CSV
// =============================================================================

// Render writes rows in the payroll import format:
//
//	date;employeeNumber;fullName;accountCode;hours;;costCenter;;;
func Render(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'
	for _, r := range rows {
		record := []string{
			r.Date.Format("2006-01-02"),
			r.EmployeeNumber,
			r.FullName,
			r.AccountCode,
			r.Hours.StringFixed(2),
			"",
			r.CostCenter,
			"",
			"",
			"",
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
