/*
Package directory is the contract to the external identity directory.

PURPOSE:
  Users, their roles and a schema-less attribute bag live in an external
  directory service. The calculators never read the bag directly: Profile
  is the typed view they consume.

ATTRIBUTES READ:
  employeeType         DRIVER | OFFICE | TERMINAL
  employeeNumber       payroll employee number (CSV column 2)
  salaryGroup          free text
  office               free text
  regularWorkingHours  decimal hours per salary period
  defaultCostCenter    cost center for absences and overrides

SEE ALSO:
  - memory.go: In-process directory for development and tests
*/
package directory

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/worktime-engine/worktime"
)

// Attribute keys of the profile bag.
const (
	AttrEmployeeType        = "employeeType"
	AttrEmployeeNumber      = "employeeNumber"
	AttrSalaryGroup         = "salaryGroup"
	AttrOffice              = "office"
	AttrRegularWorkingHours = "regularWorkingHours"
	AttrDefaultCostCenter   = "defaultCostCenter"
)

// Roles known to the work-time engine.
const (
	RoleDriver   = "driver"
	RoleEmployee = "employee"
	RoleManager  = "manager"
)

// User is a directory entry.
type User struct {
	ID         string              `json:"id"`
	Username   string              `json:"username"`
	FirstName  string              `json:"firstName"`
	LastName   string              `json:"lastName"`
	Email      string              `json:"email,omitempty"`
	Roles      []string            `json:"roles"`
	Attributes map[string][]string `json:"attributes"`
}

// FullName returns "First Last", trimmed.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Attribute returns the first value of an attribute, or "".
func (u User) Attribute(key string) string {
	if vals := u.Attributes[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// HasRole reports whether the user carries role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Directory is the external identity directory.
type Directory interface {
	FindUser(ctx context.Context, id string) (User, error)
	ListUsersByRole(ctx context.Context, role string, page, size int) ([]User, error)
	CreateUser(ctx context.Context, u User) (User, error)

	// SetAttributes merges attrs into the user's bag; an empty slice
	// removes the key.
	SetAttributes(ctx context.Context, id string, attrs map[string][]string) (User, error)
}

// =============================================================================
// PROFILE - Typed view over the attribute bag
// =============================================================================

// EmployeeType selects the overtime rule set and salary period.
type EmployeeType string

const (
	EmployeeDriver   EmployeeType = "DRIVER"
	EmployeeOffice   EmployeeType = "OFFICE"
	EmployeeTerminal EmployeeType = "TERMINAL"
)

func (t EmployeeType) Valid() bool {
	return t == EmployeeDriver || t == EmployeeOffice || t == EmployeeTerminal
}

// Profile is what the calculators need to know about an employee.
type Profile struct {
	ID                  string
	FullName            string
	EmployeeType        EmployeeType
	EmployeeNumber      string
	SalaryGroup         string
	Office              string
	RegularWorkingHours *decimal.Decimal
	DefaultCostCenter   *string
}

// ProfileOf reads the typed profile from a user's attribute bag.
// Users without an employeeType are drivers when they carry the driver
// role, office workers otherwise.
func ProfileOf(u User) (Profile, error) {
	p := Profile{
		ID:             u.ID,
		FullName:       u.FullName(),
		EmployeeNumber: u.Attribute(AttrEmployeeNumber),
		SalaryGroup:    u.Attribute(AttrSalaryGroup),
		Office:         u.Attribute(AttrOffice),
	}

	switch raw := EmployeeType(strings.ToUpper(u.Attribute(AttrEmployeeType))); {
	case raw == "" && u.HasRole(RoleDriver):
		p.EmployeeType = EmployeeDriver
	case raw == "":
		p.EmployeeType = EmployeeOffice
	case raw.Valid():
		p.EmployeeType = raw
	default:
		return p, worktime.Invalid(AttrEmployeeType, "unknown employee type "+string(raw))
	}

	if raw := u.Attribute(AttrRegularWorkingHours); raw != "" {
		hours, err := decimal.NewFromString(raw)
		if err != nil || hours.IsNegative() {
			return p, worktime.Invalid(AttrRegularWorkingHours, "must be a non-negative number")
		}
		p.RegularWorkingHours = &hours
	}
	if cc := u.Attribute(AttrDefaultCostCenter); cc != "" {
		p.DefaultCostCenter = &cc
	}
	return p, nil
}

// IsDriver reports whether the driver rule set applies.
func (p Profile) IsDriver() bool { return p.EmployeeType == EmployeeDriver }

// RegularHours returns the contractual regular hours per salary period.
// Drivers fall back to the policy default; others have none unless
// configured.
func (p Profile) RegularHours(policy worktime.Policy) (decimal.Decimal, bool) {
	if p.RegularWorkingHours != nil {
		return *p.RegularWorkingHours, true
	}
	if p.IsDriver() {
		return policy.DriverRegularHours, true
	}
	return decimal.Zero, false
}

// ValidateAttributes checks known attribute keys for well-formed values.
func ValidateAttributes(attrs map[string][]string) error {
	for key, vals := range attrs {
		if len(vals) == 0 {
			continue
		}
		switch key {
		case AttrEmployeeType:
			if !EmployeeType(strings.ToUpper(vals[0])).Valid() {
				return worktime.Invalid(key, "unknown employee type "+vals[0])
			}
		case AttrRegularWorkingHours:
			hours, err := decimal.NewFromString(vals[0])
			if err != nil || hours.IsNegative() {
				return worktime.Invalid(key, "must be a non-negative number")
			}
		}
	}
	return nil
}
