package directory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/worktime-engine/directory"
	"github.com/warp/worktime-engine/worktime"
)

func TestProfileOf(t *testing.T) {
	policy := worktime.NewPolicy(time.UTC)

	tests := []struct {
		name        string
		user        directory.User
		wantType    directory.EmployeeType
		wantRegular string
		hasRegular  bool
	}{
		{
			name:        "driver role without type falls back to policy hours",
			user:        directory.User{ID: "d", Roles: []string{directory.RoleDriver}},
			wantType:    directory.EmployeeDriver,
			wantRegular: "80",
			hasRegular:  true,
		},
		{
			name:     "plain employee is office without regular hours",
			user:     directory.User{ID: "e", Roles: []string{directory.RoleEmployee}},
			wantType: directory.EmployeeOffice,
		},
		{
			name: "explicit type and hours",
			user: directory.User{ID: "t", Attributes: map[string][]string{
				directory.AttrEmployeeType:        {"terminal"},
				directory.AttrRegularWorkingHours: {"72.5"},
			}},
			wantType:    directory.EmployeeTerminal,
			wantRegular: "72.5",
			hasRegular:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := directory.ProfileOf(tt.user)
			require.NoError(t, err)

			assert.Equal(t, tt.wantType, p.EmployeeType)
			hours, ok := p.RegularHours(policy)
			assert.Equal(t, tt.hasRegular, ok)
			if ok {
				assert.Equal(t, tt.wantRegular, hours.String())
			}
		})
	}
}

func TestProfileOf_InvalidAttributes(t *testing.T) {
	_, err := directory.ProfileOf(directory.User{Attributes: map[string][]string{
		directory.AttrEmployeeType: {"PILOT"},
	}})
	assert.ErrorIs(t, err, worktime.ErrValidation)

	_, err = directory.ProfileOf(directory.User{Attributes: map[string][]string{
		directory.AttrRegularWorkingHours: {"-1"},
	}})
	assert.ErrorIs(t, err, worktime.ErrValidation)
}

func TestProfileOf_ReadsBag(t *testing.T) {
	p, err := directory.ProfileOf(directory.User{
		ID: "emp-1", FirstName: "Jane", LastName: "Doe",
		Attributes: map[string][]string{
			directory.AttrEmployeeNumber:    {"E100"},
			directory.AttrDefaultCostCenter: {"HQ"},
			directory.AttrSalaryGroup:       {"A2"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", p.FullName)
	assert.Equal(t, "E100", p.EmployeeNumber)
	assert.Equal(t, "A2", p.SalaryGroup)
	require.NotNil(t, p.DefaultCostCenter)
	assert.Equal(t, "HQ", *p.DefaultCostCenter)
}

func TestMemory_ListUsersByRolePages(t *testing.T) {
	// GIVEN: Three drivers and an office worker
	dir := directory.NewMemory(
		directory.User{ID: "1", Username: "carl", Roles: []string{directory.RoleDriver}},
		directory.User{ID: "2", Username: "anna", Roles: []string{directory.RoleDriver}},
		directory.User{ID: "3", Username: "bert", Roles: []string{directory.RoleDriver}},
		directory.User{ID: "4", Username: "dora", Roles: []string{directory.RoleEmployee}},
	)
	ctx := context.Background()

	// WHEN: Paging drivers two at a time
	first, err := dir.ListUsersByRole(ctx, directory.RoleDriver, 0, 2)
	require.NoError(t, err)
	second, err := dir.ListUsersByRole(ctx, directory.RoleDriver, 1, 2)
	require.NoError(t, err)
	beyond, err := dir.ListUsersByRole(ctx, directory.RoleDriver, 5, 2)
	require.NoError(t, err)

	// THEN: Pages are ordered by username
	require.Len(t, first, 2)
	assert.Equal(t, "anna", first[0].Username)
	assert.Equal(t, "bert", first[1].Username)
	require.Len(t, second, 1)
	assert.Equal(t, "carl", second[0].Username)
	assert.Empty(t, beyond)

	_, err = dir.ListUsersByRole(ctx, "", -1, 2)
	assert.ErrorIs(t, err, worktime.ErrValidation)
}

func TestMemory_CreateAndSetAttributes(t *testing.T) {
	dir := directory.NewMemory()
	ctx := context.Background()

	u, err := dir.CreateUser(ctx, directory.User{Username: "max", Attributes: map[string][]string{
		directory.AttrOffice: {"Turku"},
	}})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	_, err = dir.CreateUser(ctx, directory.User{Username: "max"})
	assert.ErrorIs(t, err, worktime.ErrValidation)

	u, err = dir.SetAttributes(ctx, u.ID, map[string][]string{
		directory.AttrOffice:         {},
		directory.AttrEmployeeNumber: {"D7"},
	})
	require.NoError(t, err)
	assert.Equal(t, "", u.Attribute(directory.AttrOffice))
	assert.Equal(t, "D7", u.Attribute(directory.AttrEmployeeNumber))

	_, err = dir.SetAttributes(ctx, "ghost", map[string][]string{directory.AttrOffice: {"x"}})
	assert.ErrorIs(t, err, worktime.ErrNotFound)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	dir := directory.NewMemory(directory.User{ID: "1", Username: "anna", Roles: []string{directory.RoleDriver}})
	ctx := context.Background()

	u, err := dir.FindUser(ctx, "1")
	require.NoError(t, err)
	u.Roles[0] = directory.RoleManager

	again, err := dir.FindUser(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []string{directory.RoleDriver}, again.Roles)
}
