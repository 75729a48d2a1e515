package rbac

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestDefaultTableMenusAreConsistent(t *testing.T) {
	mismatches := DefaultTable().Audit()
	assert.Empty(t, mismatches, "every menu entry must target a viewable module")
}

func TestDefaultTableCoversEveryRole(t *testing.T) {
	table := DefaultTable()
	assert.Equal(t, AllRoles(), table.Roles())
	for _, role := range AllRoles() {
		assert.NotEmpty(t, table.MenuFor(role), role)
	}
}

func TestAuditReportsForbiddenMenuEntry(t *testing.T) {
	table := NewTable(
		map[Role]map[Module]Permission{
			RoleDriver: {ModuleDeliveries: Actions{ActionView: true}, ModuleLogs: Grant(false)},
		},
		map[Role][]MenuEntry{
			RoleDriver: {
				{Path: "/dashboard", Label: "Dashboard"},
				{Path: "/deliveries", Label: "Deliveries", Module: ModuleDeliveries},
				{Path: "/logs", Label: "Logs", Module: ModuleLogs},
				{Path: "/products", Label: "Products", Module: ModuleProducts},
			},
			Role("auditor"): {
				{Path: "/reports", Label: "Reports", Module: ModuleReports},
			},
		},
	)

	want := []Mismatch{
		{Role: RoleDriver, Path: "/logs", Module: ModuleLogs},
		{Role: RoleDriver, Path: "/products", Module: ModuleProducts},
		{Role: Role("auditor"), Path: "/reports", Module: ModuleReports},
	}
	if diff := cmp.Diff(want, table.Audit()); diff != "" {
		t.Fatalf("audit mismatch (-want +got):\n%s", diff)
	}
}

func TestMatrixListsImplicitDenials(t *testing.T) {
	matrix := DefaultTable().Matrix()
	assert.Empty(t, matrix[RoleDriver][ModuleProducts])
	assert.Equal(t, []Action{ActionView, ActionEdit}, matrix[RoleDriver][ModuleDeliveries])
	assert.Equal(t, ActionsOf(ModuleLogs), matrix[RoleAdmin][ModuleLogs])
}
