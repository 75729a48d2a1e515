package rbac

import (
	"slices"
	"sync"
)

// Table is an immutable role policy. Use DefaultTable for the console's own policy
// or NewTable to build one, e.g. in tests.
type Table struct {
	policies map[Role]map[Module]Permission
	menus    map[Role][]MenuEntry
}

// NewTable copies the supplied policy and menus into an immutable Table.
func NewTable(policies map[Role]map[Module]Permission, menus map[Role][]MenuEntry) *Table {
	t := &Table{
		policies: make(map[Role]map[Module]Permission, len(policies)),
		menus:    make(map[Role][]MenuEntry, len(menus)),
	}
	for role, modules := range policies {
		copied := make(map[Module]Permission, len(modules))
		for module, perm := range modules {
			if actions, ok := perm.(Actions); ok {
				clone := make(Actions, len(actions))
				for a, v := range actions {
					clone[a] = v
				}
				perm = clone
			}
			copied[module] = perm
		}
		t.policies[role] = copied
	}
	for role, entries := range menus {
		t.menus[role] = append([]MenuEntry(nil), entries...)
	}
	return t
}

// EntryFor returns the permission declared for role on module.
func (t *Table) EntryFor(role Role, module Module) (Permission, bool) {
	if t == nil {
		return nil, false
	}
	modules, ok := t.policies[role]
	if !ok {
		return nil, false
	}
	perm, ok := modules[module]
	if !ok || perm == nil {
		return nil, false
	}
	return perm, true
}

// MenuFor returns a copy of the navigation menu for role, empty for unknown roles.
func (t *Table) MenuFor(role Role) []MenuEntry {
	if t == nil {
		return nil
	}
	return append([]MenuEntry(nil), t.menus[role]...)
}

// Roles lists the roles declared in the table, known roles first.
func (t *Table) Roles() []Role {
	if t == nil {
		return nil
	}
	keys := make([]Role, 0, len(t.policies))
	for r := range t.policies {
		keys = append(keys, r)
	}
	return orderRoles(keys)
}

func orderRoles(keys []Role) []Role {
	present := make(map[Role]struct{}, len(keys))
	for _, r := range keys {
		present[r] = struct{}{}
	}
	out := make([]Role, 0, len(keys))
	for _, r := range AllRoles() {
		if _, ok := present[r]; ok {
			out = append(out, r)
			delete(present, r)
		}
	}
	extra := make([]Role, 0, len(present))
	for r := range present {
		extra = append(extra, r)
	}
	slices.Sort(extra)
	return append(out, extra...)
}

// ActionsOf lists the actions the console exposes for module.
func ActionsOf(module Module) []Action {
	return append([]Action(nil), moduleActions[module]...)
}

// AllModules lists every module in menu order.
func AllModules() []Module {
	return []Module{
		ModuleClients, ModuleProducts, ModuleOrders, ModuleSales, ModuleDeliveries,
		ModuleReports, ModuleLogs, ModuleSettings, ModuleUsers,
	}
}

// AllRoles lists every role known to the console.
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleSeller, RoleStockManager, RoleDriver}
}

var moduleActions = map[Module][]Action{
	ModuleClients:    {ActionView, ActionCreate, ActionEdit, ActionDelete},
	ModuleProducts:   {ActionView, ActionCreate, ActionEdit, ActionDelete},
	ModuleOrders:     {ActionView, ActionCreate, ActionEdit, ActionDelete, ActionValidate},
	ModuleSales:      {ActionView, ActionCreate, ActionExport},
	ModuleDeliveries: {ActionView, ActionCreate, ActionEdit, ActionAssign},
	ModuleReports:    {ActionView, ActionExport},
	ModuleLogs:       {ActionView, ActionExport, ActionClear},
	ModuleSettings:   {ActionView, ActionEdit},
	ModuleUsers:      {ActionView, ActionCreate, ActionEdit, ActionDelete},
}

var defaultTable = sync.OnceValue(func() *Table {
	return NewTable(defaultPolicies, defaultMenus)
})

// DefaultTable returns the console's policy.
func DefaultTable() *Table {
	return defaultTable()
}

var defaultPolicies = map[Role]map[Module]Permission{
	RoleAdmin: {
		ModuleClients:    Grant(true),
		ModuleProducts:   Grant(true),
		ModuleOrders:     Grant(true),
		ModuleSales:      Grant(true),
		ModuleDeliveries: Grant(true),
		ModuleReports:    Grant(true),
		ModuleLogs:       Grant(true),
		ModuleSettings:   Grant(true),
		ModuleUsers:      Grant(true),
	},
	RoleSeller: {
		ModuleClients:    Actions{ActionView: true, ActionCreate: true, ActionEdit: true, ActionDelete: false},
		ModuleProducts:   Actions{ActionView: true},
		ModuleOrders:     Actions{ActionView: true, ActionCreate: true, ActionEdit: true, ActionDelete: false, ActionValidate: false},
		ModuleSales:      Actions{ActionView: true, ActionCreate: true, ActionExport: false},
		ModuleDeliveries: Actions{ActionView: true},
		ModuleReports:    Grant(false),
		ModuleLogs:       Grant(false),
		ModuleSettings:   Grant(false),
		ModuleUsers:      Grant(false),
	},
	RoleStockManager: {
		ModuleClients:    Actions{ActionView: true},
		ModuleProducts:   Actions{ActionView: true, ActionCreate: true, ActionEdit: true, ActionDelete: true},
		ModuleOrders:     Actions{ActionView: true, ActionValidate: true},
		ModuleSales:      Actions{ActionView: true},
		ModuleDeliveries: Actions{ActionView: true, ActionCreate: true, ActionEdit: true, ActionAssign: true},
		ModuleReports:    Actions{ActionView: true, ActionExport: true},
		ModuleLogs:       Grant(false),
		ModuleSettings:   Grant(false),
		ModuleUsers:      Grant(false),
	},
	RoleDriver: {
		ModuleClients:    Actions{ActionView: true},
		ModuleOrders:     Actions{ActionView: true},
		ModuleDeliveries: Actions{ActionView: true, ActionEdit: true},
	},
}

var defaultMenus = map[Role][]MenuEntry{
	RoleAdmin: {
		{Path: "/dashboard", Label: "Dashboard", Icon: "layout-dashboard"},
		{Path: "/clients", Label: "Clients", Icon: "users", Module: ModuleClients},
		{Path: "/products", Label: "Products", Icon: "package", Module: ModuleProducts},
		{Path: "/orders", Label: "Orders", Icon: "shopping-cart", Module: ModuleOrders},
		{Path: "/sales", Label: "Sales", Icon: "receipt", Module: ModuleSales},
		{Path: "/deliveries", Label: "Deliveries", Icon: "truck", Module: ModuleDeliveries},
		{Path: "/reports", Label: "Reports", Icon: "bar-chart", Module: ModuleReports},
		{Path: "/logs", Label: "Logs", Icon: "file-text", Module: ModuleLogs},
		{Path: "/users", Label: "Users", Icon: "user-cog", Module: ModuleUsers},
		{Path: "/notifications", Label: "Notifications", Icon: "bell"},
		{Path: "/settings", Label: "Settings", Icon: "settings", Module: ModuleSettings},
	},
	RoleSeller: {
		{Path: "/dashboard", Label: "Dashboard", Icon: "layout-dashboard"},
		{Path: "/clients", Label: "Clients", Icon: "users", Module: ModuleClients},
		{Path: "/products", Label: "Products", Icon: "package", Module: ModuleProducts},
		{Path: "/orders", Label: "Orders", Icon: "shopping-cart", Module: ModuleOrders},
		{Path: "/sales", Label: "Sales", Icon: "receipt", Module: ModuleSales},
		{Path: "/deliveries", Label: "Deliveries", Icon: "truck", Module: ModuleDeliveries},
		{Path: "/notifications", Label: "Notifications", Icon: "bell"},
	},
	RoleStockManager: {
		{Path: "/dashboard", Label: "Dashboard", Icon: "layout-dashboard"},
		{Path: "/products", Label: "Products", Icon: "package", Module: ModuleProducts},
		{Path: "/orders", Label: "Orders", Icon: "shopping-cart", Module: ModuleOrders},
		{Path: "/deliveries", Label: "Deliveries", Icon: "truck", Module: ModuleDeliveries},
		{Path: "/clients", Label: "Clients", Icon: "users", Module: ModuleClients},
		{Path: "/reports", Label: "Reports", Icon: "bar-chart", Module: ModuleReports},
		{Path: "/notifications", Label: "Notifications", Icon: "bell"},
	},
	RoleDriver: {
		{Path: "/dashboard", Label: "Dashboard", Icon: "layout-dashboard"},
		{Path: "/deliveries", Label: "My deliveries", Icon: "truck", Module: ModuleDeliveries},
		{Path: "/clients", Label: "Clients", Icon: "users", Module: ModuleClients},
		{Path: "/notifications", Label: "Notifications", Icon: "bell"},
	},
}
