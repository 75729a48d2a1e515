// Package rbac declares the console's role policy: which modules and actions each
// role may use, and which navigation entries each role sees.
package rbac

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role is the fixed category assigned to a user.
type Role string

// Roles known to the console.
const (
	RoleAdmin        Role = "admin"
	RoleSeller       Role = "seller"
	RoleStockManager Role = "stock-manager"
	RoleDriver       Role = "driver"
)

// Module is a top-level functional area and the unit of permission granularity.
type Module string

// Modules guarded by the console.
const (
	ModuleClients    Module = "clients"
	ModuleProducts   Module = "products"
	ModuleOrders     Module = "orders"
	ModuleSales      Module = "sales"
	ModuleDeliveries Module = "deliveries"
	ModuleReports    Module = "reports"
	ModuleLogs       Module = "logs"
	ModuleSettings   Module = "settings"
	ModuleUsers      Module = "users"
)

// Action is an operation within a module.
type Action string

// Actions understood by the evaluator.
const (
	ActionView     Action = "view"
	ActionCreate   Action = "create"
	ActionEdit     Action = "edit"
	ActionDelete   Action = "delete"
	ActionValidate Action = "validate"
	ActionAssign   Action = "assign"
	ActionExport   Action = "export"
	ActionClear    Action = "clear"
)

var titleCaser = cases.Title(language.English)

// DisplayName renders a role for humans, e.g. "Stock Manager".
func (r Role) DisplayName() string {
	return titleCaser.String(strings.ReplaceAll(string(r), "-", " "))
}

// Title renders the module name for page headings.
func (m Module) Title() string {
	return titleCaser.String(string(m))
}

// Title renders the action name for buttons.
func (a Action) Title() string {
	return titleCaser.String(string(a))
}

// Permission is the policy a role holds on one module. It is either a Grant or an
// Actions map; the unexported marker keeps the set closed.
type Permission interface {
	permission()
}

// Grant is module-level all-or-nothing access. The requested action is ignored.
type Grant bool

// Actions maps action names to their allowance. Missing actions are denied.
type Actions map[Action]bool

func (Grant) permission()   {}
func (Actions) permission() {}

// MenuEntry is one navigation item. Module is empty for entries that every
// authenticated user may open.
type MenuEntry struct {
	Path   string `yaml:"path" json:"path"`
	Label  string `yaml:"label" json:"label"`
	Icon   string `yaml:"icon" json:"icon"`
	Module Module `yaml:"module,omitempty" json:"module,omitempty"`
}

// Subject is anything that carries a role. Implementations must tolerate being
// called on a nil pointer receiver.
type Subject interface {
	AccessRole() Role
}
