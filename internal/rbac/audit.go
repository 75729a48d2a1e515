package rbac

import "fmt"

// Mismatch is a menu entry that leads to a module its role cannot view.
type Mismatch struct {
	Role   Role   `yaml:"role" json:"role"`
	Path   string `yaml:"path" json:"path"`
	Module Module `yaml:"module" json:"module"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("role %s: menu entry %s targets module %s without view permission", m.Role, m.Path, m.Module)
}

// Audit lists every navigable-but-forbidden menu entry. Entries without a module
// are never reported. Menus of roles without any policy are reported entry by entry.
func (t *Table) Audit() []Mismatch {
	if t == nil {
		return nil
	}
	var out []Mismatch
	for _, role := range t.menuRoles() {
		for _, entry := range t.menus[role] {
			if entry.Module == "" {
				continue
			}
			if !t.Allows(role, entry.Module, ActionView) {
				out = append(out, Mismatch{Role: role, Path: entry.Path, Module: entry.Module})
			}
		}
	}
	return out
}

// Matrix expands the table into role -> module -> permitted actions, covering every
// known module so implicit denials show up as empty lists.
func (t *Table) Matrix() map[Role]map[Module][]Action {
	out := make(map[Role]map[Module][]Action)
	for _, role := range t.Roles() {
		row := make(map[Module][]Action, len(moduleActions))
		for _, module := range AllModules() {
			row[module] = t.Permitted(role, module, moduleActions[module])
		}
		out[role] = row
	}
	return out
}

func (t *Table) menuRoles() []Role {
	keys := make([]Role, 0, len(t.menus))
	for r := range t.menus {
		keys = append(keys, r)
	}
	return orderRoles(keys)
}
