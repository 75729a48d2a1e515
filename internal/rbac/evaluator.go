package rbac

import "reflect"

// Check reports whether subject may perform action on module. An empty action
// means ActionView. A nil subject, an empty role or a missing entry deny.
func (t *Table) Check(subject Subject, module Module, action Action) bool {
	if isNil(subject) {
		return false
	}
	role := subject.AccessRole()
	if role == "" {
		return false
	}
	return t.Allows(role, module, action)
}

// Allows is Check for a bare role.
func (t *Table) Allows(role Role, module Module, action Action) bool {
	if action == "" {
		action = ActionView
	}
	entry, ok := t.EntryFor(role, module)
	if !ok {
		return false
	}
	switch p := entry.(type) {
	case Grant:
		return bool(p)
	case Actions:
		return p[action]
	default:
		return false
	}
}

// Permitted filters actions down to those role may perform on module.
func (t *Table) Permitted(role Role, module Module, actions []Action) []Action {
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		if t.Allows(role, module, a) {
			out = append(out, a)
		}
	}
	return out
}

func isNil(subject Subject) bool {
	if subject == nil {
		return true
	}
	v := reflect.ValueOf(subject)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
