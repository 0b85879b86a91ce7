package dt

import (
	"github.com/marte-community/dt-engine/internal/expr"
	"github.com/marte-community/dt-engine/internal/logger"
	"github.com/marte-community/dt-engine/internal/value"
)

// HasCases reports whether f is a switch, i.e. has effective children of
// type "case". The answer is cached until the children change.
func (f *Field) HasCases() bool {
	switch f.cases.Load() {
	case 1:
		return false
	case 2:
		return true
	}
	has := false
	for _, c := range f.Children() {
		if c.Type() == TypeCase {
			has = true
			break
		}
	}
	if has {
		f.cases.Store(2)
	} else {
		f.cases.Store(1)
	}
	return has
}

// ResolveCase returns the first case of the switch f that matches vars, or
// nil. With recursive set, nested switches inside the matched case are
// resolved down to a leaf case.
func (f *Field) ResolveCase(vars Vars, recursive bool) *Field {
	return f.resolveCase(newEvalState(), vars, recursive)
}

func (f *Field) resolveCase(st *evalState, vars Vars, recursive bool) *Field {
	origin := f.Origin()
	if st.switching[origin] {
		return nil
	}
	if st.switching == nil {
		st.switching = make(map[*Field]bool)
	}
	st.switching[origin] = true
	defer delete(st.switching, origin)

	sv := f.switchValue(st, vars)
	for _, c := range f.Children() {
		if c.Type() != TypeCase || !c.caseMatches(st, sv, vars) {
			continue
		}
		if recursive && c.HasCases() {
			return c.resolveCase(st, vars, true)
		}
		return c
	}
	return nil
}

// switchValue is the value cases are compared against: an explicit
// switch_value child, or the caller's switch_value var.
func (f *Field) switchValue(st *evalState, vars Vars) value.Value {
	if c := f.child(st, KeySwitchValue, vars, FindOptions{NoSwitches: true}, 0); c != nil {
		return c.eval(st, vars, EvalOptions{})
	}
	if vars != nil {
		return vars.GetVar(KeySwitchValue)
	}
	return value.Unknown
}

// caseMatches applies the case rules in order: an explicit condition value,
// the default and null labels, numeric labels, labels naming a var or field,
// and finally the label compared as a string.
func (f *Field) caseMatches(st *evalState, sv value.Value, vars Vars) bool {
	if f.hasLiteral() {
		return f.literal(st, vars, EvalOptions{}).Bool(false)
	}
	label := f.key
	switch label {
	case KeyDefault:
		return true
	case KeyNull:
		return sv.IsNull()
	case "":
		return false
	}
	if n, ok := expr.ParseNumber(label); ok {
		return value.Match(n, sv)
	}
	if v, isBool, found := f.caseVar(st, label, vars); found {
		if isBool || sv.IsUnknown() {
			return v.Bool(false)
		}
		return value.Match(v, sv)
	}
	if !f.warnedLabels.Swap(true) {
		logger.Warn("case label names no var or field, comparing as string", "path", f.Path(), "file", f.file, "label", label)
	}
	return value.Match(value.FromString(label), sv)
}

// hasLiteral reports whether a value is declared on f or its based_on chain.
func (f *Field) hasLiteral() bool {
	n := 0
	for src := f; src != nil && n < maxChain; src, n = src.basedOn, n+1 {
		if src.valueSet || src.valueStr != "" {
			return true
		}
	}
	return false
}

// caseVar resolves a case label: the case's own vars block, vars blocks of
// its ancestors, the caller's vars, then fields beside the switch.
func (f *Field) caseVar(st *evalState, label string, vars Vars) (v value.Value, isBool bool, found bool) {
	for scope := f; scope != nil; scope = scope.parent {
		block := scope.child(st, KeyVars, vars, FindOptions{NoSwitches: true}, 0)
		if block == nil {
			continue
		}
		if fld := block.child(st, label, vars, FindOptions{NoSwitches: true}, 0); fld != nil {
			return fld.eval(st, vars, EvalOptions{}), fld.Type() == TypeBool, true
		}
	}
	if vars != nil {
		if got := vars.GetVar(label); !got.IsUnknown() {
			return got, false, true
		}
	}
	if sw := f.parent; sw != nil && sw.parent != nil {
		if fld := sw.parent.child(st, label, vars, FindOptions{NoSwitches: true}, 0); fld != nil && fld.Origin() != sw.Origin() {
			return fld.eval(st, vars, EvalOptions{}), fld.Type() == TypeBool, true
		}
	}
	return value.Unknown, false, false
}
