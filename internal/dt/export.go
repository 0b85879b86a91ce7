package dt

import (
	"github.com/marte-community/dt-engine/internal/value"
)

// ValueKey holds the own value of a field that also has children in
// exported maps.
const ValueKey = "_value"

// Export converts the effective subtree of f into plain Go values: maps for
// fields with keyed children, slices for anonymous-only children, and
// scalars for leaves.
func (f *Field) Export(vars Vars) any {
	return f.export(vars, 0)
}

func (f *Field) export(vars Vars, depth int) any {
	children := f.Children()
	v := f.Value(vars)
	if len(children) == 0 || depth > maxChain || f.HasCases() {
		return Native(v)
	}

	keyed := false
	for _, c := range children {
		if c.key != "" {
			keyed = true
			break
		}
	}
	if !keyed {
		items := make([]any, 0, len(children))
		for _, c := range children {
			items = append(items, c.export(vars, depth+1))
		}
		return items
	}

	m := make(map[string]any, len(children)+1)
	var anonymous []any
	for _, c := range children {
		if c.key == "" {
			anonymous = append(anonymous, c.export(vars, depth+1))
			continue
		}
		m[c.key] = c.export(vars, depth+1)
	}
	if len(anonymous) > 0 {
		m["_"] = anonymous
	}
	if v.IsSet() {
		m[ValueKey] = Native(v)
	}
	return m
}

// Export returns every root, keyed by name.
func (d *DT) Export(vars Vars) map[string]any {
	out := make(map[string]any)
	for _, r := range d.Roots() {
		out[r.key] = r.Export(vars)
	}
	return out
}

// Native converts a Value to int64, float64, string, nil, []any, or a
// {"x","y"} map for points. Values naming a field export its path.
func Native(v value.Value) any {
	switch v.Kind() {
	case value.KindUnknown, value.KindNull:
		return nil
	case value.KindInt:
		return v.Int(0)
	case value.KindFloat:
		return v.Float(0)
	case value.KindString:
		return v.Str("")
	}
	switch o := v.Obj().(type) {
	case value.List:
		items := make([]any, len(o))
		for i, e := range o {
			items[i] = Native(e)
		}
		return items
	case value.Point:
		return map[string]any{"x": o.X, "y": o.Y}
	case *Field:
		return o.Path()
	}
	return v.Str("")
}
