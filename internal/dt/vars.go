package dt

import (
	"github.com/marte-community/dt-engine/internal/value"
)

// Vars supplies named values to expression evaluation and switch matching.
// GetVar returns value.Unknown for names it does not know.
type Vars interface {
	GetVar(key string) value.Value
}

// VarsMap is a Vars backed by a plain map.
type VarsMap map[string]value.Value

func (m VarsMap) GetVar(key string) value.Value {
	if v, ok := m[key]; ok {
		return v
	}
	return value.Unknown
}

// VarsFunc adapts a function to Vars.
type VarsFunc func(key string) value.Value

func (fn VarsFunc) GetVar(key string) value.Value { return fn(key) }

// ChainVars consults each Vars in order and returns the first known value.
type ChainVars []Vars

func (c ChainVars) GetVar(key string) value.Value {
	for _, v := range c {
		if v == nil {
			continue
		}
		if got := v.GetVar(key); !got.IsUnknown() {
			return got
		}
	}
	return value.Unknown
}

// WithVar returns vars extended with a single binding that shadows it.
func WithVar(vars Vars, key string, v value.Value) Vars {
	return ChainVars{VarsMap{key: v}, vars}
}

// fieldVars are the pseudo-variables every field answers to when it has no
// child of the same name. They evaluate under the caller's evalState so a
// field reading its own value hits the loop guard. Set in init: the
// evaluator reads it.
var fieldVars map[string]func(st *evalState, f *Field) value.Value

func init() {
	fieldVars = map[string]func(st *evalState, f *Field) value.Value{
		"key":  func(_ *evalState, f *Field) value.Value { return value.FromString(f.key) },
		"type": func(_ *evalState, f *Field) value.Value { return value.FromString(f.Type()) },
		"path": func(_ *evalState, f *Field) value.Value { return value.FromString(f.Path()) },
		"parent": func(_ *evalState, f *Field) value.Value {
			if f.parent == nil {
				return value.Null
			}
			return value.NewObject(f.parent)
		},
		"base": func(_ *evalState, f *Field) value.Value {
			if f.basedOn == nil {
				return value.Null
			}
			return value.NewObject(f.basedOn.Origin())
		},
		"value": func(st *evalState, f *Field) value.Value { return f.eval(st, nil, EvalOptions{}) },
		"count": func(_ *evalState, f *Field) value.Value { return value.FromInt(int64(len(f.Children()))) },
	}
}

// GetVar makes a field usable as Vars: children first, then the built-in
// pseudo-variables, then the owner set with SetOwner.
func (f *Field) GetVar(key string) value.Value {
	if c := f.FindChild(key, nil); c != nil {
		return c.refValue(newEvalState(), nil)
	}
	if fn, ok := fieldVars[key]; ok {
		return fn(newEvalState(), f)
	}
	if f.owner != nil {
		return f.owner.GetVar(key)
	}
	return value.Unknown
}

// ResolveValue lets values holding a field coerce to the field's value.
// A field without any value stands for itself.
func (f *Field) ResolveValue() value.Value {
	return f.refValue(newEvalState(), nil)
}

func (f *Field) String() string {
	if f.key == "" {
		return f.Path()
	}
	return f.key
}
