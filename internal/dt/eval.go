package dt

import (
	"fmt"
	"strings"

	"github.com/marte-community/dt-engine/internal/expr"
	"github.com/marte-community/dt-engine/internal/logger"
	"github.com/marte-community/dt-engine/internal/value"
)

const (
	// maxChain bounds based_on walks and nested lookups.
	maxChain = 64
	// maxDepth bounds nested evaluations within one top-level call.
	maxDepth = 256
)

// InfiniteLoop is the error text produced when an evaluation re-enters
// itself.
const InfiniteLoop = "<<infinite loop>>"

type evalKey struct {
	ctx   *Field
	owner *Field
}

// evalState carries the re-entrancy guards of one top-level evaluation.
// It is never shared between goroutines.
type evalState struct {
	active    map[evalKey]bool
	switching map[*Field]bool
	depth     int
}

func newEvalState() *evalState {
	return &evalState{}
}

func (st *evalState) enter(k evalKey) bool {
	if st.active[k] || st.depth >= maxDepth {
		return false
	}
	if st.active == nil {
		st.active = make(map[evalKey]bool)
	}
	st.active[k] = true
	st.depth++
	return true
}

func (st *evalState) leave(k evalKey) {
	delete(st.active, k)
	st.depth--
}

// EvalOptions tunes Eval.
type EvalOptions struct {
	// Raw returns expressions and references unevaluated.
	Raw bool
	// Deref replaces a result that names a field with that field's value.
	Deref bool
}

// Value returns the effective value of f: the active case of a switch, its
// own literal, or the nearest literal up the based_on chain. Fields that
// declare a value which is not resolved yet report Null; fields without any
// value report Unknown.
func (f *Field) Value(vars Vars) value.Value {
	return f.Eval(vars, EvalOptions{})
}

// Eval is Value with options.
func (f *Field) Eval(vars Vars, opts EvalOptions) (v value.Value) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("evaluation panicked", "path", f.Path(), "file", f.file, "panic", fmt.Sprint(r))
			v = value.Unknown
		}
	}()
	st := newEvalState()
	v = f.eval(st, vars, opts)
	if opts.Deref {
		if target, ok := v.Obj().(*Field); ok && target != f {
			v = target.eval(st, vars, opts)
		}
	}
	return v
}

func (f *Field) eval(st *evalState, vars Vars, opts EvalOptions) value.Value {
	if f.HasCases() {
		c := f.resolveCase(st, vars, true)
		if c == nil {
			return value.Null
		}
		vf := c.child(st, KeyValue, vars, FindOptions{}, 0)
		if vf == nil {
			return value.Null
		}
		return vf.eval(st, vars, opts)
	}
	return f.literal(st, vars, opts)
}

// literal evaluates the nearest literal on the based_on chain in the
// context of f.
func (f *Field) literal(st *evalState, vars Vars, opts EvalOptions) value.Value {
	n := 0
	for src := f; src != nil && n < maxChain; src, n = src.basedOn, n+1 {
		if src.valueSet {
			if opts.Raw {
				return src.value
			}
			return f.evalLiteral(st, src, src.value, vars)
		}
		if src.valueStr != "" {
			return value.Null
		}
	}
	return value.Unknown
}

func (f *Field) evalLiteral(st *evalState, owner *Field, v value.Value, vars Vars) value.Value {
	if !isDynamic(v) {
		return v
	}
	k := evalKey{ctx: f, owner: owner}
	if !st.enter(k) {
		return value.NewError(InfiniteLoop)
	}
	defer st.leave(k)
	return f.evalDynamic(st, v, vars)
}

func (f *Field) evalDynamic(st *evalState, v value.Value, vars Vars) value.Value {
	switch o := v.Obj().(type) {
	case *expr.Expr:
		return o.Eval(&env{st: st, ctx: f, vars: vars})
	case *Reference:
		got := (&env{st: st, ctx: f, vars: vars}).Ref(o.Path)
		if got.IsUnknown() {
			return value.FromString(o.Path)
		}
		return got
	case value.List:
		items := make([]value.Value, len(o))
		for i, e := range o {
			items[i] = f.evalDynamic(st, e, vars)
		}
		return value.NewList(items...)
	}
	return v
}

// refValue is the value a reference to f yields: its value, or f itself
// when it has none.
func (f *Field) refValue(st *evalState, vars Vars) value.Value {
	v := f.eval(st, vars, EvalOptions{})
	if v.IsUnknown() {
		return value.NewObject(f)
	}
	return v
}

// env resolves expression references relative to a context field.
type env struct {
	st   *evalState
	ctx  *Field
	vars Vars
}

func (e *env) Var(name string) value.Value {
	if e.vars == nil {
		return value.Unknown
	}
	return e.vars.GetVar(name)
}

// Ref resolves path against the caller's vars, then the children of the
// context field and its ancestors, then the global roots.
func (e *env) Ref(path string) value.Value {
	head, rest, _ := strings.Cut(path, ".")
	if e.vars != nil {
		if v := e.vars.GetVar(head); !v.IsUnknown() {
			if rest == "" {
				return v
			}
			if fld, ok := v.Obj().(*Field); ok {
				if c := fld.lookup(e.st, rest, e.vars, FindOptions{}); c != nil {
					return c.refValue(e.st, e.vars)
				}
				return value.Unknown
			}
		}
	}
	for scope := e.ctx; scope != nil; scope = scope.parent {
		if c := scope.lookup(e.st, path, e.vars, FindOptions{}); c != nil {
			return c.refValue(e.st, e.vars)
		}
	}
	if d := e.ctx.dt; d != nil {
		if c := d.find(path); c != nil {
			return c.refValue(e.st, e.vars)
		}
	}
	if rest == "" {
		if fn, ok := fieldVars[head]; ok {
			return fn(e.st, e.ctx)
		}
		return value.Unknown
	}
	// A path may continue through a field that references another field.
	if fld, ok := e.Ref(head).Obj().(*Field); ok {
		if c := fld.lookup(e.st, rest, e.vars, FindOptions{}); c != nil {
			return c.refValue(e.st, e.vars)
		}
	}
	return value.Unknown
}

// RandomValue returns the value of f, picking one element at random when it
// is a list.
func (f *Field) RandomValue(vars Vars) value.Value {
	v := f.Value(vars)
	l, ok := v.List()
	if !ok || len(l) == 0 {
		return v
	}
	if f.dt == nil {
		return l[0]
	}
	return l[f.dt.Intn(len(l))]
}

// GetValue returns the value of the child at path, or def when the child is
// missing or has no value.
func (f *Field) GetValue(path string, vars Vars, def value.Value) value.Value {
	c := f.FindChild(path, vars)
	if c == nil {
		return def
	}
	v := c.Value(vars)
	if !v.IsSet() {
		return def
	}
	return v
}

func (f *Field) GetInt(path string, vars Vars, def int64) int64 {
	return f.GetValue(path, vars, value.Unknown).Int(def)
}

func (f *Field) GetFloat(path string, vars Vars, def float64) float64 {
	return f.GetValue(path, vars, value.Unknown).Float(def)
}

func (f *Field) GetBool(path string, vars Vars, def bool) bool {
	return f.GetValue(path, vars, value.Unknown).Bool(def)
}

func (f *Field) GetString(path string, vars Vars, def string) string {
	return f.GetValue(path, vars, value.Unknown).Str(def)
}

// Literal returns the unevaluated value declared on f or inherited through
// based_on, and whether there is one.
func (f *Field) Literal() (value.Value, bool) {
	n := 0
	for src := f; src != nil && n < maxChain; src, n = src.basedOn, n+1 {
		if src.valueSet {
			return src.value, true
		}
		if src.valueStr != "" {
			return value.Null, true
		}
	}
	return value.Unknown, false
}

// SetValue replaces the literal of f with v.
func (f *Field) SetValue(v value.Value) {
	f.value = v
	f.valueSet = !v.IsUnknown()
	f.valueStr = v.Literal()
	if r, ok := v.Obj().(*Reference); ok {
		f.valueStr = r.Path
	}
	if e, ok := v.Obj().(*expr.Expr); ok {
		f.valueStr = e.Source()
	}
}

// SetLiteral sets both the literal text and its parsed value.
func (f *Field) SetLiteral(text string, v value.Value) {
	f.valueStr = text
	f.value = v
	f.valueSet = true
}
