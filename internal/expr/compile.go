// Package expr parses and evaluates the expression sub-language used in
// definition values.
package expr

import (
	"math"
	"strings"

	"github.com/marte-community/dt-engine/internal/value"
)

// Env resolves references during evaluation. Implementations must not
// mutate shared state: the same Expr is evaluated concurrently.
type Env interface {
	// Ref resolves a field or variable path. It returns Unknown when the
	// path names nothing.
	Ref(path string) value.Value
	// Var resolves a caller-supplied variable only.
	Var(name string) value.Value
}

type evalFunc func(env Env) value.Value

// Expr is an immutable compiled expression.
type Expr struct {
	source string
	root   Node
	eval   evalFunc
	refs   []string
	consts bool
}

// Compile parses src and compiles it into an evaluation closure tree.
func Compile(src string) (*Expr, error) {
	root, err := Parse(src)
	if err != nil {
		return nil, err
	}
	c := &compiler{}
	fn, constant := c.compile(root)
	return &Expr{source: strings.TrimSpace(src), root: root, eval: fn, refs: c.refs, consts: constant}, nil
}

// MustCompile is Compile for sources known to be valid.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Expr) Source() string { return e.source }
func (e *Expr) String() string { return e.source }
func (e *Expr) Root() Node     { return e.root }

// Refs lists the reference paths the expression reads, in source order.
func (e *Expr) Refs() []string { return e.refs }

// IsConstant reports whether the expression reads no references.
func (e *Expr) IsConstant() bool { return e.consts }

// Eval evaluates the expression. A nil env resolves every reference to
// Unknown.
func (e *Expr) Eval(env Env) value.Value {
	if env == nil {
		env = emptyEnv{}
	}
	return e.eval(env)
}

type emptyEnv struct{}

func (emptyEnv) Ref(string) value.Value { return value.Unknown }
func (emptyEnv) Var(string) value.Value { return value.Unknown }

type compiler struct {
	refs []string
}

// compile returns the closure for n and whether it is constant, in which
// case the closure already holds the folded result.
func (c *compiler) compile(n Node) (evalFunc, bool) {
	switch x := n.(type) {
	case *Literal:
		v := x.Value
		return func(Env) value.Value { return v }, true

	case *Ref:
		c.refs = append(c.refs, x.Path)
		path := x.Path
		switch {
		case x.VarOnly:
			return func(env Env) value.Value { return env.Var(path) }, false
		case x.Soft:
			return func(env Env) value.Value {
				v := env.Ref(path)
				if v.IsUnknown() {
					return value.Null
				}
				return v
			}, false
		}
		return func(env Env) value.Value { return env.Ref(path) }, false

	case *Unary:
		xf, constant := c.compile(x.X)
		var fn evalFunc
		if x.Op == "-" {
			fn = func(env Env) value.Value { return negate(xf(env)) }
		} else {
			fn = func(env Env) value.Value {
				v := xf(env).Resolve()
				if v.IsUnknown() {
					return value.Unknown
				}
				return value.FromBool(!v.Bool(false))
			}
		}
		return fold(fn, constant)

	case *Binary:
		lf, lc := c.compile(x.Left)
		rf, rc := c.compile(x.Right)
		var fn evalFunc
		switch x.Op {
		case "&&":
			fn = func(env Env) value.Value {
				l := lf(env)
				if !l.Bool(false) {
					return value.FromBool(false)
				}
				return value.FromBool(rf(env).Bool(false))
			}
		case "||":
			fn = func(env Env) value.Value {
				if lf(env).Bool(false) {
					return value.FromBool(true)
				}
				return value.FromBool(rf(env).Bool(false))
			}
		default:
			op := x.Op
			fn = func(env Env) value.Value { return binary(op, lf(env), rf(env)) }
		}
		return fold(fn, lc && rc)

	case *Call:
		b := builtins[x.Name]
		args := make([]evalFunc, len(x.Args))
		constant := true
		for i, a := range x.Args {
			var ac bool
			args[i], ac = c.compile(a)
			constant = constant && ac
		}
		fn := func(env Env) value.Value { return b(env, args) }
		return fold(fn, constant)
	}
	return func(Env) value.Value { return value.Unknown }, true
}

func fold(fn evalFunc, constant bool) (evalFunc, bool) {
	if !constant {
		return fn, false
	}
	v := fn(emptyEnv{})
	return func(Env) value.Value { return v }, true
}

func negate(v value.Value) value.Value {
	v = v.Resolve()
	f, isInt, ok := v.Number()
	if !ok {
		return value.Unknown
	}
	if isInt {
		return value.FromInt(-v.Int(0))
	}
	return value.FromFloat(-f)
}

func binary(op string, l, r value.Value) value.Value {
	l, r = l.Resolve(), r.Resolve()
	if l.IsUnknown() || r.IsUnknown() {
		return value.Unknown
	}

	switch op {
	case "==":
		return value.FromBool(value.Match(l, r))
	case "!=":
		return value.FromBool(!value.Match(l, r))
	}

	if op == "+" && (l.Kind() == value.KindString || r.Kind() == value.KindString) {
		return value.FromString(l.Str("") + r.Str(""))
	}

	lf, lInt, lok := l.Number()
	rf, rInt, rok := r.Number()
	if !lok || !rok {
		if l.Kind() == value.KindString && r.Kind() == value.KindString {
			return compareStrings(op, l.Str(""), r.Str(""))
		}
		return value.Unknown
	}

	if lInt && rInt {
		li, ri := l.Int(0), r.Int(0)
		switch op {
		case "+":
			return value.FromInt(li + ri)
		case "-":
			return value.FromInt(li - ri)
		case "*":
			return value.FromInt(li * ri)
		case "/":
			if ri == 0 {
				return value.Unknown
			}
			return value.FromInt(li / ri)
		case "%":
			if ri == 0 {
				return value.Unknown
			}
			return value.FromInt(li % ri)
		}
	}

	switch op {
	case "+":
		return value.FromFloat(lf + rf)
	case "-":
		return value.FromFloat(lf - rf)
	case "*":
		return value.FromFloat(lf * rf)
	case "/":
		if rf == 0 {
			return value.Unknown
		}
		return value.FromFloat(lf / rf)
	case "%":
		if rf == 0 {
			return value.Unknown
		}
		return value.FromFloat(math.Mod(lf, rf))
	case "<":
		return value.FromBool(lf < rf)
	case "<=":
		return value.FromBool(lf <= rf)
	case ">":
		return value.FromBool(lf > rf)
	case ">=":
		return value.FromBool(lf >= rf)
	}
	return value.Unknown
}

func compareStrings(op, l, r string) value.Value {
	switch op {
	case "<":
		return value.FromBool(l < r)
	case "<=":
		return value.FromBool(l <= r)
	case ">":
		return value.FromBool(l > r)
	case ">=":
		return value.FromBool(l >= r)
	}
	return value.Unknown
}
