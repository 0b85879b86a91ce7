package expr

import (
	"math"

	"github.com/marte-community/dt-engine/internal/value"
)

type builtin func(env Env, args []evalFunc) value.Value

var builtins = map[string]builtin{
	"min":   func(env Env, args []evalFunc) value.Value { return extreme(env, args, -1) },
	"max":   func(env Env, args []evalFunc) value.Value { return extreme(env, args, 1) },
	"abs":   unaryMath(math.Abs, false),
	"floor": unaryMath(math.Floor, true),
	"ceil":  unaryMath(math.Ceil, true),
	"round": unaryMath(math.Round, true),
	"sqrt":  unaryMath(math.Sqrt, false),
	"pow": func(env Env, args []evalFunc) value.Value {
		if len(args) != 2 {
			return value.Unknown
		}
		b, _, bok := args[0](env).Number()
		e, _, eok := args[1](env).Number()
		if !bok || !eok {
			return value.Unknown
		}
		return value.FromFloat(math.Pow(b, e))
	},
	"clamp": func(env Env, args []evalFunc) value.Value {
		if len(args) != 3 {
			return value.Unknown
		}
		x, lo, hi := args[0](env), args[1](env), args[2](env)
		if binary("<", x, lo).Bool(false) {
			return lo.Resolve()
		}
		if binary(">", x, hi).Bool(false) {
			return hi.Resolve()
		}
		return x.Resolve()
	},
	"if": func(env Env, args []evalFunc) value.Value {
		if len(args) < 2 || len(args) > 3 {
			return value.Unknown
		}
		if args[0](env).Bool(false) {
			return args[1](env)
		}
		if len(args) == 3 {
			return args[2](env)
		}
		return value.Null
	},
}

func extreme(env Env, args []evalFunc, sign int) value.Value {
	best := value.Unknown
	for _, a := range args {
		v := a(env).Resolve()
		if _, _, ok := v.Number(); !ok {
			return value.Unknown
		}
		if best.IsUnknown() {
			best = v
			continue
		}
		op := "<"
		if sign > 0 {
			op = ">"
		}
		if binary(op, v, best).Bool(false) {
			best = v
		}
	}
	return best
}

func unaryMath(fn func(float64) float64, integral bool) builtin {
	return func(env Env, args []evalFunc) value.Value {
		if len(args) != 1 {
			return value.Unknown
		}
		v := args[0](env).Resolve()
		f, isInt, ok := v.Number()
		if !ok {
			return value.Unknown
		}
		if isInt && integral {
			return value.FromInt(v.Int(0))
		}
		r := fn(f)
		if integral && !math.IsInf(r, 0) && !math.IsNaN(r) {
			return value.FromInt(int64(r))
		}
		if isInt && r == math.Trunc(r) && !math.IsInf(r, 0) {
			return value.FromInt(int64(r))
		}
		return value.FromFloat(r)
	}
}
