package value

// Match reports whether a and b are equal after coercion to a common type.
// Unknown never matches anything, including another Unknown.
func Match(a, b Value) bool {
	a, b = a.Resolve(), b.Resolve()
	if a.IsUnknown() || b.IsUnknown() {
		return false
	}
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}

	if a.IsNumber() || b.IsNumber() {
		af, aInt, aok := a.Number()
		bf, bInt, bok := b.Number()
		if !aok || !bok {
			return false
		}
		if aInt && bInt {
			return a.Int(0) == b.Int(0)
		}
		return af == bf
	}

	if a.kind == KindString && b.kind == KindString {
		return a.s == b.s
	}

	if al, ok := a.List(); ok {
		bl, ok := b.List()
		if !ok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !Match(al[i], bl[i]) {
				return false
			}
		}
		return true
	}

	if ap, ok := a.Point(); ok {
		bp, ok := b.Point()
		return ok && ap == bp
	}

	if a.kind == KindObject && b.kind == KindObject {
		return sameObject(a.obj, b.obj)
	}
	return false
}

func sameObject(a, b any) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// Equal is Match; kept for readability at call sites comparing values.
func Equal(a, b Value) bool { return Match(a, b) }

// Convert performs a best-effort coercion of v into out. It returns false
// and leaves out untouched when the coercion fails.
func Convert[T int | int64 | float64 | string | bool](v Value, out *T) bool {
	v = v.Resolve()
	if !v.IsSet() {
		return false
	}
	switch o := any(out).(type) {
	case *int:
		if _, _, ok := v.Number(); !ok {
			return false
		}
		*o = int(v.Int(0))
	case *int64:
		if _, _, ok := v.Number(); !ok {
			return false
		}
		*o = v.Int(0)
	case *float64:
		f, _, ok := v.Number()
		if !ok {
			return false
		}
		*o = f
	case *string:
		if v.kind == KindObject {
			if _, isList := v.obj.(List); !isList {
				if _, isPoint := v.obj.(Point); !isPoint {
					return false
				}
			}
		}
		*o = v.Str("")
	case *bool:
		*o = v.Bool(false)
	}
	return true
}
