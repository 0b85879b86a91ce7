// Package value implements the tagged value type shared by definition fields
// and expressions.
package value

import (
	"math"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindNull
	KindInt
	KindFloat
	KindString
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Resolver is implemented by objects that stand in for another value, most
// notably definition fields. Comparisons and coercions see through them.
type Resolver interface {
	ResolveValue() Value
}

// Point is a 2D coordinate literal, written (x, y).
type Point struct {
	X, Y float64
}

// List is an ordered list of sub-values.
type List []Value

// Error is an evaluation failure carried in place of a value.
type Error struct {
	Msg string
}

func (e Error) String() string { return e.Msg }

// Value is a tagged union. The zero Value is Unknown.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	obj  any
}

var (
	Unknown = Value{}
	Null    = Value{kind: KindNull}
)

// maxResolveDepth bounds Resolver chains so that a self-referencing object
// cannot loop forever inside a coercion.
const maxResolveDepth = 32

func FromInt(i int64) Value     { return Value{kind: KindInt, i: i} }
func FromFloat(f float64) Value { return Value{kind: KindFloat, f: f} }
func FromString(s string) Value { return Value{kind: KindString, s: s} }

func FromBool(b bool) Value {
	if b {
		return FromInt(1)
	}
	return FromInt(0)
}

// NewObject wraps an arbitrary payload. A nil payload produces Null.
func NewObject(o any) Value {
	if o == nil {
		return Null
	}
	return Value{kind: KindObject, obj: o}
}

func NewList(items ...Value) Value {
	return Value{kind: KindObject, obj: List(items)}
}

func NewPoint(x, y float64) Value {
	return Value{kind: KindObject, obj: Point{X: x, Y: y}}
}

func NewError(msg string) Value {
	return Value{kind: KindObject, obj: Error{Msg: msg}}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) Obj() any        { return v.obj }
func (v Value) IsUnknown() bool { return v.kind == KindUnknown }
func (v Value) IsNull() bool    { return v.kind == KindNull || (v.kind == KindObject && v.obj == nil) }
func (v Value) IsNumber() bool  { return v.kind == KindInt || v.kind == KindFloat }

// IsSet reports whether the value is neither Unknown nor Null.
func (v Value) IsSet() bool { return !v.IsUnknown() && !v.IsNull() }

func (v Value) IsError() bool {
	if v.kind != KindObject {
		return false
	}
	_, ok := v.obj.(Error)
	return ok
}

func (v Value) List() (List, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	l, ok := v.obj.(List)
	return l, ok
}

func (v Value) Point() (Point, bool) {
	if v.kind != KindObject {
		return Point{}, false
	}
	p, ok := v.obj.(Point)
	return p, ok
}

// Resolve follows Resolver objects until a non-resolver value, or an object
// that resolves to itself, is reached.
func (v Value) Resolve() Value {
	for depth := 0; depth < maxResolveDepth; depth++ {
		if v.kind != KindObject {
			return v
		}
		r, ok := v.obj.(Resolver)
		if !ok {
			return v
		}
		next := r.ResolveValue()
		if next.kind == KindObject && sameObject(next.obj, v.obj) {
			// An object resolving to itself stands for itself.
			return v
		}
		v = next
	}
	return Unknown
}

// Number returns the numeric content of v. Strings that parse as numbers
// count as numbers.
func (v Value) Number() (f float64, isInt bool, ok bool) {
	v = v.Resolve()
	switch v.kind {
	case KindInt:
		return float64(v.i), true, true
	case KindFloat:
		return v.f, false, true
	case KindString:
		s := strings.TrimSpace(v.s)
		if i, err := strconv.ParseInt(s, 0, 64); err == nil {
			return float64(i), true, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, false, true
		}
	}
	return 0, false, false
}

func (v Value) Int(def int64) int64 {
	v = v.Resolve()
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return def
		}
		return int64(v.f)
	case KindString:
		s := strings.TrimSpace(v.s)
		if i, err := strconv.ParseInt(s, 0, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f)
		}
	}
	return def
}

func (v Value) Float(def float64) float64 {
	if f, _, ok := v.Number(); ok {
		return f
	}
	return def
}

func (v Value) Bool(def bool) bool {
	v = v.Resolve()
	switch v.kind {
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		switch strings.ToLower(strings.TrimSpace(v.s)) {
		case "true", "yes":
			return true
		case "false", "no", "":
			return false
		}
		if f, _, ok := v.Number(); ok {
			return f != 0
		}
		return true
	case KindObject:
		switch o := v.obj.(type) {
		case List:
			return len(o) > 0
		case Error:
			return def
		}
		return v.obj != nil
	}
	return def
}

// Str coerces v to a string. Lists and points use their literal form.
func (v Value) Str(def string) string {
	v = v.Resolve()
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindString:
		return v.s
	case KindObject:
		switch o := v.obj.(type) {
		case List, Point:
			return v.Literal()
		case interface{ String() string }:
			return o.String()
		}
	}
	return def
}

func (v Value) String() string {
	switch v.kind {
	case KindUnknown:
		return "<unknown>"
	case KindNull:
		return "null"
	}
	return v.Str("")
}

// Literal renders v in definition-file syntax: strings are quoted, lists
// use brackets and points parentheses.
func (v Value) Literal() string {
	switch v.kind {
	case KindUnknown:
		return ""
	case KindNull:
		return "null"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		s := formatFloat(v.f)
		if !strings.ContainsAny(s, ".eEn") {
			s += ".0"
		}
		return s
	case KindString:
		return Quote(v.s)
	}
	switch o := v.obj.(type) {
	case List:
		parts := make([]string, len(o))
		for i, e := range o {
			parts[i] = e.Literal()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Point:
		return "(" + formatFloat(o.X) + ", " + formatFloat(o.Y) + ")"
	case Resolver:
		if r := v.Resolve(); !(r.kind == KindObject && sameObject(r.obj, v.obj)) {
			return r.Literal()
		}
	}
	if s, ok := v.obj.(interface{ String() string }); ok {
		return s.String()
	}
	return ""
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Quote quotes s using the escapes understood by the definition lexer.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
