package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fieldRef struct{ v Value }

func (f *fieldRef) ResolveValue() Value { return f.v }

type loopRef struct{ n int }

func (l *loopRef) ResolveValue() Value { return NewObject(&loopRef{n: l.n + 1}) }

type selfRef struct{ name string }

func (s *selfRef) ResolveValue() Value { return NewObject(s) }

func TestCoercionDefaults(t *testing.T) {
	assert.Equal(t, int64(7), Unknown.Int(7))
	assert.Equal(t, int64(7), Null.Int(7))
	assert.Equal(t, int64(3), FromFloat(3.9).Int(0))
	assert.Equal(t, int64(12), FromString(" 12 ").Int(0))
	assert.Equal(t, int64(-1), FromString("abc").Int(-1))
	assert.Equal(t, 2.5, FromString("2.5").Float(0))
	assert.Equal(t, "3", FromInt(3).Str(""))
	assert.Equal(t, "0.25", FromFloat(0.25).Str(""))
	assert.True(t, FromString("true").Bool(false))
	assert.False(t, FromString("0").Bool(true))
	assert.True(t, Unknown.Bool(true))
}

func TestMatch(t *testing.T) {
	assert.True(t, Match(FromInt(1), FromFloat(1.0)))
	assert.True(t, Match(FromString("2"), FromInt(2)))
	assert.False(t, Match(FromString("a"), FromInt(2)))
	assert.True(t, Match(FromString("a"), FromString("a")))
	assert.True(t, Match(Null, NewObject(nil)))
	assert.False(t, Match(Unknown, Unknown))
	assert.False(t, Match(Null, FromInt(0)))
	assert.True(t, Match(NewList(FromInt(1), FromString("x")), NewList(FromFloat(1), FromString("x"))))
	assert.True(t, Match(NewPoint(1, 2), NewPoint(1, 2)))
}

func TestResolverComparesByValue(t *testing.T) {
	ref := NewObject(&fieldRef{v: FromInt(4)})
	assert.True(t, Match(ref, FromInt(4)))
	assert.Equal(t, int64(4), ref.Int(0))

	loop := NewObject(&loopRef{})
	assert.True(t, loop.Resolve().IsUnknown())
	assert.Equal(t, int64(9), loop.Int(9))

	self := &selfRef{name: "a"}
	assert.True(t, Match(NewObject(self), NewObject(self)))
	assert.False(t, Match(NewObject(self), NewObject(&selfRef{name: "b"})))
}

func TestConvert(t *testing.T) {
	var i int
	assert.True(t, Convert(FromString("42"), &i))
	assert.Equal(t, 42, i)

	var f float64
	assert.True(t, Convert(FromInt(2), &f))
	assert.Equal(t, 2.0, f)

	var s string
	assert.True(t, Convert(FromFloat(1.5), &s))
	assert.Equal(t, "1.5", s)

	i = 5
	assert.False(t, Convert(FromString("nope"), &i))
	assert.Equal(t, 5, i)
	assert.False(t, Convert(Unknown, &s))
}

func TestLiteral(t *testing.T) {
	assert.Equal(t, `"a\"b"`, FromString(`a"b`).Literal())
	assert.Equal(t, "2.0", FromFloat(2).Literal())
	assert.Equal(t, "[1, \"x\"]", NewList(FromInt(1), FromString("x")).Literal())
	assert.Equal(t, "(1, 2.5)", NewPoint(1, 2.5).Literal())
}
