package parser

type Node interface {
	Pos() Position
}

type Position struct {
	Line   int
	Column int
}

// Configuration is one parsed definition file.
type Configuration struct {
	File        string
	Condition   *Directive
	Definitions []*Definition
	Comments    []Comment
}

// Definition is one field of the definition tree:
//
//	[type] key [: base] [= value] [{ children }]
type Definition struct {
	Position    Position
	EndPosition Position
	Type        string
	Key         string
	Base        string
	Value       Value
	Children    []*Definition
	Condition   *Directive

	HasBlock         bool
	BraceOnNewLine   bool
	StartsAtSameLine bool
}

func (d *Definition) Pos() Position { return d.Position }

// HasValue reports whether the definition carries an explicit value.
func (d *Definition) HasValue() bool { return d.Value != nil }

// ValueText returns the source text of the value, or "" when there is none.
func (d *Definition) ValueText() string {
	if d.Value == nil {
		return ""
	}
	return d.Value.Source()
}

type Value interface {
	Node
	Source() string
	isValue()
}

// RawValue is unquoted value text; its meaning (number, reference,
// expression) is decided when the definition set is resolved.
type RawValue struct {
	Position Position
	Text     string
}

func (v *RawValue) Pos() Position  { return v.Position }
func (v *RawValue) Source() string { return v.Text }
func (v *RawValue) isValue()       {}

// StringValue is a quoted "..." or multi-line $[...] string.
type StringValue struct {
	Position  Position
	Value     string
	Raw       string
	Multiline bool
}

func (v *StringValue) Pos() Position  { return v.Position }
func (v *StringValue) Source() string { return v.Raw }
func (v *StringValue) isValue()       {}

type ListElement struct {
	Value   Value
	Comment string
}

// ListValue is a bracketed [a, b, c] list. Comments following an element on
// the same line stay attached to that element.
type ListValue struct {
	Position    Position
	EndPosition Position
	Elements    []ListElement
}

func (v *ListValue) Pos() Position { return v.Position }
func (v *ListValue) isValue()      {}

func (v *ListValue) Source() string {
	s := "["
	for i, e := range v.Elements {
		if i > 0 {
			s += ", "
		}
		s += e.Value.Source()
	}
	return s + "]"
}

type Comment struct {
	Position Position
	Text     string
	Block    bool
}

func (c *Comment) Pos() Position { return c.Position }

// Directive is an #if condition gating the unit it opens.
type Directive struct {
	Position Position
	Expr     string
}

func (d *Directive) Pos() Position { return d.Position }
