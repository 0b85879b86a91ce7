package dt

import (
	"strings"
	"sync/atomic"

	"github.com/marte-community/dt-engine/internal/parser"
	"github.com/marte-community/dt-engine/internal/value"
)

// Reserved field types.
const (
	TypeFile   = "file"
	TypeExtend = "extend"
	TypeDelete = "delete"
	TypeCase   = "case"
	TypeText   = "text"
	TypeBool   = "bool"
)

// Reserved child keys.
const (
	KeySwitchValue = "switch_value"
	KeyValue       = "value"
	KeyVars        = "vars"
	KeyDefault     = "default"
	KeyNull        = "null"
)

// indexThreshold is the child count above which key lookups use a map.
const indexThreshold = 8

// Field is one node of the definition tree. Children are owned; parent,
// based_on and extension links are plain pointers into the same tree.
type Field struct {
	typ      string
	key      string
	base     string
	valueStr string
	file     string
	pos      parser.Position

	dt         *DT
	parent     *Field
	children   []*Field
	basedOn    *Field
	extends    *Field
	extensions []*Field

	value    value.Value
	valueSet bool

	// virtual fields are lookup wrappers around an inherited field.
	virtual bool

	// formatting hints carried over from the source
	braceOnNewLine bool
	sameLine       bool
	hasBlock       bool

	owner     Vars
	baseState uint8
	// rebuiltAt is the number of loaded files when a delete last rebuilt
	// this field; extensions from earlier files no longer apply.
	rebuiltAt int

	index        atomic.Pointer[map[string]*Field]
	cases        atomic.Int32
	warnedLabels atomic.Bool
}

// NewField returns a detached field.
func NewField(typ, key string) *Field {
	return &Field{typ: typ, key: key}
}

func (f *Field) Key() string { return f.key }

// Type returns the field type, inherited from based_on when empty.
func (f *Field) Type() string {
	for cur, n := f, 0; cur != nil && n < maxChain; cur, n = cur.basedOn, n+1 {
		if cur.typ != "" {
			return cur.typ
		}
	}
	return ""
}

// OwnType is the type as written on this field.
func (f *Field) OwnType() string { return f.typ }

// BasePath is the explicit base path as written, if any.
func (f *Field) BasePath() string { return f.base }

// ValueStr is the literal text as written, if any.
func (f *Field) ValueStr() string { return f.valueStr }

func (f *Field) File() string              { return f.file }
func (f *Field) Position() parser.Position { return f.pos }
func (f *Field) DT() *DT                   { return f.dt }
func (f *Field) Parent() *Field            { return f.parent }
func (f *Field) BasedOn() *Field           { return f.basedOn }
func (f *Field) Extends() *Field           { return f.extends }
func (f *Field) Extensions() []*Field      { return f.extensions }
func (f *Field) IsVirtual() bool           { return f.virtual }
func (f *Field) OwnChildren() []*Field     { return f.children }
func (f *Field) HasOwnValue() bool         { return f.valueSet || f.valueStr != "" }
func (f *Field) SetOwner(owner Vars)       { f.owner = owner }

// SetPosition records where f was defined.
func (f *Field) SetPosition(file string, pos parser.Position) {
	f.file = file
	f.pos = pos
}

// Origin returns the real field behind a virtual one.
func (f *Field) Origin() *Field {
	for f.virtual && f.basedOn != nil {
		f = f.basedOn
	}
	return f
}

// Path returns the dotted key path from the file root.
func (f *Field) Path() string {
	var parts []string
	for cur := f; cur != nil && cur.typ != TypeFile; cur = cur.parent {
		key := cur.key
		if key == "" {
			key = "_"
		}
		parts = append(parts, key)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// AddChild appends c to the own children of f.
func (f *Field) AddChild(c *Field) {
	c.parent = f
	if c.dt == nil {
		c.dt = f.dt
	}
	f.children = append(f.children, c)
	f.invalidate()
}

// RemoveChild detaches c from f. It reports whether c was an own child.
func (f *Field) RemoveChild(c *Field) bool {
	for i, cur := range f.children {
		if cur == c {
			f.children = append(f.children[:i:i], f.children[i+1:]...)
			c.parent = nil
			f.invalidate()
			return true
		}
	}
	return false
}

func (f *Field) invalidate() {
	f.index.Store(nil)
	f.cases.Store(0)
}

// ownChild finds an own child by key. The first occurrence wins; extend
// fields are patches and never match.
func (f *Field) ownChild(key string) *Field {
	if key == "" {
		return nil
	}
	if len(f.children) <= indexThreshold {
		for _, c := range f.children {
			if c.key == key && c.typ != TypeExtend {
				return c
			}
		}
		return nil
	}
	idx := f.index.Load()
	if idx == nil {
		m := make(map[string]*Field, len(f.children))
		for _, c := range f.children {
			if _, ok := m[c.key]; !ok && c.key != "" && c.typ != TypeExtend {
				m[c.key] = c
			}
		}
		f.index.Store(&m)
		idx = &m
	}
	return (*idx)[key]
}

// virtualChild wraps an inherited field so that it reports f as its parent.
func (f *Field) virtualChild(c *Field) *Field {
	c = c.Origin()
	if c.parent == f {
		return c
	}
	return &Field{
		key:     c.key,
		file:    c.file,
		pos:     c.pos,
		dt:      f.dt,
		parent:  f,
		basedOn: c,
		virtual: true,
	}
}

// Children returns the effective children: inherited ones first, then own
// children, then those contributed by extensions. A later field replaces an
// earlier one with the same key in place, except that extensions never
// replace an own child.
func (f *Field) Children() []*Field {
	if f.basedOn == nil && len(f.extensions) == 0 && !f.hasExtendChild() {
		return f.children
	}
	var out []*Field
	slot := make(map[string]int)
	own := make(map[string]bool)
	extending := false
	add := func(c *Field) {
		if c.Origin().typ == TypeExtend {
			return
		}
		if c.key != "" {
			if extending && own[c.key] {
				return
			}
			if i, ok := slot[c.key]; ok {
				out[i] = c
				return
			}
			slot[c.key] = len(out)
		}
		out = append(out, c)
	}
	if f.basedOn != nil && !f.isAncestor(f.basedOn) {
		for _, c := range f.basedOn.Children() {
			add(f.virtualChild(c))
		}
	}
	for _, c := range f.children {
		add(c)
		if c.typ != TypeExtend {
			own[c.key] = true
		}
	}
	extending = true
	for _, e := range f.extensions {
		for _, c := range e.children {
			add(f.virtualChild(c))
		}
	}
	return out
}

func (f *Field) hasExtendChild() bool {
	for _, c := range f.children {
		if c.typ == TypeExtend {
			return true
		}
	}
	return false
}

// isAncestor reports whether a is a proper ancestor of f.
func (f *Field) isAncestor(a *Field) bool {
	a = a.Origin()
	for cur := f.parent; cur != nil; cur = cur.parent {
		if cur.Origin() == a {
			return true
		}
	}
	return false
}

// FindOptions controls which links FindChild follows.
type FindOptions struct {
	NoBase       bool
	NoExtensions bool
	NoSwitches   bool
	// Delimiter separates path segments; '.' when zero.
	Delimiter rune
}

// FindChild resolves a dotted path below f, following bases, extensions and
// active switch cases.
func (f *Field) FindChild(path string, vars Vars) *Field {
	return f.Lookup(path, vars, FindOptions{})
}

// Lookup is FindChild with explicit options.
func (f *Field) Lookup(path string, vars Vars, opts FindOptions) *Field {
	return f.lookup(newEvalState(), path, vars, opts)
}

func (f *Field) lookup(st *evalState, path string, vars Vars, opts FindOptions) *Field {
	if path == "" {
		return nil
	}
	delim := opts.Delimiter
	if delim == 0 {
		delim = '.'
	}
	cur := f
	for _, key := range strings.Split(path, string(delim)) {
		if cur = cur.child(st, key, vars, opts, 0); cur == nil {
			return nil
		}
	}
	return cur
}

func (f *Field) child(st *evalState, key string, vars Vars, opts FindOptions, depth int) *Field {
	if key == "" || depth > maxChain {
		return nil
	}
	if !opts.NoSwitches && f.HasCases() {
		if c := f.resolveCase(st, vars, true); c != nil {
			if found := c.child(st, key, vars, opts, depth+1); found != nil {
				return found
			}
		}
	}
	if c := f.ownChild(key); c != nil {
		return c
	}
	if !opts.NoExtensions {
		for i := len(f.extensions) - 1; i >= 0; i-- {
			if c := f.extensions[i].ownChild(key); c != nil {
				return f.virtualChild(c)
			}
		}
	}
	if !opts.NoBase && f.basedOn != nil && !f.isAncestor(f.basedOn) {
		if c := f.basedOn.child(st, key, vars, opts, depth+1); c != nil {
			return f.virtualChild(c)
		}
	}
	return nil
}

// clone deep-copies the own data of f. Links are not copied.
func (f *Field) clone() *Field {
	c := &Field{
		typ:            f.typ,
		key:            f.key,
		base:           f.base,
		valueStr:       f.valueStr,
		file:           f.file,
		pos:            f.pos,
		dt:             f.dt,
		braceOnNewLine: f.braceOnNewLine,
		sameLine:       f.sameLine,
		hasBlock:       f.hasBlock,
	}
	if f.valueSet && f.valueStr == "" {
		c.value, c.valueSet = f.value, true
	}
	for _, ch := range f.children {
		cc := ch.clone()
		cc.parent = c
		c.children = append(c.children, cc)
	}
	return c
}

// setDT assigns d to f and its subtree.
func (f *Field) setDT(d *DT) {
	f.dt = d
	for _, c := range f.children {
		c.setDT(d)
	}
}

// walk visits f and its own subtree depth-first.
func (f *Field) walk(fn func(*Field)) {
	fn(f)
	for _, c := range f.children {
		c.walk(fn)
	}
}
