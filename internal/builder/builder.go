// Package builder writes a resolved definition set back out as a single
// definition file with inheritance flattened.
package builder

import (
	"io"

	"github.com/marte-community/dt-engine/internal/dt"
	"github.com/marte-community/dt-engine/internal/expr"
	"github.com/marte-community/dt-engine/internal/formatter"
	"github.com/marte-community/dt-engine/internal/parser"
	"github.com/marte-community/dt-engine/internal/value"
)

// maxDepth bounds nesting of the written tree.
const maxDepth = 64

type Options struct {
	// Evaluate writes computed values in place of expressions and resolves
	// switches to their active case.
	Evaluate bool
	// Vars is passed to every evaluation when Evaluate is set.
	Vars dt.Vars
}

type Builder struct {
	opts Options
}

func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts}
}

// Build writes every root of d with the default options.
func Build(d *dt.DT, w io.Writer) error {
	return NewBuilder(Options{}).Build(d, w)
}

func (b *Builder) Build(d *dt.DT, w io.Writer) error {
	ew := &errWriter{w: w}
	formatter.Format(b.Configuration(d.Roots()), ew)
	return ew.err
}

// Configuration converts roots into a definition AST. Every field carries
// its effective type, children and value; based_on links are dropped.
func (b *Builder) Configuration(roots []*dt.Field) *parser.Configuration {
	cfg := &parser.Configuration{}
	for _, r := range roots {
		cfg.Definitions = append(cfg.Definitions, b.definition(r, 0))
	}
	return cfg
}

func (b *Builder) definition(f *dt.Field, depth int) *parser.Definition {
	def := &parser.Definition{Type: f.Type(), Key: f.Key()}

	if b.opts.Evaluate && f.HasCases() {
		def.Value = node(f.Value(b.opts.Vars))
		return def
	}
	if b.opts.Evaluate {
		if v := f.Value(b.opts.Vars); !v.IsUnknown() {
			def.Value = node(v)
		}
	} else if v, ok := f.Literal(); ok {
		def.Value = source(v)
	}

	children := f.Children()
	if len(children) == 0 || depth >= maxDepth {
		return def
	}
	def.HasBlock = true
	for _, c := range children {
		def.Children = append(def.Children, b.definition(c, depth+1))
	}
	return def
}

// source renders an unevaluated literal. Expressions and references keep
// their text.
func source(v value.Value) parser.Value {
	switch o := v.Obj().(type) {
	case *expr.Expr:
		return &parser.RawValue{Text: o.Source()}
	case *dt.Reference:
		return &parser.RawValue{Text: o.Path}
	}
	return node(v)
}

// node renders an evaluated value.
func node(v value.Value) parser.Value {
	if v.Kind() == value.KindString {
		s := v.Str("")
		return &parser.StringValue{Value: s, Raw: value.Quote(s)}
	}
	if e, ok := v.Obj().(value.Error); ok {
		return &parser.StringValue{Value: e.Msg, Raw: value.Quote(e.Msg)}
	}
	if fld, ok := v.Obj().(*dt.Field); ok {
		return &parser.RawValue{Text: fld.Path()}
	}
	if v.IsUnknown() {
		return &parser.RawValue{Text: "null"}
	}
	return &parser.RawValue{Text: v.Literal()}
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}
