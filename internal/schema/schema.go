// Package schema validates exported definitions against CUE constraints.
//
// A schema maps type names to constraints under the top-level "types" field:
//
//	types: unit: {
//		hp!:   int & >0
//		name?: string
//	}
//
// Every typed top-level definition is exported to plain values and unified
// with the constraint for its type. Types without a constraint are not
// checked.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/marte-community/dt-engine/internal/dt"
	"github.com/marte-community/dt-engine/internal/logger"
)

//go:embed dt.cue
var defaultSchemaCUE []byte

// TypesField is the top-level field holding per-type constraints.
const TypesField = "types"

type Schema struct {
	Context *cue.Context
	Value   cue.Value
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	ctx := cuecontext.New()
	return &Schema{Context: ctx, Value: ctx.CompileString("{}")}
}

// DefaultSchema returns the built-in embedded schema.
func DefaultSchema() *Schema {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(defaultSchemaCUE, cue.Filename("dt.cue"))
	if v.Err() != nil {
		panic(fmt.Sprintf("failed to compile default embedded schema: %v", v.Err()))
	}
	return &Schema{Context: ctx, Value: v}
}

// LoadSchema returns the default schema merged with the CUE file at path.
func LoadSchema(path string) (*Schema, error) {
	s := DefaultSchema()
	if path == "" {
		return s, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := s.Merge(path, content); err != nil {
		return nil, err
	}
	return s, nil
}

// Merge unifies src into the schema.
func (s *Schema) Merge(name string, src []byte) error {
	v := s.Context.CompileBytes(src, cue.Filename(name))
	if err := v.Err(); err != nil {
		return fmt.Errorf("failed to parse schema %s: %w", name, err)
	}
	merged := s.Value.Unify(v)
	if err := merged.Err(); err != nil {
		return fmt.Errorf("schema %s conflicts: %w", name, err)
	}
	s.Value = merged
	return nil
}

// Constraint returns the constraint registered for typ.
func (s *Schema) Constraint(typ string) (cue.Value, bool) {
	v := s.Value.LookupPath(cue.MakePath(cue.Str(TypesField), cue.Str(typ)))
	return v, v.Exists()
}

// Violation is one schema failure inside exported data.
type Violation struct {
	Path    string
	Message string
}

// Check unifies data with the constraint for typ.
func (s *Schema) Check(typ string, data any) []Violation {
	c, ok := s.Constraint(typ)
	if !ok {
		return nil
	}
	res := c.Unify(s.Context.Encode(data))
	err := res.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	var out []Violation
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out = append(out, Violation{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return out
}

// Validate checks every typed definition of d and records failures as
// SchemaError diagnostics. It returns the number of failures.
func (s *Schema) Validate(d *dt.DT) int {
	n := 0
	for _, def := range d.Defs() {
		f := def.Field
		for _, v := range s.Check(def.Type, f.Export(nil)) {
			path := f.Path()
			if v.Path != "" {
				path += "." + v.Path
			}
			d.AddDiagnostic(dt.Diagnostic{
				Kind:     dt.SchemaError,
				Level:    dt.LevelError,
				Message:  v.Message,
				File:     f.File(),
				Position: f.Position(),
				Path:     path,
			})
			n++
		}
	}
	if n > 0 {
		logger.Debug("schema violations", "count", n)
	}
	return n
}
