package dt

import (
	"fmt"

	"github.com/marte-community/dt-engine/internal/parser"
)

type DiagnosticKind int

const (
	ParseError DiagnosticKind = iota
	ReferenceError
	CycleError
	DuplicateKeyError
	ShapeError
	SchemaError
)

func (k DiagnosticKind) String() string {
	switch k {
	case ParseError:
		return "parse"
	case ReferenceError:
		return "reference"
	case CycleError:
		return "cycle"
	case DuplicateKeyError:
		return "duplicate"
	case ShapeError:
		return "shape"
	case SchemaError:
		return "schema"
	}
	return "unknown"
}

type DiagnosticLevel int

const (
	LevelError DiagnosticLevel = iota
	LevelWarning
)

type Diagnostic struct {
	Kind     DiagnosticKind
	Level    DiagnosticLevel
	Message  string
	File     string
	Position parser.Position
	Path     string
}

func (d Diagnostic) Error() string {
	loc := d.File
	if d.Position.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", d.File, d.Position.Line, d.Position.Column)
	}
	if d.Path != "" {
		return fmt.Sprintf("%s: %s error at %s: %s", loc, d.Kind, d.Path, d.Message)
	}
	return fmt.Sprintf("%s: %s error: %s", loc, d.Kind, d.Message)
}

func (d *DT) report(kind DiagnosticKind, f *Field, format string, args ...any) {
	d.resolveDiags = append(d.resolveDiags, newDiagnostic(kind, f, format, args...))
}

func newDiagnostic(kind DiagnosticKind, f *Field, format string, args ...any) Diagnostic {
	diag := Diagnostic{
		Kind:    kind,
		Level:   LevelError,
		Message: fmt.Sprintf(format, args...),
	}
	if f != nil {
		diag.File = f.file
		diag.Position = f.pos
		diag.Path = f.Path()
	}
	return diag
}

// Errors returns the diagnostics of the last load and resolve, parse errors
// first.
func (d *DT) Errors() []Diagnostic {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Diagnostic, 0, len(d.parseDiags)+len(d.resolveDiags))
	out = append(out, d.parseDiags...)
	return append(out, d.resolveDiags...)
}

func (d *DT) HasErrors() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, diag := range d.parseDiags {
		if diag.Level == LevelError {
			return true
		}
	}
	for _, diag := range d.resolveDiags {
		if diag.Level == LevelError {
			return true
		}
	}
	return false
}

// AddDiagnostic records an externally produced diagnostic, such as a schema
// violation.
func (d *DT) AddDiagnostic(diag Diagnostic) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resolveDiags = append(d.resolveDiags, diag)
}
