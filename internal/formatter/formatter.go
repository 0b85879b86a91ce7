package formatter

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/marte-community/dt-engine/internal/parser"
)

type Insertable struct {
	Position parser.Position
	Text     string
}

type Formatter struct {
	insertables []Insertable
	cursor      int
	writer      io.Writer
}

// Format writes config back as definition text. Comments are re-inserted at
// their original positions; brace placement and same-line separators follow
// the flags recorded by the parser.
func Format(config *parser.Configuration, w io.Writer) {
	ins := []Insertable{}
	for _, c := range config.Comments {
		ins = append(ins, Insertable{Position: c.Position, Text: fixComment(c.Text)})
	}
	sort.Slice(ins, func(i, j int) bool {
		if ins[i].Position.Line != ins[j].Position.Line {
			return ins[i].Position.Line < ins[j].Position.Line
		}
		return ins[i].Position.Column < ins[j].Position.Column
	})

	f := &Formatter{
		insertables: ins,
		writer:      w,
	}
	f.formatConfig(config)
}

func fixComment(text string) string {
	if strings.HasPrefix(text, "//") && len(text) > 2 && text[2] != ' ' && text[2] != '/' {
		return "// " + text[2:]
	}
	return text
}

func (f *Formatter) formatConfig(config *parser.Configuration) {
	if config.Condition != nil {
		f.flushCommentsBefore(config.Condition.Position, 0)
		fmt.Fprintf(f.writer, "#if %s\n", config.Condition.Expr)
	}
	f.formatDefinitions(config.Definitions, 0, 0)
	f.flushRemainingComments(0)
}

func (f *Formatter) formatDefinitions(defs []*parser.Definition, indent, lastLine int) {
	for i, def := range defs {
		if def.StartsAtSameLine && i > 0 && !defs[i-1].HasBlock {
			fmt.Fprint(f.writer, "; ")
			lastLine = f.formatDefinition(def, 0)
			continue
		}
		if i > 0 {
			f.endLine(lastLine)
		}

		pos := def.Pos()
		peek := f.peekPosition()
		if peek.Line > 0 && peek.Line < pos.Line && peek.Line > lastLine {
			pos = peek
		}
		if lastLine > 0 && pos.Line > lastLine+1 {
			fmt.Fprintln(f.writer)
		}

		f.flushCommentsBefore(def.Pos(), indent)
		lastLine = f.formatDefinition(def, indent)
	}
	if len(defs) > 0 {
		f.endLine(lastLine)
	}
}

func (f *Formatter) endLine(line int) {
	if f.hasTrailingComment(line) {
		fmt.Fprintf(f.writer, " %s", f.popComment())
	}
	fmt.Fprintln(f.writer)
}

func (f *Formatter) formatDefinition(def *parser.Definition, indent int) int {
	indentStr := strings.Repeat("  ", indent)
	var head []string
	if def.Type != "" {
		head = append(head, def.Type)
	}
	if def.Key != "" {
		head = append(head, def.Key)
	}
	if def.Base != "" {
		head = append(head, ":", def.Base)
	}
	line := strings.Join(head, " ")

	endLine := def.Position.Line
	fmt.Fprint(f.writer, indentStr+line)
	if def.Value != nil {
		if line != "" {
			fmt.Fprint(f.writer, " = ")
		}
		endLine = f.formatValue(def.Value, indent)
	}

	if !def.HasBlock {
		return endLine
	}

	if def.BraceOnNewLine {
		f.endLine(endLine)
		fmt.Fprintf(f.writer, "%s{", indentStr)
	} else {
		if line != "" || def.Value != nil {
			fmt.Fprint(f.writer, " ")
		}
		fmt.Fprint(f.writer, "{")
	}

	if len(def.Children) == 0 && def.Condition == nil {
		fmt.Fprint(f.writer, " }")
		return def.EndPosition.Line
	}

	if f.isInlineBlock(def) {
		fmt.Fprint(f.writer, " ")
		for i, child := range def.Children {
			if i > 0 {
				fmt.Fprint(f.writer, "; ")
			}
			f.formatDefinition(child, 0)
		}
		fmt.Fprint(f.writer, " }")
		return def.EndPosition.Line
	}

	if f.hasTrailingComment(def.Position.Line) && !def.BraceOnNewLine {
		fmt.Fprintf(f.writer, " %s", f.popComment())
	}
	fmt.Fprintln(f.writer)

	if def.Condition != nil {
		f.flushCommentsBefore(def.Condition.Position, indent+1)
		fmt.Fprintf(f.writer, "%s#if %s\n", strings.Repeat("  ", indent+1), def.Condition.Expr)
	}
	f.formatDefinitions(def.Children, indent+1, def.Position.Line)
	f.flushCommentsBefore(def.EndPosition, indent+1)

	fmt.Fprintf(f.writer, "%s}", indentStr)
	return def.EndPosition.Line
}

// isInlineBlock reports whether a block was written on a single line in the
// source and can be reproduced that way.
func (f *Formatter) isInlineBlock(def *parser.Definition) bool {
	if def.Position.Line == 0 || def.BraceOnNewLine || def.Condition != nil ||
		def.EndPosition.Line != def.Position.Line {
		return false
	}
	if f.hasTrailingComment(def.Position.Line) && f.peekPosition().Column < def.EndPosition.Column {
		return false
	}
	for _, c := range def.Children {
		if c.HasBlock {
			return false
		}
		if l, ok := c.Value.(*parser.ListValue); ok && l.EndPosition.Line != l.Position.Line {
			return false
		}
	}
	return true
}

func (f *Formatter) formatValue(val parser.Value, indent int) int {
	switch v := val.(type) {
	case *parser.StringValue:
		fmt.Fprint(f.writer, v.Raw)
		return v.Position.Line + strings.Count(v.Raw, "\n")
	case *parser.RawValue:
		fmt.Fprint(f.writer, v.Text)
		return v.Position.Line
	case *parser.ListValue:
		return f.formatList(v, indent)
	}
	return 0
}

func (f *Formatter) formatList(v *parser.ListValue, indent int) int {
	multiline := v.EndPosition.Line > v.Position.Line
	for _, e := range v.Elements {
		if e.Comment != "" {
			multiline = true
		}
	}

	if !multiline {
		// Measure the inline form first; long lists are broken up.
		originalWriter := f.writer
		var buf strings.Builder
		f.writer = &buf
		fmt.Fprint(f.writer, "[")
		for i, e := range v.Elements {
			if i > 0 {
				fmt.Fprint(f.writer, ", ")
			}
			f.formatValue(e.Value, indent)
		}
		fmt.Fprint(f.writer, "]")
		f.writer = originalWriter

		if buf.Len() <= 120 {
			fmt.Fprint(f.writer, buf.String())
			return v.Position.Line
		}
	}

	fmt.Fprintln(f.writer, "[")
	indentStr := strings.Repeat("  ", indent+1)
	for i, e := range v.Elements {
		fmt.Fprint(f.writer, indentStr)
		f.formatValue(e.Value, indent+1)
		if i < len(v.Elements)-1 {
			fmt.Fprint(f.writer, ",")
		}
		if e.Comment != "" {
			fmt.Fprintf(f.writer, " %s", fixComment(e.Comment))
		}
		fmt.Fprintln(f.writer)
	}
	fmt.Fprintf(f.writer, "%s]", strings.Repeat("  ", indent))
	if v.EndPosition.Line > 0 {
		return v.EndPosition.Line
	}
	return v.Position.Line
}

func (f *Formatter) flushCommentsBefore(pos parser.Position, indent int) {
	indentStr := strings.Repeat("  ", indent)
	for f.cursor < len(f.insertables) {
		c := f.insertables[f.cursor]
		if c.Position.Line < pos.Line || (c.Position.Line == pos.Line && c.Position.Column < pos.Column) {
			fmt.Fprintf(f.writer, "%s%s\n", indentStr, c.Text)
			f.cursor++
		} else {
			break
		}
	}
}

func (f *Formatter) flushRemainingComments(indent int) {
	indentStr := strings.Repeat("  ", indent)
	for f.cursor < len(f.insertables) {
		c := f.insertables[f.cursor]
		fmt.Fprintf(f.writer, "%s%s\n", indentStr, c.Text)
		f.cursor++
	}
}

func (f *Formatter) hasTrailingComment(line int) bool {
	if f.cursor >= len(f.insertables) {
		return false
	}
	c := f.insertables[f.cursor]
	return c.Position.Line == line
}

func (f *Formatter) popComment() string {
	if f.cursor >= len(f.insertables) {
		return ""
	}
	c := f.insertables[f.cursor]
	f.cursor++
	return c.Text
}

func (f *Formatter) peekPosition() parser.Position {
	if f.cursor < len(f.insertables) {
		return f.insertables[f.cursor].Position
	}
	return parser.Position{}
}
