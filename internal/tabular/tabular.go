// Package tabular imports CSV sheets as definition files.
//
// The header row names the columns. The first header cell is the key
// template of the generated definitions, optionally preceded by a type
// ("unit *"); each '*' is replaced by the row's first cell. The other header
// cells name child fields, with dots creating nested children. A column
// headed <value> becomes the row definition's own value. A row whose first
// cell is "default" provides values for blank cells of the rows after it.
//
// Cells holding a number or a bracketed, parenthesized or quoted literal are
// kept as written; a leading '=' marks a reference or expression. Anything
// else is imported as a string.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/marte-community/dt-engine/internal/expr"
	"github.com/marte-community/dt-engine/internal/parser"
	"github.com/marte-community/dt-engine/internal/value"
)

const (
	ValueColumn = "<value>"
	DefaultRow  = "default"
)

var ErrNoHeader = errors.New("csv: missing header row")

// DetectDelimiter picks the most frequent of ',', ';' and tab in the header
// line.
func DetectDelimiter(text string) rune {
	header, _, _ := strings.Cut(text, "\n")
	best, bestCount := ',', 0
	for _, r := range []rune{',', ';', '\t'} {
		if n := strings.Count(header, string(r)); n > bestCount {
			best, bestCount = r, n
		}
	}
	return best
}

// Parse converts a CSV sheet into the same tree the text parser produces.
func Parse(name, text string) (*parser.Configuration, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(text, "\uFEFF")))
	r.Comma = DetectDelimiter(text)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	config := &parser.Configuration{File: name}
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	typ, template := splitTemplate(strings.TrimSpace(header[0]))

	var defaults []string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return config, fmt.Errorf("%s: %w", name, err)
		}
		line, _ := r.FieldPos(0)
		first := strings.TrimSpace(record[0])
		if first == "" || strings.HasPrefix(first, "//") {
			continue
		}
		if first == DefaultRow {
			defaults = record
			continue
		}

		pos := parser.Position{Line: line, Column: 1}
		def := &parser.Definition{
			Position:    pos,
			EndPosition: pos,
			Type:        typ,
			Key:         strings.ReplaceAll(template, "*", first),
		}
		for i := 1; i < len(header); i++ {
			column := strings.TrimSpace(header[i])
			if column == "" {
				continue
			}
			cell := cellAt(record, i)
			if cell == "" {
				cell = cellAt(defaults, i)
			}
			if cell == "" {
				continue
			}
			_, col := r.FieldPos(min(i, len(record)-1))
			cellPos := parser.Position{Line: line, Column: col}
			if column == ValueColumn {
				def.Value = cellValue(cell, cellPos)
				continue
			}
			child := ensurePath(def, column, cellPos)
			child.Value = cellValue(cell, cellPos)
		}
		def.HasBlock = len(def.Children) > 0
		config.Definitions = append(config.Definitions, def)
	}
	return config, nil
}

func splitTemplate(cell string) (typ, template string) {
	fields := strings.Fields(cell)
	switch len(fields) {
	case 0:
		return "", "*"
	case 1:
		return "", fields[0]
	}
	return fields[0], fields[1]
}

func cellAt(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// ensurePath returns the definition for a dotted column name below def,
// creating intermediate blocks.
func ensurePath(def *parser.Definition, path string, pos parser.Position) *parser.Definition {
	cur := def
	for _, key := range strings.Split(path, ".") {
		var next *parser.Definition
		for _, c := range cur.Children {
			if c.Key == key {
				next = c
				break
			}
		}
		if next == nil {
			next = &parser.Definition{Position: pos, EndPosition: pos, Key: key, StartsAtSameLine: true}
			cur.Children = append(cur.Children, next)
			cur.HasBlock = true
		}
		cur = next
	}
	return cur
}

func cellValue(cell string, pos parser.Position) parser.Value {
	if strings.HasPrefix(cell, "=") {
		return &parser.RawValue{Position: pos, Text: strings.TrimSpace(cell[1:])}
	}
	if _, ok := expr.ParseNumber(cell); ok {
		return &parser.RawValue{Position: pos, Text: cell}
	}
	switch cell[0] {
	case '[', '(', '"':
		return &parser.RawValue{Position: pos, Text: cell}
	}
	if strings.HasPrefix(cell, "$[") {
		return &parser.RawValue{Position: pos, Text: cell}
	}
	return &parser.StringValue{Position: pos, Value: cell, Raw: value.Quote(cell)}
}
