package dt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/marte-community/dt-engine/internal/expr"
	"github.com/marte-community/dt-engine/internal/value"
)

// Reference is a bare identifier literal. It resolves to the field it names
// or, when nothing matches, to the identifier itself.
type Reference struct {
	Path string
}

func (r Reference) String() string { return r.Path }

var (
	identPattern   = regexp.MustCompile(`^[A-Za-z_@][A-Za-z0-9_.@']*$`)
	slashedPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+(/[A-Za-z0-9_.\-]+)+$`)
)

// ParseLiteral turns value text into a Value. References and expressions are
// kept as *Reference and *expr.Expr objects and evaluated on demand.
func ParseLiteral(text string) (value.Value, error) {
	s := strings.TrimSpace(text)
	switch s {
	case "":
		return value.Unknown, nil
	case "null":
		return value.Null, nil
	case "true":
		return value.FromBool(true), nil
	case "false":
		return value.FromBool(false), nil
	}
	if v, ok := expr.ParseNumber(s); ok {
		return v, nil
	}

	switch {
	case strings.HasPrefix(s, "$[") && strings.HasSuffix(s, "]"):
		return value.FromString(s[2 : len(s)-1]), nil
	case s[0] == '"' && isSingleString(s):
		str, err := expr.Unquote(s)
		if err != nil {
			return value.Unknown, err
		}
		return value.FromString(str), nil
	case s[0] == '[' && s[len(s)-1] == ']' && closes(s, 0) == len(s)-1:
		return parseList(s[1 : len(s)-1])
	case s[0] == '(' && s[len(s)-1] == ')' && closes(s, 0) == len(s)-1:
		if p, ok := parsePoint(s[1 : len(s)-1]); ok {
			return p, nil
		}
	case slashedPattern.MatchString(s) && !allNumeric(strings.Split(s, "/")):
		parts := strings.Split(s, "/")
		items := make([]value.Value, len(parts))
		for i, p := range parts {
			if n, ok := expr.ParseNumber(p); ok {
				items[i] = n
			} else {
				items[i] = value.FromString(p)
			}
		}
		return value.NewList(items...), nil
	case identPattern.MatchString(s) && !strings.Contains(s, "..") && !strings.HasSuffix(s, "."):
		return value.NewObject(&Reference{Path: s}), nil
	}

	e, err := expr.Compile(s)
	if err != nil {
		return value.Unknown, err
	}
	if e.IsConstant() {
		return e.Eval(nil), nil
	}
	return value.NewObject(e), nil
}

func allNumeric(parts []string) bool {
	for _, p := range parts {
		if _, ok := expr.ParseNumber(p); !ok {
			return false
		}
	}
	return true
}

// isSingleString reports whether s is exactly one double-quoted string.
func isSingleString(s string) bool {
	if len(s) < 2 || s[len(s)-1] != '"' {
		return false
	}
	for i := 1; i < len(s)-1; i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return false
		}
	}
	return true
}

// closes returns the index of the bracket matching the one at open, skipping
// quoted strings, or -1.
func closes(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '"':
			for i++; i < len(s) && s[i] != '"'; i++ {
				if s[i] == '\\' {
					i++
				}
			}
		case '[', '(':
			depth++
		case ']', ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTopLevel splits s on commas outside brackets and quotes.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			for i++; i < len(s) && s[i] != '"'; i++ {
				if s[i] == '\\' {
					i++
				}
			}
		case '[', '(':
			depth++
		case ']', ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func parseList(body string) (value.Value, error) {
	if strings.TrimSpace(body) == "" {
		return value.NewList(), nil
	}
	parts := splitTopLevel(body)
	if strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	items := make([]value.Value, 0, len(parts))
	for _, p := range parts {
		v, err := ParseLiteral(p)
		if err != nil {
			return value.Unknown, fmt.Errorf("list element %q: %w", strings.TrimSpace(p), err)
		}
		items = append(items, v)
	}
	return value.NewList(items...), nil
}

func parsePoint(body string) (value.Value, bool) {
	parts := splitTopLevel(body)
	if len(parts) != 2 {
		return value.Unknown, false
	}
	x, ok := expr.ParseNumber(strings.TrimSpace(parts[0]))
	if !ok {
		return value.Unknown, false
	}
	y, ok := expr.ParseNumber(strings.TrimSpace(parts[1]))
	if !ok {
		return value.Unknown, false
	}
	return value.NewPoint(x.Float(0), y.Float(0)), true
}

// isDynamic reports whether v needs evaluation before use.
func isDynamic(v value.Value) bool {
	switch o := v.Obj().(type) {
	case *expr.Expr, *Reference:
		return true
	case value.List:
		for _, e := range o {
			if isDynamic(e) {
				return true
			}
		}
	}
	return false
}
